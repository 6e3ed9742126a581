package core

import "time"

// NewGenesisBlock constructs the height-0 block: all-zero hashes, zero
// transactions, and the caller-supplied timestamp at, so repeated genesis
// construction with the same config and the same at is reproducible.
func NewGenesisBlock(cfg ChainConfig, at time.Time) *Block {
	header := BlockHeader{
		Version:    1,
		Height:     0,
		Timestamp:  at.UTC(),
		PrevHash:   Hash{},
		MerkleRoot: MerkleRoot(nil),
		StateRoot:  Hash{},
		Validator:  Address{},
		Signature:  Signature{},
	}
	block := &Block{Header: header, Transactions: nil, Receipts: nil}
	block.Hash = header.Digest()
	return block
}

// Bootstrap initializes a fresh ledger with the genesis block and, if the
// ledger has no prior state (latest height is unset), mints an initial
// balance to every genesis validator so the chain can pay gas from block 1.
// It is a no-op if the ledger already has a stored genesis block.
func Bootstrap(l *Ledger, cfg ChainConfig, validatorMint uint64) error {
	if _, err := l.GetLatestHeight(); err == nil {
		return nil // already initialized
	}

	genesis := NewGenesisBlock(cfg, time.Now())
	if err := l.InitGenesis(genesis); err != nil {
		return err
	}
	if validatorMint == 0 {
		return nil
	}
	for _, addr := range cfg.GenesisValidators {
		if err := l.Mint(addr, validatorMint); err != nil {
			return err
		}
	}
	return nil
}
