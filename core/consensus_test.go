package core

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestConsensus(t *testing.T, validators ...*Keypair) (*Consensus, *Ledger) {
	t.Helper()
	l, err := OpenInMemoryLedger()
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	cfg := DefaultChainConfig()
	for _, kp := range validators {
		cfg.GenesisValidators = append(cfg.GenesisValidators, kp.Address())
	}
	genesis := NewGenesisBlock(cfg, time.Now())
	if err := l.InitGenesis(genesis); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	var own *Keypair
	if len(validators) > 0 {
		own = validators[0]
	}
	c := NewConsensus(cfg, l, own)
	for _, kp := range validators {
		c.AddValidator(kp.Address(), kp.PublicKey())
	}
	return c, l
}

func TestSubmitTransactionRejectsZeroGasLimit(t *testing.T) {
	kp, _ := GenerateKeypair()
	c, _ := newTestConsensus(t, kp)

	tx := &Transaction{From: addrOf(0x01), To: addrOf(0x02), GasLimit: 0}
	tx.Hash = tx.ComputeHash()
	_, err := c.SubmitTransaction(tx)
	if err == nil {
		t.Fatalf("expected rejection for zero gas limit")
	}
}

func TestSubmitTransactionRejectsSelfSend(t *testing.T) {
	kp, _ := GenerateKeypair()
	c, _ := newTestConsensus(t, kp)

	addr := addrOf(0x01)
	tx := &Transaction{From: addr, To: addr, GasLimit: 1}
	tx.Hash = tx.ComputeHash()
	_, err := c.SubmitTransaction(tx)
	if err == nil {
		t.Fatalf("expected rejection for self-send")
	}
}

func TestProduceBlockRequiresValidator(t *testing.T) {
	l, err := OpenInMemoryLedger()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cfg := DefaultChainConfig()
	genesis := NewGenesisBlock(cfg, time.Now())
	if err := l.InitGenesis(genesis); err != nil {
		t.Fatalf("init genesis: %v", err)
	}
	c := NewConsensus(cfg, l, nil)

	if _, err := c.ProduceBlock(); !IsKind(err, KindNotValidator) {
		t.Fatalf("expected NotValidator, got %v", err)
	}
}

func TestProduceBlockEmptyMempoolYieldsZeroMerkleRoot(t *testing.T) {
	kp, _ := GenerateKeypair()
	c, _ := newTestConsensus(t, kp)

	block, err := c.ProduceBlock()
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if len(block.Transactions) != 0 {
		t.Fatalf("expected zero transactions, got %d", len(block.Transactions))
	}
	if !block.Header.MerkleRoot.IsZero() {
		t.Fatalf("expected zero merkle root for empty block")
	}
}

func TestProduceBlockMintAndTransferScenario(t *testing.T) {
	kp, _ := GenerateKeypair()
	c, l := newTestConsensus(t, kp)

	a := addrOf(0x01)
	b := addrOf(0x02)
	if err := l.Mint(a, 1000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	tx := &Transaction{From: a, To: b, Amount: 100, Nonce: 0, GasLimit: 1, GasPrice: 1, Timestamp: time.Now()}
	tx.Hash = tx.ComputeHash()
	if _, err := c.SubmitTransaction(tx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	block, err := c.ProduceBlock()
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if len(block.Transactions) != 1 {
		t.Fatalf("tx_count = %d, want 1", len(block.Transactions))
	}

	accB, _ := l.GetAccount(b)
	if accB.Balance != 100 {
		t.Fatalf("B.balance = %d, want 100", accB.Balance)
	}
	accA, _ := l.GetAccount(a)
	if accA.Balance != 899 {
		t.Fatalf("A.balance = %d, want 899", accA.Balance)
	}
	if accA.Nonce != 1 {
		t.Fatalf("A.nonce = %d, want 1", accA.Nonce)
	}
}

func TestProduceBlockIncludesFailedTransactionWithReceipt(t *testing.T) {
	kp, _ := GenerateKeypair()
	c, l := newTestConsensus(t, kp)

	a := addrOf(0x01)
	b := addrOf(0x02)
	if err := l.Mint(a, 1000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	tx := &Transaction{From: a, To: b, Amount: 100, Nonce: 5, GasLimit: 1, GasPrice: 1}
	tx.Hash = tx.ComputeHash()
	if _, err := c.SubmitTransaction(tx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	block, err := c.ProduceBlock()
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if len(block.Transactions) != 1 {
		t.Fatalf("expected failing tx still included, got %d transactions", len(block.Transactions))
	}
	if len(block.Receipts) != 1 || block.Receipts[0].Success {
		t.Fatalf("expected a failing receipt, got %+v", block.Receipts)
	}

	accA, _ := l.GetAccount(a)
	accB, _ := l.GetAccount(b)
	if accA.Balance != 1000 || accB.Balance != 0 {
		t.Fatalf("balances must be unchanged on failed apply: A=%d B=%d", accA.Balance, accB.Balance)
	}
}

func TestRoundRobinAcrossValidators(t *testing.T) {
	v1, _ := GenerateKeypair()
	v2, _ := GenerateKeypair()

	l, err := OpenInMemoryLedger()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cfg := DefaultChainConfig()
	cfg.GenesisValidators = []Address{v1.Address(), v2.Address()}
	genesis := NewGenesisBlock(cfg, time.Now())
	if err := l.InitGenesis(genesis); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	c1 := NewConsensus(cfg, l, v1)
	c1.AddValidator(v1.Address(), v1.PublicKey())
	c1.AddValidator(v2.Address(), v2.PublicKey())

	c2 := NewConsensus(cfg, l, v2)
	c2.AddValidator(v1.Address(), v1.PublicKey())
	c2.AddValidator(v2.Address(), v2.PublicKey())

	b1, err := c1.ProduceBlock()
	if err != nil {
		t.Fatalf("produce 1: %v", err)
	}
	b2, err := c2.ProduceBlock()
	if err != nil {
		t.Fatalf("produce 2: %v", err)
	}
	b3, err := c1.ProduceBlock()
	if err != nil {
		t.Fatalf("produce 3: %v", err)
	}

	if b1.Header.Validator != v1.Address() {
		t.Fatalf("block 1 validator mismatch")
	}
	if b2.Header.Validator != v2.Address() {
		t.Fatalf("block 2 validator mismatch")
	}
	if b3.Header.Validator != v1.Address() {
		t.Fatalf("block 3 validator mismatch")
	}
}

// TestProduceBlockStoreFailureLeavesNoStateOrTxLoss closes the ledger's
// store before ProduceBlock runs. Production then fails at its first ledger
// read (loading the latest block), before any transaction is drained, so the
// test checks that the submitted transaction is still in the mempool and that
// neither a block nor any account change was persisted. The requeue after a
// failed StoreBlock write is not reached by this test.
func TestProduceBlockStoreFailureLeavesNoStateOrTxLoss(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger")

	kp, _ := GenerateKeypair()
	l, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cfg := DefaultChainConfig()
	cfg.GenesisValidators = []Address{kp.Address()}
	genesis := NewGenesisBlock(cfg, time.Now())
	if err := l.InitGenesis(genesis); err != nil {
		t.Fatalf("init genesis: %v", err)
	}

	a := kp.Address()
	b := addrOf(0x02)
	if err := l.Mint(a, 1000); err != nil {
		t.Fatalf("mint: %v", err)
	}

	c := NewConsensus(cfg, l, kp)
	c.AddValidator(kp.Address(), kp.PublicKey())

	tx := &Transaction{From: a, To: b, Amount: 100, Nonce: 0, GasLimit: 1, GasPrice: 1, Timestamp: time.Now()}
	tx.Hash = tx.ComputeHash()
	tx.Signature = kp.Sign(tx.Hash[:])
	if _, err := c.SubmitTransaction(tx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Close the underlying store out from under the ledger so that
	// ProduceBlock's ledger access fails.
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := c.ProduceBlock(); err == nil {
		t.Fatalf("expected ProduceBlock to fail against a closed store")
	}
	if got := c.MempoolSize(); got != 1 {
		t.Fatalf("mempool size after failed production = %d, want 1 (tx must be requeued)", got)
	}

	reopened, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	height, err := reopened.GetLatestHeight()
	if err != nil {
		t.Fatalf("latest height: %v", err)
	}
	if height != 0 {
		t.Fatalf("latest height = %d, want 0 (no block must have been recorded)", height)
	}

	accA, err := reopened.GetAccount(a)
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	if accA.Balance != 1000 || accA.Nonce != 0 {
		t.Fatalf("account A = %+v, want unchanged balance 1000 nonce 0 after a failed store", accA)
	}
	accB, err := reopened.GetAccount(b)
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	if accB.Balance != 0 {
		t.Fatalf("account B.balance = %d, want 0 (credit must not have been persisted)", accB.Balance)
	}

	// The transaction's nonce is still valid against durable state,
	// so production can succeed once the store is healthy again.
	c2 := NewConsensus(cfg, reopened, kp)
	c2.AddValidator(kp.Address(), kp.PublicKey())
	if _, err := c2.SubmitTransaction(tx); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	block, err := c2.ProduceBlock()
	if err != nil {
		t.Fatalf("produce after recovery: %v", err)
	}
	if len(block.Transactions) != 1 || !block.Receipts[0].Success {
		t.Fatalf("expected the recovered transaction to apply cleanly, got %+v", block.Receipts)
	}
}

func TestValidateBlockDetectsBadMerkleRoot(t *testing.T) {
	kp, _ := GenerateKeypair()
	c, l := newTestConsensus(t, kp)

	block, err := c.ProduceBlock()
	if err != nil {
		t.Fatalf("produce: %v", err)
	}

	next := &Block{
		Header: BlockHeader{
			Version: 1, Height: block.Header.Height + 1, Timestamp: time.Now(),
			PrevHash: block.Hash, Validator: kp.Address(), MerkleRoot: H([]byte("bogus")),
		},
	}
	next.Hash = next.Header.Digest()

	if err := c.ValidateBlock(next); !IsKind(err, KindInvalidBlock) {
		t.Fatalf("expected InvalidBlock for bad merkle root, got %v", err)
	}
	_ = l
}
