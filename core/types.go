package core

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	// HashSize is the byte length of a content hash (SHA-256 output).
	HashSize = 32
	// PublicKeySize is the byte length of an Ed25519 public key.
	PublicKeySize = 32
	// AddressSize is the byte length of a derived account address.
	AddressSize = 20
	// SignatureSize is the byte length of an Ed25519 signature.
	SignatureSize = 64
)

// Hash is a 32-byte opaque digest.
type Hash [HashSize]byte

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte { b := make([]byte, HashSize); copy(b, h[:]); return b }

// Hex returns the canonical "0x"-prefixed lowercase hex form.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// IsZero reports whether every byte of the hash is zero.
func (h Hash) IsZero() bool { return h == Hash{} }

// HashFromHex parses a "0x"-optional hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, wrapErr(KindSerialization, "decode hash hex", err)
	}
	if len(b) != HashSize {
		return h, newErr(KindSerialization, fmt.Sprintf("hash must be %d bytes, got %d", HashSize, len(b)))
	}
	copy(h[:], b)
	return h, nil
}

// PublicKey is a 32-byte Ed25519 public key.
type PublicKey [PublicKeySize]byte

func (p PublicKey) Bytes() []byte { b := make([]byte, PublicKeySize); copy(b, p[:]); return b }

// Address is a 20-byte account identifier derived from a PublicKey.
type Address [AddressSize]byte

func (a Address) Bytes() []byte { b := make([]byte, AddressSize); copy(b, a[:]); return b }

// Hex returns the canonical "0x"-prefixed lowercase hex form.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) String() string { return a.Hex() }

// IsZero reports whether every byte of the address is zero.
func (a Address) IsZero() bool { return a == Address{} }

// AddressFromHex parses a "0x"-optional hex string into an Address, rejecting
// any decoded length other than AddressSize.
func AddressFromHex(s string) (Address, error) {
	var a Address
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, wrapErr(KindSerialization, "decode address hex", err)
	}
	if len(b) != AddressSize {
		return a, newErr(KindSerialization, fmt.Sprintf("address must be %d bytes, got %d", AddressSize, len(b)))
	}
	copy(a[:], b)
	return a, nil
}

// Signature is a 64-byte Ed25519 signature.
type Signature [SignatureSize]byte

func (s Signature) Bytes() []byte { b := make([]byte, SignatureSize); copy(b, s[:]); return b }

// Transaction is a single value transfer plus optional opaque payload.
//
// hash is content-addressed (see (*Transaction).ComputeHash) and is frozen
// before mempool insertion; it is never recomputed afterwards.
type Transaction struct {
	Hash      Hash      `rlp:"-"`
	From      Address
	To        Address
	Amount    uint64
	Nonce     uint64
	GasLimit  uint64
	GasPrice  uint64
	Data      []byte
	Signature Signature
	Timestamp time.Time
}

// TotalCost returns amount + gas_limit*gas_price, rejecting silent overflow
// rather than wrapping (spec deviation: the reference implementation this
// was derived from used unchecked arithmetic here).
func (tx *Transaction) TotalCost() (uint64, error) {
	gas := tx.GasLimit * tx.GasPrice
	if tx.GasLimit != 0 && gas/tx.GasLimit != tx.GasPrice {
		return 0, InvalidTransaction("total cost overflow")
	}
	total := tx.Amount + gas
	if total < tx.Amount {
		return 0, InvalidTransaction("total cost overflow")
	}
	return total, nil
}

// BlockHeader links a block to its predecessor and commits to its contents.
//
// The header digest (see (*BlockHeader).Digest) excludes Signature; Block's
// own hash is computed from the same digest function after Signature has
// been filled in, which is therefore numerically identical to the digest
// that was signed.
type BlockHeader struct {
	Version     uint32
	Height      uint64
	Timestamp   time.Time
	PrevHash    Hash
	MerkleRoot  Hash
	StateRoot   Hash
	Validator   Address
	Signature   Signature
}

// Block is an ordered batch of transactions plus a header.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
	// Receipts records the per-transaction outcome of applying Transactions
	// during production. It is not part of the header digest: receipts are
	// bookkeeping, not a consensus-relevant commitment.
	Receipts []Receipt
	Hash     Hash
}

// Receipt records whether a transaction included in a block actually applied
// cleanly against ledger state.
type Receipt struct {
	TxHash  Hash
	Success bool
	Error   string
}

// Account is the materialized state of an address. Reads of an unknown
// address produce a zero-valued Account; the store only materializes one on
// first write.
type Account struct {
	Address     Address
	Balance     uint64
	Nonce       uint64
	CodeHash    Hash
	StorageRoot Hash
}

// ChainConfig is immutable after node startup.
type ChainConfig struct {
	ChainID           uint64
	Name              string
	Symbol            string
	Decimals          uint8
	BlockTimeMS       uint64
	MaxBlockSize      uint64
	MaxTxPerBlock     int
	GenesisValidators []Address
}

// DefaultChainConfig mirrors the reference implementation's library
// defaults; product deployments are expected to override Name/Symbol/ChainID
// via pkg/config.
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		ChainID:           1337,
		Name:              "Orbit Chain",
		Symbol:            "ORB",
		Decimals:          18,
		BlockTimeMS:       400,
		MaxBlockSize:      1_000_000,
		MaxTxPerBlock:     10_000,
		GenesisValidators: nil,
	}
}
