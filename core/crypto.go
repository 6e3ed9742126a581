package core

// Cryptographic primitives for orbitchain: content hashing, Ed25519 keypairs,
// signature verification, and address derivation.
//
// Address derivation is SHA-256(pubkey)[12:32] only — no RIPEMD-160 step —
// so that Address(pk) is a pure, single-hash function of the public key.

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	bip39 "github.com/tyler-smith/go-bip39"
)

// H computes the SHA-256 digest of b.
func H(b []byte) Hash {
	return sha256.Sum256(b)
}

// Keypair holds an Ed25519 private key and its derived public key. The zero
// value is not usable; construct via GenerateKeypair or NewKeypairFromSeed.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

// GenerateKeypair creates a new Keypair from the system CSPRNG.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, wrapErr(KindDatabase, "generate keypair", err)
	}
	kp := &Keypair{priv: priv}
	copy(kp.pub[:], pub)
	return kp, nil
}

// NewKeypairFromSeed reconstructs a Keypair deterministically from a 32-byte
// seed.
func NewKeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, newErr(KindSerialization, fmt.Sprintf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed)))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	kp := &Keypair{priv: priv}
	copy(kp.pub[:], priv.Public().(ed25519.PublicKey))
	return kp, nil
}

// GenerateWithMnemonic creates a new Keypair along with its BIP-39 recovery
// mnemonic. entropyBits must be 128 or 256. The caller is responsible for
// safeguarding the returned mnemonic.
func GenerateWithMnemonic(entropyBits int) (*Keypair, string, error) {
	if entropyBits != 128 && entropyBits != 256 {
		return nil, "", newErr(KindInvalidTransaction, fmt.Sprintf("unsupported entropy size %d", entropyBits))
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, "", wrapErr(KindDatabase, "generate entropy", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", wrapErr(KindSerialization, "build mnemonic", err)
	}
	kp, err := NewKeypairFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, "", err
	}
	return kp, mnemonic, nil
}

// NewKeypairFromMnemonic derives a Keypair from a BIP-39 mnemonic and
// optional passphrase by taking the first 32 bytes of the BIP-39 seed as the
// Ed25519 seed.
func NewKeypairFromMnemonic(mnemonic, passphrase string) (*Keypair, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, newErr(KindInvalidTransaction, "invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return NewKeypairFromSeed(seed[:ed25519.SeedSize])
}

// Seed returns a copy of the 32-byte seed this Keypair was derived from.
func (k *Keypair) Seed() []byte {
	s := k.priv.Seed()
	out := make([]byte, len(s))
	copy(out, s)
	return out
}

// PublicKey returns the Keypair's public key.
func (k *Keypair) PublicKey() PublicKey { return k.pub }

// Address returns the account Address derived from this Keypair's public
// key.
func (k *Keypair) Address() Address { return AddressFromPublicKey(k.pub) }

// Sign produces a Signature over an arbitrary message.
func (k *Keypair) Sign(msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.priv, msg))
	return sig
}

// Wipe zeroes the private key material in place. The Keypair must not be
// used afterwards.
func (k *Keypair) Wipe() {
	for i := range k.priv {
		k.priv[i] = 0
	}
}

// AddressFromPublicKey derives the 20-byte Address for a public key: the low
// 20 bytes (indices 12..32) of SHA-256(public_key).
func AddressFromPublicKey(pub PublicKey) Address {
	digest := sha256.Sum256(pub[:])
	var addr Address
	copy(addr[:], digest[12:32])
	return addr
}

// Verify checks an Ed25519 signature over msg against pub, returning nil on
// success or an InvalidTransaction-kind error ("invalid public key" for an
// all-zero key, "invalid signature" otherwise).
func Verify(pub PublicKey, msg []byte, sig Signature) error {
	if subtle.ConstantTimeCompare(pub[:], make([]byte, PublicKeySize)) == 1 {
		return newErr(KindInvalidTransaction, "invalid public key")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig[:]) {
		return newErr(KindInvalidTransaction, "invalid signature")
	}
	return nil
}

// le64 encodes v as little-endian 8 bytes.
func le64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// ComputeHash computes and returns the content hash of a transaction:
// H(from||to||amount_le||nonce_le||gas_limit_le||gas_price_le||data).
// It does not mutate tx.Hash; callers freeze it explicitly.
func (tx *Transaction) ComputeHash() Hash {
	buf := make([]byte, 0, AddressSize*2+8*4+len(tx.Data))
	buf = append(buf, tx.From[:]...)
	buf = append(buf, tx.To[:]...)
	buf = append(buf, le64(tx.Amount)...)
	buf = append(buf, le64(tx.Nonce)...)
	buf = append(buf, le64(tx.GasLimit)...)
	buf = append(buf, le64(tx.GasPrice)...)
	buf = append(buf, tx.Data...)
	return H(buf)
}

// Digest computes the header digest used both as the signing message and,
// once Signature is filled in, as the preimage of Block.Hash:
// H(version_le||height_le||timestamp_seconds_le||prev_hash||merkle_root||state_root||validator).
// Signature is deliberately excluded from the preimage.
func (h *BlockHeader) Digest() Hash {
	buf := make([]byte, 0, 4+8+8+HashSize*3+AddressSize)
	var ver [4]byte
	binary.LittleEndian.PutUint32(ver[:], h.Version)
	buf = append(buf, ver[:]...)
	buf = append(buf, le64(h.Height)...)
	buf = append(buf, le64(uint64(h.Timestamp.Unix()))...)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.Validator[:]...)
	return H(buf)
}
