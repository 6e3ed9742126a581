package core

import "testing"

func TestKeypairSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	msg := []byte("hello orbit")
	sig := kp.Sign(msg)
	if err := Verify(kp.PublicKey(), msg, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	sig := kp.Sign([]byte("original"))
	if err := Verify(kp.PublicKey(), []byte("tampered"), sig); err == nil {
		t.Fatalf("expected verification failure for tampered message")
	}
}

func TestKeypairFromSeedIsDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}
	kp1, err := NewKeypairFromSeed(seed)
	if err != nil {
		t.Fatalf("from seed: %v", err)
	}
	kp2, err := NewKeypairFromSeed(seed)
	if err != nil {
		t.Fatalf("from seed: %v", err)
	}
	if kp1.PublicKey() != kp2.PublicKey() {
		t.Fatalf("same seed produced different public keys")
	}
	if kp1.Address() != kp2.Address() {
		t.Fatalf("same seed produced different addresses")
	}
}

func TestAddressDerivationMatchesSHA256Slice(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	pub := kp.PublicKey()
	digest := H(pub[:])
	var want Address
	copy(want[:], digest[12:32])
	if kp.Address() != want {
		t.Fatalf("address = %x, want %x", kp.Address(), want)
	}
}

func TestAddressHexRoundTrip(t *testing.T) {
	kp, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	addr := kp.Address()
	parsed, err := AddressFromHex(addr.Hex())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != addr {
		t.Fatalf("round trip mismatch: %x != %x", parsed, addr)
	}
}

func TestAddressFromHexRejectsWrongLength(t *testing.T) {
	if _, err := AddressFromHex("0x1234"); err == nil {
		t.Fatalf("expected error for short address")
	}
}

func TestTransactionHashInvariant(t *testing.T) {
	tx := &Transaction{
		From:     Address{0x01},
		To:       Address{0x02},
		Amount:   100,
		Nonce:    0,
		GasLimit: 1,
		GasPrice: 1,
	}
	h1 := tx.ComputeHash()
	h2 := tx.ComputeHash()
	if h1 != h2 {
		t.Fatalf("ComputeHash is not deterministic")
	}
	tx.Amount = 200
	if tx.ComputeHash() == h1 {
		t.Fatalf("ComputeHash did not change with amount")
	}
}

func TestTotalCostOverflow(t *testing.T) {
	tx := &Transaction{GasLimit: ^uint64(0), GasPrice: 2}
	if _, err := tx.TotalCost(); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestTotalCostNormal(t *testing.T) {
	tx := &Transaction{Amount: 100, GasLimit: 1, GasPrice: 1}
	cost, err := tx.TotalCost()
	if err != nil {
		t.Fatalf("total cost: %v", err)
	}
	if cost != 101 {
		t.Fatalf("cost = %d, want 101", cost)
	}
}
