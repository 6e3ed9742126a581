package core

import "testing"

func TestMerkleRootEmpty(t *testing.T) {
	got := MerkleRoot(nil)
	if !got.IsZero() {
		t.Fatalf("empty merkle root = %x, want zero", got)
	}
}

func TestMerkleRootSingle(t *testing.T) {
	h := H([]byte("a"))
	got := MerkleRoot([]Hash{h})
	if got != h {
		t.Fatalf("single merkle root = %x, want %x", got, h)
	}
}

func TestMerkleRootDeterminism(t *testing.T) {
	h1 := H([]byte("a"))
	h2 := H([]byte("b"))
	h3 := H([]byte("c"))

	want := H(append(append([]byte{}, H(append(append([]byte{}, h1[:]...), h2[:]...))[:]...),
		H(append(append([]byte{}, h3[:]...), h3[:]...))[:]...))

	got := MerkleRoot([]Hash{h1, h2, h3})
	if got != want {
		t.Fatalf("merkle root = %x, want %x", got, want)
	}
}

func TestMerkleRootFourLeaves(t *testing.T) {
	h1, h2, h3, h4 := H([]byte("a")), H([]byte("b")), H([]byte("c")), H([]byte("d"))
	left := H(append(append([]byte{}, h1[:]...), h2[:]...))
	right := H(append(append([]byte{}, h3[:]...), h4[:]...))
	want := H(append(append([]byte{}, left[:]...), right[:]...))

	got := MerkleRoot([]Hash{h1, h2, h3, h4})
	if got != want {
		t.Fatalf("merkle root = %x, want %x", got, want)
	}
}
