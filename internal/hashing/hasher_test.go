package hashing

import (
	"strings"
	"testing"
)

func TestHashVerify(t *testing.T) {
	h := NewPasswordHasher()

	hash, err := h.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("hash equals plaintext")
	}
	if !strings.HasPrefix(hash, "$2a$") {
		t.Errorf("expected a bcrypt hash, got %q", hash)
	}

	if !h.Verify("correct horse battery staple", hash) {
		t.Error("Verify rejected the right password")
	}
	if h.Verify("wrong password", hash) {
		t.Error("Verify accepted the wrong password")
	}
}

func TestHash_UniquePerCall(t *testing.T) {
	h := NewPasswordHasher()

	a, err := h.Hash("pw")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	b, err := h.Hash("pw")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if a == b {
		t.Error("two hashes of the same password are identical, salting is broken")
	}
}

func TestVerify_GarbageHash(t *testing.T) {
	h := NewPasswordHasher()

	if h.Verify("pw", "not-a-bcrypt-hash") {
		t.Error("Verify accepted a malformed hash")
	}
	if h.Verify("pw", "") {
		t.Error("Verify accepted an empty hash")
	}
}
