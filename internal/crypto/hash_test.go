package crypto

import (
	"strings"
	"testing"
)

func TestHashSecret(t *testing.T) {
	hash, err := HashSecret("123456")
	if err != nil {
		t.Fatalf("HashSecret() unexpected error: %v", err)
	}

	if hash == "" {
		t.Fatal("HashSecret() returned empty string")
	}

	// Verify PHC format: $argon2id$v=19$m=65536,t=3,p=2$<salt>$<hash>
	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		t.Fatalf("HashSecret() expected 6 parts, got %d: %q", len(parts), hash)
	}
	if parts[1] != "argon2id" {
		t.Errorf("HashSecret() algorithm = %q, want %q", parts[1], "argon2id")
	}
	if parts[2] != "v=19" {
		t.Errorf("HashSecret() version = %q, want %q", parts[2], "v=19")
	}
	if parts[3] != "m=65536,t=3,p=2" {
		t.Errorf("HashSecret() params = %q, want %q", parts[3], "m=65536,t=3,p=2")
	}
}

func TestVerifySecretCorrect(t *testing.T) {
	code := "424242"
	hash, err := HashSecret(code)
	if err != nil {
		t.Fatalf("HashSecret() unexpected error: %v", err)
	}

	match, err := VerifySecret(code, hash)
	if err != nil {
		t.Fatalf("VerifySecret() unexpected error: %v", err)
	}
	if !match {
		t.Error("VerifySecret() returned false for correct code")
	}
}

func TestVerifySecretWrong(t *testing.T) {
	hash, err := HashSecret("123456")
	if err != nil {
		t.Fatalf("HashSecret() unexpected error: %v", err)
	}

	match, err := VerifySecret("123457", hash)
	if err != nil {
		t.Fatalf("VerifySecret() unexpected error: %v", err)
	}
	if match {
		t.Error("VerifySecret() returned true for wrong code")
	}
}

func TestHashSecretProducesDifferentHashes(t *testing.T) {
	code := "777777"

	hash1, err := HashSecret(code)
	if err != nil {
		t.Fatalf("HashSecret() unexpected error: %v", err)
	}

	hash2, err := HashSecret(code)
	if err != nil {
		t.Fatalf("HashSecret() unexpected error: %v", err)
	}

	if hash1 == hash2 {
		t.Error("HashSecret() produced identical hashes for same code (salt should differ)")
	}

	// Both salted hashes must still verify the same code.
	for _, h := range []string{hash1, hash2} {
		match, err := VerifySecret(code, h)
		if err != nil {
			t.Fatalf("VerifySecret() unexpected error: %v", err)
		}
		if !match {
			t.Error("VerifySecret() returned false against a freshly salted hash")
		}
	}
}

func TestVerifySecretInvalidHash(t *testing.T) {
	_, err := VerifySecret("123456", "invalid-hash-format")
	if err == nil {
		t.Error("VerifySecret() expected error for invalid hash format")
	}
}
