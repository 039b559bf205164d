package auth

import (
	"errors"
	"testing"
)

func TestVerifyKey_SHA256RoundTrip(t *testing.T) {
	hash := HashKey("ss-local-abc123")

	match, err := VerifyKey("ss-local-abc123", hash)
	if err != nil {
		t.Fatalf("VerifyKey: %v", err)
	}
	if !match {
		t.Error("match = false for correct key")
	}

	match, err = VerifyKey("wrong-key", hash)
	if err != nil {
		t.Fatalf("VerifyKey: %v", err)
	}
	if match {
		t.Error("match = true for wrong key")
	}
}

func TestVerifyKey_SHA256Prefixed(t *testing.T) {
	hash := "sha256:" + HashKey("k")

	match, err := VerifyKey("k", hash)
	if err != nil || !match {
		t.Errorf("VerifyKey = (%v, %v), want (true, nil)", match, err)
	}
}

func TestVerifyKey_Argon2idRoundTrip(t *testing.T) {
	hash, err := HashKeyArgon2id("ss-local-secret")
	if err != nil {
		t.Fatalf("HashKeyArgon2id: %v", err)
	}

	match, err := VerifyKey("ss-local-secret", hash)
	if err != nil {
		t.Fatalf("VerifyKey: %v", err)
	}
	if !match {
		t.Error("match = false for correct key")
	}
}

func TestVerifyKey_UnknownHashType(t *testing.T) {
	_, err := VerifyKey("k", "plaintext-not-a-hash")
	if !errors.Is(err, ErrUnknownHashType) {
		t.Errorf("err = %v, want ErrUnknownHashType", err)
	}
}

func TestVerifyKey_MalformedArgon2idDoesNotPanic(t *testing.T) {
	match, err := VerifyKey("k", "$argon2id$v=19$m=0,t=0,p=0$AAAA$AAAA")
	if match {
		t.Error("match = true for malformed hash")
	}
	if err == nil {
		t.Error("err = nil for malformed hash, want error")
	}
}

func TestDetectHashType(t *testing.T) {
	tests := []struct {
		hash string
		want string
	}{
		{"$argon2id$v=19$m=48128,t=1,p=1$salt$hash", "argon2id"},
		{"sha256:" + HashKey("k"), "sha256"},
		{HashKey("k"), "sha256"},
		{"gibberish", "unknown"},
	}

	for _, tt := range tests {
		if got := DetectHashType(tt.hash); got != tt.want {
			t.Errorf("DetectHashType(%q) = %q, want %q", tt.hash, got, tt.want)
		}
	}
}

func TestVerifyAny(t *testing.T) {
	h0 := HashKey("key-zero")
	h1, err := HashKeyArgon2id("key-one")
	if err != nil {
		t.Fatalf("HashKeyArgon2id: %v", err)
	}

	idx, err := VerifyAny("key-one", []string{h0, h1})
	if err != nil {
		t.Fatalf("VerifyAny: %v", err)
	}
	if idx != 1 {
		t.Errorf("index = %d, want 1", idx)
	}

	if _, err := VerifyAny("nope", []string{h0, h1}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("err = %v, want ErrInvalidKey", err)
	}
}
