package crypto

import (
	"errors"
	"testing"
)

func TestSealAndOpen(t *testing.T) {
	sealed, err := SealString("runtime-key", "postgres://user:pass@db/app")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !IsSealed(sealed) {
		t.Fatalf("expected sealed prefix, got %q", sealed)
	}
	plain, err := OpenString("runtime-key", sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if plain != "postgres://user:pass@db/app" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	sealed, err := SealString("key-a", "value")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := OpenString("key-b", sealed); err == nil {
		t.Fatalf("expected decryption with the wrong key to fail")
	}
}

func TestOpenPassesThroughPlainValues(t *testing.T) {
	plain, err := OpenString("", "not-sealed")
	if err != nil {
		t.Fatalf("expected plain value to pass, got %v", err)
	}
	if plain != "not-sealed" {
		t.Fatalf("unexpected value %q", plain)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	if _, err := EncryptString("", "value"); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}
