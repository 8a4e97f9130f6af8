package crypto

import (
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cm, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	plaintext := "shpat_super_secret_token"
	ciphertext, err := cm.EncryptString(plaintext)
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if ciphertext == plaintext {
		t.Fatal("ciphertext equals plaintext")
	}

	decrypted, err := cm.DecryptString(ciphertext)
	if err != nil {
		t.Fatalf("DecryptString: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("round trip = %q, want %q", decrypted, plaintext)
	}
}

func TestEmptyStringPassesThrough(t *testing.T) {
	cm, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	enc, err := cm.EncryptString("")
	if err != nil || enc != "" {
		t.Fatalf("EncryptString(\"\") = %q, %v", enc, err)
	}
	dec, err := cm.DecryptString("")
	if err != nil || dec != "" {
		t.Fatalf("DecryptString(\"\") = %q, %v", dec, err)
	}
}

func TestKeyPersistsAcrossManagers(t *testing.T) {
	dir := t.TempDir()
	cm1, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	ciphertext, err := cm1.EncryptString("persist me")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}

	cm2, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager (reopen): %v", err)
	}
	decrypted, err := cm2.DecryptString(ciphertext)
	if err != nil {
		t.Fatalf("DecryptString with reloaded key: %v", err)
	}
	if decrypted != "persist me" {
		t.Fatalf("decrypted = %q", decrypted)
	}
}

func TestDecryptGarbageFails(t *testing.T) {
	cm, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := cm.DecryptString("not-valid-ciphertext"); err == nil {
		t.Fatal("expected error for garbage ciphertext")
	}
}
