package keyring

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/yllada/vpn-licensing/common"
	"github.com/yllada/vpn-licensing/receipt"
)

func TestReceiptStore_SystemKeyring(t *testing.T) {
	keyring.MockInit()
	path := filepath.Join(t.TempDir(), ".receipt")
	store := NewReceiptStore(path)

	if _, err := store.CurrentReceipt(); !errors.Is(err, receipt.ErrNoReceipt) {
		t.Fatalf("CurrentReceipt() error = %v, want ErrNoReceipt", err)
	}

	if err := store.Save([]byte("header.payload.sig")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.CurrentReceipt()
	if err != nil {
		t.Fatalf("CurrentReceipt() error = %v", err)
	}
	if string(got) != "header.payload.sig" {
		t.Errorf("CurrentReceipt() = %q", got)
	}
	if common.FileExists(path) {
		t.Error("fallback file should not be written while the keyring works")
	}

	if err := store.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.CurrentReceipt(); !errors.Is(err, receipt.ErrNoReceipt) {
		t.Errorf("CurrentReceipt() after Delete error = %v, want ErrNoReceipt", err)
	}
}

func TestReceiptStore_FileFallback(t *testing.T) {
	keyring.MockInitWithError(errors.New("secret service not running"))
	t.Cleanup(keyring.MockInit)

	path := filepath.Join(t.TempDir(), ".receipt")
	store := NewReceiptStore(path)

	if err := store.Save([]byte("header.payload.sig")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("fallback file missing: %v", err)
	}
	if strings.Contains(string(data), "payload") {
		t.Error("fallback file should be encrypted")
	}

	// A fresh store must be able to decrypt what an earlier one wrote.
	got, err := NewReceiptStore(path).CurrentReceipt()
	if err != nil {
		t.Fatalf("CurrentReceipt() error = %v", err)
	}
	if string(got) != "header.payload.sig" {
		t.Errorf("CurrentReceipt() = %q", got)
	}

	if err := store.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if common.FileExists(path) {
		t.Error("Delete() should remove the fallback file")
	}
}

func TestReceiptStore_CorruptFile(t *testing.T) {
	keyring.MockInitWithError(errors.New("secret service not running"))
	t.Cleanup(keyring.MockInit)

	path := filepath.Join(t.TempDir(), ".receipt")
	if err := os.WriteFile(path, []byte("definitely not ciphertext"), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := NewReceiptStore(path).CurrentReceipt()
	if !errors.Is(err, common.ErrDecryption) {
		t.Errorf("CurrentReceipt() error = %v, want ErrDecryption", err)
	}
}

func TestReceiptStore_SaveEmpty(t *testing.T) {
	keyring.MockInit()
	if err := NewReceiptStore("").Save(nil); err == nil {
		t.Error("Save(nil) should fail")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	store := NewReceiptStore("")
	plaintext := []byte("sensitive receipt data")

	encrypted, err := store.encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt() error = %v", err)
	}
	if string(encrypted) == string(plaintext) {
		t.Error("encrypted data should differ from plaintext")
	}

	decrypted, err := store.decrypt(encrypted)
	if err != nil {
		t.Fatalf("decrypt() error = %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("decrypt() = %q, want %q", decrypted, plaintext)
	}
}
