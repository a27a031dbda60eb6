// Package keyring caches the last receipt delivered by the storefront.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/vpn-licensing/common"
	"github.com/yllada/vpn-licensing/receipt"
)

// receiptAccount is the keyring entry holding the receipt.
const receiptAccount = "storefront-receipt"

// ReceiptStore keeps the raw receipt in the system keyring or, when the
// keyring cannot be reached, in an AES-GCM encrypted file.
type ReceiptStore struct {
	mu           sync.Mutex
	service      string
	fallbackPath string
	useFile      bool
	key          []byte
}

// NewReceiptStore creates a store that falls back to fallbackPath.
func NewReceiptStore(fallbackPath string) *ReceiptStore {
	return &ReceiptStore{
		service:      common.KeyringService,
		fallbackPath: fallbackPath,
	}
}

// Save stores raw, replacing any previous receipt.
func (s *ReceiptStore) Save(raw []byte) error {
	if len(raw) == 0 {
		return errors.New("receipt cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.useFile {
		err := keyring.Set(s.service, receiptAccount, string(raw))
		if err == nil {
			// Drop any stale copy left from an earlier fallback.
			_ = os.Remove(s.fallbackPath)
			return nil
		}
		common.LogWarn("Keyring: system keyring unavailable, using encrypted file: %v", err)
		s.useFile = true
	}
	return s.writeFile(raw)
}

// CurrentReceipt implements receipt.Source.
func (s *ReceiptStore) CurrentReceipt() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.useFile {
		value, err := keyring.Get(s.service, receiptAccount)
		if err == nil {
			return []byte(value), nil
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			common.LogDebug("Keyring: read failed, trying encrypted file: %v", err)
		}
	}
	return s.readFile()
}

// Delete removes the cached receipt from both backends.
func (s *ReceiptStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.useFile {
		if err := keyring.Delete(s.service, receiptAccount); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			common.LogDebug("Keyring: delete failed: %v", err)
		}
	}
	if s.fallbackPath == "" {
		return nil
	}
	if err := os.Remove(s.fallbackPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *ReceiptStore) writeFile(raw []byte) error {
	if s.fallbackPath == "" {
		return errors.New("no fallback receipt file configured")
	}
	encrypted, err := s.encrypt(raw)
	if err != nil {
		return common.WrapError(common.ErrEncryption, err.Error())
	}
	return common.WriteFileAtomic(s.fallbackPath, encrypted, 0600)
}

func (s *ReceiptStore) readFile() ([]byte, error) {
	if s.fallbackPath == "" {
		return nil, receipt.ErrNoReceipt
	}
	data, err := os.ReadFile(s.fallbackPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, receipt.ErrNoReceipt
	}
	if err != nil {
		return nil, err
	}
	plain, err := s.decrypt(data)
	if err != nil {
		return nil, common.WrapError(common.ErrDecryption, err.Error())
	}
	return plain, nil
}

// encryptionKey derives the file key from machine-specific data.
func (s *ReceiptStore) encryptionKey() ([]byte, error) {
	if s.key != nil {
		return s.key, nil
	}
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%d", hostname, getMachineID(), os.Getuid())

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(common.KeyringService), []byte("receipt-cache"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	s.key = key
	return key, nil
}

func getMachineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

func (s *ReceiptStore) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := s.cipher()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (s *ReceiptStore) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	gcm, err := s.cipher()
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (s *ReceiptStore) cipher() (cipher.AEAD, error) {
	key, err := s.encryptionKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
