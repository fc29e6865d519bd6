package push

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/neboloop/bingus/internal/keyring"
)

// DeviceTokenFile is the file under the data directory that holds the
// registered device token.
const DeviceTokenFile = "device_token.txt"

const keyringAccount = "apns-device-token"

// TokenStore persists the single registered device token.
// Load returns "" when nothing has been registered.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
}

// FileTokenStore keeps the token in a plain file.
type FileTokenStore struct {
	Path string
}

// NewFileTokenStore stores the token in dataDir/device_token.txt.
func NewFileTokenStore(dataDir string) *FileTokenStore {
	return &FileTokenStore{Path: filepath.Join(dataDir, DeviceTokenFile)}
}

func (s *FileTokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read device token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileTokenStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(s.Path, []byte(token), 0600); err != nil {
		return fmt.Errorf("write device token: %w", err)
	}
	return nil
}

// KeyringTokenStore keeps the token in the OS keychain.
type KeyringTokenStore struct{}

func (KeyringTokenStore) Load() (string, error) {
	v, err := keyring.Get(keyringAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (KeyringTokenStore) Save(token string) error {
	return keyring.Set(keyringAccount, token)
}

// NewTokenStore prefers the OS keychain and falls back to a file in
// dataDir when no keychain is usable. A token left in the file by an
// earlier run is migrated into the keychain.
func NewTokenStore(dataDir string) TokenStore {
	file := NewFileTokenStore(dataDir)
	if !keyring.Available() {
		return file
	}
	if tok, err := file.Load(); err == nil && tok != "" {
		if err := keyring.Set(keyringAccount, tok); err != nil {
			pushLog.Warnf("keeping device token in file: %v", err)
			return file
		}
		_ = os.Remove(file.Path)
	}
	return KeyringTokenStore{}
}
