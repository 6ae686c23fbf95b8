package transport

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/spotsync/client/internal/models"
)

// SessionFile persists the credential pair across process restarts,
// sealed with a key derived from a machine-local secret so tokens are
// not stored in plaintext on disk.
type SessionFile struct {
	path string
	key  [32]byte
}

// NewSessionFile creates a session file handle. The secret is any
// stable machine-local string (the config file carries one by default).
func NewSessionFile(path, secret string) *SessionFile {
	return &SessionFile{
		path: path,
		key:  sha256.Sum256([]byte(secret)),
	}
}

// Save seals and writes the pair. The file is written atomically via a
// temp file rename so a crash never leaves a truncated session.
func (f *SessionFile) Save(pair models.CredentialPair) error {
	if pair.IsZero() {
		return f.Remove()
	}

	plaintext, err := json.Marshal(pair)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &f.key)

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

// Load reads and opens the stored pair. A missing file returns
// ok=false with no error.
func (f *SessionFile) Load() (models.CredentialPair, bool, error) {
	sealed, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return models.CredentialPair{}, false, nil
	}
	if err != nil {
		return models.CredentialPair{}, false, fmt.Errorf("failed to read session file: %w", err)
	}
	if len(sealed) < 24 {
		return models.CredentialPair{}, false, fmt.Errorf("session file too short")
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &f.key)
	if !ok {
		return models.CredentialPair{}, false, fmt.Errorf("session file failed authentication")
	}

	var pair models.CredentialPair
	if err := json.Unmarshal(plaintext, &pair); err != nil {
		return models.CredentialPair{}, false, fmt.Errorf("failed to decode session: %w", err)
	}
	return pair, !pair.IsZero(), nil
}

// Remove deletes the session file if present.
func (f *SessionFile) Remove() error {
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
