// Package store owns the on-disk state the gateway keeps per session: the
// credential directory handed to the protocol layer and the rendered pairing
// image. Both are keyed by session id and removed together on logout.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// credentialFile is the blob the protocol layer persists inside a session's
// credential directory.
const credentialFile = "creds.json"

// CredentialStore manages one credential directory per session id under a
// common root.
type CredentialStore struct {
	root string
}

// NewCredentialStore creates the root directory if needed.
func NewCredentialStore(root string) (*CredentialStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create credential root: %w", err)
	}
	return &CredentialStore{root: root}, nil
}

// Dir returns the session's credential directory path without creating it.
func (s *CredentialStore) Dir(id string) string {
	return filepath.Join(s.root, sanitize(id))
}

// EnsureDir creates the session's credential directory and returns its path.
func (s *CredentialStore) EnsureDir(id string) (string, error) {
	dir := s.Dir(id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create credential dir for %q: %w", id, err)
	}
	return dir, nil
}

// Read returns the stored credential blob, or fs.ErrNotExist when the
// session has never paired.
func (s *CredentialStore) Read(id string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(id), credentialFile))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write persists a refreshed credential blob for the session.
func (s *CredentialStore) Write(id string, data []byte) error {
	dir, err := s.EnsureDir(id)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, credentialFile), data, 0o600); err != nil {
		return fmt.Errorf("write credentials for %q: %w", id, err)
	}
	return nil
}

// Delete removes the session's credential directory. Deleting an absent
// directory is not an error.
func (s *CredentialStore) Delete(id string) error {
	err := os.RemoveAll(s.Dir(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete credentials for %q: %w", id, err)
	}
	return nil
}

// sanitize keeps ids usable as a single path element. Handlers validate ids
// before they reach the stores; this is the backstop.
func sanitize(id string) string {
	id = strings.ReplaceAll(id, string(os.PathSeparator), "_")
	return filepath.Base(strings.TrimSpace(id))
}
