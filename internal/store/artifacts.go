package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	qrcode "github.com/skip2/go-qrcode"
)

// ArtifactStore keeps one rendered pairing image per session id.
type ArtifactStore struct {
	root string
	size int
}

// NewArtifactStore creates the root directory if needed. size is the edge
// length in pixels of the rendered PNG.
func NewArtifactStore(root string, size int) (*ArtifactStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	if size <= 0 {
		size = 512
	}
	return &ArtifactStore{root: root, size: size}, nil
}

// Write renders the pairing challenge as a QR PNG, replacing any previous
// image for the session.
func (s *ArtifactStore) Write(id, code string) error {
	if err := qrcode.WriteFile(code, qrcode.Medium, s.size, s.path(id)); err != nil {
		return fmt.Errorf("render pairing image for %q: %w", id, err)
	}
	return nil
}

// Read returns the current pairing image, or fs.ErrNotExist when none has
// been issued yet.
func (s *ArtifactStore) Read(id string) ([]byte, error) {
	return os.ReadFile(s.path(id))
}

// Delete removes the session's pairing image. Absence is not an error.
func (s *ArtifactStore) Delete(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete pairing image for %q: %w", id, err)
	}
	return nil
}

func (s *ArtifactStore) path(id string) string {
	return filepath.Join(s.root, sanitize(id)+".png")
}
