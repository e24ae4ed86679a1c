// Package filestore keeps uploaded assets (images, backgrounds, pictures)
// addressed by the SHA-256 of their content.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned for unknown file ids
var ErrNotFound = errors.New("file not found")

// Ref identifies a stored file
type Ref struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimetype"`
	Size     int64  `json:"size"`
}

// Store is the file store used by elements and archives
type Store interface {
	Put(ctx context.Context, name, mimeType string, r io.Reader) (Ref, error)
	Stat(ctx context.Context, id string) (Ref, error)
	Open(ctx context.Context, id string) (io.ReadCloser, Ref, error)
	Delete(ctx context.Context, id string) error
}

// Local stores files below a directory
type Local struct {
	root string
}

// NewLocal creates a local file store rooted at dir
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create file store directory: %w", err)
	}
	return &Local{root: dir}, nil
}

// Put stores content and returns its reference. Storing the same bytes twice
// yields the same id.
func (l *Local) Put(ctx context.Context, name, mimeType string, r io.Reader) (Ref, error) {
	tmp, err := os.CreateTemp(l.root, "upload-*")
	if err != nil {
		return Ref{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Ref{}, fmt.Errorf("failed to write file: %w", err)
	}

	ref := Ref{
		ID:       hex.EncodeToString(h.Sum(nil)),
		Name:     filepath.Base(name),
		MimeType: mimeType,
		Size:     size,
	}
	if ref.MimeType == "" {
		ref.MimeType = MimeTypeFor(name)
	}

	dir := filepath.Dir(l.path(ref.ID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Ref{}, fmt.Errorf("failed to create file directory: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path(ref.ID)); err != nil {
		return Ref{}, fmt.Errorf("failed to store file: %w", err)
	}

	meta, err := json.Marshal(ref)
	if err != nil {
		return Ref{}, err
	}
	if err := os.WriteFile(l.path(ref.ID)+".json", meta, 0644); err != nil {
		return Ref{}, fmt.Errorf("failed to write file metadata: %w", err)
	}

	return ref, nil
}

// Stat returns the reference for id
func (l *Local) Stat(ctx context.Context, id string) (Ref, error) {
	if !validID(id) {
		return Ref{}, ErrNotFound
	}
	data, err := os.ReadFile(l.path(id) + ".json")
	if errors.Is(err, os.ErrNotExist) {
		return Ref{}, ErrNotFound
	}
	if err != nil {
		return Ref{}, err
	}
	var ref Ref
	if err := json.Unmarshal(data, &ref); err != nil {
		return Ref{}, fmt.Errorf("corrupt metadata for %s: %w", id, err)
	}
	return ref, nil
}

// Open opens the content of id
func (l *Local) Open(ctx context.Context, id string) (io.ReadCloser, Ref, error) {
	ref, err := l.Stat(ctx, id)
	if err != nil {
		return nil, Ref{}, err
	}
	f, err := os.Open(l.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, Ref{}, ErrNotFound
	}
	if err != nil {
		return nil, Ref{}, err
	}
	return f, ref, nil
}

// Delete removes id; deleting a missing file is not an error
func (l *Local) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return nil
	}
	for _, p := range []string{l.path(id), l.path(id) + ".json"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (l *Local) path(id string) string {
	return filepath.Join(l.root, id[:2], id)
}

func validID(id string) bool {
	if len(id) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// ReadAll loads the whole content of id
func ReadAll(ctx context.Context, s Store, id string) ([]byte, Ref, error) {
	rc, ref, err := s.Open(ctx, id)
	if err != nil {
		return nil, Ref{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	return data, ref, err
}

// MimeTypeFor guesses an image mime type from a file name
func MimeTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	}
	return "application/octet-stream"
}
