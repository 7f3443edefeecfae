// Package blobstore stores uploaded files such as lab reports. Metadata
// lives with the blob; callers keep the returned ID.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingFileName    = errors.New("file name is required")
)

// AllowedContentTypes lists the report formats accepted for upload.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}

type Metadata struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"createdAt"`
}

type BlobStore interface {
	Put(ctx context.Context, meta Metadata, content io.Reader) (*Metadata, error)
	Open(ctx context.Context, id string) (io.ReadCloser, *Metadata, error)
	Delete(ctx context.Context, id string) error
}

func validate(meta Metadata) error {
	if meta.FileName == "" {
		return ErrMissingFileName
	}
	if !AllowedContentTypes[meta.ContentType] {
		return fmt.Errorf("%w: %s", ErrInvalidContentType, meta.ContentType)
	}
	return nil
}

// copyLimited copies at most maxSize bytes of src to dst and returns the size
// and SHA-256 of what was copied.
func copyLimited(dst io.Writer, src io.Reader, maxSize int64) (int64, string, error) {
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, h), io.LimitReader(src, maxSize+1))
	if err != nil {
		return 0, "", fmt.Errorf("reading content: %w", err)
	}
	if n > maxSize {
		return 0, "", ErrFileTooLarge
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

type storedBlob struct {
	metadata Metadata
	content  []byte
}

// InMemoryBlobStore keeps blobs in memory; used in development and tests.
type InMemoryBlobStore struct {
	mu      sync.RWMutex
	blobs   map[string]*storedBlob
	maxSize int64
}

func NewInMemoryBlobStore(maxSize int64) *InMemoryBlobStore {
	return &InMemoryBlobStore{
		blobs:   make(map[string]*storedBlob),
		maxSize: maxSize,
	}
}

func (s *InMemoryBlobStore) Put(_ context.Context, meta Metadata, content io.Reader) (*Metadata, error) {
	if err := validate(meta); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	size, hash, err := copyLimited(&buf, content, s.maxSize)
	if err != nil {
		return nil, err
	}

	meta.ID = uuid.NewString()
	meta.Size = size
	meta.Hash = hash
	meta.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	s.blobs[meta.ID] = &storedBlob{metadata: meta, content: buf.Bytes()}
	s.mu.Unlock()

	out := meta
	return &out, nil
}

func (s *InMemoryBlobStore) Open(_ context.Context, id string) (io.ReadCloser, *Metadata, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrBlobNotFound
	}
	meta := blob.metadata
	return io.NopCloser(bytes.NewReader(blob.content)), &meta, nil
}

func (s *InMemoryBlobStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}
