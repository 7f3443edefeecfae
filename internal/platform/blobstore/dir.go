package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// DirBlobStore keeps each blob as <id> with a <id>.json metadata sidecar
// under one directory.
type DirBlobStore struct {
	dir     string
	maxSize int64
}

func NewDirBlobStore(dir string, maxSize int64) (*DirBlobStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &DirBlobStore{dir: dir, maxSize: maxSize}, nil
}

func (s *DirBlobStore) path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrBlobNotFound
	}
	return filepath.Join(s.dir, id), nil
}

func (s *DirBlobStore) Put(_ context.Context, meta Metadata, content io.Reader) (*Metadata, error) {
	if err := validate(meta); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	size, hash, err := copyLimited(tmp, content, s.maxSize)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp file: %w", cerr)
	}
	if err != nil {
		return nil, err
	}

	meta.ID = uuid.NewString()
	meta.Size = size
	meta.Hash = hash
	meta.CreatedAt = time.Now().UTC()

	sidecar, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	target := filepath.Join(s.dir, meta.ID)
	if err := os.WriteFile(target+".json", sidecar, 0o640); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(target + ".json")
		return nil, fmt.Errorf("store blob: %w", err)
	}
	return &meta, nil
}

func (s *DirBlobStore) Open(_ context.Context, id string) (io.ReadCloser, *Metadata, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, nil, err
	}
	raw, err := os.ReadFile(p + ".json")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, nil, fmt.Errorf("decode metadata: %w", err)
	}

	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return f, &meta, nil
}

func (s *DirBlobStore) Delete(_ context.Context, id string) error {
	p, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); errors.Is(err, fs.ErrNotExist) {
		return ErrBlobNotFound
	} else if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if err := os.Remove(p + ".json"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete metadata: %w", err)
	}
	return nil
}
