package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore implements ObjectStore on the local filesystem.
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) *LocalStore {
	if baseDir == "" {
		baseDir = "./data/documents"
	}
	return &LocalStore{baseDir: baseDir}
}

func (s *LocalStore) Put(ctx context.Context, key string, contentType string, body []byte) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	clean, err := sanitizeKey(key)
	if err != nil {
		return Object{}, err
	}
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return Object{}, fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(fullPath, body, 0o644); err != nil {
		return Object{}, fmt.Errorf("write file: %w", err)
	}
	return Object{
		Key:            clean,
		SizeBytes:      int64(len(body)),
		ChecksumSHA256: Checksum(body),
		ContentType:    contentType,
	}, nil
}

func (s *LocalStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.baseDir, filepath.FromSlash(clean)))
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", clean, err)
	}
	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean, err := sanitizeKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.baseDir, filepath.FromSlash(clean))); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete object %s: %w", clean, err)
	}
	return nil
}
