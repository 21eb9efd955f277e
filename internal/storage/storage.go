// Package storage keeps the uploaded PDFs, either on the local filesystem or in S3.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/VCBorges/automatizai-challenge/internal/config"
	"github.com/VCBorges/automatizai-challenge/internal/models"
)

// ErrInvalidKey is returned for keys that escape the store root.
var ErrInvalidKey = errors.New("invalid object key")

// Object describes a stored blob.
type Object struct {
	Key            string
	SizeBytes      int64
	ChecksumSHA256 string
	ContentType    string
}

// ObjectStore saves and retrieves binary objects by key.
type ObjectStore interface {
	Put(ctx context.Context, key string, contentType string, body []byte) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// New picks the backend configured by STORAGE_BACKEND.
func New(ctx context.Context, cfg config.Config) (ObjectStore, error) {
	switch strings.ToLower(cfg.StorageBackend) {
	case "s3":
		return NewS3Store(ctx, cfg)
	case "local", "":
		return NewLocalStore(cfg.StorageDir), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// ObjectKey lays out documents as {job_id}/{document_type}/{filename}.
func ObjectKey(jobID string, docType models.DocumentType, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		name = "document.pdf"
	}
	return path.Join(jobID, string(docType), name)
}

// Checksum returns the hex SHA-256 of body.
func Checksum(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func sanitizeKey(key string) (string, error) {
	clean := filepath.ToSlash(filepath.Clean(key))
	clean = strings.TrimPrefix(clean, "./")
	if clean == "." || clean == "" || strings.HasPrefix(clean, "../") || clean == ".." || path.IsAbs(clean) {
		return "", ErrInvalidKey
	}
	return clean, nil
}
