package storage

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/VCBorges/automatizai-challenge/internal/models"
)

func TestObjectKeyLayout(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"contrato.pdf", "job-1/CONTRATO_SOCIAL/contrato.pdf"},
		{"../../etc/passwd", "job-1/CONTRATO_SOCIAL/passwd"},
		{`C:\Users\ana\contrato.pdf`, "job-1/CONTRATO_SOCIAL/contrato.pdf"},
		{"", "job-1/CONTRATO_SOCIAL/document.pdf"},
	}
	for _, tt := range tests {
		if got := ObjectKey("job-1", models.DocContratoSocial, tt.filename); got != tt.want {
			t.Fatalf("ObjectKey(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())
	body := []byte("%PDF-1.4 test")

	obj, err := store.Put(ctx, "job-1/CARTAO_CNPJ/cartao.pdf", "application/pdf", body)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if obj.SizeBytes != int64(len(body)) {
		t.Fatalf("size: got %d", obj.SizeBytes)
	}
	if obj.ChecksumSHA256 != Checksum(body) || len(obj.ChecksumSHA256) != 64 {
		t.Fatalf("checksum: got %q", obj.ChecksumSHA256)
	}

	rc, err := store.Open(ctx, obj.Key)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("content mismatch: %q", got)
	}
}

func TestLocalStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())
	obj, err := store.Put(ctx, "job-1/CONTRATO_SOCIAL/contrato.pdf", "application/pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, obj.Key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Open(ctx, obj.Key); err == nil {
		t.Fatalf("expected object to be gone")
	}
	if err := store.Delete(ctx, obj.Key); err != nil {
		t.Fatalf("deleting a missing object should succeed: %v", err)
	}
}

func TestLocalStoreRejectsEscapingKeys(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	if _, err := store.Put(context.Background(), "../outside.pdf", "application/pdf", []byte("x")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := store.Open(context.Background(), "/etc/passwd"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestApplyPrefix(t *testing.T) {
	tests := []struct {
		prefix, key, want string
	}{
		{"", "a/b.pdf", "a/b.pdf"},
		{normalizePrefix("/uploads/"), "a/b.pdf", "uploads/a/b.pdf"},
	}
	for _, tt := range tests {
		if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
			t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
		}
	}
}
