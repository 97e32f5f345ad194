package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"resume-ingest/internal/shared/storage/object"
)

func TestSaveOpenDelete(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()
	body := []byte("%PDF-1.4\n% test document body")

	key, size, mime, err := store.Save(ctx, "user-hash/batch-1", "cv.pdf", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !strings.HasPrefix(key, "user-hash/batch-1/") || !strings.HasSuffix(key, "_cv.pdf") {
		t.Fatalf("unexpected key %q", key)
	}
	if size != int64(len(body)) {
		t.Fatalf("expected size %d, got %d", len(body), size)
	}
	if mime != "application/pdf" {
		t.Fatalf("expected sniffed application/pdf, got %q", mime)
	}

	rc, err := store.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, body) {
		t.Fatalf("round trip mismatch")
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete should be a no-op: %v", err)
	}
	if _, err := store.Open(ctx, key); err == nil {
		t.Fatalf("expected open of deleted key to fail")
	}
}

func TestRejectsTraversal(t *testing.T) {
	store := New(t.TempDir())
	for _, key := range []string{"../etc/passwd", "/abs/path", ""} {
		if _, err := store.Open(context.Background(), key); !errors.Is(err, object.ErrInvalidKey) {
			t.Fatalf("Open(%q): expected ErrInvalidKey, got %v", key, err)
		}
	}
	if _, _, _, err := store.Save(context.Background(), "ns", "../x.pdf", strings.NewReader("x")); err == nil {
		t.Fatalf("expected traversal file name to be rejected")
	}
}
