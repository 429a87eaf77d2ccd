//go:build integration

package badger_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittostore/pkg/config"
	"github.com/marmos91/dittostore/pkg/storage"
)

// TestBadgerBackend_Integration exercises an on-disk BadgerDB backend
// through the configured operator.
//
// Prerequisites:
//   - None (BadgerDB is embedded, no external services needed)
//   - Run with: go test -tags=integration ./test/integration/badger/...
//
// These tests verify that the badger backend:
//   - Can be opened from configuration
//   - Persists objects and metadata across restarts
//   - Keeps listings consistent after a reopen
func TestBadgerBackend_Integration(t *testing.T) {
	ctx := context.Background()

	// ========================================================================
	// Setup: Create temporary directory for test database
	// ========================================================================

	dbPath := filepath.Join(t.TempDir(), "store.db")
	options := map[string]string{
		"path":        dbPath,
		"root":        "/data",
		"sync_writes": "true",
	}

	open := func(t *testing.T) *storage.Operator {
		t.Helper()
		op, err := config.NewOperatorContext(ctx, "badger", options)
		if err != nil {
			t.Fatalf("Failed to open badger backend: %v", err)
		}
		return op
	}

	// ========================================================================
	// Test: Write objects and close
	// ========================================================================

	t.Run("WriteAndClose", func(t *testing.T) {
		op := open(t)

		if err := op.CreateDir(ctx, "docs/"); err != nil {
			t.Fatalf("CreateDir failed: %v", err)
		}
		err := op.WriteWithOptions(ctx, "docs/readme.txt", []byte("persisted"), storage.WriteOptions{
			ContentType: "text/plain",
		})
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := op.Write(ctx, "top.bin", []byte{0x01, 0x02}); err != nil {
			t.Fatalf("Write failed: %v", err)
		}

		if err := op.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	})

	// ========================================================================
	// Test: Reopen and verify persistence
	// ========================================================================

	t.Run("PersistenceAcrossRestarts", func(t *testing.T) {
		op := open(t)
		defer op.Close()

		data, err := op.Read(ctx, "docs/readme.txt")
		if err != nil {
			t.Fatalf("Read after reopen failed: %v", err)
		}
		if string(data) != "persisted" {
			t.Errorf("Expected 'persisted', got %q", data)
		}

		md, err := op.Stat(ctx, "docs/readme.txt")
		if err != nil {
			t.Fatalf("Stat after reopen failed: %v", err)
		}
		if ct, ok := md.ContentType().Get(); !ok || ct != "text/plain" {
			t.Errorf("Expected content type 'text/plain', got %q (known=%v)", ct, ok)
		}
		if md.ContentLength() != int64(len("persisted")) {
			t.Errorf("Expected content length %d, got %d", len("persisted"), md.ContentLength())
		}

		entries, err := op.ListAll(ctx, "/", storage.ListOptions{Recursive: true})
		if err != nil {
			t.Fatalf("List after reopen failed: %v", err)
		}
		paths := make(map[string]bool, len(entries))
		for _, e := range entries {
			paths[e.Path()] = true
		}
		for _, want := range []string{"docs/readme.txt", "top.bin"} {
			if !paths[want] {
				t.Errorf("Expected %s in listing, got %v", want, paths)
			}
		}
	})

	// ========================================================================
	// Test: Rename survives a restart
	// ========================================================================

	t.Run("RenameAcrossRestarts", func(t *testing.T) {
		op := open(t)
		if err := op.Rename(ctx, "top.bin", "docs/moved.bin"); err != nil {
			t.Fatalf("Rename failed: %v", err)
		}
		if err := op.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		op = open(t)
		defer op.Close()

		if ok, err := op.IsExist(ctx, "top.bin"); err != nil || ok {
			t.Errorf("Expected top.bin to be gone, got exists=%v err=%v", ok, err)
		}
		if ok, err := op.IsExist(ctx, "docs/moved.bin"); err != nil || !ok {
			t.Errorf("Expected docs/moved.bin to exist, got exists=%v err=%v", ok, err)
		}
	})
}
