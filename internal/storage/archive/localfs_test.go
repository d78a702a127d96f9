// internal/storage/archive/localfs_test.go
package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalFS_ImplementsStorage(t *testing.T) {
	var _ Storage = (*LocalFS)(nil)
}

func TestLocalFS_PutGet(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewLocalFS(dir)
	if err != nil {
		t.Fatalf("NewLocalFS: %v", err)
	}

	ctx := context.Background()
	data := []byte("ticker,pnl\n")

	if err := fs.Put(ctx, "runs/abc/trades.csv", data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := fs.Get(ctx, "runs/abc/trades.csv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}
}

func TestLocalFS_PutOverwrites(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewLocalFS(dir)
	ctx := context.Background()

	fs.Put(ctx, "trades.csv", []byte("first run with more bytes"))
	fs.Put(ctx, "trades.csv", []byte("second"))

	got, _ := fs.Get(ctx, "trades.csv")
	if string(got) != "second" {
		t.Errorf("expected overwrite, got %q", got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected no temp files left behind, got %d entries", len(entries))
	}
}

func TestLocalFS_GetMissing(t *testing.T) {
	fs, _ := NewLocalFS(t.TempDir())
	_, err := fs.Get(context.Background(), "missing.csv")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLocalFS_Exists(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewLocalFS(dir)
	ctx := context.Background()

	exists, _ := fs.Exists(ctx, "nonexistent.txt")
	if exists {
		t.Error("expected false for nonexistent file")
	}

	fs.Put(ctx, "exists.txt", []byte("data"))
	exists, _ = fs.Exists(ctx, "exists.txt")
	if !exists {
		t.Error("expected true for existing file")
	}
}

func TestLocalFS_List(t *testing.T) {
	dir := t.TempDir()
	fs, _ := NewLocalFS(dir)
	ctx := context.Background()

	fs.Put(ctx, "snapshots/AAPL/expiries.json", []byte("a"))
	fs.Put(ctx, "snapshots/AAPL/earnings_8.json", []byte("b"))
	fs.Put(ctx, "snapshots/MSFT/expiries.json", []byte("c"))

	keys, err := fs.List(ctx, "snapshots/AAPL")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"snapshots/AAPL/earnings_8.json", "snapshots/AAPL/expiries.json"}
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %v", len(want), keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}

	empty, err := fs.List(ctx, "nothing/here")
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty list, got %v, %v", empty, err)
	}
}

func TestNew_SelectsBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s, err := New(Config{Type: "localfs", Path: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := s.(*LocalFS); !ok {
		t.Errorf("expected *LocalFS, got %T", s)
	}

	if _, err := New(Config{Type: "ftp"}); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := New(Config{Type: "s3"}); err == nil {
		t.Error("expected error for s3 without bucket")
	}
}
