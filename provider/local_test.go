package provider

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalProvider_StatAndList(t *testing.T) {
	base := t.TempDir()
	p := NewLocalProvider(base)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(base, "b.txt"), []byte("bb"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(base, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	info, err := p.Stat(ctx, "b.txt")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 2 || info.IsDir() {
		t.Errorf("unexpected stat result: size=%d dir=%v", info.Size(), info.IsDir())
	}

	infos, err := p.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var names []string
	for _, i := range infos {
		names = append(names, i.Name())
	}
	want := []string{"a.txt", "b.txt", "sub"}
	if len(names) != len(want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}

func TestLocalProvider_WriteAppliesMetadata(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	ctx := context.Background()

	srcPath := filepath.Join(src, "data.bin")
	if err := os.WriteFile(srcPath, []byte("payload"), 0640); err != nil {
		t.Fatal(err)
	}
	mtime := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(srcPath, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	srcP := NewLocalProvider(src)
	dstP := NewLocalProvider(dst).WithOwnership(false)

	info, err := srcP.Stat(ctx, "data.bin")
	if err != nil {
		t.Fatal(err)
	}
	r, err := srcP.OpenRead(ctx, "data.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	w, err := dstP.OpenWrite(ctx, "nested/data.bin", info)
	if err != nil {
		t.Fatalf("OpenWrite failed: %v", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	st, err := os.Stat(filepath.Join(dst, "nested", "data.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != 0640 {
		t.Errorf("expected mode 0640, got %o", st.Mode().Perm())
	}
	if !st.ModTime().Equal(mtime) {
		t.Errorf("expected mtime %v, got %v", mtime, st.ModTime())
	}

	// Staged names are never overwritten.
	if _, err := dstP.OpenWrite(ctx, "nested/data.bin", info); !errors.Is(err, os.ErrExist) {
		t.Errorf("expected ErrExist on second create, got %v", err)
	}
}

func TestLocalProvider_Remove(t *testing.T) {
	base := t.TempDir()
	p := NewLocalProvider(base)
	if err := os.WriteFile(filepath.Join(base, "gone"), nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := p.Remove(context.Background(), "gone"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "gone")); !os.IsNotExist(err) {
		t.Errorf("expected file to be removed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Remove(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context error, got %v", err)
	}
}
