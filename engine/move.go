package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/franksops/gofanout/provider"
)

// Mover relocates files between watched directories and the work area.
type Mover struct {
	local    *provider.LocalProvider
	buffers  *BufferPool
	checksum bool
}

// NewMover returns a Mover; with checksum set every copy is verified.
func NewMover(buffers *BufferPool, checksum bool) *Mover {
	return &Mover{
		local:    provider.NewLocalProvider("").WithOwnership(os.Getuid() == 0),
		buffers:  buffers,
		checksum: checksum,
	}
}

// Move renames src to dst, falling back to copy and unlink when the two
// are on different filesystems.
func (m *Mover) Move(ctx context.Context, src, dst string, sameFS bool) error {
	if sameFS {
		err := os.Rename(src, dst)
		if err == nil || !errors.Is(err, unix.EXDEV) {
			return err
		}
	}
	if err := m.Copy(ctx, src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// Link makes dst refer to src's content, leaving src in place. A hard link
// is used unless disallowed or impossible.
func (m *Mover) Link(ctx context.Context, src, dst string, hardLink bool) error {
	if hardLink {
		err := os.Link(src, dst)
		if err == nil || !errors.Is(err, unix.EXDEV) {
			return err
		}
	}
	return m.Copy(ctx, src, dst)
}

// Copy streams src into a new file dst, preserving mode and mtime.
func (m *Mover) Copy(ctx context.Context, src, dst string) error {
	info, err := m.local.Stat(ctx, src)
	if err != nil {
		return err
	}
	in, err := m.local.OpenRead(ctx, src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := m.local.OpenWrite(ctx, dst, info)
	if err != nil {
		return err
	}

	buf := m.buffers.Get()
	defer m.buffers.Put(buf)

	cr := NewChecksumReader(in)
	cw := NewChecksumWriter(out)
	if _, err := io.CopyBuffer(cw, cr, *buf); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("close %s: %w", dst, err)
	}

	if cr.BytesRead() != info.Size() {
		os.Remove(dst)
		return fmt.Errorf("copy %s: size changed during copy (%d != %d)", src, cr.BytesRead(), info.Size())
	}
	if m.checksum && cr.Checksum() != cw.Checksum() {
		os.Remove(dst)
		return fmt.Errorf("copy %s: checksum mismatch %x != %x", src, cr.Checksum(), cw.Checksum())
	}
	return nil
}
