// Package consumer implements the downstream channels notifications are
// written to.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ErrUnavailable is returned by Send when no reader is attached or the
// reader stopped draining the channel. Nothing was written.
var ErrUnavailable = errors.New("consumer unavailable")

// DefaultWriteTimeout bounds one FIFO write against a reader that stopped
// reading.
const DefaultWriteTimeout = 2 * time.Second

// FIFO writes records to a named pipe read by the transfer service.
type FIFO struct {
	path    string
	timeout time.Duration

	mu   sync.Mutex
	file *os.File
}

// NewFIFO creates the pipe at path if it does not exist yet.
func NewFIFO(path string) (*FIFO, error) {
	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := unix.Mkfifo(path, 0o600); err != nil {
			return nil, fmt.Errorf("create fifo %s: %w", path, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat fifo %s: %w", path, err)
	case fi.Mode()&os.ModeNamedPipe == 0:
		return nil, fmt.Errorf("%s exists and is not a fifo", path)
	}
	return &FIFO{path: path, timeout: DefaultWriteTimeout}, nil
}

// SetWriteTimeout changes how long Send waits for room in the pipe.
func (f *FIFO) SetWriteTimeout(d time.Duration) {
	f.mu.Lock()
	f.timeout = d
	f.mu.Unlock()
}

// Available opens the write end without blocking. It fails with ENXIO while
// nobody has the pipe open for reading.
func (f *FIFO) Available(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openLocked() == nil
}

func (f *FIFO) openLocked() error {
	if f.file != nil {
		return nil
	}
	fd, err := unix.Open(f.path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return ErrUnavailable
		}
		return fmt.Errorf("open fifo %s: %w", f.path, err)
	}
	f.file = os.NewFile(uintptr(fd), f.path)
	return nil
}

// Send writes record in a single write. Records are smaller than PIPE_BUF
// so the kernel writes them whole or not at all. A full pipe that does not
// drain before the write timeout or ctx deadline, and a reader that went
// away, both report ErrUnavailable.
func (f *FIFO) Send(ctx context.Context, record []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.openLocked(); err != nil {
		return err
	}
	deadline := time.Now().Add(f.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := f.file.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set fifo deadline: %w", err)
	}

	n, err := f.file.Write(record)
	switch {
	case err == nil && n == len(record):
		return nil
	case n == 0 && errors.Is(err, os.ErrDeadlineExceeded), n == 0 && errors.Is(err, unix.EAGAIN):
		return fmt.Errorf("write fifo %s: reader stalled: %w", f.path, ErrUnavailable)
	case n == 0 && errors.Is(err, unix.EPIPE):
		f.closeLocked()
		return fmt.Errorf("write fifo %s: reader gone: %w", f.path, ErrUnavailable)
	case err == nil:
		err = io.ErrShortWrite
	}
	f.closeLocked()
	return fmt.Errorf("write fifo %s: %w", f.path, err)
}

func (f *FIFO) closeLocked() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
}

// Close releases the write end.
func (f *FIFO) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
