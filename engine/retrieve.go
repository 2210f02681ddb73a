package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/franksops/gofanout/jobdb"
	"github.com/franksops/gofanout/provider"
)

// ProviderFactory opens the remote location a directory is configured with.
type ProviderFactory func(ctx context.Context, source string) (provider.Provider, error)

// S3Factory opens s3://bucket/prefix sources.
func S3Factory(ctx context.Context, source string) (provider.Provider, error) {
	bucket, prefix, ok := provider.ParseS3URL(source)
	if !ok {
		return nil, fmt.Errorf("not an s3 url: %s", source)
	}
	return provider.NewS3Provider(ctx, bucket, prefix)
}

// Retriever pulls objects from remote sources into their local spool
// directory, where the Scanner collects them like any local file.
type Retriever struct {
	open     ProviderFactory
	buffers  *BufferPool
	maxFiles int
	logger   *slog.Logger

	mu        sync.Mutex
	providers map[string]provider.Provider
}

// NewRetriever fetches at most maxFiles objects per pass from the remote
// sources opened by open.
func NewRetriever(open ProviderFactory, buffers *BufferPool, maxFiles int, logger *slog.Logger) *Retriever {
	return &Retriever{
		open:      open,
		buffers:   buffers,
		maxFiles:  maxFiles,
		logger:    logger.With("component", "retriever"),
		providers: map[string]provider.Provider{},
	}
}

func (r *Retriever) provider(ctx context.Context, source string) (provider.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[source]; ok {
		return p, nil
	}
	p, err := r.open(ctx, source)
	if err != nil {
		return nil, err
	}
	r.providers[source] = p
	return p, nil
}

// Retrieve fetches matching objects of a remote directory and removes them
// from the source. It returns the number of files retrieved.
func (r *Retriever) Retrieve(ctx context.Context, dir *jobdb.WatchedDirectory) (int, error) {
	if !dir.Remote {
		return 0, nil
	}
	src, err := r.provider(ctx, dir.Source)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", dir.Source, err)
	}
	entries, err := src.List(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", dir.Source, err)
	}
	if err := os.MkdirAll(dir.Path, 0o755); err != nil {
		return 0, err
	}

	n := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if entry.IsDir() {
			continue
		}
		if groups, _ := dir.Classify(entry.Name()); len(groups) == 0 {
			continue
		}
		if r.maxFiles > 0 && n >= r.maxFiles {
			break
		}
		if err := r.fetch(ctx, src, dir, entry); err != nil {
			r.logger.Warn("failed to retrieve object", "dir", dir.Alias, "object", entry.Name(), "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		r.logger.Debug("retrieved objects", "dir", dir.Alias, "files", n)
	}
	return n, nil
}

func (r *Retriever) fetch(ctx context.Context, src provider.Provider, dir *jobdb.WatchedDirectory, entry provider.FileInfo) error {
	name := entry.Name()
	final := filepath.Join(dir.Path, name)
	if _, err := os.Lstat(final); err == nil {
		// The previous copy has not been collected yet.
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	part := filepath.Join(dir.Path, "."+name+partSuffix)
	f, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := r.download(ctx, src, name, f); err != nil {
		f.Close()
		os.Remove(part)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return err
	}
	if mtime := entry.ModTime(); !mtime.IsZero() {
		_ = os.Chtimes(part, mtime, mtime)
	}
	if err := os.Rename(part, final); err != nil {
		os.Remove(part)
		return err
	}
	return src.Remove(ctx, name)
}

func (r *Retriever) download(ctx context.Context, src provider.Provider, name string, f *os.File) error {
	if dl, ok := src.(provider.Downloader); ok {
		_, err := dl.Download(ctx, name, f)
		return err
	}
	rc, err := src.OpenRead(ctx, name)
	if err != nil {
		return err
	}
	defer rc.Close()
	buf := r.buffers.Get()
	defer r.buffers.Put(buf)
	_, err = io.CopyBuffer(f, rc, *buf)
	return err
}
