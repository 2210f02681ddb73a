package provider

import (
	"context"
	"io"
	"time"
)

// FileInfo represents the standard metadata for a file or a directory
// across different storage abstractions.
type FileInfo interface {
	Name() string
	Size() int64
	IsDir() bool
	ModTime() time.Time
}

// Provider is a place files are collected from: a local watched directory
// or a remote bucket prefix.
type Provider interface {
	// Stat returns the FileInfo for the given path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns the contents of the given directory.
	List(ctx context.Context, path string) ([]FileInfo, error)

	// OpenRead opens a file for streaming reads.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)

	// Remove deletes a file once it has been collected.
	Remove(ctx context.Context, path string) error
}

// Writer is implemented by providers files can be staged into.
type Writer interface {
	// OpenWrite opens a file for streaming writes, applying metadata on close.
	OpenWrite(ctx context.Context, path string, metadata FileInfo) (io.WriteCloser, error)
}

// Downloader is implemented by providers with a faster bulk fetch than
// OpenRead.
type Downloader interface {
	Download(ctx context.Context, path string, w io.WriterAt) (int64, error)
}
