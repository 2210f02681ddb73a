package provider

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"
)

type localFileInfo struct {
	name    string
	size    int64
	isDir   bool
	regular bool
	modTime time.Time
}

func (l *localFileInfo) Name() string       { return l.name }
func (l *localFileInfo) Size() int64        { return l.size }
func (l *localFileInfo) IsDir() bool        { return l.isDir }
func (l *localFileInfo) ModTime() time.Time { return l.modTime }

// IsRegular is false for devices, sockets, pipes and the like.
func (l *localFileInfo) IsRegular() bool { return l.regular }

// LocalProvider implements Provider and Writer for posix local filesystems.
type LocalProvider struct {
	basePath string
	// chown applies source ownership to written files.
	chown bool
}

// NewLocalProvider creates a new LocalProvider rooted at basePath.
// If basePath is empty, it acts upon absolute or relative paths directly.
func NewLocalProvider(basePath string) *LocalProvider {
	return &LocalProvider{basePath: basePath}
}

// WithOwnership makes written files take the source's uid and gid.
func (p *LocalProvider) WithOwnership(enabled bool) *LocalProvider {
	p.chown = enabled
	return p
}

func (p *LocalProvider) resolve(path string) string {
	if p.basePath == "" {
		return path
	}
	return filepath.Join(p.basePath, filepath.Clean(path))
}

func (p *LocalProvider) Stat(ctx context.Context, path string) (FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	info, err := os.Stat(p.resolve(path))
	if err != nil {
		return nil, err
	}
	return WrapOSFileInfo(info), nil
}

// List returns the entries of path in name order. Entries that vanish
// between the listing and the stat are skipped.
func (p *LocalProvider) List(ctx context.Context, path string) ([]FileInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	entries, err := os.ReadDir(p.resolve(path))
	if err != nil {
		return nil, err
	}

	infos := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, WrapOSFileInfo(info))
	}
	return infos, nil
}

func (p *LocalProvider) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return os.Open(p.resolve(path))
}

func (p *LocalProvider) Remove(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return os.Remove(p.resolve(path))
}

// OpenWrite creates path exclusively; an existing file is an error so a
// staged name is never overwritten.
func (p *LocalProvider) OpenWrite(ctx context.Context, path string, metadata FileInfo) (io.WriteCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fullPath := p.resolve(path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, err
	}

	mode := os.FileMode(0644)
	if uInfo, ok := metadata.(UnixFileInfo); ok && uInfo.Mode() != 0 {
		mode = uInfo.Mode()
	}

	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_EXCL, mode)
	if err != nil {
		return nil, err
	}

	return &localWriteCloser{
		File:     file,
		fullPath: fullPath,
		metadata: metadata,
		chown:    p.chown,
	}, nil
}

// localWriteCloser applies metadata after the last write, since writing
// updates the mtime.
type localWriteCloser struct {
	*os.File
	fullPath string
	metadata FileInfo
	chown    bool
}

func (l *localWriteCloser) Close() error {
	if err := l.File.Close(); err != nil {
		return err
	}
	if l.metadata == nil {
		return nil
	}

	// Permission and ownership failures are not worth failing a copy over.
	_ = ApplyMetadata(l.fullPath, l.metadata, l.chown)

	if !l.metadata.ModTime().IsZero() {
		_ = os.Chtimes(l.fullPath, time.Now(), l.metadata.ModTime())
	}
	return nil
}
