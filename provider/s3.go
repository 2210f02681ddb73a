package provider

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ensure interface is implemented
var (
	_ Provider   = (*S3Provider)(nil)
	_ Downloader = (*S3Provider)(nil)
)

type s3FileInfo struct {
	name    string
	size    int64
	isDir   bool
	modTime time.Time
}

func (f *s3FileInfo) Name() string       { return f.name }
func (f *s3FileInfo) Size() int64        { return f.size }
func (f *s3FileInfo) IsDir() bool        { return f.isDir }
func (f *s3FileInfo) ModTime() time.Time { return f.modTime }

// S3Provider reads a bucket prefix as a remote watched directory.
type S3Provider struct {
	client     *s3.Client
	bucket     string
	prefix     string
	downloader *manager.Downloader
}

// NewS3Provider creates a new S3Provider for bucket/prefix.
func NewS3Provider(ctx context.Context, bucket string, prefix string) (*S3Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Provider{
		client:     client,
		bucket:     bucket,
		prefix:     prefix,
		downloader: manager.NewDownloader(client),
	}, nil
}

// buildKey constructs the full S3 key based on the provider's prefix
func (p *S3Provider) buildKey(subPath string) string {
	subPath = strings.TrimPrefix(subPath, "/")
	if p.prefix == "" {
		return subPath
	}
	// Avoid double slashes
	key := path.Join(p.prefix, subPath)
	return strings.TrimPrefix(key, "/")
}

// Stat returns the FileInfo for the given path.
func (p *S3Provider) Stat(ctx context.Context, pth string) (FileInfo, error) {
	key := p.buildKey(pth)

	// exact match
	headOut, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})

	if err == nil {
		var modTime time.Time
		if headOut.LastModified != nil {
			modTime = *headOut.LastModified
		}
		var size int64
		if headOut.ContentLength != nil {
			size = *headOut.ContentLength
		}

		return &s3FileInfo{
			name:    path.Base(key),
			size:    size,
			isDir:   strings.HasSuffix(key, "/"),
			modTime: modTime,
		}, nil
	}

	// maybe a directory? Let's check prefix
	dirPrefix := key + "/"
	if key == "" {
		dirPrefix = ""
	}

	listOut, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(dirPrefix),
		MaxKeys: aws.Int32(1),
	})

	if err != nil {
		return nil, fmt.Errorf("stat failed for %q: %w", pth, err)
	}

	if len(listOut.Contents) > 0 || len(listOut.CommonPrefixes) > 0 {
		return &s3FileInfo{
			name:  path.Base(key),
			isDir: true,
		}, nil
	}

	return nil, fmt.Errorf("file not found: %s", pth)
}

// List returns the contents of the given directory.
func (p *S3Provider) List(ctx context.Context, pth string) ([]FileInfo, error) {
	dirPrefix := p.buildKey(pth)
	if dirPrefix != "" && !strings.HasSuffix(dirPrefix, "/") {
		dirPrefix += "/"
	}

	var infos []FileInfo
	var continuationToken *string

	for {
		out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.bucket),
			Prefix:            aws.String(dirPrefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", pth, err)
		}

		// Add common prefixes as directories
		for _, cp := range out.CommonPrefixes {
			name := strings.TrimPrefix(*cp.Prefix, dirPrefix)
			name = strings.TrimSuffix(name, "/")
			infos = append(infos, &s3FileInfo{
				name:  name,
				isDir: true,
			})
		}

		// Add objects as files (or explicit directories if they end in /)
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(*obj.Key, dirPrefix)
			if name == "" { // sometimes the dir itself is in the results
				continue
			}
			isDir := strings.HasSuffix(name, "/")
			if isDir {
				name = strings.TrimSuffix(name, "/")
			}

			var modTime time.Time
			if obj.LastModified != nil {
				modTime = *obj.LastModified
			}
			var size int64
			if obj.Size != nil {
				size = *obj.Size
			}

			infos = append(infos, &s3FileInfo{
				name:    name,
				size:    size,
				isDir:   isDir,
				modTime: modTime,
			})
		}

		if out.IsTruncated != nil && *out.IsTruncated {
			continuationToken = out.NextContinuationToken
		} else {
			break
		}
	}

	return infos, nil
}

// OpenRead opens a file for streaming reads.
func (p *S3Provider) OpenRead(ctx context.Context, pth string) (io.ReadCloser, error) {
	key := p.buildKey(pth)
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open read %q: %w", pth, err)
	}
	return out.Body, nil
}

// Remove deletes the object once it has been retrieved.
func (p *S3Provider) Remove(ctx context.Context, pth string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(pth)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", pth, err)
	}
	return nil
}

// Download fetches an object with concurrent ranged GETs.
func (p *S3Provider) Download(ctx context.Context, pth string, w io.WriterAt) (int64, error) {
	n, err := p.downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(pth)),
	})
	if err != nil {
		return n, fmt.Errorf("failed to download %q: %w", pth, err)
	}
	return n, nil
}

// ParseS3URL splits s3://bucket/prefix.
func ParseS3URL(url string) (bucket, prefix string, ok bool) {
	rest, found := strings.CutPrefix(url, "s3://")
	if !found || rest == "" {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", false
	}
	return bucket, strings.TrimSuffix(prefix, "/"), true
}
