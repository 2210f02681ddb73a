package provider

import (
	"testing"
)

func TestS3Provider_ImplementsProvider(t *testing.T) {
	var _ Provider = (*S3Provider)(nil)
	var _ Downloader = (*S3Provider)(nil)
}

func TestS3Provider_BuildKey(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		expect string
	}{
		{"", "test.txt", "test.txt"},
		{"", "/test.txt", "test.txt"},
		{"myprefix", "test.txt", "myprefix/test.txt"},
		{"myprefix/", "/test.txt", "myprefix/test.txt"},
		{"my/deep/prefix", "some/path.txt", "my/deep/prefix/some/path.txt"},
		{"", "", ""},
		{"myprefix", "", "myprefix"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+"+"+tt.path, func(t *testing.T) {
			p := &S3Provider{prefix: tt.prefix}
			actual := p.buildKey(tt.path)
			if actual != tt.expect {
				t.Errorf("buildKey(%q, %q) = %q; want %q", tt.prefix, tt.path, actual, tt.expect)
			}
		})
	}
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		url    string
		bucket string
		prefix string
		ok     bool
	}{
		{"s3://bucket/in/alpha", "bucket", "in/alpha", true},
		{"s3://bucket/in/alpha/", "bucket", "in/alpha", true},
		{"s3://bucket", "bucket", "", true},
		{"s3://", "", "", false},
		{"/in/alpha", "", "", false},
	}
	for _, tt := range tests {
		bucket, prefix, ok := ParseS3URL(tt.url)
		if bucket != tt.bucket || prefix != tt.prefix || ok != tt.ok {
			t.Errorf("ParseS3URL(%q) = %q, %q, %v; want %q, %q, %v",
				tt.url, bucket, prefix, ok, tt.bucket, tt.prefix, tt.ok)
		}
	}
}
