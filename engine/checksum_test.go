package engine

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestChecksumReaderWriterAgree(t *testing.T) {
	data := strings.Repeat("file distribution ", 1000)

	cr := NewChecksumReader(strings.NewReader(data))
	var buf bytes.Buffer
	cw := NewChecksumWriter(&buf)

	n, err := io.CopyBuffer(cw, cr, make([]byte, 97))
	if err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("expected %d bytes, got %d", len(data), n)
	}
	if cr.BytesRead() != cw.BytesWritten() {
		t.Errorf("byte counts differ: read %d, wrote %d", cr.BytesRead(), cw.BytesWritten())
	}
	if cr.Checksum() != cw.Checksum() {
		t.Errorf("checksums differ: %x != %x", cr.Checksum(), cw.Checksum())
	}
	if cr.Checksum() == 0 {
		t.Error("expected non-zero checksum")
	}
}

func TestChecksumDetectsDifference(t *testing.T) {
	a := NewChecksumReader(strings.NewReader("hello world"))
	b := NewChecksumReader(strings.NewReader("hello World"))
	io.Copy(io.Discard, a)
	io.Copy(io.Discard, b)
	if a.Checksum() == b.Checksum() {
		t.Error("expected different checksums for different content")
	}
}
