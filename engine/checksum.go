package engine

import (
	"hash"
	"hash/crc64"
	"io"
)

var crcTable = crc64.MakeTable(crc64.ISO)

// ChecksumWriter computes a CRC64 of everything written through it.
type ChecksumWriter struct {
	w    io.Writer
	hash hash.Hash64
	n    int64
}

// NewChecksumWriter hashes everything written through to w.
func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{w: w, hash: crc64.New(crcTable)}
}

func (cw *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if n > 0 {
		cw.n += int64(n)
		cw.hash.Write(p[:n])
	}
	return n, err
}

func (cw *ChecksumWriter) Checksum() uint64    { return cw.hash.Sum64() }
func (cw *ChecksumWriter) BytesWritten() int64 { return cw.n }

// ChecksumReader computes a CRC64 of everything read through it.
type ChecksumReader struct {
	r    io.Reader
	hash hash.Hash64
	n    int64
}

// NewChecksumReader hashes everything read from r.
func NewChecksumReader(r io.Reader) *ChecksumReader {
	return &ChecksumReader{r: r, hash: crc64.New(crcTable)}
}

func (cr *ChecksumReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.n += int64(n)
		cr.hash.Write(p[:n])
	}
	return n, err
}

func (cr *ChecksumReader) Checksum() uint64 { return cr.hash.Sum64() }
func (cr *ChecksumReader) BytesRead() int64 { return cr.n }
