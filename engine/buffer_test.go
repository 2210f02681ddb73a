package engine

import (
	"testing"
)

func TestBufferPool_Sizes(t *testing.T) {
	tests := []struct {
		requested int
		expected  int
	}{
		{0, DefaultBufferSize},
		{-1, DefaultBufferSize},
		{8192, 8192},
	}

	for _, tt := range tests {
		bp := NewBufferPool(tt.requested)
		buf := bp.Get()
		if buf == nil {
			t.Fatalf("expected a valid buffer pointer, got nil")
		}
		if len(*buf) != tt.expected {
			t.Errorf("NewBufferPool(%d): expected buffer size %d, got %d", tt.requested, tt.expected, len(*buf))
		}
		bp.Put(buf)
		bp.Put(nil)
	}
}
