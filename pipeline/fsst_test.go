package pipeline

import (
	"bytes"
	"testing"
)

func TestFSSTCompressorRoundTrip(t *testing.T) {
	c := NewFSSTCompressor()
	data := []byte("the quick brown fox jumps over the lazy dog, the quick brown fox runs again")

	compressed := c.Compress(data)
	if len(compressed) == 0 {
		t.Fatalf("Compress returned empty output for non-empty input")
	}
	got := c.Decompress(compressed, len(data))
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, data)
	}
}

func TestFSSTCompressorEmptyInput(t *testing.T) {
	c := NewFSSTCompressor()
	if out := c.Compress(nil); out != nil {
		t.Fatalf("Compress(nil) = %v, want nil", out)
	}
	if out := c.Decompress(nil, 0); out != nil {
		t.Fatalf("Decompress(nil, 0) = %v, want nil", out)
	}
}

func TestOffCompressorIsIdentity(t *testing.T) {
	c := NewOffCompressor()
	data := []byte("uncompressed bytes")
	if got := c.Compress(data); !bytes.Equal(got, data) {
		t.Fatalf("Compress = %q, want %q", got, data)
	}
	if got := c.Decompress(data, len(data)); !bytes.Equal(got, data) {
		t.Fatalf("Decompress = %q, want %q", got, data)
	}
	if c.Code() != CompressOff {
		t.Fatalf("Code() = %v, want CompressOff", c.Code())
	}
}
