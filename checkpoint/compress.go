package checkpoint

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the codec applied to checkpoint payloads.
type Compression uint8

const (
	// CompressionZstd is the default: good ratio on float-heavy payloads.
	CompressionZstd Compression = iota
	// CompressionLZ4 trades ratio for speed.
	CompressionLZ4
	// CompressionNone stores payloads uncompressed.
	CompressionNone
)

func (c Compression) String() string {
	switch c {
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionNone:
		return "none"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a codec name.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("unsupported compression: %q", s)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// compressor wraps w with the codec's encoder.
func (c Compression) compressor(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionZstd:
		return zstd.NewWriter(w)
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionNone:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %v", c)
	}
}

// decompressor wraps r with the codec's decoder.
func (c Compression) decompressor(r io.Reader) (io.Reader, error) {
	switch c {
	case CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	case CompressionLZ4:
		return lz4.NewReader(r), nil
	case CompressionNone:
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %v", c)
	}
}
