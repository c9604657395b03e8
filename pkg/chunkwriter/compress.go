package chunkwriter

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Algorithm selects the compressor a chunk's tar stream is piped through
// before (optional) encryption and upload.
type Algorithm string

const (
	AlgorithmNone Algorithm = "none"
	AlgorithmGzip Algorithm = "gzip"
	AlgorithmZstd Algorithm = "zstd"
)

// CompressionConfig configures the compression stage of a chunk pipeline.
type CompressionConfig struct {
	Algorithm Algorithm
	Level     int
}

func newCompressWriter(dst io.Writer, cfg CompressionConfig) (io.WriteCloser, error) {
	switch cfg.Algorithm {
	case "", AlgorithmNone:
		return nopWriteCloser{dst}, nil
	case AlgorithmGzip:
		level := cfg.Level
		if level == 0 {
			level = gzip.DefaultCompression
		}
		return gzip.NewWriterLevel(dst, level)
	case AlgorithmZstd:
		level := zstd.EncoderLevelFromZstd(cfg.Level)
		if cfg.Level == 0 {
			level = zstd.SpeedDefault
		}
		return zstd.NewWriter(dst, zstd.WithEncoderLevel(level))
	default:
		return nil, fmt.Errorf("chunkwriter: unknown compression algorithm %q", cfg.Algorithm)
	}
}

func newDecompressReader(src io.Reader, algorithm Algorithm) (io.ReadCloser, error) {
	switch algorithm {
	case "", AlgorithmNone:
		return io.NopCloser(src), nil
	case AlgorithmGzip:
		return gzip.NewReader(src)
	case AlgorithmZstd:
		dec, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("chunkwriter: unknown compression algorithm %q", algorithm)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
