// Package compression wraps the codecs used for snapshot manifests and map
// exports. Input is sniffed by magic bytes so plain files pass through.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Type identifies a codec.
type Type uint8

const (
	TypeGzip Type = 0
	TypeZstd Type = 1
	TypeNone Type = 255
)

func (t Type) String() string {
	switch t {
	case TypeZstd:
		return "zstd"
	case TypeGzip:
		return "gzip"
	case TypeNone:
		return "none"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ParseType maps a configuration name to a Type.
func ParseType(name string) (Type, error) {
	switch name {
	case "zstd":
		return TypeZstd, nil
	case "gzip", "gz":
		return TypeGzip, nil
	case "", "none":
		return TypeNone, nil
	default:
		return TypeNone, fmt.Errorf("unknown compression type: %q", name)
	}
}

// Extension returns the conventional file suffix for t, including the dot.
func Extension(t Type) string {
	switch t {
	case TypeZstd:
		return ".zst"
	case TypeGzip:
		return ".gz"
	default:
		return ""
	}
}

// Level trades speed for ratio.
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 3
	LevelBest    Level = 9
)

// Compressor compresses and decompresses whole buffers.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() Type
	Name() string
}

// New creates a compressor by type and level. Callers release it with
// Close.
func New(t Type, level Level) (Compressor, error) {
	switch t {
	case TypeZstd:
		return newZstd(level)
	case TypeGzip:
		return newGzip(level), nil
	case TypeNone:
		return passthrough{}, nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", t)
	}
}

// Close releases the encoder held by c, if any.
func Close(c Compressor) {
	if z, ok := c.(*zstdCodec); ok {
		z.enc.Close()
	}
}

type gzipCodec struct {
	level int
}

func newGzip(level Level) *gzipCodec {
	switch level {
	case LevelFastest:
		return &gzipCodec{level: gzip.BestSpeed}
	case LevelBest:
		return &gzipCodec{level: gzip.BestCompression}
	default:
		return &gzipCodec{level: gzip.DefaultCompression}
	}
}

func (c *gzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *gzipCodec) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (c *gzipCodec) Type() Type   { return TypeGzip }
func (c *gzipCodec) Name() string { return "gzip" }

type zstdCodec struct {
	enc *zstd.Encoder
}

// zstdDecoder is shared; DecodeAll is safe for concurrent use.
var zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
	return zstd.NewReader(nil)
})

func newZstd(level Level) (*zstdCodec, error) {
	speed := zstd.SpeedDefault
	switch level {
	case LevelFastest:
		speed = zstd.SpeedFastest
	case LevelBest:
		speed = zstd.SpeedBestCompression
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(speed))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &zstdCodec{enc: enc}, nil
}

func (c *zstdCodec) Compress(data []byte) ([]byte, error) {
	return c.enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *zstdCodec) Decompress(data []byte) ([]byte, error) {
	return decodeZstd(data)
}

func (c *zstdCodec) Type() Type   { return TypeZstd }
func (c *zstdCodec) Name() string { return "zstd" }

func decodeZstd(data []byte) ([]byte, error) {
	dec, err := zstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return dec.DecodeAll(data, nil)
}

type passthrough struct{}

func (passthrough) Compress(data []byte) ([]byte, error)   { return data, nil }
func (passthrough) Decompress(data []byte) ([]byte, error) { return data, nil }
func (passthrough) Type() Type                             { return TypeNone }
func (passthrough) Name() string                           { return "none" }

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

// DetectType sniffs the codec from magic bytes. Anything unrecognized is
// uncompressed.
func DetectType(data []byte) Type {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return TypeZstd
	case bytes.HasPrefix(data, gzipMagic):
		return TypeGzip
	default:
		return TypeNone
	}
}

// AutoDecompress decompresses data with the codec its magic names.
// Uncompressed input is returned unchanged.
func AutoDecompress(data []byte) ([]byte, error) {
	switch DetectType(data) {
	case TypeZstd:
		return decodeZstd(data)
	case TypeGzip:
		return newGzip(LevelDefault).Decompress(data)
	default:
		return data, nil
	}
}
