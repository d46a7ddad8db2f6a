// Package compress provides the payload codecs used inside tile archives.
//
// Only the "none" and "gzip" codecs are implemented. The other PMTiles codes
// are recognised so that readers can report them, and CreateCodec returns an
// UnsupportedCompressionError for them.
package compress

import "fmt"

// Type is a PMTiles v3 compression code.
type Type uint8

const (
	TypeUnknown Type = 0x0 // TypeUnknown means the writer did not record a codec.
	TypeNone    Type = 0x1 // TypeNone stores bytes as they are.
	TypeGzip    Type = 0x2 // TypeGzip is RFC 1952 gzip.
	TypeBrotli  Type = 0x3 // TypeBrotli is recognised but not supported.
	TypeZstd    Type = 0x4 // TypeZstd is recognised but not supported.
)

func (t Type) String() string {
	switch t {
	case TypeUnknown:
		return "unknown"
	case TypeNone:
		return "none"
	case TypeGzip:
		return "gzip"
	case TypeBrotli:
		return "brotli"
	case TypeZstd:
		return "zstd"
	default:
		return fmt.Sprintf("0x%02x", uint8(t))
	}
}

// Codec compresses and decompresses whole buffers.
//
// Implementations are stateless and safe for concurrent use. Returned slices
// are owned by the caller; inputs are never modified.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Type() Type
}

// UnsupportedCompressionError names a compression code this package cannot handle.
type UnsupportedCompressionError struct {
	Type Type
}

func (e *UnsupportedCompressionError) Error() string {
	return fmt.Sprintf("unsupported compression %s (code %d)", e.Type, uint8(e.Type))
}

// CreateCodec returns the codec for t.
func CreateCodec(t Type) (Codec, error) {
	switch t {
	case TypeNone:
		return noopCodec{}, nil
	case TypeGzip:
		return gzipCodec{}, nil
	default:
		return nil, &UnsupportedCompressionError{Type: t}
	}
}

type noopCodec struct{}

func (noopCodec) Compress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (noopCodec) Decompress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (noopCodec) Type() Type { return TypeNone }
