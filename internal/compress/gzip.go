package compress

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

var gzipMagic = []byte{0x1f, 0x8b}

type gzipCodec struct{}

func (gzipCodec) Compress(data []byte) ([]byte, error) { return Gzip(data) }

func (gzipCodec) Decompress(data []byte) ([]byte, error) { return Gunzip(data) }

func (gzipCodec) Type() Type { return TypeGzip }

// HasGzipMagic reports whether data starts with the gzip magic bytes.
func HasGzipMagic(data []byte) bool {
	return bytes.HasPrefix(data, gzipMagic)
}

// IsGzipped reports whether data is a complete, valid gzip stream.
func IsGzipped(data []byte) bool {
	if !HasGzipMagic(data) {
		return false
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return false
	}
	defer zr.Close()
	_, err = io.Copy(io.Discard, zr)
	return err == nil
}

// Gzip compresses data with the default level.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Gunzip decompresses a gzip stream.
func Gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// EnsureGzipped returns data unchanged when it already is a valid gzip
// stream and a gzip-compressed copy otherwise. It never compresses twice,
// so EnsureGzipped(EnsureGzipped(x)) equals EnsureGzipped(x).
func EnsureGzipped(data []byte) ([]byte, error) {
	if IsGzipped(data) {
		return data, nil
	}
	return Gzip(data)
}

// MaybeGunzip decompresses data carrying the gzip magic and returns
// anything else unchanged. Broken gzip input is returned as is.
func MaybeGunzip(data []byte) []byte {
	if !HasGzipMagic(data) {
		return data
	}
	out, err := Gunzip(data)
	if err != nil {
		return data
	}
	return out
}
