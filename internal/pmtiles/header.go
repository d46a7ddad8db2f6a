package pmtiles

import (
	"encoding/binary"
	"fmt"

	"tilearchive/internal/compress"
	"tilearchive/internal/tile"
)

const (
	// HeaderSize is the fixed size of a v3 header.
	HeaderSize = 127
	// Version is the archive version written and accepted.
	Version = 3
	// MaxRootSize bounds header plus root directory, so that a reader can
	// fetch both with one request.
	MaxRootSize = 16384
)

var magic = []byte("PMTiles")

// TileType is the PMTiles tile type code.
type TileType uint8

const (
	TileTypeUnknown TileType = 0x0
	TileTypeMVT     TileType = 0x1
	TileTypePNG     TileType = 0x2
	TileTypeJPEG    TileType = 0x3
	TileTypeWebP    TileType = 0x4
	TileTypeAVIF    TileType = 0x5
)

func (t TileType) String() string {
	switch t {
	case TileTypeMVT:
		return "mvt"
	case TileTypePNG:
		return "png"
	case TileTypeJPEG:
		return "jpeg"
	case TileTypeWebP:
		return "webp"
	case TileTypeAVIF:
		return "avif"
	default:
		return "unknown"
	}
}

// TileTypeFor picks the header tile type for a source. Vector sources are
// always MVT; unknown raster formats fall back to PNG.
func TileTypeFor(typ tile.Type, format tile.Format) TileType {
	if typ == tile.Vector {
		return TileTypeMVT
	}
	switch format {
	case tile.JPG, tile.JPEG:
		return TileTypeJPEG
	case tile.WEBP:
		return TileTypeWebP
	default:
		return TileTypePNG
	}
}

// Header is the fixed 127 byte archive header. Offsets are absolute file
// positions; coordinates are degrees scaled by 1e7.
type Header struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression compress.Type
	TileCompression     compress.Type
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// E7 scales degrees to the header's fixed point representation.
func E7(deg float64) int32 {
	return int32(deg * 1e7)
}

// Bounds returns the header bounding box in degrees.
func (h Header) Bounds() tile.Bounds {
	return tile.Bounds{
		West:  float64(h.MinLonE7) / 1e7,
		South: float64(h.MinLatE7) / 1e7,
		East:  float64(h.MaxLonE7) / 1e7,
		North: float64(h.MaxLatE7) / 1e7,
	}
}

// Center returns the header center as lon, lat in degrees.
func (h Header) Center() (lon, lat float64) {
	return float64(h.CenterLonE7) / 1e7, float64(h.CenterLatE7) / 1e7
}

// MarshalBinary serialises the header.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	copy(b[0:7], magic)
	b[7] = Version
	le := binary.LittleEndian
	le.PutUint64(b[8:], h.RootOffset)
	le.PutUint64(b[16:], h.RootLength)
	le.PutUint64(b[24:], h.MetadataOffset)
	le.PutUint64(b[32:], h.MetadataLength)
	le.PutUint64(b[40:], h.LeafDirectoryOffset)
	le.PutUint64(b[48:], h.LeafDirectoryLength)
	le.PutUint64(b[56:], h.TileDataOffset)
	le.PutUint64(b[64:], h.TileDataLength)
	le.PutUint64(b[72:], h.AddressedTilesCount)
	le.PutUint64(b[80:], h.TileEntriesCount)
	le.PutUint64(b[88:], h.TileContentsCount)
	if h.Clustered {
		b[96] = 0x1
	}
	b[97] = uint8(h.InternalCompression)
	b[98] = uint8(h.TileCompression)
	b[99] = uint8(h.TileType)
	b[100] = h.MinZoom
	b[101] = h.MaxZoom
	le.PutUint32(b[102:], uint32(h.MinLonE7))
	le.PutUint32(b[106:], uint32(h.MinLatE7))
	le.PutUint32(b[110:], uint32(h.MaxLonE7))
	le.PutUint32(b[114:], uint32(h.MaxLatE7))
	b[118] = h.CenterZoom
	le.PutUint32(b[119:], uint32(h.CenterLonE7))
	le.PutUint32(b[123:], uint32(h.CenterLatE7))
	return b, nil
}

// ParseHeader validates magic and version and decodes a header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header is %d bytes, want %d", ErrInvalidFormat, len(b), HeaderSize)
	}
	if string(b[0:7]) != string(magic) {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrInvalidFormat, b[0:7])
	}
	if b[7] != Version {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidFormat, b[7])
	}
	le := binary.LittleEndian
	return Header{
		SpecVersion:         b[7],
		RootOffset:          le.Uint64(b[8:]),
		RootLength:          le.Uint64(b[16:]),
		MetadataOffset:      le.Uint64(b[24:]),
		MetadataLength:      le.Uint64(b[32:]),
		LeafDirectoryOffset: le.Uint64(b[40:]),
		LeafDirectoryLength: le.Uint64(b[48:]),
		TileDataOffset:      le.Uint64(b[56:]),
		TileDataLength:      le.Uint64(b[64:]),
		AddressedTilesCount: le.Uint64(b[72:]),
		TileEntriesCount:    le.Uint64(b[80:]),
		TileContentsCount:   le.Uint64(b[88:]),
		Clustered:           b[96] == 0x1,
		InternalCompression: compress.Type(b[97]),
		TileCompression:     compress.Type(b[98]),
		TileType:            TileType(b[99]),
		MinZoom:             b[100],
		MaxZoom:             b[101],
		MinLonE7:            int32(le.Uint32(b[102:])),
		MinLatE7:            int32(le.Uint32(b[106:])),
		MaxLonE7:            int32(le.Uint32(b[110:])),
		MaxLatE7:            int32(le.Uint32(b[114:])),
		CenterZoom:          b[118],
		CenterLonE7:         int32(le.Uint32(b[119:])),
		CenterLatE7:         int32(le.Uint32(b[123:])),
	}, nil
}
