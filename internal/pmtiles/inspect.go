package pmtiles

import (
	"encoding/hex"
	"errors"

	"tilearchive/internal/compress"
	"tilearchive/internal/tile"
)

const sampleBytes = 10

var errStopWalk = errors.New("stop walk")

// TileSample describes the first tile of an archive.
type TileSample struct {
	TileID     uint64 `json:"tile_id"`
	Z          uint8  `json:"z"`
	X          uint32 `json:"x"`
	Y          uint32 `json:"y"`
	Size       int    `json:"size"`
	FirstBytes string `json:"first_bytes"`
	Gzipped    bool   `json:"is_gzipped"`
	// DoubleCompressed is set when the payload still is gzip after one
	// round of decompression.
	DoubleCompressed bool `json:"double_compressed"`
}

// Center is the header center position.
type Center struct {
	Lon  float64 `json:"lon"`
	Lat  float64 `json:"lat"`
	Zoom uint8   `json:"zoom"`
}

// Inspection is a diagnostic summary of an archive. A file that cannot be
// read yields Valid false and Error set, never a Go error.
type Inspection struct {
	Valid           bool           `json:"valid"`
	Error           string         `json:"error,omitempty"`
	TileType        string         `json:"tile_type,omitempty"`
	TileCompression string         `json:"tile_compression,omitempty"`
	MinZoom         uint8          `json:"min_zoom"`
	MaxZoom         uint8          `json:"max_zoom"`
	Bounds          tile.Bounds    `json:"bounds"`
	Center          Center         `json:"center"`
	TileCount       uint64         `json:"tile_count"`
	TileEntries     uint64         `json:"tile_entries"`
	TileContents    uint64         `json:"tile_contents"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Sample          *TileSample    `json:"sample_tile,omitempty"`
	SampleError     string         `json:"sample_error,omitempty"`
}

// Inspect opens the archive at path and summarises it.
func Inspect(path string) Inspection {
	r, err := Open(path)
	if err != nil {
		return Inspection{Error: err.Error()}
	}
	defer r.Close()
	return r.Inspect()
}

// Inspect summarises the archive: header fields, metadata and a sample of
// the first stored tile.
func (r *Reader) Inspect() Inspection {
	h := r.header
	lon, lat := h.Center()
	in := Inspection{
		Valid:           true,
		TileType:        h.TileType.String(),
		TileCompression: h.TileCompression.String(),
		MinZoom:         h.MinZoom,
		MaxZoom:         h.MaxZoom,
		Bounds:          h.Bounds(),
		Center:          Center{Lon: lon, Lat: lat, Zoom: h.CenterZoom},
		TileCount:       h.AddressedTilesCount,
		TileEntries:     h.TileEntriesCount,
		TileContents:    h.TileContentsCount,
	}

	if _, raw, err := r.Metadata(); err == nil {
		in.Metadata = raw
	} else {
		in.Metadata = map[string]any{}
	}

	err := r.Walk(func(e Entry) error {
		data, err := r.readAt(h.TileDataOffset+e.Offset, uint64(e.Length))
		if err != nil {
			return err
		}
		z, x, y, err := IDToZxy(e.TileID)
		if err != nil {
			return err
		}
		in.Sample = sampleOf(e.TileID, z, x, y, data)
		return errStopWalk
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		in.SampleError = err.Error()
	}
	return in
}

func sampleOf(id uint64, z uint8, x, y uint32, data []byte) *TileSample {
	s := &TileSample{
		TileID:     id,
		Z:          z,
		X:          x,
		Y:          y,
		Size:       len(data),
		FirstBytes: hex.EncodeToString(data[:min(len(data), sampleBytes)]),
		Gzipped:    compress.HasGzipMagic(data),
	}
	if s.Gzipped {
		if inner, err := compress.Gunzip(data); err == nil {
			s.DoubleCompressed = compress.HasGzipMagic(inner)
		}
	}
	return s
}
