package tile

import (
	"strconv"
	"strings"
)

// Type is the broad tile kind.
type Type string

const (
	Vector Type = "vector"
	Raster Type = "raster"
)

// Format is the payload encoding as seen in tile URLs.
type Format string

// Tile formats
const (
	PBF  Format = "pbf"
	MVT  Format = "mvt"
	PNG  Format = "png"
	JPG  Format = "jpg"
	JPEG Format = "jpeg"
	WEBP Format = "webp"
)

// FormatFromExt maps a file extension (with or without the dot) to a Format.
// The second value is false for unknown extensions.
func FormatFromExt(ext string) (Format, bool) {
	f := Format(strings.ToLower(strings.TrimPrefix(ext, ".")))
	switch f {
	case PBF, MVT, PNG, JPG, JPEG, WEBP:
		return f, true
	}
	return "", false
}

// Type returns Vector for pbf/mvt and Raster for everything else.
func (f Format) Type() Type {
	if f == PBF || f == MVT {
		return Vector
	}
	return Raster
}

// URLTemplate is a tile URL with {z}, {x} and {y} placeholders.
type URLTemplate string

// Expand substitutes the coordinate into the template.
func (t URLTemplate) Expand(c Coord) string {
	url := strings.ReplaceAll(string(t), "{x}", strconv.FormatUint(uint64(c.X), 10))
	url = strings.ReplaceAll(url, "{y}", strconv.FormatUint(uint64(c.Y), 10))
	url = strings.ReplaceAll(url, "{z}", strconv.FormatUint(uint64(c.Z), 10))
	return url
}

// Valid reports whether all three placeholders are present.
func (t URLTemplate) Valid() bool {
	s := string(t)
	return strings.Contains(s, "{z}") && strings.Contains(s, "{x}") && strings.Contains(s, "{y}")
}
