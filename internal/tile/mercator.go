package tile

import (
	"math"

	"github.com/paulmach/orb"
)

// MaxLatitude is the web mercator latitude limit, atan(sinh(pi)) in degrees.
const MaxLatitude = 85.05112877980659

// edgeTolerance is the latitude difference, in degrees, under which lat is
// taken to lie on a row edge. It absorbs the float error of the tan/asinh
// round trip so that the north edge of row y maps back to y.
const edgeTolerance = 1e-11

func gridSize(z uint32) float64 {
	return float64(uint64(1) << z)
}

func clampIndex(v float64, z uint32) uint32 {
	if v < 0 {
		return 0
	}
	last := uint64(1)<<z - 1
	if v >= float64(last) {
		return uint32(last)
	}
	return uint32(v)
}

// ClampLatitude limits lat to the mercator domain.
func ClampLatitude(lat float64) float64 {
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}

// LonToTileX returns the column containing lon at zoom z, clamped to the grid.
func LonToTileX(lon float64, z uint32) uint32 {
	lon = math.Max(-180, math.Min(180, lon))
	return clampIndex(math.Floor((lon+180)/360*gridSize(z)), z)
}

// LatToTileY returns the row containing lat at zoom z, clamped to the grid.
// Latitudes beyond MaxLatitude are clamped first.
func LatToTileY(lat float64, z uint32) uint32 {
	rad := ClampLatitude(lat) * math.Pi / 180
	f := (1 - math.Asinh(math.Tan(rad))/math.Pi) / 2 * gridSize(z)
	row := math.Floor(f)
	if next := math.Round(f); next > row && next >= 0 && next <= gridSize(z) &&
		math.Abs(TileYToLat(uint32(next), z)-ClampLatitude(lat)) < edgeTolerance {
		row = next
	}
	return clampIndex(row, z)
}

// TileXToLon returns the west edge longitude of column x.
func TileXToLon(x, z uint32) float64 {
	return float64(x)/gridSize(z)*360 - 180
}

// TileYToLat returns the north edge latitude of row y.
func TileYToLat(y, z uint32) float64 {
	n := math.Pi - 2*math.Pi*float64(y)/gridSize(z)
	return math.Atan(math.Sinh(n)) * 180 / math.Pi
}

// Bounds is a WGS84 bounding box.
type Bounds struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// BoundsFromOrb converts an orb bound.
func BoundsFromOrb(b orb.Bound) Bounds {
	return Bounds{West: b.Min.Lon(), South: b.Min.Lat(), East: b.Max.Lon(), North: b.Max.Lat()}
}

// Bound converts to an orb bound.
func (b Bounds) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.West, b.South}, Max: orb.Point{b.East, b.North}}
}

// Valid reports west<east and south<north.
func (b Bounds) Valid() bool {
	return b.West < b.East && b.South < b.North
}

// Center returns the (lon, lat) midpoint.
func (b Bounds) Center() orb.Point {
	return b.Bound().Center()
}

// Union returns the smallest bounds containing both.
func (b Bounds) Union(o Bounds) Bounds {
	return BoundsFromOrb(b.Bound().Union(o.Bound()))
}

// Intersects reports whether the bounds overlap or touch.
func (b Bounds) Intersects(o Bounds) bool {
	return b.Bound().Intersects(o.Bound())
}

// Range is the rectangle of tiles covering some bounds at one zoom.
type Range struct {
	Z          uint32
	MinX, MaxX uint32
	MinY, MaxY uint32
}

// RangeForBounds computes the tile rectangle intersecting b at zoom z.
func RangeForBounds(b Bounds, z uint32) (Range, error) {
	if err := CheckZoom(z); err != nil {
		return Range{}, err
	}
	return Range{
		Z:    z,
		MinX: LonToTileX(b.West, z),
		MaxX: LonToTileX(b.East, z),
		MinY: LatToTileY(b.North, z),
		MaxY: LatToTileY(b.South, z),
	}, nil
}

// Count returns the number of tiles in the range.
func (r Range) Count() uint64 {
	if r.MaxX < r.MinX || r.MaxY < r.MinY {
		return 0
	}
	return uint64(r.MaxX-r.MinX+1) * uint64(r.MaxY-r.MinY+1)
}

// Contains reports whether c lies in the range.
func (r Range) Contains(c Coord) bool {
	return c.Z == r.Z && c.X >= r.MinX && c.X <= r.MaxX && c.Y >= r.MinY && c.Y <= r.MaxY
}

// Each calls fn for every tile row by row, stopping when fn returns false.
func (r Range) Each(fn func(Coord) bool) {
	if r.Count() == 0 {
		return
	}
	for y := r.MinY; y <= r.MaxY; y++ {
		for x := r.MinX; x <= r.MaxX; x++ {
			if !fn(Coord{Z: r.Z, X: x, Y: y}) {
				return
			}
		}
	}
}

// Tiles materialises the range in row-major order.
func (r Range) Tiles() []Coord {
	tiles := make([]Coord, 0, r.Count())
	r.Each(func(c Coord) bool {
		tiles = append(tiles, c)
		return true
	})
	return tiles
}

// TilesForBounds lists the tiles intersecting b at zoom z, row by row.
func TilesForBounds(b Bounds, z uint32) ([]Coord, error) {
	r, err := RangeForBounds(b, z)
	if err != nil {
		return nil, err
	}
	return r.Tiles(), nil
}

// CountTilesForBounds is len(TilesForBounds(b, z)) without enumerating.
func CountTilesForBounds(b Bounds, z uint32) (uint64, error) {
	r, err := RangeForBounds(b, z)
	if err != nil {
		return 0, err
	}
	return r.Count(), nil
}
