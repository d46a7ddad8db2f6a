package tile

import (
	"math"
	"slices"
)

// TileBounds returns the geographic extent of a single tile.
func TileBounds(c Coord) Bounds {
	return Bounds{
		West:  TileXToLon(c.X, c.Z),
		South: TileYToLat(c.Y+1, c.Z),
		East:  TileXToLon(c.X+1, c.Z),
		North: TileYToLat(c.Y, c.Z),
	}
}

// CalculateBounds returns the union of the extents of coords.
func CalculateBounds(coords []Coord) (Bounds, error) {
	if len(coords) == 0 {
		return Bounds{}, ErrEmptyInput
	}
	b := Bounds{
		West:  math.Inf(1),
		South: math.Inf(1),
		East:  math.Inf(-1),
		North: math.Inf(-1),
	}
	for _, c := range coords {
		tb := TileBounds(c)
		b.West = math.Min(b.West, tb.West)
		b.South = math.Min(b.South, tb.South)
		b.East = math.Max(b.East, tb.East)
		b.North = math.Max(b.North, tb.North)
	}
	return b, nil
}

// ZoomRange returns the lowest and highest zoom in coords.
func ZoomRange(coords []Coord) (minZoom, maxZoom uint32, err error) {
	if len(coords) == 0 {
		return 0, 0, ErrEmptyInput
	}
	minZoom, maxZoom = coords[0].Z, coords[0].Z
	for _, c := range coords[1:] {
		minZoom = min(minZoom, c.Z)
		maxZoom = max(maxZoom, c.Z)
	}
	return minZoom, maxZoom, nil
}

// ZoomCount is the number of tiles at one zoom.
type ZoomCount struct {
	Zoom  uint32
	Count int
}

// CountByZoom counts coords per zoom, ordered by zoom.
func CountByZoom(coords []Coord) []ZoomCount {
	counts := make(map[uint32]int)
	for _, c := range coords {
		counts[c.Z]++
	}
	out := make([]ZoomCount, 0, len(counts))
	for z, n := range counts {
		out = append(out, ZoomCount{Zoom: z, Count: n})
	}
	slices.SortFunc(out, func(a, b ZoomCount) int { return int(a.Zoom) - int(b.Zoom) })
	return out
}
