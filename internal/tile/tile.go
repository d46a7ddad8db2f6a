// Package tile holds the web mercator tile pyramid primitives shared by the
// archive, coverage and fetch packages: coordinates, geographic bounds,
// tile ranges and payload records.
package tile

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest zoom level accepted for coordinates.
const MaxZoom = 22

var (
	// ErrCoordinateDomain groups coordinate errors.
	ErrCoordinateDomain = errors.New("coordinate domain")
	// ErrZoomOutOfRange is returned for zoom levels above MaxZoom.
	ErrZoomOutOfRange = fmt.Errorf("%w: zoom out of range [0,%d]", ErrCoordinateDomain, MaxZoom)
	// ErrInvalidCoord is returned when x or y fall outside [0,2^z).
	ErrInvalidCoord = fmt.Errorf("%w: x/y outside the zoom grid", ErrCoordinateDomain)
	// ErrEmptyInput is returned by aggregations over an empty coordinate list.
	ErrEmptyInput = errors.New("no tiles provided")
)

// Coord is a z/x/y tile address. y grows southward.
type Coord struct {
	Z uint32
	X uint32
	Y uint32
}

// NewCoord validates and builds a Coord.
func NewCoord(z, x, y uint32) (Coord, error) {
	if err := CheckZoom(z); err != nil {
		return Coord{}, err
	}
	c := Coord{Z: z, X: x, Y: y}
	if !c.Valid() {
		return Coord{}, fmt.Errorf("%w: %s", ErrInvalidCoord, c)
	}
	return c, nil
}

// CheckZoom returns ErrZoomOutOfRange for z > MaxZoom.
func CheckZoom(z uint32) error {
	if z > MaxZoom {
		return fmt.Errorf("%w: %d", ErrZoomOutOfRange, z)
	}
	return nil
}

// Valid reports whether x and y are inside the grid of the zoom level.
func (c Coord) Valid() bool {
	return c.Z <= MaxZoom && c.Tile().Valid()
}

// Tile converts to an orb maptile.
func (c Coord) Tile() maptile.Tile {
	return maptile.New(c.X, c.Y, maptile.Zoom(c.Z))
}

// FromTile converts an orb maptile.
func FromTile(t maptile.Tile) Coord {
	return Coord{Z: uint32(t.Z), X: t.X, Y: t.Y}
}

func (c Coord) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Less orders coordinates by (z, x, y).
func (c Coord) Less(o Coord) bool {
	if c.Z != o.Z {
		return c.Z < o.Z
	}
	if c.X != o.X {
		return c.X < o.X
	}
	return c.Y < o.Y
}

// Compare is Less as a three-way comparison, for slices.SortFunc.
func (c Coord) Compare(o Coord) int {
	switch {
	case c == o:
		return 0
	case c.Less(o):
		return -1
	default:
		return 1
	}
}

// Record is one tile payload. Data may already be gzip-compressed.
type Record struct {
	Coord Coord
	Data  []byte
}

// Coords returns the coordinates of the records in input order.
func Coords(records []Record) []Coord {
	coords := make([]Coord, len(records))
	for i, r := range records {
		coords[i] = r.Coord
	}
	return coords
}
