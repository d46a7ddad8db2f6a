package coverage

import (
	"fmt"
	"os"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"

	"tilearchive/internal/tile"
)

// LoadRegion reads a GeoJSON FeatureCollection and returns the geometries of
// its features together with their combined bounds.
func LoadRegion(path string) (orb.Collection, tile.Bounds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, tile.Bounds{}, fmt.Errorf("read region: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, tile.Bounds{}, fmt.Errorf("unmarshal region %s: %w", path, err)
	}

	var collection orb.Collection
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		collection = append(collection, f.Geometry)
	}
	if len(collection) == 0 {
		return nil, tile.Bounds{}, fmt.Errorf("region %s: %w", path, tile.ErrEmptyInput)
	}
	return collection, tile.BoundsFromOrb(collection.Bound()), nil
}

// FindMissingTilesInGeometry is FindMissingTiles for an arbitrary region:
// the required tiles per zoom are the tile cover of g.
func FindMissingTilesInGeometry(captured []tile.Coord, g orb.Geometry, zooms []uint32) ([]tile.Coord, error) {
	byZoom := capturedByZoom(captured)
	var missing []tile.Coord
	for _, z := range dedupZooms(zooms) {
		if err := tile.CheckZoom(z); err != nil {
			return nil, err
		}
		set, err := tilecover.Geometry(g, maptile.Zoom(z))
		if err != nil {
			return nil, fmt.Errorf("tile cover at zoom %d: %w", z, err)
		}
		have := byZoom[z]
		for t := range set {
			c := tile.FromTile(t)
			if _, ok := have[c]; !ok {
				missing = append(missing, c)
			}
		}
	}
	slices.SortFunc(missing, tile.Coord.Compare)
	return missing, nil
}

// CountTilesInGeometry returns the size of the tile cover of g at zoom z.
func CountTilesInGeometry(g orb.Geometry, z uint32) (uint64, error) {
	if err := tile.CheckZoom(z); err != nil {
		return 0, err
	}
	set, err := tilecover.Geometry(g, maptile.Zoom(z))
	if err != nil {
		return 0, err
	}
	return uint64(len(set)), nil
}
