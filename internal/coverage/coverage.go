// Package coverage compares captured tiles with the full tile pyramid of a
// target area and lists what is missing.
package coverage

import (
	"slices"

	"tilearchive/internal/tile"
)

// ZoomCoverage counts tiles at one zoom level.
type ZoomCoverage struct {
	Captured uint64 `json:"captured"`
	Required uint64 `json:"required"`
	Missing  uint64 `json:"missing"`
}

// Report is the coverage of captured tiles against full coverage of Bounds.
type Report struct {
	Bounds        tile.Bounds             `json:"bounds"`
	ZoomLevels    []uint32                `json:"zoom_levels"`
	PerZoom       map[uint32]ZoomCoverage `json:"per_zoom"`
	TotalCaptured uint64                  `json:"total_captured"`
	TotalRequired uint64                  `json:"total_required"`
	TotalMissing  uint64                  `json:"total_missing"`
	Percent       float64                 `json:"coverage_percent"`
}

// ZoomLevels returns every zoom from the lowest to the highest captured one,
// with the top extended by expandZoom levels and capped at tile.MaxZoom.
// It returns nil when nothing was captured.
func ZoomLevels(captured []tile.Coord, expandZoom uint32) []uint32 {
	minZoom, maxZoom, err := tile.ZoomRange(captured)
	if err != nil {
		return nil
	}
	maxZoom = min(maxZoom+expandZoom, tile.MaxZoom)
	levels := make([]uint32, 0, maxZoom-minZoom+1)
	for z := minZoom; z <= maxZoom; z++ {
		levels = append(levels, z)
	}
	return levels
}

func capturedByZoom(captured []tile.Coord) map[uint32]map[tile.Coord]struct{} {
	byZoom := make(map[uint32]map[tile.Coord]struct{})
	for _, c := range captured {
		set, ok := byZoom[c.Z]
		if !ok {
			set = make(map[tile.Coord]struct{})
			byZoom[c.Z] = set
		}
		set[c] = struct{}{}
	}
	return byZoom
}

// Analyze counts, per zoom level, the distinct captured tiles, the tiles
// needed to cover bounds and the difference, floored at zero. Captured
// tiles outside bounds still count as captured.
func Analyze(captured []tile.Coord, bounds tile.Bounds, zooms []uint32) (Report, error) {
	byZoom := capturedByZoom(captured)
	r := Report{
		Bounds:     bounds,
		ZoomLevels: slices.Clone(zooms),
		PerZoom:    make(map[uint32]ZoomCoverage, len(zooms)),
	}
	for _, z := range zooms {
		required, err := tile.CountTilesForBounds(bounds, z)
		if err != nil {
			return Report{}, err
		}
		zc := ZoomCoverage{
			Captured: uint64(len(byZoom[z])),
			Required: required,
		}
		if zc.Required > zc.Captured {
			zc.Missing = zc.Required - zc.Captured
		}
		r.PerZoom[z] = zc
		r.TotalCaptured += zc.Captured
		r.TotalRequired += zc.Required
		r.TotalMissing += zc.Missing
	}
	r.Percent = 100
	if r.TotalRequired > 0 {
		r.Percent = float64(r.TotalCaptured) / float64(r.TotalRequired) * 100
	}
	return r, nil
}

// FindMissingTiles returns tilesForBounds(bounds, z) minus captured for each
// zoom, ordered by (z, x, y).
func FindMissingTiles(captured []tile.Coord, bounds tile.Bounds, zooms []uint32) ([]tile.Coord, error) {
	byZoom := capturedByZoom(captured)
	var missing []tile.Coord
	for _, z := range dedupZooms(zooms) {
		r, err := tile.RangeForBounds(bounds, z)
		if err != nil {
			return nil, err
		}
		have := byZoom[z]
		r.Each(func(c tile.Coord) bool {
			if _, ok := have[c]; !ok {
				missing = append(missing, c)
			}
			return true
		})
	}
	slices.SortFunc(missing, tile.Coord.Compare)
	return missing, nil
}

func dedupZooms(zooms []uint32) []uint32 {
	out := slices.Clone(zooms)
	slices.Sort(out)
	return slices.Compact(out)
}
