package mvt

import (
	"maps"
	"slices"

	"tilearchive/internal/tile"
)

// SampleSize is the number of tiles inspected during layer discovery.
const SampleSize = 10

// Sample picks up to n records spread across zoom levels. Zooms are visited
// in ascending order, one tile per zoom per round, and tiles inside a zoom in
// (x, y) order, so the result does not depend on input order.
func Sample(records []tile.Record, n int) []tile.Record {
	if n <= 0 || len(records) == 0 {
		return nil
	}
	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b tile.Record) int { return a.Coord.Compare(b.Coord) })

	var byZoom [][]tile.Record
	for i, r := range sorted {
		if i == 0 || r.Coord.Z != sorted[i-1].Coord.Z {
			byZoom = append(byZoom, nil)
		}
		byZoom[len(byZoom)-1] = append(byZoom[len(byZoom)-1], r)
	}

	out := make([]tile.Record, 0, min(n, len(records)))
	for round := 0; len(out) < n; round++ {
		added := false
		for _, group := range byZoom {
			if round < len(group) && len(out) < n {
				out = append(out, group[round])
				added = true
			}
		}
		if !added {
			break
		}
	}
	return out
}

// DiscoverLayers returns the distinct layer names found in a sample of the
// records, in order of first appearance.
func DiscoverLayers(records []tile.Record) []string {
	var names []string
	for _, r := range Sample(records, SampleSize) {
		for _, name := range LayerNames(r.Data) {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	return names
}

// DiscoverLayerInfo aggregates layer details over a sample of the records:
// feature counts are summed and field and geometry types merged.
func DiscoverLayerInfo(records []tile.Record) []LayerInfo {
	var order []string
	byName := make(map[string]*LayerInfo)
	for _, r := range Sample(records, SampleSize) {
		for _, l := range Layers(r.Data) {
			agg, ok := byName[l.Name]
			if !ok {
				l.Fields = maps.Clone(l.Fields)
				l.GeometryTypes = slices.Clone(l.GeometryTypes)
				byName[l.Name] = &l
				order = append(order, l.Name)
				continue
			}
			agg.FeatureCount += l.FeatureCount
			for k, v := range l.Fields {
				if _, ok := agg.Fields[k]; !ok {
					agg.Fields[k] = v
				}
			}
			for _, g := range l.GeometryTypes {
				if !slices.Contains(agg.GeometryTypes, g) {
					agg.GeometryTypes = append(agg.GeometryTypes, g)
				}
			}
			slices.Sort(agg.GeometryTypes)
		}
	}
	out := make([]LayerInfo, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out
}
