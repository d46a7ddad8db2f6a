// Package mvt recovers layer metadata from Mapbox Vector Tiles by walking the
// protobuf wire format directly. No generated schema code is involved; the
// walker understands the handful of Tile/Layer/Feature/Value fields it needs
// and skips everything else by wire type.
//
// Parsing is best effort. Truncated or malformed input yields whatever was
// decoded before the damage and never returns an error.
package mvt

import (
	"slices"
	"unicode/utf8"

	"tilearchive/internal/compress"
)

// Tile, Layer, Feature and Value field numbers from the MVT 2.1 schema.
const (
	tileLayers = 3

	layerName     = 1
	layerFeatures = 2
	layerKeys     = 3
	layerValues   = 4
	layerExtent   = 5
	layerVersion  = 15

	featureTags = 2
	featureType = 3

	valueString = 1
	valueFloat  = 2
	valueDouble = 3
	valueInt    = 4
	valueUint   = 5
	valueSint   = 6
	valueBool   = 7
)

// Field types as written to TileJSON vector_layers.
const (
	FieldString  = "String"
	FieldNumber  = "Number"
	FieldBoolean = "Boolean"
)

var geometryNames = map[uint64]string{
	1: "Point",
	2: "LineString",
	3: "Polygon",
}

// LayerInfo describes one layer of a tile.
type LayerInfo struct {
	Name          string
	Version       uint32
	Extent        uint32
	FeatureCount  int
	Fields        map[string]string
	GeometryTypes []string
}

// Layers decodes the layers of a tile. Gzip-wrapped input is decompressed
// first. Layers without a readable name are dropped.
func Layers(data []byte) []LayerInfo {
	r := newWireReader(compress.MaybeGunzip(data))
	var layers []LayerInfo
	for !r.done() {
		field, wt, ok := r.next()
		if !ok {
			break
		}
		if field == tileLayers && wt == wireBytes {
			msg, ok := r.bytes()
			if !ok {
				break
			}
			if info, ok := parseLayer(msg); ok {
				layers = append(layers, info)
			}
			continue
		}
		if !r.skip(wt) {
			break
		}
	}
	return layers
}

// LayerNames returns the distinct layer names of a tile in order of
// appearance. When the protobuf walk finds nothing, the printable identifier
// scan of HeuristicLayerNames is used instead.
func LayerNames(data []byte) []string {
	var names []string
	for _, l := range Layers(data) {
		if !slices.Contains(names, l.Name) {
			names = append(names, l.Name)
		}
	}
	if len(names) == 0 {
		return HeuristicLayerNames(data)
	}
	return names
}

type feature struct {
	tags     []uint64
	geomType uint64
}

func parseLayer(msg []byte) (LayerInfo, bool) {
	info := LayerInfo{Version: 1, Extent: 4096}
	var (
		keys     []string
		values   []string
		features []feature
	)
	r := newWireReader(msg)
	for !r.done() {
		field, wt, ok := r.next()
		if !ok {
			break
		}
		switch {
		case field == layerName && wt == wireBytes:
			b, ok := r.bytes()
			if !ok {
				break
			}
			if utf8.Valid(b) {
				info.Name = string(b)
			}
			continue
		case field == layerFeatures && wt == wireBytes:
			b, ok := r.bytes()
			if !ok {
				break
			}
			features = append(features, parseFeature(b))
			continue
		case field == layerKeys && wt == wireBytes:
			b, ok := r.bytes()
			if !ok {
				break
			}
			keys = append(keys, string(b))
			continue
		case field == layerValues && wt == wireBytes:
			b, ok := r.bytes()
			if !ok {
				break
			}
			values = append(values, valueType(b))
			continue
		case field == layerExtent && wt == wireVarint:
			v, ok := r.varint()
			if !ok {
				break
			}
			info.Extent = uint32(v)
			continue
		case field == layerVersion && wt == wireVarint:
			v, ok := r.varint()
			if !ok {
				break
			}
			info.Version = uint32(v)
			continue
		default:
			if r.skip(wt) {
				continue
			}
		}
		// a read above failed
		break
	}
	if info.Name == "" {
		return info, false
	}

	info.FeatureCount = len(features)
	info.Fields = make(map[string]string)
	for _, f := range features {
		if name, ok := geometryNames[f.geomType]; ok && !slices.Contains(info.GeometryTypes, name) {
			info.GeometryTypes = append(info.GeometryTypes, name)
		}
		for i := 0; i+1 < len(f.tags); i += 2 {
			k, v := f.tags[i], f.tags[i+1]
			if k >= uint64(len(keys)) {
				continue
			}
			typ := FieldString
			if v < uint64(len(values)) && values[v] != "" {
				typ = values[v]
			}
			if _, seen := info.Fields[keys[k]]; !seen {
				info.Fields[keys[k]] = typ
			}
		}
	}
	slices.Sort(info.GeometryTypes)
	return info, true
}

func parseFeature(msg []byte) feature {
	var f feature
	r := newWireReader(msg)
	for !r.done() {
		field, wt, ok := r.next()
		if !ok {
			return f
		}
		switch {
		case field == featureTags && wt == wireBytes:
			b, ok := r.bytes()
			if !ok {
				return f
			}
			f.tags, _ = packedVarints(b)
		case field == featureType && wt == wireVarint:
			v, ok := r.varint()
			if !ok {
				return f
			}
			f.geomType = v
		default:
			if !r.skip(wt) {
				return f
			}
		}
	}
	return f
}

// valueType maps a Value message to its TileJSON field type, or "" when the
// message holds no known value.
func valueType(msg []byte) string {
	r := newWireReader(msg)
	for !r.done() {
		field, wt, ok := r.next()
		if !ok {
			return ""
		}
		switch field {
		case valueString:
			return FieldString
		case valueFloat, valueDouble, valueInt, valueUint, valueSint:
			return FieldNumber
		case valueBool:
			return FieldBoolean
		}
		if !r.skip(wt) {
			return ""
		}
	}
	return ""
}
