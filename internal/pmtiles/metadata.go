package pmtiles

import (
	jsoniter "github.com/json-iterator/go"

	"tilearchive/internal/tile"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// VectorLayer is a TileJSON vector_layers item.
type VectorLayer struct {
	ID      string            `json:"id"`
	Fields  map[string]string `json:"fields"`
	MinZoom int               `json:"minzoom"`
	MaxZoom int               `json:"maxzoom"`
}

// Metadata describes the archive. It feeds both the header (bounds, zoom
// range, tile type) and the embedded JSON document.
type Metadata struct {
	Name         string
	Description  string
	Bounds       tile.Bounds
	MinZoom      uint8
	MaxZoom      uint8
	Type         tile.Type
	Format       tile.Format
	VectorLayers []VectorLayer
}

// JSONMetadata is the embedded metadata document.
type JSONMetadata struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	VectorLayers []VectorLayer `json:"vector_layers,omitempty"`
}

func (m Metadata) document() JSONMetadata {
	doc := JSONMetadata{Name: m.Name, Description: m.Description}
	for _, l := range m.VectorLayers {
		if l.Fields == nil {
			l.Fields = map[string]string{}
		}
		doc.VectorLayers = append(doc.VectorLayers, l)
	}
	return doc
}

func marshalMetadata(m Metadata) ([]byte, error) {
	return json.Marshal(m.document())
}

func unmarshalMetadata(b []byte) (JSONMetadata, map[string]any, error) {
	var doc JSONMetadata
	if err := json.Unmarshal(b, &doc); err != nil {
		return JSONMetadata{}, nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return JSONMetadata{}, nil, err
	}
	return doc, raw, nil
}
