package mvt

import (
	"slices"

	"tilearchive/internal/compress"
)

const (
	minHeuristicLen = 3
	maxHeuristicLen = 60
)

// Strings that look like identifiers but are font, literal or property
// names rather than layers.
var notLayerNames = map[string]struct{}{
	"Arial": {}, "Helvetica": {}, "Sans": {}, "Bold": {}, "Regular": {}, "Medium": {},
	"true": {}, "false": {}, "null": {}, "undefined": {},
	"name": {}, "class": {}, "type": {}, "id": {},
}

// HeuristicLayerNames scans for length-prefixed ASCII identifiers. It is a
// fallback for payloads the protobuf walk cannot read and may report
// property keys as well as layer names. Results are sorted.
func HeuristicLayerNames(data []byte) []string {
	content := compress.MaybeGunzip(data)
	seen := make(map[string]struct{})
	for i := 0; i+2 < len(content); i++ {
		n := int(content[i])
		if n < 2 || n > maxHeuristicLen {
			continue
		}
		end := i + 1 + n
		if end > len(content) {
			continue
		}
		candidate := string(content[i+1 : end])
		if looksLikeLayerName(candidate) {
			seen[candidate] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func looksLikeLayerName(s string) bool {
	if len(s) < minHeuristicLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		letter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if i == 0 && !letter {
			return false
		}
		if !letter && (c < '0' || c > '9') {
			return false
		}
	}
	_, rejected := notLayerNames[s]
	return !rejected
}
