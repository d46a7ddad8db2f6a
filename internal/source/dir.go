// Package source loads captured tiles from disk: z/x/y directory trees and
// MBTiles files. It also writes fetched tiles back as a directory tree.
package source

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"tilearchive/internal/tile"
)

// Tiles is a loaded tile set.
type Tiles struct {
	Name        string
	Description string
	Format      tile.Format
	Records     []tile.Record
}

// Load reads path as an MBTiles file when it has the .mbtiles extension and
// as a z/x/y directory tree otherwise.
func Load(path string) (Tiles, error) {
	if strings.EqualFold(filepath.Ext(path), ".mbtiles") {
		return LoadMBTiles(path)
	}
	return LoadDir(path)
}

// LoadDir reads every root/z/x/y.ext file with a known tile extension.
// Other files are ignored. Records are ordered by (z, x, y); the format is
// the one of the first tile found.
func LoadDir(root string) (Tiles, error) {
	t := Tiles{Name: filepath.Base(root)}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		c, format, ok := parseTilePath(rel)
		if !ok {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if t.Format == "" {
			t.Format = format
		}
		t.Records = append(t.Records, tile.Record{Coord: c, Data: data})
		return nil
	})
	if err != nil {
		return Tiles{}, fmt.Errorf("load tiles from %s: %w", root, err)
	}
	slices.SortFunc(t.Records, func(a, b tile.Record) int {
		return a.Coord.Compare(b.Coord)
	})
	return t, nil
}

func parseTilePath(rel string) (tile.Coord, tile.Format, bool) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 {
		return tile.Coord{}, "", false
	}
	ext := filepath.Ext(parts[2])
	format, ok := tile.FormatFromExt(ext)
	if !ok {
		return tile.Coord{}, "", false
	}
	var v [3]uint32
	for i, s := range []string{parts[0], parts[1], strings.TrimSuffix(parts[2], ext)} {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return tile.Coord{}, "", false
		}
		v[i] = uint32(n)
	}
	c, err := tile.NewCoord(v[0], v[1], v[2])
	if err != nil {
		return tile.Coord{}, "", false
	}
	return c, format, true
}

// SaveTile writes rec to root/z/x/y.format.
func SaveTile(root string, rec tile.Record, format tile.Format) error {
	dir := filepath.Join(root, strconv.FormatUint(uint64(rec.Coord.Z), 10), strconv.FormatUint(uint64(rec.Coord.X), 10))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(dir, fmt.Sprintf("%d.%s", rec.Coord.Y, format))
	return os.WriteFile(name, rec.Data, 0o644)
}
