package source

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"tilearchive/internal/tile"
)

// LoadMBTiles reads the tiles table of an MBTiles file. Rows are stored in
// TMS order and flipped to XYZ. Name, description and format come from the
// metadata table when present.
func LoadMBTiles(path string) (Tiles, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return Tiles{}, err
	}
	defer db.Close()

	t := Tiles{Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}
	if err := readMetadata(db, &t); err != nil {
		return Tiles{}, fmt.Errorf("mbtiles %s metadata: %w", path, err)
	}

	rows, err := db.Query(`SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles ORDER BY zoom_level, tile_column, tile_row`)
	if err != nil {
		return Tiles{}, fmt.Errorf("mbtiles %s: %w", path, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			z, x, row uint32
			data      []byte
		)
		if err := rows.Scan(&z, &x, &row, &data); err != nil {
			return Tiles{}, err
		}
		if err := tile.CheckZoom(z); err != nil {
			return Tiles{}, err
		}
		if row >= uint32(1)<<z {
			return Tiles{}, fmt.Errorf("mbtiles %s: %w: %d/%d/%d (tms)", path, tile.ErrInvalidCoord, z, x, row)
		}
		c, err := tile.NewCoord(z, x, uint32(1)<<z-1-row)
		if err != nil {
			return Tiles{}, fmt.Errorf("mbtiles %s: %w", path, err)
		}
		t.Records = append(t.Records, tile.Record{Coord: c, Data: data})
	}
	if err := rows.Err(); err != nil {
		return Tiles{}, err
	}
	return t, nil
}

func readMetadata(db *sql.DB, t *Tiles) error {
	rows, err := db.Query(`SELECT name, value FROM metadata`)
	if err != nil {
		// the metadata table is optional
		if strings.Contains(err.Error(), "no such table") {
			return nil
		}
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return err
		}
		switch name {
		case "name":
			t.Name = value
		case "description":
			t.Description = value
		case "format":
			if f, ok := tile.FormatFromExt(value); ok {
				t.Format = f
			}
		}
	}
	return rows.Err()
}
