package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"tilearchive/internal/compress"
	"tilearchive/internal/mvt"
	"tilearchive/internal/pmtiles"
	"tilearchive/internal/tile"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var inspectTile string

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.pmtiles>",
	Short: "Print the header, metadata and a tile sample of an archive",
	Long: `Print the header, metadata and a tile sample of an archive as JSON.

Examples:
  tilearchive inspect output/basemap.pmtiles
  tilearchive inspect output/basemap.pmtiles --tile 14/8185/5448`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectTile, "tile", "t", "", "also read one tile, as `z/x/y`")
	rootCmd.AddCommand(inspectCmd)
}

// tileReport describes a single tile read with --tile.
type tileReport struct {
	Tile       string   `json:"tile"`
	Found      bool     `json:"found"`
	Size       int      `json:"size,omitempty"`
	FirstBytes string   `json:"first_bytes,omitempty"`
	Gzipped    bool     `json:"is_gzipped,omitempty"`
	Layers     []string `json:"layers,omitempty"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	out := struct {
		pmtiles.Inspection
		Tile *tileReport `json:"tile,omitempty"`
	}{}

	r, err := pmtiles.Open(args[0])
	if err != nil {
		out.Inspection = pmtiles.Inspection{Error: err.Error()}
	} else {
		defer r.Close()
		out.Inspection = r.Inspect()
		if inspectTile != "" {
			if out.Tile, err = readTile(r, inspectTile); err != nil {
				return err
			}
		}
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	if !out.Valid {
		return errors.New(out.Error)
	}
	return nil
}

func readTile(r *pmtiles.Reader, spec string) (*tileReport, error) {
	c, err := parseCoord(spec)
	if err != nil {
		return nil, err
	}
	data, ok, err := r.GetCoord(c)
	if err != nil {
		return nil, err
	}
	rep := &tileReport{Tile: c.String(), Found: ok}
	if !ok {
		return rep, nil
	}
	rep.Size = len(data)
	rep.FirstBytes = hex.EncodeToString(data[:min(len(data), 16)])
	rep.Gzipped = compress.HasGzipMagic(data)
	if r.Header().TileType == pmtiles.TileTypeMVT {
		rep.Layers = mvt.LayerNames(data)
	}
	return rep, nil
}

func parseCoord(s string) (tile.Coord, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return tile.Coord{}, fmt.Errorf("tile %q: want z/x/y", s)
	}
	var v [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return tile.Coord{}, fmt.Errorf("tile %q: %w", s, err)
		}
		v[i] = uint32(n)
	}
	return tile.NewCoord(v[0], v[1], v[2])
}
