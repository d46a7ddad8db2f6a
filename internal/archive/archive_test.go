package archive

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilearchive/internal/compress"
	"tilearchive/internal/coverage"
	"tilearchive/internal/fetch"
	"tilearchive/internal/pmtiles"
	"tilearchive/internal/tile"
)

// layerTile encodes a vector tile holding one empty layer.
func layerTile(name string) []byte {
	layer := append([]byte{0x78, 2, 0x0a, byte(len(name))}, name...)
	return append([]byte{0x1a, byte(len(layer))}, layer...)
}

func rec(z, x, y uint32, data []byte) tile.Record {
	return tile.Record{Coord: tile.Coord{Z: z, X: x, Y: y}, Data: data}
}

func quietFetch() fetch.Options {
	return fetch.Options{
		Concurrency: 2,
		RateLimit:   -1,
		MaxRetries:  -1,
		Timeout:     2 * time.Second,
		Backoff:     time.Millisecond,
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"basemap", "basemap"},
		{"My Source!", "My-Source-"},
		{"roads_v2-final", "roads_v2-final"},
		{"a/b.c", "a-b-c"},
		{"", "tiles"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeName(tt.in))
		})
	}
}

func TestBuildRaster(t *testing.T) {
	dir := t.TempDir()
	src := Source{
		Name:   "Aerial Photos",
		Format: tile.PNG,
		Records: []tile.Record{
			rec(10, 512, 340, []byte{0x89, 'P', 'N', 'G', 1}),
			rec(10, 513, 340, []byte{0x89, 'P', 'N', 'G', 2}),
			rec(11, 1024, 680, []byte{0x89, 'P', 'N', 'G', 3}),
		},
	}
	res, err := Build(context.Background(), src, Options{OutputDir: dir})
	require.NoError(t, err)

	assert.Equal(t, "Aerial-Photos", res.Name)
	assert.Equal(t, filepath.Join(dir, "Aerial-Photos.pmtiles"), res.Path)
	assert.Equal(t, tile.Raster, res.Type)
	assert.Equal(t, 3, res.TileCount)
	assert.Equal(t, uint32(10), res.MinZoom)
	assert.Equal(t, uint32(11), res.MaxZoom)
	assert.Empty(t, res.Layers)
	assert.Equal(t, uint64(3), res.Stats.AddressedTiles)
	assert.Equal(t, 3, res.Expansion.OriginalCount)
	assert.Zero(t, res.Expansion.Missing)

	r, err := pmtiles.Open(res.Path)
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, pmtiles.TileTypePNG, r.Header().TileType)

	data, ok, err := r.GetTile(11, 1024, 680)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G', 3}, data)

	meta, _, err := r.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "Aerial-Photos", meta.Name)
	assert.Empty(t, meta.VectorLayers)
}

func TestBuildVectorLayers(t *testing.T) {
	dir := t.TempDir()
	raw := layerTile("roads")
	src := Source{
		Name:    "basemap",
		Type:    tile.Vector,
		URL:     "https://tiles.example.com/{z}/{x}/{y}.pbf",
		Records: []tile.Record{rec(5, 16, 10, raw), rec(6, 33, 21, layerTile("water"))},
	}
	res, err := Build(context.Background(), src, Options{OutputDir: dir})
	require.NoError(t, err)
	assert.Equal(t, tile.PBF, res.Format)
	assert.Equal(t, []string{"roads", "water"}, res.Layers)

	r, err := pmtiles.Open(res.Path)
	require.NoError(t, err)
	defer r.Close()

	data, ok, err := r.GetTile(5, 16, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, compress.IsGzipped(data))
	plain, err := compress.Gunzip(data)
	require.NoError(t, err)
	assert.Equal(t, raw, plain)

	meta, _, err := r.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "Tiles from https://tiles.example.com/{z}/{x}/{y}.pbf", meta.Description)
	require.Len(t, meta.VectorLayers, 2)
	assert.Equal(t, "roads", meta.VectorLayers[0].ID)
	assert.Equal(t, 5, meta.VectorLayers[0].MinZoom)
	assert.Equal(t, 6, meta.VectorLayers[0].MaxZoom)
	assert.NotNil(t, meta.VectorLayers[0].Fields)
}

func TestBuildGapFill(t *testing.T) {
	captured := []tile.Record{rec(2, 2, 1, []byte("captured"))}
	target := tile.Bounds{West: 0.1, South: 0.1, East: 179.9, North: 66}
	zooms := coverage.ZoomLevels(tile.Coords(captured), 1)
	missing, err := coverage.FindMissingTiles(tile.Coords(captured), target, zooms)
	require.NoError(t, err)
	require.Greater(t, len(missing), 2)
	gone := fmt.Sprintf("/%d/%d/%d.png", missing[0].Z, missing[0].X, missing[0].Y)

	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.URL.Path == gone {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("fetched" + r.URL.Path))
	}))
	defer srv.Close()

	out, cache := t.TempDir(), t.TempDir()
	src := Source{
		Name:    "sat",
		Format:  tile.PNG,
		URL:     tile.URLTemplate(srv.URL + "/{z}/{x}/{y}.png"),
		Records: captured,
	}
	res, err := Build(context.Background(), src, Options{
		OutputDir:  out,
		Bounds:     &target,
		ExpandZoom: 1,
		GapFill:    true,
		CacheDir:   cache,
		Fetch:      quietFetch(),
	})
	require.NoError(t, err)

	assert.Equal(t, int32(len(missing)), requests.Load())
	assert.Equal(t, len(missing), res.Expansion.Missing)
	assert.Equal(t, len(missing)-1, res.Expansion.Fetched)
	assert.Equal(t, 1, res.Expansion.NotFound)
	assert.Zero(t, res.Expansion.Failed)
	assert.Len(t, res.Expansion.Errors, 1)
	assert.Equal(t, len(missing), res.TileCount)
	assert.Equal(t, uint32(3), res.MaxZoom)

	r, err := pmtiles.Open(res.Path)
	require.NoError(t, err)
	defer r.Close()
	data, ok, err := r.GetCoord(tile.Coord{Z: 2, X: 2, Y: 1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("captured"), data)

	last := missing[len(missing)-1]
	data, ok, err = r.GetCoord(last)
	require.NoError(t, err)
	require.True(t, ok)
	want := fmt.Sprintf("fetched/%d/%d/%d.png", last.Z, last.X, last.Y)
	assert.Equal(t, []byte(want), data)

	_, ok, err = r.GetCoord(missing[0])
	require.NoError(t, err)
	assert.False(t, ok)

	cached, err := os.ReadFile(filepath.Join(cache, "sat", fmt.Sprint(last.Z), fmt.Sprint(last.X), fmt.Sprintf("%d.png", last.Y)))
	require.NoError(t, err)
	assert.Equal(t, []byte(want), cached)
}

func TestBuildGapFillRegion(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	captured := []tile.Record{rec(4, 8, 5, []byte("c"))}
	region := orb.Point{30, 30}
	res, err := Build(context.Background(), Source{
		Name:    "pt",
		Format:  tile.WEBP,
		URL:     tile.URLTemplate(srv.URL + "/{z}/{x}/{y}.webp"),
		Records: captured,
	}, Options{OutputDir: t.TempDir(), Region: region, GapFill: true, Fetch: quietFetch()})
	require.NoError(t, err)

	want, err := coverage.FindMissingTilesInGeometry(tile.Coords(captured), region, []uint32{4})
	require.NoError(t, err)
	assert.Equal(t, len(want), res.Expansion.Missing)
	assert.Equal(t, int32(len(want)), requests.Load())
}

func TestBuildCancelledKeepsCaptured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target := tile.Bounds{West: 0.1, South: 0.1, East: 179.9, North: 66}
	res, err := Build(ctx, Source{
		Name:    "sat",
		Format:  tile.JPG,
		URL:     tile.URLTemplate(srv.URL + "/{z}/{x}/{y}.jpg"),
		Records: []tile.Record{rec(2, 2, 1, []byte("c"))},
	}, Options{OutputDir: t.TempDir(), Bounds: &target, GapFill: true, Fetch: quietFetch()})
	require.NoError(t, err)

	assert.Positive(t, res.Expansion.Missing)
	assert.Equal(t, res.Expansion.Missing, res.Expansion.Failed)
	assert.Zero(t, res.Expansion.Fetched)
	assert.Equal(t, 1, res.TileCount)
	assert.FileExists(t, res.Path)
}

func TestBuildErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Build(context.Background(), Source{Name: "empty", Format: tile.PNG}, Options{OutputDir: dir})
	assert.ErrorIs(t, err, tile.ErrEmptyInput)

	_, err = Build(context.Background(), Source{Name: "raw", Records: []tile.Record{rec(1, 0, 0, []byte("a"))}}, Options{OutputDir: dir})
	assert.Error(t, err)

	_, err = Build(context.Background(), Source{
		Name:    "badurl",
		Format:  tile.PNG,
		URL:     "https://tiles.example.com/{z}/{x}.png",
		Records: []tile.Record{rec(1, 0, 0, []byte("a"))},
	}, Options{OutputDir: dir, GapFill: true})
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "badurl.pmtiles"))

	_, err = Build(context.Background(), Source{
		Name:    "badcoord",
		Format:  tile.PNG,
		Records: []tile.Record{rec(2, 9, 0, []byte("a"))},
	}, Options{OutputDir: dir})
	assert.ErrorIs(t, err, tile.ErrInvalidCoord)
	assert.NoFileExists(t, filepath.Join(dir, "badcoord.pmtiles"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
