package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilearchive/internal/config"
	"tilearchive/internal/fetch"
	"tilearchive/internal/pmtiles"
	"tilearchive/internal/source"
	"tilearchive/internal/tile"
)

func TestPackCommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "captured")
	for _, c := range []tile.Coord{{Z: 4, X: 8, Y: 5}, {Z: 4, X: 9, Y: 5}} {
		rec := tile.Record{Coord: c, Data: []byte(c.String())}
		require.NoError(t, source.SaveTile(input, rec, tile.PNG))
	}

	output := filepath.Join(dir, "out")
	cfg := filepath.Join(dir, "conf.toml")
	toml := fmt.Sprintf(`
[output]
directory = %q
outputTerminal = false

[coverage]
gapFill = false

[[sources]]
name = "aerial"
input = %q
url = "https://tiles.example.com/{z}/{x}/{y}.png"

[[sources]]
name = "skipped"
input = "does-not-matter"
`, output, input)
	require.NoError(t, os.WriteFile(cfg, []byte(toml), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"pack", "-c", cfg, "--source", "aerial", "--no-progress"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		packSources, packNoBar = nil, false
	})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "aerial")

	r, err := pmtiles.Open(filepath.Join(output, "aerial.pmtiles"))
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, pmtiles.TileTypePNG, r.Header().TileType)
	data, ok, err := r.GetTile(4, 9, 5)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("4/9/5"), data)
	assert.NoFileExists(t, filepath.Join(output, "skipped.pmtiles"))
}

func TestPackCommandMissingInput(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "conf.toml")
	toml := fmt.Sprintf(`
[output]
directory = %q
outputTerminal = false

[[sources]]
name = "ghost"
input = %q
format = "png"
`, filepath.Join(dir, "out"), filepath.Join(dir, "nowhere"))
	require.NoError(t, os.WriteFile(cfg, []byte(toml), 0o644))

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"pack", "-c", cfg, "--no-progress"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		packNoBar = false
	})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestFetchOptionsZeroMeansNone(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "conf.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("[task]\nmaxRetries = 0\nrateLimit = 0\nbackoff = \"1ms\"\n"), 0o644))
	conf, err := config.Load(cfg)
	require.NoError(t, err)

	opts := fetchOptions(conf, logrus.StandardLogger())
	assert.Equal(t, -1, opts.MaxRetries)
	assert.Equal(t, -1.0, opts.RateLimit)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	out := fetch.New(opts).Fetch(context.Background(), tile.URLTemplate(srv.URL+"/{z}/{x}/{y}.png"), []tile.Coord{{Z: 1, X: 0, Y: 0}})
	require.Len(t, out, 1)
	assert.Equal(t, fetch.StatusTransientError, out[0].Status)
	assert.Equal(t, 1, out[0].Attempts)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchOptionsKeepsConfiguredDefaults(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "conf.toml")
	require.NoError(t, os.WriteFile(cfg, []byte("[app]\n"), 0o644))
	conf, err := config.Load(cfg)
	require.NoError(t, err)

	opts := fetchOptions(conf, logrus.StandardLogger())
	assert.Equal(t, fetch.DefaultMaxRetries, opts.MaxRetries)
	assert.Equal(t, fetch.DefaultRateLimit, opts.RateLimit)
}
