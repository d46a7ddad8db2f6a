// Package config loads the archiver configuration from a TOML file, a .env
// file and TILER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"tilearchive/internal/tile"
)

// EnvPrefix prefixes environment overrides: task.workers is TILER_TASK_WORKERS.
const EnvPrefix = "TILER"

// Source is one captured tile set to archive.
type Source struct {
	Name        string `mapstructure:"name"`
	Input       string `mapstructure:"input"`
	URL         string `mapstructure:"url"`
	Type        string `mapstructure:"type"`
	Format      string `mapstructure:"format"`
	Description string `mapstructure:"description"`
}

// TileFormat returns the configured format, falling back to the extension of
// the URL template.
func (s Source) TileFormat() (tile.Format, bool) {
	if f, ok := tile.FormatFromExt(s.Format); ok {
		return f, true
	}
	if i := strings.LastIndexByte(s.URL, '.'); i >= 0 {
		ext := s.URL[i+1:]
		if j := strings.IndexAny(ext, "?#"); j >= 0 {
			ext = ext[:j]
		}
		return tile.FormatFromExt(ext)
	}
	return "", false
}

// TileType returns the configured type, or the one implied by the format.
func (s Source) TileType(format tile.Format) tile.Type {
	switch tile.Type(strings.ToLower(s.Type)) {
	case tile.Vector:
		return tile.Vector
	case tile.Raster:
		return tile.Raster
	}
	return format.Type()
}

// Conf is the archiver configuration.
type Conf struct {
	App struct {
		Version string `mapstructure:"version"`
		Title   string `mapstructure:"title"`
	} `mapstructure:"app"`
	Output struct {
		Directory      string `mapstructure:"directory"`
		LogDir         string `mapstructure:"logDir"`
		OutputTerminal bool   `mapstructure:"outputTerminal"`
	} `mapstructure:"output"`
	Task struct {
		Workers    int           `mapstructure:"workers"`
		RateLimit  float64       `mapstructure:"rateLimit"`
		Timeout    time.Duration `mapstructure:"timeout"`
		MaxRetries int           `mapstructure:"maxRetries"`
		Backoff    time.Duration `mapstructure:"backoff"`
		UserAgent  string        `mapstructure:"userAgent"`
	} `mapstructure:"task"`
	Sources  []Source `mapstructure:"sources"`
	Coverage struct {
		// Bounds is west, south, east, north. Empty means the captured bounds.
		Bounds     []float64 `mapstructure:"bounds"`
		ExpandZoom uint32    `mapstructure:"expandZoom"`
		GapFill    bool      `mapstructure:"gapFill"`
		Geojson    string    `mapstructure:"geojson"`
		CacheDir   string    `mapstructure:"cacheDir"`
	} `mapstructure:"coverage"`
}

// TargetBounds returns the configured coverage bounds, if any.
func (c *Conf) TargetBounds() (tile.Bounds, bool, error) {
	b := c.Coverage.Bounds
	if len(b) == 0 {
		return tile.Bounds{}, false, nil
	}
	if len(b) != 4 {
		return tile.Bounds{}, false, fmt.Errorf("coverage.bounds needs 4 values, got %d", len(b))
	}
	bounds := tile.Bounds{West: b[0], South: b[1], East: b[2], North: b[3]}
	if !bounds.Valid() {
		return tile.Bounds{}, false, fmt.Errorf("coverage.bounds %v: west must be < east and south < north", b)
	}
	return bounds, true, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.version", "v0.1.0")
	v.SetDefault("app.title", "Web Map Tile Archiver")
	v.SetDefault("output.directory", "output")
	v.SetDefault("output.logDir", "")
	v.SetDefault("output.outputTerminal", true)
	v.SetDefault("task.workers", 5)
	v.SetDefault("task.rateLimit", 10.0)
	v.SetDefault("task.timeout", 30*time.Second)
	v.SetDefault("task.maxRetries", 2)
	v.SetDefault("task.backoff", time.Second)
	v.SetDefault("task.userAgent", "WebMapArchiver/1.0")
	v.SetDefault("coverage.expandZoom", 0)
	v.SetDefault("coverage.gapFill", false)
	v.SetDefault("coverage.geojson", "")
	v.SetDefault("coverage.cacheDir", "")
}

// Load reads cfgFile. A missing file is an error; a missing .env is not.
// Environment variables override file values.
func Load(cfgFile string) (*Conf, error) {
	if cfgFile == "" {
		cfgFile = "conf/conf.toml"
	}
	if _, err := os.Stat(cfgFile); err != nil {
		return nil, fmt.Errorf("config file(%s): %w", cfgFile, err)
	}
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(cfgFile)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file(%s): %w", v.ConfigFileUsed(), err)
	}
	conf := new(Conf)
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("parse config file(%s): %w", cfgFile, err)
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Conf) validate() error {
	if _, _, err := c.TargetBounds(); err != nil {
		return err
	}
	if c.Coverage.ExpandZoom > tile.MaxZoom {
		return fmt.Errorf("coverage.expandZoom %d exceeds %d", c.Coverage.ExpandZoom, tile.MaxZoom)
	}
	for i, s := range c.Sources {
		if s.Name == "" || s.Input == "" {
			return fmt.Errorf("sources[%d]: name and input are required", i)
		}
		if s.URL != "" && !tile.URLTemplate(s.URL).Valid() {
			return fmt.Errorf("source %s: url %q lacks {z}, {x} or {y}", s.Name, s.URL)
		}
	}
	return nil
}
