// Package archive turns the captured tiles of one source into a PMTiles
// file, fetching missing coverage first when asked to.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"tilearchive/internal/coverage"
	"tilearchive/internal/fetch"
	"tilearchive/internal/mvt"
	"tilearchive/internal/pmtiles"
	"tilearchive/internal/source"
	"tilearchive/internal/tile"
)

// Source is one named tile set to archive.
type Source struct {
	Name        string
	Description string
	// Type defaults to Format.Type().
	Type tile.Type
	// Format defaults to pbf for vector sources.
	Format tile.Format
	// URL is used for gap-fill. An empty template disables fetching.
	URL     tile.URLTemplate
	Records []tile.Record
}

// Options configures Build.
type Options struct {
	OutputDir string
	// Bounds is the target area. Nil means the bounds of the captured tiles.
	Bounds *tile.Bounds
	// Region restricts the target to a geometry and takes precedence over
	// Bounds for gap finding.
	Region     orb.Geometry
	ExpandZoom uint32
	GapFill    bool
	// CacheDir receives fetched tiles as CacheDir/<name>/z/x/y.ext.
	CacheDir string
	// Fetcher is shared across sources when set; otherwise one is created
	// from Fetch.
	Fetcher *fetch.Fetcher
	Fetch   fetch.Options
	Logger  logrus.FieldLogger
}

// Expansion counts the outcome of gap-fill.
type Expansion struct {
	OriginalCount int
	Missing       int
	Fetched       int
	NotFound      int
	AuthFailures  int
	Failed        int
	Errors        []string
}

// Result describes a written archive.
type Result struct {
	Name      string
	Path      string
	Type      tile.Type
	Format    tile.Format
	TileCount int
	MinZoom   uint32
	MaxZoom   uint32
	Bounds    tile.Bounds
	Layers    []string
	Stats     pmtiles.Stats
	Coverage  coverage.Report
	Expansion Expansion
}

// SafeName maps a source name to a file name: letters, digits, '-' and '_'
// are kept, everything else becomes '-'.
func SafeName(name string) string {
	safe := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, name)
	if safe == "" {
		return "tiles"
	}
	return safe
}

func (s Source) kind() (tile.Type, tile.Format, error) {
	typ, format := s.Type, s.Format
	if format == "" {
		if typ != tile.Vector {
			return "", "", fmt.Errorf("source %q: tile format required", s.Name)
		}
		format = tile.PBF
	}
	if typ == "" {
		typ = format.Type()
	}
	return typ, format, nil
}

// Build archives src into opts.OutputDir/SafeName(src.Name).pmtiles.
//
// Gap-fill failures are reported in Result.Expansion and never fail the
// build; a cancelled ctx stops fetching and the archive is written from
// whatever was retrieved. Encoder errors fail the build and leave no file.
func Build(ctx context.Context, src Source, opts Options) (Result, error) {
	if len(src.Records) == 0 {
		return Result{}, fmt.Errorf("source %q: %w", src.Name, tile.ErrEmptyInput)
	}
	typ, format, err := src.kind()
	if err != nil {
		return Result{}, err
	}
	name := SafeName(src.Name)

	runID, _ := shortid.Generate()
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithFields(logrus.Fields{"run": runID, "source": name})

	captured := tile.Coords(src.Records)
	target, err := targetBounds(captured, opts)
	if err != nil {
		return Result{}, err
	}
	zooms := coverage.ZoomLevels(captured, opts.ExpandZoom)
	report, err := coverage.Analyze(captured, target, zooms)
	if err != nil {
		return Result{}, err
	}
	log.Infof("%d captured tiles, zoom %d-%d, coverage %.1f%%", len(captured), zooms[0], zooms[len(zooms)-1], report.Percent)

	res := Result{
		Name:      name,
		Type:      typ,
		Format:    format,
		Coverage:  report,
		Expansion: Expansion{OriginalCount: len(src.Records)},
	}

	records := src.Records
	if opts.GapFill && src.URL != "" {
		if !src.URL.Valid() {
			return Result{}, fmt.Errorf("source %q: url template %q needs {z}, {x} and {y}", src.Name, src.URL)
		}
		fetched, err := gapFill(ctx, src, name, format, captured, target, zooms, opts, log, &res.Expansion)
		if err != nil {
			return Result{}, err
		}
		records = merge(src.Records, fetched)
	}

	coords := tile.Coords(records)
	if res.Bounds, err = tile.CalculateBounds(coords); err != nil {
		return Result{}, err
	}
	if res.MinZoom, res.MaxZoom, err = tile.ZoomRange(coords); err != nil {
		return Result{}, err
	}
	res.TileCount = len(records)

	meta := pmtiles.Metadata{
		Name:        name,
		Description: src.Description,
		Bounds:      res.Bounds,
		MinZoom:     uint8(res.MinZoom),
		MaxZoom:     uint8(res.MaxZoom),
		Type:        typ,
		Format:      format,
	}
	if meta.Description == "" && src.URL != "" {
		meta.Description = "Tiles from " + string(src.URL)
	}
	if typ == tile.Vector {
		meta.VectorLayers = vectorLayers(records, res.MinZoom, res.MaxZoom)
		for _, l := range meta.VectorLayers {
			res.Layers = append(res.Layers, l.ID)
		}
		if len(res.Layers) > 0 {
			log.Infof("layers: %s", strings.Join(res.Layers, ", "))
		} else {
			log.Warn("no vector layers found in sampled tiles")
		}
	}

	b := pmtiles.NewBuilder(pmtiles.WithLogger(log))
	if err := b.AddRecords(records); err != nil {
		return Result{}, fmt.Errorf("source %q: %w", src.Name, err)
	}
	b.SetMetadata(meta)

	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return Result{}, err
		}
	}
	res.Path = filepath.Join(opts.OutputDir, name+".pmtiles")
	if res.Stats, err = b.WriteFile(res.Path); err != nil {
		return Result{}, fmt.Errorf("write %s: %w", res.Path, err)
	}
	log.Infof("wrote %s: %d tiles, %d entries, %d unique, %d bytes",
		res.Path, res.Stats.AddressedTiles, res.Stats.TileEntries, res.Stats.TileContents, res.Stats.Bytes)
	return res, nil
}

func targetBounds(captured []tile.Coord, opts Options) (tile.Bounds, error) {
	switch {
	case opts.Region != nil:
		return tile.BoundsFromOrb(opts.Region.Bound()), nil
	case opts.Bounds != nil:
		if !opts.Bounds.Valid() {
			return tile.Bounds{}, fmt.Errorf("invalid target bounds %+v", *opts.Bounds)
		}
		return *opts.Bounds, nil
	}
	return tile.CalculateBounds(captured)
}

func gapFill(ctx context.Context, src Source, name string, format tile.Format, captured []tile.Coord, target tile.Bounds,
	zooms []uint32, opts Options, log logrus.FieldLogger, exp *Expansion) ([]tile.Record, error) {
	var (
		missing []tile.Coord
		err     error
	)
	if opts.Region != nil {
		missing, err = coverage.FindMissingTilesInGeometry(captured, opts.Region, zooms)
	} else {
		missing, err = coverage.FindMissingTiles(captured, target, zooms)
	}
	if err != nil {
		return nil, err
	}
	exp.Missing = len(missing)
	if len(missing) == 0 {
		log.Info("coverage complete, nothing to fetch")
		return nil, nil
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fo := opts.Fetch
		if fo.Logger == nil {
			fo.Logger = log
		}
		fetcher = fetch.New(fo)
	}
	log.Infof("fetching %d missing tiles", len(missing))
	outcomes := fetcher.Fetch(ctx, src.URL, missing)
	sum := fetch.Summarize(outcomes)
	exp.Fetched = sum.Fetched
	exp.NotFound = sum.NotFound
	exp.AuthFailures = sum.AuthRequired
	exp.Failed = sum.Failed
	exp.Errors = sum.Errors

	if sum.Unfetched() > 0 {
		log.Warnf("gap-fill shortfall: %d of %d tiles fetched (%d not found, %d auth required, %d failed, %d not attempted)",
			sum.Fetched, sum.Requested, sum.NotFound, sum.AuthRequired, sum.Failed, sum.Cancelled)
	}
	if sum.AuthRequired > 0 {
		log.Warnf("%d tiles need authentication; check the url template credentials", sum.AuthRequired)
	}

	fetched := fetch.Records(outcomes)
	if opts.CacheDir != "" {
		dir := filepath.Join(opts.CacheDir, name)
		for _, rec := range fetched {
			if err := source.SaveTile(dir, rec, format); err != nil {
				log.Warnf("cache %s: %v", rec.Coord, err)
			}
		}
	}
	return fetched, nil
}

// merge adds fetched records whose coordinate was not captured. Captured
// payloads win. The result is sorted by coordinate.
func merge(captured, fetched []tile.Record) []tile.Record {
	seen := make(map[tile.Coord]struct{}, len(captured))
	out := make([]tile.Record, 0, len(captured)+len(fetched))
	for _, r := range captured {
		seen[r.Coord] = struct{}{}
		out = append(out, r)
	}
	for _, r := range fetched {
		if _, ok := seen[r.Coord]; ok {
			continue
		}
		seen[r.Coord] = struct{}{}
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b tile.Record) int { return a.Coord.Compare(b.Coord) })
	return out
}

func vectorLayers(records []tile.Record, minZoom, maxZoom uint32) []pmtiles.VectorLayer {
	var layers []pmtiles.VectorLayer
	for _, info := range mvt.DiscoverLayerInfo(records) {
		layers = append(layers, pmtiles.VectorLayer{
			ID:      info.Name,
			Fields:  info.Fields,
			MinZoom: int(minZoom),
			MaxZoom: int(maxZoom),
		})
	}
	if len(layers) > 0 {
		return layers
	}
	for _, name := range mvt.DiscoverLayers(records) {
		layers = append(layers, pmtiles.VectorLayer{
			ID:      name,
			Fields:  map[string]string{},
			MinZoom: int(minZoom),
			MaxZoom: int(maxZoom),
		})
	}
	return layers
}
