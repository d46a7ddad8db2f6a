package main

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tilearchive/internal/archive"
	"tilearchive/internal/config"
	"tilearchive/internal/coverage"
	"tilearchive/internal/fetch"
	"tilearchive/internal/logger"
	"tilearchive/internal/source"
	"tilearchive/internal/tile"
)

var (
	packSources []string
	packNoFill  bool
	packNoBar   bool
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Build one PMTiles archive per configured source",
	Long: `Build one PMTiles archive per configured source.

Each source's captured tiles are read from a z/x/y directory tree or an
MBTiles file. With coverage.gapFill enabled, the tiles missing from the
target area (coverage.bounds, coverage.geojson, or the captured extent) are
fetched from the source URL template first.

Examples:
  tilearchive pack -c conf/conf.toml
  tilearchive pack --source basemap --no-gap-fill
  TILER_COVERAGE_EXPANDZOOM=2 tilearchive pack`,
	Args: cobra.NoArgs,
	RunE: runPack,
}

func init() {
	packCmd.Flags().StringSliceVarP(&packSources, "source", "s", nil, "only pack the named sources")
	packCmd.Flags().BoolVar(&packNoFill, "no-gap-fill", false, "skip fetching missing tiles")
	packCmd.Flags().BoolVar(&packNoBar, "no-progress", false, "hide the gap-fill progress bar")
	rootCmd.AddCommand(packCmd)
}

func runPack(cmd *cobra.Command, _ []string) error {
	conf, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, closer, err := logger.New(logger.Options{
		Dir:      conf.Output.LogDir,
		Terminal: conf.Output.OutputTerminal,
		Level:    logLevel,
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	log.Infof("%s %s, config %s", conf.App.Title, conf.App.Version, configPath)

	opts, err := buildOptions(conf, log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	var (
		results []archive.Result
		failed  []string
	)
	for _, s := range conf.Sources {
		if len(packSources) > 0 && !slices.Contains(packSources, s.Name) {
			continue
		}
		if ctx.Err() != nil {
			log.Warnf("cancelled, skipping source %s", s.Name)
			failed = append(failed, s.Name)
			continue
		}
		res, err := packSource(cmd, s, opts, log)
		if err != nil {
			log.Errorf("source %s: %v", s.Name, err)
			failed = append(failed, s.Name)
			continue
		}
		results = append(results, res)
	}

	printResults(cmd, results)
	if len(failed) > 0 {
		return fmt.Errorf("%d source(s) not archived: %v", len(failed), failed)
	}
	return nil
}

// fetchOptions maps the task section to fetch options. The config layer
// already applies defaults, so a configured 0 means none: no retries and
// no rate limit.
func fetchOptions(conf *config.Conf, log logrus.FieldLogger) fetch.Options {
	opts := fetch.Options{
		Concurrency: conf.Task.Workers,
		RateLimit:   conf.Task.RateLimit,
		Timeout:     conf.Task.Timeout,
		MaxRetries:  conf.Task.MaxRetries,
		Backoff:     conf.Task.Backoff,
		UserAgent:   conf.Task.UserAgent,
		Logger:      log,
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = -1
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = -1
	}
	return opts
}

func buildOptions(conf *config.Conf, log *logrus.Logger) (archive.Options, error) {
	opts := archive.Options{
		OutputDir:  conf.Output.Directory,
		ExpandZoom: conf.Coverage.ExpandZoom,
		GapFill:    conf.Coverage.GapFill && !packNoFill,
		CacheDir:   conf.Coverage.CacheDir,
		Logger:     log,
		Fetch:      fetchOptions(conf, log),
	}
	bounds, ok, err := conf.TargetBounds()
	if err != nil {
		return opts, err
	}
	if ok {
		opts.Bounds = &bounds
	}
	if conf.Coverage.Geojson != "" {
		region, _, err := coverage.LoadRegion(conf.Coverage.Geojson)
		if err != nil {
			return opts, fmt.Errorf("coverage.geojson: %w", err)
		}
		opts.Region = region
	}
	return opts, nil
}

func packSource(cmd *cobra.Command, s config.Source, opts archive.Options, log logrus.FieldLogger) (archive.Result, error) {
	tiles, err := source.Load(s.Input)
	if err != nil {
		return archive.Result{}, err
	}
	log.Infof("source %s: loaded %d tiles from %s", s.Name, len(tiles.Records), s.Input)

	format, ok := s.TileFormat()
	if !ok {
		format = tiles.Format
	}
	if format == "" {
		return archive.Result{}, fmt.Errorf("cannot tell the tile format of %s; set format in the config", s.Input)
	}
	src := archive.Source{
		Name:        s.Name,
		Description: s.Description,
		Type:        s.TileType(format),
		Format:      format,
		URL:         tile.URLTemplate(s.URL),
		Records:     tiles.Records,
	}
	if src.Description == "" {
		src.Description = tiles.Description
	}

	if !packNoBar {
		bar := newProgressBar(s.Name)
		defer bar.finish()
		opts.Fetch.OnProgress = bar.update
	}
	return archive.Build(cmd.Context(), src, opts)
}

func printResults(cmd *cobra.Command, results []archive.Result) {
	if len(results) == 0 {
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tTILES\tZOOM\tCOVERAGE\tFETCHED\tMISSING\tBYTES\tFILE")
	for _, r := range results {
		unfetched := r.Expansion.Missing - r.Expansion.Fetched
		fmt.Fprintf(w, "%s\t%d\t%d-%d\t%.1f%%\t%d\t%d\t%d\t%s\n",
			r.Name, r.TileCount, r.MinZoom, r.MaxZoom, r.Coverage.Percent,
			r.Expansion.Fetched, unfetched, r.Stats.Bytes, r.Path)
	}
	w.Flush()
	for _, r := range results {
		for _, e := range r.Expansion.Errors {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", r.Name, e)
		}
	}
}
