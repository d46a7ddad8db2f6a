package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tilearchive",
	Short: "Archive captured web map tiles into PMTiles files",
	Long: `tilearchive packs tiles captured from a web map session into PMTiles
archives, one file per tile source, optionally fetching the tiles missing from
the target area first.

Sources and fetch settings are read from a TOML file; any key can be
overridden with a TILER_ environment variable, e.g. TILER_TASK_WORKERS=8.`,
	SilenceUsage: true,
}

// Execute runs the root command. SIGINT, SIGTERM, SIGHUP and SIGQUIT cancel
// the command context: requests in flight finish and partial results are
// kept.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./conf/conf.toml", "config `file`")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error)")
}
