// Package main provides the servembtiles command: an HTTP server for the
// tiles stored in a single .mbtiles archive.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/monkut/servembtiles/internal/config"
)

// rootOptions holds the flags every subcommand shares.
type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "servembtiles",
		Short: "Serve map tiles from an .mbtiles archive",
		Long: "servembtiles serves the tiles and metadata of an MBTiles (SQLite) archive over HTTP.\n" +
			"Run `servembtiles serve -f <file.mbtiles>` to start the server.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")

	cmd.AddCommand(newServeCmd(opts), newInfoCmd(opts))
	return cmd
}

// addArchiveFlags registers the flags shared by every archive command.
func addArchiveFlags(flags *pflag.FlagSet) {
	flags.StringP("filepath", "f", "", "path to the .mbtiles file")
	flags.StringP("ext", "e", ".png", "served tile image extension (.png, .jpg, .jpeg)")
	flags.String("scheme", "tms", "row addressing of request paths (tms or xyz)")
	flags.Bool("xyz", false, "shorthand for --scheme=xyz")
}

// newLogger initializes the zap logger from the logging configuration.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid logging level: %q", cfg.Level)
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}

	zc.Level = zap.NewAtomicLevelAt(level)
	// stdout is reserved for command output such as `info`.
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}
