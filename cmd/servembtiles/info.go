package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/monkut/servembtiles/internal/config"
	"github.com/monkut/servembtiles/internal/mbtiles"
	"github.com/monkut/servembtiles/internal/service"
)

// archiveInfo is what `info` reports about an archive.
type archiveInfo struct {
	Archive     string          `json:"archive"`
	Driver      string          `json:"driver"`
	Version     string          `json:"version"`
	MinZoom     string          `json:"minzoom"`
	MaxZoom     string          `json:"maxzoom"`
	TileExt     string          `json:"tile_ext"`
	ContentType string          `json:"content_type"`
	Scheme      string          `json:"scheme"`
	Metadata    json.RawMessage `json:"metadata"`
}

func newInfoCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Validate an archive and print its capabilities and metadata as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath, cmd.Flags())
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return info(cmd.Context(), cmd.OutOrStdout(), cfg, logger)
		},
	}

	addArchiveFlags(cmd.Flags())
	return cmd
}

// info opens the archive through the same validation the server performs
// at startup and writes an archiveInfo document to w.
func info(ctx context.Context, w io.Writer, cfg *config.Config, logger *zap.Logger) (err error) {
	opts, err := cfg.ServiceOptions()
	if err != nil {
		return err
	}
	opts.ArchiveOptions = append(opts.ArchiveOptions, mbtiles.WithMaxOpenConns(1))

	svc, err := service.New(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, svc.Close()) }()

	md, err := svc.Metadata(ctx)
	if err != nil {
		return err
	}

	caps := svc.Capabilities()
	doc := archiveInfo{
		Archive:     cfg.Archive.Path,
		Driver:      mbtiles.DriverType(),
		Version:     caps.Version.String(),
		MinZoom:     caps.MinZoom.String(),
		MaxZoom:     caps.MaxZoom.String(),
		TileExt:     svc.Format().Ext,
		ContentType: svc.Format().ContentType,
		Scheme:      svc.Scheme().String(),
		Metadata:    json.RawMessage("null"),
	}
	if md.Status == http.StatusOK {
		doc.Metadata = md.Body
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
