package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	lodelibrary "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/voxlink/cli/reader"
	"github.com/pithecene-io/voxlink/cli/render"
	"github.com/pithecene-io/voxlink/cli/tui"
	"github.com/pithecene-io/voxlink/lode"
)

// statsQueryTimeout bounds the archive scan.
const statsQueryTimeout = 30 * time.Second

// StatsCommand returns the stats command.
func StatsCommand() *cli.Command {
	flags := append(ReadOnlyFlags(), ConfigFlag)
	flags = append(flags, storageFlags()...)
	flags = append(flags,
		&cli.StringFlag{Name: "session-id", Usage: "Read metrics for this session (default: latest)"},
		&cli.StringFlag{Name: "source", Usage: "Filter by source partition"},
	)
	return &cli.Command{
		Name:   "stats",
		Usage:  "Show a session's archived metrics",
		Flags:  flags,
		Action: statsAction,
	}
}

func statsAction(c *cli.Context) error {
	s, err := loadSettings(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if s.storage.Path == "" {
		return cli.Exit("--storage-path is required to read archived metrics", exitUsage)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	ctx, cancel := context.WithTimeout(c.Context, statsQueryTimeout)
	defer cancel()

	ds, err := buildReadDataset(ctx, s)
	if err != nil {
		return fmt.Errorf("failed to initialize storage reader: %w", err)
	}
	// Only a --source flag filters; a config source names where listen writes.
	record, err := lode.QueryLatestMetrics(ctx, ds, c.String("session-id"), c.String("source"))
	if errors.Is(err, lode.ErrNoMetricsFound) {
		return cli.Exit(err.Error(), exitUsage)
	}
	if err != nil {
		return fmt.Errorf("failed to read metrics: %w", err)
	}
	snapshot, err := reader.ParseMetricsRecord(record)
	if err != nil {
		return fmt.Errorf("failed to parse metrics record: %w", err)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStatsMetrics, snapshot)
	}
	return r.Render(snapshot)
}

// buildReadDataset opens the archive named by the storage settings.
func buildReadDataset(ctx context.Context, s *settings) (lodelibrary.Dataset, error) {
	switch s.storage.Backend {
	case "", "fs":
		return lode.NewReadDatasetFS(s.storage.Dataset, s.storage.Path)
	case "s3":
		return lode.NewReadDatasetS3(ctx, s.storage.Dataset, s.s3Config())
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (must be fs or s3)", s.storage.Backend)
	}
}
