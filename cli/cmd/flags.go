// Package cmd holds the voxlink CLI commands.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/voxlink/lode"
	"github.com/pithecene-io/voxlink/transport"
)

// Shared flags for commands that render results.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables the interactive view.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (listen, replay, stats)",
	}

	// ConfigFlag points at a voxlink.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to voxlink.yaml (flags override its values)",
		EnvVars: []string{"VOXLINK_CONFIG"},
	}
)

// ReadOnlyFlags returns the rendering flags. --tui is always accepted so
// commands without a view can reject it with a clear message.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// connectionFlags configure the session.
func connectionFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:    "endpoint",
			Usage:   "Service base URL, e.g. https://voice.example.com",
			EnvVars: []string{"VOXLINK_ENDPOINT"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Bearer token",
			EnvVars: []string{"VOXLINK_TOKEN"},
		},
		&cli.StringFlag{
			Name:  "source",
			Usage: "Source partition for archived records",
			Value: "default",
		},
		&cli.IntFlag{
			Name:  "max-streams",
			Usage: "Maximum concurrently open streams",
			Value: transport.DefaultMaxStreams,
		},
		&cli.DurationFlag{
			Name:  "connect-timeout",
			Usage: "How long the downchannel may take to answer",
			Value: transport.DefaultConnectTimeout,
		},
		&cli.BoolFlag{
			Name:  "no-reconnect",
			Usage: "End the session on a server-side disconnect instead of reconnecting",
		},
		&cli.StringFlag{
			Name:  "stream-log-dir",
			Usage: "Dump every stream's bytes into this directory",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
			Value: "info",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Write logs here instead of stderr",
		},
	}
}

// storageFlags select the archive.
func storageFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "storage-dataset", Usage: "Lode dataset ID", Value: lode.DefaultDataset},
		&cli.StringFlag{Name: "storage-backend", Usage: "Storage backend: fs or s3", Value: "fs"},
		&cli.StringFlag{Name: "storage-path", Usage: "Storage path (fs: directory, s3: bucket/prefix)"},
		&cli.StringFlag{Name: "storage-region", Usage: "AWS region for the s3 backend"},
		&cli.StringFlag{Name: "storage-endpoint", Usage: "S3-compatible endpoint URL"},
		&cli.BoolFlag{Name: "storage-s3-path-style", Usage: "Use path-style S3 addressing"},
	}
}

// forwardingFlags select the policy and adapter.
func forwardingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "policy", Usage: "Forwarding policy: strict, streaming or noop", Value: "strict"},
		&cli.IntFlag{Name: "flush-count", Usage: "Streaming policy: flush after N directives"},
		&cli.DurationFlag{Name: "flush-interval", Usage: "Streaming policy: flush every interval"},
		&cli.StringFlag{Name: "adapter", Usage: "Publish directives to: webhook or redis"},
		&cli.StringFlag{Name: "adapter-url", Usage: "Webhook URL or redis://host:port"},
		&cli.StringFlag{Name: "adapter-channel", Usage: "Redis channel"},
	}
}
