package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/voxlink/cli/reader"
	"github.com/pithecene-io/voxlink/cli/render"
	"github.com/pithecene-io/voxlink/cli/tui"
	"github.com/pithecene-io/voxlink/streamlog"
)

// ReplayCommand returns the replay command.
func ReplayCommand() *cli.Command {
	return &cli.Command{
		Name:  "replay",
		Usage: "Feed a captured stream dump through the MIME parser offline",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{Name: "dump", Usage: "Stream dump written by --stream-log-dir", Required: true},
			&cli.StringFlag{Name: "boundary", Usage: "Multipart boundary, when the dump has no Content-Type header"},
			&cli.IntFlag{Name: "chunk", Usage: "Re-slice inbound bytes into pieces of N bytes (0 keeps captured reads)"},
		),
		Action: replayAction,
	}
}

// replaySummary is the table form of a ReplayResult's header fields.
type replaySummary struct {
	StreamID    uint32 `json:"stream_id"`
	Method      string `json:"method"`
	URL         string `json:"url"`
	Status      int    `json:"status"`
	Boundary    string `json:"boundary"`
	BytesIn     int64  `json:"bytes_in"`
	Directives  int    `json:"directives"`
	Attachments int    `json:"attachments"`
	ParseError  string `json:"parse_error"`
}

func replayAction(c *cli.Context) error {
	if n := c.Int("chunk"); n < 0 {
		return cli.Exit(fmt.Sprintf("--chunk must be >= 0, got %d", n), exitUsage)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	records, err := streamlog.ReadFile(c.String("dump"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	res, err := reader.Replay(c.Context, records, reader.ReplayOptions{
		Boundary: c.String("boundary"),
		Chunk:    c.Int("chunk"),
	})
	if errors.Is(err, reader.ErrNoBoundary) {
		return cli.Exit(err.Error(), exitUsage)
	}
	if err != nil {
		return err
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewReplay, res)
	}
	if r.Format() != render.FormatTable {
		return r.Render(res)
	}
	if err := r.Render(replaySummary{
		StreamID:    res.StreamID,
		Method:      res.Method,
		URL:         res.URL,
		Status:      res.Status,
		Boundary:    res.Boundary,
		BytesIn:     res.BytesIn,
		Directives:  len(res.Directives),
		Attachments: len(res.Attachments),
		ParseError:  res.ParseError,
	}); err != nil {
		return err
	}
	if len(res.Directives) > 0 {
		fmt.Fprintln(c.App.Writer)
		return r.Render(res.Directives)
	}
	return nil
}
