package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/voxlink/attachment"
	"github.com/pithecene-io/voxlink/cli/reader"
	"github.com/pithecene-io/voxlink/cli/render"
	"github.com/pithecene-io/voxlink/ingest"
	"github.com/pithecene-io/voxlink/metrics"
	"github.com/pithecene-io/voxlink/policy"
	"github.com/pithecene-io/voxlink/transport"
	"github.com/pithecene-io/voxlink/types"
)

// DefaultSendTimeout bounds how long send waits for the event's outcome.
const DefaultSendTimeout = 2 * time.Minute

// SendCommand returns the send command.
func SendCommand() *cli.Command {
	flags := connectionFlags()
	flags = append(flags, FormatFlag, NoColorFlag,
		&cli.StringFlag{Name: "event", Usage: "Event JSON, or @file to read it from a file", Required: true},
		&cli.StringFlag{Name: "attachment", Usage: "File streamed as the event's attachment"},
		&cli.StringFlag{Name: "attachment-name", Usage: "Multipart field name of the attachment", Value: "audio"},
		&cli.StringFlag{Name: "path-extension", Usage: "Path appended to the events URL"},
		&cli.DurationFlag{Name: "timeout", Usage: "How long to wait for the outcome", Value: DefaultSendTimeout},
	)
	return &cli.Command{
		Name:   "send",
		Usage:  "Connect, send one event and print its outcome",
		Flags:  flags,
		Action: sendAction,
	}
}

// SendResult is the outcome of one event.
type SendResult struct {
	RequestID  string                 `json:"request_id" yaml:"request_id"`
	Status     string                 `json:"status" yaml:"status"`
	Exception  string                 `json:"exception,omitempty" yaml:"exception,omitempty"`
	Directives []reader.DirectiveView `json:"directives" yaml:"directives"`
}

func sendAction(c *cli.Context) error {
	s, err := loadSettings(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if err := s.requireConnection(); err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	event, err := readEvent(c.String("event"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	var file *os.File
	if path := c.String("attachment"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("attachment: %v", err), exitUsage)
		}
		defer func() { _ = f.Close() }()
		file = f
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	meta := types.NewSessionMeta(s.endpoint)
	logger, logCloser, err := buildLogger(s, meta, false)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer func() { _ = logCloser.Close() }()

	collector := metrics.NewCollector("noop", "none", meta.SessionID, s.endpoint)
	attachments := attachment.NewManager()
	router := ingest.NewRouter(policy.NewNoopPolicy(), attachments, ingest.WithLogger(logger))
	captured := &capturingConsumer{next: router}
	conn, err := connect(s, meta, attachments, captured, router, logger, collector)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	connected := make(chan struct{}, 1)
	ended := make(chan types.ChangedReason, 1)
	conn.session.AddObserver(transport.ConnectionObserverFuncs{
		Connected: func() {
			select {
			case connected <- struct{}{}:
			default:
			}
		},
		Disconnected: func(reason types.ChangedReason) {
			select {
			case ended <- reason:
			default:
			}
		},
	})

	routed := make(chan error, 1)
	go func() { routed <- router.Run(context.Background()) }()
	defer func() {
		_ = conn.Close()
		router.Close()
		<-routed
	}()

	if err := conn.session.Connect(); err != nil {
		return cli.Exit(err.Error(), exitConnection)
	}
	select {
	case <-connected:
	case reason := <-ended:
		return cli.Exit(fmt.Sprintf("connect failed: %s", reason), exitConnection)
	case <-time.After(s.connectWait()):
		return cli.Exit("connect timed out", exitConnection)
	}

	req := types.NewMessageRequest(event, c.String("path-extension"))
	if file != nil {
		req.AddAttachment(c.String("attachment-name"), attachment.NewStreamReader(file))
	}
	done := make(chan struct{})
	req.AddObserver(types.ObserverFunc{
		Completed: func(types.SendStatus) { close(done) },
		Exception: func(string) { close(done) },
	})
	conn.session.Send(req)

	select {
	case <-done:
	case <-time.After(c.Duration("timeout")):
		return cli.Exit(fmt.Sprintf("no outcome for request %s within %s", req.ID(), c.Duration("timeout")), exitConnection)
	}

	status, exception := req.Result()
	result := SendResult{
		RequestID:  req.ID(),
		Status:     string(status),
		Exception:  exception,
		Directives: captured.snapshot(),
	}
	if err := r.Render(result); err != nil {
		return err
	}
	if !status.IsSuccess() {
		if ex, err := types.ParseException(exception); err == nil {
			return cli.Exit(fmt.Sprintf("%s: %s", ex.Code, ex.Description), exitRejected)
		}
		return cli.Exit(fmt.Sprintf("request %s: %s", req.ID(), status), exitRejected)
	}
	return nil
}

// readEvent returns the event JSON from a literal or an @file argument.
func readEvent(arg string) (string, error) {
	data := []byte(arg)
	if len(arg) > 1 && arg[0] == '@' {
		b, err := os.ReadFile(arg[1:])
		if err != nil {
			return "", fmt.Errorf("event: %w", err)
		}
		data = b
	}
	if !json.Valid(data) {
		return "", fmt.Errorf("event is not valid JSON")
	}
	return string(data), nil
}

// capturingConsumer keeps the directives of a one-shot session for display.
type capturingConsumer struct {
	next *ingest.Router

	mu         sync.Mutex
	directives []reader.DirectiveView
}

func (c *capturingConsumer) ConsumeMessage(contextID, message string) {
	c.next.ConsumeMessage(contextID, message)
	d, _ := types.ParseDirective(contextID, message, time.Now())
	c.mu.Lock()
	c.directives = append(c.directives, reader.DirectiveView{
		Namespace:       d.Namespace,
		Name:            d.Name,
		MessageID:       d.MessageID,
		DialogRequestID: d.DialogRequestID,
		Message:         d.Message,
	})
	c.mu.Unlock()
}

func (c *capturingConsumer) snapshot() []reader.DirectiveView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]reader.DirectiveView(nil), c.directives...)
}
