package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/voxlink/attachment"
	"github.com/pithecene-io/voxlink/cli/tui"
	"github.com/pithecene-io/voxlink/ingest"
	"github.com/pithecene-io/voxlink/lode"
	"github.com/pithecene-io/voxlink/log"
	"github.com/pithecene-io/voxlink/metrics"
	"github.com/pithecene-io/voxlink/mimeparse"
	"github.com/pithecene-io/voxlink/policy"
	"github.com/pithecene-io/voxlink/transport"
	"github.com/pithecene-io/voxlink/types"
)

// Exit codes shared by every command.
const (
	exitOK         = 0
	exitUsage      = 1
	exitConnection = 2
	exitRejected   = 3
)

// metricsWriteTimeout bounds the final metrics write after shutdown.
const metricsWriteTimeout = 30 * time.Second

// ListenCommand returns the listen command.
func ListenCommand() *cli.Command {
	flags := connectionFlags()
	flags = append(flags, storageFlags()...)
	flags = append(flags, forwardingFlags()...)
	flags = append(flags, TUIFlag)
	return &cli.Command{
		Name:   "listen",
		Usage:  "Hold the downchannel open and forward directives until interrupted",
		Flags:  flags,
		Action: listenAction,
	}
}

// ListenSummary is printed when listen ends.
type ListenSummary struct {
	SessionID   string `json:"session_id"`
	Reason      string `json:"reason"`
	Directives  int64  `json:"directives"`
	Attachments int64  `json:"attachments"`
	Persisted   int64  `json:"persisted"`
	Dropped     int64  `json:"dropped"`
	Duration    string `json:"duration"`
}

func listenAction(c *cli.Context) error {
	s, err := loadSettings(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if err := s.requireConnection(); err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	useTUI := c.Bool("tui")

	start := time.Now()
	meta := types.NewSessionMeta(s.endpoint)
	logger, logCloser, err := buildLogger(s, meta, useTUI)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	defer func() { _ = logCloser.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector(s.policyLabel(), s.storageLabel(), meta.SessionID, s.endpoint)

	archive, err := buildArchive(ctx, s, meta, start)
	if err != nil {
		return cli.Exit(fmt.Sprintf("storage: %v", err), exitUsage)
	}
	pub, err := buildAdapter(s)
	if err != nil {
		return cli.Exit(fmt.Sprintf("adapter: %v", err), exitUsage)
	}
	sink := buildSinks(archive, pub, meta.SessionID, collector)
	pol, err := buildPolicy(s, sink, logger)
	if err != nil {
		_ = sink.Close()
		return cli.Exit(fmt.Sprintf("policy: %v", err), exitUsage)
	}

	var view *tui.LiveView
	if useTUI {
		view = tui.NewLiveView(s.endpoint, meta.SessionID)
	}

	attachments := attachment.NewManager()
	router := ingest.NewRouter(pol, attachments, ingest.WithLogger(logger))
	consumer := liveConsumer{next: router, view: view}
	conn, err := connect(s, meta, attachments, consumer, router, logger, collector)
	if err != nil {
		_ = pol.Close()
		return cli.Exit(err.Error(), exitUsage)
	}

	ended := make(chan types.ChangedReason, 1)
	conn.session.AddObserver(transport.ConnectionObserverFuncs{
		Connected: func() {
			logger.Info("listening", map[string]any{"endpoint": s.endpoint})
			view.Send(tui.ConnectionMsg{Status: string(types.ConnectionConnected)})
		},
		Disconnected: func(reason types.ChangedReason) {
			view.Send(tui.ConnectionMsg{Status: string(types.ConnectionDisconnected), Reason: string(reason)})
			select {
			case ended <- reason:
			default:
			}
		},
		ServerSideDisconnect: func() {
			view.Send(tui.ConnectionMsg{Status: string(types.ConnectionPending), Reason: string(types.ReasonServerSideDisconnect)})
		},
	})

	// The router outlives ctx so queued records drain after an interrupt.
	forwarded := make(chan error, 1)
	go func() { forwarded <- router.Run(context.WithoutCancel(ctx)) }()

	// The view must be running before the session reports to it.
	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	viewDone := make(chan struct{})
	go func() {
		defer close(viewDone)
		if view == nil {
			return
		}
		if err := view.Run(); err != nil {
			logger.Warn("live view failed", map[string]any{"error": err.Error()})
		}
		cancelWait()
	}()
	if view != nil {
		go pumpMetrics(waitCtx, view, collector)
	}

	if err := conn.session.Connect(); err != nil {
		view.Send(tui.StoppedMsg{Err: err})
		<-viewDone
		_ = conn.Close()
		router.Close()
		<-forwarded
		_ = pol.Close()
		return cli.Exit(err.Error(), exitConnection)
	}

	var (
		reason     = types.ReasonACLClientRequest
		forwardErr error
		forwardEnd bool
	)
	select {
	case <-waitCtx.Done():
	case r := <-ended:
		reason = r
	case forwardErr = <-forwarded:
		forwardEnd = true
		logger.Error("forwarding stopped", map[string]any{"error": errString(forwardErr)})
	}
	cancelWait()
	view.Send(tui.StoppedMsg{Err: forwardErr})
	<-viewDone

	_ = conn.Close()
	router.Close()
	if !forwardEnd {
		forwardErr = <-forwarded
	}

	summary := finishSession(pol, archive, collector, logger, meta, reason, start)
	if err := pol.Close(); err != nil {
		logger.Warn("policy close failed", map[string]any{"error": err.Error()})
	}

	printListenSummary(summary)

	switch {
	case forwardErr != nil && ingest.IsPolicyError(forwardErr):
		return cli.Exit(fmt.Sprintf("forwarding failed: %v", forwardErr), exitUsage)
	case reason != types.ReasonACLClientRequest && reason != types.ReasonNone:
		return cli.Exit(fmt.Sprintf("session ended: %s", reason), exitConnection)
	}
	return nil
}

// finishSession flushes the policy, folds its stats into the collector
// and writes the session's metrics record.
func finishSession(pol policy.Policy, archive lode.Client, collector *metrics.Collector, logger *log.Logger,
	meta *types.SessionMeta, reason types.ChangedReason, start time.Time) ListenSummary {
	ctx, cancel := context.WithTimeout(context.Background(), metricsWriteTimeout)
	defer cancel()

	if err := pol.Flush(ctx); err != nil {
		logger.Error("final flush failed", map[string]any{"error": err.Error()})
	}
	stats := pol.Stats()
	var triggers map[string]int64
	if sp, ok := pol.(*policy.StreamingPolicy); ok {
		triggers = make(map[string]int64)
		for k, v := range sp.FlushTriggerStats() {
			triggers[string(k)] = v
		}
	}
	collector.AbsorbPolicyStats(stats.TotalDirectives, stats.DirectivesPersisted, stats.DirectivesDropped, triggers)

	snap := collector.Snapshot()
	if archive != nil {
		if err := archive.WriteMetrics(ctx, snap, time.Now()); err != nil {
			logger.Error("metrics write failed", map[string]any{"error": err.Error()})
		}
	}

	return ListenSummary{
		SessionID:   meta.SessionID,
		Reason:      string(reason),
		Directives:  snap.DirectivesReceived,
		Attachments: snap.AttachmentsReceived,
		Persisted:   stats.DirectivesPersisted,
		Dropped:     stats.DirectivesDropped,
		Duration:    time.Since(start).Round(time.Millisecond).String(),
	}
}

func printListenSummary(s ListenSummary) {
	fmt.Fprintf(os.Stderr, "\nsession_id=%s, reason=%s, duration=%s\n", s.SessionID, s.Reason, s.Duration)
	fmt.Fprintf(os.Stderr, "directives=%d, attachments=%d, persisted=%d, dropped=%d\n",
		s.Directives, s.Attachments, s.Persisted, s.Dropped)
}

// pumpMetrics refreshes the live view until ctx ends.
func pumpMetrics(ctx context.Context, view *tui.LiveView, collector *metrics.Collector) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			view.Send(tui.MetricsMsg(collector.Snapshot()))
		}
	}
}

// liveConsumer mirrors directive headers into the live view.
type liveConsumer struct {
	next *ingest.Router
	view *tui.LiveView
}

func (l liveConsumer) ConsumeMessage(contextID, message string) {
	l.next.ConsumeMessage(contextID, message)
	if l.view == nil {
		return
	}
	d, _ := types.ParseDirective(contextID, message, time.Now())
	if d == nil {
		return
	}
	l.view.Send(tui.DirectiveMsg{At: d.ReceivedAt, Namespace: d.Namespace, Name: d.Name, MessageID: d.MessageID})
}

var _ mimeparse.MessageConsumer = liveConsumer{}

func errString(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return err.Error()
}
