package reader

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/pithecene-io/voxlink/attachment"
	"github.com/pithecene-io/voxlink/ingest"
	"github.com/pithecene-io/voxlink/log"
	"github.com/pithecene-io/voxlink/mimeparse"
	"github.com/pithecene-io/voxlink/policy"
	"github.com/pithecene-io/voxlink/streamlog"
	"github.com/pithecene-io/voxlink/transport"
	"github.com/pithecene-io/voxlink/types"
)

// ErrNoBoundary is returned when neither the dump nor the caller names a
// multipart boundary.
var ErrNoBoundary = errors.New("no multipart boundary: pass --boundary or replay a dump with a Content-Type header")

// ReplayOptions configures Replay.
type ReplayOptions struct {
	// Boundary overrides the boundary found in the dump's headers.
	Boundary string
	// Chunk re-slices the inbound bytes into pieces of this size.
	// Zero feeds each captured read as it arrived.
	Chunk int
	// Logger is optional.
	Logger *log.Logger
}

// Replay feeds the inbound bytes of one stream dump through a MIME parser
// and collects the directives and attachments it yields. A parse failure is
// reported in ReplayResult.ParseError together with everything recovered
// before it.
func Replay(ctx context.Context, records []*streamlog.Record, opts ReplayOptions) (*ReplayResult, error) {
	res := &ReplayResult{
		Directives:  []DirectiveView{},
		Attachments: []AttachmentView{},
	}
	var reads [][]byte
	for _, rec := range records {
		switch rec.Type {
		case streamlog.RecordOpen:
			res.StreamID, res.Method, res.URL = rec.StreamID, rec.Method, rec.URL
		case streamlog.RecordHeader:
			if code, ok := statusLine(rec.Line); ok {
				res.Status = code
			} else if b := boundaryFromHeader(rec.Line); b != "" && res.Boundary == "" {
				res.Boundary = b
			}
		case streamlog.RecordIn:
			reads = append(reads, rec.Data)
			res.BytesIn += int64(len(rec.Data))
		case streamlog.RecordClose:
			if rec.Status != 0 {
				res.Status = rec.Status
			}
		}
	}
	if opts.Boundary != "" {
		res.Boundary = opts.Boundary
	}
	if res.Boundary == "" {
		return res, ErrNoBoundary
	}

	sink := &collectSink{}
	mgr := attachment.NewManager()
	router := ingest.NewRouter(policy.NewStrictPolicy(sink), mgr, ingest.WithLogger(opts.Logger))
	parser := mimeparse.NewParser(router, mgr,
		mimeparse.WithLogger(opts.Logger),
		mimeparse.WithAttachmentObserver(router),
	)
	parser.SetAttachmentContextID(transport.AttachmentContextPrefix + strconv.FormatUint(uint64(res.StreamID), 10))
	parser.SetBoundary(res.Boundary)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- router.Run(runCtx) }()

	feedErr := feedAll(ctx, parser, rechunk(reads, opts.Chunk))
	router.Close()
	runErr := <-done

	for _, d := range sink.directives {
		res.Directives = append(res.Directives, DirectiveView{
			Namespace:       d.Namespace,
			Name:            d.Name,
			MessageID:       d.MessageID,
			DialogRequestID: d.DialogRequestID,
			Message:         d.Message,
		})
	}
	for _, a := range sink.attachments {
		res.Attachments = append(res.Attachments, AttachmentView{
			AttachmentID: a.AttachmentID,
			ContentID:    a.ContentID,
			Size:         a.Size,
		})
	}

	if feedErr != nil {
		var pe *mimeparse.ParseError
		if !errors.As(feedErr, &pe) {
			return res, feedErr
		}
		res.ParseError = pe.Error()
	}
	if runErr != nil {
		return res, fmt.Errorf("replay: %w", runErr)
	}
	return res, nil
}

// feedAll offers every piece to p, waiting while attachment buffers drain.
func feedAll(ctx context.Context, p *mimeparse.Parser, pieces [][]byte) error {
	for _, piece := range pieces {
		for len(piece) > 0 {
			n, err := p.Feed(piece)
			if err != nil {
				return err
			}
			piece = piece[n:]
			if n == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Millisecond):
				}
			}
		}
	}
	return nil
}

func rechunk(reads [][]byte, size int) [][]byte {
	if size <= 0 {
		return reads
	}
	var all []byte
	for _, r := range reads {
		all = append(all, r...)
	}
	var out [][]byte
	for len(all) > 0 {
		n := min(size, len(all))
		out = append(out, all[:n])
		all = all[n:]
	}
	return out
}

// statusLine parses the "HTTP/2 200" pseudo header.
func statusLine(line string) (int, bool) {
	rest, ok := strings.CutPrefix(line, "HTTP/")
	if !ok {
		return 0, false
	}
	_, code, ok := strings.Cut(rest, " ")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(code))
	if err != nil {
		return 0, false
	}
	return n, true
}

func boundaryFromHeader(line string) string {
	name, value, ok := strings.Cut(line, ":")
	if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Type") {
		return ""
	}
	_, params, err := mime.ParseMediaType(strings.TrimSpace(value))
	if err != nil {
		return ""
	}
	return params["boundary"]
}

// collectSink keeps everything written to it. It is only read after the
// router has stopped.
type collectSink struct {
	directives  []*types.Directive
	attachments []*types.AttachmentRecord
}

func (s *collectSink) WriteDirectives(_ context.Context, directives []*types.Directive) error {
	s.directives = append(s.directives, directives...)
	return nil
}

func (s *collectSink) WriteAttachments(_ context.Context, attachments []*types.AttachmentRecord) error {
	s.attachments = append(s.attachments, attachments...)
	return nil
}

func (s *collectSink) Close() error { return nil }
