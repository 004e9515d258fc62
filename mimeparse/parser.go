// Package mimeparse implements an incremental multipart/related parser for
// downstream response bodies.
//
// The parser is fed arbitrary chunks of a body. It splits on the boundary
// negotiated in the response Content-Type and classifies each part by its
// headers:
//
//   - application/json parts are buffered and handed to a MessageConsumer
//     when the part ends.
//   - application/octet-stream parts with a Content-ID are streamed into an
//     attachment writer as bytes arrive.
//   - anything else is discarded.
//
// Feed never blocks. When an attachment writer reports a full buffer, Feed
// returns fewer bytes consumed than offered and the caller re-offers the
// remainder later. The parser does not retain the caller's slices.
package mimeparse

import (
	"bytes"
	"errors"
	"strings"

	"github.com/pithecene-io/voxlink/attachment"
	"github.com/pithecene-io/voxlink/log"
)

// Parser limits.
const (
	// MaxHeaderLineSize caps one header line (8 KiB). Longer lines are ignored.
	MaxHeaderLineSize = 8 * 1024
	// MaxDirectiveSize caps one JSON part (4 MiB).
	MaxDirectiveSize = 4 * 1024 * 1024
)

const (
	jsonContentType   = "application/json"
	binaryContentType = "application/octet-stream"
)

// MessageConsumer receives complete JSON parts.
type MessageConsumer interface {
	ConsumeMessage(contextID, message string)
}

// WriterFactory creates attachment writers. *attachment.Manager satisfies it.
type WriterFactory interface {
	GenerateAttachmentID(contextID, contentID string) string
	CreateWriter(id string, policy attachment.Policy) (attachment.Writer, error)
}

// AttachmentObserver is told about each attachment part once it ends.
type AttachmentObserver interface {
	OnAttachment(contextID, attachmentID, contentID string, size int64)
}

// AttachmentStartObserver is an optional AttachmentObserver extension told
// when an attachment's writer is opened, before any bytes are written.
type AttachmentStartObserver interface {
	OnAttachmentStart(contextID, attachmentID, contentID string)
}

// Stats holds per-parser counters.
type Stats struct {
	Directives          int64
	Attachments         int64
	AttachmentBytes     int64
	DiscardedParts      int64
	DuplicateBoundaries int64
}

type state int

const (
	stateSeeking state = iota
	stateAfterDelimiter
	statePartStart
	stateHeaders
	stateBody
	stateDone
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateSeeking:
		return "seeking"
	case stateAfterDelimiter:
		return "after_delimiter"
	case statePartStart:
		return "part_start"
	case stateHeaders:
		return "headers"
	case stateBody:
		return "body"
	case stateDone:
		return "done"
	default:
		return "failed"
	}
}

type partKind int

const (
	partNone partKind = iota
	partDirective
	partAttachment
)

// part is the active body sink.
type part struct {
	kind         partKind
	contentType  string
	contentID    string
	directive    []byte
	attachmentID string
	writer       attachment.Writer
	size         int64
}

// Parser is a restartable multipart/related state machine.
// It is not safe for concurrent use.
type Parser struct {
	consumer MessageConsumer
	writers  WriterFactory
	observer AttachmentObserver
	logger   *log.Logger

	contextID string
	boundary  string
	delim     []byte
	fail      []int

	state state
	// seekMatch is the delimiter prefix length matched while seeking.
	seekMatch int
	// window holds undecided body bytes carried between Feed calls.
	window []byte
	// tailLen/tailDash track the bytes after a delimiter up to its line end.
	tailLen  int
	tailDash bool
	// probe accumulates the start of a part to detect repeated boundaries.
	probe []byte
	line  []byte
	// lineOverflow is set when the current header line exceeded MaxHeaderLineSize.
	lineOverflow bool
	part         part
	err          error
	stats        Stats
}

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the parser's logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// WithAttachmentObserver registers an observer for completed attachments.
func WithAttachmentObserver(o AttachmentObserver) Option {
	return func(p *Parser) { p.observer = o }
}

// NewParser creates a parser that delivers JSON parts to consumer and
// streams attachments to writers created by factory.
func NewParser(consumer MessageConsumer, factory WriterFactory, opts ...Option) *Parser {
	p := &Parser{
		consumer: consumer,
		writers:  factory,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.Reset()
	return p
}

// SetAttachmentContextID sets the context ID passed to the consumer and used
// to derive attachment IDs.
func (p *Parser) SetAttachmentContextID(id string) {
	p.contextID = id
}

// AttachmentContextID returns the context ID.
func (p *Parser) AttachmentContextID() string {
	return p.contextID
}

// SetBoundary sets the multipart boundary and resets the parser.
func (p *Parser) SetBoundary(boundary string) {
	p.boundary = boundary
	if boundary == "" {
		p.delim = nil
		p.fail = nil
	} else {
		p.delim = []byte("\r\n--" + boundary)
		p.fail = failureTable(p.delim)
	}
	p.Reset()
}

// Boundary returns the current boundary.
func (p *Parser) Boundary() string {
	return p.boundary
}

// Reset returns the parser to boundary-seek. An open attachment writer is
// closed and a partial directive is dropped.
func (p *Parser) Reset() {
	p.closePart()
	p.state = stateSeeking
	// The body is treated as if preceded by CRLF so the first boundary
	// matches with or without a leading line break.
	p.seekMatch = 2
	p.window = nil
	p.tailLen = 0
	p.tailDash = false
	p.probe = p.probe[:0]
	p.line = p.line[:0]
	p.lineOverflow = false
	p.err = nil
}

// Close releases the active part. Call when the stream ends.
func (p *Parser) Close() {
	p.closePart()
	p.window = nil
}

// Done reports whether the closing boundary has been seen.
func (p *Parser) Done() bool {
	return p.state == stateDone
}

// Stats returns a snapshot of the parser counters.
func (p *Parser) Stats() Stats {
	return p.stats
}

// Feed parses data and returns the number of bytes consumed.
//
// A nil error with consumed < len(data) means an attachment writer is full;
// re-offer data[consumed:] once it drains. A non-nil error is a *ParseError
// and is fatal: every later Feed returns it until Reset.
func (p *Parser) Feed(data []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	if len(p.delim) == 0 {
		return 0, &ParseError{Kind: ErrNoBoundary, Msg: "boundary not set"}
	}

	consumed := 0
	for consumed < len(data) {
		rest := data[consumed:]
		switch p.state {
		case stateSeeking:
			consumed += p.seek(rest)
		case stateAfterDelimiter:
			consumed += p.afterDelimiter(rest)
		case statePartStart:
			n, err := p.partStart(rest)
			consumed += n
			if err != nil {
				return consumed, p.setFailed(err)
			}
		case stateHeaders:
			n, err := p.headers(rest)
			consumed += n
			if err != nil {
				return consumed, p.setFailed(err)
			}
		case stateBody:
			n, paused, err := p.body(rest)
			consumed += n
			if err != nil {
				return consumed, p.setFailed(err)
			}
			if paused {
				return consumed, nil
			}
		case stateDone:
			consumed = len(data)
		default:
			return consumed, p.err
		}
	}
	return consumed, nil
}

func (p *Parser) setFailed(err error) error {
	p.state = stateFailed
	p.err = err
	p.closePart()
	p.logger.Error("mime parse failed", map[string]any{
		"context_id": p.contextID,
		"error":      err.Error(),
	})
	return err
}

// seek discards preamble bytes until a delimiter completes.
func (p *Parser) seek(data []byte) int {
	for i, c := range data {
		p.seekMatch = p.advance(p.seekMatch, c)
		if p.seekMatch == len(p.delim) {
			p.enterAfterDelimiter()
			return i + 1
		}
	}
	return len(data)
}

func (p *Parser) enterAfterDelimiter() {
	p.state = stateAfterDelimiter
	p.tailLen = 0
	p.tailDash = false
}

// afterDelimiter consumes the rest of a boundary line. "--" closes the body;
// transport padding up to LF is ignored.
func (p *Parser) afterDelimiter(data []byte) int {
	for i, c := range data {
		p.tailLen++
		switch {
		case p.tailLen == 1 && c == '-':
			p.tailDash = true
		case p.tailLen == 2 && p.tailDash && c == '-':
			p.state = stateDone
			return i + 1
		case c == '\n':
			p.state = statePartStart
			p.probe = p.probe[:0]
			return i + 1
		}
	}
	return len(data)
}

// partStart looks ahead at the first bytes of a part. A boundary repeated
// right after the previous boundary line, with or without an extra CRLF, is
// absorbed instead of opening an empty part.
func (p *Parser) partStart(data []byte) (int, error) {
	for i, c := range data {
		p.probe = append(p.probe, c)

		// "--boundary" directly after the previous line's CRLF.
		bare := prefixCompatible(p.delim[2:], p.probe)
		// "\r\n--boundary" after the previous line's CRLF.
		crlf := prefixCompatible(p.delim, p.probe)

		switch {
		case bare && len(p.probe) == len(p.delim)-2,
			crlf && len(p.probe) == len(p.delim):
			p.stats.DuplicateBoundaries++
			p.logger.Debug("duplicate boundary skipped", map[string]any{
				"context_id": p.contextID,
			})
			p.probe = p.probe[:0]
			p.enterAfterDelimiter()
			return i + 1, nil
		case bare || crlf:
			continue
		}

		// Not a boundary: replay the probe as header bytes.
		replay := append([]byte(nil), p.probe...)
		p.probe = p.probe[:0]
		p.beginHeaders()
		n, err := p.headers(replay)
		if err != nil {
			return i + 1, err
		}
		if n < len(replay) && p.state == stateBody {
			p.window = append(p.window, replay[n:]...)
		}
		return i + 1, nil
	}
	return len(data), nil
}

// prefixCompatible reports whether probe could still be or already is a
// prefix of want.
func prefixCompatible(want, probe []byte) bool {
	if len(probe) > len(want) {
		return false
	}
	return bytes.Equal(want[:len(probe)], probe)
}

func (p *Parser) beginHeaders() {
	p.state = stateHeaders
	p.line = p.line[:0]
	p.lineOverflow = false
	p.part = part{}
}

// headers accumulates header lines until the blank line that ends the block.
func (p *Parser) headers(data []byte) (int, error) {
	for i, c := range data {
		if c != '\n' {
			if len(p.line) < MaxHeaderLineSize {
				p.line = append(p.line, c)
			} else {
				p.lineOverflow = true
			}
			continue
		}

		line := bytes.TrimSuffix(p.line, []byte{'\r'})
		overflow := p.lineOverflow
		p.line = p.line[:0]
		p.lineOverflow = false

		if overflow {
			p.logger.Warn("oversized mime header line ignored", map[string]any{
				"context_id": p.contextID,
			})
			continue
		}
		if len(line) == 0 {
			if err := p.openPart(); err != nil {
				return i + 1, err
			}
			p.state = stateBody
			return i + 1, nil
		}
		p.header(string(line))
	}
	return len(data), nil
}

func (p *Parser) header(line string) {
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		return
	}
	value = strings.TrimSpace(value)
	switch {
	case strings.EqualFold(strings.TrimSpace(name), "Content-Type"):
		p.part.contentType = value
	case strings.EqualFold(strings.TrimSpace(name), "Content-ID"):
		p.part.contentID = sanitizeContentID(value)
	}
}

// sanitizeContentID strips the angle brackets of a Content-ID value.
func sanitizeContentID(v string) string {
	if len(v) >= 2 && v[0] == '<' && v[len(v)-1] == '>' {
		return v[1 : len(v)-1]
	}
	return v
}

func (p *Parser) openPart() error {
	ct := strings.ToLower(p.part.contentType)
	switch {
	case strings.Contains(ct, jsonContentType):
		p.part.kind = partDirective
	case strings.Contains(ct, binaryContentType) && p.part.contentID != "":
		id := p.writers.GenerateAttachmentID(p.contextID, p.part.contentID)
		w, err := p.writers.CreateWriter(id, attachment.NonBlocking)
		if err != nil {
			return &ParseError{Kind: ErrWriterCreate, Msg: "create writer for " + id, Err: err}
		}
		if w == nil {
			return &ParseError{Kind: ErrWriterCreate, Msg: "nil writer for " + id}
		}
		p.part.kind = partAttachment
		p.part.attachmentID = id
		p.part.writer = w
		if so, ok := p.observer.(AttachmentStartObserver); ok {
			so.OnAttachmentStart(p.contextID, id, p.part.contentID)
		}
	default:
		p.part.kind = partNone
		p.stats.DiscardedParts++
		p.logger.Debug("mime part discarded", map[string]any{
			"context_id":   p.contextID,
			"content_type": p.part.contentType,
			"content_id":   p.part.contentID,
		})
	}
	return nil
}

// body forwards part bytes until the next delimiter.
//
// The delimiter search covers window+data. Bytes that might start a
// delimiter stay in the window. When the sink accepts fewer bytes than
// offered, body reports paused and consumes only what was written.
func (p *Parser) body(data []byte) (int, bool, error) {
	win := p.window
	found, held := p.scan(win, data)

	total := len(win) + len(data)
	bodyLen := total - held
	if found >= 0 {
		bodyLen = found
	}
	winPart := min(bodyLen, len(win))

	written, err := p.emit(win[:winPart], data[:bodyLen-winPart])
	if err != nil {
		return 0, false, err
	}

	if written < bodyLen {
		if written <= len(win) {
			p.window = win[written:]
			return 0, true, nil
		}
		p.window = nil
		return written - len(win), true, nil
	}

	if found >= 0 {
		p.window = nil
		p.finishPart()
		p.enterAfterDelimiter()
		return found + len(p.delim) - len(win), false, nil
	}

	// Keep the possible delimiter prefix for the next call.
	tail := make([]byte, 0, held)
	if held > len(data) {
		tail = append(tail, win[len(win)-(held-len(data)):]...)
		tail = append(tail, data...)
	} else {
		tail = append(tail, data[len(data)-held:]...)
	}
	p.window = tail
	return len(data), false, nil
}

// scan finds the first delimiter in win+data. It returns the logical start
// index of the delimiter, or -1 and the length of the longest suffix of
// win+data that is a proper prefix of the delimiter.
func (p *Parser) scan(win, data []byte) (int, int) {
	l := len(p.delim)
	if len(win) > 0 {
		// A delimiter that starts in the window ends within the first l-1
		// bytes of data.
		head := data[:min(len(data), l-1)]
		if i := p.find(win, head); i >= 0 {
			return i, 0
		}
	}
	if i := bytes.Index(data, p.delim); i >= 0 {
		return len(win) + i, 0
	}
	return -1, p.suffixMatch(win, data)
}

// find runs the matcher over a+b and returns the start of the first match.
func (p *Parser) find(a, b []byte) int {
	m := 0
	for i, c := range a {
		if m = p.advance(m, c); m == len(p.delim) {
			return i + 1 - m
		}
	}
	for i, c := range b {
		if m = p.advance(m, c); m == len(p.delim) {
			return len(a) + i + 1 - m
		}
	}
	return -1
}

// suffixMatch returns the matcher state after the last l-1 bytes of a+b.
func (p *Parser) suffixMatch(a, b []byte) int {
	keep := len(p.delim) - 1
	m := 0
	if len(b) < keep {
		from := max(0, len(a)-(keep-len(b)))
		for _, c := range a[from:] {
			m = p.advance(m, c)
		}
		for _, c := range b {
			m = p.advance(m, c)
		}
		return m
	}
	for _, c := range b[len(b)-keep:] {
		m = p.advance(m, c)
	}
	return m
}

func (p *Parser) advance(m int, c byte) int {
	for m > 0 && c != p.delim[m] {
		m = p.fail[m-1]
	}
	if c == p.delim[m] {
		m++
	}
	return m
}

// emit writes a then b to the active part and returns the number of bytes
// accepted.
func (p *Parser) emit(a, b []byte) (int, error) {
	n, err := p.write(a)
	if err != nil || n < len(a) {
		return n, err
	}
	m, err := p.write(b)
	return n + m, err
}

func (p *Parser) write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	switch p.part.kind {
	case partDirective:
		if len(p.part.directive)+len(b) > MaxDirectiveSize {
			return 0, &ParseError{Kind: ErrDirectiveTooLarge, Msg: "directive exceeds limit"}
		}
		p.part.directive = append(p.part.directive, b...)
		return len(b), nil
	case partAttachment:
		n, status := p.part.writer.Write(b)
		p.part.size += int64(n)
		p.stats.AttachmentBytes += int64(n)
		switch status {
		case attachment.WriteOK:
			if n < len(b) {
				return n, &ParseError{Kind: ErrWriteTruncated, Msg: p.part.attachmentID}
			}
			return n, nil
		case attachment.WriteOKBufferFull:
			return n, nil
		case attachment.WriteClosed:
			return n, &ParseError{Kind: ErrWriterClosed, Msg: p.part.attachmentID}
		default:
			return n, &ParseError{Kind: ErrWriterFailed, Msg: p.part.attachmentID, Err: errors.New(status.String())}
		}
	default:
		return len(b), nil
	}
}

// finishPart delivers a completed part.
func (p *Parser) finishPart() {
	switch p.part.kind {
	case partDirective:
		if len(p.part.directive) > 0 {
			p.stats.Directives++
			p.consumer.ConsumeMessage(p.contextID, string(p.part.directive))
		}
	case partAttachment:
		p.stats.Attachments++
		if err := p.part.writer.Close(); err != nil {
			p.logger.Warn("attachment writer close failed", map[string]any{
				"attachment_id": p.part.attachmentID,
				"error":         err.Error(),
			})
		}
		if p.observer != nil {
			p.observer.OnAttachment(p.contextID, p.part.attachmentID, p.part.contentID, p.part.size)
		}
	}
	p.part = part{}
}

// closePart drops the active part without delivering it.
func (p *Parser) closePart() {
	if p.part.kind == partAttachment && p.part.writer != nil {
		_ = p.part.writer.Close()
	}
	p.part = part{}
}

// failureTable builds the KMP prefix function for pattern.
func failureTable(pattern []byte) []int {
	f := make([]int, len(pattern))
	k := 0
	for i := 1; i < len(pattern); i++ {
		for k > 0 && pattern[i] != pattern[k] {
			k = f[k-1]
		}
		if pattern[i] == pattern[k] {
			k++
		}
		f[i] = k
	}
	return f
}
