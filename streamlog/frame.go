// Package streamlog records the raw bytes of transport streams.
//
// A stream log is a sequence of length-prefixed frames: a 4-byte big-endian
// payload length followed by a msgpack-encoded Record. Logs are written when
// stream logging is enabled and read back by the replay command.
package streamlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// RecordType discriminates stream log records.
type RecordType string

// Record types.
const (
	// RecordOpen is written once when the stream is created.
	RecordOpen RecordType = "open"
	// RecordHeader carries one response header line.
	RecordHeader RecordType = "header"
	// RecordIn carries response body bytes.
	RecordIn RecordType = "in"
	// RecordOut carries request body bytes.
	RecordOut RecordType = "out"
	// RecordClose is written when the stream is released.
	RecordClose RecordType = "close"
)

// Record is one stream log entry.
type Record struct {
	Type     RecordType `msgpack:"type"`
	StreamID uint32     `msgpack:"stream_id"`
	// At is the capture time in Unix nanoseconds.
	At     int64  `msgpack:"at"`
	Method string `msgpack:"method,omitempty"`
	URL    string `msgpack:"url,omitempty"`
	Line   string `msgpack:"line,omitempty"`
	Data   []byte `msgpack:"data,omitempty"`
	Status int    `msgpack:"status,omitempty"`
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the rest of the log cannot be trusted.
// A truncated tail is expected when the process died mid-write.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorTooLarge || e.Kind == FrameErrorDecode
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// Encoder writes records as frames.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates a new frame encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one record.
func (e *Encoder) Encode(rec *Record) error {
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode stream record: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}
	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)
	_, err = e.w.Write(frame)
	return err
}

// Decoder reads records from a frame stream.
type Decoder struct {
	reader io.Reader
}

// NewDecoder creates a new frame decoder.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{reader: r}
}

// ReadFrame reads a single frame and returns its raw payload.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit
func (d *Decoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}
	return payload, nil
}

// Decode reads and decodes the next record.
func (d *Decoder) Decode() (*Record, error) {
	payload, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode stream record",
			Err:  err,
		}
	}
	return &rec, nil
}
