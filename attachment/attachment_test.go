package attachment

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestManager_GenerateAttachmentID(t *testing.T) {
	m := NewManager()

	tests := []struct {
		contextID string
		contentID string
		want      string
	}{
		{"ctx", "cid", "ctx:cid"},
		{"", "cid", "cid"},
		{"ctx", "", "ctx"},
	}
	for _, tt := range tests {
		if got := m.GenerateAttachmentID(tt.contextID, tt.contentID); got != tt.want {
			t.Errorf("GenerateAttachmentID(%q, %q) = %q, want %q", tt.contextID, tt.contentID, got, tt.want)
		}
	}
}

func TestManager_WriteThenRead(t *testing.T) {
	m := NewManager()

	w, err := m.CreateWriter("a", NonBlocking)
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	r, err := m.CreateReader("a", NonBlocking)
	if err != nil {
		t.Fatalf("CreateReader: %v", err)
	}

	n, status := w.Write([]byte("hello"))
	if n != 5 || status != WriteOK {
		t.Fatalf("Write = (%d, %v), want (5, ok)", n, status)
	}

	buf := make([]byte, 16)
	n, rstatus := r.Read(buf)
	if rstatus != ReadOK || string(buf[:n]) != "hello" {
		t.Fatalf("Read = (%q, %v), want (hello, ok)", buf[:n], rstatus)
	}

	_, rstatus = r.Read(buf)
	if rstatus != ReadOKWouldBlock {
		t.Fatalf("Read on empty buffer = %v, want ok_would_block", rstatus)
	}

	_ = w.Close()
	_, rstatus = r.Read(buf)
	if rstatus != ReadClosed {
		t.Fatalf("Read after writer close = %v, want closed", rstatus)
	}
	_ = r.Close()

	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0 after both ends closed", m.Len())
	}
	stats := m.Stats()
	if stats.Created != 1 || stats.Completed != 1 || stats.Bytes != 5 {
		t.Errorf("Stats = %+v, want created=1 completed=1 bytes=5", stats)
	}
}

func TestManager_BufferFull(t *testing.T) {
	m := NewManager(WithBufferSize(4))

	w, _ := m.CreateWriter("a", NonBlocking)
	r, _ := m.CreateReader("a", NonBlocking)

	n, status := w.Write([]byte("abcdef"))
	if n != 4 || status != WriteOKBufferFull {
		t.Fatalf("Write = (%d, %v), want (4, ok_buffer_full)", n, status)
	}

	n, status = w.Write([]byte("ef"))
	if n != 0 || status != WriteOKBufferFull {
		t.Fatalf("Write on full buffer = (%d, %v), want (0, ok_buffer_full)", n, status)
	}

	buf := make([]byte, 3)
	if n, _ := r.Read(buf); n != 3 {
		t.Fatalf("Read = %d, want 3", n)
	}

	n, status = w.Write([]byte("ef"))
	if n != 2 || status != WriteOK {
		t.Fatalf("Write after drain = (%d, %v), want (2, ok)", n, status)
	}
}

func TestManager_WriteAfterReaderClosed(t *testing.T) {
	m := NewManager()
	w, _ := m.CreateWriter("a", NonBlocking)
	r, _ := m.CreateReader("a", NonBlocking)
	_ = r.Close()

	if _, status := w.Write([]byte("x")); status != WriteClosed {
		t.Errorf("Write = %v, want closed", status)
	}
}

func TestManager_WriteAfterWriterClosed(t *testing.T) {
	m := NewManager()
	w, _ := m.CreateWriter("a", NonBlocking)
	_ = w.Close()

	if _, status := w.Write([]byte("x")); status != WriteError {
		t.Errorf("Write = %v, want error", status)
	}
}

func TestManager_DuplicateEnds(t *testing.T) {
	m := NewManager()
	if _, err := m.CreateWriter("a", NonBlocking); err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	if _, err := m.CreateWriter("a", NonBlocking); !errors.Is(err, ErrDuplicateWriter) {
		t.Errorf("second CreateWriter err = %v, want ErrDuplicateWriter", err)
	}
	if _, err := m.CreateReader("a", NonBlocking); err != nil {
		t.Fatalf("CreateReader: %v", err)
	}
	if _, err := m.CreateReader("a", NonBlocking); !errors.Is(err, ErrDuplicateReader) {
		t.Errorf("second CreateReader err = %v, want ErrDuplicateReader", err)
	}
	if _, err := m.CreateWriter("", NonBlocking); err == nil {
		t.Error("CreateWriter with empty id succeeded")
	}
}

func TestManager_BlockingReadTimesOut(t *testing.T) {
	m := NewManager(WithReadTimeout(10 * time.Millisecond))
	r, _ := m.CreateReader("a", Blocking)

	buf := make([]byte, 4)
	if _, status := r.Read(buf); status != ReadOKTimedOut {
		t.Errorf("Read = %v, want ok_timed_out", status)
	}
}

func TestManager_BlockingReadWakesOnWrite(t *testing.T) {
	m := NewManager(WithReadTimeout(5 * time.Second))
	r, _ := m.CreateReader("a", Blocking)
	w, _ := m.CreateWriter("a", NonBlocking)

	go func() {
		time.Sleep(10 * time.Millisecond)
		w.Write([]byte("late"))
	}()

	buf := make([]byte, 8)
	n, status := r.Read(buf)
	if status != ReadOK || string(buf[:n]) != "late" {
		t.Errorf("Read = (%q, %v), want (late, ok)", buf[:n], status)
	}
}

func TestManager_Remove(t *testing.T) {
	m := NewManager()
	w, _ := m.CreateWriter("a", NonBlocking)
	m.Remove("a")
	m.Remove("missing")

	if _, status := w.Write([]byte("x")); status != WriteClosed {
		t.Errorf("Write after Remove = %v, want closed", status)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want 0", m.Len())
	}
}

func TestStreamReader(t *testing.T) {
	r := NewStreamReader(strings.NewReader("payload"))

	var out bytes.Buffer
	buf := make([]byte, 3)
	for {
		n, status := r.Read(buf)
		out.Write(buf[:n])
		if status == ReadClosed {
			break
		}
		if status != ReadOK {
			t.Fatalf("Read status = %v, want ok", status)
		}
	}
	if out.String() != "payload" {
		t.Errorf("read %q, want payload", out.String())
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestStreamReader_Error(t *testing.T) {
	r := NewStreamReader(failingReader{})
	if _, status := r.Read(make([]byte, 4)); status != ReadError {
		t.Errorf("Read status = %v, want error", status)
	}
}

func TestReader_OnReady(t *testing.T) {
	m := NewManager(WithBufferSize(4))
	w, _ := m.CreateWriter("a", NonBlocking)
	r, _ := m.CreateReader("a", NonBlocking)

	calls := 0
	n, ok := r.(ReadyNotifier)
	if !ok {
		t.Fatal("manager reader does not implement ReadyNotifier")
	}
	n.OnReady(func() { calls++ })

	if _, status := r.Read(make([]byte, 4)); status != ReadOKWouldBlock {
		t.Fatalf("empty read status = %s, want %s", status, ReadOKWouldBlock)
	}
	if calls != 0 {
		t.Errorf("calls before write = %d, want 0", calls)
	}
	if _, status := w.Write([]byte("ab")); status != WriteOK {
		t.Fatalf("Write status = %s", status)
	}
	if calls != 1 {
		t.Errorf("calls after write = %d, want 1", calls)
	}
	_ = w.Close()
	if calls != 2 {
		t.Errorf("calls after writer close = %d, want 2", calls)
	}
}
