package lode

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/voxlink/types"
)

func TestLodeClient_WriteDirectives(t *testing.T) {
	store := lode.NewMemory()
	cfg := testConfig()
	client, err := NewLodeClientWithFactory(cfg, sharedFactory(store))
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory: %v", err)
	}

	if err := client.WriteDirectives(t.Context(), []*types.Directive{testDirective(0), testDirective(1)}); err != nil {
		t.Fatalf("WriteDirectives: %v", err)
	}
	if err := client.WriteDirectives(t.Context(), []*types.Directive{testDirective(2)}); err != nil {
		t.Fatalf("WriteDirectives: %v", err)
	}
	if err := client.WriteDirectives(t.Context(), nil); err != nil {
		t.Fatalf("WriteDirectives(nil): %v", err)
	}

	ds, err := NewReadDataset(cfg.Dataset, sharedFactory(store))
	if err != nil {
		t.Fatalf("NewReadDataset: %v", err)
	}
	recs, err := readKind(t.Context(), ds, RecordKindDirective)
	if err != nil {
		t.Fatalf("readKind: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("directive records = %d, want 3", len(recs))
	}
	seqs := map[string]int64{}
	for _, r := range recs {
		seqs[toString(r["message_id"])] = toInt64(r["seq"])
		if toString(r["session_id"]) != cfg.SessionID || toString(r["source"]) != cfg.Source {
			t.Errorf("partition fields = %v/%v", r["session_id"], r["source"])
		}
		if toString(r["namespace"]) != "SpeechSynthesizer" {
			t.Errorf("namespace = %v", r["namespace"])
		}
	}
	for i, id := range []string{"m-a", "m-b", "m-c"} {
		if seqs[id] != int64(i+1) {
			t.Errorf("seq[%s] = %d, want %d", id, seqs[id], i+1)
		}
	}
}

func TestLodeClient_WriteAttachments(t *testing.T) {
	store := lode.NewMemory()
	cfg := testConfig()
	client, err := NewLodeClientWithFactory(cfg, sharedFactory(store))
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory: %v", err)
	}

	att := testAttachment("speak-1", "opus-bytes")
	if err := client.WriteAttachments(t.Context(), []*types.AttachmentRecord{att}); err != nil {
		t.Fatalf("WriteAttachments: %v", err)
	}

	path := client.buildFilePath(AttachmentFilename(att.AttachmentID))
	if !strings.Contains(path, "session_id=sess-1/files/ACL_LOGICAL_HTTP2_STREAM_ID_1_speak-1.bin") {
		t.Errorf("file path = %s", path)
	}
	rc, err := store.Get(t.Context(), path)
	if err != nil {
		t.Fatalf("Get(%s): %v", path, err)
	}
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(got) != "opus-bytes" {
		t.Errorf("file contents = %q, want %q", got, "opus-bytes")
	}

	ds, err := NewReadDataset(cfg.Dataset, sharedFactory(store))
	if err != nil {
		t.Fatalf("NewReadDataset: %v", err)
	}
	recs, err := readKind(t.Context(), ds, RecordKindAttachment)
	if err != nil {
		t.Fatalf("readKind: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("attachment records = %d, want 1", len(recs))
	}
	if toString(recs[0]["file"]) != path || toInt64(recs[0]["size_bytes"]) != 10 {
		t.Errorf("attachment record = %v", recs[0])
	}
	if _, ok := recs[0]["data"]; ok {
		t.Error("attachment record carries inline data")
	}
}

func TestLodeClient_WriteFailureClassified(t *testing.T) {
	fs := &failingStore{putErr: errors.New("AccessDenied: 403 Forbidden")}
	client, err := NewLodeClientWithFactory(testConfig(), sharedFactory(fs))
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory: %v", err)
	}

	err = client.WriteDirectives(t.Context(), []*types.Directive{testDirective(0)})
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("error = %T %v, want *StorageError", err, err)
	}
	if se.Op != "write" || !errors.Is(err, ErrAccessDenied) {
		t.Errorf("StorageError = %v, want write/access denied", se)
	}

	// A failed write does not advance seq.
	fs.putErr = nil
	if err := client.WriteDirectives(t.Context(), []*types.Directive{testDirective(1)}); err != nil {
		t.Fatalf("WriteDirectives after recovery: %v", err)
	}
	if client.seq != 1 {
		t.Errorf("seq = %d, want 1", client.seq)
	}
}

func TestLodeClient_AttachmentPutFailureWritesNoMetadata(t *testing.T) {
	fs := &failingStore{putErr: errors.New("no space left on device")}
	client, err := NewLodeClientWithFactory(testConfig(), sharedFactory(fs))
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory: %v", err)
	}

	err = client.WriteAttachments(t.Context(), []*types.AttachmentRecord{testAttachment("a", "x"), testAttachment("b", "y")})
	if !errors.Is(err, ErrDiskFull) {
		t.Fatalf("error = %v, want ErrDiskFull", err)
	}
	if fs.putCalls != 1 || !strings.Contains(fs.putPaths[0], "/files/") {
		t.Errorf("puts = %d %v, want the first file only", fs.putCalls, fs.putPaths)
	}
}

func TestLodeClient_StoreFactoryFailure(t *testing.T) {
	factoryErr := errors.New("dial tcp 10.0.0.1:443: connection refused")
	client, err := NewLodeClientWithFactory(testConfig(), func() (lode.Store, error) { return nil, factoryErr })
	if err != nil {
		// Dataset creation may probe the factory eagerly.
		if !errors.Is(err, ErrNetwork) {
			t.Fatalf("init error = %v, want ErrNetwork", err)
		}
		return
	}
	err = client.PutFile(t.Context(), "x.bin", "application/octet-stream", []byte("x"))
	if !errors.Is(err, ErrNetwork) {
		t.Errorf("PutFile error = %v, want ErrNetwork", err)
	}
}

func TestLodeClient_PutFileRejectsPaths(t *testing.T) {
	client, err := NewLodeClientWithFactory(testConfig(), lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewLodeClientWithFactory: %v", err)
	}
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if err := client.PutFile(t.Context(), name, "", nil); err == nil {
			t.Errorf("PutFile(%q) succeeded", name)
		}
	}
}

func TestAttachmentFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"ctx:speak-1", "ctx_speak-1.bin"},
		{"a/b/../c", "a_b_.._c.bin"},
		{"", "attachment.bin"},
		{"..", "attachment.bin"},
		{"résumé.mp3", "r_sum_.mp3.bin"},
	}
	for _, tt := range tests {
		if got := AttachmentFilename(tt.in); got != tt.want {
			t.Errorf("AttachmentFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/voxlink", "bucket", "voxlink"},
		{"bucket/a/b", "bucket", "a/b"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = %q, %q; want %q, %q", tt.in, b, p, tt.bucket, tt.prefix)
		}
	}
	cfg := S3Config{}
	if cfg.Validate() == nil {
		t.Error("Validate accepted an empty bucket")
	}
}
