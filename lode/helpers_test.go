package lode

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/voxlink/types"
)

var testDay = time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Dataset:   "voxlink",
		Source:    "avs-na",
		Day:       DeriveDay(testDay),
		SessionID: "sess-1",
	}
}

// sharedFactory lets write and read datasets see the same memory store.
func sharedFactory(store lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return store, nil }
}

func testDirective(n int) *types.Directive {
	return &types.Directive{
		ContextID:  "ACL_LOGICAL_HTTP2_STREAM_ID_1",
		Namespace:  "SpeechSynthesizer",
		Name:       "Speak",
		MessageID:  "m-" + string(rune('a'+n)),
		Message:    `{"directive":{}}`,
		ReceivedAt: testDay,
	}
}

func testAttachment(id, data string) *types.AttachmentRecord {
	return &types.AttachmentRecord{
		AttachmentID: "ACL_LOGICAL_HTTP2_STREAM_ID_1:" + id,
		ContextID:    "ACL_LOGICAL_HTTP2_STREAM_ID_1",
		ContentID:    id,
		Size:         int64(len(data)),
		Data:         []byte(data),
		ReceivedAt:   testDay,
	}
}

// readKind returns every record of kind across all snapshots.
func readKind(ctx context.Context, ds lode.Dataset, kind string) ([]map[string]any, error) {
	snaps, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []map[string]any
	for _, snap := range snaps {
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, err
		}
		for _, item := range data {
			rec, ok := item.(map[string]any)
			if !ok || rec["record_kind"] != kind {
				continue
			}
			key := toString(rec["message_id"]) + toString(rec["attachment_id"]) + toString(rec["completed_at"])
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, rec)
		}
	}
	return out, nil
}

// failingStore is a lode.Store whose writes fail with putErr.
type failingStore struct {
	putErr   error
	putCalls int
	putPaths []string
}

func (s *failingStore) Put(_ context.Context, path string, _ io.Reader) error {
	s.putCalls++
	s.putPaths = append(s.putPaths, path)
	return s.putErr
}

func (s *failingStore) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	return nil, nil
}

func (s *failingStore) Exists(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (s *failingStore) List(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

func (s *failingStore) Delete(_ context.Context, _ string) error {
	return nil
}

func (s *failingStore) ReadRange(_ context.Context, _ string, _, _ int64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (s *failingStore) ReaderAt(_ context.Context, _ string) (io.ReaderAt, error) {
	return nil, errors.New("not implemented")
}

var _ lode.Store = (*failingStore)(nil)
