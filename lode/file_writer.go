package lode

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/justapithecus/lode/lode"
)

// FileWriter writes files next to the dataset partitions, outside the
// segment and manifest machinery.
type FileWriter interface {
	// PutFile writes data under the session's files/ prefix. filename must
	// be a single path element.
	PutFile(ctx context.Context, filename, contentType string, data []byte) error
}

var _ FileWriter = (*LodeClient)(nil)

// PutFile implements FileWriter. The store is created on first use.
func (c *LodeClient) PutFile(ctx context.Context, filename, _ string, data []byte) error {
	if filename == "" || strings.ContainsAny(filename, `/\`) || filename == "." || filename == ".." {
		return fmt.Errorf("invalid file name %q", filename)
	}
	store, err := c.getOrCreateStore()
	if err != nil {
		return WrapInitError(err, c.config.Dataset)
	}
	path := c.buildFilePath(filename)
	if err := store.Put(ctx, path, bytes.NewReader(data)); err != nil {
		return WrapWriteError(err, path)
	}
	return nil
}

func (c *LodeClient) getOrCreateStore() (lode.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = c.storeFactory()
	})
	return c.store, c.storeErr
}

// buildFilePath returns
// datasets/<dataset>/partitions/source=<s>/day=<d>/session_id=<id>/files/<filename>.
func (c *LodeClient) buildFilePath(filename string) string {
	return fmt.Sprintf("datasets/%s/partitions/source=%s/day=%s/session_id=%s/files/%s",
		c.config.Dataset,
		c.config.Source,
		c.config.Day,
		c.config.SessionID,
		filename,
	)
}

// AttachmentFilename maps an attachment ID to a file name. Characters
// outside [A-Za-z0-9._-] become '_'.
func AttachmentFilename(attachmentID string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, attachmentID)
	if safe == "" || strings.Trim(safe, ".") == "" {
		safe = "attachment"
	}
	return safe + ".bin"
}

// StubFileWriter records PutFile calls.
type StubFileWriter struct {
	mu    sync.Mutex
	Files []StubFileRecord
}

// StubFileRecord is one recorded PutFile call.
type StubFileRecord struct {
	Filename    string
	ContentType string
	Data        []byte
}

// NewStubFileWriter creates a stub file writer.
func NewStubFileWriter() *StubFileWriter {
	return &StubFileWriter{}
}

// PutFile records the call.
func (w *StubFileWriter) PutFile(_ context.Context, filename, contentType string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Files = append(w.Files, StubFileRecord{Filename: filename, ContentType: contentType, Data: data})
	return nil
}

var _ FileWriter = (*StubFileWriter)(nil)
