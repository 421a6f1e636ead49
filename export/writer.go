// Package export writes the two archive layouts:  the lossless raw
// archive and the Discord takeout conversion.  Both implement
// processor.Exporter, so the crawler feeds either (or both) without
// knowing which.
package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rusq/fsadapter"
)

// FileQueuer queues attachment downloads.  downloader.Client satisfies
// it.
type FileQueuer interface {
	Download(dir string, url string) error
}

// Writer writes archive files through an fsadapter, skipping the write
// when the target already holds byte-identical content.  Rewriting an
// archive in place is therefore a no-op, not a modification.
type Writer struct {
	fs fsadapter.FS
	// readBack is the local directory backing fs, used for the
	// content-hash check.  Empty (zip output) disables the check and
	// every write goes through.
	readBack string
}

// NewWriter returns a Writer over fs.  dir is the local directory that
// backs fs, or empty when there is none.
func NewWriter(fs fsadapter.FS, dir string) *Writer {
	return &Writer{fs: fs, readBack: dir}
}

// WriteData writes data to name unless the existing file content
// already matches.
func (w *Writer) WriteData(name string, data []byte) error {
	if w.readBack != "" {
		if existing, err := os.ReadFile(filepath.Join(w.readBack, name)); err == nil {
			if sha256.Sum256(existing) == sha256.Sum256(data) {
				return nil
			}
		}
	}
	return w.fs.WriteFile(name, data, 0644)
}

// WriteJSON marshals v with the takeout indentation and writes it.
func (w *Writer) WriteJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return w.WriteData(name, data)
}

// WriteRawJSON re-indents raw wire bytes and writes them, preserving
// every field the typed model does not know about.
func (w *Writer) WriteRawJSON(name string, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		// not JSON after all, keep the bytes as they came
		return w.WriteData(name, raw)
	}
	return w.WriteData(name, buf.Bytes())
}
