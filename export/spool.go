package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
)

// spoolDirname is the scratch directory inside the output that holds
// the per-conversation page spools of an unfinished run.
const spoolDirname = ".guildump-spool"

// spool persists message pages as JSON lines, one file per
// conversation.  The archive file for a conversation is written only
// when its last page arrives, while the crawler checkpoints its cursor
// after every page;  the spool covers the window in between, so the
// pages an interrupted run had already checkpointed are recovered by
// the next one instead of being lost.  The spool file is removed once
// the conversation's archive file is on disk.
type spool struct {
	dir string
}

// newSpool returns the spool rooted at baseDir.  An empty baseDir (ZIP
// output, where runs never resume) disables it.
func newSpool(baseDir string) *spool {
	if baseDir == "" {
		return &spool{}
	}
	return &spool{dir: filepath.Join(baseDir, spoolDirname)}
}

func (s *spool) enabled() bool { return s.dir != "" }

func (s *spool) filename(id string) string {
	return filepath.Join(s.dir, id+".jsonl")
}

// append appends the page's records to the conversation's spool file.
// It must return before the caller lets the crawler advance its
// cursor.  The page goes out in a single write, so a crash leaves at
// most one truncated trailing line.
func (s *spool) append(id string, recs []json.RawMessage) error {
	if !s.enabled() || len(recs) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return err
	}
	var buf bytes.Buffer
	for _, r := range recs {
		if err := json.Compact(&buf, r); err != nil {
			return err
		}
		buf.WriteByte('\n')
	}
	f, err := os.OpenFile(s.filename(id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// load returns the records a previous run spooled for the
// conversation, in the order they were appended.  A truncated trailing
// line belongs to a page that was never checkpointed;  the crawler
// fetches that page again, so the line is dropped.
func (s *spool) load(id string) ([]json.RawMessage, error) {
	if !s.enabled() {
		return nil, nil
	}
	data, err := os.ReadFile(s.filename(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var recs []json.RawMessage
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		recs = append(recs, json.RawMessage(bytes.Clone(line)))
	}
	return recs, nil
}

// remove deletes the conversation's spool file.
func (s *spool) remove(id string) error {
	if !s.enabled() {
		return nil
	}
	if err := os.Remove(s.filename(id)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
