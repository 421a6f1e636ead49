// Package convert translates Guilded vocabulary into the Discord
// takeout dialect:  Slate.js content trees to markdown, channel
// content types and permission flags to their numeric Discord
// equivalents.  Conversion never fails;  anything the tables do not
// cover degrades to plain text (or nothing) and leaves a notice.
package convert

import (
	"fmt"
	"sync"
)

// Notice records one lossy conversion:  a node kind, mark, channel
// type or permission flag the destination format has no analogue for.
type Notice struct {
	Kind  string // "node", "mark", "channel_type", "permission"
	Value string // the source value that was dropped or degraded
}

func (n Notice) String() string {
	return fmt.Sprintf("%s: %q", n.Kind, n.Value)
}

// Reporter collects conversion notices.  It is safe for concurrent
// use, and a nil *Reporter silently discards everything.
type Reporter struct {
	mu sync.Mutex
	nn []Notice
}

// Report records one notice.
func (r *Reporter) Report(kind, value string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nn = append(r.nn, Notice{Kind: kind, Value: value})
}

// Notices returns a copy of the collected notices.
func (r *Reporter) Notices() []Notice {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	nn := make([]Notice, len(r.nn))
	copy(nn, r.nn)
	return nn
}

// Len returns the number of collected notices.
func (r *Reporter) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nn)
}
