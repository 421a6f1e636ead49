package export

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/guildump/guildump/internal/guilded"
	"github.com/guildump/guildump/processor"
)

// RawExporter writes the lossless archive:  re-indented wire bytes in
// the flat per-server layout, with per-thread subdirectories.  Nothing
// is converted;  fields the typed model does not know about survive.
type RawExporter struct {
	w       *Writer
	q       FileQueuer
	baseDir string
	sp      *spool

	mu      sync.Mutex
	teamID  string
	convos  map[string]*rawConvo
	threads map[string]*rawConvo
}

type rawConvo struct {
	ch     *guilded.Channel
	loaded bool // spooled pages of a previous run merged in
	msgs   []json.RawMessage
}

var _ processor.Exporter = (*RawExporter)(nil)

// NewRaw returns a raw archive exporter.  q may be nil, in which case
// attachments are not downloaded.
func NewRaw(w *Writer, baseDir string, q FileQueuer) *RawExporter {
	return &RawExporter{
		w:       w,
		q:       q,
		baseDir: baseDir,
		sp:      newSpool(baseDir),
		convos:  make(map[string]*rawConvo),
		threads: make(map[string]*rawConvo),
	}
}

// envelope re-wraps record wire bytes in the response shape the API
// returned them in, so the archive file reads exactly like the
// endpoint did.
func envelope(key string, raw json.RawMessage) any {
	return map[string]json.RawMessage{key: raw}
}

func rawSlice[T any](items []T, rawOf func(*T) json.RawMessage) []json.RawMessage {
	rr := make([]json.RawMessage, len(items))
	for i := range items {
		rr[i] = rawOf(&items[i])
	}
	return rr
}

func (e *RawExporter) Account(ctx context.Context, me *guilded.Me) error {
	return e.w.WriteRawJSON("user.json", me.Raw)
}

func (e *RawExporter) TeamInfo(ctx context.Context, team *guilded.Team) error {
	e.mu.Lock()
	e.teamID = team.ID
	e.mu.Unlock()
	return e.w.WriteJSON(fmt.Sprintf("server_%s_info.json", team.ID), envelope("team", team.Raw))
}

func (e *RawExporter) Channels(ctx context.Context, teamID string, cc []guilded.Channel) error {
	rr := rawSlice(cc, func(c *guilded.Channel) json.RawMessage { return c.Raw })
	return e.w.WriteJSON(fmt.Sprintf("server_%s_channels.json", teamID), map[string]any{"channels": rr})
}

func (e *RawExporter) Members(ctx context.Context, teamID string, mm []guilded.Member) error {
	rr := rawSlice(mm, func(m *guilded.Member) json.RawMessage { return m.Raw })
	return e.w.WriteJSON(fmt.Sprintf("server_%s_members.json", teamID), map[string]any{"members": rr})
}

func (e *RawExporter) Groups(ctx context.Context, teamID string, gg []guilded.Group) error {
	rr := rawSlice(gg, func(g *guilded.Group) json.RawMessage { return g.Raw })
	return e.w.WriteJSON(fmt.Sprintf("server_%s_groups.json", teamID), map[string]any{"groups": rr})
}

func (e *RawExporter) Roles(ctx context.Context, teamID string, roles map[string]guilded.Role) error {
	rr := make(map[string]json.RawMessage, len(roles))
	for id, r := range roles {
		rr[id] = r.Raw
	}
	return e.w.WriteJSON(fmt.Sprintf("server_%s_roles.json", teamID), map[string]any{"roles": rr})
}

func (e *RawExporter) ChannelInfo(ctx context.Context, ch *guilded.Channel) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ch.IsThread() {
		e.threads[ch.ID] = &rawConvo{ch: ch}
	} else {
		e.convos[ch.ID] = &rawConvo{ch: ch}
	}
	return nil
}

func (e *RawExporter) Pinned(ctx context.Context, channelID string, mm []guilded.Message) error {
	if len(mm) == 0 {
		return nil
	}
	rr := rawSlice(mm, func(m *guilded.Message) json.RawMessage { return m.Raw })
	return e.w.WriteJSON(fmt.Sprintf("channel_%s_pinned.json", channelID), map[string]any{"messages": rr})
}

func (e *RawExporter) Messages(ctx context.Context, channelID string, isLast bool, mm []guilded.Message) error {
	page := rawSlice(mm, func(m *guilded.Message) json.RawMessage { return m.Raw })
	e.mu.Lock()
	cv := e.convos[channelID]
	if cv == nil {
		cv = &rawConvo{}
		e.convos[channelID] = cv
	}
	if err := e.recover(channelID, cv); err != nil {
		e.mu.Unlock()
		return err
	}
	cv.msgs = append(cv.msgs, page...)
	e.mu.Unlock()
	// spooled before returning, so the crawler's checkpoint never gets
	// ahead of what is on disk
	if err := e.sp.append(channelID, page); err != nil {
		return err
	}
	if !isLast {
		return nil
	}
	return e.flushChannel(channelID, cv)
}

// recover merges the pages a previous run spooled for the
// conversation ahead of the current run's.  Caller holds e.mu.
func (e *RawExporter) recover(id string, cv *rawConvo) error {
	if cv.loaded {
		return nil
	}
	cv.loaded = true
	prev, err := e.sp.load(id)
	if err != nil {
		return err
	}
	if len(prev) > 0 {
		cv.msgs = append(prev, cv.msgs...)
	}
	return nil
}

// flushChannel writes the accumulated history, oldest first.  Pages
// arrive newest first, so the buffer is reversed before writing.
func (e *RawExporter) flushChannel(channelID string, cv *rawConvo) error {
	e.mu.Lock()
	msgs := ascending(dedup(cv.msgs, rawID))
	var chRaw json.RawMessage
	if cv.ch != nil {
		chRaw = cv.ch.Raw
	}
	e.mu.Unlock()
	if err := e.w.WriteJSON(fmt.Sprintf("channel_%s_messages.json", channelID), map[string]any{
		"channel":  chRaw,
		"messages": msgs,
	}); err != nil {
		return err
	}
	return e.sp.remove(channelID)
}

func (e *RawExporter) ThreadMessages(ctx context.Context, th *guilded.Channel, isLast bool, mm []guilded.Message) error {
	page := rawSlice(mm, func(m *guilded.Message) json.RawMessage { return m.Raw })
	e.mu.Lock()
	tv := e.threads[th.ID]
	if tv == nil {
		tv = &rawConvo{ch: th}
		e.threads[th.ID] = tv
	}
	if err := e.recover(th.ID, tv); err != nil {
		e.mu.Unlock()
		return err
	}
	tv.msgs = append(tv.msgs, page...)
	e.mu.Unlock()
	if err := e.sp.append(th.ID, page); err != nil {
		return err
	}
	if !isLast {
		return nil
	}
	e.mu.Lock()
	msgs := ascending(dedup(tv.msgs, rawID))
	e.mu.Unlock()
	dir := path.Join("threads", th.ParentChannelID, th.ID)
	if err := e.w.WriteRawJSON(path.Join(dir, "thread.json"), th.Raw); err != nil {
		return err
	}
	if err := e.w.WriteJSON(path.Join(dir, "messages.json"), map[string]any{"messages": msgs}); err != nil {
		return err
	}
	return e.sp.remove(th.ID)
}

func (e *RawExporter) Files(ctx context.Context, channelID string, parent guilded.Message, aa []guilded.Attachment) error {
	if e.q == nil {
		return nil
	}
	dir := filepath.Join(e.baseDir, "attachments")
	for _, a := range aa {
		if err := e.q.Download(dir, a.URL); err != nil {
			return err
		}
	}
	return nil
}

func (e *RawExporter) Close() error {
	e.mu.Lock()
	teamID := e.teamID
	e.mu.Unlock()
	return e.w.WriteData("README.txt", []byte(rawReadme(teamID, time.Now())))
}

// ascending reverses a newest-first buffer into id order.
func ascending[T any](mm []T) []T {
	out := make([]T, len(mm))
	for i := range mm {
		out[len(mm)-1-i] = mm[i]
	}
	return out
}

// dedup drops records whose id was seen already, keeping the first
// occurrence.  A crash between the spool append and the cursor
// checkpoint makes the next run deliver that page a second time;  the
// spooled copy wins.
func dedup[T any](mm []T, id func(T) string) []T {
	seen := make(map[string]bool, len(mm))
	out := mm[:0:0]
	for _, m := range mm {
		k := id(m)
		if k != "" && seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, m)
	}
	return out
}

func rawID(r json.RawMessage) string {
	var v struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(r, &v); err != nil {
		return ""
	}
	return v.ID
}

func rawReadme(teamID string, now time.Time) string {
	return fmt.Sprintf(`GUILDED RAW DATA EXPORT

This export contains raw JSON responses from the Guilded API.

Server: %s
Export Date: %s

Files:
- user.json - Your user data
- server_*_info.json - Server information
- server_*_channels.json - Channel list
- channel_*_messages.json - Messages per channel
- channel_*_pinned.json - Pinned messages per channel
- server_*_members.json - Server members
- server_*_groups.json - Server groups
- server_*_roles.json - Server roles
- threads/ - Reply thread messages per channel
- attachments/ - Downloaded attachment files, named by content hash

This raw data preserves all Guilded-specific fields and can be used to
write custom importers for Spacebar or other platforms.
`, teamID, now.Format("2006-01-02 15:04:05"))
}
