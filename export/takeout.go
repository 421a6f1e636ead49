package export

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/guildump/guildump/internal/convert"
	"github.com/guildump/guildump/internal/guilded"
	"github.com/guildump/guildump/processor"
)

// discordPublicThread is the Discord channel type for reply threads.
const discordPublicThread = 11

// TakeoutExporter writes the Discord takeout layout:  account/,
// messages/ with one directory per channel, servers/<id>/.  Records
// pass through the converter on the way;  whatever the conversion
// drops lands in the notice reporter, never in an error.
type TakeoutExporter struct {
	w       *Writer
	q       FileQueuer
	baseDir string
	r       *convert.Reporter
	sp      *spool

	mu      sync.Mutex
	team    *guilded.Team
	roles   map[string]guilded.Role
	index   map[string]string // channel ID -> name, for messages/index.json
	dropped map[string]bool   // channels with no takeout analogue
	parent  map[string]string // thread ID -> parent channel ID
	loaded  map[string]bool   // conversations with spooled pages merged in
	pinned  map[string]map[string]bool
	convos  map[string][]takeoutMessage
}

var _ processor.Exporter = (*TakeoutExporter)(nil)

// NewTakeout returns a takeout exporter.  baseDir is the local output
// directory used for attachment downloads;  q may be nil to skip
// downloads;  r collects the conversion notices and may be nil.
func NewTakeout(w *Writer, baseDir string, q FileQueuer, r *convert.Reporter) *TakeoutExporter {
	return &TakeoutExporter{
		w:       w,
		q:       q,
		baseDir: baseDir,
		r:       r,
		sp:      newSpool(baseDir),
		roles:   make(map[string]guilded.Role),
		index:   make(map[string]string),
		dropped: make(map[string]bool),
		parent:  make(map[string]string),
		loaded:  make(map[string]bool),
		pinned:  make(map[string]map[string]bool),
		convos:  make(map[string][]takeoutMessage),
	}
}

func (e *TakeoutExporter) Account(ctx context.Context, me *guilded.Me) error {
	u := takeoutUser{
		ID:            me.User.ID,
		Username:      me.User.Name,
		Discriminator: "0", // Discord dropped discriminators
		Email:         me.Email,
		Verified:      true,
		AvatarHash:    convert.AvatarHash(me.User.ProfilePicture),
		BannerHash:    convert.AvatarHash(me.User.ProfileBannerLg),
	}
	if err := e.w.WriteJSON(path.Join("account", "user.json"), u); err != nil {
		return err
	}
	if e.q != nil && me.User.ProfilePicture != "" {
		if err := e.q.Download(filepath.Join(e.baseDir, "account"), me.User.ProfilePicture); err != nil {
			return err
		}
	}
	return nil
}

func (e *TakeoutExporter) TeamInfo(ctx context.Context, team *guilded.Team) error {
	e.mu.Lock()
	e.team = team
	e.mu.Unlock()
	// guild.json is written at Close, once the roles have arrived
	return e.w.WriteJSON(path.Join("servers", team.ID, "audit-log.json"), []struct{}{})
}

func (e *TakeoutExporter) Roles(ctx context.Context, teamID string, roles map[string]guilded.Role) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, r := range roles {
		e.roles[id] = r
	}
	return nil
}

// Groups have no takeout analogue;  channel categories are not part of
// the Discord data package.
func (e *TakeoutExporter) Groups(ctx context.Context, teamID string, gg []guilded.Group) error {
	return nil
}

// Members are not part of the Discord data package either.
func (e *TakeoutExporter) Members(ctx context.Context, teamID string, mm []guilded.Member) error {
	return nil
}

func (e *TakeoutExporter) Channels(ctx context.Context, teamID string, cc []guilded.Channel) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range cc {
		ch := &cc[i]
		if ch.IsThread() {
			continue
		}
		dtype, ok := convert.ChannelType(ch.ContentType, e.r)
		if !ok {
			e.dropped[ch.ID] = true
			continue
		}
		e.index[ch.ID] = ch.Name
		tc := takeoutChannel{
			ID:    ch.ID,
			Type:  dtype,
			Name:  ch.Name,
			Topic: ch.Description,
			Guild: &takeoutGuildRef{ID: teamID, Name: ch.TeamName},
		}
		if err := e.w.WriteJSON(channelDir(ch.ID, "channel.json"), tc); err != nil {
			return err
		}
	}
	return nil
}

func (e *TakeoutExporter) ChannelInfo(ctx context.Context, ch *guilded.Channel) error {
	if !ch.IsThread() {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parent[ch.ID] = ch.ParentChannelID
	return nil
}

func (e *TakeoutExporter) Pinned(ctx context.Context, channelID string, mm []guilded.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make(map[string]bool, len(mm))
	for i := range mm {
		ids[mm[i].ID] = true
	}
	e.pinned[channelID] = ids
	return nil
}

func (e *TakeoutExporter) Messages(ctx context.Context, channelID string, isLast bool, mm []guilded.Message) error {
	e.mu.Lock()
	if e.dropped[channelID] {
		e.mu.Unlock()
		return nil
	}
	if err := e.recover(channelID); err != nil {
		e.mu.Unlock()
		return err
	}
	page := make([]takeoutMessage, 0, len(mm))
	for i := range mm {
		tm := messageOf(&mm[i], channelID, e.r)
		tm.Pinned = e.pinned[channelID][tm.ID]
		page = append(page, tm)
	}
	e.convos[channelID] = append(e.convos[channelID], page...)
	e.mu.Unlock()
	// spooled before returning, so the crawler's checkpoint never gets
	// ahead of what is on disk
	if err := e.spoolPage(channelID, page); err != nil {
		return err
	}
	if !isLast {
		return nil
	}
	e.mu.Lock()
	msgs := ascending(dedup(e.convos[channelID], takeoutID))
	delete(e.convos, channelID)
	delete(e.loaded, channelID)
	e.mu.Unlock()
	if err := e.w.WriteJSON(channelDir(channelID, "messages.json"), msgs); err != nil {
		return err
	}
	return e.sp.remove(channelID)
}

func (e *TakeoutExporter) ThreadMessages(ctx context.Context, th *guilded.Channel, isLast bool, mm []guilded.Message) error {
	e.mu.Lock()
	if e.dropped[th.ParentChannelID] {
		e.mu.Unlock()
		return nil
	}
	if err := e.recover(th.ID); err != nil {
		e.mu.Unlock()
		return err
	}
	page := make([]takeoutMessage, 0, len(mm))
	for i := range mm {
		page = append(page, messageOf(&mm[i], th.ID, e.r))
	}
	e.convos[th.ID] = append(e.convos[th.ID], page...)
	e.mu.Unlock()
	if err := e.spoolPage(th.ID, page); err != nil {
		return err
	}
	if !isLast {
		return nil
	}
	e.mu.Lock()
	msgs := ascending(dedup(e.convos[th.ID], takeoutID))
	delete(e.convos, th.ID)
	delete(e.loaded, th.ID)
	e.mu.Unlock()

	dir := threadDir(th.ParentChannelID, th.ID)
	tc := takeoutChannel{
		ID:    th.ID,
		Type:  discordPublicThread,
		Name:  th.Name,
		Topic: th.Description,
	}
	if err := e.w.WriteJSON(path.Join(dir, "channel.json"), tc); err != nil {
		return err
	}
	if err := e.w.WriteJSON(path.Join(dir, "messages.json"), msgs); err != nil {
		return err
	}
	return e.sp.remove(th.ID)
}

// recover merges the pages a previous run spooled for the conversation
// ahead of the current run's.  Caller holds e.mu.
func (e *TakeoutExporter) recover(id string) error {
	if e.loaded[id] {
		return nil
	}
	e.loaded[id] = true
	recs, err := e.sp.load(id)
	if err != nil || len(recs) == 0 {
		return err
	}
	prev := make([]takeoutMessage, 0, len(recs))
	for _, r := range recs {
		var tm takeoutMessage
		if err := json.Unmarshal(r, &tm); err != nil {
			return err
		}
		prev = append(prev, tm)
	}
	e.convos[id] = append(prev, e.convos[id]...)
	return nil
}

// spoolPage spools one converted page.
func (e *TakeoutExporter) spoolPage(id string, page []takeoutMessage) error {
	if !e.sp.enabled() || len(page) == 0 {
		return nil
	}
	recs := make([]json.RawMessage, len(page))
	for i := range page {
		b, err := json.Marshal(&page[i])
		if err != nil {
			return err
		}
		recs[i] = b
	}
	return e.sp.append(id, recs)
}

func takeoutID(m takeoutMessage) string { return m.ID }

func (e *TakeoutExporter) Files(ctx context.Context, channelID string, parent guilded.Message, aa []guilded.Attachment) error {
	if e.q == nil {
		return nil
	}
	e.mu.Lock()
	dir := channelDir(channelID, "attachments")
	if pid, ok := e.parent[channelID]; ok {
		dir = path.Join(threadDir(pid, channelID), "attachments")
	}
	dropped := e.dropped[channelID] || e.dropped[e.parent[channelID]]
	e.mu.Unlock()
	if dropped {
		return nil
	}
	for _, a := range aa {
		if err := e.q.Download(filepath.Join(e.baseDir, filepath.FromSlash(dir)), a.URL); err != nil {
			return err
		}
	}
	return nil
}

// Close writes the run-level files that depend on the full crawl:  the
// channel index, the guild record with converted roles, and the
// README.
func (e *TakeoutExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.w.WriteJSON(path.Join("messages", "index.json"), e.index); err != nil {
		return err
	}
	if e.team != nil {
		g := takeoutGuild{
			ID:          e.team.ID,
			Name:        e.team.Name,
			Icon:        convert.AvatarHash(e.team.ProfilePicture),
			Description: e.team.Description,
			Splash:      convert.AvatarHash(e.team.TeamDashImage),
			Banner:      convert.AvatarHash(e.team.HomeBannerImgLg),
			Roles:       e.takeoutRoles(),
		}
		if err := e.w.WriteJSON(path.Join("servers", e.team.ID, "guild.json"), g); err != nil {
			return err
		}
	}
	return e.w.WriteData("README.txt", []byte(takeoutReadme(time.Now())))
}

// takeoutRoles converts the collected role set, ordered by priority
// then ID for a stable output.
func (e *TakeoutExporter) takeoutRoles() []takeoutRole {
	rr := make([]takeoutRole, 0, len(e.roles))
	for id, r := range e.roles {
		mask := convert.Permissions(r.Permissions, e.r)
		rr = append(rr, takeoutRole{
			ID:          id,
			Name:        r.Name,
			Color:       r.Color,
			Position:    r.Priority,
			Permissions: strconv.FormatUint(mask, 10),
		})
	}
	sort.Slice(rr, func(i, j int) bool {
		if rr[i].Position != rr[j].Position {
			return rr[i].Position > rr[j].Position
		}
		return rr[i].ID < rr[j].ID
	})
	return rr
}

func channelDir(channelID string, elem ...string) string {
	return path.Join(append([]string{"messages", "c" + channelID}, elem...)...)
}

func threadDir(parentID, threadID string) string {
	return channelDir(parentID, "threads", threadID)
}

func takeoutReadme(now time.Time) string {
	return fmt.Sprintf(`GUILDED DATA EXPORT (Discord Takeout Format)

This export contains your Guilded server data in Discord takeout format,
compatible with Spacebar import.

Export Structure:
- account/          Your user account data and avatar
- messages/         All channel messages with full metadata
- servers/          Server/guild information

Attachments are stored per channel under attachments/, named by content
hash.  For more information about importing this data into Spacebar,
please refer to the Spacebar documentation.

Export created: %s
`, now.Format("2006-01-02 15:04:05"))
}
