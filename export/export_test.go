package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rusq/fsadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildump/guildump/internal/convert"
	"github.com/guildump/guildump/internal/guilded"
)

// countingFS wraps an fsadapter and counts the writes that actually
// reach it.
type countingFS struct {
	fsadapter.FS
	mu     sync.Mutex
	writes int
}

func (c *countingFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.FS.WriteFile(name, data, perm)
}

// queueRecorder records download requests instead of downloading.
type queueRecorder struct {
	mu   sync.Mutex
	reqs map[string][]string // dir -> urls
}

func newQueueRecorder() *queueRecorder {
	return &queueRecorder{reqs: make(map[string][]string)}
}

func (q *queueRecorder) Download(dir, url string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reqs[dir] = append(q.reqs[dir], url)
	return nil
}

func unmarshalInto[T any](t *testing.T, data string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(data), &v))
	return v
}

func readJSON[T any](t *testing.T, fn string) T {
	t.Helper()
	data, err := os.ReadFile(fn)
	require.NoError(t, err)
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func testMsg(t *testing.T, id, author, text string) guilded.Message {
	t.Helper()
	return unmarshalInto[guilded.Message](t, `{
		"id": "`+id+`",
		"createdBy": "`+author+`",
		"createdAt": "2025-10-01T12:00:00.000Z",
		"content": {"object":"value","document":{"object":"document","nodes":[
			{"object":"block","type":"paragraph","nodes":[
				{"object":"text","leaves":[{"object":"leaf","text":"`+text+`"}]}]}]}}
	}`)
}

func TestWriter_idempotence(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfs := &countingFS{FS: fsadapter.NewDirectory(dir)}
	w := NewWriter(cfs, dir)

	require.NoError(t, w.WriteJSON("a/file.json", map[string]string{"k": "v"}))
	assert.Equal(t, 1, cfs.writes)

	// identical payload is a no-op
	require.NoError(t, w.WriteJSON("a/file.json", map[string]string{"k": "v"}))
	assert.Equal(t, 1, cfs.writes)

	// changed payload goes through
	require.NoError(t, w.WriteJSON("a/file.json", map[string]string{"k": "v2"}))
	assert.Equal(t, 2, cfs.writes)
}

func TestWriter_rawJSONPreservesUnknownFields(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w := NewWriter(fsadapter.NewDirectory(dir), dir)

	raw := []byte(`{"id":"x","futureField":{"deep":[1,2,3]}}`)
	require.NoError(t, w.WriteRawJSON("rec.json", raw))

	got := readJSON[map[string]any](t, filepath.Join(dir, "rec.json"))
	assert.Contains(t, got, "futureField")
}

func TestRawExporter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	w := NewWriter(fsadapter.NewDirectory(dir), dir)
	q := newQueueRecorder()
	e := NewRaw(w, dir, q)

	me := unmarshalInto[guilded.Me](t, `{"user":{"id":"U1","name":"tester"},"teams":[],"unknownField":true}`)
	require.NoError(t, e.Account(ctx, &me))

	team := unmarshalInto[guilded.Team](t, `{"id":"T1","name":"srv","customTeamField":"kept"}`)
	require.NoError(t, e.TeamInfo(ctx, &team))

	ch := unmarshalInto[guilded.Channel](t, `{"id":"C1","name":"general","contentType":"chat"}`)
	require.NoError(t, e.Channels(ctx, "T1", []guilded.Channel{ch}))
	require.NoError(t, e.ChannelInfo(ctx, &ch))

	// two pages, newest first
	m2 := testMsg(t, "m-002", "U1", "newer")
	m1 := testMsg(t, "m-001", "U1", "older")
	require.NoError(t, e.Messages(ctx, "C1", false, []guilded.Message{m2}))
	require.NoError(t, e.Messages(ctx, "C1", true, []guilded.Message{m1}))

	require.NoError(t, e.Close())

	t.Run("user.json keeps unknown fields", func(t *testing.T) {
		got := readJSON[map[string]any](t, filepath.Join(dir, "user.json"))
		assert.Contains(t, got, "unknownField")
	})
	t.Run("server info is enveloped", func(t *testing.T) {
		got := readJSON[map[string]map[string]any](t, filepath.Join(dir, "server_T1_info.json"))
		require.Contains(t, got, "team")
		assert.Equal(t, "kept", got["team"]["customTeamField"])
	})
	t.Run("messages are written oldest first", func(t *testing.T) {
		got := readJSON[struct {
			Messages []guilded.Message `json:"messages"`
		}](t, filepath.Join(dir, "channel_C1_messages.json"))
		require.Len(t, got.Messages, 2)
		assert.Equal(t, "m-001", got.Messages[0].ID)
		assert.Equal(t, "m-002", got.Messages[1].ID)
	})
	t.Run("readme exists", func(t *testing.T) {
		_, err := os.Stat(filepath.Join(dir, "README.txt"))
		assert.NoError(t, err)
	})
	t.Run("attachments queue to the flat attachments dir", func(t *testing.T) {
		m := testMsg(t, "m-003", "U1", "x")
		require.NoError(t, e.Files(ctx, "C1", m, []guilded.Attachment{{URL: "https://cdn.gldcdn.com/a.png", Filename: "a.png"}}))
		assert.Equal(t, []string{"https://cdn.gldcdn.com/a.png"}, q.reqs[filepath.Join(dir, "attachments")])
	})
}

func TestRawExporter_threads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	e := NewRaw(NewWriter(fsadapter.NewDirectory(dir), dir), dir, nil)

	th := unmarshalInto[guilded.Channel](t, `{"id":"TH1","name":"a thread","contentType":"chat","parentChannelId":"C1"}`)
	require.NoError(t, e.ChannelInfo(ctx, &th))
	require.NoError(t, e.ThreadMessages(ctx, &th, true, []guilded.Message{testMsg(t, "t-001", "U1", "hi")}))

	_, err := os.Stat(filepath.Join(dir, "threads", "C1", "TH1", "thread.json"))
	assert.NoError(t, err)
	got := readJSON[struct {
		Messages []guilded.Message `json:"messages"`
	}](t, filepath.Join(dir, "threads", "C1", "TH1", "messages.json"))
	require.Len(t, got.Messages, 1)
}

// TestRawExporter_resume covers the crash window between a page
// checkpoint and the channel's file write:  the first exporter dies
// before the last page, a fresh one finishes the channel.  The resumed
// page overlaps the abandoned run's tail, as it does after a crash
// right before the checkpoint.
func TestRawExporter_resume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	ch := unmarshalInto[guilded.Channel](t, `{"id":"C1","name":"general","contentType":"chat"}`)
	m3 := testMsg(t, "m-003", "U1", "newest")
	m2 := testMsg(t, "m-002", "U1", "middle")
	m1 := testMsg(t, "m-001", "U1", "oldest")

	e1 := NewRaw(NewWriter(fsadapter.NewDirectory(dir), dir), dir, nil)
	require.NoError(t, e1.ChannelInfo(ctx, &ch))
	require.NoError(t, e1.Messages(ctx, "C1", false, []guilded.Message{m3, m2}))
	assert.FileExists(t, filepath.Join(dir, spoolDirname, "C1.jsonl"),
		"a page must be on disk before the crawler moves past it")

	e2 := NewRaw(NewWriter(fsadapter.NewDirectory(dir), dir), dir, nil)
	require.NoError(t, e2.ChannelInfo(ctx, &ch))
	require.NoError(t, e2.Messages(ctx, "C1", true, []guilded.Message{m2, m1}))

	got := readJSON[struct {
		Messages []guilded.Message `json:"messages"`
	}](t, filepath.Join(dir, "channel_C1_messages.json"))
	require.Len(t, got.Messages, 3, "no page may be lost or doubled across runs")
	assert.Equal(t, "m-001", got.Messages[0].ID)
	assert.Equal(t, "m-002", got.Messages[1].ID)
	assert.Equal(t, "m-003", got.Messages[2].ID)

	_, err := os.Stat(filepath.Join(dir, spoolDirname, "C1.jsonl"))
	assert.True(t, os.IsNotExist(err), "spool file must be cleaned up after the flush")
}

func TestTakeoutExporter_resume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	channels := []guilded.Channel{
		unmarshalInto[guilded.Channel](t, `{"id":"C1","name":"general","contentType":"chat"}`),
	}
	m3 := testMsg(t, "m-003", "U1", "newest")
	m2 := testMsg(t, "m-002", "U1", "middle")
	m1 := testMsg(t, "m-001", "U1", "oldest")

	e1 := NewTakeout(NewWriter(fsadapter.NewDirectory(dir), dir), dir, nil, nil)
	require.NoError(t, e1.Channels(ctx, "T1", channels))
	require.NoError(t, e1.Messages(ctx, "C1", false, []guilded.Message{m3, m2}))

	e2 := NewTakeout(NewWriter(fsadapter.NewDirectory(dir), dir), dir, nil, nil)
	require.NoError(t, e2.Channels(ctx, "T1", channels))
	require.NoError(t, e2.Messages(ctx, "C1", true, []guilded.Message{m2, m1}))

	mm := readJSON[[]takeoutMessage](t, filepath.Join(dir, "messages", "cC1", "messages.json"))
	require.Len(t, mm, 3)
	assert.Equal(t, "m-001", mm[0].ID)
	assert.Equal(t, "m-002", mm[1].ID)
	assert.Equal(t, "m-003", mm[2].ID)

	_, err := os.Stat(filepath.Join(dir, spoolDirname, "C1.jsonl"))
	assert.True(t, os.IsNotExist(err))
}

func Test_spool(t *testing.T) {
	t.Parallel()

	t.Run("truncated tail line is dropped", func(t *testing.T) {
		dir := t.TempDir()
		s := newSpool(dir)
		require.NoError(t, s.append("C1", []json.RawMessage{
			[]byte(`{"id":"m-001"}`),
			[]byte(`{"id":"m-002"}`),
		}))
		// simulate a crash mid-write of a later page
		f, err := os.OpenFile(s.filename("C1"), os.O_WRONLY|os.O_APPEND, 0644)
		require.NoError(t, err)
		_, err = f.WriteString(`{"id":"m-0`)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		recs, err := s.load("C1")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.JSONEq(t, `{"id":"m-002"}`, string(recs[1]))
	})
	t.Run("disabled without a base dir", func(t *testing.T) {
		s := newSpool("")
		assert.False(t, s.enabled())
		require.NoError(t, s.append("C1", []json.RawMessage{[]byte(`{}`)}))
		recs, err := s.load("C1")
		require.NoError(t, err)
		assert.Empty(t, recs)
		require.NoError(t, s.remove("C1"))
	})
	t.Run("load of a never-written conversation is empty", func(t *testing.T) {
		s := newSpool(t.TempDir())
		recs, err := s.load("C1")
		require.NoError(t, err)
		assert.Empty(t, recs)
		require.NoError(t, s.remove("C1"))
	})
}

func TestTakeoutExporter(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	w := NewWriter(fsadapter.NewDirectory(dir), dir)
	q := newQueueRecorder()
	var r convert.Reporter
	e := NewTakeout(w, dir, q, &r)

	me := unmarshalInto[guilded.Me](t, `{"user":{"id":"U1","name":"tester","profilePicture":"https://cdn.gldcdn.com/UserAvatar/abc123-Large.png"},"email":"t@example.com"}`)
	require.NoError(t, e.Account(ctx, &me))

	team := unmarshalInto[guilded.Team](t, `{"id":"T1","name":"srv","description":"d","profilePicture":"https://cdn.gldcdn.com/TeamAvatar/icon99-Large.png"}`)
	require.NoError(t, e.TeamInfo(ctx, &team))

	roles := map[string]guilded.Role{
		"10": unmarshalInto[guilded.Role](t, `{"id":10,"name":"Admin","priority":2,"permissions":{"general":{"CanUpdateTeam":true},"chat":{"CanReadChats":true}}}`),
		"20": unmarshalInto[guilded.Role](t, `{"id":20,"name":"Member","priority":1,"permissions":{"chat":{"CanReadChats":true,"CanCreateChats":true}}}`),
	}
	require.NoError(t, e.Roles(ctx, "T1", roles))

	channels := []guilded.Channel{
		unmarshalInto[guilded.Channel](t, `{"id":"C1","name":"general","contentType":"chat","description":"talk","teamName":"srv"}`),
		unmarshalInto[guilded.Channel](t, `{"id":"C2","name":"handbook","contentType":"docs"}`),
		unmarshalInto[guilded.Channel](t, `{"id":"C3","name":"calendar","contentType":"scheduling"}`),
	}
	require.NoError(t, e.Channels(ctx, "T1", channels))

	pinnedMsg := testMsg(t, "m-001", "U1", "old pinned")
	require.NoError(t, e.Pinned(ctx, "C1", []guilded.Message{pinnedMsg}))

	m2 := testMsg(t, "m-002", "U1", "newest")
	require.NoError(t, e.Messages(ctx, "C1", true, []guilded.Message{m2, pinnedMsg}))

	// docs channel gets a reply thread
	th := unmarshalInto[guilded.Channel](t, `{"id":"TH1","name":"chapter one","contentType":"chat","parentChannelId":"C2"}`)
	require.NoError(t, e.ChannelInfo(ctx, &th))
	require.NoError(t, e.ThreadMessages(ctx, &th, true, []guilded.Message{testMsg(t, "t-001", "U2", "body")}))

	require.NoError(t, e.Close())

	t.Run("account user with avatar hash", func(t *testing.T) {
		u := readJSON[takeoutUser](t, filepath.Join(dir, "account", "user.json"))
		assert.Equal(t, "U1", u.ID)
		assert.Equal(t, "tester", u.Username)
		assert.Equal(t, "0", u.Discriminator)
		assert.Equal(t, "abc123", u.AvatarHash)
		assert.Equal(t, [][]string{{"https://cdn.gldcdn.com/UserAvatar/abc123-Large.png"}},
			[][]string{q.reqs[filepath.Join(dir, "account")]}, "avatar queued for download")
	})
	t.Run("chat channel maps to text", func(t *testing.T) {
		c := readJSON[takeoutChannel](t, filepath.Join(dir, "messages", "cC1", "channel.json"))
		assert.Equal(t, convert.GuildText, c.Type)
		assert.Equal(t, "talk", c.Topic)
		require.NotNil(t, c.Guild)
		assert.Equal(t, "T1", c.Guild.ID)
	})
	t.Run("docs channel flattens to forum with threads dir", func(t *testing.T) {
		c := readJSON[takeoutChannel](t, filepath.Join(dir, "messages", "cC2", "channel.json"))
		assert.Equal(t, convert.GuildForum, c.Type)

		tc := readJSON[takeoutChannel](t, filepath.Join(dir, "messages", "cC2", "threads", "TH1", "channel.json"))
		assert.Equal(t, discordPublicThread, tc.Type)
		mm := readJSON[[]takeoutMessage](t, filepath.Join(dir, "messages", "cC2", "threads", "TH1", "messages.json"))
		require.Len(t, mm, 1)
		assert.Equal(t, "body", mm[0].Content)
	})
	t.Run("scheduling channel is dropped with a notice", func(t *testing.T) {
		_, err := os.Stat(filepath.Join(dir, "messages", "cC3"))
		assert.True(t, os.IsNotExist(err))
		var found bool
		for _, n := range r.Notices() {
			if n.Kind == "channel_type" && n.Value == "scheduling" {
				found = true
			}
		}
		assert.True(t, found)
	})
	t.Run("messages ascend and carry pinned flags", func(t *testing.T) {
		mm := readJSON[[]takeoutMessage](t, filepath.Join(dir, "messages", "cC1", "messages.json"))
		require.Len(t, mm, 2)
		assert.Equal(t, "m-001", mm[0].ID)
		assert.True(t, mm[0].Pinned)
		assert.Equal(t, "m-002", mm[1].ID)
		assert.False(t, mm[1].Pinned)
		assert.Equal(t, "old pinned", mm[0].Content)
		assert.Equal(t, "U1", mm[0].Author.ID)
		assert.NotNil(t, mm[0].Attachments, "empty attachments must marshal as []")
	})
	t.Run("index lists emitted channels only", func(t *testing.T) {
		idx := readJSON[map[string]string](t, filepath.Join(dir, "messages", "index.json"))
		assert.Equal(t, map[string]string{"C1": "general", "C2": "handbook"}, idx)
	})
	t.Run("guild record with converted roles", func(t *testing.T) {
		g := readJSON[takeoutGuild](t, filepath.Join(dir, "servers", "T1", "guild.json"))
		assert.Equal(t, "srv", g.Name)
		assert.Equal(t, "icon99", g.Icon)
		require.Len(t, g.Roles, 2)
		// ordered by position, descending
		assert.Equal(t, "Admin", g.Roles[0].Name)
		assert.Equal(t, "1056", g.Roles[0].Permissions, "MANAGE_GUILD|VIEW_CHANNEL")
		assert.Equal(t, "3072", g.Roles[1].Permissions, "VIEW_CHANNEL|SEND_MESSAGES")
	})
	t.Run("audit log is empty", func(t *testing.T) {
		data, err := os.ReadFile(filepath.Join(dir, "servers", "T1", "audit-log.json"))
		require.NoError(t, err)
		assert.Equal(t, "[]", string(data))
	})
}

func TestTakeout_attachmentRouting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	q := newQueueRecorder()
	e := NewTakeout(NewWriter(fsadapter.NewDirectory(dir), dir), dir, q, nil)

	require.NoError(t, e.Channels(ctx, "T1", []guilded.Channel{
		unmarshalInto[guilded.Channel](t, `{"id":"C1","name":"g","contentType":"chat"}`),
	}))
	th := unmarshalInto[guilded.Channel](t, `{"id":"TH1","name":"t","contentType":"chat","parentChannelId":"C1"}`)
	require.NoError(t, e.ChannelInfo(ctx, &th))

	m := testMsg(t, "m-001", "U1", "x")
	aa := []guilded.Attachment{{URL: "https://cdn.gldcdn.com/f.png", Filename: "f.png"}}
	require.NoError(t, e.Files(ctx, "C1", m, aa))
	require.NoError(t, e.Files(ctx, "TH1", m, aa))

	assert.Contains(t, q.reqs, filepath.Join(dir, "messages", "cC1", "attachments"))
	assert.Contains(t, q.reqs, filepath.Join(dir, "messages", "cC1", "threads", "TH1", "attachments"))
}

func Test_sanitizeFilename(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want string }{
		{"normal.png", "normal.png"},
		{`bad<>:"/\|?*.txt`, "bad_________.txt"},
		{"trailing _ ", "trailing"},
		{"", "untitled"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeFilename(tt.in), tt.in)
	}
}

func Test_messageOf_webhook(t *testing.T) {
	t.Parallel()
	m := unmarshalInto[guilded.Message](t, `{"id":"m1","createdBy":"Ann6LewA","createdAt":"2025-01-01T00:00:00.000Z","webhookId":"wh-1","content":{"document":{"nodes":[]}}}`)
	tm := messageOf(&m, "C1", nil)
	assert.Equal(t, "wh-1", tm.WebhookID)
	assert.Empty(t, tm.Content)
}
