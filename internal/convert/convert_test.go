package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildump/guildump/internal/guilded"
)

// doc builds a Document from raw Slate JSON, the way it arrives off
// the wire.
func doc(t *testing.T, s string) guilded.Document {
	t.Helper()
	var d guilded.Document
	require.NoError(t, json.Unmarshal([]byte(s), &d))
	return d
}

func TestMarkdown(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		json string
		want string
	}{
		{
			"plain paragraph",
			`{"object":"value","document":{"object":"document","nodes":[
				{"object":"block","type":"paragraph","nodes":[
					{"object":"text","leaves":[{"object":"leaf","text":"hello world"}]}]}]}}`,
			"hello world",
		},
		{
			"marks wrap the leaf",
			`{"document":{"nodes":[
				{"object":"block","type":"paragraph","nodes":[
					{"object":"text","leaves":[
						{"text":"b","marks":[{"type":"bold"}]},
						{"text":"i","marks":[{"type":"italic"}]},
						{"text":"u","marks":[{"type":"underline"}]},
						{"text":"s","marks":[{"type":"strikethrough"}]},
						{"text":"c","marks":[{"type":"inline-code-v2"}]}]}]}]}}`,
			"**b***i*__u__~~s~~`c`",
		},
		{
			"nested marks compose",
			`{"document":{"nodes":[
				{"object":"block","type":"paragraph","nodes":[
					{"object":"text","leaves":[
						{"text":"a","marks":[{"type":"bold"}]},
						{"text":"b","marks":[{"type":"italic"},{"type":"bold"}]}]}]}]}}`,
			"**a*****b***",
		},
		{
			"link with label",
			`{"document":{"nodes":[
				{"object":"block","type":"paragraph","nodes":[
					{"object":"inline","type":"link","data":{"href":"https://example.com"},"nodes":[
						{"object":"text","leaves":[{"text":"here"}]}]}]}]}}`,
			"[here](https://example.com)",
		},
		{
			"user and role mentions",
			`{"document":{"nodes":[
				{"object":"block","type":"paragraph","nodes":[
					{"object":"inline","type":"mention","data":{"mention":{"type":"person","id":"Ab12Cd34"}}},
					{"object":"text","leaves":[{"text":" and "}]},
					{"object":"inline","type":"mention","data":{"mention":{"type":"role","id":123456}}}]}]}}`,
			"<@Ab12Cd34> and <@&123456>",
		},
		{
			"channel mention prefers the channel payload",
			`{"document":{"nodes":[
				{"object":"block","type":"paragraph","nodes":[
					{"object":"inline","type":"mention","data":{
						"mention":{"type":"channel","id":"x"},
						"channel":{"id":"chan-1"}}}]}]}}`,
			"<#chan-1>",
		},
		{
			"here mention degrades to plain name",
			`{"document":{"nodes":[
				{"object":"block","type":"paragraph","nodes":[
					{"object":"inline","type":"mention","data":{"mention":{"type":"here","id":"here","name":"here"}}}]}]}}`,
			"@here",
		},
		{
			"static custom emoji",
			`{"document":{"nodes":[
				{"object":"block","type":"paragraph","nodes":[
					{"object":"inline","type":"reaction","data":{"reaction":{"id":90001,"customReaction":{"id":90001,"name":"blob"}}}}]}]}}`,
			"<:blob:90001>",
		},
		{
			"animated custom emoji",
			`{"document":{"nodes":[
				{"object":"block","type":"paragraph","nodes":[
					{"object":"inline","type":"reaction","data":{"reaction":{"id":90002,"customReaction":{"id":90002,"name":"party","apng":"https://cdn.gldcdn.com/x.apng"}}}}]}]}}`,
			"<a:party:90002>",
		},
		{
			"builtin emoji",
			`{"document":{"nodes":[
				{"object":"block","type":"paragraph","nodes":[
					{"object":"inline","type":"reaction","data":{"reaction":{"id":"thumbsup"}}}]}]}}`,
			":thumbsup:",
		},
		{
			"code line",
			`{"document":{"nodes":[
				{"object":"block","type":"code-line","nodes":[
					{"object":"text","leaves":[{"text":"x := 1"}]}]}]}}`,
			"`x := 1`",
		},
		{
			"code container with language",
			`{"document":{"nodes":[
				{"object":"block","type":"code-container","data":{"language":"go"},"nodes":[
					{"object":"block","type":"code-line","nodes":[{"object":"text","leaves":[{"text":"a := 1"}]}]},
					{"object":"block","type":"code-line","nodes":[{"object":"text","leaves":[{"text":"b := 2"}]}]}]}]}}`,
			"```go\na := 1\nb := 2\n```",
		},
		{
			"block quote",
			`{"document":{"nodes":[
				{"object":"block","type":"block-quote-container","nodes":[
					{"object":"block","type":"block-quote-line","nodes":[{"object":"text","leaves":[{"text":"wise words"}]}]}]}]}}`,
			"> wise words",
		},
		{
			"lists",
			`{"document":{"nodes":[
				{"object":"block","type":"unordered-list","nodes":[
					{"object":"block","type":"list-item","nodes":[{"object":"text","leaves":[{"text":"one"}]}]},
					{"object":"block","type":"list-item","nodes":[{"object":"text","leaves":[{"text":"two"}]}]}]},
				{"object":"block","type":"ordered-list","nodes":[
					{"object":"block","type":"list-item","nodes":[{"object":"text","leaves":[{"text":"first"}]}]}]}]}}`,
			"- one\n- two\n1. first",
		},
		{
			"headings",
			`{"document":{"nodes":[
				{"object":"block","type":"heading-large","nodes":[{"object":"text","leaves":[{"text":"Title"}]}]},
				{"object":"block","type":"heading-small","nodes":[{"object":"text","leaves":[{"text":"Sub"}]}]}]}}`,
			"# Title\n## Sub",
		},
		{
			"blocks join with newlines",
			`{"document":{"nodes":[
				{"object":"block","type":"paragraph","nodes":[{"object":"text","leaves":[{"text":"one"}]}]},
				{"object":"block","type":"paragraph","nodes":[{"object":"text","leaves":[{"text":"two"}]}]}]}}`,
			"one\ntwo",
		},
		{
			"empty document",
			`{"document":{"nodes":[]}}`,
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Reporter
			got := Markdown(doc(t, tt.json), &r)
			assert.Equal(t, tt.want, got)
			assert.Zero(t, r.Len(), "no notices expected: %v", r.Notices())
		})
	}
}

func TestMarkdown_unknownKinds(t *testing.T) {
	t.Parallel()

	t.Run("unknown block degrades to plain text with a notice", func(t *testing.T) {
		var r Reporter
		got := Markdown(doc(t, `{"document":{"nodes":[
			{"object":"block","type":"hologram","nodes":[
				{"object":"text","leaves":[{"text":"still readable"}]}]}]}}`), &r)
		assert.Equal(t, "still readable", got)
		require.Equal(t, 1, r.Len())
		assert.Equal(t, Notice{Kind: "node", Value: "hologram"}, r.Notices()[0])
	})
	t.Run("unknown mark leaves the text bare", func(t *testing.T) {
		var r Reporter
		got := Markdown(doc(t, `{"document":{"nodes":[
			{"object":"block","type":"paragraph","nodes":[
				{"object":"text","leaves":[{"text":"x","marks":[{"type":"sparkle"}]}]}]}]}}`), &r)
		assert.Equal(t, "x", got)
		assert.Equal(t, []Notice{{Kind: "mark", Value: "sparkle"}}, r.Notices())
	})
	t.Run("nil reporter does not panic", func(t *testing.T) {
		got := Markdown(doc(t, `{"document":{"nodes":[
			{"object":"block","type":"hologram","nodes":[
				{"object":"text","leaves":[{"text":"t"}]}]}]}}`), nil)
		assert.Equal(t, "t", got)
	})
}

func TestMentions(t *testing.T) {
	t.Parallel()
	d := doc(t, `{"document":{"nodes":[
		{"object":"block","type":"paragraph","nodes":[
			{"object":"inline","type":"mention","data":{"mention":{"type":"person","id":"U1"}}},
			{"object":"inline","type":"mention","data":{"mention":{"type":"person","id":"U1"}}},
			{"object":"inline","type":"mention","data":{"mention":{"type":"role","id":42}}},
			{"object":"inline","type":"mention","data":{"mention":{"type":"person","id":"U2"}}}]}]}}`)
	users, roles := Mentions(d)
	assert.Equal(t, []string{"U1", "U2"}, users, "duplicates collapse")
	assert.Equal(t, []string{"42"}, roles)
}

func TestChannelType(t *testing.T) {
	t.Parallel()
	tests := []struct {
		contentType string
		want        int
		emitted     bool
	}{
		{guilded.CTChat, GuildText, true},
		{guilded.CTVoice, GuildVoice, true},
		{guilded.CTStream, GuildStageVoice, true},
		{guilded.CTAnnouncement, GuildAnnouncement, true},
		{guilded.CTForum, GuildForum, true},
		{guilded.CTMedia, GuildMedia, true},
		{guilded.CTDocs, GuildForum, true},
		{guilded.CTList, GuildForum, true},
		{guilded.CTScheduling, 0, false},
		{"crystal-ball", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			var r Reporter
			got, ok := ChannelType(tt.contentType, &r)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.emitted, ok)
			if !tt.emitted {
				assert.Equal(t, 1, r.Len(), "dropped types must leave a notice")
			} else {
				assert.Zero(t, r.Len())
			}
		})
	}
}

func TestPermissions(t *testing.T) {
	t.Parallel()

	t.Run("granted flags OR together", func(t *testing.T) {
		var r Reporter
		got := Permissions(map[string]map[string]bool{
			"chat": {
				"CanReadChats":       true,
				"CanCreateChats":     true,
				"CanUploadChatMedia": true,
			},
		}, &r)
		assert.Equal(t, uint64(0x400|0x800|0x8000), got)
		assert.Zero(t, r.Len())
	})
	t.Run("unknown flag contributes nothing, leaves a notice", func(t *testing.T) {
		var r Reporter
		got := Permissions(map[string]map[string]bool{
			"chat": {
				"CanReadChats":      true,
				"UnknownFutureFlag": true,
			},
		}, &r)
		assert.Equal(t, uint64(0x400), got)
		assert.Equal(t, []Notice{{Kind: "permission", Value: "UnknownFutureFlag"}}, r.Notices())
	})
	t.Run("denied flags are ignored", func(t *testing.T) {
		got := Permissions(map[string]map[string]bool{
			"general": {"CanUpdateTeam": false},
		}, nil)
		assert.Zero(t, got)
	})
	t.Run("thread bits are beyond 32 bits", func(t *testing.T) {
		got := Permissions(map[string]map[string]bool{
			"chat": {"CanManageChatThreads": true},
		}, nil)
		assert.Equal(t, uint64(0x0004000000000000), got)
	})
}

func TestEmbedOf(t *testing.T) {
	t.Parallel()
	ge := guilded.Embed{
		Title:       "t",
		Description: "d",
		URL:         "https://example.com",
		Color:       0xFF0000,
		Timestamp:   "2025-10-01T00:00:00.000Z",
		Footer:      &guilded.EmbedFooter{Text: "f", IconURL: "https://s3-us-west-2.amazonaws.com/www.guilded.gg/icon.png"},
		Thumbnail:   &guilded.EmbedMedia{URL: "https://cdn.gldcdn.com/th.png"},
		Image:       &guilded.EmbedMedia{URL: "https://cdn.gldcdn.com/img.png"},
		Author:      &guilded.EmbedAuthor{Name: "a"},
		Fields:      []guilded.EmbedField{{Name: "n", Value: "v", Inline: true}},
	}
	e := EmbedOf(ge)
	assert.Equal(t, "t", e.Title)
	assert.Equal(t, 0xFF0000, e.Color)
	require.NotNil(t, e.Footer)
	assert.Equal(t, "https://cdn.gldcdn.com/icon.png", e.Footer.IconURL, "S3 URLs are rewritten to the CDN")
	require.Len(t, e.Fields, 1)
	assert.True(t, e.Fields[0].Inline)
}

func TestAvatarHash(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.gldcdn.com/UserAvatar/abcdef123-Large.png", "abcdef123"},
		{"https://cdn.gldcdn.com/UserAvatar/plainhash.png", "plainhash"},
		{"https://cdn.gldcdn.com/a/b-Small.webp?w=80", "b"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AvatarHash(tt.url), tt.url)
	}
}
