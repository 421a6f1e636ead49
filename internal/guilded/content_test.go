package guilded

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDoc(t *testing.T, src string) Document {
	t.Helper()
	var d Document
	require.NoError(t, json.Unmarshal([]byte(src), &d))
	return d
}

func TestDocument_Attachments(t *testing.T) {
	d := mustDoc(t, `{"document":{"nodes":[
		{"object":"block","type":"image","data":{"src":"https://s3-us-west-2.amazonaws.com/www.guilded.gg/ContentMedia/pic.png"}},
		{"object":"block","type":"fileUpload","data":{"fileSrc":"https://cdn.gldcdn.com/ContentMedia/doc.pdf","name":"report.pdf"}},
		{"object":"block","type":"paragraph","nodes":[
			{"object":"inline","type":"image","data":{"src":"https://cdn.gldcdn.com/ContentMedia/inline.gif"}}
		]}
	]}}`)
	aa := d.Attachments()
	require.Len(t, aa, 3)
	assert.Equal(t, "https://cdn.gldcdn.com/ContentMedia/pic.png", aa[0].URL, "stale S3 URL must be rewritten")
	assert.Equal(t, "pic.png", aa[0].Filename, "filename falls back to the URL path")
	assert.Equal(t, "report.pdf", aa[1].Filename, "explicit name wins")
	assert.Equal(t, "https://cdn.gldcdn.com/ContentMedia/inline.gif", aa[2].URL, "nested nodes are walked")
}

func TestDocument_Embeds(t *testing.T) {
	d := mustDoc(t, `{"document":{"nodes":[
		{"object":"block","type":"webhookMessage","data":{"embeds":[{"title":"one"},{"title":"two"}]}},
		{"object":"block","type":"paragraph","data":{}}
	]}}`)
	ee := d.Embeds()
	require.Len(t, ee, 2)
	assert.Equal(t, "one", ee[0].Title)
}

func TestDocument_IsEmpty(t *testing.T) {
	assert.True(t, mustDoc(t, `{"document":{}}`).IsEmpty())
	assert.False(t, mustDoc(t, `{"document":{"nodes":[{"object":"block"}]}}`).IsEmpty())
}

func TestFlexID(t *testing.T) {
	var m Mention
	require.NoError(t, json.Unmarshal([]byte(`{"type":"person","id":"AbCd1234"}`), &m))
	assert.Equal(t, FlexID("AbCd1234"), m.ID)
	// role IDs arrive numeric
	require.NoError(t, json.Unmarshal([]byte(`{"type":"role","id":28094457}`), &m))
	assert.Equal(t, FlexID("28094457"), m.ID)

	b, err := json.Marshal(FlexID("28094457"))
	require.NoError(t, err)
	assert.Equal(t, `28094457`, string(b), "numeric IDs round-trip as numbers")
	b, err = json.Marshal(FlexID("AbCd1234"))
	require.NoError(t, err)
	assert.Equal(t, `"AbCd1234"`, string(b))
}

func TestMessage_rawCapture(t *testing.T) {
	src := `{"id":"M1","createdBy":"U1","createdAt":"2025-08-01T12:30:00Z","content":{"document":{}},"someFutureField":42}`
	var m Message
	require.NoError(t, json.Unmarshal([]byte(src), &m))
	assert.Equal(t, "M1", m.ID)
	assert.Contains(t, string(m.Raw), "someFutureField", "unknown fields survive in Raw")
	assert.Equal(t, 2025, m.Timestamp().Year())

	m.CreatedAt = "not a timestamp"
	assert.True(t, m.Timestamp().IsZero())
}

func TestChannel_flags(t *testing.T) {
	var ch Channel
	require.NoError(t, json.Unmarshal([]byte(`{"id":"TH1","contentType":"chat","parentChannelId":"C1","archivedAt":"2025-01-01T00:00:00Z"}`), &ch))
	assert.True(t, ch.IsThread())
	assert.True(t, ch.IsArchived())
}

func TestCustomReaction_IsAnimated(t *testing.T) {
	apng := "https://cdn.gldcdn.com/emoji/x.apng"
	assert.True(t, (&CustomReaction{APNG: &apng}).IsAnimated())
	assert.False(t, (&CustomReaction{}).IsAnimated())
}

func TestRolePerm_Flags(t *testing.T) {
	rp := RolePerm{Permissions: map[string]map[string]bool{
		"chat":    {"CanReadChats": true, "CanCreateChats": false},
		"general": {"CanUpdateTeam": true},
	}}
	ff := rp.Flags()
	assert.ElementsMatch(t, []string{"CanReadChats", "CanUpdateTeam"}, ff)
}
