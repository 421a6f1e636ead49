package export

import (
	"fmt"

	"github.com/guildump/guildump/internal/convert"
	"github.com/guildump/guildump/internal/guilded"
)

// Takeout record shapes.  Field order and naming follow the Discord
// data-package JSON, which is what Spacebar's importer reads.

type takeoutUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Email         string `json:"email"`
	Verified      bool   `json:"verified"`
	AvatarHash    string `json:"avatar_hash"`
	BannerHash    string `json:"banner_hash"`
}

type takeoutGuild struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Icon        string        `json:"icon"`
	Description string        `json:"description"`
	Splash      string        `json:"splash"`
	Banner      string        `json:"banner"`
	Roles       []takeoutRole `json:"roles"`
}

type takeoutRole struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Position    int    `json:"position"`
	Permissions string `json:"permissions"` // Discord serializes the bitmask as a string
}

type takeoutChannel struct {
	ID    string           `json:"id"`
	Type  int              `json:"type"`
	Name  string           `json:"name"`
	Topic string           `json:"topic"`
	Guild *takeoutGuildRef `json:"guild,omitempty"`
}

type takeoutGuildRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type takeoutAuthor struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator"`
	Avatar        *string `json:"avatar"`
}

type takeoutAttachment struct {
	ID       string `json:"id"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type takeoutMessage struct {
	ID              string              `json:"id"`
	Type            int                 `json:"type"`
	Content         string              `json:"content"`
	ChannelID       string              `json:"channel_id"`
	Author          takeoutAuthor       `json:"author"`
	Attachments     []takeoutAttachment `json:"attachments"`
	Embeds          []convert.Embed     `json:"embeds"`
	Mentions        []string            `json:"mentions"`
	MentionRoles    []string            `json:"mention_roles"`
	Pinned          bool                `json:"pinned"`
	Timestamp       string              `json:"timestamp"`
	EditedTimestamp *string             `json:"edited_timestamp"`
	TTS             bool                `json:"tts"`
	MentionEveryone bool                `json:"mention_everyone"`
	Reactions       []struct{}          `json:"reactions"`
	WebhookID       string              `json:"webhook_id,omitempty"`
}

// messageOf converts one Guilded message to the takeout shape.
func messageOf(m *guilded.Message, channelID string, r *convert.Reporter) takeoutMessage {
	users, roles := convert.Mentions(m.Content)

	var embeds []convert.Embed
	for _, ge := range m.Content.Embeds() {
		embeds = append(embeds, convert.EmbedOf(ge))
	}

	tm := takeoutMessage{
		ID:        m.ID,
		Content:   convert.Markdown(m.Content, r),
		ChannelID: channelID,
		Author: takeoutAuthor{
			ID:            m.CreatedBy,
			Username:      m.CreatedBy,
			Discriminator: "0",
		},
		Attachments:     attachmentsOf(m, channelID),
		Embeds:          emptyIfNil(embeds),
		Mentions:        emptyIfNil(users),
		MentionRoles:    emptyIfNil(roles),
		Timestamp:       m.CreatedAt,
		EditedTimestamp: m.UpdatedAt,
		Reactions:       []struct{}{},
		WebhookID:       m.WebhookID,
	}
	return tm
}

func attachmentsOf(m *guilded.Message, channelID string) []takeoutAttachment {
	aa := m.Content.Attachments()
	out := make([]takeoutAttachment, len(aa))
	for i, a := range aa {
		out[i] = takeoutAttachment{
			ID:       fmt.Sprintf("%s-%d", m.ID, i),
			URL:      a.URL,
			Filename: sanitizeFilename(a.Filename),
		}
	}
	return out
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// sanitizeFilename makes a name safe for common filesystems:
// forbidden characters become underscores and the length is capped.
func sanitizeFilename(name string) string {
	const maxLen = 250
	b := []byte(name)
	for i, c := range b {
		switch c {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			b[i] = '_'
		}
	}
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '_') {
		s = s[:len(s)-1]
	}
	if s == "" {
		return "untitled"
	}
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}
