package convert

import "github.com/guildump/guildump/internal/guilded"

// Discord channel type values, as they appear in takeout archives.
const (
	GuildText         = 0
	GuildVoice        = 2
	GuildAnnouncement = 5
	GuildStageVoice   = 13
	GuildForum        = 15
	GuildMedia        = 16
)

// channelTypes maps Guilded content types to Discord channel types.
// docs and list channels have no Discord analogue and are flattened to
// forums;  scheduling is absent on purpose and gets dropped by the
// caller.
var channelTypes = map[string]int{
	guilded.CTChat:         GuildText,
	guilded.CTVoice:        GuildVoice,
	guilded.CTStream:       GuildStageVoice,
	guilded.CTAnnouncement: GuildAnnouncement,
	guilded.CTForum:        GuildForum,
	guilded.CTMedia:        GuildMedia,
	guilded.CTDocs:         GuildForum,
	guilded.CTList:         GuildForum,
}

// ChannelType maps a Guilded content type to the Discord channel type.
// The second return value is false for content types absent from the
// table (scheduling, and whatever Guilded ships next):  those channels
// are not emitted, and the drop is reported to r.
func ChannelType(contentType string, r *Reporter) (int, bool) {
	if t, ok := channelTypes[contentType]; ok {
		return t, true
	}
	r.Report("channel_type", contentType)
	return 0, false
}
