// Package processor defines the interfaces between the crawler and its
// consumers.  The crawler knows how to page through the API;  what
// happens to the records — raw archiving, takeout conversion — is the
// processor's business.  One crawl, any number of independent
// downstream consumers.
package processor

import (
	"context"
	"io"

	"github.com/guildump/guildump/internal/guilded"
)

// Conversations is the interface for channel and thread message
// processing with attachments.
type Conversations interface {
	Messenger
	Filer
	ChannelInformer

	io.Closer
}

// ChannelInformer receives channel metadata.
type ChannelInformer interface {
	// ChannelInfo is called once for each channel before its messages.
	ChannelInfo(ctx context.Context, ch *guilded.Channel) error
	// Pinned is called with the pinned messages of a channel.  It may
	// be called with an empty slice.
	Pinned(ctx context.Context, channelID string, mm []guilded.Message) error
}

// Messenger receives message pages.  Within one channel or thread the
// pages arrive newest first, each page internally ordered newest to
// oldest;  isLast marks the final page.
type Messenger interface {
	Messages(ctx context.Context, channelID string, isLast bool, mm []guilded.Message) error
	// ThreadMessages is called for thread message pages.  thread is the
	// thread channel, parented by its ParentChannelID.
	ThreadMessages(ctx context.Context, thread *guilded.Channel, isLast bool, mm []guilded.Message) error
}

// Filer receives the attachment references discovered in messages.
type Filer interface {
	Files(ctx context.Context, channelID string, parent guilded.Message, aa []guilded.Attachment) error
	io.Closer
}

// Accounter receives the session user record.
type Accounter interface {
	Account(ctx context.Context, me *guilded.Me) error
}

// TeamInformer receives server-level records.
type TeamInformer interface {
	TeamInfo(ctx context.Context, team *guilded.Team) error
	Groups(ctx context.Context, teamID string, gg []guilded.Group) error
	Roles(ctx context.Context, teamID string, rr map[string]guilded.Role) error
}

// Members receives the member list.
type Members interface {
	Members(ctx context.Context, teamID string, mm []guilded.Member) error
}

// Channeler receives the channel list.
type Channeler interface {
	Channels(ctx context.Context, teamID string, cc []guilded.Channel) error
}

// Exporter is the full export surface:  everything a complete archive
// writer needs to see.
type Exporter interface {
	Accounter
	TeamInformer
	Members
	Channeler
	Conversations
}
