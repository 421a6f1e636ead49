package processor

import (
	"context"

	"github.com/guildump/guildump/internal/guilded"
)

// NopExporter is a no-op processor, useful in tests and as an embedding
// base for partial implementations.
type NopExporter struct{}

var _ Exporter = NopExporter{}

func (NopExporter) Account(context.Context, *guilded.Me) error    { return nil }
func (NopExporter) TeamInfo(context.Context, *guilded.Team) error { return nil }
func (NopExporter) Groups(context.Context, string, []guilded.Group) error {
	return nil
}
func (NopExporter) Roles(context.Context, string, map[string]guilded.Role) error {
	return nil
}
func (NopExporter) Members(context.Context, string, []guilded.Member) error {
	return nil
}
func (NopExporter) Channels(context.Context, string, []guilded.Channel) error {
	return nil
}
func (NopExporter) ChannelInfo(context.Context, *guilded.Channel) error {
	return nil
}
func (NopExporter) Pinned(context.Context, string, []guilded.Message) error {
	return nil
}
func (NopExporter) Messages(context.Context, string, bool, []guilded.Message) error {
	return nil
}
func (NopExporter) ThreadMessages(context.Context, *guilded.Channel, bool, []guilded.Message) error {
	return nil
}
func (NopExporter) Files(context.Context, string, guilded.Message, []guilded.Attachment) error {
	return nil
}
func (NopExporter) Close() error { return nil }
