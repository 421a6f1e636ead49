package guilded

import (
	"bytes"
	"encoding/json"
	"time"
)

// Types in this file describe the subset of the undocumented Guilded web
// API that the exporter consumes.  Each record that ends up in the raw
// archive keeps the original wire bytes in Raw, so that fields we do not
// model are preserved verbatim.

// Me is the response of the "me" endpoint: the session user and the
// teams (servers) the user belongs to.
type Me struct {
	User  User   `json:"user"`
	Teams []Team `json:"teams"`
	Email string `json:"email,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (m *Me) UnmarshalJSON(b []byte) error {
	type me Me
	var v me
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = Me(v)
	m.Raw = bytes.Clone(b)
	return nil
}

// User is a Guilded user account.
type User struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Subdomain       string `json:"subdomain,omitempty"`
	ProfilePicture  string `json:"profilePicture,omitempty"`
	ProfileBannerLg string `json:"profileBannerLg,omitempty"`
}

// Team is a Guilded server.  Guilded calls servers "teams" throughout
// its API.
type Team struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Subdomain       string `json:"subdomain,omitempty"`
	Description     string `json:"description,omitempty"`
	ProfilePicture  string `json:"profilePicture,omitempty"`
	TeamDashImage   string `json:"teamDashImage,omitempty"`
	HomeBannerImgLg string `json:"homeBannerImageLg,omitempty"`
	OwnerID         string `json:"ownerId,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (t *Team) UnmarshalJSON(b []byte) error {
	type team Team
	var v team
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*t = Team(v)
	t.Raw = bytes.Clone(b)
	return nil
}

// Channel content types as the API returns them in the contentType
// field.
const (
	CTChat         = "chat"
	CTVoice        = "voice"
	CTStream       = "stream"
	CTAnnouncement = "announcement"
	CTForum        = "forum"
	CTMedia        = "media"
	CTDocs         = "docs"
	CTList         = "list"
	CTScheduling   = "scheduling"
)

// Channel is a channel of a team.  Threads are channels too:  a thread
// has ParentChannelID set and its messages live under its own channel
// ID.
type Channel struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Description     string              `json:"description,omitempty"`
	ContentType     string              `json:"contentType"`
	TeamID          string              `json:"teamId,omitempty"`
	TeamName        string              `json:"teamName,omitempty"`
	GroupID         string              `json:"groupId,omitempty"`
	ParentChannelID string              `json:"parentChannelId,omitempty"`
	CreatedAt       string              `json:"createdAt,omitempty"`
	ArchivedAt      string              `json:"archivedAt,omitempty"`
	Priority        int                 `json:"priority,omitempty"`
	RolesByID       map[string]RolePerm `json:"rolesById,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (c *Channel) UnmarshalJSON(b []byte) error {
	type channel Channel
	var v channel
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*c = Channel(v)
	c.Raw = bytes.Clone(b)
	return nil
}

// IsThread reports whether the channel is a reply thread of another
// channel.
func (c *Channel) IsThread() bool {
	return c.ParentChannelID != ""
}

// IsArchived reports whether the thread has been archived.
func (c *Channel) IsArchived() bool {
	return c.ArchivedAt != ""
}

// RolePerm is a per-role permission overwrite on a channel or a role
// definition.  Permissions are grouped by category ("chat", "voice",
// "forums", ...), each category holding capability-flag to enabled
// mappings.
type RolePerm struct {
	RoleID      int                        `json:"roleId,omitempty"`
	Permissions map[string]map[string]bool `json:"permissions,omitempty"`
}

// Flags returns the set of enabled capability flags across all
// categories.
func (rp RolePerm) Flags() []string {
	var flags []string
	for _, perms := range rp.Permissions {
		for flag, enabled := range perms {
			if enabled {
				flags = append(flags, flag)
			}
		}
	}
	return flags
}

// Member is a team member.
type Member struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Nickname string `json:"nickname,omitempty"`
	JoinedAt string `json:"joinDate,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (m *Member) UnmarshalJSON(b []byte) error {
	type member Member
	var v member
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = Member(v)
	m.Raw = bytes.Clone(b)
	return nil
}

// Role is a team role with its permission set.
type Role struct {
	ID          int                        `json:"id"`
	Name        string                     `json:"name"`
	Color       string                     `json:"color,omitempty"`
	IsBase      bool                       `json:"isBase,omitempty"`
	Priority    int                        `json:"priority,omitempty"`
	Permissions map[string]map[string]bool `json:"permissions,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (r *Role) UnmarshalJSON(b []byte) error {
	type role Role
	var v role
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = Role(v)
	r.Raw = bytes.Clone(b)
	return nil
}

// Flags returns the set of enabled capability flags of the role.
func (r Role) Flags() []string {
	return RolePerm{Permissions: r.Permissions}.Flags()
}

// Group is a channel group (Guilded's channel category analogue).
type Group struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (g *Group) UnmarshalJSON(b []byte) error {
	type group Group
	var v group
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*g = Group(v)
	g.Raw = bytes.Clone(b)
	return nil
}

// Message is a chat message.  Message IDs are UUIDv1, monotonically
// increasing with creation time, which makes them usable both as the
// pagination cursor and as the total order key within a channel.
type Message struct {
	ID        string   `json:"id"`
	Type      string   `json:"type,omitempty"`
	ChannelID string   `json:"channelId,omitempty"`
	CreatedBy string   `json:"createdBy"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt *string  `json:"updatedAt,omitempty"`
	DeletedAt *string  `json:"deletedAt,omitempty"`
	WebhookID string   `json:"webhookId,omitempty"`
	Content   Document `json:"content"`

	Raw json.RawMessage `json:"-"`
}

func (m *Message) UnmarshalJSON(b []byte) error {
	type message Message
	var v message
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*m = Message(v)
	m.Raw = bytes.Clone(b)
	return nil
}

// Timestamp returns the message creation time, or the zero time if the
// field does not parse.
func (m *Message) Timestamp() time.Time {
	t, err := time.Parse(time.RFC3339, m.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
