package guilded

import (
	"encoding/json"
	"net/url"
	"path"
	"strconv"
)

// Guilded message content is a Slate.js document:  a tree of typed
// nodes.  Block nodes carry child nodes, text nodes carry leaves with
// mark sets, inline nodes carry reference data (links, mentions, custom
// emoji).  The model below is closed over the node kinds the exporter
// understands;  everything else falls through to plain-text extraction
// in the converter.

// Document is the top-level content value.
type Document struct {
	Object   string `json:"object,omitempty"`
	Document Root   `json:"document"`
}

// Root is the document root node.
type Root struct {
	Object string `json:"object,omitempty"`
	Nodes  []Node `json:"nodes,omitempty"`
}

// IsEmpty reports whether the document carries no nodes at all.
func (d Document) IsEmpty() bool {
	return len(d.Document.Nodes) == 0
}

// Node is a single node of the document tree.  Object discriminates the
// node family ("block", "text", "inline"), Type the concrete kind
// within the family.
type Node struct {
	Object string   `json:"object,omitempty"`
	Type   string   `json:"type,omitempty"`
	Data   NodeData `json:"data,omitempty"`
	Nodes  []Node   `json:"nodes,omitempty"`
	Leaves []Leaf   `json:"leaves,omitempty"`
}

// Leaf is a run of text with a set of marks applied.
type Leaf struct {
	Object string `json:"object,omitempty"`
	Text   string `json:"text"`
	Marks  []Mark `json:"marks,omitempty"`
}

// Mark is a text decoration (bold, italic, underline, strikethrough,
// inline-code-v2, ...).
type Mark struct {
	Object string `json:"object,omitempty"`
	Type   string `json:"type"`
}

// NodeData is the union of the data payloads of the node kinds we
// understand.
type NodeData struct {
	Href     string      `json:"href,omitempty"`
	Src      string      `json:"src,omitempty"`
	Name     string      `json:"name,omitempty"`
	Language string      `json:"language,omitempty"`
	Mention  *Mention    `json:"mention,omitempty"`
	Channel  *ChannelRef `json:"channel,omitempty"`
	Reaction *Reaction   `json:"reaction,omitempty"`
	Embeds   []Embed     `json:"embeds,omitempty"`
	FileSrc  string      `json:"fileSrc,omitempty"`
}

// Mention is a user, role or channel mention.  Role IDs are numeric on
// the wire, user IDs are strings, hence FlexID.
type Mention struct {
	Type string `json:"type"`
	ID   FlexID `json:"id"`
	Name string `json:"name,omitempty"`
}

// ChannelRef is the channel payload of a channel mention.
type ChannelRef struct {
	ID string `json:"id"`
}

// Reaction is a (custom) emoji reference.
type Reaction struct {
	ID             FlexID          `json:"id,omitempty"`
	CustomReaction *CustomReaction `json:"customReaction,omitempty"`
}

// CustomReaction describes a server custom emoji.  APNG is non-nil for
// animated emoji.
type CustomReaction struct {
	ID   FlexID  `json:"id"`
	Name string  `json:"name"`
	PNG  string  `json:"png,omitempty"`
	APNG *string `json:"apng,omitempty"`
}

// IsAnimated reports whether the emoji is animated.
func (cr *CustomReaction) IsAnimated() bool {
	return cr.APNG != nil
}

// Embed is a rich embed attached to a message block.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Thumbnail   *EmbedMedia  `json:"thumbnail,omitempty"`
	Image       *EmbedMedia  `json:"image,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"iconUrl,omitempty"`
}

type EmbedMedia struct {
	URL string `json:"url,omitempty"`
}

type EmbedAuthor struct {
	Name    string `json:"name,omitempty"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"iconUrl,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name,omitempty"`
	Value  string `json:"value,omitempty"`
	Inline bool   `json:"inline,omitempty"`
}

// FlexID is an identifier that arrives either as a JSON string or as a
// JSON number.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(f), 10, 64); err == nil {
		return []byte(f), nil
	}
	return json.Marshal(string(f))
}

func (f FlexID) String() string { return string(f) }

// Attachment is a binary referenced by a message:  an uploaded image,
// video or file.
type Attachment struct {
	URL      string
	Filename string
}

// Attachments walks the document and collects every binary reference.
func (d Document) Attachments() []Attachment {
	var aa []Attachment
	var walk func(nn []Node)
	walk = func(nn []Node) {
		for _, n := range nn {
			if src := firstNonEmpty(n.Data.Src, n.Data.FileSrc); src != "" {
				src = RewriteCDNURL(src)
				aa = append(aa, Attachment{
					URL:      src,
					Filename: firstNonEmpty(n.Data.Name, urlFilename(src)),
				})
			}
			walk(n.Nodes)
		}
	}
	walk(d.Document.Nodes)
	return aa
}

// Embeds returns the embeds of every top-level block.
func (d Document) Embeds() []Embed {
	var ee []Embed
	for _, n := range d.Document.Nodes {
		ee = append(ee, n.Data.Embeds...)
	}
	return ee
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}

// urlFilename extracts the file name from the URL path.
func urlFilename(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return path.Base(s)
	}
	return path.Base(u.Path)
}
