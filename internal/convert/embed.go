package convert

import (
	"net/url"
	"path"
	"strings"

	"github.com/guildump/guildump/internal/guilded"
)

// Embed is a message embed in Discord takeout shape.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       int          `json:"color"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Thumbnail   *EmbedMedia  `json:"thumbnail,omitempty"`
	Image       *EmbedMedia  `json:"image,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedMedia struct {
	URL string `json:"url,omitempty"`
}

type EmbedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name,omitempty"`
	Value  string `json:"value,omitempty"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedOf converts a Guilded embed.  The structures are nearly
// parallel;  the differences are the icon URL key casing and the CDN
// URL rewrite on every media reference.
func EmbedOf(ge guilded.Embed) Embed {
	e := Embed{
		Title:       ge.Title,
		Description: ge.Description,
		URL:         guilded.RewriteCDNURL(ge.URL),
		Color:       ge.Color,
		Timestamp:   ge.Timestamp,
	}
	if ge.Footer != nil {
		e.Footer = &EmbedFooter{Text: ge.Footer.Text, IconURL: guilded.RewriteCDNURL(ge.Footer.IconURL)}
	}
	if ge.Thumbnail != nil {
		e.Thumbnail = &EmbedMedia{URL: guilded.RewriteCDNURL(ge.Thumbnail.URL)}
	}
	if ge.Image != nil {
		e.Image = &EmbedMedia{URL: guilded.RewriteCDNURL(ge.Image.URL)}
	}
	if ge.Author != nil {
		e.Author = &EmbedAuthor{Name: ge.Author.Name, URL: ge.Author.URL, IconURL: guilded.RewriteCDNURL(ge.Author.IconURL)}
	}
	for _, f := range ge.Fields {
		e.Fields = append(e.Fields, EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return e
}

// AvatarHash extracts the leading hash component of a CDN asset URL,
// the way takeout archives reference avatars, icons and banners.
func AvatarHash(rawurl string) string {
	if rawurl == "" {
		return ""
	}
	p := rawurl
	if u, err := url.Parse(rawurl); err == nil {
		p = u.Path
	}
	name := strings.TrimSuffix(path.Base(p), path.Ext(p))
	hash, _, _ := strings.Cut(name, "-")
	return hash
}
