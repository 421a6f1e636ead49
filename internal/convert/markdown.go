package convert

import (
	"strconv"
	"strings"

	"github.com/guildump/guildump/internal/guilded"
)

// Markdown renders a Slate.js document as Discord markdown.  Blocks
// are joined with newlines, marks nest (bold around italic renders
// `**a*b***`), reference nodes become Discord reference tokens.
// Unrecognized kinds degrade to their plain text and are reported to
// r;  the function itself never fails.
func Markdown(d guilded.Document, r *Reporter) string {
	var sb strings.Builder
	for i, n := range d.Document.Nodes {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(block(n, r))
	}
	return sb.String()
}

func block(n guilded.Node, r *Reporter) string {
	switch n.Type {
	case "paragraph", "markdown-plain-text":
		return inlineContent(n.Nodes, r)
	case "code-line":
		return "`" + inlineContent(n.Nodes, r) + "`"
	case "code-container":
		return codeContainer(n, r)
	case "block-quote-container":
		var lines []string
		for _, line := range n.Nodes {
			lines = append(lines, "> "+inlineContent(line.Nodes, r))
		}
		return strings.Join(lines, "\n")
	case "block-quote-line":
		return "> " + inlineContent(n.Nodes, r)
	case "unordered-list", "ordered-list":
		return list(n, r)
	case "heading-large":
		return "# " + inlineContent(n.Nodes, r)
	case "heading-small":
		return "## " + inlineContent(n.Nodes, r)
	case "image", "video", "fileUpload", "systemMessage", "webhookMessage":
		// binary and system blocks carry no renderable text;  their
		// attachments are collected separately.
		return inlineContent(n.Nodes, r)
	default:
		r.Report("node", n.Type)
		return plainText(n)
	}
}

func codeContainer(n guilded.Node, r *Reporter) string {
	var lines []string
	for _, line := range n.Nodes {
		lines = append(lines, inlineContent(line.Nodes, r))
	}
	return "```" + n.Data.Language + "\n" + strings.Join(lines, "\n") + "\n```"
}

func list(n guilded.Node, r *Reporter) string {
	ordered := n.Type == "ordered-list"
	var lines []string
	for i, item := range n.Nodes {
		pfx := "- "
		if ordered {
			pfx = strconv.Itoa(i+1) + ". "
		}
		lines = append(lines, pfx+inlineContent(item.Nodes, r))
	}
	return strings.Join(lines, "\n")
}

// inlineContent renders the child nodes of a block:  text runs and
// inline reference nodes, concatenated without separators.
func inlineContent(nn []guilded.Node, r *Reporter) string {
	var sb strings.Builder
	for _, n := range nn {
		switch n.Object {
		case "text":
			sb.WriteString(leaves(n.Leaves, r))
		case "inline":
			sb.WriteString(inline(n, r))
		case "block":
			// nested block inside a block (list items hold paragraphs)
			sb.WriteString(block(n, r))
		}
	}
	return sb.String()
}

// leaves renders text runs, wrapping each in its mark delimiters.
// Marks apply innermost-first in the order they are listed, so a
// leaf marked [italic, bold] comes out as **<i>text</i>**.
func leaves(ll []guilded.Leaf, r *Reporter) string {
	var sb strings.Builder
	for _, l := range ll {
		text := l.Text
		for _, m := range l.Marks {
			switch m.Type {
			case "bold":
				text = "**" + text + "**"
			case "italic":
				text = "*" + text + "*"
			case "underline":
				text = "__" + text + "__"
			case "strikethrough":
				text = "~~" + text + "~~"
			case "code", "inline-code-v2":
				text = "`" + text + "`"
			default:
				r.Report("mark", m.Type)
			}
		}
		sb.WriteString(text)
	}
	return sb.String()
}

func inline(n guilded.Node, r *Reporter) string {
	switch n.Type {
	case "link":
		return link(n, r)
	case "mention":
		return mention(n)
	case "reaction":
		return reaction(n)
	case "channel":
		if n.Data.Channel != nil {
			return "<#" + n.Data.Channel.ID + ">"
		}
		return plainText(n)
	default:
		r.Report("node", n.Type)
		return plainText(n)
	}
}

func link(n guilded.Node, r *Reporter) string {
	href := guilded.RewriteCDNURL(n.Data.Href)
	text := inlineContent(n.Nodes, r)
	if text == "" {
		text = href
	}
	return "[" + text + "](" + href + ")"
}

func mention(n guilded.Node) string {
	m := n.Data.Mention
	if m == nil {
		return plainText(n)
	}
	switch m.Type {
	case "person":
		return "<@" + m.ID.String() + ">"
	case "role":
		return "<@&" + m.ID.String() + ">"
	case "channel":
		id := m.ID.String()
		if n.Data.Channel != nil && n.Data.Channel.ID != "" {
			id = n.Data.Channel.ID
		}
		return "<#" + id + ">"
	default:
		// here/everyone and anything newer render as a plain @name
		name := m.Name
		if name == "" {
			name = m.ID.String()
		}
		return "@" + name
	}
}

func reaction(n guilded.Node) string {
	re := n.Data.Reaction
	if re == nil {
		return ""
	}
	if cr := re.CustomReaction; cr != nil {
		pfx := ""
		if cr.IsAnimated() {
			pfx = "a"
		}
		name := cr.Name
		if name == "" {
			name = "emoji"
		}
		return "<" + pfx + ":" + name + ":" + cr.ID.String() + ">"
	}
	return ":" + re.ID.String() + ":"
}

// plainText extracts the bare text of a subtree, marks and references
// stripped.  It is the fallback for node kinds the converter does not
// recognize.
func plainText(n guilded.Node) string {
	var sb strings.Builder
	var walk func(n guilded.Node)
	walk = func(n guilded.Node) {
		for _, l := range n.Leaves {
			sb.WriteString(l.Text)
		}
		for _, c := range n.Nodes {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// Mentions walks the document and returns the IDs of the mentioned
// users and roles, in order of first appearance, deduplicated.
func Mentions(d guilded.Document) (users, roles []string) {
	seenU := make(map[string]bool)
	seenR := make(map[string]bool)
	var walk func(nn []guilded.Node)
	walk = func(nn []guilded.Node) {
		for _, n := range nn {
			if m := n.Data.Mention; m != nil {
				id := m.ID.String()
				switch m.Type {
				case "person":
					if !seenU[id] {
						seenU[id] = true
						users = append(users, id)
					}
				case "role":
					if !seenR[id] {
						seenR[id] = true
						roles = append(roles, id)
					}
				}
			}
			walk(n.Nodes)
		}
	}
	walk(d.Document.Nodes)
	return users, roles
}
