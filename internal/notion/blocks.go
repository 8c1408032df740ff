package notion

import (
	"strings"

	"github.com/hward/sn2n/internal/blocktree"
)

// richText builds a rich_text array holding a single plain text run.
func richText(text string) []map[string]any {
	return []map[string]any{
		{
			"type": "text",
			"text": map[string]any{"content": text},
		},
	}
}

// PageProperties builds the property payload for page creation. Extra
// properties are written as rich_text fields.
func PageProperties(title string, extra map[string]string) map[string]any {
	props := map[string]any{
		"title": map[string]any{"title": richText(title)},
	}
	for k, v := range extra {
		props[k] = map[string]any{"rich_text": richText(v)}
	}
	return props
}

// BlockPayload converts a tree node into the block object the write API
// expects, serializing nested children inline.
func BlockPayload(n *blocktree.Node) map[string]any {
	block := map[string]any{
		"object": "block",
		"type":   string(n.Kind),
	}

	body := map[string]any{}
	switch n.Kind {
	case blocktree.KindImage:
		body["type"] = "external"
		body["external"] = map[string]any{"url": n.URL}
	case blocktree.KindTable:
		body["table_width"] = tableWidth(n)
		body["has_column_header"] = true
	case blocktree.KindTableRow:
		cells := make([]any, 0, len(n.Cells))
		for _, c := range n.Cells {
			cells = append(cells, richText(c))
		}
		body["cells"] = cells
	case blocktree.KindCallout:
		body["rich_text"] = richText(n.Text)
		if n.Icon != "" {
			body["icon"] = map[string]any{"type": "emoji", "emoji": n.Icon}
		}
	case blocktree.KindCode:
		body["rich_text"] = richText(n.Text)
		body["language"] = "plain text"
	case blocktree.KindDivider:
		// No body fields.
	default:
		body["rich_text"] = richText(n.Text)
	}

	if len(n.Children) > 0 && n.Kind != blocktree.KindImage && n.Kind != blocktree.KindDivider {
		children := make([]map[string]any, 0, len(n.Children))
		for _, c := range n.Children {
			children = append(children, BlockPayload(c))
		}
		body["children"] = children
	}

	block[string(n.Kind)] = body
	return block
}

// BlockPayloads converts a sibling list.
func BlockPayloads(nodes []*blocktree.Node) []map[string]any {
	out := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, BlockPayload(n))
	}
	return out
}

func tableWidth(n *blocktree.Node) int {
	for _, c := range n.Children {
		if c.Kind == blocktree.KindTableRow {
			return len(c.Cells)
		}
	}
	return 1
}

// blockJSON is the wire shape of a block returned by the read API. Only
// the fields the orchestrator needs are decoded; block bodies stay raw.
type blockJSON struct {
	ID          string                    `json:"id"`
	Type        string                    `json:"type"`
	HasChildren bool                      `json:"has_children"`
	Paragraph   *textBody                 `json:"paragraph,omitempty"`
	Heading1    *textBody                 `json:"heading_1,omitempty"`
	Heading2    *textBody                 `json:"heading_2,omitempty"`
	Heading3    *textBody                 `json:"heading_3,omitempty"`
	Bulleted    *textBody                 `json:"bulleted_list_item,omitempty"`
	Numbered    *textBody                 `json:"numbered_list_item,omitempty"`
	Toggle      *textBody                 `json:"toggle,omitempty"`
	Quote       *textBody                 `json:"quote,omitempty"`
	Code        *textBody                 `json:"code,omitempty"`
	Callout     *calloutBody              `json:"callout,omitempty"`
	Image       *imageBody                `json:"image,omitempty"`
	TableRow    *tableRowBody             `json:"table_row,omitempty"`
}

type richTextJSON struct {
	PlainText string `json:"plain_text"`
	Text      *struct {
		Content string `json:"content"`
	} `json:"text,omitempty"`
}

func (r richTextJSON) content() string {
	if r.PlainText != "" {
		return r.PlainText
	}
	if r.Text != nil {
		return r.Text.Content
	}
	return ""
}

type textBody struct {
	RichText []richTextJSON `json:"rich_text"`
}

type calloutBody struct {
	RichText []richTextJSON `json:"rich_text"`
	Icon     *struct {
		Emoji string `json:"emoji"`
	} `json:"icon,omitempty"`
}

type imageBody struct {
	External *struct {
		URL string `json:"url"`
	} `json:"external,omitempty"`
	File *struct {
		URL string `json:"url"`
	} `json:"file,omitempty"`
}

type tableRowBody struct {
	Cells [][]richTextJSON `json:"cells"`
}

func joinRichText(runs []richTextJSON) string {
	var sb strings.Builder
	for _, r := range runs {
		sb.WriteString(r.content())
	}
	return sb.String()
}

// toRemoteNode maps a wire block onto the orchestrator's read-only view.
func (b *blockJSON) toRemoteNode() *blocktree.RemoteNode {
	node := &blocktree.RemoteNode{
		RemoteID:    b.ID,
		Kind:        blocktree.Kind(b.Type),
		HasChildren: b.HasChildren,
	}

	var body *textBody
	switch node.Kind {
	case blocktree.KindParagraph:
		body = b.Paragraph
	case blocktree.KindHeading1:
		body = b.Heading1
	case blocktree.KindHeading2:
		body = b.Heading2
	case blocktree.KindHeading3:
		body = b.Heading3
	case blocktree.KindBulletedItem:
		body = b.Bulleted
	case blocktree.KindNumberedItem:
		body = b.Numbered
	case blocktree.KindToggle:
		body = b.Toggle
	case blocktree.KindQuote:
		body = b.Quote
	case blocktree.KindCode:
		body = b.Code
	case blocktree.KindCallout:
		if b.Callout != nil {
			node.Text = joinRichText(b.Callout.RichText)
			if b.Callout.Icon != nil {
				node.Icon = b.Callout.Icon.Emoji
			}
		}
		return node
	case blocktree.KindImage:
		if b.Image != nil {
			if b.Image.External != nil {
				node.URL = b.Image.External.URL
			} else if b.Image.File != nil {
				node.URL = b.Image.File.URL
			}
		}
		return node
	case blocktree.KindTableRow:
		if b.TableRow != nil {
			var cells []string
			for _, cell := range b.TableRow.Cells {
				cells = append(cells, joinRichText(cell))
			}
			node.Text = strings.Join(cells, "\t")
		}
		return node
	}
	if body != nil {
		node.Text = joinRichText(body.RichText)
	}
	return node
}
