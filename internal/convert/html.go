package convert

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/hward/sn2n/internal/blocktree"
)

// HTMLConverter handles captured page HTML. Knowledge-base captures
// wrap callouts in classed divs and nest lists and tables several
// levels deep, which is where deferral comes from.
type HTMLConverter struct{}

func (c *HTMLConverter) Convert(r io.Reader) (*blocktree.Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	root := &blocktree.Node{Kind: blocktree.KindRoot}
	body := findBody(doc)
	if body == nil {
		body = doc
	}
	for n := body.FirstChild; n != nil; n = n.NextSibling {
		root.Children = append(root.Children, convertNode(n)...)
	}
	return root, nil
}

// convertNode maps one HTML element to zero or more blocks.
func convertNode(n *html.Node) []*blocktree.Node {
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			return []*blocktree.Node{{Kind: blocktree.KindParagraph, Text: t}}
		}
		return nil
	}
	if n.Type != html.ElementNode {
		return nil
	}

	switch n.Data {
	case "script", "style", "nav", "footer", "header":
		return nil
	case "h1":
		return []*blocktree.Node{{Kind: blocktree.KindHeading1, Text: textContent(n)}}
	case "h2":
		return []*blocktree.Node{{Kind: blocktree.KindHeading2, Text: textContent(n)}}
	case "h3", "h4", "h5", "h6":
		// The remote store only has three heading levels.
		return []*blocktree.Node{{Kind: blocktree.KindHeading3, Text: textContent(n)}}
	case "p":
		return convertParagraph(n)
	case "ul", "ol":
		return convertList(n)
	case "table":
		if t := convertTable(n); t != nil {
			return []*blocktree.Node{t}
		}
		return nil
	case "img":
		if src := attr(n, "src"); src != "" {
			return []*blocktree.Node{{Kind: blocktree.KindImage, URL: src}}
		}
		return nil
	case "pre":
		return []*blocktree.Node{{Kind: blocktree.KindCode, Text: textContent(n)}}
	case "blockquote":
		return []*blocktree.Node{{Kind: blocktree.KindQuote, Text: textContent(n)}}
	case "hr":
		return []*blocktree.Node{{Kind: blocktree.KindDivider}}
	case "div", "section", "article", "main", "span":
		if callout := convertCallout(n); callout != nil {
			return []*blocktree.Node{callout}
		}
		var out []*blocktree.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			out = append(out, convertNode(c)...)
		}
		return out
	}

	if t := strings.TrimSpace(textContent(n)); t != "" {
		return []*blocktree.Node{{Kind: blocktree.KindParagraph, Text: t}}
	}
	return nil
}

// convertParagraph emits a paragraph, or an image block when the
// paragraph only wraps an img tag.
func convertParagraph(n *html.Node) []*blocktree.Node {
	var out []*blocktree.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "img" {
			if src := attr(c, "src"); src != "" {
				out = append(out, &blocktree.Node{Kind: blocktree.KindImage, URL: src})
			}
		}
	}
	if t := strings.TrimSpace(textContent(n)); t != "" {
		out = append(out, &blocktree.Node{Kind: blocktree.KindParagraph, Text: t})
	}
	return out
}

// convertList builds list items whose nested lists, tables and images
// become children, preserving the logical nesting conversion reports.
func convertList(list *html.Node) []*blocktree.Node {
	kind := blocktree.KindBulletedItem
	if list.Data == "ol" {
		kind = blocktree.KindNumberedItem
	}

	var items []*blocktree.Node
	for li := list.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.Data != "li" {
			continue
		}
		item := &blocktree.Node{Kind: kind}
		var inline strings.Builder
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.ElementNode && (c.Data == "ul" || c.Data == "ol"):
				item.Children = append(item.Children, convertList(c)...)
			case c.Type == html.ElementNode && c.Data == "table":
				if t := convertTable(c); t != nil {
					item.Children = append(item.Children, t)
				}
			case c.Type == html.ElementNode && c.Data == "img":
				if src := attr(c, "src"); src != "" {
					item.Children = append(item.Children, &blocktree.Node{Kind: blocktree.KindImage, URL: src})
				}
			case c.Type == html.ElementNode && c.Data == "p":
				if inline.Len() == 0 {
					inline.WriteString(textContent(c))
				} else {
					item.Children = append(item.Children, &blocktree.Node{Kind: blocktree.KindParagraph, Text: textContent(c)})
				}
			default:
				inline.WriteString(textContent(c))
			}
		}
		item.Text = strings.TrimSpace(inline.String())
		items = append(items, item)
	}
	return items
}

func convertTable(table *html.Node) *blocktree.Node {
	t := &blocktree.Node{Kind: blocktree.KindTable}
	var walkRows func(n *html.Node)
	walkRows = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "tr" {
				row := &blocktree.Node{Kind: blocktree.KindTableRow}
				for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.Type == html.ElementNode && (cell.Data == "td" || cell.Data == "th") {
						row.Cells = append(row.Cells, strings.TrimSpace(textContent(cell)))
					}
				}
				if len(row.Cells) > 0 {
					t.Children = append(t.Children, row)
				}
			} else if c.Type == html.ElementNode {
				walkRows(c)
			}
		}
	}
	walkRows(table)
	if len(t.Children) == 0 {
		return nil
	}
	return t
}

// calloutClasses maps source callout classes to icons.
var calloutClasses = map[string]string{
	"note":      "📝",
	"info":      "📝",
	"tip":       "💡",
	"warning":   "⚠️",
	"caution":   "⚠️",
	"important": "❗",
	"alert":     "❗",
}

func convertCallout(n *html.Node) *blocktree.Node {
	classes := strings.Fields(strings.ToLower(attr(n, "class")))
	for _, cls := range classes {
		icon, ok := calloutClasses[cls]
		if !ok {
			continue
		}
		text := strings.TrimSpace(textContent(n))
		if text == "" {
			return nil
		}
		return &blocktree.Node{Kind: blocktree.KindCallout, Text: text, Icon: icon}
	}
	return nil
}

func findBody(doc *html.Node) *html.Node {
	var body *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if body != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "body" {
			body = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return body
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
