package convert

import (
	"bytes"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/hward/sn2n/internal/blocktree"
)

// MarkdownConverter handles authored Markdown pages using goldmark.
type MarkdownConverter struct{}

func (c *MarkdownConverter) Convert(r io.Reader) (*blocktree.Node, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	root := &blocktree.Node{Kind: blocktree.KindRoot}
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		root.Children = append(root.Children, convertMD(n, src)...)
	}
	return root, nil
}

func convertMD(n ast.Node, src []byte) []*blocktree.Node {
	switch node := n.(type) {
	case *ast.Heading:
		kind := blocktree.KindHeading3
		switch node.Level {
		case 1:
			kind = blocktree.KindHeading1
		case 2:
			kind = blocktree.KindHeading2
		}
		return []*blocktree.Node{{Kind: kind, Text: mdText(n, src)}}
	case *ast.Paragraph:
		return convertMDParagraph(node, src)
	case *ast.List:
		return convertMDList(node, src)
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return []*blocktree.Node{{Kind: blocktree.KindCode, Text: mdLines(n, src)}}
	case *ast.Blockquote:
		return []*blocktree.Node{{Kind: blocktree.KindQuote, Text: mdText(n, src)}}
	case *ast.ThematicBreak:
		return []*blocktree.Node{{Kind: blocktree.KindDivider}}
	}
	if t := mdText(n, src); t != "" {
		return []*blocktree.Node{{Kind: blocktree.KindParagraph, Text: t}}
	}
	return nil
}

// convertMDParagraph emits image blocks for inline images and a
// paragraph for any remaining text.
func convertMDParagraph(p *ast.Paragraph, src []byte) []*blocktree.Node {
	var out []*blocktree.Node
	for c := p.FirstChild(); c != nil; c = c.NextSibling() {
		if img, ok := c.(*ast.Image); ok {
			out = append(out, &blocktree.Node{Kind: blocktree.KindImage, URL: string(img.Destination)})
		}
	}
	if t := mdText(p, src); t != "" {
		out = append(out, &blocktree.Node{Kind: blocktree.KindParagraph, Text: t})
	}
	return out
}

func convertMDList(list *ast.List, src []byte) []*blocktree.Node {
	kind := blocktree.KindBulletedItem
	if list.IsOrdered() {
		kind = blocktree.KindNumberedItem
	}

	var items []*blocktree.Node
	for li := list.FirstChild(); li != nil; li = li.NextSibling() {
		item := &blocktree.Node{Kind: kind}
		for c := li.FirstChild(); c != nil; c = c.NextSibling() {
			switch child := c.(type) {
			case *ast.List:
				item.Children = append(item.Children, convertMDList(child, src)...)
			case *ast.TextBlock, *ast.Paragraph:
				if item.Text == "" {
					item.Text = mdText(c, src)
				} else {
					item.Children = append(item.Children, &blocktree.Node{Kind: blocktree.KindParagraph, Text: mdText(c, src)})
				}
			default:
				item.Children = append(item.Children, convertMD(c, src)...)
			}
		}
		items = append(items, item)
	}
	return items
}

// mdText extracts plain text from a node's inline content.
func mdText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Value(src))
				if t.HardLineBreak() || t.SoftLineBreak() {
					buf.WriteByte(' ')
				}
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(buf.String())
}

// mdLines extracts the raw lines of a block node (code blocks).
func mdLines(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(src))
	}
	return strings.TrimRight(buf.String(), "\n")
}
