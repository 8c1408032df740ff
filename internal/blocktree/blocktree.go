package blocktree

// Kind identifies the block type of a node.
type Kind string

const (
	// KindRoot is the synthetic root conversion hangs top-level blocks
	// from; it is never serialized to the remote store.
	KindRoot Kind = "root"

	KindParagraph    Kind = "paragraph"
	KindHeading1     Kind = "heading_1"
	KindHeading2     Kind = "heading_2"
	KindHeading3     Kind = "heading_3"
	KindBulletedItem Kind = "bulleted_list_item"
	KindNumberedItem Kind = "numbered_list_item"
	KindTable        Kind = "table"
	KindTableRow     Kind = "table_row"
	KindImage        Kind = "image"
	KindCallout      Kind = "callout"
	KindToggle       Kind = "toggle"
	KindQuote        Kind = "quote"
	KindCode         Kind = "code"
	KindDivider      Kind = "divider"
)

// IsListItem reports whether the kind is a list item block.
func (k Kind) IsListItem() bool {
	return k == KindBulletedItem || k == KindNumberedItem
}

// Node is a block in the logical content tree produced by conversion.
// Children reflect logical nesting, which may exceed what the remote
// store accepts in a single create call.
type Node struct {
	Kind     Kind
	Text     string   // Plain text content (text-bearing kinds)
	URL      string   // Resolved resource reference (images)
	Icon     string   // Visual marker (callouts)
	Cells    []string // Cell contents (table rows)
	Children []*Node

	// Placement bookkeeping.
	Deferred  bool   // Set by conversion: cannot accompany parent into initial create
	Collected bool   // Already recorded under a marker; skip on re-traversal
	Marker    string // Marker assigned to this node's deferred-children group
	RemoteID  string // Empty until the node exists remotely
}

// RemoteNode is a read-only view of a block as the remote store holds it.
type RemoteNode struct {
	RemoteID    string
	Kind        Kind
	Text        string
	URL         string
	Icon        string
	HasChildren bool
	Children    []*RemoteNode
}

// Clone returns a deep copy of the node and its subtree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Cells != nil {
		out.Cells = make([]string, len(n.Cells))
		copy(out.Cells, n.Cells)
	}
	out.Children = nil
	for _, c := range n.Children {
		out.Children = append(out.Children, c.Clone())
	}
	return &out
}

// Walk visits n and every descendant in depth-first order. Returning
// false from fn stops descent into that node's children.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for _, c := range n.Children {
		Walk(c, fn)
	}
}

// Count returns the total number of nodes in the subtree rooted at n,
// including n itself.
func Count(n *Node) int {
	total := 0
	Walk(n, func(*Node) bool {
		total++
		return true
	})
	return total
}

// CountNodes sums Count over a sibling list.
func CountNodes(nodes []*Node) int {
	total := 0
	for _, n := range nodes {
		total += Count(n)
	}
	return total
}

// WalkRemote visits n and every descendant in depth-first order.
func WalkRemote(n *RemoteNode, fn func(*RemoteNode)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		WalkRemote(c, fn)
	}
}

// CountRemote returns the total number of nodes in a remote subtree.
func CountRemote(n *RemoteNode) int {
	total := 0
	WalkRemote(n, func(*RemoteNode) {
		total++
	})
	return total
}
