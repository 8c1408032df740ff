package convert

import (
	"io"

	"github.com/hward/sn2n/internal/blocktree"
)

// Converter turns raw source content into a block tree rooted at a
// synthetic root node.
type Converter interface {
	Convert(r io.Reader) (*blocktree.Node, error)
}

// DefaultNestingCeiling is the deepest level the remote store will
// create in a single call. Children below it must be deferred and
// re-attached after creation.
const DefaultNestingCeiling = 2

// MarkDeferrals flags every child that sits just past the nesting
// ceiling as deferred, grouped under its intended parent. A deferred
// subtree is later appended under that parent, where its depth restarts
// at one, so marking restarts inside each deferred subtree too: a
// subtree deeper than the ceiling defers its own frontier in turn,
// however deep the source tree goes.
func MarkDeferrals(root *blocktree.Node, ceiling int) int {
	if ceiling <= 0 {
		ceiling = DefaultNestingCeiling
	}
	marked := 0
	var walk func(n *blocktree.Node, depth int)
	walk = func(n *blocktree.Node, depth int) {
		if depth == ceiling {
			for _, c := range n.Children {
				c.Deferred = true
				marked++
				walk(c, 1)
			}
			return
		}
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(root, 0)
	return marked
}
