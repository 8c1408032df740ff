package placer

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/hward/sn2n/internal/blocktree"
)

// Marker tokens are the only address space the remote store leaves us:
// block ids exist only after creation, so deferred content is located by
// a token embedded in its eventual parent's text. The token format is
// confined to this file; search and sweep call sites go through the
// helpers below.

const (
	tokenPrefix = "[[sn2n:"
	tokenSuffix = "]]"
)

const tokenBody = `\[\[sn2n:[0-9a-f-]{36}\]\]`

var (
	tokenPattern = regexp.MustCompile(tokenBody)

	// tokenStripPattern consumes the whitespace the token's embedding
	// added: the trailing gap when the token opens the text, the
	// leading gap everywhere else.
	tokenStripPattern = regexp.MustCompile(`^` + tokenBody + `[ \t]*|[ \t]*` + tokenBody)
)

// NewMarker returns a fresh collision-free marker.
func NewMarker() string {
	return uuid.NewString()
}

// Token renders a marker as the literal text embedded in a parent block.
func Token(marker string) string {
	return tokenPrefix + marker + tokenSuffix
}

// ContainsToken reports whether text carries the given marker's token.
func ContainsToken(text, marker string) bool {
	return strings.Contains(text, Token(marker))
}

// HasAnyToken reports whether text carries any marker token.
func HasAnyToken(text string) bool {
	return tokenPattern.MatchString(text)
}

// StripTokens removes every marker token from text and returns the
// cleaned text plus the number of tokens removed. Only the whitespace
// the token's embedding introduced is removed with it; the surrounding
// text keeps its own spacing.
func StripTokens(text string) (string, int) {
	matches := tokenPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return text, 0
	}
	cleaned := tokenStripPattern.ReplaceAllString(text, "")
	return cleaned, len(matches)
}

// MarkerMap records the subtrees deferred under each marker, in their
// original sibling order. It is owned by a single migration run.
type MarkerMap map[string][]*blocktree.Node

// CollectAndStrip walks tree and, for every deferred child, removes it
// from the returned copy and records it under a marker embedded as text
// in its parent. All deferred siblings under one parent share a marker
// so they are placed together. Deferral nests: a collected subtree that
// is itself too deep is stripped the same way, yielding markers whose
// tokens live inside other markers' subtrees. The input tree is not
// mutated.
func CollectAndStrip(tree *blocktree.Node) (*blocktree.Node, MarkerMap) {
	stripped := tree.Clone()
	markers := MarkerMap{}
	collect(stripped, markers)
	return stripped, markers
}

func collect(n *blocktree.Node, markers MarkerMap) {
	if n == nil || n.Collected {
		return
	}

	var kept []*blocktree.Node
	for _, child := range n.Children {
		if !child.Deferred || child.Collected {
			kept = append(kept, child)
			continue
		}

		if n.Marker == "" {
			n.Marker = NewMarker()
			n.Text = appendToken(n.Text, Token(n.Marker))
		}
		// The subtree may itself be deeper than one append can create;
		// collect its own deferred frontier first so every recorded
		// subtree fits a single call. The nested markers' tokens ride
		// along inside this subtree's text.
		collect(child, markers)
		markCollected(child)
		markers[n.Marker] = append(markers[n.Marker], child)
	}
	n.Children = kept

	for _, child := range n.Children {
		collect(child, markers)
	}
}

func appendToken(text, token string) string {
	if text == "" {
		return token
	}
	return text + " " + token
}

func markCollected(n *blocktree.Node) {
	blocktree.Walk(n, func(node *blocktree.Node) bool {
		node.Collected = true
		return true
	})
}

// Sweeper removes placed marker tokens from remote text.
type Sweeper struct {
	store Store
	log   *slog.Logger
}

func NewSweeper(store Store, log *slog.Logger) *Sweeper {
	return &Sweeper{store: store, log: log}
}

// SweepTokens walks a remote subtree and rewrites every block whose
// visible text still contains marker tokens. Individual rewrite
// failures are logged and skipped so one bad block cannot stall the
// sweep. Returns the number of tokens removed.
func (s *Sweeper) SweepTokens(ctx context.Context, root *blocktree.RemoteNode) int {
	removed := 0
	blocktree.WalkRemote(root, func(n *blocktree.RemoteNode) {
		if !HasAnyToken(n.Text) {
			return
		}
		cleaned, count := StripTokens(n.Text)
		if err := s.store.UpdateNodeText(ctx, n.RemoteID, n.Kind, cleaned); err != nil {
			s.log.Error("token sweep write failed",
				"phase", "sweep",
				"block_id", n.RemoteID,
				"error", err,
			)
			return
		}
		n.Text = cleaned
		removed += count
	})
	return removed
}
