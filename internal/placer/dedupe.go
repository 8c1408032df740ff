package placer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/hward/sn2n/internal/blocktree"
)

// DedupeConfig controls duplicate removal.
type DedupeConfig struct {
	ProximityWindow int // Lookback distance, in traversal order, for general duplicates
}

func DefaultDedupeConfig() DedupeConfig {
	return DedupeConfig{ProximityWindow: 5}
}

// calloutLeadIns are lead-in phrases that unrelated sections
// legitimately reuse; callouts starting with one are only deduplicated
// against an immediately adjacent twin.
var calloutLeadIns = []string{
	"note:",
	"important:",
	"warning:",
	"tip:",
	"prerequisite",
	"before you begin",
}

// Deduper removes block duplicates introduced by multi-pass conversion
// while preserving intentional repetition.
type Deduper struct {
	store Store
	log   *slog.Logger
	cfg   DedupeConfig
}

func NewDeduper(store Store, log *slog.Logger, cfg DedupeConfig) *Deduper {
	if cfg.ProximityWindow <= 0 {
		cfg.ProximityWindow = 5
	}
	return &Deduper{store: store, log: log, cfg: cfg}
}

// occurrence records where a fingerprint was last kept.
type occurrence struct {
	position int
	blockID  string
}

// Dedupe walks the remote tree in document order, archiving blocks
// whose fingerprint matches an earlier occurrence within the proximity
// window. The first occurrence is always kept. Returns the number of
// blocks removed.
func (d *Deduper) Dedupe(ctx context.Context, root *blocktree.RemoteNode) (int, error) {
	seen := map[string]occurrence{}
	position := 0
	removed := 0

	var walk func(parent, n *blocktree.RemoteNode) error
	walk = func(parent, n *blocktree.RemoteNode) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		position++

		fp := fingerprint(n)
		if fp != "" && !d.exempt(parent, n) {
			if prev, ok := seen[fp]; ok && d.withinWindow(n, position, prev.position) {
				if err := d.store.ArchiveBlock(ctx, n.RemoteID); err != nil {
					d.log.Warn("archive duplicate failed",
						"phase", "dedup",
						"block_id", n.RemoteID,
						"error", err,
					)
				} else {
					removed++
					d.log.Info("duplicate removed",
						"phase", "dedup",
						"block_id", n.RemoteID,
						"kept_block_id", prev.blockID,
						"kind", n.Kind,
					)
					// Children went away with the archived block.
					return nil
				}
			} else {
				seen[fp] = occurrence{position: position, blockID: n.RemoteID}
			}
		}

		// Table rows are part of the table's fingerprint, not
		// independently deduplicated blocks.
		if n.Kind == blocktree.KindTable {
			return nil
		}
		for _, c := range n.Children {
			if err := walk(n, c); err != nil {
				return err
			}
		}
		return nil
	}

	for _, c := range root.Children {
		if err := walk(root, c); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// exempt reports whether n must never be removed by fingerprint: media
// and tables nested under a procedural step repeat intentionally.
func (d *Deduper) exempt(parent, n *blocktree.RemoteNode) bool {
	if parent == nil {
		return false
	}
	switch n.Kind {
	case blocktree.KindImage, blocktree.KindTable:
		return parent.Kind.IsListItem()
	}
	return false
}

// withinWindow applies the distance rule for this node kind: recognized
// callout lead-ins only match adjacent twins, everything else uses the
// proximity window.
func (d *Deduper) withinWindow(n *blocktree.RemoteNode, position, prevPosition int) bool {
	distance := position - prevPosition
	if n.Kind == blocktree.KindCallout && hasLeadIn(n.Text) {
		return distance <= 1
	}
	return distance <= d.cfg.ProximityWindow
}

func hasLeadIn(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, lead := range calloutLeadIns {
		if strings.HasPrefix(t, lead) {
			return true
		}
	}
	return false
}

// fingerprint computes the duplicate key for a node, or "" for kinds
// that are never deduplicated.
func fingerprint(n *blocktree.RemoteNode) string {
	switch n.Kind {
	case blocktree.KindImage:
		if n.URL == "" {
			return ""
		}
		return hash("image", n.URL)
	case blocktree.KindTable:
		rows := make([]string, 0, len(n.Children)+1)
		for _, row := range n.Children {
			rows = append(rows, row.Text)
		}
		if len(rows) == 0 {
			return ""
		}
		return hash("table", strings.Join(rows, "\n"))
	case blocktree.KindCallout:
		norm := strings.ToLower(strings.Join(strings.Fields(n.Text), " "))
		if norm == "" {
			return ""
		}
		return hash("callout", n.Icon+"\x00"+norm)
	}
	return ""
}

func hash(kind, content string) string {
	sum := sha256.Sum256([]byte(kind + "\x00" + content))
	return kind + ":" + hex.EncodeToString(sum[:8])
}
