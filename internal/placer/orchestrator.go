package placer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hward/sn2n/internal/blocktree"
)

// State tracks a marker through the placement protocol. A marker whose
// token is not findable yet returns to PENDING for a later round.
// PLACED and ORPHANED are both success states; both feed into the
// shared sweep.
type State string

const (
	StatePending   State = "pending"
	StateSearching State = "searching"
	StatePlaced    State = "placed"
	StateOrphaned  State = "orphaned"
	StateSwept     State = "swept"
)

// PlacementResult is the per-marker outcome of a placement run.
type PlacementResult struct {
	Marker   string
	ParentID string // Remote id the subtrees were appended under ("" on total failure)
	Appended int
	State    State
	Orphaned bool  // Token never matched; subtrees fell back to the root
	Err      error // Batch-level failure, if any; processing continued past it
}

// UnrecoverableError means the document root itself could not be read
// or written; the whole run must be retried externally.
type UnrecoverableError struct {
	RootID string
	Err    error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("document root %s unreachable: %s", e.RootID, e.Err)
}

func (e *UnrecoverableError) Unwrap() error {
	return e.Err
}

// Orchestrator relocates deferred subtrees into the live remote tree:
// it finds each marker's token in remote text, appends the collected
// subtrees there through the chunker, and sweeps the tokens out.
type Orchestrator struct {
	store      Store
	chunker    *Chunker
	sweeper    *Sweeper
	log        *slog.Logger
	sweepDelay time.Duration
}

func NewOrchestrator(store Store, chunker *Chunker, log *slog.Logger, sweepDelay time.Duration) *Orchestrator {
	if sweepDelay <= 0 {
		sweepDelay = 2 * time.Second
	}
	return &Orchestrator{
		store:      store,
		chunker:    chunker,
		sweeper:    NewSweeper(store, log),
		log:        log,
		sweepDelay: sweepDelay,
	}
}

// PlaceDeepContent places every marker's subtrees into the remote tree
// rooted at rootID, then sweeps all tokens. Placement runs in rounds:
// a nested marker's token only becomes findable after the subtree
// carrying it is placed, so markers whose search misses go back to
// PENDING and are retried once a round has placed something new. A
// single marker's failure is contained; only an unreachable root
// aborts the run.
func (o *Orchestrator) PlaceDeepContent(ctx context.Context, rootID string, markers MarkerMap) ([]PlacementResult, error) {
	// Marker order within a round is not significant; sort for stable
	// logs and results.
	keys := make([]string, 0, len(markers))
	for m := range markers {
		keys = append(keys, m)
	}
	sort.Strings(keys)

	byMarker := make(map[string]*PlacementResult, len(keys))
	for _, m := range keys {
		byMarker[m] = &PlacementResult{Marker: m, State: StatePending}
	}
	buildResults := func() []PlacementResult {
		results := make([]PlacementResult, 0, len(keys))
		for _, m := range keys {
			results = append(results, *byMarker[m])
		}
		return results
	}

	pending := keys
	for len(pending) > 0 {
		var next []string
		for _, marker := range pending {
			res := byMarker[marker]
			res.State = StateSearching
			parent, err := o.findByToken(ctx, rootID, marker)
			if err != nil {
				return buildResults(), &UnrecoverableError{RootID: rootID, Err: err}
			}
			if parent == nil {
				res.State = StatePending
				next = append(next, marker)
				continue
			}
			o.appendSubtrees(ctx, res, parent.RemoteID, markers[marker], false)
		}
		if len(next) == len(pending) {
			// A full round placed nothing; the survivors' tokens are
			// not in remote text at all.
			pending = next
			break
		}
		pending = next
	}

	// No remote text carries these tokens (store-side truncation or a
	// lost write). Appending at the root keeps the content visible;
	// dropping it silently would be worse than misplacing it.
	for _, marker := range pending {
		o.appendSubtrees(ctx, byMarker[marker], rootID, markers[marker], true)
	}

	results := buildResults()
	if len(results) > 0 {
		if _, err := o.SweepMarkers(ctx, rootID); err != nil {
			return results, err
		}
		for i := range results {
			if results[i].Err != nil {
				continue
			}
			if results[i].State == StatePlaced || results[i].State == StateOrphaned {
				results[i].State = StateSwept
			}
		}
	}

	return results, nil
}

// appendSubtrees writes one marker's subtrees under targetID and
// records the outcome on res.
func (o *Orchestrator) appendSubtrees(ctx context.Context, res *PlacementResult, targetID string, subtrees []*blocktree.Node, orphaned bool) {
	log := o.log.With("phase", "placement", "marker", res.Marker)
	res.ParentID = targetID
	if orphaned {
		res.State = StateOrphaned
		res.Orphaned = true
		log.Warn("marker unmatched, falling back to document root", "parent_id", targetID, "subtrees", len(subtrees))
	} else {
		res.State = StatePlaced
		log.Info("marker matched", "parent_id", targetID)
	}

	appended, err := o.chunker.Append(ctx, targetID, subtrees)
	res.Appended = appended
	if err != nil {
		res.Err = err
		log.Error("append failed",
			"parent_id", targetID,
			"appended", appended,
			"total", len(subtrees),
			"error", err,
		)
		return
	}
	log.Info("marker placed", "parent_id", targetID, "appended", appended, "state", res.State)
}

// findByToken breadth-first searches the live remote tree for the first
// node whose text contains the marker's token. Shallower and
// earlier-visited nodes win ties. A nil result with nil error is a
// search miss.
func (o *Orchestrator) findByToken(ctx context.Context, rootID, marker string) (*blocktree.RemoteNode, error) {
	children, err := o.store.ListChildren(ctx, rootID)
	if err != nil {
		return nil, err
	}

	queue := children
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		if ContainsToken(node.Text, marker) {
			return node, nil
		}
		if !node.HasChildren {
			continue
		}
		grandchildren, err := o.store.ListChildren(ctx, node.RemoteID)
		if err != nil {
			// A single unreadable branch does not abort the search.
			o.log.Warn("list children failed during search",
				"phase", "search",
				"marker", marker,
				"block_id", node.RemoteID,
				"error", err,
			)
			continue
		}
		queue = append(queue, grandchildren...)
	}
	return nil, nil
}

// SweepMarkers removes every visible marker token under rootID,
// re-sweeping once after a short delay to absorb the store's lag
// between a write and that write being readable. Callable on its own so
// a document can be re-swept without re-running placement.
func (o *Orchestrator) SweepMarkers(ctx context.Context, rootID string) (int, error) {
	root, err := o.fetchTree(ctx, rootID)
	if err != nil {
		return 0, &UnrecoverableError{RootID: rootID, Err: err}
	}
	removed := o.sweeper.SweepTokens(ctx, root)

	select {
	case <-time.After(o.sweepDelay):
	case <-ctx.Done():
		return removed, ctx.Err()
	}

	root, err = o.fetchTree(ctx, rootID)
	if err != nil {
		return removed, &UnrecoverableError{RootID: rootID, Err: err}
	}
	removed += o.sweeper.SweepTokens(ctx, root)

	// A token that survives both sweeps is a marker leak.
	blocktree.WalkRemote(root, func(n *blocktree.RemoteNode) {
		if HasAnyToken(n.Text) {
			o.log.Error("marker leak detected",
				"phase", "sweep",
				"block_id", n.RemoteID,
				"text", n.Text,
			)
		}
	})

	return removed, nil
}

// FetchTree materializes the remote tree under rootID, consuming every
// page of every child listing.
func (o *Orchestrator) FetchTree(ctx context.Context, rootID string) (*blocktree.RemoteNode, error) {
	return o.fetchTree(ctx, rootID)
}

func (o *Orchestrator) fetchTree(ctx context.Context, rootID string) (*blocktree.RemoteNode, error) {
	root := &blocktree.RemoteNode{RemoteID: rootID, HasChildren: true}
	children, err := o.store.ListChildren(ctx, rootID)
	if err != nil {
		return nil, err
	}
	root.Children = children

	queue := append([]*blocktree.RemoteNode{}, children...)
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if !node.HasChildren {
			continue
		}
		grandchildren, err := o.store.ListChildren(ctx, node.RemoteID)
		if err != nil {
			o.log.Warn("list children failed during fetch",
				"block_id", node.RemoteID,
				"error", err,
			)
			continue
		}
		node.Children = grandchildren
		queue = append(queue, grandchildren...)
	}
	return root, nil
}
