package placer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/hward/sn2n/internal/blocktree"
	"github.com/hward/sn2n/internal/notion"
)

// Store is the remote document store surface the placement layer uses.
// *notion.Client satisfies it.
type Store interface {
	AppendChildren(ctx context.Context, blockID string, children []*blocktree.Node) error
	ListChildren(ctx context.Context, blockID string) ([]*blocktree.RemoteNode, error)
	UpdateNodeText(ctx context.Context, blockID string, kind blocktree.Kind, text string) error
	ArchiveBlock(ctx context.Context, blockID string) error
}

// ChunkerConfig controls batching and retry behavior.
type ChunkerConfig struct {
	MaxChildren    int           // Per-call sibling ceiling (remote store limit)
	MaxAttempts    int           // Attempts per batch before giving up
	TransientDelay time.Duration // Linear backoff step for generic transient errors
	RateLimitDelay time.Duration // Initial backoff after a rate-limit signal
	RateLimitCap   time.Duration // Ceiling for rate-limit backoff
	BatchPause     time.Duration // Delay between consecutive batches
	LargeBatchAt   int           // Batch count at which the inter-batch pause doubles
}

// DefaultChunkerConfig returns the limits the remote store documents.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MaxChildren:    100,
		MaxAttempts:    3,
		TransientDelay: 300 * time.Millisecond,
		RateLimitDelay: 5 * time.Second,
		RateLimitCap:   30 * time.Second,
		BatchPause:     350 * time.Millisecond,
		LargeBatchAt:   4,
	}
}

// Chunker appends oversized sibling lists in store-legal batches.
type Chunker struct {
	store Store
	log   *slog.Logger
	cfg   ChunkerConfig
}

func NewChunker(store Store, log *slog.Logger, cfg ChunkerConfig) *Chunker {
	if cfg.MaxChildren <= 0 {
		cfg.MaxChildren = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = 5 * time.Second
	}
	if cfg.RateLimitCap <= 0 {
		cfg.RateLimitCap = 30 * time.Second
	}
	return &Chunker{store: store, log: log, cfg: cfg}
}

// ExhaustedError reports a batch whose retries ran out. Siblings from
// earlier batches were already appended; callers must not assume
// all-or-nothing.
type ExhaustedError struct {
	Batch    int // Zero-based index of the failed batch
	Appended int // Siblings appended before the failure
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("batch %d exhausted retries after %d appended: %s", e.Batch, e.Appended, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Append appends nodes as children of parentID in consecutive batches
// of at most MaxChildren, preserving order across and within batches.
// It returns the number of siblings appended, which on error may be
// less than len(nodes).
func (c *Chunker) Append(ctx context.Context, parentID string, nodes []*blocktree.Node) (int, error) {
	if len(nodes) == 0 {
		return 0, nil
	}

	batches := partition(nodes, c.cfg.MaxChildren)
	pause := c.cfg.BatchPause
	if len(batches) >= c.cfg.LargeBatchAt && c.cfg.LargeBatchAt > 0 {
		// Sustained bursts are what trip the rate limiter; slow down
		// up front instead of paying the 429 penalty later.
		pause *= 2
	}

	appended := 0
	for i, batch := range batches {
		if i > 0 && pause > 0 {
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return appended, ctx.Err()
			}
		}

		if err := c.appendBatch(ctx, parentID, i, batch); err != nil {
			return appended, &ExhaustedError{Batch: i, Appended: appended, Err: err}
		}
		appended += len(batch)
	}

	return appended, nil
}

// appendBatch writes one batch, retrying the same batch on rate-limit
// and transient signals. Retry state lives in this call only.
func (c *Chunker) appendBatch(ctx context.Context, parentID string, index int, batch []*blocktree.Node) error {
	return retry.Do(
		func() error {
			return c.store.AppendChildren(ctx, parentID, batch)
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxAttempts)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return notion.IsRateLimited(err) || notion.IsTransient(err)
		}),
		retry.DelayType(func(n uint, err error, _ *retry.Config) time.Duration {
			if notion.IsRateLimited(err) {
				return c.rateLimitBackoff(n, err)
			}
			return time.Duration(n+1) * c.cfg.TransientDelay
		}),
		retry.OnRetry(func(n uint, err error) {
			c.log.Warn("batch append retry",
				"parent_id", parentID,
				"batch", index,
				"attempt", n+1,
				"rate_limited", notion.IsRateLimited(err),
				"error", err,
			)
		}),
	)
}

// rateLimitBackoff doubles the base delay per attempt up to the cap,
// preferring the store's Retry-After hint when it is longer.
func (c *Chunker) rateLimitBackoff(attempt uint, err error) time.Duration {
	delay := c.cfg.RateLimitDelay << attempt
	if delay > c.cfg.RateLimitCap {
		delay = c.cfg.RateLimitCap
	}
	if hint := notion.RetryAfter(err); hint > delay {
		delay = hint
		if delay > c.cfg.RateLimitCap {
			delay = c.cfg.RateLimitCap
		}
	}
	return delay
}

// partition splits nodes into consecutive slices of at most size.
func partition(nodes []*blocktree.Node, size int) [][]*blocktree.Node {
	var batches [][]*blocktree.Node
	for len(nodes) > size {
		batches = append(batches, nodes[:size])
		nodes = nodes[size:]
	}
	if len(nodes) > 0 {
		batches = append(batches, nodes)
	}
	return batches
}
