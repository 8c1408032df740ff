package placer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hward/sn2n/internal/blocktree"
	"github.com/hward/sn2n/internal/notion"
)

func fastChunkerConfig(maxChildren int) ChunkerConfig {
	return ChunkerConfig{
		MaxChildren:    maxChildren,
		MaxAttempts:    3,
		TransientDelay: time.Millisecond,
		RateLimitDelay: time.Millisecond,
		RateLimitCap:   5 * time.Millisecond,
		BatchPause:     0,
		LargeBatchAt:   4,
	}
}

func paragraphs(n int) []*blocktree.Node {
	nodes := make([]*blocktree.Node, 0, n)
	for i := 0; i < n; i++ {
		nodes = append(nodes, &blocktree.Node{
			Kind: blocktree.KindParagraph,
			Text: fmt.Sprintf("para-%03d", i),
		})
	}
	return nodes
}

func TestChunker_BatchSizes(t *testing.T) {
	store := newMemStore()
	store.addRemote("", blocktree.KindRoot, "")
	c := NewChunker(store, testLogger(), fastChunkerConfig(100))

	appended, err := c.Append(context.Background(), "blk-1", paragraphs(250))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if appended != 250 {
		t.Errorf("appended = %d, want 250", appended)
	}

	wantSizes := []int{100, 100, 50}
	if len(store.appendLog) != len(wantSizes) {
		t.Fatalf("got %d append calls, want %d", len(store.appendLog), len(wantSizes))
	}
	for i, call := range store.appendLog {
		if call.count != wantSizes[i] {
			t.Errorf("call %d: size %d, want %d", i, call.count, wantSizes[i])
		}
	}
}

func TestChunker_CeilingCompliance(t *testing.T) {
	const ceiling = 10
	for _, n := range []int{0, 1, ceiling - 1, ceiling, ceiling + 1, 5 * ceiling, 10 * ceiling} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			store := newMemStore()
			store.addRemote("", blocktree.KindRoot, "")
			c := NewChunker(store, testLogger(), fastChunkerConfig(ceiling))

			appended, err := c.Append(context.Background(), "blk-1", paragraphs(n))
			if err != nil {
				t.Fatalf("Append() error = %v", err)
			}
			if appended != n {
				t.Errorf("appended = %d, want %d", appended, n)
			}
			for i, call := range store.appendLog {
				if call.count > ceiling {
					t.Errorf("call %d exceeded ceiling: %d > %d", i, call.count, ceiling)
				}
			}
		})
	}
}

func TestChunker_OrderPreserved(t *testing.T) {
	store := newMemStore()
	store.addRemote("", blocktree.KindRoot, "")
	c := NewChunker(store, testLogger(), fastChunkerConfig(7))

	nodes := paragraphs(20)
	if _, err := c.Append(context.Background(), "blk-1", nodes); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	texts := store.childTexts("blk-1")
	if len(texts) != 20 {
		t.Fatalf("got %d children, want 20", len(texts))
	}
	for i, text := range texts {
		if want := fmt.Sprintf("para-%03d", i); text != want {
			t.Errorf("child %d: text %q, want %q", i, text, want)
		}
	}
}

func TestChunker_RateLimitRetried(t *testing.T) {
	store := newMemStore()
	store.addRemote("", blocktree.KindRoot, "")
	rateLimited := &notion.APIError{StatusCode: 429, Code: "rate_limited"}

	// 5 batches of 10; batches 2 and 4 each fail once with a rate-limit
	// signal before succeeding on the retry.
	store.appendErrs = []error{nil, rateLimited, nil, nil, rateLimited, nil, nil}

	c := NewChunker(store, testLogger(), fastChunkerConfig(10))
	appended, err := c.Append(context.Background(), "blk-1", paragraphs(50))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if appended != 50 {
		t.Errorf("appended = %d, want 50", appended)
	}
	if len(store.appendLog) != 7 {
		t.Errorf("got %d append calls, want 7 (5 batches + 2 retries)", len(store.appendLog))
	}
	if got := len(store.childTexts("blk-1")); got != 50 {
		t.Errorf("store holds %d children, want 50", got)
	}
}

func TestChunker_ExhaustedIsPartial(t *testing.T) {
	store := newMemStore()
	store.addRemote("", blocktree.KindRoot, "")
	transient := &notion.TransientError{Err: errors.New("connection reset")}

	// First batch succeeds; second batch fails every attempt.
	store.appendErrs = []error{nil, transient, transient, transient}

	c := NewChunker(store, testLogger(), fastChunkerConfig(10))
	appended, err := c.Append(context.Background(), "blk-1", paragraphs(30))
	if err == nil {
		t.Fatal("expected error from exhausted batch")
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want *ExhaustedError", err)
	}
	if exhausted.Batch != 1 {
		t.Errorf("failed batch = %d, want 1", exhausted.Batch)
	}
	if appended != 10 {
		t.Errorf("appended = %d, want 10 (first batch only)", appended)
	}
}

func TestChunker_NonRetryableFailsFast(t *testing.T) {
	store := newMemStore()
	store.addRemote("", blocktree.KindRoot, "")
	store.appendErrs = []error{&notion.APIError{StatusCode: 400, Code: "validation_error"}}

	c := NewChunker(store, testLogger(), fastChunkerConfig(10))
	_, err := c.Append(context.Background(), "blk-1", paragraphs(5))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(store.appendLog) != 1 {
		t.Errorf("got %d calls, want 1 (no retry on 400)", len(store.appendLog))
	}
}

func TestChunker_EmptyInput(t *testing.T) {
	store := newMemStore()
	c := NewChunker(store, testLogger(), fastChunkerConfig(10))
	appended, err := c.Append(context.Background(), "blk-1", nil)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if appended != 0 {
		t.Errorf("appended = %d, want 0", appended)
	}
	if len(store.appendLog) != 0 {
		t.Errorf("got %d calls, want 0", len(store.appendLog))
	}
}
