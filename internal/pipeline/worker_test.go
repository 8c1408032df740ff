package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hward/sn2n/internal/blocktree"
	"github.com/hward/sn2n/internal/notion"
	"github.com/hward/sn2n/internal/placer"
)

// fakeStore is an in-memory PageStore that materializes appended trees
// so placement, sweeping and dedup run against live state.
type fakeStore struct {
	mu     sync.Mutex
	blocks map[string]*fakeBlock
	seq    int

	// deepest nesting seen in any single create or append payload
	maxPayload int
}

type fakeBlock struct {
	id       string
	kind     blocktree.Kind
	text     string
	url      string
	icon     string
	children []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{blocks: map[string]*fakeBlock{}}
}

func (s *fakeStore) nextID() string {
	s.seq++
	return fmt.Sprintf("blk-%d", s.seq)
}

func (s *fakeStore) CreatePage(ctx context.Context, databaseID string, properties map[string]any, children []*blocktree.Node) (*notion.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := "page-1"
	s.blocks[id] = &fakeBlock{id: id, kind: blocktree.KindRoot}
	s.recordPayload(children)
	for _, c := range children {
		s.insert(id, c)
	}
	return &notion.Page{ID: id, URL: "https://example.com/" + id}, nil
}

func (s *fakeStore) AppendChildren(ctx context.Context, blockID string, children []*blocktree.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[blockID]; !ok {
		return fmt.Errorf("no such block %s", blockID)
	}
	s.recordPayload(children)
	for _, c := range children {
		s.insert(blockID, c)
	}
	return nil
}

func (s *fakeStore) recordPayload(children []*blocktree.Node) {
	for _, c := range children {
		if d := payloadDepth(c); d > s.maxPayload {
			s.maxPayload = d
		}
	}
}

func payloadDepth(n *blocktree.Node) int {
	deepest := 0
	for _, c := range n.Children {
		if d := payloadDepth(c); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}

func (s *fakeStore) insert(parentID string, n *blocktree.Node) {
	id := s.nextID()
	b := &fakeBlock{id: id, kind: n.Kind, text: n.Text, url: n.URL, icon: n.Icon}
	if n.Kind == blocktree.KindTableRow {
		b.text = strings.Join(n.Cells, "\t")
	}
	s.blocks[id] = b
	parent := s.blocks[parentID]
	parent.children = append(parent.children, id)
	for _, c := range n.Children {
		s.insert(id, c)
	}
}

func (s *fakeStore) ListChildren(ctx context.Context, blockID string) ([]*blocktree.RemoteNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.blocks[blockID]
	if !ok {
		return nil, fmt.Errorf("no such block %s", blockID)
	}
	var out []*blocktree.RemoteNode
	for _, id := range parent.children {
		b := s.blocks[id]
		out = append(out, &blocktree.RemoteNode{
			RemoteID:    b.id,
			Kind:        b.kind,
			Text:        b.text,
			URL:         b.url,
			Icon:        b.icon,
			HasChildren: len(b.children) > 0,
		})
	}
	return out, nil
}

func (s *fakeStore) UpdateNodeText(ctx context.Context, blockID string, kind blocktree.Kind, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[blockID]
	if !ok {
		return fmt.Errorf("no such block %s", blockID)
	}
	b.text = text
	return nil
}

func (s *fakeStore) ArchiveBlock(ctx context.Context, blockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[blockID]; !ok {
		return fmt.Errorf("no such block %s", blockID)
	}
	for _, b := range s.blocks {
		for i, id := range b.children {
			if id == blockID {
				b.children = append(b.children[:i], b.children[i+1:]...)
				break
			}
		}
	}
	delete(s.blocks, blockID)
	return nil
}

// countAll walks the live tree under rootID.
func (s *fakeStore) countAll(rootID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count func(id string) int
	count = func(id string) int {
		n := 0
		for _, c := range s.blocks[id].children {
			n += 1 + count(c)
		}
		return n
	}
	return count(rootID)
}

func (s *fakeStore) anyTokenLeft() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.blocks {
		if placer.HasAnyToken(b.text) {
			return true
		}
	}
	return false
}

func newTestWorker(store *fakeStore) *Worker {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := placer.ChunkerConfig{
		MaxChildren:    100,
		MaxAttempts:    2,
		TransientDelay: time.Millisecond,
		RateLimitDelay: time.Millisecond,
		RateLimitCap:   5 * time.Millisecond,
		BatchPause:     0,
		LargeBatchAt:   4,
	}
	chunker := placer.NewChunker(store, log, cfg)
	orch := placer.NewOrchestrator(store, chunker, log, time.Millisecond)
	deduper := placer.NewDeduper(store, log, placer.DedupeConfig{ProximityWindow: 5})
	return NewWorker(store, chunker, orch, deduper, log, 2, 100)
}

func TestWorker_ProcessDeepDocument(t *testing.T) {
	// Four levels of list nesting forces a deferral past the creation
	// ceiling; the deep item must still end up in the live tree.
	html := `<body>
		<h1>Install Guide</h1>
		<ul>
			<li>Step 1
				<ul><li>Step 1a
					<ul><li>Step 1a-i
						<ul><li>Deep detail</li></ul>
					</li></ul>
				</li></ul>
			</li>
		</ul>
	</body>`

	store := newFakeStore()
	job := &Job{ID: "j1", Title: "Install Guide", DatabaseID: "db-1", Status: StatusQueued}
	job.SetContent(html, "", nil)

	w := newTestWorker(store)
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s (errors: %v)", snap.Status, snap.Progress.Errors)
	}
	if snap.PageID == "" {
		t.Fatal("no page recorded")
	}
	if snap.Progress.Markers != 1 {
		t.Errorf("markers = %d, want 1", snap.Progress.Markers)
	}
	if snap.Progress.Placed != 1 || snap.Progress.Orphaned != 0 {
		t.Errorf("placed = %d, orphaned = %d", snap.Progress.Placed, snap.Progress.Orphaned)
	}
	if snap.Progress.TokensSwept != 1 {
		t.Errorf("tokens swept = %d, want 1", snap.Progress.TokensSwept)
	}

	// Every source block survives: the heading plus four list items.
	if got := store.countAll(snap.PageID); got != 5 {
		t.Errorf("live tree has %d blocks, want 5", got)
	}
	if store.anyTokenLeft() {
		t.Error("marker token left in live tree")
	}
	if snap.Report == nil {
		t.Fatal("no validation report")
	}
	if snap.Report.HasErrors {
		t.Errorf("validation errors: %v", snap.Report.Errors)
	}
}

func TestWorker_VeryDeepDocument(t *testing.T) {
	// Seven levels of nesting needs deferral in waves: each collected
	// subtree defers its own tail, and placement resolves the markers
	// across rounds. No single store payload may exceed the ceiling,
	// and every level must survive into the live tree.
	var b strings.Builder
	b.WriteString("<body>")
	for i := 1; i <= 7; i++ {
		fmt.Fprintf(&b, "<ul><li>Level %d", i)
	}
	for i := 1; i <= 7; i++ {
		b.WriteString("</li></ul>")
	}
	b.WriteString("</body>")

	store := newFakeStore()
	job := &Job{ID: "j3", Title: "Deep Outline", DatabaseID: "db-1", Status: StatusQueued}
	job.SetContent(b.String(), "", nil)

	w := newTestWorker(store)
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s (errors: %v)", snap.Status, snap.Progress.Errors)
	}
	if snap.Progress.Markers != 3 {
		t.Errorf("markers = %d, want 3", snap.Progress.Markers)
	}
	if snap.Progress.Placed != 3 || snap.Progress.Orphaned != 0 {
		t.Errorf("placed = %d, orphaned = %d", snap.Progress.Placed, snap.Progress.Orphaned)
	}
	if got := store.countAll(snap.PageID); got != 7 {
		t.Errorf("live tree has %d blocks, want 7", got)
	}
	if store.maxPayload > 2 {
		t.Errorf("deepest payload sent to the store spans %d levels, want <= 2", store.maxPayload)
	}
	if store.anyTokenLeft() {
		t.Error("marker token left in live tree")
	}
	if snap.Report != nil && snap.Report.HasErrors {
		t.Errorf("validation errors: %v", snap.Report.Errors)
	}
}

func TestWorker_NoContentFails(t *testing.T) {
	store := newFakeStore()
	job := &Job{ID: "j1", Title: "empty", DatabaseID: "db-1", Status: StatusQueued}

	w := newTestWorker(store)
	w.Process(context.Background(), job)

	if got := job.Snapshot().Status; got != StatusFailed {
		t.Errorf("status = %s, want %s", got, StatusFailed)
	}
}

func TestWorker_MarkdownDocument(t *testing.T) {
	md := strings.Join([]string{
		"# Runbook",
		"",
		"- check the queue",
		"- restart the worker",
	}, "\n")

	store := newFakeStore()
	job := &Job{ID: "j2", Title: "Runbook", DatabaseID: "db-1", Status: StatusQueued}
	job.SetContent("", md, nil)

	w := newTestWorker(store)
	w.Process(context.Background(), job)

	snap := job.Snapshot()
	if snap.Status != StatusCompleted {
		t.Fatalf("status = %s (errors: %v)", snap.Status, snap.Progress.Errors)
	}
	if snap.Progress.Markers != 0 {
		t.Errorf("markers = %d, want 0 for a shallow document", snap.Progress.Markers)
	}
	if got := store.countAll(snap.PageID); got != 3 {
		t.Errorf("live tree has %d blocks, want 3", got)
	}
}
