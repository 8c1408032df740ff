package placer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/hward/sn2n/internal/blocktree"
)

// memStore is an in-memory Store for tests. Errors can be scripted
// per-call; a nil entry means the call succeeds.
type memStore struct {
	mu     sync.Mutex
	seq    int
	blocks map[string]*memBlock

	appendErrs []error
	appendLog  []appendCall
	listErrs   map[string]error
}

type appendCall struct {
	parentID string
	count    int
}

type memBlock struct {
	id       string
	parentID string
	kind     blocktree.Kind
	text     string
	url      string
	icon     string
	children []string
}

func newMemStore() *memStore {
	return &memStore{blocks: map[string]*memBlock{}}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// addRemote seeds a block directly, bypassing AppendChildren.
func (s *memStore) addRemote(parentID string, kind blocktree.Kind, text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(parentID, &blocktree.Node{Kind: kind, Text: text})
}

func (s *memStore) insert(parentID string, n *blocktree.Node) string {
	s.seq++
	id := fmt.Sprintf("blk-%d", s.seq)
	text := n.Text
	if n.Kind == blocktree.KindTableRow {
		text = strings.Join(n.Cells, "\t")
	}
	s.blocks[id] = &memBlock{
		id:       id,
		parentID: parentID,
		kind:     n.Kind,
		text:     text,
		url:      n.URL,
		icon:     n.Icon,
	}
	if parent, ok := s.blocks[parentID]; ok {
		parent.children = append(parent.children, id)
	} else if parentID != "" {
		s.blocks[parentID] = &memBlock{id: parentID, children: []string{id}}
	}
	for _, c := range n.Children {
		s.insert(id, c)
	}
	return id
}

func (s *memStore) AppendChildren(ctx context.Context, parentID string, children []*blocktree.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLog = append(s.appendLog, appendCall{parentID: parentID, count: len(children)})
	if len(s.appendErrs) > 0 {
		err := s.appendErrs[0]
		s.appendErrs = s.appendErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, c := range children {
		s.insert(parentID, c)
	}
	return nil
}

func (s *memStore) ListChildren(ctx context.Context, blockID string) ([]*blocktree.RemoteNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.listErrs[blockID]; ok {
		return nil, err
	}
	parent, ok := s.blocks[blockID]
	if !ok {
		return nil, nil
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

func (s *memStore) UpdateNodeText(ctx context.Context, blockID string, kind blocktree.Kind, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[blockID]
	if !ok {
		return fmt.Errorf("block %s not found", blockID)
	}
	b.text = text
	return nil
}

func (s *memStore) ArchiveBlock(ctx context.Context, blockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[blockID]
	if !ok {
		return fmt.Errorf("block %s not found", blockID)
	}
	if parent, ok := s.blocks[b.parentID]; ok {
		kept := parent.children[:0]
		for _, id := range parent.children {
			if id != blockID {
				kept = append(kept, id)
			}
		}
		parent.children = kept
	}
	delete(s.blocks, blockID)
	return nil
}

// childTexts returns the text of each direct child of blockID in order.
func (s *memStore) childTexts(blockID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.blocks[blockID]
	if !ok {
		return nil
	}
	var out []string
	for _, id := range parent.children {
		out = append(out, s.blocks[id].text)
	}
	return out
}

// totalBlocks counts all live blocks under rootID.
func (s *memStore) totalBlocks(rootID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countChildren(s, rootID)
}

func countChildren(s *memStore, id string) int {
	b, ok := s.blocks[id]
	if !ok {
		return 0
	}
	total := 0
	for _, c := range b.children {
		total += 1 + countChildren(s, c)
	}
	return total
}
