package reconciler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/marksync/marksync/internal/mapping"
	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/tree"
)

// fakeHost is an in-memory native bookmark tree. Like a real host it
// emits an event for every mutation, including the engine's own writes,
// unless listeners are disabled.
type fakeHost struct {
	mu        sync.Mutex
	root      *native.Node
	nextID    int
	events    chan native.Event
	listeners bool

	failCreate error // injected fault for the next Create
}

const (
	fakeRootID    = "0"
	fakeToolbarID = "1"
	fakeOtherID   = "2"
)

func newFakeHost() *fakeHost {
	return &fakeHost{
		root: &native.Node{ID: fakeRootID, Children: []*native.Node{
			{ID: fakeToolbarID, ParentID: fakeRootID, Index: 0, Title: "Bookmarks bar"},
			{ID: fakeOtherID, ParentID: fakeRootID, Index: 1, Title: "Other bookmarks"},
		}},
		nextID: 3,
		events: make(chan native.Event, 100),
	}
}

func (h *fakeHost) RootID() string { return fakeRootID }

func (h *fakeHost) ContainerRoots(ctx context.Context) (map[string]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	roots := make(map[string]string)
	if h.find(fakeToolbarID) != nil {
		roots[tree.ContainerToolbar] = fakeToolbarID
	}
	if h.find(fakeOtherID) != nil {
		roots[tree.ContainerOther] = fakeOtherID
	}
	return roots, nil
}

func (h *fakeHost) emit(evt native.Event) {
	if !h.listeners {
		return
	}
	select {
	case h.events <- evt:
	default:
	}
}

func (h *fakeHost) Events() <-chan native.Event { return h.events }

func (h *fakeHost) EnableListeners() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = true
}

func (h *fakeHost) DisableListeners() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = false
}

func (h *fakeHost) ListenersEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listeners
}

func (h *fakeHost) find(id string) *native.Node {
	var walk func(n *native.Node) *native.Node
	walk = func(n *native.Node) *native.Node {
		if n.ID == id {
			return n
		}
		for _, c := range n.Children {
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(h.root)
}

func (h *fakeHost) findParent(id string) (*native.Node, int) {
	var walk func(n *native.Node) (*native.Node, int)
	walk = func(n *native.Node) (*native.Node, int) {
		for i, c := range n.Children {
			if c.ID == id {
				return n, i
			}
			if p, idx := walk(c); p != nil {
				return p, idx
			}
		}
		return nil, -1
	}
	return walk(h.root)
}

func copyNode(n *native.Node, deep bool) *native.Node {
	c := &native.Node{ID: n.ID, ParentID: n.ParentID, Index: n.Index, Title: n.Title, URL: n.URL}
	if deep {
		for _, child := range n.Children {
			c.Children = append(c.Children, copyNode(child, true))
		}
	}
	return c
}

func (h *fakeHost) reindex(parent *native.Node) {
	for i, c := range parent.Children {
		c.ParentID = parent.ID
		c.Index = i
	}
}

func (h *fakeHost) Get(ctx context.Context, id string) (*native.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.find(id)
	if n == nil {
		return nil, fmt.Errorf("no node %q", id)
	}
	return copyNode(n, false), nil
}

func (h *fakeHost) GetSubTree(ctx context.Context, id string) (*native.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.find(id)
	if n == nil {
		return nil, fmt.Errorf("no node %q", id)
	}
	return copyNode(n, true), nil
}

func (h *fakeHost) GetChildren(ctx context.Context, id string) ([]*native.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.find(id)
	if n == nil {
		return nil, fmt.Errorf("no node %q", id)
	}
	out := make([]*native.Node, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, copyNode(c, false))
	}
	return out, nil
}

func (h *fakeHost) Search(ctx context.Context, query string) ([]*native.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*native.Node
	var walk func(n *native.Node)
	walk = func(n *native.Node) {
		if strings.Contains(n.Title, query) || strings.Contains(n.URL, query) {
			out = append(out, copyNode(n, false))
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(h.root)
	return out, nil
}

func (h *fakeHost) Create(ctx context.Context, c native.Create) (*native.Node, error) {
	h.mu.Lock()
	if h.failCreate != nil {
		err := h.failCreate
		h.failCreate = nil
		h.mu.Unlock()
		return nil, err
	}
	parent := h.find(c.ParentID)
	if parent == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("no parent %q", c.ParentID)
	}
	node := &native.Node{ID: strconv.Itoa(h.nextID), Title: c.Title, URL: c.URL}
	h.nextID++
	idx := c.Index
	if idx < 0 || idx > len(parent.Children) {
		idx = len(parent.Children)
	}
	parent.Children = append(parent.Children, nil)
	copy(parent.Children[idx+1:], parent.Children[idx:])
	parent.Children[idx] = node
	h.reindex(parent)
	out := copyNode(node, false)
	h.mu.Unlock()

	h.emit(native.Created{Node: copyNode(node, false)})
	return out, nil
}

func (h *fakeHost) Update(ctx context.Context, id string, u native.Update) (*native.Node, error) {
	h.mu.Lock()
	n := h.find(id)
	if n == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("no node %q", id)
	}
	if u.Title != nil {
		n.Title = *u.Title
	}
	if u.URL != nil && *u.URL != "" {
		n.URL = *u.URL
	}
	out := copyNode(n, false)
	h.mu.Unlock()

	h.emit(native.Changed{ID: id, Title: out.Title, URL: out.URL})
	return out, nil
}

func (h *fakeHost) Move(ctx context.Context, id, parentID string, index int) (*native.Node, error) {
	h.mu.Lock()
	oldParent, oldIdx := h.findParent(id)
	if oldParent == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("no node %q", id)
	}
	newParent := h.find(parentID)
	if newParent == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("no parent %q", parentID)
	}
	node := oldParent.Children[oldIdx]
	oldParent.Children = append(oldParent.Children[:oldIdx], oldParent.Children[oldIdx+1:]...)
	if index < 0 || index > len(newParent.Children) {
		index = len(newParent.Children)
	}
	newParent.Children = append(newParent.Children, nil)
	copy(newParent.Children[index+1:], newParent.Children[index:])
	newParent.Children[index] = node
	h.reindex(oldParent)
	h.reindex(newParent)
	out := copyNode(node, false)
	h.mu.Unlock()

	h.emit(native.Moved{ID: id, ParentID: parentID, Index: index, OldParentID: oldParent.ID, OldIndex: oldIdx})
	return out, nil
}

func (h *fakeHost) removeNode(id string) (*native.Node, *native.Node, int, error) {
	parent, idx := h.findParent(id)
	if parent == nil {
		return nil, nil, 0, fmt.Errorf("no node %q", id)
	}
	node := parent.Children[idx]
	parent.Children = append(parent.Children[:idx], parent.Children[idx+1:]...)
	h.reindex(parent)
	return node, parent, idx, nil
}

func (h *fakeHost) Remove(ctx context.Context, id string) error {
	h.mu.Lock()
	node, parent, idx, err := h.removeNode(id)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	if len(node.Children) > 0 {
		h.mu.Unlock()
		return fmt.Errorf("node %q has children", id)
	}
	snapshot := copyNode(node, true)
	h.mu.Unlock()

	h.emit(native.Removed{ID: id, ParentID: parent.ID, Index: idx, Node: snapshot})
	return nil
}

func (h *fakeHost) RemoveTree(ctx context.Context, id string) error {
	h.mu.Lock()
	node, parent, idx, err := h.removeNode(id)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	snapshot := copyNode(node, true)
	h.mu.Unlock()

	h.emit(native.Removed{ID: id, ParentID: parent.ID, Index: idx, Node: snapshot})
	return nil
}

// fakeStore keeps everything in memory.
type fakeStore struct {
	mu       sync.Mutex
	tree     *tree.Tree
	mappings *mapping.Table
	settings Settings
	journal  []JournalEntry

	treeCommits    int
	mappingCommits int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tree:     tree.New(),
		mappings: mapping.NewTable(),
		settings: Settings{SyncEnabled: true, SyncToolbar: true},
	}
}

func (s *fakeStore) Tree(ctx context.Context) (*tree.Tree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Clone(), nil
}

func (s *fakeStore) CommitTree(ctx context.Context, t *tree.Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = t.Clone()
	s.treeCommits++
	return nil
}

func (s *fakeStore) Mappings(ctx context.Context) (*mapping.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mappings.Clone(), nil
}

func (s *fakeStore) CommitMappings(ctx context.Context, tab *mapping.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = tab.Clone()
	s.mappingCommits++
	return nil
}

func (s *fakeStore) Settings(ctx context.Context) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (s *fakeStore) setSettings(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

func (s *fakeStore) AppendJournal(ctx context.Context, e JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = append(s.journal, e)
	return nil
}

// fakeSyncer records invocations and optionally returns remote changes.
type fakeSyncer struct {
	mu      sync.Mutex
	calls   int
	changes []RemoteChange
	err     error
}

func (f *fakeSyncer) ExecuteSync(ctx context.Context, local *tree.Tree) ([]RemoteChange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.changes, f.err
}

func (f *fakeSyncer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// collectNotifier records notifications and signals drain completion.
type collectNotifier struct {
	mu      sync.Mutex
	applied []Change
	failed  []error
	drains  chan DrainStats
}

func newCollectNotifier() *collectNotifier {
	return &collectNotifier{drains: make(chan DrainStats, 10)}
}

func (n *collectNotifier) ChangeApplied(c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.applied = append(n.applied, c)
}

func (n *collectNotifier) ReconcileFailed(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, err)
}

func (n *collectNotifier) DrainComplete(stats DrainStats) {
	select {
	case n.drains <- stats:
	default:
	}
}

// fakeClock drives the debounce timer by hand.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timer  *fakeTimer
	resets int
}

type fakeTimer struct {
	clock *fakeClock
	ch    chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer = &fakeTimer{clock: c, ch: make(chan time.Time, 1)}
	return c.timer
}

func (c *fakeClock) fire() {
	c.mu.Lock()
	t := c.timer
	c.mu.Unlock()
	if t != nil {
		t.ch <- time.Now()
	}
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }
func (t *fakeTimer) Stop() bool          { return true }

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	t.clock.resets++
	t.clock.mu.Unlock()
	return true
}

func (c *fakeClock) resetCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}
