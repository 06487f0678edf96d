package chromium

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/marksync/marksync/internal/native"
)

// superRootID is the synthetic parent of the file's roots. It never
// appears in the file itself.
const superRootID = "0"

// Host is a file-backed native bookmark host. It implements
// native.EventedHost.
//
// Every mutation rewrites the whole file atomically (write to a temp file,
// then rename), so a crash mid-write never leaves a torn bookmarks file.
// Mutations made through this API emit events like a live browser would;
// the engine's listener gate decides whether they are delivered.
type Host struct {
	mu        sync.Mutex
	path      string
	logger    *log.Logger
	root      *native.Node
	rootKeys  map[string]string // file root key -> native id
	nextID    int
	listeners bool
	events    chan native.Event

	// selfWrites marks a pending filesystem notification caused by our
	// own persist, which the watcher must swallow.
	selfWrites int

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// Open loads the bookmarks file at path, creating a fresh one with empty
// roots when it does not exist.
func Open(path string, logger *log.Logger) (*Host, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[chromium] ", log.LstdFlags)
	}
	h := &Host{
		path:   path,
		logger: logger,
		events: make(chan native.Event, 100),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		h.seed()
		h.mu.Lock()
		err = h.persistLocked()
		h.mu.Unlock()
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read bookmarks file: %w", err)
	default:
		if err := h.load(data); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// seed builds the empty three-root tree of a fresh profile.
func (h *Host) seed() {
	h.root = &native.Node{ID: superRootID}
	h.rootKeys = make(map[string]string, len(rootOrder))
	id := 1
	for i, key := range rootOrder {
		node := &native.Node{
			ID:       strconv.Itoa(id),
			ParentID: superRootID,
			Index:    i,
			Title:    rootTitles[key],
		}
		h.root.Children = append(h.root.Children, node)
		h.rootKeys[key] = node.ID
		id++
	}
	h.nextID = id
}

// load replaces the in-memory tree with the decoded file contents.
func (h *Host) load(data []byte) error {
	roots, err := decodeFile(data)
	if err != nil {
		return err
	}
	root := &native.Node{ID: superRootID}
	rootKeys := make(map[string]string, len(rootOrder))
	for i, key := range rootOrder {
		node := roots[key]
		node.ParentID = superRootID
		node.Index = i
		root.Children = append(root.Children, node)
		rootKeys[key] = node.ID
	}
	max := 0
	var walk func(n *native.Node)
	walk = func(n *native.Node) {
		if id, err := strconv.Atoi(n.ID); err == nil && id > max {
			max = id
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)

	h.root = root
	h.rootKeys = rootKeys
	h.nextID = max + 1
	return nil
}

// persistLocked writes the current tree to disk atomically. Callers hold
// h.mu.
func (h *Host) persistLocked() error {
	roots := make(map[string]*native.Node, len(h.rootKeys))
	for key, id := range h.rootKeys {
		roots[key] = h.findLocked(id)
	}
	data, err := encodeFile(roots)
	if err != nil {
		return fmt.Errorf("encode bookmarks file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0755); err != nil {
		return fmt.Errorf("create bookmarks directory: %w", err)
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write bookmarks file: %w", err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		return fmt.Errorf("replace bookmarks file: %w", err)
	}
	h.selfWrites++
	return nil
}

// Watch starts the filesystem watcher that turns browser-side writes into
// a single external-change event. Close stops it.
func (h *Host) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(h.path), err)
	}
	h.mu.Lock()
	// Persists from before the watcher existed never produced a
	// notification; only writes from here on must be swallowed.
	h.selfWrites = 0
	h.mu.Unlock()

	h.watcher = watcher
	h.done = make(chan struct{})
	h.wg.Add(1)
	go h.processFileEvents()
	return nil
}

func (h *Host) processFileEvents() {
	defer h.wg.Done()
	base := filepath.Base(h.path)
	for {
		select {
		case <-h.done:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			h.handleExternalWrite()
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Printf("watcher: %v", err)
		}
	}
}

// handleExternalWrite reloads the file and emits an external-change event,
// unless the notification was caused by our own persist.
func (h *Host) handleExternalWrite() {
	h.mu.Lock()
	if h.selfWrites > 0 {
		// A single rename can surface as several notifications; swallow
		// them all for this persist.
		h.selfWrites = 0
		h.mu.Unlock()
		return
	}
	data, err := os.ReadFile(h.path)
	if err != nil {
		h.mu.Unlock()
		h.logger.Printf("reload after external write: %v", err)
		return
	}
	if err := h.load(data); err != nil {
		h.mu.Unlock()
		h.logger.Printf("reload after external write: %v", err)
		return
	}
	h.mu.Unlock()

	h.logger.Printf("bookmarks file changed externally")
	h.emit(native.ExternalChange{})
}

// Close stops the watcher and closes the event channel.
func (h *Host) Close() error {
	if h.watcher != nil {
		close(h.done)
		if err := h.watcher.Close(); err != nil {
			return fmt.Errorf("failed to close watcher: %w", err)
		}
		h.wg.Wait()
		h.watcher = nil
	}
	close(h.events)
	return nil
}

func (h *Host) emit(evt native.Event) {
	h.mu.Lock()
	enabled := h.listeners
	h.mu.Unlock()
	if !enabled {
		return
	}
	select {
	case h.events <- evt:
	default:
		h.logger.Printf("event buffer full, dropping %T", evt)
	}
}

// Events returns the native event channel.
func (h *Host) Events() <-chan native.Event { return h.events }

// EnableListeners resumes event delivery.
func (h *Host) EnableListeners() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = true
}

// DisableListeners pauses event delivery.
func (h *Host) DisableListeners() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = false
}

// ListenersEnabled reports whether events are being delivered.
func (h *Host) ListenersEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listeners
}

// RootID returns the synthetic super-root id.
func (h *Host) RootID() string { return superRootID }

// ContainerRoots maps the reserved container names this host supports to
// their native root ids. Chromium has no menu root.
func (h *Host) ContainerRoots(ctx context.Context) (map[string]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	roots := make(map[string]string, len(h.rootKeys))
	for key, id := range h.rootKeys {
		roots[rootContainers[key]] = id
	}
	return roots, nil
}

// SupportsContainer reports whether the host has a dedicated root for the
// container name.
func (h *Host) SupportsContainer(name string) bool {
	for _, container := range rootContainers {
		if container == name {
			return true
		}
	}
	return false
}

func (h *Host) findLocked(id string) *native.Node {
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

func (h *Host) findParentLocked(id string) (*native.Node, int) {
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

func (h *Host) isRootLocked(id string) bool {
	if id == superRootID {
		return true
	}
	for _, rootID := range h.rootKeys {
		if rootID == id {
			return true
		}
	}
	return false
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

func reindex(parent *native.Node) {
	for i, c := range parent.Children {
		c.ParentID = parent.ID
		c.Index = i
	}
}

// Get returns the node without its children.
func (h *Host) Get(ctx context.Context, id string) (*native.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.findLocked(id)
	if n == nil {
		return nil, fmt.Errorf("no bookmark %q", id)
	}
	return copyNode(n, false), nil
}

// GetSubTree returns the node with its full subtree.
func (h *Host) GetSubTree(ctx context.Context, id string) (*native.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.findLocked(id)
	if n == nil {
		return nil, fmt.Errorf("no bookmark %q", id)
	}
	return copyNode(n, true), nil
}

// GetChildren returns the node's immediate children.
func (h *Host) GetChildren(ctx context.Context, id string) ([]*native.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.findLocked(id)
	if n == nil {
		return nil, fmt.Errorf("no bookmark %q", id)
	}
	out := make([]*native.Node, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, copyNode(c, false))
	}
	return out, nil
}

// Search returns nodes whose title or URL contains the query,
// case-insensitively.
func (h *Host) Search(ctx context.Context, query string) ([]*native.Node, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := strings.ToLower(query)
	var out []*native.Node
	var walk func(n *native.Node)
	walk = func(n *native.Node) {
		if n.ID != superRootID &&
			(strings.Contains(strings.ToLower(n.Title), q) || strings.Contains(strings.ToLower(n.URL), q)) {
			out = append(out, copyNode(n, false))
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(h.root)
	return out, nil
}

// Create inserts a new bookmark or folder and persists the file.
func (h *Host) Create(ctx context.Context, c native.Create) (*native.Node, error) {
	h.mu.Lock()
	parent := h.findLocked(c.ParentID)
	if parent == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("no parent %q", c.ParentID)
	}
	if parent.ID == superRootID {
		h.mu.Unlock()
		return nil, fmt.Errorf("cannot create under the bookmarks root")
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
	reindex(parent)
	if err := h.persistLocked(); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	out := copyNode(node, false)
	h.mu.Unlock()

	h.emit(native.Created{Node: copyNode(out, false)})
	return out, nil
}

// Update changes title and/or URL of a bookmark and persists the file.
func (h *Host) Update(ctx context.Context, id string, u native.Update) (*native.Node, error) {
	h.mu.Lock()
	n := h.findLocked(id)
	if n == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("no bookmark %q", id)
	}
	if u.Title != nil {
		n.Title = *u.Title
	}
	// An explicit empty URL turns the node into a folder, which is how
	// a bookmark converts toward separator form.
	if u.URL != nil {
		n.URL = *u.URL
	}
	if err := h.persistLocked(); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	out := copyNode(n, false)
	h.mu.Unlock()

	h.emit(native.Changed{ID: id, Title: out.Title, URL: out.URL})
	return out, nil
}

// Move repositions a bookmark, possibly across folders, and persists the
// file.
func (h *Host) Move(ctx context.Context, id, parentID string, index int) (*native.Node, error) {
	h.mu.Lock()
	if h.isRootLocked(id) {
		h.mu.Unlock()
		return nil, fmt.Errorf("cannot move root %q", id)
	}
	oldParent, oldIdx := h.findParentLocked(id)
	if oldParent == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("no bookmark %q", id)
	}
	newParent := h.findLocked(parentID)
	if newParent == nil {
		h.mu.Unlock()
		return nil, fmt.Errorf("no parent %q", parentID)
	}
	node := oldParent.Children[oldIdx]
	if h.findDescendantLocked(node, parentID) {
		h.mu.Unlock()
		return nil, fmt.Errorf("cannot move %q under its own descendant", id)
	}
	oldParent.Children = append(oldParent.Children[:oldIdx], oldParent.Children[oldIdx+1:]...)
	if index < 0 || index > len(newParent.Children) {
		index = len(newParent.Children)
	}
	newParent.Children = append(newParent.Children, nil)
	copy(newParent.Children[index+1:], newParent.Children[index:])
	newParent.Children[index] = node
	reindex(oldParent)
	reindex(newParent)
	if err := h.persistLocked(); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	out := copyNode(node, false)
	h.mu.Unlock()

	h.emit(native.Moved{ID: id, ParentID: parentID, Index: index, OldParentID: oldParent.ID, OldIndex: oldIdx})
	return out, nil
}

func (h *Host) findDescendantLocked(n *native.Node, id string) bool {
	if n.ID == id {
		return true
	}
	for _, c := range n.Children {
		if h.findDescendantLocked(c, id) {
			return true
		}
	}
	return false
}

// Remove deletes a childless bookmark and persists the file.
func (h *Host) Remove(ctx context.Context, id string) error {
	h.mu.Lock()
	if h.isRootLocked(id) {
		h.mu.Unlock()
		return fmt.Errorf("cannot remove root %q", id)
	}
	parent, idx := h.findParentLocked(id)
	if parent == nil {
		h.mu.Unlock()
		return fmt.Errorf("no bookmark %q", id)
	}
	node := parent.Children[idx]
	if len(node.Children) > 0 {
		h.mu.Unlock()
		return fmt.Errorf("bookmark %q has children", id)
	}
	parent.Children = append(parent.Children[:idx], parent.Children[idx+1:]...)
	reindex(parent)
	if err := h.persistLocked(); err != nil {
		h.mu.Unlock()
		return err
	}
	snapshot := copyNode(node, true)
	parentID := parent.ID
	h.mu.Unlock()

	h.emit(native.Removed{ID: id, ParentID: parentID, Index: idx, Node: snapshot})
	return nil
}

// RemoveTree deletes a bookmark with its whole subtree and persists the
// file.
func (h *Host) RemoveTree(ctx context.Context, id string) error {
	h.mu.Lock()
	if h.isRootLocked(id) {
		h.mu.Unlock()
		return fmt.Errorf("cannot remove root %q", id)
	}
	parent, idx := h.findParentLocked(id)
	if parent == nil {
		h.mu.Unlock()
		return fmt.Errorf("no bookmark %q", id)
	}
	node := parent.Children[idx]
	parent.Children = append(parent.Children[:idx], parent.Children[idx+1:]...)
	reindex(parent)
	if err := h.persistLocked(); err != nil {
		h.mu.Unlock()
		return err
	}
	snapshot := copyNode(node, true)
	parentID := parent.ID
	h.mu.Unlock()

	h.emit(native.Removed{ID: id, ParentID: parentID, Index: idx, Node: snapshot})
	return nil
}

var _ native.EventedHost = (*Host)(nil)
