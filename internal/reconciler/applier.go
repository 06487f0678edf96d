package reconciler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/marksync/marksync/internal/mapping"
	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/tree"
)

// hostSupportedURL reports whether the host can store the URL as-is.
// Anything else is replaced by the placeholder "new tab" URL.
func hostSupportedURL(url string) bool {
	for _, scheme := range []string{"http://", "https://", "ftp://", "file://"} {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return url == PlaceholderURL
}

// Applier replays canonical changes arriving from remote sync onto the
// native tree, keeping the canonical snapshot and the mapping table in
// step. All native writes happen under the listener gate so the engine's
// own mutations are not re-classified as user changes.
type Applier struct {
	host       native.Host
	containers *Containers
	separators *Separators
	gate       Gate
	logger     *log.Logger
}

// NewApplier returns an applier bound to the host, resolver and codec.
func NewApplier(host native.Host, containers *Containers, separators *Separators, gate Gate, logger *log.Logger) *Applier {
	if logger == nil {
		logger = log.Default()
	}
	return &Applier{host: host, containers: containers, separators: separators, gate: gate, logger: logger}
}

// Apply replays the remote changes in order and returns the replacement
// state. The listener gate is held for the whole span and restored on
// every exit path.
//
// Consecutive adds under distinct parents are independent subtrees and are
// created concurrently; within one subtree, siblings are created strictly
// in order so index-based native ordering holds.
//
// On error the returned state is still non-nil and covers the changes
// already replayed. The caller must commit it: the native writes for
// those changes have happened, and dropping their mappings would leave
// native nodes the next resync adopts as duplicates.
func (a *Applier) Apply(ctx context.Context, st *State, changes []RemoteChange) (*State, error) {
	restore := a.gate.Suspend(ctx)
	defer restore()

	for i := 0; i < len(changes); i++ {
		if add, ok := changes[i].(RemoteAdd); ok {
			// Collect the run of adds starting here.
			adds := []RemoteAdd{add}
			for i+1 < len(changes) {
				next, ok := changes[i+1].(RemoteAdd)
				if !ok {
					break
				}
				adds = append(adds, next)
				i++
			}
			next, err := a.applyAdds(ctx, st, adds)
			if err != nil {
				if next == nil {
					next = st
				}
				return next, err
			}
			st = next
			continue
		}
		next, err := a.applyOne(ctx, st, changes[i])
		if err != nil {
			return st, err
		}
		st = next
	}
	return st, nil
}

// applyAdds grafts each add into the canonical snapshot sequentially, then
// creates the native subtrees: concurrently when the adds target distinct
// parents, sequentially within a parent to preserve sibling order.
func (a *Applier) applyAdds(ctx context.Context, st *State, adds []RemoteAdd) (*State, error) {
	t := st.Tree
	for _, add := range adds {
		next, err := t.Graft(add.Bookmark, add.ParentID, add.Index)
		if err != nil {
			return nil, err
		}
		t = next
	}
	tab := st.Mappings.Clone()

	byParent := make(map[int][]RemoteAdd)
	var parents []int
	for _, add := range adds {
		if _, ok := byParent[add.ParentID]; !ok {
			parents = append(parents, add.ParentID)
		}
		byParent[add.ParentID] = append(byParent[add.ParentID], add)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for _, parentID := range parents {
		group := byParent[parentID]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, add := range group {
				err := a.createSubtree(ctx, add.Bookmark, add.ParentID, add.Index, st, tab, &mu)
				if err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()
	// tab accumulated a mapping for every native node that was created,
	// including nodes of partially built subtrees, so the state is
	// returned even on failure and the caller commits those mappings.
	next := &State{Tree: t, Mappings: tab, Settings: st.Settings}
	if firstErr != nil {
		return next, firstErr
	}
	return next, nil
}

// resolveNativeParent maps a canonical parent id to its native id,
// creating the backing folder for an unsupported container on first use.
func (a *Applier) resolveNativeParent(ctx context.Context, st *State, tab *mapping.Table, mu *sync.Mutex, parentID int) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	for _, name := range tree.ContainerNames {
		container := st.Tree.Container(name)
		if container == nil || container.ID != parentID {
			continue
		}
		if id, ok := a.containers.NativeID(name); ok {
			return id, nil
		}
		// Unsupported container without a native folder yet: create
		// it at the front of "other" and map it.
		otherID, ok := a.containers.NativeID(tree.ContainerOther)
		if !ok {
			return "", fmt.Errorf("resolve parent %d: %w", parentID, ErrContainerNotFound)
		}
		node, err := a.host.Create(ctx, native.Create{ParentID: otherID, Index: 0, Title: name})
		if err != nil {
			return "", nativeWrite("create", "", err)
		}
		if err := tab.Add(mapping.New(container.ID, node.ID)); err != nil {
			return "", err
		}
		a.containers.adopt(name, node.ID)
		return node.ID, nil
	}

	if m, ok := tab.BySyncedID(parentID); ok {
		return m.NativeID, nil
	}
	return "", fmt.Errorf("resolve parent %d: %w", parentID, tree.ErrBookmarkNotFound)
}

// createSubtree creates the native counterpart of a canonical subtree.
// Each sibling, including its own descendants, is fully created before the
// next begins.
func (a *Applier) createSubtree(ctx context.Context, b *tree.Bookmark, parentID, index int, st *State, tab *mapping.Table, mu *sync.Mutex) error {
	parentNative, err := a.resolveNativeParent(ctx, st, tab, mu, parentID)
	if err != nil {
		return err
	}
	nativeIndex, err := a.containers.NativeIndex(ctx, parentNative, index)
	if err != nil {
		return err
	}
	return a.createNode(ctx, b, parentNative, nativeIndex, tab, mu)
}

func (a *Applier) createNode(ctx context.Context, b *tree.Bookmark, parentNative string, index int, tab *mapping.Table, mu *sync.Mutex) error {
	var node *native.Node
	var err error
	switch {
	case b.IsSeparator():
		node, err = a.separators.Ensure(ctx, nil, parentNative, index)
		if err != nil {
			return err
		}
	default:
		url := b.URL
		if url != "" && !hostSupportedURL(url) {
			a.logger.Printf("substituting placeholder for unsupported url %q", url)
			url = PlaceholderURL
		}
		node, err = a.host.Create(ctx, native.Create{
			ParentID: parentNative,
			Index:    index,
			Title:    b.Title,
			URL:      url,
		})
		if err != nil {
			return nativeWrite("create", "", err)
		}
	}

	mu.Lock()
	err = tab.Add(mapping.New(b.ID, node.ID))
	mu.Unlock()
	if err != nil {
		return err
	}

	for i, child := range b.Children {
		if err := a.createNode(ctx, child, node.ID, i, tab, mu); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) applyOne(ctx context.Context, st *State, ch RemoteChange) (*State, error) {
	switch c := ch.(type) {
	case RemoteModify:
		return a.applyModify(ctx, st, c)
	case RemoteMove:
		return a.applyMove(ctx, st, c)
	case RemoteRemove:
		return a.applyRemove(ctx, st, c)
	default:
		return nil, fmt.Errorf("%w: remote change %T", ErrAmbiguousSyncRequest, ch)
	}
}

func (a *Applier) applyModify(ctx context.Context, st *State, c RemoteModify) (*State, error) {
	t, err := st.Tree.Modify(c.SyncedID, c.Fields)
	if err != nil {
		return nil, err
	}
	m, ok := st.Mappings.BySyncedID(c.SyncedID)
	if !ok {
		return nil, fmt.Errorf("modify %d: %w", c.SyncedID, ErrNativeNotFound)
	}

	after := t.Find(c.SyncedID)
	existing, err := a.host.Get(ctx, m.NativeID)
	if err != nil {
		return nil, fmt.Errorf("modify %d: %w", c.SyncedID, ErrNativeNotFound)
	}

	if after.IsSeparator() {
		// Became a separator: convert, which may remove-and-recreate
		// and therefore change the native id.
		node, err := a.separators.Ensure(ctx, existing, existing.ParentID, existing.Index)
		if err != nil {
			return nil, err
		}
		if node.ID != m.NativeID {
			tab := st.Mappings.Clone()
			tab.RemoveSynced(c.SyncedID)
			if err := tab.Add(mapping.New(c.SyncedID, node.ID)); err != nil {
				return nil, err
			}
			return &State{Tree: t, Mappings: tab, Settings: st.Settings}, nil
		}
		return &State{Tree: t, Mappings: st.Mappings, Settings: st.Settings}, nil
	}

	url := after.URL
	if url != "" && !hostSupportedURL(url) {
		a.logger.Printf("substituting placeholder for unsupported url %q", url)
		url = PlaceholderURL
	}
	if _, err := a.host.Update(ctx, m.NativeID, native.Update{Title: &after.Title, URL: &url}); err != nil {
		return nil, nativeWrite("update", m.NativeID, err)
	}
	return &State{Tree: t, Mappings: st.Mappings, Settings: st.Settings}, nil
}

func (a *Applier) applyMove(ctx context.Context, st *State, c RemoteMove) (*State, error) {
	t, err := st.Tree.Move(c.SyncedID, c.ParentID, c.Index)
	if err != nil {
		return nil, err
	}
	m, ok := st.Mappings.BySyncedID(c.SyncedID)
	if !ok {
		return nil, fmt.Errorf("move %d: %w", c.SyncedID, ErrNativeNotFound)
	}
	var mu sync.Mutex
	tab := st.Mappings.Clone()
	parentNative, err := a.resolveNativeParent(ctx, st, tab, &mu, c.ParentID)
	if err != nil {
		return nil, err
	}
	nativeIndex, err := a.containers.NativeIndex(ctx, parentNative, c.Index)
	if err != nil {
		return nil, err
	}
	if _, err := a.host.Move(ctx, m.NativeID, parentNative, nativeIndex); err != nil {
		return nil, nativeWrite("move", m.NativeID, err)
	}
	return &State{Tree: t, Mappings: tab, Settings: st.Settings}, nil
}

func (a *Applier) applyRemove(ctx context.Context, st *State, c RemoteRemove) (*State, error) {
	t, removed, err := st.Tree.Remove(c.SyncedID)
	if err != nil {
		return nil, err
	}
	tab := st.Mappings.Clone()
	m, ok := tab.BySyncedID(c.SyncedID)
	tab.RemoveSynced(removed.IDs()...)
	if ok {
		if err := a.host.RemoveTree(ctx, m.NativeID); err != nil {
			return nil, nativeWrite("remove tree", m.NativeID, err)
		}
	}
	return &State{Tree: t, Mappings: tab, Settings: st.Settings}, nil
}
