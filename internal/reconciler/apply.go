package reconciler

import (
	"fmt"

	"github.com/marksync/marksync/internal/mapping"
	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/tree"
)

// bookmarkFromNative converts a native subtree into canonical form. Ids
// are placeholders; tree.Add assigns real ones. A native separator
// encoding collapses back into a structural separator.
func bookmarkFromNative(n *native.Node) *tree.Bookmark {
	if IsNativeSeparator(n) {
		return &tree.Bookmark{}
	}
	b := &tree.Bookmark{Title: n.Title, URL: n.URL}
	for _, child := range n.Children {
		b.Children = append(b.Children, bookmarkFromNative(child))
	}
	return b
}

// zipMappings walks a canonical subtree and the native subtree it was
// built from in lockstep, registering one mapping per node pair.
func zipMappings(tab *mapping.Table, b *tree.Bookmark, n *native.Node) error {
	if err := tab.Add(mapping.New(b.ID, n.ID)); err != nil {
		return err
	}
	for i, child := range b.Children {
		if i >= len(n.Children) {
			break
		}
		if err := zipMappings(tab, child, n.Children[i]); err != nil {
			return err
		}
	}
	return nil
}

// applyChange applies one semantic change to the canonical tree snapshot
// and returns the replacement state. Nothing is persisted here; the engine
// commits the returned tree first and the mapping table second, so the
// table never references an uncommitted tree.
//
// A nil state with a nil error means the change turned out not to be
// sync-worthy at its post-change location and was dropped.
func applyChange(st *State, ch Change) (*State, error) {
	switch c := ch.(type) {
	case Add:
		return applyAdd(st, c)
	case Modify:
		t, err := st.Tree.Modify(c.SyncedID, tree.Fields{Title: &c.Title, URL: &c.URL})
		if err != nil {
			return nil, err
		}
		return &State{Tree: t, Mappings: st.Mappings, Settings: st.Settings}, nil
	case Move:
		t, err := st.Tree.Move(c.SyncedID, c.ParentID, c.Index)
		if err != nil {
			return nil, err
		}
		return &State{Tree: t, Mappings: st.Mappings, Settings: st.Settings}, nil
	case Remove:
		return applyRemove(st, c)
	case Reorder:
		return applyReorder(st, c)
	default:
		return nil, fmt.Errorf("%w: change %T", ErrAmbiguousSyncRequest, ch)
	}
}

func applyAdd(st *State, c Add) (*State, error) {
	// The sync-worthiness predicate looks at the bookmark's location
	// after the change: the container holding the new parent.
	container := st.Tree.ContainerOf(c.ParentID)
	if !syncWorthy(container, st.Settings) {
		return nil, nil
	}
	b := bookmarkFromNative(c.Node)
	if c.Description != "" {
		b.Description = c.Description
	}
	t, node, err := st.Tree.Add(b, c.ParentID, c.Index)
	if err != nil {
		return nil, err
	}
	tab := st.Mappings.Clone()
	if err := zipMappings(tab, node, c.Node); err != nil {
		return nil, fmt.Errorf("register mappings for %q: %w", c.Node.ID, err)
	}
	return &State{Tree: t, Mappings: tab, Settings: st.Settings}, nil
}

func applyRemove(st *State, c Remove) (*State, error) {
	t, removed, err := st.Tree.Remove(c.SyncedID)
	if err != nil {
		return nil, err
	}
	// The subtree root and every descendant lose their mappings in the
	// same logical transaction as the tree commit.
	tab := st.Mappings.Clone()
	tab.RemoveSynced(removed.IDs()...)
	return &State{Tree: t, Mappings: tab, Settings: st.Settings}, nil
}

// applyReorder repositions each mapped child, in native order, to the
// sibling index its native position implies. Children not named in the
// order keep their current canonical position.
func applyReorder(st *State, c Reorder) (*State, error) {
	t := st.Tree
	for _, item := range c.Order {
		parent, _ := t.FindParent(item.SyncedID)
		if parent == nil || parent.ID != c.ParentID {
			// Mapping table and canonical tree disagree; skip this
			// child rather than failing the whole reorder.
			continue
		}
		next, err := t.Move(item.SyncedID, c.ParentID, item.Index)
		if err != nil {
			return nil, err
		}
		t = next
	}
	return &State{Tree: t, Mappings: st.Mappings, Settings: st.Settings}, nil
}
