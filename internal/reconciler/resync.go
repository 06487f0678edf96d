package reconciler

import (
	"context"
	"fmt"

	"github.com/marksync/marksync/internal/tree"
)

// FullResync reconciles membership wholesale instead of incrementally:
// canonical nodes whose native counterpart disappeared are removed, and
// native nodes under the supported containers that have no mapping are
// added. Used at daemon startup and when a file-backed host reports an
// external change, where per-event bookkeeping is unavailable.
func (e *Engine) FullResync(ctx context.Context) error {
	st, err := e.loadState(ctx)
	if err != nil {
		return err
	}
	e.containers.Invalidate()
	if err := e.containers.Resolve(ctx, st); err != nil {
		return err
	}

	st, err = e.pruneDeadMappings(ctx, st)
	if err != nil {
		return err
	}

	for _, name := range tree.ContainerNames {
		nativeID, ok := e.containers.NativeID(name)
		if !ok {
			continue
		}
		container := st.Tree.Container(name)
		if container == nil {
			return fmt.Errorf("resync: canonical container %q missing: %w", name, ErrContainerNotFound)
		}
		st, err = e.adoptNativeChildren(ctx, st, nativeID, container.ID)
		if err != nil {
			return err
		}
	}

	return e.commit(ctx, st)
}

// pruneDeadMappings removes canonical subtrees whose mapped native node no
// longer exists. Container mappings are left alone: canonical containers
// are permanent.
func (e *Engine) pruneDeadMappings(ctx context.Context, st *State) (*State, error) {
	containerIDs := make(map[int]bool)
	for _, name := range tree.ContainerNames {
		if c := st.Tree.Container(name); c != nil {
			containerIDs[c.ID] = true
		}
	}

	for {
		pruned := false
		for _, m := range st.Mappings.All() {
			if containerIDs[m.SyncedID] {
				continue
			}
			if _, err := e.host.Get(ctx, m.NativeID); err == nil {
				continue
			}
			next, err := applyChange(st, Remove{SyncedID: m.SyncedID})
			if err != nil {
				// The tree may already lack the node; drop the
				// stale record and move on.
				tab := st.Mappings.Clone()
				tab.RemoveSynced(m.SyncedID)
				st = &State{Tree: st.Tree, Mappings: tab, Settings: st.Settings}
			} else {
				st = next
			}
			pruned = true
			break
		}
		if !pruned {
			return st, nil
		}
	}
}

// adoptNativeChildren walks a native folder and adds every unmapped child
// subtree to the canonical tree, recursing through mapped folders.
func (e *Engine) adoptNativeChildren(ctx context.Context, st *State, nativeID string, parentID int) (*State, error) {
	children, err := e.host.GetChildren(ctx, nativeID)
	if err != nil {
		return nil, nativeWrite("get children", nativeID, err)
	}
	for i, child := range children {
		if e.containers.isUnsupportedFolder(child.ID) {
			continue
		}
		if m, ok := st.Mappings.ByNativeID(child.ID); ok {
			if child.IsFolder() {
				next, err := e.adoptNativeChildren(ctx, st, child.ID, m.SyncedID)
				if err != nil {
					return nil, err
				}
				st = next
			}
			continue
		}
		subtree, err := e.host.GetSubTree(ctx, child.ID)
		if err != nil {
			return nil, nativeWrite("get subtree", child.ID, err)
		}
		index, err := e.containers.AdjustIndex(ctx, nativeID, i)
		if err != nil {
			return nil, err
		}
		next, err := applyChange(st, Add{Node: subtree, ParentID: parentID, Index: index})
		if err != nil {
			return nil, err
		}
		if next != nil {
			st = next
		}
	}
	return st, nil
}
