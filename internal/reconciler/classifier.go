package reconciler

import (
	"context"
	"fmt"
	"log"

	"github.com/marksync/marksync/internal/native"
)

// Classifier turns raw native events into typed semantic changes.
//
// A nil change with a nil error means the event is not sync-relevant and
// is dropped; that is the normal outcome for edits under parents that are
// not being synced, not an error.
type Classifier struct {
	host       native.Host
	containers *Containers
	logger     *log.Logger
}

// NewClassifier returns a classifier bound to the host and resolver.
func NewClassifier(host native.Host, containers *Containers, logger *log.Logger) *Classifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Classifier{host: host, containers: containers, logger: logger}
}

// resolveParent maps a native parent id to a canonical id: reserved
// container roots through the resolver, everything else through the
// mapping table.
func (c *Classifier) resolveParent(st *State, nativeID string) (int, bool) {
	if name, ok := c.containers.NameOf(nativeID); ok {
		if container := st.Tree.Container(name); container != nil {
			return container.ID, true
		}
		return 0, false
	}
	if m, ok := st.Mappings.ByNativeID(nativeID); ok {
		return m.SyncedID, true
	}
	return 0, false
}

// Classify maps one raw native event to a Change. The mapping-table state
// it observes includes the effects of earlier events in the same batch,
// because the queue drains strictly in order.
func (c *Classifier) Classify(ctx context.Context, evt native.Event, st *State) (Change, error) {
	switch e := evt.(type) {
	case native.Created:
		return c.classifyCreated(ctx, e, st)
	case native.Changed:
		return c.classifyChanged(e, st)
	case native.Removed:
		return c.classifyRemoved(e, st)
	case native.Moved:
		return c.classifyMoved(ctx, e, st)
	case native.ChildrenReordered:
		return c.classifyReordered(ctx, e, st)
	default:
		return nil, fmt.Errorf("%w: event %T", ErrAmbiguousSyncRequest, evt)
	}
}

func (c *Classifier) classifyCreated(ctx context.Context, e native.Created, st *State) (Change, error) {
	node := e.Node
	// A node appearing at the super-root occupies the position of a
	// reserved container.
	if node.ParentID == c.host.RootID() {
		return nil, fmt.Errorf("created %q at super-root: %w", node.ID, ErrContainerChanged)
	}
	parentID, ok := c.resolveParent(st, node.ParentID)
	if !ok {
		c.logger.Printf("drop create of %q: parent %q not synced", node.ID, node.ParentID)
		return nil, nil
	}
	index, err := c.containers.AdjustIndex(ctx, node.ParentID, node.Index)
	if err != nil {
		return nil, err
	}
	return Add{Node: node, ParentID: parentID, Index: index}, nil
}

func (c *Classifier) classifyChanged(e native.Changed, st *State) (Change, error) {
	if c.containers.IsContainer(e.ID) {
		return nil, fmt.Errorf("container %q renamed: %w", e.ID, ErrContainerChanged)
	}
	m, ok := st.Mappings.ByNativeID(e.ID)
	if !ok {
		c.logger.Printf("drop change of %q: not synced", e.ID)
		return nil, nil
	}
	return Modify{SyncedID: m.SyncedID, Title: e.Title, URL: e.URL}, nil
}

func (c *Classifier) classifyRemoved(e native.Removed, st *State) (Change, error) {
	if c.containers.IsContainer(e.ID) {
		return nil, fmt.Errorf("container %q removed: %w", e.ID, ErrContainerChanged)
	}
	// The node is already gone natively; the removal's cached id is all
	// that is needed to resolve the mapping. Descendant synced ids are
	// collected from the canonical subtree at apply time.
	m, ok := st.Mappings.ByNativeID(e.ID)
	if !ok {
		c.logger.Printf("drop remove of %q: not synced", e.ID)
		return nil, nil
	}
	return Remove{SyncedID: m.SyncedID}, nil
}

// classifyMoved treats a move as an independent remove-check on the old
// location and add-check on the new one. Either side may be sync-relevant
// on its own, which yields four outcomes.
func (c *Classifier) classifyMoved(ctx context.Context, e native.Moved, st *State) (Change, error) {
	if c.containers.IsContainer(e.ID) {
		if e.OldParentID != e.ParentID {
			return nil, fmt.Errorf("container %q re-parented: %w", e.ID, ErrContainerChanged)
		}
		// Same-parent reposition of a container root is harmless.
		return nil, nil
	}

	m, mapped := st.Mappings.ByNativeID(e.ID)
	srcRelevant := false
	if mapped {
		srcRelevant = syncWorthy(st.Tree.ContainerOf(m.SyncedID), st.Settings)
	}

	parentID, tgtResolved := c.resolveParent(st, e.ParentID)
	tgtRelevant := false
	if tgtResolved {
		tgtRelevant = syncWorthy(st.Tree.ContainerOf(parentID), st.Settings)
	}

	switch {
	case srcRelevant && tgtRelevant:
		index, err := c.containers.AdjustIndex(ctx, e.ParentID, e.Index)
		if err != nil {
			return nil, err
		}
		return Move{SyncedID: m.SyncedID, ParentID: parentID, Index: index}, nil

	case srcRelevant:
		return Remove{SyncedID: m.SyncedID}, nil

	case tgtRelevant:
		index, err := c.containers.AdjustIndex(ctx, e.ParentID, e.Index)
		if err != nil {
			return nil, err
		}
		// The node moved into synced territory from outside it. A node
		// that is still mapped already has a canonical counterpart
		// carrying its prior metadata (its old location was merely
		// excluded from syncing, the toolbar with toolbar sync off,
		// say); reposition that node instead of adding a duplicate.
		if mapped {
			return Move{SyncedID: m.SyncedID, ParentID: parentID, Index: index}, nil
		}
		subtree, err := c.host.GetSubTree(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("subtree of moved %q: %w", e.ID, ErrNativeNotFound)
		}
		return Add{Node: subtree, ParentID: parentID, Index: index}, nil

	default:
		c.logger.Printf("drop move of %q: neither side synced", e.ID)
		return nil, nil
	}
}

// classifyReordered recomputes the canonical child order by filtering the
// native child-id order through existing mappings. Unmapped children keep
// their current canonical position, so a partially-synced folder still
// reflects manual reordering of the mapped subset.
func (c *Classifier) classifyReordered(ctx context.Context, e native.ChildrenReordered, st *State) (Change, error) {
	parentID, ok := c.resolveParent(st, e.ID)
	if !ok {
		c.logger.Printf("drop reorder of %q: not synced", e.ID)
		return nil, nil
	}
	var order []ReorderItem
	offset := 0
	for i, childID := range e.ChildIDs {
		// Unsupported-container folders are excluded from sibling
		// arithmetic; their position is owned by the reorder pass.
		if c.containers.isUnsupportedFolder(childID) {
			offset++
			continue
		}
		m, mapped := st.Mappings.ByNativeID(childID)
		if !mapped {
			continue
		}
		order = append(order, ReorderItem{SyncedID: m.SyncedID, Index: i - offset})
	}
	if len(order) == 0 {
		return nil, nil
	}
	return Reorder{ParentID: parentID, Order: order}, nil
}
