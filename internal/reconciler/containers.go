package reconciler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/tree"
)

// Containers resolves the reserved container names to native root ids and
// tracks the containers the current host does not support.
//
// Supported containers resolve to host roots. Unsupported ones (menu and
// mobile may legitimately be absent) live natively as plain folders at the
// front of the "other" root, mapped to the canonical container node; the
// resolver finds them through the mapping table. The table is built once
// per reconciliation pass and invalidated at the start of the next.
type Containers struct {
	host   native.Host
	logger *log.Logger

	// mu guards the table: the remote-add fan-out creates unsupported
	// container folders from worker goroutines while siblings read.
	mu          sync.RWMutex
	resolved    bool
	byName      map[string]string // container name -> native id
	byNative    map[string]string // native id -> container name
	unsupported []string          // container names, canonical order
}

// NewContainers returns a resolver for the given host.
func NewContainers(host native.Host, logger *log.Logger) *Containers {
	if logger == nil {
		logger = log.Default()
	}
	return &Containers{host: host, logger: logger}
}

// Invalidate drops the cached table. Called at the start of every drain so
// a pass never reuses stale root ids.
func (c *Containers) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved = false
	c.byName = nil
	c.byNative = nil
	c.unsupported = nil
}

// Resolve builds the name table from the host's roots plus the mappings of
// unsupported canonical containers. Idempotent within a pass.
func (c *Containers) Resolve(ctx context.Context, st *State) error {
	c.mu.RLock()
	resolved := c.resolved
	c.mu.RUnlock()
	if resolved {
		return nil
	}
	roots, err := c.host.ContainerRoots(ctx)
	if err != nil {
		return fmt.Errorf("resolve container roots: %w", err)
	}
	byName := make(map[string]string, len(tree.ContainerNames))
	byNative := make(map[string]string, len(tree.ContainerNames))
	var unsupported []string
	for _, name := range tree.ContainerNames {
		if id, ok := roots[name]; ok {
			byName[name] = id
			byNative[id] = name
			continue
		}
		unsupported = append(unsupported, name)
		// An unsupported container lives as a mapped plain folder
		// under "other"; it may not exist yet on a fresh profile.
		container := st.Tree.Container(name)
		if container == nil {
			continue
		}
		if m, ok := st.Mappings.BySyncedID(container.ID); ok {
			byName[name] = m.NativeID
			byNative[m.NativeID] = name
		}
	}
	if _, ok := byName[tree.ContainerOther]; !ok {
		return fmt.Errorf("host has no %q root: %w", tree.ContainerOther, ErrContainerNotFound)
	}
	c.mu.Lock()
	c.byName = byName
	c.byNative = byNative
	c.unsupported = unsupported
	c.resolved = true
	c.mu.Unlock()
	return nil
}

// adopt registers a freshly created unsupported-container folder in the
// table for the remainder of the pass.
func (c *Containers) adopt(name, nativeID string) {
	c.mu.Lock()
	c.byName[name] = nativeID
	c.byNative[nativeID] = name
	c.mu.Unlock()
}

// NativeID returns the native id for a container name.
func (c *Containers) NativeID(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[name]
	return id, ok
}

// NameOf returns the container name a native id resolves to, covering both
// host roots and unsupported-container folders.
func (c *Containers) NameOf(nativeID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byNative[nativeID]
	return name, ok
}

// IsContainer reports whether the native id is a container root or an
// unsupported-container folder.
func (c *Containers) IsContainer(nativeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byNative[nativeID]
	return ok
}

// Unsupported returns the unsupported container names in canonical order.
func (c *Containers) Unsupported() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.unsupported...)
}

// isUnsupportedFolder reports whether the native id is the folder backing
// an unsupported container.
func (c *Containers) isUnsupportedFolder(nativeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byNative[nativeID]
	if !ok {
		return false
	}
	for _, u := range c.unsupported {
		if u == name {
			return true
		}
	}
	return false
}

// AdjustIndex converts a native sibling index under the given parent into
// a canonical one. Under the "other" root, unsupported-container folders
// sit at the front and must be excluded from plain sibling-index
// arithmetic; everywhere else the index passes through.
func (c *Containers) AdjustIndex(ctx context.Context, parentNativeID string, index int) (int, error) {
	if name, ok := c.NameOf(parentNativeID); !ok || name != tree.ContainerOther {
		return index, nil
	}
	children, err := c.host.GetChildren(ctx, parentNativeID)
	if err != nil {
		return 0, nativeWrite("get children", parentNativeID, err)
	}
	offset := 0
	for i, child := range children {
		if i >= index {
			break
		}
		if c.isUnsupportedFolder(child.ID) {
			offset++
		}
	}
	return index - offset, nil
}

// NativeIndex is the inverse of AdjustIndex: it converts a canonical
// sibling index under the given parent into a native one.
func (c *Containers) NativeIndex(ctx context.Context, parentNativeID string, index int) (int, error) {
	if name, ok := c.NameOf(parentNativeID); !ok || name != tree.ContainerOther {
		return index, nil
	}
	children, err := c.host.GetChildren(ctx, parentNativeID)
	if err != nil {
		return 0, nativeWrite("get children", parentNativeID, err)
	}
	offset := 0
	for _, child := range children {
		if c.isUnsupportedFolder(child.ID) {
			offset++
		}
	}
	return index + offset, nil
}

// ReorderUnsupported re-positions the unsupported-container folders to the
// front of "other"'s children in stable relative order. Runs after every
// batch of native writes; callers hold the listener gate.
func (c *Containers) ReorderUnsupported(ctx context.Context) error {
	otherID, ok := c.NativeID(tree.ContainerOther)
	if !ok {
		return fmt.Errorf("reorder: %w", ErrContainerNotFound)
	}
	target := 0
	for _, name := range c.Unsupported() {
		nativeID, ok := c.NativeID(name)
		if !ok {
			continue // no native folder yet
		}
		if _, err := c.host.Move(ctx, nativeID, otherID, target); err != nil {
			return nativeWrite("move", nativeID, err)
		}
		target++
	}
	return nil
}
