// Package native models the host browser's bookmark tree and the
// capability interface a host must provide.
//
// Native ids are host-assigned strings and are not stable across devices;
// the reconciler never persists them beyond the id mapping table. Hosts
// differ in which reserved containers they support, so container knowledge
// is part of the capability interface and selected at construction time,
// not by dispatch inside the engine.
package native

import "context"

// Node is a node of the host's live bookmark tree.
type Node struct {
	ID       string
	ParentID string
	Index    int
	Title    string
	URL      string // empty for folders
	Children []*Node
}

// IsFolder reports whether the node is a folder.
func (n *Node) IsFolder() bool { return n.URL == "" }

// Create describes a node to be created.
type Create struct {
	ParentID string
	Index    int // -1 appends
	Title    string
	URL      string // empty creates a folder
}

// Update describes field changes. Nil pointers leave the field unchanged.
type Update struct {
	Title *string
	URL   *string
}

// Host is the native bookmark API. All calls may suspend; they take a
// context and return explicit errors. Implementations must be safe for use
// from a single reconciliation goroutine plus the event emitter.
type Host interface {
	// RootID returns the id of the host's super-root, the node whose
	// direct children are the native container roots.
	RootID() string

	// ContainerRoots returns the native root id for every reserved
	// container this host supports. Containers absent from the map are
	// unsupported on this host.
	ContainerRoots(ctx context.Context) (map[string]string, error)

	Get(ctx context.Context, id string) (*Node, error)
	GetSubTree(ctx context.Context, id string) (*Node, error)
	GetChildren(ctx context.Context, id string) ([]*Node, error)
	Search(ctx context.Context, query string) ([]*Node, error)

	Create(ctx context.Context, c Create) (*Node, error)
	Update(ctx context.Context, id string, u Update) (*Node, error)
	Move(ctx context.Context, id, parentID string, index int) (*Node, error)
	Remove(ctx context.Context, id string) error
	RemoveTree(ctx context.Context, id string) error
}

// Notifier delivers native mutation events. Disabling listeners stops
// delivery entirely; the engine holds the gate closed while issuing its own
// native writes so they are not re-classified as user changes.
type Notifier interface {
	Events() <-chan Event
	EnableListeners()
	DisableListeners()
	ListenersEnabled() bool
}

// EventedHost is a Host that also emits events.
type EventedHost interface {
	Host
	Notifier
}
