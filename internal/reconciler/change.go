package reconciler

import "github.com/marksync/marksync/internal/native"

// Change is a typed semantic change derived from a raw native event. The
// union is closed: the applier matches exhaustively and returns
// ErrAmbiguousSyncRequest for anything else.
//
// Each variant carries only the payload needed to compute the matching
// canonical mutation; native indices have already been adjusted for
// unsupported-container offsets by the classifier.
type Change interface {
	change()
}

// Add inserts the native node (and, for move-ins, its subtree) under an
// already-synced canonical parent.
type Add struct {
	Node     *native.Node
	ParentID int // canonical parent id
	Index    int // canonical sibling index

	// Description carries fetched page metadata for the added bookmark.
	// Native nodes have no description field, so it rides alongside.
	Description string
}

// Modify updates title and URL of an already-synced bookmark.
type Modify struct {
	SyncedID int
	Title    string
	URL      string
}

// Move repositions an already-synced bookmark, possibly across folders.
type Move struct {
	SyncedID int
	ParentID int
	Index    int
}

// Remove deletes a synced subtree. Descendant mapping cleanup happens at
// apply time from the canonical subtree, since the native nodes are
// already gone.
type Remove struct {
	SyncedID int
}

// Reorder repositions the mapped subset of a folder's children to the
// order implied by the native child list. Unmapped canonical children are
// never explicitly moved.
type Reorder struct {
	ParentID int
	Order    []ReorderItem
}

// ReorderItem is one mapped child with the sibling index its native
// position implies.
type ReorderItem struct {
	SyncedID int
	Index    int
}

func (Add) change()     {}
func (Modify) change()  {}
func (Move) change()    {}
func (Remove) change()  {}
func (Reorder) change() {}
