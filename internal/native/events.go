package native

// Event is a raw native mutation notification. The set of variants is
// closed: the classifier matches exhaustively and treats any other dynamic
// type as a programming defect.
type Event interface {
	event()
}

// Created is emitted after a node appears in the native tree.
type Created struct {
	Node *Node
}

// Changed is emitted after a node's title or URL changed.
type Changed struct {
	ID    string
	Title string
	URL   string
}

// Moved is emitted after a node changed parent or sibling index.
type Moved struct {
	ID          string
	ParentID    string
	Index       int
	OldParentID string
	OldIndex    int
}

// Removed is emitted after a node and its subtree were removed. The node is
// already gone natively, so the event carries the cached parent, index and
// subtree snapshot.
type Removed struct {
	ID       string
	ParentID string
	Index    int
	Node     *Node
}

// ChildrenReordered is emitted after a folder's children were reordered in
// one operation. ChildIDs is the complete new child order.
type ChildrenReordered struct {
	ID       string
	ChildIDs []string
}

// ExternalChange signals that the native store was modified behind the
// host API's back (for file-backed hosts). The engine responds with a full
// resync rather than incremental reconciliation.
type ExternalChange struct{}

func (Created) event()           {}
func (Changed) event()           {}
func (Moved) event()             {}
func (Removed) event()           {}
func (ChildrenReordered) event() {}
func (ExternalChange) event()    {}
