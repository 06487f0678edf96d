// Package tree defines the canonical synced bookmark tree and the pure
// mutators that operate on it.
//
// The canonical tree is the portable hierarchy exchanged with the remote
// store. Nodes are addressed by integer ids that are stable across devices,
// unlike the host-assigned native ids.
//
// Every mutator follows a snapshot-and-replace discipline: it takes the
// current tree, deep-copies it, applies the change to the copy and returns
// the copy. The input tree is never modified, so callers can commit
// id-mapping bookkeeping only after the replacement tree has been adopted.
package tree

import (
	"errors"
	"fmt"
)

// Reserved container names. Containers are root-level folders present by
// name in both the canonical and the native tree.
const (
	ContainerMenu    = "menu"
	ContainerMobile  = "mobile"
	ContainerOther   = "other"
	ContainerToolbar = "toolbar"
)

// ContainerNames lists the reserved containers in their canonical root
// order.
var ContainerNames = []string{
	ContainerMenu,
	ContainerMobile,
	ContainerOther,
	ContainerToolbar,
}

// ErrBookmarkNotFound is returned when a mutator references an id that does
// not exist in the tree it was given.
var ErrBookmarkNotFound = errors.New("bookmark not found in canonical tree")

// Bookmark is a node of the canonical tree. A node without a URL is a
// folder; a node without a URL, title and children is a separator.
// Separators are identified structurally, there is no type tag.
type Bookmark struct {
	ID          int         `json:"id"`
	Title       string      `json:"title,omitempty"`
	URL         string      `json:"url,omitempty"`
	Description string      `json:"description,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	Children    []*Bookmark `json:"children,omitempty"`
}

// Fields carries the mutable metadata of a bookmark. Nil pointers mean
// "leave unchanged" so a modify can touch a single field.
type Fields struct {
	Title       *string
	URL         *string
	Description *string
	Tags        []string
}

// IsFolder reports whether the bookmark is a folder (no URL, but not a
// separator).
func (b *Bookmark) IsFolder() bool {
	return b.URL == "" && !b.IsSeparator()
}

// IsSeparator reports whether the bookmark is a separator: no URL, no
// title, no children.
func (b *Bookmark) IsSeparator() bool {
	return b.URL == "" && b.Title == "" && len(b.Children) == 0
}

// Clone returns a deep copy of the bookmark and its subtree.
func (b *Bookmark) Clone() *Bookmark {
	c := &Bookmark{
		ID:          b.ID,
		Title:       b.Title,
		URL:         b.URL,
		Description: b.Description,
	}
	if b.Tags != nil {
		c.Tags = append([]string(nil), b.Tags...)
	}
	for _, child := range b.Children {
		c.Children = append(c.Children, child.Clone())
	}
	return c
}

// IDs returns every id in the subtree rooted at b, in preorder.
func (b *Bookmark) IDs() []int {
	ids := []int{b.ID}
	for _, child := range b.Children {
		ids = append(ids, child.IDs()...)
	}
	return ids
}

// Tree is the canonical tree. Root has id 0 and holds the reserved
// containers as its children.
type Tree struct {
	Root *Bookmark `json:"root"`
}

// New returns an empty canonical tree with all reserved containers.
func New() *Tree {
	root := &Bookmark{ID: 0}
	for i, name := range ContainerNames {
		root.Children = append(root.Children, &Bookmark{ID: i + 1, Title: name})
	}
	return &Tree{Root: root}
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	return &Tree{Root: t.Root.Clone()}
}

// Find returns the node with the given id, or nil.
func (t *Tree) Find(id int) *Bookmark {
	return find(t.Root, id)
}

func find(b *Bookmark, id int) *Bookmark {
	if b.ID == id {
		return b
	}
	for _, child := range b.Children {
		if found := find(child, id); found != nil {
			return found
		}
	}
	return nil
}

// FindParent returns the parent of the node with the given id and the
// node's index among its siblings. Returns (nil, -1) for the root or an
// unknown id.
func (t *Tree) FindParent(id int) (*Bookmark, int) {
	return findParent(t.Root, id)
}

func findParent(b *Bookmark, id int) (*Bookmark, int) {
	for i, child := range b.Children {
		if child.ID == id {
			return b, i
		}
		if parent, idx := findParent(child, id); parent != nil {
			return parent, idx
		}
	}
	return nil, -1
}

// Container returns the root-level container with the given reserved name,
// or nil.
func (t *Tree) Container(name string) *Bookmark {
	for _, child := range t.Root.Children {
		if child.Title == name {
			return child
		}
	}
	return nil
}

// ContainerOf returns the name of the reserved container whose subtree
// holds the given id. Returns "" for unknown ids and for the root itself.
func (t *Tree) ContainerOf(id int) string {
	for _, container := range t.Root.Children {
		for _, sub := range container.IDs() {
			if sub == id {
				return container.Title
			}
		}
	}
	return ""
}

// NextID returns an id not yet used anywhere in the tree.
func (t *Tree) NextID() int {
	max := 0
	for _, id := range t.Root.IDs() {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// Add returns a replacement tree with a new bookmark inserted under
// parentID at index. An index past the end appends. The new node's id is
// allocated from the replacement tree and returned alongside it.
//
// Fails with ErrBookmarkNotFound if parentID does not exist in t.
func (t *Tree) Add(b *Bookmark, parentID, index int) (*Tree, *Bookmark, error) {
	next := t.Clone()
	parent := next.Find(parentID)
	if parent == nil {
		return nil, nil, fmt.Errorf("add under parent %d: %w", parentID, ErrBookmarkNotFound)
	}
	node := b.Clone()
	assignIDs(node, next.NextID())
	parent.Children = insertChild(parent.Children, node, index)
	return next, node, nil
}

// assignIDs gives node and all its descendants fresh ids starting at next,
// walking preorder so the subtree root gets the smallest id.
func assignIDs(node *Bookmark, next int) int {
	node.ID = next
	next++
	for _, child := range node.Children {
		next = assignIDs(child, next)
	}
	return next
}

func insertChild(children []*Bookmark, node *Bookmark, index int) []*Bookmark {
	if index < 0 || index > len(children) {
		index = len(children)
	}
	children = append(children, nil)
	copy(children[index+1:], children[index:])
	children[index] = node
	return children
}

// Graft returns a replacement tree with the subtree inserted under parentID
// at index, preserving the subtree's existing ids. Used when replaying
// remote changes whose ids were already assigned by the remote store.
// Fails if any grafted id is already present in the tree.
func (t *Tree) Graft(b *Bookmark, parentID, index int) (*Tree, error) {
	next := t.Clone()
	parent := next.Find(parentID)
	if parent == nil {
		return nil, fmt.Errorf("graft under parent %d: %w", parentID, ErrBookmarkNotFound)
	}
	for _, id := range b.IDs() {
		if next.Find(id) != nil {
			return nil, fmt.Errorf("graft: id %d already present in tree", id)
		}
	}
	parent.Children = insertChild(parent.Children, b.Clone(), index)
	return next, nil
}

// Modify returns a replacement tree with the given fields applied to the
// node with the given id.
func (t *Tree) Modify(id int, fields Fields) (*Tree, error) {
	next := t.Clone()
	node := next.Find(id)
	if node == nil {
		return nil, fmt.Errorf("modify %d: %w", id, ErrBookmarkNotFound)
	}
	if fields.Title != nil {
		node.Title = *fields.Title
	}
	if fields.URL != nil {
		node.URL = *fields.URL
	}
	if fields.Description != nil {
		node.Description = *fields.Description
	}
	if fields.Tags != nil {
		node.Tags = append([]string(nil), fields.Tags...)
	}
	return next, nil
}

// Move returns a replacement tree with the node moved under newParentID at
// index. A move within the same parent repositions the node in place; the
// index is interpreted against the sibling list after the node has been
// taken out.
func (t *Tree) Move(id, newParentID, index int) (*Tree, error) {
	next := t.Clone()
	oldParent, oldIdx := next.FindParent(id)
	if oldParent == nil {
		return nil, fmt.Errorf("move %d: %w", id, ErrBookmarkNotFound)
	}
	node := oldParent.Children[oldIdx]
	if find(node, newParentID) != nil {
		return nil, fmt.Errorf("cannot move %d under its own descendant %d", id, newParentID)
	}
	oldParent.Children = append(oldParent.Children[:oldIdx], oldParent.Children[oldIdx+1:]...)
	newParent := next.Find(newParentID)
	if newParent == nil {
		return nil, fmt.Errorf("move %d under parent %d: %w", id, newParentID, ErrBookmarkNotFound)
	}
	newParent.Children = insertChild(newParent.Children, node, index)
	return next, nil
}

// Remove returns a replacement tree without the node and its subtree, plus
// the removed subtree so the caller can clean up descendant mappings.
func (t *Tree) Remove(id int) (*Tree, *Bookmark, error) {
	next := t.Clone()
	parent, idx := next.FindParent(id)
	if parent == nil {
		return nil, nil, fmt.Errorf("remove %d: %w", id, ErrBookmarkNotFound)
	}
	removed := parent.Children[idx]
	parent.Children = append(parent.Children[:idx], parent.Children[idx+1:]...)
	return next, removed, nil
}
