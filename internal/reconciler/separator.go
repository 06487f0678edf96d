package reconciler

import (
	"context"
	"log"
	"strings"

	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/tree"
)

// PlaceholderURL is the "new tab" URL used both for native separator
// encoding and as substitute for URLs the host cannot store.
const PlaceholderURL = "chrome://newtab/"

// Reserved separator titles. The marker character encodes orientation:
// horizontal everywhere, vertical when the native parent is the toolbar
// root (the toolbar lays items out side by side).
const (
	SeparatorTitleHorizontal = "-------------------------"
	SeparatorTitleVertical   = "|"
)

// IsNativeSeparator reports whether the native node encodes a canonical
// separator: placeholder URL plus a reserved orientation marker title.
func IsNativeSeparator(n *native.Node) bool {
	if n == nil || n.URL != PlaceholderURL {
		return false
	}
	return strings.HasPrefix(n.Title, "-") || strings.HasPrefix(n.Title, "|")
}

// Gate controls the native event listeners around engine-issued writes.
// Suspend disables delivery and returns the restore step, which runs on
// every exit path and re-enables listeners only if sync is still enabled.
type Gate interface {
	Suspend(ctx context.Context) (restore func())
}

// Separators encodes canonical separators as specially-titled native
// bookmarks and converts existing native nodes between the two
// orientations.
type Separators struct {
	host       native.Host
	containers *Containers
	gate       Gate
	logger     *log.Logger
}

// NewSeparators returns a codec bound to the host and container resolver.
func NewSeparators(host native.Host, containers *Containers, gate Gate, logger *log.Logger) *Separators {
	if logger == nil {
		logger = log.Default()
	}
	return &Separators{host: host, containers: containers, gate: gate, logger: logger}
}

// titleFor picks the reserved title for a separator under the given native
// parent.
func (s *Separators) titleFor(parentNativeID string) string {
	if name, ok := s.containers.NameOf(parentNativeID); ok && name == tree.ContainerToolbar {
		return SeparatorTitleVertical
	}
	return SeparatorTitleHorizontal
}

func sameOrientation(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a[0] == b[0]
}

// Ensure makes sure a correctly-oriented native separator exists under
// parentID at index. If existing is non-nil it is converted: an in-place
// title update when the orientation already matches and only the title is
// stale, otherwise remove-and-recreate. Listeners are disabled for the
// write span and restored on every exit path.
func (s *Separators) Ensure(ctx context.Context, existing *native.Node, parentID string, index int) (*native.Node, error) {
	restore := s.gate.Suspend(ctx)
	defer restore()

	want := s.titleFor(parentID)

	if existing != nil && existing.URL == PlaceholderURL && sameOrientation(existing.Title, want) {
		if existing.Title == want {
			return existing, nil
		}
		node, err := s.host.Update(ctx, existing.ID, native.Update{Title: &want})
		return node, nativeWrite("update", existing.ID, err)
	}

	if existing != nil {
		if err := s.host.Remove(ctx, existing.ID); err != nil {
			return nil, nativeWrite("remove", existing.ID, err)
		}
	}
	node, err := s.host.Create(ctx, native.Create{
		ParentID: parentID,
		Index:    index,
		Title:    want,
		URL:      PlaceholderURL,
	})
	return node, nativeWrite("create", "", err)
}
