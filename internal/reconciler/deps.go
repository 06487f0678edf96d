package reconciler

import (
	"context"
	"time"

	"github.com/marksync/marksync/internal/mapping"
	"github.com/marksync/marksync/internal/tree"
)

// Settings are the user preferences consulted during reconciliation. They
// are owned by the persistence collaborator and re-read whenever a pass
// needs them, so a mid-pass change (notably disabling sync) is honored.
type Settings struct {
	SyncEnabled     bool
	SyncToolbar     bool
	MetadataEnabled bool
}

// JournalEntry records one completed drain for the sync journal.
type JournalEntry struct {
	StartedAt time.Time
	Duration  time.Duration
	Events    int
	Applied   int
	Dropped   int
	Failed    int
	SyncError string
}

// Store is the persistence collaborator. The canonical tree and the
// mapping table are accessed through read-modify-commit sequences; no
// intermediate state is visible to other passes. Mapping commits happen
// strictly after the corresponding tree commit.
type Store interface {
	Tree(ctx context.Context) (*tree.Tree, error)
	CommitTree(ctx context.Context, t *tree.Tree) error

	Mappings(ctx context.Context) (*mapping.Table, error)
	CommitMappings(ctx context.Context, tab *mapping.Table) error

	Settings(ctx context.Context) (Settings, error)
	AppendJournal(ctx context.Context, e JournalEntry) error
}

// SyncEngine performs the network exchange with the remote store. The
// engine decides only what to feed it and when to invoke it; wire format
// and retry policy live behind this interface. The returned remote changes
// are replayed onto both trees.
type SyncEngine interface {
	ExecuteSync(ctx context.Context, local *tree.Tree) ([]RemoteChange, error)
}

// Metadata is page metadata for a newly created bookmark.
type Metadata struct {
	Title       string
	Description string
}

// MetadataService supplies page metadata for newly created bookmarks when
// the user granted permission.
type MetadataService interface {
	Fetch(ctx context.Context, url string) (Metadata, error)
}

// DrainStats summarizes one drain of the event queue.
type DrainStats struct {
	Events   int
	Applied  int
	Dropped  int
	Failed   int
	SyncErr  error
	Duration time.Duration
}

// Notifier is the external notification path for surfaced failures and
// progress events.
type Notifier interface {
	ChangeApplied(c Change)
	ReconcileFailed(err error)
	DrainComplete(stats DrainStats)
}

type nopNotifier struct{}

func (nopNotifier) ChangeApplied(Change)     {}
func (nopNotifier) ReconcileFailed(error)    {}
func (nopNotifier) DrainComplete(DrainStats) {}

// State is one pass's snapshot of the canonical tree, the mapping table
// and the settings. Mutators produce replacement values; the engine
// commits them tree-first.
type State struct {
	Tree     *tree.Tree
	Mappings *mapping.Table
	Settings Settings
}

// syncWorthy reports whether a bookmark located in the given container is
// worth syncing under the current preferences. The location passed in must
// be the location after applying the change, not the raw event's parent.
func syncWorthy(container string, s Settings) bool {
	if container == tree.ContainerToolbar && !s.SyncToolbar {
		return false
	}
	return container != ""
}
