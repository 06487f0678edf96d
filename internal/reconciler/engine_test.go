package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/marksync/marksync/internal/mapping"
	"github.com/marksync/marksync/internal/native"
	"github.com/marksync/marksync/internal/tree"
)

func newTestEngine(t *testing.T) (*Engine, *fakeHost, *fakeStore, *fakeSyncer, *collectNotifier, *fakeClock) {
	t.Helper()
	host := newFakeHost()
	store := newFakeStore()
	syncer := &fakeSyncer{}
	notifier := newCollectNotifier()
	clock := newFakeClock()
	e := New(host, store, syncer, Config{
		Clock:    clock,
		Notifier: notifier,
		Logger:   testLogger(),
	})
	return e, host, store, syncer, notifier, clock
}

// pumpAndDrain moves every buffered host event into the engine's queue and
// drains the batch, the way Run would after the debounce window.
func pumpAndDrain(ctx context.Context, e *Engine, host *fakeHost) {
	for {
		select {
		case evt := <-host.events:
			e.queue = append(e.queue, evt)
		default:
			e.Drain(ctx)
			return
		}
	}
}

func waitDrain(t *testing.T, n *collectNotifier) DrainStats {
	t.Helper()
	select {
	case stats := <-n.drains:
		return stats
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for drain")
		return DrainStats{}
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestDrainCreateUnderOther(t *testing.T) {
	ctx := context.Background()
	e, host, store, syncer, notifier, _ := newTestEngine(t)

	host.EnableListeners()
	if _, err := host.Create(ctx, native.Create{ParentID: fakeOtherID, Index: 0, Title: "Example", URL: "http://example.com/"}); err != nil {
		t.Fatal(err)
	}
	pumpAndDrain(ctx, e, host)

	stats := waitDrain(t, notifier)
	if stats.Events != 1 || stats.Applied != 1 {
		t.Fatalf("got stats %+v, want 1 event applied", stats)
	}

	tr, _ := store.Tree(ctx)
	other := tr.Container(tree.ContainerOther)
	if len(other.Children) != 1 {
		t.Fatalf("got %d children under other, want 1", len(other.Children))
	}
	child := other.Children[0]
	if child.Title != "Example" || child.URL != "http://example.com/" {
		t.Fatalf("got child %+v", child)
	}

	tab, _ := store.Mappings(ctx)
	if tab.Len() != 1 {
		t.Fatalf("got %d mappings, want 1", tab.Len())
	}
	if _, ok := tab.BySyncedID(child.ID); !ok {
		t.Fatalf("no mapping for synced id %d", child.ID)
	}
	if syncer.callCount() != 1 {
		t.Fatalf("got %d sync calls, want exactly 1 per drain", syncer.callCount())
	}
	if len(store.journal) != 1 || store.journal[0].Events != 1 {
		t.Fatalf("got journal %+v, want one entry for the drain", store.journal)
	}
}

func TestDrainToolbarPreference(t *testing.T) {
	ctx := context.Background()
	e, host, store, _, notifier, _ := newTestEngine(t)
	store.setSettings(Settings{SyncEnabled: true, SyncToolbar: false})

	host.EnableListeners()
	if _, err := host.Create(ctx, native.Create{ParentID: fakeToolbarID, Index: 0, Title: "a", URL: "http://a/"}); err != nil {
		t.Fatal(err)
	}
	pumpAndDrain(ctx, e, host)

	stats := waitDrain(t, notifier)
	if stats.Applied != 0 || stats.Dropped != 1 {
		t.Fatalf("got stats %+v, want the toolbar edit dropped", stats)
	}
	tab, _ := store.Mappings(ctx)
	if tab.Len() != 0 {
		t.Fatalf("got %d mappings with toolbar sync off, want 0", tab.Len())
	}

	// The identical edit with toolbar sync on yields exactly one mutation.
	store.setSettings(Settings{SyncEnabled: true, SyncToolbar: true})
	if _, err := host.Create(ctx, native.Create{ParentID: fakeToolbarID, Index: 1, Title: "b", URL: "http://b/"}); err != nil {
		t.Fatal(err)
	}
	pumpAndDrain(ctx, e, host)

	stats = waitDrain(t, notifier)
	if stats.Applied != 1 || stats.Dropped != 0 {
		t.Fatalf("got stats %+v, want exactly one applied mutation", stats)
	}
	tr, _ := store.Tree(ctx)
	toolbar := tr.Container(tree.ContainerToolbar)
	if len(toolbar.Children) != 1 || toolbar.Children[0].Title != "b" {
		t.Fatalf("got toolbar children %+v, want just b", toolbar.Children)
	}
}

func TestDrainRemoveFolderCleansDescendantMappings(t *testing.T) {
	ctx := context.Background()
	e, host, store, _, notifier, _ := newTestEngine(t)

	host.EnableListeners()
	folder, err := host.Create(ctx, native.Create{ParentID: fakeOtherID, Index: 0, Title: "work"})
	if err != nil {
		t.Fatal(err)
	}
	for i, title := range []string{"a", "b"} {
		if _, err := host.Create(ctx, native.Create{ParentID: folder.ID, Index: i, Title: title, URL: "http://" + title + "/"}); err != nil {
			t.Fatal(err)
		}
	}
	pumpAndDrain(ctx, e, host)
	waitDrain(t, notifier)

	tab, _ := store.Mappings(ctx)
	if tab.Len() != 3 {
		t.Fatalf("got %d mappings after setup, want 3", tab.Len())
	}

	if err := host.RemoveTree(ctx, folder.ID); err != nil {
		t.Fatal(err)
	}
	pumpAndDrain(ctx, e, host)

	stats := waitDrain(t, notifier)
	if stats.Events != 1 || stats.Applied != 1 {
		t.Fatalf("got stats %+v, want one Remove for the whole subtree", stats)
	}
	tab, _ = store.Mappings(ctx)
	if tab.Len() != 0 {
		t.Fatalf("got %d mappings after removal, want 0", tab.Len())
	}
	tr, _ := store.Tree(ctx)
	if n := len(tr.Container(tree.ContainerOther).Children); n != 0 {
		t.Fatalf("got %d canonical children after removal, want 0", n)
	}
}

func TestDrainMoveWithinParentIsOneMutation(t *testing.T) {
	ctx := context.Background()
	e, host, store, _, notifier, _ := newTestEngine(t)

	host.EnableListeners()
	if _, err := host.Create(ctx, native.Create{ParentID: fakeOtherID, Index: 0, Title: "a", URL: "http://a/"}); err != nil {
		t.Fatal(err)
	}
	b, err := host.Create(ctx, native.Create{ParentID: fakeOtherID, Index: 1, Title: "b", URL: "http://b/"})
	if err != nil {
		t.Fatal(err)
	}
	pumpAndDrain(ctx, e, host)
	waitDrain(t, notifier)

	if _, err := host.Move(ctx, b.ID, fakeOtherID, 0); err != nil {
		t.Fatal(err)
	}
	pumpAndDrain(ctx, e, host)

	stats := waitDrain(t, notifier)
	if stats.Applied != 1 || stats.Failed != 0 || stats.Dropped != 0 {
		t.Fatalf("got stats %+v, want one applied mutation", stats)
	}
	notifier.mu.Lock()
	last := notifier.applied[len(notifier.applied)-1]
	notifier.mu.Unlock()
	if _, ok := last.(Move); !ok {
		t.Fatalf("got %#v, want a single Move, not remove-and-add", last)
	}
	tr, _ := store.Tree(ctx)
	children := tr.Container(tree.ContainerOther).Children
	if len(children) != 2 || children[0].Title != "b" || children[1].Title != "a" {
		t.Fatalf("got canonical order %+v, want [b a]", children)
	}
	tab, _ := store.Mappings(ctx)
	if tab.Len() != 2 {
		t.Fatalf("got %d mappings after move, want 2 unchanged", tab.Len())
	}
}

func TestDrainReorderMovesOnlyMappedChildren(t *testing.T) {
	ctx := context.Background()
	e, host, store, _, notifier, _ := newTestEngine(t)

	// Native toolbar holds a, b, c; only b is synced. The canonical
	// toolbar holds b plus a bookmark with no native counterpart.
	var nativeIDs []string
	for i, title := range []string{"a", "b", "c"} {
		n, err := host.Create(ctx, native.Create{ParentID: fakeToolbarID, Index: i, Title: title, URL: "http://" + title + "/"})
		if err != nil {
			t.Fatal(err)
		}
		nativeIDs = append(nativeIDs, n.ID)
	}

	tr, _ := store.Tree(ctx)
	toolbarID := tr.Container(tree.ContainerToolbar).ID
	tr, b, err := tr.Add(&tree.Bookmark{Title: "b", URL: "http://b/"}, toolbarID, 0)
	if err != nil {
		t.Fatal(err)
	}
	tr, _, err = tr.Add(&tree.Bookmark{Title: "q", URL: "http://q/"}, toolbarID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CommitTree(ctx, tr); err != nil {
		t.Fatal(err)
	}
	tab := mapping.NewTable()
	if err := tab.Add(mapping.New(b.ID, nativeIDs[1])); err != nil {
		t.Fatal(err)
	}
	if err := store.CommitMappings(ctx, tab); err != nil {
		t.Fatal(err)
	}

	e.queue = append(e.queue, native.ChildrenReordered{ID: fakeToolbarID, ChildIDs: nativeIDs})
	e.Drain(ctx)

	stats := waitDrain(t, notifier)
	if stats.Applied != 1 {
		t.Fatalf("got stats %+v, want the reorder applied", stats)
	}
	tr, _ = store.Tree(ctx)
	children := tr.Container(tree.ContainerToolbar).Children
	if len(children) != 2 {
		t.Fatalf("got %d canonical children, want 2", len(children))
	}
	if children[0].Title != "q" || children[1].Title != "b" {
		t.Fatalf("got order [%s %s], want unmapped q untouched and b at its native index", children[0].Title, children[1].Title)
	}
}

func TestDrainKeepsMappingsMatchingCanonicalIDs(t *testing.T) {
	ctx := context.Background()
	e, host, store, _, notifier, _ := newTestEngine(t)

	host.EnableListeners()
	folder, err := host.Create(ctx, native.Create{ParentID: fakeOtherID, Index: 0, Title: "work"})
	if err != nil {
		t.Fatal(err)
	}
	a, err := host.Create(ctx, native.Create{ParentID: folder.ID, Index: 0, Title: "a", URL: "http://a/"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := host.Create(ctx, native.Create{ParentID: folder.ID, Index: 1, Title: "b", URL: "http://b/"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := host.Move(ctx, b.ID, fakeToolbarID, 0); err != nil {
		t.Fatal(err)
	}
	if err := host.Remove(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	pumpAndDrain(ctx, e, host)

	stats := waitDrain(t, notifier)
	if stats.Failed != 0 {
		t.Fatalf("got stats %+v, want no failures", stats)
	}

	tr, _ := store.Tree(ctx)
	tab, _ := store.Mappings(ctx)
	want := make(map[int]bool)
	for _, container := range tr.Root.Children {
		for _, id := range container.IDs() {
			if id != container.ID {
				want[id] = true
			}
		}
	}
	got := make(map[int]bool)
	for _, m := range tab.All() {
		got[m.SyncedID] = true
	}
	if len(got) != len(want) {
		t.Fatalf("mapped ids %v, canonical ids %v", got, want)
	}
	for id := range want {
		if !got[id] {
			t.Fatalf("canonical id %d has no mapping", id)
		}
	}
}

func TestDrainRemoteAddSuppressesListeners(t *testing.T) {
	ctx := context.Background()
	e, host, store, syncer, notifier, _ := newTestEngine(t)

	tr, _ := store.Tree(ctx)
	otherID := tr.Container(tree.ContainerOther).ID
	syncer.changes = []RemoteChange{
		RemoteAdd{
			Bookmark: &tree.Bookmark{ID: 100, Title: "remote", URL: "http://remote/"},
			ParentID: otherID,
			Index:    0,
		},
	}

	host.EnableListeners()
	e.Drain(ctx)
	waitDrain(t, notifier)

	select {
	case evt := <-host.events:
		t.Fatalf("engine write leaked event %#v", evt)
	default:
	}
	if !host.ListenersEnabled() {
		t.Fatal("listeners not restored after drain")
	}

	tr, _ = store.Tree(ctx)
	if tr.Find(100) == nil {
		t.Fatal("remote bookmark not grafted into canonical tree")
	}
	tab, _ := store.Mappings(ctx)
	m, ok := tab.BySyncedID(100)
	if !ok {
		t.Fatal("remote bookmark has no mapping")
	}
	node, err := host.Get(ctx, m.NativeID)
	if err != nil || node.Title != "remote" {
		t.Fatalf("native counterpart missing: %v %+v", err, node)
	}
}

// A remote batch that fails partway still commits the changes that did
// replay, so their native nodes keep their mappings instead of being
// re-adopted as duplicates by the next resync.
func TestDrainRemoteBatchPartialFailureCommitsReplayed(t *testing.T) {
	ctx := context.Background()
	e, host, store, syncer, notifier, _ := newTestEngine(t)

	tr, _ := store.Tree(ctx)
	otherID := tr.Container(tree.ContainerOther).ID
	syncer.changes = []RemoteChange{
		RemoteAdd{
			Bookmark: &tree.Bookmark{ID: 200, Title: "kept", URL: "http://kept/"},
			ParentID: otherID,
			Index:    0,
		},
		RemoteModify{SyncedID: 999, Fields: tree.Fields{Title: strptr("ghost")}},
	}

	host.EnableListeners()
	e.Drain(ctx)
	stats := waitDrain(t, notifier)
	if stats.SyncErr == nil {
		t.Fatal("failing remote batch reported no sync error")
	}

	tr, _ = store.Tree(ctx)
	if tr.Find(200) == nil {
		t.Fatal("replayed remote add not committed")
	}
	tab, _ := store.Mappings(ctx)
	m, ok := tab.BySyncedID(200)
	if !ok {
		t.Fatal("replayed remote add lost its mapping")
	}
	if _, err := host.Get(ctx, m.NativeID); err != nil {
		t.Fatalf("native counterpart missing: %v", err)
	}
}

func TestDrainRestoreHonorsSyncDisabled(t *testing.T) {
	ctx := context.Background()
	e, host, store, _, notifier, _ := newTestEngine(t)

	host.EnableListeners()
	store.setSettings(Settings{SyncEnabled: false, SyncToolbar: true})
	e.Drain(ctx)
	waitDrain(t, notifier)

	if host.ListenersEnabled() {
		t.Fatal("listeners re-enabled although sync was disabled mid-pass")
	}
}

func TestDrainExternalChangeTriggersResync(t *testing.T) {
	ctx := context.Background()
	e, host, store, _, notifier, _ := newTestEngine(t)

	// Native state the canonical tree has never seen.
	folder, err := host.Create(ctx, native.Create{ParentID: fakeOtherID, Index: 0, Title: "work"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := host.Create(ctx, native.Create{ParentID: folder.ID, Index: 0, Title: "a", URL: "http://a/"}); err != nil {
		t.Fatal(err)
	}

	// A canonical bookmark whose native counterpart is gone.
	tr, _ := store.Tree(ctx)
	tr, ghost, err := tr.Add(&tree.Bookmark{Title: "ghost", URL: "http://ghost/"}, tr.Container(tree.ContainerOther).ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.CommitTree(ctx, tr); err != nil {
		t.Fatal(err)
	}
	tab := mapping.NewTable()
	if err := tab.Add(mapping.New(ghost.ID, "99")); err != nil {
		t.Fatal(err)
	}
	if err := store.CommitMappings(ctx, tab); err != nil {
		t.Fatal(err)
	}

	e.queue = append(e.queue, native.ExternalChange{})
	e.Drain(ctx)
	waitDrain(t, notifier)

	tr, _ = store.Tree(ctx)
	if tr.Find(ghost.ID) != nil {
		t.Fatal("dead canonical bookmark survived resync")
	}
	other := tr.Container(tree.ContainerOther)
	if len(other.Children) != 1 || other.Children[0].Title != "work" {
		t.Fatalf("got canonical other %+v, want adopted work folder", other.Children)
	}
	if len(other.Children[0].Children) != 1 || other.Children[0].Children[0].Title != "a" {
		t.Fatalf("got folder contents %+v, want adopted child a", other.Children[0].Children)
	}
	tab, _ = store.Mappings(ctx)
	if tab.Len() != 2 {
		t.Fatalf("got %d mappings after resync, want 2", tab.Len())
	}
}

func TestDrainFillsMetadataForUntitledAdds(t *testing.T) {
	ctx := context.Background()
	host := newFakeHost()
	store := newFakeStore()
	store.setSettings(Settings{SyncEnabled: true, SyncToolbar: true, MetadataEnabled: true})
	notifier := newCollectNotifier()
	e := New(host, store, &fakeSyncer{}, Config{
		Clock:    newFakeClock(),
		Notifier: notifier,
		Logger:   testLogger(),
		Metadata: fakeMeta{meta: Metadata{Title: "Fetched Title", Description: "A fetched page."}},
	})

	host.EnableListeners()
	if _, err := host.Create(ctx, native.Create{ParentID: fakeOtherID, Index: 0, URL: "http://untitled/"}); err != nil {
		t.Fatal(err)
	}
	pumpAndDrain(ctx, e, host)
	waitDrain(t, notifier)

	tr, _ := store.Tree(ctx)
	child := tr.Container(tree.ContainerOther).Children[0]
	if child.Title != "Fetched Title" {
		t.Fatalf("got title %q, want the fetched one", child.Title)
	}
	if child.Description != "A fetched page." {
		t.Fatalf("got description %q, want the fetched one", child.Description)
	}
}

type fakeMeta struct {
	meta Metadata
	err  error
}

func (f fakeMeta) Fetch(ctx context.Context, url string) (Metadata, error) {
	return f.meta, f.err
}

func TestRunDebouncesBatches(t *testing.T) {
	e, host, _, _, notifier, clock := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	waitFor(t, host.ListenersEnabled, "Run did not enable listeners")

	if _, err := host.Create(ctx, native.Create{ParentID: fakeOtherID, Index: 0, Title: "a", URL: "http://a/"}); err != nil {
		t.Fatal(err)
	}
	if _, err := host.Create(ctx, native.Create{ParentID: fakeOtherID, Index: 1, Title: "b", URL: "http://b/"}); err != nil {
		t.Fatal(err)
	}

	// The second event resets the pending window instead of draining.
	waitFor(t, func() bool { return clock.resetCount() == 1 }, "second event did not reset the debounce window")
	select {
	case stats := <-notifier.drains:
		t.Fatalf("drained before the window elapsed: %+v", stats)
	default:
	}

	clock.fire()
	stats := waitDrain(t, notifier)
	if stats.Events != 2 || stats.Applied != 2 {
		t.Fatalf("got stats %+v, want both events in one batch", stats)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}
