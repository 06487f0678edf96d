// Package reconciler implements the reconciliation engine that keeps the
// host-native bookmark tree and the canonical synced tree consistent.
//
// Raw native events are buffered and debounced, then drained strictly in
// arrival order: each event is classified into a semantic change, applied
// to a snapshot of the canonical tree, and committed tree-first so the
// mapping table never references uncommitted state. After a drain the
// engine triggers exactly one sync attempt, replays any remote changes
// onto the native tree, runs the unsupported-container reorder pass, and
// restores listener state.
//
// All reconciliation work runs on a single goroutine; exactly one drain is
// ever in flight, so no locking is needed around the canonical tree or the
// mapping table.
package reconciler

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/marksync/marksync/internal/native"
)

// DefaultDebounce is the quiet window after the last native event before a
// batch drains. A single user action (a drag-move across folders, say) can
// surface as several fine-grained native events; the window coalesces
// them into one batch.
const DefaultDebounce = 200 * time.Millisecond

// Config holds engine construction options.
type Config struct {
	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration

	// Clock is the time source; nil selects the wall clock.
	Clock Clock

	// Metadata optionally supplies page metadata for newly created
	// bookmarks. Nil disables the lookup regardless of settings.
	Metadata MetadataService

	// Notifier receives surfaced failures and drain summaries. Nil
	// installs a no-op.
	Notifier Notifier

	// Logger defaults to stderr with an [engine] prefix.
	Logger *log.Logger
}

// Engine owns the native event queue, the debounce timer and the
// reconciliation pass. The queue and the timer handle belong exclusively
// to the engine instance.
type Engine struct {
	host   native.EventedHost
	store  Store
	syncer SyncEngine

	containers *Containers
	classifier *Classifier
	separators *Separators
	applier    *Applier

	meta     MetadataService
	notifier Notifier
	clock    Clock
	logger   *log.Logger
	debounce time.Duration

	queue     []native.Event
	timer     Timer
	gateDepth int
}

// New wires an engine from its collaborators.
func New(host native.EventedHost, store Store, syncer SyncEngine, cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	e := &Engine{
		host:     host,
		store:    store,
		syncer:   syncer,
		meta:     cfg.Metadata,
		notifier: cfg.Notifier,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		debounce: cfg.Debounce,
	}
	e.containers = NewContainers(host, cfg.Logger)
	e.classifier = NewClassifier(host, e.containers, cfg.Logger)
	e.separators = NewSeparators(host, e.containers, e, cfg.Logger)
	e.applier = NewApplier(host, e.containers, e.separators, e, cfg.Logger)
	return e
}

// Containers exposes the engine's container resolver, mainly for the full
// resync path.
func (e *Engine) Containers() *Containers { return e.containers }

// Suspend implements Gate. Calls nest: listeners come back only when the
// outermost restore runs, and only if the persisted sync-enabled flag is
// still set. A user disabling sync mid-pass leaves listeners off.
func (e *Engine) Suspend(ctx context.Context) (restore func()) {
	e.gateDepth++
	if e.gateDepth == 1 {
		e.host.DisableListeners()
	}
	return func() {
		e.gateDepth--
		if e.gateDepth > 0 {
			return
		}
		settings, err := e.store.Settings(ctx)
		if err != nil {
			e.logger.Printf("listener restore: reading settings: %v", err)
			return
		}
		if settings.SyncEnabled {
			e.host.EnableListeners()
		}
	}
}

// Run consumes native events until ctx is cancelled. Queued-but-undrained
// events are discarded on teardown; an in-progress drain always runs to
// completion before the next debounce window can start, because both
// happen on this goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.host.EnableListeners()
	for {
		var timerC <-chan time.Time
		if e.timer != nil {
			timerC = e.timer.C()
		}
		select {
		case <-ctx.Done():
			if e.timer != nil {
				e.timer.Stop()
				e.timer = nil
			}
			e.queue = nil
			return ctx.Err()

		case evt, ok := <-e.host.Events():
			if !ok {
				return nil
			}
			e.enqueue(evt)

		case <-timerC:
			e.timer = nil
			e.Drain(ctx)
		}
	}
}

// enqueue appends the event and resets the pending debounce window.
func (e *Engine) enqueue(evt native.Event) {
	e.queue = append(e.queue, evt)
	if e.timer == nil {
		e.timer = e.clock.NewTimer(e.debounce)
		return
	}
	e.timer.Reset(e.debounce)
}

// QueueLen reports the number of buffered, undrained events.
func (e *Engine) QueueLen() int { return len(e.queue) }

// Drain empties the queue strictly in arrival order, then triggers one
// sync attempt, replays remote changes, runs the unsupported-container
// reorder pass and restores listener state. A failure in one event aborts
// only that event's reconciliation.
func (e *Engine) Drain(ctx context.Context) {
	events := e.queue
	e.queue = nil
	start := e.clock.Now()
	stats := DrainStats{Events: len(events)}

	e.containers.Invalidate()

	resync := false
	for _, evt := range events {
		if _, ok := evt.(native.ExternalChange); ok {
			resync = true
			continue
		}
		applied, err := e.reconcile(ctx, evt)
		switch {
		case err != nil:
			stats.Failed++
			e.logger.Printf("reconcile %T: %v", evt, err)
			e.notifier.ReconcileFailed(err)
		case applied:
			stats.Applied++
		default:
			stats.Dropped++
		}
	}

	if resync {
		if err := e.FullResync(ctx); err != nil {
			stats.Failed++
			e.logger.Printf("full resync: %v", err)
			e.notifier.ReconcileFailed(err)
		}
	}

	// Best effort: sync is attempted even when events failed above.
	stats.SyncErr = e.runSync(ctx)
	if stats.SyncErr != nil {
		e.logger.Printf("sync: %v", stats.SyncErr)
		e.notifier.ReconcileFailed(stats.SyncErr)
	}

	e.reorderPass(ctx)

	stats.Duration = e.clock.Now().Sub(start)
	entry := JournalEntry{
		StartedAt: start,
		Duration:  stats.Duration,
		Events:    stats.Events,
		Applied:   stats.Applied,
		Dropped:   stats.Dropped,
		Failed:    stats.Failed,
	}
	if stats.SyncErr != nil {
		entry.SyncError = stats.SyncErr.Error()
	}
	if err := e.store.AppendJournal(ctx, entry); err != nil {
		e.logger.Printf("journal: %v", err)
	}
	e.notifier.DrainComplete(stats)
}

// loadState reads the current canonical tree, mapping table and settings.
func (e *Engine) loadState(ctx context.Context) (*State, error) {
	t, err := e.store.Tree(ctx)
	if err != nil {
		return nil, err
	}
	tab, err := e.store.Mappings(ctx)
	if err != nil {
		return nil, err
	}
	settings, err := e.store.Settings(ctx)
	if err != nil {
		return nil, err
	}
	return &State{Tree: t, Mappings: tab, Settings: settings}, nil
}

// commit persists the replacement state, tree first so the mapping table
// never references an uncommitted tree.
func (e *Engine) commit(ctx context.Context, st *State) error {
	if err := e.store.CommitTree(ctx, st.Tree); err != nil {
		return err
	}
	return e.store.CommitMappings(ctx, st.Mappings)
}

// reconcile fully processes one event, including its mapping-table
// effects, before the caller moves to the next. Returns whether a
// canonical mutation was committed.
func (e *Engine) reconcile(ctx context.Context, evt native.Event) (bool, error) {
	st, err := e.loadState(ctx)
	if err != nil {
		return false, err
	}
	if err := e.containers.Resolve(ctx, st); err != nil {
		return false, err
	}

	ch, err := e.classifier.Classify(ctx, evt, st)
	if err != nil {
		return false, err
	}
	if ch == nil {
		return false, nil
	}

	ch = e.fillMetadata(ctx, ch, st.Settings)

	next, err := applyChange(st, ch)
	if err != nil {
		return false, err
	}
	if next == nil {
		return false, nil
	}
	if err := e.commit(ctx, next); err != nil {
		return false, err
	}
	e.notifier.ChangeApplied(ch)
	return true, nil
}

// fillMetadata asks the metadata service for a title and description when
// an added bookmark has none and the user granted permission.
func (e *Engine) fillMetadata(ctx context.Context, ch Change, settings Settings) Change {
	add, ok := ch.(Add)
	if !ok || e.meta == nil || !settings.MetadataEnabled {
		return ch
	}
	if add.Node.URL == "" || add.Node.Title != "" {
		return ch
	}
	meta, err := e.meta.Fetch(ctx, add.Node.URL)
	if err != nil {
		e.logger.Printf("metadata for %q: %v", add.Node.URL, err)
		return ch
	}
	node := *add.Node
	node.Title = meta.Title
	add.Node = &node
	add.Description = meta.Description
	return add
}

// runSync invokes the external sync engine once and replays whatever
// remote changes it returns.
func (e *Engine) runSync(ctx context.Context) error {
	if e.syncer == nil {
		return nil
	}
	st, err := e.loadState(ctx)
	if err != nil {
		return err
	}
	if !st.Settings.SyncEnabled {
		return nil
	}
	changes, err := e.syncer.ExecuteSync(ctx, st.Tree)
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		return nil
	}
	if err := e.containers.Resolve(ctx, st); err != nil {
		return err
	}
	// A partial replay still commits: the native writes for the changes
	// that did apply have happened, and their mappings must survive or
	// the next resync re-adopts those nodes under fresh synced ids.
	next, applyErr := e.applier.Apply(ctx, st, changes)
	if next != nil {
		if err := e.commit(ctx, next); err != nil {
			return err
		}
	}
	return applyErr
}

// reorderPass re-positions unsupported-container folders at the front of
// "other" after the batch's native writes.
func (e *Engine) reorderPass(ctx context.Context) {
	st, err := e.loadState(ctx)
	if err != nil {
		e.logger.Printf("reorder pass: %v", err)
		return
	}
	if err := e.containers.Resolve(ctx, st); err != nil {
		e.logger.Printf("reorder pass: %v", err)
		return
	}
	restore := e.Suspend(ctx)
	defer restore()
	if err := e.containers.ReorderUnsupported(ctx); err != nil {
		e.logger.Printf("reorder pass: %v", err)
	}
}
