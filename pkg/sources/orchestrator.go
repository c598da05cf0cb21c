package sources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/harrisonrobin/taskmerge/pkg/crosssync"
	"github.com/harrisonrobin/taskmerge/pkg/events"
	"github.com/harrisonrobin/taskmerge/pkg/index"
	"github.com/harrisonrobin/taskmerge/pkg/metrics"
	"github.com/harrisonrobin/taskmerge/pkg/model"
	"github.com/harrisonrobin/taskmerge/pkg/state"
	"github.com/harrisonrobin/taskmerge/pkg/store"
)

// Syncer runs the cross-source pass over the committed collection.
type Syncer interface {
	Sync(ctx context.Context, tasks []model.Task) []crosssync.Result
}

// Options carries the orchestrator's collaborators. Every field is optional.
type Options struct {
	Persister state.Persister
	Syncer    Syncer
	Index     *index.KeyIndex
	Logger    logrus.FieldLogger
	Metrics   *metrics.Metrics
}

// Orchestrator owns the source registry and the watch subscriptions.
type Orchestrator struct {
	store *store.Store
	opts  Options
	log   logrus.FieldLogger

	mu      sync.Mutex
	sources map[string]Adapter
	order   []string
	loaded  map[string]bool
	watches map[string]CancelFunc

	// afterMu serializes persistence and cross-source passes.
	afterMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

func New(st *store.Store, opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:   st,
		opts:    opts,
		log:     log.WithField("component", "orchestrator"),
		sources: make(map[string]Adapter),
		loaded:  make(map[string]bool),
		watches: make(map[string]CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds an adapter. An adapter without a reconciler is rejected.
func (o *Orchestrator) Register(a Adapter) error {
	if a.Reconciler() == nil {
		return fmt.Errorf("register %s: %w", a.ID(), ErrMissingReconciler)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.sources[a.ID()]; ok {
		return fmt.Errorf("register %s: %w", a.ID(), ErrDuplicateSource)
	}
	o.sources[a.ID()] = a
	o.order = append(o.order, a.ID())
	return nil
}

// Sources returns the registered source ids in registration order.
func (o *Orchestrator) Sources() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// LoadSource runs the initial load of one source, then persists and runs the cross-source pass.
func (o *Orchestrator) LoadSource(ctx context.Context, id string) error {
	if err := o.load(ctx, id); err != nil {
		return err
	}
	o.afterCommit(ctx)
	return nil
}

// RefreshSource refreshes one source. A source that never loaded is loaded instead.
func (o *Orchestrator) RefreshSource(ctx context.Context, id string) error {
	if err := o.refresh(ctx, id); err != nil {
		return err
	}
	o.afterCommit(ctx)
	return nil
}

// LoadAll loads every registered source concurrently. See RefreshAll for failure handling.
func (o *Orchestrator) LoadAll(ctx context.Context) map[string]error {
	return o.fanOut(ctx, o.load)
}

// RefreshAll refreshes every registered source concurrently. A failing source is logged and
// reported in the returned map; it never stops the others. The collection is persisted and the
// cross-source pass runs once all sources finished.
func (o *Orchestrator) RefreshAll(ctx context.Context) map[string]error {
	return o.fanOut(ctx, o.refresh)
}

func (o *Orchestrator) fanOut(ctx context.Context, run func(context.Context, string) error) map[string]error {
	var (
		mu       sync.Mutex
		failures = make(map[string]error)
		g        errgroup.Group
	)
	for _, id := range o.Sources() {
		id := id
		g.Go(func() error {
			if err := run(ctx, id); err != nil {
				mu.Lock()
				failures[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	o.afterCommit(ctx)
	return failures
}

func (o *Orchestrator) load(ctx context.Context, id string) error {
	a, err := o.adapter(id)
	if err != nil {
		return err
	}
	if err := o.fetch(ctx, a, a.LoadInitialData); err != nil {
		return err
	}

	o.mu.Lock()
	first := !o.loaded[id]
	o.loaded[id] = true
	o.mu.Unlock()

	// The watch goes in only after the initial batch committed, so change notifications never
	// refer to tasks the collection does not hold yet.
	if first {
		o.installWatch(a)
	}
	return nil
}

func (o *Orchestrator) refresh(ctx context.Context, id string) error {
	a, err := o.adapter(id)
	if err != nil {
		return err
	}
	if !o.isLoaded(id) {
		return o.load(ctx, id)
	}
	return o.fetch(ctx, a, a.Refresh)
}

// fetch runs one snapshot call and commits the outcome.
func (o *Orchestrator) fetch(ctx context.Context, a Adapter, call func(context.Context) ([]model.Pending, error)) error {
	log := o.log.WithField("source", a.ID())
	o.store.Dispatch(store.LoadSourceStart{SourceID: a.ID()})

	start := time.Now()
	records, err := call(ctx)
	o.opts.Metrics.Refresh(a.ID(), err == nil, time.Since(start).Seconds())
	if err != nil {
		log.WithError(err).Error("failed to fetch source")
		o.store.Dispatch(store.LoadSourceError{SourceID: a.ID(), Err: err})
		return fmt.Errorf("fetch %s: %w", a.ID(), err)
	}

	o.commit(store.LoadSourceSuccess{SourceID: a.ID(), Records: records, Reconciler: a.Reconciler()})
	log.WithField("records", len(records)).Info("source loaded")
	return nil
}

func (o *Orchestrator) commit(action store.Action) store.State {
	before := o.store.Version()
	st := o.store.Dispatch(action)
	if o.store.Version() != before {
		o.opts.Metrics.Committed(len(st.Tasks))
	}
	if o.opts.Index != nil {
		o.opts.Index.Rebuild(st.Tasks)
	}
	return st
}

func (o *Orchestrator) installWatch(a Adapter) {
	w, ok := a.(Watcher)
	if !ok {
		return
	}
	id := a.ID()
	cancel, err := w.Watch(o.ctx, Callbacks{
		OnItemChanged: func(p model.Pending) { o.HandleChange(id, p) },
		OnItemDeleted: func(key string) { o.HandleDelete(id, key) },
		OnBulkRefresh: func(records []model.Pending) { o.HandleBulk(id, records) },
	})
	if err != nil {
		o.log.WithError(err).WithField("source", id).Warn("failed to watch source")
		return
	}
	o.mu.Lock()
	o.watches[id] = cancel
	o.mu.Unlock()
	o.log.WithField("source", id).Debug("watching source")
}

// HandleChange folds an incremental change pushed by a source.
func (o *Orchestrator) HandleChange(id string, p model.Pending) {
	a, ok := o.ready(id)
	if !ok {
		return
	}
	o.commit(store.UpsertTask{SourceID: id, Record: p, Reconciler: a.Reconciler()})
	o.afterCommit(o.ctx)
}

// HandleDelete removes the task a source deleted.
func (o *Orchestrator) HandleDelete(id, naturalKey string) {
	if _, ok := o.ready(id); !ok {
		return
	}
	o.commit(store.RemoveByKey{SourceID: id, NaturalKey: naturalKey})
	o.afterCommit(o.ctx)
}

// HandleBulk replaces a source's records with a pushed snapshot.
func (o *Orchestrator) HandleBulk(id string, records []model.Pending) {
	a, ok := o.ready(id)
	if !ok {
		return
	}
	o.commit(store.LoadSourceSuccess{SourceID: id, Records: records, Reconciler: a.Reconciler()})
	o.afterCommit(o.ctx)
}

// ready drops notifications for unknown sources and for sources still in their initial load.
func (o *Orchestrator) ready(id string) (Adapter, bool) {
	a, err := o.adapter(id)
	if err != nil {
		o.log.WithField("source", id).Warn("notification from unknown source")
		return nil, false
	}
	if !o.isLoaded(id) {
		o.log.WithField("source", id).Warn("dropping notification received before initial load")
		return nil, false
	}
	return a, true
}

// afterCommit persists the collection and converges cross-source tasks. Persistence failures
// are logged and retried on the next commit; the in-memory state is kept.
func (o *Orchestrator) afterCommit(ctx context.Context) {
	o.afterMu.Lock()
	defer o.afterMu.Unlock()

	o.persist(ctx)
	if o.opts.Syncer == nil {
		return
	}

	results := o.opts.Syncer.Sync(ctx, o.store.State().Tasks)
	summary := events.CrossSourceSynced{Entities: len(results)}
	changed := false
	for _, r := range results {
		switch {
		case len(r.Errors) > 0:
			summary.Failed++
			o.opts.Metrics.CrossSync("failed")
			o.log.WithError(r.Err()).WithField("task", r.TaskID).Warn("cross-source sync failed")
		case r.NeedsResolution:
			summary.Flagged++
			o.opts.Metrics.CrossSync("flagged")
		default:
			o.opts.Metrics.CrossSync("converged")
		}
		if r.Merged != nil && o.applyMerged(r.TaskID, *r.Merged) {
			changed = true
		}
	}
	if len(results) > 0 {
		o.store.Bus().Publish(summary)
	}
	if changed {
		o.persist(ctx)
	}
}

// applyMerged copies converged fields into the canonical task when they differ.
func (o *Orchestrator) applyMerged(id string, merged model.FieldView) bool {
	task, ok := o.store.State().Find(id)
	if !ok || model.FieldsEqual(task.Fields, merged.Fields) {
		return false
	}
	next := task.Clone()
	next.Fields = merged.Fields.Clone()
	o.commit(store.UpdateTask{Task: next})
	return true
}

func (o *Orchestrator) persist(ctx context.Context) {
	if o.opts.Index != nil {
		if err := o.opts.Index.Save(); err != nil {
			o.log.WithError(err).Warn("failed to save key index")
		}
	}
	if o.opts.Persister == nil {
		return
	}
	st := o.store.State()
	snap := state.Snapshot{Tasks: st.Tasks, LastSync: st.LastSync()}
	if err := o.opts.Persister.Save(ctx, snap); err != nil {
		o.opts.Metrics.PersistFailed()
		o.log.WithError(err).Error("failed to persist state")
	}
}

// Close cancels every watch.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	watches := o.watches
	o.watches = make(map[string]CancelFunc)
	o.mu.Unlock()
	for _, cancel := range watches {
		cancel()
	}
	o.cancel()
}

func (o *Orchestrator) adapter(id string) (Adapter, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return a, nil
}

func (o *Orchestrator) isLoaded(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loaded[id]
}
