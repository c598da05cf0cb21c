package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/harrisonrobin/taskmerge/pkg/auth"
	"github.com/harrisonrobin/taskmerge/pkg/crosssync"
	"github.com/harrisonrobin/taskmerge/pkg/events"
	"github.com/harrisonrobin/taskmerge/pkg/google"
	"github.com/harrisonrobin/taskmerge/pkg/index"
	"github.com/harrisonrobin/taskmerge/pkg/metrics"
	"github.com/harrisonrobin/taskmerge/pkg/orgmode"
	"github.com/harrisonrobin/taskmerge/pkg/sources"
	"github.com/harrisonrobin/taskmerge/pkg/state"
	"github.com/harrisonrobin/taskmerge/pkg/store"
	"github.com/harrisonrobin/taskmerge/pkg/taskwarrior"
	"github.com/harrisonrobin/taskmerge/pkg/vault"
)

const (
	keyIndexFile = "keys.json"
	paletteFile  = "project_colors.json"
)

// app is the engine wired from the config: persisted state, sources and providers.
type app struct {
	opts      *RootOptions
	log       logrus.FieldLogger
	persister state.Persister
	store     *store.Store
	index     *index.KeyIndex
	metrics   *metrics.Metrics
	orch      *sources.Orchestrator
	vault     *vault.Vault
	calendar  *google.Provider
	closeBus  func()
}

func openState(opts *RootOptions) (state.Persister, error) {
	cfg := opts.Config.State
	return state.Open(state.Options{
		Backend:   state.Backend(cfg.Backend),
		Path:      cfg.Path,
		RedisAddr: cfg.RedisAddr,
		RedisKey:  cfg.RedisKey,
	})
}

func newApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg := opts.Config
	log := opts.Log

	persister, err := openState(opts)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	snap, err := persister.Load(ctx)
	if err != nil {
		persister.Close()
		return nil, fmt.Errorf("load state: %w", err)
	}

	idx, err := index.NewKeyIndex(filepath.Join(opts.Dir(), keyIndexFile))
	if err != nil {
		log.WithError(err).Warn("failed to load key index; rebuilding")
		idx, _ = index.NewKeyIndex("")
	}
	idx.Rebuild(snap.Tasks)

	bus := events.NewBus()
	a := &app{
		opts:      opts,
		log:       log,
		persister: persister,
		store:     store.New(store.FromSnapshot(snap.Tasks, snap.LastSync), store.WithBus(bus)),
		index:     idx,
		metrics:   metrics.New(),
		closeBus:  bus.Subscribe(logSubscriber{log: log}),
	}

	strategy, err := crosssync.ParseStrategy(cfg.Sync.Strategy)
	if err != nil {
		a.Close()
		return nil, err
	}
	coord := crosssync.NewCoordinator(strategy, cfg.Sync.Workers, log)
	a.orch = sources.New(a.store, sources.Options{
		Persister: persister,
		Syncer:    coord,
		Index:     idx,
		Logger:    log,
		Metrics:   a.metrics,
	})

	if err := a.registerSources(ctx, coord); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) registerSources(ctx context.Context, coord *crosssync.Coordinator) error {
	src := a.opts.Config.Sources

	if src.Vault.Enabled {
		a.vault = vault.New(src.Vault.Path, src.Vault.Debounce, a.log)
		if err := a.orch.Register(a.vault); err != nil {
			return err
		}
		coord.Register(vault.NewProvider(a.vault, a.index))
	}

	if src.Taskwarrior.Enabled {
		client := taskwarrior.NewClient(src.Taskwarrior.Bin)
		if err := a.orch.Register(taskwarrior.NewAdapter(client, src.Taskwarrior.Filter, a.log)); err != nil {
			return err
		}
		coord.Register(taskwarrior.NewProvider(client, a.index))
	}

	if len(src.Orgmode.Files) > 0 {
		if err := a.orch.Register(orgmode.NewAdapter(src.Orgmode.Files, src.Orgmode.Tag, a.log)); err != nil {
			return err
		}
	}

	if src.Calendar.Enabled {
		client, err := a.calendarClient(ctx)
		if err != nil {
			// An unreachable calendar must not keep the local sources from syncing.
			a.log.WithError(err).Warn("calendar source disabled for this run")
			return nil
		}
		palette, err := google.NewPalette(filepath.Join(a.opts.Dir(), paletteFile))
		if err != nil {
			a.log.WithError(err).Warn("failed to load project colors")
			palette, _ = google.NewPalette("")
		}
		if err := a.orch.Register(google.NewAdapter(client, src.Calendar.PollInterval, a.log)); err != nil {
			return err
		}
		a.calendar = google.NewProvider(client, a.index, palette)
		coord.Register(a.calendar)
	}
	return nil
}

func (a *app) calendarClient(ctx context.Context) (*google.CalendarClient, error) {
	httpClient, err := auth.NewFlow(a.opts.Dir(), a.log).Client(ctx, auth.Scopes)
	if err != nil {
		return nil, err
	}
	return google.NewClient(ctx, httpClient, a.opts.Config.Sources.Calendar.Name)
}

// sweepOverdue marks calendar events that became overdue since the last run.
func (a *app) sweepOverdue(ctx context.Context) int {
	if a.calendar == nil {
		return 0
	}
	n, err := a.calendar.SweepOverdue(ctx)
	if err != nil {
		a.log.WithError(err).Warn("overdue sweep failed")
	}
	return n
}

func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	if a.closeBus != nil {
		a.closeBus()
	}
	if err := a.persister.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close state")
	}
}

// logSubscriber logs engine events.
type logSubscriber struct {
	events.Nop
	log logrus.FieldLogger
}

func (s logSubscriber) SourceLoadFailed(e events.SourceLoadFailed) {
	s.log.WithError(e.Err).WithField("source", e.SourceID).Debug("source load failed")
}

func (s logSubscriber) TaskRemoved(e events.TaskRemoved) {
	s.log.WithField("task", e.ID).Debug("task removed")
}

func (s logSubscriber) CrossSourceSynced(e events.CrossSourceSynced) {
	s.log.WithFields(logrus.Fields{
		"entities": e.Entities,
		"failed":   e.Failed,
		"flagged":  e.Flagged,
	}).Info("cross-source sync finished")
}
