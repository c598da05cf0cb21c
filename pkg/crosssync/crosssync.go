// Package crosssync converges the fields of tasks that are visible through more than one source.
package crosssync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/harrisonrobin/taskmerge/pkg/model"
)

// Strategy decides which provider view wins when views disagree.
type Strategy string

const (
	SourceWins    Strategy = "source-wins"
	LastModified  Strategy = "last-modified"
	ManualResolve Strategy = "manual-resolve"
)

// ParseStrategy validates a configured strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case SourceWins, LastModified, ManualResolve:
		return st, nil
	case "":
		return SourceWins, nil
	}
	return "", fmt.Errorf("unknown conflict strategy %q", s)
}

// Provider reads and writes one task's fields in a single source.
type Provider interface {
	SourceID() string
	CanHandle(task model.Task) bool
	// ReadFields returns nil without error when the source has no view of the task.
	ReadFields(ctx context.Context, id string) (*model.FieldView, error)
	WriteFields(ctx context.Context, id string, fields model.FieldView) error
}

// KeyResolver maps a canonical task id to the natural key a source uses for it.
type KeyResolver interface {
	NaturalKey(sourceID, taskID string) (string, bool)
}

// Result is the outcome of one cross-source task.
type Result struct {
	TaskID   string
	Sources  []string
	Winner   string
	Strategy Strategy
	Merged   *model.FieldView
	// Written lists the sources whose view was overwritten with Merged.
	Written []string
	// NeedsResolution is set by ManualResolve when the views disagreed.
	NeedsResolution bool
	Errors          []error
}

// Err joins the errors of the result.
func (r Result) Err() error {
	return errors.Join(r.Errors...)
}

// Coordinator holds the provider registry and runs cross-source passes.
type Coordinator struct {
	mu        sync.RWMutex
	providers map[string]Provider
	strategy  Strategy
	workers   int
	log       logrus.FieldLogger
}

// NewCoordinator returns a coordinator using strategy. workers bounds how many tasks are
// processed at once; values below one mean one.
func NewCoordinator(strategy Strategy, workers int, log logrus.FieldLogger) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		providers: make(map[string]Provider),
		strategy:  strategy,
		workers:   workers,
		log:       log.WithField("component", "crosssync"),
	}
}

// Register adds or replaces the provider for p.SourceID().
func (c *Coordinator) Register(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[p.SourceID()] = p
}

func (c *Coordinator) Strategy() Strategy {
	return c.strategy
}

// Sync processes every task visible through at least two sources. Each task is independent:
// a failure is recorded in its Result and never stops the others.
func (c *Coordinator) Sync(ctx context.Context, tasks []model.Task) []Result {
	var targets []model.Task
	for _, t := range tasks {
		if t.IsCrossSource() {
			targets = append(targets, t)
		}
	}
	results := make([]Result, len(targets))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			results[i] = c.syncTask(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Coordinator) syncTask(ctx context.Context, task model.Task) Result {
	res := Result{TaskID: task.ID, Strategy: c.strategy}
	log := c.log.WithField("task", task.ID)

	views := make(map[string]*model.FieldView)
	var order []string
	for _, p := range c.providersFor(task) {
		src := p.SourceID()
		res.Sources = append(res.Sources, src)
		view, err := p.ReadFields(ctx, task.ID)
		if err != nil {
			log.WithError(err).WithField("source", src).Warn("failed to read fields")
			res.Errors = append(res.Errors, fmt.Errorf("read %s: %w", src, err))
			continue
		}
		if view == nil {
			continue
		}
		views[src] = view
		order = append(order, src)
	}

	if len(views) == 0 {
		if len(res.Sources) > 0 {
			res.Errors = append(res.Errors, fmt.Errorf("no readable view for task %s", task.ID))
		}
		return res
	}

	winner := c.pick(task.Source.Extension, views, order)
	merged := c.merge(task.Fields, winner, views, order)
	res.Winner = winner
	res.Merged = &merged
	if c.strategy == ManualResolve && !allEqual(views) {
		res.NeedsResolution = true
		log.WithField("owner", winner).Info("views disagree; kept owner's view pending manual resolution")
	}

	for _, src := range order {
		if model.FieldsEqualIn(views[src].Fields, merged.Fields, views[src].Mask()) {
			continue
		}
		p := c.provider(src)
		if err := p.WriteFields(ctx, task.ID, merged); err != nil {
			log.WithError(err).WithField("source", src).Warn("failed to write merged fields")
			res.Errors = append(res.Errors, fmt.Errorf("write %s: %w", src, err))
			continue
		}
		res.Written = append(res.Written, src)
	}
	return res
}

// merge layers the views over the stored fields, winner last. A view only contributes the
// fields it carries, so a source that cannot store a field never blanks it elsewhere.
func (c *Coordinator) merge(base model.Fields, winner string, views map[string]*model.FieldView, order []string) model.FieldView {
	layers := make([]string, 0, len(order))
	for _, src := range order {
		if src != winner {
			layers = append(layers, src)
		}
	}
	if c.strategy == LastModified {
		sort.SliceStable(layers, func(i, j int) bool {
			return views[layers[i]].ModifiedAt.Before(views[layers[j]].ModifiedAt)
		})
	}
	fields := base.Clone()
	for _, src := range append(layers, winner) {
		fields = model.Apply(fields, views[src].Fields, views[src].Mask())
	}
	return model.FieldView{Fields: fields, ModifiedAt: views[winner].ModifiedAt}
}

// pick returns the source whose view wins. order is sorted by source id, so fallbacks are
// deterministic.
func (c *Coordinator) pick(owner string, views map[string]*model.FieldView, order []string) string {
	if c.strategy == LastModified {
		best := ""
		for _, src := range order {
			switch {
			case best == "":
				best = src
			case views[src].ModifiedAt.After(views[best].ModifiedAt):
				best = src
			case views[src].ModifiedAt.Equal(views[best].ModifiedAt) && src == owner:
				best = src
			}
		}
		return best
	}
	if _, ok := views[owner]; ok {
		return owner
	}
	return order[0]
}

func (c *Coordinator) providersFor(task model.Task) []Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	srcs := make([]string, 0, len(task.Source.Keys))
	for src := range task.Source.Keys {
		srcs = append(srcs, src)
	}
	sort.Strings(srcs)

	var out []Provider
	for _, src := range srcs {
		p, ok := c.providers[src]
		if !ok || !p.CanHandle(task) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (c *Coordinator) provider(src string) Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.providers[src]
}

// allEqual reports whether every pair of views agrees on the fields both carry.
func allEqual(views map[string]*model.FieldView) bool {
	list := make([]*model.FieldView, 0, len(views))
	for _, v := range views {
		list = append(list, v)
	}
	for i := range list {
		for j := i + 1; j < len(list); j++ {
			if !model.FieldsEqualIn(list[i].Fields, list[j].Fields, list[i].Mask()&list[j].Mask()) {
				return false
			}
		}
	}
	return true
}
