// Package sources drives the lifecycle of every registered task source and feeds their batches
// into the store.
package sources

import (
	"context"
	"errors"

	"github.com/harrisonrobin/taskmerge/pkg/model"
	"github.com/harrisonrobin/taskmerge/pkg/reconcile"
)

var (
	ErrMissingReconciler = errors.New("source has no reconciler")
	ErrUnknownSource     = errors.New("unknown source")
	ErrDuplicateSource   = errors.New("source already registered")
)

// Adapter produces task records for one named origin.
type Adapter interface {
	ID() string
	Name() string
	Reconciler() reconcile.Reconciler
	// LoadInitialData returns the full snapshot. It is called once per process per source.
	LoadInitialData(ctx context.Context) ([]model.Pending, error)
	// Refresh returns the full snapshot again. It must be safe to call repeatedly.
	Refresh(ctx context.Context) ([]model.Pending, error)
}

// Callbacks receive push notifications from a watching adapter.
type Callbacks struct {
	OnItemChanged func(model.Pending)
	OnItemDeleted func(naturalKey string)
	OnBulkRefresh func([]model.Pending)
}

// CancelFunc stops a watch.
type CancelFunc func()

// Watcher is implemented by adapters that can observe external changes.
type Watcher interface {
	Watch(ctx context.Context, cb Callbacks) (CancelFunc, error)
}
