// Package state persists the canonical collection between runs.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/harrisonrobin/taskmerge/pkg/model"
)

// Snapshot is the persisted shape of the engine state.
type Snapshot struct {
	Tasks    []model.Task         `json:"tasks"`
	LastSync map[string]time.Time `json:"lastSync"`
}

// Persister loads and saves snapshots. Load on an empty store returns an empty Snapshot.
type Persister interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// Backend names a Persister implementation.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
	BackendRedis  Backend = "redis"
	BackendBadger Backend = "badger"
)

// Options selects and configures a backend.
type Options struct {
	Backend   Backend
	Path      string
	RedisAddr string
	RedisKey  string
}

// Open returns the Persister described by opts.
func Open(opts Options) (Persister, error) {
	switch opts.Backend {
	case BackendFile, "":
		return NewFileStore(opts.Path), nil
	case BackendSQLite:
		s, err := OpenSQLite(opts.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		return NewRedisStore(opts.RedisAddr, opts.RedisKey), nil
	case BackendBadger:
		s, err := OpenBadger(opts.Path, false)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown state backend %q", opts.Backend)
}

func empty() Snapshot {
	return Snapshot{LastSync: make(map[string]time.Time)}
}
