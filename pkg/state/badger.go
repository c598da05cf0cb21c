package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/harrisonrobin/taskmerge/pkg/model"
)

var (
	taskPrefix = []byte("task/")
	syncPrefix = []byte("sync/")
)

// BadgerStore keeps one key per task and per source sync time in an embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens the database in dir. inMemory ignores dir and keeps nothing on disk.
func OpenBadger(dir string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

type badgerTask struct {
	Position int        `json:"position"`
	Task     model.Task `json:"task"`
}

func (s *BadgerStore) Load(_ context.Context) (Snapshot, error) {
	snap := empty()
	var stored []badgerTask

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(taskPrefix); it.ValidForPrefix(taskPrefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var bt badgerTask
				if err := json.Unmarshal(val, &bt); err != nil {
					return err
				}
				stored = append(stored, bt)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
		}

		for it.Seek(syncPrefix); it.ValidForPrefix(syncPrefix); it.Next() {
			id := string(it.Item().Key()[len(syncPrefix):])
			err := it.Item().Value(func(val []byte) error {
				ts, err := time.Parse(time.RFC3339Nano, string(val))
				if err != nil {
					return err
				}
				snap.LastSync[id] = ts
				return nil
			})
			if err != nil {
				return fmt.Errorf("bad sync time for %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	snap.Tasks = make([]model.Task, len(stored))
	for _, bt := range stored {
		if bt.Position < 0 || bt.Position >= len(stored) {
			return Snapshot{}, fmt.Errorf("task %s has position %d out of range", bt.Task.ID, bt.Position)
		}
		snap.Tasks[bt.Position] = bt.Task
	}
	if len(snap.Tasks) == 0 {
		snap.Tasks = nil
	}
	return snap, nil
}

// Save drops the previous snapshot and writes the new one in a single transaction.
func (s *BadgerStore) Save(_ context.Context, snap Snapshot) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{taskPrefix, syncPrefix} {
			if err := deletePrefix(txn, prefix); err != nil {
				return err
			}
		}
		for i, t := range snap.Tasks {
			val, err := json.Marshal(badgerTask{Position: i, Task: t})
			if err != nil {
				return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
			}
			if err := txn.Set(append(append([]byte(nil), taskPrefix...), t.ID...), val); err != nil {
				return err
			}
		}
		for id, at := range snap.LastSync {
			key := append(append([]byte(nil), syncPrefix...), id...)
			if err := txn.Set(key, []byte(at.UTC().Format(time.RFC3339Nano))); err != nil {
				return err
			}
		}
		return nil
	})
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
