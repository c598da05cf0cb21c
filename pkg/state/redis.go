package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harrisonrobin/taskmerge/pkg/model"
)

const defaultRedisKey = "taskmerge"

// RedisStore keeps tasks in a list and sync times in a hash under a shared key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, prefix string) *RedisStore {
	return NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: addr}), prefix)
}

func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisKey
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) tasksKey() string { return s.prefix + ":tasks" }
func (s *RedisStore) syncKey() string  { return s.prefix + ":sync" }

func (s *RedisStore) Load(ctx context.Context) (Snapshot, error) {
	snap := empty()

	bodies, err := s.client.LRange(ctx, s.tasksKey(), 0, -1).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read tasks: %w", err)
	}
	for _, body := range bodies {
		var t model.Task
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return Snapshot{}, fmt.Errorf("failed to decode task: %w", err)
		}
		snap.Tasks = append(snap.Tasks, t)
	}

	times, err := s.client.HGetAll(ctx, s.syncKey()).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read sync times: %w", err)
	}
	for id, at := range times {
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return Snapshot{}, fmt.Errorf("bad sync time for %s: %w", id, err)
		}
		snap.LastSync[id] = ts
	}
	return snap, nil
}

// Save replaces both keys in a MULTI/EXEC block.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	bodies := make([]any, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		body, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
		}
		bodies = append(bodies, string(body))
	}
	times := make(map[string]any, len(snap.LastSync))
	for id, at := range snap.LastSync {
		times[id] = at.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.tasksKey(), s.syncKey())
		if len(bodies) > 0 {
			pipe.RPush(ctx, s.tasksKey(), bodies...)
		}
		if len(times) > 0 {
			pipe.HSet(ctx, s.syncKey(), times)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save state to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
