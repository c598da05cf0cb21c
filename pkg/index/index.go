package index

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/harrisonrobin/taskmerge/pkg/model"
)

// KeyIndex maps, per source, a task id to the natural key that source uses for it.
type KeyIndex struct {
	Mappings map[string]map[string]string `json:"mappings"`
	Path     string                       `json:"-"`
	mu       sync.RWMutex
	dirty    bool
}

// NewKeyIndex returns an index persisted at path, loading it if the file exists.
// An empty path keeps the index in memory only.
func NewKeyIndex(path string) (*KeyIndex, error) {
	idx := &KeyIndex{
		Mappings: make(map[string]map[string]string),
		Path:     path,
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := idx.Load(); err != nil {
				return nil, err
			}
		}
	}

	return idx, nil
}

func (idx *KeyIndex) Load() error {
	f, err := os.Open(idx.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	return json.NewDecoder(f).Decode(&idx.Mappings)
}

func (idx *KeyIndex) Save() error {
	idx.mu.RLock()
	if !idx.dirty || idx.Path == "" {
		idx.mu.RUnlock()
		return nil
	}
	idx.mu.RUnlock()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	dir := filepath.Dir(idx.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	f, err := os.Create(idx.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(idx.Mappings); err != nil {
		return err
	}
	idx.dirty = false
	return nil
}

// NaturalKey returns the key sourceID uses for taskID.
func (idx *KeyIndex) NaturalKey(sourceID, taskID string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	key, ok := idx.Mappings[sourceID][taskID]
	return key, ok
}

// TaskID returns the task a source knows under naturalKey.
func (idx *KeyIndex) TaskID(sourceID, naturalKey string) (string, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for id, key := range idx.Mappings[sourceID] {
		if key == naturalKey {
			return id, true
		}
	}
	return "", false
}

// Rebuild replaces every mapping with the keys carried by tasks.
func (idx *KeyIndex) Rebuild(tasks []model.Task) {
	next := make(map[string]map[string]string)
	for _, t := range tasks {
		for src, key := range t.Source.Keys {
			if next[src] == nil {
				next[src] = make(map[string]string)
			}
			next[src][t.ID] = key
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if !sameMappings(idx.Mappings, next) {
		idx.Mappings = next
		idx.dirty = true
	}
}

func sameMappings(a, b map[string]map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for src, am := range a {
		bm, ok := b[src]
		if !ok || len(am) != len(bm) {
			return false
		}
		for id, key := range am {
			if bm[id] != key {
				return false
			}
		}
	}
	return true
}
