package model

import (
	"encoding/json"
	"time"
)

// Fields holds the user-facing attributes of a task that every source can carry.
type Fields struct {
	Title    string `json:"title" yaml:"title"`
	Status   string `json:"status,omitempty" yaml:"status,omitempty"`
	Priority string `json:"priority,omitempty" yaml:"priority,omitempty"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Done     bool   `json:"done,omitempty" yaml:"done,omitempty"`

	Project    string   `json:"project,omitempty" yaml:"project,omitempty"`
	Areas      []string `json:"areas,omitempty" yaml:"areas,omitempty"`
	ParentTask string   `json:"parentTask,omitempty" yaml:"parentTask,omitempty"`

	DoDate  *time.Time `json:"doDate,omitempty" yaml:"doDate,omitempty"`
	DueDate *time.Time `json:"dueDate,omitempty" yaml:"dueDate,omitempty"`
}

// Source is the provenance block of a task.
type Source struct {
	// Extension is the id of the owning source.
	Extension string `json:"extension"`
	// Keys maps a source id to that source's natural key for the task.
	Keys map[string]string `json:"keys,omitempty"`
	URL  string            `json:"url,omitempty"`
	Data json.RawMessage   `json:"data,omitempty"`
}

// Task is a committed record of the canonical collection. It always has an ID.
type Task struct {
	ID string `json:"id"`
	Fields
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Source    Source    `json:"source"`
}

// Pending is a task payload emitted by a source before reconciliation gives it an identity.
type Pending struct {
	// NaturalKey identifies the record inside its origin (file path, external id).
	NaturalKey string
	// KnownID is set when the origin echoes back an id assigned earlier (e.g. note front matter).
	KnownID string
	Fields
	// Owner is the owning source recorded by the origin, if any. Defaults to the emitting source.
	Owner string
	// Keys lists natural keys of other sources that the origin knows about.
	Keys map[string]string
	URL  string
	Data json.RawMessage
	// CreatedAt is the creation time recorded by the origin, if any. It is only trusted
	// together with KnownID.
	CreatedAt time.Time
}

// FieldView is one source's view of a task's fields, used for cross-source merges.
type FieldView struct {
	Fields
	ModifiedAt time.Time
	// Carries lists the fields the source stores. Fields outside it are unknown, not empty.
	Carries FieldSet
}

// NewTask commits a pending record under id. A creation time echoed with the record's known id
// is kept.
func NewTask(p Pending, sourceID, id string, now time.Time) Task {
	keys := MergeKeys(p.Keys, map[string]string{sourceID: p.NaturalKey})
	owner := sourceID
	if p.Owner != "" {
		owner = p.Owner
	}
	created := now
	if p.KnownID != "" && p.KnownID == id && !p.CreatedAt.IsZero() {
		created = p.CreatedAt
	}
	return Task{
		ID:        id,
		Fields:    p.Fields.Clone(),
		CreatedAt: created,
		UpdatedAt: now,
		Source: Source{
			Extension: owner,
			Keys:      keys,
			URL:       p.URL,
			Data:      p.Data,
		},
	}
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	c.Fields = t.Fields.Clone()
	c.Source.Keys = MergeKeys(t.Source.Keys)
	if t.Source.Data != nil {
		c.Source.Data = append(json.RawMessage(nil), t.Source.Data...)
	}
	return c
}

// Clone returns a deep copy of the fields.
func (f Fields) Clone() Fields {
	c := f
	if f.Areas != nil {
		c.Areas = append([]string(nil), f.Areas...)
	}
	if f.DoDate != nil {
		d := *f.DoDate
		c.DoDate = &d
	}
	if f.DueDate != nil {
		d := *f.DueDate
		c.DueDate = &d
	}
	return c
}

// KeyFor returns the natural key the given source uses for the task.
func (t Task) KeyFor(sourceID string) (string, bool) {
	k, ok := t.Source.Keys[sourceID]
	return k, ok
}

// IsCrossSource reports whether the task is visible through more than one source.
func (t Task) IsCrossSource() bool {
	return len(t.Source.Keys) > 1
}
