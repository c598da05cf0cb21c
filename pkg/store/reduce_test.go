package store

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrisonrobin/taskmerge/pkg/model"
	"github.com/harrisonrobin/taskmerge/pkg/reconcile"
)

var (
	d0 = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	d1 = time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	d2 = time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)
)

func envAt(now time.Time) reconcile.Env {
	n := 0
	return reconcile.Env{
		Now: now,
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%s-%d", now.Format("0102"), n)
		},
	}
}

func pending(key, title string) model.Pending {
	return model.Pending{NaturalKey: key, Fields: model.Fields{Title: title}}
}

func load(src string, r reconcile.Reconciler, recs ...model.Pending) LoadSourceSuccess {
	return LoadSourceSuccess{SourceID: src, Records: recs, Reconciler: r}
}

func ids(tasks []model.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}

func TestReduce_LoadCreatesTasks(t *testing.T) {
	s := Reduce(State{}, load("tracker", reconcile.Simple{}, pending("1", "a"), pending("2", "b")), envAt(d0))

	require.Len(t, s.Tasks, 2)
	assert.Equal(t, "a", s.Tasks[0].Title)
	assert.Equal(t, map[string]string{"tracker": "1"}, s.Tasks[0].Source.Keys)
	assert.Equal(t, d0, s.Sources["tracker"].LastSync)
	assert.False(t, s.Sources["tracker"].Loading)
}

func TestReduce_IdentityStableAcrossRefreshes(t *testing.T) {
	batch := load("tracker", reconcile.Simple{}, pending("1", "a"), pending("2", "b"))
	first := Reduce(State{}, batch, envAt(d0))
	second := Reduce(first, batch, envAt(d1))
	third := Reduce(second, batch, envAt(d2))

	assert.Equal(t, ids(first.Tasks), ids(third.Tasks))
	for i := range first.Tasks {
		assert.Equal(t, first.Tasks[i].CreatedAt, third.Tasks[i].CreatedAt)
	}
}

func TestReduce_IdempotentRedeliveryKeepsUpdatedAt(t *testing.T) {
	batch := load("tracker", reconcile.Simple{}, pending("1", "a"))
	first := Reduce(State{}, batch, envAt(d0))
	second := Reduce(first, batch, envAt(d1))

	require.Len(t, second.Tasks, 1)
	assert.Equal(t, d0, second.Tasks[0].UpdatedAt)
	assert.Equal(t, d1, second.Sources["tracker"].LastSync)
}

func TestReduce_ChangedRecordBumpsUpdatedAt(t *testing.T) {
	first := Reduce(State{}, load("tracker", reconcile.Simple{}, pending("1", "a")), envAt(d0))
	second := Reduce(first, load("tracker", reconcile.Simple{}, pending("1", "a2")), envAt(d1))

	require.Len(t, second.Tasks, 1)
	assert.Equal(t, first.Tasks[0].ID, second.Tasks[0].ID)
	assert.Equal(t, d0, second.Tasks[0].CreatedAt)
	assert.Equal(t, d1, second.Tasks[0].UpdatedAt)
}

func TestReduce_RefreshDropsMissingOwnedTasks(t *testing.T) {
	first := Reduce(State{}, load("tracker", reconcile.Simple{}, pending("1", "a"), pending("2", "b")), envAt(d0))
	second := Reduce(first, load("tracker", reconcile.Simple{}, pending("2", "b")), envAt(d1))

	require.Len(t, second.Tasks, 1)
	assert.Equal(t, "b", second.Tasks[0].Title)
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	first := Reduce(State{}, load("tracker", reconcile.Simple{}, pending("1", "a")), envAt(d0))
	snapshot := first.Tasks[0].Clone()

	_ = Reduce(first, load("tracker", reconcile.Simple{}, pending("1", "changed")), envAt(d1))

	assert.Equal(t, snapshot, first.Tasks[0])
	assert.Equal(t, d0, first.Sources["tracker"].LastSync)
}

// A tracker task later materialized as a note keeps the tracker as its owner and gains the
// note's key, without being duplicated.
func TestReduce_BackingStoreImportKeepsOwnership(t *testing.T) {
	r1 := model.Task{
		ID:        "t1",
		Fields:    model.Fields{Title: "Write doc"},
		CreatedAt: d0,
		UpdatedAt: d0,
		Source:    model.Source{Extension: "tracker", Keys: map[string]string{"tracker": "42"}},
	}
	state := State{Tasks: []model.Task{r1}}

	next := Reduce(state, load("backing", reconcile.BackingStore{}, pending("/notes/write-doc.md", "Write doc")), envAt(d1))

	require.Len(t, next.Tasks, 1)
	got := next.Tasks[0]
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, "Write doc", got.Title)
	assert.Equal(t, "tracker", got.Source.Extension)
	assert.Equal(t, map[string]string{"tracker": "42", "backing": "/notes/write-doc.md"}, got.Source.Keys)
	assert.Equal(t, d0, got.CreatedAt)
	assert.True(t, got.UpdatedAt.After(d0))
}

func TestReduce_BackingStoreRefreshCarriesMetadataForward(t *testing.T) {
	state := Reduce(State{}, load("tracker", reconcile.Simple{}, pending("42", "Write doc")), envAt(d0))
	state = Reduce(state, load("vault", reconcile.BackingStore{}, pending("/n.md", "Write doc")), envAt(d1))
	require.Len(t, state.Tasks, 1)
	id := state.Tasks[0].ID

	// The vault refresh filters the imported task out, then matches it again by its key.
	state = Reduce(state, load("vault", reconcile.BackingStore{}, pending("/n.md", "Write doc")), envAt(d2))

	require.Len(t, state.Tasks, 1)
	assert.Equal(t, id, state.Tasks[0].ID)
	assert.Equal(t, "tracker", state.Tasks[0].Source.Extension)
	assert.Equal(t, d1, state.Tasks[0].UpdatedAt)

	// A tracker refresh must not lose the vault key.
	state = Reduce(state, load("tracker", reconcile.Simple{}, pending("42", "Write doc")), envAt(d2))
	require.Len(t, state.Tasks, 1)
	assert.Equal(t, "/n.md", state.Tasks[0].Source.Keys["vault"])
	assert.Equal(t, id, state.Tasks[0].ID)
}

func TestReduce_KeysAreSupersetOfInputs(t *testing.T) {
	state := Reduce(State{}, load("tracker", reconcile.Simple{}, pending("42", "x")), envAt(d0))
	before := state.Tasks[0].Source.Keys
	incoming := model.Pending{NaturalKey: "/x.md", Keys: map[string]string{"calendar": "ev"}, Fields: model.Fields{Title: "x"}}

	state = Reduce(state, load("vault", reconcile.BackingStore{}, incoming), envAt(d1))

	require.Len(t, state.Tasks, 1)
	got := state.Tasks[0].Source.Keys
	for k, v := range before {
		assert.Equal(t, v, got[k])
	}
	for k, v := range incoming.Keys {
		assert.Equal(t, v, got[k])
	}
	assert.Equal(t, "/x.md", got["vault"])
}

func TestReduce_EmptyBatchOnlyAffectsItsSource(t *testing.T) {
	state := Reduce(State{}, load("a", reconcile.Simple{}, pending("1", "old a")), envAt(d0))

	// Commits are serialized, so the two concurrent refreshes land one after the other in
	// either order with the same outcome.
	orders := [][]Action{
		{load("a", reconcile.Simple{}), load("b", reconcile.Simple{}, pending("x", "from b"))},
		{load("b", reconcile.Simple{}, pending("x", "from b")), load("a", reconcile.Simple{})},
	}
	for _, order := range orders {
		s := state
		for _, a := range order {
			s = Reduce(s, a, envAt(d1))
		}
		require.Len(t, s.Tasks, 1)
		assert.Equal(t, "from b", s.Tasks[0].Title)
		assert.Equal(t, "b", s.Tasks[0].Source.Extension)
	}
}

func TestReduce_DuplicateKeysInBatchFold(t *testing.T) {
	s := Reduce(State{}, load("tracker", reconcile.Simple{}, pending("1", "first"), pending("1", "second")), envAt(d0))

	require.Len(t, s.Tasks, 1)
	assert.Equal(t, "second", s.Tasks[0].Title)
}

func TestReduce_MissingReconcilerLeavesTasks(t *testing.T) {
	state := Reduce(State{}, load("tracker", reconcile.Simple{}, pending("1", "a")), envAt(d0))

	next := Reduce(state, LoadSourceSuccess{SourceID: "tracker", Records: []model.Pending{pending("2", "b")}}, envAt(d1))

	assert.Equal(t, state.Tasks, next.Tasks)
	assert.NotEmpty(t, next.Sources["tracker"].Err)
}

func TestReduce_StartAndErrorOnlyTouchFlags(t *testing.T) {
	state := Reduce(State{}, load("tracker", reconcile.Simple{}, pending("1", "a")), envAt(d0))

	started := Reduce(state, LoadSourceStart{SourceID: "tracker"}, envAt(d1))
	assert.True(t, started.Sources["tracker"].Loading)
	assert.Equal(t, state.Tasks, started.Tasks)

	failed := Reduce(started, LoadSourceError{SourceID: "tracker", Err: errors.New("offline")}, envAt(d1))
	assert.False(t, failed.Sources["tracker"].Loading)
	assert.Equal(t, "offline", failed.Sources["tracker"].Err)
	assert.Equal(t, d0, failed.Sources["tracker"].LastSync)
	assert.Equal(t, state.Tasks, failed.Tasks)
}

func TestReduce_Upsert(t *testing.T) {
	state := Reduce(State{}, load("vault", reconcile.BackingStore{}, pending("/a.md", "a")), envAt(d0))
	id := state.Tasks[0].ID

	updated := Reduce(state, UpsertTask{SourceID: "vault", Record: pending("/a.md", "a edited"), Reconciler: reconcile.BackingStore{}}, envAt(d1))
	require.Len(t, updated.Tasks, 1)
	assert.Equal(t, id, updated.Tasks[0].ID)
	assert.Equal(t, "a edited", updated.Tasks[0].Title)
	assert.Equal(t, d1, updated.Tasks[0].UpdatedAt)

	added := Reduce(updated, UpsertTask{SourceID: "vault", Record: pending("/b.md", "b"), Reconciler: reconcile.BackingStore{}}, envAt(d1))
	require.Len(t, added.Tasks, 2)
	assert.Equal(t, "b", added.Tasks[1].Title)
}

func TestReduce_AddUpdateRemove(t *testing.T) {
	state := Reduce(State{}, AddTask{Task: model.Task{ID: "x", Fields: model.Fields{Title: "x"}, Source: model.Source{Extension: "app"}}}, envAt(d0))
	require.Len(t, state.Tasks, 1)
	assert.Equal(t, d0, state.Tasks[0].CreatedAt)

	edit := state.Tasks[0].Clone()
	edit.Title = "y"
	edit.CreatedAt = d2
	edit.Source.Extension = "other"
	edit.Source.Keys = nil
	state = Reduce(state, UpdateTask{Task: edit}, envAt(d1))
	require.Len(t, state.Tasks, 1)
	assert.Equal(t, "y", state.Tasks[0].Title)
	assert.Equal(t, d0, state.Tasks[0].CreatedAt)
	assert.Equal(t, d1, state.Tasks[0].UpdatedAt)
	assert.Equal(t, "app", state.Tasks[0].Source.Extension)

	same := Reduce(state, UpdateTask{Task: state.Tasks[0]}, envAt(d2))
	assert.Equal(t, d1, same.Tasks[0].UpdatedAt)

	again := Reduce(state, AddTask{Task: state.Tasks[0]}, envAt(d2))
	assert.Len(t, again.Tasks, 1)

	gone := Reduce(state, RemoveTask{ID: "x"}, envAt(d2))
	assert.Empty(t, gone.Tasks)
}

func TestReduce_RemoveByKey(t *testing.T) {
	state := Reduce(State{}, load("vault", reconcile.BackingStore{}, pending("/a.md", "a"), pending("/b.md", "b")), envAt(d0))

	next := Reduce(state, RemoveByKey{SourceID: "vault", NaturalKey: "/a.md"}, envAt(d1))

	require.Len(t, next.Tasks, 1)
	assert.Equal(t, "b", next.Tasks[0].Title)
	assert.Len(t, state.Tasks, 2)
}

// A task completed in its owning source leaves that source's export, but its note remains.
// The note brings it back under the same identity and keeps it from flapping on later refreshes.
func TestReduce_NoteOutlivesTaskDroppedByOwner(t *testing.T) {
	state := Reduce(State{}, load("tracker", reconcile.Simple{}, pending("42", "Write doc")), envAt(d0))
	require.Len(t, state.Tasks, 1)
	id := state.Tasks[0].ID
	note := model.Pending{
		NaturalKey: "/write-doc.md",
		KnownID:    id,
		Owner:      "tracker",
		Keys:       map[string]string{"tracker": "42"},
		Fields:     model.Fields{Title: "Write doc"},
		CreatedAt:  d0,
	}
	state = Reduce(state, load("vault", reconcile.BackingStore{}, note), envAt(d0))
	require.Len(t, state.Tasks, 1)

	state = Reduce(state, load("tracker", reconcile.Simple{}), envAt(d1))
	require.Empty(t, state.Tasks)

	note.Done = true
	for _, step := range []Action{
		load("vault", reconcile.BackingStore{}, note),
		load("tracker", reconcile.Simple{}),
		load("vault", reconcile.BackingStore{}, note),
		load("tracker", reconcile.Simple{}),
	} {
		state = Reduce(state, step, envAt(d2))
		require.Len(t, state.Tasks, 1)
		got := state.Tasks[0]
		assert.Equal(t, id, got.ID)
		assert.Equal(t, d0, got.CreatedAt)
		assert.Equal(t, "vault", got.Source.Extension)
		assert.True(t, got.Done)
		assert.Equal(t, "42", got.Source.Keys["tracker"])
	}
}

func TestReduce_ClearingFieldsOfOwnedNote(t *testing.T) {
	due := d1
	note := model.Pending{
		NaturalKey: "/call.md",
		Fields:     model.Fields{Title: "Call plumber", Done: true, Priority: "H", DueDate: &due},
	}
	state := Reduce(State{}, load("vault", reconcile.BackingStore{}, note), envAt(d0))
	require.Len(t, state.Tasks, 1)
	require.True(t, state.Tasks[0].Done)

	note.Fields = model.Fields{Title: "Call plumber"}
	state = Reduce(state, load("vault", reconcile.BackingStore{}, note), envAt(d1))

	require.Len(t, state.Tasks, 1)
	got := state.Tasks[0]
	assert.False(t, got.Done)
	assert.Empty(t, got.Priority)
	assert.Nil(t, got.DueDate)
	assert.Equal(t, d1, got.UpdatedAt)

	// A single-note upsert behaves the same way.
	note.Priority = "L"
	state = Reduce(state, UpsertTask{SourceID: "vault", Record: note, Reconciler: reconcile.BackingStore{}}, envAt(d2))
	note.Priority = ""
	state = Reduce(state, UpsertTask{SourceID: "vault", Record: note, Reconciler: reconcile.BackingStore{}}, envAt(d2))
	require.Len(t, state.Tasks, 1)
	assert.Empty(t, state.Tasks[0].Priority)
}

func TestReduce_SameTitleNotesStayDistinct(t *testing.T) {
	state := Reduce(State{}, load("tracker", reconcile.Simple{}, pending("42", "Write doc")), envAt(d0))
	notes := load("vault", reconcile.BackingStore{}, pending("/a.md", "Write doc"), pending("/b.md", "Write doc"))

	for _, env := range []reconcile.Env{envAt(d1), envAt(d2)} {
		state = Reduce(state, notes, env)

		require.Len(t, state.Tasks, 2)
		byNote := map[string]model.Task{}
		for _, task := range state.Tasks {
			byNote[task.Source.Keys["vault"]] = task
		}
		require.Contains(t, byNote, "/a.md")
		require.Contains(t, byNote, "/b.md")
		assert.Equal(t, "42", byNote["/a.md"].Source.Keys["tracker"])
		assert.Equal(t, "tracker", byNote["/a.md"].Source.Extension)
		assert.Equal(t, "vault", byNote["/b.md"].Source.Extension)
		assert.NotContains(t, byNote["/b.md"].Source.Keys, "tracker")
	}
}

func TestReduce_UpdateRepointsKey(t *testing.T) {
	task := model.Task{
		ID:     "x",
		Fields: model.Fields{Title: "x"},
		Source: model.Source{Extension: "tracker", Keys: map[string]string{"tracker": "42", "vault": "/old.md"}},
	}
	state := Reduce(State{}, AddTask{Task: task}, envAt(d0))

	moved := state.Tasks[0].Clone()
	moved.Source.Keys = map[string]string{"vault": "/new.md"}
	state = Reduce(state, UpdateTask{Task: moved}, envAt(d1))

	require.Len(t, state.Tasks, 1)
	assert.Equal(t, map[string]string{"tracker": "42", "vault": "/new.md"}, state.Tasks[0].Source.Keys)
	assert.Equal(t, d1, state.Tasks[0].UpdatedAt)
	found, ok := state.FindByKey("vault", "/new.md")
	require.True(t, ok)
	assert.Equal(t, "x", found.ID)
}
