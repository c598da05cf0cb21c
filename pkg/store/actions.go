package store

import (
	"github.com/harrisonrobin/taskmerge/pkg/model"
	"github.com/harrisonrobin/taskmerge/pkg/reconcile"
)

// ActionType tags an Action.
type ActionType string

const (
	TypeLoadSourceStart   ActionType = "LOAD_SOURCE_START"
	TypeLoadSourceSuccess ActionType = "LOAD_SOURCE_SUCCESS"
	TypeLoadSourceError   ActionType = "LOAD_SOURCE_ERROR"
	TypeAddTask           ActionType = "ADD_TASK"
	TypeUpdateTask        ActionType = "UPDATE_TASK"
	TypeRemoveTask        ActionType = "REMOVE_TASK"
	TypeUpsertTask        ActionType = "UPSERT_TASK"
	TypeRemoveByKey       ActionType = "REMOVE_BY_KEY"
)

// Action is a message the reducer knows how to apply. The set is closed: only the types in this
// file implement it.
type Action interface {
	Type() ActionType
	action()
}

type LoadSourceStart struct {
	SourceID string
}

type LoadSourceSuccess struct {
	SourceID   string
	Records    []model.Pending
	Reconciler reconcile.Reconciler
}

type LoadSourceError struct {
	SourceID string
	Err      error
}

type AddTask struct {
	Task model.Task
}

type UpdateTask struct {
	Task model.Task
}

type RemoveTask struct {
	ID string
}

// UpsertTask folds a single incremental change from a source.
type UpsertTask struct {
	SourceID   string
	Record     model.Pending
	Reconciler reconcile.Reconciler
}

// RemoveByKey removes the task a source knows under NaturalKey.
type RemoveByKey struct {
	SourceID   string
	NaturalKey string
}

func (LoadSourceStart) Type() ActionType   { return TypeLoadSourceStart }
func (LoadSourceSuccess) Type() ActionType { return TypeLoadSourceSuccess }
func (LoadSourceError) Type() ActionType   { return TypeLoadSourceError }
func (AddTask) Type() ActionType           { return TypeAddTask }
func (UpdateTask) Type() ActionType        { return TypeUpdateTask }
func (RemoveTask) Type() ActionType        { return TypeRemoveTask }
func (UpsertTask) Type() ActionType        { return TypeUpsertTask }
func (RemoveByKey) Type() ActionType       { return TypeRemoveByKey }

func (LoadSourceStart) action()   {}
func (LoadSourceSuccess) action() {}
func (LoadSourceError) action()   {}
func (AddTask) action()           {}
func (UpdateTask) action()        {}
func (RemoveTask) action()        {}
func (UpsertTask) action()        {}
func (RemoveByKey) action()       {}
