// Package events defines the closed set of notifications the engine publishes.
//
// Every event type implements Event.Accept, which calls the matching method of a Handler.
// Adding a new event type means adding a Handler method, so every subscriber that implements
// Handler directly fails to compile until it handles the new case.
package events

import (
	"sync"
	"time"
)

// Event is one engine notification.
type Event interface {
	Accept(h Handler)
}

// Handler receives events, one method per event type.
type Handler interface {
	SourceLoadStarted(SourceLoadStarted)
	SourceLoaded(SourceLoaded)
	SourceLoadFailed(SourceLoadFailed)
	TaskRemoved(TaskRemoved)
	StateCommitted(StateCommitted)
	CrossSourceSynced(CrossSourceSynced)
}

type SourceLoadStarted struct {
	SourceID string
}

type SourceLoaded struct {
	SourceID string
	Count    int
	At       time.Time
}

type SourceLoadFailed struct {
	SourceID string
	Err      error
}

type TaskRemoved struct {
	ID string
}

// StateCommitted is published after the store applied an action that changed the collection.
type StateCommitted struct {
	Version uint64
	Tasks   int
}

// CrossSourceSynced summarizes one cross-source pass.
type CrossSourceSynced struct {
	Entities int
	Failed   int
	Flagged  int
}

func (e SourceLoadStarted) Accept(h Handler) { h.SourceLoadStarted(e) }
func (e SourceLoaded) Accept(h Handler)      { h.SourceLoaded(e) }
func (e SourceLoadFailed) Accept(h Handler)  { h.SourceLoadFailed(e) }
func (e TaskRemoved) Accept(h Handler)       { h.TaskRemoved(e) }
func (e StateCommitted) Accept(h Handler)    { h.StateCommitted(e) }
func (e CrossSourceSynced) Accept(h Handler) { h.CrossSourceSynced(e) }

// Nop implements Handler with no-ops. Embed it to handle a subset of events.
type Nop struct{}

func (Nop) SourceLoadStarted(SourceLoadStarted) {}
func (Nop) SourceLoaded(SourceLoaded)           {}
func (Nop) SourceLoadFailed(SourceLoadFailed)   {}
func (Nop) TaskRemoved(TaskRemoved)             {}
func (Nop) StateCommitted(StateCommitted)       {}
func (Nop) CrossSourceSynced(CrossSourceSynced) {}

// Bus fans events out to subscribed handlers synchronously, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	order    []int
	next     int
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.order = append(b.order, id)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.handlers[id]; !ok {
			return
		}
		delete(b.handlers, id)
		for i, v := range b.order {
			if v == id {
				b.order = append(b.order[:i], b.order[i+1:]...)
				break
			}
		}
	}
}

// Publish delivers e to every current subscriber. A nil Bus drops the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()
	for _, h := range hs {
		e.Accept(h)
	}
}
