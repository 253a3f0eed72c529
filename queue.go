package braid

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
)

// Work is a unit of pending work waiting for an actor.
type Work struct {
	Actor    ActorID
	Sample   SampleID
	Event    EventID // Optional pre-allocated event the work will be proposed as.
	Priority int     // Higher runs first.
	Note     string

	seq uint64
}

// A Queue orders pending work per actor: higher priority first, then first in
// first out. It only dispatches; claiming a work item reserves its actor, and
// the caller goes on to propose the event.
type Queue struct {
	actors *Actors

	mu    sync.Mutex
	items []Work
	seq   uint64
}

// NewQueue returns an empty queue dispatching to the engine's actors.
func (e *Engine) NewQueue() *Queue {
	return &Queue{actors: e.actors}
}

// Enqueue adds work for an actor. The actor must exist.
func (q *Queue) Enqueue(w Work) error {
	if _, err := q.actors.Get(w.Actor); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	if w.Sample.IsZero() {
		return fmt.Errorf("enqueue: work without a sample")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	w.seq = q.seq
	q.items = append(q.items, w)
	return nil
}

// Pending returns the queued work for an actor in dispatch order.
func (q *Queue) Pending(actor ActorID) []Work {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Work
	for _, w := range q.items {
		if w.Actor == actor {
			out = append(out, w)
		}
	}
	slices.SortFunc(out, compareWork)
	return out
}

// Ready returns the next work item of every IDLE actor, ordered by the same
// rule as a single actor's queue. It changes nothing.
func (q *Queue) Ready() []Work {
	q.mu.Lock()
	best := make(map[ActorID]Work)
	for _, w := range q.items {
		if b, ok := best[w.Actor]; !ok || compareWork(w, b) < 0 {
			best[w.Actor] = w
		}
	}
	q.mu.Unlock()

	var out []Work
	for id, w := range best {
		a, err := q.actors.Get(id)
		if err != nil || a.State != ActorIdle {
			continue
		}
		out = append(out, w)
	}
	slices.SortFunc(out, compareWork)
	return out
}

// Claim reserves the actor for its next work item and removes the item from
// the queue. The reservation names the item's event when one was
// pre-allocated, and only its sample otherwise.
func (q *Queue) Claim(ctx context.Context, actor ActorID) (Work, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := -1
	for j, w := range q.items {
		if w.Actor == actor && (i < 0 || compareWork(w, q.items[i]) < 0) {
			i = j
		}
	}
	if i < 0 {
		return Work{}, fmt.Errorf("claim: no work for actor %v: %w", actor, ErrNotFound)
	}
	w := q.items[i]
	if _, err := q.actors.Reserve(ctx, actor, Claim{Sample: w.Sample, Event: w.Event}); err != nil {
		return Work{}, fmt.Errorf("claim: %w", err)
	}
	q.items = slices.Delete(q.items, i, i+1)
	return w, nil
}

// Cancel drops every queued item for the sample and returns how many were
// dropped.
func (q *Queue) Cancel(sample SampleID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = slices.DeleteFunc(q.items, func(w Work) bool { return w.Sample == sample })
	return n - len(q.items)
}

func compareWork(a, b Work) int {
	if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}
