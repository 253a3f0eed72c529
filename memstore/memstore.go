// Package memstore implements an in-memory braid.Store.
//
// It keeps every snapshot of every sample it has been given, which makes it
// suitable for tests and for short-lived read replicas fed by braid.Replicate.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-digitaltwin/braid"
)

// Store is an in-memory braid.Store. The zero value is not usable; call New.
type Store struct {
	mu        sync.RWMutex
	snapshots map[braid.SampleID][]*braid.Sample // indexed by versionstamp
	commits   map[braid.SampleID][]braid.Commit
	actors    map[braid.ActorID]braid.Actor
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		snapshots: make(map[braid.SampleID][]*braid.Sample),
		commits:   make(map[braid.SampleID][]braid.Commit),
		actors:    make(map[braid.ActorID]braid.Actor),
	}
}

// RecordCommit applies the commit on top of the stored history. A commit the
// store already holds is accepted if its hash matches; a commit that skips a
// versionstamp is rejected.
func (s *Store) RecordCommit(_ context.Context, c braid.Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.snapshots[c.Sample]
	switch v := c.Versionstamp; {
	case v < uint64(len(history)):
		if got := history[v].Hash(); got != c.Hash {
			return fmt.Errorf("sample %v at versionstamp %d: recorded %v, replayed %v", c.Sample, v, got, c.Hash)
		}
		return nil
	case v > uint64(len(history)):
		return fmt.Errorf("sample %v: commit at versionstamp %d, want %d", c.Sample, v, len(history))
	}

	var (
		next *braid.Sample
		err  error
	)
	if len(history) == 0 {
		next, err = braid.Rebuild([]braid.Commit{c})
	} else {
		next, err = history[len(history)-1].Apply(c)
	}
	if err != nil {
		return fmt.Errorf("apply commit: %w", err)
	}
	s.snapshots[c.Sample] = append(history, next)
	s.commits[c.Sample] = append(s.commits[c.Sample], c)
	return nil
}

// RecordActor keeps the transitioned record unless the store already holds a
// newer revision of the actor.
func (s *Store) RecordActor(_ context.Context, t braid.ActorTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.actors[t.Actor.ID]; ok && cur.Revision >= t.Actor.Revision {
		return nil
	}
	s.actors[t.Actor.ID] = t.Actor
	return nil
}

func (s *Store) LoadSample(_ context.Context, id braid.SampleID, versionstamp uint64) (*braid.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.snapshots[id]
	if len(history) == 0 {
		return nil, fmt.Errorf("sample %v: %w", id, braid.ErrNotFound)
	}
	if versionstamp == braid.Latest {
		return history[len(history)-1], nil
	}
	if versionstamp >= uint64(len(history)) {
		return nil, fmt.Errorf("sample %v at versionstamp %d: %w", id, versionstamp, braid.ErrNotFound)
	}
	return history[versionstamp], nil
}

func (s *Store) LoadActor(_ context.Context, id braid.ActorID) (braid.Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.actors[id]
	if !ok {
		return braid.Actor{}, fmt.Errorf("actor %v: %w", id, braid.ErrNotFound)
	}
	return a, nil
}

// Commits returns the recorded history of a sample in versionstamp order.
func (s *Store) Commits(id braid.SampleID) []braid.Commit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]braid.Commit(nil), s.commits[id]...)
}

// Samples returns the ids of every sample the store holds.
func (s *Store) Samples() []braid.SampleID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]braid.SampleID, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	return ids
}
