/*
Package storetest provides a suite of tests designed to assess implementations
of braid.Store (e.g. in-memory, SQLite, Neo4j).

The suite drives a braid.Engine journaling into the tested store, and checks
that the store serves back exactly what the engine committed. Call
storetest.Run in its own test to invoke the test-suite:

	func TestStore(t *testing.T) {
		store := memstore.New()
		storetest.Run(t, store)
	}

The test cases share one engine and one store, and run in order; each case
builds on the state the previous cases left behind. Stores are encouraged to
perform additional tests specific to their backing storage.
*/
package storetest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/go-digitaltwin/braid"
)

// The fixture shared by all test-cases of a single run.
type world struct {
	engine   *braid.Engine
	store    braid.Store
	recorder *recorder

	sample braid.SampleID
	actor  braid.ActorID
	events map[string]braid.EventID // by event name
	hashes []braid.SampleHash       // by versionstamp
}

type testCase struct {
	// Subtest name.
	name string
	// A path leading to the test-case's file and line in the source code.
	location string
	// An action executes a single operation against the engine or the store.
	action func(ctx context.Context, w *world) error
	// A list of checks to run once the action succeeded.
	checks []check
}

var cases = []testCase{
	{
		name:     "create-sample",
		location: locateSource(),
		action: func(ctx context.Context, w *world) error {
			s, err := w.engine.CreateSample(ctx, braid.Named("Slurry batch"))
			if err != nil {
				return err
			}
			w.sample = s.ID()
			w.hashes = append(w.hashes, s.Hash())
			return nil
		},
		checks: []check{
			latest(0),
			versions(),
		},
	},
	{
		name:     "register-actor",
		location: locateSource(),
		action: func(ctx context.Context, w *world) error {
			a, err := w.engine.RegisterActor(ctx, braid.Named("Mixer-1"))
			if err != nil {
				return err
			}
			w.actor = a.ID
			return nil
		},
		checks: []check{
			actorState(braid.ActorIdle),
		},
	},
	{
		name:     "append-material",
		location: locateSource(),
		action: func(ctx context.Context, w *world) error {
			return w.propose(ctx, "powder", braid.Proposal{
				Draft: braid.Draft{Type: braid.Material, Payload: braid.Named("powder")},
			})
		},
		checks: []check{
			latest(1),
			versions(),
			hasEvent("powder"),
		},
	},
	{
		name:     "append-action-with-material",
		location: locateSource(),
		action: func(ctx context.Context, w *world) error {
			return w.propose(ctx, "mix", braid.Proposal{
				Draft: braid.Draft{
					Type:     braid.Action,
					Subtype:  "mix",
					Actor:    w.actor,
					Payload:  braid.Named("mix"),
					Produces: []braid.Draft{{Type: braid.Material, Payload: braid.Named("slurry")}},
				},
				Incoming: []braid.EdgeRef{{Event: w.events["powder"], Ingredient: braid.WholeIngredient()}},
			})
		},
		checks: []check{
			latest(2),
			versions(),
			hasEvent("mix"),
			edges(2),
			actorState(braid.ActorOccupied),
		},
	},
	{
		name:     "complete-action",
		location: locateSource(),
		action: func(ctx context.Context, w *world) error {
			_, err := w.engine.CompleteEvent(ctx, w.events["mix"])
			return err
		},
		checks: []check{
			actorState(braid.ActorIdle),
			actorRevision(4), // register, reserve, start, complete
		},
	},
	{
		name:     "replay-commits",
		location: locateSource(),
		action: func(ctx context.Context, w *world) error {
			for _, c := range w.recorder.commits() {
				if err := w.store.RecordCommit(ctx, c); err != nil {
					return fmt.Errorf("replay versionstamp %d: %w", c.Versionstamp, err)
				}
			}
			return nil
		},
		checks: []check{
			latest(2),
			versions(),
		},
	},
	{
		name:     "replay-actor-transitions",
		location: locateSource(),
		action: func(ctx context.Context, w *world) error {
			for _, t := range w.recorder.transitions() {
				if err := w.store.RecordActor(ctx, t); err != nil {
					return fmt.Errorf("replay %v: %w", t.Op, err)
				}
			}
			return nil
		},
		checks: []check{
			actorState(braid.ActorIdle),
			actorRevision(4),
		},
	},
	{
		name:     "amend-event",
		location: locateSource(),
		action: func(ctx context.Context, w *world) error {
			done := braid.StatusCompleted
			v, err := w.engine.AmendEvent(ctx, w.sample, uint64(len(w.hashes)-1), w.events["mix"], braid.Amendment{
				Status: &done,
				Tags:   []string{"reviewed"},
			})
			if err != nil {
				return err
			}
			return w.remember(v)
		},
		checks: []check{
			latest(3),
			versions(),
		},
	},
	{
		name:     "complete-sample",
		location: locateSource(),
		action: func(ctx context.Context, w *world) error {
			v, err := w.engine.SetSampleStatus(ctx, w.sample, uint64(len(w.hashes)-1), braid.StatusCompleted)
			if err != nil {
				return err
			}
			return w.remember(v)
		},
		checks: []check{
			latest(4),
			versions(),
		},
	},
	{
		name:     "fault-and-acknowledge",
		location: locateSource(),
		action: func(ctx context.Context, w *world) error {
			if _, err := w.engine.ReserveActor(ctx, w.actor, braid.Claim{Sample: w.sample}); err != nil {
				return err
			}
			if _, err := w.engine.ReportActorError(ctx, w.actor, "motor stalled"); err != nil {
				return err
			}
			_, err := w.engine.AcknowledgeActor(ctx, w.actor, "replaced motor", "technician")
			return err
		},
		checks: []check{
			actorState(braid.ActorIdle),
			actorVersions(2),
		},
	},
	{
		name:     "restore-engine",
		location: locateSource(),
		action: func(ctx context.Context, w *world) error {
			fresh := braid.NewEngine()
			s, err := fresh.Restore(ctx, w.store, w.sample)
			if err != nil {
				return err
			}
			if got, want := s.Hash(), w.hashes[len(w.hashes)-1]; got != want {
				return fmt.Errorf("restored %v, want %v", got, want)
			}
			a, err := fresh.RestoreActor(ctx, w.store, w.actor)
			if err != nil {
				return err
			}
			if a.State != braid.ActorIdle {
				return fmt.Errorf("restored actor is %v, want %v", a.State, braid.ActorIdle)
			}
			return nil
		},
	},
	{
		name:     "unknown-sample",
		location: locateSource(),
		action: func(ctx context.Context, w *world) error {
			_, err := w.store.LoadSample(ctx, braid.NewSampleID(), braid.Latest)
			if !errors.Is(err, braid.ErrNotFound) {
				return fmt.Errorf("LoadSample(unknown) error = %v, want %v", err, braid.ErrNotFound)
			}
			_, err = w.store.LoadSample(ctx, w.sample, uint64(len(w.hashes)))
			if !errors.Is(err, braid.ErrNotFound) {
				return fmt.Errorf("LoadSample(future version) error = %v, want %v", err, braid.ErrNotFound)
			}
			_, err = w.store.LoadActor(ctx, braid.NewActorID())
			if !errors.Is(err, braid.ErrNotFound) {
				return fmt.Errorf("LoadActor(unknown) error = %v, want %v", err, braid.ErrNotFound)
			}
			return nil
		},
	},
}

// Run executes the test-suite against the given store, which must be empty.
func Run(t *testing.T, store braid.Store) {
	rec := new(recorder)
	w := &world{
		store:    store,
		recorder: rec,
		engine:   braid.NewEngine(braid.WithJournal(braid.Tee(store, rec))),
		events:   make(map[string]braid.EventID),
	}

	ctx := context.Background()
	for _, c := range cases {
		// The cases depend on one another, so the first failure stops the suite
		// rather than cascading into unrelated failures.
		if err := c.action(ctx, w); err != nil {
			t.Logf("Read the source for test-case %v at %v", c.name, c.location)
			t.Fatalf("Action of %v failed: %v", c.name, err)
		}
		for _, check := range c.checks {
			if problem := check(ctx, w); problem != "" {
				t.Logf("Read the source for test-case %v at %v", c.name, c.location)
				t.Errorf("Check %v: %v", c.name, problem)
			}
		}
	}
}

func (w *world) propose(ctx context.Context, name string, p braid.Proposal) error {
	p.Sample = w.sample
	p.Versionstamp = uint64(len(w.hashes) - 1)
	res, err := w.engine.ProposeEvent(ctx, p)
	if err != nil {
		return err
	}
	w.events[name] = res.Event
	return w.remember(res.Versionstamp)
}

// remember records the hash of the engine's current snapshot, which must be at
// the given versionstamp.
func (w *world) remember(versionstamp uint64) error {
	s, err := w.engine.GetSample(w.sample)
	if err != nil {
		return err
	}
	if s.Versionstamp() != versionstamp {
		return fmt.Errorf("engine at versionstamp %d, want %d", s.Versionstamp(), versionstamp)
	}
	w.hashes = append(w.hashes, s.Hash())
	return nil
}

// A recorder is a Journal remembering everything it was given, so that the
// suite can replay it.
type recorder struct {
	mu sync.Mutex
	c  []braid.Commit
	t  []braid.ActorTransition
}

func (r *recorder) RecordCommit(_ context.Context, c braid.Commit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.c = append(r.c, c)
	return nil
}

func (r *recorder) RecordActor(_ context.Context, t braid.ActorTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.t = append(r.t, t)
	return nil
}

func (r *recorder) commits() []braid.Commit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]braid.Commit(nil), r.c...)
}

func (r *recorder) transitions() []braid.ActorTransition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]braid.ActorTransition(nil), r.t...)
}

// Call this function to set the location of every test-case in the source file.
// The returned string is used to guide developers of stores to the appropriate
// test-case.
func locateSource() (path string) {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		panic("runtime.Caller failed")
	}
	return fmt.Sprintf("%v:%v", file, line)
}
