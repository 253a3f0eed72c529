package storetest

import (
	"context"
	"fmt"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/go-digitaltwin/braid"
)

// A check is any function that returns unexpected problems with the state of
// the store.
type check func(ctx context.Context, w *world) (problem string)

// Checks that the latest snapshot served by the store is at the given
// versionstamp and describes the same graph as the engine's.
func latest(versionstamp uint64) check {
	return func(ctx context.Context, w *world) string {
		got, err := w.store.LoadSample(ctx, w.sample, braid.Latest)
		if err != nil {
			return fmt.Sprintf("LoadSample(Latest): %v", err)
		}
		if got.Versionstamp() != versionstamp {
			return fmt.Sprintf("LoadSample(Latest).Versionstamp() = %d, want %d", got.Versionstamp(), versionstamp)
		}
		want, err := w.engine.GetSample(w.sample)
		if err != nil {
			return fmt.Sprintf("GetSample: %v", err)
		}
		if got.Hash() != want.Hash() {
			// The hashes hide what differs, so show the events instead.
			diff := cmp.Diff(want.Events(), got.Events(), cmpopts.EquateEmpty())
			return fmt.Sprintf("LoadSample(Latest).Hash() = %v, want %v; events (-want +got):\n%v", got.Hash(), want.Hash(), diff)
		}
		return ""
	}
}

// Checks that every versionstamp the engine went through is still served, with
// its original content.
func versions() check {
	return func(ctx context.Context, w *world) string {
		for v, want := range w.hashes {
			got, err := w.store.LoadSample(ctx, w.sample, uint64(v))
			if err != nil {
				return fmt.Sprintf("LoadSample(%d): %v", v, err)
			}
			if got.Hash() != want {
				return fmt.Sprintf("LoadSample(%d).Hash() = %v, want %v", v, got.Hash(), want)
			}
		}
		return ""
	}
}

// Checks that the latest snapshot holds the named event with the engine's
// content.
func hasEvent(name string) check {
	return func(ctx context.Context, w *world) string {
		id, ok := w.events[name]
		if !ok {
			return fmt.Sprintf("test-case did not remember event %q", name)
		}
		s, err := w.store.LoadSample(ctx, w.sample, braid.Latest)
		if err != nil {
			return fmt.Sprintf("LoadSample(Latest): %v", err)
		}
		got, ok := s.Event(id)
		if !ok {
			return fmt.Sprintf("event %q not found", name)
		}
		cur, _ := w.engine.GetSample(w.sample)
		want, _ := cur.Event(id)
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			return fmt.Sprintf("event %q mismatch (-want +got):\n%v", name, diff)
		}
		return ""
	}
}

// Checks the number of edges in the latest snapshot.
func edges(n int) check {
	return func(ctx context.Context, w *world) string {
		s, err := w.store.LoadSample(ctx, w.sample, braid.Latest)
		if err != nil {
			return fmt.Sprintf("LoadSample(Latest): %v", err)
		}
		if got := len(s.Edges()); got != n {
			return fmt.Sprintf("len(Edges()) = %d, want %d", got, n)
		}
		return ""
	}
}

// Checks the occupancy of the suite's actor as served by the store.
func actorState(want braid.ActorState) check {
	return func(ctx context.Context, w *world) string {
		a, err := w.store.LoadActor(ctx, w.actor)
		if err != nil {
			return fmt.Sprintf("LoadActor: %v", err)
		}
		if a.State != want {
			return fmt.Sprintf("LoadActor().State = %v, want %v", a.State, want)
		}
		return ""
	}
}

func actorRevision(want uint64) check {
	return func(ctx context.Context, w *world) string {
		a, err := w.store.LoadActor(ctx, w.actor)
		if err != nil {
			return fmt.Sprintf("LoadActor: %v", err)
		}
		if a.Revision != want {
			return fmt.Sprintf("LoadActor().Revision = %d, want %d", a.Revision, want)
		}
		return ""
	}
}

// Checks the length of the version history of the suite's actor.
func actorVersions(n int) check {
	return func(ctx context.Context, w *world) string {
		a, err := w.store.LoadActor(ctx, w.actor)
		if err != nil {
			return fmt.Sprintf("LoadActor: %v", err)
		}
		if len(a.Versions) != n {
			return fmt.Sprintf("len(LoadActor().Versions) = %d, want %d", len(a.Versions), n)
		}
		if got := a.Version(); got != n {
			return fmt.Sprintf("LoadActor().Version() = %d, want %d", got, n)
		}
		return ""
	}
}
