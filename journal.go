package braid

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
)

// Parameter values travel inside interfaces, so their concrete types must be
// known to gob before any Commit or Actor is encoded.
func init() {
	gob.Register(map[string]any{})
	gob.Register([]string{})
	gob.Register(time.Time{})
}

// A Journal durably records what the engine commits. The engine calls
// RecordCommit while holding the sample's lock and before the new snapshot
// becomes visible; it calls RecordActor while holding the actor's lock and
// before the transition takes effect. Returning an error aborts the mutation.
//
// Journals are called concurrently for different samples and actors.
// Implementations must accept a record they have already stored (a replayed
// notification, for example) without error.
type Journal interface {
	RecordCommit(ctx context.Context, c Commit) error
	RecordActor(ctx context.Context, t ActorTransition) error
}

// Latest selects the most recent snapshot in Store.LoadSample.
const Latest uint64 = math.MaxUint64

// A Store is a Journal that can serve what it recorded: immutable sample
// snapshots keyed by sample id and versionstamp, and the current record of
// each actor (whose version log is part of the record).
type Store interface {
	Journal
	// LoadSample returns the snapshot of the sample at the given versionstamp, or
	// at its newest one for Latest. Unknown samples and versions wrap ErrNotFound.
	LoadSample(ctx context.Context, id SampleID, versionstamp uint64) (*Sample, error)
	// LoadActor returns the actor's current record. Unknown actors wrap
	// ErrNotFound.
	LoadActor(ctx context.Context, id ActorID) (Actor, error)
}

// Discard is a Journal that records nothing. Engines use it unless configured
// otherwise.
var Discard Journal = discard{}

type discard struct{}

func (discard) RecordCommit(context.Context, Commit) error          { return nil }
func (discard) RecordActor(context.Context, ActorTransition) error { return nil }

// Tee returns a Journal that records to every given journal concurrently and
// fails if any of them fails. Journals that succeeded are not rolled back, so
// pair Tee with journals that tolerate replays.
func Tee(journals ...Journal) Journal {
	return tee(journals)
}

type tee []Journal

func (t tee) RecordCommit(ctx context.Context, c Commit) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range t {
		g.Go(func() error { return j.RecordCommit(ctx, c) })
	}
	return g.Wait()
}

func (t tee) RecordActor(ctx context.Context, a ActorTransition) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, j := range t {
		g.Go(func() error { return j.RecordActor(ctx, a) })
	}
	return g.Wait()
}

// MarshalCommit encodes a commit with gob, the format every bundled journal
// stores and transmits.
func MarshalCommit(c Commit) ([]byte, error) { return marshalGob(c) }

// UnmarshalCommit decodes the output of MarshalCommit.
func UnmarshalCommit(p []byte) (c Commit, err error) {
	err = unmarshalGob(p, &c)
	return c, err
}

// MarshalActor encodes an actor record with gob.
func MarshalActor(a Actor) ([]byte, error) { return marshalGob(a) }

// UnmarshalActor decodes the output of MarshalActor.
func UnmarshalActor(p []byte) (a Actor, err error) {
	err = unmarshalGob(p, &a)
	return a, err
}

func marshalGob(v any) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(v); err != nil {
		return nil, fmt.Errorf("encode gob: %w", err)
	}
	return b.Bytes(), nil
}

func unmarshalGob(p []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(p)).Decode(v); err != nil {
		return fmt.Errorf("decode gob: %w", err)
	}
	return nil
}
