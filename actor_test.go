package braid

import (
	"context"
	"errors"
	"testing"
	"time"
)

// actorOp is one step of a scripted actor lifecycle.
type actorOp struct {
	name string
	do   func(ctx context.Context, r *Actors, id ActorID) (Actor, error)
	want ActorState // state after the step, whether it failed or not
	fail error      // nil when the step must succeed
}

var (
	sampleA = NewSampleID()
	eventA  = NewEventID()
	eventB  = NewEventID()
)

func reserve(c Claim) func(context.Context, *Actors, ActorID) (Actor, error) {
	return func(ctx context.Context, r *Actors, id ActorID) (Actor, error) { return r.Reserve(ctx, id, c) }
}

func start(e EventID) func(context.Context, *Actors, ActorID) (Actor, error) {
	return func(ctx context.Context, r *Actors, id ActorID) (Actor, error) { return r.Start(ctx, id, e) }
}

func complete(e EventID) func(context.Context, *Actors, ActorID) (Actor, error) {
	return func(ctx context.Context, r *Actors, id ActorID) (Actor, error) { return r.Complete(ctx, id, e) }
}

func release(ctx context.Context, r *Actors, id ActorID) (Actor, error) { return r.Release(ctx, id) }

func fault(ctx context.Context, r *Actors, id ActorID) (Actor, error) {
	return r.ReportError(ctx, id, "stirrer jammed")
}

func acknowledge(ctx context.Context, r *Actors, id ActorID) (Actor, error) {
	return r.Acknowledge(ctx, id, "", "operator")
}

func decommission(ctx context.Context, r *Actors, id ActorID) (Actor, error) {
	return r.Decommission(ctx, id)
}

func TestActors_stateMachine(t *testing.T) {
	var tests = []struct {
		name       string
		idleFaults bool
		ops        []actorOp
	}{
		{
			name: "HappyPath",
			ops: []actorOp{
				{name: "reserve", do: reserve(Claim{sampleA, eventA}), want: ActorLocked},
				{name: "start", do: start(eventA), want: ActorOccupied},
				{name: "complete", do: complete(eventA), want: ActorIdle},
			},
		},
		{
			name: "StartMismatchedEvent",
			ops: []actorOp{
				{name: "reserve", do: reserve(Claim{sampleA, eventA}), want: ActorLocked},
				{name: "start other", do: start(eventB), want: ActorLocked, fail: ErrActorUnavailable},
				{name: "start", do: start(eventA), want: ActorOccupied},
			},
		},
		{
			name: "DoubleReservation",
			ops: []actorOp{
				{name: "reserve", do: reserve(Claim{sampleA, eventA}), want: ActorLocked},
				{name: "reserve other", do: reserve(Claim{sampleA, eventB}), want: ActorLocked, fail: ErrActorUnavailable},
				{name: "reserve again", do: reserve(Claim{sampleA, eventA}), want: ActorLocked},
			},
		},
		{
			name: "SampleClaimNarrows",
			ops: []actorOp{
				{name: "reserve sample", do: reserve(Claim{Sample: sampleA}), want: ActorLocked},
				{name: "reserve event", do: reserve(Claim{sampleA, eventB}), want: ActorLocked},
				{name: "start", do: start(eventB), want: ActorOccupied},
			},
		},
		{
			name: "CancelReservation",
			ops: []actorOp{
				{name: "reserve", do: reserve(Claim{sampleA, eventA}), want: ActorLocked},
				{name: "release", do: release, want: ActorIdle},
				{name: "release idle", do: release, want: ActorIdle, fail: ErrActorUnavailable},
			},
		},
		{
			name: "CompleteBeforeStart",
			ops: []actorOp{
				{name: "reserve", do: reserve(Claim{sampleA, eventA}), want: ActorLocked},
				{name: "complete", do: complete(eventA), want: ActorLocked, fail: ErrActorUnavailable},
			},
		},
		{
			name: "FaultWhileOccupied",
			ops: []actorOp{
				{name: "reserve", do: reserve(Claim{sampleA, eventA}), want: ActorLocked},
				{name: "start", do: start(eventA), want: ActorOccupied},
				{name: "fault", do: fault, want: ActorErrored},
				{name: "complete", do: complete(eventA), want: ActorErrored, fail: ErrActorFault},
				{name: "release", do: release, want: ActorErrored, fail: ErrActorFault},
				{name: "reserve", do: reserve(Claim{sampleA, eventB}), want: ActorErrored, fail: ErrActorFault},
				{name: "acknowledge", do: acknowledge, want: ActorIdle},
				{name: "acknowledge again", do: acknowledge, want: ActorIdle, fail: ErrActorUnavailable},
			},
		},
		{
			name: "FaultWhileLocked",
			ops: []actorOp{
				{name: "reserve", do: reserve(Claim{sampleA, eventA}), want: ActorLocked},
				{name: "fault", do: fault, want: ActorErrored},
				{name: "acknowledge", do: acknowledge, want: ActorIdle},
			},
		},
		{
			name: "IdleFaultRefused",
			ops: []actorOp{
				{name: "fault", do: fault, want: ActorIdle, fail: ErrActorUnavailable},
			},
		},
		{
			name:       "IdleFaultAllowed",
			idleFaults: true,
			ops: []actorOp{
				{name: "fault", do: fault, want: ActorErrored},
				{name: "acknowledge", do: acknowledge, want: ActorIdle},
			},
		},
		{
			name: "Decommission",
			ops: []actorOp{
				{name: "decommission", do: decommission, want: ActorDecommissioned},
				{name: "reserve", do: reserve(Claim{sampleA, eventA}), want: ActorDecommissioned, fail: ErrActorUnavailable},
			},
		},
		{
			name: "DecommissionBusy",
			ops: []actorOp{
				{name: "reserve", do: reserve(Claim{sampleA, eventA}), want: ActorLocked},
				{name: "decommission", do: decommission, want: ActorLocked, fail: ErrActorUnavailable},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			r := newActors(Discard, time.Now, tt.idleFaults)
			a, err := r.Register(ctx, Named("Mixer-1"))
			if err != nil {
				t.Fatal("Register() error =", err)
			}
			for _, op := range tt.ops {
				got, err := op.do(ctx, r, a.ID)
				switch {
				case op.fail == nil && err != nil:
					t.Fatalf("%s: unexpected error: %v", op.name, err)
				case op.fail != nil && !errors.Is(err, op.fail):
					t.Fatalf("%s: error = %v, want %v", op.name, err, op.fail)
				}
				if got.State != op.want {
					t.Fatalf("%s: state = %v, want %v", op.name, got.State, op.want)
				}
			}
		})
	}
}

func TestActors_versionHistory(t *testing.T) {
	ctx := context.Background()
	var recorded []ActorTransition
	r := newActors(journalFunc{actor: func(_ context.Context, t ActorTransition) error {
		recorded = append(recorded, t)
		return nil
	}}, time.Now, false)

	a, err := r.Register(ctx, Named("Furnace-1"))
	if err != nil {
		t.Fatal(err)
	}
	if a.Version() != 1 || a.Revision != 1 {
		t.Fatalf("Registered actor at version %d revision %d, want 1 and 1", a.Version(), a.Revision)
	}

	// Recalibration changes the version, never the occupancy.
	if _, err := r.Reserve(ctx, a.ID, Claim{sampleA, eventA}); err != nil {
		t.Fatal(err)
	}
	a, err = r.AppendVersion(ctx, a.ID, "recalibrated thermocouple", "technician")
	if err != nil {
		t.Fatal("AppendVersion() error =", err)
	}
	if a.State != ActorLocked || a.Version() != 2 {
		t.Errorf("After recalibration: %v at version %d, want %v at 2", a.State, a.Version(), ActorLocked)
	}

	if _, err := r.ReportError(ctx, a.ID, "overheated"); err != nil {
		t.Fatal(err)
	}
	a, err = r.Acknowledge(ctx, a.ID, "", "operator")
	if err != nil {
		t.Fatal(err)
	}
	last := a.Versions[len(a.Versions)-1]
	if a.Version() != 3 || last.Description != "acknowledged fault: overheated" || last.ChangedBy != "operator" {
		t.Errorf("Acknowledgement appended %+v at version %d", last, a.Version())
	}
	if a.Fault != "" || !a.Claim.IsZero() {
		t.Errorf("Acknowledged actor kept fault %q and claim %v", a.Fault, a.Claim)
	}

	ops := make([]ActorOp, len(recorded))
	for i, tr := range recorded {
		ops[i] = tr.Op
	}
	want := []ActorOp{OpRegister, OpReserve, OpVersion, OpFault, OpAcknowledge}
	if len(ops) != len(want) {
		t.Fatalf("Recorded %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Errorf("Transition %d recorded %v, want %v", i, ops[i], want[i])
		}
		if recorded[i].Actor.Revision != uint64(i+1) {
			t.Errorf("Transition %d carries revision %d, want %d", i, recorded[i].Actor.Revision, i+1)
		}
	}
}

func TestActors_journalRefusal(t *testing.T) {
	ctx := context.Background()
	refuse := false
	boom := errors.New("journal offline")
	r := newActors(journalFunc{actor: func(context.Context, ActorTransition) error {
		if refuse {
			return boom
		}
		return nil
	}}, time.Now, false)

	a, err := r.Register(ctx, Named("Mixer-1"))
	if err != nil {
		t.Fatal(err)
	}
	refuse = true
	if _, err := r.Reserve(ctx, a.ID, Claim{sampleA, eventA}); !errors.Is(err, boom) {
		t.Fatalf("Reserve() error = %v, want %v", err, boom)
	}
	got, _ := r.Get(a.ID)
	if got.State != ActorIdle || got.Revision != 1 {
		t.Errorf("Refused transition took effect: %v at revision %d", got.State, got.Revision)
	}
}

func TestActors_List(t *testing.T) {
	ctx := context.Background()
	r := newActors(Discard, time.Now, false)
	var want []ActorID
	for _, name := range []string{"Mixer-1", "Mixer-2", "Furnace-1"} {
		a, err := r.Register(ctx, Named(name))
		if err != nil {
			t.Fatal(err)
		}
		want = append(want, a.ID)
	}
	got := r.List()
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestActorState_parse(t *testing.T) {
	for s := ActorIdle; s <= ActorDecommissioned; s++ {
		got, err := ParseActorState(s.String())
		if err != nil || got != s {
			t.Errorf("ParseActorState(%q) = %v, %v", s.String(), got, err)
		}
	}
	if _, err := ParseActorState("BUSY"); err == nil {
		t.Error("ParseActorState(\"BUSY\") succeeded, want error")
	}
}

// journalFunc adapts functions to a Journal; nil functions record nothing.
type journalFunc struct {
	commit func(context.Context, Commit) error
	actor  func(context.Context, ActorTransition) error
}

func (j journalFunc) RecordCommit(ctx context.Context, c Commit) error {
	if j.commit == nil {
		return nil
	}
	return j.commit(ctx, c)
}

func (j journalFunc) RecordActor(ctx context.Context, t ActorTransition) error {
	if j.actor == nil {
		return nil
	}
	return j.actor(ctx, t)
}
