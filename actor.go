package braid

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ActorState is the occupancy of an actor. It changes independently of the
// actor's version history.
type ActorState uint8

const (
	ActorIdle ActorState = iota
	ActorLocked
	ActorOccupied
	ActorErrored
	ActorDecommissioned
)

func (s ActorState) String() string {
	switch s {
	case ActorIdle:
		return "IDLE"
	case ActorLocked:
		return "LOCKED"
	case ActorOccupied:
		return "OCCUPIED"
	case ActorErrored:
		return "ERRORED"
	case ActorDecommissioned:
		return "DECOMMISSIONED"
	default:
		return fmt.Sprintf("ActorState(%d)", s)
	}
}

// ParseActorState is the inverse of ActorState.String.
func ParseActorState(s string) (ActorState, error) {
	for x := ActorIdle; x <= ActorDecommissioned; x++ {
		if x.String() == s {
			return x, nil
		}
	}
	return 0, fmt.Errorf("unknown actor state %q", s)
}

// A Claim is a weak reference from an actor to the work holding it. A claim
// made by a handoff names only the sample; the event is filled in when the
// event is proposed.
type Claim struct {
	Sample SampleID
	Event  EventID
}

func (c Claim) IsZero() bool { return c == Claim{} }

// covers reports whether the held claim c admits a request for want.
func (c Claim) covers(want Claim) bool {
	if c.Sample != want.Sample {
		return false
	}
	return c.Event.IsZero() || c.Event == want.Event
}

// ActorVersion is one entry of an actor's append-only version history, e.g. a
// recalibration or a repair after a fault.
type ActorVersion struct {
	Version     int
	Timestamp   time.Time
	Description string
	ChangedBy   string
}

// An Actor is a physical device or container performing actions and
// measurements.
type Actor struct {
	ID        ActorID
	Schematic Schematic
	Params    map[string]any
	State     ActorState
	Claim     Claim  // Held while LOCKED or OCCUPIED; kept while ERRORED.
	Fault     string // Last reported fault, while ERRORED.
	Versions  []ActorVersion
	// Revision counts the transitions applied to the record. Stores keep the
	// record with the highest revision, so replayed transitions are harmless.
	Revision uint64
}

// Version returns the current version number of the actor.
func (a Actor) Version() int {
	if len(a.Versions) == 0 {
		return 0
	}
	return a.Versions[len(a.Versions)-1].Version
}

func (a Actor) clone() Actor {
	a.Params = maps.Clone(a.Params)
	a.Schematic.Tags = slices.Clone(a.Schematic.Tags)
	a.Versions = slices.Clone(a.Versions)
	return a
}

// ActorOp names the operation that caused an ActorTransition.
type ActorOp string

const (
	OpRegister     ActorOp = "register"
	OpReserve      ActorOp = "reserve"
	OpStart        ActorOp = "start"
	OpComplete     ActorOp = "complete"
	OpRelease      ActorOp = "release"
	OpFault        ActorOp = "fault"
	OpAcknowledge  ActorOp = "acknowledge"
	OpVersion      ActorOp = "version"
	OpDecommission ActorOp = "decommission"
)

// An ActorTransition records one change to an actor: its occupancy, its claim,
// or its version history. Actor holds the complete record after the change.
type ActorTransition struct {
	Op        ActorOp
	From      ActorState
	Actor     Actor
	Timestamp time.Time
}

// Actors is the registry of actors and the state machine governing their
// occupancy. Each actor is guarded by its own mutex; no operation locks more
// than one actor.
//
// Every transition is recorded through the registry's Journal before it takes
// effect, so a failed record leaves the actor unchanged.
type Actors struct {
	journal    Journal
	now        func() time.Time
	idleFaults bool

	mu    sync.RWMutex // guards slots, not the actors in it
	slots map[ActorID]*actorSlot
}

type actorSlot struct {
	mu    sync.Mutex
	actor Actor
}

func newActors(j Journal, now func() time.Time, idleFaults bool) *Actors {
	return &Actors{
		journal:    j,
		now:        now,
		idleFaults: idleFaults,
		slots:      make(map[ActorID]*actorSlot),
	}
}

// Register adds a new IDLE actor at version 1.
func (r *Actors) Register(ctx context.Context, p Payload) (Actor, error) {
	s, err := parseSchematic("actor", p.Schematic)
	if err != nil {
		return Actor{}, err
	}
	params, err := freeForm("actor", p.Params)
	if err != nil {
		return Actor{}, err
	}

	now := r.now()
	id := NewActorID()
	s.GlobalID = uuid.UUID(id)
	s.Timestamp = now
	s.Versionstamp = 1
	a := Actor{
		ID:        id,
		Schematic: s,
		Params:    params,
		State:     ActorIdle,
		Versions:  []ActorVersion{{Version: 1, Timestamp: now, Description: "initial version"}},
		Revision:  1,
	}

	if err := r.record(ctx, ActorTransition{Op: OpRegister, From: ActorIdle, Actor: a, Timestamp: now}); err != nil {
		return Actor{}, err
	}
	r.mu.Lock()
	r.slots[id] = &actorSlot{actor: a}
	r.mu.Unlock()
	component.Logger(ctx).Info("Actor registered", "actor.id", id, "actor.name", s.Name)
	return a.clone(), nil
}

// restore installs an actor loaded from a store, replacing any in-memory
// record with the same id.
func (r *Actors) restore(a Actor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[a.ID] = &actorSlot{actor: a.clone()}
}

// Get returns a copy of the actor's current record.
func (r *Actors) Get(id ActorID) (Actor, error) {
	slot, err := r.slot(id)
	if err != nil {
		return Actor{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.actor.clone(), nil
}

// List returns the ids of every registered actor in allocation order.
func (r *Actors) List() []ActorID {
	r.mu.RLock()
	ids := make([]ActorID, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	// v7 identifiers sort by allocation time
	slices.SortFunc(ids, func(a, b ActorID) int { return bytes.Compare(a[:], b[:]) })
	return ids
}

func (r *Actors) slot(id ActorID) (*actorSlot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.slots[id]
	if !ok {
		return nil, fmt.Errorf("actor %v: %w", id, ErrNotFound)
	}
	return slot, nil
}

// Reserve moves an IDLE actor to LOCKED on behalf of the claim. Reserving an
// actor already LOCKED by a covering claim succeeds and narrows the held claim
// to the requested one. Any other state fails with ActorUnavailableError.
func (r *Actors) Reserve(ctx context.Context, id ActorID, c Claim) (Actor, error) {
	a, _, _, err := r.reserve(ctx, id, c)
	return a, err
}

// reserve also returns the claim held before the call, and whether this call
// took the lock as opposed to finding it held by a covering claim.
func (r *Actors) reserve(ctx context.Context, id ActorID, c Claim) (Actor, Claim, bool, error) {
	var (
		prev Claim
		took bool
	)
	a, err := r.transition(ctx, id, OpReserve, func(x *Actor) (bool, error) {
		prev = x.Claim
		switch {
		case x.State == ActorIdle:
			x.State = ActorLocked
			x.Claim = c
			took = true
			return true, nil
		case x.State == ActorLocked && x.Claim.covers(c):
			if x.Claim == c {
				return false, nil
			}
			x.Claim = c
			return true, nil
		default:
			return false, unavailable(x, ActorLocked)
		}
	})
	return a, prev, took && err == nil, err
}

// unreserve undoes a reserve for claim c whose event never committed: the lock
// is released if that reserve took it, otherwise the claim widens back to prev.
// An actor no longer locked for c is left alone.
func (r *Actors) unreserve(ctx context.Context, id ActorID, c, prev Claim, took bool) (Actor, error) {
	op := OpReserve
	if took {
		op = OpRelease
	}
	return r.transition(ctx, id, op, func(a *Actor) (bool, error) {
		if a.State != ActorLocked || a.Claim != c {
			return false, unavailable(a, ActorLocked)
		}
		if took {
			a.State = ActorIdle
			a.Claim = Claim{}
		} else {
			a.Claim = prev
		}
		return true, nil
	})
}

// Start moves a LOCKED actor to OCCUPIED. The actor must be locked for the
// given event.
func (r *Actors) Start(ctx context.Context, id ActorID, event EventID) (Actor, error) {
	return r.transition(ctx, id, OpStart, func(a *Actor) (bool, error) {
		if a.State != ActorLocked || a.Claim.Event != event {
			return false, unavailable(a, ActorOccupied)
		}
		a.State = ActorOccupied
		return true, nil
	})
}

// Complete moves an OCCUPIED actor back to IDLE once the event it performs is
// done.
func (r *Actors) Complete(ctx context.Context, id ActorID, event EventID) (Actor, error) {
	return r.transition(ctx, id, OpComplete, func(a *Actor) (bool, error) {
		if a.State != ActorOccupied || a.Claim.Event != event {
			return false, unavailable(a, ActorIdle)
		}
		a.State = ActorIdle
		a.Claim = Claim{}
		return true, nil
	})
}

// Release moves a LOCKED or OCCUPIED actor back to IDLE regardless of its
// claim. It is the way to cancel a reservation.
func (r *Actors) Release(ctx context.Context, id ActorID) (Actor, error) {
	return r.release(ctx, id, func(Claim) bool { return true })
}

// releaseFor releases the actor only if it holds a claim for the sample. The
// claim is checked under the same lock that releases it.
func (r *Actors) releaseFor(ctx context.Context, id ActorID, sample SampleID) (Actor, error) {
	return r.release(ctx, id, func(c Claim) bool { return c.Sample == sample })
}

func (r *Actors) release(ctx context.Context, id ActorID, holds func(Claim) bool) (Actor, error) {
	return r.transition(ctx, id, OpRelease, func(a *Actor) (bool, error) {
		held := a.State == ActorLocked || a.State == ActorOccupied
		if !held || !holds(a.Claim) {
			return false, unavailable(a, ActorIdle)
		}
		a.State = ActorIdle
		a.Claim = Claim{}
		return true, nil
	})
}

// ReportError records a physical fault. LOCKED and OCCUPIED actors move to
// ERRORED; IDLE actors do so only when the registry allows idle faults.
func (r *Actors) ReportError(ctx context.Context, id ActorID, fault string) (Actor, error) {
	return r.transition(ctx, id, OpFault, func(a *Actor) (bool, error) {
		switch {
		case a.State == ActorLocked, a.State == ActorOccupied:
		case a.State == ActorIdle && r.idleFaults:
		default:
			return false, unavailable(a, ActorErrored)
		}
		a.State = ActorErrored
		a.Fault = fault
		return true, nil
	})
}

// Acknowledge clears a fault: the ERRORED actor returns to IDLE and a version
// record describing the repair is appended to its history.
func (r *Actors) Acknowledge(ctx context.Context, id ActorID, description, changedBy string) (Actor, error) {
	return r.transition(ctx, id, OpAcknowledge, func(a *Actor) (bool, error) {
		if a.State != ActorErrored {
			return false, unavailable(a, ActorIdle)
		}
		a.State = ActorIdle
		a.Claim = Claim{}
		if description == "" {
			description = "acknowledged fault: " + a.Fault
		}
		a.Fault = ""
		r.appendVersion(a, description, changedBy)
		return true, nil
	})
}

// AppendVersion records a new version of the actor without touching its
// occupancy, e.g. after a recalibration.
func (r *Actors) AppendVersion(ctx context.Context, id ActorID, description, changedBy string) (Actor, error) {
	return r.transition(ctx, id, OpVersion, func(a *Actor) (bool, error) {
		if a.State == ActorDecommissioned {
			return false, unavailable(a, a.State)
		}
		r.appendVersion(a, description, changedBy)
		return true, nil
	})
}

func (r *Actors) appendVersion(a *Actor, description, changedBy string) {
	now := r.now()
	a.Versions = append(a.Versions, ActorVersion{
		Version:     a.Version() + 1,
		Timestamp:   now,
		Description: description,
		ChangedBy:   changedBy,
	})
	a.Schematic.Versionstamp = uint64(a.Version())
}

// Decommission retires an IDLE actor permanently. Decommissioned actors keep
// their history but accept no further transitions.
func (r *Actors) Decommission(ctx context.Context, id ActorID) (Actor, error) {
	return r.transition(ctx, id, OpDecommission, func(a *Actor) (bool, error) {
		if a.State != ActorIdle {
			return false, unavailable(a, ActorDecommissioned)
		}
		a.State = ActorDecommissioned
		a.Schematic.Status = StatusCancelled
		return true, nil
	})
}

func unavailable(a *Actor, want ActorState) error {
	return &ActorUnavailableError{Actor: a.ID, State: a.State, Holder: a.Claim, Want: want}
}

// transition applies fn to a copy of the actor under the actor's lock. When fn
// reports a change, the new record is journaled and then installed.
func (r *Actors) transition(ctx context.Context, id ActorID, op ActorOp, fn func(a *Actor) (changed bool, err error)) (_ Actor, err error) {
	ctx, span := tracer.Start(ctx, "Actors."+string(op), trace.WithAttributes(
		attribute.Stringer("actor.id", id),
	))
	defer span.End()
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	slot, err := r.slot(id)
	if err != nil {
		return Actor{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	next := slot.actor.clone()
	from := next.State
	changed, err := fn(&next)
	if err != nil {
		return slot.actor.clone(), err
	}
	if !changed {
		return next, nil
	}
	next.Revision++

	t := ActorTransition{Op: op, From: from, Actor: next, Timestamp: r.now()}
	if err := r.record(ctx, t); err != nil {
		return slot.actor.clone(), err
	}
	slot.actor = next
	measureActorTransition(ctx, op, from, next.State)
	component.Logger(ctx).Debug("Actor transitioned",
		"actor.id", id,
		"actor.op", op,
		"actor.from", from,
		"actor.to", next.State,
	)
	return next.clone(), nil
}

func (r *Actors) record(ctx context.Context, t ActorTransition) error {
	if err := r.journal.RecordActor(ctx, t); err != nil {
		return fmt.Errorf("record actor %v: %w", t.Op, err)
	}
	return nil
}
