package braid

import (
	"errors"
	"fmt"
	"strings"
)

// The engine reports every rejected operation with one of these sentinel
// errors, wrapped in a typed error that carries the details. Match them with
// errors.Is; inspect the details with errors.As.
var (
	// ErrSchema indicates a payload is missing a mandatory field, holds a field of
	// the wrong semantic type, or holds a field its template does not declare.
	ErrSchema = errors.New("schema violation")
	// ErrGrammarViolation indicates a proposed edge is not allowed between the
	// types of its endpoints, or a fan-in rule would be broken.
	ErrGrammarViolation = errors.New("grammar violation")
	// ErrCycleDetected indicates the proposed edges would close a cycle.
	ErrCycleDetected = errors.New("cycle detected")
	// ErrActorUnavailable indicates an actor cannot take the requested
	// transition from its current occupancy.
	ErrActorUnavailable = errors.New("actor unavailable")
	// ErrStaleVersion indicates a proposal was computed against a versionstamp
	// that is no longer the sample's current one.
	ErrStaleVersion = errors.New("stale version")
	// ErrActorFault indicates the physical actor reported a fault and awaits an
	// explicit acknowledgement.
	ErrActorFault = errors.New("actor fault")
	// ErrNotFound indicates the referenced sample, event, actor, template, or
	// method does not exist.
	ErrNotFound = errors.New("not found")
	// ErrClosed indicates the sample was completed or cancelled and accepts no
	// further events.
	ErrClosed = errors.New("sample closed")
)

// A SchemaError describes why a payload failed validation.
type SchemaError struct {
	Entity string // "sample", "event", "actor", ...
	Field  string // Offending field, empty when the payload as a whole is rejected.
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema: %s: %s", e.Entity, e.Reason)
	}
	return fmt.Sprintf("schema: %s field %q: %s", e.Entity, e.Field, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// A GrammarError describes a proposed edge or draft that the event type grammar
// rejects.
type GrammarError struct {
	Source, Target EventType // Zero when the violation is not about a single edge.
	Reason         string
}

func (e *GrammarError) Error() string {
	if e.Source == 0 && e.Target == 0 {
		return "grammar violation: " + e.Reason
	}
	return fmt.Sprintf("grammar violation: %v -> %v: %s", e.Source, e.Target, e.Reason)
}

func (e *GrammarError) Unwrap() error { return ErrGrammarViolation }

// A CycleError carries a witness of the cycle a proposal would have closed.
// The path starts and ends with the same event.
type CycleError struct {
	Path []EventID
}

func (e *CycleError) Error() string {
	hops := make([]string, len(e.Path))
	for i, id := range e.Path {
		hops[i] = id.String()
	}
	return "cycle detected: " + strings.Join(hops, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// An ActorUnavailableError reports the occupancy that prevented a transition.
//
// When the actor is ERRORED, the error matches both ErrActorUnavailable and
// ErrActorFault.
type ActorUnavailableError struct {
	Actor  ActorID
	State  ActorState
	Holder Claim // The claim blocking the transition, if any.
	Want   ActorState
}

func (e *ActorUnavailableError) Error() string {
	msg := fmt.Sprintf("actor %v unavailable: cannot move from %v to %v", e.Actor, e.State, e.Want)
	if !e.Holder.IsZero() {
		msg += fmt.Sprintf(" (held by event %v of sample %v)", e.Holder.Event, e.Holder.Sample)
	}
	return msg
}

func (e *ActorUnavailableError) Unwrap() []error {
	if e.State == ActorErrored {
		return []error{ErrActorUnavailable, ErrActorFault}
	}
	return []error{ErrActorUnavailable}
}

// A StaleVersionError reports the versionstamp a proposal was based on and the
// one the sample had moved to.
type StaleVersionError struct {
	Sample  SampleID
	Read    uint64
	Current uint64
}

func (e *StaleVersionError) Error() string {
	return fmt.Sprintf("sample %v: proposal at versionstamp %d, current is %d", e.Sample, e.Read, e.Current)
}

func (e *StaleVersionError) Unwrap() error { return ErrStaleVersion }

// rejectionReason maps an engine error to a short label used on telemetry.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrGrammarViolation):
		return "grammar"
	case errors.Is(err, ErrCycleDetected):
		return "cycle"
	case errors.Is(err, ErrActorFault):
		return "actor_fault"
	case errors.Is(err, ErrActorUnavailable):
		return "actor_unavailable"
	case errors.Is(err, ErrStaleVersion):
		return "stale"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrClosed):
		return "closed"
	default:
		return "internal"
	}
}
