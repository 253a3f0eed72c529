package braid

import (
	"context"
	"fmt"
)

// A HandoffError reports which half of a handoff failed. When Released is
// true the first actor is already IDLE, and the caller decides whether to
// reserve it again.
type HandoffError struct {
	From, To ActorID
	Released bool
	Err      error
}

func (e *HandoffError) Error() string {
	if e.Released {
		return fmt.Sprintf("handoff %v -> %v: released %v, but reserving %v: %v", e.From, e.To, e.From, e.To, e.Err)
	}
	return fmt.Sprintf("handoff %v -> %v: releasing %v: %v", e.From, e.To, e.From, e.Err)
}

func (e *HandoffError) Unwrap() error { return e.Err }

// Handoff moves a sample from one actor to another: it releases from, provided
// from still holds a claim for the sample, then reserves to for the sample. The
// next event proposed for the sample on the receiving actor narrows the
// reservation to that event.
//
// The two halves lock one actor each and are not atomic. A concurrent
// reservation may take either actor in between, in which case the error
// reports what was done.
func (e *Engine) Handoff(ctx context.Context, from, to ActorID, sample SampleID) (Actor, error) {
	ctx, span := tracer.Start(ctx, "Engine.Handoff")
	defer span.End()

	if _, err := e.actors.releaseFor(ctx, from, sample); err != nil {
		return Actor{}, &HandoffError{From: from, To: to, Err: err}
	}
	got, err := e.actors.Reserve(ctx, to, Claim{Sample: sample})
	if err != nil {
		return Actor{}, &HandoffError{From: from, To: to, Released: true, Err: err}
	}
	return got, nil
}
