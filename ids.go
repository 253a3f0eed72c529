package braid

import (
	"fmt"

	"github.com/google/uuid"
)

// SampleID globally identifies a Sample. Identifiers are version 7 UUIDs, so
// they sort by the time they were allocated.
type SampleID uuid.UUID

// EventID globally identifies an Event across all samples.
type EventID uuid.UUID

// ActorID globally identifies an Actor.
type ActorID uuid.UUID

// NewSampleID allocates a fresh SampleID.
func NewSampleID() SampleID { return SampleID(newUUID()) }

// NewEventID allocates a fresh EventID.
func NewEventID() EventID { return EventID(newUUID()) }

// NewActorID allocates a fresh ActorID.
func NewActorID() ActorID { return ActorID(newUUID()) }

func newUUID() uuid.UUID {
	// NewV7 fails only when the system's random source fails, in which case no
	// identifier we could produce is trustworthy anyway.
	id, err := uuid.NewV7()
	if err != nil {
		panic(fmt.Sprintf("braid: allocate identifier: %v", err))
	}
	return id
}

func (id SampleID) String() string                   { return uuid.UUID(id).String() }
func (id SampleID) IsZero() bool                     { return id == SampleID{} }
func (id SampleID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id *SampleID) UnmarshalText(text []byte) error { return (*uuid.UUID)(id).UnmarshalText(text) }

func (id EventID) String() string                   { return uuid.UUID(id).String() }
func (id EventID) IsZero() bool                     { return id == EventID{} }
func (id EventID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id *EventID) UnmarshalText(text []byte) error { return (*uuid.UUID)(id).UnmarshalText(text) }

func (id ActorID) String() string                   { return uuid.UUID(id).String() }
func (id ActorID) IsZero() bool                     { return id == ActorID{} }
func (id ActorID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id *ActorID) UnmarshalText(text []byte) error { return (*uuid.UUID)(id).UnmarshalText(text) }

// ParseSampleID decodes the canonical textual form of a SampleID.
func ParseSampleID(s string) (SampleID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return SampleID{}, fmt.Errorf("parse sample id: %w", err)
	}
	return SampleID(id), nil
}

// ParseEventID decodes the canonical textual form of an EventID.
func ParseEventID(s string) (EventID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return EventID{}, fmt.Errorf("parse event id: %w", err)
	}
	return EventID(id), nil
}

// ParseActorID decodes the canonical textual form of an ActorID.
func ParseActorID(s string) (ActorID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ActorID{}, fmt.Errorf("parse actor id: %w", err)
	}
	return ActorID(id), nil
}
