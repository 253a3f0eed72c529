package braid

import (
	"fmt"
	"strings"
)

// EventType classifies every event in a sample graph.
type EventType uint8

const (
	// Material is a physical substance: a starting reagent or the product of an
	// Action.
	Material EventType = iota + 1
	// Action transforms materials into exactly one new Material using an actor.
	Action
	// Measurement observes materials using an actor.
	Measurement
	// Analysis interprets measurements or other analyses using an
	// AnalysisMethod.
	Analysis
)

var eventTypeNames = [...]string{
	Material:    "Material",
	Action:      "Action",
	Measurement: "Measurement",
	Analysis:    "Analysis",
}

func (t EventType) valid() bool { return t >= Material && t <= Analysis }

func (t EventType) String() string {
	if !t.valid() {
		return fmt.Sprintf("EventType(%d)", t)
	}
	return eventTypeNames[t]
}

// MarshalText encodes the zero EventType, which unpinned template refs carry,
// as empty text.
func (t EventType) MarshalText() ([]byte, error) {
	if t == 0 {
		return []byte{}, nil
	}
	if !t.valid() {
		return nil, fmt.Errorf("invalid event type %d", t)
	}
	return []byte(eventTypeNames[t]), nil
}

func (t *EventType) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*t = 0
		return nil
	}
	x, err := ParseEventType(string(text))
	if err != nil {
		return err
	}
	*t = x
	return nil
}

// ParseEventType maps a case-insensitive name onto its EventType.
func ParseEventType(s string) (EventType, error) {
	for t := Material; t <= Analysis; t++ {
		if strings.EqualFold(eventTypeNames[t], s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown event type %q", s)
}

// requiresActor reports whether events of this type are performed by an actor.
func (t EventType) requiresActor() bool { return t == Action || t == Measurement }

// EdgeKind names the relationship an edge expresses. It is fully determined by
// the types of its endpoints.
type EdgeKind uint8

const (
	// Produced links an Action to the Material it made.
	Produced EdgeKind = iota + 1
	// Consumed links a Material to the Action or Measurement that used it.
	Consumed
	// Analyzed links a Measurement or Analysis to the Analysis interpreting it.
	Analyzed
)

func (k EdgeKind) String() string {
	switch k {
	case Produced:
		return "produced"
	case Consumed:
		return "consumed"
	case Analyzed:
		return "analyzed"
	default:
		return fmt.Sprintf("EdgeKind(%d)", k)
	}
}

// ParseEdgeKind is the inverse of EdgeKind.String.
func ParseEdgeKind(s string) (EdgeKind, error) {
	for k := Produced; k <= Analyzed; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown edge kind %q", s)
}

// Direction selects which endpoint of CanConnect is upstream.
type Direction uint8

const (
	// Forward asks whether source may feed target.
	Forward Direction = iota
	// Backward asks whether target may feed source.
	Backward
)

// The complete rule table; every pair absent from it is disallowed.
var grammar = [Analysis + 1][Analysis + 1]EdgeKind{
	Action:      {Material: Produced},
	Material:    {Action: Consumed, Measurement: Consumed},
	Measurement: {Analysis: Analyzed},
	Analysis:    {Analysis: Analyzed},
}

// CanConnect reports whether the grammar allows a directed edge between events
// of the given types.
func CanConnect(source, target EventType, dir Direction) bool {
	_, ok := connect(source, target, dir)
	return ok
}

func connect(source, target EventType, dir Direction) (EdgeKind, bool) {
	if !source.valid() || !target.valid() {
		return 0, false
	}
	if dir == Backward {
		source, target = target, source
	}
	k := grammar[source][target]
	return k, k != 0
}

// Fan-in limits per target type; zero means unbounded.
func maxFanIn(t EventType) int {
	if t == Material {
		// A material has at most one producing action.
		return 1
	}
	return 0
}

// checkDraftShape verifies the rules a draft must satisfy on its own, before
// its edges are resolved against the sample.
func checkDraftShape(d Draft) error {
	if !d.Type.valid() {
		return &GrammarError{Reason: fmt.Sprintf("unknown event type %d", d.Type)}
	}
	if d.Type.requiresActor() && d.Actor.IsZero() {
		return &GrammarError{Reason: fmt.Sprintf("%v requires an actor", d.Type)}
	}
	if !d.Type.requiresActor() && !d.Actor.IsZero() {
		return &GrammarError{Reason: fmt.Sprintf("%v cannot be performed by an actor", d.Type)}
	}
	if d.Type != Analysis && d.Method.ID != "" {
		return &GrammarError{Reason: fmt.Sprintf("%v cannot reference an analysis method", d.Type)}
	}
	if d.Type == Analysis && d.Method.ID == "" {
		return &GrammarError{Reason: "Analysis requires an analysis method"}
	}
	if d.Type != Action && len(d.Produces) > 0 {
		return &GrammarError{Reason: fmt.Sprintf("only an Action produces materials, not %v", d.Type)}
	}
	for _, p := range d.Produces {
		if p.Type != Material {
			return &GrammarError{Source: Action, Target: p.Type, Reason: "an Action produces only a Material"}
		}
		if len(p.Produces) > 0 || !p.Actor.IsZero() || p.Method.ID != "" {
			return &GrammarError{Source: Action, Target: Material, Reason: "a produced material is a plain Material draft"}
		}
	}
	return nil
}
