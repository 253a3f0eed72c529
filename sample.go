package braid

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// An Event is an immutable vertex of a sample graph. Only the status and tags
// of its schematic may be amended after commit.
type Event struct {
	ID        EventID
	Sample    SampleID
	Type      EventType
	Subtype   string
	Schematic Schematic
	Params    map[string]any
	Template  TemplateRef
	Method    MethodRef // Analysis only.
	Actor     ActorID   // Action and Measurement only.
}

// Position returns the event's global position within its sample.
func (e Event) Position() int64 { return e.Schematic.GlobalPosition }

func (e Event) String() string {
	return fmt.Sprintf("%v(%s#%d)", e.Type, e.Schematic.Name, e.Schematic.GlobalPosition)
}

func (e Event) clone() Event {
	e.Params = maps.Clone(e.Params)
	e.Schematic.Tags = slices.Clone(e.Schematic.Tags)
	return e
}

// Ingredient quantifies how much of a material an action consumed.
type Ingredient struct {
	Amount float64
	Unit   string
}

// WholeIngredient describes consuming all of a material.
func WholeIngredient() *Ingredient { return &Ingredient{Amount: 100, Unit: "%"} }

func (i Ingredient) String() string { return fmt.Sprintf("%g%s", i.Amount, i.Unit) }

// An Edge is a directed, typed relationship between two events of a sample.
type Edge struct {
	From       EventID
	To         EventID
	Kind       EdgeKind
	Ingredient *Ingredient // Consumed edges only, optional.
}

// CommitKind classifies the mutation a Commit records.
type CommitKind uint8

const (
	// CommitCreate introduces a new, empty sample at versionstamp 0.
	CommitCreate CommitKind = iota + 1
	// CommitAppend adds events and edges.
	CommitAppend
	// CommitAmend replaces the status or tags of existing events.
	CommitAmend
	// CommitStatus replaces the sample's own schematic status or tags.
	CommitStatus
)

func (k CommitKind) String() string {
	switch k {
	case CommitCreate:
		return "create"
	case CommitAppend:
		return "append"
	case CommitAmend:
		return "amend"
	case CommitStatus:
		return "status"
	default:
		return fmt.Sprintf("CommitKind(%d)", k)
	}
}

// A Commit is the unit of change of a sample graph: everything that moved the
// sample from Versionstamp-1 to Versionstamp. Replaying a sample's commits in
// order with Rebuild reproduces the sample exactly.
type Commit struct {
	Kind         CommitKind
	Sample       SampleID
	Versionstamp uint64
	Timestamp    time.Time
	Schematic    Schematic      // The sample's schematic after this commit.
	Params       map[string]any // CommitCreate only.
	Events       []Event        // Appended events, or amended events in full.
	Edges        []Edge
	Hash         SampleHash // Hash of the resulting sample.
}

// A Sample is an immutable snapshot of one sample graph at one versionstamp.
// Snapshots are safe to share between goroutines; the engine publishes a new
// snapshot for every committed mutation.
//
// Do not modify the values returned from its methods.
type Sample struct {
	id        SampleID
	schematic Schematic
	params    map[string]any
	events    []Event // ordered by global position
	edges     []Edge  // ordered by commit
	hash      SampleHash

	index map[EventID]int
	out   map[EventID][]int // indexes into edges
	in    map[EventID][]int
}

func (s *Sample) ID() SampleID           { return s.id }
func (s *Sample) Versionstamp() uint64   { return s.schematic.Versionstamp }
func (s *Sample) Schematic() Schematic   { return s.schematic }
func (s *Sample) Params() map[string]any { return s.params }
func (s *Sample) Hash() SampleHash       { return s.hash }
func (s *Sample) Len() int               { return len(s.events) }
func (s *Sample) Events() []Event        { return s.events }
func (s *Sample) Edges() []Edge          { return s.edges }

func (s *Sample) String() string {
	return fmt.Sprintf("sample(%s@%d)", s.schematic.Name, s.Versionstamp())
}

// Has reports whether the event belongs to the sample.
func (s *Sample) Has(id EventID) bool {
	_, ok := s.index[id]
	return ok
}

// Closed reports whether the sample was soft closed and accepts no further
// events.
func (s *Sample) Closed() bool {
	return s.schematic.Status == StatusCompleted || s.schematic.Status == StatusCancelled
}

// Event returns the event with the given id.
func (s *Sample) Event(id EventID) (Event, bool) {
	i, ok := s.index[id]
	if !ok {
		return Event{}, false
	}
	return s.events[i], true
}

// In returns the edges ending at id, in commit order.
func (s *Sample) In(id EventID) []Edge { return s.pick(s.in[id]) }

// Out returns the edges starting at id, in commit order.
func (s *Sample) Out(id EventID) []Edge { return s.pick(s.out[id]) }

func (s *Sample) pick(idx []int) []Edge {
	edges := make([]Edge, len(idx))
	for i, j := range idx {
		edges[i] = s.edges[j]
	}
	return edges
}

// Format renders the graph as one line per event, followed by its outgoing
// edges. It is meant for logs and test failures.
func (s *Sample) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%v\n", s)
	for _, e := range s.events {
		fmt.Fprintf(&b, "  %v\n", e)
		for _, x := range s.Out(e.ID) {
			to, _ := s.Event(x.To)
			fmt.Fprintf(&b, "    -%v-> %v\n", x.Kind, to)
		}
	}
	return b.String()
}

// newSample starts the empty snapshot a CommitCreate describes.
func newSample(c Commit) (*Sample, error) {
	if c.Kind != CommitCreate {
		return nil, fmt.Errorf("first commit of sample %v is %v, want %v", c.Sample, c.Kind, CommitCreate)
	}
	if c.Versionstamp != 0 {
		return nil, fmt.Errorf("create commit of sample %v at versionstamp %d", c.Sample, c.Versionstamp)
	}
	if c.Schematic.Versionstamp != 0 {
		return nil, fmt.Errorf("create commit of sample %v carries schematic at %d", c.Sample, c.Schematic.Versionstamp)
	}
	s := &Sample{
		id:        c.Sample,
		schematic: c.Schematic,
		params:    maps.Clone(c.Params),
		index:     map[EventID]int{},
		out:       map[EventID][]int{},
		in:        map[EventID][]int{},
	}
	s.hash = hashSample(s)
	return s, nil
}

// apply returns the snapshot that results from applying c on top of s. The
// receiver is never modified.
func (s *Sample) apply(c Commit) (*Sample, error) {
	if c.Sample != s.id {
		return nil, fmt.Errorf("commit for sample %v applied to %v", c.Sample, s.id)
	}
	if c.Versionstamp != s.Versionstamp()+1 {
		return nil, fmt.Errorf("commit at versionstamp %d applied to %v", c.Versionstamp, s)
	}
	if c.Schematic.Versionstamp != c.Versionstamp {
		return nil, fmt.Errorf("commit at versionstamp %d carries schematic at %d", c.Versionstamp, c.Schematic.Versionstamp)
	}

	next := &Sample{
		id:        s.id,
		schematic: c.Schematic,
		params:    s.params,
		events:    slices.Clone(s.events),
		edges:     slices.Clone(s.edges),
	}
	switch c.Kind {
	case CommitAppend:
		for _, e := range c.Events {
			if _, dup := s.index[e.ID]; dup {
				return nil, fmt.Errorf("event %v appended twice", e.ID)
			}
			if e.Schematic.GlobalPosition != int64(len(next.events))+1 {
				return nil, fmt.Errorf("event %v at position %d, want %d", e.ID, e.Schematic.GlobalPosition, len(next.events)+1)
			}
			next.events = append(next.events, e)
		}
		next.edges = append(next.edges, c.Edges...)
	case CommitAmend:
		if len(c.Edges) > 0 {
			return nil, fmt.Errorf("amend commit carries edges")
		}
		for _, e := range c.Events {
			i, ok := s.index[e.ID]
			if !ok {
				return nil, fmt.Errorf("amended event %v: %w", e.ID, ErrNotFound)
			}
			next.events[i] = e
		}
	case CommitStatus:
		if len(c.Events) > 0 || len(c.Edges) > 0 {
			return nil, fmt.Errorf("status commit carries events")
		}
	default:
		return nil, fmt.Errorf("cannot apply %v commit to an existing sample", c.Kind)
	}

	next.reindex()
	for _, x := range c.Edges {
		if !next.Has(x.From) || !next.Has(x.To) {
			return nil, fmt.Errorf("edge %v -> %v references an unknown event", x.From, x.To)
		}
	}
	next.hash = hashSample(next)
	return next, nil
}

// Apply returns the snapshot that results from applying a commit recorded by
// another engine, e.g. one received by a read replica. Unlike the engine's own
// commits, the recorded hash is verified against the result.
func (s *Sample) Apply(c Commit) (*Sample, error) {
	next, err := s.apply(c)
	if err != nil {
		return nil, err
	}
	if err := verifyHash(next, c); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Sample) reindex() {
	s.index = make(map[EventID]int, len(s.events))
	for i, e := range s.events {
		s.index[e.ID] = i
	}
	s.out = make(map[EventID][]int)
	s.in = make(map[EventID][]int)
	for i, x := range s.edges {
		s.out[x.From] = append(s.out[x.From], i)
		s.in[x.To] = append(s.in[x.To], i)
	}
}

// Rebuild replays the complete, ordered commit history of a sample and returns
// the resulting snapshot. It fails when the history has gaps or when a commit's
// recorded hash does not match the replayed graph.
func Rebuild(commits []Commit) (*Sample, error) {
	if len(commits) == 0 {
		return nil, fmt.Errorf("rebuild: empty history: %w", ErrNotFound)
	}
	s, err := newSample(commits[0])
	if err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	if err := verifyHash(s, commits[0]); err != nil {
		return nil, fmt.Errorf("rebuild: %w", err)
	}
	for _, c := range commits[1:] {
		s, err = s.Apply(c)
		if err != nil {
			return nil, fmt.Errorf("rebuild: %w", err)
		}
	}
	return s, nil
}

func verifyHash(s *Sample, c Commit) error {
	if !c.Hash.IsZero() && c.Hash != s.hash {
		return fmt.Errorf("versionstamp %d: hash %v, replayed %v", c.Versionstamp, c.Hash, s.hash)
	}
	return nil
}
