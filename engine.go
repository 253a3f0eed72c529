package braid

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielorbach/go-component"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// A Draft describes an event a caller wants to add to a sample. The engine
// assigns everything a draft leaves out: identity (unless pre-allocated),
// position, versionstamp, and timestamp.
type Draft struct {
	// ID optionally pre-allocates the event's identity, typically obtained from
	// NewEventID to reserve an actor before proposing.
	ID      EventID
	Type    EventType
	Subtype string    // Narrows the parameter template, e.g. "mix".
	Method  MethodRef // Analysis only.
	Actor   ActorID   // Action and Measurement only.
	Payload Payload
	// Produces holds the single Material an Action makes, unless the action
	// produces an existing unproduced Material named in Proposal.Outgoing.
	Produces []Draft
}

// EdgeRef points at an existing event of the sample on the other end of a
// proposed edge.
type EdgeRef struct {
	Event      EventID
	Ingredient *Ingredient // Consumed edges only.
}

// Ref is shorthand for an EdgeRef without an ingredient.
func Ref(id EventID) EdgeRef { return EdgeRef{Event: id} }

// A Proposal asks to add one event, and for an Action its produced Material,
// to a sample at a known versionstamp.
type Proposal struct {
	Sample       SampleID
	Versionstamp uint64
	Draft        Draft
	Incoming     []EdgeRef // Existing events feeding the draft.
	Outgoing     []EdgeRef // Existing events the draft feeds.
}

// CommitResult reports the identity and placement the engine assigned.
type CommitResult struct {
	Event        EventID
	Position     int64
	Versionstamp uint64  // The sample's versionstamp after the commit.
	Produced     EventID // The Material produced by an Action, if it was drafted.
}

// An Option configures an Engine.
type Option func(*Engine)

// WithJournal records every commit and actor transition through j.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithCatalog shares an existing template catalog with the engine.
func WithCatalog(c *Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithClock replaces the source of timestamps. The returned times are stored
// in UTC.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = func() time.Time { return now().UTC() } }
}

// WithIdleFaults controls whether an IDLE actor may report a fault and move to
// ERRORED. By default only LOCKED and OCCUPIED actors may.
func WithIdleFaults(allow bool) Option {
	return func(e *Engine) { e.idleFaults = allow }
}

// Engine constructs and validates sample graphs and drives the actors that
// perform their events.
//
// Each sample is guarded by its own mutex held only while a proposal is
// checked against, and committed onto, the current snapshot. Readers load the
// current snapshot without locking.
type Engine struct {
	catalog    *Catalog
	journal    Journal
	actors     *Actors
	now        func() time.Time
	idleFaults bool

	samples sync.Map // SampleID -> *sampleSlot
	owners  sync.Map // EventID -> SampleID
}

type sampleSlot struct {
	mu      sync.Mutex // serialises commits
	current atomic.Pointer[Sample]
}

// NewEngine returns a ready-to-use Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		catalog: new(Catalog),
		journal: Discard,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.actors = newActors(e.journal, e.now, e.idleFaults)
	return e
}

// Catalog returns the engine's template catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Actors returns the engine's actor registry.
func (e *Engine) Actors() *Actors { return e.actors }

// NewEventID pre-allocates an event id. Reserve an actor for it with
// ReserveActor, then propose a draft carrying the same id.
func (e *Engine) NewEventID() EventID { return NewEventID() }

// RegisterEventTemplate appends a new template version for the key.
func (e *Engine) RegisterEventTemplate(key TemplateKey, t Template) (TemplateRef, error) {
	return e.catalog.RegisterTemplate(key, t)
}

// RegisterAnalysisMethod appends a new version of an analysis method.
func (e *Engine) RegisterAnalysisMethod(id, description string, t Template) (MethodRef, error) {
	return e.catalog.RegisterMethod(id, description, t)
}

// RegisterActor adds a new IDLE actor.
func (e *Engine) RegisterActor(ctx context.Context, p Payload) (Actor, error) {
	return e.actors.Register(ctx, p)
}

// ReserveActor locks an IDLE actor for the claim.
func (e *Engine) ReserveActor(ctx context.Context, id ActorID, c Claim) (Actor, error) {
	return e.actors.Reserve(ctx, id, c)
}

// ReleaseActor returns a LOCKED or OCCUPIED actor to IDLE.
func (e *Engine) ReleaseActor(ctx context.Context, id ActorID) (Actor, error) {
	return e.actors.Release(ctx, id)
}

// ReportActorError moves an actor to ERRORED after a physical fault.
func (e *Engine) ReportActorError(ctx context.Context, id ActorID, fault string) (Actor, error) {
	return e.actors.ReportError(ctx, id, fault)
}

// AcknowledgeActor returns an ERRORED actor to IDLE and appends a version
// record.
func (e *Engine) AcknowledgeActor(ctx context.Context, id ActorID, description, changedBy string) (Actor, error) {
	return e.actors.Acknowledge(ctx, id, description, changedBy)
}

// CompleteEvent marks the actor performing the event as done, returning it to
// IDLE.
func (e *Engine) CompleteEvent(ctx context.Context, id EventID) (Actor, error) {
	ev, err := e.event(id)
	if err != nil {
		return Actor{}, err
	}
	if ev.Actor.IsZero() {
		return Actor{}, fmt.Errorf("complete %v: not performed by an actor", ev)
	}
	return e.actors.Complete(ctx, ev.Actor, id)
}

// CreateSample starts a new, empty sample at versionstamp 0.
func (e *Engine) CreateSample(ctx context.Context, p Payload) (*Sample, error) {
	s, err := parseSchematic("sample", p.Schematic)
	if err != nil {
		return nil, err
	}
	params, err := freeForm("sample", p.Params)
	if err != nil {
		return nil, err
	}

	id := NewSampleID()
	now := e.now()
	s.GlobalID = uuid.UUID(id)
	s.Timestamp = now
	c := Commit{
		Kind:      CommitCreate,
		Sample:    id,
		Timestamp: now,
		Schematic: s,
		Params:    params,
	}
	sample, err := newSample(c)
	if err != nil {
		return nil, err
	}
	c.Hash = sample.Hash()
	if err := e.journal.RecordCommit(ctx, c); err != nil {
		return nil, fmt.Errorf("record commit: %w", err)
	}

	slot := new(sampleSlot)
	slot.current.Store(sample)
	e.samples.Store(id, slot)
	component.Logger(ctx).Info("Sample created", "sample.id", id, "sample.name", s.Name)
	return sample, nil
}

// GetSample returns the current snapshot of the sample.
func (e *Engine) GetSample(id SampleID) (*Sample, error) {
	slot, err := e.slot(id)
	if err != nil {
		return nil, err
	}
	return slot.current.Load(), nil
}

func (e *Engine) slot(id SampleID) (*sampleSlot, error) {
	v, ok := e.samples.Load(id)
	if !ok {
		return nil, fmt.Errorf("sample %v: %w", id, ErrNotFound)
	}
	return v.(*sampleSlot), nil
}

func (e *Engine) event(id EventID) (Event, error) {
	v, ok := e.owners.Load(id)
	if !ok {
		return Event{}, fmt.Errorf("event %v: %w", id, ErrNotFound)
	}
	s, err := e.GetSample(v.(SampleID))
	if err != nil {
		return Event{}, err
	}
	ev, ok := s.Event(id)
	if !ok {
		// Owners are registered only after the snapshot holding the event is stored.
		panic(fmt.Sprintf("braid: event %v indexed to %v but missing from its snapshot", id, s))
	}
	return ev, nil
}

// Upstream yields the events the given event transitively depends on, over the
// sample's current snapshot. See Sample.Upstream.
func (e *Engine) Upstream(id EventID) (iter.Seq[EventID], error) {
	ev, err := e.event(id)
	if err != nil {
		return nil, err
	}
	s, err := e.GetSample(ev.Sample)
	if err != nil {
		return nil, err
	}
	return s.Upstream(id), nil
}

// Downstream yields the events transitively depending on the given event, over
// the sample's current snapshot. See Sample.Downstream.
func (e *Engine) Downstream(id EventID) (iter.Seq[EventID], error) {
	ev, err := e.event(id)
	if err != nil {
		return nil, err
	}
	s, err := e.GetSample(ev.Sample)
	if err != nil {
		return nil, err
	}
	return s.Downstream(id), nil
}

// ProposeEvent validates a draft against the parameter schema, the event type
// grammar, acyclicity, and the availability of its actor, then commits it
// atomically: either the event, its produced material, and all their edges
// become visible under a new versionstamp, or nothing changes.
//
// Errors wrap ErrSchema, ErrGrammarViolation, ErrCycleDetected,
// ErrActorUnavailable, or ErrStaleVersion. On success, the actor performing an
// Action or Measurement is OCCUPIED.
func (e *Engine) ProposeEvent(ctx context.Context, p Proposal) (_ CommitResult, err error) {
	ctx, span := tracer.Start(ctx, "Engine.ProposeEvent", trace.WithAttributes(
		attribute.Stringer("sample.id", p.Sample),
		attribute.Int64("sample.versionstamp", int64(p.Versionstamp)),
		attribute.Stringer("event.type", p.Draft.Type),
	))
	defer span.End()
	logger := component.Logger(ctx).With("sample.id", p.Sample, "event.type", p.Draft.Type)
	ctx = component.InjectLogger(ctx, logger) // Inject for further logs down the call-stack.

	defer func(start time.Time) {
		measureProposal(ctx, p.Draft.Type, err, time.Since(start))
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			logger.Debug("Proposal rejected", "error", err)
		}
	}(time.Now())

	// The parameter schema depends only on the draft and the catalog, so it is
	// checked before contending for the sample.
	if err := checkDraftShape(p.Draft); err != nil {
		return CommitResult{}, err
	}
	validated, err := e.validate(p.Draft)
	if err != nil {
		return CommitResult{}, err
	}

	slot, err := e.slot(p.Sample)
	if err != nil {
		return CommitResult{}, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	cur := slot.current.Load()
	if cur.Versionstamp() != p.Versionstamp {
		return CommitResult{}, &StaleVersionError{Sample: p.Sample, Read: p.Versionstamp, Current: cur.Versionstamp()}
	}
	if cur.Closed() {
		return CommitResult{}, fmt.Errorf("sample %v is %v: %w", p.Sample, cur.schematic.Status, ErrClosed)
	}

	c, err := e.buildAppend(cur, p, validated)
	if err != nil {
		return CommitResult{}, err
	}
	main := c.Events[0]
	res := CommitResult{Event: main.ID, Position: main.Position(), Versionstamp: c.Versionstamp}
	if len(c.Events) > 1 {
		res.Produced = c.Events[1].ID
	}

	// Reserve the actor last: it is the only check with an effect outside the
	// sample, which must be undone should the commit fail.
	var (
		claim = Claim{Sample: p.Sample, Event: main.ID}
		prev  Claim
		took  bool
	)
	if !p.Draft.Actor.IsZero() {
		_, prev, took, err = e.actors.reserve(ctx, p.Draft.Actor, claim)
		if err != nil {
			return CommitResult{}, err
		}
	}
	undo := func() {
		// A claim already naming this event was reserved by the caller.
		if p.Draft.Actor.IsZero() || !took && prev == claim {
			return
		}
		if _, err := e.actors.unreserve(ctx, p.Draft.Actor, claim, prev, took); err != nil {
			logger.Error("Failed to restore actor after aborted commit", "actor.id", p.Draft.Actor, "error", err)
		}
	}

	next, err := cur.apply(c)
	if err != nil {
		undo()
		// buildAppend produced a commit the snapshot rejects; they disagree on the
		// graph's axioms.
		panic(fmt.Errorf("braid: inconsistent append commit: %w", err))
	}
	c.Hash = next.Hash()
	if err := e.journal.RecordCommit(ctx, c); err != nil {
		undo()
		return CommitResult{}, fmt.Errorf("record commit: %w", err)
	}
	slot.current.Store(next)
	for _, ev := range c.Events {
		e.owners.Store(ev.ID, p.Sample)
	}

	if !p.Draft.Actor.IsZero() {
		// The commit is durable by now; an actor that cannot start (released
		// concurrently, say) is reported but does not undo the event.
		if _, err := e.actors.Start(ctx, p.Draft.Actor, main.ID); err != nil {
			logger.Error("Committed event but failed to start its actor", "actor.id", p.Draft.Actor, "error", err)
		}
	}
	logger.Info("Event committed",
		"event.id", main.ID,
		"event.position", main.Position(),
		"sample.versionstamp", c.Versionstamp,
	)
	return res, nil
}

// validate checks the draft and any material it produces against the catalog.
func (e *Engine) validate(d Draft) ([]Validated, error) {
	v, err := e.catalog.Validate(d)
	if err != nil {
		return nil, err
	}
	out := []Validated{v}
	for _, p := range d.Produces {
		v, err := e.catalog.Validate(p)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// buildAppend resolves the proposal against the current snapshot and returns
// the commit adding it. Every grammar and cycle check happens here, before
// anything is modified.
func (e *Engine) buildAppend(cur *Sample, p Proposal, validated []Validated) (Commit, error) {
	d := p.Draft
	version := cur.Versionstamp() + 1
	now := e.now()
	pos := int64(cur.Len()) + 1

	newEvent := func(id EventID, d Draft, v Validated) (Event, error) {
		if id.IsZero() {
			id = NewEventID()
		} else if _, taken := e.owners.Load(id); taken || cur.Has(id) {
			return Event{}, &GrammarError{Reason: fmt.Sprintf("event %v already committed", id)}
		}
		s := v.Schematic
		s.GlobalID = uuid.UUID(id)
		s.GlobalPosition = pos
		s.Versionstamp = version
		s.Timestamp = now
		pos++
		return Event{
			ID:        id,
			Sample:    p.Sample,
			Type:      d.Type,
			Subtype:   d.Subtype,
			Schematic: s,
			Params:    v.Params,
			Template:  v.Template,
			Method:    v.Method,
			Actor:     d.Actor,
		}, nil
	}

	main, err := newEvent(d.ID, d, validated[0])
	if err != nil {
		return Commit{}, err
	}
	events := []Event{main}
	var edges []Edge

	seen := make(map[EventID]bool)
	resolve := func(ref EdgeRef) (Event, error) {
		if seen[ref.Event] {
			return Event{}, &GrammarError{Reason: fmt.Sprintf("duplicate edge with event %v", ref.Event)}
		}
		seen[ref.Event] = true
		ev, ok := cur.Event(ref.Event)
		if !ok {
			return Event{}, &GrammarError{Reason: fmt.Sprintf("event %v is not part of sample %v", ref.Event, p.Sample)}
		}
		return ev, nil
	}
	connectTo := func(from, to Event, ref EdgeRef) error {
		kind, ok := connect(from.Type, to.Type, Forward)
		if !ok {
			return &GrammarError{Source: from.Type, Target: to.Type, Reason: "edge not allowed"}
		}
		if ref.Ingredient != nil && kind != Consumed {
			return &GrammarError{Source: from.Type, Target: to.Type, Reason: "only consumed edges carry an ingredient"}
		}
		edges = append(edges, Edge{From: from.ID, To: to.ID, Kind: kind, Ingredient: ref.Ingredient})
		return nil
	}

	for _, ref := range p.Incoming {
		src, err := resolve(ref)
		if err != nil {
			return Commit{}, err
		}
		if src.Type == Action {
			// Every committed action already produced its single material.
			return Commit{}, &GrammarError{Source: Action, Target: d.Type, Reason: fmt.Sprintf("%v already produced its material", src)}
		}
		if err := connectTo(src, main, ref); err != nil {
			return Commit{}, err
		}
	}
	if n := maxFanIn(d.Type); n > 0 && len(p.Incoming) > n {
		return Commit{}, &GrammarError{Target: d.Type, Reason: fmt.Sprintf("at most %d incoming edge(s), got %d", n, len(p.Incoming))}
	}
	clear(seen)
	for _, ref := range p.Outgoing {
		dst, err := resolve(ref)
		if err != nil {
			return Commit{}, err
		}
		if n := maxFanIn(dst.Type); n > 0 && len(cur.in[dst.ID])+1 > n {
			return Commit{}, &GrammarError{Source: d.Type, Target: dst.Type, Reason: fmt.Sprintf("%v already has %d incoming edge(s)", dst, len(cur.in[dst.ID]))}
		}
		if err := connectTo(main, dst, ref); err != nil {
			return Commit{}, err
		}
	}

	switch d.Type {
	case Action:
		if n := len(d.Produces) + len(p.Outgoing); n != 1 {
			return Commit{}, &GrammarError{Source: Action, Target: Material, Reason: fmt.Sprintf("an Action must produce exactly one Material, got %d", n)}
		}
	case Measurement:
		if len(p.Incoming) == 0 {
			return Commit{}, &GrammarError{Target: Measurement, Reason: "a Measurement must consume at least one Material"}
		}
	case Analysis:
		if len(p.Incoming) == 0 {
			return Commit{}, &GrammarError{Target: Analysis, Reason: "an Analysis must analyze at least one Measurement or Analysis"}
		}
	}

	for i, pd := range d.Produces {
		m, err := newEvent(pd.ID, pd, validated[i+1])
		if err != nil {
			return Commit{}, err
		}
		if m.ID == main.ID {
			return Commit{}, &GrammarError{Reason: "an Action cannot produce itself"}
		}
		events = append(events, m)
		edges = append(edges, Edge{From: main.ID, To: m.ID, Kind: Produced})
	}

	// The new event closes a cycle exactly when one of its successors already
	// reaches one of its predecessors.
	if len(p.Incoming) > 0 && len(p.Outgoing) > 0 {
		preds := make(map[EventID]bool, len(p.Incoming))
		for _, ref := range p.Incoming {
			preds[ref.Event] = true
		}
		succs := make([]EventID, len(p.Outgoing))
		for i, ref := range p.Outgoing {
			succs[i] = ref.Event
		}
		if path := cur.pathBetween(succs, preds); path != nil {
			return Commit{}, &CycleError{Path: slices.Concat([]EventID{main.ID}, path, []EventID{main.ID})}
		}
	}

	schematic := cur.schematic
	schematic.Versionstamp = version
	if schematic.Status == StatusPending {
		schematic.Status = StatusRunning
	}
	return Commit{
		Kind:         CommitAppend,
		Sample:       p.Sample,
		Versionstamp: version,
		Timestamp:    now,
		Schematic:    schematic,
		Events:       events,
		Edges:        edges,
	}, nil
}

// ProposeLinearProcess chains actions: the first consumes the given inputs, and
// every following action consumes the material produced by its predecessor.
// Each action must draft its produced material.
//
// Every step is an ordinary proposal committed under its own versionstamp. The
// chain stops at the first rejected step and returns the results committed so
// far together with the error.
func (e *Engine) ProposeLinearProcess(ctx context.Context, sample SampleID, versionstamp uint64, inputs []EdgeRef, steps []Draft) ([]CommitResult, error) {
	var results []CommitResult
	incoming := inputs
	for i, d := range steps {
		if d.Type != Action || len(d.Produces) != 1 {
			return results, &GrammarError{Reason: fmt.Sprintf("step %d: a linear process consists of Actions drafting their material", i)}
		}
		res, err := e.ProposeEvent(ctx, Proposal{
			Sample:       sample,
			Versionstamp: versionstamp,
			Draft:        d,
			Incoming:     incoming,
		})
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i, err)
		}
		results = append(results, res)
		versionstamp = res.Versionstamp
		incoming = []EdgeRef{Ref(res.Produced)}
	}
	return results, nil
}

// Amendment replaces the mutable schematic fields of a committed event. Nil
// fields are left unchanged.
type Amendment struct {
	Status *Status
	Tags   []string
}

// AmendEvent replaces the status and/or tags of an event under a new
// versionstamp. It returns the new versionstamp.
func (e *Engine) AmendEvent(ctx context.Context, sample SampleID, versionstamp uint64, id EventID, a Amendment) (uint64, error) {
	return e.mutate(ctx, sample, versionstamp, func(cur *Sample, c *Commit) error {
		ev, ok := cur.Event(id)
		if !ok {
			return fmt.Errorf("event %v: %w", id, ErrNotFound)
		}
		ev = ev.clone()
		ev.Schematic.Versionstamp = c.Versionstamp
		if a.Status != nil {
			if !a.Status.valid() {
				return &SchemaError{Entity: "event", Field: FieldStatus, Reason: fmt.Sprintf("unknown status %q", *a.Status)}
			}
			ev.Schematic.Status = *a.Status
		}
		if a.Tags != nil {
			ev.Schematic.Tags = normalizeTags(a.Tags)
		}
		c.Kind = CommitAmend
		c.Events = []Event{ev}
		return nil
	})
}

// SetSampleStatus soft closes or reopens a sample. A sample can be completed
// only when its graph forms a single lineage. It returns the new versionstamp.
func (e *Engine) SetSampleStatus(ctx context.Context, sample SampleID, versionstamp uint64, status Status) (uint64, error) {
	return e.mutate(ctx, sample, versionstamp, func(cur *Sample, c *Commit) error {
		if !status.valid() {
			return &SchemaError{Entity: "sample", Field: FieldStatus, Reason: fmt.Sprintf("unknown status %q", status)}
		}
		if status == StatusCompleted && !cur.Connected() {
			return &GrammarError{Reason: "a completed sample must form a single connected graph"}
		}
		c.Kind = CommitStatus
		c.Schematic.Status = status
		return nil
	})
}

// mutate runs a versioned, non-append mutation under the sample's lock.
func (e *Engine) mutate(ctx context.Context, sample SampleID, versionstamp uint64, fn func(cur *Sample, c *Commit) error) (uint64, error) {
	slot, err := e.slot(sample)
	if err != nil {
		return 0, err
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()

	cur := slot.current.Load()
	if cur.Versionstamp() != versionstamp {
		return 0, &StaleVersionError{Sample: sample, Read: versionstamp, Current: cur.Versionstamp()}
	}
	c := Commit{
		Sample:       sample,
		Versionstamp: versionstamp + 1,
		Timestamp:    e.now(),
		Schematic:    cur.schematic,
	}
	c.Schematic.Versionstamp = c.Versionstamp
	if err := fn(cur, &c); err != nil {
		return 0, err
	}
	next, err := cur.apply(c)
	if err != nil {
		return 0, err
	}
	c.Hash = next.Hash()
	if err := e.journal.RecordCommit(ctx, c); err != nil {
		return 0, fmt.Errorf("record commit: %w", err)
	}
	slot.current.Store(next)
	component.Logger(ctx).Info("Sample mutated", "sample.id", sample, "commit.kind", c.Kind, "sample.versionstamp", c.Versionstamp)
	return c.Versionstamp, nil
}

// Restore installs the latest snapshot of a sample from a store, e.g. after a
// restart. A sample the engine already holds at the same or a newer
// versionstamp is left untouched.
func (e *Engine) Restore(ctx context.Context, store Store, id SampleID) (*Sample, error) {
	s, err := store.LoadSample(ctx, id, Latest)
	if err != nil {
		return nil, fmt.Errorf("load sample: %w", err)
	}
	fresh := new(sampleSlot)
	fresh.current.Store(s)
	v, loaded := e.samples.LoadOrStore(id, fresh)
	if loaded {
		slot := v.(*sampleSlot)
		slot.mu.Lock()
		defer slot.mu.Unlock()
		if cur := slot.current.Load(); cur.Versionstamp() >= s.Versionstamp() {
			return cur, nil
		}
		slot.current.Store(s)
	}
	for _, ev := range s.Events() {
		e.owners.Store(ev.ID, id)
	}
	component.Logger(ctx).Info("Sample restored", "sample.id", id, "sample.versionstamp", s.Versionstamp())
	return s, nil
}

// RestoreActor installs an actor's record from a store.
func (e *Engine) RestoreActor(ctx context.Context, store Store, id ActorID) (Actor, error) {
	a, err := store.LoadActor(ctx, id)
	if err != nil {
		return Actor{}, fmt.Errorf("load actor: %w", err)
	}
	e.actors.restore(a)
	return a, nil
}
