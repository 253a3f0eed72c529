package braid

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// diamond builds the graph below, where both measurements consume Slurry and a
// single analysis joins them:
//
//	Powder ─┐                ┌─ XRD ─┐
//	        ├─ Mix ─ Slurry ─┤       ├─ Fit
//	Water ──┘                └─ SEM ─┘
type diamond struct {
	*fixture
	powder, water, mix, slurry, xrd, sem, fit EventID
}

func newDiamond(t *testing.T) *diamond {
	t.Helper()
	f := newFixture(t)
	d := &diamond{fixture: f}
	mixer := f.actor("Mixer-1")
	diffractometer := f.actor("Diffractometer-1")
	microscope := f.actor("Microscope-1")
	method, err := f.engine.RegisterAnalysisMethod("joint-fit", "", Template{})
	if err != nil {
		t.Fatal(err)
	}

	d.powder = f.material("Powder")
	d.water = f.material("Water")
	mix := f.mustPropose(action("Mix", mixer, "Slurry"), []EdgeRef{Ref(d.powder), Ref(d.water)}, nil)
	d.mix, d.slurry = mix.Event, mix.Produced
	d.xrd = f.mustPropose(Draft{Type: Measurement, Actor: diffractometer, Payload: Named("XRD")}, []EdgeRef{Ref(d.slurry)}, nil).Event
	d.sem = f.mustPropose(Draft{Type: Measurement, Actor: microscope, Payload: Named("SEM")}, []EdgeRef{Ref(d.slurry)}, nil).Event
	d.fit = f.mustPropose(Draft{Type: Analysis, Method: method, Payload: Named("Fit")}, []EdgeRef{Ref(d.xrd), Ref(d.sem)}, nil).Event
	return d
}

func TestSample_Upstream(t *testing.T) {
	d := newDiamond(t)
	s := d.snapshot()

	var tests = []struct {
		name string
		from EventID
		want []EventID
	}{
		{name: "Fit", from: d.fit, want: []EventID{d.xrd, d.sem, d.slurry, d.mix, d.powder, d.water}},
		{name: "XRD", from: d.xrd, want: []EventID{d.slurry, d.mix, d.powder, d.water}},
		{name: "Root", from: d.powder, want: nil},
		{name: "Unknown", from: NewEventID(), want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := s.Upstream(tt.from)
			got := collect(seq)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Upstream() mismatch (-want +got):\n%s", diff)
			}
			// Restarting the sequence walks the same graph again.
			if again := collect(seq); !slices.Equal(got, again) {
				t.Errorf("Upstream() restarted as %v, first pass %v", again, got)
			}
		})
	}
}

func TestSample_Downstream(t *testing.T) {
	d := newDiamond(t)
	s := d.snapshot()

	got := collect(s.Downstream(d.powder))
	want := []EventID{d.mix, d.slurry, d.xrd, d.sem, d.fit}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Downstream(Powder) mismatch (-want +got):\n%s", diff)
	}

	// Stopping early must be honoured.
	var first []EventID
	for id := range s.Downstream(d.powder) {
		first = append(first, id)
		if len(first) == 2 {
			break
		}
	}
	if !slices.Equal(first, want[:2]) {
		t.Errorf("Downstream(Powder) stopped at %v, want %v", first, want[:2])
	}

	// Snapshots are immutable: a later commit leaves this walk unchanged.
	d.material("Unrelated")
	if again := collect(s.Downstream(d.powder)); !slices.Equal(again, got) {
		t.Errorf("Downstream() over an old snapshot changed to %v", again)
	}

	seq, err := d.engine.Downstream(d.slurry)
	if err != nil {
		t.Fatal("Engine.Downstream() error =", err)
	}
	if got := collect(seq); !slices.Equal(got, []EventID{d.xrd, d.sem, d.fit}) {
		t.Errorf("Engine.Downstream(Slurry) = %v", got)
	}
}

func TestSample_TopologicalOrder(t *testing.T) {
	d := newDiamond(t)
	got, ok := d.snapshot().TopologicalOrder()
	if !ok {
		t.Fatal("TopologicalOrder() reported a cycle")
	}
	want := []EventID{d.powder, d.water, d.mix, d.slurry, d.xrd, d.sem, d.fit}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TopologicalOrder() mismatch (-want +got):\n%s", diff)
	}
}

func TestSample_rootsAndFrontier(t *testing.T) {
	d := newDiamond(t)
	loose := d.material("Loose material")
	s := d.snapshot()

	if diff := cmp.Diff([]EventID{d.powder, d.water, loose}, s.Roots()); diff != "" {
		t.Errorf("Roots() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]EventID{d.fit, loose}, s.Frontier()); diff != "" {
		t.Errorf("Frontier() mismatch (-want +got):\n%s", diff)
	}
	if s.Connected() {
		t.Error("Connected() = true with a loose material")
	}
}

func TestInspect(t *testing.T) {
	d := newDiamond(t)
	s := d.snapshot()

	visited := make(map[EventID]bool)
	var order []EventID
	Inspect(s, func(e *Event) bool {
		// Must check for the closing nil call.
		if e == nil {
			return false
		}
		if visited[e.ID] {
			t.Errorf("Inspect visited %v twice", e)
		}
		visited[e.ID] = true
		order = append(order, e.ID)
		return true
	})

	for _, e := range s.Events() {
		if !visited[e.ID] {
			t.Errorf("Inspect did not visit %v", e)
		}
	}
	// Depth-first from the first root reaches everything but the second root
	// before returning.
	want := []EventID{d.powder, d.mix, d.slurry, d.xrd, d.fit, d.sem, d.water}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("Inspect order mismatch (-want +got):\n%s", diff)
	}
}

func TestInspect_prune(t *testing.T) {
	d := newDiamond(t)
	var visited []EventID
	Inspect(d.snapshot(), func(e *Event) bool {
		if e == nil {
			return false
		}
		visited = append(visited, e.ID)
		// Do not descend past materials.
		return e.Type != Material
	})
	want := []EventID{d.powder, d.water}
	if diff := cmp.Diff(want, visited); diff != "" {
		t.Errorf("Pruned Inspect mismatch (-want +got):\n%s", diff)
	}
}

type countingVisitor struct {
	byType map[EventType]int
	closed int
}

func (v *countingVisitor) Visit(e *Event) Visitor {
	if e == nil {
		v.closed++
		return nil
	}
	v.byType[e.Type]++
	return v
}

func TestWalkFrom(t *testing.T) {
	d := newDiamond(t)
	v := &countingVisitor{byType: make(map[EventType]int)}
	WalkFrom(v, d.snapshot(), d.slurry)

	want := map[EventType]int{Material: 1, Measurement: 2, Analysis: 1}
	if diff := cmp.Diff(want, v.byType); diff != "" {
		t.Errorf("WalkFrom(Slurry) mismatch (-want +got):\n%s", diff)
	}
	if v.closed != 4 {
		t.Errorf("WalkFrom(Slurry) closed %d visits, want 4", v.closed)
	}
}
