package braid

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/sync/errgroup"
)

// recordCommits returns a fixture whose engine keeps every commit it records.
func recordCommits(t *testing.T) (*fixture, *[]Commit) {
	t.Helper()
	var commits []Commit
	f := newFixture(t, WithJournal(journalFunc{commit: func(_ context.Context, c Commit) error {
		commits = append(commits, c)
		return nil
	}}))
	return f, &commits
}

func TestRebuild(t *testing.T) {
	f, commits := recordCommits(t)
	mixer := f.actor("Mixer-1")
	powder := f.material("Powder")
	f.mustPropose(action("Mix", mixer, "Slurry"), []EdgeRef{{Event: powder, Ingredient: &Ingredient{Amount: 2.5, Unit: "g"}}}, nil)
	tags := []string{"batch-7"}
	v, err := f.engine.AmendEvent(f.ctx, f.sample, f.version, powder, Amendment{Tags: tags})
	if err != nil {
		t.Fatal(err)
	}
	f.version = v

	want := f.snapshot()
	got, err := Rebuild(*commits)
	if err != nil {
		t.Fatal("Rebuild() error =", err)
	}
	if got.Hash() != want.Hash() {
		t.Errorf("Rebuild() hash = %v, want %v", got.Hash(), want.Hash())
	}
	if got.Versionstamp() != want.Versionstamp() {
		t.Errorf("Rebuild() at versionstamp %d, want %d", got.Versionstamp(), want.Versionstamp())
	}
	if diff := cmp.Diff(want.Events(), got.Events(), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("Rebuild() events mismatch (-want +got):\n%s", diff)
	}

	// Any prefix of the history rebuilds the matching older snapshot.
	prefix, err := Rebuild((*commits)[:2])
	if err != nil {
		t.Fatal(err)
	}
	if prefix.Versionstamp() != 1 || prefix.Len() != 1 {
		t.Errorf("Rebuild(prefix) = %v with %d events, want versionstamp 1 with 1 event", prefix, prefix.Len())
	}
}

func TestRebuild_corrupted(t *testing.T) {
	f, commits := recordCommits(t)
	f.material("Powder")
	f.material("Water")
	history := *commits

	var tests = []struct {
		name    string
		history func() []Commit
	}{
		{name: "Empty", history: func() []Commit { return nil }},
		{name: "MissingCreate", history: func() []Commit { return history[1:] }},
		{name: "Gap", history: func() []Commit { return []Commit{history[0], history[2]} }},
		{name: "Reordered", history: func() []Commit { return []Commit{history[0], history[2], history[1]} }},
		{
			name: "TamperedHash",
			history: func() []Commit {
				tampered := history[2]
				tampered.Hash[0] ^= 0xff
				return []Commit{history[0], history[1], tampered}
			},
		},
		{
			name: "TamperedEvent",
			history: func() []Commit {
				tampered := history[1]
				tampered.Events = []Event{history[1].Events[0].clone()}
				tampered.Events[0].Schematic.Name = "Not powder"
				return []Commit{history[0], tampered, history[2]}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if s, err := Rebuild(tt.history()); err == nil {
				t.Errorf("Rebuild() = %v, want error", s)
			}
		})
	}
}

func TestSampleHash(t *testing.T) {
	f := newFixture(t)
	empty := f.snapshot().Hash()
	powder := f.material("Powder")
	withPowder := f.snapshot().Hash()
	if empty == withPowder {
		t.Error("Appending an event did not change the hash")
	}

	cancelled := StatusCancelled
	v, err := f.engine.AmendEvent(f.ctx, f.sample, f.version, powder, Amendment{Status: &cancelled})
	if err != nil {
		t.Fatal(err)
	}
	f.version = v
	if f.snapshot().Hash() == withPowder {
		t.Error("Amending an event did not change the hash")
	}

	text, err := withPowder.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var parsed SampleHash
	if err := parsed.UnmarshalText(text); err != nil || parsed != withPowder {
		t.Errorf("UnmarshalText(%s) = %v, %v", text, parsed, err)
	}
	if err := parsed.UnmarshalText(text[:10]); err == nil {
		t.Error("UnmarshalText() accepted a truncated hash")
	}
}

func TestMarshalCommit(t *testing.T) {
	f, commits := recordCommits(t)
	mixer := f.actor("Mixer-1")
	powder := f.material("Powder")
	payload := Named("Mix").With("started", "2024-03-01T12:00:00Z").With("solvents", []string{"water"})
	if _, err := f.engine.RegisterEventTemplate(TemplateKey{Type: Action, Subtype: "mix"}, Template{Fields: []Field{
		{Name: "started", Kind: KindTime},
		{Name: "solvents", Kind: KindStringList},
	}}); err != nil {
		t.Fatal(err)
	}
	d := action("Mix", mixer, "Slurry")
	d.Subtype, d.Payload = "mix", payload
	f.mustPropose(d, []EdgeRef{{Event: powder, Ingredient: WholeIngredient()}}, nil)

	for _, c := range *commits {
		p, err := MarshalCommit(c)
		if err != nil {
			t.Fatalf("MarshalCommit(%v) error = %v", c.Kind, err)
		}
		got, err := UnmarshalCommit(p)
		if err != nil {
			t.Fatalf("UnmarshalCommit(%v) error = %v", c.Kind, err)
		}
		if diff := cmp.Diff(c, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("%v commit changed in transit (-want +got):\n%s", c.Kind, diff)
		}
	}

	// Decoded commits must still rebuild the same graph.
	var decoded []Commit
	for _, c := range *commits {
		p, _ := MarshalCommit(c)
		got, _ := UnmarshalCommit(p)
		decoded = append(decoded, got)
	}
	s, err := Rebuild(decoded)
	if err != nil {
		t.Fatal("Rebuild(decoded) error =", err)
	}
	if s.Hash() != f.snapshot().Hash() {
		t.Errorf("Decoded history rebuilt %v, want %v", s.Hash(), f.snapshot().Hash())
	}
}

func TestEngine_Restore(t *testing.T) {
	f, commits := recordCommits(t)
	mixer := f.actor("Mixer-1")
	f.mustPropose(action("Mix", mixer, "Slurry"), nil, nil)
	store := &historyStore{commits: *commits}
	a, _ := f.engine.Actors().Get(mixer)
	store.actor = a

	e := NewEngine()
	s, err := e.Restore(f.ctx, store, f.sample)
	if err != nil {
		t.Fatal("Restore() error =", err)
	}
	if s.Hash() != f.snapshot().Hash() {
		t.Errorf("Restored %v, want %v", s.Hash(), f.snapshot().Hash())
	}
	if _, err := e.RestoreActor(f.ctx, store, mixer); err != nil {
		t.Fatal("RestoreActor() error =", err)
	}

	// The restored engine continues where the original stopped.
	slurry := s.Frontier()[0]
	if _, err := e.CompleteEvent(f.ctx, s.Events()[0].ID); err != nil {
		t.Errorf("CompleteEvent() on the restored engine: %v", err)
	}
	_, err = e.ProposeEvent(f.ctx, Proposal{
		Sample:       f.sample,
		Versionstamp: s.Versionstamp(),
		Draft:        action("Mix again", mixer, "Slurry 2"),
		Incoming:     []EdgeRef{Ref(slurry)},
	})
	if err != nil {
		t.Errorf("ProposeEvent() on the restored engine: %v", err)
	}

	if _, err := e.Restore(f.ctx, store, NewSampleID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Restore() of an unknown sample: error = %v, want %v", err, ErrNotFound)
	}
}

// A sample being restored is either unknown or complete to concurrent readers.
func TestEngine_RestoreVisibility(t *testing.T) {
	f, commits := recordCommits(t)
	f.material("Powder")
	store := &historyStore{commits: *commits}

	for range 20 {
		e := NewEngine()
		var g errgroup.Group
		g.Go(func() error {
			_, err := e.Restore(f.ctx, store, f.sample)
			return err
		})
		for range 4 {
			g.Go(func() error {
				for range 100 {
					s, err := e.GetSample(f.sample)
					if err == nil && s == nil {
						return errors.New("GetSample() = nil, nil during Restore")
					}
					if err != nil && !errors.Is(err, ErrNotFound) {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatal(err)
		}
	}
}

// historyStore serves a single recorded history.
type historyStore struct {
	journalFunc
	commits []Commit
	actor   Actor
}

func (s *historyStore) LoadSample(_ context.Context, id SampleID, _ uint64) (*Sample, error) {
	if len(s.commits) == 0 || s.commits[0].Sample != id {
		return nil, ErrNotFound
	}
	return Rebuild(s.commits)
}

func (s *historyStore) LoadActor(_ context.Context, id ActorID) (Actor, error) {
	if s.actor.ID != id {
		return Actor{}, ErrNotFound
	}
	return s.actor, nil
}
