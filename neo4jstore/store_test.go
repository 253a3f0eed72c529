package neo4jstore

import (
	"context"
	"slices"
	"testing"

	"github.com/go-digitaltwin/braid"
	"github.com/go-digitaltwin/braid/internal/dbtest"
	"github.com/go-digitaltwin/braid/storetest"
)

func TestStore(t *testing.T) {
	driver := dbtest.SetupNeo4j(t)
	database := dbtest.DatabaseName(t)
	if err := BootstrapDatabase(context.Background(), driver, database); err != nil {
		t.Fatal(err)
	}
	storetest.Run(t, NewStore(driver, database))
}

func TestUpstream(t *testing.T) {
	ctx := context.Background()
	driver := dbtest.SetupNeo4j(t)
	database := dbtest.DatabaseName(t)
	if err := BootstrapDatabase(ctx, driver, database); err != nil {
		t.Fatal(err)
	}
	store := NewStore(driver, database)
	e := braid.NewEngine(braid.WithJournal(store))

	sample, err := e.CreateSample(ctx, braid.Named("Slurry batch"))
	if err != nil {
		t.Fatal(err)
	}
	mixer, err := e.RegisterActor(ctx, braid.Named("Mixer-1"))
	if err != nil {
		t.Fatal(err)
	}
	powder, err := e.ProposeEvent(ctx, braid.Proposal{
		Sample: sample.ID(),
		Draft:  braid.Draft{Type: braid.Material, Payload: braid.Named("powder")},
	})
	if err != nil {
		t.Fatal(err)
	}
	mix, err := e.ProposeEvent(ctx, braid.Proposal{
		Sample:       sample.ID(),
		Versionstamp: powder.Versionstamp,
		Draft: braid.Draft{
			Type:     braid.Action,
			Actor:    mixer.ID,
			Payload:  braid.Named("mix"),
			Produces: []braid.Draft{{Type: braid.Material, Payload: braid.Named("slurry")}},
		},
		Incoming: []braid.EdgeRef{braid.Ref(powder.Event)},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.Upstream(ctx, mix.Produced)
	if err != nil {
		t.Fatal(err)
	}
	want := []braid.EventID{powder.Event, mix.Event}
	cmpID := func(a, b braid.EventID) int { return slices.Compare(a[:], b[:]) }
	slices.SortFunc(got, cmpID)
	slices.SortFunc(want, cmpID)
	if !slices.Equal(got, want) {
		t.Errorf("Upstream() = %v, want %v", got, want)
	}
}
