package neo4jstore

import (
	"context"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/go-digitaltwin/braid/internal/dbtest"
)

func TestReservedDatabase(t *testing.T) {
	var tests = []struct {
		name string
		want bool
	}{
		{name: "braid", want: false},
		{name: "t-store-0123456789ab", want: false},
		{name: "neo4j", want: true},
		{name: "system", want: true},
		{name: "systemReplica", want: true},
		{name: "_braid", want: true},
	}
	for _, tt := range tests {
		if got := reservedDatabase(tt.name); got != tt.want {
			t.Errorf("reservedDatabase(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestBootstrapDatabase(t *testing.T) {
	d := dbtest.SetupNeo4j(t)
	ctx := context.Background()

	var tests = []struct {
		name      string
		database  string
		wantErr   bool
		wantPanic bool
	}{
		{name: "Generated", database: dbtest.DatabaseName(t)},
		{name: "Mixed case", database: "Braid1"},
		{name: "Dotted", database: "braid.replica"},
		{name: "Empty", wantPanic: true},
		{name: "Reserved", database: "system-braid", wantPanic: true},
		{name: "TooShort", database: "ab", wantErr: true},
		{name: "Underscore", database: "braid_replica", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); (r != nil) != tt.wantPanic {
					t.Errorf("BootstrapDatabase() panic = %v, wantPanic %v", r, tt.wantPanic)
				}
			}()

			err := BootstrapDatabase(ctx, d, tt.database)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BootstrapDatabase() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			// Bootstrapping an existing database leaves it as it was.
			if err := BootstrapDatabase(ctx, d, tt.database); err != nil {
				t.Fatal("BootstrapDatabase() again:", err)
			}
			labels, err := nodeKeyLabels(ctx, d, tt.database)
			if err != nil {
				t.Fatal(err)
			}
			for label := range nodeKeys {
				if !labels[label] {
					t.Errorf("No NODE KEY constraint for %s", label)
				}
			}
		})
	}
}

// Two events with the same identity must never coexist, whoever writes them.
func TestBootstrapDatabase_duplicateEvent(t *testing.T) {
	d := dbtest.SetupNeo4j(t)
	ctx := context.Background()
	database := dbtest.DatabaseName(t)
	if err := BootstrapDatabase(ctx, d, database); err != nil {
		t.Fatal(err)
	}

	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: database})
	defer func() { _ = s.Close(ctx) }()
	create := func() error {
		result, err := s.Run(ctx, "CREATE (:Event {id: $id})", map[string]any{"id": "01890a5d-ac96-774b-bcce-b302099a8057"})
		if err != nil {
			return err
		}
		_, err = result.Consume(ctx)
		return err
	}
	if err := create(); err != nil {
		t.Fatal("First event:", err)
	}
	if err := create(); err == nil {
		t.Error("A second event with the same id was created")
	}
}

func nodeKeyLabels(ctx context.Context, d neo4j.DriverWithContext, database string) (map[string]bool, error) {
	s := d.NewSession(ctx, neo4j.SessionConfig{DatabaseName: database, AccessMode: neo4j.AccessModeRead})
	defer func() { _ = s.Close(ctx) }()

	// Other constraint types exist implicitly for every label.
	result, err := s.Run(ctx, "SHOW CONSTRAINTS YIELD type, labelsOrTypes WHERE type = 'NODE_KEY'", nil)
	if err != nil {
		return nil, err
	}
	labels := make(map[string]bool)
	for result.Next(ctx) {
		v, _ := result.Record().Get("labelsOrTypes")
		for _, label := range v.([]any) {
			labels[label.(string)] = true
		}
	}
	return labels, result.Err()
}
