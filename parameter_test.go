package braid

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseSchematic(t *testing.T) {
	var tests = []struct {
		name      string
		fields    map[string]any
		want      Schematic
		wantField string // empty when the fields are valid
	}{
		{
			name:   "NameOnly",
			fields: map[string]any{FieldName: "Slurry"},
			want:   Schematic{Name: "Slurry", Tags: []string{}, Status: StatusPending},
		},
		{
			name: "Everything",
			fields: map[string]any{
				FieldName:        "  Slurry  ",
				FieldDescription: "TiO2 in water",
				FieldTags:        []any{"wet", " wet", "", "batch-7"},
				FieldStatus:      "Running",
			},
			want: Schematic{Name: "Slurry", Description: "TiO2 in water", Tags: []string{"wet", "batch-7"}, Status: StatusRunning},
		},
		{name: "MissingName", fields: map[string]any{}, wantField: FieldName},
		{name: "ShortName", fields: map[string]any{FieldName: " ab "}, wantField: FieldName},
		{name: "NameNotString", fields: map[string]any{FieldName: 42}, wantField: FieldName},
		{name: "DescriptionNotString", fields: map[string]any{FieldName: "Slurry", FieldDescription: 1}, wantField: FieldDescription},
		{name: "TagsNotStrings", fields: map[string]any{FieldName: "Slurry", FieldTags: []any{"wet", 7}}, wantField: FieldTags},
		{name: "UnknownStatus", fields: map[string]any{FieldName: "Slurry", FieldStatus: "paused"}, wantField: FieldStatus},
		{name: "EngineAssigned", fields: map[string]any{FieldName: "Slurry", FieldVersionstamp: 3}, wantField: FieldVersionstamp},
		{name: "UnknownField", fields: map[string]any{FieldName: "Slurry", "colour": "grey"}, wantField: "colour"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSchematic("event", tt.fields)
			if tt.wantField != "" {
				var schemaErr *SchemaError
				if !errors.As(err, &schemaErr) {
					t.Fatalf("parseSchematic() error = %v, want %T", err, schemaErr)
				}
				if schemaErr.Field != tt.wantField {
					t.Errorf("parseSchematic() rejected field %q, want %q", schemaErr.Field, tt.wantField)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSchematic() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseSchematic() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTemplate_Validate(t *testing.T) {
	template := Template{Fields: []Field{
		{Name: "mass", Kind: KindNumber, Required: true},
		{Name: "rpm", Kind: KindInteger},
		{Name: "sealed", Kind: KindBool},
		{Name: "started", Kind: KindTime},
		{Name: "solvents", Kind: KindStringList},
		{Name: "operator", Kind: KindString},
		{Name: "conditions", Kind: KindObject},
		{Name: "note", Kind: KindAny},
	}}
	started := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)

	var tests = []struct {
		name      string
		params    map[string]any
		want      map[string]any
		wantField string
	}{
		{
			name:   "RequiredOnly",
			params: map[string]any{"mass": 5},
			want:   map[string]any{"mass": 5.0},
		},
		{
			name: "Coerced",
			params: map[string]any{
				"mass":       " 2.5 ",
				"rpm":        "300",
				"sealed":     "yes",
				"started":    "2024-03-01T12:00:00+01:00",
				"solvents":   []any{"water", "ethanol"},
				"operator":   "Ada",
				"conditions": map[string]any{"humidity": 40, "inert": true},
				"note":       uint8(7),
			},
			want: map[string]any{
				"mass":       2.5,
				"rpm":        int64(300),
				"sealed":     true,
				"started":    started,
				"solvents":   []string{"water", "ethanol"},
				"operator":   "Ada",
				"conditions": map[string]any{"humidity": int64(40), "inert": true},
				"note":       int64(7),
			},
		},
		{name: "MissingRequired", params: map[string]any{"rpm": 300}, wantField: "mass"},
		{name: "Undeclared", params: map[string]any{"mass": 5, "volume": 1}, wantField: "volume"},
		{name: "NotANumber", params: map[string]any{"mass": "heavy"}, wantField: "mass"},
		{name: "FractionalInteger", params: map[string]any{"mass": 1, "rpm": 1.5}, wantField: "rpm"},
		{
			name:   "ExactIntegers",
			params: map[string]any{"mass": 1, "rpm": int64(math.MaxInt64), "note": uint64(math.MaxInt64)},
			want:   map[string]any{"mass": 1.0, "rpm": int64(math.MaxInt64), "note": int64(math.MaxInt64)},
		},
		{name: "IntegerOverflow", params: map[string]any{"mass": 1, "rpm": float64(1 << 63)}, wantField: "rpm"},
		{name: "IntegerOverflowText", params: map[string]any{"mass": 1, "rpm": "9223372036854775808"}, wantField: "rpm"},
		{name: "UnsignedOverflow", params: map[string]any{"mass": 1, "rpm": uint64(math.MaxUint64)}, wantField: "rpm"},
		{name: "UnsignedOverflowAny", params: map[string]any{"mass": 1, "note": uint64(1 << 63)}, wantField: "note"},
		{name: "NotABool", params: map[string]any{"mass": 1, "sealed": "maybe"}, wantField: "sealed"},
		{name: "NotATime", params: map[string]any{"mass": 1, "started": "yesterday"}, wantField: "started"},
		{name: "NotAString", params: map[string]any{"mass": 1, "operator": 7}, wantField: "operator"},
		{name: "Null", params: map[string]any{"mass": nil}, wantField: "mass"},
		{name: "Unsupported", params: map[string]any{"mass": 1, "note": struct{}{}}, wantField: "note"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := template.Validate("event", tt.params)
			if tt.wantField != "" {
				var schemaErr *SchemaError
				if !errors.As(err, &schemaErr) || schemaErr.Field != tt.wantField {
					t.Fatalf("Validate() error = %v, want a SchemaError on %q", err, tt.wantField)
				}
				if !errors.Is(err, ErrSchema) {
					t.Errorf("Validate() error does not match %v", ErrSchema)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Validate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTemplate_check(t *testing.T) {
	var tests = []struct {
		name     string
		template Template
		wantErr  bool
	}{
		{name: "Empty", template: Template{}},
		{name: "Valid", template: Template{Fields: []Field{{Name: "mass", Kind: KindNumber}}}},
		{name: "EmptyName", template: Template{Fields: []Field{{Kind: KindNumber}}}, wantErr: true},
		{name: "Duplicate", template: Template{Fields: []Field{{Name: "mass"}, {Name: "mass"}}}, wantErr: true},
		{name: "UnknownKind", template: Template{Fields: []Field{{Name: "mass", Kind: KindObject + 1}}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.template.check(); (err != nil) != tt.wantErr {
				t.Errorf("check() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPayload_With(t *testing.T) {
	base := Named("Slurry").With("mass", 5)
	derived := base.With("rpm", 300)
	if _, ok := base.Params["rpm"]; ok {
		t.Error("With() modified the receiver's parameters")
	}
	if len(derived.Params) != 2 {
		t.Errorf("With() returned %d parameters, want 2", len(derived.Params))
	}
}
