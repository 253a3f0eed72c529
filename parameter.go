package braid

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Names of the schematic fields every sample, event, and actor carries.
const (
	FieldName           = "name"
	FieldGlobalID       = "global_id"
	FieldGlobalPosition = "global_position"
	FieldVersionstamp   = "versionstamp"
	FieldTimestamp      = "timestamp"
	FieldDescription    = "description"
	FieldTags           = "tags"
	FieldStatus         = "status"
)

// The engine assigns these fields on commit; callers never supply them.
var engineAssigned = []string{FieldGlobalID, FieldGlobalPosition, FieldVersionstamp, FieldTimestamp}

// minNameLength is the shortest name accepted for any entity.
const minNameLength = 3

// Status is the lifecycle marker carried in every schematic. A sample is soft
// closed by moving it to StatusCompleted or StatusCancelled.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

func (s Status) valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Schematic holds the mandatory fields shared by every entity instance.
type Schematic struct {
	Name           string
	GlobalID       uuid.UUID
	GlobalPosition int64
	Versionstamp   uint64
	Timestamp      time.Time
	Description    string
	Tags           []string
	Status         Status
}

// Payload is the caller-supplied content of a draft entity: the schematic
// fields the caller controls, plus the entity-scoped parameters.
type Payload struct {
	Schematic map[string]any
	Params    map[string]any
}

// Named returns a Payload carrying only a name. It is shorthand for drafts
// without further fields.
func Named(name string) Payload {
	return Payload{Schematic: map[string]any{FieldName: name}}
}

// With returns a copy of p with the event-scoped parameter key set to v.
func (p Payload) With(key string, v any) Payload {
	params := maps.Clone(p.Params)
	if params == nil {
		params = make(map[string]any)
	}
	params[key] = v
	p.Params = params
	return p
}

// parseSchematic validates the caller-controlled schematic fields of a draft
// entity. The engine-assigned fields of the result are left zero.
func parseSchematic(entity string, fields map[string]any) (Schematic, error) {
	for _, k := range engineAssigned {
		if _, ok := fields[k]; ok {
			return Schematic{}, &SchemaError{Entity: entity, Field: k, Reason: "assigned by the engine"}
		}
	}

	var s Schematic
	raw, ok := fields[FieldName]
	if !ok {
		return Schematic{}, &SchemaError{Entity: entity, Field: FieldName, Reason: "missing mandatory field"}
	}
	name, ok := raw.(string)
	if !ok {
		return Schematic{}, &SchemaError{Entity: entity, Field: FieldName, Reason: fmt.Sprintf("expected string, got %T", raw)}
	}
	name = strings.TrimSpace(name)
	if len(name) < minNameLength {
		return Schematic{}, &SchemaError{Entity: entity, Field: FieldName, Reason: fmt.Sprintf("must be at least %d characters", minNameLength)}
	}
	s.Name = name

	for k, v := range fields {
		switch k {
		case FieldName:
			// handled above
		case FieldDescription:
			d, ok := v.(string)
			if !ok {
				return Schematic{}, &SchemaError{Entity: entity, Field: k, Reason: fmt.Sprintf("expected string, got %T", v)}
			}
			s.Description = d
		case FieldTags:
			tags, err := coerceStringList(v)
			if err != nil {
				return Schematic{}, &SchemaError{Entity: entity, Field: k, Reason: err.Error()}
			}
			s.Tags = normalizeTags(tags)
		case FieldStatus:
			st, err := parseStatus(v)
			if err != nil {
				return Schematic{}, &SchemaError{Entity: entity, Field: k, Reason: err.Error()}
			}
			s.Status = st
		default:
			return Schematic{}, &SchemaError{Entity: entity, Field: k, Reason: "not a schematic field"}
		}
	}
	if s.Status == "" {
		s.Status = StatusPending
	}
	if s.Tags == nil {
		s.Tags = []string{}
	}
	return s, nil
}

func parseStatus(v any) (Status, error) {
	var s Status
	switch x := v.(type) {
	case Status:
		s = x
	case string:
		s = Status(strings.ToLower(strings.TrimSpace(x)))
	default:
		return "", fmt.Errorf("expected status, got %T", v)
	}
	if !s.valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return s, nil
}

// normalizeTags drops empty and duplicate tags while keeping first-seen order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Kind is the semantic type of a template field.
type Kind uint8

const (
	KindAny Kind = iota
	KindString
	KindNumber
	KindInteger
	KindBool
	KindTime
	KindStringList
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindInteger:
		return "integer"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	case KindStringList:
		return "string-list"
	case KindObject:
		return "object"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Field declares one event-scoped parameter.
type Field struct {
	Name        string
	Kind        Kind
	Required    bool
	Description string
}

// A Template declares the event-scoped parameters accepted by one event type,
// action subtype, or analysis method. Parameters not declared by the template
// are rejected.
type Template struct {
	Fields []Field
}

func (t Template) field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (t Template) check() error {
	seen := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" {
			return fmt.Errorf("field with empty name")
		}
		if seen[f.Name] {
			return fmt.Errorf("field %q declared twice", f.Name)
		}
		seen[f.Name] = true
		if f.Kind > KindObject {
			return fmt.Errorf("field %q: unknown kind %v", f.Name, f.Kind)
		}
	}
	return nil
}

// Validate coerces params according to the template and returns the coerced
// copy. The input map is never modified.
func (t Template) Validate(entity string, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		f, ok := t.field(k)
		if !ok {
			return nil, &SchemaError{Entity: entity, Field: k, Reason: "not declared by template"}
		}
		x, err := coerce(f.Kind, v)
		if err != nil {
			return nil, &SchemaError{Entity: entity, Field: k, Reason: err.Error()}
		}
		out[k] = x
	}
	for _, f := range t.Fields {
		if _, ok := out[f.Name]; f.Required && !ok {
			return nil, &SchemaError{Entity: entity, Field: f.Name, Reason: "missing required field"}
		}
	}
	return out, nil
}

// freeForm copies entity parameters that are not governed by a template. Only
// values the journals can encode are accepted.
func freeForm(entity string, params map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		x, err := coerce(KindAny, v)
		if err != nil {
			return nil, &SchemaError{Entity: entity, Field: k, Reason: err.Error()}
		}
		out[k] = x
	}
	return out, nil
}

func coerce(kind Kind, v any) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("null value")
	}
	switch kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return s, nil
	case KindNumber:
		return coerceToNumber(v)
	case KindInteger:
		return coerceToInteger(v)
	case KindBool:
		return coerceToBoolean(v)
	case KindTime:
		return coerceToTime(v)
	case KindStringList:
		return coerceStringList(v)
	case KindObject:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", v)
		}
		return freeForm("object", m)
	case KindAny:
		return coerceScalar(v)
	default:
		return nil, fmt.Errorf("unknown kind %v", kind)
	}
}

// coerceScalar normalises values of unconstrained fields onto the small set of
// types every journal encodes.
func coerceScalar(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, float64, int64, time.Time:
		return x, nil
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		return coerceToInteger(x)
	case float32:
		return float64(x), nil
	case []string:
		return slices.Clone(x), nil
	case []any:
		return coerceStringList(x)
	case map[string]any:
		return freeForm("object", x)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// coerceToInteger converts integral Go values exactly, without a detour
// through float64, and anything else through coerceToNumber. Values outside
// the int64 range are rejected.
func coerceToInteger(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint:
		return unsignedToInteger(uint64(v))
	case uint64:
		return unsignedToInteger(v)
	}
	n, err := coerceToNumber(value)
	if err != nil {
		return 0, err
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if n != math.Trunc(n) || n >= math.MaxInt64 || n < math.MinInt64 {
		return 0, fmt.Errorf("expected integer, got %v", value)
	}
	return int64(n), nil
}

func unsignedToInteger(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("integer %d out of range", v)
	}
	return int64(v), nil
}

func coerceToNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, fmt.Errorf("empty string cannot be converted to number")
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number format: %s", v)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

func coerceToBoolean(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		default:
			return false, fmt.Errorf("invalid boolean format: %s", v)
		}
	default:
		return false, fmt.Errorf("cannot convert %T to boolean", value)
	}
}

// Accepted textual layouts for time fields, tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func coerceToTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return time.Time{}, fmt.Errorf("empty string cannot be converted to time")
		}
		for _, layout := range timeLayouts {
			t, err := time.Parse(layout, trimmed)
			if err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid time format: %s (expected RFC 3339)", v)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time", value)
	}
}

func coerceStringList(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return slices.Clone(v), nil
	case []any:
		out := make([]string, len(v))
		for i, x := range v {
			s, ok := x.(string)
			if !ok {
				return nil, fmt.Errorf("element %d: expected string, got %T", i, x)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected list of strings, got %T", value)
	}
}
