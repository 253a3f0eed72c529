package braid

import (
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
)

// TemplateKey selects the template validating an event's parameters: an event
// type, optionally narrowed by a subtype (e.g. Action "mix").
type TemplateKey struct {
	Type    EventType
	Subtype string
}

func (k TemplateKey) String() string {
	if k.Subtype == "" {
		return k.Type.String()
	}
	return k.Type.String() + "/" + k.Subtype
}

// TemplateRef pins a specific version of a registered template. Committed
// events carry the ref they were validated against, so later registrations do
// not change how they are interpreted. Version zero means no template was
// registered and the event carries no parameters.
type TemplateRef struct {
	Key     TemplateKey
	Version int
}

// An AnalysisMethod is an opaque, versioned procedure interpreting
// measurements. The engine knows only its identity and its parameters.
type AnalysisMethod struct {
	ID          string
	Version     int
	Description string
	Template    Template
}

// MethodRef names an AnalysisMethod. A zero Version in a draft selects the
// latest registered version.
type MethodRef struct {
	ID      string
	Version int
}

func (r MethodRef) String() string { return fmt.Sprintf("%s@v%d", r.ID, r.Version) }

// A Catalog stores the append-only history of event templates and analysis
// methods. Readers never block; writers serialise among themselves and publish
// a fresh copy of the state.
//
// The zero Catalog is ready for use.
type Catalog struct {
	mu    sync.Mutex
	state atomic.Pointer[catalogState]
}

type catalogState struct {
	templates map[TemplateKey][]Template
	methods   map[string][]AnalysisMethod
}

var emptyCatalog = &catalogState{}

func (c *Catalog) load() *catalogState {
	if s := c.state.Load(); s != nil {
		return s
	}
	return emptyCatalog
}

// RegisterTemplate appends a new version of the template under key and returns
// a ref pinning it.
func (c *Catalog) RegisterTemplate(key TemplateKey, t Template) (TemplateRef, error) {
	if !key.Type.valid() {
		return TemplateRef{}, fmt.Errorf("register template: unknown event type %d", key.Type)
	}
	if key.Type == Analysis {
		return TemplateRef{}, fmt.Errorf("register template: Analysis parameters are declared by analysis methods")
	}
	if err := t.check(); err != nil {
		return TemplateRef{}, fmt.Errorf("register template %v: %w", key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.load()
	next := &catalogState{
		templates: maps.Clone(cur.templates),
		methods:   cur.methods,
	}
	if next.templates == nil {
		next.templates = make(map[TemplateKey][]Template)
	}
	// Full slice expression so appends never alias the published state.
	versions := cur.templates[key]
	next.templates[key] = append(versions[:len(versions):len(versions)], t)
	c.state.Store(next)
	return TemplateRef{Key: key, Version: len(next.templates[key])}, nil
}

// RegisterMethod appends a new version of the analysis method id.
func (c *Catalog) RegisterMethod(id, description string, t Template) (MethodRef, error) {
	if id == "" {
		return MethodRef{}, fmt.Errorf("register method: empty id")
	}
	if err := t.check(); err != nil {
		return MethodRef{}, fmt.Errorf("register method %q: %w", id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.load()
	next := &catalogState{
		templates: cur.templates,
		methods:   maps.Clone(cur.methods),
	}
	if next.methods == nil {
		next.methods = make(map[string][]AnalysisMethod)
	}
	versions := cur.methods[id]
	m := AnalysisMethod{ID: id, Version: len(versions) + 1, Description: description, Template: t}
	next.methods[id] = append(versions[:len(versions):len(versions)], m)
	c.state.Store(next)
	return MethodRef{ID: id, Version: m.Version}, nil
}

// Template returns the exact template version pinned by ref.
func (c *Catalog) Template(ref TemplateRef) (Template, bool) {
	if ref.Version == 0 {
		return Template{}, true
	}
	versions := c.load().templates[ref.Key]
	if ref.Version < 0 || ref.Version > len(versions) {
		return Template{}, false
	}
	return versions[ref.Version-1], true
}

// Method returns the analysis method pinned by ref. A zero version resolves to
// the latest one.
func (c *Catalog) Method(ref MethodRef) (AnalysisMethod, bool) {
	versions := c.load().methods[ref.ID]
	if len(versions) == 0 {
		return AnalysisMethod{}, false
	}
	if ref.Version == 0 {
		return versions[len(versions)-1], true
	}
	if ref.Version < 0 || ref.Version > len(versions) {
		return AnalysisMethod{}, false
	}
	return versions[ref.Version-1], true
}

// latest resolves the newest template for key, falling back from a subtype to
// the event type's generic template.
func (c *Catalog) latest(key TemplateKey) (TemplateRef, Template) {
	s := c.load()
	if versions := s.templates[key]; len(versions) > 0 {
		return TemplateRef{Key: key, Version: len(versions)}, versions[len(versions)-1]
	}
	generic := TemplateKey{Type: key.Type}
	if versions := s.templates[generic]; len(versions) > 0 {
		return TemplateRef{Key: generic, Version: len(versions)}, versions[len(versions)-1]
	}
	return TemplateRef{Key: key}, Template{}
}

// Validated is a draft payload that passed the parameter schema.
type Validated struct {
	Schematic Schematic
	Params    map[string]any
	Template  TemplateRef
	Method    MethodRef
}

// Validate checks an event draft's payload against the latest template for its
// type and subtype, or against its analysis method.
func (c *Catalog) Validate(d Draft) (Validated, error) {
	s, err := parseSchematic("event", d.Payload.Schematic)
	if err != nil {
		return Validated{}, err
	}
	v := Validated{Schematic: s}

	var t Template
	if d.Type == Analysis {
		m, ok := c.Method(d.Method)
		if !ok {
			return Validated{}, &SchemaError{Entity: "event", Reason: fmt.Sprintf("unknown analysis method %v", d.Method)}
		}
		v.Method = MethodRef{ID: m.ID, Version: m.Version}
		t = m.Template
	} else {
		v.Template, t = c.latest(TemplateKey{Type: d.Type, Subtype: d.Subtype})
	}

	params, err := t.Validate("event", d.Payload.Params)
	if err != nil {
		return Validated{}, err
	}
	v.Params = params
	return v, nil
}
