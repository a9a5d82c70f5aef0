package layout

import (
	"fmt"
	"sync"
)

// maxAliasDepth bounds chains of type-local aliases.
const maxAliasDepth = 16

// Pending is a deferred definition step, typically loading another layout
// file. It runs once, before any lazy type expression is evaluated.
type Pending func(*Registry) error

// Registry is the namespace type expressions are resolved against.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	types   map[string]Type
	order   []string
	pending []Pending
}

// NewRegistry returns a registry holding only the builtin primitives.
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]Type, len(primitives))}
	for name, p := range primitives {
		r.types[name] = p
	}
	return r
}

// Register binds t under t.Name().
func (r *Registry) Register(t Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if old, ok := r.types[name]; ok && old != t {
		return layoutErr(name, "", nil, "type already declared")
	}
	if _, ok := r.types[name]; !ok {
		r.types[name] = t
		r.order = append(r.order, name)
	}
	return nil
}

// Lookup returns the type bound to name without loading pending definitions.
func (r *Registry) Lookup(name string) (Type, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.types[name]
	return t, ok
}

// Names lists declared (non-builtin) types in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Struct loads pending definitions and returns the struct called name.
func (r *Registry) Struct(name string) (*Struct, error) {
	if err := r.ForcePending(); err != nil {
		return nil, err
	}
	t, ok := r.Lookup(name)
	if !ok {
		return nil, layoutErr(name, "", nil, "undefined type")
	}
	s, ok := t.(*Struct)
	if !ok {
		return nil, layoutErr(name, "", nil, "%s is not a struct", t.Name())
	}
	return s, nil
}

// Resolve evaluates text in the registry's global scope.
func (r *Registry) Resolve(text string) (Type, error) {
	e, err := ParseExpr(text)
	if err != nil {
		return nil, layoutErr("", "", err, "bad type expression")
	}
	if err := r.ForcePending(); err != nil {
		return nil, err
	}
	t, err := (&scope{reg: r}).resolve(e, 0)
	if err != nil {
		return nil, layoutErr("", "", err, "cannot resolve %q", text)
	}
	return t, nil
}

// Defer queues p to run before the next lazy resolution.
func (r *Registry) Defer(p Pending) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, p)
}

// ForcePending runs queued definitions in order, including any queued while
// running. Each runs exactly once; the first failure stops the drain.
func (r *Registry) ForcePending() error {
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.mu.Unlock()
			return nil
		}
		p := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()

		if err := p(r); err != nil {
			return fmt.Errorf("pending definition: %w", err)
		}
	}
}

// scope is what a type expression sees: the type being declared, then that
// type's local aliases, then the registry.
type scope struct {
	reg    *Registry
	self   *Struct
	locals map[string]string
}

func (s *scope) lookup(name string, depth int) (Type, error) {
	if s.self != nil && name == s.self.name {
		return s.self, nil
	}
	if alias, ok := s.locals[name]; ok {
		if depth >= maxAliasDepth {
			return nil, fmt.Errorf("alias %q nests too deeply", name)
		}
		e, err := ParseExpr(alias)
		if err != nil {
			return nil, fmt.Errorf("alias %q: %w", name, err)
		}
		return s.resolve(e, depth+1)
	}
	if t, ok := s.reg.Lookup(name); ok {
		return t, nil
	}
	return nil, fmt.Errorf("undefined type %q", name)
}

// resolve evaluates e. Pointees are left lazy; everything held by value must
// be a complete type.
func (s *scope) resolve(e *Expr, depth int) (Type, error) {
	switch {
	case e.Pointer:
		return &Pointer{elem: newRef(e.Elem, s)}, nil
	case e.Array:
		elem, err := s.resolve(e.Elem, depth)
		if err != nil {
			return nil, err
		}
		return &Array{Len: e.Len, Elem: elem}, nil
	}
	t, err := s.lookup(e.Name, depth)
	if err != nil {
		return nil, err
	}
	if st, ok := t.(*Struct); ok && !st.complete {
		return nil, fmt.Errorf("%s is incomplete and cannot be held by value", st.name)
	}
	return t, nil
}
