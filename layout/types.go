package layout

import (
	"fmt"
	"sync"

	"memstruct/process"
)

// Type is anything a field can be declared as.
type Type interface {
	Name() string
	Size() process.ProcessMemorySize
}

// Pointer is a pointer-sized slot holding the address of an Elem.
// The pointee is resolved on first use so a type may point at itself or at
// a type declared later.
type Pointer struct {
	elem *Ref
}

func (p *Pointer) Name() string                    { return "*" + p.elem.expr.String() }
func (p *Pointer) Size() process.ProcessMemorySize { return process.PointerSize }

// Elem resolves the pointee type.
func (p *Pointer) Elem() (Type, error) {
	return p.elem.Resolve()
}

// Array is Len consecutive Elems with no padding between them.
type Array struct {
	Len  int
	Elem Type
}

func (a *Array) Name() string { return fmt.Sprintf("[%d]%s", a.Len, a.Elem.Name()) }

func (a *Array) Size() process.ProcessMemorySize {
	return process.ProcessMemorySize(a.Len) * a.Elem.Size()
}

// Ref is a type expression bound to the scope it was written in. It is
// evaluated at most once successfully; failures are retried on the next call.
type Ref struct {
	expr  *Expr
	scope *scope

	mu  sync.Mutex
	typ Type
}

func newRef(e *Expr, sc *scope) *Ref {
	return &Ref{expr: e, scope: sc}
}

func resolvedRef(e *Expr, t Type) *Ref {
	return &Ref{expr: e, typ: t}
}

// Expr returns the unevaluated expression.
func (r *Ref) Expr() *Expr { return r.expr }

// Resolve evaluates the expression, loading pending definitions first.
func (r *Ref) Resolve() (Type, error) {
	r.mu.Lock()
	t := r.typ
	r.mu.Unlock()
	if t != nil {
		return t, nil
	}

	if err := r.scope.reg.ForcePending(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.typ != nil {
		return r.typ, nil
	}
	t, err := r.scope.resolve(r.expr, 0)
	if err != nil {
		return nil, err
	}
	r.typ = t
	return t, nil
}
