// Package remote binds layout types to addresses in a foreign address space
// and reads, writes and dispatches through them.
//
// An Instance holds no foreign data. Every Get goes to memory except for
// embedded struct children (their address is fixed relative to the owner)
// and pointer children of fields marked cached. Instances are not safe for
// concurrent use.
package remote

import (
	"fmt"
	"reflect"

	"memstruct/bitfield"
	"memstruct/layout"
	"memstruct/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "remote"))

// Instance is a struct type bound to an address.
type Instance struct {
	typ        *layout.Struct
	mem        process.Memory
	addr       process.ProcessMemoryAddress
	staticBase process.ProcessMemoryAddress
	cache      map[string]any
}

// Option configures Bind.
type Option func(*Instance)

// WithStaticBase sets the address static fields are relative to.
// Children inherit it.
func WithStaticBase(base process.ProcessMemoryAddress) Option {
	return func(i *Instance) { i.staticBase = base }
}

// Bind creates an instance of t at addr. No memory is touched.
// A null addr gives an unbound instance whose non-static fields read as
// their defaults.
func Bind(t *layout.Struct, mem process.Memory, addr process.ProcessMemoryAddress, opts ...Option) *Instance {
	i := &Instance{typ: t, mem: mem, addr: addr}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *Instance) Type() *layout.Struct                     { return i.typ }
func (i *Instance) Memory() process.Memory                   { return i.mem }
func (i *Instance) Address() process.ProcessMemoryAddress    { return i.addr }
func (i *Instance) StaticBase() process.ProcessMemoryAddress { return i.staticBase }
func (i *Instance) IsNull() bool                             { return i.addr.IsNull() }

// At returns a fresh instance of the same type at addr, with an empty cache.
func (i *Instance) At(addr process.ProcessMemoryAddress) *Instance {
	return i.child(i.typ, addr)
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s@%s", i.typ.Name(), i.addr.ToString())
}

func (i *Instance) child(t *layout.Struct, addr process.ProcessMemoryAddress) *Instance {
	return &Instance{typ: t, mem: i.mem, addr: addr, staticBase: i.staticBase}
}

func (i *Instance) store(name string, v any) {
	if i.cache == nil {
		i.cache = make(map[string]any)
	}
	i.cache[name] = v
}

func (i *Instance) field(name string) (*layout.Field, error) {
	f, ok := i.typ.Field(name)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", i.typ.Name(), name, ErrUnknownField)
	}
	return f, nil
}

// fieldAddress returns where f lives and false if its base is unbound.
func (i *Instance) fieldAddress(f *layout.Field) (process.ProcessMemoryAddress, bool) {
	base := i.addr
	if f.Static {
		base = i.staticBase
	}
	if base.IsNull() {
		return 0, false
	}
	return base.Add(f.Offset), true
}

// FieldAddress returns the address of the named field.
func (i *Instance) FieldAddress(name string) (process.ProcessMemoryAddress, error) {
	f, err := i.field(name)
	if err != nil {
		return 0, err
	}
	addr, ok := i.fieldAddress(f)
	if !ok {
		return 0, fmt.Errorf("%s.%s: %w", i.typ.Name(), name, ErrUnbound)
	}
	return addr, nil
}

func (i *Instance) wrap(f *layout.Field, err error) error {
	return fmt.Errorf("%s.%s: %w", i.typ.Name(), f.Name, err)
}

// lenient substitutes def for a memory fault unless f is strict.
// Anything that is not a fault is returned as is.
func (i *Instance) lenient(f *layout.Field, err error, def any) (any, error) {
	if !f.Strict && process.IsFault(err) {
		log.Debugln("using default for", i.typ.Name()+"."+f.Name, err)
		return def, nil
	}
	return nil, i.wrap(f, err)
}

func (i *Instance) lenientWrite(f *layout.Field, err error) error {
	if err == nil {
		return nil
	}
	if !f.Strict && process.IsFault(err) {
		log.Debugln("dropped write to", i.typ.Name()+"."+f.Name, err)
		return nil
	}
	return i.wrap(f, err)
}

// Get reads the named field:
//
//	scalar             its Go value (uintN, intN, floatN, bool, address)
//	bitfield           uint64, or bool for bool storage
//	embedded struct    a cached *Instance, nil when unbound
//	pointer to struct  a new *Instance, nil when the pointer is null
//	other pointer      the pointer value as process.ProcessMemoryAddress
//	array of structs   a cached []*Instance
//	other array        []any
func (i *Instance) Get(name string) (any, error) {
	f, err := i.field(name)
	if err != nil {
		return nil, err
	}
	return i.get(f)
}

func (i *Instance) get(f *layout.Field) (any, error) {
	t, err := f.Type()
	if err != nil {
		return nil, err
	}
	addr, bound := i.fieldAddress(f)

	if f.IsBitField() {
		prim, err := bitStorage(f, t)
		if err != nil {
			return nil, err
		}
		def := bitsDefault(f, prim)
		if !bound {
			return def, nil
		}
		v, err := bitfield.Read(i.mem, addr, f.BitOffset, f.BitSize)
		if err != nil {
			return i.lenient(f, err, def)
		}
		return bitsValue(prim, v), nil
	}

	switch t := t.(type) {
	case *layout.Primitive:
		def := defaultFor(f, t)
		if !bound {
			return def, nil
		}
		data, err := i.mem.ReadMemory(addr, t.Size())
		if err != nil {
			return i.lenient(f, err, def)
		}
		return t.Decode(data), nil

	case *layout.Struct:
		if !bound {
			return nil, nil
		}
		if c, ok := i.cache[f.Name].(*Instance); ok {
			return c, nil
		}
		c := i.child(t, addr)
		i.store(f.Name, c)
		return c, nil

	case *layout.Pointer:
		return i.getPointer(f, t, addr, bound)

	case *layout.Array:
		if !bound {
			return defaultFor(f, t), nil
		}
		if st, ok := t.Elem.(*layout.Struct); ok {
			if c, ok := i.cache[f.Name].([]*Instance); ok {
				return c, nil
			}
			children := make([]*Instance, t.Len)
			for k := range children {
				children[k] = i.child(st, addr.Add(process.ProcessMemorySize(k)*st.Size()))
			}
			i.store(f.Name, children)
			return children, nil
		}
		v, err := i.arrayValue(t, addr)
		if err != nil {
			return i.lenient(f, err, defaultFor(f, t))
		}
		return v, nil
	}
	return nil, i.wrap(f, fmt.Errorf("unsupported type %s", t.Name()))
}

// getPointer always re-reads the slot unless the field is cached. A fault on
// the slot itself is returned regardless of strictness.
func (i *Instance) getPointer(f *layout.Field, t *layout.Pointer, addr process.ProcessMemoryAddress, bound bool) (any, error) {
	if !bound {
		return nil, nil
	}
	if f.Cached {
		if c, ok := i.cache[f.Name]; ok {
			return c, nil
		}
	}

	ptr, err := process.ReadPointer(i.mem, addr)
	if err != nil {
		return nil, i.wrap(f, err)
	}
	elem, err := t.Elem()
	if err != nil {
		return nil, i.wrap(f, err)
	}
	st, ok := elem.(*layout.Struct)
	if !ok {
		return ptr, nil
	}
	if ptr.IsNull() {
		return nil, nil
	}
	c := i.child(st, ptr)
	if f.Cached {
		i.store(f.Name, c)
	}
	return c, nil
}

// arrayValue decodes an array with no struct elements at any depth from a
// single read. Nested arrays of structs become nested slices of instances.
func (i *Instance) arrayValue(t *layout.Array, addr process.ProcessMemoryAddress) ([]any, error) {
	if holdsStruct(t) {
		out := make([]any, t.Len)
		size := t.Elem.Size()
		for k := range out {
			at := addr.Add(process.ProcessMemorySize(k) * size)
			switch e := t.Elem.(type) {
			case *layout.Struct:
				out[k] = i.child(e, at)
			case *layout.Array:
				v, err := i.arrayValue(e, at)
				if err != nil {
					return nil, err
				}
				out[k] = v
			}
		}
		return out, nil
	}
	data, err := i.mem.ReadMemory(addr, t.Size())
	if err != nil {
		return nil, err
	}
	return decodeArray(t, data), nil
}

func holdsStruct(t layout.Type) bool {
	switch t := t.(type) {
	case *layout.Struct:
		return true
	case *layout.Array:
		return holdsStruct(t.Elem)
	}
	return false
}

func decodeArray(t *layout.Array, data []byte) []any {
	out := make([]any, t.Len)
	size := int(t.Elem.Size())
	for k := range out {
		chunk := data[k*size : (k+1)*size]
		switch e := t.Elem.(type) {
		case *layout.Primitive:
			out[k] = e.Decode(chunk)
		case *layout.Pointer:
			out[k] = process.ProcessMemoryAddress(process.DecodeUint(chunk))
		case *layout.Array:
			out[k] = decodeArray(e, chunk)
		}
	}
	return out
}

func bitStorage(f *layout.Field, t layout.Type) (*layout.Primitive, error) {
	prim, ok := t.(*layout.Primitive)
	if !ok || !prim.IsInteger() {
		return nil, &layout.LayoutError{Type: f.Owner, Field: f.Name, Detail: "bitfield storage must be an integer, got " + t.Name()}
	}
	return prim, nil
}

func bitsValue(prim *layout.Primitive, v uint64) any {
	if prim.Kind() == layout.Bool {
		return v != 0
	}
	return v
}

func bitsDefault(f *layout.Field, prim *layout.Primitive) any {
	var v uint64
	if f.Default != nil {
		if u, err := layout.ToUint64(f.Default); err == nil {
			v = u & bitfield.Mask(f.BitSize)
		}
	}
	return bitsValue(prim, v)
}

// defaultFor converts the declared default to the field's Go type, falling
// back to the zero value.
func defaultFor(f *layout.Field, t layout.Type) any {
	p, ok := t.(*layout.Primitive)
	if !ok {
		return f.Default
	}
	if f.Default != nil {
		if b, err := p.Encode(f.Default); err == nil {
			return p.Decode(b)
		}
	}
	return p.Zero()
}

// Set writes the named field. Lenient fields drop faults; writes to an
// unbound instance are ignored unless the field is strict.
func (i *Instance) Set(name string, value any) error {
	f, err := i.field(name)
	if err != nil {
		return err
	}
	t, err := f.Type()
	if err != nil {
		return err
	}
	addr, bound := i.fieldAddress(f)
	if !bound {
		if f.Strict {
			return i.wrap(f, ErrUnbound)
		}
		return nil
	}

	if f.IsBitField() {
		if _, err := bitStorage(f, t); err != nil {
			return err
		}
		u, err := layout.ToUint64(value)
		if err != nil {
			return i.wrap(f, err)
		}
		return i.lenientWrite(f, bitfield.Write(i.mem, addr, f.BitOffset, f.BitSize, u))
	}

	switch t := t.(type) {
	case *layout.Primitive:
		data, err := t.Encode(value)
		if err != nil {
			return i.wrap(f, err)
		}
		return i.lenientWrite(f, i.mem.WriteMemory(addr, data))

	case *layout.Struct:
		return i.wrap(f, ErrEmbeddedAssign)

	case *layout.Pointer:
		target, err := pointerValue(value)
		if err != nil {
			return i.wrap(f, err)
		}
		delete(i.cache, f.Name)
		if err := process.WritePointer(i.mem, addr, target); err != nil {
			return i.wrap(f, err)
		}
		return nil

	case *layout.Array:
		data, err := encodeArray(t, value)
		if err != nil {
			return i.wrap(f, err)
		}
		return i.lenientWrite(f, i.mem.WriteMemory(addr, data))
	}
	return i.wrap(f, fmt.Errorf("unsupported type %s", t.Name()))
}

func pointerValue(v any) (process.ProcessMemoryAddress, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case *Instance:
		if x == nil {
			return 0, nil
		}
		return x.addr, nil
	}
	u, err := layout.ToUint64(v)
	return process.ProcessMemoryAddress(u), err
}

// encodeArray encodes a Go slice or array of at most t.Len scalar elements.
// Only the given prefix is written.
func encodeArray(t *layout.Array, value any) ([]byte, error) {
	if holdsStruct(t) {
		return nil, ErrEmbeddedAssign
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: need a slice for %s, got %T", ErrTypeMismatch, t.Name(), value)
	}
	if rv.Len() > t.Len {
		return nil, fmt.Errorf("%d elements do not fit %s", rv.Len(), t.Name())
	}

	var out []byte
	for k := 0; k < rv.Len(); k++ {
		elem := rv.Index(k).Interface()
		switch e := t.Elem.(type) {
		case *layout.Primitive:
			b, err := e.Encode(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", k, err)
			}
			out = append(out, b...)
		case *layout.Pointer:
			p, err := pointerValue(elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", k, err)
			}
			out = append(out, process.EncodeUint(uint64(p), process.PointerSize)...)
		case *layout.Array:
			b, err := encodeArray(e, elem)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", k, err)
			}
			// short inner slices still occupy the whole inner array
			b = append(b, make([]byte, int(e.Size())-len(b))...)
			out = append(out, b...)
		}
	}
	return out, nil
}
