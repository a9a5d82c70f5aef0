// Package layout turns declarative member lists into flattened field tables.
//
// A member is either packed (offset is the running size of the packed
// members before it, inherited ones included) or mapped (explicit offset,
// no contribution to size). Bitfields are a view over a storage unit at a
// mapped offset, or a packed member sized to the smallest unit that holds
// their width. Type expressions of mapped members are evaluated lazily so
// layouts may refer to types declared later.
package layout

import (
	"fmt"

	"memstruct/bitfield"
	"memstruct/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

var log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "layout"))

// Role tells how a field's offset was obtained.
type Role int

const (
	Packed Role = iota
	Mapped
)

func (r Role) String() string {
	if r == Packed {
		return "packed"
	}
	return "mapped"
}

// Padding marks synthetic fields inserted by the engine.
type Padding int

const (
	NotPadding Padding = iota
	ShiftPadding
	TailPadding
)

// Member is one declared field.
type Member struct {
	Name    string      `yaml:"name"`
	Type    string      `yaml:"type"`
	Offset  *uint64     `yaml:"offset,omitempty"`
	Bit     *uint       `yaml:"bit,omitempty"`
	Static  bool        `yaml:"static,omitempty"`
	Cached  bool        `yaml:"cached,omitempty"`
	Strict  bool        `yaml:"strict,omitempty"`
	Default interface{} `yaml:"default,omitempty"`
}

// Decl declares a struct type.
type Decl struct {
	Name       string            `yaml:"name"`
	Size       uint64            `yaml:"size,omitempty"`
	Base       string            `yaml:"base,omitempty"`
	ResetShift bool              `yaml:"reset_shift,omitempty"`
	Locals     map[string]string `yaml:"locals,omitempty"`
	Fields     []Member          `yaml:"fields"`
}

// At is a convenience for building Member.Offset in Go code.
func At(offset uint64) *uint64 { return &offset }

// BitAt is a convenience for building Member.Bit in Go code.
func BitAt(bit uint) *uint { return &bit }

// Field is one entry of a field table. Fields are shared between a type and
// the types derived from it and must not be modified.
type Field struct {
	Name  string
	Expr  *Expr
	Role  Role
	Owner string

	// Offset is where the field lives relative to the instance address (or
	// the static base), after every offset shift. Declared is the offset
	// as written, before shifts.
	Offset   process.ProcessMemorySize
	Declared process.ProcessMemorySize

	BitOffset uint
	BitSize   uint

	Static  bool
	Cached  bool
	Strict  bool
	Default any
	Padding Padding

	ref  *Ref
	size process.ProcessMemorySize
}

// Type resolves the field's type expression.
func (f *Field) Type() (Type, error) {
	t, err := f.ref.Resolve()
	if err != nil {
		return nil, layoutErr(f.Owner, f.Name, err, "cannot resolve %q", f.Expr.String())
	}
	return t, nil
}

// Size returns the bytes the field occupies: its storage unit for bitfields,
// the size of its type otherwise.
func (f *Field) Size() (process.ProcessMemorySize, error) {
	if f.Role == Packed {
		return f.size, nil
	}
	if f.IsBitField() {
		return bitfield.StorageBytes(f.BitOffset, f.BitSize)
	}
	t, err := f.Type()
	if err != nil {
		return 0, err
	}
	return t.Size(), nil
}

func (f *Field) IsBitField() bool { return f.BitSize > 0 }
func (f *Field) IsPadding() bool  { return f.Padding != NotPadding }

func (f *Field) clone() *Field {
	c := *f
	return &c
}

// Struct is a declared or offset-shifted composite type. Its field table is
// flattened: inherited fields come first, each layer lists packed fields
// before mapped ones, and a derived field replaces a same-named inherited
// one in place.
type Struct struct {
	name       string
	base       *Struct
	from       *Struct
	delta      process.ProcessMemorySize
	policy     ShiftPolicy
	fields     []*Field
	byName     map[string]*Field
	size       process.ProcessMemorySize
	shift      process.ProcessMemorySize
	resetShift bool
	complete   bool
	scope      *scope
}

func (s *Struct) Name() string                    { return s.name }
func (s *Struct) Size() process.ProcessMemorySize { return s.size }

// Base returns the struct this one was derived from, if any.
func (s *Struct) Base() *Struct { return s.base }

// ShiftedFrom returns the struct an offset shift was applied to and the
// total shift carried by packed fields.
func (s *Struct) ShiftedFrom() (*Struct, process.ProcessMemorySize) { return s.from, s.shift }

// ResetShift is the policy Shift applies to this type.
func (s *Struct) ResetShift() bool { return s.resetShift }

// Registry returns the registry the struct was declared in.
func (s *Struct) Registry() *Registry { return s.scope.reg }

// Fields returns the field table in order, synthetic padding included.
func (s *Struct) Fields() []*Field {
	out := make([]*Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a named field. Padding is not addressable.
func (s *Struct) Field(name string) (*Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

func (s *Struct) add(f *Field) {
	if f.IsPadding() {
		s.fields = append(s.fields, f)
		return
	}
	if old, ok := s.byName[f.Name]; ok {
		for i, g := range s.fields {
			if g == old {
				s.fields[i] = f
			}
		}
		s.byName[f.Name] = f
		return
	}
	s.fields = append(s.fields, f)
	s.byName[f.Name] = f
}

func paddingField(owner string, kind Padding, offset, size process.ProcessMemorySize) *Field {
	e := &Expr{Array: true, Len: int(size), Elem: &Expr{Name: U8.name}}
	name := "_tail_padding"
	if kind == ShiftPadding {
		name = "_shift_padding"
	}
	return &Field{
		Name:     name,
		Expr:     e,
		Role:     Packed,
		Owner:    owner,
		Offset:   offset,
		Declared: offset,
		Padding:  kind,
		ref:      resolvedRef(e, &Array{Len: int(size), Elem: U8}),
		size:     size,
	}
}

// Declare builds the field table for d and registers the resulting type.
// Packed member types are resolved immediately because their sizes are
// needed; mapped member types are resolved on first use.
func (r *Registry) Declare(d Decl) (*Struct, error) {
	if d.Name == "" {
		return nil, layoutErr("", "", nil, "type needs a name")
	}
	if _, exists := r.Lookup(d.Name); exists {
		return nil, layoutErr(d.Name, "", nil, "type already declared")
	}

	s := &Struct{
		name:       d.Name,
		byName:     make(map[string]*Field),
		resetShift: d.ResetShift,
	}
	s.scope = &scope{reg: r, self: s, locals: d.Locals}

	var size process.ProcessMemorySize
	if d.Base != "" {
		base, err := r.Struct(d.Base)
		if err != nil {
			return nil, layoutErr(d.Name, "", err, "bad base type")
		}
		s.base = base
		s.shift = base.shift
		for _, f := range base.fields {
			s.add(f)
		}
		size = base.size
	}

	seen := make(map[string]bool, len(d.Fields))
	var packed, mapped []*Field
	for _, m := range d.Fields {
		if m.Name == "" {
			return nil, layoutErr(d.Name, "", nil, "member needs a name")
		}
		if seen[m.Name] {
			return nil, layoutErr(d.Name, m.Name, nil, "duplicate member")
		}
		seen[m.Name] = true

		f, err := s.member(m, size)
		if err != nil {
			return nil, err
		}
		if f.Role == Packed {
			size += f.size
			packed = append(packed, f)
		} else {
			mapped = append(mapped, f)
		}
	}
	for _, f := range packed {
		s.add(f)
	}
	for _, f := range mapped {
		s.add(f)
	}

	if fixed := process.ProcessMemorySize(d.Size); fixed > 0 {
		if fixed < size {
			return nil, layoutErr(d.Name, "", nil, "declared size 0x%x is smaller than the 0x%x bytes of packed members", fixed, size)
		}
		if fixed > size {
			s.add(paddingField(d.Name, TailPadding, size, fixed-size))
		}
		size = fixed
	}

	s.size = size
	s.complete = true
	if err := r.Register(s); err != nil {
		return nil, err
	}
	log.Debugln("declared", d.Name, "size", size.ToString(), "fields", len(s.fields))
	return s, nil
}

func (s *Struct) member(m Member, packedOffset process.ProcessMemorySize) (*Field, error) {
	e, err := ParseExpr(m.Type)
	if err != nil {
		return nil, layoutErr(s.name, m.Name, err, "bad type expression")
	}
	f := &Field{
		Name:    m.Name,
		Expr:    e,
		Owner:   s.name,
		Static:  m.Static,
		Cached:  m.Cached,
		Strict:  m.Strict,
		Default: m.Default,
	}

	if e.Bits > 0 {
		if e.Pointer || e.Array {
			return nil, layoutErr(s.name, m.Name, nil, "bit width on non-scalar type %q", e.String())
		}
		f.BitSize = e.Bits
	} else if m.Bit != nil {
		return nil, layoutErr(s.name, m.Name, nil, "bit offset given without a bit width")
	}
	if m.Static && m.Offset == nil {
		return nil, layoutErr(s.name, m.Name, nil, "static member needs an offset")
	}

	if m.Offset != nil {
		var bit uint
		if m.Bit != nil {
			bit = *m.Bit
		}
		byteOff, bitOff := bitfield.Normalize(uint(*m.Offset), bit)
		f.Role = Mapped
		f.Offset = process.ProcessMemorySize(byteOff)
		f.Declared = f.Offset
		if f.IsBitField() {
			f.BitOffset = bitOff
			if _, err := bitfield.StorageBytes(f.BitOffset, f.BitSize); err != nil {
				return nil, layoutErr(s.name, m.Name, err, "bad bit range")
			}
			// storage known now is checked now; forward references wait
			if t, err := s.scope.lookup(e.Name, 0); err == nil {
				if p, ok := t.(*Primitive); !ok || !p.IsInteger() {
					return nil, layoutErr(s.name, m.Name, nil, "bitfield storage must be an integer, got %s", t.Name())
				}
			}
		}
		f.ref = newRef(e, s.scope)
		return f, nil
	}
	if m.Bit != nil {
		return nil, layoutErr(s.name, m.Name, nil, "bit offset needs a byte offset")
	}

	if err := s.scope.reg.ForcePending(); err != nil {
		return nil, layoutErr(s.name, m.Name, err, "loading pending definitions")
	}
	t, err := s.scope.resolve(e, 0)
	if err != nil {
		return nil, layoutErr(s.name, m.Name, err, "cannot resolve %q", e.String())
	}

	f.Role = Packed
	f.Offset = packedOffset
	f.Declared = packedOffset
	f.ref = resolvedRef(e, t)
	if f.IsBitField() {
		if p, ok := t.(*Primitive); !ok || !p.IsInteger() {
			return nil, layoutErr(s.name, m.Name, nil, "bitfield storage must be an integer, got %s", t.Name())
		}
		f.size, _ = bitfield.StorageBytes(0, f.BitSize)
	} else {
		f.size = t.Size()
	}
	return f, nil
}

// String describes the struct for logs.
func (s *Struct) String() string {
	return fmt.Sprintf("%s(size=0x%x, fields=%d)", s.name, s.size, len(s.fields))
}
