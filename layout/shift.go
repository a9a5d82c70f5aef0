package layout

import (
	"fmt"
	"strings"

	"memstruct/process"
)

// ShiftPolicy controls how an offset shift composes with shifts already
// carried by a type.
type ShiftPolicy int

const (
	// Cumulative layers the new delta on top of earlier shifts.
	Cumulative ShiftPolicy = iota
	// Reset recomputes mapped offsets from their declared values plus the
	// new delta and drops earlier shift padding.
	Reset
)

func (p ShiftPolicy) String() string {
	if p == Reset {
		return "reset"
	}
	return "cumulative"
}

// ParseShiftPolicy accepts "cumulative", "reset" or "" (cumulative).
func ParseShiftPolicy(s string) (ShiftPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cumulative":
		return Cumulative, nil
	case "reset":
		return Reset, nil
	}
	return Cumulative, fmt.Errorf("unknown shift policy %q", s)
}

// ShiftedName is the name given to t shifted by delta.
func ShiftedName(name string, delta process.ProcessMemorySize) string {
	return fmt.Sprintf("%s_off_%d", name, delta)
}

// Shift applies an offset shift using t's own policy flag.
func Shift(t *Struct, delta process.ProcessMemorySize) (*Struct, error) {
	policy := Cumulative
	if t.resetShift {
		policy = Reset
	}
	return OffsetShift(t, delta, policy)
}

// OffsetShift returns a new, unregistered type describing t placed delta
// bytes into a container: a padding field of delta bytes leads the packed
// fields and every mapped offset grows by delta. Static fields are not
// moved. t is not modified.
func OffsetShift(t *Struct, delta process.ProcessMemorySize, policy ShiftPolicy) (*Struct, error) {
	return offsetShift(t, ShiftedName(t.name, delta), delta, policy)
}

func offsetShift(t *Struct, name string, delta process.ProcessMemorySize, policy ShiftPolicy) (*Struct, error) {
	if !t.complete {
		return nil, layoutErr(t.name, "", nil, "cannot shift an incomplete type")
	}

	s := &Struct{
		name:       name,
		base:       t.base,
		from:       t,
		delta:      delta,
		policy:     policy,
		byName:     make(map[string]*Field),
		resetShift: t.resetShift,
		complete:   true,
		scope:      t.scope,
	}

	// packed fields move by the change in total shift
	prior := t.shift
	s.shift = prior + delta
	if policy == Reset {
		s.shift = delta
	}
	s.size = t.size - prior + s.shift

	if delta > 0 {
		s.add(paddingField(name, ShiftPadding, 0, delta))
	}
	for _, f := range t.fields {
		if policy == Reset && f.Padding == ShiftPadding {
			continue
		}
		c := f.clone()
		switch {
		case c.Role == Packed:
			c.Offset = c.Offset - prior + s.shift
		case c.Static:
		case policy == Reset:
			c.Offset = c.Declared + delta
		default:
			c.Offset += delta
		}
		s.add(c)
	}

	log.Debugln("shifted", t.name, "by", delta, policy.String(), "->", name)
	return s, nil
}

// DeclareShift shifts the struct called from and registers the result as
// name, or under ShiftedName when name is empty. Declaring the same shift
// again returns the existing type; a different shift under a taken name is
// a LayoutError.
func (r *Registry) DeclareShift(name, from string, delta process.ProcessMemorySize, policy ShiftPolicy) (*Struct, error) {
	t, err := r.Struct(from)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = ShiftedName(from, delta)
	}
	if existing, ok := r.Lookup(name); ok {
		if st, ok := existing.(*Struct); ok && st.from == t {
			if st.delta == delta && st.policy == policy {
				return st, nil
			}
			return nil, layoutErr(name, "", nil, "already declared as %s shifted by 0x%x (%s)", from, st.delta, st.policy)
		}
		return nil, layoutErr(name, "", nil, "type already declared")
	}
	s, err := offsetShift(t, name, delta, policy)
	if err != nil {
		return nil, err
	}
	if err := r.Register(s); err != nil {
		return nil, err
	}
	return s, nil
}
