package remote

import (
	"bytes"
	"encoding/json"

	"memstruct/layout"
	"memstruct/process"

	"gopkg.in/yaml.v2"
)

// maxProjectDepth bounds how many pointers a projection follows.
const maxProjectDepth = 16

// Entry is one key of a Record.
type Entry struct {
	Key   string
	Value any
}

// Record is an ordered mapping produced by Project. Keys keep field table
// order, which JSON and YAML output preserve.
type Record []Entry

// Get returns the value stored under key.
func (r Record) Get(key string) (any, bool) {
	for _, e := range r {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Keys lists the keys in order.
func (r Record) Keys() []string {
	keys := make([]string, len(r))
	for n, e := range r {
		keys[n] = e.Key
	}
	return keys
}

func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for n, e := range r {
		if n > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r Record) MarshalYAML() (interface{}, error) {
	out := make(yaml.MapSlice, len(r))
	for n, e := range r {
		out[n] = yaml.MapItem{Key: e.Key, Value: e.Value}
	}
	return out, nil
}

// Project reads every non-padding field of inst into a Record. Nested
// structs become nested Records, arrays become slices, null pointers nil.
// A pointer that leads back to an instance already being projected, or
// past maxProjectDepth pointers, is emitted as its address.
func Project(inst *Instance) (Record, error) {
	p := projector{active: make(map[visit]bool)}
	return p.record(inst, 0)
}

type visit struct {
	typ  *layout.Struct
	addr process.ProcessMemoryAddress
}

type projector struct {
	active map[visit]bool
}

func (p *projector) record(inst *Instance, depth int) (Record, error) {
	key := visit{inst.typ, inst.addr}
	p.active[key] = true
	defer delete(p.active, key)

	var out Record
	for _, f := range inst.typ.Fields() {
		if f.IsPadding() {
			continue
		}
		v, err := inst.get(f)
		if err != nil {
			return nil, err
		}
		pointer := false
		if t, err := f.Type(); err == nil {
			_, pointer = t.(*layout.Pointer)
		}
		v, err = p.value(v, depth, pointer)
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: f.Name, Value: v})
	}
	return out, nil
}

func (p *projector) value(v any, depth int, pointer bool) (any, error) {
	switch x := v.(type) {
	case *Instance:
		if x == nil {
			return nil, nil
		}
		if pointer {
			if depth >= maxProjectDepth || p.active[visit{x.typ, x.addr}] {
				return x.addr, nil
			}
			depth++
		}
		return p.record(x, depth)
	case []*Instance:
		out := make([]any, len(x))
		for n, c := range x {
			r, err := p.record(c, depth)
			if err != nil {
				return nil, err
			}
			out[n] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for n, e := range x {
			r, err := p.value(e, depth, false)
			if err != nil {
				return nil, err
			}
			out[n] = r
		}
		return out, nil
	}
	return v, nil
}
