package remote

import (
	"encoding/binary"
	"errors"
	"testing"

	"memstruct/layout"
	"memstruct/process"
	"memstruct/process_blob"
)

func declare(t *testing.T, r *layout.Registry, decls ...layout.Decl) {
	t.Helper()
	for _, d := range decls {
		if _, err := r.Declare(d); err != nil {
			t.Fatalf("Declare(%s): %v", d.Name, err)
		}
	}
}

func structOf(t *testing.T, r *layout.Registry, name string) *layout.Struct {
	t.Helper()
	s, err := r.Struct(name)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func put32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
func put64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:], v) }

// errMemory fails every access with err.
type errMemory struct{ err error }

func (m errMemory) ReadMemory(process.ProcessMemoryAddress, process.ProcessMemorySize) ([]byte, error) {
	return nil, m.err
}

func (m errMemory) WriteMemory(process.ProcessMemoryAddress, []byte) error { return m.err }

func TestEmbeddedIsCachedPointerIsNot(t *testing.T) {
	r := layout.NewRegistry()
	declare(t, r,
		layout.Decl{Name: "Inner", Fields: []layout.Member{{Name: "z", Type: "u32"}}},
		layout.Decl{Name: "Outer", Fields: []layout.Member{
			{Name: "in", Type: "Inner"},
			{Name: "p", Type: "*Inner"},
			{Name: "q", Type: "*Inner"},
			{Name: "c", Type: "*Inner", Cached: true},
		}},
	)
	const base = 0x1000
	data := make([]byte, 64)
	put32(data, 0, 3)
	put64(data, 4, base)
	put64(data, 20, base)
	inst := Bind(structOf(t, r, "Outer"), process_blob.NewProcessBlob(base, data), base)

	a, err := inst.Get("in")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := inst.Get("in")
	if a.(*Instance) != b.(*Instance) {
		t.Error("embedded child was rebuilt")
	}

	p1, _ := inst.Child("p")
	p2, _ := inst.Child("p")
	if p1 == p2 {
		t.Error("pointer child was cached")
	}
	if p1.Address() != base || p2.Address() != base {
		t.Errorf("pointer children at %v and %v", p1, p2)
	}
	if z, _ := GetAs[uint32](p1, "z"); z != 3 {
		t.Errorf("z through pointer = %d", z)
	}

	q, err := inst.Get("q")
	if err != nil || q != nil {
		t.Errorf("null pointer gave %v, %v", q, err)
	}

	c1, _ := inst.Child("c")
	put64(data, 20, 0)
	c2, _ := inst.Child("c")
	if c1 == nil || c1 != c2 {
		t.Error("cached pointer child was not reused")
	}
	if err := inst.Set("c", nil); err != nil {
		t.Fatal(err)
	}
	if c3, _ := inst.Get("c"); c3 != nil {
		t.Errorf("cleared cached pointer gave %v", c3)
	}
}

func TestShiftedHeaderBitfield(t *testing.T) {
	r := layout.NewRegistry()
	declare(t, r, layout.Decl{Name: "Header", Fields: []layout.Member{
		{Name: "a", Type: "u32"},
		{Name: "b", Type: "u8 | 2", Offset: layout.At(4)},
	}})
	if _, err := r.DeclareShift("", "Header", 16, layout.Cumulative); err != nil {
		t.Fatal(err)
	}
	declare(t, r, layout.Decl{Name: "Outer", Fields: []layout.Member{
		{Name: "h", Type: "Header_off_16"},
	}})

	const base = 0x2000
	data := make([]byte, 32)
	data[4] = 0x03 // unshifted location must not be read
	put32(data, 16, 0xdeadbeef)
	data[20] = 0xFD
	mem := process_blob.NewProcessBlob(base, data)
	h, err := Bind(structOf(t, r, "Outer"), mem, base).Child("h")
	if err != nil {
		t.Fatal(err)
	}

	if addr, _ := h.FieldAddress("b"); addr != base+16+4 {
		t.Errorf("b at %#x", addr)
	}
	if b, _ := h.Get("b"); b != uint64(1) {
		t.Errorf("b = %v, want 1", b)
	}
	if a, _ := h.Get("a"); a != uint32(0xdeadbeef) {
		t.Errorf("a = %v", a)
	}

	if err := h.Set("b", 2); err != nil {
		t.Fatal(err)
	}
	if data[20] != 0xFE {
		t.Errorf("storage byte = %#x, want 0xfe", data[20])
	}
}

func TestLenientAndStrict(t *testing.T) {
	r := layout.NewRegistry()
	declare(t, r, layout.Decl{Name: "Actor", Fields: []layout.Member{
		{Name: "id", Type: "u32"},
		{Name: "hp", Type: "i32", Offset: layout.At(0x100), Default: -1},
		{Name: "mp", Type: "i32", Offset: layout.At(0x104), Strict: true},
		{Name: "flag", Type: "bool | 1", Offset: layout.At(0x108)},
		{Name: "tick", Type: "u32", Offset: layout.At(4), Static: true},
	}})
	actor := structOf(t, r, "Actor")

	data := make([]byte, 8)
	put32(data, 0, 42)
	inst := Bind(actor, process_blob.NewProcessBlob(0x4000, data), 0x4000)

	hp, err := inst.Get("hp")
	if err != nil || hp != int32(-1) {
		t.Errorf("lenient hp = %v, %v", hp, err)
	}
	if flag, err := inst.Get("flag"); err != nil || flag != false {
		t.Errorf("lenient flag = %v, %v", flag, err)
	}
	if err := inst.Set("hp", 10); err != nil {
		t.Errorf("lenient write: %v", err)
	}

	_, err = inst.Get("mp")
	if !process.IsFault(err) {
		t.Errorf("strict mp err = %v, want a fault", err)
	}
	if err := inst.Set("mp", 1); !process.IsFault(err) {
		t.Errorf("strict write err = %v", err)
	}

	// only memory faults are swallowed
	boom := errors.New("boom")
	broken := Bind(actor, errMemory{boom}, 0x4000)
	if _, err := broken.Get("hp"); !errors.Is(err, boom) {
		t.Errorf("non-fault error = %v, want boom", err)
	}

	// unbound instances never touch memory
	unbound := Bind(actor, errMemory{boom}, 0)
	if hp, err := unbound.Get("hp"); err != nil || hp != int32(-1) {
		t.Errorf("unbound hp = %v, %v", hp, err)
	}
	if id, err := unbound.Get("id"); err != nil || id != uint32(0) {
		t.Errorf("unbound id = %v, %v", id, err)
	}
	if err := unbound.Set("id", 1); err != nil {
		t.Errorf("unbound write: %v", err)
	}
	if err := unbound.Set("mp", 1); !errors.Is(err, ErrUnbound) {
		t.Errorf("unbound strict write: %v", err)
	}

	// static fields use the static base even when unbound
	statics := make([]byte, 8)
	put32(statics, 4, 99)
	global := Bind(actor, process_blob.NewProcessBlob(0x9000, statics), 0, WithStaticBase(0x9000))
	if tick, err := global.Get("tick"); err != nil || tick != uint32(99) {
		t.Errorf("static tick = %v, %v", tick, err)
	}

	if _, err := inst.Get("nope"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("unknown field err = %v", err)
	}
}

func TestArraysAndTypedReads(t *testing.T) {
	r := layout.NewRegistry()
	declare(t, r,
		layout.Decl{Name: "Vec2", Fields: []layout.Member{{Name: "x", Type: "f32"}, {Name: "y", Type: "f32"}}},
		layout.Decl{Name: "Path", Fields: []layout.Member{
			{Name: "counts", Type: "[4]u16"},
			{Name: "points", Type: "[2]Vec2"},
			{Name: "grid", Type: "[2][2]u8"},
		}},
	)
	data := make([]byte, 64)
	mem := process_blob.NewProcessBlob(0x100, data)
	inst := Bind(structOf(t, r, "Path"), mem, 0x100)

	if err := inst.Set("counts", []int{1, 2}); err != nil {
		t.Fatal(err)
	}
	counts, err := GetAs[[]any](inst, "counts")
	if err != nil {
		t.Fatal(err)
	}
	if len(counts) != 4 || counts[0] != uint16(1) || counts[1] != uint16(2) || counts[3] != uint16(0) {
		t.Errorf("counts = %v", counts)
	}

	points, err := GetAs[[]*Instance](inst, "points")
	if err != nil {
		t.Fatal(err)
	}
	if err := points[1].Set("y", 2.5); err != nil {
		t.Fatal(err)
	}
	again, _ := GetAs[[]*Instance](inst, "points")
	if again[1] != points[1] || again[1].Address() != 0x100+8+8 {
		t.Errorf("points[1] = %v", again[1])
	}

	type vec2 struct{ X, Y float32 }
	v, err := ReadPOD[vec2](points[1], "x")
	if err == nil {
		t.Errorf("ReadPOD into a larger type succeeded: %+v", v)
	}
	raw, err := ReadPOD[float32](points[1], "y")
	if err != nil || raw != 2.5 {
		t.Errorf("ReadPOD = %v, %v", raw, err)
	}
	if _, err := ReadPOD[*int](points[1], "y"); err == nil {
		t.Error("ReadPOD accepted a pointer type")
	}

	if err := inst.Set("grid", [][]int{{1}, {2, 3}}); err != nil {
		t.Fatal(err)
	}
	grid, _ := GetAs[[]any](inst, "grid")
	row := grid[1].([]any)
	if row[0] != uint8(2) || row[1] != uint8(3) {
		t.Errorf("grid = %v", grid)
	}

	if err := inst.Set("points", nil); !errors.Is(err, ErrEmbeddedAssign) {
		t.Errorf("assigning struct array: %v", err)
	}
	if _, err := GetAs[string](inst, "counts"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("GetAs mismatch: %v", err)
	}
}

func TestEmbeddedAssignRejected(t *testing.T) {
	r := layout.NewRegistry()
	declare(t, r,
		layout.Decl{Name: "In", Fields: []layout.Member{{Name: "v", Type: "u8"}}},
		layout.Decl{Name: "Box", Fields: []layout.Member{{Name: "in", Type: "In"}}},
	)
	inst := Bind(structOf(t, r, "Box"), process_blob.NewProcessBlob(0x10, make([]byte, 4)), 0x10)
	if err := inst.Set("in", 1); !errors.Is(err, ErrEmbeddedAssign) {
		t.Errorf("err = %v", err)
	}
}
