package remote

import (
	"errors"
	"testing"

	"memstruct/layout"
	"memstruct/process"
	"memstruct/process_blob"
)

type recordingExecutor struct {
	calls []*Call
}

func (e *recordingExecutor) Execute(call *Call) (Result, error) {
	e.calls = append(e.calls, call)
	return Result{Value: int32(7), Out: []any{int32(9)}}, nil
}

func TestParseSignature(t *testing.T) {
	sig, err := ParseSignature("c_int", "c_float", "out c_int")
	if err != nil {
		t.Fatal(err)
	}
	if got := sig.String(); got != "c_int(c_float, out c_int)" {
		t.Errorf("String() = %q", got)
	}
	if sig.InArgs() != 1 {
		t.Errorf("InArgs() = %d", sig.InArgs())
	}
	void, _ := ParseSignature("void")
	if void.String() != "void()" {
		t.Errorf("void signature = %q", void.String())
	}
	if _, err := ParseSignature("c_int", "out [x]u8"); err == nil {
		t.Error("accepted a bad argument type")
	}
	mixed, err := ParseSignature("void", "OUT c_int", "Out  c_float")
	if err != nil {
		t.Fatal(err)
	}
	if got := mixed.String(); got != "void(out c_int, out c_float)" || mixed.InArgs() != 0 {
		t.Errorf("mixed case out args = %q", got)
	}
}

func TestVirtualFunction(t *testing.T) {
	r := layout.NewRegistry()
	declare(t, r, layout.Decl{Name: "Object", Fields: []layout.Member{{Name: "vtable", Type: "ptr"}}})

	const obj, vtbl = 0x3000, 0x3100
	data := make([]byte, 0x200)
	put64(data, 0, vtbl)
	put64(data, 0x100, 0x5000)
	put64(data, 0x108, 0x6000)
	put64(data, 0x110, 0x7000)
	inst := Bind(structOf(t, r, "Object"), process_blob.NewProcessBlob(obj, data), obj)

	lookups := 0
	sig, _ := ParseSignature("c_int", "c_float", "out c_int")
	fn := NewVirtualFunction("Update", func() (VTableSlot, error) {
		lookups++
		return VTableSlot{Offset: 0, Index: 2}, nil
	}, sig)

	call, err := fn.Bind(inst, float32(1.5))
	if err != nil {
		t.Fatal(err)
	}
	if call.Address != 0x7000 {
		t.Errorf("address = %#x", call.Address)
	}
	if got := call.Signature.String(); got != "c_int(ptr, c_float, out c_int)" {
		t.Errorf("signature = %q", got)
	}
	payload := call.Payload()
	if len(payload) != 3 || payload[0].Value != process.ProcessMemoryAddress(obj) ||
		payload[1].Value != float32(1.5) || !payload[2].Out || payload[2].Value != nil {
		t.Errorf("payload = %+v", payload)
	}

	// the vtable entry is read again on every call
	put64(data, 0x110, 0x8000)
	exec := &recordingExecutor{}
	res, err := CallFunction(exec, fn, inst, float32(2))
	if err != nil {
		t.Fatal(err)
	}
	if exec.calls[0].Address != 0x8000 || res.Value != int32(7) || res.Out[0] != int32(9) {
		t.Errorf("call %v result %+v", exec.calls[0], res)
	}
	if lookups != 1 {
		t.Errorf("slot looked up %d times", lookups)
	}

	if _, err := fn.Bind(inst); !errors.Is(err, ErrArgCount) {
		t.Errorf("missing argument: %v", err)
	}
	var re *ResolutionError
	if _, err := fn.Bind(inst.At(0), float32(1)); !errors.As(err, &re) {
		t.Errorf("unbound instance: %v", err)
	}
	put64(data, 0, 0)
	if _, err := fn.Bind(inst, float32(1)); !errors.As(err, &re) {
		t.Errorf("null vtable: %v", err)
	}
	if _, err := call.Invoke(nil); !errors.Is(err, ErrNoExecutor) {
		t.Errorf("nil executor: %v", err)
	}
}

func TestStaticAndClassFunctions(t *testing.T) {
	lookups := 0
	source := func() (process.ProcessMemoryAddress, error) {
		lookups++
		return 0x140001000, nil
	}
	sig, _ := ParseSignature("void", "c_int")

	static := NewStaticFunction("Init", source, sig)
	for n := 0; n < 2; n++ {
		call, err := static.Bind(nil, 5)
		if err != nil || call.Address != 0x140001000 || len(call.Args) != 1 {
			t.Fatalf("static bind = %+v, %v", call, err)
		}
	}
	if lookups != 1 {
		t.Errorf("address resolved %d times", lookups)
	}

	r := layout.NewRegistry()
	declare(t, r, layout.Decl{Name: "Thing", Fields: []layout.Member{{Name: "v", Type: "u8"}}})
	inst := Bind(structOf(t, r, "Thing"), process_blob.NewProcessBlob(0x500, make([]byte, 1)), 0x500)

	method := NewClassFunction("Touch", FixedAddress(0x140002000), sig)
	call, err := method.Bind(inst, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(call.Args) != 2 || call.Args[0] != process.ProcessMemoryAddress(0x500) || call.Args[1] != 5 {
		t.Errorf("class call args = %v", call.Args)
	}
	call, err = method.Bind(nil, 5)
	if err != nil || len(call.Args) != 1 {
		t.Errorf("class call without instance = %+v, %v", call, err)
	}

	missing := NewStaticFunction("Gone", SymbolAddress(Symbols{"Here": 0x10}, "Gone"), sig)
	var re *ResolutionError
	if _, err := missing.Bind(nil, 1); !errors.As(err, &re) {
		t.Errorf("missing symbol: %v", err)
	}
	found := NewStaticFunction("Here", SymbolAddress(Symbols{"Here": 0x10}, "Here"), sig)
	if addr, err := found.Address(); err != nil || addr != 0x10 {
		t.Errorf("symbol address = %#x, %v", addr, err)
	}
}

func TestPathAddress(t *testing.T) {
	data := make([]byte, 0x40)
	put64(data, 0x08, 0x720)
	put64(data, 0x28, 0x140003000)
	mem := process_blob.NewProcessBlob(0x700, data)

	sig, _ := ParseSignature("void")
	fn := NewStaticFunction("Tick", PathAddress(mem, 0x700, 0x08, 0x08), sig)
	addr, err := fn.Address()
	if err != nil || addr != 0x140003000 {
		t.Errorf("path address = %#x, %v", addr, err)
	}
}
