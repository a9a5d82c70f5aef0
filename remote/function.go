package remote

import (
	"fmt"
	"strings"
	"sync"

	"memstruct/layout"
	"memstruct/process"
)

// outPrefix marks an argument the callee side allocates and returns.
const outPrefix = "out "

// Arg is one parameter of a foreign function.
type Arg struct {
	Type string
	Out  bool
}

func (a Arg) String() string {
	if a.Out {
		return outPrefix + a.Type
	}
	return a.Type
}

// Signature is the canonical description of a foreign call handed to the
// executor. An empty Ret means void.
type Signature struct {
	Ret  string
	Args []Arg
}

// ParseSignature validates ret and args. An argument written "out T" is an
// out-parameter.
func ParseSignature(ret string, args ...string) (Signature, error) {
	sig := Signature{Ret: strings.TrimSpace(ret)}
	if sig.Ret != "" && sig.Ret != "void" {
		if _, err := layout.ParseExpr(sig.Ret); err != nil {
			return Signature{}, fmt.Errorf("return type: %w", err)
		}
	}
	if sig.Ret == "void" {
		sig.Ret = ""
	}
	for n, a := range args {
		a = strings.TrimSpace(a)
		arg := Arg{Type: a}
		if len(a) > len(outPrefix) && strings.EqualFold(a[:len(outPrefix)], outPrefix) {
			arg = Arg{Type: strings.TrimSpace(a[len(outPrefix):]), Out: true}
		}
		if _, err := layout.ParseExpr(arg.Type); err != nil {
			return Signature{}, fmt.Errorf("argument %d: %w", n, err)
		}
		sig.Args = append(sig.Args, arg)
	}
	return sig, nil
}

// String renders the signature as ret(arg, out arg).
func (s Signature) String() string {
	ret := s.Ret
	if ret == "" {
		ret = "void"
	}
	parts := make([]string, len(s.Args))
	for n, a := range s.Args {
		parts[n] = a.String()
	}
	return ret + "(" + strings.Join(parts, ", ") + ")"
}

// InArgs counts the arguments the caller supplies.
func (s Signature) InArgs() int {
	n := 0
	for _, a := range s.Args {
		if !a.Out {
			n++
		}
	}
	return n
}

// withThis prepends the implicit instance pointer.
func (s Signature) withThis() Signature {
	args := make([]Arg, 0, len(s.Args)+1)
	args = append(args, Arg{Type: "ptr"})
	args = append(args, s.Args...)
	return Signature{Ret: s.Ret, Args: args}
}

// Slot is one entry of a call payload. Out slots carry no value; the
// executor allocates scratch storage for them.
type Slot struct {
	Type  string
	Out   bool
	Value any
}

// Call is a foreign function bound to an address and arguments, ready to
// hand to an Executor.
type Call struct {
	Function  string
	Address   process.ProcessMemoryAddress
	Signature Signature
	Args      []any
}

// Payload interleaves the supplied arguments with out slots in signature order.
func (c *Call) Payload() []Slot {
	slots := make([]Slot, len(c.Signature.Args))
	next := 0
	for n, a := range c.Signature.Args {
		slots[n] = Slot{Type: a.Type, Out: a.Out}
		if !a.Out && next < len(c.Args) {
			slots[n].Value = c.Args[next]
			next++
		}
	}
	return slots
}

func (c *Call) String() string {
	return fmt.Sprintf("%s@%s %s", c.Function, c.Address.ToString(), c.Signature.String())
}

// Invoke runs the call through exec.
func (c *Call) Invoke(exec Executor) (Result, error) {
	if exec == nil {
		return Result{}, fmt.Errorf("%s: %w", c.Function, ErrNoExecutor)
	}
	return exec.Execute(c)
}

// Result is what a foreign call produced: the return value and the final
// contents of the out slots, in order.
type Result struct {
	Value any
	Out   []any
}

// Executor performs foreign calls. The transport that reaches the target
// process lives outside this package.
type Executor interface {
	Execute(call *Call) (Result, error)
}

// Function is anything that can be bound into a Call.
type Function interface {
	Name() string
	Signature() Signature
	Bind(inst *Instance, args ...any) (*Call, error)
}

// AddressSource yields a function address.
type AddressSource func() (process.ProcessMemoryAddress, error)

// FixedAddress always yields addr.
func FixedAddress(addr process.ProcessMemoryAddress) AddressSource {
	return func() (process.ProcessMemoryAddress, error) { return addr, nil }
}

// PathAddress follows a pointer path and reads the function pointer at its end.
func PathAddress(mem process.Memory, base process.ProcessMemoryAddress, offsets ...process.ProcessMemorySize) AddressSource {
	return func() (process.ProcessMemoryAddress, error) {
		return process.ReadPath[process.ProcessMemoryAddress](mem, base, offsets...)
	}
}

// SymbolTable maps exported names to addresses.
type SymbolTable interface {
	LookupSymbol(name string) (process.ProcessMemoryAddress, bool)
}

// Symbols is a SymbolTable backed by a map.
type Symbols map[string]process.ProcessMemoryAddress

func (s Symbols) LookupSymbol(name string) (process.ProcessMemoryAddress, bool) {
	addr, ok := s[name]
	return addr, ok
}

// SymbolAddress looks name up in table.
func SymbolAddress(table SymbolTable, name string) AddressSource {
	return func() (process.ProcessMemoryAddress, error) {
		addr, ok := table.LookupSymbol(name)
		if !ok {
			return 0, fmt.Errorf("symbol %q not found", name)
		}
		return addr, nil
	}
}

// StaticFunction is called without an instance. Its address is resolved
// once, on first use.
type StaticFunction struct {
	name   string
	sig    Signature
	source AddressSource

	mu   sync.Mutex
	addr process.ProcessMemoryAddress
}

func NewStaticFunction(name string, source AddressSource, sig Signature) *StaticFunction {
	return &StaticFunction{name: name, sig: sig, source: source}
}

func (f *StaticFunction) Name() string         { return f.name }
func (f *StaticFunction) Signature() Signature { return f.sig }

// Address resolves and memoizes the function address.
func (f *StaticFunction) Address() (process.ProcessMemoryAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.addr.IsNull() {
		return f.addr, nil
	}
	if f.source == nil {
		return 0, &ResolutionError{Function: f.name, Detail: "no address source"}
	}
	addr, err := f.source()
	if err != nil {
		return 0, &ResolutionError{Function: f.name, Detail: "address lookup failed", Cause: err}
	}
	if addr.IsNull() {
		return 0, &ResolutionError{Function: f.name, Detail: "address is null"}
	}
	log.Debugln("resolved", f.name, "at", addr.ToString())
	f.addr = addr
	return addr, nil
}

// Bind ignores inst.
func (f *StaticFunction) Bind(inst *Instance, args ...any) (*Call, error) {
	return f.bind(f.sig, args)
}

func (f *StaticFunction) bind(sig Signature, args []any) (*Call, error) {
	if len(args) != sig.InArgs() {
		return nil, fmt.Errorf("%s %s: got %d arguments: %w", f.name, sig.String(), len(args), ErrArgCount)
	}
	addr, err := f.Address()
	if err != nil {
		return nil, err
	}
	return &Call{Function: f.name, Address: addr, Signature: sig, Args: args}, nil
}

// ClassFunction is a fixed-address member function. Bound to an instance
// it receives the instance address as an implicit first argument; bound to
// nil it is called like a static function.
type ClassFunction struct {
	StaticFunction
}

func NewClassFunction(name string, source AddressSource, sig Signature) *ClassFunction {
	return &ClassFunction{StaticFunction{name: name, sig: sig, source: source}}
}

func (f *ClassFunction) Bind(inst *Instance, args ...any) (*Call, error) {
	if inst == nil {
		return f.bind(f.sig, args)
	}
	return f.bind(f.sig.withThis(), append([]any{inst.addr}, args...))
}

// VTableSlot locates a function in an instance's vtable: the vtable pointer
// is stored Offset bytes into the instance and the function is entry Index.
type VTableSlot struct {
	Offset process.ProcessMemorySize
	Index  int
}

// SlotSource yields a vtable slot.
type SlotSource func() (VTableSlot, error)

// FixedSlot always yields the given slot.
func FixedSlot(offset process.ProcessMemorySize, index int) SlotSource {
	return func() (VTableSlot, error) { return VTableSlot{Offset: offset, Index: index}, nil }
}

// VirtualFunction dispatches through the instance's vtable. The slot is
// resolved once; the vtable and the entry are read on every Bind since the
// object may be re-typed between calls.
type VirtualFunction struct {
	name   string
	sig    Signature
	source SlotSource

	mu       sync.Mutex
	slot     VTableSlot
	resolved bool
}

func NewVirtualFunction(name string, source SlotSource, sig Signature) *VirtualFunction {
	return &VirtualFunction{name: name, sig: sig, source: source}
}

func (f *VirtualFunction) Name() string         { return f.name }
func (f *VirtualFunction) Signature() Signature { return f.sig }

// Slot resolves and memoizes the vtable slot.
func (f *VirtualFunction) Slot() (VTableSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return f.slot, nil
	}
	if f.source == nil {
		return VTableSlot{}, &ResolutionError{Function: f.name, Detail: "no vtable slot"}
	}
	slot, err := f.source()
	if err != nil {
		return VTableSlot{}, &ResolutionError{Function: f.name, Detail: "vtable slot lookup failed", Cause: err}
	}
	if slot.Index < 0 {
		return VTableSlot{}, &ResolutionError{Function: f.name, Detail: fmt.Sprintf("negative vtable index %d", slot.Index)}
	}
	f.slot, f.resolved = slot, true
	return slot, nil
}

// Address reads the function pointer for inst.
func (f *VirtualFunction) Address(inst *Instance) (process.ProcessMemoryAddress, error) {
	if inst == nil || inst.IsNull() {
		return 0, &ResolutionError{Function: f.name, Detail: "virtual function needs a bound instance"}
	}
	slot, err := f.Slot()
	if err != nil {
		return 0, err
	}
	vtable, err := process.ReadPointer(inst.mem, inst.addr.Add(slot.Offset))
	if err != nil {
		return 0, &ResolutionError{Function: f.name, Detail: "reading vtable pointer", Cause: err}
	}
	if vtable.IsNull() {
		return 0, &ResolutionError{Function: f.name, Detail: "vtable pointer is null"}
	}
	entry := vtable.Add(process.ProcessMemorySize(slot.Index) * process.PointerSize)
	addr, err := process.ReadPointer(inst.mem, entry)
	if err != nil {
		return 0, &ResolutionError{Function: f.name, Detail: "reading vtable entry", Cause: err}
	}
	if addr.IsNull() {
		return 0, &ResolutionError{Function: f.name, Detail: fmt.Sprintf("vtable entry %d is null", slot.Index)}
	}
	return addr, nil
}

func (f *VirtualFunction) Bind(inst *Instance, args ...any) (*Call, error) {
	sig := f.sig.withThis()
	if len(args) != f.sig.InArgs() {
		return nil, fmt.Errorf("%s %s: got %d arguments: %w", f.name, f.sig.String(), len(args), ErrArgCount)
	}
	addr, err := f.Address(inst)
	if err != nil {
		return nil, err
	}
	return &Call{Function: f.name, Address: addr, Signature: sig, Args: append([]any{inst.addr}, args...)}, nil
}

// CallFunction binds fn to inst and runs it through exec.
func CallFunction(exec Executor, fn Function, inst *Instance, args ...any) (Result, error) {
	call, err := fn.Bind(inst, args...)
	if err != nil {
		return Result{}, err
	}
	return call.Invoke(exec)
}
