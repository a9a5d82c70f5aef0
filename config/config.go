// Package config loads layout files: YAML documents declaring struct types,
// offset shifts, symbols and foreign functions into a layout.Registry.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"memstruct/layout"
	"memstruct/process"
	"memstruct/remote"

	"gopkg.in/yaml.v2"
)

// Shift declares an offset-shifted copy of an existing type.
type Shift struct {
	Name   string `yaml:"name"`
	From   string `yaml:"from"`
	Delta  uint64 `yaml:"delta"`
	Policy string `yaml:"policy,omitempty"`
}

// Function declares a foreign function.
//
// Kind is "static", "class" or "virtual". Virtual functions need VTIndex.
// Static and class functions take their address from the first of Symbol,
// Path (a pointer path from the static base), Address (absolute) or RVA
// (relative to the static base).
type Function struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	VTIndex  *int     `yaml:"vt_index,omitempty"`
	VTOffset uint64   `yaml:"vt_offset,omitempty"`
	Address  uint64   `yaml:"address,omitempty"`
	RVA      uint64   `yaml:"rva,omitempty"`
	Path     []uint64 `yaml:"path,omitempty"`
	Symbol   string   `yaml:"symbol,omitempty"`
	Ret      string   `yaml:"ret,omitempty"`
	Args     []string `yaml:"args,omitempty"`
}

// File is one layout document.
type File struct {
	Include    []string          `yaml:"include,omitempty"`
	StaticBase uint64            `yaml:"static_base,omitempty"`
	Symbols    map[string]uint64 `yaml:"symbols,omitempty"`
	Types      []layout.Decl     `yaml:"types,omitempty"`
	Shifts     []Shift           `yaml:"shifts,omitempty"`
	Functions  []Function        `yaml:"functions,omitempty"`
}

// Parse decodes a layout document. Unknown keys are errors.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}
	return &f, nil
}

// ReadFile reads and parses a layout document.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Layout is everything loaded from a set of layout files.
type Layout struct {
	Registry   *layout.Registry
	StaticBase process.ProcessMemoryAddress
	Symbols    remote.Symbols
	Functions  map[string]remote.Function

	mu     sync.Mutex
	mem    process.Memory
	loaded map[string]bool
	failed []error // include failures, kept even when a retry succeeds
}

// New returns an empty Layout.
func New() *Layout {
	return &Layout{
		Registry:  layout.NewRegistry(),
		Symbols:   remote.Symbols{},
		Functions: make(map[string]remote.Function),
		loaded:    make(map[string]bool),
	}
}

// Load reads path and everything it includes.
func Load(path string) (*Layout, error) {
	l := New()
	if err := l.LoadFile(path); err != nil {
		return nil, err
	}
	if err := l.Registry.ForcePending(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := errors.Join(l.failed...); err != nil {
		return nil, err
	}
	return l, nil
}

// LoadFile applies path. Includes are queued as pending definitions and
// load the first time a type expression needs them. A file is applied at
// most once.
func (l *Layout) LoadFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	seen := l.loaded[abs]
	l.loaded[abs] = true
	l.mu.Unlock()
	if seen {
		return nil
	}

	f, err := ReadFile(abs)
	if err != nil {
		return err
	}
	return l.Apply(f, filepath.Dir(abs))
}

// Apply adds the contents of f. Relative includes resolve against dir.
func (l *Layout) Apply(f *File, dir string) error {
	for _, inc := range f.Include {
		p := inc
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("include %s: %w", inc, err)
		}
		l.Registry.Defer(func(*layout.Registry) error {
			err := l.LoadFile(p)
			if err != nil {
				l.mu.Lock()
				l.failed = append(l.failed, err)
				l.mu.Unlock()
			}
			return err
		})
	}

	l.mu.Lock()
	if l.StaticBase.IsNull() {
		l.StaticBase = process.ProcessMemoryAddress(f.StaticBase)
	}
	for name, addr := range f.Symbols {
		l.Symbols[name] = process.ProcessMemoryAddress(addr)
	}
	l.mu.Unlock()

	// declarations may come in any order: retry whatever failed until a
	// pass makes no progress
	var steps []func() error
	for _, d := range f.Types {
		d := d
		steps = append(steps, func() error {
			_, err := l.Registry.Declare(d)
			return err
		})
	}
	for _, s := range f.Shifts {
		s := s
		policy, err := layout.ParseShiftPolicy(s.Policy)
		if err != nil {
			return fmt.Errorf("shift %s: %w", s.Name, err)
		}
		steps = append(steps, func() error {
			_, err := l.Registry.DeclareShift(s.Name, s.From, process.ProcessMemorySize(s.Delta), policy)
			return err
		})
	}
	for len(steps) > 0 {
		var failed []func() error
		var errs []error
		for _, step := range steps {
			if err := step(); err != nil {
				failed = append(failed, step)
				errs = append(errs, err)
			}
		}
		if len(failed) == len(steps) {
			return errors.Join(errs...)
		}
		steps = failed
	}

	for _, fn := range f.Functions {
		rf, err := l.function(fn)
		if err != nil {
			return fmt.Errorf("function %s: %w", fn.Name, err)
		}
		l.Functions[fn.Name] = rf
	}
	return nil
}

// Attach sets the memory pointer-path function addresses are read from.
func (l *Layout) Attach(mem process.Memory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mem = mem
}

// Bind binds the named struct at addr with the layout's static base.
func (l *Layout) Bind(typeName string, mem process.Memory, addr process.ProcessMemoryAddress) (*remote.Instance, error) {
	t, err := l.Registry.Struct(typeName)
	if err != nil {
		return nil, err
	}
	return remote.Bind(t, mem, addr, remote.WithStaticBase(l.StaticBase)), nil
}

func (l *Layout) function(fn Function) (remote.Function, error) {
	if fn.Name == "" {
		return nil, fmt.Errorf("function needs a name")
	}
	sig, err := remote.ParseSignature(fn.Ret, fn.Args...)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(fn.Kind) {
	case "virtual":
		if fn.VTIndex == nil {
			return nil, fmt.Errorf("virtual function needs vt_index")
		}
		return remote.NewVirtualFunction(fn.Name, remote.FixedSlot(process.ProcessMemorySize(fn.VTOffset), *fn.VTIndex), sig), nil
	case "static", "":
		return remote.NewStaticFunction(fn.Name, l.addressSource(fn), sig), nil
	case "class":
		return remote.NewClassFunction(fn.Name, l.addressSource(fn), sig), nil
	}
	return nil, fmt.Errorf("unknown function kind %q", fn.Kind)
}

func (l *Layout) addressSource(fn Function) remote.AddressSource {
	switch {
	case fn.Symbol != "":
		return remote.SymbolAddress(l.Symbols, fn.Symbol)
	case len(fn.Path) > 0:
		offsets := make([]process.ProcessMemorySize, len(fn.Path))
		for n, o := range fn.Path {
			offsets[n] = process.ProcessMemorySize(o)
		}
		return func() (process.ProcessMemoryAddress, error) {
			l.mu.Lock()
			mem, base := l.mem, l.StaticBase
			l.mu.Unlock()
			if mem == nil {
				return 0, fmt.Errorf("no memory attached for pointer path")
			}
			return remote.PathAddress(mem, base, offsets...)()
		}
	case fn.Address != 0:
		return remote.FixedAddress(process.ProcessMemoryAddress(fn.Address))
	case fn.RVA != 0:
		return func() (process.ProcessMemoryAddress, error) {
			l.mu.Lock()
			defer l.mu.Unlock()
			return l.StaticBase.Add(process.ProcessMemorySize(fn.RVA)), nil
		}
	}
	return nil
}
