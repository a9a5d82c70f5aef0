// Package search finds pointer paths from a base address to a value. A
// result's Path can be handed to process.ReadPath or used as a function's
// pointer path in a layout file.
package search

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"memstruct/layout"
	"memstruct/process"
)

// Searcher holds configuration for the search
type Searcher struct {
	MaxStructSize uint
	MaxDepth      int
	MinAlignment  uint
	SearchFor     func([]byte) bool
}

// Option is a function that configures a Searcher
type Option func(*Searcher) error

func WithMaxStructSize(size uint) Option {
	return func(s *Searcher) error {
		s.MaxStructSize = size
		return nil
	}
}

func WithMaxDepth(depth int) Option {
	return func(s *Searcher) error {
		s.MaxDepth = depth
		return nil
	}
}

func WithMinAlignment(align uint) Option {
	return func(s *Searcher) error {
		if align == 0 {
			return fmt.Errorf("alignment must be positive")
		}
		s.MinAlignment = align
		return nil
	}
}

// WithBytes searches for an exact byte pattern.
func WithBytes(pattern []byte) Option {
	return func(s *Searcher) error {
		if len(pattern) == 0 {
			return fmt.Errorf("empty search pattern")
		}
		s.SearchFor = func(data []byte) bool { return bytes.HasPrefix(data, pattern) }
		return nil
	}
}

// WithValue searches for v encoded as the primitive p.
func WithValue(p *layout.Primitive, v any) Option {
	return func(s *Searcher) error {
		b, err := p.Encode(v)
		if err != nil {
			return fmt.Errorf("search value: %w", err)
		}
		return WithBytes(b)(s)
	}
}

// WithAddress searches for pointers to addr.
func WithAddress(addr process.ProcessMemoryAddress) Option {
	return WithBytes(process.EncodeUint(uint64(addr), process.PointerSize))
}

// SearchResult represents a found path to the target
type SearchResult struct {
	Path    []process.ProcessMemorySize // Offsets from base
	Address process.ProcessMemoryAddress
}

func (r SearchResult) String() string {
	return fmt.Sprintf("%s -> 0x%x", FormatPath(r.Path), uint64(r.Address))
}

// FormatPath renders offsets as a YAML flow list.
func FormatPath(path []process.ProcessMemorySize) string {
	parts := make([]string, len(path))
	for i, o := range path {
		parts[i] = fmt.Sprintf("0x%x", uint64(o))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Search walks up to MaxDepth pointers from base looking for the target.
// Pointers are followed when mem reports them valid (process.AddressValidator)
// or, failing that, when a byte at the target can be read.
func Search(mem process.Memory, base process.ProcessMemoryAddress, options ...Option) ([]SearchResult, error) {
	s := &Searcher{
		MaxStructSize: 256, // Default
		MaxDepth:      3,   // Default
		MinAlignment:  4,   // Default
	}

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.SearchFor == nil {
		return nil, fmt.Errorf("no search target specified")
	}

	valid := func(addr process.ProcessMemoryAddress) bool {
		_, err := mem.ReadMemory(addr, 1)
		return err == nil
	}
	if v, ok := mem.(process.AddressValidator); ok {
		valid = v.IsValidAddress
	}

	var results []SearchResult
	visited := make(map[process.ProcessMemoryAddress]bool)

	var searchRecursive func(addr process.ProcessMemoryAddress, depth int, path []process.ProcessMemorySize)
	searchRecursive = func(addr process.ProcessMemoryAddress, depth int, path []process.ProcessMemorySize) {
		if depth > s.MaxDepth || visited[addr] {
			return
		}
		visited[addr] = true

		data, err := mem.ReadMemory(addr, process.ProcessMemorySize(s.MaxStructSize))
		if err != nil {
			return
		}

		for offset := uint(0); offset+s.MinAlignment <= uint(len(data)); offset += s.MinAlignment {
			next := append(append([]process.ProcessMemorySize{}, path...), process.ProcessMemorySize(offset))

			if s.SearchFor(data[offset:]) {
				results = append(results, SearchResult{Path: next, Address: addr.Add(process.ProcessMemorySize(offset))})
			}

			if offset%8 != 0 || depth >= s.MaxDepth || offset+8 > uint(len(data)) {
				continue
			}
			ptr := process.ProcessMemoryAddress(binary.LittleEndian.Uint64(data[offset:]))
			if !ptr.IsNull() && valid(ptr) {
				searchRecursive(ptr, depth+1, next)
			}
		}
	}

	searchRecursive(base, 0, nil)

	return results, nil
}
