package process

import (
	"memstruct/process/memory_map"
)

// Memory is the byte-level view of a foreign address space. Implementations
// must be safe for concurrent use on distinct addresses. Every failed access
// is reported as a *Fault.
type Memory interface {
	// ReadMemory reads size bytes starting at addr
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)

	// WriteMemory writes data starting at addr
	WriteMemory(addr ProcessMemoryAddress, data []byte) error
}

// Process is a Memory bound to an operating system process
type Process interface {
	Memory

	// Open opens a process with the given PID for memory operations
	Open(pid ProcessID) error

	// Close closes the process and releases resources
	Close() error

	// GetPID returns the process ID
	GetPID() ProcessID

	// UpdateMemoryMap refreshes the memory map for the process
	UpdateMemoryMap() error

	// IsValidAddress checks if the given memory address is valid and readable
	IsValidAddress(addr ProcessMemoryAddress) bool

	// GetMemoryMap returns a copy of the current memory map
	GetMemoryMap() ([]memory_map.MemoryMapItem, error)
}

// ProcessID represents a unique identifier for a process
type ProcessID int

// AddressValidator is implemented by address spaces that can tell whether an
// address is mapped without reading it.
type AddressValidator interface {
	IsValidAddress(addr ProcessMemoryAddress) bool
}
