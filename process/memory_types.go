package process

import (
	"fmt"
)

// PointerSize is the width of a pointer in the target address space.
// Only 64-bit targets are supported.
const PointerSize = 8

// ProcessMemoryAddress represents a memory address within a process
type ProcessMemoryAddress uint64

func (pma ProcessMemoryAddress) ToString() string {
	return fmt.Sprintf("0x%X", uint64(pma))
}

// Add returns the address offset by n bytes.
func (pma ProcessMemoryAddress) Add(n ProcessMemorySize) ProcessMemoryAddress {
	return pma + ProcessMemoryAddress(n)
}

// IsNull reports whether the address is the null address.
func (pma ProcessMemoryAddress) IsNull() bool {
	return pma == 0
}

// ProcessMemorySize represents a size of memory region
type ProcessMemorySize uint

func (pms ProcessMemorySize) ToString() string {
	return fmt.Sprintf("%d bytes", uint(pms))
}
