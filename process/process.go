// Package process provides the remote memory access layer: address types,
// the Memory and Process interfaces implemented by the backends, and typed
// helpers layered on raw byte reads and writes.
package process

import (
	"errors"
	"fmt"
)

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	// ErrNotWritable is returned when a write targets a region without write permission.
	ErrNotWritable = errors.New("region not writable")

	ErrInvalidPointer = errors.New("invalid pointer read")
)

// Fault is the error produced when a range of foreign memory cannot be read
// or written: the range is unmapped, protected, or the handle is closed.
// Unreadable memory is an expected condition, callers decide whether to
// substitute a default or propagate.
type Fault struct {
	Op      string // "read" or "write"
	Address ProcessMemoryAddress
	Size    ProcessMemorySize
	Cause   error
}

func (f *Fault) Error() string {
	if f.Cause == nil {
		return fmt.Sprintf("%s of %d bytes at 0x%X failed", f.Op, f.Size, uint64(f.Address))
	}
	return fmt.Sprintf("%s of %d bytes at 0x%X failed: %v", f.Op, f.Size, uint64(f.Address), f.Cause)
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// ReadFault wraps cause as a read Fault.
func ReadFault(addr ProcessMemoryAddress, size ProcessMemorySize, cause error) error {
	return &Fault{Op: "read", Address: addr, Size: size, Cause: cause}
}

// WriteFault wraps cause as a write Fault.
func WriteFault(addr ProcessMemoryAddress, size ProcessMemorySize, cause error) error {
	return &Fault{Op: "write", Address: addr, Size: size, Cause: cause}
}

// IsFault reports whether err is, or wraps, a Fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}
