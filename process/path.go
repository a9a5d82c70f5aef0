package process

import (
	"fmt"
	"unsafe"
)

// ReadPath reads a value of type T at the end of a pointer path.
// It starts at base, adds the first offset, reads a pointer, adds the next offset, reads a pointer, etc.
// The last offset is added to the final pointer, and then T is read from that address.
// If offsets is empty, it reads T from base.
func ReadPath[T any](mem Memory, base ProcessMemoryAddress, offsets ...ProcessMemorySize) (T, error) {
	var zero T

	addr, err := ResolvePath(mem, base, offsets...)
	if err != nil {
		return zero, err
	}

	val, err := Read[T](mem, addr)
	if err != nil {
		return zero, fmt.Errorf("failed to read final value at 0x%x: %w", addr, err)
	}

	return val, nil
}

// ResolvePath follows a pointer path like ReadPath and returns the final
// address instead of reading a value there.
func ResolvePath(mem Memory, base ProcessMemoryAddress, offsets ...ProcessMemorySize) (ProcessMemoryAddress, error) {
	currentAddr := base

	// Iterate over all offsets except the last one
	for i := 0; i < len(offsets)-1; i++ {
		ptrAddr := currentAddr.Add(offsets[i])

		ptrVal, err := ReadPointer(mem, ptrAddr)
		if err != nil {
			return 0, fmt.Errorf("failed to read pointer at offset %d (addr 0x%x): %w", i, ptrAddr, err)
		}

		if ptrVal.IsNull() {
			return 0, fmt.Errorf("pointer at offset %d (addr 0x%x) is null: %w", i, ptrAddr, ErrInvalidPointer)
		}

		currentAddr = ptrVal
	}

	if len(offsets) > 0 {
		currentAddr = currentAddr.Add(offsets[len(offsets)-1])
	}
	return currentAddr, nil
}

// Read copies sizeof(T) bytes at addr into a new T.
// T must be POD: no pointers, slices, strings or other Go-managed references.
func Read[T any](mem Memory, addr ProcessMemoryAddress) (T, error) {
	var t T
	size := ProcessMemorySize(unsafe.Sizeof(t))
	if size == 0 {
		return t, nil
	}

	data, err := mem.ReadMemory(addr, size)
	if err != nil {
		return t, err
	}

	copyTo(&t, data)
	return t, nil
}

// Write stores the in-memory representation of v at addr.
func Write[T any](mem Memory, addr ProcessMemoryAddress, v T) error {
	size := int(unsafe.Sizeof(v))
	if size == 0 {
		return nil
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	out := make([]byte, size)
	copy(out, src)
	return mem.WriteMemory(addr, out)
}

// copyTo copies bytes to *T
func copyTo[T any](dst *T, src []byte) {
	size := int(unsafe.Sizeof(*dst))
	if len(src) < size {
		return // Should not happen if ReadMemory succeeded with correct size
	}

	dstBytes := unsafe.Slice((*byte)(unsafe.Pointer(dst)), size)
	copy(dstBytes, src)
}
