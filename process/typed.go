package process

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Typed convenience forms over Memory. Values are little endian.

// ReadUint reads an unsigned integer of size bytes (1, 2, 4 or 8).
func ReadUint(mem Memory, addr ProcessMemoryAddress, size ProcessMemorySize) (uint64, error) {
	if !validIntSize(size) {
		return 0, fmt.Errorf("ReadUint: invalid size %d", size)
	}
	data, err := mem.ReadMemory(addr, size)
	if err != nil {
		return 0, err
	}
	return DecodeUint(data), nil
}

// WriteUint writes the low size bytes of v (1, 2, 4 or 8).
func WriteUint(mem Memory, addr ProcessMemoryAddress, size ProcessMemorySize, v uint64) error {
	if !validIntSize(size) {
		return fmt.Errorf("WriteUint: invalid size %d", size)
	}
	return mem.WriteMemory(addr, EncodeUint(v, size))
}

// ReadInt reads a sign-extended integer of size bytes.
func ReadInt(mem Memory, addr ProcessMemoryAddress, size ProcessMemorySize) (int64, error) {
	u, err := ReadUint(mem, addr, size)
	if err != nil {
		return 0, err
	}
	shift := 64 - 8*uint(size)
	return int64(u<<shift) >> shift, nil
}

// ReadUINT8 reads an unsigned 8-bit integer from the specified address
func ReadUINT8(mem Memory, addr ProcessMemoryAddress) (uint8, error) {
	v, err := ReadUint(mem, addr, 1)
	return uint8(v), err
}

// ReadUINT16 reads an unsigned 16-bit integer from the specified address
func ReadUINT16(mem Memory, addr ProcessMemoryAddress) (uint16, error) {
	v, err := ReadUint(mem, addr, 2)
	return uint16(v), err
}

// ReadUINT32 reads an unsigned 32-bit integer from the specified address
func ReadUINT32(mem Memory, addr ProcessMemoryAddress) (uint32, error) {
	v, err := ReadUint(mem, addr, 4)
	return uint32(v), err
}

// ReadUINT64 reads an unsigned 64-bit integer from the specified address
func ReadUINT64(mem Memory, addr ProcessMemoryAddress) (uint64, error) {
	return ReadUint(mem, addr, 8)
}

// ReadFLOAT32 reads a 32-bit floating point number from the specified address
func ReadFLOAT32(mem Memory, addr ProcessMemoryAddress) (float32, error) {
	v, err := ReadUint(mem, addr, 4)
	return math.Float32frombits(uint32(v)), err
}

// ReadFLOAT64 reads a 64-bit floating point number from the specified address
func ReadFLOAT64(mem Memory, addr ProcessMemoryAddress) (float64, error) {
	v, err := ReadUint(mem, addr, 8)
	return math.Float64frombits(v), err
}

// ReadPointer reads a pointer value from the specified address
func ReadPointer(mem Memory, addr ProcessMemoryAddress) (ProcessMemoryAddress, error) {
	v, err := ReadUint(mem, addr, PointerSize)
	return ProcessMemoryAddress(v), err
}

// ReadPointer2 reads a pointer value from the specified address, zero on error
func ReadPointer2(mem Memory, addr ProcessMemoryAddress) ProcessMemoryAddress {
	if addr.IsNull() {
		return 0
	}
	ptr, err := ReadPointer(mem, addr)
	if err != nil {
		return 0
	}
	return ptr
}

// WritePointer writes a pointer value at the specified address
func WritePointer(mem Memory, addr ProcessMemoryAddress, ptr ProcessMemoryAddress) error {
	return WriteUint(mem, addr, PointerSize, uint64(ptr))
}

// ReadNTS reads a null-terminated string from the specified address with a maximum length
func ReadNTS(mem Memory, addr ProcessMemoryAddress, maxLength ProcessMemorySize) (string, error) {
	if maxLength == 0 {
		return "", nil
	}

	data, err := mem.ReadMemory(addr, maxLength)
	if err != nil {
		return "", err
	}

	for i, b := range data {
		if b == 0 {
			return string(data[:i]), nil
		}
	}
	return string(data), nil
}

// DecodeUint decodes a little endian unsigned integer of len(data) bytes.
func DecodeUint(data []byte) uint64 {
	switch len(data) {
	case 1:
		return uint64(data[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(data))
	case 4:
		return uint64(binary.LittleEndian.Uint32(data))
	case 8:
		return binary.LittleEndian.Uint64(data)
	}
	var v uint64
	for i := len(data) - 1; i >= 0; i-- {
		v = v<<8 | uint64(data[i])
	}
	return v
}

// EncodeUint encodes the low size bytes of v little endian.
func EncodeUint(v uint64, size ProcessMemorySize) []byte {
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

func validIntSize(size ProcessMemorySize) bool {
	return size == 1 || size == 2 || size == 4 || size == 8
}
