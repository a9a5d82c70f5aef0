// Package bitfield reads and writes sub-byte fields that share a storage
// unit with their neighbours.
//
// The storage unit is the smallest of 1, 2, 4 or 8 bytes that covers
// bitOffset+bitSize bits. Writes are a read-modify-write of the whole unit
// and are not atomic against other writers of the same unit.
package bitfield

import (
	"fmt"

	"memstruct/process"
)

// MaxBits is the widest storage unit supported.
const MaxBits = 64

// StorageBytes returns the width of the storage unit holding a field of
// bitSize bits starting bitOffset bits into it.
func StorageBytes(bitOffset, bitSize uint) (process.ProcessMemorySize, error) {
	if bitSize == 0 {
		return 0, fmt.Errorf("bit size must be positive")
	}
	span := bitOffset + bitSize
	switch {
	case span <= 8:
		return 1, nil
	case span <= 16:
		return 2, nil
	case span <= 32:
		return 4, nil
	case span <= MaxBits:
		return 8, nil
	}
	return 0, fmt.Errorf("bit range [%d,%d) does not fit a %d-bit storage unit", bitOffset, span, MaxBits)
}

// Mask returns (1 << bitSize) - 1.
func Mask(bitSize uint) uint64 {
	if bitSize >= 64 {
		return ^uint64(0)
	}
	return uint64(1)<<bitSize - 1
}

// NextBit returns the position of the bit following (byteOffset, bitOffset).
// Useful for declaring runs of single-bit flags.
func NextBit(byteOffset, bitOffset uint) (uint, uint) {
	bitOffset++
	return byteOffset + bitOffset/8, bitOffset % 8
}

// Normalize folds whole bytes of bitOffset into byteOffset.
func Normalize(byteOffset, bitOffset uint) (uint, uint) {
	return byteOffset + bitOffset/8, bitOffset % 8
}

// Extract returns the field value from a storage unit.
func Extract(unit uint64, bitOffset, bitSize uint) uint64 {
	return (unit >> bitOffset) & Mask(bitSize)
}

// Insert returns unit with the field replaced by value. Bits of value above
// bitSize are dropped.
func Insert(unit uint64, bitOffset, bitSize uint, value uint64) uint64 {
	mask := Mask(bitSize)
	return (unit &^ (mask << bitOffset)) | ((value & mask) << bitOffset)
}

// Read fetches the storage unit at addr and extracts the field.
func Read(mem process.Memory, addr process.ProcessMemoryAddress, bitOffset, bitSize uint) (uint64, error) {
	width, err := StorageBytes(bitOffset, bitSize)
	if err != nil {
		return 0, err
	}
	unit, err := process.ReadUint(mem, addr, width)
	if err != nil {
		return 0, err
	}
	return Extract(unit, bitOffset, bitSize), nil
}

// Write replaces the field inside the storage unit at addr with value.
func Write(mem process.Memory, addr process.ProcessMemoryAddress, bitOffset, bitSize uint, value uint64) error {
	width, err := StorageBytes(bitOffset, bitSize)
	if err != nil {
		return err
	}
	unit, err := process.ReadUint(mem, addr, width)
	if err != nil {
		return err
	}
	return process.WriteUint(mem, addr, width, Insert(unit, bitOffset, bitSize, value))
}
