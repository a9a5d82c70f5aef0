// Package process_blob provides address spaces backed by Go byte slices:
// a single contiguous ProcessBlob and a multi-region ProcessDump that can be
// saved to and loaded from disk.
package process_blob

import (
	"fmt"

	"memstruct/process"
)

// ProcessBlob is one contiguous, writable range of foreign memory held locally
type ProcessBlob struct {
	baseaddress process.ProcessMemoryAddress
	data        []byte
}

var _ process.Memory = (*ProcessBlob)(nil)
var _ process.AddressValidator = (*ProcessBlob)(nil)

// NewProcessBlob wraps data as the memory starting at baseAddress. The slice is not copied.
func NewProcessBlob(baseAddress process.ProcessMemoryAddress, data []byte) *ProcessBlob {
	return &ProcessBlob{
		baseaddress: baseAddress,
		data:        data,
	}
}

// Base returns the address of the first byte.
func (p *ProcessBlob) Base() process.ProcessMemoryAddress {
	return p.baseaddress
}

func (p *ProcessBlob) Data() []byte {
	return p.data
}

func (p *ProcessBlob) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	_, ok := p.span(addr, 1)
	return ok
}

func (p *ProcessBlob) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	offset, ok := p.span(addr, size)
	if !ok {
		return nil, process.ReadFault(addr, size, process.ErrAddressNotMapped)
	}
	out := make([]byte, size)
	copy(out, p.data[offset:])
	return out, nil
}

func (p *ProcessBlob) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	size := process.ProcessMemorySize(len(data))
	offset, ok := p.span(addr, size)
	if !ok {
		return process.WriteFault(addr, size, process.ErrAddressNotMapped)
	}
	copy(p.data[offset:], data)
	return nil
}

func (p *ProcessBlob) String() string {
	return fmt.Sprintf("blob 0x%X+%d", uint64(p.baseaddress), len(p.data))
}

// span returns the offset of [addr, addr+size) inside the blob.
func (p *ProcessBlob) span(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) (uint64, bool) {
	if addr < p.baseaddress {
		return 0, false
	}
	offset := uint64(addr - p.baseaddress)
	end := offset + uint64(size)
	if end < offset || end > uint64(len(p.data)) {
		return 0, false
	}
	return offset, true
}
