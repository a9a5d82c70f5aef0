//go:build linux

package process_linux

import (
	"fmt"
	"unsafe"

	"memstruct/process"

	"golang.org/x/sys/unix"
)

// processVM issues process_vm_readv or process_vm_writev with a single
// local and a single remote iovec and returns the number of bytes moved.
func processVM(trap uintptr, pid process.ProcessID, local []byte, remoteAddr process.ProcessMemoryAddress) (int, error) {
	localIov := unix.Iovec{
		Base: &local[0],
		Len:  uint64(len(local)),
	}

	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  len(local),
	}

	n, _, errno := unix.Syscall6(
		trap,
		uintptr(pid),                        // Remote process PID
		uintptr(unsafe.Pointer(&localIov)),  // Local iovec
		uintptr(1),                          // Number of local iovecs
		uintptr(unsafe.Pointer(&remoteIov)), // Remote iovec
		uintptr(1),                          // Number of remote iovecs
		uintptr(0),                          // Flags (reserved for future use)
	)
	if errno != 0 {
		return 0, fmt.Errorf("errno %d: %w", int(errno), errno)
	}
	return int(n), nil
}

// ReadMemory reads memory from the process at the specified address
func (p *LinuxProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	p.mu.Lock()
	pid := p.pid
	var err error
	if pid == 0 {
		err = process.ErrProcessNotOpen
	} else {
		_, err = p.regionFor(addr, size, false)
	}
	p.mu.Unlock()

	if err != nil {
		return nil, process.ReadFault(addr, size, err)
	}

	buf := make([]byte, size)
	n, err := processVM(unix.SYS_PROCESS_VM_READV, pid, buf, addr)
	if err != nil {
		return nil, process.ReadFault(addr, size, fmt.Errorf("process_vm_readv: %w", err))
	}
	if n != len(buf) {
		return nil, process.ReadFault(addr, size, fmt.Errorf("partial read: %d of %d bytes", n, size))
	}
	return buf, nil
}

// WriteMemory writes data to the process memory at the specified address
func (p *LinuxProcess) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	size := process.ProcessMemorySize(len(data))
	if size == 0 {
		return nil
	}

	p.mu.Lock()
	pid := p.pid
	var err error
	if pid == 0 {
		err = process.ErrProcessNotOpen
	} else {
		_, err = p.regionFor(addr, size, true)
	}
	p.mu.Unlock()

	if err != nil {
		return process.WriteFault(addr, size, err)
	}

	// Copy so the caller can reuse data while the syscall runs
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	n, err := processVM(unix.SYS_PROCESS_VM_WRITEV, pid, dataCopy, addr)
	if err != nil {
		return process.WriteFault(addr, size, fmt.Errorf("process_vm_writev: %w", err))
	}
	if n != len(data) {
		return process.WriteFault(addr, size, fmt.Errorf("only wrote %d of %d bytes", n, len(data)))
	}
	return nil
}
