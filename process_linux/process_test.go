//go:build linux

package process_linux

import (
	"errors"
	"os"
	"runtime"
	"testing"
	"unsafe"

	"memstruct/process"

	"golang.org/x/sys/unix"
)

func openSelf(t *testing.T) *LinuxProcess {
	t.Helper()
	p, err := NewWithPID(process.ProcessID(os.Getpid()))
	if err != nil {
		t.Fatalf("NewWithPID: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func skipIfDenied(t *testing.T, err error) {
	t.Helper()
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.ENOSYS) {
		t.Skipf("process_vm syscalls unavailable: %v", err)
	}
}

func TestReadWriteSelf(t *testing.T) {
	p := openSelf(t)

	buf := make([]byte, 64)
	copy(buf, "remote bytes")
	addr := process.ProcessMemoryAddress(uintptr(unsafe.Pointer(&buf[0])))

	// the heap may have grown since Open
	if err := p.UpdateMemoryMap(); err != nil {
		t.Fatal(err)
	}

	got, err := p.ReadMemory(addr, 12)
	skipIfDenied(t, err)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if string(got) != "remote bytes" {
		t.Errorf("ReadMemory = %q", got)
	}

	err = p.WriteMemory(addr, []byte("REMOTE"))
	skipIfDenied(t, err)
	if err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	if string(buf[:12]) != "REMOTE bytes" {
		t.Errorf("buf after write = %q", buf[:12])
	}
	runtime.KeepAlive(buf)
}

func TestReadUnmapped(t *testing.T) {
	p := openSelf(t)

	_, err := p.ReadMemory(0x1000, 8)
	if !process.IsFault(err) || !errors.Is(err, process.ErrAddressNotMapped) {
		t.Errorf("err = %v, want unmapped fault", err)
	}
	if p.IsValidAddress(0x10) {
		t.Error("null page reported valid")
	}
}

func TestClosedProcess(t *testing.T) {
	p := New()
	if _, err := p.ReadMemory(0x400000, 4); !errors.Is(err, process.ErrProcessNotOpen) {
		t.Errorf("err = %v, want ErrProcessNotOpen", err)
	}
}
