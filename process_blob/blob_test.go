package process_blob

import (
	"bytes"
	"errors"
	"testing"

	"memstruct/process"
)

func TestProcessBlobBounds(t *testing.T) {
	blob := NewProcessBlob(0x1000, make([]byte, 16))

	tests := []struct {
		name string
		addr process.ProcessMemoryAddress
		size process.ProcessMemorySize
		ok   bool
	}{
		{"whole blob", 0x1000, 16, true},
		{"tail", 0x100c, 4, true},
		{"past end", 0x100d, 4, false},
		{"before base", 0xfff, 1, false},
		{"zero size at end", 0x1010, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := blob.ReadMemory(tt.addr, tt.size)
			if (err == nil) != tt.ok {
				t.Fatalf("ReadMemory(%#x, %d) err = %v, want ok=%v", tt.addr, tt.size, err, tt.ok)
			}
			if err != nil && !process.IsFault(err) {
				t.Errorf("error %v is not a fault", err)
			}
			if err != nil && !errors.Is(err, process.ErrAddressNotMapped) {
				t.Errorf("error %v does not wrap ErrAddressNotMapped", err)
			}
		})
	}
}

func TestProcessBlobWrite(t *testing.T) {
	blob := NewProcessBlob(0x2000, make([]byte, 8))
	if err := blob.WriteMemory(0x2002, []byte{1, 2, 3}); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	if !bytes.Equal(blob.Data(), []byte{0, 0, 1, 2, 3, 0, 0, 0}) {
		t.Errorf("data = %v", blob.Data())
	}
	if err := blob.WriteMemory(0x2007, []byte{1, 2}); !process.IsFault(err) {
		t.Errorf("out of range write err = %v, want fault", err)
	}
}

func TestProcessDumpRegions(t *testing.T) {
	dump := NewProcessDump()
	dump.Map(0x5000, []byte{0xAA, 0xBB, 0xCC, 0xDD}, "r--p")
	dump.Map(0x1000, []byte{1, 2, 3, 4}, "")

	got, err := dump.ReadMemory(0x5001, 2)
	if err != nil || !bytes.Equal(got, []byte{0xBB, 0xCC}) {
		t.Fatalf("ReadMemory = %v, %v", got, err)
	}
	if err := dump.WriteMemory(0x5000, []byte{0}); !errors.Is(err, process.ErrNotWritable) {
		t.Errorf("write to read-only region err = %v", err)
	}
	if err := dump.WriteMemory(0x1002, []byte{9}); err != nil {
		t.Errorf("write to rw region: %v", err)
	}
	if _, err := dump.ReadMemory(0x1003, 2); !process.IsFault(err) {
		t.Errorf("read across region end err = %v, want fault", err)
	}
	if !dump.IsValidAddress(0x1000) || dump.IsValidAddress(0x3000) {
		t.Errorf("IsValidAddress mismatch")
	}
}

func TestProcessDumpSaveLoad(t *testing.T) {
	dir := t.TempDir()

	dump := NewProcessDump()
	dump.PID = 42
	dump.Name = "target"
	dump.Map(0x7000, []byte("hello world"), "rw-p")
	if err := dump.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := NewProcessDump()
	if err := loaded.Load(dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.PID != 42 || loaded.Name != "target" {
		t.Errorf("metadata = %d %q", loaded.PID, loaded.Name)
	}
	s, err := process.ReadNTS(loaded, 0x7006, 32)
	if err == nil {
		t.Fatalf("ReadNTS past region end should fault, got %q", s)
	}
	s, err = process.ReadNTS(loaded, 0x7006, 5)
	if err != nil || s != "world" {
		t.Errorf("ReadNTS = %q, %v", s, err)
	}
}
