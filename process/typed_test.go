package process_test

import (
	"errors"
	"testing"

	"memstruct/process"
	"memstruct/process_blob"
)

func TestTypedReads(t *testing.T) {
	mem := process_blob.NewProcessBlob(0x1000, make([]byte, 32))

	if err := process.WriteUint(mem, 0x1000, 2, 0xFFFE); err != nil {
		t.Fatal(err)
	}
	u, _ := process.ReadUINT16(mem, 0x1000)
	i, _ := process.ReadInt(mem, 0x1000, 2)
	if u != 0xFFFE || i != -2 {
		t.Errorf("u16 = %#x, i16 = %d", u, i)
	}

	if err := process.Write[float32](mem, 0x1004, 1.5); err != nil {
		t.Fatal(err)
	}
	f, err := process.ReadFLOAT32(mem, 0x1004)
	if err != nil || f != 1.5 {
		t.Errorf("f32 = %v, %v", f, err)
	}

	if _, err := process.ReadUint(mem, 0x1000, 3); err == nil {
		t.Error("ReadUint with size 3 should fail")
	}
}

func TestResolvePath(t *testing.T) {
	mem := process_blob.NewProcessBlob(0x1000, make([]byte, 0x100))
	// 0x1000 -> [+0x8] = 0x1040 -> [+0x10] = 0x1080, value at 0x1080+0x4
	process.WritePointer(mem, 0x1008, 0x1040)
	process.WritePointer(mem, 0x1050, 0x1080)
	process.WriteUint(mem, 0x1084, 4, 1234)

	v, err := process.ReadPath[uint32](mem, 0x1000, 0x8, 0x10, 0x4)
	if err != nil || v != 1234 {
		t.Fatalf("ReadPath = %d, %v", v, err)
	}

	_, err = process.ReadPath[uint32](mem, 0x1000, 0x20, 0x4)
	if !errors.Is(err, process.ErrInvalidPointer) {
		t.Errorf("null hop err = %v", err)
	}

	addr, err := process.ResolvePath(mem, 0x1000)
	if err != nil || addr != 0x1000 {
		t.Errorf("empty path = %#x, %v", addr, err)
	}
}
