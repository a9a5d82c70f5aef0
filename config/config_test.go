package config

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"memstruct/layout"
	"memstruct/process"
	"memstruct/process_blob"
)

const mainLayout = `
include: [common.yaml]
static_base: 0x140000000
symbols:
  Init: 0x140001000
types:
  - name: Actor
    size: 0x40
    locals: {word: u16}
    fields:
      - {name: pos, type: Vec3}
      - {name: id, type: word}
      - {name: hdr, type: HeaderAt16}
      - {name: hp, type: i32, offset: 0x30, strict: true}
      - {name: mp, type: i32, offset: 0x100, default: -1}
      - {name: tick, type: u32, offset: 0x10, static: true}
  - name: Header
    fields:
      - {name: a, type: u32}
      - {name: b, type: "u8 | 2", offset: 4}
shifts:
  - {name: HeaderAt16, from: Header, delta: 16}
functions:
  - {name: Update, kind: virtual, vt_index: 3, ret: c_int, args: [c_float, "out c_int"]}
  - {name: Init, kind: static, symbol: Init, ret: void}
  - {name: Reset, kind: class, rva: 0x2000}
  - {name: Tick, kind: static, path: [0x8, 0x0]}
`

const commonLayout = `
types:
  - name: Vec3
    fields:
      - {name: x, type: f32}
      - {name: y, type: f32}
      - {name: z, type: f32}
`

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoad(t *testing.T) {
	dir := writeFiles(t, map[string]string{"main.yaml": mainLayout, "common.yaml": commonLayout})
	l, err := Load(filepath.Join(dir, "main.yaml"))
	if err != nil {
		t.Fatal(err)
	}

	actor, err := l.Registry.Struct("Actor")
	if err != nil {
		t.Fatal(err)
	}
	if actor.Size() != 0x40 {
		t.Errorf("Actor size = %#x", actor.Size())
	}
	if f, _ := actor.Field("hdr"); f.Offset != 14 {
		t.Errorf("hdr at %d, want 14", f.Offset)
	}
	if l.StaticBase != 0x140000000 {
		t.Errorf("static base = %#x", l.StaticBase)
	}
	if len(l.Functions) != 4 {
		t.Errorf("%d functions", len(l.Functions))
	}

	data := make([]byte, 0x100)
	binary.LittleEndian.PutUint16(data[12:], 7)
	data[14+20] = 0x2
	binary.LittleEndian.PutUint32(data[0x30:], 55)
	statics := make([]byte, 0x40)
	binary.LittleEndian.PutUint32(statics[0x10:], 9)
	binary.LittleEndian.PutUint64(statics[0x08:], 0x140000020)
	binary.LittleEndian.PutUint64(statics[0x20:], 0x140005000)

	dump := process_blob.NewProcessDump()
	dump.Map(0x10000, data, "")
	dump.Map(0x140000000, statics, "r--p")
	l.Attach(dump)

	inst, err := l.Bind("Actor", dump, 0x10000)
	if err != nil {
		t.Fatal(err)
	}
	checks := []struct {
		path []string
		want any
	}{
		{[]string{"id"}, uint16(7)},
		{[]string{"hp"}, int32(55)},
		{[]string{"mp"}, int32(-1)},
		{[]string{"tick"}, uint32(9)},
		{[]string{"hdr", "b"}, uint64(2)},
	}
	for _, c := range checks {
		cur := inst
		for _, step := range c.path[:len(c.path)-1] {
			if cur, err = cur.Child(step); err != nil {
				t.Fatal(err)
			}
		}
		got, err := cur.Get(c.path[len(c.path)-1])
		if err != nil || got != c.want {
			t.Errorf("%v = %v, %v; want %v", c.path, got, err, c.want)
		}
	}

	addrs := map[string]process.ProcessMemoryAddress{
		"Init":  0x140001000,
		"Reset": 0x140002000,
		"Tick":  0x140005000,
	}
	for name, want := range addrs {
		call, err := l.Functions[name].Bind(nil)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if call.Address != want {
			t.Errorf("%s at %#x, want %#x", name, call.Address, want)
		}
	}
	call, err := l.Functions["Reset"].Bind(inst)
	if err != nil || len(call.Args) != 1 || call.Args[0] != process.ProcessMemoryAddress(0x10000) {
		t.Errorf("Reset bound to instance = %+v, %v", call, err)
	}
	if got := l.Functions["Update"].Signature().String(); got != "c_int(c_float, out c_int)" {
		t.Errorf("Update signature = %q", got)
	}
}

func TestIncludeCycle(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.yaml": "include: [b.yaml]\ntypes:\n  - {name: A, fields: [{name: b, type: B}]}\n",
		"b.yaml": "include: [a.yaml]\ntypes:\n  - {name: B, fields: [{name: v, type: u64}, {name: a, type: \"*A\"}]}\n",
	})
	l, err := Load(filepath.Join(dir, "a.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	a, err := l.Registry.Struct("A")
	if err != nil {
		t.Fatal(err)
	}
	if a.Size() != 16 {
		t.Errorf("A size = %d", a.Size())
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		layout bool
	}{
		{"unknown key", "types:\n  - {name: A, colour: red}\n", false},
		{"undefined packed type", "types:\n  - {name: A, fields: [{name: x, type: Missing}]}\n", true},
		{"bad policy", "shifts:\n  - {name: S, from: A, delta: 1, policy: sideways}\n", false},
		{"virtual without index", "functions:\n  - {name: F, kind: virtual}\n", false},
		{"unknown kind", "functions:\n  - {name: F, kind: inline}\n", false},
		{"bad signature", "functions:\n  - {name: F, ret: \"[x]u8\"}\n", false},
		{"missing include", "include: [nope.yaml]\ntypes:\n  - {name: A, fields: [{name: x, type: u8}]}\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeFiles(t, map[string]string{"main.yaml": tt.body})
			_, err := Load(filepath.Join(dir, "main.yaml"))
			if err == nil {
				t.Fatal("Load succeeded")
			}
			if tt.layout && !errors.Is(err, layout.ErrLayout) {
				t.Errorf("err = %v, want a layout error", err)
			}
		})
	}
}

func TestBrokenIncludeIsReported(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"main.yaml": "include: [bad.yaml]\ntypes:\n  - {name: A, fields: [{name: x, type: u8}]}\n",
		"bad.yaml":  "tpyes: []\n",
	})
	if _, err := Load(filepath.Join(dir, "main.yaml")); err == nil {
		t.Fatal("Load succeeded")
	}
}

func TestStuckDeclarationsAreAllReported(t *testing.T) {
	dir := writeFiles(t, map[string]string{"main.yaml": `
types:
  - {name: Ok, fields: [{name: v, type: u32}]}
  - {name: NeedsA, fields: [{name: a, type: MissingA}]}
  - {name: NeedsB, fields: [{name: b, type: MissingB}]}
`})
	_, err := Load(filepath.Join(dir, "main.yaml"))
	if !errors.Is(err, layout.ErrLayout) {
		t.Fatalf("err = %v, want a layout error", err)
	}
	for _, name := range []string{"MissingA", "MissingB"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error does not mention %s: %v", name, err)
		}
	}
}
