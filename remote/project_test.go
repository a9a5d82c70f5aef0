package remote

import (
	"encoding/json"
	"testing"

	"memstruct/layout"
	"memstruct/process_blob"

	"gopkg.in/yaml.v2"
)

func TestProjectNested(t *testing.T) {
	r := layout.NewRegistry()
	declare(t, r,
		layout.Decl{Name: "Y", Fields: []layout.Member{{Name: "z", Type: "u32"}}},
		layout.Decl{Name: "X", Size: 16, Fields: []layout.Member{
			{Name: "x", Type: "u32"},
			{Name: "y", Type: "Y"},
		}},
	)
	data := make([]byte, 16)
	put32(data, 0, 7)
	put32(data, 4, 3)
	inst := Bind(structOf(t, r, "X"), process_blob.NewProcessBlob(0x800, data), 0x800)

	rec, err := Project(inst)
	if err != nil {
		t.Fatal(err)
	}
	js, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	if string(js) != `{"x":7,"y":{"z":3}}` {
		t.Errorf("json = %s", js)
	}
	ym, err := yaml.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	// yaml 1.1 reads a bare y as a boolean, so the key is quoted
	if string(ym) != "x: 7\n\"y\":\n  z: 3\n" {
		t.Errorf("yaml = %q", ym)
	}

	// projection is read only
	again, _ := Project(inst)
	js2, _ := json.Marshal(again)
	if string(js2) != string(js) {
		t.Errorf("second projection differs: %s", js2)
	}
}

func TestProjectPointerCycle(t *testing.T) {
	r := layout.NewRegistry()
	declare(t, r, layout.Decl{Name: "Node", Fields: []layout.Member{
		{Name: "v", Type: "u8"},
		{Name: "next", Type: "*Node"},
		{Name: "raw", Type: "*u32"},
	}})
	data := make([]byte, 0x40)
	data[0] = 1
	put64(data, 1, 0x920)
	put64(data, 9, 0x1234)
	data[0x20] = 2
	put64(data, 0x21, 0x900)
	inst := Bind(structOf(t, r, "Node"), process_blob.NewProcessBlob(0x900, data), 0x900)

	rec, err := Project(inst)
	if err != nil {
		t.Fatal(err)
	}
	js, _ := json.Marshal(rec)
	want := `{"v":1,"next":{"v":2,"next":2304,"raw":0},"raw":4660}`
	if string(js) != want {
		t.Errorf("json = %s, want %s", js, want)
	}
}
