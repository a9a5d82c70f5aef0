package hexdump

import (
	"strings"
	"testing"

	"memstruct/layout"
)

func TestDumpPlain(t *testing.T) {
	data := []byte("hello\x00world\x01\x02\x03\x04\x05ab")
	out := Dump(data, Options{Address: 0x1000})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines:\n%s", len(lines), out)
	}
	want := "0000000000001000  68 65 6c 6c 6f 00 77 6f | 72 6c 64 01 02 03 04 05 | hello.world....."
	if lines[0] != want {
		t.Errorf("line 0 =\n%q\nwant\n%q", lines[0], want)
	}
	if !strings.HasPrefix(lines[1], "0000000000001010  61 62 ") || !strings.HasSuffix(lines[1], "| ab") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestDumpSpansAndPointers(t *testing.T) {
	data := make([]byte, 16)
	data[8] = 0x00
	data[9] = 0x20
	out := Dump(data, Options{
		Spans:     []Span{{Name: "a", Offset: 0, Size: 8}, {Name: "next", Offset: 8, Size: 8}},
		IsPointer: func(p uint64) bool { return p == 0x2000 },
	})
	if !strings.Contains(out, "| +0 a, +8 next, 0x2000") {
		t.Errorf("missing notes:\n%s", out)
	}
}

func TestFieldSpans(t *testing.T) {
	r := layout.NewRegistry()
	s, err := r.Declare(layout.Decl{
		Name: "S",
		Size: 0x20,
		Fields: []layout.Member{
			{Name: "a", Type: "u32"},
			{Name: "b", Type: "u16"},
			{Name: "g", Type: "u64", Offset: layout.At(0x10), Static: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	spans := FieldSpans(s)
	want := []Span{{"a", 0, 4}, {"b", 4, 2}}
	if len(spans) != len(want) {
		t.Fatalf("spans = %+v", spans)
	}
	for i := range want {
		if spans[i] != want[i] {
			t.Errorf("span %d = %+v, want %+v", i, spans[i], want[i])
		}
	}
}
