// Package hexdump renders memory as hex and ASCII columns, optionally
// overlaying the fields of a struct layout on the bytes.
package hexdump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode"

	"memstruct/layout"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// Span marks the bytes of one field, relative to the start of the data.
type Span struct {
	Name   string
	Offset uint64
	Size   uint64
}

// Options controls Dump.
type Options struct {
	// Address is printed for the first byte
	Address uint64

	// BytesPerLine defaults to 16
	BytesPerLine int

	// Color enables ANSI colors
	Color bool

	// Spans are overlaid on the bytes; each is colored and named on the
	// line it starts on
	Spans []Span

	// IsPointer, when set, marks aligned 8-byte words that point somewhere
	// valid
	IsPointer func(uint64) bool
}

var spanColors = []coloransi.ColorCode{
	coloransi.Green,
	coloransi.Cyan,
	coloransi.ColorOrange,
	coloransi.Magenta,
	coloransi.ColorLimeGreen,
	coloransi.Blue,
}

// Dump creates a hex dump of data.
func Dump(data []byte, opts Options) string {
	var buffer bytes.Buffer
	DumpToWriter(&buffer, data, opts)
	return buffer.String()
}

// DumpToWriter writes a hex dump of data to w.
func DumpToWriter(w io.Writer, data []byte, opts Options) {
	if opts.BytesPerLine <= 0 {
		opts.BytesPerLine = 16
	}
	for offset := 0; offset < len(data); offset += opts.BytesPerLine {
		end := offset + opts.BytesPerLine
		if end > len(data) {
			end = len(data)
		}
		formatLine(w, data, offset, end, opts)
	}
}

// FieldSpans lists the non-padding fields of t that have a known size.
// Static fields live elsewhere and are left out.
func FieldSpans(t *layout.Struct) []Span {
	var spans []Span
	for _, f := range t.Fields() {
		if f.IsPadding() || f.Static {
			continue
		}
		size, err := f.Size()
		if err != nil {
			continue
		}
		spans = append(spans, Span{Name: f.Name, Offset: uint64(f.Offset), Size: uint64(size)})
	}
	return spans
}

func formatLine(w io.Writer, data []byte, start, end int, opts Options) {
	fmt.Fprint(w, paint(opts, coloransi.Cyan, fmt.Sprintf("%016x", opts.Address+uint64(start))), "  ")

	for i := start; i < start+opts.BytesPerLine; i++ {
		if i > start && (i-start)%8 == 0 {
			fmt.Fprint(w, "| ")
		}
		if i >= end {
			fmt.Fprint(w, "   ")
			continue
		}
		fmt.Fprint(w, paint(opts, byteColor(data[i], i, opts), fmt.Sprintf("%02x", data[i])), " ")
	}

	fmt.Fprint(w, "| ")
	for i := start; i < end; i++ {
		c := rune(data[i])
		if data[i] == 0 || c > unicode.MaxASCII || !unicode.IsPrint(c) {
			fmt.Fprint(w, paint(opts, coloransi.BrightBlack, "."))
			continue
		}
		fmt.Fprint(w, paint(opts, coloransi.White, string(c)))
	}

	var notes []string
	for _, s := range opts.Spans {
		if s.Offset >= uint64(start) && s.Offset < uint64(end) {
			notes = append(notes, fmt.Sprintf("+%x %s", s.Offset, s.Name))
		}
	}
	if opts.IsPointer != nil {
		for i := start; i+8 <= end; i += 8 {
			if ptr := binary.LittleEndian.Uint64(data[i:]); opts.IsPointer(ptr) {
				notes = append(notes, paint(opts, coloransi.Yellow, fmt.Sprintf("0x%x", ptr)))
			}
		}
	}
	if len(notes) > 0 {
		fmt.Fprint(w, strings.Repeat(" ", opts.BytesPerLine-(end-start)), " | ", strings.Join(notes, ", "))
	}
	fmt.Fprintln(w)
}

func byteColor(b byte, offset int, opts Options) coloransi.ColorCode {
	for n, s := range opts.Spans {
		if uint64(offset) >= s.Offset && uint64(offset) < s.Offset+s.Size {
			return spanColors[n%len(spanColors)]
		}
	}
	if b == 0 {
		return coloransi.BrightBlack
	}
	return coloransi.White
}

func paint(opts Options, color coloransi.ColorCode, s string) string {
	if !opts.Color {
		return s
	}
	return coloransi.Foreground(color, s)
}
