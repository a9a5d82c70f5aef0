// Package pod renders layouts and bound instances as terminal tables.
package pod

import (
	"fmt"
	"io"
	"strings"

	"memstruct/layout"
	"memstruct/process"
	"memstruct/remote"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// maxElementRows caps the per-element rows printed under an array field.
const maxElementRows = 16

func pointerValidator(mem process.Memory) func(uint64) bool {
	v, ok := mem.(process.AddressValidator)
	return func(addr uint64) bool {
		if !ok || addr < 0x10000 || addr > 0xff00000000000000 {
			return false
		}
		return v.IsValidAddress(process.ProcessMemoryAddress(addr))
	}
}

func valueColumn() ColumnSpec {
	return ColumnSpec{
		Header:   "Value",
		MinWidth: 6,
		FormatFunc: func(s string) string {
			switch {
			case s == "0 (0x0)" || s == "false" || s == "nil":
				return coloransi.Foreground(coloransi.CreateRGB(64, 64, 64), s)
			case strings.HasPrefix(s, "<"):
				return coloransi.Foreground(coloransi.BrightRed, s)
			}
			return coloransi.Foreground(coloransi.ColorLimeGreen, s)
		},
	}
}

func asPtrColumn() ColumnSpec {
	return ColumnSpec{
		Header:   "AsPtr",
		MinWidth: 6,
		FormatFunc: func(s string) string {
			switch {
			case strings.Contains(s, "✓"):
				return coloransi.Foreground(coloransi.ColorLimeGreen, s)
			case strings.Contains(s, "×"):
				return coloransi.Foreground(coloransi.BrightRed, s)
			}
			return coloransi.Foreground(coloransi.White, s)
		},
	}
}

// PrintInstance reads every field of inst and prints one row per field,
// with element rows under arrays and bit rows under fields named *flags*.
// Read errors are shown in the value column instead of aborting.
func PrintInstance(inst *remote.Instance, w io.Writer) error {
	t := inst.Type()
	isValidPtr := pointerValidator(inst.Memory())

	fmt.Fprintf(w, "=== %s @ %s ===\n", t.Name(), inst.Address().ToString())
	fmt.Fprintf(w, "Size: 0x%X (%d bytes)\n\n", t.Size(), t.Size())

	table := NewTable(
		ColumnSpec{Header: "Field", MinWidth: 8},
		ColumnSpec{Header: "Offset", MinWidth: 8},
		ColumnSpec{Header: "Type", MinWidth: 6},
		valueColumn(),
		asPtrColumn(),
	)

	for _, f := range t.Fields() {
		if f.IsPadding() {
			continue
		}
		offset := offsetString(f)

		v, err := inst.Get(f.Name)
		if err != nil {
			table.AddRow(f.Name, offset, f.Expr.String(), "<"+err.Error()+">", "")
			continue
		}

		table.AddRow(f.Name, offset, f.Expr.String(), formatValue(f, v), asPtrString(isValidPtr, v))

		switch x := v.(type) {
		case []any:
			for j, e := range x {
				if j == maxElementRows {
					table.AddRow(fmt.Sprintf("  %s[...]", f.Name), "", "", fmt.Sprintf("%d more", len(x)-j), "")
					break
				}
				table.AddRow(fmt.Sprintf("  %s[%d]", f.Name, j), fmt.Sprintf("+%d", j), "", formatScalar(e), asPtrString(isValidPtr, e))
			}
		case []*remote.Instance:
			for j, c := range x {
				if j == maxElementRows {
					break
				}
				table.AddRow(fmt.Sprintf("  %s[%d]", f.Name, j), fmt.Sprintf("+%d", j), "", formatScalar(c), "")
			}
		}
		if strings.Contains(strings.ToLower(f.Name), "flags") {
			expandFlagsRows(table, f, v)
		}
	}

	if err := table.Render(w); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}

// PrintLayout prints the field table of t without touching memory.
// Types of mapped fields are resolved, so unresolved names show up here.
func PrintLayout(t *layout.Struct, w io.Writer) error {
	fmt.Fprintf(w, "=== %s ===\n", t.Name())
	fmt.Fprintf(w, "Size: 0x%X (%d bytes)\n", t.Size(), t.Size())
	if base := t.Base(); base != nil {
		fmt.Fprintf(w, "Base: %s\n", base.Name())
	}
	if from, shift := t.ShiftedFrom(); from != nil {
		fmt.Fprintf(w, "Shifted from: %s (+0x%X)\n", from.Name(), shift)
	}
	fmt.Fprintln(w)

	table := NewTable(
		ColumnSpec{Header: "Field", MinWidth: 8},
		ColumnSpec{Header: "Offset", MinWidth: 8},
		ColumnSpec{Header: "Size", MinWidth: 4},
		ColumnSpec{Header: "Type", MinWidth: 6},
		ColumnSpec{Header: "Role", MinWidth: 6},
		ColumnSpec{Header: "Owner", MinWidth: 6},
		ColumnSpec{
			Header: "Flags",
			FormatFunc: func(s string) string {
				if s == "-" {
					return coloransi.Foreground(coloransi.CreateRGB(64, 64, 64), s)
				}
				return coloransi.Foreground(coloransi.ColorOrange, s)
			},
		},
	)

	for _, f := range t.Fields() {
		size := "?"
		if n, err := f.Size(); err == nil {
			size = fmt.Sprintf("0x%X", n)
		}
		typ := f.Expr.String()
		if _, err := f.Type(); err != nil {
			typ += " <unresolved>"
		}
		table.AddRow(f.Name, offsetString(f), size, typ, f.Role.String(), f.Owner, fieldFlags(f))
	}
	if err := table.Render(w); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w)
	return err
}

func offsetString(f *layout.Field) string {
	s := fmt.Sprintf("0x%04X", uint(f.Offset))
	if f.IsBitField() {
		s += fmt.Sprintf(".%d:%d", f.BitOffset, f.BitSize)
	}
	return s
}

func fieldFlags(f *layout.Field) string {
	var flags []string
	if f.Static {
		flags = append(flags, "static")
	}
	if f.Cached {
		flags = append(flags, "cached")
	}
	if f.Strict {
		flags = append(flags, "strict")
	}
	switch f.Padding {
	case layout.ShiftPadding:
		flags = append(flags, "shift-padding")
	case layout.TailPadding:
		flags = append(flags, "tail-padding")
	}
	if f.Default != nil {
		flags = append(flags, fmt.Sprintf("default=%v", f.Default))
	}
	return strings.Join(flags, ",")
}

// formatValue renders a field value; char arrays print as strings.
func formatValue(f *layout.Field, v any) string {
	if x, ok := v.([]any); ok && f.Expr.Array && f.Expr.Elem.Name == "c_char" {
		b := make([]byte, 0, len(x))
		for _, e := range x {
			c, _ := e.(uint8)
			if c == 0 {
				break
			}
			b = append(b, c)
		}
		return fmt.Sprintf("%q", string(b))
	}
	return formatScalar(v)
}

func formatScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case process.ProcessMemoryAddress:
		return fmt.Sprintf("0x%016X", uint64(x))
	case uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d (0x%X)", x, x)
	case int8, int16, int32, int64:
		return fmt.Sprintf("%d (0x%X)", x, x)
	case *remote.Instance:
		if x == nil {
			return "nil"
		}
		return "{" + x.String() + "}"
	case []*remote.Instance:
		if len(x) == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d]%s{...}", len(x), x[0].Type().Name())
	case []any:
		return formatPreview(x)
	}
	return fmt.Sprintf("%v", v)
}

// formatPreview shows the first three elements of an array.
func formatPreview(x []any) string {
	allZero := true
	for _, e := range x {
		if u, err := layout.ToUint64(e); err != nil || u != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return fmt.Sprintf("[%d]{0...}", len(x))
	}

	sb := &strings.Builder{}
	fmt.Fprintf(sb, "[%d]{", len(x))
	for j, e := range x {
		if j == 3 {
			sb.WriteString("...")
			break
		}
		if j > 0 {
			sb.WriteString(",")
		}
		switch n := e.(type) {
		case uint8, uint16, uint32, uint64, process.ProcessMemoryAddress:
			fmt.Fprintf(sb, "0x%X", n)
		default:
			fmt.Fprintf(sb, "%v", n)
		}
	}
	sb.WriteString("}")
	return sb.String()
}

func asPtrString(isValidPtr func(uint64) bool, v any) string {
	var addr uint64
	switch x := v.(type) {
	case process.ProcessMemoryAddress:
		addr = uint64(x)
	case uint64:
		addr = x
	case *remote.Instance:
		if x == nil {
			return ""
		}
		addr = uint64(x.Address())
	default:
		return ""
	}
	if addr == 0 {
		return ""
	}
	if isValidPtr(addr) {
		return fmt.Sprintf("0x%X ✓", addr)
	}
	return fmt.Sprintf("0x%X ×", addr)
}

func expandFlagsRows(table *Table, f *layout.Field, v any) {
	val, err := layout.ToUint64(v)
	if err != nil {
		return
	}
	bitSize := 64
	if f.IsBitField() {
		bitSize = int(f.BitSize)
	} else if n, err := f.Size(); err == nil && n <= 8 {
		bitSize = int(n) * 8
	}
	emitFlags(table, val, bitSize)
}

func emitFlags(table *Table, val uint64, bitSize int) {
	if bitSize < 64 {
		val &= uint64(1)<<bitSize - 1
	}
	if val == 0 {
		return
	}

	// hex width in nibbles
	nibbles := (bitSize + 3) / 4
	for b := 0; b < bitSize; b++ {
		if (val>>b)&1 == 1 {
			mask := fmt.Sprintf("0x%0*X", nibbles, uint64(1)<<b)
			table.AddRow("", mask, "", fmt.Sprintf("bit %d True", b), "")
		}
	}
}
