package layout

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"memstruct/process"
)

// PrimitiveKind selects how a primitive's bytes are decoded.
type PrimitiveKind int

const (
	Unsigned PrimitiveKind = iota
	Signed
	Float
	Bool
	Address
)

// Primitive is a fixed-width scalar type. Values are little endian.
type Primitive struct {
	name string
	size process.ProcessMemorySize
	kind PrimitiveKind
}

func (p *Primitive) Name() string                    { return p.name }
func (p *Primitive) Size() process.ProcessMemorySize { return p.size }
func (p *Primitive) Kind() PrimitiveKind             { return p.kind }

// IsInteger reports whether the primitive can back a bitfield.
func (p *Primitive) IsInteger() bool {
	return p.kind == Unsigned || p.kind == Signed || p.kind == Bool
}

// Decode converts len(data) == Size() bytes into the matching Go value:
// uintN, intN, float32/float64, bool or process.ProcessMemoryAddress.
func (p *Primitive) Decode(data []byte) any {
	u := process.DecodeUint(data)
	switch p.kind {
	case Signed:
		shift := 64 - 8*uint(p.size)
		i := int64(u<<shift) >> shift
		switch p.size {
		case 1:
			return int8(i)
		case 2:
			return int16(i)
		case 4:
			return int32(i)
		}
		return i
	case Float:
		if p.size == 4 {
			return math.Float32frombits(uint32(u))
		}
		return math.Float64frombits(u)
	case Bool:
		return u != 0
	case Address:
		return process.ProcessMemoryAddress(u)
	}
	switch p.size {
	case 1:
		return uint8(u)
	case 2:
		return uint16(u)
	case 4:
		return uint32(u)
	}
	return u
}

// Encode converts v into Size() bytes. Integers are truncated to the width
// of the primitive; strings are parsed.
func (p *Primitive) Encode(v any) ([]byte, error) {
	if p.kind == Float {
		f, err := ToFloat64(v)
		if err != nil {
			return nil, err
		}
		if p.size == 4 {
			return process.EncodeUint(uint64(math.Float32bits(float32(f))), 4), nil
		}
		return process.EncodeUint(math.Float64bits(f), 8), nil
	}
	u, err := ToUint64(v)
	if err != nil {
		return nil, err
	}
	return process.EncodeUint(u, p.size), nil
}

// Zero returns the decoded value of an all-zero buffer.
func (p *Primitive) Zero() any {
	return p.Decode(make([]byte, p.size))
}

// ToUint64 converts any Go integer, float, bool or numeric string to its
// two's complement uint64 form.
func ToUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case int:
		return uint64(x), nil
	case int8:
		return uint64(x), nil
	case int16:
		return uint64(x), nil
	case int32:
		return uint64(x), nil
	case int64:
		return uint64(x), nil
	case uint:
		return uint64(x), nil
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	case uintptr:
		return uint64(x), nil
	case process.ProcessMemoryAddress:
		return uint64(x), nil
	case float32:
		return uint64(int64(x)), nil
	case float64:
		return uint64(int64(x)), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(x)
		switch strings.ToLower(s) {
		case "true":
			return 1, nil
		case "false":
			return 0, nil
		}
		if i, err := strconv.ParseInt(s, 0, 64); err == nil {
			return uint64(i), nil
		}
		u, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to an integer", x)
		}
		return u, nil
	}
	return 0, fmt.Errorf("cannot convert %T to an integer", v)
}

// ToFloat64 converts any Go number or numeric string to float64.
func ToFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to a float", x)
		}
		return f, nil
	case int, int8, int16, int32, int64:
		u, _ := ToUint64(x)
		return float64(int64(u)), nil
	}
	u, err := ToUint64(v)
	if err != nil {
		return 0, err
	}
	return float64(u), nil
}

var (
	U8    = &Primitive{"u8", 1, Unsigned}
	U16   = &Primitive{"u16", 2, Unsigned}
	U32   = &Primitive{"u32", 4, Unsigned}
	U64   = &Primitive{"u64", 8, Unsigned}
	I8    = &Primitive{"i8", 1, Signed}
	I16   = &Primitive{"i16", 2, Signed}
	I32   = &Primitive{"i32", 4, Signed}
	I64   = &Primitive{"i64", 8, Signed}
	F32   = &Primitive{"f32", 4, Float}
	F64   = &Primitive{"f64", 8, Float}
	Bool8 = &Primitive{"bool", 1, Bool}
	Ptr   = &Primitive{"ptr", process.PointerSize, Address}
)

// primitives maps every builtin name, ctypes spellings included, to its type.
// Sizes follow the Windows x64 data model.
var primitives = map[string]*Primitive{
	"u8": U8, "u16": U16, "u32": U32, "u64": U64,
	"i8": I8, "i16": I16, "i32": I32, "i64": I64,
	"f32": F32, "f64": F64, "bool": Bool8, "ptr": Ptr,

	"c_uint8": U8, "c_uint16": U16, "c_uint32": U32, "c_uint64": U64,
	"c_int8": I8, "c_int16": I16, "c_int32": I32, "c_int64": I64,
	"c_ubyte": U8, "c_byte": I8, "c_char": U8, "c_wchar": U16, "c_bool": Bool8,
	"c_ushort": U16, "c_short": I16,
	"c_uint": U32, "c_int": I32,
	"c_ulong": U32, "c_long": I32,
	"c_ulonglong": U64, "c_longlong": I64,
	"c_size_t": U64, "c_ssize_t": I64,
	"c_float": F32, "c_double": F64,
	"c_void_p": Ptr, "c_char_p": Ptr, "c_wchar_p": Ptr,
}

// LookupPrimitive returns the builtin scalar type called name.
func LookupPrimitive(name string) (*Primitive, bool) {
	p, ok := primitives[name]
	return p, ok
}
