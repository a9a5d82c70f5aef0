package layout

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a parsed type expression:
//
//	name        a registered type or primitive
//	*T          pointer to T, pointee resolved on first dereference
//	[N]T        N consecutive T
//	T | N       bitfield of N bits stored in a T-typed unit
//
// Integer literals accept 0x, 0o and 0b prefixes.
type Expr struct {
	Name    string
	Pointer bool
	Array   bool
	Len     int
	Elem    *Expr
	Bits    uint
}

// ParseExpr parses text into an Expr.
func ParseExpr(text string) (*Expr, error) {
	body := text
	var bits uint
	if i := strings.LastIndexByte(text, '|'); i >= 0 {
		n, err := strconv.ParseUint(strings.TrimSpace(text[i+1:]), 0, 8)
		if err != nil || n == 0 || n > 64 {
			return nil, fmt.Errorf("invalid bit width in %q", text)
		}
		bits = uint(n)
		body = text[:i]
	}
	e, err := parseBase(strings.TrimSpace(body), text)
	if err != nil {
		return nil, err
	}
	e.Bits = bits
	return e, nil
}

// MustParseExpr is ParseExpr for literals known to be valid.
func MustParseExpr(text string) *Expr {
	e, err := ParseExpr(text)
	if err != nil {
		panic(err)
	}
	return e
}

func parseBase(s, text string) (*Expr, error) {
	if s == "" {
		return nil, fmt.Errorf("empty type in %q", text)
	}
	switch s[0] {
	case '*':
		elem, err := parseBase(strings.TrimSpace(s[1:]), text)
		if err != nil {
			return nil, err
		}
		return &Expr{Pointer: true, Elem: elem}, nil
	case '[':
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, fmt.Errorf("unterminated array length in %q", text)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(s[1:end]), 0, 31)
		if err != nil {
			return nil, fmt.Errorf("invalid array length in %q", text)
		}
		elem, err := parseBase(strings.TrimSpace(s[end+1:]), text)
		if err != nil {
			return nil, err
		}
		return &Expr{Array: true, Len: int(n), Elem: elem}, nil
	}
	if !isIdent(s) {
		return nil, fmt.Errorf("invalid type name %q in %q", s, text)
	}
	return &Expr{Name: s}, nil
}

func isIdent(s string) bool {
	for i, c := range s {
		switch {
		case c == '_', c == '.', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// String renders the canonical spelling of e.
func (e *Expr) String() string {
	var s string
	switch {
	case e.Pointer:
		s = "*" + e.Elem.String()
	case e.Array:
		s = fmt.Sprintf("[%d]%s", e.Len, e.Elem.String())
	default:
		s = e.Name
	}
	if e.Bits > 0 {
		s += fmt.Sprintf(" | %d", e.Bits)
	}
	return s
}
