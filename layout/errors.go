package layout

import (
	"errors"
	"fmt"
	"strings"
)

// ErrLayout matches every *LayoutError with errors.Is.
var ErrLayout = errors.New("layout error")

// LayoutError reports a declaration that cannot be turned into a field table:
// malformed bit specs, size mismatches, unresolved or invalid type expressions.
type LayoutError struct {
	Type   string
	Field  string
	Detail string
	Cause  error
}

func (e *LayoutError) Error() string {
	var b strings.Builder
	b.WriteString("layout")
	if e.Type != "" {
		b.WriteString(" ")
		b.WriteString(e.Type)
		if e.Field != "" {
			b.WriteString(".")
			b.WriteString(e.Field)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Detail)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LayoutError) Unwrap() error { return e.Cause }

func (e *LayoutError) Is(target error) bool { return target == ErrLayout }

func layoutErr(typ, field string, cause error, format string, args ...any) *LayoutError {
	return &LayoutError{Type: typ, Field: field, Detail: fmt.Sprintf(format, args...), Cause: cause}
}
