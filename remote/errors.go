package remote

import (
	"errors"
	"strings"
)

var (
	ErrUnknownField   = errors.New("unknown field")
	ErrEmbeddedAssign = errors.New("embedded struct fields cannot be assigned")
	ErrArgCount       = errors.New("wrong number of arguments")
	ErrUnbound        = errors.New("instance is not bound to an address")
	ErrTypeMismatch   = errors.New("type mismatch")
	ErrNoExecutor     = errors.New("no executor")
)

// ResolutionError reports a function whose address cannot be determined.
type ResolutionError struct {
	Function string
	Detail   string
	Cause    error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("resolve ")
	b.WriteString(e.Function)
	b.WriteString(": ")
	b.WriteString(e.Detail)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error { return e.Cause }
