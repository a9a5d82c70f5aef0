package remote

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	"memstruct/process"
)

// GetAs is Get followed by a type assertion. A nil result (unbound
// embedded struct, null pointer) yields the zero T and no error.
func GetAs[T any](i *Instance, name string) (T, error) {
	var zero T
	v, err := i.Get(name)
	if err != nil || v == nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s.%s holds %T, not %T: %w", i.typ.Name(), name, v, zero, ErrTypeMismatch)
	}
	return t, nil
}

// Child returns the struct instance held by an embedded or pointer field.
func (i *Instance) Child(name string) (*Instance, error) {
	return GetAs[*Instance](i, name)
}

// ReadPOD copies the bytes at the named field into a Go value of type T.
// T must not contain pointers and must not be larger than the field.
func ReadPOD[T any](i *Instance, name string) (T, error) {
	var zero T
	f, err := i.field(name)
	if err != nil {
		return zero, err
	}
	if hasPointers[T]() {
		return zero, errors.New("ReadPOD: T contains pointers; not POD-safe")
	}
	addr, bound := i.fieldAddress(f)
	if !bound {
		return zero, i.wrap(f, ErrUnbound)
	}
	size, err := f.Size()
	if err != nil {
		return zero, err
	}
	if want := process.ProcessMemorySize(unsafe.Sizeof(zero)); want > size {
		return zero, i.wrap(f, fmt.Errorf("%w: %T needs %d bytes, field has %d", ErrTypeMismatch, zero, want, size))
	}
	v, err := process.Read[T](i.mem, addr)
	if err != nil {
		return zero, i.wrap(f, err)
	}
	return v, nil
}

// hasPointers reports whether T (recursively) contains any pointer-like fields.
func hasPointers[T any]() bool {
	return typeHasPointers(reflect.TypeOf((*T)(nil)).Elem())
}

func typeHasPointers(rt reflect.Type) bool {
	switch rt.Kind() {
	case reflect.Ptr, reflect.UnsafePointer, reflect.Interface, reflect.Func, reflect.Map, reflect.Slice, reflect.String, reflect.Chan:
		return true
	case reflect.Array:
		return typeHasPointers(rt.Elem())
	case reflect.Struct:
		for k := 0; k < rt.NumField(); k++ {
			if typeHasPointers(rt.Field(k).Type) {
				return true
			}
		}
	}
	return false
}
