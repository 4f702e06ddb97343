// Package nilcheck detects nil interface values, including typed nils, so
// option setters can refuse them instead of storing a value that panics later.
package nilcheck

import "reflect"

// IsNil reports whether value is nil. Unlike a plain comparison it also
// catches typed-nil interfaces, e.g. a (*impl)(nil) stored in an interface.
func IsNil(value any) bool {
	if value == nil {
		return true
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}

	return false
}
