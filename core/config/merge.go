package config

import (
	"reflect"
)

// Overlay copies every non-zero field of src onto dst. Both must be pointers
// to the same struct type. Nested structs are overlaid field by field;
// non-empty slices replace the destination slice wholesale.
func Overlay(dst, src any) {
	dstVal := reflect.ValueOf(dst)
	srcVal := reflect.ValueOf(src)

	if dstVal.Kind() != reflect.Ptr || srcVal.Kind() != reflect.Ptr {
		return
	}
	if dstVal.Elem().Type() != srcVal.Elem().Type() {
		return
	}

	overlayValue(dstVal.Elem(), srcVal.Elem())
}

func overlayValue(dst, src reflect.Value) {
	if !dst.CanSet() || !src.IsValid() {
		return
	}

	switch dst.Kind() {
	case reflect.Struct:
		for i := 0; i < dst.NumField(); i++ {
			overlayValue(dst.Field(i), src.Field(i))
		}
	case reflect.Slice:
		if src.Len() > 0 {
			dst.Set(src)
		}
	default:
		if !src.IsZero() {
			dst.Set(src)
		}
	}
}
