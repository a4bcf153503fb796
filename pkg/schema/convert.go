package schema

import (
	"fmt"
	"reflect"
	"strconv"
)

// Assign stores value into dst, converting between compatible representations
// returned by drivers: numeric widths, []byte to string, integers to bool.
// A nil value resets dst to its zero value.
func Assign(dst reflect.Value, value any) error {
	if !dst.CanSet() {
		return fmt.Errorf("destination is not settable")
	}
	if value == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}

	src := reflect.ValueOf(value)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}

	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := Assign(elem.Elem(), value); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	switch dst.Kind() {
	case reflect.Bool:
		switch src.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			dst.SetBool(src.Int() != 0)
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			dst.SetBool(src.Uint() != 0)
			return nil
		case reflect.Slice:
			if b, ok := value.([]byte); ok {
				parsed, err := strconv.ParseBool(string(b))
				if err != nil {
					return fmt.Errorf("cannot convert %q to bool: %w", b, err)
				}
				dst.SetBool(parsed)
				return nil
			}
		}
	case reflect.String:
		if b, ok := value.([]byte); ok {
			dst.SetString(string(b))
			return nil
		}
		if src.Kind() == reflect.String {
			dst.SetString(src.String())
			return nil
		}
		// integer to string conversions produce runes, never what a column means
		return fmt.Errorf("cannot convert %T to %s", value, dst.Type())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if b, ok := value.([]byte); ok {
			return assignNumericText(dst, string(b))
		}
		if isNumeric(src.Kind()) {
			dst.Set(src.Convert(dst.Type()))
			return nil
		}
	}

	if src.Type().ConvertibleTo(dst.Type()) && src.Kind() != reflect.String && dst.Kind() != reflect.String {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot convert %T to %s", value, dst.Type())
}

func assignNumericText(dst reflect.Value, text string) error {
	switch dst.Kind() {
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return err
		}
		dst.SetFloat(f)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return err
		}
		dst.SetUint(u)
	default:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return err
		}
		dst.SetInt(i)
	}
	return nil
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// ConvertTo converts value to typ using Assign rules.
func ConvertTo(value any, typ reflect.Type) (any, error) {
	out := reflect.New(typ).Elem()
	if err := Assign(out, value); err != nil {
		return nil, err
	}
	return out.Interface(), nil
}
