package memory

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/nimburion/repokit/pkg/query"
	"github.com/nimburion/repokit/pkg/schema"
)

func matches(model *schema.Model, row any, pred query.Predicate) (bool, error) {
	for _, c := range pred {
		field, ok := model.Field(c.Field)
		if !ok {
			return false, fmt.Errorf("%w: unknown field %q", query.ErrInvalidPredicate, c.Field)
		}
		actual, err := model.Get(row, c.Field)
		if err != nil {
			return false, err
		}

		ok, err = evaluate(field.Type, actual, c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evaluate(typ reflect.Type, actual any, c query.Condition) (bool, error) {
	if c.Op == query.OpIn {
		for _, v := range c.Value.([]any) {
			cmp, err := compareTo(typ, actual, v)
			if err != nil {
				return false, err
			}
			if cmp == 0 {
				return true, nil
			}
		}
		return false, nil
	}

	cmp, err := compareTo(typ, actual, c.Value)
	if err != nil {
		return false, err
	}
	switch c.Op {
	case query.OpEq:
		return cmp == 0, nil
	case query.OpNotEq:
		return cmp != 0, nil
	case query.OpLt:
		return cmp < 0, nil
	case query.OpLte:
		return cmp <= 0, nil
	case query.OpGt:
		return cmp > 0, nil
	case query.OpGte:
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("%w: unsupported operator %q", query.ErrInvalidPredicate, c.Op)
	}
}

// compareTo converts value to the column type before comparing.
func compareTo(typ reflect.Type, actual, value any) (int, error) {
	converted, err := schema.ConvertTo(value, typ)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", query.ErrInvalidPredicate, err)
	}
	return compare(actual, converted)
}

// compare orders two values of the same column type.
func compare(a, b any) (int, error) {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if !va.IsValid() || !vb.IsValid() {
		return boolCmp(va.IsValid(), vb.IsValid()), nil
	}
	for va.Kind() == reflect.Pointer {
		if va.IsNil() || vb.IsNil() {
			return boolCmp(!va.IsNil(), !vb.IsNil()), nil
		}
		va, vb = va.Elem(), vb.Elem()
	}
	if ta, ok := va.Interface().(time.Time); ok {
		return ta.Compare(vb.Interface().(time.Time)), nil
	}

	switch va.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return ordered(va.Int(), vb.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return ordered(va.Uint(), vb.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return ordered(va.Float(), vb.Float()), nil
	case reflect.String:
		return strings.Compare(va.String(), vb.String()), nil
	case reflect.Bool:
		return boolCmp(va.Bool(), vb.Bool()), nil
	}
	// unordered comparable values, such as UUIDs, only support equality
	if va.Comparable() {
		if va.Equal(vb) {
			return 0, nil
		}
		return 1, nil
	}
	return 0, fmt.Errorf("values of type %s are not comparable", va.Type())
}

func ordered[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func boolCmp(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}
