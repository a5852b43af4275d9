package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
)

// encodeParams serializes call parameters into query values.
//
// Lists of scalars become a comma-joined value; a list holding any structured
// element (map, struct, list) is sent as a JSON array. Nil values and nil
// pointers are omitted.
func encodeParams(params map[string]any) (url.Values, error) {
	q := url.Values{}
	for key, value := range params {
		encoded, ok, err := encodeParam(value)
		if err != nil {
			return nil, fmt.Errorf("encode param %q: %w", key, err)
		}
		if ok {
			q.Set(key, encoded)
		}
	}
	return q, nil
}

func encodeParam(v any) (string, bool, error) {
	rv, ok := deref(reflect.ValueOf(v))
	if !ok {
		return "", false, nil
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return "", false, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return string(rv.Bytes()), true, nil
		}
		if hasStructured(rv) {
			data, err := json.Marshal(rv.Interface())
			if err != nil {
				return "", false, err
			}
			return string(data), true, nil
		}
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			e, ok := deref(rv.Index(i))
			if !ok {
				continue
			}
			parts = append(parts, formatScalar(e))
		}
		return strings.Join(parts, ","), true, nil
	case reflect.Map, reflect.Struct:
		data, err := json.Marshal(rv.Interface())
		if err != nil {
			return "", false, err
		}
		return string(data), true, nil
	default:
		return formatScalar(rv), true, nil
	}
}

// deref unwraps interfaces and pointers; ok is false for nil.
func deref(rv reflect.Value) (reflect.Value, bool) {
	for rv.IsValid() && (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer) {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	return rv, rv.IsValid()
}

func hasStructured(list reflect.Value) bool {
	for i := 0; i < list.Len(); i++ {
		e, ok := deref(list.Index(i))
		if !ok {
			continue
		}
		switch e.Kind() {
		case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
			return true
		}
	}
	return false
}

func formatScalar(rv reflect.Value) string {
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64)
	default:
		return fmt.Sprint(rv.Interface())
	}
}
