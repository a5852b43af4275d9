package store

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Coercion helpers for loosely typed marketplace fields decoded into any.
// Numbers may arrive as float64, json.Number or numeric strings.

// Bool normalizes true/false, 1/0 and the strings "true"/"false"/"1"/"0"
// (case-insensitive) to a tri-state. Anything else is unknown (nil).
func Bool(v any) *bool {
	t, f := true, false

	switch b := v.(type) {
	case bool:
		return &b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1":
			return &t
		case "false", "0":
			return &f
		}
		return nil
	}

	n, ok := number(v)
	if !ok {
		return nil
	}
	switch n {
	case 1:
		return &t
	case 0:
		return &f
	}
	return nil
}

// Epoch converts epoch seconds to a UTC time. Zero, negative and
// non-numeric values are absent (nil).
func Epoch(v any) *time.Time {
	n, ok := number(v)
	if !ok || n <= 0 {
		return nil
	}
	t := time.Unix(int64(n), 0).UTC()
	return &t
}

// Int64 returns the integral value of v, or nil.
func Int64(v any) *int64 {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return &i
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return &i
		}
	}

	f, ok := number(v)
	if !ok || f != math.Trunc(f) {
		return nil
	}
	i := int64(f)
	return &i
}

// Float64 returns the numeric value of v, or nil.
func Float64(v any) *float64 {
	f, ok := number(v)
	if !ok {
		return nil
	}
	return &f
}

// String returns v as text. Numbers keep their decimal form; nil is "".
func String(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return ""
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
