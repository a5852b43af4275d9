package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBool(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected *bool
	}{
		{"true", true, ptr(true)},
		{"false", false, ptr(false)},
		{"one", float64(1), ptr(true)},
		{"zero", float64(0), ptr(false)},
		{"json one", json.Number("1"), ptr(true)},
		{"int zero", 0, ptr(false)},
		{"string true", "true", ptr(true)},
		{"string TRUE", "TRUE", ptr(true)},
		{"string False", "False", ptr(false)},
		{"string one", "1", ptr(true)},
		{"string zero", "0", ptr(false)},
		{"two", float64(2), nil},
		{"yes", "yes", nil},
		{"empty", "", nil},
		{"nil", nil, nil},
		{"object", map[string]any{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, Bool(tt.value))
		})
	}
}

func TestEpoch(t *testing.T) {
	want := time.Unix(1700000000, 0).UTC()

	tests := []struct {
		name     string
		value    any
		expected *time.Time
	}{
		{"seconds", float64(1700000000), &want},
		{"json number", json.Number("1700000000"), &want},
		{"string", "1700000000", &want},
		{"zero", float64(0), nil},
		{"negative", float64(-5), nil},
		{"nil", nil, nil},
		{"garbage", "soon", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, Epoch(tt.value))
		})
	}
}

func TestInt64(t *testing.T) {
	require.Equal(t, ptr(int64(5)), Int64(float64(5)))
	require.Equal(t, ptr(int64(9007199254740993)), Int64(json.Number("9007199254740993")))
	require.Equal(t, ptr(int64(12)), Int64("12"))
	require.Nil(t, Int64(1.5))
	require.Nil(t, Int64(nil))
	require.Nil(t, Int64("x"))
}

func TestFloat64(t *testing.T) {
	require.Equal(t, ptr(15.5), Float64(15.5))
	require.Equal(t, ptr(15.5), Float64("15.5"))
	require.Equal(t, ptr(3.0), Float64(json.Number("3")))
	require.Nil(t, Float64(nil))
	require.Nil(t, Float64(true))
}

func TestString(t *testing.T) {
	require.Equal(t, "abc", String("abc"))
	require.Equal(t, "12", String(json.Number("12")))
	require.Equal(t, "1.5", String(1.5))
	require.Equal(t, "true", String(true))
	require.Equal(t, "", String(nil))
	require.Equal(t, "", String(map[string]any{}))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		msg      string
		expected bool
	}{
		{"read: connection reset by peer", true},
		{"FATAL: terminating connection due to administrator command", true},
		{"write: broken pipe", true},
		{"dial tcp: connect: connection refused", true},
		{"unexpected EOF", true},
		{"conn closed", true},
		{"server closed the connection unexpectedly", true},
		{"duplicate key value violates unique constraint", false},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			require.Equal(t, tt.expected, IsTransient(errorString(tt.msg)))
		})
	}

	require.False(t, IsTransient(nil))
}

type errorString string

func (e errorString) Error() string { return string(e) }

func ptr[T any](v T) *T { return &v }
