package client

import (
	"testing"
)

func TestEncodeParam(t *testing.T) {
	id := int64(9)
	var nilID *int64

	tests := []struct {
		name     string
		value    any
		expected string
		present  bool
	}{
		{"string", "NORMAL", "NORMAL", true},
		{"int", 100, "100", true},
		{"bool", true, "true", true},
		{"float", 12.5, "12.5", true},
		{"pointer", &id, "9", true},
		{"nil", nil, "", false},
		{"nil pointer", nilID, "", false},
		{"nil slice", []int64(nil), "", false},
		{"scalar list", []int64{1, 2, 3}, "1,2,3", true},
		{"string list", []string{"NORMAL", "BANNED"}, "NORMAL,BANNED", true},
		{"mixed list", []any{1, 2, map[string]int{"a": 1}}, `[1,2,{"a":1}]`, true},
		{"nested list", []any{[]int{1}, 2}, `[[1],2]`, true},
		{"scalar any list", []any{1, "x", true}, "1,x,true", true},
		{"map", map[string]int{"a": 1}, `{"a":1}`, true},
		{"struct", struct {
			A int `json:"a"`
		}{A: 1}, `{"a":1}`, true},
		{"empty list", []int{}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := encodeParam(tt.value)
			if err != nil {
				t.Fatalf("encodeParam() error = %v", err)
			}
			if ok != tt.present {
				t.Fatalf("present = %v, want %v", ok, tt.present)
			}
			if got != tt.expected {
				t.Errorf("encodeParam() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestEncodeParams(t *testing.T) {
	q, err := encodeParams(map[string]any{
		"item_id_list": []int64{10, 20},
		"offset":       0,
		"skip":         nil,
	})
	if err != nil {
		t.Fatalf("encodeParams() error = %v", err)
	}

	if got := q.Get("item_id_list"); got != "10,20" {
		t.Errorf("item_id_list = %q, want 10,20", got)
	}
	if got := q.Get("offset"); got != "0" {
		t.Errorf("offset = %q, want 0", got)
	}
	if _, ok := q["skip"]; ok {
		t.Error("nil param should be omitted")
	}
}

func TestEncodeParams_Unmarshalable(t *testing.T) {
	_, err := encodeParams(map[string]any{"bad": map[string]any{"ch": make(chan int)}})
	if err == nil {
		t.Fatal("Expected error for unmarshalable value")
	}
}
