package utils

import (
	"database/sql"
	"strings"
	"testing"
)

func TestFileWithLineNum(t *testing.T) {
	if file := FileWithLineNum(); !strings.Contains(file, "_test.go:") && file != "" {
		t.Fatalf("expected a test file location, got %v", file)
	}
}

func TestToStringKey(t *testing.T) {
	var missing *int
	two := 2

	cases := []struct {
		values []interface{}
		key    string
	}{
		{[]interface{}{uint(1)}, "1"},
		{[]interface{}{int64(1)}, "1"},
		{[]interface{}{"User 1"}, "User 1"},
		{[]interface{}{[]byte("11")}, "11"},
		{[]interface{}{&two, "a"}, "2_a"},
		{[]interface{}{sql.NullString{String: "x", Valid: true}}, "x"},
		{[]interface{}{nil}, ""},
		{[]interface{}{missing}, ""},
	}

	for _, c := range cases {
		if key := ToStringKey(c.values...); key != c.key {
			t.Errorf("ToStringKey(%v) = %q, want %q", c.values, key, c.key)
		}
	}
}

func TestCheckTruth(t *testing.T) {
	if !CheckTruth("true") || !CheckTruth("", "1") || CheckTruth("false", "") {
		t.Fatal("unexpected CheckTruth result")
	}
}
