package crypto

import (
	"testing"
)

func TestCanonicalizeJSONSortsAndStrips(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "keys sorted",
			input: `{"view": 2, "root_hash": "ab", "sequence_at_signing": 9}`,
			want:  `{"root_hash":"ab","sequence_at_signing":9,"view":2}`,
		},
		{
			name:  "nested objects and arrays",
			input: `{"b": [ {"z": 1, "a": 2}, 3 ], "a": null}`,
			want:  `{"a":null,"b":[{"a":2,"z":1},3]}`,
		},
		{
			name:  "string escapes",
			input: "{\"s\": \"line\\nbreak \\u0007 \\\"q\\\"\"}",
			want:  `{"s":"line\nbreak  \"q\""}`,
		},
		{
			name:  "large integers stay exact",
			input: `{"n": 18446744073709551615}`,
			want:  `{"n":18446744073709551615}`,
		},
		{
			name:  "float formatting",
			input: `{"f": 1.50, "z": 0.0}`,
			want:  `{"f":1.5,"z":0}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CanonicalizeJSON([]byte(tc.input))
			if err != nil {
				t.Fatalf("canonicalize: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("canonical = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestCanonicalizeJSONRejectsTrailingData(t *testing.T) {
	if _, err := CanonicalizeJSON([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Fatal("trailing data must be rejected")
	}
	if _, err := CanonicalizeJSON([]byte(`{`)); err == nil {
		t.Fatal("truncated JSON must be rejected")
	}
}

func TestCanonicalizeStructMatchesMapForm(t *testing.T) {
	type sample struct {
		B uint64 `json:"b"`
		A string `json:"a"`
	}
	fromStruct, err := Canonicalize(sample{B: 7, A: "x"})
	if err != nil {
		t.Fatalf("canonicalize struct: %v", err)
	}
	fromMap, err := Canonicalize(map[string]any{"a": "x", "b": uint64(7)})
	if err != nil {
		t.Fatalf("canonicalize map: %v", err)
	}
	if string(fromStruct) != string(fromMap) {
		t.Fatalf("struct form %s differs from map form %s", fromStruct, fromMap)
	}
	if string(fromStruct) != `{"a":"x","b":7}` {
		t.Fatalf("canonical = %s", fromStruct)
	}
}
