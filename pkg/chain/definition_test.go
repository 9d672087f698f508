// Copyright 2025 Certen Protocol
//
// Unit tests for chain definition parsing and hashing

package chain

import (
	"errors"
	"testing"
)

func TestParseDefinitionValid(t *testing.T) {
	doc := []byte(`{
		"description": "test economy",
		"ranges": [
			{"start": 100, "end": 104, "value": 50},
			{"start": 1, "end": 3, "value": 10}
		]
	}`)
	def, err := ParseDefinition(doc)
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	if len(def.Ranges) != 2 {
		t.Fatalf("Expected 2 ranges, got %d", len(def.Ranges))
	}
	if def.Ranges[0].Start != 1 {
		t.Error("Ranges must be sorted ascending by start")
	}
	if def.TotalSerials() != 8 {
		t.Errorf("Expected 8 serials, got %d", def.TotalSerials())
	}

	serials := def.Serials()
	want := []uint64{1, 2, 3, 100, 101, 102, 103, 104}
	if len(serials) != len(want) {
		t.Fatalf("Expected %d serials, got %d", len(want), len(serials))
	}
	for i, s := range want {
		if serials[i] != s {
			t.Errorf("serial[%d]: expected %d, got %d", i, s, serials[i])
		}
	}

	if v, ok := def.ValueFor(102); !ok || v != 50 {
		t.Errorf("ValueFor(102): expected 50, got %d (ok=%v)", v, ok)
	}
	if _, ok := def.ValueFor(99); ok {
		t.Error("ValueFor(99) should miss")
	}
}

func TestParseDefinitionRejections(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want error
	}{
		{"empty ranges", `{"ranges": []}`, ErrMalformedDefinition},
		{"garbage", `{{`, ErrMalformedDefinition},
		{"start after end", `{"ranges": [{"start": 5, "end": 2, "value": 1}]}`, ErrInvalidRange},
		{"zero value", `{"ranges": [{"start": 1, "end": 2, "value": 0}]}`, ErrInvalidRange},
		{"non-integer bound", `{"ranges": [{"start": 1.5, "end": 2, "value": 1}]}`, ErrInvalidRange},
		{"negative bound", `{"ranges": [{"start": -1, "end": 2, "value": 1}]}`, ErrInvalidRange},
		{"overlap", `{"ranges": [{"start": 1, "end": 5, "value": 1}, {"start": 4, "end": 9, "value": 2}]}`, ErrInvalidRange},
		{"touching", `{"ranges": [{"start": 1, "end": 5, "value": 1}, {"start": 5, "end": 9, "value": 2}]}`, ErrInvalidRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseDefinition([]byte(tc.doc)); !errors.Is(err, tc.want) {
				t.Errorf("Expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDefinitionHashDeterministic(t *testing.T) {
	doc := []byte(`{"description": "d", "ranges": [{"start": 1, "end": 2, "value": 3}]}`)
	a, _ := ParseDefinition(doc)
	b, _ := ParseDefinition(doc)
	if a.Hash() != b.Hash() {
		t.Error("Same document must hash identically")
	}

	// Range order in the document must not matter: the canonical form
	// sorts before hashing.
	unordered, _ := ParseDefinition([]byte(`{"description": "x", "ranges": [{"start": 10, "end": 11, "value": 5}, {"start": 1, "end": 2, "value": 3}]}`))
	ordered, _ := ParseDefinition([]byte(`{"description": "x", "ranges": [{"start": 1, "end": 2, "value": 3}, {"start": 10, "end": 11, "value": 5}]}`))
	if unordered.Hash() != ordered.Hash() {
		t.Error("Hash must be independent of document range order")
	}

	other, _ := ParseDefinition([]byte(`{"description": "d2", "ranges": [{"start": 1, "end": 2, "value": 3}]}`))
	if a.Hash() == other.Hash() {
		t.Error("Different descriptions must hash differently")
	}
}
