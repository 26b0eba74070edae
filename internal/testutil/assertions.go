package testutil

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/mem-analysis/internal/region"
)

// AssertJSONEqual asserts that two JSON strings are semantically equal.
func AssertJSONEqual(t *testing.T, expected, actual string) {
	t.Helper()

	var expectedJSON, actualJSON interface{}

	if err := json.Unmarshal([]byte(expected), &expectedJSON); err != nil {
		t.Fatalf("failed to parse expected JSON: %v", err)
	}

	if err := json.Unmarshal([]byte(actual), &actualJSON); err != nil {
		t.Fatalf("failed to parse actual JSON: %v", err)
	}

	if !reflect.DeepEqual(expectedJSON, actualJSON) {
		expectedPretty, _ := json.MarshalIndent(expectedJSON, "", "  ")
		actualPretty, _ := json.MarshalIndent(actualJSON, "", "  ")
		t.Errorf("JSON not equal:\nExpected:\n%s\n\nActual:\n%s", expectedPretty, actualPretty)
	}
}

// Span is a (base, size) pair used to compare region lists.
type Span struct {
	Base uint64
	Size uint64
}

// Spans projects regions onto their (base, size).
func Spans(rs []region.Region) []Span {
	out := make([]Span, len(rs))
	for i, r := range rs {
		out[i] = Span{Base: r.BaseAddress().Value(), Size: r.Size()}
	}
	return out
}

// AssertSpans asserts that regions have exactly the given bases and sizes, in
// order.
func AssertSpans(t *testing.T, expected []Span, actual []region.Region) {
	t.Helper()
	got := Spans(actual)
	if !reflect.DeepEqual(expected, got) {
		t.Errorf("region spans differ:\nExpected: %#x\nActual:   %#x", expected, got)
	}
}

// AssertSortedDisjoint asserts that regions are ordered by base and do not
// overlap.
func AssertSortedDisjoint(t *testing.T, rs []region.Region) {
	t.Helper()
	for i := 1; i < len(rs); i++ {
		prevEnd := region.End(rs[i-1]).Value()
		if rs[i].BaseAddress().Value() < prevEnd {
			t.Errorf("region %d at %s overlaps or precedes previous region ending at %#x",
				i, rs[i].BaseAddress(), prevEnd)
		}
	}
}

// Descriptions returns the description of every region, in order.
func Descriptions(rs []region.Region) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Description()
	}
	return out
}
