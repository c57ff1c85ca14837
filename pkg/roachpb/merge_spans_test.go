// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package roachpb

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeSpans(s string) []Span {
	var spans []Span
	if len(s) == 0 {
		return spans
	}
	for _, t := range strings.Split(s, ",") {
		parts := strings.Split(t, "-")
		if len(parts) > 2 {
			panic(t)
		}
		sp := Span{Key: Key(parts[0])}
		if len(parts) > 1 {
			sp.EndKey = Key(parts[1])
		}
		spans = append(spans, sp)
	}
	return spans
}

func TestMergeSpans(t *testing.T) {
	testCases := []struct {
		spans    string
		expected string
		distinct bool
	}{
		{"", "", true},
		{"a", "a", true},
		{"a,b", "a,b", true},
		{"b,a", "a,b", true},
		{"a,a", "a", false},
		{"a-b", "a-b", true},
		{"a-b,b-c", "a-c", true},
		{"a-c,a-b", "a-c", false},
		{"a,b-c", "a,b-c", true},
		{"a,a-c", "a-c", false},
		{"a-c,b", "a-c", false},
		{"a-c,c", "a-c\x00", true},
		{"a-c,b-bb", "a-c", false},
		{"a-c,b-c", "a-c", false},
	}
	for i, c := range testCases {
		spans, distinct := MergeSpans(makeSpans(c.spans))
		expected := makeSpans(c.expected)
		require.Equalf(t, expected, spans, "%d", i)
		require.Equalf(t, c.distinct, distinct, "%d", i)
	}
}
