package main

import (
	"testing"

	"github.com/brojonat/lazorpass/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestJQFilterMatching(t *testing.T) {
	entry := &client.HistoryEntry{
		Signature: "sig-1",
		Amount:    2500000,
		Memo:      strPtr(`order-42`),
		TokenMint: strPtr("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"),
	}

	tests := []struct {
		name        string
		filters     []string
		expectMatch bool
	}{
		{name: "no filters", expectMatch: true},
		{name: "memo match", filters: []string{`.memo == "order-42"`}, expectMatch: true},
		{name: "memo mismatch", filters: []string{`.memo == "order-7"`}, expectMatch: false},
		{name: "amount comparison", filters: []string{`.amount > 1000000`}, expectMatch: true},
		{name: "all filters must match", filters: []string{`.amount > 1000000`, `.error != null`}, expectMatch: false},
		{name: "null result is falsy", filters: []string{`.from_address`}, expectMatch: false},
		{name: "string result is truthy", filters: []string{`.signature`}, expectMatch: true},
		{name: "runtime error does not match", filters: []string{`.amount | ascii_downcase`}, expectMatch: false},
		{name: "empty output does not match", filters: []string{`empty`}, expectMatch: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := compileFilters(tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.expectMatch, f.Match(entry))
		})
	}
}

func TestCompileFilters_Invalid(t *testing.T) {
	_, err := compileFilters([]string{`.status ==`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse jq filter")

	_, err = compileFilters([]string{`$undefined`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile jq filter")
}

func TestIsTruthy(t *testing.T) {
	assert.False(t, isTruthy(nil))
	assert.False(t, isTruthy(false))
	assert.True(t, isTruthy(true))
	assert.True(t, isTruthy(0))
	assert.True(t, isTruthy(""))
	assert.True(t, isTruthy([]interface{}{}))
}
