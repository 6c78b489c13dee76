package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{name: "short string unchanged", input: "concrete", maxLen: 20, want: "concrete"},
		{name: "exact length unchanged", input: "rebar", maxLen: 5, want: "rebar"},
		{name: "long string ellipsized", input: "drywall installation", maxLen: 10, want: "drywall..."},
		{name: "multibyte runes not split", input: "béton armé préfabriqué", maxLen: 13, want: "béton armé..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.input, tt.maxLen))
		})
	}
}
