package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanMarkdownWrapper(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain JSON untouched",
			input:    `{"matches": []}`,
			expected: `{"matches": []}`,
		},
		{
			name:     "json fence",
			input:    "```json\n{\"matches\": []}\n```",
			expected: `{"matches": []}`,
		},
		{
			name:     "bare fence",
			input:    "```\n{\"matches\": []}\n```",
			expected: `{"matches": []}`,
		},
		{
			name:     "surrounding whitespace",
			input:    "  \n{\"matches\": []}\n  ",
			expected: `{"matches": []}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cleanMarkdownWrapper(tt.input))
		})
	}
}

func TestDecodeMatchPayload(t *testing.T) {
	t.Run("wrapper object", func(t *testing.T) {
		content := `{"matches": [{"invoice_line_item_id": "inv-1", "estimate_line_item_id": "est-1", "confidence": 0.92, "match_type": "exact", "reasoning": "same item"}]}`

		matches, err := decodeMatchPayload(content)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, "inv-1", matches[0].InvoiceLineItemID)
		require.NotNil(t, matches[0].EstimateLineItemID)
		assert.Equal(t, "est-1", *matches[0].EstimateLineItemID)
		assert.InDelta(t, 0.92, matches[0].Confidence, 0.001)
	})

	t.Run("bare array", func(t *testing.T) {
		content := `[{"invoice_line_item_id": "inv-1", "estimate_line_item_id": null, "confidence": 0.1, "match_type": "none", "reasoning": "nothing similar"}]`

		matches, err := decodeMatchPayload(content)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Nil(t, matches[0].EstimateLineItemID)
	})

	t.Run("fenced wrapper object", func(t *testing.T) {
		content := "```json\n{\"matches\": [{\"invoice_line_item_id\": \"inv-1\", \"estimate_line_item_id\": null, \"confidence\": 0, \"match_type\": \"none\", \"reasoning\": \"\"}]}\n```"

		matches, err := decodeMatchPayload(content)
		require.NoError(t, err)
		assert.Len(t, matches, 1)
	})

	t.Run("missing matches field", func(t *testing.T) {
		_, err := decodeMatchPayload(`{"results": []}`)
		assert.Error(t, err)
	})

	t.Run("not JSON", func(t *testing.T) {
		_, err := decodeMatchPayload("I could not find any matches.")
		assert.Error(t, err)
	})
}
