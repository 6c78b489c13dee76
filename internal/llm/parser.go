package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawMatch mirrors one element of the model's JSON response payload.
type rawMatch struct {
	InvoiceLineItemID  string  `json:"invoice_line_item_id"`
	EstimateLineItemID *string `json:"estimate_line_item_id"`
	Confidence         float64 `json:"confidence"`
	Reasoning          string  `json:"reasoning"`
	MatchType          string  `json:"match_type"`
}

// matchPayload is the expected top-level response object.
type matchPayload struct {
	Matches []rawMatch `json:"matches"`
}

// cleanMarkdownWrapper strips code fences that some models wrap around JSON
// output despite instructions not to.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
	}
	return strings.TrimSpace(content)
}

// decodeMatchPayload parses the completion text into raw match entries.
func decodeMatchPayload(content string) ([]rawMatch, error) {
	content = cleanMarkdownWrapper(content)

	var payload matchPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		// Some models return a bare array instead of the wrapper object.
		var bare []rawMatch
		if arrErr := json.Unmarshal([]byte(content), &bare); arrErr == nil {
			return bare, nil
		}
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	if payload.Matches == nil {
		return nil, fmt.Errorf("no matches field in response")
	}

	return payload.Matches, nil
}
