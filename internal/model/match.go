package model

import "fmt"

// MatchType describes the quality of a resolved invoice-to-estimate match.
type MatchType string

// Match type constants.
const (
	MatchExact      MatchType = "exact"
	MatchPartial    MatchType = "partial"
	MatchConceptual MatchType = "conceptual"
	MatchNone       MatchType = "none"
	MatchExisting   MatchType = "existing"
	MatchPattern    MatchType = "pattern"
)

// MatchStrategy identifies which tier of the matching pipeline resolved an
// item.
type MatchStrategy string

// Strategy tier constants.
const (
	StrategyExisting MatchStrategy = "existing"
	StrategyPattern  MatchStrategy = "pattern"
	StrategyLLM      MatchStrategy = "llm"
	StrategyLogic    MatchStrategy = "logic"
	StrategyNone     MatchStrategy = "none"
)

// MatchResult links one invoice line item to its best estimate line item, or
// records that no match was found. Exactly one result exists per submitted
// invoice line item in a batch.
type MatchResult struct {
	InvoiceLineItemID  string        `json:"invoice_line_item_id"`
	EstimateLineItemID *string       `json:"estimate_line_item_id"`
	Confidence         float64       `json:"confidence"`
	Reasoning          string        `json:"reasoning"`
	MatchType          MatchType     `json:"match_type"`
	Strategy           MatchStrategy `json:"strategy,omitempty"`
}

// Validate checks the result invariants.
func (r *MatchResult) Validate() error {
	if r.InvoiceLineItemID == "" {
		return fmt.Errorf("match result is missing an invoice line item id")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("match result confidence %f out of range [0,1]", r.Confidence)
	}
	switch r.MatchType {
	case MatchExact, MatchPartial, MatchConceptual, MatchNone, MatchExisting, MatchPattern:
	default:
		return fmt.Errorf("unknown match type %q", r.MatchType)
	}
	if r.MatchType == MatchNone && r.EstimateLineItemID != nil {
		return fmt.Errorf("match result of type none must not reference an estimate")
	}
	return nil
}

// NoneResult builds the synthesized result for an item no strategy resolved.
func NoneResult(invoiceLineItemID, reasoning string) MatchResult {
	if reasoning == "" {
		reasoning = "No suitable estimate line item found"
	}
	return MatchResult{
		InvoiceLineItemID:  invoiceLineItemID,
		EstimateLineItemID: nil,
		Confidence:         0,
		Reasoning:          reasoning,
		MatchType:          MatchNone,
		Strategy:           StrategyNone,
	}
}

// TokenUsage accounts for external model consumption during a match run.
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Add accumulates usage from another call.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CostUSD += other.CostUSD
}
