package model

import (
	"fmt"
	"time"
)

// PatternType identifies which family a learned matching pattern belongs to.
type PatternType string

// Pattern type constants.
const (
	PatternSupplierToTrade    PatternType = "SUPPLIER_TO_TRADE"
	PatternLineItemToTrade    PatternType = "LINEITEM_TO_TRADE"
	PatternLineItemToEstimate PatternType = "LINEITEM_TO_ESTIMATE"
	PatternAmountToTrade      PatternType = "AMOUNT_TO_TRADE"
)

// MatchingPattern is a confidence-weighted rule learned from confirmed human
// matches. Keyword patterns carry a canonical keyword key; amount patterns
// carry a numeric range.
type MatchingPattern struct {
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	LastUsedAt         *time.Time  `json:"last_used_at,omitempty"`
	ProjectID          *string     `json:"project_id,omitempty"`
	EstimateLineItemID *string     `json:"estimate_line_item_id,omitempty"`
	AmountMin          *float64    `json:"amount_min,omitempty"`
	AmountMax          *float64    `json:"amount_max,omitempty"`
	UserID             string      `json:"user_id"`
	PatternType        PatternType `json:"pattern_type"`
	Keyword            string      `json:"keyword,omitempty"`
	TradeID            string      `json:"trade_id"`
	ID                 int64       `json:"id"`
	Confidence         float64     `json:"confidence"`
	UsageCount         int         `json:"usage_count"`
	SuccessCount       int         `json:"success_count"`
	Active             bool        `json:"active"`
}

// Validate ensures the pattern has valid data.
func (p *MatchingPattern) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("pattern user id is required")
	}
	if p.TradeID == "" {
		return fmt.Errorf("pattern trade id is required")
	}
	switch p.PatternType {
	case PatternSupplierToTrade, PatternLineItemToTrade, PatternLineItemToEstimate:
		if p.Keyword == "" {
			return fmt.Errorf("keyword pattern requires a keyword")
		}
	case PatternAmountToTrade:
		if p.AmountMin == nil || p.AmountMax == nil {
			return fmt.Errorf("amount pattern requires a range")
		}
		if *p.AmountMin > *p.AmountMax {
			return fmt.Errorf("amount min must not exceed amount max")
		}
	default:
		return fmt.Errorf("unknown pattern type %q", p.PatternType)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("pattern confidence %f out of range [0,1]", p.Confidence)
	}
	return nil
}

// Strengthen raises the pattern's confidence by delta and records another
// confirmed use. Confidence never exceeds 1.
func (p *MatchingPattern) Strengthen(delta float64) {
	p.Confidence = ClampConfidence(p.Confidence + delta)
	p.UsageCount++
	p.SuccessCount++
}

// Weaken multiplies the pattern's confidence by factor after a user
// correction.
func (p *MatchingPattern) Weaken(factor float64) {
	p.Confidence = ClampConfidence(p.Confidence * factor)
}

// MatchesAmount reports whether an amount falls inside the pattern's range.
func (p *MatchingPattern) MatchesAmount(amount float64) bool {
	if p.AmountMin == nil || p.AmountMax == nil {
		return false
	}
	return amount >= *p.AmountMin && amount <= *p.AmountMax
}

// ClampConfidence bounds a confidence score to [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// PatternSuggestion is a candidate trade/estimate assignment produced by the
// pattern store for an unmatched invoice line item.
type PatternSuggestion struct {
	PatternID          *int64  `json:"pattern_id,omitempty"`
	EstimateLineItemID *string `json:"estimate_line_item_id,omitempty"`
	TradeID            string  `json:"trade_id"`
	Reason             string  `json:"reason"`
	Confidence         float64 `json:"confidence"`
}
