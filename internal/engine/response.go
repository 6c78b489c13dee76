package engine

import (
	"time"

	"github.com/buildledger/matchengine/internal/model"
)

// MatchRequest is one project-scoped matching call: a batch of invoices
// against the project's full estimate line-item set.
type MatchRequest struct {
	ProjectID string
	UserID    string
	Invoices  []model.Invoice
	Estimates []model.EstimateLineItem
}

// MatchResponse carries the per-item results plus aggregate metrics. Matches
// always contains exactly one entry per submitted invoice line item, in
// submission order, even when strategies degraded along the way.
type MatchResponse struct {
	Matches []model.MatchResult `json:"matches"`
	Summary Summary             `json:"summary"`
	Details ProcessingDetails   `json:"processing_details"`
	Success bool                `json:"success"`
}

// Summary aggregates match outcomes for reporting.
type Summary struct {
	TotalItems        int     `json:"total_items"`
	MatchedItems      int     `json:"matched_items"`
	UnmatchedItems    int     `json:"unmatched_items"`
	AverageConfidence float64 `json:"average_confidence"`
}

// ProcessingDetails exposes how each tier contributed and how the external
// service behaved. Degraded strategies surface here, never as missing items.
type ProcessingDetails struct {
	LLMFailures     []string         `json:"llm_failures,omitempty"`
	ProcessingTime  time.Duration    `json:"processing_time"`
	TokenUsage      model.TokenUsage `json:"token_usage"`
	ExistingMatches int              `json:"existing_matches"`
	PatternMatches  int              `json:"pattern_matches"`
	LLMMatches      int              `json:"llm_matches"`
	LogicMatches    int              `json:"logic_matches"`
	NoMatches       int              `json:"no_matches"`
	CacheHit        bool             `json:"cache_hit"`
}

// summarize computes aggregate metrics over a merged result set.
func summarize(matches []model.MatchResult) Summary {
	summary := Summary{TotalItems: len(matches)}

	var confidenceSum float64
	for _, m := range matches {
		if m.EstimateLineItemID != nil {
			summary.MatchedItems++
		} else {
			summary.UnmatchedItems++
		}
		confidenceSum += m.Confidence
	}
	if len(matches) > 0 {
		summary.AverageConfidence = confidenceSum / float64(len(matches))
	}
	return summary
}

// countStrategies tallies per-tier counts from a merged result set.
func (d *ProcessingDetails) countStrategies(matches []model.MatchResult) {
	for _, m := range matches {
		switch m.Strategy {
		case model.StrategyExisting:
			d.ExistingMatches++
		case model.StrategyPattern:
			d.PatternMatches++
		case model.StrategyLLM:
			d.LLMMatches++
		case model.StrategyLogic:
			if m.EstimateLineItemID != nil {
				d.LogicMatches++
			} else {
				d.NoMatches++
			}
		default:
			d.NoMatches++
		}
	}
}
