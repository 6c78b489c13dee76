// Package logic implements the deterministic fallback matcher. It scores
// invoice line items against estimate candidates using local similarity
// measures only, so it always produces a result and never calls out.
package logic

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/buildledger/matchengine/internal/model"
	"github.com/buildledger/matchengine/internal/similarity"
)

// Weights controls how the individual similarity measures combine into a
// match score.
type Weights struct {
	Description      float64
	Semantic         float64
	Price            float64
	CategoryBonus    float64
	AcceptThreshold  float64
	PartialThreshold float64
}

// DefaultWeights returns the standard scoring weights.
func DefaultWeights() Weights {
	return Weights{
		Description:      0.4,
		Semantic:         0.3,
		Price:            0.2,
		CategoryBonus:    0.1,
		AcceptThreshold:  0.3,
		PartialThreshold: 0.7,
	}
}

// Matcher scores invoice line items against estimate line items without any
// external dependency.
type Matcher struct {
	logger  *slog.Logger
	weights Weights
}

// NewMatcher creates a deterministic matcher with the given weights.
func NewMatcher(logger *slog.Logger, weights Weights) *Matcher {
	return &Matcher{logger: logger, weights: weights}
}

// MatchBatch resolves every unmatched invoice line item against the estimate
// set. It returns exactly one result per input item and cannot fail.
func (m *Matcher) MatchBatch(items []model.InvoiceLineItem, estimates []model.EstimateLineItem) []model.MatchResult {
	results := make([]model.MatchResult, 0, len(items))
	for _, item := range items {
		results = append(results, m.MatchItem(item, estimates))
	}
	return results
}

// MatchItem scores one invoice line item against every estimate candidate and
// returns the best match, or a no-match result when nothing scores above the
// acceptance threshold.
func (m *Matcher) MatchItem(item model.InvoiceLineItem, estimates []model.EstimateLineItem) model.MatchResult {
	var best *model.EstimateLineItem
	var bestScore float64

	for i := range estimates {
		score := m.Score(item, estimates[i])
		if score > bestScore {
			best = &estimates[i]
			bestScore = score
		}
	}

	if best == nil || bestScore <= m.weights.AcceptThreshold {
		none := model.NoneResult(item.ID, "No estimate line item scored above the similarity threshold")
		none.Strategy = model.StrategyLogic
		return none
	}

	matchType := model.MatchConceptual
	if bestScore > m.weights.PartialThreshold {
		matchType = model.MatchPartial
	}

	estimateID := best.ID
	result := model.MatchResult{
		InvoiceLineItemID:  item.ID,
		EstimateLineItemID: &estimateID,
		Confidence:         bestScore,
		Reasoning:          fmt.Sprintf("Similarity score %.2f against %q", bestScore, best.Description),
		MatchType:          matchType,
		Strategy:           model.StrategyLogic,
	}

	m.logger.Debug("deterministic match",
		"invoice_line_item_id", item.ID,
		"estimate_line_item_id", best.ID,
		"score", bestScore)

	return result
}

// Score computes the weighted similarity between an invoice line item and one
// estimate candidate, rounded to two decimals.
func (m *Matcher) Score(item model.InvoiceLineItem, estimate model.EstimateLineItem) float64 {
	score := m.weights.Description*similarity.String(item.Description, estimate.Description) +
		m.weights.Semantic*similarity.Semantic(item.Description, estimate.Description) +
		m.weights.Price*similarity.Price(item.TotalPrice, estimate.TotalCost())

	if item.Category == model.CategoryMaterial {
		score += m.weights.CategoryBonus
	}

	return math.Round(score*100) / 100
}
