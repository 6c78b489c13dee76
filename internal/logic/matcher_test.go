package logic

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildledger/matchengine/internal/model"
)

func newTestMatcher() *Matcher {
	return NewMatcher(slog.New(slog.NewTextHandler(io.Discard, nil)), DefaultWeights())
}

func TestMatchItemIdenticalItem(t *testing.T) {
	m := newTestMatcher()

	item := model.InvoiceLineItem{
		ID:          "inv-1",
		Description: "Concrete for foundation",
		TotalPrice:  3000,
		Category:    model.CategoryMaterial,
	}
	estimates := []model.EstimateLineItem{
		{ID: "est-1", Description: "Concrete for foundation", MaterialCostEst: 3000},
	}

	result := m.MatchItem(item, estimates)
	require.NotNil(t, result.EstimateLineItemID)
	assert.Equal(t, "est-1", *result.EstimateLineItemID)
	assert.InDelta(t, 1.0, result.Confidence, 0.001)
	assert.Equal(t, model.MatchPartial, result.MatchType)
	assert.Equal(t, model.StrategyLogic, result.Strategy)
}

func TestMatchItemKeywordOverlap(t *testing.T) {
	m := newTestMatcher()

	item := model.InvoiceLineItem{
		ID:          "inv-1",
		Description: "Concrete pouring",
		TotalPrice:  2500,
		Category:    model.CategoryMaterial,
	}
	estimates := []model.EstimateLineItem{
		{ID: "est-1", Description: "Concrete for foundation", MaterialCostEst: 2000, LaborCostEst: 800, EquipmentCostEst: 200},
		{ID: "est-2", Description: "Electrical rough-in", LaborCostEst: 5000},
	}

	result := m.MatchItem(item, estimates)
	require.NotNil(t, result.EstimateLineItemID)
	assert.Equal(t, "est-1", *result.EstimateLineItemID)
	assert.Greater(t, result.Confidence, 0.5)
	assert.Contains(t, []model.MatchType{model.MatchPartial, model.MatchConceptual}, result.MatchType)
}

func TestMatchItemNoPlausibleMatch(t *testing.T) {
	m := newTestMatcher()

	item := model.InvoiceLineItem{
		ID:          "inv-1",
		Description: "Office supplies",
		TotalPrice:  45,
	}
	estimates := []model.EstimateLineItem{
		{ID: "est-1", Description: "Foundation excavation", LaborCostEst: 4000},
		{ID: "est-2", Description: "Framing lumber package", MaterialCostEst: 8000},
		{ID: "est-3", Description: "Electrical rough-in", LaborCostEst: 5000},
	}

	result := m.MatchItem(item, estimates)
	assert.Nil(t, result.EstimateLineItemID)
	assert.Equal(t, model.MatchNone, result.MatchType)
	assert.Zero(t, result.Confidence)
}

func TestMatchItemEmptyEstimates(t *testing.T) {
	m := newTestMatcher()

	result := m.MatchItem(model.InvoiceLineItem{ID: "inv-1", Description: "Anything"}, nil)
	assert.Nil(t, result.EstimateLineItemID)
	assert.Equal(t, model.MatchNone, result.MatchType)
	assert.Equal(t, model.StrategyLogic, result.Strategy)
}

func TestMatchBatchCompleteness(t *testing.T) {
	m := newTestMatcher()

	items := []model.InvoiceLineItem{
		{ID: "inv-1", Description: "Concrete pouring", TotalPrice: 2500, Category: model.CategoryMaterial},
		{ID: "inv-2", Description: "Office supplies", TotalPrice: 45},
		{ID: "inv-3", Description: "Framing lumber", TotalPrice: 7800, Category: model.CategoryMaterial},
	}
	estimates := []model.EstimateLineItem{
		{ID: "est-1", Description: "Concrete for foundation", MaterialCostEst: 3000},
		{ID: "est-2", Description: "Framing lumber package", MaterialCostEst: 8000},
	}

	results := m.MatchBatch(items, estimates)
	require.Len(t, results, len(items))

	seen := make(map[string]bool)
	for i, res := range results {
		assert.Equal(t, items[i].ID, res.InvoiceLineItemID)
		assert.False(t, seen[res.InvoiceLineItemID])
		seen[res.InvoiceLineItemID] = true
		assert.GreaterOrEqual(t, res.Confidence, 0.0)
		assert.LessOrEqual(t, res.Confidence, 1.0)
		require.NoError(t, res.Validate())
	}
}

func TestScoreRounding(t *testing.T) {
	m := newTestMatcher()

	item := model.InvoiceLineItem{Description: "Drywall installation", TotalPrice: 1234}
	estimate := model.EstimateLineItem{Description: "Drywall hanging and finishing", LaborCostEst: 1500}

	score := m.Score(item, estimate)
	assert.InDelta(t, score, float64(int(score*100+0.5))/100, 1e-9)
}

func TestScoreMaterialBonus(t *testing.T) {
	m := newTestMatcher()

	base := model.InvoiceLineItem{Description: "Rebar #4", TotalPrice: 900}
	material := base
	material.Category = model.CategoryMaterial
	estimate := model.EstimateLineItem{Description: "Rebar #4", MaterialCostEst: 900}

	withBonus := m.Score(material, estimate)
	withoutBonus := m.Score(base, estimate)
	assert.InDelta(t, 0.1, withBonus-withoutBonus, 0.011)
}

func TestMatchItemThresholdBoundary(t *testing.T) {
	weights := DefaultWeights()
	weights.AcceptThreshold = 0.99
	m := NewMatcher(slog.New(slog.NewTextHandler(io.Discard, nil)), weights)

	// Strong match, but below the raised threshold.
	item := model.InvoiceLineItem{ID: "inv-1", Description: "Concrete pouring", TotalPrice: 2500}
	estimates := []model.EstimateLineItem{
		{ID: "est-1", Description: "Concrete for foundation", MaterialCostEst: 3000},
	}

	result := m.MatchItem(item, estimates)
	assert.Equal(t, model.MatchNone, result.MatchType)
}
