package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildledger/matchengine/internal/cache"
	"github.com/buildledger/matchengine/internal/logic"
	"github.com/buildledger/matchengine/internal/model"
	"github.com/buildledger/matchengine/internal/pattern"
	"github.com/buildledger/matchengine/internal/storage"
)

// stubSemantic scripts the external matcher tier.
type stubSemantic struct {
	err     error
	match   func(items []model.InvoiceLineItem) []model.MatchResult
	usage   model.TokenUsage
	calls   int
	batches [][]model.Invoice
}

func (s *stubSemantic) MatchBatch(_ context.Context, invoices []model.Invoice, _ []model.EstimateLineItem) ([]model.MatchResult, model.TokenUsage, error) {
	s.calls++
	s.batches = append(s.batches, invoices)
	if s.err != nil {
		return nil, model.TokenUsage{}, s.err
	}
	var items []model.InvoiceLineItem
	for _, inv := range invoices {
		items = append(items, inv.LineItems...)
	}
	if s.match == nil {
		results := make([]model.MatchResult, 0, len(items))
		for _, item := range items {
			none := model.NoneResult(item.ID, "no semantic match")
			none.Strategy = model.StrategyLLM
			results = append(results, none)
		}
		return results, s.usage, nil
	}
	return s.match(items), s.usage, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, semantic SemanticMatcher, opts Options) (*Engine, *storage.SQLiteStorage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	logger := testLogger()
	patterns := pattern.NewStore(store, logger)
	fallback := logic.NewMatcher(logger, logic.DefaultWeights())
	return New(store, patterns, semantic, fallback, cache.New(), logger, opts), store
}

func testRequest() MatchRequest {
	return MatchRequest{
		ProjectID: "project-1",
		UserID:    "user-1",
		Invoices: []model.Invoice{
			{
				ID:           "invoice-1",
				SupplierName: "Acme Concrete Co.",
				LineItems: []model.InvoiceLineItem{
					{ID: "inv-1", InvoiceID: "invoice-1", Description: "Concrete pouring", Quantity: 10, UnitPrice: 250, TotalPrice: 2500, Category: model.CategoryMaterial},
					{ID: "inv-2", InvoiceID: "invoice-1", Description: "Office supplies", Quantity: 1, UnitPrice: 45, TotalPrice: 45},
				},
			},
		},
		Estimates: []model.EstimateLineItem{
			{ID: "est-1", Description: "Concrete for foundation", MaterialCostEst: 2000, LaborCostEst: 800, EquipmentCostEst: 200, TradeID: "trade-concrete", TradeName: "Concrete"},
			{ID: "est-2", Description: "Framing lumber package", MaterialCostEst: 8000, TradeID: "trade-framing", TradeName: "Framing"},
		},
	}
}

func TestMatchBatchCompleteness(t *testing.T) {
	eng, _ := newTestEngine(t, nil, DefaultOptions())

	resp, err := eng.MatchBatch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, resp.Matches, 2)

	seen := make(map[string]bool)
	for _, m := range resp.Matches {
		assert.False(t, seen[m.InvoiceLineItemID])
		seen[m.InvoiceLineItemID] = true
		assert.GreaterOrEqual(t, m.Confidence, 0.0)
		assert.LessOrEqual(t, m.Confidence, 1.0)
		require.NoError(t, m.Validate())
	}
	assert.Equal(t, 2, resp.Summary.TotalItems)
}

func TestMatchBatchFallbackGuarantee(t *testing.T) {
	// The semantic matcher always fails; the run must still succeed with
	// the deterministic tier picking up the concrete item.
	semantic := &stubSemantic{err: errors.New("service unavailable")}
	eng, _ := newTestEngine(t, semantic, DefaultOptions())

	resp, err := eng.MatchBatch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.True(t, resp.Success)
	require.Len(t, resp.Matches, 2)
	assert.Positive(t, resp.Details.LogicMatches)
	assert.NotEmpty(t, resp.Details.LLMFailures)
	assert.Zero(t, resp.Details.LLMMatches)

	byID := make(map[string]model.MatchResult)
	for _, m := range resp.Matches {
		byID[m.InvoiceLineItemID] = m
	}
	require.NotNil(t, byID["inv-1"].EstimateLineItemID)
	assert.Equal(t, "est-1", *byID["inv-1"].EstimateLineItemID)
	assert.Nil(t, byID["inv-2"].EstimateLineItemID)
}

func TestMatchBatchSemanticTier(t *testing.T) {
	estimateID := "est-1"
	semantic := &stubSemantic{
		match: func(items []model.InvoiceLineItem) []model.MatchResult {
			results := make([]model.MatchResult, 0, len(items))
			for _, item := range items {
				if item.ID == "inv-1" {
					results = append(results, model.MatchResult{
						InvoiceLineItemID:  "inv-1",
						EstimateLineItemID: &estimateID,
						Confidence:         0.93,
						Reasoning:          "Both are foundation concrete",
						MatchType:          model.MatchExact,
						Strategy:           model.StrategyLLM,
					})
					continue
				}
				none := model.NoneResult(item.ID, "nothing similar")
				none.Strategy = model.StrategyLLM
				results = append(results, none)
			}
			return results
		},
		usage: model.TokenUsage{InputTokens: 900, OutputTokens: 120, CostUSD: 0.004},
	}
	eng, _ := newTestEngine(t, semantic, DefaultOptions())

	resp, err := eng.MatchBatch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Details.LLMMatches)
	assert.Equal(t, 900, resp.Details.TokenUsage.InputTokens)
	assert.Equal(t, 1, semantic.calls)

	byID := make(map[string]model.MatchResult)
	for _, m := range resp.Matches {
		byID[m.InvoiceLineItemID] = m
	}
	assert.Equal(t, model.MatchExact, byID["inv-1"].MatchType)
	// The semantic none for inv-2 cascaded to the deterministic tier,
	// which also finds nothing for office supplies.
	assert.Equal(t, model.MatchNone, byID["inv-2"].MatchType)
}

func TestMatchBatchCacheIdempotence(t *testing.T) {
	eng, _ := newTestEngine(t, nil, DefaultOptions())
	req := testRequest()

	first, err := eng.MatchBatch(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Details.CacheHit)

	second, err := eng.MatchBatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Details.CacheHit)
	assert.Equal(t, first.Matches, second.Matches)

	// Changing the estimate set must change the fingerprint.
	changed := testRequest()
	changed.Estimates[0].MaterialCostEst = 2100
	third, err := eng.MatchBatch(context.Background(), changed)
	require.NoError(t, err)
	assert.False(t, third.Details.CacheHit)
}

func TestMatchBatchExistingLinks(t *testing.T) {
	eng, store := newTestEngine(t, nil, DefaultOptions())
	require.NoError(t, store.SaveEstimateLink(context.Background(), "inv-1", "est-1"))

	resp, err := eng.MatchBatch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Details.ExistingMatches)

	byID := make(map[string]model.MatchResult)
	for _, m := range resp.Matches {
		byID[m.InvoiceLineItemID] = m
	}
	assert.Equal(t, model.MatchExisting, byID["inv-1"].MatchType)
	assert.InDelta(t, 1.0, byID["inv-1"].Confidence, 0.001)
}

func TestMatchBatchPatternTier(t *testing.T) {
	opts := DefaultOptions()
	opts.EnableCache = false
	eng, store := newTestEngine(t, nil, opts)
	ctx := context.Background()

	// Teach the store until the supplier pattern clears the 0.7 threshold.
	patterns := pattern.NewStore(store, testLogger())
	projectID := "project-1"
	estimateID := "est-1"
	for i := 0; i < 3; i++ {
		require.NoError(t, patterns.LearnFromMapping(ctx, pattern.LearnRequest{
			ProjectID:          &projectID,
			EstimateLineItemID: &estimateID,
			UserID:             "user-1",
			InvoiceLineItemID:  "inv-1",
			SupplierName:       "Acme Concrete Co.",
			Description:        "Concrete pouring",
			TradeID:            "trade-concrete",
			Amount:             2500,
		}))
	}

	resp, err := eng.MatchBatch(ctx, testRequest())
	require.NoError(t, err)
	assert.Positive(t, resp.Details.PatternMatches)

	byID := make(map[string]model.MatchResult)
	for _, m := range resp.Matches {
		byID[m.InvoiceLineItemID] = m
	}
	assert.Equal(t, model.MatchPattern, byID["inv-1"].MatchType)
	require.NotNil(t, byID["inv-1"].EstimateLineItemID)
	assert.Equal(t, "est-1", *byID["inv-1"].EstimateLineItemID)
}

func TestMatchBatchLearningPersistsLinks(t *testing.T) {
	opts := DefaultOptions()
	opts.EnableCache = false
	estimateID := "est-1"
	semantic := &stubSemantic{
		match: func(items []model.InvoiceLineItem) []model.MatchResult {
			results := make([]model.MatchResult, 0, len(items))
			for _, item := range items {
				if item.Description == "Concrete pouring" {
					results = append(results, model.MatchResult{
						InvoiceLineItemID:  item.ID,
						EstimateLineItemID: &estimateID,
						Confidence:         0.95,
						MatchType:          model.MatchExact,
						Strategy:           model.StrategyLLM,
					})
					continue
				}
				none := model.NoneResult(item.ID, "")
				none.Strategy = model.StrategyLLM
				results = append(results, none)
			}
			return results
		},
	}
	eng, store := newTestEngine(t, semantic, opts)
	ctx := context.Background()

	_, err := eng.MatchBatch(ctx, testRequest())
	require.NoError(t, err)

	links, err := store.GetEstimateLinks(ctx, []string{"inv-1", "inv-2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"inv-1": "est-1"}, links)

	// The confident match was also fed back as a learned pattern.
	sugs, err := pattern.NewStore(store, testLogger()).GetSuggestions(ctx, pattern.SuggestQuery{
		UserID:       "user-1",
		SupplierName: "Acme Concrete Co.",
		Description:  "Concrete pouring",
		Amount:       2500,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sugs)
}

func TestMatchBatchEmptyEstimateSet(t *testing.T) {
	eng, _ := newTestEngine(t, nil, DefaultOptions())
	req := testRequest()
	req.Estimates = nil

	resp, err := eng.MatchBatch(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Zero(t, resp.Summary.MatchedItems)
	for _, m := range resp.Matches {
		assert.Equal(t, model.MatchNone, m.MatchType)
		assert.Nil(t, m.EstimateLineItemID)
	}
}

func TestMatchBatchEmptyInvoices(t *testing.T) {
	eng, _ := newTestEngine(t, nil, DefaultOptions())

	resp, err := eng.MatchBatch(context.Background(), MatchRequest{ProjectID: "project-1", UserID: "user-1"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Matches)
}

func TestMatchBatchRejectsMalformedInput(t *testing.T) {
	eng, _ := newTestEngine(t, nil, DefaultOptions())
	req := testRequest()
	req.Invoices[0].LineItems[1].ID = "inv-1" // duplicate

	resp, err := eng.MatchBatch(context.Background(), req)
	require.Error(t, err)
	assert.False(t, resp.Success)
}

func TestMatchBatchProgressCallback(t *testing.T) {
	opts := DefaultOptions()
	var calls int
	var lastDone, lastTotal int
	opts.Progress = func(done, total int) {
		calls++
		lastDone = done
		lastTotal = total
	}
	eng, _ := newTestEngine(t, nil, opts)

	_, err := eng.MatchBatch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Positive(t, calls)
	assert.Equal(t, 2, lastDone)
	assert.Equal(t, 2, lastTotal)
}

func TestMatchBatchBatchSizeSplitsSemanticCalls(t *testing.T) {
	opts := DefaultOptions()
	opts.BatchSize = 1
	opts.EnableCache = false
	semantic := &stubSemantic{err: errors.New("down")}
	eng, _ := newTestEngine(t, semantic, opts)

	resp, err := eng.MatchBatch(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, semantic.calls)
	assert.Len(t, resp.Details.LLMFailures, 2)
	require.Len(t, resp.Matches, 2)
}

func TestChunkByInvoice(t *testing.T) {
	inv := model.Invoice{ID: "invoice-1", SupplierName: "Acme"}
	items := []model.InvoiceLineItem{
		{ID: "a", InvoiceID: "invoice-1"},
		{ID: "b", InvoiceID: "invoice-1"},
		{ID: "c", InvoiceID: "invoice-1"},
	}
	itemInvoice := map[string]*model.Invoice{"a": &inv, "b": &inv, "c": &inv}

	batches := chunkByInvoice(items, itemInvoice, 2)
	require.Len(t, batches, 2)
	require.Len(t, batches[0], 1)
	assert.Len(t, batches[0][0].LineItems, 2)
	assert.Len(t, batches[1][0].LineItems, 1)
	assert.Equal(t, "Acme", batches[1][0].SupplierName)
}

func TestSummarize(t *testing.T) {
	id := "est-1"
	matches := []model.MatchResult{
		{InvoiceLineItemID: "a", EstimateLineItemID: &id, Confidence: 0.8, MatchType: model.MatchPartial},
		{InvoiceLineItemID: "b", Confidence: 0, MatchType: model.MatchNone},
	}

	summary := summarize(matches)
	assert.Equal(t, 2, summary.TotalItems)
	assert.Equal(t, 1, summary.MatchedItems)
	assert.Equal(t, 1, summary.UnmatchedItems)
	assert.InDelta(t, 0.4, summary.AverageConfidence, 0.001)
}
