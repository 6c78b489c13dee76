package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildledger/matchengine/internal/model"
)

type stubClient struct {
	err        error
	completion Completion
	prompts    []string
	calls      int
}

func (s *stubClient) Complete(_ context.Context, prompt string) (Completion, error) {
	s.calls++
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return Completion{}, s.err
	}
	return s.completion, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testInvoices() []model.Invoice {
	return []model.Invoice{
		{
			ID:           "invoice-1",
			SupplierName: "Acme Concrete Co.",
			LineItems: []model.InvoiceLineItem{
				{ID: "inv-1", InvoiceID: "invoice-1", Description: "Concrete pouring, foundation slab", Quantity: 10, UnitPrice: 250, TotalPrice: 2500, Category: model.CategoryMaterial},
				{ID: "inv-2", InvoiceID: "invoice-1", Description: "Office supplies", Quantity: 1, UnitPrice: 45, TotalPrice: 45},
			},
		},
	}
}

func testEstimates() []model.EstimateLineItem {
	return []model.EstimateLineItem{
		{ID: "est-1", Description: "Concrete for foundation", Quantity: 12, Unit: "m3", MaterialCostEst: 2400, TradeID: "trade-concrete", TradeName: "Concrete"},
		{ID: "est-2", Description: "Framing lumber package", Quantity: 1, MaterialCostEst: 8000, TradeID: "trade-framing", TradeName: "Framing"},
	}
}

func TestMatchBatch(t *testing.T) {
	client := &stubClient{
		completion: Completion{
			Text: `{"matches": [
				{"invoice_line_item_id": "inv-1", "estimate_line_item_id": "est-1", "confidence": 0.92, "match_type": "exact", "reasoning": "Both describe foundation concrete"},
				{"invoice_line_item_id": "inv-2", "estimate_line_item_id": null, "confidence": 0.05, "match_type": "none", "reasoning": "No estimate covers office supplies"}
			]}`,
			InputTokens:  1200,
			OutputTokens: 180,
		},
	}
	matcher := NewMatcherWithClient(client, testLogger())

	results, usage, err := matcher.MatchBatch(context.Background(), testInvoices(), testEstimates())
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "inv-1", results[0].InvoiceLineItemID)
	require.NotNil(t, results[0].EstimateLineItemID)
	assert.Equal(t, "est-1", *results[0].EstimateLineItemID)
	assert.Equal(t, model.MatchExact, results[0].MatchType)
	assert.Equal(t, model.StrategyLLM, results[0].Strategy)
	assert.InDelta(t, 0.92, results[0].Confidence, 0.001)

	assert.Equal(t, "inv-2", results[1].InvoiceLineItemID)
	assert.Nil(t, results[1].EstimateLineItemID)
	assert.Equal(t, model.MatchNone, results[1].MatchType)

	assert.Equal(t, 1200, usage.InputTokens)
	assert.Equal(t, 180, usage.OutputTokens)
	assert.Equal(t, 1, client.calls)
}

func TestMatchBatchPromptContents(t *testing.T) {
	client := &stubClient{completion: Completion{Text: `{"matches": []}`}}
	matcher := NewMatcherWithClient(client, testLogger())

	_, _, err := matcher.MatchBatch(context.Background(), testInvoices(), testEstimates())
	require.NoError(t, err)
	require.Len(t, client.prompts, 1)

	prompt := client.prompts[0]
	assert.Contains(t, prompt, "inv-1")
	assert.Contains(t, prompt, "est-1")
	assert.Contains(t, prompt, "Acme Concrete Co.")
	assert.Contains(t, prompt, "Concrete for foundation")
	assert.Contains(t, prompt, "estimate_line_item_id")
}

func TestMatchBatchFillsMissingItems(t *testing.T) {
	// The model only answered for inv-1; inv-2 must still get a result.
	client := &stubClient{
		completion: Completion{
			Text: `{"matches": [{"invoice_line_item_id": "inv-1", "estimate_line_item_id": "est-1", "confidence": 0.8, "match_type": "partial", "reasoning": "close"}]}`,
		},
	}
	matcher := NewMatcherWithClient(client, testLogger())

	results, _, err := matcher.MatchBatch(context.Background(), testInvoices(), testEstimates())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "inv-2", results[1].InvoiceLineItemID)
	assert.Equal(t, model.MatchNone, results[1].MatchType)
	assert.Nil(t, results[1].EstimateLineItemID)
}

func TestMatchBatchDiscardsUnknownInvoiceItems(t *testing.T) {
	client := &stubClient{
		completion: Completion{
			Text: `{"matches": [{"invoice_line_item_id": "hallucinated", "estimate_line_item_id": "est-1", "confidence": 0.9, "match_type": "exact", "reasoning": "made up"}]}`,
		},
	}
	matcher := NewMatcherWithClient(client, testLogger())

	results, _, err := matcher.MatchBatch(context.Background(), testInvoices(), testEstimates())
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, model.MatchNone, res.MatchType)
		assert.NotEqual(t, "hallucinated", res.InvoiceLineItemID)
	}
}

func TestMatchBatchDowngradesUnknownEstimate(t *testing.T) {
	client := &stubClient{
		completion: Completion{
			Text: `{"matches": [
				{"invoice_line_item_id": "inv-1", "estimate_line_item_id": "est-999", "confidence": 0.95, "match_type": "exact", "reasoning": "confident but wrong"},
				{"invoice_line_item_id": "inv-2", "estimate_line_item_id": null, "confidence": 0, "match_type": "none", "reasoning": ""}
			]}`,
		},
	}
	matcher := NewMatcherWithClient(client, testLogger())

	results, _, err := matcher.MatchBatch(context.Background(), testInvoices(), testEstimates())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, model.MatchNone, results[0].MatchType)
	assert.Nil(t, results[0].EstimateLineItemID)
	assert.Zero(t, results[0].Confidence)
}

func TestMatchBatchNormalizesMatchType(t *testing.T) {
	// Invalid match_type falls back to the confidence band.
	client := &stubClient{
		completion: Completion{
			Text: `{"matches": [
				{"invoice_line_item_id": "inv-1", "estimate_line_item_id": "est-1", "confidence": 0.75, "match_type": "STRONG", "reasoning": "close"},
				{"invoice_line_item_id": "inv-2", "estimate_line_item_id": "est-2", "confidence": 1.4, "match_type": "exact", "reasoning": "overconfident"}
			]}`,
		},
	}
	matcher := NewMatcherWithClient(client, testLogger())

	results, _, err := matcher.MatchBatch(context.Background(), testInvoices(), testEstimates())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, model.MatchPartial, results[0].MatchType)
	assert.InDelta(t, 1.0, results[1].Confidence, 0.001)
	for _, res := range results {
		require.NoError(t, res.Validate())
	}
}

func TestMatchBatchParseFailure(t *testing.T) {
	client := &stubClient{
		completion: Completion{Text: "Sorry, I cannot help with that.", InputTokens: 500, OutputTokens: 12},
	}
	matcher := NewMatcherWithClient(client, testLogger())

	results, usage, err := matcher.MatchBatch(context.Background(), testInvoices(), testEstimates())
	require.Error(t, err)
	assert.Nil(t, results)

	var strategyErr *StrategyError
	require.ErrorAs(t, err, &strategyErr)
	assert.Equal(t, StageParse, strategyErr.Stage)

	// Tokens were still consumed even though the response was unusable.
	assert.Equal(t, 500, usage.InputTokens)
}

func TestMatchBatchTransportFailure(t *testing.T) {
	client := &stubClient{err: errors.New("connection refused")}
	matcher := NewMatcherWithClient(client, testLogger())

	_, _, err := matcher.MatchBatch(context.Background(), testInvoices(), testEstimates())
	require.Error(t, err)

	var strategyErr *StrategyError
	require.ErrorAs(t, err, &strategyErr)
	assert.Equal(t, StageTransport, strategyErr.Stage)
}

func TestMatchBatchEmptyInvoices(t *testing.T) {
	client := &stubClient{}
	matcher := NewMatcherWithClient(client, testLogger())

	results, usage, err := matcher.MatchBatch(context.Background(), nil, testEstimates())
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Zero(t, usage.InputTokens)
	assert.Zero(t, client.calls)
}

func TestMatchTypeForConfidence(t *testing.T) {
	tests := []struct {
		expected   model.MatchType
		confidence float64
	}{
		{model.MatchExact, 0.95},
		{model.MatchExact, 0.9},
		{model.MatchPartial, 0.8},
		{model.MatchPartial, 0.7},
		{model.MatchConceptual, 0.5},
		{model.MatchConceptual, 0.3},
		{model.MatchNone, 0.29},
		{model.MatchNone, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, matchTypeForConfidence(tt.confidence), "confidence %.2f", tt.confidence)
	}
}

func TestMatcherCost(t *testing.T) {
	matcher := &Matcher{inCostPerMTok: 3.0, outCostPerMTok: 15.0}
	cost := matcher.cost(Completion{InputTokens: 1_000_000, OutputTokens: 200_000})
	assert.InDelta(t, 6.0, cost, 0.001)
}

func TestNewClientUnsupportedProvider(t *testing.T) {
	_, err := NewClient(Config{Provider: "cohere", APIKey: "x"})
	assert.Error(t, err)
}

func TestNewMatcherMissingAPIKey(t *testing.T) {
	_, err := NewMatcher(Config{Provider: "anthropic"}, testLogger())
	require.Error(t, err)

	var strategyErr *StrategyError
	require.ErrorAs(t, err, &strategyErr)
	assert.Equal(t, StageConfig, strategyErr.Stage)
}
