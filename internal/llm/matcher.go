package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/buildledger/matchengine/internal/common"
	"github.com/buildledger/matchengine/internal/model"
	"github.com/buildledger/matchengine/internal/service"
)

// Matcher resolves invoice line items against estimate line items through an
// external LLM provider. A failed call returns a StrategyError so callers can
// fall back to deterministic matching.
type Matcher struct {
	client         Client
	logger         *slog.Logger
	limiter        *rateLimiter
	retryOpts      service.RetryOptions
	inCostPerMTok  float64
	outCostPerMTok float64
}

// NewMatcher creates a semantic matcher from provider configuration.
func NewMatcher(cfg Config, logger *slog.Logger) (*Matcher, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, &StrategyError{Stage: StageConfig, Err: err}
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	return &Matcher{
		client:         client,
		logger:         logger,
		limiter:        newRateLimiter(cfg.RateLimit),
		retryOpts:      retryOpts,
		inCostPerMTok:  cfg.InputCostPerMTok,
		outCostPerMTok: cfg.OutputCostPerMTok,
	}, nil
}

// NewMatcherWithClient wires a pre-built client. Used by tests.
func NewMatcherWithClient(client Client, logger *slog.Logger) *Matcher {
	return &Matcher{
		client:    client,
		logger:    logger,
		limiter:   newRateLimiter(0),
		retryOpts: service.RetryOptions{MaxAttempts: 1, InitialDelay: time.Millisecond},
	}
}

// MatchBatch sends one prompt covering every invoice line item and all
// candidate estimate line items, then validates the response. Every submitted
// invoice line item appears exactly once in the returned slice; items the
// model skipped are filled in with no-match results.
func (m *Matcher) MatchBatch(ctx context.Context, invoices []model.Invoice, estimates []model.EstimateLineItem) ([]model.MatchResult, model.TokenUsage, error) {
	var usage model.TokenUsage

	items := flattenLineItems(invoices)
	if len(items) == 0 {
		return nil, usage, nil
	}

	prompt := buildMatchPrompt(invoices, estimates)

	if err := m.limiter.wait(ctx); err != nil {
		return nil, usage, &StrategyError{Stage: StageTransport, Err: err}
	}

	var completion Completion
	err := common.WithRetry(ctx, func() error {
		resp, err := m.client.Complete(ctx, prompt)
		if err != nil {
			m.logger.Warn("semantic match attempt failed",
				"error", err,
				"invoice_items", len(items))
			return &common.RetryableError{Err: err, Retryable: true}
		}
		completion = resp
		return nil
	}, m.retryOpts)
	if err != nil {
		return nil, usage, &StrategyError{Stage: StageTransport, Err: err}
	}

	usage.InputTokens = completion.InputTokens
	usage.OutputTokens = completion.OutputTokens
	usage.CostUSD = m.cost(completion)

	raw, err := decodeMatchPayload(completion.Text)
	if err != nil {
		return nil, usage, &StrategyError{Stage: StageParse, Err: err}
	}

	results := m.validateMatches(raw, items, estimates)

	m.logger.Debug("semantic match batch complete",
		"invoice_items", len(items),
		"results", len(results),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens)

	return results, usage, nil
}

// validateMatches normalizes the model's raw output into one result per
// submitted invoice line item. Entries referencing unknown invoice items are
// discarded; unknown estimate references are downgraded to no-match.
func (m *Matcher) validateMatches(raw []rawMatch, items []model.InvoiceLineItem, estimates []model.EstimateLineItem) []model.MatchResult {
	knownEstimates := make(map[string]bool, len(estimates))
	for _, est := range estimates {
		knownEstimates[est.ID] = true
	}

	knownItems := make(map[string]bool, len(items))
	for _, item := range items {
		knownItems[item.ID] = true
	}

	byItem := make(map[string]model.MatchResult, len(items))
	for _, entry := range raw {
		if !knownItems[entry.InvoiceLineItemID] {
			m.logger.Warn("discarding match for unknown invoice line item",
				"invoice_line_item_id", entry.InvoiceLineItemID)
			continue
		}
		if _, dup := byItem[entry.InvoiceLineItemID]; dup {
			m.logger.Warn("discarding duplicate match entry",
				"invoice_line_item_id", entry.InvoiceLineItemID)
			continue
		}
		byItem[entry.InvoiceLineItemID] = m.normalizeMatch(entry, knownEstimates)
	}

	results := make([]model.MatchResult, 0, len(items))
	for _, item := range items {
		if res, ok := byItem[item.ID]; ok {
			results = append(results, res)
			continue
		}
		none := model.NoneResult(item.ID, "No match returned by semantic analysis")
		none.Strategy = model.StrategyLLM
		results = append(results, none)
	}
	return results
}

func (m *Matcher) normalizeMatch(entry rawMatch, knownEstimates map[string]bool) model.MatchResult {
	confidence := entry.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	estimateID := entry.EstimateLineItemID
	if estimateID != nil && !knownEstimates[*estimateID] {
		m.logger.Warn("semantic match references unknown estimate line item",
			"invoice_line_item_id", entry.InvoiceLineItemID,
			"estimate_line_item_id", *estimateID)
		none := model.NoneResult(entry.InvoiceLineItemID, "Semantic analysis referenced an unknown estimate line item")
		none.Strategy = model.StrategyLLM
		return none
	}

	if estimateID == nil {
		reasoning := entry.Reasoning
		if reasoning == "" {
			reasoning = "No suitable estimate line item found"
		}
		none := model.NoneResult(entry.InvoiceLineItemID, reasoning)
		none.Strategy = model.StrategyLLM
		return none
	}

	matchType := model.MatchType(strings.ToLower(strings.TrimSpace(entry.MatchType)))
	switch matchType {
	case model.MatchExact, model.MatchPartial, model.MatchConceptual:
	default:
		matchType = matchTypeForConfidence(confidence)
	}
	if matchType == model.MatchNone {
		none := model.NoneResult(entry.InvoiceLineItemID, entry.Reasoning)
		none.Strategy = model.StrategyLLM
		return none
	}

	return model.MatchResult{
		InvoiceLineItemID:  entry.InvoiceLineItemID,
		EstimateLineItemID: estimateID,
		Confidence:         confidence,
		Reasoning:          entry.Reasoning,
		MatchType:          matchType,
		Strategy:           model.StrategyLLM,
	}
}

// matchTypeForConfidence maps a confidence score onto the band the prompt
// describes to the model.
func matchTypeForConfidence(confidence float64) model.MatchType {
	switch {
	case confidence >= 0.9:
		return model.MatchExact
	case confidence >= 0.7:
		return model.MatchPartial
	case confidence >= 0.3:
		return model.MatchConceptual
	default:
		return model.MatchNone
	}
}

func (m *Matcher) cost(completion Completion) float64 {
	return float64(completion.InputTokens)/1_000_000*m.inCostPerMTok +
		float64(completion.OutputTokens)/1_000_000*m.outCostPerMTok
}

// buildMatchPrompt renders all invoice line items and estimate candidates into
// a single prompt with explicit response formatting rules.
func buildMatchPrompt(invoices []model.Invoice, estimates []model.EstimateLineItem) string {
	var sb strings.Builder

	sb.WriteString("Match each supplier invoice line item to the most appropriate project estimate line item.\n\n")

	sb.WriteString("ESTIMATE LINE ITEMS:\n")
	if len(estimates) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, est := range estimates {
		sb.WriteString(fmt.Sprintf("- id: %s | %s", est.ID, est.Description))
		if est.Quantity > 0 {
			sb.WriteString(fmt.Sprintf(" | qty: %.2f %s", est.Quantity, est.Unit))
		}
		sb.WriteString(fmt.Sprintf(" | estimated cost: $%.2f", est.TotalCost()))
		if est.TradeName != "" {
			sb.WriteString(fmt.Sprintf(" | trade: %s", est.TradeName))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nINVOICE LINE ITEMS:\n")
	for _, inv := range invoices {
		for _, item := range inv.LineItems {
			sb.WriteString(fmt.Sprintf("- id: %s | supplier: %s | %s | qty: %.2f @ $%.2f = $%.2f",
				item.ID, inv.SupplierName, item.Description, item.Quantity, item.UnitPrice, item.TotalPrice))
			if item.Category != "" {
				sb.WriteString(fmt.Sprintf(" | category: %s", item.Category))
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString(`
For every invoice line item produce exactly one entry. Use confidence bands:
- 0.9-1.0: exact match (same item, same scope)
- 0.7-0.9: strong match (same work, minor wording or quantity differences)
- 0.5-0.7: conceptual match (related work within the same scope)
- 0.3-0.5: weak conceptual match
- below 0.3: no reasonable match; set estimate_line_item_id to null

Respond with JSON only, no markdown, in this exact shape:
{"matches": [{"invoice_line_item_id": "...", "estimate_line_item_id": "..." or null, "confidence": 0.0, "match_type": "exact|partial|conceptual|none", "reasoning": "one short sentence"}]}
`)

	return sb.String()
}

// flattenLineItems collects the line items of all invoices in input order.
func flattenLineItems(invoices []model.Invoice) []model.InvoiceLineItem {
	var items []model.InvoiceLineItem
	for _, inv := range invoices {
		items = append(items, inv.LineItems...)
	}
	return items
}
