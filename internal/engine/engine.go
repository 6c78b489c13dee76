// Package engine implements the tiered matching orchestrator. Each batch is
// resolved through cache, existing links, learned patterns, the external
// semantic matcher, and finally the deterministic fallback, in that order.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/buildledger/matchengine/internal/cache"
	"github.com/buildledger/matchengine/internal/logic"
	"github.com/buildledger/matchengine/internal/model"
	"github.com/buildledger/matchengine/internal/pattern"
	"github.com/buildledger/matchengine/internal/service"
)

// SemanticMatcher is the external model tier. Implementations return one
// result per submitted invoice line item or a strategy-level error.
type SemanticMatcher interface {
	MatchBatch(ctx context.Context, invoices []model.Invoice, estimates []model.EstimateLineItem) ([]model.MatchResult, model.TokenUsage, error)
}

// PatternProvider is the learned-pattern tier.
type PatternProvider interface {
	GetSuggestions(ctx context.Context, query pattern.SuggestQuery) ([]model.PatternSuggestion, error)
	LearnFromMapping(ctx context.Context, req pattern.LearnRequest) error
	RecordUsage(ctx context.Context, patternID int64) error
}

// Engine coordinates the matching tiers for batches of invoices.
type Engine struct {
	storage  service.Storage
	patterns PatternProvider
	semantic SemanticMatcher
	fallback *logic.Matcher
	cache    *cache.ResultCache
	logger   *slog.Logger
	opts     Options
}

// New creates a matching engine. The semantic matcher may be nil, in which
// case that tier is skipped and items cascade straight to the deterministic
// fallback.
func New(storage service.Storage, patterns PatternProvider, semantic SemanticMatcher, fallback *logic.Matcher, resultCache *cache.ResultCache, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		storage:  storage,
		patterns: patterns,
		semantic: semantic,
		fallback: fallback,
		cache:    resultCache,
		logger:   logger,
		opts:     opts.withDefaults(),
	}
}

// MatchBatch resolves every line item of the submitted invoices against the
// project's estimate set. The response always contains exactly one result per
// invoice line item; Success is false only when the input batch itself is
// malformed.
func (e *Engine) MatchBatch(ctx context.Context, req MatchRequest) (*MatchResponse, error) {
	start := time.Now()
	resp := &MatchResponse{}

	items, itemInvoice, err := collectLineItems(req.Invoices)
	if err != nil {
		return resp, err
	}

	total := len(items)
	if total == 0 {
		resp.Success = true
		resp.Details.ProcessingTime = time.Since(start)
		return resp, nil
	}

	fingerprint := model.RequestFingerprint(req.ProjectID, req.Invoices, req.Estimates)
	if e.opts.EnableCache {
		if cached, ok := e.cache.Get(fingerprint); ok {
			resp.Matches = cached
			resp.Summary = summarize(cached)
			resp.Details.countStrategies(cached)
			resp.Details.CacheHit = true
			resp.Details.ProcessingTime = time.Since(start)
			resp.Success = true
			e.logger.Debug("cache hit", "project_id", req.ProjectID, "items", total)
			return resp, nil
		}
	}

	resolved := make(map[string]model.MatchResult, total)
	reportProgress := func() {
		if e.opts.Progress != nil {
			e.opts.Progress(len(resolved), total)
		}
	}

	e.resolveExistingLinks(ctx, items, req.Estimates, resolved)
	reportProgress()

	unresolved := pending(items, resolved)
	e.resolveWithPatterns(ctx, req, unresolved, itemInvoice, resolved)
	reportProgress()

	unresolved = pending(items, resolved)
	if e.semantic != nil && len(unresolved) > 0 {
		e.resolveWithSemantic(ctx, req, unresolved, itemInvoice, resolved, &resp.Details, reportProgress)
	}

	unresolved = pending(items, resolved)
	for _, res := range e.fallback.MatchBatch(unresolved, req.Estimates) {
		resolved[res.InvoiceLineItemID] = res
	}
	reportProgress()

	matches := mergeInOrder(items, resolved)

	if e.opts.EnablePatternLearning {
		e.learnFromResults(ctx, req, matches, itemInvoice)
	}

	if e.opts.EnableCache {
		e.cache.Set(fingerprint, matches, e.opts.CacheTTL)
	}

	resp.Matches = matches
	resp.Summary = summarize(matches)
	resp.Details.countStrategies(matches)
	resp.Details.ProcessingTime = time.Since(start)
	resp.Success = true

	e.logger.Info("match batch complete",
		"project_id", req.ProjectID,
		"total_items", resp.Summary.TotalItems,
		"matched", resp.Summary.MatchedItems,
		"existing", resp.Details.ExistingMatches,
		"pattern", resp.Details.PatternMatches,
		"llm", resp.Details.LLMMatches,
		"logic", resp.Details.LogicMatches,
		"llm_failures", len(resp.Details.LLMFailures),
		"duration", resp.Details.ProcessingTime)

	return resp, nil
}

// resolveExistingLinks marks items already linked to an estimate in the store.
// A lookup failure is logged and treated as no links found.
func (e *Engine) resolveExistingLinks(ctx context.Context, items []model.InvoiceLineItem, estimates []model.EstimateLineItem, resolved map[string]model.MatchResult) {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	links, err := e.storage.GetEstimateLinks(ctx, ids)
	if err != nil {
		e.logger.Warn("existing link lookup failed", "error", err)
		return
	}

	known := estimateIndex(estimates)
	for itemID, estimateID := range links {
		if _, ok := known[estimateID]; !ok {
			continue
		}
		linked := estimateID
		resolved[itemID] = model.MatchResult{
			InvoiceLineItemID:  itemID,
			EstimateLineItemID: &linked,
			Confidence:         1.0,
			Reasoning:          "Already linked to this estimate line item",
			MatchType:          model.MatchExisting,
			Strategy:           model.StrategyExisting,
		}
	}
}

// resolveWithPatterns accepts learned-pattern suggestions at or above the
// quality threshold. Suggestions that name an estimate line item directly are
// taken as-is; trade-level suggestions are narrowed to the best-scoring
// estimate within that trade.
func (e *Engine) resolveWithPatterns(ctx context.Context, req MatchRequest, items []model.InvoiceLineItem, itemInvoice map[string]*model.Invoice, resolved map[string]model.MatchResult) {
	if e.patterns == nil {
		return
	}

	known := estimateIndex(req.Estimates)
	var projectID *string
	if req.ProjectID != "" {
		projectID = &req.ProjectID
	}

	for _, item := range items {
		inv := itemInvoice[item.ID]
		suggestions, err := e.patterns.GetSuggestions(ctx, pattern.SuggestQuery{
			ProjectID:    projectID,
			UserID:       req.UserID,
			SupplierName: inv.SupplierName,
			Description:  item.Description,
			Amount:       item.TotalPrice,
		})
		if err != nil {
			e.logger.Warn("pattern lookup failed",
				"invoice_line_item_id", item.ID,
				"error", err)
			continue
		}

		for _, sug := range suggestions {
			if sug.Confidence < e.opts.QualityThreshold {
				continue
			}
			estimateID := e.resolveSuggestionTarget(sug, item, req.Estimates, known)
			if estimateID == nil {
				continue
			}
			resolved[item.ID] = model.MatchResult{
				InvoiceLineItemID:  item.ID,
				EstimateLineItemID: estimateID,
				Confidence:         sug.Confidence,
				Reasoning:          sug.Reason,
				MatchType:          model.MatchPattern,
				Strategy:           model.StrategyPattern,
			}
			if sug.PatternID != nil {
				if err := e.patterns.RecordUsage(ctx, *sug.PatternID); err != nil {
					e.logger.Warn("pattern usage update failed",
						"pattern_id", *sug.PatternID,
						"error", err)
				}
			}
			break
		}
	}
}

// resolveSuggestionTarget maps a pattern suggestion onto a concrete estimate
// line item, or nil when the suggestion cannot be grounded in the current
// estimate set.
func (e *Engine) resolveSuggestionTarget(sug model.PatternSuggestion, item model.InvoiceLineItem, estimates []model.EstimateLineItem, known map[string]*model.EstimateLineItem) *string {
	if sug.EstimateLineItemID != nil {
		if _, ok := known[*sug.EstimateLineItemID]; ok {
			id := *sug.EstimateLineItemID
			return &id
		}
		return nil
	}
	if sug.TradeID == "" {
		return nil
	}

	var best *model.EstimateLineItem
	var bestScore float64
	for i := range estimates {
		if estimates[i].TradeID != sug.TradeID {
			continue
		}
		score := e.fallback.Score(item, estimates[i])
		if best == nil || score > bestScore {
			best = &estimates[i]
			bestScore = score
		}
	}
	if best == nil {
		return nil
	}
	id := best.ID
	return &id
}

// resolveWithSemantic runs the external matcher over the unresolved items in
// concurrency-limited batches. A failed batch is recorded and its items stay
// unresolved for the deterministic fallback.
func (e *Engine) resolveWithSemantic(ctx context.Context, req MatchRequest, items []model.InvoiceLineItem, itemInvoice map[string]*model.Invoice, resolved map[string]model.MatchResult, details *ProcessingDetails, reportProgress func()) {
	batches := chunkByInvoice(items, itemInvoice, e.opts.BatchSize)

	type batchOutcome struct {
		err     error
		results []model.MatchResult
		usage   model.TokenUsage
	}
	outcomes := make([]batchOutcome, len(batches))

	sem := make(chan struct{}, e.opts.Concurrency)
	var wg sync.WaitGroup

	for i, batch := range batches {
		wg.Add(1)
		go func(idx int, invoices []model.Invoice) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				outcomes[idx].err = ctx.Err()
				return
			}

			batchCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
			defer cancel()

			results, usage, err := e.semantic.MatchBatch(batchCtx, invoices, req.Estimates)
			outcomes[idx] = batchOutcome{results: results, usage: usage, err: err}
		}(i, batch)
	}
	wg.Wait()

	for i, outcome := range outcomes {
		details.TokenUsage.Add(outcome.usage)
		if outcome.err != nil {
			e.logger.Warn("semantic matcher batch failed",
				"batch", i,
				"error", outcome.err)
			details.LLMFailures = append(details.LLMFailures, outcome.err.Error())
			continue
		}
		for _, res := range outcome.results {
			// Items the model could not place get a second chance
			// with the deterministic fallback.
			if res.EstimateLineItemID == nil {
				continue
			}
			resolved[res.InvoiceLineItemID] = res
		}
		reportProgress()
	}
}

// learnFromResults feeds confident matches back into the pattern store and
// persists the invoice-estimate links. Both are best-effort.
func (e *Engine) learnFromResults(ctx context.Context, req MatchRequest, matches []model.MatchResult, itemInvoice map[string]*model.Invoice) {
	if e.patterns == nil {
		return
	}

	known := estimateIndex(req.Estimates)
	items := make(map[string]model.InvoiceLineItem)
	for _, inv := range req.Invoices {
		for _, item := range inv.LineItems {
			items[item.ID] = item
		}
	}

	var projectID *string
	if req.ProjectID != "" {
		projectID = &req.ProjectID
	}

	for _, match := range matches {
		if match.EstimateLineItemID == nil || match.Confidence < e.opts.QualityThreshold {
			continue
		}
		// Existing links were learned when they were first confirmed;
		// re-learning them every run would inflate pattern confidence.
		if match.Strategy == model.StrategyExisting {
			continue
		}

		estimate, ok := known[*match.EstimateLineItemID]
		if !ok {
			continue
		}
		item := items[match.InvoiceLineItemID]
		inv := itemInvoice[match.InvoiceLineItemID]

		estimateID := *match.EstimateLineItemID
		err := e.patterns.LearnFromMapping(ctx, pattern.LearnRequest{
			ProjectID:          projectID,
			EstimateLineItemID: &estimateID,
			UserID:             req.UserID,
			InvoiceLineItemID:  item.ID,
			SupplierName:       inv.SupplierName,
			Description:        item.Description,
			TradeID:            estimate.TradeID,
			Amount:             item.TotalPrice,
		})
		if err != nil {
			e.logger.Warn("pattern learning failed",
				"invoice_line_item_id", item.ID,
				"error", err)
		}

		if err := e.storage.SaveEstimateLink(ctx, item.ID, estimateID); err != nil {
			e.logger.Warn("estimate link save failed",
				"invoice_line_item_id", item.ID,
				"error", err)
		}
	}
}

// collectLineItems flattens the batch and validates it: every line item needs
// a unique, non-empty id.
func collectLineItems(invoices []model.Invoice) ([]model.InvoiceLineItem, map[string]*model.Invoice, error) {
	var items []model.InvoiceLineItem
	itemInvoice := make(map[string]*model.Invoice)

	for i := range invoices {
		inv := &invoices[i]
		for _, item := range inv.LineItems {
			if item.ID == "" {
				return nil, nil, fmt.Errorf("invoice %s has a line item without an id", inv.ID)
			}
			if _, dup := itemInvoice[item.ID]; dup {
				return nil, nil, fmt.Errorf("duplicate invoice line item id %s", item.ID)
			}
			items = append(items, item)
			itemInvoice[item.ID] = inv
		}
	}
	return items, itemInvoice, nil
}

// pending returns the items not yet resolved, in submission order.
func pending(items []model.InvoiceLineItem, resolved map[string]model.MatchResult) []model.InvoiceLineItem {
	var out []model.InvoiceLineItem
	for _, item := range items {
		if _, ok := resolved[item.ID]; !ok {
			out = append(out, item)
		}
	}
	return out
}

// mergeInOrder assembles the final result slice in submission order, filling
// any gap with a no-match result.
func mergeInOrder(items []model.InvoiceLineItem, resolved map[string]model.MatchResult) []model.MatchResult {
	matches := make([]model.MatchResult, 0, len(items))
	for _, item := range items {
		if res, ok := resolved[item.ID]; ok {
			matches = append(matches, res)
			continue
		}
		matches = append(matches, model.NoneResult(item.ID, ""))
	}
	return matches
}

// estimateIndex builds an id lookup over the estimate set.
func estimateIndex(estimates []model.EstimateLineItem) map[string]*model.EstimateLineItem {
	idx := make(map[string]*model.EstimateLineItem, len(estimates))
	for i := range estimates {
		idx[estimates[i].ID] = &estimates[i]
	}
	return idx
}

// chunkByInvoice regroups unresolved line items into invoice-shaped batches of
// at most size items, preserving supplier context for the prompt.
func chunkByInvoice(items []model.InvoiceLineItem, itemInvoice map[string]*model.Invoice, size int) [][]model.Invoice {
	var batches [][]model.Invoice
	var current []model.Invoice
	count := 0

	appendItem := func(item model.InvoiceLineItem) {
		src := itemInvoice[item.ID]
		if n := len(current); n > 0 && current[n-1].ID == src.ID {
			current[n-1].LineItems = append(current[n-1].LineItems, item)
			return
		}
		current = append(current, model.Invoice{
			ID:            src.ID,
			SupplierName:  src.SupplierName,
			InvoiceNumber: src.InvoiceNumber,
			LineItems:     []model.InvoiceLineItem{item},
		})
	}

	for _, item := range items {
		if count == size {
			batches = append(batches, current)
			current = nil
			count = 0
		}
		appendItem(item)
		count++
	}
	if count > 0 {
		batches = append(batches, current)
	}
	return batches
}
