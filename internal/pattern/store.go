// Package pattern implements the learning feedback loop: patterns are
// created from confirmed manual matches, strengthened on repeat
// confirmation, weakened on correction, and queried for suggestions while
// matching.
package pattern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/buildledger/matchengine/internal/model"
	"github.com/buildledger/matchengine/internal/service"
	"github.com/buildledger/matchengine/internal/similarity"
	"github.com/buildledger/matchengine/internal/storage"
)

// Tuning holds the empirical constants of the learning loop. The defaults
// mirror long-observed behavior; they are configurable, not invariants.
type Tuning struct {
	SupplierIncrement  float64
	LineItemIncrement  float64
	AmountIncrement    float64
	CorrectionFactor   float64
	SupplierInitial    float64
	LineItemInitial    float64
	AmountInitial      float64
	RetirementFloor    float64
	HistoryWindow      time.Duration
	HistoryThreshold   float64
	SuggestionLimit    int
	HistoryFallbackTop int
}

// DefaultTuning returns the default learning constants.
func DefaultTuning() Tuning {
	return Tuning{
		SupplierIncrement:  0.1,
		LineItemIncrement:  0.1,
		AmountIncrement:    0.05,
		CorrectionFactor:   0.9,
		SupplierInitial:    0.7,
		LineItemInitial:    0.8,
		AmountInitial:      0.6,
		RetirementFloor:    0.2,
		HistoryWindow:      30 * 24 * time.Hour,
		HistoryThreshold:   0.3,
		SuggestionLimit:    5,
		HistoryFallbackTop: 3,
	}
}

// Store wraps the persistence layer with the pattern-learning rules.
type Store struct {
	storage service.Storage
	logger  *slog.Logger
	tuning  Tuning
}

// NewStore creates a pattern store with default tuning.
func NewStore(st service.Storage, logger *slog.Logger) *Store {
	return NewStoreWithTuning(st, logger, DefaultTuning())
}

// NewStoreWithTuning creates a pattern store with custom tuning.
func NewStoreWithTuning(st service.Storage, logger *slog.Logger, tuning Tuning) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{storage: st, logger: logger, tuning: tuning}
}

// LearnRequest carries a confirmed human match into the learning loop.
type LearnRequest struct {
	ProjectID          *string
	EstimateLineItemID *string
	UserID             string
	InvoiceLineItemID  string
	SupplierName       string
	Description        string
	TradeID            string
	Amount             float64
}

// SuggestQuery asks for pattern suggestions for one unmatched invoice line
// item.
type SuggestQuery struct {
	ProjectID    *string
	UserID       string
	SupplierName string
	Description  string
	Amount       float64
}

// LearnFromMapping records a manual match in the history and creates or
// strengthens the three pattern families derived from it: supplier→trade,
// description→trade (or →estimate line when one is given), and
// amount-range→trade. The three updates run concurrently.
func (s *Store) LearnFromMapping(ctx context.Context, req LearnRequest) error {
	if req.UserID == "" || req.TradeID == "" {
		return fmt.Errorf("learn request requires user and trade ids")
	}

	entry := &model.MatchingHistoryEntry{
		UserID:             req.UserID,
		ProjectID:          req.ProjectID,
		InvoiceLineItemID:  req.InvoiceLineItemID,
		SupplierName:       req.SupplierName,
		Description:        req.Description,
		Amount:             req.Amount,
		TradeID:            req.TradeID,
		EstimateLineItemID: req.EstimateLineItemID,
		Method:             model.MethodManual,
		Confidence:         1.0,
		Confirmed:          true,
	}
	if err := s.storage.SaveHistoryEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to record matching history: %w", err)
	}

	type upsert struct {
		run  func() error
		name string
	}
	upserts := []upsert{
		{
			name: "supplier",
			run: func() error {
				key := similarity.CanonicalKey(req.SupplierName)
				if key == "" {
					return nil
				}
				return s.upsertKeywordPattern(ctx, req, model.PatternSupplierToTrade, key, nil,
					s.tuning.SupplierInitial, s.tuning.SupplierIncrement)
			},
		},
		{
			name: "line item",
			run: func() error {
				key := similarity.CanonicalKey(req.Description)
				if key == "" {
					return nil
				}
				patternType := model.PatternLineItemToTrade
				if req.EstimateLineItemID != nil {
					patternType = model.PatternLineItemToEstimate
				}
				return s.upsertKeywordPattern(ctx, req, patternType, key, req.EstimateLineItemID,
					s.tuning.LineItemInitial, s.tuning.LineItemIncrement)
			},
		},
		{
			name: "amount",
			run: func() error {
				if req.Amount <= 0 {
					return nil
				}
				return s.upsertAmountPattern(ctx, req)
			},
		},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(upserts))
	for i, u := range upserts {
		wg.Add(1)
		go func(idx int, u upsert) {
			defer wg.Done()
			if err := u.run(); err != nil {
				errs[idx] = fmt.Errorf("%s pattern: %w", u.name, err)
			}
		}(i, u)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to learn patterns: %w", err)
	}

	s.logger.Debug("learned from mapping",
		"user_id", req.UserID,
		"trade_id", req.TradeID,
		"supplier", req.SupplierName)
	return nil
}

func (s *Store) upsertKeywordPattern(ctx context.Context, req LearnRequest, patternType model.PatternType, key string, estimateID *string, initial, increment float64) error {
	existing, err := s.storage.GetPatternByKey(ctx, service.PatternKey{
		UserID:             req.UserID,
		ProjectID:          req.ProjectID,
		Type:               patternType,
		Keyword:            key,
		TradeID:            req.TradeID,
		EstimateLineItemID: estimateID,
	})
	switch {
	case err == nil:
		existing.Strengthen(increment)
		return s.storage.UpdatePattern(ctx, existing)
	case errors.Is(err, storage.ErrPatternNotFound):
		return s.storage.CreatePattern(ctx, &model.MatchingPattern{
			UserID:             req.UserID,
			ProjectID:          req.ProjectID,
			PatternType:        patternType,
			Keyword:            key,
			TradeID:            req.TradeID,
			EstimateLineItemID: estimateID,
			Confidence:         model.ClampConfidence(initial),
			UsageCount:         1,
			SuccessCount:       1,
			Active:             true,
		})
	default:
		return err
	}
}

func (s *Store) upsertAmountPattern(ctx context.Context, req LearnRequest) error {
	existing, err := s.storage.GetPatternByKey(ctx, service.PatternKey{
		UserID:    req.UserID,
		ProjectID: req.ProjectID,
		Type:      model.PatternAmountToTrade,
		TradeID:   req.TradeID,
		Amount:    &req.Amount,
	})
	switch {
	case err == nil:
		existing.Strengthen(s.tuning.AmountIncrement)
		return s.storage.UpdatePattern(ctx, existing)
	case errors.Is(err, storage.ErrPatternNotFound):
		minV, maxV := AmountRange(req.Amount)
		return s.storage.CreatePattern(ctx, &model.MatchingPattern{
			UserID:       req.UserID,
			ProjectID:    req.ProjectID,
			PatternType:  model.PatternAmountToTrade,
			AmountMin:    &minV,
			AmountMax:    &maxV,
			TradeID:      req.TradeID,
			Confidence:   model.ClampConfidence(s.tuning.AmountInitial),
			UsageCount:   1,
			SuccessCount: 1,
			Active:       true,
		})
	default:
		return err
	}
}

// AmountRange derives the numeric range for an amount pattern. The width
// scales with the amount: 50 below 100, 200 below 1000, 1000 otherwise. The
// range is centered on the amount and floored at zero.
func AmountRange(amount float64) (minV, maxV float64) {
	var width float64
	switch {
	case amount < 100:
		width = 50
	case amount < 1000:
		width = 200
	default:
		width = 1000
	}
	minV = amount - width/2
	if minV < 0 {
		minV = 0
	}
	maxV = amount + width/2
	return minV, maxV
}

// GetSuggestions returns up to five pattern suggestions for the query,
// ordered by confidence, usage, and success. When no pattern hits directly,
// a 30-day window of confirmed history is scored by blended similarity and
// the top three entries above threshold are suggested instead.
func (s *Store) GetSuggestions(ctx context.Context, query SuggestQuery) ([]model.PatternSuggestion, error) {
	if query.UserID == "" {
		return nil, fmt.Errorf("suggestion query requires a user id")
	}

	keywords := similarity.Keywords(query.SupplierName)
	keywords = append(keywords, similarity.Keywords(query.Description)...)

	var amount *float64
	if query.Amount > 0 {
		amount = &query.Amount
	}

	patterns, err := s.storage.FindPatterns(ctx, service.PatternQuery{
		UserID:    query.UserID,
		ProjectID: query.ProjectID,
		Keywords:  keywords,
		Amount:    amount,
		Limit:     s.tuning.SuggestionLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}

	if len(patterns) > 0 {
		suggestions := make([]model.PatternSuggestion, len(patterns))
		for i, p := range patterns {
			p := p
			suggestions[i] = model.PatternSuggestion{
				PatternID:          &p.ID,
				EstimateLineItemID: p.EstimateLineItemID,
				TradeID:            p.TradeID,
				Confidence:         p.Confidence,
				Reason:             patternReason(p),
			}
		}
		return suggestions, nil
	}

	return s.historyFallback(ctx, query)
}

// historyFallback scores recent confirmed matches against the query when no
// learned pattern applies yet.
func (s *Store) historyFallback(ctx context.Context, query SuggestQuery) ([]model.PatternSuggestion, error) {
	since := time.Now().UTC().Add(-s.tuning.HistoryWindow)
	entries, err := s.storage.GetConfirmedHistorySince(ctx, query.UserID, query.ProjectID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query matching history: %w", err)
	}

	type scored struct {
		entry model.MatchingHistoryEntry
		score float64
	}
	var candidates []scored
	for _, entry := range entries {
		score := 0.4*similarity.String(query.SupplierName, entry.SupplierName) +
			0.4*similarity.Semantic(query.Description, entry.Description) +
			0.2*similarity.Price(query.Amount, entry.Amount)
		if score > s.tuning.HistoryThreshold {
			candidates = append(candidates, scored{entry: entry, score: score})
		}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	limit := s.tuning.HistoryFallbackTop
	if len(candidates) < limit {
		limit = len(candidates)
	}

	suggestions := make([]model.PatternSuggestion, 0, limit)
	for _, c := range candidates[:limit] {
		suggestions = append(suggestions, model.PatternSuggestion{
			PatternID:          c.entry.PatternID,
			EstimateLineItemID: c.entry.EstimateLineItemID,
			TradeID:            c.entry.TradeID,
			Confidence:         c.score,
			Reason: fmt.Sprintf("Similar to a confirmed match for %s (%s)",
				c.entry.SupplierName, c.entry.Description),
		})
	}
	return suggestions, nil
}

// RecordUsage marks a pattern as used by the orchestrator when its
// suggestion is accepted into a match run.
func (s *Store) RecordUsage(ctx context.Context, patternID int64) error {
	return s.storage.RecordPatternUse(ctx, patternID)
}

// ConfirmMatch increments the originating pattern's success count after the
// user confirms a match it produced, and appends the confirmed outcome to the
// history so accuracy stats credit the pattern.
func (s *Store) ConfirmMatch(ctx context.Context, patternID int64) error {
	pattern, err := s.storage.GetPattern(ctx, patternID)
	if err != nil {
		return err
	}
	pattern.SuccessCount++
	if err := s.storage.UpdatePattern(ctx, pattern); err != nil {
		return fmt.Errorf("failed to confirm pattern %d: %w", patternID, err)
	}

	entry := patternOutcome(pattern, pattern.Confidence)
	entry.Confirmed = true
	if err := s.storage.SaveHistoryEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to record confirmation for pattern %d: %w", patternID, err)
	}
	return nil
}

// CorrectMatch weakens the pattern that produced a wrong match, appends the
// corrected outcome to the history, and learns from the corrected mapping,
// creating a competing pattern that strengthens over time.
func (s *Store) CorrectMatch(ctx context.Context, patternID int64, corrected LearnRequest) error {
	pattern, err := s.storage.GetPattern(ctx, patternID)
	if err != nil {
		return err
	}
	shipped := pattern.Confidence
	pattern.Weaken(s.tuning.CorrectionFactor)
	if err := s.storage.UpdatePattern(ctx, pattern); err != nil {
		return fmt.Errorf("failed to weaken pattern %d: %w", patternID, err)
	}

	// The audit entry records what the pattern produced, at the confidence
	// it shipped with; the corrected request supplies the invoice details.
	entry := patternOutcome(pattern, shipped)
	entry.Corrected = true
	entry.InvoiceLineItemID = corrected.InvoiceLineItemID
	entry.SupplierName = corrected.SupplierName
	entry.Amount = corrected.Amount
	if corrected.Description != "" {
		entry.Description = corrected.Description
	}
	if corrected.ProjectID != nil {
		entry.ProjectID = corrected.ProjectID
	}
	if err := s.storage.SaveHistoryEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to record correction for pattern %d: %w", patternID, err)
	}

	s.logger.Info("pattern weakened by correction",
		"pattern_id", patternID,
		"confidence", pattern.Confidence)

	return s.LearnFromMapping(ctx, corrected)
}

// patternOutcome builds the audit entry for a user verdict on a match the
// pattern produced.
func patternOutcome(p *model.MatchingPattern, confidence float64) *model.MatchingHistoryEntry {
	return &model.MatchingHistoryEntry{
		UserID:             p.UserID,
		ProjectID:          p.ProjectID,
		Description:        p.Keyword,
		TradeID:            p.TradeID,
		EstimateLineItemID: p.EstimateLineItemID,
		PatternID:          &p.ID,
		Method:             model.MethodPattern,
		Confidence:         confidence,
	}
}

// RetireStale deactivates a user's patterns whose confidence has fallen
// below the retirement floor. Returns how many were retired.
func (s *Store) RetireStale(ctx context.Context, userID string) (int64, error) {
	retired, err := s.storage.DeactivatePatternsBelow(ctx, userID, s.tuning.RetirementFloor)
	if err != nil {
		return 0, err
	}
	if retired > 0 {
		s.logger.Info("retired stale patterns", "user_id", userID, "count", retired)
	}
	return retired, nil
}

func patternReason(p model.MatchingPattern) string {
	switch p.PatternType {
	case model.PatternSupplierToTrade:
		return fmt.Sprintf("Supplier %q usually maps to trade %s", p.Keyword, p.TradeID)
	case model.PatternLineItemToTrade:
		return fmt.Sprintf("Items like %q usually map to trade %s", p.Keyword, p.TradeID)
	case model.PatternLineItemToEstimate:
		return fmt.Sprintf("Items like %q previously matched this estimate line", p.Keyword)
	case model.PatternAmountToTrade:
		if p.AmountMin != nil && p.AmountMax != nil {
			return fmt.Sprintf("Amounts between %.2f and %.2f usually map to trade %s",
				*p.AmountMin, *p.AmountMax, p.TradeID)
		}
	}
	return fmt.Sprintf("Learned pattern for trade %s", p.TradeID)
}
