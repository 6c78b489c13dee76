// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/buildledger/matchengine/internal/model"
)

// PatternKey identifies a unique learned pattern for create-or-strengthen
// lookups. Keyword patterns are keyed by (user, type, keyword, trade,
// estimate); amount patterns by (user, type, trade, range containing Amount).
type PatternKey struct {
	ProjectID          *string
	EstimateLineItemID *string
	Amount             *float64
	UserID             string
	Type               model.PatternType
	Keyword            string
	TradeID            string
}

// PatternQuery filters patterns for suggestion lookups. Keywords match the
// pattern's keyword field by case-insensitive substring; Amount matches
// range patterns containing the value.
type PatternQuery struct {
	ProjectID *string
	Amount    *float64
	UserID    string
	Keywords  []string
	Limit     int
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Pattern operations
	CreatePattern(ctx context.Context, pattern *model.MatchingPattern) error
	GetPattern(ctx context.Context, id int64) (*model.MatchingPattern, error)
	GetPatternByKey(ctx context.Context, key PatternKey) (*model.MatchingPattern, error)
	FindPatterns(ctx context.Context, query PatternQuery) ([]model.MatchingPattern, error)
	ListPatterns(ctx context.Context, userID string) ([]model.MatchingPattern, error)
	UpdatePattern(ctx context.Context, pattern *model.MatchingPattern) error
	RecordPatternUse(ctx context.Context, id int64) error
	DeactivatePatternsBelow(ctx context.Context, userID string, floor float64) (int64, error)

	// History operations
	SaveHistoryEntry(ctx context.Context, entry *model.MatchingHistoryEntry) error
	GetConfirmedHistorySince(ctx context.Context, userID string, projectID *string, since time.Time) ([]model.MatchingHistoryEntry, error)
	GetPatternStats(ctx context.Context, userID string) ([]model.PatternStats, error)

	// Invoice line item links to estimates
	GetEstimateLinks(ctx context.Context, invoiceLineItemIDs []string) (map[string]string, error)
	SaveEstimateLink(ctx context.Context, invoiceLineItemID, estimateLineItemID string) error

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
