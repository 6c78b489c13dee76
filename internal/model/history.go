package model

import "time"

// MatchMethod records how a history entry's match was produced.
type MatchMethod string

// Match method constants.
const (
	MethodManual  MatchMethod = "MANUAL"
	MethodPattern MatchMethod = "PATTERN"
	MethodLLM     MatchMethod = "LLM"
	MethodLogic   MatchMethod = "LOGIC"
)

// MatchingHistoryEntry is an append-only audit record of a single resolved
// match. Corrections create new entries rather than mutating old ones.
type MatchingHistoryEntry struct {
	CreatedAt          time.Time   `json:"created_at"`
	ProjectID          *string     `json:"project_id,omitempty"`
	PatternID          *int64      `json:"pattern_id,omitempty"`
	EstimateLineItemID *string     `json:"estimate_line_item_id,omitempty"`
	ID                 string      `json:"id"`
	UserID             string      `json:"user_id"`
	InvoiceLineItemID  string      `json:"invoice_line_item_id"`
	SupplierName       string      `json:"supplier_name"`
	Description        string      `json:"description"`
	TradeID            string      `json:"trade_id"`
	Method             MatchMethod `json:"method"`
	Amount             float64     `json:"amount"`
	Confidence         float64     `json:"confidence"`
	Confirmed          bool        `json:"confirmed"`
	Corrected          bool        `json:"corrected"`
}

// PatternStats aggregates history outcomes for a single pattern.
type PatternStats struct {
	PatternID int64   `json:"pattern_id"`
	Uses      int     `json:"uses"`
	Successes int     `json:"successes"`
	Accuracy  float64 `json:"accuracy"`
}
