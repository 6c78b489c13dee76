package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/buildledger/matchengine/internal/model"
	"github.com/google/uuid"
)

// SaveHistoryEntry appends a matching history entry. The history is
// append-only; corrections create new entries rather than mutating old ones.
func (s *SQLiteStorage) SaveHistoryEntry(ctx context.Context, entry *model.MatchingHistoryEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("history entry cannot be nil")
	}
	if err := validateString(entry.UserID, "entry.UserID"); err != nil {
		return err
	}
	if err := validateString(entry.TradeID, "entry.TradeID"); err != nil {
		return err
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO matching_history (
			id, user_id, project_id, invoice_line_item_id, supplier_name,
			description, amount, trade_id, estimate_line_item_id, pattern_id,
			method, confidence, confirmed, corrected, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.ProjectID, entry.InvoiceLineItemID,
		entry.SupplierName, entry.Description, entry.Amount, entry.TradeID,
		entry.EstimateLineItemID, entry.PatternID, entry.Method,
		entry.Confidence, entry.Confirmed, entry.Corrected, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save history entry: %w", err)
	}
	return nil
}

// GetConfirmedHistorySince returns a user's confirmed history entries created
// after since, newest first. When projectID is set, project-scoped entries
// from other projects are excluded.
func (s *SQLiteStorage) GetConfirmedHistorySince(ctx context.Context, userID string, projectID *string, since time.Time) ([]model.MatchingHistoryEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	query := `
		SELECT id, user_id, project_id, invoice_line_item_id, supplier_name,
			description, amount, trade_id, estimate_line_item_id, pattern_id,
			method, confidence, confirmed, corrected, created_at
		FROM matching_history
		WHERE user_id = ? AND confirmed = 1 AND created_at >= ?`
	args := []any{userID, since}

	if projectID != nil {
		query += " AND (project_id IS NULL OR project_id = ?)"
		args = append(args, *projectID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.MatchingHistoryEntry
	for rows.Next() {
		var entry model.MatchingHistoryEntry
		if err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.ProjectID,
			&entry.InvoiceLineItemID, &entry.SupplierName, &entry.Description,
			&entry.Amount, &entry.TradeID, &entry.EstimateLineItemID,
			&entry.PatternID, &entry.Method, &entry.Confidence,
			&entry.Confirmed, &entry.Corrected, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return entries, nil
}

// GetPatternStats aggregates history outcomes per pattern for a user:
// how often each pattern produced a match and how often the user confirmed
// it.
func (s *SQLiteStorage) GetPatternStats(ctx context.Context, userID string) ([]model.PatternStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	query := `
		SELECT pattern_id,
			COUNT(*) AS uses,
			SUM(CASE WHEN confirmed = 1 THEN 1 ELSE 0 END) AS successes
		FROM matching_history
		WHERE user_id = ? AND pattern_id IS NOT NULL
		GROUP BY pattern_id
		ORDER BY uses DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pattern stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []model.PatternStats
	for rows.Next() {
		var st model.PatternStats
		if err := rows.Scan(&st.PatternID, &st.Uses, &st.Successes); err != nil {
			return nil, fmt.Errorf("failed to scan pattern stats: %w", err)
		}
		if st.Uses > 0 {
			st.Accuracy = float64(st.Successes) / float64(st.Uses)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pattern stats: %w", err)
	}
	return stats, nil
}
