package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/buildledger/matchengine/internal/common"
	"github.com/buildledger/matchengine/internal/model"
	"github.com/buildledger/matchengine/internal/service"
)

// ErrPatternNotFound is returned when a matching pattern is not found.
// It unwraps to common.ErrNotFound.
var ErrPatternNotFound = fmt.Errorf("matching pattern %w", common.ErrNotFound)

const patternColumns = `id, user_id, project_id, pattern_type, keyword,
	amount_min, amount_max, trade_id, estimate_line_item_id, confidence,
	usage_count, success_count, active, last_used_at, created_at, updated_at`

// CreatePattern inserts a new matching pattern and sets its generated id.
func (s *SQLiteStorage) CreatePattern(ctx context.Context, pattern *model.MatchingPattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if pattern == nil {
		return fmt.Errorf("pattern cannot be nil")
	}
	if err := pattern.Validate(); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	query := `
		INSERT INTO matching_patterns (
			user_id, project_id, pattern_type, keyword, amount_min, amount_max,
			trade_id, estimate_line_item_id, confidence, usage_count,
			success_count, active, last_used_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		pattern.UserID, pattern.ProjectID, pattern.PatternType,
		nullableKeyword(pattern.Keyword), pattern.AmountMin, pattern.AmountMax,
		pattern.TradeID, pattern.EstimateLineItemID, pattern.Confidence,
		pattern.UsageCount, pattern.SuccessCount, pattern.Active,
		pattern.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create pattern: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	pattern.ID = id
	return nil
}

// GetPattern retrieves a matching pattern by id.
func (s *SQLiteStorage) GetPattern(ctx context.Context, id int64) (*model.MatchingPattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM matching_patterns WHERE id = ?", patternColumns), id)
	return scanPattern(row)
}

// GetPatternByKey looks up the unique pattern identified by key, used by
// create-or-strengthen. Amount patterns match when their range contains
// key.Amount; keyword patterns match on the exact canonical keyword.
func (s *SQLiteStorage) GetPatternByKey(ctx context.Context, key service.PatternKey) (*model.MatchingPattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	conditions := []string{"user_id = ?", "pattern_type = ?", "trade_id = ?", "active = 1"}
	args := []any{key.UserID, key.Type, key.TradeID}

	if key.ProjectID != nil {
		conditions = append(conditions, "project_id = ?")
		args = append(args, *key.ProjectID)
	} else {
		conditions = append(conditions, "project_id IS NULL")
	}

	if key.Type == model.PatternAmountToTrade {
		if key.Amount == nil {
			return nil, fmt.Errorf("amount pattern lookup requires an amount")
		}
		conditions = append(conditions, "amount_min <= ?", "amount_max >= ?")
		args = append(args, *key.Amount, *key.Amount)
	} else {
		conditions = append(conditions, "keyword = ?")
		args = append(args, key.Keyword)
	}

	if key.EstimateLineItemID != nil {
		conditions = append(conditions, "estimate_line_item_id = ?")
		args = append(args, *key.EstimateLineItemID)
	}

	query := fmt.Sprintf("SELECT %s FROM matching_patterns WHERE %s LIMIT 1",
		patternColumns, strings.Join(conditions, " AND "))
	return scanPattern(s.db.QueryRowContext(ctx, query, args...))
}

// FindPatterns returns active patterns matching the query's keywords (by
// case-insensitive substring against the pattern keyword) or containing the
// query amount, ordered by confidence, usage, and success, limited to
// query.Limit.
func (s *SQLiteStorage) FindPatterns(ctx context.Context, query service.PatternQuery) ([]model.MatchingPattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(query.UserID, "query.UserID"); err != nil {
		return nil, err
	}

	var hitConds []string
	var hitArgs []any
	for _, kw := range query.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		hitConds = append(hitConds, "keyword LIKE ? ESCAPE '\\'")
		hitArgs = append(hitArgs, "%"+escapeLike(kw)+"%")
	}
	if query.Amount != nil {
		hitConds = append(hitConds, "(pattern_type = ? AND amount_min <= ? AND amount_max >= ?)")
		hitArgs = append(hitArgs, model.PatternAmountToTrade, *query.Amount, *query.Amount)
	}
	if len(hitConds) == 0 {
		return nil, nil
	}

	conditions := []string{"user_id = ?", "active = 1", "(" + strings.Join(hitConds, " OR ") + ")"}
	args := []any{query.UserID}
	args = append(args, hitArgs...)

	if query.ProjectID != nil {
		conditions = append(conditions, "(project_id IS NULL OR project_id = ?)")
		args = append(args, *query.ProjectID)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 5
	}

	sqlQuery := fmt.Sprintf(`SELECT %s FROM matching_patterns
		WHERE %s
		ORDER BY confidence DESC, usage_count DESC, success_count DESC
		LIMIT %d`, patternColumns, strings.Join(conditions, " AND "), limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []model.MatchingPattern
	for rows.Next() {
		pattern, scanErr := scanPatternRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		patterns = append(patterns, *pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patterns: %w", err)
	}
	return patterns, nil
}

// ListPatterns returns all of a user's patterns, active first, strongest
// first within each group.
func (s *SQLiteStorage) ListPatterns(ctx context.Context, userID string) ([]model.MatchingPattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM matching_patterns
		WHERE user_id = ?
		ORDER BY active DESC, confidence DESC, usage_count DESC`, patternColumns)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var patterns []model.MatchingPattern
	for rows.Next() {
		pattern, scanErr := scanPatternRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		patterns = append(patterns, *pattern)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patterns: %w", err)
	}
	return patterns, nil
}

// UpdatePattern persists the pattern's mutable fields.
func (s *SQLiteStorage) UpdatePattern(ctx context.Context, pattern *model.MatchingPattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if pattern == nil || pattern.ID == 0 {
		return fmt.Errorf("pattern with id is required")
	}
	if err := pattern.Validate(); err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	query := `
		UPDATE matching_patterns
		SET confidence = ?, usage_count = ?, success_count = ?, active = ?,
			trade_id = ?, estimate_line_item_id = ?, last_used_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query,
		pattern.Confidence, pattern.UsageCount, pattern.SuccessCount,
		pattern.Active, pattern.TradeID, pattern.EstimateLineItemID,
		pattern.LastUsedAt, pattern.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update pattern: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrPatternNotFound
	}
	return nil
}

// RecordPatternUse increments a pattern's usage count and stamps last use.
func (s *SQLiteStorage) RecordPatternUse(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE matching_patterns
		SET usage_count = usage_count + 1,
			last_used_at = CURRENT_TIMESTAMP,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to record pattern use: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrPatternNotFound
	}
	return nil
}

// DeactivatePatternsBelow retires a user's patterns whose confidence has
// decayed below floor. Returns the number of patterns retired.
func (s *SQLiteStorage) DeactivatePatternsBelow(ctx context.Context, userID string, floor float64) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE matching_patterns
		SET active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ? AND active = 1 AND confidence < ?`, userID, floor)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate patterns: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row *sql.Row) (*model.MatchingPattern, error) {
	pattern, err := scanPatternFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPatternNotFound
	}
	return pattern, err
}

func scanPatternRow(rows *sql.Rows) (*model.MatchingPattern, error) {
	return scanPatternFrom(rows)
}

func scanPatternFrom(scanner rowScanner) (*model.MatchingPattern, error) {
	pattern := &model.MatchingPattern{}
	var keyword sql.NullString
	var lastUsed sql.NullTime

	err := scanner.Scan(
		&pattern.ID, &pattern.UserID, &pattern.ProjectID, &pattern.PatternType,
		&keyword, &pattern.AmountMin, &pattern.AmountMax, &pattern.TradeID,
		&pattern.EstimateLineItemID, &pattern.Confidence, &pattern.UsageCount,
		&pattern.SuccessCount, &pattern.Active, &lastUsed,
		&pattern.CreatedAt, &pattern.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pattern: %w", err)
	}

	if keyword.Valid {
		pattern.Keyword = keyword.String
	}
	if lastUsed.Valid {
		t := lastUsed.Time
		pattern.LastUsedAt = &t
	}
	return pattern, nil
}

func nullableKeyword(keyword string) any {
	if keyword == "" {
		return nil
	}
	return keyword
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
