package storage

import (
	"context"
	"fmt"
	"strings"
)

// GetEstimateLinks returns the existing invoice-line → estimate-line links
// for the given invoice line item ids. Items without a link are absent from
// the returned map.
func (s *SQLiteStorage) GetEstimateLinks(ctx context.Context, invoiceLineItemIDs []string) (map[string]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	links := make(map[string]string)
	if len(invoiceLineItemIDs) == 0 {
		return links, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(invoiceLineItemIDs)), ",")
	args := make([]any, len(invoiceLineItemIDs))
	for i, id := range invoiceLineItemIDs {
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT invoice_line_item_id, estimate_line_item_id
		FROM invoice_estimate_links
		WHERE invoice_line_item_id IN (%s)`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query estimate links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var invoiceID, estimateID string
		if err := rows.Scan(&invoiceID, &estimateID); err != nil {
			return nil, fmt.Errorf("failed to scan estimate link: %w", err)
		}
		links[invoiceID] = estimateID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate estimate links: %w", err)
	}
	return links, nil
}

// SaveEstimateLink records or replaces an invoice line item's link to an
// estimate line item.
func (s *SQLiteStorage) SaveEstimateLink(ctx context.Context, invoiceLineItemID, estimateLineItemID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(invoiceLineItemID, "invoiceLineItemID"); err != nil {
		return err
	}
	if err := validateString(estimateLineItemID, "estimateLineItemID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoice_estimate_links (invoice_line_item_id, estimate_line_item_id, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(invoice_line_item_id) DO UPDATE SET
			estimate_line_item_id = excluded.estimate_line_item_id,
			updated_at = CURRENT_TIMESTAMP`,
		invoiceLineItemID, estimateLineItemID)
	if err != nil {
		return fmt.Errorf("failed to save estimate link: %w", err)
	}
	return nil
}
