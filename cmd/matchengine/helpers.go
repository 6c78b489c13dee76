package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/viper"

	"github.com/buildledger/matchengine/internal/common"
	"github.com/buildledger/matchengine/internal/config"
	"github.com/buildledger/matchengine/internal/model"
	"github.com/buildledger/matchengine/internal/storage"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// initStorage opens the configured database and ensures the schema is
// current.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := config.ExpandPath(viper.GetString("database.path"))
	if dbPath == "" {
		var err error
		dbPath, err = config.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// requireUser resolves the acting user id from flags or config.
func requireUser() (string, error) {
	userID := viper.GetString("user.id")
	if userID == "" {
		return "", fmt.Errorf("a user id is required; pass --user or set user.id in the config")
	}
	return userID, nil
}

// loadInvoices reads a JSON file holding either a single invoice or an array
// of invoices.
func loadInvoices(path string) ([]model.Invoice, error) {
	data, err := os.ReadFile(config.ExpandPath(path)) //nolint:gosec // User-supplied input file
	if err != nil {
		return nil, fmt.Errorf("failed to read invoices file: %w", err)
	}

	var invoices []model.Invoice
	if err := json.Unmarshal(data, &invoices); err != nil {
		var single model.Invoice
		if singleErr := json.Unmarshal(data, &single); singleErr != nil {
			return nil, fmt.Errorf("failed to parse invoices file %s: %w", path, err)
		}
		invoices = []model.Invoice{single}
	}

	total := 0
	for _, inv := range invoices {
		for _, item := range inv.LineItems {
			if err := item.Validate(); err != nil {
				return nil, fmt.Errorf("invalid invoice line item: %w", err)
			}
			total++
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("%w in %s", common.ErrNoInvoiceItems, path)
	}
	return invoices, nil
}

// loadEstimates reads a JSON array of estimate line items.
func loadEstimates(path string) ([]model.EstimateLineItem, error) {
	data, err := os.ReadFile(config.ExpandPath(path)) //nolint:gosec // User-supplied input file
	if err != nil {
		return nil, fmt.Errorf("failed to read estimates file: %w", err)
	}

	var estimates []model.EstimateLineItem
	if err := json.Unmarshal(data, &estimates); err != nil {
		return nil, fmt.Errorf("failed to parse estimates file %s: %w", path, err)
	}
	for _, est := range estimates {
		if est.ID == "" {
			return nil, fmt.Errorf("estimates file %s contains a line item without an id", path)
		}
	}
	return estimates, nil
}
