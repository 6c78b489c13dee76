package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/buildledger/matchengine/internal/model"
	"github.com/buildledger/matchengine/internal/pattern"
)

func patternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect and manage learned matching patterns",
	}

	cmd.AddCommand(patternsListCmd())
	cmd.AddCommand(patternsConfirmCmd())
	cmd.AddCommand(patternsCorrectCmd())
	cmd.AddCommand(patternsRetireCmd())

	return cmd
}

func patternsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List learned patterns for the current user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			userID, err := requireUser()
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() {
				if closeErr := store.Close(); closeErr != nil {
					slog.Error("failed to close storage", "error", closeErr)
				}
			}()

			patterns, err := store.ListPatterns(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to list patterns: %w", err)
			}
			if len(patterns) == 0 {
				fmt.Println(dimStyle.Render("No patterns learned yet. Run 'matchengine match' and confirm results to build some."))
				return nil
			}

			fmt.Println(titleStyle.Render("Learned patterns"))
			fmt.Println()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID\tTYPE\tMATCHES ON\tTRADE\tCONFIDENCE\tUSES\tHITS\tACTIVE\n")
			for _, p := range patterns {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%.2f\t%d\t%d\t%v\n",
					p.ID, p.PatternType, patternTarget(p), p.TradeID,
					p.Confidence, p.UsageCount, p.SuccessCount, p.Active)
			}
			if err := w.Flush(); err != nil {
				slog.Error("failed to flush table writer", "error", err)
			}
			return nil
		},
	}
}

func patternTarget(p model.MatchingPattern) string {
	if p.PatternType == model.PatternAmountToTrade && p.AmountMin != nil && p.AmountMax != nil {
		return fmt.Sprintf("$%.0f-$%.0f", *p.AmountMin, *p.AmountMax)
	}
	return truncate(p.Keyword, 30)
}

func patternsConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <pattern-id>",
		Short: "Mark a pattern's suggestion as correct",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			patternID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid pattern id %q: %w", args[0], err)
			}

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() {
				if closeErr := store.Close(); closeErr != nil {
					slog.Error("failed to close storage", "error", closeErr)
				}
			}()

			if err := pattern.NewStore(store, slog.Default()).ConfirmMatch(ctx, patternID); err != nil {
				return fmt.Errorf("failed to confirm pattern: %w", err)
			}
			fmt.Println(successStyle.Render(fmt.Sprintf("Pattern %d confirmed", patternID)))
			return nil
		},
	}
}

func patternsCorrectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "correct <pattern-id>",
		Short: "Record that a pattern suggested the wrong match",
		Long: `Weakens the given pattern and learns the corrected mapping in its place.
Repeated corrections retire the bad pattern while the corrected one
accumulates confidence.`,
		Args: cobra.ExactArgs(1),
		RunE: runPatternsCorrect,
	}

	cmd.Flags().String("invoice-item", "", "invoice line item id that was matched wrongly (required)")
	cmd.Flags().String("supplier", "", "supplier name on the invoice (required)")
	cmd.Flags().String("description", "", "invoice line item description (required)")
	cmd.Flags().Float64("amount", 0, "invoice line item total price (required)")
	cmd.Flags().String("trade", "", "the correct trade id (required)")
	cmd.Flags().String("estimate", "", "the correct estimate line item id")
	cmd.Flags().String("project", "", "project id to scope the corrected pattern to")

	for _, flag := range []string{"invoice-item", "supplier", "description", "amount", "trade"} {
		_ = cmd.MarkFlagRequired(flag)
	}

	return cmd
}

func runPatternsCorrect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	patternID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid pattern id %q: %w", args[0], err)
	}

	userID, err := requireUser()
	if err != nil {
		return err
	}

	invoiceItem, _ := cmd.Flags().GetString("invoice-item")
	supplier, _ := cmd.Flags().GetString("supplier")
	description, _ := cmd.Flags().GetString("description")
	amount, _ := cmd.Flags().GetFloat64("amount")
	tradeID, _ := cmd.Flags().GetString("trade")
	estimateID, _ := cmd.Flags().GetString("estimate")
	projectID, _ := cmd.Flags().GetString("project")

	req := pattern.LearnRequest{
		UserID:            userID,
		InvoiceLineItemID: invoiceItem,
		SupplierName:      supplier,
		Description:       description,
		TradeID:           tradeID,
		Amount:            amount,
	}
	if estimateID != "" {
		req.EstimateLineItemID = &estimateID
	}
	if projectID != "" {
		req.ProjectID = &projectID
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("failed to close storage", "error", closeErr)
		}
	}()

	if err := pattern.NewStore(store, slog.Default()).CorrectMatch(ctx, patternID, req); err != nil {
		return fmt.Errorf("failed to correct pattern: %w", err)
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("Pattern %d weakened, corrected mapping learned", patternID)))
	return nil
}

func patternsRetireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retire",
		Short: "Deactivate patterns whose confidence has decayed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			userID, err := requireUser()
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() {
				if closeErr := store.Close(); closeErr != nil {
					slog.Error("failed to close storage", "error", closeErr)
				}
			}()

			retired, err := pattern.NewStore(store, slog.Default()).RetireStale(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to retire patterns: %w", err)
			}
			if retired == 0 {
				fmt.Println(dimStyle.Render("No stale patterns to retire"))
				return nil
			}
			fmt.Println(successStyle.Render(fmt.Sprintf("Retired %d stale pattern(s)", retired)))
			return nil
		},
	}
}
