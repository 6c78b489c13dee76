package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show confirmed match history and pattern accuracy",
	}

	cmd.AddCommand(historyListCmd())
	cmd.AddCommand(historyStatsCmd())

	return cmd
}

func historyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List confirmed matches from the recent history window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			userID, err := requireUser()
			if err != nil {
				return err
			}

			days, _ := cmd.Flags().GetInt("days")
			project, _ := cmd.Flags().GetString("project")
			var projectID *string
			if project != "" {
				projectID = &project
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

			since := time.Now().UTC().AddDate(0, 0, -days)
			entries, err := store.GetConfirmedHistorySince(ctx, userID, projectID, since)
			if err != nil {
				return fmt.Errorf("failed to load history: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println(dimStyle.Render(fmt.Sprintf("No confirmed matches in the last %d days", days)))
				return nil
			}

			fmt.Println(titleStyle.Render(fmt.Sprintf("Confirmed matches, last %d days", days)))
			fmt.Println()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "WHEN\tSUPPLIER\tDESCRIPTION\tAMOUNT\tTRADE\tMETHOD\n")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t$%.2f\t%s\t%s\n",
					e.CreatedAt.Format("2006-01-02"),
					truncate(e.SupplierName, 25),
					truncate(e.Description, 40),
					e.Amount, e.TradeID, e.Method)
			}
			if err := w.Flush(); err != nil {
				slog.Error("failed to flush table writer", "error", err)
			}
			return nil
		},
	}

	cmd.Flags().Int("days", 30, "how many days back to look")
	cmd.Flags().String("project", "", "limit to one project")

	return cmd
}

func historyStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-pattern accuracy derived from history",
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

			stats, err := store.GetPatternStats(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to load pattern stats: %w", err)
			}
			if len(stats) == 0 {
				fmt.Println(dimStyle.Render("No pattern usage recorded yet"))
				return nil
			}

			fmt.Println(titleStyle.Render("Pattern accuracy"))
			fmt.Println()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "PATTERN\tUSES\tCORRECT\tACCURACY\n")
			for _, s := range stats {
				fmt.Fprintf(w, "%d\t%d\t%d\t%.0f%%\n", s.PatternID, s.Uses, s.Successes, s.Accuracy*100)
			}
			if err := w.Flush(); err != nil {
				slog.Error("failed to flush table writer", "error", err)
			}
			return nil
		},
	}
}
