package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/buildledger/matchengine/internal/cache"
	"github.com/buildledger/matchengine/internal/engine"
	"github.com/buildledger/matchengine/internal/logic"
	"github.com/buildledger/matchengine/internal/model"
	"github.com/buildledger/matchengine/internal/pattern"
)

func matchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match invoice line items against a project estimate",
		Long: `Match every line item of the given invoices against the project's
estimate line items. Items already linked or covered by a learned pattern
are resolved locally; the rest go to the configured semantic model, with a
deterministic similarity fallback when that is unavailable.`,
		RunE: runMatch,
	}

	cmd.Flags().String("invoices", "", "JSON file with the invoice batch (required)")
	cmd.Flags().String("estimates", "", "JSON file with the project's estimate line items (required)")
	cmd.Flags().String("project", "", "project id scoping patterns and the cache")
	cmd.Flags().Int("concurrency", 0, "semantic matcher calls in flight (default 3)")
	cmd.Flags().Int("batch-size", 0, "invoice line items per semantic call (default 20)")
	cmd.Flags().Duration("timeout", 0, "timeout per semantic batch (default 30s)")
	cmd.Flags().Float64("quality-threshold", 0, "confidence needed to accept a pattern and to learn (default 0.7)")
	cmd.Flags().Bool("no-llm", false, "skip the semantic model tier entirely")
	cmd.Flags().Bool("no-cache", false, "bypass the result cache")
	cmd.Flags().Bool("no-learn", false, "do not feed confident matches back into the pattern store")
	cmd.Flags().String("output", "table", "output format (table, json)")

	_ = cmd.MarkFlagRequired("invoices")
	_ = cmd.MarkFlagRequired("estimates")

	return cmd
}

func runMatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	userID, err := requireUser()
	if err != nil {
		return err
	}

	invoicesPath, _ := cmd.Flags().GetString("invoices")
	estimatesPath, _ := cmd.Flags().GetString("estimates")
	projectID, _ := cmd.Flags().GetString("project")
	noLLM, _ := cmd.Flags().GetBool("no-llm")
	noCache, _ := cmd.Flags().GetBool("no-cache")
	noLearn, _ := cmd.Flags().GetBool("no-learn")
	output, _ := cmd.Flags().GetString("output")

	invoices, err := loadInvoices(invoicesPath)
	if err != nil {
		return err
	}
	estimates, err := loadEstimates(estimatesPath)
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

	var semantic engine.SemanticMatcher
	if !noLLM {
		matcher, matcherErr := createSemanticMatcher()
		if matcherErr != nil {
			return matcherErr
		}
		if matcher != nil {
			semantic = matcher
		} else {
			slog.Warn("no LLM provider configured, relying on patterns and deterministic matching")
		}
	}

	opts := engine.DefaultOptions()
	opts.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	opts.BatchSize, _ = cmd.Flags().GetInt("batch-size")
	opts.Timeout, _ = cmd.Flags().GetDuration("timeout")
	opts.QualityThreshold, _ = cmd.Flags().GetFloat64("quality-threshold")
	opts.EnableCache = !noCache
	opts.EnablePatternLearning = !noLearn

	var bar *progressbar.ProgressBar
	if output == "table" {
		bar = newMatchProgressBar()
		opts.Progress = func(done, total int) {
			bar.ChangeMax(total)
			if err := bar.Set(done); err != nil {
				slog.Warn("failed to update progress bar", "error", err)
			}
		}
	}

	logger := slog.Default()
	eng := engine.New(store, pattern.NewStore(store, logger), semantic,
		logic.NewMatcher(logger, logic.DefaultWeights()), cache.New(), logger, opts)

	resp, err := eng.MatchBatch(ctx, engine.MatchRequest{
		ProjectID: projectID,
		UserID:    userID,
		Invoices:  invoices,
		Estimates: estimates,
	})
	if err != nil {
		return fmt.Errorf("matching failed: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	switch output {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(resp)
	case "table":
		printMatchReport(resp, invoices, estimates)
		return nil
	default:
		return fmt.Errorf("invalid output format: %s", output)
	}
}

func newMatchProgressBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Matching line items..."),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
}

func printMatchReport(resp *engine.MatchResponse, invoices []model.Invoice, estimates []model.EstimateLineItem) {
	itemDesc := make(map[string]string)
	for _, inv := range invoices {
		for _, item := range inv.LineItems {
			itemDesc[item.ID] = item.Description
		}
	}
	estimateDesc := make(map[string]string)
	for _, est := range estimates {
		estimateDesc[est.ID] = est.Description
	}

	fmt.Println(titleStyle.Render("Match results"))
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "INVOICE ITEM\tESTIMATE ITEM\tTYPE\tCONFIDENCE\tVIA\n")
	for _, m := range resp.Matches {
		target := dimStyle.Render("(unmatched)")
		if m.EstimateLineItemID != nil {
			target = truncate(estimateDesc[*m.EstimateLineItemID], 40)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n",
			truncate(itemDesc[m.InvoiceLineItemID], 40),
			target, m.MatchType, m.Confidence, m.Strategy)
	}
	if err := w.Flush(); err != nil {
		slog.Error("failed to flush table writer", "error", err)
	}

	fmt.Println()
	matched := fmt.Sprintf("%d/%d matched", resp.Summary.MatchedItems, resp.Summary.TotalItems)
	if resp.Summary.MatchedItems == resp.Summary.TotalItems {
		fmt.Println(successStyle.Render(matched))
	} else {
		fmt.Println(warnStyle.Render(matched))
	}
	fmt.Printf("average confidence %.2f, took %s\n",
		resp.Summary.AverageConfidence, resp.Details.ProcessingTime.Round(time.Millisecond))
	fmt.Printf("tiers: existing %d, pattern %d, llm %d, logic %d, none %d\n",
		resp.Details.ExistingMatches, resp.Details.PatternMatches,
		resp.Details.LLMMatches, resp.Details.LogicMatches, resp.Details.NoMatches)
	if resp.Details.CacheHit {
		fmt.Println(dimStyle.Render("served from cache"))
	}
	if usage := resp.Details.TokenUsage; usage.InputTokens > 0 || usage.OutputTokens > 0 {
		fmt.Printf("tokens: %d in / %d out ($%.4f)\n", usage.InputTokens, usage.OutputTokens, usage.CostUSD)
	}
	for _, failure := range resp.Details.LLMFailures {
		fmt.Println(warnStyle.Render("llm failure: " + failure))
	}
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}
