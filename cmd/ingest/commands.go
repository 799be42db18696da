package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"fineas-core/internal/app"
	"fineas-core/internal/config"
	"fineas-core/internal/domain/entity"
	"fineas-core/internal/usecase"

	"github.com/spf13/cobra"
)

func ingestCmd() *cobra.Command {
	var (
		sourceKey string
		date      string
	)
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Index a JSON object of {category: text} under a source key",
		Long: `Index a JSON file mapping category names to text bodies.

Each category is chunked, embedded and written to the configured vector
index. Re-ingesting a category of the same source key replaces its chunks.

Examples:
  fineas-ingest ingest acme.json --source-key ACME
  fineas-ingest ingest filings.json --source-key ACME --date 2024-03-31`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := loadFields(args[0])
			if err != nil {
				return err
			}
			asOf, err := parseDate(date)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			deps, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			report, err := deps.Ingestor.Ingest(ctx, sourceKey, fields, asOf)
			if err != nil {
				return fmt.Errorf("ingestion failed: %w", err)
			}
			printReport(cmd, report.SourceKey, report.Chunks)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sourceKey, "source-key", "k", "", "source key the document is stored under")
	cmd.Flags().StringVarP(&date, "date", "d", "", "ingestion date as YYYY-MM-DD (default today)")
	_ = cmd.MarkFlagRequired("source-key")
	return cmd
}

func askCmd() *cobra.Command {
	var (
		userKey string
		user    string
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run one question through retrieval and generation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			if user != "" {
				userKey = entity.HashIdentity(user)
			}
			resp, err := deps.Orchestrator.Execute(ctx, entity.AIRequest{
				Prompt:    strings.Join(args, " "),
				UserKey:   userKey,
				Timestamp: time.Now(),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Content)
			fmt.Fprintf(cmd.ErrOrStderr(), "(%d passages, %dms)\n", resp.Passages, resp.Latency)
			return nil
		},
	}
	cmd.Flags().StringVar(&userKey, "id-hash", "", "meter the question against this account")
	cmd.Flags().StringVar(&user, "user", "", "meter against the account of this raw user id (hashed before use)")
	cmd.MarkFlagsMutuallyExclusive("id-hash", "user")
	return cmd
}

func quoteCmd() *cobra.Command {
	var index, save bool
	cmd := &cobra.Command{
		Use:   "quote [ticker]",
		Short: "Build the market report for a ticker from the market data services",
		Long: `Fetch price, financials, news, description and technical data for a
ticker, summarise each with the configured model, then index the summaries
under the ticker and save the report for lookups.

Examples:
  fineas-ingest quote AAPL
  fineas-ingest quote X:BTCUSD --save=false`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()
			if deps.Aggregator == nil {
				return fmt.Errorf("no market data service configured, set STK_SERVICE_URL or its siblings")
			}

			res, err := deps.Aggregator.Aggregate(ctx, args[0], usecase.AggregateOptions{Index: index, Save: save})
			if err != nil {
				return fmt.Errorf("quote failed: %w", err)
			}
			printQuote(cmd, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&index, "index", true, "ingest the summaries under the ticker")
	cmd.Flags().BoolVar(&save, "save", true, "save the report for lookups")
	return cmd
}

func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return app.Build(ctx, cfg)
}

// loadFields reads a JSON object whose values are all strings.
func loadFields(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var fields map[string]string
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%s must hold a JSON object of category to text: %w", path, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s has no categories", path)
	}
	return fields, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
	}
	return d, nil
}

func printQuote(cmd *cobra.Command, res *usecase.QuoteResult) {
	sections := res.Summary.Sections()
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "# %s\n", res.Summary.Ticker)
	for _, name := range names {
		fmt.Fprintf(out, "\n## %s\n%s\n", name, sections[name])
	}
	if len(res.Failed) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed sections: %s\n", strings.Join(res.Failed, ", "))
	}
	if res.Indexed != nil {
		printReport(cmd, res.Indexed.SourceKey, res.Indexed.Chunks)
	}
}

func printReport(cmd *cobra.Command, sourceKey string, chunks map[string]int) {
	names := make([]string, 0, len(chunks))
	for name := range chunks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed %s:\n", sourceKey)
	for _, name := range names {
		fmt.Fprintf(out, "  %-24s %d chunk(s)\n", name, chunks[name])
	}
}
