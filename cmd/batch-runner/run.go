package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/batch-api-runner/pkg/batch"
	"github.com/Sternrassler/batch-api-runner/pkg/client"
	"github.com/Sternrassler/batch-api-runner/pkg/export"
	"github.com/Sternrassler/batch-api-runner/pkg/input"
	"github.com/Sternrassler/batch-api-runner/pkg/logging"
)

func newRunCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <input.csv|input.xlsx>",
		Short: "Run one batch over a CSV or Excel file",
		Long: `Run one batch over a CSV or Excel file.

Files ending in .xlsx are read from their first sheet; anything else is
parsed as CSV. Every row must have an id column. For each row the runner requests
<prefix><id><suffix>, extracts the disposition fields from the JSON response
and writes the input columns together with the outcome.

Ctrl+C stops the batch; rows completed so far are still written.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, *cfgFile, args[0])
		},
	}

	flags := cmd.Flags()
	flags.String("prefix", "", "URL prefix placed before the id")
	flags.String("suffix", "", "URL suffix placed after the id")
	flags.String("endpoint", "", "endpoint name from the catalog (instead of --prefix/--suffix)")
	flags.String("delimiter", ",", "CSV field delimiter")
	flags.String("encoding", input.EncodingUTF8, "input encoding (utf-8, windows-1251)")
	flags.StringP("format", "f", string(export.FormatTable), "output format (table, markdown, csv, json, xlsx)")
	flags.StringP("output", "o", "", "output file (default stdout)")
	flags.Bool("completion-order", false, "write rows in completion order instead of input order")
	flags.Bool("color", true, "colour status codes in table output")

	return cmd
}

func runBatch(cmd *cobra.Command, cfgFile, path string) error {
	cfg, err := loadConfig(cmd, cfgFile)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(logging.ComponentCLI)

	format, err := export.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	if format.Binary() && cfg.Output.File == "" {
		return fmt.Errorf("%s output needs --output", format)
	}

	prefix, suffix := cfg.Fetch.Prefix, cfg.Fetch.Suffix
	var timeout time.Duration
	cat, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	if cfg.Fetch.Endpoint != "" {
		ep, err := cat.Lookup(cfg.Fetch.Endpoint)
		if err != nil {
			return err
		}
		prefix, suffix, timeout = ep.Prefix, ep.Suffix, ep.Timeout
	}
	if prefix == "" {
		return errors.New("--prefix or --endpoint is required")
	}

	rows, err := input.LoadFile(path, cfg.InputOptions())
	if err != nil {
		return err
	}

	fetchClient, err := client.New(cfg.ClientConfig(timeout))
	if err != nil {
		return err
	}
	defer fetchClient.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reporter, _, closeReporter := newReporter(ctx, cfg)
	defer closeReporter()

	orch, err := batch.New(fetchClient, cfg.BatchConfig(prefix, suffix),
		batch.WithReporter(reporter),
		batch.WithLogger(logging.NewLogger(logging.ComponentBatch)))
	if err != nil {
		return err
	}

	set, runErr := orch.Run(ctx, rows)
	if set == nil {
		return runErr
	}

	records := set.Sorted()
	if cfg.Output.CompletionOrder {
		records = set.Records()
	}

	opts := export.Options{
		Color:        cfg.Output.Color && cfg.Output.File == "",
		MaxCellWidth: cfg.Output.MaxCellWidth,
		Summary:      format == export.FormatTable || format == export.FormatMarkdown,
	}
	if err := writeOutput(cmd.OutOrStdout(), cfg.Output.File, format, records, opts); err != nil {
		return err
	}

	sum := set.Summary()
	logger.Info().
		Str("batch_id", set.BatchID).
		Int("total", sum.Total).
		Int("succeeded", sum.Succeeded).
		Int("http_failed", sum.HTTPFailed).
		Int("network_failed", sum.NetworkFailed).
		Str("output", cfg.Output.File).
		Msg("Results written")

	return runErr
}

// writeOutput exports records to path, or to stdout when path is empty.
// Binary formats need a file.
func writeOutput(stdout io.Writer, path string, format export.Format, records []batch.MergedRecord, opts export.Options) error {
	if path == "" {
		if format.Binary() {
			return fmt.Errorf("%s output needs --output", format)
		}
		if err := export.Write(stdout, format, records, opts); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		return nil
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := export.Write(file, format, records, opts); err != nil {
		file.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}
