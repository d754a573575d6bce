// Package cmd defines the CLI commands for the placescrawler executable.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/placescrawler/internal/app"
	"github.com/JakeFAU/placescrawler/internal/config"
)

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	var inputPath string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl and prints its summary",
		Long: `Runs one crawl over the configured input: the input section of the config
file, or a standalone JSON input file given with --input. The run summary is
printed as JSON once every queued request has finished.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, inputPath)
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "JSON input file; overrides the config file's input section")
	return cmd
}

func runCrawl(cmd *cobra.Command, inputPath string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cfg := e.cfg
	if inputPath != "" {
		in, err := config.LoadInput(inputPath)
		if err != nil {
			return err
		}
		cfg.Input = in
	}

	a, err := app.New(cmd.Context(), cfg, app.Options{Logger: e.logger})
	if err != nil {
		return fmt.Errorf("initialize crawl: %w", err)
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
			e.logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	summary, err := a.Run(cmd.Context())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run crawl: %w", err)
		}
		e.logger.Warn("crawl interrupted; summary covers partial results")
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("print summary: %w", err)
	}
	return nil
}
