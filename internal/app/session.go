package app

import (
	"context"
	"errors"
	"fmt"

	"deal-scraper/config"
	"deal-scraper/extractor"
	"deal-scraper/internal/types"
	"deal-scraper/output"
	"deal-scraper/utils"
)

// FetcherFactory opens the page fetcher for one run.
type FetcherFactory func(ctx context.Context, config *types.Config, logger types.Logger) (types.PageFetcher, error)

// Sink receives a copy of every run's records.
type Sink interface {
	Upsert(ctx context.Context, records []types.ProductRecord) error
}

// Options are the process-wide settings shared by every site run.
type Options struct {
	OutputDir  string
	UseBrowser bool
	Headless   bool
	Proxy      *types.Proxy
	Metrics    *extractor.Metrics
	Sink       Sink
	NewFetcher FetcherFactory
	Runner     []extractor.Option
}

// Outcome is a finished site run and where its records were written.
type Outcome struct {
	Result *types.RunResult
	Path   string
}

// RunSite scrapes one site and writes its output. Records gathered before a
// cancellation are still written. Write failures are returned as
// *output.WriteError; a failing sink is only logged.
func RunSite(ctx context.Context, site *config.SiteConfig, opts Options, logger types.Logger) (*Outcome, error) {
	dir := site.Output.Dir
	if opts.OutputDir != "" {
		dir = opts.OutputDir
	}
	writer := output.NewWriter(dir, site.Output.Format, logger)

	newFetcher := opts.NewFetcher
	if newFetcher == nil {
		newFetcher = utils.NewFetcher
	}
	fetcher, err := newFetcher(ctx, site.FetchConfig(opts.UseBrowser, opts.Headless, opts.Proxy), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start fetcher for %s: %w", site.ID, err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warnf("Failed to close fetcher: %v", err)
		}
	}()

	runnerOpts := append([]extractor.Option{extractor.WithMetrics(opts.Metrics)}, opts.Runner...)
	if !site.Output.DisableCheckpoint {
		runnerOpts = append(runnerOpts, extractor.WithCheckpoint(func(records []types.ProductRecord) error {
			return writer.Checkpoint(site.ID, records)
		}))
	}

	result, runErr := extractor.NewRunner(site, fetcher, logger, runnerOpts...).Run(ctx)
	if runErr != nil {
		var writeErr *output.WriteError
		if errors.As(runErr, &writeErr) {
			return &Outcome{Result: result}, runErr
		}
		logger.Warnf("Run for %s stopped early: %v", site.ID, runErr)
	}

	path, err := writer.Write(site.ID, result.Records)
	if err != nil {
		return &Outcome{Result: result}, err
	}

	if opts.Sink != nil && len(result.Records) > 0 {
		if err := opts.Sink.Upsert(ctx, result.Records); err != nil {
			logger.Warnf("Failed to mirror %s records to storage: %v", site.ID, err)
		}
	}

	return &Outcome{Result: result, Path: path}, runErr
}
