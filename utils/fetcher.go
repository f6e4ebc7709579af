package utils

import (
	"context"

	"deal-scraper/internal/types"
)

// NewFetcher returns the headless browser session when the browser is
// enabled, and the plain HTTP client otherwise.
func NewFetcher(ctx context.Context, config *types.Config, logger types.Logger) (types.PageFetcher, error) {
	if config.UseHeadlessBrowser {
		return NewBrowserClient(ctx, config, logger)
	}
	return NewHTTPClient(config, logger)
}
