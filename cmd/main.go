package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"deal-scraper/config"
	"deal-scraper/internal/app"
	"deal-scraper/output"
	"deal-scraper/storage"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 130
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	os.Exit(run(os.Args[1:], nil))
}

// run executes the CLI with args and returns the process exit code. A nil
// newFetcher uses the browser or HTTP fetcher selected by the flags.
func run(args []string, newFetcher app.FetcherFactory) int {
	fs := flag.NewFlagSet("deal-scraper", flag.ContinueOnError)
	var (
		siteFlag    = fs.String("site", "", "Site id from the sites directory, or \"all\"")
		sitesDir    = fs.String("sites-dir", "sites", "Directory holding <site>.yaml configs")
		headless    = fs.Bool("headless", true, "Run the browser without a window")
		httpOnly    = fs.Bool("http-only", false, "Use HTTP requests only (disable headless browser)")
		listSites   = fs.Bool("list-sites", false, "List available sites and exit")
		termsFile   = fs.String("terms-file", "search_terms.txt", "Legacy search terms file, used when --site is not given")
		outputDir   = fs.String("output-dir", "", "Override the output directory of every site")
		proxyConfig = fs.String("proxy-config", "proxy_config.json", "Proxy configuration file")
		logDir      = fs.String("log-dir", "", "Also write each run's log to scrape_<site>_<timestamp>.log in this directory")
		verbose     = fs.Bool("verbose", false, "Enable verbose logging")
	)
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	logger := app.NewLogger(*verbose)

	if *listSites {
		return printSites(*sitesDir, logger)
	}

	sites, code := loadSites(*siteFlag, *sitesDir, *termsFile, logger)
	if len(sites) == 0 {
		return exitError
	}

	proxy, err := config.LoadProxy(*proxyConfig)
	if err != nil {
		logger.Errorf("Invalid proxy configuration: %v", err)
		return exitError
	}
	if proxy != nil {
		logger.Infof("Using proxy %s", proxy.Server)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.Options{
		OutputDir:  *outputDir,
		UseBrowser: !*httpOnly,
		Headless:   *headless,
		Proxy:      proxy,
		NewFetcher: newFetcher,
	}

	if uri := os.Getenv("MONGO_URI"); uri != "" {
		dbName := os.Getenv("MONGO_DB")
		if dbName == "" {
			dbName = "deal_scraper"
		}
		sink, err := storage.NewMongoSink(ctx, uri, dbName, logger)
		if err != nil {
			logger.Warnf("Mongo disabled: %v", err)
		} else {
			defer sink.Close(context.Background())
			opts.Sink = sink
		}
	}

	startTime := time.Now()
	for _, site := range sites {
		restore, err := teeLog(logger, *logDir, site.ID)
		if err != nil {
			logger.Warnf("Log file disabled: %v", err)
		}

		logger.Infof("Processing site: %s (%s)", site.ID, site.Title)
		outcome, err := app.RunSite(ctx, site, opts, logger)
		restore()

		if err != nil {
			var writeErr *output.WriteError
			switch {
			case errors.As(err, &writeErr):
				logger.Errorf("Failed to write output for %s: %v", site.ID, err)
				return exitError
			case ctx.Err() != nil:
				logger.Warnf("Interrupted during %s; partial results saved", site.ID)
				return exitInterrupted
			default:
				logger.Errorf("Run for %s failed: %v", site.ID, err)
				code = exitError
				continue
			}
		}

		logger.Infof("Results written to: %s", outcome.Path)
	}

	logger.Infof("All runs completed in %v", time.Since(startTime))
	return code
}

// loadSites resolves --site into site configs. With --site all, sites that
// fail to load are reported and the exit code is set, but the rest still run.
func loadSites(siteFlag, sitesDir, termsFile string, logger *logrus.Logger) ([]*config.SiteConfig, int) {
	switch siteFlag {
	case "":
		logger.Warnf("No --site given; reading legacy search terms from %s", termsFile)
		terms, err := config.LoadLegacyTerms(termsFile)
		if err != nil {
			logger.Errorf("Configuration error: %v", err)
			return nil, exitError
		}
		site, err := config.LegacySite(terms)
		if err != nil {
			logger.Errorf("Configuration error: %v", err)
			return nil, exitError
		}
		return []*config.SiteConfig{site}, exitOK

	case "all":
		infos, err := config.ListSites(sitesDir)
		if err != nil {
			logger.Errorf("Configuration error: %v", err)
			return nil, exitError
		}
		code := exitOK
		var sites []*config.SiteConfig
		for _, info := range infos {
			if info.Err != nil {
				logger.Errorf("Skipping %s: %v", info.ID, info.Err)
				code = exitError
				continue
			}
			site, err := config.LoadSite(sitesDir, info.ID)
			if err != nil {
				logger.Errorf("Skipping %s: %v", info.ID, err)
				code = exitError
				continue
			}
			sites = append(sites, site)
		}
		if len(sites) == 0 {
			logger.Errorf("No loadable sites in %s", sitesDir)
		}
		return sites, code

	default:
		site, err := config.LoadSite(sitesDir, siteFlag)
		if err != nil {
			logger.Errorf("Configuration error: %v", err)
			return nil, exitError
		}
		return []*config.SiteConfig{site}, exitOK
	}
}

func printSites(sitesDir string, logger *logrus.Logger) int {
	infos, err := config.ListSites(sitesDir)
	if err != nil {
		logger.Errorf("Configuration error: %v", err)
		return exitError
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SITE\tTITLE\tDEPLOY\tSCHEDULE")
	for _, info := range infos {
		if info.Err != nil {
			fmt.Fprintf(w, "%s\t(invalid: %v)\t\t\n", info.ID, info.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", info.ID, info.Title, info.Deploy.Enabled, info.Deploy.Schedule)
	}
	w.Flush()
	return exitOK
}

// teeLog mirrors logger output into a per-run file under dir. The returned
// func restores the previous output and closes the file.
func teeLog(logger *logrus.Logger, dir, siteID string) (func(), error) {
	noop := func() {}
	if dir == "" {
		return noop, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return noop, err
	}

	name := fmt.Sprintf("scrape_%s_%s.log", siteID, time.Now().Format("20060102_150405"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return noop, err
	}

	prev := logger.Out
	logger.SetOutput(io.MultiWriter(prev, f))
	return func() {
		logger.SetOutput(prev)
		f.Close()
	}, nil
}
