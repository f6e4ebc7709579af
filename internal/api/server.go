package api

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"sync"

	"deal-scraper/config"
	"deal-scraper/extractor"
	"deal-scraper/internal/types"
	"deal-scraper/output"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RunFunc runs one site to completion.
type RunFunc func(ctx context.Context, site *config.SiteConfig) (*types.RunResult, error)

// ScrapeRequest is the POST /scrape body.
type ScrapeRequest struct {
	Site string `json:"site" binding:"required"`
}

// SiteSummary is one entry of GET /sites.
type SiteSummary struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Server exposes site runs over HTTP. Only one run may be in progress.
type Server struct {
	sitesDir  string
	outputDir string
	run       RunFunc
	metrics   *extractor.Metrics
	logger    types.Logger
	cache     *lru.Cache[string, *types.RunResult]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running string
}

// NewServer creates a server reading site configs from sitesDir. A non-empty
// outputDir overrides each site's output directory.
func NewServer(sitesDir, outputDir string, run RunFunc, metrics *extractor.Metrics, logger types.Logger) (*Server, error) {
	cache, err := lru.New[string, *types.RunResult](32)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		sitesDir:  sitesDir,
		outputDir: outputDir,
		run:       run,
		metrics:   metrics,
		logger:    logger,
		cache:     cache,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealth)
	r.GET("/sites", s.handleSites)
	r.POST("/scrape", s.handleScrape)
	r.GET("/results/:site", s.handleResults)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})))
	}
	return r
}

// Close cancels an in-flight run and waits for it to finish writing.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleSites(c *gin.Context) {
	infos, err := config.ListSites(s.sitesDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	sites := make([]SiteSummary, 0, len(infos))
	for _, info := range infos {
		summary := SiteSummary{
			ID:       info.ID,
			Title:    info.Title,
			Enabled:  info.Deploy.Enabled,
			Schedule: info.Deploy.Schedule,
		}
		if info.Err != nil {
			summary.Error = info.Err.Error()
		}
		sites = append(sites, summary)
	}
	c.JSON(http.StatusOK, sites)
}

func (s *Server) handleScrape(c *gin.Context) {
	var req ScrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !config.ValidSiteID(req.Site) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid site id"})
		return
	}

	site, err := config.LoadSite(s.sitesDir, req.Site)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, fs.ErrNotExist) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	if s.running != "" {
		running := s.running
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress", "site": running})
		return
	}
	s.running = site.ID
	s.wg.Add(1)
	s.mu.Unlock()

	go s.runSite(site)

	s.logger.Infof("Accepted scrape request for %s", site.ID)
	c.JSON(http.StatusAccepted, gin.H{"site": site.ID, "status": "started"})
}

func (s *Server) runSite(site *config.SiteConfig) {
	defer func() {
		s.mu.Lock()
		s.running = ""
		s.mu.Unlock()
		s.wg.Done()
	}()

	result, err := s.run(s.ctx, site)
	if err != nil {
		s.logger.Errorf("Run for %s failed: %v", site.ID, err)
	}
	if result != nil {
		s.cache.Add(site.ID, result)
	}
}

func (s *Server) handleResults(c *gin.Context) {
	id := c.Param("site")
	if !config.ValidSiteID(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid site id"})
		return
	}

	if result, ok := s.cache.Get(id); ok {
		c.JSON(http.StatusOK, gin.H{
			"site":     id,
			"source":   "run",
			"total":    len(result.Records),
			"products": result.Records,
			"pages":    result.Pages,
			"summary":  result.Summary(),
		})
		return
	}

	dir := s.outputDir
	if dir == "" {
		site, err := config.LoadSite(s.sitesDir, id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		dir = site.Output.Dir
	}

	records, err := output.ReadLatest(dir, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no results for " + id})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"site":     id,
		"source":   "file",
		"total":    len(records),
		"products": records,
	})
}

// Running reports the site currently being scraped, if any.
func (s *Server) Running() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
