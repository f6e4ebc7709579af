package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"deal-scraper/internal/types"

	"gopkg.in/yaml.v3"
)

// Error is a fatal configuration problem: a missing or invalid file.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SiteInfo is a listing entry for an available site config.
type SiteInfo struct {
	ID     string
	Title  string
	Deploy Deploy
	Err    error
}

// ErrInvalidSiteID is returned for ids that cannot name a site config file.
var ErrInvalidSiteID = errors.New("invalid site id")

// ValidSiteID reports whether id is a well-formed site id.
func ValidSiteID(id string) bool {
	return siteIDPattern.MatchString(id)
}

// SitePath returns the YAML path for a site id.
func SitePath(dir, id string) string {
	return filepath.Join(dir, id+".yaml")
}

// LoadSite reads, defaults and validates sites/<id>.yaml.
func LoadSite(dir, id string) (*SiteConfig, error) {
	if !ValidSiteID(id) {
		return nil, &Error{Err: fmt.Errorf("%w %q", ErrInvalidSiteID, id)}
	}
	path := SitePath(dir, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			available, _ := siteIDs(dir)
			return nil, &Error{Path: path, Err: fmt.Errorf("site config not found (available: %s): %w", strings.Join(available, ", "), err)}
		}
		return nil, &Error{Path: path, Err: err}
	}

	cfg, err := ParseSite(data)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	if cfg.ID == "" {
		cfg.ID = id
	} else if cfg.ID != id {
		return nil, &Error{Path: path, Err: fmt.Errorf("site id %q does not match file name %q", cfg.ID, id)}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	return cfg, nil
}

// ParseSite decodes a site document, rejecting unknown keys.
func ParseSite(data []byte) (*SiteConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg SiteConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &cfg, nil
}

// ListSites loads every site config in dir, sorted by id. Sites that fail to
// load are returned with Err set.
func ListSites(dir string) ([]SiteInfo, error) {
	ids, err := siteIDs(dir)
	if err != nil {
		return nil, &Error{Path: dir, Err: err}
	}

	infos := make([]SiteInfo, 0, len(ids))
	for _, id := range ids {
		cfg, err := LoadSite(dir, id)
		if err != nil {
			infos = append(infos, SiteInfo{ID: id, Err: err})
			continue
		}
		infos = append(infos, SiteInfo{ID: id, Title: cfg.Title, Deploy: cfg.Deploy})
	}
	return infos, nil
}

func siteIDs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadLegacyTerms reads the deprecated flat search-terms file: one term per
// line, blank lines and lines starting with '#' ignored.
func LoadLegacyTerms(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	defer f.Close()

	var terms []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		terms = append(terms, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	if len(terms) == 0 {
		return nil, &Error{Path: path, Err: fmt.Errorf("no search terms found")}
	}
	return terms, nil
}

// LegacySite builds the built-in Amazon.ca site around flat-file terms.
func LegacySite(terms []string) (*SiteConfig, error) {
	cfg := &SiteConfig{
		ID:          "legacy",
		Title:       "Legacy search terms",
		SearchURL:   DefaultSearchURL,
		SearchTerms: terms,
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Err: err}
	}
	return cfg, nil
}

type proxyFile struct {
	Enabled  bool   `json:"enabled"`
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoadProxy reads proxy_config.json and applies PROXY_SERVER, PROXY_USERNAME
// and PROXY_PASSWORD overrides. A missing file and no environment means no proxy.
func LoadProxy(path string) (*types.Proxy, error) {
	var pf proxyFile
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &pf); err != nil {
				return nil, &Error{Path: path, Err: fmt.Errorf("decode proxy config: %w", err)}
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, &Error{Path: path, Err: err}
		}
	}

	if v := os.Getenv("PROXY_SERVER"); v != "" {
		pf.Enabled = true
		pf.Server = v
	}
	if v := os.Getenv("PROXY_USERNAME"); v != "" {
		pf.Username = v
	}
	if v := os.Getenv("PROXY_PASSWORD"); v != "" {
		pf.Password = v
	}

	if !pf.Enabled {
		return nil, nil
	}
	if pf.Server == "" {
		return nil, &Error{Path: path, Err: fmt.Errorf("proxy enabled without a server")}
	}
	if u, err := url.Parse(pf.Server); err != nil || u.Host == "" {
		return nil, &Error{Path: path, Err: fmt.Errorf("invalid proxy server %q", pf.Server)}
	}
	return &types.Proxy{Server: pf.Server, Username: pf.Username, Password: pf.Password}, nil
}
