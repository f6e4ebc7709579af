package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"deal-scraper/config"
	"deal-scraper/internal/types"

	"github.com/google/renameio/v2"
)

// WriteError reports a failure to persist an output file.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Meta is the envelope header written in envelope format.
type Meta struct {
	GeneratedAt   time.Time `json:"generated_at"`
	Site          string    `json:"site"`
	TotalProducts int       `json:"total_products"`
}

// Envelope wraps records with a meta header.
type Envelope struct {
	Meta     Meta                  `json:"meta"`
	Products []types.ProductRecord `json:"products"`
}

// Writer persists run records as JSON files. Every file is replaced
// atomically so readers never observe a partial document.
type Writer struct {
	dir    string
	format string
	logger types.Logger
	now     func() time.Time
	replace func(pf *renameio.PendingFile) error
}

// NewWriter creates a writer for dir using the given format.
func NewWriter(dir, format string, logger types.Logger) *Writer {
	if format == "" {
		format = config.FormatArray
	}
	return &Writer{
		dir:     dir,
		format:  format,
		logger:  logger,
		now:     time.Now,
		replace: (*renameio.PendingFile).CloseAtomicallyReplace,
	}
}

// LatestPath returns the path of the site's latest output file.
func LatestPath(dir, site string) string {
	return filepath.Join(dir, site+"_latest.json")
}

// Write saves records to a timestamped file and then to the latest file.
// It returns the timestamped path.
func (w *Writer) Write(site string, records []types.ProductRecord) (string, error) {
	data, err := w.encode(site, records)
	if err != nil {
		return "", err
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.json", site, w.now().Format("20060102_150405")))
	if err := w.writeAtomic(path, data); err != nil {
		return "", err
	}
	if err := w.writeAtomic(LatestPath(w.dir, site), data); err != nil {
		return "", err
	}

	w.logger.Infof("Saved %d records to %s", len(records), path)
	return path, nil
}

// Checkpoint replaces only the latest file with the records so far.
func (w *Writer) Checkpoint(site string, records []types.ProductRecord) error {
	data, err := w.encode(site, records)
	if err != nil {
		return err
	}
	if err := w.writeAtomic(LatestPath(w.dir, site), data); err != nil {
		return err
	}
	w.logger.Debugf("Checkpointed %d records for %s", len(records), site)
	return nil
}

func (w *Writer) encode(site string, records []types.ProductRecord) ([]byte, error) {
	if records == nil {
		records = []types.ProductRecord{}
	}

	var v interface{} = records
	if w.format == config.FormatEnvelope {
		v = Envelope{
			Meta: Meta{
				GeneratedAt:   w.now().UTC(),
				Site:          site,
				TotalProducts: len(records),
			},
			Products: records,
		}
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal records to JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// writeAtomic replaces path with data through a pending file in the same
// directory, then syncs the directory so the rename survives a crash.
func (w *Writer) writeAtomic(path string, data []byte) error {
	if err := ensureDir(path); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	pf, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithPermissions(0644))
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := w.replace(pf); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if err := syncDir(filepath.Dir(path)); err != nil {
		w.logger.Warnf("Failed to sync directory of %s: %v", path, err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// ReadLatest loads the site's latest file in either format.
func ReadLatest(dir, site string) ([]types.ProductRecord, error) {
	data, err := os.ReadFile(LatestPath(dir, site))
	if err != nil {
		return nil, err
	}

	var records []types.ProductRecord
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", LatestPath(dir, site), err)
	}
	return env.Products, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
