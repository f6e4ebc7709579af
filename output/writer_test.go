package output

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"deal-scraper/config"
	"deal-scraper/internal/types"

	"github.com/google/renameio/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func sampleRecords() []types.ProductRecord {
	price := 899.99
	orig := 999.99
	return []types.ProductRecord{
		{
			ID:              "B000000001",
			Title:           "Acme Laptop 15",
			Brand:           "Acme",
			PriceCurrent:    &price,
			PriceOriginal:   &orig,
			DiscountPercent: 10,
			ProductURL:      "https://www.amazon.ca/dp/B000000001",
			Category:        "laptop",
			Site:            "amazon_ca",
			ScrapedAt:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func fixedWriter(dir, format string) *Writer {
	w := NewWriter(dir, format, quietLogger())
	w.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC) }
	return w
}

func TestWriteCreatesTimestampedAndLatest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data", "scraped")
	w := fixedWriter(dir, config.FormatArray)

	path, err := w.Write("amazon_ca", sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "amazon_ca_20240501_123045.json"), path)

	for _, p := range []string{path, LatestPath(dir, "amazon_ca")} {
		data, err := os.ReadFile(p)
		require.NoError(t, err)

		var got []map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &got))
		require.Len(t, got, 1)
		assert.Equal(t, "B000000001", got[0]["asin"])
		assert.Nil(t, got[0]["rating"])
		assert.Nil(t, got[0]["image_url"])
	}
}

func TestWriteEmptyRecordsWritesEmptyArray(t *testing.T) {
	dir := t.TempDir()
	w := fixedWriter(dir, config.FormatArray)

	_, err := w.Write("amazon_ca", nil)
	require.NoError(t, err)

	data, err := os.ReadFile(LatestPath(dir, "amazon_ca"))
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestWriteEnvelopeFormat(t *testing.T) {
	dir := t.TempDir()
	w := fixedWriter(dir, config.FormatEnvelope)

	_, err := w.Write("amazon_ca", sampleRecords())
	require.NoError(t, err)

	data, err := os.ReadFile(LatestPath(dir, "amazon_ca"))
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "amazon_ca", env.Meta.Site)
	assert.Equal(t, 1, env.Meta.TotalProducts)
	assert.Len(t, env.Products, 1)

	records, err := ReadLatest(dir, "amazon_ca")
	require.NoError(t, err)
	assert.Equal(t, "B000000001", records[0].ID)
}

func TestFailedWriteLeavesLatestIntact(t *testing.T) {
	dir := t.TempDir()
	w := fixedWriter(dir, config.FormatArray)

	_, err := w.Write("amazon_ca", sampleRecords())
	require.NoError(t, err)
	before, err := os.ReadFile(LatestPath(dir, "amazon_ca"))
	require.NoError(t, err)

	w.replace = func(pf *renameio.PendingFile) error { return errors.New("device full") }
	err = w.Checkpoint("amazon_ca", nil)

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, LatestPath(dir, "amazon_ca"), writeErr.Path)

	after, err := os.ReadFile(LatestPath(dir, "amazon_ca"))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"amazon_ca_20240501_123045.json", "amazon_ca_latest.json"}, names,
		"pending files are cleaned up")
}

func TestCheckpointReplacesOnlyLatest(t *testing.T) {
	dir := t.TempDir()
	w := fixedWriter(dir, config.FormatArray)

	require.NoError(t, w.Checkpoint("amazon_ca", sampleRecords()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "amazon_ca_latest.json", entries[0].Name())
}

func TestReadLatestMissing(t *testing.T) {
	_, err := ReadLatest(t.TempDir(), "nope")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
