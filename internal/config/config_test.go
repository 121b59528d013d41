package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "base_url: https://shop.test\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://shop.test", cfg.BaseURL)
	assert.Equal(t, 20, cfg.ProductsPerSubcategory)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 500*time.Millisecond, cfg.RequestDelay())
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 3, cfg.Crawl.MaxTopLevel)
	assert.Equal(t, 15*time.Second, cfg.Crawl.ShutdownGrace)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "assets", cfg.Images.Dir)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "skips.json", cfg.State.LedgerPath)
	assert.Equal(t, "page", cfg.Selectors.Listing.PageParam)
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
base_url: https://shop.test
products_per_subcategory: 35
worker_count: 5
request_delay_ms: 200
selectors:
  product:
    title: h1.product-title
    seller_url: a.seller@href
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 35, cfg.ProductsPerSubcategory)
	assert.Equal(t, 5, cfg.WorkerCount)
	assert.Equal(t, 200*time.Millisecond, cfg.RequestDelay())
	assert.Equal(t, "h1.product-title", cfg.Selectors.Product["title"])
	assert.Equal(t, "a.seller@href", cfg.Selectors.Product["seller_url"])
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing base_url", body: "worker_count: 2\n"},
		{name: "relative base_url", body: "base_url: /shop\n"},
		{name: "zero workers", body: "base_url: https://shop.test\nworker_count: 0\n"},
		{name: "unknown driver", body: "base_url: https://shop.test\ndatabase:\n  driver: mongo\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
