package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("defaults and env expansion", func(t *testing.T) {
		t.Setenv("TABLESIDE_TEST_REDIS", "redis:6379")
		path := writeFile(t, dir, "config.yaml", `
database:
  path: `+filepath.Join(dir, "db", "tableside.db")+`
redis:
  address: ${TABLESIDE_TEST_REDIS}
seating:
  dining_minutes: 90
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "redis:6379", cfg.Redis.Address)
		assert.Equal(t, ":8080", cfg.HTTP.Address)
		assert.Equal(t, 32, cfg.HTTP.Workers)
		assert.Equal(t, 90*time.Minute, cfg.Seating.DiningDuration())
		assert.Equal(t, 60*time.Minute, cfg.Seating.MinLead())
		assert.Equal(t, 15*time.Minute, cfg.Seating.CheckInWindow())
		assert.Equal(t, 10, cfg.Seating.SubscriberDiscount())
		assert.Equal(t, 30*24*time.Hour, cfg.Seating.MaxAdvance())
		assert.Equal(t, 30*time.Second, cfg.Reconciler.HoldExpiryInterval())
		assert.Equal(t, int64(2500), cfg.Pricing.PricePerSeatCents)
		assert.Equal(t, time.Duration(0), cfg.Pricing.CacheTTL())
		assert.DirExists(t, filepath.Join(dir, "db"))
	})

	t.Run("explicit zero discount", func(t *testing.T) {
		path := writeFile(t, dir, "zero.yaml", `
database:
  path: `+filepath.Join(dir, "zero.db")+`
seating:
  subscriber_discount_percent: 0
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 0, cfg.Seating.SubscriberDiscount())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("broken yaml", func(t *testing.T) {
		path := writeFile(t, dir, "broken.yaml", "database: [")
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestTablesConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"empty", "tables: []", "no tables defined"},
		{"bad id", "tables:\n  - {id: 0, seats: 2}", "table[0]: id must be positive"},
		{"duplicate id", "tables:\n  - {id: 1, seats: 2}\n  - {id: 1, seats: 4}", "table[1]: duplicate id 1"},
		{"bad seats", "tables:\n  - {id: 1, seats: 0}", "table[0]: seats must be positive"},
		{"duplicate name", "tables:\n  - {id: 1, name: A, seats: 2}\n  - {id: 2, name: A, seats: 4}", "duplicate name"},
	}

	dir := t.TempDir()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name+".yaml", tt.body)
			_, err := LoadTablesConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadTablesConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tables.yaml", `
tables:
  - {id: 1, seats: 2}
  - {id: 2, name: Window, seats: 4}
  - {id: 3, seats: 6, is_active: false}
`)
	cfg, err := LoadTablesConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Tables, 3)
	assert.Equal(t, "T1", cfg.Tables[0].Name)
	assert.Equal(t, "Window", cfg.GetTableByID(2).Name)
	assert.Nil(t, cfg.GetTableByID(9))
	assert.True(t, cfg.Tables[0].Active())
	assert.False(t, cfg.Tables[2].Active())
	assert.Equal(t, 6, cfg.TotalSeats())
	assert.Contains(t, cfg.String(), "3 tables (2 active)")
}

func TestWatchTables(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "tables.yaml", "tables:\n  - {id: 1, seats: 2}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []int
	)
	logger := zerolog.Nop()
	err := WatchTables(ctx, path, &logger, func(cfg *TablesConfig) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, len(cfg.Tables))
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("tables:\n  - {id: 1, seats: 2}\n  - {id: 2, seats: 4}\n"), 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 2 && seen[len(seen)-1] == 2
	}, 3*time.Second, 50*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, seen[0], "initial load happens before watching")
	mu.Unlock()
}
