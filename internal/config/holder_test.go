package config

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolder_UpdateSwapsConfig(t *testing.T) {
	cfg1 := DefaultConfig()
	h := NewHolder(cfg1, "/etc/threadwatch/config.toml")

	require.Same(t, cfg1, h.Config())
	assert.Equal(t, "/etc/threadwatch/config.toml", h.Path())

	cfg2 := DefaultConfig()
	cfg2.RefreshInterval = "5m"
	cfg2.WifiOnly = true

	h.Update(cfg2)

	assert.Same(t, cfg2, h.Config())
	assert.Equal(t, 5*time.Minute, h.Preferences().RefreshInterval)
	assert.True(t, h.Preferences().WifiOnly)
	assert.Equal(t, "15m", cfg1.RefreshInterval, "old snapshot untouched")
}

func TestHolder_SourceLookups(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sources = []Source{
		{Name: "alpha", BaseURL: "https://a.example", Watch: true},
		{Name: "beta", BaseURL: "https://b.example", Watch: false},
	}

	h := NewHolder(cfg, "")

	assert.True(t, h.SourceWatchable("alpha"))
	assert.False(t, h.SourceWatchable("beta"), "source without watch support")
	assert.False(t, h.SourceWatchable("gamma"), "unknown source")

	src, ok := h.SourceByName("beta")
	require.True(t, ok)
	assert.Equal(t, "https://b.example", src.BaseURL)

	_, ok = h.SourceByName("gamma")
	assert.False(t, ok)
}

func TestHolder_ConcurrentAccess(t *testing.T) {
	h := NewHolder(DefaultConfig(), "")

	var wg sync.WaitGroup

	for i := range 8 {
		wg.Add(2)

		go func() {
			defer wg.Done()

			cfg := DefaultConfig()
			cfg.BackgroundWorkers = i + 1
			h.Update(cfg)
		}()

		go func() {
			defer wg.Done()
			_ = h.Preferences()
		}()
	}

	wg.Wait()

	assert.NotZero(t, h.Config().BackgroundWorkers)
}

func TestPreferences_ParsesDurations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForegroundInterval = "30s"
	cfg.BackgroundFloor = "bogus"

	p := cfg.Preferences()

	assert.Equal(t, 15*time.Minute, p.RefreshInterval)
	assert.Equal(t, 30*time.Second, p.ForegroundInterval)
	assert.Equal(t, 10*time.Minute, p.BackgroundFloor, "unparsable value falls back to default")
	assert.Equal(t, 2, p.PriorityWorkers)
	assert.Equal(t, 3, p.BackgroundWorkers)
	assert.Equal(t, 64, p.ResolveBatchSize)

	connect, data := cfg.Timeouts()
	assert.Equal(t, 10*time.Second, connect)
	assert.Equal(t, 30*time.Second, data)
	assert.Equal(t, 720*time.Hour, cfg.PruneAge())
}

func TestStatePaths_UseStateDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateDir = "/srv/tw"

	assert.Equal(t, "/srv/tw/state.db", StatePath(cfg))
	assert.Equal(t, "/srv/tw/threadwatch.pid", PIDPath(cfg))
}

func TestXDGDir(t *testing.T) {
	t.Setenv("XDG_TEST_HOME", "/xdg")
	assert.Equal(t, "/xdg/threadwatch", xdgDir("XDG_TEST_HOME", "/home/u", ".config"))

	t.Setenv("XDG_TEST_HOME", "")
	assert.Equal(t, "/home/u/.config/threadwatch", xdgDir("XDG_TEST_HOME", "/home/u", ".config"))
}
