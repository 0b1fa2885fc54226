// Package config provides property-based tests for configuration fallback functionality.
// These tests verify universal properties that should hold across all valid inputs.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProperty_InvalidDurationsFallBackToDefault tests that non-positive durations fall back to defaults
func TestProperty_InvalidDurationsFallBackToDefault(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	poolDefaults := DefaultPoolConfig()
	notifierDefaults := DefaultNotifierConfig()

	properties.Property("non-positive pool and notifier durations fall back to default", prop.ForAll(
		func(seconds int) bool {
			d := time.Duration(seconds) * time.Second
			cfg := &Config{
				Pool:     PoolConfig{MinWarmWorkers: 1, MaxWarmWorkers: 3, Interval: d, StoppedTTL: d, KickTTL: d},
				Notifier: NotifierConfig{Timeout: d, PollInterval: d},
			}

			validateAndApplyDefaults(cfg)

			return cfg.Pool.Interval == poolDefaults.Interval &&
				cfg.Pool.StoppedTTL == poolDefaults.StoppedTTL &&
				cfg.Pool.KickTTL == poolDefaults.KickTTL &&
				cfg.Notifier.Timeout == notifierDefaults.Timeout &&
				cfg.Notifier.PollInterval == notifierDefaults.PollInterval
		},
		gen.IntRange(-1000, 0),
	))

	properties.TestingRun(t)
}

// TestProperty_ValidBoundsArePreserved tests that explicit bounds are never rewritten
func TestProperty_ValidBoundsArePreserved(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("min/max survive defaulting and pass validation", prop.ForAll(
		func(min, extra int) bool {
			cfg := &Config{Pool: PoolConfig{MinWarmWorkers: min, MaxWarmWorkers: min + extra}}
			if min == 0 && extra == 0 {
				return true
			}

			validateAndApplyDefaults(cfg)

			return cfg.Pool.MinWarmWorkers == min &&
				cfg.Pool.MaxWarmWorkers == min+extra &&
				cfg.Validate() == nil
		},
		gen.IntRange(0, 50),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}

func TestValidate_RejectsInvertedBounds(t *testing.T) {
	cfg := &Config{Pool: PoolConfig{MinWarmWorkers: 5, MaxWarmWorkers: 2}}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Pool: PoolConfig{MinWarmWorkers: -1, MaxWarmWorkers: 2}}
	assert.Error(t, cfg.Validate())
}

func TestLoad_ReadsFileAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
pool:
  min_warm_workers: 3
  max_warm_workers: 6
  interval: 30s
notifier:
  webhook_url: http://example.invalid/hook
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Pool.MinWarmWorkers)
	assert.Equal(t, 6, cfg.Pool.MaxWarmWorkers)
	assert.Equal(t, 30*time.Second, cfg.Pool.Interval)
	assert.Equal(t, time.Hour, cfg.Pool.KickTTL)
	assert.Equal(t, 10*time.Second, cfg.Notifier.Timeout)
	assert.Equal(t, "vpool/workers", cfg.Notifier.MQTT.TopicPrefix)
	assert.Equal(t, "vp-", cfg.K8s.NamePrefix)
}

func TestLoad_EnvOverridesPoolBounds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  min_warm_workers: 1\n  max_warm_workers: 2\n"), 0644))

	t.Setenv("MIN_WARM_WORKERS", "4")
	t.Setenv("MAX_WARM_WORKERS", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Pool.MinWarmWorkers)
	assert.Equal(t, 8, cfg.Pool.MaxWarmWorkers)
}

func TestLoad_DefaultsWhenPoolOmitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  mode: release\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Pool.MinWarmWorkers)
	assert.Equal(t, 4, cfg.Pool.MaxWarmWorkers)
}
