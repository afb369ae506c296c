package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 10.0, cfg.MessageRate)
	assert.Equal(t, 0.3, cfg.ActiveEventProbability)
	assert.Equal(t, 0.05, cfg.RandomNoiseProbability)
	assert.Equal(t, 0.3, cfg.JitterProbability)
	assert.Equal(t, 10, cfg.DedupWindow)
	assert.Equal(t, 5, cfg.DedupRetries)
	assert.Equal(t, 100, cfg.HistoryPerID)
	assert.Equal(t, 200, cfg.HistoryGlobal)
	assert.Equal(t, 2*time.Second, cfg.CalibrationBaseline)
	assert.Equal(t, 10*time.Millisecond, cfg.CalibrationPoll)
	assert.Equal(t, 5*time.Second, cfg.CalibrationWindow)
	assert.Equal(t, time.Second, cfg.PlaybackStopTimeout)
	assert.Equal(t, 5000, cfg.APIPort)
	assert.Equal(t, "can_frames", cfg.ClickHouseTable)
	assert.Equal(t, 10*time.Second, cfg.StatsInterval)
	assert.False(t, cfg.RedisEnabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# simulator settings
MESSAGE_RATE=25
JITTER_PROBABILITY=0.5
CALIBRATION_WINDOW=8s
REDIS_ENABLED=true
REDIS_URL="redis://cache:6379/1"
API_PORT=8080
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 25.0, cfg.MessageRate)
	assert.Equal(t, 0.5, cfg.JitterProbability)
	assert.Equal(t, 8*time.Second, cfg.CalibrationWindow)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, 8080, cfg.APIPort)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("API_PORT=8080\n"), 0o644))
	t.Setenv("API_PORT", "9090")
	t.Setenv("DEVELOPMENT_MODE", "true")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.APIPort)
	assert.True(t, cfg.DevelopmentMode)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rate", func(c *Config) { c.MessageRate = 0 }},
		{"probability above one", func(c *Config) { c.JitterProbability = 1.5 }},
		{"negative probability", func(c *Config) { c.ActiveEventProbability = -0.1 }},
		{"port out of range", func(c *Config) { c.APIPort = 70000 }},
		{"empty window", func(c *Config) { c.CalibrationWindow = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
