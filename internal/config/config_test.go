package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/wrenware/roverd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadWithArgs(t *testing.T, args ...string) (*config.Config, error) {
	t.Helper()

	oldArgs := os.Args
	os.Args = append([]string{"roverd"}, args...)
	t.Cleanup(func() { os.Args = oldArgs })

	return config.Load()
}

func TestLoad(t *testing.T) {
	configContent := []byte(`
interval = 5
verbose = true

[sensor]
trig_pin = "GPIO23"
echo_pin = "GPIO25"
detection_distance = 30

[detection]
square_size = 80
confidence_threshold = 10.0

[indicator]
high_confidence = 60.0

[log]
path = "/tmp/roverd-test.db"
max_entries = 200
`)
	configPath := filepath.Join(t.TempDir(), "roverd.toml")
	require.NoError(t, os.WriteFile(configPath, configContent, 0o600))

	t.Setenv("ROVERD_CONFIG", configPath)

	cfg, err := loadWithArgs(t)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Interval)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "GPIO23", cfg.Sensor.TrigPin)
	assert.Equal(t, "GPIO25", cfg.Sensor.EchoPin)
	assert.Equal(t, 30, cfg.Sensor.DetectionDistance)
	assert.Equal(t, 80, cfg.Detection.SquareSize)
	assert.InDelta(t, 10.0, cfg.Detection.ConfidenceThreshold, 0.001)
	assert.InDelta(t, 60.0, cfg.Indicator.HighConfidence, 0.001)
	assert.Equal(t, "/tmp/roverd-test.db", cfg.Log.Path)
	assert.Equal(t, 200, cfg.Log.MaxEntries)
	// Unset sections keep their defaults.
	assert.Equal(t, 640, cfg.Camera.Width)
	assert.Equal(t, 1000, cfg.Sensor.EchoTimeoutMS)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ROVERD_CONFIG", "")

	cfg, err := loadWithArgs(t)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Interval)
	assert.False(t, cfg.Debug)
	assert.Equal(t, "GPIO18", cfg.Sensor.TrigPin)
	assert.Equal(t, "GPIO24", cfg.Sensor.EchoPin)
	assert.Equal(t, 50, cfg.Sensor.DetectionDistance)
	assert.Equal(t, 2, cfg.Sensor.MinDistance)
	assert.Equal(t, 400, cfg.Sensor.MaxDistance)
	assert.Equal(t, 100, cfg.Detection.SquareSize)
	assert.InDelta(t, 5.0, cfg.Detection.ConfidenceThreshold, 0.001)
	assert.InDelta(t, 50.0, cfg.Indicator.HighConfidence, 0.001)
	assert.Equal(t, 1000, cfg.Log.MaxEntries)
	assert.Equal(t, "GPIO21", cfg.Indicator.Pins["status"])
}

func TestLoadInvalidFormat(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "roverd.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("this is not TOML"), 0o600))

	t.Setenv("ROVERD_CONFIG", configPath)

	_, err := loadWithArgs(t)
	require.Error(t, err)
}

func TestLoadInvalidInterval(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "roverd.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("interval = 0\n"), 0o600))

	t.Setenv("ROVERD_CONFIG", configPath)

	_, err := loadWithArgs(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval")
}

func TestLoadFlagOverride(t *testing.T) {
	t.Setenv("ROVERD_CONFIG", "")

	cfg, err := loadWithArgs(t, "--interval", "7", "--debug")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Interval)
	assert.True(t, cfg.Debug)
}

func TestValidateRejectsEmptyPlausibleRange(t *testing.T) {
	t.Setenv("ROVERD_CONFIG", "")

	cfg, err := loadWithArgs(t)
	require.NoError(t, err)

	cfg.Sensor.MinDistance = 400
	cfg.Sensor.MaxDistance = 2
	require.Error(t, cfg.Validate())
}
