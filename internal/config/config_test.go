package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"codeberg.org/mutker/circulatord/internal/config"
	"codeberg.org/mutker/circulatord/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	configContent := []byte(`
log_level = "debug"
monitor = true

[rooms]
monitored = ["kitchen", "office"]
priority = "kitchen"

[cycle]
run_minutes = 10
cooldown_minutes = 30
elevated_run_minutes = 25
elevated_cooldown_minutes = 20
daily_cap_seconds = 14400

[checkpoint]
path = "/tmp/circulatord/checkpoint.json"

[ledger]
enabled = true
database = "/tmp/circulatord/ledger.db"

[mqtt]
broker = "tcp://broker.local:1883"
client_id = "circulatord-test"
topic_prefix = "home/circulator"
`)
	configPath := filepath.Join(t.TempDir(), "circulatord.toml")
	require.NoError(t, os.WriteFile(configPath, configContent, 0o600))

	t.Setenv("CIRCULATORD_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Monitor)
	assert.Equal(t, []string{"kitchen", "office"}, cfg.Rooms.Monitored)
	assert.Equal(t, "kitchen", cfg.Rooms.Priority)
	assert.Equal(t, 10, cfg.Cycle.RunMinutes)
	assert.Equal(t, 30, cfg.Cycle.CooldownMinutes)
	assert.Equal(t, 25, cfg.Cycle.ElevatedRunMinutes)
	assert.Equal(t, 20, cfg.Cycle.ElevatedCooldownMinutes)
	assert.Equal(t, 14400, cfg.Cycle.DailyCapSeconds)
	assert.Equal(t, "/tmp/circulatord/checkpoint.json", cfg.Checkpoint.Path)
	assert.True(t, cfg.Ledger.Enabled)
	assert.Equal(t, "/tmp/circulatord/ledger.db", cfg.Ledger.Database)
	assert.Equal(t, "tcp://broker.local:1883", cfg.MQTT.Broker)
	assert.Equal(t, "circulatord-test", cfg.MQTT.ClientID)
	assert.Equal(t, "home/circulator", cfg.MQTT.TopicPrefix)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CIRCULATORD_CONFIG", "")

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.False(t, cfg.Monitor)
	assert.Equal(t, []string{"kitchen", "living_room", "hallway", "bathroom"}, cfg.Rooms.Monitored)
	assert.Equal(t, "kitchen", cfg.Rooms.Priority)
	assert.Equal(t, 15, cfg.Cycle.RunMinutes)
	assert.Equal(t, 45, cfg.Cycle.CooldownMinutes)
	assert.Equal(t, 20, cfg.Cycle.ElevatedRunMinutes)
	assert.Equal(t, 25, cfg.Cycle.ElevatedCooldownMinutes)
	assert.Equal(t, 28800, cfg.Cycle.DailyCapSeconds)
	assert.True(t, cfg.Ledger.Enabled)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configContent := []byte(`
This is not a valid TOML file
`)
	configPath := filepath.Join(t.TempDir(), "circulatord.toml")
	require.NoError(t, os.WriteFile(configPath, configContent, 0o600))

	t.Setenv("CIRCULATORD_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to read config file")
}

func TestInvalidLogLevel(t *testing.T) {
	configContent := []byte(`
log_level = "invalid"
`)
	configPath := filepath.Join(t.TempDir(), "circulatord.toml")
	require.NoError(t, os.WriteFile(configPath, configContent, 0o600))

	t.Setenv("CIRCULATORD_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestPriorityRoomMustBeMonitored(t *testing.T) {
	configContent := []byte(`
[rooms]
monitored = ["office"]
priority = "kitchen"
`)
	configPath := filepath.Join(t.TempDir(), "circulatord.toml")
	require.NoError(t, os.WriteFile(configPath, configContent, 0o600))

	t.Setenv("CIRCULATORD_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priority room is not monitored")
}

func TestDurationHelpers(t *testing.T) {
	cfg := config.CycleConfig{
		RunMinutes:              15,
		CooldownMinutes:         45,
		ElevatedRunMinutes:      20,
		ElevatedCooldownMinutes: 25,
	}

	assert.Equal(t, "15m0s", cfg.RunDuration(false).String())
	assert.Equal(t, "45m0s", cfg.CooldownDuration(false).String())
	assert.Equal(t, "20m0s", cfg.RunDuration(true).String())
	assert.Equal(t, "25m0s", cfg.CooldownDuration(true).String())
}
