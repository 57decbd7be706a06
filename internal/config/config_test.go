package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, 20, cfg.Game.GridCols)
	assert.Equal(t, 5, cfg.Game.MaxPlayers)
	assert.Equal(t, 15*time.Second, cfg.Events.CheckInterval)
	assert.Equal(t, 40*time.Second, cfg.Events.EffectTick)
	assert.Equal(t, 50*time.Millisecond, cfg.Broadcast.ThrottleInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown environment", func(c *Config) { c.Environment = "staging" }},
		{"missing section", func(c *Config) { c.Game = nil }},
		{"bad port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"pong wait below ping", func(c *Config) { c.WebSocket.PongWait = c.WebSocket.PingInterval }},
		{"empty database path", func(c *Config) { c.Database.DatabasePath = "" }},
		{"zero grid", func(c *Config) { c.Game.GridRows = 0 }},
		{"zero players", func(c *Config) { c.Game.MaxPlayers = 0 }},
		{"zero event tick", func(c *Config) { c.Events.EffectTick = 0 }},
		{"zero mission cap", func(c *Config) { c.Missions.MaxActive = 0 }},
		{"zero throttle", func(c *Config) { c.Broadcast.ThrottleInterval = 0 }},
		{"limit without window", func(c *Config) { c.RateLimit.Window = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("rate limit disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RateLimit.Messages = 0
		cfg.RateLimit.Window = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HABITAT_ENVIRONMENT", "development")
	t.Setenv("HABITAT_HTTP_PORT", "9090")
	t.Setenv("HABITAT_DATABASE_PATH", "/tmp/habitat-test.db")
	t.Setenv("HABITAT_EVENTS_EFFECT_TICK", "5s")
	t.Setenv("HABITAT_WEBSOCKET_ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("HABITAT_GAME_SEED", "42")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "/tmp/habitat-test.db", cfg.Database.DatabasePath)
	assert.Equal(t, 5*time.Second, cfg.Events.EffectTick)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.WebSocket.AllowedOrigins)
	assert.Equal(t, uint64(42), cfg.Game.Seed)
	assert.Equal(t, 15*time.Second, cfg.Events.CheckInterval)
}

func TestLoadFromEnvRejectsMalformedValue(t *testing.T) {
	t.Setenv("HABITAT_HTTP_PORT", "not-a-port")

	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		path := writeFile(t, "habitat.yaml", `
http:
  port: 9191
game:
  max_players: 4
  mask_path: ./mask.png
events:
  check_interval: 5s
log:
  level: debug
  console: true
`)
		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, 9191, cfg.HTTP.Port)
		assert.Equal(t, 4, cfg.Game.MaxPlayers)
		assert.Equal(t, "./mask.png", cfg.Game.MaskPath)
		assert.Equal(t, 5*time.Second, cfg.Events.CheckInterval)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.True(t, cfg.Log.Console)
		assert.Equal(t, 20, cfg.Game.GridCols)
	})

	t.Run("json", func(t *testing.T) {
		path := writeFile(t, "habitat.json", `{"database": {"database_path": "/tmp/file.db"}, "rate_limit": {"messages": 10}}`)
		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "/tmp/file.db", cfg.Database.DatabasePath)
		assert.Equal(t, 10, cfg.RateLimit.Messages)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := writeFile(t, "habitat.json", `{"http": {"port": 0}}`)
		_, err := LoadFromFile(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestLoadConfigWithPrecedence(t *testing.T) {
	t.Setenv("HABITAT_HTTP_PORT", "9090")
	t.Setenv("HABITAT_LOG_LEVEL", "warn")
	path := writeFile(t, "habitat.toml", `
[http]
port = 9292
`)

	cfg, err := LoadConfigWithPrecedence(path)
	require.NoError(t, err)
	assert.Equal(t, 9292, cfg.HTTP.Port, "file overrides env")
	assert.Equal(t, "warn", cfg.Log.Level, "env overrides defaults")

	cfg, err = LoadConfigWithPrecedence("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)

	_, err = LoadConfigWithPrecedence(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
