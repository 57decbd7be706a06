// Package config loads server settings from defaults, HABITAT_* environment
// variables and an optional JSON, YAML or TOML file, in that order.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	dbconfig "habitat/pkg/database"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "HABITAT_"

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	Environment string           `json:"environment" mapstructure:"environment" env:"ENVIRONMENT"`
	HTTP        *HTTPConfig      `json:"http" mapstructure:"http" envPrefix:"HTTP_"`
	WebSocket   *WebSocketConfig `json:"websocket" mapstructure:"websocket" envPrefix:"WEBSOCKET_"`
	Database    *dbconfig.Config `json:"database" mapstructure:"database" envPrefix:"DATABASE_"`
	Game        *GameConfig      `json:"game" mapstructure:"game" envPrefix:"GAME_"`
	Events      *EventsConfig    `json:"events" mapstructure:"events" envPrefix:"EVENTS_"`
	Missions    *MissionsConfig  `json:"missions" mapstructure:"missions" envPrefix:"MISSIONS_"`
	Broadcast   *BroadcastConfig `json:"broadcast" mapstructure:"broadcast" envPrefix:"BROADCAST_"`
	RateLimit   *RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Log         *LogConfig       `json:"log" mapstructure:"log" envPrefix:"LOG_"`
}

type HTTPConfig struct {
	Host            string        `json:"host" mapstructure:"host" env:"HOST"`
	Port            int           `json:"port" mapstructure:"port" env:"PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type WebSocketConfig struct {
	AllowedOrigins []string      `json:"allowed_origins" mapstructure:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	PingInterval   time.Duration `json:"ping_interval" mapstructure:"ping_interval" env:"PING_INTERVAL"`
	PongWait       time.Duration `json:"pong_wait" mapstructure:"pong_wait" env:"PONG_WAIT"`
	ReadLimit      int64         `json:"read_limit" mapstructure:"read_limit" env:"READ_LIMIT"`
	MessageBuffer  int           `json:"message_buffer" mapstructure:"message_buffer" env:"MESSAGE_BUFFER"`
}

// GameConfig sizes sessions. MaskPath points at an optional PNG or text
// buildable-area mask; Seed zero draws a random seed at startup.
type GameConfig struct {
	GridCols    int    `json:"grid_cols" mapstructure:"grid_cols" env:"GRID_COLS"`
	GridRows    int    `json:"grid_rows" mapstructure:"grid_rows" env:"GRID_ROWS"`
	TileSize    int    `json:"tile_size" mapstructure:"tile_size" env:"TILE_SIZE"`
	MaxPlayers  int    `json:"max_players" mapstructure:"max_players" env:"MAX_PLAYERS"`
	ChatHistory int    `json:"chat_history" mapstructure:"chat_history" env:"CHAT_HISTORY"`
	UndoHistory int    `json:"undo_history" mapstructure:"undo_history" env:"UNDO_HISTORY"`
	MaskPath    string `json:"mask_path" mapstructure:"mask_path" env:"MASK_PATH"`
	Seed        uint64 `json:"seed" mapstructure:"seed" env:"SEED"`
}

type EventsConfig struct {
	CheckInterval time.Duration `json:"check_interval" mapstructure:"check_interval" env:"CHECK_INTERVAL"`
	MinSpacing    time.Duration `json:"min_spacing" mapstructure:"min_spacing" env:"MIN_SPACING"`
	MaxActive     int           `json:"max_active" mapstructure:"max_active" env:"MAX_ACTIVE"`
	EffectTick    time.Duration `json:"effect_tick" mapstructure:"effect_tick" env:"EFFECT_TICK"`
}

type MissionsConfig struct {
	ProgressTick   time.Duration `json:"progress_tick" mapstructure:"progress_tick" env:"PROGRESS_TICK"`
	ReplenishDelay time.Duration `json:"replenish_delay" mapstructure:"replenish_delay" env:"REPLENISH_DELAY"`
	MaxActive      int           `json:"max_active" mapstructure:"max_active" env:"MAX_ACTIVE"`
}

type BroadcastConfig struct {
	ThrottleInterval time.Duration `json:"throttle_interval" mapstructure:"throttle_interval" env:"THROTTLE_INTERVAL"`
}

// RateLimitConfig bounds inbound commands per connection. Zero disables it.
type RateLimitConfig struct {
	Messages int           `json:"messages" mapstructure:"messages" env:"MESSAGES"`
	Window   time.Duration `json:"window" mapstructure:"window" env:"WINDOW"`
}

type LogConfig struct {
	Level   string `json:"level" mapstructure:"level" env:"LEVEL"`
	Console bool   `json:"console" mapstructure:"console" env:"CONSOLE"`
}

func DefaultConfig() *Config {
	return &Config{
		Environment: EnvProduction,
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:  30 * time.Second,
			PongWait:      60 * time.Second,
			ReadLimit:     64 * 1024,
			MessageBuffer: 1000,
		},
		Database: dbconfig.DefaultConfig(),
		Game: &GameConfig{
			GridCols:    20,
			GridRows:    20,
			TileSize:    32,
			MaxPlayers:  5,
			ChatHistory: 100,
			UndoHistory: 50,
		},
		Events: &EventsConfig{
			CheckInterval: 15 * time.Second,
			MinSpacing:    20 * time.Second,
			MaxActive:     2,
			EffectTick:    40 * time.Second,
		},
		Missions: &MissionsConfig{
			ProgressTick:   time.Second,
			ReplenishDelay: 30 * time.Second,
			MaxActive:      10,
		},
		Broadcast: &BroadcastConfig{
			ThrottleInterval: 50 * time.Millisecond,
		},
		RateLimit: &RateLimitConfig{
			Messages: 100,
			Window:   time.Minute,
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// IsDevelopment reports whether development-only commands such as
// event:force are enabled.
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

func (c *Config) Validate() error {
	if c.Environment != EnvProduction && c.Environment != EnvDevelopment {
		return fmt.Errorf("environment must be %q or %q, got %q", EnvProduction, EnvDevelopment, c.Environment)
	}
	if c.HTTP == nil || c.WebSocket == nil || c.Database == nil || c.Game == nil ||
		c.Events == nil || c.Missions == nil || c.Broadcast == nil || c.RateLimit == nil || c.Log == nil {
		return errors.New("every configuration section is required")
	}

	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return errors.New("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		return errors.New("WebSocket pong wait must exceed the ping interval")
	}
	if c.WebSocket.MessageBuffer <= 0 {
		return errors.New("WebSocket message buffer must be positive")
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.Game.GridCols <= 0 || c.Game.GridRows <= 0 || c.Game.TileSize <= 0 {
		return errors.New("game grid dimensions must be positive")
	}
	if c.Game.MaxPlayers <= 0 {
		return errors.New("game max players must be positive")
	}
	if c.Game.ChatHistory < 0 || c.Game.UndoHistory < 0 {
		return errors.New("game history sizes cannot be negative")
	}

	if c.Events.CheckInterval <= 0 || c.Events.EffectTick <= 0 {
		return errors.New("event intervals must be positive")
	}
	if c.Events.MinSpacing < 0 {
		return errors.New("event spacing cannot be negative")
	}
	if c.Events.MaxActive <= 0 {
		return errors.New("event max active must be positive")
	}

	if c.Missions.ProgressTick <= 0 || c.Missions.ReplenishDelay <= 0 {
		return errors.New("mission intervals must be positive")
	}
	if c.Missions.MaxActive <= 0 {
		return errors.New("mission max active must be positive")
	}

	if c.Broadcast.ThrottleInterval <= 0 {
		return errors.New("broadcast throttle interval must be positive")
	}
	if c.RateLimit.Messages < 0 {
		return errors.New("rate limit cannot be negative")
	}
	if c.RateLimit.Messages > 0 && c.RateLimit.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	return nil
}

// LoadFromEnv applies HABITAT_* overrides to the defaults.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadFromFile reads the file over the defaults. The format follows the
// extension.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error decoding config file: %w", err)
	}
	return nil
}

// LoadConfigWithPrecedence layers defaults, then the environment, then the
// file when path is not empty, and validates the result.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
