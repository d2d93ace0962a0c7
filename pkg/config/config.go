// Package config loads the server configuration from YAML with environment
// overrides, plus the persona definitions agents are built from.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"salon/pkg/proto"
)

// Environment variable names.
const (
	EnvAPIKey       = "ANTHROPIC_API_KEY"
	EnvPort         = "SALON_PORT"
	EnvDataDir      = "SALON_DATA_DIR"
	EnvWorkspaceDir = "SALON_WORKSPACE_DIR"
	EnvSharedDir    = "SALON_SHARED_DIR"
	EnvLogDir       = "SALON_LOG_DIR"
)

// envVarRegex matches ${VAR} placeholders inside the YAML file.
var envVarRegex = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

// Config is the full server configuration.
type Config struct {
	Port         int    `yaml:"port"`
	APIKey       string `yaml:"api_key"`
	DataDir      string `yaml:"data_dir"`
	WorkspaceDir string `yaml:"workspace_dir"`
	SharedDir    string `yaml:"shared_dir"`
	LogDir       string `yaml:"log_dir"`
	PersonasDir  string `yaml:"personas_dir"`

	Workers          int           `yaml:"workers"`
	SchedulerTick    time.Duration `yaml:"scheduler_tick"`
	RoomTickInterval time.Duration `yaml:"room_tick_interval"`

	ResponderThreshold float64       `yaml:"responder_threshold"`
	ResponderFanOut    int           `yaml:"responder_fan_out"`
	ContextWindow      int           `yaml:"context_window"`
	ResponseTimeout    time.Duration `yaml:"response_timeout"`
	MaxToolCalls       int           `yaml:"max_tool_calls"`
	MaxAttempts        int           `yaml:"max_attempts"`
	MaxTokens          int           `yaml:"max_tokens"`
	MaxContextTokens   int           `yaml:"max_context_tokens"`

	Rooms []proto.RoomConfig `yaml:"rooms"`
}

// Load reads the YAML file at path, substitutes ${VAR} placeholders, applies
// environment overrides and defaults, and validates. An empty path yields a
// config built from environment and defaults alone.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
			if value := os.Getenv(match[2 : len(match)-1]); value != "" {
				return value
			}
			return match
		})
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvWorkspaceDir); v != "" {
		cfg.WorkspaceDir = v
	}
	if v := os.Getenv(EnvSharedDir); v != "" {
		cfg.SharedDir = v
	}
	if v := os.Getenv(EnvLogDir); v != "" {
		cfg.LogDir = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 8888
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = "./workspaces"
	}
	if cfg.SharedDir == "" {
		cfg.SharedDir = "./shared"
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "./logs"
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.SchedulerTick == 0 {
		cfg.SchedulerTick = 100 * time.Millisecond
	}
	if cfg.RoomTickInterval == 0 {
		cfg.RoomTickInterval = 5 * time.Second
	}
	if cfg.ResponderThreshold == 0 {
		cfg.ResponderThreshold = 0.3
	}
	if cfg.ResponderFanOut == 0 {
		cfg.ResponderFanOut = 3
	}
	if cfg.ContextWindow == 0 {
		cfg.ContextWindow = 20
	}
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = 30 * time.Second
	}
	if cfg.MaxToolCalls == 0 {
		cfg.MaxToolCalls = 50
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.MaxContextTokens == 0 {
		cfg.MaxContextTokens = 4096
	}
}

func validate(cfg *Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("missing API key: set %s", EnvAPIKey)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.ResponderThreshold < 0 || cfg.ResponderThreshold > 1 {
		return fmt.Errorf("responder_threshold must be in [0,1], got %v", cfg.ResponderThreshold)
	}
	for i := range cfg.Rooms {
		if cfg.Rooms[i].ID == "" || cfg.Rooms[i].Name == "" {
			return fmt.Errorf("room %d needs both id and name", i)
		}
	}
	return nil
}
