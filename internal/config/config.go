// Package config loads orchestrator configuration from environment
// variables and an optional YAML file, in that order of precedence,
// following the teacher's viper-based config manager. No command-line
// flags are bound here.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every environment-tunable the orchestrator consumes.
type Config struct {
	BackendPort   int    `mapstructure:"backend_port"`
	WebSocketPort int    `mapstructure:"websocket_port"`
	FrontendPort  int    `mapstructure:"frontend_port"`

	GitHubPAT string `mapstructure:"github_pat"`

	DBOnly                      bool `mapstructure:"db_only"`
	DisableWebSocketNotifications bool `mapstructure:"disable_websocket_notifications"`

	DatabaseURL string `mapstructure:"database_url"`
	AgentsDir   string `mapstructure:"agents_dir"`
	SpecsDir    string `mapstructure:"specs_dir"`
	RepoRoot    string `mapstructure:"repo_root"`
	EnvFile     string `mapstructure:"env_file"`

	StuckThresholdMinutes int `mapstructure:"stuck_threshold_minutes"`
	SupervisorTickSeconds int `mapstructure:"supervisor_tick_seconds"`
	IdleReapSeconds       int `mapstructure:"idle_reap_seconds"`

	DebugMode bool `mapstructure:"debug"`
}

// Default returns the configuration's documented defaults, mirroring
// spec.md §6's environment variable defaults.
func Default() *Config {
	return &Config{
		BackendPort:           8002,
		WebSocketPort:         8500,
		FrontendPort:          0,
		DBOnly:                true,
		DatabaseURL:           "agents/state.db",
		AgentsDir:             "agents",
		SpecsDir:              "specs",
		RepoRoot:              ".",
		EnvFile:               ".env",
		StuckThresholdMinutes: 30,
		SupervisorTickSeconds: 30,
		IdleReapSeconds:       300,
	}
}

// Load reads configuration from (in increasing precedence) defaults,
// an optional YAML file at configPath, and environment variables.
// Every key is read from its upper-cased name with no prefix (e.g.
// DATABASE_URL, AGENTS_DIR, DB_ONLY); the names in spec.md §6
// (BACKEND_PORT, WEBSOCKET_PORT, GITHUB_PAT, ADW_DB_ONLY,
// DISABLE_WEBSOCKET_NOTIFICATIONS) are also bound explicitly.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	def := Default()

	v.SetDefault("backend_port", def.BackendPort)
	v.SetDefault("websocket_port", def.WebSocketPort)
	v.SetDefault("frontend_port", def.FrontendPort)
	v.SetDefault("db_only", def.DBOnly)
	v.SetDefault("database_url", def.DatabaseURL)
	v.SetDefault("agents_dir", def.AgentsDir)
	v.SetDefault("specs_dir", def.SpecsDir)
	v.SetDefault("repo_root", def.RepoRoot)
	v.SetDefault("env_file", def.EnvFile)
	v.SetDefault("stuck_threshold_minutes", def.StuckThresholdMinutes)
	v.SetDefault("supervisor_tick_seconds", def.SupervisorTickSeconds)
	v.SetDefault("idle_reap_seconds", def.IdleReapSeconds)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Bind the environment variable names spec.md §6 names explicitly.
	// AutomaticEnv already maps each key to its upper-cased name; the
	// explicit bindings add ADW_DB_ONLY as a name for db_only.
	_ = v.BindEnv("backend_port", "BACKEND_PORT")
	_ = v.BindEnv("websocket_port", "WEBSOCKET_PORT")
	_ = v.BindEnv("github_pat", "GITHUB_PAT")
	_ = v.BindEnv("db_only", "ADW_DB_ONLY")
	_ = v.BindEnv("disable_websocket_notifications", "DISABLE_WEBSOCKET_NOTIFICATIONS")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if !filepath.IsAbs(cfg.DatabaseURL) && cfg.RepoRoot != "" && cfg.RepoRoot != "." {
		cfg.DatabaseURL = filepath.Join(cfg.RepoRoot, cfg.DatabaseURL)
	}

	return cfg, nil
}

// WorkflowRoot returns the directory a given workflow's agents write
// their output into: <RepoRoot>/<AgentsDir>/<adwID>/.
func (c *Config) WorkflowRoot(adwID string) string {
	return filepath.Join(c.RepoRoot, c.AgentsDir, adwID)
}

// StateFilePath returns the path to a workflow's dual-write JSON
// mirror, agents/<adw_id>/adw_state.json.
func (c *Config) StateFilePath(adwID string) string {
	return filepath.Join(c.WorkflowRoot(adwID), "adw_state.json")
}
