package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is the project-local settings file discovered by walking
// up from the working directory.
const LocalConfigName = ".sweep-orch.toml"

// Config holds all tool-level configuration. Domain input (the hierarchy
// of cases to sweep) lives in the per-invocation YAML file, not here.
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Solver        SolverConfig        `toml:"solver"`
	HPC           HPCConfig           `toml:"hpc"`
	Pool          PoolConfig          `toml:"pool"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	MaxWorkers   int    `toml:"max_workers"`
	DatabasePath string `toml:"database_path"`
}

// SolverConfig holds the external solver invocation settings
type SolverConfig struct {
	Command        string `toml:"command"`
	MPIRun         string `toml:"mpirun"`
	DefaultProcs   int    `toml:"default_procs"`
	TimeoutMinutes int    `toml:"timeout_minutes"`
}

// HPCConfig holds batch-scheduler interaction settings
type HPCConfig struct {
	SubmitCmd   string `toml:"submit_cmd"`
	QueryCmd    string `toml:"query_cmd"`
	PollSeconds int    `toml:"poll_seconds"`
}

// PoolConfig holds compute-pool coordinator settings
type PoolConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop       bool   `toml:"desktop"`
	SlackWebhook  string `toml:"slack_webhook"`
	PointFailures bool   `toml:"point_failures"`
}

// WebConfig holds status server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			MaxWorkers:   2,
			DatabasePath: filepath.Join(home, ".sweep-orch", "history.db"),
		},
		Solver: SolverConfig{
			MPIRun:         "mpirun",
			DefaultProcs:   1,
			TimeoutMinutes: 120,
		},
		HPC: HPCConfig{
			SubmitCmd:   "sbatch",
			QueryCmd:    "sacct",
			PollSeconds: 30,
		},
		Pool: PoolConfig{
			Host: "0.0.0.0",
			Port: 8081,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.Solver.Command = ExpandPath(cfg.Solver.Command)

	return cfg, nil
}

// LoadWithLocalFallback loads the explicit path if given, otherwise a
// project-local config found by walking up, otherwise the default path.
func LoadWithLocalFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig walks up from the working directory looking for a
// project-local config file. Returns "" if none is found.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "sweep-orch", "config.toml")
}
