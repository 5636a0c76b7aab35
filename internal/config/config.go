package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/robdel12/orbitdock/pkg/types"
)

// Env names the process environment variables the daemon gives meaning to.
const (
	EnvHome                  = "HOME"
	EnvReasoningBin          = "ORBITDOCK_REASONING_BIN"
	EnvShellBin              = "ORBITDOCK_SHELL_BIN"
	EnvReasoningSessionsDir  = "ORBITDOCK_REASONING_SESSIONS_DIR"
	EnvShellSessionsDir      = "ORBITDOCK_SHELL_SESSIONS_DIR"
	EnvDisableRolloutWatcher = "ORBITDOCK_DISABLE_ROLLOUT_WATCHER"
	EnvLogLevel              = "ORBITDOCK_LOG_LEVEL"
)

// Load builds the process config: defaults, overlaid by ~/.orbitdock/config.yaml
// if present, overlaid by environment variables (highest precedence).
func Load(home string) (*types.Config, error) {
	_ = godotenv.Load() // optional .env for local development; ignored if absent

	cfg := types.DefaultConfig()
	if cfg.Port == 0 {
		cfg.Port = 4096
	}

	paths := GetPaths(home)
	if data, err := os.ReadFile(paths.ConfigFile); err == nil {
		if yerr := yaml.Unmarshal(data, cfg); yerr != nil {
			log.Warn().Err(yerr).Str("path", paths.ConfigFile).Msg("failed to parse config file, using defaults")
		}
	}

	cfg.ReasoningBin = os.Getenv(EnvReasoningBin)
	cfg.ShellBin = os.Getenv(EnvShellBin)
	cfg.DisableRolloutWatcher = os.Getenv(EnvDisableRolloutWatcher) == "1"

	cfg.ReasoningSessionsDir = os.Getenv(EnvReasoningSessionsDir)
	if cfg.ReasoningSessionsDir == "" {
		cfg.ReasoningSessionsDir = filepath.Join(paths.Root, "reasoning-sessions")
	}
	cfg.ShellSessionsDir = os.Getenv(EnvShellSessionsDir)
	if cfg.ShellSessionsDir == "" {
		cfg.ShellSessionsDir = filepath.Join(paths.Root, "shell-sessions")
	}

	return cfg, nil
}

// ResolveHome returns $HOME, falling back to os.UserHomeDir.
func ResolveHome() string {
	if h := os.Getenv(EnvHome); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}
