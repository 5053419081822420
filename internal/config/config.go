// Package config resolves server settings from, in increasing precedence:
// built-in defaults, the session .env file, process environment, and the
// per-session config.json. Explicit tool arguments override everything and
// are applied by the callers.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix (e.g. CREWMUX_MAX_WORKERS).
const EnvPrefix = "CREWMUX"

// Defaults.
const (
	DefaultMCPDir     = "crewmux"
	DefaultMaxWorkers = 5
	DefaultAICli      = "claude"
	DefaultTmuxPrefix = "crewmux"

	DefaultHealthcheckIntervalSeconds     = 300
	DefaultHealthcheckStallTimeoutSeconds = 300
	DefaultHealthcheckMaxRecoveryAttempts = 3
	DefaultHealthcheckIdleStopConsecutive = 3

	DefaultCostWarningThresholdUSD = 10.0

	DefaultQualityCheckMaxIterations  = 3
	DefaultQualityCheckSameIssueLimit = 2

	DefaultExtraWindowRows = 2
	DefaultExtraWindowCols = 6
)

// Settings holds every recognized option after env/.env/defaults resolution.
// Session config.json overrides are applied by Resolve* helpers on top.
type Settings struct {
	MCPDir     string `mapstructure:"mcp_dir"`
	MaxWorkers int    `mapstructure:"max_workers"`
	TmuxPrefix string `mapstructure:"tmux_prefix"`
	EnableGit  bool   `mapstructure:"enable_git"`

	DefaultAICli string `mapstructure:"default_ai_cli"`

	HealthcheckIntervalSeconds     int `mapstructure:"healthcheck_interval_seconds"`
	HealthcheckStallTimeoutSeconds int `mapstructure:"healthcheck_stall_timeout_seconds"`
	HealthcheckMaxRecoveryAttempts int `mapstructure:"healthcheck_max_recovery_attempts"`
	HealthcheckIdleStopConsecutive int `mapstructure:"healthcheck_idle_stop_consecutive"`

	CostWarningThresholdUSD float64 `mapstructure:"cost_warning_threshold_usd"`

	QualityCheckMaxIterations  int `mapstructure:"quality_check_max_iterations"`
	QualityCheckSameIssueLimit int `mapstructure:"quality_check_same_issue_limit"`

	// Model profile selection: "standard" or "performance".
	ModelProfile string `mapstructure:"model_profile"`

	// Worker CLI/model selection: "uniform" applies WorkerAICli to every
	// slot; "per-worker" consults WorkerCliSlots first.
	WorkerCliMode   string            `mapstructure:"worker_cli_mode"`
	WorkerAICli     string            `mapstructure:"worker_ai_cli"`
	WorkerCliSlots  map[string]string `mapstructure:"worker_cli_slots"` // "1" -> "codex"
	WorkerModelMode string            `mapstructure:"worker_model_mode"`
	WorkerModel     string            `mapstructure:"worker_model"`

	// Extra worker windows (workers beyond the main-window six).
	ExtraWindowRows int `mapstructure:"extra_window_rows"`
	ExtraWindowCols int `mapstructure:"extra_window_cols"`

	LogLevel string `mapstructure:"log_level"`
}

// Load resolves Settings for a project root. The session .env
// ({root}/{mcp_dir}/.env) is loaded first so process environment wins over it.
func Load(projectRoot string) (*Settings, error) {
	// .env only fills variables that are not already exported.
	envPath := filepath.Join(projectRoot, envDirName(), ".env")
	if _, err := os.Stat(envPath); err == nil {
		_ = godotenv.Load(envPath)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mcp_dir", DefaultMCPDir)
	v.SetDefault("max_workers", DefaultMaxWorkers)
	v.SetDefault("tmux_prefix", DefaultTmuxPrefix)
	v.SetDefault("enable_git", true)
	v.SetDefault("default_ai_cli", DefaultAICli)
	v.SetDefault("healthcheck_interval_seconds", DefaultHealthcheckIntervalSeconds)
	v.SetDefault("healthcheck_stall_timeout_seconds", DefaultHealthcheckStallTimeoutSeconds)
	v.SetDefault("healthcheck_max_recovery_attempts", DefaultHealthcheckMaxRecoveryAttempts)
	v.SetDefault("healthcheck_idle_stop_consecutive", DefaultHealthcheckIdleStopConsecutive)
	v.SetDefault("cost_warning_threshold_usd", DefaultCostWarningThresholdUSD)
	v.SetDefault("quality_check_max_iterations", DefaultQualityCheckMaxIterations)
	v.SetDefault("quality_check_same_issue_limit", DefaultQualityCheckSameIssueLimit)
	v.SetDefault("model_profile", ProfileStandard)
	v.SetDefault("worker_cli_mode", WorkerCliUniform)
	v.SetDefault("worker_ai_cli", "")
	v.SetDefault("worker_model_mode", WorkerCliUniform)
	v.SetDefault("worker_model", "")
	v.SetDefault("extra_window_rows", DefaultExtraWindowRows)
	v.SetDefault("extra_window_cols", DefaultExtraWindowCols)
	v.SetDefault("log_level", "info")

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if s.WorkerCliSlots == nil {
		s.WorkerCliSlots = parseSlotOverrides(os.Getenv(EnvPrefix + "_WORKER_CLI_SLOTS"))
	}
	return &s, nil
}

// envDirName returns the mcp_dir used to locate the session .env before the
// full settings are resolved. An explicit env override wins.
func envDirName() string {
	if d := os.Getenv(EnvPrefix + "_MCP_DIR"); d != "" {
		return d
	}
	return DefaultMCPDir
}

// parseSlotOverrides parses "1=codex,3=gemini" into a slot map.
func parseSlotOverrides(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// WorkersPerExtraWindow returns the pane capacity of one overflow window.
func (s *Settings) WorkersPerExtraWindow() int {
	n := s.ExtraWindowRows * s.ExtraWindowCols
	if n <= 0 {
		return DefaultExtraWindowRows * DefaultExtraWindowCols
	}
	return n
}
