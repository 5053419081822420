package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jaakkos/crewmux/internal/fsutil"
)

// SessionConfig is the per-session config.json. Plain JSON, UTF-8, trailing
// newline, since external tooling reads it.
type SessionConfig struct {
	SessionID     string `json:"session_id"`
	EnableGit     bool   `json:"enable_git"`
	MCPToolPrefix string `json:"mcp_tool_prefix,omitempty"`
}

// LoadSessionConfig reads config.json. A missing file returns (nil, nil).
func LoadSessionConfig(path string) (*SessionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var sc SessionConfig
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &sc, nil
}

// SaveSessionConfig writes config.json atomically under its advisory lock.
func SaveSessionConfig(path string, sc *SessionConfig) error {
	return fsutil.WithLock(path+".lock", func() error {
		data, err := json.MarshalIndent(sc, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal session config: %w", err)
		}
		return fsutil.WriteFileAtomic(path, append(data, '\n'), 0o644)
	})
}

// ResolveEnableGit applies the precedence call arg > config.json > settings
// (env/.env/default). arg is nil when the caller did not pass one.
func ResolveEnableGit(arg *bool, sc *SessionConfig, s *Settings) bool {
	if arg != nil {
		return *arg
	}
	if sc != nil {
		return sc.EnableGit
	}
	return s.EnableGit
}
