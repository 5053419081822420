// Package logging builds the zap logger used across the server. Logs go to a
// file under the global state dir and, when stderr is an interactive
// terminal, to stderr as well. Stdout is never used: it carries the MCP
// stdio protocol.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures logger construction.
type Options struct {
	Level    string // debug, info, warn, error (default info)
	FilePath string // log file; "none"/"off"/"" disables file output
}

// New returns a configured *zap.Logger. Construction never fails hard: when
// the log file cannot be opened it falls back to stderr only.
func New(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		_ = level.UnmarshalText([]byte(opts.Level))
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core

	if fp := opts.FilePath; fp != "" && fp != "none" && fp != "off" {
		if err := os.MkdirAll(filepath.Dir(fp), 0o755); err == nil {
			if f, err := os.OpenFile(fp, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				cores = append(cores, zapcore.NewCore(
					zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
			}
		}
	}

	// Stderr only when interactive; under a daemonized server stderr is
	// usually redirected to the same log file already.
	stderrIsTerminal := false
	if info, err := os.Stderr.Stat(); err == nil {
		stderrIsTerminal = (info.Mode() & os.ModeCharDevice) != 0
	}
	if stderrIsTerminal || len(cores) == 0 {
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(os.Stderr), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

// Nop returns a no-op logger for tests.
func Nop() *zap.Logger {
	return zap.NewNop()
}
