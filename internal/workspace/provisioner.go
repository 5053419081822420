// Package workspace provisions and tears down sessions: the directory tree
// under {project_root}/{mcp_dir}/, the session config.json, and the tmux
// pane grid the agents live in.
package workspace

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/config"
	"github.com/jaakkos/crewmux/internal/tmux"
)

// Provisioner builds ready-to-use sessions.
type Provisioner struct {
	projectRoot string
	settings    *config.Settings
	paths       config.Paths
	tm          *tmux.Client
	logger      *zap.Logger
}

// NewProvisioner returns a Provisioner for one project root.
func NewProvisioner(projectRoot string, settings *config.Settings, tm *tmux.Client, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		projectRoot: projectRoot,
		settings:    settings,
		paths:       settings.NewPaths(projectRoot),
		tm:          tm,
		logger:      logger,
	}
}

// InitResult reports a provisioned workspace.
type InitResult struct {
	SessionID    string `json:"session_id"`
	SessionName  string `json:"session_name"`
	SessionDir   string `json:"session_dir"`
	EnableGit    bool   `json:"enable_git"`
	WorkerPanes  int    `json:"worker_panes"`
	ExtraWindows int    `json:"extra_windows"`
	Created      bool   `json:"created"`
}

// SessionName derives the tmux session name for a session id.
func (p *Provisioner) SessionName(sessionID string) string {
	return p.settings.TmuxPrefix + "-" + sessionID
}

// Paths exposes the path helper shared with the other components.
func (p *Provisioner) Paths() config.Paths { return p.paths }

// NewSessionID mints a session id. Timestamp-based, so session directories
// sort chronologically.
func NewSessionID() string {
	return time.Now().Format("20060102-150405")
}

// Init provisions a session: directory tree, config.json, and the tmux grid.
// workers <= 0 takes the active profile's worker count. A session whose tmux
// session already exists is returned as-is with Created=false; the directory
// tree is still ensured. Any tmux failure rolls the whole session back.
func (p *Provisioner) Init(sessionID string, workers int, enableGit *bool) (*InitResult, error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	if workers <= 0 {
		workers = p.settings.ActiveProfile().WorkerCount
	}
	if workers > p.settings.MaxWorkers {
		workers = p.settings.MaxWorkers
	}

	sc, err := config.LoadSessionConfig(p.paths.ConfigFile())
	if err != nil {
		return nil, err
	}
	git := config.ResolveEnableGit(enableGit, sc, p.settings)

	if err := p.ensureDirs(sessionID, git); err != nil {
		return nil, err
	}
	if err := config.SaveSessionConfig(p.paths.ConfigFile(), &config.SessionConfig{
		SessionID: sessionID,
		EnableGit: git,
	}); err != nil {
		return nil, err
	}

	res := &InitResult{
		SessionID:   sessionID,
		SessionName: p.SessionName(sessionID),
		SessionDir:  p.paths.SessionDir(sessionID),
		EnableGit:   git,
		WorkerPanes: workers,
	}

	if p.tm.HasSession(res.SessionName) {
		p.logger.Info("tmux session already exists, reusing",
			zap.String("session", res.SessionName))
		return res, nil
	}
	extra, err := p.buildGrid(res.SessionName, workers)
	if err != nil {
		// Partial grids leave panes at wrong indices; tear everything down.
		_ = p.tm.KillSession(res.SessionName)
		return nil, fmt.Errorf("provision tmux grid: %w", err)
	}
	res.ExtraWindows = extra
	res.Created = true
	p.logger.Info("workspace provisioned",
		zap.String("session", sessionID),
		zap.Int("workers", workers),
		zap.Int("extra_windows", extra),
		zap.Bool("git", git))
	return res, nil
}

// ensureDirs creates the session directory tree plus the project-level dirs.
func (p *Provisioner) ensureDirs(sessionID string, git bool) error {
	dirs := []string{
		p.paths.AppDir(),
		p.paths.ProjectMemoryDir(),
		p.paths.ScreenshotDir(),
		p.paths.SessionDir(sessionID),
		p.paths.TasksDir(sessionID),
		p.paths.ReportsDir(sessionID),
		p.paths.IPCDir(sessionID),
		p.paths.SessionMemoryDir(sessionID),
	}
	if git {
		dirs = append(dirs, p.paths.WorktreesDir(sessionID))
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// buildGrid creates the tmux session, the main admin+worker window, and the
// overflow windows. Returns the number of extra windows created.
func (p *Provisioner) buildGrid(sessionName string, workers int) (int, error) {
	if err := p.tm.NewSession(sessionName, "main", p.projectRoot); err != nil {
		return 0, err
	}
	if err := p.tm.SplitMainWindow(sessionName); err != nil {
		return 0, err
	}
	p.titleMainWindow(sessionName)

	overflow := workers - tmux.MainWindowWorkerPanes
	if overflow <= 0 {
		return 0, nil
	}
	rows, cols := p.settings.ExtraWindowRows, p.settings.ExtraWindowCols
	per := p.settings.WorkersPerExtraWindow()
	extra := (overflow + per - 1) / per
	for i := 0; i < extra; i++ {
		win, err := p.tm.NewWindow(sessionName, fmt.Sprintf("workers-%d", i+1))
		if err != nil {
			return 0, err
		}
		if err := p.tm.SplitGridWindow(sessionName, win, rows, cols); err != nil {
			return 0, err
		}
	}
	return extra, nil
}

// titleMainWindow labels the fixed panes. Best-effort; a tmux without pane
// titles just ignores it.
func (p *Provisioner) titleMainWindow(sessionName string) {
	_ = p.tm.SetPaneTitle(tmux.Target(sessionName, 0, 0), "admin")
	for slot := 1; slot <= tmux.MainWindowWorkerPanes; slot++ {
		_ = p.tm.SetPaneTitle(tmux.Target(sessionName, 0, slot), fmt.Sprintf("worker-%d", slot))
	}
}

// Cleanup kills the tmux session. With removeFiles the session directory is
// deleted too; the project-level dirs (memory, screenshots) always survive.
func (p *Provisioner) Cleanup(sessionID string, removeFiles bool) error {
	if err := p.tm.KillSession(p.SessionName(sessionID)); err != nil {
		return err
	}
	if removeFiles {
		if err := os.RemoveAll(p.paths.SessionDir(sessionID)); err != nil {
			return fmt.Errorf("remove session dir: %w", err)
		}
	}
	p.logger.Info("workspace cleaned up",
		zap.String("session", sessionID), zap.Bool("files_removed", removeFiles))
	return nil
}

// OpenSession returns the attach command for a session and, on macOS,
// best-effort opens a terminal running it. Elsewhere the caller attaches
// manually.
func (p *Provisioner) OpenSession(sessionID string) (string, error) {
	name := p.SessionName(sessionID)
	if !p.tm.HasSession(name) {
		return "", fmt.Errorf("tmux session %s does not exist", name)
	}
	attach := "tmux attach-session -t " + name
	if runtime.GOOS == "darwin" {
		script := fmt.Sprintf(`tell application "Terminal" to do script %q`, attach)
		if err := exec.Command("osascript", "-e", script).Run(); err != nil {
			p.logger.Debug("terminal open failed", zap.Error(err))
		}
	}
	return attach, nil
}
