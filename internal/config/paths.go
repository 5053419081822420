package config

import (
	"os"
	"path/filepath"
)

// Paths derives every on-disk location from the project root and mcp_dir.
// The layout is compatibility-critical: external tooling reads these files
// directly, so the directory names never change.
type Paths struct {
	ProjectRoot string
	MCPDir      string
}

// NewPaths returns a Paths helper for a project root.
func (s *Settings) NewPaths(projectRoot string) Paths {
	return Paths{ProjectRoot: projectRoot, MCPDir: s.MCPDir}
}

// AppDir is {project_root}/{mcp_dir}.
func (p Paths) AppDir() string {
	return filepath.Join(p.ProjectRoot, p.MCPDir)
}

// EnvFile is the session .env.
func (p Paths) EnvFile() string {
	return filepath.Join(p.AppDir(), ".env")
}

// ConfigFile is the session config.json.
func (p Paths) ConfigFile() string {
	return filepath.Join(p.AppDir(), "config.json")
}

// ProjectMemoryDir holds task summaries and other persistent memory. It is
// deliberately outside any session directory so it survives sessions.
func (p Paths) ProjectMemoryDir() string {
	return filepath.Join(p.AppDir(), "memory")
}

// ScreenshotDir holds screenshots dropped by agents.
func (p Paths) ScreenshotDir() string {
	return filepath.Join(p.AppDir(), "screenshot")
}

// SessionDir is {project_root}/{mcp_dir}/{session_id}.
func (p Paths) SessionDir(sessionID string) string {
	return filepath.Join(p.AppDir(), sessionID)
}

// AgentsFile is the registry snapshot for a session.
func (p Paths) AgentsFile(sessionID string) string {
	return filepath.Join(p.SessionDir(sessionID), "agents.json")
}

// DashboardFile is the dashboard state+view for a session.
func (p Paths) DashboardFile(sessionID string) string {
	return filepath.Join(p.SessionDir(sessionID), "dashboard", "dashboard.md")
}

// DashboardLock is the advisory lock next to the dashboard.
func (p Paths) DashboardLock(sessionID string) string {
	return filepath.Join(p.SessionDir(sessionID), "dashboard", "dashboard.lock")
}

// TasksDir holds dispatched task briefs, one per agent.
func (p Paths) TasksDir(sessionID string) string {
	return filepath.Join(p.SessionDir(sessionID), "tasks")
}

// ReportsDir is the default output_dir for investigation/QA tasks.
func (p Paths) ReportsDir(sessionID string) string {
	return filepath.Join(p.SessionDir(sessionID), "reports")
}

// IPCDir is the mailbox root for a session.
func (p Paths) IPCDir(sessionID string) string {
	return filepath.Join(p.SessionDir(sessionID), "ipc")
}

// SessionMemoryDir holds session-scoped memory entries.
func (p Paths) SessionMemoryDir(sessionID string) string {
	return filepath.Join(p.SessionDir(sessionID), "memory")
}

// WorktreesDir is where worker worktrees are created.
func (p Paths) WorktreesDir(sessionID string) string {
	return filepath.Join(p.SessionDir(sessionID), "worktrees")
}

// GlobalDir is {user_home}/.{mcp_dir}.
func GlobalDir(mcpDir string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, "."+mcpDir)
}

// GlobalAgentsDir maps agent id → (project_root, session_id) across projects.
func GlobalAgentsDir(mcpDir string) string {
	return filepath.Join(GlobalDir(mcpDir), "agents")
}

// GlobalMemoryDir holds user-wide memory entries.
func GlobalMemoryDir(mcpDir string) string {
	return filepath.Join(GlobalDir(mcpDir), "memory")
}

// GlobalMemoryArchiveDir holds archived user-wide memory entries.
func GlobalMemoryArchiveDir(mcpDir string) string {
	return filepath.Join(GlobalMemoryDir(mcpDir), "archive")
}

// LogFile is the server log under the global dir.
func LogFile(mcpDir string) string {
	return filepath.Join(GlobalDir(mcpDir), "mcp-server.log")
}

// MemoryIndexFile is the sqlite FTS index for memory search.
func MemoryIndexFile(mcpDir string) string {
	return filepath.Join(GlobalDir(mcpDir), "memory-index.db")
}
