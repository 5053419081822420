// Package domain holds the orchestration entities shared by all stores.
// It has no dependencies on other packages.
package domain

import (
	"fmt"
	"time"
)

// Role is the position of an agent in the Owner → Admin → Workers hierarchy.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleWorker Role = "worker"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOwner, RoleAdmin, RoleWorker:
		return Role(s), nil
	}
	return "", Validation(fmt.Sprintf("unknown role %q (owner, admin, worker)", s))
}

// AgentStatus is the lifecycle status of an agent.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentBusy       AgentStatus = "busy"
	AgentBlocked    AgentStatus = "blocked"
	AgentTerminated AgentStatus = "terminated"
)

// Pane addresses a rectangle inside the terminal multiplexer.
type Pane struct {
	Session string `json:"session_name"`
	Window  int    `json:"window_index"`
	Pane    int    `json:"pane_index"`
}

// Target returns the tmux target string ("session:window.pane").
func (p Pane) Target() string {
	return fmt.Sprintf("%s:%d.%d", p.Session, p.Window, p.Pane)
}

// Agent is a long-running AI CLI subprocess bound to a pane and an identity
// in the registry. The owner role has no pane (it runs in the external host).
type Agent struct {
	ID            string      `json:"id"`
	Role          Role        `json:"role"`
	Status        AgentStatus `json:"status"`
	SessionName   string      `json:"session_name"`
	WindowIndex   int         `json:"window_index"`
	PaneIndex     int         `json:"pane_index"`
	WorkingDir    string      `json:"working_dir"`
	WorktreePath  string      `json:"worktree_path,omitempty"`
	Branch        string      `json:"branch,omitempty"`
	AICli         string      `json:"ai_cli"`
	WorkerSlot    int         `json:"worker_slot,omitempty"` // 1-based, workers only
	CurrentTaskID string      `json:"current_task_id,omitempty"`
	LastActivity  time.Time   `json:"last_activity"`
}

// HasPane reports whether the agent occupies a multiplexer pane.
// The owner runs outside the multiplexer.
func (a *Agent) HasPane() bool {
	return a.Role != RoleOwner && a.SessionName != ""
}

// PaneRef returns the agent's pane address.
func (a *Agent) PaneRef() Pane {
	return Pane{Session: a.SessionName, Window: a.WindowIndex, Pane: a.PaneIndex}
}

// Live reports whether the agent is still part of the session
// (i.e. not terminated).
func (a *Agent) Live() bool {
	return a.Status != AgentTerminated
}
