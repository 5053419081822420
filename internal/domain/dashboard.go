package domain

import "time"

// AgentSummary is the dashboard's per-agent row, synced from the registry.
type AgentSummary struct {
	ID            string      `json:"id" yaml:"id"`
	Role          Role        `json:"role" yaml:"role"`
	Status        AgentStatus `json:"status" yaml:"status"`
	CurrentTaskID string      `json:"current_task_id,omitempty" yaml:"current_task_id,omitempty"`
	WorktreePath  string      `json:"worktree_path,omitempty" yaml:"worktree_path,omitempty"`
	RecoveryCount int         `json:"recovery_count,omitempty" yaml:"recovery_count,omitempty"`
}

// LogEntry is one append-only dashboard message-log row.
type LogEntry struct {
	SenderID    string      `json:"sender_id" yaml:"sender_id"`
	ReceiverID  string      `json:"receiver_id" yaml:"receiver_id"`
	MessageType MessageType `json:"message_type" yaml:"message_type"`
	Content     string      `json:"content" yaml:"content"`
	Timestamp   time.Time   `json:"timestamp" yaml:"timestamp"`
}

// Dashboard is the durable task + activity state for one session. It is the
// YAML front matter of dashboard.md; the markdown body is derived from it on
// every write.
type Dashboard struct {
	WorkspaceID          string         `json:"workspace_id" yaml:"workspace_id"`
	WorkspacePath        string         `json:"workspace_path" yaml:"workspace_path"`
	UpdatedAt            time.Time      `json:"updated_at" yaml:"updated_at"`
	Tasks                []Task         `json:"tasks" yaml:"tasks"`
	Agents               []AgentSummary `json:"agents" yaml:"agents"`
	SessionStartedAt     *time.Time     `json:"session_started_at,omitempty" yaml:"session_started_at,omitempty"`
	SessionFinishedAt    *time.Time     `json:"session_finished_at,omitempty" yaml:"session_finished_at,omitempty"`
	ProcessCrashCount    int            `json:"process_crash_count" yaml:"process_crash_count"`
	ProcessRecoveryCount int            `json:"process_recovery_count" yaml:"process_recovery_count"`
	TotalCostUSD         float64        `json:"total_cost_usd,omitempty" yaml:"total_cost_usd,omitempty"`
	MessageLog           []LogEntry     `json:"message_log" yaml:"message_log"`
}

// NewDashboard returns an empty dashboard for a workspace.
func NewDashboard(workspaceID, workspacePath string) *Dashboard {
	return &Dashboard{
		WorkspaceID:   workspaceID,
		WorkspacePath: workspacePath,
		UpdatedAt:     time.Now(),
		Tasks:         []Task{},
		Agents:        []AgentSummary{},
		MessageLog:    []LogEntry{},
	}
}

// FindTask returns a pointer into Tasks for the given id, or nil.
func (d *Dashboard) FindTask(id string) *Task {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i]
		}
	}
	return nil
}

// FindAgent returns a pointer into Agents for the given id, or nil.
func (d *Dashboard) FindAgent(id string) *AgentSummary {
	for i := range d.Agents {
		if d.Agents[i].ID == id {
			return &d.Agents[i]
		}
	}
	return nil
}

// AllTasksTerminal reports whether every task has reached a terminal state.
// False when there are no tasks at all.
func (d *Dashboard) AllTasksTerminal() bool {
	if len(d.Tasks) == 0 {
		return false
	}
	for i := range d.Tasks {
		if !d.Tasks[i].Status.IsTerminal() {
			return false
		}
	}
	return true
}

// InProgressCount returns the number of tasks currently in_progress.
func (d *Dashboard) InProgressCount() int {
	n := 0
	for i := range d.Tasks {
		if d.Tasks[i].Status == TaskInProgress {
			n++
		}
	}
	return n
}

// WorktreeRecord tracks one isolated working copy owned by the provisioner.
type WorktreeRecord struct {
	Path            string    `json:"path"`
	Branch          string    `json:"branch"`
	AssignedAgentID string    `json:"assigned_agent_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
