package domain

import "time"

// TaskStatus is the dashboard task state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskBlocked    TaskStatus = "blocked"
)

// ParseTaskStatus validates a task status string.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case TaskPending, TaskInProgress, TaskCompleted, TaskFailed, TaskCancelled, TaskBlocked:
		return TaskStatus(s), nil
	}
	return "", Validation("unknown task status " + s)
}

// taskTransitions is the allowed transition graph. Terminal states have no
// outgoing edges; only Reopen leaves them.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskPending:    {TaskInProgress, TaskCancelled, TaskBlocked},
	TaskInProgress: {TaskCompleted, TaskFailed, TaskCancelled, TaskBlocked},
	TaskBlocked:    {TaskInProgress, TaskCancelled, TaskFailed},
	TaskCompleted:  {},
	TaskFailed:     {},
	TaskCancelled:  {},
}

// IsTerminal reports whether s is a terminal status (completed, failed, cancelled).
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// AllowedTransitions returns the statuses reachable from s. Empty for
// terminal states.
func (s TaskStatus) AllowedTransitions() []TaskStatus {
	allowed := taskTransitions[s]
	out := make([]TaskStatus, len(allowed))
	copy(out, allowed)
	return out
}

// CanTransition reports whether s → to is in the transition graph.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	for _, t := range taskTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Reserved metadata keys recognized by the dashboard store.
const (
	MetaTaskKind             = "task_kind"
	MetaRequiresPlaywright   = "requires_playwright"
	MetaOutputDir            = "output_dir"
	MetaRequestedDescription = "requested_description"
	MetaRecoveryCount        = "process_recovery_count"
	MetaLastRecoveryReason   = "last_recovery_reason"
	MetaLastRecoveryAt       = "last_recovery_at"
)

// Task is a durable dashboard task record.
type Task struct {
	ID              string         `json:"id" yaml:"id"`
	Title           string         `json:"title" yaml:"title"`
	Description     string         `json:"description" yaml:"description"`
	Status          TaskStatus     `json:"status" yaml:"status"`
	Progress        int            `json:"progress" yaml:"progress"` // 0-100
	AssignedAgentID string         `json:"assigned_agent_id,omitempty" yaml:"assigned_agent_id,omitempty"`
	PreviousAgentID string         `json:"previous_agent_id,omitempty" yaml:"previous_agent_id,omitempty"`
	Branch          string         `json:"branch,omitempty" yaml:"branch,omitempty"`
	CreatedAt       time.Time      `json:"created_at" yaml:"created_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	TaskFilePath    string         `json:"task_file_path,omitempty" yaml:"task_file_path,omitempty"`
}

// MetaString returns a string metadata value, or "" when absent.
func (t *Task) MetaString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	s, _ := t.Metadata[key].(string)
	return s
}

// MetaInt returns an integer metadata value, tolerating the float64 that
// JSON round-trips produce.
func (t *Task) MetaInt(key string) int {
	if t.Metadata == nil {
		return 0
	}
	switch v := t.Metadata[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// SetMeta sets a metadata key, allocating the map if needed.
func (t *Task) SetMeta(key string, value any) {
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	t.Metadata[key] = value
}
