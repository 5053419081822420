package dashboard

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
)

// CreateTask appends a new pending task. Metadata keys pass through verbatim;
// output_dir defaults to the session reports directory when absent.
func (s *Store) CreateTask(title, description string, metadata map[string]any, defaultOutputDir string) (*domain.Task, error) {
	if title == "" {
		return nil, domain.Validation("task title is required")
	}
	task := domain.Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Status:      domain.TaskPending,
		CreatedAt:   time.Now().UTC(),
		Metadata:    metadata,
	}
	if task.MetaString(domain.MetaOutputDir) == "" && defaultOutputDir != "" {
		task.SetMeta(domain.MetaOutputDir, defaultOutputDir)
	}
	err := s.Mutate(func(d *domain.Dashboard) error {
		d.Tasks = append(d.Tasks, task)
		d.SessionFinishedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("task created", zap.String("task", task.ID), zap.String("title", title))
	return &task, nil
}

// UpdateTaskStatus moves a task through the transition graph. progress may be
// nil to leave it unchanged; errMsg is recorded on failure states. Rejected
// transitions come back as InvalidTransition / TerminalStateImmutable errors
// with the task untouched.
func (s *Store) UpdateTaskStatus(taskID string, status domain.TaskStatus, progress *int, errMsg string) (*domain.Task, error) {
	var updated domain.Task
	err := s.Mutate(func(d *domain.Dashboard) error {
		t := d.FindTask(taskID)
		if t == nil {
			return domain.NotFound("task", taskID)
		}
		if !t.Status.CanTransition(status) {
			return domain.InvalidTransition(t.Status, status)
		}
		now := time.Now().UTC()
		if status == domain.TaskInProgress && t.StartedAt == nil {
			t.StartedAt = &now
		}
		if status.IsTerminal() {
			t.CompletedAt = &now
		}
		t.Status = status
		if progress != nil {
			t.Progress = clampProgress(*progress)
		} else if status == domain.TaskCompleted {
			t.Progress = 100
		}
		if errMsg != "" {
			t.ErrorMessage = errMsg
		}
		// The session is finished once the last open task goes terminal.
		if status.IsTerminal() && d.SessionFinishedAt == nil && d.AllTasksTerminal() {
			d.SessionFinishedAt = &now
		}
		updated = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("task status updated",
		zap.String("task", taskID), zap.String("status", string(status)))
	return &updated, nil
}

// ReopenTask resets a terminal task to pending. Metadata and the agent
// history pointers survive; progress and timestamps are cleared.
func (s *Store) ReopenTask(taskID string) (*domain.Task, error) {
	var updated domain.Task
	err := s.Mutate(func(d *domain.Dashboard) error {
		t := d.FindTask(taskID)
		if t == nil {
			return domain.NotFound("task", taskID)
		}
		if !t.Status.IsTerminal() {
			return domain.Validation(fmt.Sprintf("task %s is %s; only terminal tasks can be reopened", taskID, t.Status))
		}
		t.Status = domain.TaskPending
		t.Progress = 0
		t.StartedAt = nil
		t.CompletedAt = nil
		t.ErrorMessage = ""
		// The session has open work again.
		d.SessionFinishedAt = nil
		updated = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// AssignTask binds a task to an agent, remembering the previous assignee.
func (s *Store) AssignTask(taskID, agentID string) (*domain.Task, error) {
	var updated domain.Task
	err := s.Mutate(func(d *domain.Dashboard) error {
		t := d.FindTask(taskID)
		if t == nil {
			return domain.NotFound("task", taskID)
		}
		if t.AssignedAgentID != "" && t.AssignedAgentID != agentID {
			t.PreviousAgentID = t.AssignedAgentID
		}
		t.AssignedAgentID = agentID
		if a := d.FindAgent(agentID); a != nil {
			a.CurrentTaskID = t.ID
		}
		// The old assignee must not keep pointing at this task.
		for i := range d.Agents {
			if d.Agents[i].ID != agentID && d.Agents[i].CurrentTaskID == taskID {
				d.Agents[i].CurrentTaskID = ""
			}
		}
		updated = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ReportProgress updates the progress of a non-terminal task and logs the
// report. Terminal tasks reject the update through the transition rules.
func (s *Store) ReportProgress(taskID string, progress int, message, senderID string) (*domain.Task, error) {
	var updated domain.Task
	err := s.Mutate(func(d *domain.Dashboard) error {
		t := d.FindTask(taskID)
		if t == nil {
			return domain.NotFound("task", taskID)
		}
		if t.Status.IsTerminal() {
			return domain.InvalidTransition(t.Status, domain.TaskInProgress)
		}
		if t.Status == domain.TaskPending {
			now := time.Now().UTC()
			t.Status = domain.TaskInProgress
			t.StartedAt = &now
		}
		t.Progress = clampProgress(progress)
		appendLog(d, domain.LogEntry{
			SenderID:    senderID,
			MessageType: domain.MsgTaskProgress,
			Content:     message,
		})
		updated = *t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// ListTasks returns tasks, optionally filtered by status.
func (s *Store) ListTasks(status domain.TaskStatus) ([]domain.Task, error) {
	d, err := s.Get()
	if err != nil {
		return nil, err
	}
	if status == "" {
		return append([]domain.Task(nil), d.Tasks...), nil
	}
	var out []domain.Task
	for i := range d.Tasks {
		if d.Tasks[i].Status == status {
			out = append(out, d.Tasks[i])
		}
	}
	return out, nil
}

// GetTask returns one task by id.
func (s *Store) GetTask(taskID string) (*domain.Task, error) {
	d, err := s.Get()
	if err != nil {
		return nil, err
	}
	t := d.FindTask(taskID)
	if t == nil {
		return nil, domain.NotFound("task", taskID)
	}
	cp := *t
	return &cp, nil
}

// RemoveTask deletes a task record outright.
func (s *Store) RemoveTask(taskID string) error {
	return s.Mutate(func(d *domain.Dashboard) error {
		for i := range d.Tasks {
			if d.Tasks[i].ID == taskID {
				d.Tasks = append(d.Tasks[:i], d.Tasks[i+1:]...)
				for j := range d.Agents {
					if d.Agents[j].CurrentTaskID == taskID {
						d.Agents[j].CurrentTaskID = ""
					}
				}
				return nil
			}
		}
		return domain.NotFound("task", taskID)
	})
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
