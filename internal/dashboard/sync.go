package dashboard

import (
	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
)

// SkippedUpdate records one auto-sync message whose transition was rejected.
type SkippedUpdate struct {
	TaskID   string `json:"task_id"`
	SenderID string `json:"sender_id"`
	Reason   string `json:"reason"`
}

// SyncFromMessages applies task_progress / task_complete / task_failed
// messages to the dashboard after an admin mailbox read. Rejections never
// surface as errors; they are returned as skipped entries so the read
// succeeds regardless of dashboard state.
func (s *Store) SyncFromMessages(msgs []*domain.Message) (applied int, skipped []SkippedUpdate) {
	for _, m := range msgs {
		taskID := m.TaskID()
		if taskID == "" {
			continue
		}
		var err error
		switch m.MessageType {
		case domain.MsgTaskProgress:
			progress := m.ProgressValue()
			if progress < 0 {
				continue
			}
			_, err = s.ReportProgress(taskID, progress, m.Subject, m.SenderID)
		case domain.MsgTaskComplete:
			err = s.syncTerminal(taskID, domain.TaskCompleted, "")
		case domain.MsgTaskFailed:
			err = s.syncTerminal(taskID, domain.TaskFailed, firstLine(m.Content))
		default:
			continue
		}
		if err != nil {
			skipped = append(skipped, SkippedUpdate{
				TaskID:   taskID,
				SenderID: m.SenderID,
				Reason:   err.Error(),
			})
			s.logger.Debug("dashboard sync skipped",
				zap.String("task", taskID), zap.Error(err))
			continue
		}
		applied++
	}
	return applied, skipped
}

// syncTerminal drives a task to a terminal state, stepping through
// in_progress first when the graph requires it.
func (s *Store) syncTerminal(taskID string, status domain.TaskStatus, errMsg string) error {
	t, err := s.GetTask(taskID)
	if err != nil {
		return err
	}
	if t.Status == domain.TaskPending || t.Status == domain.TaskBlocked {
		if t.Status.CanTransition(domain.TaskInProgress) {
			if _, err := s.UpdateTaskStatus(taskID, domain.TaskInProgress, nil, ""); err != nil {
				return err
			}
		}
	}
	_, err = s.UpdateTaskStatus(taskID, status, nil, errMsg)
	return err
}
