package health

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/dashboard"
	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/ipc"
	"github.com/jaakkos/crewmux/internal/registry"
)

// Recoverer is implemented by the workspace layer: it knows how to rebuild a
// dead session and how to spawn a replacement worker into a pane slot.
type Recoverer interface {
	RestoreSession(agent *domain.Agent) error
	RespawnWorker(old *domain.Agent) (*domain.Agent, error)
}

// RecoveryOutcome reports one recovery pass over an agent.
type RecoveryOutcome struct {
	AgentID    string `json:"agent_id"`
	NewAgentID string `json:"new_agent_id,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
	Stage      string `json:"stage"` // soft, full, task_failed
	Recovered  bool   `json:"recovered"`
	Detail     string `json:"detail,omitempty"`
}

// Supervisor runs the recovery ladder and keeps the per-(agent, task)
// attempt budget.
type Supervisor struct {
	engine      *Engine
	reg         *registry.Registry
	dash        *dashboard.Store
	mailbox     *ipc.Mailbox
	recoverer   Recoverer
	maxAttempts int
	logger      *zap.Logger

	attempts map[string]int // "agent|task" -> attempts so far
}

// NewSupervisor returns a Supervisor. recoverer may be nil in degraded mode;
// then every unhealthy verdict escalates straight to task failure.
func NewSupervisor(engine *Engine, reg *registry.Registry, dash *dashboard.Store, mailbox *ipc.Mailbox, recoverer Recoverer, maxAttempts int, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		engine:      engine,
		reg:         reg,
		dash:        dash,
		mailbox:     mailbox,
		recoverer:   recoverer,
		maxAttempts: maxAttempts,
		logger:      logger,
		attempts:    make(map[string]int),
	}
}

func attemptKey(agentID, taskID string) string { return agentID + "|" + taskID }

// AttemptRecovery runs soft recovery: rebuild a dead session in place, or
// nudge a stalled CLI with an interrupt. Identity, worktree, and task
// assignment are untouched.
func (s *Supervisor) AttemptRecovery(agent *domain.Agent, res CheckResult) (*RecoveryOutcome, error) {
	out := &RecoveryOutcome{AgentID: agent.ID, TaskID: agent.CurrentTaskID, Stage: "soft"}

	if res.SessionDead {
		if s.recoverer == nil {
			out.Detail = "no session recoverer available"
			return out, nil
		}
		if err := s.recoverer.RestoreSession(agent); err != nil {
			out.Detail = err.Error()
			return out, nil
		}
	}
	if res.TaskStalled {
		if err := s.engine.term.SendInterrupt(agent.PaneRef().Target()); err != nil {
			out.Detail = err.Error()
			return out, nil
		}
	}

	s.engine.forget(agent.ID)
	if err := s.reg.Touch(agent.ID); err != nil {
		return nil, err
	}
	s.noteRecovery(agent.CurrentTaskID, "soft: "+firstReason(res))
	out.Recovered = true
	s.logger.Info("soft recovery succeeded", zap.String("agent", agent.ID))
	return out, nil
}

// FullRecovery replaces the agent: terminate, rebuild the worktree on the
// same branch, spawn a new worker into the same slot, and reassign the
// unfinished task so the dashboard follows.
func (s *Supervisor) FullRecovery(agent *domain.Agent, reason string) (*RecoveryOutcome, error) {
	out := &RecoveryOutcome{AgentID: agent.ID, TaskID: agent.CurrentTaskID, Stage: "full"}
	if s.recoverer == nil {
		out.Detail = "no recoverer available"
		return out, nil
	}

	if err := s.reg.Terminate(agent.ID); err != nil {
		return nil, err
	}
	replacement, err := s.recoverer.RespawnWorker(agent)
	if err != nil {
		out.Detail = err.Error()
		return out, nil
	}
	out.NewAgentID = replacement.ID

	if agent.CurrentTaskID != "" {
		if _, err := s.dash.AssignTask(agent.CurrentTaskID, replacement.ID); err != nil {
			s.logger.Warn("task reassignment after respawn failed",
				zap.String("task", agent.CurrentTaskID), zap.Error(err))
		} else {
			_ = s.reg.Update(replacement.ID, func(a *domain.Agent) error {
				a.CurrentTaskID = agent.CurrentTaskID
				a.Status = domain.AgentBusy
				return nil
			})
		}
	}

	if err := s.dash.RecordRecovery(replacement.ID); err != nil {
		s.logger.Warn("recovery counter update failed", zap.Error(err))
	}
	s.noteRecovery(agent.CurrentTaskID, "full: "+reason)
	s.engine.forget(agent.ID)
	out.Recovered = true
	s.logger.Info("full recovery succeeded",
		zap.String("old", agent.ID), zap.String("new", replacement.ID))
	return out, nil
}

// Recover runs the ladder for one unhealthy agent, consuming one attempt
// from the (agent, task) budget. When the budget is spent the task fails.
func (s *Supervisor) Recover(agent *domain.Agent, res CheckResult) (*RecoveryOutcome, error) {
	// Every entry into the ladder is one diagnosed crash or stall.
	if err := s.dash.RecordCrash(); err != nil {
		s.logger.Warn("crash counter update failed", zap.Error(err))
	}

	key := attemptKey(agent.ID, agent.CurrentTaskID)
	s.attempts[key]++
	if s.attempts[key] > s.maxAttempts {
		return s.failTask(agent)
	}

	out, err := s.AttemptRecovery(agent, res)
	if err != nil {
		return nil, err
	}
	if out.Recovered {
		return out, nil
	}
	full, err := s.FullRecovery(agent, firstReason(res))
	if err != nil {
		return nil, err
	}
	if full.Recovered {
		// The replacement inherits the task with a fresh identity; carry the
		// budget over so a flapping pane still converges to task failure.
		s.attempts[attemptKey(full.NewAgentID, agent.CurrentTaskID)] = s.attempts[key]
		delete(s.attempts, key)
	}
	return full, nil
}

// failTask ends the ladder: the task fails with a recovery-exhausted marker,
// the worker is cleared, and the admin is told.
func (s *Supervisor) failTask(agent *domain.Agent) (*RecoveryOutcome, error) {
	out := &RecoveryOutcome{AgentID: agent.ID, TaskID: agent.CurrentTaskID, Stage: "task_failed"}
	taskID := agent.CurrentTaskID

	if taskID != "" {
		if _, err := s.dash.UpdateTaskStatus(taskID, domain.TaskFailed, nil, "recovery exhausted"); err != nil {
			s.logger.Warn("failing exhausted task", zap.String("task", taskID), zap.Error(err))
		}
	}
	if err := s.reg.Update(agent.ID, func(a *domain.Agent) error {
		a.Status = domain.AgentIdle
		a.CurrentTaskID = ""
		return nil
	}); err != nil && domain.CodeOf(err) != domain.CodeNotFound {
		return nil, err
	}

	if admin, err := s.reg.FindByRole(domain.RoleAdmin); err == nil && s.mailbox != nil {
		msg := &domain.Message{
			SenderID:    agent.ID,
			ReceiverID:  admin.ID,
			MessageType: domain.MsgError,
			Priority:    domain.PriorityHigh,
			Subject:     "recovery exhausted",
			Content: fmt.Sprintf("Worker %s could not be recovered after %d attempts; task %s is failed.",
				agent.ID, s.maxAttempts, taskID),
			Metadata: map[string]any{"task_id": taskID},
		}
		if err := s.mailbox.Send(msg, admin); err != nil {
			s.logger.Warn("exhaustion notice delivery failed", zap.Error(err))
		}
	}

	delete(s.attempts, attemptKey(agent.ID, taskID))
	s.engine.forget(agent.ID)
	out.Detail = domain.CodeRecoveryExhausted
	s.logger.Warn("recovery exhausted",
		zap.String("agent", agent.ID), zap.String("task", taskID))
	return out, nil
}

// noteRecovery stamps the recovery counters into the task metadata. Failures
// are logged only; recovery must not die on bookkeeping.
func (s *Supervisor) noteRecovery(taskID, reason string) {
	if taskID == "" {
		return
	}
	err := s.dash.Mutate(func(d *domain.Dashboard) error {
		t := d.FindTask(taskID)
		if t == nil {
			return domain.NotFound("task", taskID)
		}
		t.SetMeta(domain.MetaRecoveryCount, t.MetaInt(domain.MetaRecoveryCount)+1)
		t.SetMeta(domain.MetaLastRecoveryReason, reason)
		t.SetMeta(domain.MetaLastRecoveryAt, time.Now().UTC().Format(time.RFC3339))
		return nil
	})
	if err != nil {
		s.logger.Debug("recovery metadata update failed", zap.String("task", taskID), zap.Error(err))
	}
}

func firstReason(res CheckResult) string {
	if len(res.Reasons) > 0 {
		return res.Reasons[0]
	}
	return "unknown"
}
