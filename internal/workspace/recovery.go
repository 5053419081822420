package workspace

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/dispatch"
	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/registry"
)

// WorktreeRebuilder is the slice of the worktree manager full recovery needs.
type WorktreeRebuilder interface {
	Recreate(path, branch string) (*domain.WorktreeRecord, error)
}

// Reviver rebuilds dead sessions and respawns workers. It backs the
// healthcheck recovery ladder.
type Reviver struct {
	prov      *Provisioner
	reg       *registry.Registry
	disp      *dispatch.Dispatcher
	worktrees WorktreeRebuilder
	logger    *zap.Logger
}

// NewReviver wires the reviver for one session. worktrees may be nil when git
// is disabled.
func NewReviver(prov *Provisioner, reg *registry.Registry, disp *dispatch.Dispatcher, worktrees WorktreeRebuilder, logger *zap.Logger) *Reviver {
	return &Reviver{prov: prov, reg: reg, disp: disp, worktrees: worktrees, logger: logger}
}

// RestoreSession rebuilds the agent's tmux session if it is gone and
// relaunches the agent's CLI in its original pane. The agent keeps its
// identity, worktree, and task assignment.
func (r *Reviver) RestoreSession(agent *domain.Agent) error {
	if !agent.HasPane() {
		return domain.Validation("agent " + agent.ID + " has no pane to restore")
	}
	if !r.prov.tm.HasSession(agent.SessionName) {
		if err := r.rebuildGrid(agent.SessionName); err != nil {
			return fmt.Errorf("rebuild session %s: %w", agent.SessionName, err)
		}
	}
	if _, err := r.disp.Initialize(agent.ID); err != nil {
		return err
	}
	r.logger.Info("session restored for agent", zap.String("agent", agent.ID))
	return nil
}

// RespawnWorker registers a fresh worker in the dead worker's pane slot and
// launches its CLI. The caller has already terminated the old record, so the
// pane triple is free to reuse.
func (r *Reviver) RespawnWorker(old *domain.Agent) (*domain.Agent, error) {
	if old.Role != domain.RoleWorker {
		return nil, domain.Validation("only workers can be respawned")
	}
	pane := old.PaneRef()
	if !r.prov.tm.PaneAlive(pane.Session, pane.Window, pane.Pane) {
		if err := r.rebuildGrid(old.SessionName); err != nil {
			return nil, fmt.Errorf("rebuild session %s: %w", old.SessionName, err)
		}
	}

	// A dead worker may have left its checkout in any state; rebuild it on
	// the same branch so the replacement starts from committed work.
	if r.worktrees != nil && old.WorktreePath != "" && old.Branch != "" {
		if _, err := r.worktrees.Recreate(old.WorktreePath, old.Branch); err != nil {
			r.logger.Warn("worktree recreate failed, replacement keeps the old checkout",
				zap.String("path", old.WorktreePath), zap.Error(err))
		}
	}

	replacement := &domain.Agent{
		ID:           fmt.Sprintf("worker%d-%s", old.WorkerSlot, uuid.NewString()[:8]),
		Role:         domain.RoleWorker,
		Status:       domain.AgentIdle,
		SessionName:  old.SessionName,
		WindowIndex:  old.WindowIndex,
		PaneIndex:    old.PaneIndex,
		WorkingDir:   old.WorkingDir,
		WorktreePath: old.WorktreePath,
		Branch:       old.Branch,
		AICli:        old.AICli,
		WorkerSlot:   old.WorkerSlot,
		LastActivity: time.Now().UTC(),
	}
	if err := r.reg.Register(replacement); err != nil {
		return nil, err
	}
	if _, err := r.disp.Initialize(replacement.ID); err != nil {
		return nil, err
	}
	r.logger.Info("worker respawned",
		zap.String("old", old.ID), zap.String("new", replacement.ID),
		zap.Int("slot", old.WorkerSlot))
	return replacement, nil
}

// rebuildGrid recreates the session's pane grid sized to the highest live
// worker slot, so every registered pane address is valid again.
func (r *Reviver) rebuildGrid(sessionName string) error {
	workers := r.prov.settings.ActiveProfile().WorkerCount
	if live, err := r.reg.Live(); err == nil {
		for _, a := range live {
			if a.WorkerSlot > workers {
				workers = a.WorkerSlot
			}
		}
	}
	_, err := r.prov.buildGrid(sessionName, workers)
	return err
}
