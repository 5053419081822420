package dispatch

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/config"
	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/fsutil"
	"github.com/jaakkos/crewmux/internal/registry"
	"github.com/jaakkos/crewmux/internal/tmux"
)

// Terminal is the pane surface the dispatcher drives.
type Terminal interface {
	SendKeys(target, command string, clearInput bool) error
	CapturePane(target string, lines int) (string, error)
	PaneAlive(session string, window, pane int) bool
}

// SettingsLoader re-reads settings for a project root. Dispatch re-resolves
// the CLI chain on every call so env/config edits take effect without a
// server restart.
type SettingsLoader func(projectRoot string) (*config.Settings, error)

// Dispatcher writes task briefs and drives agent panes.
type Dispatcher struct {
	projectRoot string
	reg         *registry.Registry
	term        Terminal
	load        SettingsLoader
	logger      *zap.Logger
}

// NewDispatcher returns a Dispatcher. load may be nil; config.Load is used.
func NewDispatcher(projectRoot string, reg *registry.Registry, term Terminal, load SettingsLoader, logger *zap.Logger) *Dispatcher {
	if load == nil {
		load = config.Load
	}
	return &Dispatcher{
		projectRoot: projectRoot,
		reg:         reg,
		term:        term,
		load:        load,
		logger:      logger,
	}
}

// Result reports one dispatch.
type Result struct {
	AgentID  string `json:"agent_id"`
	TaskFile string `json:"task_file"`
	CLI      string `json:"ai_cli"`
	Model    string `json:"model,omitempty"`
	Command  string `json:"command"`
}

// SendTask writes {session_dir}/tasks/{agent_id}.md and launches the agent's
// CLI with the brief on stdin. The session id must match the agent's session
// so task files stay centralized under one session directory.
func (d *Dispatcher) SendTask(agentID, taskContent, sessionID string) (*Result, error) {
	if sessionID != d.reg.SessionID() {
		return nil, domain.Validation(fmt.Sprintf(
			"session mismatch: agent belongs to %q, got %q", d.reg.SessionID(), sessionID))
	}
	agent, err := d.reg.Lookup(agentID)
	if err != nil {
		return nil, err
	}
	if !agent.Live() {
		return nil, domain.Validation("agent " + agentID + " is terminated")
	}
	if !agent.HasPane() {
		return nil, domain.Validation("agent " + agentID + " has no pane to dispatch to")
	}

	settings, err := d.load(d.projectRoot)
	if err != nil {
		return nil, err
	}
	paths := settings.NewPaths(d.projectRoot)

	taskFile := filepath.Join(paths.TasksDir(sessionID), fsutil.SanitizeName(agentID)+".md")
	if err := fsutil.WriteFileAtomic(taskFile, []byte(taskContent), 0o644); err != nil {
		return nil, err
	}

	cli, model := d.resolve(settings, agent)
	workdir := agent.WorktreePath
	if workdir == "" {
		workdir = agent.WorkingDir
	}
	command := StdinCommand(cli, taskFile, workdir, d.projectRoot, model)
	if err := d.term.SendKeys(agent.PaneRef().Target(), command, true); err != nil {
		return nil, err
	}

	if err := d.reg.Update(agentID, func(a *domain.Agent) error {
		a.AICli = cli
		a.Status = domain.AgentBusy
		a.LastActivity = time.Now().UTC()
		return nil
	}); err != nil {
		d.logger.Warn("agent record update after dispatch failed",
			zap.String("agent", agentID), zap.Error(err))
	}
	d.logger.Info("task dispatched",
		zap.String("agent", agentID), zap.String("cli", cli), zap.String("file", taskFile))
	return &Result{AgentID: agentID, TaskFile: taskFile, CLI: cli, Model: model, Command: command}, nil
}

// Initialize launches the agent's CLI interactively, without a task brief.
// Used right after workspace provisioning and by session restore.
func (d *Dispatcher) Initialize(agentID string) (*Result, error) {
	agent, err := d.reg.Lookup(agentID)
	if err != nil {
		return nil, err
	}
	if !agent.Live() || !agent.HasPane() {
		return nil, domain.Validation("agent " + agentID + " cannot be initialized")
	}
	settings, err := d.load(d.projectRoot)
	if err != nil {
		return nil, err
	}
	cli, model := d.resolve(settings, agent)
	workdir := agent.WorktreePath
	if workdir == "" {
		workdir = agent.WorkingDir
	}
	command := LaunchCommand(cli, workdir, d.projectRoot, model)
	if err := d.term.SendKeys(agent.PaneRef().Target(), command, true); err != nil {
		return nil, err
	}
	if err := d.reg.Update(agentID, func(a *domain.Agent) error {
		a.AICli = cli
		a.LastActivity = time.Now().UTC()
		return nil
	}); err != nil {
		d.logger.Warn("agent record update after initialize failed",
			zap.String("agent", agentID), zap.Error(err))
	}
	return &Result{AgentID: agentID, CLI: cli, Model: model, Command: command}, nil
}

// SendCommand types a raw command into the agent's pane.
func (d *Dispatcher) SendCommand(agentID, command string) error {
	agent, err := d.reg.Lookup(agentID)
	if err != nil {
		return err
	}
	if !agent.Live() || !agent.HasPane() {
		return domain.Validation("agent " + agentID + " has no live pane")
	}
	if err := d.term.SendKeys(agent.PaneRef().Target(), command, true); err != nil {
		return err
	}
	return d.reg.Touch(agentID)
}

// GetOutput captures the tail of the agent's pane.
func (d *Dispatcher) GetOutput(agentID string, lines int) (string, error) {
	agent, err := d.reg.Lookup(agentID)
	if err != nil {
		return "", err
	}
	if !agent.HasPane() {
		return "", domain.Validation("agent " + agentID + " has no pane")
	}
	return d.term.CapturePane(agent.PaneRef().Target(), lines)
}

// Broadcast sends a command to every live pane-holding agent. Workers always
// receive it; includeAdmin adds the admin pane. Per-agent failures are
// collected, not fatal.
func (d *Dispatcher) Broadcast(command string, includeAdmin bool) (sent []string, failures []string, err error) {
	agents, err := d.reg.Live()
	if err != nil {
		return nil, nil, err
	}
	for _, a := range agents {
		if !a.HasPane() {
			continue
		}
		if a.Role == domain.RoleAdmin && !includeAdmin {
			continue
		}
		if err := d.term.SendKeys(a.PaneRef().Target(), command, true); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", a.ID, err))
			continue
		}
		sent = append(sent, a.ID)
	}
	return sent, failures, nil
}

// resolve runs the CLI/model resolution chain for an agent's role and slot.
func (d *Dispatcher) resolve(s *config.Settings, agent *domain.Agent) (cli, model string) {
	profile := s.ActiveProfile()
	if agent.Role == domain.RoleAdmin {
		return s.ResolveAdminCli(), profile.AdminModel
	}
	cli = s.ResolveWorkerCli(agent.WorkerSlot)
	model = s.WorkerModel
	if model == "" {
		model = profile.WorkerModel
	}
	return cli, model
}

var _ Terminal = (*tmux.Client)(nil)
