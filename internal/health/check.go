// Package health watches agents for dead panes and stalled tasks and drives
// the staged recovery ladder: soft reattach, full respawn, then task failure
// when the attempt budget is spent.
package health

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/registry"
)

// Terminal is the slice of the terminal adapter the engine needs.
type Terminal interface {
	HasSession(session string) bool
	PaneAlive(session string, window, pane int) bool
	CapturePane(target string, lines int) (string, error)
	SendInterrupt(target string) error
}

// Check reasons, stable strings surfaced to tool callers.
const (
	ReasonSessionDead = "tmux_session_dead"
	ReasonTaskStalled = "task_stalled"
)

// CheckResult is one agent's verdict.
type CheckResult struct {
	AgentID     string   `json:"agent_id"`
	Healthy     bool     `json:"healthy"`
	SessionDead bool     `json:"session_dead"`
	TaskStalled bool     `json:"task_stalled"`
	Reasons     []string `json:"reasons,omitempty"`
}

// paneTailLines is how much pane output feeds the stall hash.
const paneTailLines = 50

// DeliverySource reports the last mailbox delivery time per recipient. The
// ipc watcher implements it.
type DeliverySource interface {
	LastDelivery(receiverID string) (time.Time, bool)
}

// Engine performs stateless checks with one piece of cross-poll state: the
// previous pane-tail hash per agent, needed to detect an unchanged tail.
type Engine struct {
	reg          *registry.Registry
	term         Terminal
	stallTimeout time.Duration
	deliveries   DeliverySource
	logger       *zap.Logger

	mu    sync.Mutex
	tails map[string]string // agent id -> last observed tail hash
}

// NewEngine returns a check engine.
func NewEngine(reg *registry.Registry, term Terminal, stallTimeout time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		reg:          reg,
		term:         term,
		stallTimeout: stallTimeout,
		logger:       logger,
		tails:        make(map[string]string),
	}
}

// SetDeliverySource wires mailbox delivery times into the stall clock. Call
// before the first Check.
func (e *Engine) SetDeliverySource(src DeliverySource) {
	e.deliveries = src
}

// Check evaluates one agent. Terminated agents and the pane-less owner are
// always healthy.
func (e *Engine) Check(agent *domain.Agent) CheckResult {
	res := CheckResult{AgentID: agent.ID, Healthy: true}
	if !agent.Live() || !agent.HasPane() {
		return res
	}

	pane := agent.PaneRef()
	if !e.term.HasSession(pane.Session) || !e.term.PaneAlive(pane.Session, pane.Window, pane.Pane) {
		res.Healthy = false
		res.SessionDead = true
		res.Reasons = append(res.Reasons, ReasonSessionDead)
		return res
	}

	// A freshly delivered message counts as activity: the agent has new work
	// it has not had time to react to yet.
	last := agent.LastActivity
	if e.deliveries != nil {
		if t, ok := e.deliveries.LastDelivery(agent.ID); ok && t.After(last) {
			last = t
		}
	}
	if agent.CurrentTaskID != "" && time.Since(last) > e.stallTimeout {
		hash := e.tailHash(pane.Target())
		e.mu.Lock()
		prev, seen := e.tails[agent.ID]
		e.tails[agent.ID] = hash
		e.mu.Unlock()
		// A stall needs two consecutive polls with an identical tail; the
		// first aged observation only records the baseline.
		if seen && hash != "" && hash == prev {
			res.Healthy = false
			res.TaskStalled = true
			res.Reasons = append(res.Reasons, ReasonTaskStalled)
		}
	} else {
		e.forget(agent.ID)
	}
	return res
}

// CheckAll evaluates every live agent and returns all results plus the
// unhealthy subset.
func (e *Engine) CheckAll() (all []CheckResult, unhealthy []CheckResult, err error) {
	agents, err := e.reg.Live()
	if err != nil {
		return nil, nil, err
	}
	for _, a := range agents {
		res := e.Check(a)
		all = append(all, res)
		if !res.Healthy {
			unhealthy = append(unhealthy, res)
		}
	}
	return all, unhealthy, nil
}

// forget drops the stored tail baseline, e.g. after recovery or when the
// agent goes idle.
func (e *Engine) forget(agentID string) {
	e.mu.Lock()
	delete(e.tails, agentID)
	e.mu.Unlock()
}

func (e *Engine) tailHash(target string) string {
	tail, err := e.term.CapturePane(target, paneTailLines)
	if err != nil {
		e.logger.Debug("pane capture failed", zap.String("target", target), zap.Error(err))
		return ""
	}
	sum := sha256.Sum256([]byte(tail))
	return hex.EncodeToString(sum[:])
}
