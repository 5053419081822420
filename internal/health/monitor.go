package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
)

// Monitor is the background loop: check all agents every interval, recover
// the unhealthy ones, and stop itself once the session has gone quiet.
type Monitor struct {
	sup           *Supervisor
	interval      time.Duration
	idleStopAfter int
	logger        *zap.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	idleRuns int

	// LastPass summarizes the most recent iteration for the status tools.
	lastPass PassReport
}

// PassReport is the outcome of one monitor iteration.
type PassReport struct {
	At        time.Time         `json:"at"`
	Checked   int               `json:"checked"`
	Unhealthy int               `json:"unhealthy"`
	Outcomes  []RecoveryOutcome `json:"outcomes,omitempty"`
}

// NewMonitor returns a stopped monitor.
func NewMonitor(sup *Supervisor, interval time.Duration, idleStopAfter int, logger *zap.Logger) *Monitor {
	return &Monitor{
		sup:           sup,
		interval:      interval,
		idleStopAfter: idleStopAfter,
		logger:        logger,
	}
}

// Start launches the loop. Starting a running monitor is a no-op, so
// create_agent and batch-create may both call it.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.idleRuns = 0
	go m.loop(ctx)
	m.logger.Info("health monitor started", zap.Duration("interval", m.interval))
}

// Stop terminates the loop and waits for the current pass to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("health monitor stopped")
}

// Running reports whether the loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// LastPass returns the most recent iteration report.
func (m *Monitor) LastPass() PassReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPass
}

func (m *Monitor) loop(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		m.running = false
		close(m.done)
		m.mu.Unlock()
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stop := m.runPass(); stop {
				m.logger.Info("health monitor self-stopping, session idle")
				return
			}
		}
	}
}

// RunPass executes one iteration immediately (monitor_and_recover_workers).
func (m *Monitor) RunPass() PassReport {
	m.runPass()
	return m.LastPass()
}

// runPass performs one check-and-recover sweep. Returns true when the idle
// self-stop condition has held for enough consecutive passes.
func (m *Monitor) runPass() bool {
	report := PassReport{At: time.Now().UTC()}

	all, unhealthy, err := m.sup.engine.CheckAll()
	if err != nil {
		m.logger.Warn("health pass failed", zap.Error(err))
		return false
	}
	report.Checked = len(all)
	report.Unhealthy = len(unhealthy)

	for _, res := range unhealthy {
		agent, err := m.sup.reg.Lookup(res.AgentID)
		if err != nil {
			continue
		}
		out, err := m.sup.Recover(agent, res)
		if err != nil {
			// One stuck recovery must not block the sweep.
			m.logger.Warn("recovery error", zap.String("agent", res.AgentID), zap.Error(err))
			continue
		}
		report.Outcomes = append(report.Outcomes, *out)
	}

	idle := m.sessionIdle()
	m.mu.Lock()
	m.lastPass = report
	if idle {
		m.idleRuns++
	} else {
		m.idleRuns = 0
	}
	stop := m.idleStopAfter > 0 && m.idleRuns >= m.idleStopAfter
	m.mu.Unlock()
	return stop
}

// sessionIdle holds when every worker is idle with no task and the dashboard
// has nothing in progress.
func (m *Monitor) sessionIdle() bool {
	agents, err := m.sup.reg.Live()
	if err != nil {
		return false
	}
	for _, a := range agents {
		if a.Role != domain.RoleWorker {
			continue
		}
		if a.Status != domain.AgentIdle || a.CurrentTaskID != "" {
			return false
		}
	}
	d, err := m.sup.dash.Get()
	if err != nil {
		return false
	}
	return d.InProgressCount() == 0
}
