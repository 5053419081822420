package health

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/dashboard"
	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/ipc"
	"github.com/jaakkos/crewmux/internal/registry"
)

type fakeTerminal struct {
	sessionAlive bool
	paneAlive    bool
	tail         string
	interrupts   []string
}

func (f *fakeTerminal) HasSession(string) bool          { return f.sessionAlive }
func (f *fakeTerminal) PaneAlive(string, int, int) bool { return f.paneAlive }
func (f *fakeTerminal) CapturePane(string, int) (string, error) {
	return f.tail, nil
}
func (f *fakeTerminal) SendInterrupt(target string) error {
	f.interrupts = append(f.interrupts, target)
	return nil
}

type fakeRecoverer struct {
	restoreErr error
	respawnErr error
	respawned  []*domain.Agent
	reg        *registry.Registry
}

func (f *fakeRecoverer) RestoreSession(agent *domain.Agent) error { return f.restoreErr }

func (f *fakeRecoverer) RespawnWorker(old *domain.Agent) (*domain.Agent, error) {
	if f.respawnErr != nil {
		return nil, f.respawnErr
	}
	replacement := &domain.Agent{
		ID:          old.ID + "-r",
		Role:        domain.RoleWorker,
		Status:      domain.AgentIdle,
		SessionName: old.SessionName,
		WindowIndex: old.WindowIndex,
		PaneIndex:   old.PaneIndex,
		WorkerSlot:  old.WorkerSlot,
		AICli:       old.AICli,
	}
	if err := f.reg.Register(replacement); err != nil {
		return nil, err
	}
	f.respawned = append(f.respawned, replacement)
	return replacement, nil
}

type fixture struct {
	reg  *registry.Registry
	dash *dashboard.Store
	mb   *ipc.Mailbox
	term *fakeTerminal
	rec  *fakeRecoverer
	eng  *Engine
	sup  *Supervisor
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()
	dir := t.TempDir()
	reg := registry.New("sess", dir, filepath.Join(dir, "agents.json"), "", 9, zap.NewNop())
	dash := dashboard.NewStore(
		filepath.Join(dir, "dashboard", "dashboard.md"),
		filepath.Join(dir, "dashboard", "dashboard.lock"),
		zap.NewNop())
	if err := dash.Init("ws", dir); err != nil {
		t.Fatal(err)
	}
	mb := ipc.NewMailbox(filepath.Join(dir, "ipc"), nil, zap.NewNop())
	term := &fakeTerminal{sessionAlive: true, paneAlive: true, tail: "output"}
	rec := &fakeRecoverer{reg: reg}
	eng := NewEngine(reg, term, 100*time.Millisecond, zap.NewNop())
	sup := NewSupervisor(eng, reg, dash, mb, rec, maxAttempts, zap.NewNop())
	return &fixture{reg: reg, dash: dash, mb: mb, term: term, rec: rec, eng: eng, sup: sup}
}

func busyWorker(id string, taskID string) *domain.Agent {
	return &domain.Agent{
		ID:            id,
		Role:          domain.RoleWorker,
		Status:        domain.AgentBusy,
		SessionName:   "dev",
		PaneIndex:     1,
		WorkerSlot:    1,
		CurrentTaskID: taskID,
		LastActivity:  time.Now().Add(-time.Hour),
	}
}

func TestCheckHealthy(t *testing.T) {
	f := newFixture(t, 3)
	agent := &domain.Agent{ID: "w1", Role: domain.RoleWorker, Status: domain.AgentIdle,
		SessionName: "dev", LastActivity: time.Now()}

	res := f.eng.Check(agent)
	if !res.Healthy {
		t.Errorf("result = %+v", res)
	}
}

func TestCheckSkipsTerminatedAndOwner(t *testing.T) {
	f := newFixture(t, 3)
	f.term.paneAlive = false

	dead := &domain.Agent{ID: "w1", Role: domain.RoleWorker, Status: domain.AgentTerminated, SessionName: "dev"}
	if res := f.eng.Check(dead); !res.Healthy {
		t.Error("terminated agents must not be reported unhealthy")
	}
	owner := &domain.Agent{ID: "o1", Role: domain.RoleOwner, Status: domain.AgentIdle}
	if res := f.eng.Check(owner); !res.Healthy {
		t.Error("the pane-less owner is always healthy")
	}
}

func TestCheckSessionDead(t *testing.T) {
	f := newFixture(t, 3)
	f.term.paneAlive = false

	res := f.eng.Check(busyWorker("w1", "t1"))
	if res.Healthy || !res.SessionDead {
		t.Errorf("result = %+v", res)
	}
	if len(res.Reasons) != 1 || res.Reasons[0] != ReasonSessionDead {
		t.Errorf("reasons = %v", res.Reasons)
	}
}

func TestStallNeedsTwoIdenticalTails(t *testing.T) {
	f := newFixture(t, 3)
	agent := busyWorker("w1", "t1")

	// First aged poll only records the baseline.
	if res := f.eng.Check(agent); !res.Healthy {
		t.Fatalf("first poll should be healthy: %+v", res)
	}
	// Second poll, unchanged tail: stalled.
	res := f.eng.Check(agent)
	if res.Healthy || !res.TaskStalled {
		t.Fatalf("second poll should stall: %+v", res)
	}

	// A changing tail clears the verdict.
	f.term.tail = "fresh output"
	if res := f.eng.Check(agent); !res.Healthy {
		t.Errorf("changed tail should be healthy: %+v", res)
	}
}

func TestNoStallWithoutTask(t *testing.T) {
	f := newFixture(t, 3)
	agent := busyWorker("w1", "")
	f.eng.Check(agent)
	if res := f.eng.Check(agent); !res.Healthy {
		t.Errorf("idle agent must not stall: %+v", res)
	}
}

func TestSoftRecoveryInterruptsStalledPane(t *testing.T) {
	f := newFixture(t, 3)
	agent := busyWorker("w1", "t1")
	if err := f.reg.Register(agent); err != nil {
		t.Fatal(err)
	}

	res := CheckResult{AgentID: "w1", TaskStalled: true, Reasons: []string{ReasonTaskStalled}}
	out, err := f.sup.AttemptRecovery(agent, res)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Recovered || out.Stage != "soft" {
		t.Errorf("outcome = %+v", out)
	}
	if len(f.term.interrupts) != 1 {
		t.Errorf("interrupts = %v", f.term.interrupts)
	}
	got, _ := f.reg.Lookup("w1")
	if time.Since(got.LastActivity) > time.Minute {
		t.Error("last_activity should be refreshed")
	}
}

func TestFullRecoveryReassignsTask(t *testing.T) {
	f := newFixture(t, 3)
	task, _ := f.dash.CreateTask("work", "", nil, "")
	f.dash.SyncAgents([]domain.AgentSummary{{ID: "w1", Role: domain.RoleWorker, Status: domain.AgentBusy}})
	f.dash.AssignTask(task.ID, "w1")

	agent := busyWorker("w1", task.ID)
	if err := f.reg.Register(agent); err != nil {
		t.Fatal(err)
	}

	out, err := f.sup.FullRecovery(agent, ReasonSessionDead)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Recovered || out.NewAgentID != "w1-r" {
		t.Fatalf("outcome = %+v", out)
	}

	old, _ := f.reg.Lookup("w1")
	if old.Status != domain.AgentTerminated {
		t.Error("old agent should be terminated")
	}
	replacement, _ := f.reg.Lookup("w1-r")
	if replacement.CurrentTaskID != task.ID || replacement.Status != domain.AgentBusy {
		t.Errorf("replacement = %+v", replacement)
	}

	got, _ := f.dash.GetTask(task.ID)
	if got.AssignedAgentID != "w1-r" || got.PreviousAgentID != "w1" {
		t.Errorf("task = %+v", got)
	}

	d, _ := f.dash.Get()
	if d.ProcessRecoveryCount != 1 {
		t.Errorf("recovery count = %d", d.ProcessRecoveryCount)
	}
	if got.MetaInt(domain.MetaRecoveryCount) != 1 {
		t.Error("task recovery metadata missing")
	}
}

func TestRecoveryExhaustionFailsTask(t *testing.T) {
	f := newFixture(t, 2)
	admin := &domain.Agent{ID: "admin-1", Role: domain.RoleAdmin, Status: domain.AgentIdle, SessionName: "dev"}
	if err := f.reg.Register(admin); err != nil {
		t.Fatal(err)
	}
	task, _ := f.dash.CreateTask("doomed", "", nil, "")
	f.dash.UpdateTaskStatus(task.ID, domain.TaskInProgress, nil, "")

	agent := busyWorker("w1", task.ID)
	agent.PaneIndex = 2
	if err := f.reg.Register(agent); err != nil {
		t.Fatal(err)
	}
	// Soft and full both fail so every Recover call burns an attempt.
	f.rec.restoreErr = domain.Validation("session gone")
	f.rec.respawnErr = domain.Validation("spawn failed")
	res := CheckResult{AgentID: "w1", SessionDead: true, Reasons: []string{ReasonSessionDead}}

	var last *RecoveryOutcome
	for i := 0; i < 3; i++ {
		var err error
		last, err = f.sup.Recover(agent, res)
		if err != nil {
			t.Fatalf("Recover %d: %v", i, err)
		}
	}
	if last.Stage != "task_failed" || last.Detail != domain.CodeRecoveryExhausted {
		t.Fatalf("outcome = %+v", last)
	}

	got, _ := f.dash.GetTask(task.ID)
	if got.Status != domain.TaskFailed || got.ErrorMessage != "recovery exhausted" {
		t.Errorf("task = %+v", got)
	}
	w, _ := f.reg.Lookup("w1")
	if w.Status != domain.AgentIdle || w.CurrentTaskID != "" {
		t.Errorf("worker = %+v", w)
	}

	msgs, _ := f.mb.Read("admin-1", false, false)
	if len(msgs) != 1 || msgs[0].MessageType != domain.MsgError {
		t.Fatalf("admin mailbox = %+v", msgs)
	}
	if msgs[0].TaskID() != task.ID {
		t.Error("error notice should carry the task id")
	}

	// One crash per diagnosed failure, exhaustion included.
	d, _ := f.dash.Get()
	if d.ProcessCrashCount != 3 {
		t.Errorf("crash count = %d, want 3", d.ProcessCrashCount)
	}
}

func TestRecoverBumpsCrashCounter(t *testing.T) {
	f := newFixture(t, 3)
	agent := busyWorker("w1", "t1")
	if err := f.reg.Register(agent); err != nil {
		t.Fatal(err)
	}

	res := CheckResult{AgentID: "w1", TaskStalled: true, Reasons: []string{ReasonTaskStalled}}
	if _, err := f.sup.Recover(agent, res); err != nil {
		t.Fatal(err)
	}

	d, _ := f.dash.Get()
	if d.ProcessCrashCount != 1 {
		t.Errorf("crash count = %d, want 1", d.ProcessCrashCount)
	}
}

type fakeDeliveries struct {
	at map[string]time.Time
}

func (f *fakeDeliveries) LastDelivery(id string) (time.Time, bool) {
	ts, ok := f.at[id]
	return ts, ok
}

func TestFreshDeliveryDefersStallVerdict(t *testing.T) {
	f := newFixture(t, 3)
	agent := busyWorker("w1", "t1")
	src := &fakeDeliveries{at: map[string]time.Time{"w1": time.Now()}}
	f.eng.SetDeliverySource(src)

	// An aged agent with a fresh mailbox delivery has work it has not had
	// time to react to; two polls must both come back healthy.
	for i := 0; i < 2; i++ {
		if res := f.eng.Check(agent); !res.Healthy {
			t.Fatalf("poll %d: %+v", i, res)
		}
	}

	// Once the delivery itself is stale the stall detection resumes.
	src.at["w1"] = time.Now().Add(-time.Hour)
	f.eng.Check(agent) // baseline
	if res := f.eng.Check(agent); res.Healthy || !res.TaskStalled {
		t.Errorf("result = %+v", res)
	}
}

func TestMonitorIdleSelfStop(t *testing.T) {
	f := newFixture(t, 3)
	idle := &domain.Agent{ID: "w1", Role: domain.RoleWorker, Status: domain.AgentIdle,
		SessionName: "dev", PaneIndex: 1, WorkerSlot: 1, LastActivity: time.Now()}
	if err := f.reg.Register(idle); err != nil {
		t.Fatal(err)
	}

	m := NewMonitor(f.sup, 10*time.Millisecond, 2, zap.NewNop())
	m.Start()
	if !m.Running() {
		t.Fatal("monitor should be running")
	}

	deadline := time.After(2 * time.Second)
	for m.Running() {
		select {
		case <-deadline:
			t.Fatal("monitor did not self-stop on idle session")
		case <-time.After(10 * time.Millisecond):
		}
	}

	pass := m.LastPass()
	if pass.Checked != 1 || pass.Unhealthy != 0 {
		t.Errorf("last pass = %+v", pass)
	}
}

func TestMonitorStartIsIdempotent(t *testing.T) {
	f := newFixture(t, 3)
	m := NewMonitor(f.sup, time.Hour, 0, zap.NewNop())
	m.Start()
	m.Start()
	m.Stop()
	if m.Running() {
		t.Error("monitor should be stopped")
	}
	m.Stop() // stopping again is harmless
}
