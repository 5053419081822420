package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/config"
	"github.com/jaakkos/crewmux/internal/dispatch"
	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/registry"
	"github.com/jaakkos/crewmux/internal/tmux"
)

// fakeRunner simulates enough tmux state for provisioning: session liveness,
// window indices, and an optional failure injected at the Nth split.
type fakeRunner struct {
	calls       [][]string
	hasSession  bool
	windows     []int
	panes       string
	splitCount  int
	failOnSplit int // 1-based; 0 disables
}

func (f *fakeRunner) Run(args ...string) (string, error) {
	f.calls = append(f.calls, args)
	switch args[0] {
	case "has-session":
		if f.hasSession {
			return "", nil
		}
		return "", errors.New("no such session")
	case "new-session":
		f.hasSession = true
		f.windows = []int{0}
	case "kill-session":
		f.hasSession = false
	case "new-window":
		next := 0
		if len(f.windows) > 0 {
			next = f.windows[len(f.windows)-1] + 1
		}
		f.windows = append(f.windows, next)
	case "list-windows":
		var b strings.Builder
		for _, w := range f.windows {
			fmt.Fprintf(&b, "%d\n", w)
		}
		return b.String(), nil
	case "list-panes":
		return f.panes, nil
	case "split-window":
		f.splitCount++
		if f.failOnSplit > 0 && f.splitCount == f.failOnSplit {
			return "", errors.New("split failed")
		}
	}
	return "", nil
}

func (f *fakeRunner) count(cmd string) int {
	n := 0
	for _, c := range f.calls {
		if c[0] == cmd {
			n++
		}
	}
	return n
}

func testSettings() *config.Settings {
	return &config.Settings{
		MCPDir:          "crewmux",
		MaxWorkers:      10,
		TmuxPrefix:      "crewmux",
		EnableGit:       true,
		DefaultAICli:    "claude",
		ModelProfile:    config.ProfileStandard,
		ExtraWindowRows: 2,
		ExtraWindowCols: 2,
	}
}

func newTestProvisioner(t *testing.T) (*Provisioner, *fakeRunner, string) {
	t.Helper()
	root := t.TempDir()
	runner := &fakeRunner{panes: "0\n1\n2\n3\n4\n5\n6\n"}
	tm := tmux.NewClient(runner, zap.NewNop())
	return NewProvisioner(root, testSettings(), tm, zap.NewNop()), runner, root
}

func TestInitProvisionsTreeAndGrid(t *testing.T) {
	p, runner, root := newTestProvisioner(t)

	res, err := p.Init("s1", 3, nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !res.Created || res.SessionName != "crewmux-s1" || !res.EnableGit {
		t.Errorf("result = %+v", res)
	}

	for _, dir := range []string{
		filepath.Join(root, "crewmux", "s1", "tasks"),
		filepath.Join(root, "crewmux", "s1", "reports"),
		filepath.Join(root, "crewmux", "s1", "ipc"),
		filepath.Join(root, "crewmux", "s1", "memory"),
		filepath.Join(root, "crewmux", "s1", "worktrees"),
		filepath.Join(root, "crewmux", "memory"),
		filepath.Join(root, "crewmux", "screenshot"),
	} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("missing dir %s", dir)
		}
	}

	data, err := os.ReadFile(filepath.Join(root, "crewmux", "config.json"))
	if err != nil {
		t.Fatalf("config.json: %v", err)
	}
	var sc config.SessionConfig
	if err := json.Unmarshal(data, &sc); err != nil {
		t.Fatal(err)
	}
	if sc.SessionID != "s1" || !sc.EnableGit {
		t.Errorf("config = %+v", sc)
	}

	// Main window: 3 column cuts + 3 row cuts, no overflow windows.
	if got := runner.count("split-window"); got != 6 {
		t.Errorf("splits = %d, want 6", got)
	}
	if got := runner.count("new-window"); got != 0 {
		t.Errorf("extra windows = %d, want 0", got)
	}
	if res.ExtraWindows != 0 {
		t.Errorf("ExtraWindows = %d", res.ExtraWindows)
	}
}

func TestInitOverflowWindows(t *testing.T) {
	p, runner, _ := newTestProvisioner(t)

	// 9 workers, 2x2 overflow grids: 3 overflow workers need one extra window.
	res, err := p.Init("s1", 9, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExtraWindows != 1 {
		t.Errorf("ExtraWindows = %d, want 1", res.ExtraWindows)
	}
	if got := runner.count("new-window"); got != 1 {
		t.Errorf("new-window calls = %d", got)
	}
	// 6 main splits + 1 column cut + 2 row cuts in the grid window.
	if got := runner.count("split-window"); got != 9 {
		t.Errorf("splits = %d, want 9", got)
	}
}

func TestInitCapsWorkersAtMax(t *testing.T) {
	p, _, _ := newTestProvisioner(t)
	res, err := p.Init("s1", 50, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.WorkerPanes != 10 {
		t.Errorf("WorkerPanes = %d, want max_workers", res.WorkerPanes)
	}
}

func TestInitRollsBackOnSplitFailure(t *testing.T) {
	p, runner, _ := newTestProvisioner(t)
	runner.failOnSplit = 4

	if _, err := p.Init("s1", 3, nil); err == nil {
		t.Fatal("Init should fail")
	}
	if runner.count("kill-session") != 1 {
		t.Error("failed provisioning must tear the session down")
	}
	if runner.hasSession {
		t.Error("session should be gone after rollback")
	}
}

func TestInitReusesExistingSession(t *testing.T) {
	p, runner, _ := newTestProvisioner(t)
	runner.hasSession = true

	res, err := p.Init("s1", 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Created {
		t.Error("existing session must not be re-created")
	}
	if runner.count("new-session") != 0 {
		t.Error("no new-session expected")
	}
}

func TestEnableGitResolutionChain(t *testing.T) {
	p, _, root := newTestProvisioner(t)

	// Existing config.json beats the settings default.
	cfgPath := filepath.Join(root, "crewmux", "config.json")
	if err := config.SaveSessionConfig(cfgPath, &config.SessionConfig{SessionID: "s1", EnableGit: false}); err != nil {
		t.Fatal(err)
	}
	res, err := p.Init("s1", 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.EnableGit {
		t.Error("config.json enable_git=false should win over settings")
	}
	if _, err := os.Stat(filepath.Join(root, "crewmux", "s1", "worktrees")); err == nil {
		t.Error("worktrees dir must not exist in non-git mode")
	}

	// An explicit argument beats config.json, and the file is rewritten.
	enable := true
	res, err = p.Init("s1", 3, &enable)
	if err != nil {
		t.Fatal(err)
	}
	if !res.EnableGit {
		t.Error("explicit arg should win")
	}
	sc, err := config.LoadSessionConfig(cfgPath)
	if err != nil || sc == nil || !sc.EnableGit {
		t.Errorf("config.json not rewritten: %+v, %v", sc, err)
	}
}

func TestCleanupRemovesSessionDir(t *testing.T) {
	p, runner, root := newTestProvisioner(t)
	if _, err := p.Init("s1", 3, nil); err != nil {
		t.Fatal(err)
	}

	if err := p.Cleanup("s1", true); err != nil {
		t.Fatal(err)
	}
	if runner.hasSession {
		t.Error("tmux session should be killed")
	}
	if _, err := os.Stat(filepath.Join(root, "crewmux", "s1")); !os.IsNotExist(err) {
		t.Error("session dir should be removed")
	}
	// Project-level memory survives cleanup.
	if _, err := os.Stat(filepath.Join(root, "crewmux", "memory")); err != nil {
		t.Error("project memory must survive")
	}
}

func newTestReviver(t *testing.T) (*Reviver, *registry.Registry, *fakeRunner, string) {
	t.Helper()
	p, runner, root := newTestProvisioner(t)
	runner.hasSession = true
	reg := registry.New("s1", root, filepath.Join(root, "crewmux", "s1", "agents.json"), "", 10, zap.NewNop())
	load := func(string) (*config.Settings, error) { return testSettings(), nil }
	disp := dispatch.NewDispatcher(root, reg, p.tm, load, zap.NewNop())
	return NewReviver(p, reg, disp, nil, zap.NewNop()), reg, runner, root
}

func TestRespawnWorkerReusesSlot(t *testing.T) {
	rev, reg, runner, _ := newTestReviver(t)
	old := &domain.Agent{
		ID: "worker2-dead", Role: domain.RoleWorker, Status: domain.AgentBusy,
		SessionName: "crewmux-s1", PaneIndex: 2, WorkerSlot: 2, WorktreePath: "/wt/w2",
	}
	if err := reg.Register(old); err != nil {
		t.Fatal(err)
	}
	if err := reg.Terminate(old.ID); err != nil {
		t.Fatal(err)
	}

	fresh, err := rev.RespawnWorker(old)
	if err != nil {
		t.Fatalf("RespawnWorker: %v", err)
	}
	if fresh.WorkerSlot != 2 || fresh.PaneIndex != 2 || fresh.WorktreePath != "/wt/w2" {
		t.Errorf("replacement = %+v", fresh)
	}
	if fresh.ID == old.ID {
		t.Error("replacement needs a fresh id")
	}
	if _, err := reg.Lookup(fresh.ID); err != nil {
		t.Errorf("replacement not registered: %v", err)
	}

	// The CLI launch went to the reclaimed pane.
	var launched bool
	for _, c := range runner.calls {
		if c[0] == "send-keys" && len(c) > 3 && c[3] == "-l" && strings.Contains(c[4], "claude") {
			launched = true
		}
	}
	if !launched {
		t.Error("replacement CLI was not launched")
	}
}

type fakeWorktrees struct {
	recreated [][2]string
	err       error
}

func (f *fakeWorktrees) Recreate(path, branch string) (*domain.WorktreeRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.recreated = append(f.recreated, [2]string{path, branch})
	return &domain.WorktreeRecord{Path: path, Branch: branch}, nil
}

func TestRespawnWorkerRebuildsWorktree(t *testing.T) {
	rev, reg, _, _ := newTestReviver(t)
	wt := &fakeWorktrees{}
	rev.worktrees = wt
	old := &domain.Agent{
		ID: "worker1-dead", Role: domain.RoleWorker, Status: domain.AgentBusy,
		SessionName: "crewmux-s1", PaneIndex: 1, WorkerSlot: 1,
		WorktreePath: "/wt/w1", Branch: "work/w1",
	}
	if err := reg.Register(old); err != nil {
		t.Fatal(err)
	}
	if err := reg.Terminate(old.ID); err != nil {
		t.Fatal(err)
	}

	fresh, err := rev.RespawnWorker(old)
	if err != nil {
		t.Fatalf("RespawnWorker: %v", err)
	}
	if len(wt.recreated) != 1 || wt.recreated[0] != [2]string{"/wt/w1", "work/w1"} {
		t.Errorf("recreated = %v", wt.recreated)
	}
	if fresh.WorktreePath != "/wt/w1" || fresh.Branch != "work/w1" {
		t.Errorf("replacement = %+v", fresh)
	}

	// A recreate failure must not block the respawn itself.
	if err := reg.Terminate(fresh.ID); err != nil {
		t.Fatal(err)
	}
	wt.err = domain.Validation("git broke")
	if _, err := rev.RespawnWorker(fresh); err != nil {
		t.Errorf("respawn should survive a recreate failure: %v", err)
	}
}

func TestRespawnRefusesNonWorkers(t *testing.T) {
	rev, _, _, _ := newTestReviver(t)
	admin := &domain.Agent{ID: "admin-1", Role: domain.RoleAdmin, SessionName: "crewmux-s1"}
	if _, err := rev.RespawnWorker(admin); domain.CodeOf(err) != domain.CodeValidation {
		t.Errorf("err = %v", err)
	}
}

func TestRestoreSessionRebuildsDeadGrid(t *testing.T) {
	rev, reg, runner, _ := newTestReviver(t)
	runner.hasSession = false
	agent := &domain.Agent{
		ID: "w1", Role: domain.RoleWorker, Status: domain.AgentBusy,
		SessionName: "crewmux-s1", PaneIndex: 1, WorkerSlot: 1,
	}
	if err := reg.Register(agent); err != nil {
		t.Fatal(err)
	}

	if err := rev.RestoreSession(agent); err != nil {
		t.Fatalf("RestoreSession: %v", err)
	}
	if runner.count("new-session") != 1 {
		t.Error("dead session should be recreated")
	}
	if !runner.hasSession {
		t.Error("session should be alive again")
	}
}
