package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
)

func newTestRegistry(t *testing.T, maxWorkers int) *Registry {
	t.Helper()
	dir := t.TempDir()
	return New("sess-1", dir,
		filepath.Join(dir, "crewmux", "sess-1", "agents.json"),
		filepath.Join(dir, "global-agents"),
		maxWorkers, zap.NewNop())
}

func worker(id string, slot int) *domain.Agent {
	return &domain.Agent{
		ID:          id,
		Role:        domain.RoleWorker,
		Status:      domain.AgentIdle,
		SessionName: "dev",
		WindowIndex: 0,
		PaneIndex:   slot,
		WorkerSlot:  slot,
		AICli:       "claude",
	}
}

func TestRegisterAndLookup(t *testing.T) {
	r := newTestRegistry(t, 5)

	if err := r.Register(worker("w1", 1)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got, err := r.Lookup("w1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got.WorkerSlot != 1 || got.Role != domain.RoleWorker {
		t.Errorf("agent = %+v", got)
	}
	if got.LastActivity.IsZero() {
		t.Error("last_activity should be stamped on register")
	}

	if _, err := r.Lookup("missing"); domain.CodeOf(err) != domain.CodeNotFound {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(t, 5)
	if err := r.Register(worker("w1", 1)); err != nil {
		t.Fatal(err)
	}

	if err := r.Register(worker("w1", 2)); domain.CodeOf(err) != domain.CodeValidation {
		t.Errorf("duplicate id: err = %v", err)
	}

	// Same pane triple, different id.
	dup := worker("w2", 2)
	dup.PaneIndex = 1
	dup.WorkerSlot = 2
	if err := r.Register(dup); domain.CodeOf(err) != domain.CodeValidation {
		t.Errorf("occupied pane: err = %v", err)
	}

	// Same slot on a fresh pane.
	slotDup := worker("w3", 1)
	slotDup.PaneIndex = 3
	if err := r.Register(slotDup); domain.CodeOf(err) != domain.CodeValidation {
		t.Errorf("occupied slot: err = %v", err)
	}
}

func TestRegisterSingleAdminAndOwner(t *testing.T) {
	r := newTestRegistry(t, 5)

	admin := &domain.Agent{ID: "a1", Role: domain.RoleAdmin, Status: domain.AgentIdle, SessionName: "dev"}
	if err := r.Register(admin); err != nil {
		t.Fatal(err)
	}
	admin2 := &domain.Agent{ID: "a2", Role: domain.RoleAdmin, Status: domain.AgentIdle, SessionName: "dev", PaneIndex: 9}
	if err := r.Register(admin2); domain.CodeOf(err) != domain.CodeValidation {
		t.Errorf("second admin: err = %v", err)
	}

	owner := &domain.Agent{ID: "o1", Role: domain.RoleOwner, Status: domain.AgentIdle}
	if err := r.Register(owner); err != nil {
		t.Fatal(err)
	}
	owner2 := &domain.Agent{ID: "o2", Role: domain.RoleOwner, Status: domain.AgentIdle}
	if err := r.Register(owner2); domain.CodeOf(err) != domain.CodeValidation {
		t.Errorf("second owner: err = %v", err)
	}
}

func TestWorkerLimit(t *testing.T) {
	r := newTestRegistry(t, 2)
	if err := r.Register(worker("w1", 1)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(worker("w2", 2)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(worker("w3", 3)); domain.CodeOf(err) != domain.CodeWorkerLimitReached {
		t.Errorf("err = %v, want WorkerLimitReached", err)
	}

	// Terminating frees capacity; the id is never reused.
	if err := r.Terminate("w1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(worker("w3", 1)); err != nil {
		t.Errorf("register after terminate: %v", err)
	}
}

func TestResolveWorkerSlot(t *testing.T) {
	r := newTestRegistry(t, 3)

	slot, err := r.ResolveWorkerSlot()
	if err != nil || slot != 1 {
		t.Fatalf("slot = %d, err = %v", slot, err)
	}
	r.Register(worker("w1", 1))
	r.Register(worker("w2", 2))

	slot, err = r.ResolveWorkerSlot()
	if err != nil || slot != 3 {
		t.Fatalf("slot = %d, err = %v", slot, err)
	}

	// Lowest freed slot wins.
	r.Terminate("w1")
	slot, err = r.ResolveWorkerSlot()
	if err != nil || slot != 1 {
		t.Fatalf("slot after terminate = %d, err = %v", slot, err)
	}

	r.Register(worker("w3", 1))
	r.Register(worker("w4", 3))
	if _, err := r.ResolveWorkerSlot(); domain.CodeOf(err) != domain.CodeWorkerLimitReached {
		t.Errorf("err = %v, want WorkerLimitReached", err)
	}
}

func TestTerminateIsSticky(t *testing.T) {
	r := newTestRegistry(t, 5)
	r.Register(worker("w1", 1))
	if err := r.Terminate("w1"); err != nil {
		t.Fatal(err)
	}

	got, err := r.Lookup("w1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.AgentTerminated {
		t.Errorf("status = %s", got.Status)
	}
	if err := r.Terminate("missing"); domain.CodeOf(err) != domain.CodeNotFound {
		t.Errorf("err = %v, want NotFound", err)
	}

	live, err := r.Live()
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 0 {
		t.Errorf("live = %d, want 0", len(live))
	}
}

func TestFileIsAuthoritative(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "agents.json")
	r1 := New("sess-1", dir, file, "", 5, zap.NewNop())
	r2 := New("sess-1", dir, file, "", 5, zap.NewNop())

	if err := r1.Register(worker("w1", 1)); err != nil {
		t.Fatal(err)
	}
	// The second registry has never read the file; it must see w1.
	if _, err := r2.Lookup("w1"); err != nil {
		t.Fatalf("cross-process lookup: %v", err)
	}

	// A write through r2 must be visible to r1 despite its warm cache.
	if err := r2.Register(worker("w2", 2)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := r1.Lookup("w2"); err != nil {
		t.Fatalf("cache invalidation: %v", err)
	}
}

func TestGlobalRef(t *testing.T) {
	r := newTestRegistry(t, 5)
	if err := r.Register(worker("w1", 1)); err != nil {
		t.Fatal(err)
	}

	ref, err := LoadGlobalRef(r.globalDir, "w1")
	if err != nil {
		t.Fatalf("LoadGlobalRef: %v", err)
	}
	if ref.SessionID != "sess-1" {
		t.Errorf("session = %q", ref.SessionID)
	}
	if _, err := LoadGlobalRef(r.globalDir, "nope"); domain.CodeOf(err) != domain.CodeNotFound {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestUpdateAndTouch(t *testing.T) {
	r := newTestRegistry(t, 5)
	r.Register(worker("w1", 1))

	err := r.Update("w1", func(a *domain.Agent) error {
		a.Status = domain.AgentBusy
		a.CurrentTaskID = "t1"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := r.Lookup("w1")
	if got.Status != domain.AgentBusy || got.CurrentTaskID != "t1" {
		t.Errorf("agent = %+v", got)
	}

	before := got.LastActivity
	time.Sleep(5 * time.Millisecond)
	if err := r.Touch("w1"); err != nil {
		t.Fatal(err)
	}
	got, _ = r.Lookup("w1")
	if !got.LastActivity.After(before) {
		t.Error("Touch should advance last_activity")
	}
}

func TestOwnerWaitLifecycle(t *testing.T) {
	r := newTestRegistry(t, 5)

	state, err := r.OwnerWait()
	if err != nil || state != nil {
		t.Fatalf("initial wait = %+v, err = %v", state, err)
	}

	if err := r.BeginOwnerWait(); err != nil {
		t.Fatal(err)
	}
	state, _ = r.OwnerWait()
	if state == nil || !state.Active {
		t.Fatalf("wait not armed: %+v", state)
	}

	for want := 1; want <= 3; want++ {
		n, err := r.RecordOwnerPoll(true)
		if err != nil || n != want {
			t.Fatalf("poll %d: n = %d, err = %v", want, n, err)
		}
	}
	// A non-empty read resets the counter.
	if n, _ := r.RecordOwnerPoll(false); n != 0 {
		t.Errorf("counter after non-empty poll = %d", n)
	}

	if err := r.ClearOwnerWait(); err != nil {
		t.Fatal(err)
	}
	state, _ = r.OwnerWait()
	if state != nil {
		t.Errorf("wait should be cleared, got %+v", state)
	}
}

func TestSnapshotFileShape(t *testing.T) {
	r := newTestRegistry(t, 5)
	r.Register(worker("w1", 1))

	data, err := os.ReadFile(r.agentsFile)
	if err != nil {
		t.Fatal(err)
	}
	if data[len(data)-1] != '\n' {
		t.Error("snapshot should end with a newline")
	}
}
