package guard

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/registry"
)

func newTestGuard(t *testing.T) (*Guard, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	reg := registry.New("sess-1", dir, filepath.Join(dir, "agents.json"), "", 5, zap.NewNop())

	agents := []*domain.Agent{
		{ID: "owner-1", Role: domain.RoleOwner, Status: domain.AgentIdle},
		{ID: "admin-1", Role: domain.RoleAdmin, Status: domain.AgentIdle, SessionName: "dev"},
		{ID: "w1", Role: domain.RoleWorker, Status: domain.AgentIdle, SessionName: "dev", PaneIndex: 1, WorkerSlot: 1},
		{ID: "w2", Role: domain.RoleWorker, Status: domain.AgentIdle, SessionName: "dev", PaneIndex: 2, WorkerSlot: 2},
	}
	for _, a := range agents {
		if err := reg.Register(a); err != nil {
			t.Fatalf("register %s: %v", a.ID, err)
		}
	}
	return New(reg, zap.NewNop()), reg
}

func TestAuthorizeRoleTable(t *testing.T) {
	g, _ := newTestGuard(t)

	cases := []struct {
		caller string
		tool   string
		target string
		code   string // "" means allowed
	}{
		{"owner-1", "cleanup_workspace", "", ""},
		{"admin-1", "cleanup_workspace", "", domain.CodePermissionDenied},
		{"admin-1", "update_task_status", "", ""},
		{"owner-1", "update_task_status", "", domain.CodePermissionDenied},
		{"w1", "report_task_progress", "", ""},
		{"admin-1", "report_task_progress", "", domain.CodePermissionDenied},
		{"admin-1", "broadcast_command", "", ""},
		{"owner-1", "broadcast_command", "", domain.CodePermissionDenied},
		{"admin-1", "full_recovery", "", ""},
		{"owner-1", "full_recovery", "", domain.CodePermissionDenied},
		{"w1", "list_agents", "", ""},
		{"w1", "terminate_agent", "w2", domain.CodePermissionDenied},
		{"w1", "no_such_tool", "", domain.CodePermissionDenied},
	}
	for _, tc := range cases {
		_, err := g.Authorize(tc.caller, tc.tool, tc.target)
		if domain.CodeOf(err) != tc.code {
			t.Errorf("%s %s: err = %v, want code %q", tc.caller, tc.tool, err, tc.code)
		}
	}
}

func TestAuthorizeSelfOnly(t *testing.T) {
	g, _ := newTestGuard(t)

	// A worker may read its own mailbox.
	if _, err := g.Authorize("w1", "read_messages", "w1"); err != nil {
		t.Errorf("self read: %v", err)
	}
	// An empty target means the caller's own mailbox.
	if _, err := g.Authorize("w1", "read_messages", ""); err != nil {
		t.Errorf("implicit self read: %v", err)
	}
	// Cross-agent reads are refused.
	if _, err := g.Authorize("w1", "read_messages", "w2"); domain.CodeOf(err) != domain.CodePermissionDenied {
		t.Errorf("cross read: err = %v", err)
	}
	// The admin reads any mailbox.
	if _, err := g.Authorize("admin-1", "read_messages", "w2"); err != nil {
		t.Errorf("admin cross read: %v", err)
	}
}

func TestAuthorizeUnknownAndTerminatedCallers(t *testing.T) {
	g, reg := newTestGuard(t)

	if _, err := g.Authorize("", "list_agents", ""); domain.CodeOf(err) != domain.CodeValidation {
		t.Errorf("missing caller: err = %v", err)
	}
	if _, err := g.Authorize("ghost", "list_agents", ""); domain.CodeOf(err) != domain.CodeNotFound {
		t.Errorf("unknown caller: err = %v", err)
	}

	reg.Terminate("w2")
	if _, err := g.Authorize("w2", "list_agents", ""); domain.CodeOf(err) != domain.CodePermissionDenied {
		t.Errorf("terminated caller: err = %v", err)
	}
}

func TestOwnerWaitBlocksEverythingButReads(t *testing.T) {
	g, _ := newTestGuard(t)

	if err := g.ArmOwnerWait(); err != nil {
		t.Fatal(err)
	}

	if _, err := g.Authorize("owner-1", "create_task", ""); domain.CodeOf(err) != domain.CodeOwnerWaitActive {
		t.Errorf("create_task during wait: err = %v", err)
	}
	for _, tool := range []string{"read_messages", "get_unread_count", "unlock_owner_wait"} {
		if _, err := g.Authorize("owner-1", tool, "owner-1"); err != nil {
			t.Errorf("%s during wait: %v", tool, err)
		}
	}

	// Other agents are unaffected by the owner's wait.
	if _, err := g.Authorize("admin-1", "update_task_status", ""); err != nil {
		t.Errorf("admin during owner wait: %v", err)
	}

	if err := g.ReleaseOwnerWait(); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Authorize("owner-1", "create_task", ""); err != nil {
		t.Errorf("after release: %v", err)
	}
}

func TestOwnerPollingBlocked(t *testing.T) {
	g, _ := newTestGuard(t)
	owner, err := g.Authorize("owner-1", "read_messages", "owner-1")
	if err != nil {
		t.Fatal(err)
	}
	g.ArmOwnerWait()

	// Three empty reads are tolerated; the fourth is refused before I/O.
	for i := 0; i < 3; i++ {
		if err := g.CheckOwnerPolling(owner); err != nil {
			t.Fatalf("poll %d: %v", i, err)
		}
		if err := g.RecordOwnerRead(owner, nil, "admin-1", true); err != nil {
			t.Fatal(err)
		}
	}
	if err := g.CheckOwnerPolling(owner); domain.CodeOf(err) != domain.CodePollingBlocked {
		t.Errorf("err = %v, want PollingBlocked", err)
	}
}

func TestAdminReplyClearsOwnerWait(t *testing.T) {
	g, reg := newTestGuard(t)
	owner, _ := reg.Lookup("owner-1")
	g.ArmOwnerWait()

	msgs := []*domain.Message{
		{SenderID: "admin-1", MessageType: domain.MsgResponse},
	}
	if err := g.RecordOwnerRead(owner, msgs, "admin-1", false); err != nil {
		t.Fatal(err)
	}

	wait, err := reg.OwnerWait()
	if err != nil {
		t.Fatal(err)
	}
	if wait != nil {
		t.Errorf("wait should be cleared, got %+v", wait)
	}
	if _, err := g.Authorize("owner-1", "create_task", ""); err != nil {
		t.Errorf("after admin reply: %v", err)
	}
}

func TestWorkersIgnoreWaitState(t *testing.T) {
	g, reg := newTestGuard(t)
	g.ArmOwnerWait()

	w, _ := reg.Lookup("w1")
	if err := g.CheckOwnerPolling(w); err != nil {
		t.Errorf("worker polling check: %v", err)
	}
	if err := g.RecordOwnerRead(w, nil, "admin-1", true); err != nil {
		t.Errorf("worker read record: %v", err)
	}
}
