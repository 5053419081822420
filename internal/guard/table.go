package guard

import "github.com/jaakkos/crewmux/internal/domain"

// Capability is the outcome of a (role, tool) table lookup.
type Capability int

const (
	Denied Capability = iota
	Allowed
	SelfOnly // allowed only when the target agent is the caller
)

// roleSet is shorthand for building table rows.
type roleSet map[domain.Role]Capability

var (
	ownerOnly      = roleSet{domain.RoleOwner: Allowed}
	adminOnly      = roleSet{domain.RoleAdmin: Allowed}
	ownerAdmin     = roleSet{domain.RoleOwner: Allowed, domain.RoleAdmin: Allowed}
	workerOnly     = roleSet{domain.RoleWorker: Allowed}
	everyone       = roleSet{domain.RoleOwner: Allowed, domain.RoleAdmin: Allowed, domain.RoleWorker: Allowed}
	mailboxAccess  = roleSet{domain.RoleOwner: SelfOnly, domain.RoleAdmin: Allowed, domain.RoleWorker: SelfOnly}
)

// capabilities is the full (tool, role) table. Tools missing from the table
// are denied for every role; the façade-level bootstrap tools
// (init_tmux_workspace, owner self-creation) are checked before any agent
// exists and bypass the guard entirely.
var capabilities = map[string]roleSet{
	// Workspace lifecycle.
	"init_tmux_workspace":       ownerOnly,
	"cleanup_workspace":         ownerOnly,
	"cleanup_on_completion":     ownerOnly,
	"check_all_tasks_completed": ownerAdmin,

	// Agent management.
	"create_agent":         ownerAdmin,
	"create_workers_batch": ownerAdmin,
	"list_agents":          everyone,
	"get_agent_status":     everyone,
	"terminate_agent":      ownerAdmin,
	"initialize_agent":     ownerAdmin,
	"register_agent_to_ipc": ownerAdmin,

	// Healthcheck and recovery.
	"healthcheck_agent":           ownerAdmin,
	"healthcheck_all":             ownerAdmin,
	"get_unhealthy_agents":        ownerAdmin,
	"monitor_and_recover_workers": ownerAdmin,
	"attempt_recovery":            ownerAdmin,
	"full_recovery":               adminOnly,

	// Worktrees and merge.
	"create_worktree":       ownerAdmin,
	"list_worktrees":        everyone,
	"remove_worktree":       ownerAdmin,
	"assign_worktree":       ownerAdmin,
	"get_worktree_status":   everyone,
	"merge_completed_tasks": ownerAdmin,

	// Command delivery.
	"send_task":         ownerAdmin,
	"send_command":      ownerAdmin,
	"broadcast_command": adminOnly,
	"get_output":        everyone,
	"open_session":      ownerAdmin,

	// Tasks.
	"create_task":            ownerAdmin,
	"reopen_task":            ownerAdmin,
	"get_task":               everyone,
	"list_tasks":             everyone,
	"assign_task_to_agent":   adminOnly,
	"update_task_status":     adminOnly,
	"remove_task":            ownerAdmin,
	"report_task_progress":   workerOnly,
	"report_task_completion": workerOnly,

	// Messaging. Workers and the owner only touch their own mailbox.
	"send_message":      everyone,
	"read_messages":     mailboxAccess,
	"get_unread_count":  mailboxAccess,
	"unlock_owner_wait": ownerAdmin,

	// Dashboard.
	"get_dashboard":         everyone,
	"get_dashboard_summary": everyone,

	// Memory.
	"save_to_memory":        everyone,
	"retrieve_from_memory":  everyone,
	"list_memory_entries":   everyone,
	"delete_memory_entry":   ownerAdmin,
	"get_memory_summary":    everyone,
	"search_memory_archive": everyone,
}

// Lookup returns the capability for a (role, tool) pair.
func Lookup(role domain.Role, tool string) Capability {
	row, ok := capabilities[tool]
	if !ok {
		return Denied
	}
	return row[role]
}

// AllowedRoles lists the roles that may call a tool, for error messages.
func AllowedRoles(tool string) []string {
	row, ok := capabilities[tool]
	if !ok {
		return nil
	}
	var out []string
	for _, r := range []domain.Role{domain.RoleOwner, domain.RoleAdmin, domain.RoleWorker} {
		if row[r] != Denied {
			out = append(out, string(r))
		}
	}
	return out
}
