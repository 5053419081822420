package orchestrate

import (
	"context"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/fsutil"
)

// gitGate refuses git-dependent tools when enable_git is off.
func (d *Deps) gitGate(tool string) error {
	if !d.GitEnabled() {
		return domain.GitDisabled(tool)
	}
	return nil
}

func registerCreateWorktree(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("create_worktree",
			mcp.WithDescription("Create an isolated git worktree on a branch under the session's worktrees directory."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("branch", mcp.Required(), mcp.Description("Branch for the worktree; created from base_branch when missing")),
			mcp.WithString("base_branch", mcp.Description("Branch to fork from (default: current HEAD)")),
			mcp.WithString("name", mcp.Description("Directory name (default: sanitized branch name)")),
			mcp.WithString("agent_id", mcp.Description("Assign the worktree to this agent")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "create_worktree", ""); err != nil {
				return fail(d.Logger, "create_worktree", err)
			}
			if err := d.gitGate("create_worktree"); err != nil {
				return fail(d.Logger, "create_worktree", err)
			}
			branch := strArg(req, "branch")
			name := strArg(req, "name")
			if name == "" {
				name = fsutil.SanitizeName(branch)
			}
			rec, err := d.Worktrees.Create(name, branch, strArg(req, "base_branch"))
			if err != nil {
				return fail(d.Logger, "create_worktree", err)
			}
			if agentID := strArg(req, "agent_id"); agentID != "" {
				if _, err := d.Worktrees.Assign(rec.Path, agentID); err != nil {
					return fail(d.Logger, "create_worktree", err)
				}
				rec.AssignedAgentID = agentID
				d.bindWorktree(agentID, rec.Path, rec.Branch)
			}
			return ok(map[string]any{"worktree": rec})
		},
	)
}

func registerListWorktrees(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("list_worktrees",
			mcp.WithDescription("List the session's git worktrees."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "list_worktrees", ""); err != nil {
				return fail(d.Logger, "list_worktrees", err)
			}
			if err := d.gitGate("list_worktrees"); err != nil {
				return fail(d.Logger, "list_worktrees", err)
			}
			records, err := d.Worktrees.List()
			if err != nil {
				return fail(d.Logger, "list_worktrees", err)
			}
			return ok(map[string]any{"worktrees": records, "count": len(records)})
		},
	)
}

func registerRemoveWorktree(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("remove_worktree",
			mcp.WithDescription("Remove a worktree and delete its branch."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("path", mcp.Required(), mcp.Description("Worktree path")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "remove_worktree", ""); err != nil {
				return fail(d.Logger, "remove_worktree", err)
			}
			if err := d.gitGate("remove_worktree"); err != nil {
				return fail(d.Logger, "remove_worktree", err)
			}
			path := strArg(req, "path")
			if err := d.Worktrees.Remove(path); err != nil {
				return fail(d.Logger, "remove_worktree", err)
			}
			return ok(map[string]any{"path": path})
		},
	)
}

func registerAssignWorktree(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("assign_worktree",
			mcp.WithDescription("Assign an existing worktree to an agent and point the agent's working copy at it."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("path", mcp.Required(), mcp.Description("Worktree path")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent to assign")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "assign_worktree", ""); err != nil {
				return fail(d.Logger, "assign_worktree", err)
			}
			if err := d.gitGate("assign_worktree"); err != nil {
				return fail(d.Logger, "assign_worktree", err)
			}
			agentID := strArg(req, "agent_id")
			rec, err := d.Worktrees.Assign(strArg(req, "path"), agentID)
			if err != nil {
				return fail(d.Logger, "assign_worktree", err)
			}
			d.bindWorktree(agentID, rec.Path, rec.Branch)
			return ok(map[string]any{"worktree": rec})
		},
	)
}

func registerGetWorktreeStatus(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("get_worktree_status",
			mcp.WithDescription("Return one worktree record by path or directory name."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("path", mcp.Required(), mcp.Description("Worktree path or directory name")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "get_worktree_status", ""); err != nil {
				return fail(d.Logger, "get_worktree_status", err)
			}
			if err := d.gitGate("get_worktree_status"); err != nil {
				return fail(d.Logger, "get_worktree_status", err)
			}
			path := strArg(req, "path")
			if !filepath.IsAbs(path) {
				path = filepath.Join(d.Paths.WorktreesDir(d.SessionID), fsutil.SanitizeName(path))
			}
			rec, err := d.Worktrees.Get(path)
			if err != nil {
				return fail(d.Logger, "get_worktree_status", err)
			}
			return ok(map[string]any{"worktree": rec})
		},
	)
}

// bindWorktree stamps the worktree assignment onto the agent record.
// Best-effort; the worktree manager already holds the authoritative record.
func (d *Deps) bindWorktree(agentID, path, branch string) {
	if err := d.Reg.Update(agentID, func(a *domain.Agent) error {
		a.WorktreePath = path
		a.Branch = branch
		return nil
	}); err != nil {
		d.Logger.Warn("worktree binding on agent failed",
			zap.String("agent", agentID), zap.Error(err))
	} else {
		d.syncAgents()
	}
}
