package orchestrate

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// registerInitWorkspace registers init_tmux_workspace. This is the bootstrap
// tool: it runs before any agent exists, so no caller_agent_id is required.
func registerInitWorkspace(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("init_tmux_workspace",
			mcp.WithDescription("Provision the session workspace: directory tree, config.json, and the tmux pane grid (admin + worker panes)."),
			mcp.WithString("session_id", mcp.Description("Session identifier; generated from the current time when omitted")),
			mcp.WithNumber("workers", mcp.Description("Worker pane count; defaults to the active model profile")),
			mcp.WithBoolean("enable_git", mcp.Description("Enable worktree/merge features; overrides config.json and environment")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			sessionID := strArg(req, "session_id")
			if sessionID == "" {
				sessionID = d.SessionID
			}
			res, err := d.Prov.Init(sessionID, intArg(req, "workers", 0), optBoolArg(req, "enable_git"))
			if err != nil {
				return fail(d.Logger, "init_tmux_workspace", err)
			}
			if err := d.Dash.Init(res.SessionID, d.ProjectRoot); err != nil {
				return fail(d.Logger, "init_tmux_workspace", err)
			}
			return ok(map[string]any{
				"session_id":    res.SessionID,
				"session_name":  res.SessionName,
				"session_dir":   res.SessionDir,
				"enable_git":    res.EnableGit,
				"worker_panes":  res.WorkerPanes,
				"extra_windows": res.ExtraWindows,
				"created":       res.Created,
			})
		},
	)
}

func registerCleanupWorkspace(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("cleanup_workspace",
			mcp.WithDescription("Kill the tmux session and optionally remove the session directory and worktrees."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithBoolean("remove_files", mcp.Description("Also delete the session directory (default: false)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "cleanup_workspace", ""); err != nil {
				return fail(d.Logger, "cleanup_workspace", err)
			}
			d.Monitor.Stop()
			if d.GitEnabled() {
				if err := d.Worktrees.RemoveAll(); err != nil {
					d.Logger.Warn("worktree cleanup failed", zap.Error(err))
				}
			}
			if err := d.Prov.Cleanup(d.SessionID, boolArg(req, "remove_files", false)); err != nil {
				return fail(d.Logger, "cleanup_workspace", err)
			}
			_ = d.Guard.ReleaseOwnerWait()
			return ok(map[string]any{"session_id": d.SessionID})
		},
	)
}

func registerCheckAllTasksCompleted(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("check_all_tasks_completed",
			mcp.WithDescription("Report whether every dashboard task has reached a terminal state."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "check_all_tasks_completed", ""); err != nil {
				return fail(d.Logger, "check_all_tasks_completed", err)
			}
			sum, err := d.Dash.Summarize()
			if err != nil {
				return fail(d.Logger, "check_all_tasks_completed", err)
			}
			return ok(map[string]any{
				"all_completed": sum.AllTerminal,
				"task_counts":   sum.TaskCounts,
				"in_progress":   sum.InProgress,
			})
		},
	)
}

// registerCleanupOnCompletion registers the conditional teardown: only when
// every task is terminal does it finish the session and clean up.
func registerCleanupOnCompletion(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("cleanup_on_completion",
			mcp.WithDescription("Finish the session and tear the workspace down, but only when every task is in a terminal state."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithBoolean("remove_files", mcp.Description("Also delete the session directory (default: false)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "cleanup_on_completion", ""); err != nil {
				return fail(d.Logger, "cleanup_on_completion", err)
			}
			sum, err := d.Dash.Summarize()
			if err != nil {
				return fail(d.Logger, "cleanup_on_completion", err)
			}
			if !sum.AllTerminal {
				return ok(map[string]any{
					"cleaned":     false,
					"task_counts": sum.TaskCounts,
					"in_progress": sum.InProgress,
				})
			}
			if err := d.Dash.FinishSession(); err != nil {
				return fail(d.Logger, "cleanup_on_completion", err)
			}
			d.Monitor.Stop()
			if d.GitEnabled() {
				if err := d.Worktrees.RemoveAll(); err != nil {
					d.Logger.Warn("worktree cleanup failed", zap.Error(err))
				}
			}
			if err := d.Prov.Cleanup(d.SessionID, boolArg(req, "remove_files", false)); err != nil {
				return fail(d.Logger, "cleanup_on_completion", err)
			}
			_ = d.Guard.ReleaseOwnerWait()
			return ok(map[string]any{"cleaned": true, "task_counts": sum.TaskCounts})
		},
	)
}

func registerOpenSession(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("open_session",
			mcp.WithDescription("Return the tmux attach command for the session; on macOS a terminal window is opened too."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "open_session", ""); err != nil {
				return fail(d.Logger, "open_session", err)
			}
			attach, err := d.Prov.OpenSession(d.SessionID)
			if err != nil {
				return fail(d.Logger, "open_session", err)
			}
			return ok(map[string]any{"attach_command": attach})
		},
	)
}
