package orchestrate

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
)

// registerSendTask registers send_task. When the owner dispatches to the
// admin the wait-lock arms: the owner must then wait for the pane
// notification instead of polling.
func registerSendTask(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("send_task",
			mcp.WithDescription("Write a task brief and launch the agent's AI CLI with it on stdin."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent to dispatch to")),
			mcp.WithString("task_content", mcp.Required(), mcp.Description("Markdown task brief")),
			mcp.WithString("session_id", mcp.Required(), mcp.Description("Session the agent belongs to")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			caller, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "send_task", "")
			if err != nil {
				return fail(d.Logger, "send_task", err)
			}
			agentID := strArg(req, "agent_id")
			res, err := d.Disp.SendTask(agentID, strArg(req, "task_content"), strArg(req, "session_id"))
			if err != nil {
				return fail(d.Logger, "send_task", err)
			}

			waitArmed := false
			if caller.Role == domain.RoleOwner {
				if target, err := d.Reg.Lookup(agentID); err == nil && target.Role == domain.RoleAdmin {
					if err := d.Guard.ArmOwnerWait(); err != nil {
						d.Logger.Warn("owner wait arm failed", zap.Error(err))
					} else {
						waitArmed = true
					}
				}
			}
			return ok(map[string]any{
				"agent_id":          res.AgentID,
				"task_file":         res.TaskFile,
				"ai_cli":            res.CLI,
				"owner_wait_active": waitArmed,
			})
		},
	)
}

func registerSendCommand(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("send_command",
			mcp.WithDescription("Type a raw shell command into an agent's pane."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Target agent")),
			mcp.WithString("command", mcp.Required(), mcp.Description("Command line to type")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "send_command", ""); err != nil {
				return fail(d.Logger, "send_command", err)
			}
			agentID := strArg(req, "agent_id")
			if err := d.Disp.SendCommand(agentID, strArg(req, "command")); err != nil {
				return fail(d.Logger, "send_command", err)
			}
			return ok(map[string]any{"agent_id": agentID})
		},
	)
}

func registerGetOutput(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("get_output",
			mcp.WithDescription("Capture the tail of an agent's pane output."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent whose pane to capture")),
			mcp.WithNumber("lines", mcp.Description("Lines of scrollback (default: 50)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "get_output", ""); err != nil {
				return fail(d.Logger, "get_output", err)
			}
			out, err := d.Disp.GetOutput(strArg(req, "agent_id"), intArg(req, "lines", 50))
			if err != nil {
				return fail(d.Logger, "get_output", err)
			}
			return ok(map[string]any{"output": out})
		},
	)
}

func registerBroadcastCommand(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("broadcast_command",
			mcp.WithDescription("Type a command into every worker pane (optionally the admin pane too). Per-pane failures are collected."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("command", mcp.Required(), mcp.Description("Command line to type")),
			mcp.WithBoolean("include_admin", mcp.Description("Also send to the admin pane (default: false)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "broadcast_command", ""); err != nil {
				return fail(d.Logger, "broadcast_command", err)
			}
			sent, failures, err := d.Disp.Broadcast(strArg(req, "command"), boolArg(req, "include_admin", false))
			if err != nil {
				return fail(d.Logger, "broadcast_command", err)
			}
			return ok(map[string]any{"sent": sent, "failures": failures})
		},
	)
}
