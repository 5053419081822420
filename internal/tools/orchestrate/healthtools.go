package orchestrate

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerHealthcheckAgent(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("healthcheck_agent",
			mcp.WithDescription("Check one agent: tmux session alive, pane alive, and the pane tail moving while a task is in flight."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent to check")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "healthcheck_agent", ""); err != nil {
				return fail(d.Logger, "healthcheck_agent", err)
			}
			agent, err := d.Reg.Lookup(strArg(req, "agent_id"))
			if err != nil {
				return fail(d.Logger, "healthcheck_agent", err)
			}
			res := d.Health.Check(agent)
			return ok(map[string]any{"result": res})
		},
	)
}

func registerHealthcheckAll(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("healthcheck_all",
			mcp.WithDescription("Check every live admin and worker."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "healthcheck_all", ""); err != nil {
				return fail(d.Logger, "healthcheck_all", err)
			}
			all, unhealthy, err := d.Health.CheckAll()
			if err != nil {
				return fail(d.Logger, "healthcheck_all", err)
			}
			return ok(map[string]any{
				"results":         all,
				"checked":         len(all),
				"unhealthy_count": len(unhealthy),
			})
		},
	)
}

func registerGetUnhealthyAgents(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("get_unhealthy_agents",
			mcp.WithDescription("List only the agents that fail a health check right now."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "get_unhealthy_agents", ""); err != nil {
				return fail(d.Logger, "get_unhealthy_agents", err)
			}
			_, unhealthy, err := d.Health.CheckAll()
			if err != nil {
				return fail(d.Logger, "get_unhealthy_agents", err)
			}
			return ok(map[string]any{"unhealthy": unhealthy, "count": len(unhealthy)})
		},
	)
}

// registerAttemptRecovery registers attempt_recovery: one run of the staged
// ladder (soft interrupt, then full respawn, then task failure) based on a
// fresh check.
func registerAttemptRecovery(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("attempt_recovery",
			mcp.WithDescription("Run one staged recovery step for an agent: interrupt a stalled pane, or respawn on a dead one; repeated failures fail the task."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent to recover")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "attempt_recovery", ""); err != nil {
				return fail(d.Logger, "attempt_recovery", err)
			}
			agent, err := d.Reg.Lookup(strArg(req, "agent_id"))
			if err != nil {
				return fail(d.Logger, "attempt_recovery", err)
			}
			res := d.Health.Check(agent)
			if res.Healthy {
				return ok(map[string]any{"recovered": false, "healthy": true})
			}
			outcome, err := d.Supervisor.AttemptRecovery(agent, res)
			if err != nil {
				return fail(d.Logger, "attempt_recovery", err)
			}
			d.syncAgents()
			return ok(map[string]any{"outcome": outcome})
		},
	)
}

func registerFullRecovery(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("full_recovery",
			mcp.WithDescription("Skip the soft stage: respawn the agent in its pane and reassign its task to the replacement."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent to respawn")),
			mcp.WithString("reason", mcp.Description("Recorded on the task's recovery metadata")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "full_recovery", ""); err != nil {
				return fail(d.Logger, "full_recovery", err)
			}
			agent, err := d.Reg.Lookup(strArg(req, "agent_id"))
			if err != nil {
				return fail(d.Logger, "full_recovery", err)
			}
			reason := strArg(req, "reason")
			if reason == "" {
				reason = "manual full recovery"
			}
			outcome, err := d.Supervisor.FullRecovery(agent, reason)
			if err != nil {
				return fail(d.Logger, "full_recovery", err)
			}
			d.syncAgents()
			return ok(map[string]any{"outcome": outcome})
		},
	)
}

func registerMonitorAndRecoverWorkers(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("monitor_and_recover_workers",
			mcp.WithDescription("Run one monitor pass now: check every live agent and recover the unhealthy ones."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "monitor_and_recover_workers", ""); err != nil {
				return fail(d.Logger, "monitor_and_recover_workers", err)
			}
			report := d.Monitor.RunPass()
			d.syncAgents()
			return ok(map[string]any{
				"report":          report,
				"monitor_running": d.Monitor.Running(),
			})
		},
	)
}
