package orchestrate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/tmux"
)

// registerCreateAgent registers create_agent. Creating the owner is the
// second bootstrap step and needs no caller; every other role is authorized.
func registerCreateAgent(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("create_agent",
			mcp.WithDescription("Register a new agent. Owners have no pane; the admin takes main-window pane 0; workers get the lowest free slot."),
			mcp.WithString("role", mcp.Required(), mcp.Description("owner, admin, or worker")),
			mcp.WithString("agent_id", mcp.Description("Explicit agent id; generated when omitted")),
			mcp.WithString("caller_agent_id", mcp.Description("Calling agent id (not required for role=owner)")),
			mcp.WithBoolean("initialize", mcp.Description("Launch the agent's CLI in its pane (default: true)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			role, err := domain.ParseRole(strArg(req, "role"))
			if err != nil {
				return fail(d.Logger, "create_agent", err)
			}
			if role != domain.RoleOwner {
				if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "create_agent", ""); err != nil {
					return fail(d.Logger, "create_agent", err)
				}
			}
			agent, err := d.createAgent(role, strArg(req, "agent_id"), boolArg(req, "initialize", true))
			if err != nil {
				return fail(d.Logger, "create_agent", err)
			}
			return ok(map[string]any{"agent": agent})
		},
	)
}

func registerCreateWorkersBatch(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("create_workers_batch",
			mcp.WithDescription("Register several workers at once. Per-worker failures are collected; the batch never aborts midway."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithNumber("count", mcp.Required(), mcp.Description("Number of workers to create")),
			mcp.WithBoolean("initialize", mcp.Description("Launch each worker's CLI (default: true)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "create_workers_batch", ""); err != nil {
				return fail(d.Logger, "create_workers_batch", err)
			}
			count := intArg(req, "count", 0)
			if count < 1 {
				return fail(d.Logger, "create_workers_batch", domain.Validation("count must be at least 1"))
			}
			initialize := boolArg(req, "initialize", true)
			var created []*domain.Agent
			var failures []string
			for i := 0; i < count; i++ {
				agent, err := d.createAgent(domain.RoleWorker, "", initialize)
				if err != nil {
					failures = append(failures, err.Error())
					continue
				}
				created = append(created, agent)
			}
			return ok(map[string]any{
				"created":  created,
				"failures": failures,
			})
		},
	)
}

// createAgent builds and registers one agent, assigns its pane, launches its
// CLI, syncs the dashboard, and starts the health monitor.
func (d *Deps) createAgent(role domain.Role, agentID string, initialize bool) (*domain.Agent, error) {
	agent := &domain.Agent{
		Role:       role,
		Status:     domain.AgentIdle,
		WorkingDir: d.ProjectRoot,
	}
	switch role {
	case domain.RoleOwner:
		// The owner runs in the external host; no pane, no CLI.
		if agentID == "" {
			agentID = "owner-" + uuid.NewString()[:8]
		}
	case domain.RoleAdmin:
		if agentID == "" {
			agentID = "admin-" + uuid.NewString()[:8]
		}
		agent.SessionName = d.Prov.SessionName(d.SessionID)
		agent.AICli = d.Settings.ResolveAdminCli()
	case domain.RoleWorker:
		slot, err := d.Reg.ResolveWorkerSlot()
		if err != nil {
			return nil, err
		}
		if agentID == "" {
			agentID = fmt.Sprintf("worker%d-%s", slot, uuid.NewString()[:8])
		}
		window, pane := tmux.WorkerPane(slot, d.Settings.WorkersPerExtraWindow())
		agent.SessionName = d.Prov.SessionName(d.SessionID)
		agent.WindowIndex = window
		agent.PaneIndex = pane
		agent.WorkerSlot = slot
		agent.AICli = d.Settings.ResolveWorkerCli(slot)
	}
	agent.ID = agentID

	if err := d.Reg.Register(agent); err != nil {
		return nil, err
	}
	if initialize && agent.HasPane() {
		if _, err := d.Disp.Initialize(agent.ID); err != nil {
			d.Logger.Warn("agent CLI launch failed",
				zap.String("agent", agent.ID), zap.Error(err))
		}
	}
	d.syncAgents()
	if role != domain.RoleOwner {
		d.Monitor.Start()
	}
	return agent, nil
}

func registerListAgents(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("list_agents",
			mcp.WithDescription("List the session's agents."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithBoolean("include_terminated", mcp.Description("Include terminated agents (default: false)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "list_agents", ""); err != nil {
				return fail(d.Logger, "list_agents", err)
			}
			var agents []*domain.Agent
			var err error
			if boolArg(req, "include_terminated", false) {
				agents, err = d.Reg.List()
			} else {
				agents, err = d.Reg.Live()
			}
			if err != nil {
				return fail(d.Logger, "list_agents", err)
			}
			return ok(map[string]any{"agents": agents, "count": len(agents)})
		},
	)
}

func registerGetAgentStatus(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("get_agent_status",
			mcp.WithDescription("Return one agent's record."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent to inspect")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "get_agent_status", ""); err != nil {
				return fail(d.Logger, "get_agent_status", err)
			}
			agent, err := d.Reg.Lookup(strArg(req, "agent_id"))
			if err != nil {
				return fail(d.Logger, "get_agent_status", err)
			}
			return ok(map[string]any{"agent": agent})
		},
	)
}

func registerTerminateAgent(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("terminate_agent",
			mcp.WithDescription("Terminate an agent. The record is kept; the pane becomes reusable."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent to terminate")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agentID := strArg(req, "agent_id")
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "terminate_agent", agentID); err != nil {
				return fail(d.Logger, "terminate_agent", err)
			}
			if err := d.Reg.Terminate(agentID); err != nil {
				return fail(d.Logger, "terminate_agent", err)
			}
			d.syncAgents()
			return ok(map[string]any{"agent_id": agentID})
		},
	)
}

func registerInitializeAgent(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("initialize_agent",
			mcp.WithDescription("(Re)launch an agent's AI CLI in its pane, resolving the CLI chain fresh from settings."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent to initialize")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "initialize_agent", ""); err != nil {
				return fail(d.Logger, "initialize_agent", err)
			}
			res, err := d.Disp.Initialize(strArg(req, "agent_id"))
			if err != nil {
				return fail(d.Logger, "initialize_agent", err)
			}
			return ok(map[string]any{"agent_id": res.AgentID, "ai_cli": res.CLI, "model": res.Model})
		},
	)
}

func registerRegisterAgentToIPC(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("register_agent_to_ipc",
			mcp.WithDescription("Create an agent's mailbox directory so senders never race its first message."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Mailbox owner")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "register_agent_to_ipc", ""); err != nil {
				return fail(d.Logger, "register_agent_to_ipc", err)
			}
			dir, err := d.Mailbox.Dir(strArg(req, "agent_id"))
			if err != nil {
				return fail(d.Logger, "register_agent_to_ipc", err)
			}
			return ok(map[string]any{"mailbox_dir": dir})
		},
	)
}
