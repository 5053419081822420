package orchestrate

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/memory"
)

func registerCreateTask(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a pending task on the dashboard."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
			mcp.WithString("description", mcp.Description("Task description (markdown)")),
			mcp.WithObject("metadata", mcp.Description("Free-form metadata (task_kind, output_dir, ...)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "create_task", ""); err != nil {
				return fail(d.Logger, "create_task", err)
			}
			task, err := d.Dash.CreateTask(
				strArg(req, "title"),
				strArg(req, "description"),
				mapArg(req, "metadata"),
				d.Paths.ReportsDir(d.SessionID),
			)
			if err != nil {
				return fail(d.Logger, "create_task", err)
			}
			return ok(map[string]any{"task": task})
		},
	)
}

func registerReopenTask(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("reopen_task",
			mcp.WithDescription("Reset a terminal task to pending. Metadata and agent history survive."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to reopen")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "reopen_task", ""); err != nil {
				return fail(d.Logger, "reopen_task", err)
			}
			task, err := d.Dash.ReopenTask(strArg(req, "task_id"))
			if err != nil {
				return fail(d.Logger, "reopen_task", err)
			}
			return ok(map[string]any{"task": task})
		},
	)
}

// registerUpdateTaskStatus registers update_task_status. Rejected transitions
// come back with the allowed set in the message so callers can self-correct.
func registerUpdateTaskStatus(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("update_task_status",
			mcp.WithDescription("Move a task through its status graph: pending, in_progress, completed, failed, blocked, cancelled."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to update")),
			mcp.WithString("status", mcp.Required(), mcp.Description("New status")),
			mcp.WithNumber("progress", mcp.Description("Progress percent 0-100")),
			mcp.WithString("error_message", mcp.Description("Recorded on failure states")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "update_task_status", ""); err != nil {
				return fail(d.Logger, "update_task_status", err)
			}
			status, err := domain.ParseTaskStatus(strArg(req, "status"))
			if err != nil {
				return fail(d.Logger, "update_task_status", err)
			}
			var progress *int
			if p, set := optIntArg(req, "progress"); set {
				progress = &p
			}
			task, err := d.Dash.UpdateTaskStatus(strArg(req, "task_id"), status, progress, strArg(req, "error_message"))
			if err != nil {
				return fail(d.Logger, "update_task_status", err)
			}
			return ok(map[string]any{"task": task})
		},
	)
}

func registerAssignTaskToAgent(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("assign_task_to_agent",
			mcp.WithDescription("Bind a task to an agent. The previous assignee is remembered on the task."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to assign")),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent taking the task")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "assign_task_to_agent", ""); err != nil {
				return fail(d.Logger, "assign_task_to_agent", err)
			}
			agentID := strArg(req, "agent_id")
			if _, err := d.Reg.Lookup(agentID); err != nil {
				return fail(d.Logger, "assign_task_to_agent", err)
			}
			task, err := d.Dash.AssignTask(strArg(req, "task_id"), agentID)
			if err != nil {
				return fail(d.Logger, "assign_task_to_agent", err)
			}
			if err := d.Reg.Update(agentID, func(a *domain.Agent) error {
				a.CurrentTaskID = task.ID
				a.Status = domain.AgentBusy
				return nil
			}); err != nil {
				d.Logger.Warn("assignee record update failed",
					zap.String("agent", agentID), zap.Error(err))
			}
			d.syncAgents()
			return ok(map[string]any{"task": task})
		},
	)
}

func registerListTasks(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List dashboard tasks, optionally filtered by status."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("status", mcp.Description("Filter: pending, in_progress, completed, failed, blocked, cancelled")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "list_tasks", ""); err != nil {
				return fail(d.Logger, "list_tasks", err)
			}
			var status domain.TaskStatus
			if raw := strArg(req, "status"); raw != "" {
				parsed, err := domain.ParseTaskStatus(raw)
				if err != nil {
					return fail(d.Logger, "list_tasks", err)
				}
				status = parsed
			}
			tasks, err := d.Dash.ListTasks(status)
			if err != nil {
				return fail(d.Logger, "list_tasks", err)
			}
			return ok(map[string]any{"tasks": tasks, "count": len(tasks)})
		},
	)
}

func registerGetTask(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("get_task",
			mcp.WithDescription("Return one task by id."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "get_task", ""); err != nil {
				return fail(d.Logger, "get_task", err)
			}
			task, err := d.Dash.GetTask(strArg(req, "task_id"))
			if err != nil {
				return fail(d.Logger, "get_task", err)
			}
			return ok(map[string]any{"task": task})
		},
	)
}

func registerRemoveTask(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("remove_task",
			mcp.WithDescription("Delete a task record outright."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to remove")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "remove_task", ""); err != nil {
				return fail(d.Logger, "remove_task", err)
			}
			taskID := strArg(req, "task_id")
			if err := d.Dash.RemoveTask(taskID); err != nil {
				return fail(d.Logger, "remove_task", err)
			}
			return ok(map[string]any{"task_id": taskID})
		},
	)
}

// registerReportTaskProgress registers report_task_progress: the worker-side
// progress path. Updates the dashboard and notifies the admin over IPC.
func registerReportTaskProgress(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("report_task_progress",
			mcp.WithDescription("Report progress on an in-flight task. Updates the dashboard and messages the admin."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Reporting worker id")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task being worked")),
			mcp.WithNumber("progress", mcp.Required(), mcp.Description("Progress percent 0-100")),
			mcp.WithString("message", mcp.Description("Human-readable progress note")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			caller, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "report_task_progress", "")
			if err != nil {
				return fail(d.Logger, "report_task_progress", err)
			}
			taskID := strArg(req, "task_id")
			progress := intArg(req, "progress", 0)
			note := strArg(req, "message")
			task, err := d.Dash.ReportProgress(taskID, progress, note, caller.ID)
			if err != nil {
				return fail(d.Logger, "report_task_progress", err)
			}
			d.notifyAdmin(caller.ID, domain.MsgTaskProgress,
				fmt.Sprintf("progress %d%% on %s", task.Progress, task.Title), note,
				map[string]any{"task_id": taskID, "progress": task.Progress})
			return ok(map[string]any{"task": task})
		},
	)
}

// registerReportTaskCompletion registers report_task_completion, the
// composite completion path: status transition first, then a best-effort
// memory summary, the admin notification, and cost accounting. A memory or
// IPC failure after the transition is logged, not returned; the transition
// already happened.
func registerReportTaskCompletion(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("report_task_completion",
			mcp.WithDescription("Complete or fail a task: transitions the dashboard, archives a summary to project memory, notifies the admin, and books session cost."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Reporting worker id")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task being closed")),
			mcp.WithString("status", mcp.Description("completed or failed (default: completed)")),
			mcp.WithString("summary", mcp.Description("Work summary archived to project memory")),
			mcp.WithString("error_message", mcp.Description("Recorded when status is failed")),
			mcp.WithNumber("cost_usd", mcp.Description("Session cost of this task in USD")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			caller, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "report_task_completion", "")
			if err != nil {
				return fail(d.Logger, "report_task_completion", err)
			}
			taskID := strArg(req, "task_id")
			status := domain.TaskCompleted
			msgType := domain.MsgTaskComplete
			if raw := strArg(req, "status"); raw != "" {
				parsed, err := domain.ParseTaskStatus(raw)
				if err != nil {
					return fail(d.Logger, "report_task_completion", err)
				}
				if parsed != domain.TaskCompleted && parsed != domain.TaskFailed {
					return fail(d.Logger, "report_task_completion",
						domain.Validation("status must be completed or failed"))
				}
				status = parsed
			}
			if status == domain.TaskFailed {
				msgType = domain.MsgTaskFailed
			}

			task, err := d.Dash.UpdateTaskStatus(taskID, status, nil, strArg(req, "error_message"))
			if err != nil {
				return fail(d.Logger, "report_task_completion", err)
			}

			payload := map[string]any{"task": task}

			// Summaries outlive the session, so they go to project scope.
			if summary := strArg(req, "summary"); summary != "" {
				key := "task-" + taskID
				if _, err := d.Memory.Save(memory.ScopeProject, key, summary, caller.ID, []string{"task-summary"}); err != nil {
					d.Logger.Warn("task summary archive failed",
						zap.String("task", taskID), zap.Error(err))
					payload["summary_saved"] = false
				} else {
					payload["summary_saved"] = true
					payload["summary_key"] = key
				}
			}

			d.notifyAdmin(caller.ID, msgType,
				fmt.Sprintf("task %s %s", task.Title, status), strArg(req, "summary"),
				map[string]any{"task_id": taskID, "status": string(status)})

			if cost, set := optFloatArg(req, "cost_usd"); set && cost > 0 {
				total, err := d.Dash.AddCost(cost)
				if err != nil {
					d.Logger.Warn("cost booking failed", zap.Error(err))
				} else {
					payload["total_cost_usd"] = total
					if total > d.Settings.CostWarningThresholdUSD {
						d.warnOwnerCost(total)
					}
				}
			}
			return ok(payload)
		},
	)
}

func registerGetDashboard(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("get_dashboard",
			mcp.WithDescription("Return the full dashboard document."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "get_dashboard", ""); err != nil {
				return fail(d.Logger, "get_dashboard", err)
			}
			dash, err := d.Dash.Get()
			if err != nil {
				return fail(d.Logger, "get_dashboard", err)
			}
			return ok(map[string]any{"dashboard": dash})
		},
	)
}

func registerGetDashboardSummary(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("get_dashboard_summary",
			mcp.WithDescription("Return aggregate counts: tasks by status, agents by status, cost, crash and recovery totals."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "get_dashboard_summary", ""); err != nil {
				return fail(d.Logger, "get_dashboard_summary", err)
			}
			sum, err := d.Dash.Summarize()
			if err != nil {
				return fail(d.Logger, "get_dashboard_summary", err)
			}
			return ok(map[string]any{"summary": sum})
		},
	)
}

// notifyAdmin delivers a best-effort IPC message to the admin. Losing the
// notification only delays the admin until its next poll.
func (d *Deps) notifyAdmin(senderID string, msgType domain.MessageType, subject, content string, metadata map[string]any) {
	admin, err := d.Reg.FindByRole(domain.RoleAdmin)
	if err != nil {
		d.Logger.Warn("no admin to notify", zap.Error(err))
		return
	}
	msg := &domain.Message{
		SenderID:    senderID,
		ReceiverID:  admin.ID,
		MessageType: msgType,
		Priority:    domain.PriorityNormal,
		Subject:     subject,
		Content:     content,
		Metadata:    metadata,
	}
	if err := d.Mailbox.Send(msg, admin); err != nil {
		d.Logger.Warn("admin notification failed", zap.Error(err))
	}
}

// warnOwnerCost sends the owner a system-priority warning once the session
// cost crosses the configured threshold.
func (d *Deps) warnOwnerCost(total float64) {
	owner, err := d.Reg.FindByRole(domain.RoleOwner)
	if err != nil {
		return
	}
	msg := &domain.Message{
		SenderID:    "system",
		ReceiverID:  owner.ID,
		MessageType: domain.MsgSystem,
		Priority:    domain.PriorityHigh,
		Subject:     "session cost warning",
		Content:     fmt.Sprintf("session cost is $%.2f, over the $%.2f threshold", total, d.Settings.CostWarningThresholdUSD),
		Metadata:    map[string]any{"total_cost_usd": total},
	}
	if err := d.Mailbox.Send(msg, owner); err != nil {
		d.Logger.Warn("owner cost warning failed", zap.Error(err))
	}
}
