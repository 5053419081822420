package orchestrate

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
)

func registerSendMessage(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send an IPC message to another agent. The receiver's pane gets a wake-up line; the owner gets a platform notification."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Sender agent id")),
			mcp.WithString("receiver_id", mcp.Description("Recipient agent id (omit when broadcasting)")),
			mcp.WithString("broadcast_role", mcp.Description("Broadcast to every live agent with this role instead of one recipient")),
			mcp.WithString("message_type", mcp.Description("task_assign, task_progress, task_complete, task_failed, task_approved, status_update, request, response, broadcast, system, or error (default: request)")),
			mcp.WithString("priority", mcp.Description("low, normal, or high (default: normal)")),
			mcp.WithString("subject", mcp.Description("Short subject line")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Message body (markdown)")),
			mcp.WithObject("metadata", mcp.Description("Free-form metadata (task_id, progress, ...)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			caller, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "send_message", "")
			if err != nil {
				return fail(d.Logger, "send_message", err)
			}

			msgType := domain.MsgRequest
			if raw := strArg(req, "message_type"); raw != "" {
				msgType, err = domain.ParseMessageType(raw)
				if err != nil {
					return fail(d.Logger, "send_message", err)
				}
			}
			msg := &domain.Message{
				SenderID:    caller.ID,
				MessageType: msgType,
				Priority:    domain.MessagePriority(strArg(req, "priority")),
				Subject:     strArg(req, "subject"),
				Content:     strArg(req, "content"),
				Metadata:    mapArg(req, "metadata"),
			}

			if roleRaw := strArg(req, "broadcast_role"); roleRaw != "" {
				role, err := domain.ParseRole(roleRaw)
				if err != nil {
					return fail(d.Logger, "send_message", err)
				}
				live, err := d.Reg.Live()
				if err != nil {
					return fail(d.Logger, "send_message", err)
				}
				var receivers []*domain.Agent
				for _, a := range live {
					if a.Role == role && a.ID != caller.ID {
						receivers = append(receivers, a)
					}
				}
				delivered, failures := d.Mailbox.Broadcast(msg, receivers)
				return ok(map[string]any{"delivered": delivered, "failures": failures})
			}

			receiverID := strArg(req, "receiver_id")
			if receiverID == "" {
				return fail(d.Logger, "send_message",
					domain.Validation("receiver_id or broadcast_role is required"))
			}
			receiver, err := d.Reg.Lookup(receiverID)
			if err != nil {
				return fail(d.Logger, "send_message", err)
			}
			msg.ReceiverID = receiverID
			if err := d.Mailbox.Send(msg, receiver); err != nil {
				return fail(d.Logger, "send_message", err)
			}
			return ok(map[string]any{"message_id": msg.ID, "receiver_id": receiverID})
		},
	)
}

// registerReadMessages registers read_messages. Owners go through the
// polling gate first; admins get dashboard auto-sync over what they read.
func registerReadMessages(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("read_messages",
			mcp.WithDescription("Read an agent's mailbox chronologically. Admin reads auto-sync task messages into the dashboard."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("target_agent_id", mcp.Description("Mailbox to read (default: the caller's own)")),
			mcp.WithBoolean("unread_only", mcp.Description("Only unread messages (default: false)")),
			mcp.WithBoolean("mark_as_read", mcp.Description("Stamp read_at on returned messages (default: true)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			target := strArg(req, "target_agent_id")
			caller, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "read_messages", target)
			if err != nil {
				return fail(d.Logger, "read_messages", err)
			}
			if target == "" {
				target = caller.ID
			}
			if err := d.Guard.CheckOwnerPolling(caller); err != nil {
				return fail(d.Logger, "read_messages", err)
			}

			unreadOnly := boolArg(req, "unread_only", false)
			msgs, err := d.Mailbox.Read(target, unreadOnly, boolArg(req, "mark_as_read", true))
			if err != nil {
				return fail(d.Logger, "read_messages", err)
			}

			payload := map[string]any{
				"messages": msgs,
				"count":    len(msgs),
			}

			if caller.Role == domain.RoleAdmin && target == caller.ID {
				applied, skipped := d.Dash.SyncFromMessages(msgs)
				payload["dashboard_updates_applied"] = applied
				payload["dashboard_updates_skipped"] = skipped
			}

			adminID := ""
			if admin, err := d.Reg.FindByRole(domain.RoleAdmin); err == nil {
				adminID = admin.ID
			}
			if err := d.Guard.RecordOwnerRead(caller, msgs, adminID, unreadOnly); err != nil {
				d.Logger.Warn("owner wait bookkeeping failed", zap.Error(err))
			}
			return ok(payload)
		},
	)
}

func registerGetUnreadCount(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("get_unread_count",
			mcp.WithDescription("Count unread mailbox messages without touching them."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("target_agent_id", mcp.Description("Mailbox to inspect (default: the caller's own)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			target := strArg(req, "target_agent_id")
			caller, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "get_unread_count", target)
			if err != nil {
				return fail(d.Logger, "get_unread_count", err)
			}
			if target == "" {
				target = caller.ID
			}
			count, err := d.Mailbox.UnreadCount(target)
			if err != nil {
				return fail(d.Logger, "get_unread_count", err)
			}
			return ok(map[string]any{"unread": count})
		},
	)
}

func registerUnlockOwnerWait(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("unlock_owner_wait",
			mcp.WithDescription("Explicitly release the owner wait-lock."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "unlock_owner_wait", ""); err != nil {
				return fail(d.Logger, "unlock_owner_wait", err)
			}
			if err := d.Guard.ReleaseOwnerWait(); err != nil {
				return fail(d.Logger, "unlock_owner_wait", err)
			}
			return ok(map[string]any{"owner_wait_active": false})
		},
	)
}
