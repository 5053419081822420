// Package guard is the single chokepoint between the tool façade and the
// stateful stores: a role capability table plus the owner wait-lock.
package guard

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/registry"
)

// pollThreshold is the number of consecutive empty unread reads the owner
// may issue while the wait-lock is armed before further reads are refused.
const pollThreshold = 3

// waitAllowed is the only tool set usable by the owner while waiting for the
// admin reply.
var waitAllowed = map[string]bool{
	"read_messages":     true,
	"get_unread_count":  true,
	"unlock_owner_wait": true,
}

// Guard resolves callers through the registry and enforces the table.
type Guard struct {
	reg    *registry.Registry
	logger *zap.Logger
}

// New returns a Guard over the session registry.
func New(reg *registry.Registry, logger *zap.Logger) *Guard {
	return &Guard{reg: reg, logger: logger}
}

// Authorize checks caller permission for a tool. targetAgentID is the agent
// the operation acts on; pass "" for tools without a target. The returned
// agent is the resolved caller so handlers avoid a second lookup.
func (g *Guard) Authorize(callerID, tool, targetAgentID string) (*domain.Agent, error) {
	if callerID == "" {
		return nil, domain.Validation("caller_agent_id is required for " + tool)
	}
	caller, err := g.reg.Lookup(callerID)
	if err != nil {
		return nil, err
	}
	if !caller.Live() {
		return nil, domain.PermissionDenied(fmt.Sprintf("agent %s is terminated", callerID))
	}

	if caller.Role == domain.RoleOwner && !waitAllowed[tool] {
		wait, err := g.reg.OwnerWait()
		if err != nil {
			return nil, err
		}
		if wait != nil && wait.Active {
			return nil, domain.OwnerWaitActive(tool)
		}
	}

	switch Lookup(caller.Role, tool) {
	case Allowed:
	case SelfOnly:
		if targetAgentID != "" && targetAgentID != callerID {
			return nil, domain.PermissionDenied(fmt.Sprintf(
				"%s may only target the caller's own agent (caller %s, target %s)",
				tool, callerID, targetAgentID))
		}
	default:
		g.logger.Debug("tool denied",
			zap.String("caller", callerID), zap.String("role", string(caller.Role)),
			zap.String("tool", tool))
		return nil, domain.PermissionDenied(fmt.Sprintf(
			"role %s may not call %s (allowed roles: %s)",
			caller.Role, tool, strings.Join(AllowedRoles(tool), ", ")))
	}
	return caller, nil
}

// ArmOwnerWait activates the wait-lock after the owner dispatches a plan to
// the admin.
func (g *Guard) ArmOwnerWait() error {
	return g.reg.BeginOwnerWait()
}

// ReleaseOwnerWait disarms the wait-lock (unlock_owner_wait, or cleanup).
func (g *Guard) ReleaseOwnerWait() error {
	return g.reg.ClearOwnerWait()
}

// CheckOwnerPolling gates an owner read before any mailbox I/O. Once the
// consecutive-empty counter passes the threshold, reads are refused until a
// message arrives and the pane notification fires.
func (g *Guard) CheckOwnerPolling(caller *domain.Agent) error {
	if caller.Role != domain.RoleOwner {
		return nil
	}
	wait, err := g.reg.OwnerWait()
	if err != nil {
		return err
	}
	if wait != nil && wait.Active && wait.EmptyPolls >= pollThreshold {
		return domain.PollingBlocked(wait.EmptyPolls)
	}
	return nil
}

// RecordOwnerRead updates the wait state after an owner mailbox read: a
// reply from the admin clears the lock, an empty unread read bumps the
// polling counter.
func (g *Guard) RecordOwnerRead(caller *domain.Agent, msgs []*domain.Message, adminID string, unreadOnly bool) error {
	if caller.Role != domain.RoleOwner {
		return nil
	}
	wait, err := g.reg.OwnerWait()
	if err != nil || wait == nil || !wait.Active {
		return err
	}
	for _, m := range msgs {
		if adminID != "" && m.SenderID == adminID {
			g.logger.Info("owner wait released by admin reply")
			return g.reg.ClearOwnerWait()
		}
	}
	if unreadOnly && len(msgs) == 0 {
		_, err = g.reg.RecordOwnerPoll(true)
	} else if len(msgs) > 0 {
		_, err = g.reg.RecordOwnerPoll(false)
	}
	return err
}
