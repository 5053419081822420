// Package orchestrate is the MCP tool façade. Every handler authorizes the
// caller through the guard, invokes the stores, and answers with a JSON
// payload carrying success plus either the domain result or a stable error
// code. Errors never escape as protocol errors.
package orchestrate

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/config"
	"github.com/jaakkos/crewmux/internal/dashboard"
	"github.com/jaakkos/crewmux/internal/dispatch"
	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/gitops"
	"github.com/jaakkos/crewmux/internal/guard"
	"github.com/jaakkos/crewmux/internal/health"
	"github.com/jaakkos/crewmux/internal/ipc"
	"github.com/jaakkos/crewmux/internal/memory"
	"github.com/jaakkos/crewmux/internal/registry"
	"github.com/jaakkos/crewmux/internal/workspace"
)

// Deps bundles every component a tool handler may need. One Deps serves one
// session.
type Deps struct {
	ProjectRoot string
	SessionID   string
	Settings    *config.Settings
	Paths       config.Paths

	Reg       *registry.Registry
	Guard     *guard.Guard
	Dash      *dashboard.Store
	Mailbox   *ipc.Mailbox
	Memory    *memory.Store
	Prov      *workspace.Provisioner
	Disp      *dispatch.Dispatcher
	Worktrees *gitops.Manager

	Health     *health.Engine
	Supervisor *health.Supervisor
	Monitor    *health.Monitor

	Logger *zap.Logger
}

// GitEnabled re-reads the session config so toggling enable_git takes effect
// without a restart.
func (d *Deps) GitEnabled() bool {
	sc, err := config.LoadSessionConfig(d.Paths.ConfigFile())
	if err != nil || sc == nil {
		return d.Settings.EnableGit
	}
	return sc.EnableGit
}

// syncAgents projects the registry into the dashboard's agent table.
// Best-effort; the dashboard is a view, not the source of truth for agents.
func (d *Deps) syncAgents() {
	agents, err := d.Reg.List()
	if err != nil {
		d.Logger.Warn("registry read for dashboard sync failed", zap.Error(err))
		return
	}
	summaries := make([]domain.AgentSummary, 0, len(agents))
	for _, a := range agents {
		summaries = append(summaries, domain.AgentSummary{
			ID:            a.ID,
			Role:          a.Role,
			Status:        a.Status,
			CurrentTaskID: a.CurrentTaskID,
			WorktreePath:  a.WorktreePath,
		})
	}
	if err := d.Dash.SyncAgents(summaries); err != nil {
		d.Logger.Warn("dashboard agent sync failed", zap.Error(err))
	}
}

// ok marshals a success payload into a tool result.
func ok(payload map[string]any) (*mcp.CallToolResult, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["success"] = true
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// fail converts any error into the stable {success:false, error, message}
// shape. Unknown errors get the InternalError code so callers can still
// branch.
func fail(logger *zap.Logger, tool string, err error) (*mcp.CallToolResult, error) {
	code := domain.CodeOf(err)
	message := err.Error()
	var de *domain.Error
	if errors.As(err, &de) {
		message = de.Message
	}
	if code == "" {
		code = "InternalError"
	}
	logger.Warn("tool failed",
		zap.String("tool", tool), zap.String("code", code), zap.String("message", message))
	payload := map[string]any{
		"success": false,
		"error":   code,
		"message": message,
	}
	if de != nil {
		for k, v := range de.Details {
			payload[k] = v
		}
	}
	b, merr := json.Marshal(payload)
	if merr != nil {
		return nil, merr
	}
	return mcp.NewToolResultText(string(b)), nil
}

func strArg(req mcp.CallToolRequest, key string) string {
	v, _ := req.GetArguments()[key].(string)
	return v
}

func intArg(req mcp.CallToolRequest, key string, def int) int {
	switch v := req.GetArguments()[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

// optIntArg distinguishes "absent" from an explicit zero.
func optIntArg(req mcp.CallToolRequest, key string) (int, bool) {
	switch v := req.GetArguments()[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func floatArg(req mcp.CallToolRequest, key string, def float64) float64 {
	if v, okv := req.GetArguments()[key].(float64); okv {
		return v
	}
	return def
}

func boolArg(req mcp.CallToolRequest, key string, def bool) bool {
	if v, okv := req.GetArguments()[key].(bool); okv {
		return v
	}
	return def
}

func optFloatArg(req mcp.CallToolRequest, key string) (float64, bool) {
	v, okv := req.GetArguments()[key].(float64)
	return v, okv
}

// optBoolArg distinguishes "absent" from an explicit false.
func optBoolArg(req mcp.CallToolRequest, key string) *bool {
	if v, okv := req.GetArguments()[key].(bool); okv {
		return &v
	}
	return nil
}

func mapArg(req mcp.CallToolRequest, key string) map[string]any {
	v, _ := req.GetArguments()[key].(map[string]any)
	return v
}

func strSliceArg(req mcp.CallToolRequest, key string) []string {
	raw, okv := req.GetArguments()[key].([]any)
	if !okv {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, okv := item.(string); okv {
			out = append(out, s)
		}
	}
	return out
}
