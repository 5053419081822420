package orchestrate

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/gitops"
)

// registerMergeCompletedTasks registers merge_completed_tasks: a preview-only
// union merge of every completed task's branch. HEAD is restored afterwards;
// the union of changes stays in the working tree unstaged.
func registerMergeCompletedTasks(s *server.MCPServer, d *Deps) {
	s.AddTool(
		mcp.NewTool("merge_completed_tasks",
			mcp.WithDescription("Preview-merge the branches of all completed tasks onto a base branch. Leaves the union as unstaged changes; HEAD is restored."),
			mcp.WithString("caller_agent_id", mcp.Required(), mcp.Description("Calling agent id")),
			mcp.WithString("base_branch", mcp.Required(), mcp.Description("Branch to preview onto")),
			mcp.WithString("strategy", mcp.Description("merge, squash, or rebase (rebase warns and falls back to merge)")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, err := d.Guard.Authorize(strArg(req, "caller_agent_id"), "merge_completed_tasks", ""); err != nil {
				return fail(d.Logger, "merge_completed_tasks", err)
			}
			if err := d.gitGate("merge_completed_tasks"); err != nil {
				return fail(d.Logger, "merge_completed_tasks", err)
			}

			completed, err := d.Dash.ListTasks(domain.TaskCompleted)
			if err != nil {
				return fail(d.Logger, "merge_completed_tasks", err)
			}
			branches := uniqueBranches(completed)
			if len(branches) == 0 {
				return ok(map[string]any{
					"merged":         []string{},
					"already_merged": []string{},
					"failed":         []string{},
					"conflicts":      []string{},
					"message":        "no completed tasks carry a branch",
				})
			}

			strategy := strArg(req, "strategy")
			if strategy == "" {
				strategy = gitops.StrategyMerge
			}
			report, err := gitops.PreviewMerge(d.ProjectRoot, strArg(req, "base_branch"), branches, strategy, d.Logger)
			if err != nil {
				return fail(d.Logger, "merge_completed_tasks", err)
			}

			// The report's own success flag decides; partial conflicts are a
			// result, not a tool error.
			payload := map[string]any{}
			b, merr := json.Marshal(report)
			if merr == nil {
				_ = json.Unmarshal(b, &payload)
			}
			payload["success"] = report.Success()
			out, merr := json.Marshal(payload)
			if merr != nil {
				return nil, merr
			}
			return mcp.NewToolResultText(string(out)), nil
		},
	)
}

// uniqueBranches collects the distinct branches of tasks, preserving order.
func uniqueBranches(tasks []domain.Task) []string {
	seen := make(map[string]bool)
	var out []string
	for i := range tasks {
		b := tasks[i].Branch
		if b == "" || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}
