package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/crewmux/internal/domain"
)

// renderedMessages caps the message-log rows shown in the markdown body.
const renderedMessages = 20

// render produces the human-readable body from the front matter. It is pure:
// the same dashboard always renders the same markdown.
func render(d *domain.Dashboard) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Dashboard: %s\n\n", d.WorkspaceID)
	fmt.Fprintf(&b, "Workspace: `%s`\n\n", d.WorkspacePath)

	b.WriteString("## Agents\n\n")
	if len(d.Agents) == 0 {
		b.WriteString("_No agents._\n\n")
	} else {
		b.WriteString("| ID | Role | Status | Current Task | Worktree |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for i := range d.Agents {
			a := &d.Agents[i]
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
				a.ID, a.Role, a.Status, dash(a.CurrentTaskID), dash(a.WorktreePath))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Tasks\n\n")
	if len(d.Tasks) == 0 {
		b.WriteString("_No tasks._\n\n")
	} else {
		b.WriteString("| ID | Title | Status | Progress | Assignee | Branch |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for i := range d.Tasks {
			t := &d.Tasks[i]
			fmt.Fprintf(&b, "| %s | %s | %s | %d%% | %s | %s |\n",
				shortID(t.ID), t.Title, t.Status, t.Progress,
				dash(t.AssignedAgentID), dash(t.Branch))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Session\n\n")
	fmt.Fprintf(&b, "- Started: %s\n", stamp(d.SessionStartedAt))
	fmt.Fprintf(&b, "- Finished: %s\n", stamp(d.SessionFinishedAt))
	fmt.Fprintf(&b, "- Crashes: %d / Recoveries: %d\n", d.ProcessCrashCount, d.ProcessRecoveryCount)
	if d.TotalCostUSD > 0 {
		fmt.Fprintf(&b, "- Total cost: $%.2f\n", d.TotalCostUSD)
	}
	b.WriteString("\n")

	b.WriteString("## Recent Messages\n\n")
	log := d.MessageLog
	if len(log) > renderedMessages {
		log = log[len(log)-renderedMessages:]
	}
	if len(log) == 0 {
		b.WriteString("_No messages._\n")
	} else {
		for i := range log {
			e := &log[i]
			fmt.Fprintf(&b, "- `%s` **%s** %s → %s: %s\n",
				e.Timestamp.UTC().Format("15:04:05"), e.MessageType,
				dash(e.SenderID), dash(e.ReceiverID), firstLine(e.Content))
		}
	}
	return b.String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "…"
	}
	return s
}
