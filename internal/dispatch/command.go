// Package dispatch pushes task briefs and startup commands into agent panes.
// The CLI for a worker is resolved fresh from settings on every dispatch;
// values cached on the agent record are advisory only.
package dispatch

import "strings"

// ProjectRootEnv is exported into every launched CLI so the agent's MCP
// server resolves the same session directories as the dispatcher.
const ProjectRootEnv = "CREWMUX_PROJECT_ROOT"

// shellQuote wraps s in single quotes, escaping embedded single quotes the
// POSIX way.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// StdinCommand composes the shell command that launches an AI CLI with the
// task brief on stdin. Each supported CLI has its own non-interactive
// permission flag; unknown CLIs get a bare stdin redirect.
func StdinCommand(cli, taskFile, workdir, projectRoot, model string) string {
	var launch string
	switch cli {
	case "claude":
		parts := []string{cli}
		if model != "" {
			parts = append(parts, "--model", model)
		}
		parts = append(parts, "--dangerously-skip-permissions", "< "+shellQuote(taskFile))
		launch = strings.Join(parts, " ")
	case "codex":
		launch = "cat " + shellQuote(taskFile) + " | " + cli + " -a never"
	case "gemini":
		launch = cli + " --yolo < " + shellQuote(taskFile)
	default:
		launch = cli + " < " + shellQuote(taskFile)
	}
	return prefix(projectRoot, workdir) + launch
}

// LaunchCommand composes the interactive startup command used when a pane is
// (re)initialized without a task brief.
func LaunchCommand(cli, workdir, projectRoot, model string) string {
	var launch string
	switch cli {
	case "claude":
		parts := []string{cli}
		if model != "" {
			parts = append(parts, "--model", model)
		}
		parts = append(parts, "--dangerously-skip-permissions")
		launch = strings.Join(parts, " ")
	case "codex":
		launch = cli + " -a never"
	case "gemini":
		launch = cli + " --yolo"
	default:
		launch = cli
	}
	return prefix(projectRoot, workdir) + launch
}

// prefix builds the "export ... && cd ... && " preamble.
func prefix(projectRoot, workdir string) string {
	var b strings.Builder
	if projectRoot != "" {
		b.WriteString("export " + ProjectRootEnv + "=" + shellQuote(projectRoot) + " && ")
	}
	if workdir != "" {
		b.WriteString("cd " + shellQuote(workdir) + " && ")
	}
	return b.String()
}
