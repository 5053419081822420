// crewmux MCP server.
// Stdio only: the owner's MCP client is the single transport; agents in tmux
// panes talk back through the file-based mailboxes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/config"
	"github.com/jaakkos/crewmux/internal/dashboard"
	"github.com/jaakkos/crewmux/internal/dispatch"
	"github.com/jaakkos/crewmux/internal/gitops"
	"github.com/jaakkos/crewmux/internal/guard"
	"github.com/jaakkos/crewmux/internal/health"
	"github.com/jaakkos/crewmux/internal/ipc"
	"github.com/jaakkos/crewmux/internal/logging"
	"github.com/jaakkos/crewmux/internal/memory"
	"github.com/jaakkos/crewmux/internal/registry"
	"github.com/jaakkos/crewmux/internal/tmux"
	"github.com/jaakkos/crewmux/internal/tools/orchestrate"
	"github.com/jaakkos/crewmux/internal/workspace"
)

// Version is set by -ldflags at build time.
var Version = "dev"

const instructions = `crewmux coordinates AI CLI agents (claude, codex, gemini) in tmux panes.
Start with init_tmux_workspace, then create_agent (role=owner for yourself,
then admin and workers). Dispatch plans with send_task; agents coordinate over
send_message/read_messages and the shared task dashboard. After dispatching to
the admin, wait for the pane notification instead of polling read_messages.`

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Println("crewmux " + Version)
			return
		}
	}

	projectRoot := os.Getenv(dispatch.ProjectRootEnv)
	if projectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "crewmux: cannot determine project root:", err)
			os.Exit(1)
		}
		projectRoot = wd
	}

	settings, err := config.Load(projectRoot)
	if err != nil {
		fmt.Fprintln(os.Stderr, "crewmux: load config:", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Options{
		Level:    settings.LogLevel,
		FilePath: config.LogFile(settings.MCPDir),
	})
	defer func() { _ = logger.Sync() }()

	paths := settings.NewPaths(projectRoot)
	sessionID := resolveSessionID(paths)
	logger.Info("starting crewmux",
		zap.String("version", Version),
		zap.String("project_root", projectRoot),
		zap.String("session_id", sessionID))

	tm := tmux.NewClient(nil, logger)
	reg := registry.New(sessionID, projectRoot, paths.AgentsFile(sessionID),
		config.GlobalAgentsDir(settings.MCPDir), settings.MaxWorkers, logger)
	g := guard.New(reg, logger)
	dash := dashboard.NewStore(paths.DashboardFile(sessionID), paths.DashboardLock(sessionID), logger)
	mailbox := ipc.NewMailbox(paths.IPCDir(sessionID), ipc.NewPaneNotifier(tm, logger), logger)

	index, err := memory.OpenIndex(config.MemoryIndexFile(settings.MCPDir))
	if err != nil {
		logger.Warn("memory index unavailable, archive search disabled", zap.Error(err))
		index = nil
	} else {
		defer func() { _ = index.Close() }()
	}
	mem := memory.NewStore(
		paths.SessionMemoryDir(sessionID), paths.ProjectMemoryDir(),
		config.GlobalMemoryDir(settings.MCPDir), index, logger)

	prov := workspace.NewProvisioner(projectRoot, settings, tm, logger)
	disp := dispatch.NewDispatcher(projectRoot, reg, tm, nil, logger)
	worktrees := gitops.NewManager(projectRoot, paths.WorktreesDir(sessionID), logger)

	engine := health.NewEngine(reg, tm,
		time.Duration(settings.HealthcheckStallTimeoutSeconds)*time.Second, logger)
	reviver := workspace.NewReviver(prov, reg, disp, worktrees, logger)
	sup := health.NewSupervisor(engine, reg, dash, mailbox, reviver,
		settings.HealthcheckMaxRecoveryAttempts, logger)
	mon := health.NewMonitor(sup,
		time.Duration(settings.HealthcheckIntervalSeconds)*time.Second,
		settings.HealthcheckIdleStopConsecutive, logger)

	deps := &orchestrate.Deps{
		ProjectRoot: projectRoot,
		SessionID:   sessionID,
		Settings:    settings,
		Paths:       paths,
		Reg:         reg,
		Guard:       g,
		Dash:        dash,
		Mailbox:     mailbox,
		Memory:      mem,
		Prov:        prov,
		Disp:        disp,
		Worktrees:   worktrees,
		Health:      engine,
		Supervisor:  sup,
		Monitor:     mon,
		Logger:      logger,
	}

	hooks := &server.Hooks{}
	hooks.AddAfterCallTool(func(ctx context.Context, id any, req *mcp.CallToolRequest, result *mcp.CallToolResult) {
		if req != nil {
			logger.Debug("tool called", zap.String("tool", req.Params.Name))
		}
	})

	mcpServer := server.NewMCPServer(
		"crewmux",
		Version,
		server.WithInstructions(instructions),
		server.WithHooks(hooks),
	)
	orchestrate.Register(mcpServer, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SIGHUP is ignored so a daemonized server survives terminal detach.
	signal.Ignore(syscall.SIGHUP)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	// The watcher records mailbox delivery times; the health engine folds
	// them into the stall clock so a worker with fresh, unread work is not
	// declared stalled.
	watcher := ipc.NewWatcher(paths.IPCDir(sessionID), nil, logger)
	engine.SetDeliverySource(watcher)
	go watcher.Start(ctx)

	logger.Info("stdio ready")
	stdioSrv := server.NewStdioServer(mcpServer)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Info("stdio server stopped", zap.Error(err))
	}

	cancel()
	mon.Stop()
	watcher.Stop()
}

// resolveSessionID prefers the session recorded in config.json so a restarted
// server reattaches to the existing workspace; otherwise a fresh timestamp id
// is minted and written on init_tmux_workspace.
func resolveSessionID(paths config.Paths) string {
	if sc, err := config.LoadSessionConfig(paths.ConfigFile()); err == nil && sc != nil && sc.SessionID != "" {
		return sc.SessionID
	}
	return workspace.NewSessionID()
}
