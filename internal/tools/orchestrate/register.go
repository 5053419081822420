package orchestrate

import (
	"github.com/mark3labs/mcp-go/server"
)

// Register wires every orchestration tool onto the mcp-go server.
func Register(s *server.MCPServer, d *Deps) {
	// Workspace lifecycle tools (5)
	registerInitWorkspace(s, d)
	registerCleanupWorkspace(s, d)
	registerCheckAllTasksCompleted(s, d)
	registerCleanupOnCompletion(s, d)
	registerOpenSession(s, d)

	// Agent tools (7)
	registerCreateAgent(s, d)
	registerCreateWorkersBatch(s, d)
	registerListAgents(s, d)
	registerGetAgentStatus(s, d)
	registerTerminateAgent(s, d)
	registerInitializeAgent(s, d)
	registerRegisterAgentToIPC(s, d)

	// Dispatch tools (4)
	registerSendTask(s, d)
	registerSendCommand(s, d)
	registerGetOutput(s, d)
	registerBroadcastCommand(s, d)

	// Messaging tools (4)
	registerSendMessage(s, d)
	registerReadMessages(s, d)
	registerGetUnreadCount(s, d)
	registerUnlockOwnerWait(s, d)

	// Task and dashboard tools (11)
	registerCreateTask(s, d)
	registerReopenTask(s, d)
	registerUpdateTaskStatus(s, d)
	registerAssignTaskToAgent(s, d)
	registerListTasks(s, d)
	registerGetTask(s, d)
	registerRemoveTask(s, d)
	registerReportTaskProgress(s, d)
	registerReportTaskCompletion(s, d)
	registerGetDashboard(s, d)
	registerGetDashboardSummary(s, d)

	// Worktree and merge tools (6)
	registerCreateWorktree(s, d)
	registerListWorktrees(s, d)
	registerRemoveWorktree(s, d)
	registerAssignWorktree(s, d)
	registerGetWorktreeStatus(s, d)
	registerMergeCompletedTasks(s, d)

	// Health and recovery tools (6)
	registerHealthcheckAgent(s, d)
	registerHealthcheckAll(s, d)
	registerGetUnhealthyAgents(s, d)
	registerAttemptRecovery(s, d)
	registerFullRecovery(s, d)
	registerMonitorAndRecoverWorkers(s, d)

	// Memory tools (6)
	registerSaveToMemory(s, d)
	registerRetrieveFromMemory(s, d)
	registerListMemoryEntries(s, d)
	registerDeleteMemoryEntry(s, d)
	registerGetMemorySummary(s, d)
	registerSearchMemoryArchive(s, d)
}
