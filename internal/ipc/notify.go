package ipc

import (
	"fmt"
	"os/exec"
	"runtime"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
)

// KeySender is the slice of the terminal adapter the notifier needs.
type KeySender interface {
	SendKeys(target, command string, clearInput bool) error
	PaneAlive(session string, window, pane int) bool
}

// PaneNotifier pushes the wake-up line into the receiver's pane. The owner
// has no pane; it gets a best-effort platform notification instead, silently
// skipped when the platform offers none.
type PaneNotifier struct {
	tmux   KeySender
	logger *zap.Logger
}

// NewPaneNotifier returns the standard wake-up notifier.
func NewPaneNotifier(tmux KeySender, logger *zap.Logger) *PaneNotifier {
	return &PaneNotifier{tmux: tmux, logger: logger}
}

// WakeupLine is the single line typed into the receiver's pane.
func WakeupLine(msg *domain.Message) string {
	return fmt.Sprintf("[IPC] 新しいメッセージ: %s from %s", msg.MessageType, msg.SenderID)
}

// Notify implements Notifier. receiver may be nil when the recipient is not
// registered; the message file is already on disk either way.
func (n *PaneNotifier) Notify(receiver *domain.Agent, msg *domain.Message) {
	if receiver == nil {
		return
	}
	if receiver.Role == domain.RoleOwner || !receiver.HasPane() {
		n.platformNotify(msg)
		return
	}
	pane := receiver.PaneRef()
	if !n.tmux.PaneAlive(pane.Session, pane.Window, pane.Pane) {
		n.logger.Debug("wake-up skipped, pane gone", zap.String("agent", receiver.ID))
		return
	}
	// The clear is skipped so in-flight typing in the pane survives.
	if err := n.tmux.SendKeys(pane.Target(), WakeupLine(msg), false); err != nil {
		n.logger.Warn("pane wake-up failed",
			zap.String("agent", receiver.ID), zap.Error(err))
	}
}

// platformNotify raises a desktop notification for the pane-less owner.
func (n *PaneNotifier) platformNotify(msg *domain.Message) {
	title := "crewmux"
	body := WakeupLine(msg)
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		cmd = exec.Command("osascript", "-e", script)
	case "linux":
		cmd = exec.Command("notify-send", title, body)
	default:
		return
	}
	if err := cmd.Run(); err != nil {
		n.logger.Debug("platform notification unavailable", zap.Error(err))
	}
}
