// Package ipc is the file-backed mailbox between agents. One directory per
// recipient, one markdown file per message (YAML front matter + body), plus a
// cross-pane wake-up pushed through the terminal adapter.
package ipc

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/fsutil"
)

const frontMatterDelim = "---"

// Mailbox stores and retrieves messages under {session_dir}/ipc/.
type Mailbox struct {
	root     string
	notifier Notifier
	logger   *zap.Logger
}

// Notifier delivers the wake-up for a freshly written message. Failures are
// the notifier's to log; delivery of the file has already happened.
type Notifier interface {
	Notify(receiver *domain.Agent, msg *domain.Message)
}

// NewMailbox returns a Mailbox rooted at the session ipc directory. notifier
// may be nil when wake-ups are not wanted (tests, cleanup paths).
func NewMailbox(root string, notifier Notifier, logger *zap.Logger) *Mailbox {
	return &Mailbox{root: root, notifier: notifier, logger: logger}
}

// Dir returns the mailbox directory for a recipient, creating it on demand.
// The recipient id is sanitized before it becomes a path segment.
func (mb *Mailbox) Dir(receiverID string) (string, error) {
	dir := filepath.Join(mb.root, fsutil.SanitizeName(receiverID))
	if _, err := fsutil.EnsureWithin(mb.root, dir); err != nil {
		return "", domain.Validation(err.Error())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create mailbox dir: %w", err)
	}
	return dir, nil
}

// Send writes one message durably and pushes the wake-up to the receiver's
// pane. The file write is the delivery; notification failures do not undo it.
func (mb *Mailbox) Send(msg *domain.Message, receiver *domain.Agent) error {
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return domain.Validation("sender_id and receiver_id are required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Priority == "" {
		msg.Priority = domain.PriorityNormal
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	dir, err := mb.Dir(msg.ReceiverID)
	if err != nil {
		return err
	}
	data, err := encode(msg)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, filename(msg))
	if err := fsutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return err
	}
	mb.logger.Debug("message delivered",
		zap.String("from", msg.SenderID), zap.String("to", msg.ReceiverID),
		zap.String("type", string(msg.MessageType)))

	if mb.notifier != nil {
		mb.notifier.Notify(receiver, msg)
	}
	return nil
}

// Read returns a recipient's messages in chronological order. unreadOnly
// filters out messages with a read marker; markAsRead stamps read_at on every
// returned message, each file rewritten atomically.
func (mb *Mailbox) Read(receiverID string, unreadOnly, markAsRead bool) ([]*domain.Message, error) {
	dir, err := mb.Dir(receiverID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read mailbox: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
			names = append(names, e.Name())
		}
	}
	// The timestamp prefix makes lexical order chronological.
	sort.Strings(names)

	var out []*domain.Message
	now := time.Now().UTC()
	for _, name := range names {
		path := filepath.Join(dir, name)
		msg, err := decodeFile(path)
		if err != nil {
			mb.logger.Warn("skipping unparseable message", zap.String("file", path), zap.Error(err))
			continue
		}
		if unreadOnly && msg.ReadAt != nil {
			continue
		}
		if markAsRead && msg.ReadAt == nil {
			msg.ReadAt = &now
			data, err := encode(msg)
			if err == nil {
				err = fsutil.WriteFileAtomic(path, data, 0o644)
			}
			if err != nil {
				mb.logger.Warn("read marker write failed", zap.String("file", path), zap.Error(err))
			}
		}
		out = append(out, msg)
	}
	return out, nil
}

// UnreadCount walks the mailbox without modifying anything.
func (mb *Mailbox) UnreadCount(receiverID string) (int, error) {
	msgs, err := mb.Read(receiverID, true, false)
	if err != nil {
		return 0, err
	}
	return len(msgs), nil
}

// Broadcast delivers a copy of the message to every receiver. Per-recipient
// failures are collected; one bad mailbox never aborts the batch.
func (mb *Mailbox) Broadcast(template *domain.Message, receivers []*domain.Agent) (delivered int, failures []string) {
	for _, agent := range receivers {
		msg := *template
		msg.ID = uuid.NewString()
		msg.ReceiverID = agent.ID
		if err := mb.Send(&msg, agent); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", agent.ID, err))
			continue
		}
		delivered++
	}
	return delivered, failures
}

// filename stamps messages so lexical sort equals delivery order:
// {YYYYMMDD}_{HHMMSS}_{microsec}_{id8}.md
func filename(msg *domain.Message) string {
	t := msg.CreatedAt
	id8 := msg.ID
	if len(id8) > 8 {
		id8 = id8[:8]
	}
	return fmt.Sprintf("%s_%06d_%s.md", t.Format("20060102_150405"), t.Nanosecond()/1000, id8)
}

// encode renders a message as front matter plus markdown body.
func encode(msg *domain.Message) ([]byte, error) {
	front, err := yaml.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	buf.Write(front)
	buf.WriteString(frontMatterDelim + "\n\n")
	buf.WriteString(msg.Content)
	if !strings.HasSuffix(msg.Content, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func decodeFile(path string) (*domain.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return nil, fmt.Errorf("no front matter")
	}
	rest := text[len(frontMatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
	if end < 0 {
		return nil, fmt.Errorf("front matter not terminated")
	}
	var msg domain.Message
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &msg); err != nil {
		return nil, fmt.Errorf("parse front matter: %w", err)
	}
	msg.Content = strings.TrimPrefix(rest[end+len(frontMatterDelim)+2:], "\n")
	return &msg, nil
}
