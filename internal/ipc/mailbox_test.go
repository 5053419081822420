package ipc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
)

type recordedNotify struct {
	receiver *domain.Agent
	msg      *domain.Message
}

type fakeNotifier struct {
	calls []recordedNotify
}

func (f *fakeNotifier) Notify(receiver *domain.Agent, msg *domain.Message) {
	f.calls = append(f.calls, recordedNotify{receiver, msg})
}

func newTestMailbox(t *testing.T) (*Mailbox, *fakeNotifier) {
	t.Helper()
	fn := &fakeNotifier{}
	return NewMailbox(filepath.Join(t.TempDir(), "ipc"), fn, zap.NewNop()), fn
}

func msg(from, to string, mt domain.MessageType, content string) *domain.Message {
	return &domain.Message{
		SenderID:    from,
		ReceiverID:  to,
		MessageType: mt,
		Content:     content,
	}
}

func TestSendAndRead(t *testing.T) {
	mb, fn := newTestMailbox(t)
	worker := &domain.Agent{ID: "w1", Role: domain.RoleWorker, SessionName: "dev"}

	if err := mb.Send(msg("admin", "w1", domain.MsgTaskAssign, "do the thing\nwith care"), worker); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(fn.calls) != 1 || fn.calls[0].receiver.ID != "w1" {
		t.Errorf("notify calls = %+v", fn.calls)
	}

	msgs, err := mb.Read("w1", false, false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d", len(msgs))
	}
	got := msgs[0]
	if got.Content != "do the thing\nwith care" {
		t.Errorf("content = %q", got.Content)
	}
	if got.SenderID != "admin" || got.MessageType != domain.MsgTaskAssign {
		t.Errorf("message = %+v", got)
	}
	if got.Priority != domain.PriorityNormal {
		t.Errorf("priority default = %q", got.Priority)
	}
	if got.ReadAt != nil {
		t.Error("message should be unread")
	}
}

func TestReadChronologicalOrder(t *testing.T) {
	mb, _ := newTestMailbox(t)
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		m := msg("admin", "w1", domain.MsgRequest, text)
		m.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := mb.Send(m, nil); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := mb.Read("w1", false, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("messages = %d", len(msgs))
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Content != want {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, want)
		}
	}
}

func TestMarkAsRead(t *testing.T) {
	mb, _ := newTestMailbox(t)
	mb.Send(msg("admin", "w1", domain.MsgRequest, "a"), nil)
	mb.Send(msg("admin", "w1", domain.MsgRequest, "b"), nil)

	n, err := mb.UnreadCount("w1")
	if err != nil || n != 2 {
		t.Fatalf("unread = %d, err = %v", n, err)
	}

	msgs, err := mb.Read("w1", true, true)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("read = %d, err = %v", len(msgs), err)
	}

	// The read markers are durable.
	n, _ = mb.UnreadCount("w1")
	if n != 0 {
		t.Errorf("unread after mark = %d", n)
	}
	msgs, _ = mb.Read("w1", false, false)
	for _, m := range msgs {
		if m.ReadAt == nil {
			t.Error("read_at should be set")
		}
	}

	// unread_only now filters everything out.
	msgs, _ = mb.Read("w1", true, false)
	if len(msgs) != 0 {
		t.Errorf("unread_only = %d messages", len(msgs))
	}
}

func TestUnreadCountDoesNotModify(t *testing.T) {
	mb, _ := newTestMailbox(t)
	mb.Send(msg("admin", "w1", domain.MsgRequest, "a"), nil)

	mb.UnreadCount("w1")
	n, _ := mb.UnreadCount("w1")
	if n != 1 {
		t.Errorf("unread = %d, count must not consume", n)
	}
}

func TestReceiverIDSanitized(t *testing.T) {
	mb, _ := newTestMailbox(t)
	if err := mb.Send(msg("admin", "../escape", domain.MsgRequest, "x"), nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	// The sanitized directory stays inside the root.
	entries, err := os.ReadDir(mb.root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	if strings.Contains(entries[0].Name(), "/") || strings.Contains(entries[0].Name(), "..") {
		t.Errorf("dir name = %q", entries[0].Name())
	}
}

func TestBroadcastBestEffort(t *testing.T) {
	mb, fn := newTestMailbox(t)
	receivers := []*domain.Agent{
		{ID: "w1", Role: domain.RoleWorker},
		{ID: "w2", Role: domain.RoleWorker},
		{ID: "w3", Role: domain.RoleWorker},
	}

	template := msg("admin", "", domain.MsgBroadcast, "all hands")
	delivered, failures := mb.Broadcast(template, receivers)
	if delivered != 3 || len(failures) != 0 {
		t.Fatalf("delivered = %d, failures = %v", delivered, failures)
	}
	if len(fn.calls) != 3 {
		t.Errorf("notify calls = %d", len(fn.calls))
	}

	// Every copy got its own id and receiver.
	seen := make(map[string]bool)
	for _, a := range receivers {
		msgs, _ := mb.Read(a.ID, false, false)
		if len(msgs) != 1 {
			t.Fatalf("%s got %d messages", a.ID, len(msgs))
		}
		if msgs[0].ReceiverID != a.ID {
			t.Errorf("receiver = %q", msgs[0].ReceiverID)
		}
		if seen[msgs[0].ID] {
			t.Error("message ids must be unique per copy")
		}
		seen[msgs[0].ID] = true
	}
}

func TestFilenameShape(t *testing.T) {
	m := &domain.Message{
		ID:        "0123456789abcdef",
		CreatedAt: time.Date(2026, 8, 24, 9, 30, 15, 123456789, time.UTC),
	}
	got := filename(m)
	want := "20260824_093015_123456_01234567.md"
	if got != want {
		t.Errorf("filename = %q, want %q", got, want)
	}
}

func TestWakeupLine(t *testing.T) {
	m := msg("admin", "w1", domain.MsgTaskAssign, "")
	want := "[IPC] 新しいメッセージ: task_assign from admin"
	if got := WakeupLine(m); got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	mb, _ := newTestMailbox(t)
	m := msg("w1", "admin", domain.MsgTaskProgress, "body")
	m.Metadata = map[string]any{"task_id": "t-1", "progress": 55}
	if err := mb.Send(m, nil); err != nil {
		t.Fatal(err)
	}

	msgs, _ := mb.Read("admin", false, false)
	if len(msgs) != 1 {
		t.Fatal("message missing")
	}
	if msgs[0].TaskID() != "t-1" {
		t.Errorf("task_id = %q", msgs[0].TaskID())
	}
	if msgs[0].ProgressValue() != 55 {
		t.Errorf("progress = %d", msgs[0].ProgressValue())
	}
}
