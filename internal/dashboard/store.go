// Package dashboard is the durable task state machine for one session. All
// state lives in the YAML front matter of dashboard.md; the markdown body
// below it is re-rendered from the front matter on every write and is never
// read back.
package dashboard

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/fsutil"
)

const frontMatterDelim = "---"

// Store owns dashboard.md and its sibling lock file.
type Store struct {
	path     string
	lockPath string
	logger   *zap.Logger
}

// NewStore returns a Store for one session dashboard.
func NewStore(path, lockPath string, logger *zap.Logger) *Store {
	return &Store{path: path, lockPath: lockPath, logger: logger}
}

// Init creates the dashboard file if it does not exist yet. Re-init of an
// existing dashboard is a no-op so restarts never wipe state.
func (s *Store) Init(workspaceID, workspacePath string) error {
	return fsutil.WithLock(s.lockPath, func() error {
		if fsutil.FileExists(s.path) {
			return nil
		}
		d := domain.NewDashboard(workspaceID, workspacePath)
		now := time.Now().UTC()
		d.SessionStartedAt = &now
		return s.write(d)
	})
}

// Get reads the current dashboard without taking the lock. The atomic write
// protocol guarantees a consistent file.
func (s *Store) Get() (*domain.Dashboard, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NotFound("dashboard", s.path)
		}
		return nil, fmt.Errorf("read dashboard: %w", err)
	}
	return parse(data)
}

// Mutate runs fn inside the lock-reread-apply-render-write transaction.
func (s *Store) Mutate(fn func(*domain.Dashboard) error) error {
	return fsutil.WithLock(s.lockPath, func() error {
		d, err := s.Get()
		if err != nil {
			return err
		}
		if err := fn(d); err != nil {
			return err
		}
		return s.write(d)
	})
}

func (s *Store) write(d *domain.Dashboard) error {
	d.UpdatedAt = time.Now().UTC()
	front, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dashboard: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(frontMatterDelim + "\n")
	buf.Write(front)
	buf.WriteString(frontMatterDelim + "\n\n")
	buf.WriteString(render(d))
	return fsutil.WriteFileAtomic(s.path, buf.Bytes(), 0o644)
}

// parse extracts the front matter; the markdown body is derived state and is
// discarded.
func parse(data []byte) (*domain.Dashboard, error) {
	text := string(data)
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return nil, fmt.Errorf("dashboard file has no front matter")
	}
	rest := text[len(frontMatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelim+"\n")
	if end < 0 {
		return nil, fmt.Errorf("dashboard front matter is not terminated")
	}
	var d domain.Dashboard
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &d); err != nil {
		return nil, fmt.Errorf("parse dashboard front matter: %w", err)
	}
	return &d, nil
}

// SyncAgents replaces the agent summary rows. Recovery counts carried on
// existing rows are preserved.
func (s *Store) SyncAgents(agents []domain.AgentSummary) error {
	return s.Mutate(func(d *domain.Dashboard) error {
		prev := make(map[string]int, len(d.Agents))
		for _, a := range d.Agents {
			prev[a.ID] = a.RecoveryCount
		}
		for i := range agents {
			if n, ok := prev[agents[i].ID]; ok && agents[i].RecoveryCount == 0 {
				agents[i].RecoveryCount = n
			}
		}
		d.Agents = agents
		return nil
	})
}

// AppendLog appends one message-log row, keeping the log bounded.
func (s *Store) AppendLog(entry domain.LogEntry) error {
	return s.Mutate(func(d *domain.Dashboard) error {
		appendLog(d, entry)
		return nil
	})
}

const maxLogEntries = 200

func appendLog(d *domain.Dashboard, entry domain.LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	d.MessageLog = append(d.MessageLog, entry)
	if len(d.MessageLog) > maxLogEntries {
		d.MessageLog = d.MessageLog[len(d.MessageLog)-maxLogEntries:]
	}
}

// RecordCrash bumps the crash counter.
func (s *Store) RecordCrash() error {
	return s.Mutate(func(d *domain.Dashboard) error {
		d.ProcessCrashCount++
		return nil
	})
}

// RecordRecovery bumps the recovery counter and the agent's row.
func (s *Store) RecordRecovery(agentID string) error {
	return s.Mutate(func(d *domain.Dashboard) error {
		d.ProcessRecoveryCount++
		if a := d.FindAgent(agentID); a != nil {
			a.RecoveryCount++
		}
		return nil
	})
}

// AddCost accumulates a reported cost and returns the new total.
func (s *Store) AddCost(amount float64) (float64, error) {
	var total float64
	err := s.Mutate(func(d *domain.Dashboard) error {
		d.TotalCostUSD += amount
		total = d.TotalCostUSD
		return nil
	})
	return total, err
}

// FinishSession stamps session_finished_at. Idempotent.
func (s *Store) FinishSession() error {
	return s.Mutate(func(d *domain.Dashboard) error {
		if d.SessionFinishedAt == nil {
			now := time.Now().UTC()
			d.SessionFinishedAt = &now
		}
		return nil
	})
}

// Summary is the compact dashboard digest returned by get_dashboard_summary.
type Summary struct {
	WorkspaceID   string         `json:"workspace_id"`
	TaskCounts    map[string]int `json:"task_counts"`
	AgentCounts   map[string]int `json:"agent_counts"`
	InProgress    int            `json:"in_progress"`
	AllTerminal   bool           `json:"all_terminal"`
	CrashCount    int            `json:"process_crash_count"`
	RecoveryCount int            `json:"process_recovery_count"`
	TotalCostUSD  float64        `json:"total_cost_usd"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Summarize computes the digest from the current dashboard.
func (s *Store) Summarize() (*Summary, error) {
	d, err := s.Get()
	if err != nil {
		return nil, err
	}
	sum := &Summary{
		WorkspaceID:   d.WorkspaceID,
		TaskCounts:    make(map[string]int),
		AgentCounts:   make(map[string]int),
		InProgress:    d.InProgressCount(),
		AllTerminal:   d.AllTasksTerminal(),
		CrashCount:    d.ProcessCrashCount,
		RecoveryCount: d.ProcessRecoveryCount,
		TotalCostUSD:  d.TotalCostUSD,
		UpdatedAt:     d.UpdatedAt,
	}
	for i := range d.Tasks {
		sum.TaskCounts[string(d.Tasks[i].Status)]++
	}
	for i := range d.Agents {
		sum.AgentCounts[string(d.Agents[i].Status)]++
	}
	return sum, nil
}
