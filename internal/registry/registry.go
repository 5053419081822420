// Package registry is the persistent source of truth for agents. The session
// snapshot ({session_dir}/agents.json) is authoritative; an in-memory cache is
// kept only as a fast path and is discarded whenever the file mtime moves.
// Independent server processes may serve the same session, so every mutation
// is a locked read-modify-write of the snapshot.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/fsutil"
)

// OwnerWaitState is the owner back-pressure record. It lives in the snapshot
// so the wait survives server restarts and is visible across processes.
type OwnerWaitState struct {
	Active     bool      `json:"active"`
	Since      time.Time `json:"since"`
	EmptyPolls int       `json:"empty_polls"`
}

// snapshot is the on-disk agents.json layout.
type snapshot struct {
	SessionID string          `json:"session_id"`
	Agents    []*domain.Agent `json:"agents"`
	OwnerWait *OwnerWaitState `json:"owner_wait,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GlobalRef maps an agent id back to its project and session, for clients
// that only know the id.
type GlobalRef struct {
	AgentID     string `json:"agent_id"`
	ProjectRoot string `json:"project_root"`
	SessionID   string `json:"session_id"`
}

// Registry projects agents.json into memory and writes it back atomically.
type Registry struct {
	sessionID   string
	projectRoot string
	agentsFile  string
	globalDir   string // {user_home}/.{mcp_dir}/agents
	maxWorkers  int
	logger      *zap.Logger

	cache      map[string]*domain.Agent
	cacheMtime time.Time
	cachedWait *OwnerWaitState
}

// New returns a Registry for one session.
func New(sessionID, projectRoot, agentsFile, globalDir string, maxWorkers int, logger *zap.Logger) *Registry {
	return &Registry{
		sessionID:   sessionID,
		projectRoot: projectRoot,
		agentsFile:  agentsFile,
		globalDir:   globalDir,
		maxWorkers:  maxWorkers,
		logger:      logger,
		cache:       make(map[string]*domain.Agent),
	}
}

func (r *Registry) lockPath() string { return r.agentsFile + ".lock" }

// SessionID returns the session this registry serves.
func (r *Registry) SessionID() string { return r.sessionID }

// MaxWorkers returns the configured live-worker cap.
func (r *Registry) MaxWorkers() int { return r.maxWorkers }

// load reads the snapshot from disk when the cached copy is stale. Callers
// must hold the file lock when they intend to write afterwards.
func (r *Registry) load() (*snapshot, error) {
	info, err := os.Stat(r.agentsFile)
	if os.IsNotExist(err) {
		return &snapshot{SessionID: r.sessionID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", r.agentsFile, err)
	}

	if info.ModTime().Equal(r.cacheMtime) && len(r.cache) > 0 {
		snap := &snapshot{SessionID: r.sessionID, UpdatedAt: r.cacheMtime}
		for _, a := range r.cache {
			cp := *a
			snap.Agents = append(snap.Agents, &cp)
		}
		snap.OwnerWait = r.cachedWait
		return snap, nil
	}

	data, err := os.ReadFile(r.agentsFile)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.agentsFile, err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.agentsFile, err)
	}
	r.replaceCache(&snap, info.ModTime())
	return &snap, nil
}

// save writes the snapshot atomically and commits the cache only on success,
// so a failed write rolls the in-memory state back to the previous file.
func (r *Registry) save(snap *snapshot) error {
	snap.SessionID = r.sessionID
	snap.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agents: %w", err)
	}
	if err := fsutil.WriteFileAtomic(r.agentsFile, append(data, '\n'), 0o644); err != nil {
		r.cacheMtime = time.Time{} // force reload next read
		return err
	}
	info, err := os.Stat(r.agentsFile)
	if err != nil {
		r.cacheMtime = time.Time{}
		return nil
	}
	r.replaceCache(snap, info.ModTime())
	return nil
}

func (r *Registry) replaceCache(snap *snapshot, mtime time.Time) {
	cache := make(map[string]*domain.Agent, len(snap.Agents))
	for _, a := range snap.Agents {
		cp := *a
		cache[cp.ID] = &cp
	}
	r.cache = cache
	r.cacheMtime = mtime
	r.cachedWait = snap.OwnerWait
}

// mutate runs fn over the current snapshot under the file lock and persists
// the result when fn succeeds.
func (r *Registry) mutate(fn func(*snapshot) error) error {
	return fsutil.WithLock(r.lockPath(), func() error {
		snap, err := r.load()
		if err != nil {
			return err
		}
		if err := fn(snap); err != nil {
			return err
		}
		return r.save(snap)
	})
}

// Register adds an agent. Duplicate ids and occupied pane triples are
// refused; role invariants (one owner, at most one admin) are enforced here.
func (r *Registry) Register(agent *domain.Agent) error {
	if agent.ID == "" {
		return domain.Validation("agent id is required")
	}
	err := r.mutate(func(snap *snapshot) error {
		for _, a := range snap.Agents {
			if a.ID == agent.ID {
				return domain.Validation(fmt.Sprintf("agent %s already registered", agent.ID))
			}
			if !a.Live() {
				continue
			}
			if agent.HasPane() && a.HasPane() && a.PaneRef() == agent.PaneRef() {
				return domain.Validation(fmt.Sprintf("pane %s already occupied by %s", agent.PaneRef().Target(), a.ID))
			}
			if agent.Role == domain.RoleOwner && a.Role == domain.RoleOwner {
				return domain.Validation("session already has an owner")
			}
			if agent.Role == domain.RoleAdmin && a.Role == domain.RoleAdmin {
				return domain.Validation("session already has an admin")
			}
			if agent.Role == domain.RoleWorker && a.Role == domain.RoleWorker && a.WorkerSlot == agent.WorkerSlot {
				return domain.Validation(fmt.Sprintf("worker slot %d already taken by %s", agent.WorkerSlot, a.ID))
			}
		}
		if agent.Role == domain.RoleWorker {
			live := 0
			for _, a := range snap.Agents {
				if a.Live() && a.Role == domain.RoleWorker {
					live++
				}
			}
			if live >= r.maxWorkers {
				return domain.WorkerLimitReached(r.maxWorkers)
			}
		}
		if agent.LastActivity.IsZero() {
			agent.LastActivity = time.Now().UTC()
		}
		cp := *agent
		snap.Agents = append(snap.Agents, &cp)
		return nil
	})
	if err != nil {
		return err
	}
	if err := r.writeGlobalRef(agent.ID); err != nil {
		r.logger.Warn("global agent ref write failed", zap.String("agent", agent.ID), zap.Error(err))
	}
	r.logger.Info("agent registered",
		zap.String("agent", agent.ID), zap.String("role", string(agent.Role)),
		zap.Int("slot", agent.WorkerSlot))
	return nil
}

// Terminate flips an agent to terminated. The record is kept; ids are never
// reused.
func (r *Registry) Terminate(agentID string) error {
	return r.mutate(func(snap *snapshot) error {
		for _, a := range snap.Agents {
			if a.ID == agentID {
				a.Status = domain.AgentTerminated
				a.CurrentTaskID = ""
				a.LastActivity = time.Now().UTC()
				return nil
			}
		}
		return domain.NotFound("agent", agentID)
	})
}

// Lookup returns a copy of one agent, file-first.
func (r *Registry) Lookup(agentID string) (*domain.Agent, error) {
	var found *domain.Agent
	err := fsutil.WithLock(r.lockPath(), func() error {
		snap, err := r.load()
		if err != nil {
			return err
		}
		for _, a := range snap.Agents {
			if a.ID == agentID {
				cp := *a
				found = &cp
				return nil
			}
		}
		return domain.NotFound("agent", agentID)
	})
	return found, err
}

// List returns copies of all agents, terminated included.
func (r *Registry) List() ([]*domain.Agent, error) {
	var out []*domain.Agent
	err := fsutil.WithLock(r.lockPath(), func() error {
		snap, err := r.load()
		if err != nil {
			return err
		}
		for _, a := range snap.Agents {
			cp := *a
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

// Live returns the non-terminated agents.
func (r *Registry) Live() ([]*domain.Agent, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}
	var out []*domain.Agent
	for _, a := range all {
		if a.Live() {
			out = append(out, a)
		}
	}
	return out, nil
}

// FindByRole returns the first live agent with the given role.
func (r *Registry) FindByRole(role domain.Role) (*domain.Agent, error) {
	live, err := r.Live()
	if err != nil {
		return nil, err
	}
	for _, a := range live {
		if a.Role == role {
			return a, nil
		}
	}
	return nil, domain.NotFound("agent with role", string(role))
}

// ResolveWorkerSlot returns the lowest free 1-based slot within the
// configured maximum.
func (r *Registry) ResolveWorkerSlot() (int, error) {
	live, err := r.Live()
	if err != nil {
		return 0, err
	}
	taken := make(map[int]bool)
	for _, a := range live {
		if a.Role == domain.RoleWorker {
			taken[a.WorkerSlot] = true
		}
	}
	for slot := 1; slot <= r.maxWorkers; slot++ {
		if !taken[slot] {
			return slot, nil
		}
	}
	return 0, domain.WorkerLimitReached(r.maxWorkers)
}

// Update applies fn to one agent record and persists.
func (r *Registry) Update(agentID string, fn func(*domain.Agent) error) error {
	return r.mutate(func(snap *snapshot) error {
		for _, a := range snap.Agents {
			if a.ID == agentID {
				return fn(a)
			}
		}
		return domain.NotFound("agent", agentID)
	})
}

// Touch refreshes an agent's last_activity.
func (r *Registry) Touch(agentID string) error {
	return r.Update(agentID, func(a *domain.Agent) error {
		a.LastActivity = time.Now().UTC()
		return nil
	})
}

// writeGlobalRef records agent id → (project_root, session_id) under the
// user-global directory so other processes can route by agent id alone.
func (r *Registry) writeGlobalRef(agentID string) error {
	if r.globalDir == "" {
		return nil
	}
	ref := GlobalRef{AgentID: agentID, ProjectRoot: r.projectRoot, SessionID: r.sessionID}
	data, err := json.MarshalIndent(ref, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(r.globalDir, fsutil.SanitizeName(agentID)+".json")
	return fsutil.WithLock(path+".lock", func() error {
		return fsutil.WriteFileAtomic(path, append(data, '\n'), 0o644)
	})
}

// LoadGlobalRef resolves an agent id through the user-global directory.
func LoadGlobalRef(globalDir, agentID string) (*GlobalRef, error) {
	path := filepath.Join(globalDir, fsutil.SanitizeName(agentID)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NotFound("agent", agentID)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var ref GlobalRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &ref, nil
}
