package gitops

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
)

// Manager owns the worker worktrees of one session. Records are kept in
// memory and re-derived from `git worktree list` on demand; the branch is the
// durable identity.
type Manager struct {
	repoDir string
	root    string // {session_dir}/worktrees
	logger  *zap.Logger

	mu     sync.Mutex
	active map[string]*domain.WorktreeRecord // path -> record
}

// NewManager returns a Manager rooted at the session worktree directory.
func NewManager(repoDir, root string, logger *zap.Logger) *Manager {
	return &Manager{
		repoDir: repoDir,
		root:    root,
		logger:  logger,
		active:  make(map[string]*domain.WorktreeRecord),
	}
}

// Create makes a worktree on a new branch cut from base (empty base = HEAD).
// A branch already held by a live worktree is refused.
func (m *Manager) Create(name, branch, base string) (*domain.WorktreeRecord, error) {
	if !IsGitRepo(m.repoDir) {
		return nil, domain.Validation(fmt.Sprintf("%s is not a git repository", m.repoDir))
	}
	if branch == "" {
		return nil, domain.Validation("branch is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.active {
		if rec.Branch == branch {
			return nil, domain.Validation(fmt.Sprintf("branch %s already has a worktree at %s", branch, rec.Path))
		}
	}

	path := filepath.Join(m.root, name)
	if _, ok := m.active[path]; ok {
		return nil, domain.Validation(fmt.Sprintf("worktree path %s already in use", path))
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, fmt.Errorf("create worktree root: %w", err)
	}

	// A stale branch from a crashed session blocks worktree add; clear it.
	if BranchExists(m.repoDir, branch) {
		_ = worktreePrune(m.repoDir)
		if err := BranchDelete(m.repoDir, branch); err != nil {
			m.logger.Warn("stale branch delete failed", zap.String("branch", branch), zap.Error(err))
		}
	}

	if err := worktreeAdd(m.repoDir, path, branch, base); err != nil {
		return nil, err
	}

	rec := &domain.WorktreeRecord{
		Path:      path,
		Branch:    branch,
		CreatedAt: time.Now().UTC(),
	}
	m.active[path] = rec
	m.logger.Info("worktree created",
		zap.String("path", path), zap.String("branch", branch), zap.String("base", base))
	return rec, nil
}

// Recreate tears a worktree directory down and checks its branch out again at
// the same path. The branch and its commits survive; only the working files
// are rebuilt. Full recovery uses this to replace a suspect checkout.
func (m *Manager) Recreate(path, branch string) (*domain.WorktreeRecord, error) {
	if !IsGitRepo(m.repoDir) {
		return nil, domain.Validation(fmt.Sprintf("%s is not a git repository", m.repoDir))
	}
	if branch == "" {
		return nil, domain.Validation("branch is required")
	}

	if err := worktreeRemove(m.repoDir, path, true); err != nil {
		m.logger.Warn("git worktree remove failed, removing directory", zap.Error(err))
		if err2 := os.RemoveAll(path); err2 != nil {
			return nil, fmt.Errorf("remove worktree dir: %w (git: %v)", err2, err)
		}
	}
	_ = worktreePrune(m.repoDir)

	if BranchExists(m.repoDir, branch) {
		if err := worktreeCheckout(m.repoDir, path, branch); err != nil {
			return nil, err
		}
	} else if err := worktreeAdd(m.repoDir, path, branch, ""); err != nil {
		return nil, err
	}

	m.mu.Lock()
	rec, ok := m.active[path]
	if !ok {
		rec = &domain.WorktreeRecord{Path: path, CreatedAt: time.Now().UTC()}
		m.active[path] = rec
	}
	rec.Branch = branch
	m.mu.Unlock()
	m.logger.Info("worktree recreated",
		zap.String("path", path), zap.String("branch", branch))
	return rec, nil
}

// Assign binds a worktree to an agent.
func (m *Manager) Assign(path, agentID string) (*domain.WorktreeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.active[path]
	if !ok {
		return nil, domain.NotFound("worktree", path)
	}
	rec.AssignedAgentID = agentID
	return rec, nil
}

// Remove detaches a worktree and deletes its branch. Falls back to removing
// the directory by hand when git refuses.
func (m *Manager) Remove(path string) error {
	m.mu.Lock()
	rec, ok := m.active[path]
	if ok {
		delete(m.active, path)
	}
	m.mu.Unlock()
	if !ok {
		return domain.NotFound("worktree", path)
	}

	if err := worktreeRemove(m.repoDir, path, true); err != nil {
		m.logger.Warn("git worktree remove failed, removing directory", zap.Error(err))
		if err2 := os.RemoveAll(path); err2 != nil {
			return fmt.Errorf("remove worktree dir: %w (git: %v)", err2, err)
		}
	}
	_ = worktreePrune(m.repoDir)

	if BranchExists(m.repoDir, rec.Branch) {
		if err := BranchDelete(m.repoDir, rec.Branch); err != nil {
			m.logger.Warn("branch delete failed", zap.String("branch", rec.Branch), zap.Error(err))
		}
	}
	return nil
}

// RemoveAll detaches every managed worktree. Used by workspace cleanup.
func (m *Manager) RemoveAll() error {
	m.mu.Lock()
	paths := make([]string, 0, len(m.active))
	for p := range m.active {
		paths = append(paths, p)
	}
	m.mu.Unlock()

	var firstErr error
	for _, p := range paths {
		if err := m.Remove(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// List returns the managed records plus any registered worktrees under the
// session root that the manager does not know about (left by a previous
// process serving the same session).
func (m *Manager) List() ([]domain.WorktreeRecord, error) {
	paths, err := WorktreePaths(m.repoDir)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.WorktreeRecord
	seen := make(map[string]bool)
	for _, rec := range m.active {
		out = append(out, *rec)
		seen[rec.Path] = true
	}
	for _, p := range paths {
		if seen[p] || !within(m.root, p) {
			continue
		}
		branch, err := CurrentBranch(p)
		if err != nil {
			continue
		}
		out = append(out, domain.WorktreeRecord{Path: p, Branch: branch})
	}
	return out, nil
}

// Get returns the record for a path.
func (m *Manager) Get(path string) (*domain.WorktreeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.active[path]
	if !ok {
		return nil, domain.NotFound("worktree", path)
	}
	cp := *rec
	return &cp, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && rel != "." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}
