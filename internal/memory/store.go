// Package memory is the markdown knowledge store shared by agents: one file
// per entry (YAML front matter + body) under a session, project, or
// user-global directory. Deleted entries move to a sibling archive instead of
// disappearing; the sqlite FTS index makes the archive searchable.
package memory

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jaakkos/crewmux/internal/domain"
	"github.com/jaakkos/crewmux/internal/fsutil"
)

// Scope selects which memory directory an operation targets.
type Scope string

const (
	ScopeSession Scope = "session" // {session_dir}/memory
	ScopeProject Scope = "project" // {project_root}/{mcp_dir}/memory
	ScopeGlobal  Scope = "global"  // {user_home}/.{mcp_dir}/memory
)

// ParseScope validates a scope string, defaulting to session.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeSession, ScopeProject, ScopeGlobal:
		return Scope(s), nil
	case "":
		return ScopeSession, nil
	}
	return "", domain.Validation("unknown memory scope " + s + " (session, project, global)")
}

// Entry is one memory record.
type Entry struct {
	Key       string    `json:"key" yaml:"key"`
	Tags      []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
	Author    string    `json:"author,omitempty" yaml:"author,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
	Content   string    `json:"content" yaml:"-"`
}

// Store reads and writes memory entries across the three scopes.
type Store struct {
	dirs   map[Scope]string
	index  *Index // nil disables search indexing
	logger *zap.Logger
}

// NewStore returns a Store over the given scope directories. Scopes with an
// empty directory are disabled.
func NewStore(sessionDir, projectDir, globalDir string, index *Index, logger *zap.Logger) *Store {
	return &Store{
		dirs: map[Scope]string{
			ScopeSession: sessionDir,
			ScopeProject: projectDir,
			ScopeGlobal:  globalDir,
		},
		index:  index,
		logger: logger,
	}
}

func (s *Store) dir(scope Scope) (string, error) {
	d := s.dirs[scope]
	if d == "" {
		return "", domain.Validation(fmt.Sprintf("memory scope %s is not available", scope))
	}
	return d, nil
}

func (s *Store) entryPath(scope Scope, key string) (string, error) {
	d, err := s.dir(scope)
	if err != nil {
		return "", err
	}
	path := filepath.Join(d, fsutil.SanitizeName(key)+".md")
	if _, err := fsutil.EnsureWithin(d, path); err != nil {
		return "", domain.Validation(err.Error())
	}
	return path, nil
}

// Save writes or overwrites an entry. CreatedAt survives overwrites.
func (s *Store) Save(scope Scope, key, content, author string, tags []string) (*Entry, error) {
	if key == "" {
		return nil, domain.Validation("memory key is required")
	}
	path, err := s.entryPath(scope, key)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry := &Entry{
		Key:       key,
		Tags:      tags,
		Author:    author,
		CreatedAt: now,
		UpdatedAt: now,
		Content:   content,
	}
	if prev, err := readEntry(path); err == nil {
		entry.CreatedAt = prev.CreatedAt
	}

	data, err := encode(entry)
	if err != nil {
		return nil, err
	}
	err = fsutil.WithLock(path+".lock", func() error {
		return fsutil.WriteFileAtomic(path, data, 0o644)
	})
	if err != nil {
		return nil, err
	}
	s.indexEntry(scope, entry, false)
	s.logger.Debug("memory saved", zap.String("scope", string(scope)), zap.String("key", key))
	return entry, nil
}

// Retrieve reads one entry.
func (s *Store) Retrieve(scope Scope, key string) (*Entry, error) {
	path, err := s.entryPath(scope, key)
	if err != nil {
		return nil, err
	}
	entry, err := readEntry(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.NotFound("memory entry", key)
		}
		return nil, err
	}
	return entry, nil
}

// List returns entry metadata (content omitted), newest first.
func (s *Store) List(scope Scope) ([]Entry, error) {
	d, err := s.dir(scope)
	if err != nil {
		return nil, err
	}
	files, err := os.ReadDir(d)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read memory dir: %w", err)
	}
	var out []Entry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		entry, err := readEntry(filepath.Join(d, f.Name()))
		if err != nil {
			continue
		}
		entry.Content = ""
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// Delete moves an entry into the scope's archive directory. The archived
// copy stays searchable through the index.
func (s *Store) Delete(scope Scope, key string) error {
	path, err := s.entryPath(scope, key)
	if err != nil {
		return err
	}
	entry, err := readEntry(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NotFound("memory entry", key)
		}
		return err
	}

	d, _ := s.dir(scope)
	archiveDir := filepath.Join(d, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	archivePath := filepath.Join(archiveDir, filepath.Base(path))
	if err := os.Rename(path, archivePath); err != nil {
		return fmt.Errorf("archive memory entry: %w", err)
	}
	s.indexEntry(scope, entry, true)
	s.logger.Debug("memory archived", zap.String("scope", string(scope)), zap.String("key", key))
	return nil
}

// Summary describes one scope's live and archived entries.
type Summary struct {
	Scope         Scope    `json:"scope"`
	EntryCount    int      `json:"entry_count"`
	ArchivedCount int      `json:"archived_count"`
	RecentKeys    []string `json:"recent_keys,omitempty"`
}

// Summarize reports entry counts and the most recently updated keys.
func (s *Store) Summarize(scope Scope) (*Summary, error) {
	entries, err := s.List(scope)
	if err != nil {
		return nil, err
	}
	sum := &Summary{Scope: scope, EntryCount: len(entries)}
	for i, e := range entries {
		if i >= 5 {
			break
		}
		sum.RecentKeys = append(sum.RecentKeys, e.Key)
	}
	d, _ := s.dir(scope)
	if files, err := os.ReadDir(filepath.Join(d, "archive")); err == nil {
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".md") {
				sum.ArchivedCount++
			}
		}
	}
	return sum, nil
}

// SearchArchive runs a full-text query over a scope, archived entries
// included. Returns nil when indexing is disabled.
func (s *Store) SearchArchive(scope Scope, query string, limit int) ([]SearchResult, error) {
	if s.index == nil {
		return nil, domain.Validation("memory search index is not available")
	}
	return s.index.Search(string(scope), query, limit)
}

func (s *Store) indexEntry(scope Scope, entry *Entry, archived bool) {
	if s.index == nil {
		return
	}
	if err := s.index.Put(string(scope), entry, archived); err != nil {
		s.logger.Warn("memory index update failed", zap.String("key", entry.Key), zap.Error(err))
	}
}

func encode(entry *Entry) ([]byte, error) {
	front, err := yaml.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal memory entry: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(front)
	buf.WriteString("---\n\n")
	buf.WriteString(entry.Content)
	if !strings.HasSuffix(entry.Content, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func readEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return nil, fmt.Errorf("memory entry %s has no front matter", path)
	}
	rest := text[4:]
	end := strings.Index(rest, "\n---\n")
	if end < 0 {
		return nil, fmt.Errorf("memory entry %s front matter not terminated", path)
	}
	var entry Entry
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &entry); err != nil {
		return nil, fmt.Errorf("parse memory entry %s: %w", path, err)
	}
	entry.Content = strings.TrimPrefix(rest[end+5:], "\n")
	return &entry, nil
}
