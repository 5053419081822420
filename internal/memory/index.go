package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

const indexSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS entries USING fts5(
	ref,
	key,
	content,
	scope,
	archived,
	tokenize='porter unicode61'
);
`

// Index is the sqlite FTS5 search index over memory entries. It is derived
// state: losing the database only loses search, never the entries.
type Index struct {
	db *sql.DB
	mu sync.RWMutex
}

// OpenIndex opens or creates the index database.
func OpenIndex(dbPath string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open memory index: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close closes the database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

func ref(scope, key string, archived bool) string {
	if archived {
		return scope + "/archive/" + key
	}
	return scope + "/" + key
}

// Put replaces the indexed row for an entry. Archiving removes the live row
// and inserts the archived one.
func (ix *Index) Put(scope string, entry *Entry, archived bool) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Both the live and archived refs are cleared so an entry exists in the
	// index exactly once.
	for _, r := range []string{ref(scope, entry.Key, false), ref(scope, entry.Key, true)} {
		if _, err := tx.Exec(`DELETE FROM entries WHERE ref = ?`, r); err != nil {
			return fmt.Errorf("delete old row: %w", err)
		}
	}
	flag := "0"
	if archived {
		flag = "1"
	}
	if _, err := tx.Exec(
		`INSERT INTO entries (ref, key, content, scope, archived) VALUES (?, ?, ?, ?, ?)`,
		ref(scope, entry.Key, archived), entry.Key, entry.Content, scope, flag,
	); err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	return tx.Commit()
}

// SearchResult is one index hit.
type SearchResult struct {
	Key      string  `json:"key"`
	Scope    string  `json:"scope"`
	Archived bool    `json:"archived"`
	Snippet  string  `json:"snippet"`
	Rank     float64 `json:"rank"`
}

// Search runs an FTS5 MATCH over one scope, live and archived rows alike.
func (ix *Index) Search(scope, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	fts := sanitizeQuery(query)
	if fts == "" {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	rows, err := ix.db.Query(`
		SELECT key, scope, archived, snippet(entries, 2, '>>>', '<<<', '...', 40), rank
		FROM entries
		WHERE entries MATCH ? AND scope = ?
		ORDER BY rank
		LIMIT ?
	`, fts, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("memory search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var archived string
		if err := rows.Scan(&r.Key, &r.Scope, &archived, &r.Snippet, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Archived = archived == "1"
		results = append(results, r)
	}
	return results, rows.Err()
}

// sanitizeQuery strips FTS5 operators and joins the remaining tokens with
// implicit AND.
func sanitizeQuery(q string) string {
	replacer := strings.NewReplacer(
		`"`, "", "'", "", "(", "", ")", "",
		"*", "", ":", "", "^", "", "{", "", "}", "",
	)
	var tokens []string
	for _, w := range strings.Fields(replacer.Replace(q)) {
		if w == "AND" || w == "OR" || w == "NOT" || w == "NEAR" {
			continue
		}
		tokens = append(tokens, w)
	}
	return strings.Join(tokens, " ")
}
