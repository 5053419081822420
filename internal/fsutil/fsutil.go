// Package fsutil provides the shared file-store primitives: atomic writes,
// advisory locks with a hard timeout, and sanitization of user-supplied names
// before they become path segments.
package fsutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/jaakkos/crewmux/internal/domain"
)

// LockTimeout is the hard limit for acquiring any advisory lock. Contention
// past this returns ConcurrencyTimeout; the caller must retry.
const LockTimeout = 1 * time.Second

const lockRetryInterval = 25 * time.Millisecond

// WriteFileAtomic writes data to path via a temp file in the same directory
// followed by a rename, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// WithLock runs fn while holding an exclusive advisory lock on lockPath.
// Acquisition is bounded by LockTimeout; exceeding it returns
// ConcurrencyTimeout without running fn.
func WithLock(lockPath string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	fl := flock.New(lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()
	ok, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("acquire lock %s: %w", lockPath, err)
	}
	if !ok {
		return domain.ConcurrencyTimeout(lockPath)
	}
	defer fl.Unlock()
	return fn()
}

// SanitizeName makes a user-supplied identifier safe as a single path
// segment. Path separators and characters that are unsafe on common
// filesystems are replaced with underscores; leading/trailing whitespace and
// dots are stripped. An identifier that sanitizes to nothing becomes the
// literal "entry".
func SanitizeName(name string) string {
	replacer := strings.NewReplacer(
		"<", "_", ">", "_", ":", "_", `"`, "_",
		"/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
	)
	s := replacer.Replace(name)
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ".")
	s = strings.TrimSpace(s)
	if s == "" {
		return "entry"
	}
	return s
}

// EnsureWithin verifies that path, once cleaned, remains inside root.
// Guards against traversal through already-sanitized segments.
func EnsureWithin(root, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes %s", path, root)
	}
	return abs, nil
}

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
