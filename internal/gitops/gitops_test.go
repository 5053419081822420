package gitops

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

// initTestRepo creates a temporary git repository with one commit on main.
func initTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	git(t, dir, "init", "-b", "main")
	git(t, dir, "config", "user.email", "test@test.com")
	git(t, dir, "config", "user.name", "Test")

	writeFile(t, dir, "README.md", "# Test\n")
	git(t, dir, "add", ".")
	git(t, dir, "commit", "-m", "initial")
	return dir
}

func git(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %s: %s: %v", strings.Join(args, " "), string(out), err)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// commitOnBranch cuts a branch from main, commits one file, returns to main.
func commitOnBranch(t *testing.T, repo, branch, file, content string) {
	t.Helper()
	git(t, repo, "checkout", "-b", branch, "main")
	writeFile(t, repo, file, content)
	git(t, repo, "add", ".")
	git(t, repo, "commit", "-m", "work on "+branch)
	git(t, repo, "checkout", "main")
}

func TestIsGitRepo(t *testing.T) {
	repo := initTestRepo(t)
	if !IsGitRepo(repo) {
		t.Error("initialized repo should be detected")
	}
	if IsGitRepo(t.TempDir()) {
		t.Error("plain directory should not be detected as a repo")
	}
}

func TestBranchLifecycle(t *testing.T) {
	repo := initTestRepo(t)

	if BranchExists(repo, "feature") {
		t.Fatal("feature should not exist yet")
	}
	git(t, repo, "branch", "feature")
	if !BranchExists(repo, "feature") {
		t.Fatal("feature should exist")
	}
	if err := BranchDelete(repo, "feature"); err != nil {
		t.Fatalf("BranchDelete: %v", err)
	}
	if BranchExists(repo, "feature") {
		t.Error("feature should be deleted")
	}
}

func TestManagerCreateAssignRemove(t *testing.T) {
	repo := initTestRepo(t)
	root := filepath.Join(repo, "crewmux", "sess", "worktrees")
	m := NewManager(repo, root, zap.NewNop())

	rec, err := m.Create("worker-1", "crewmux/worker-1", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Path != filepath.Join(root, "worker-1") {
		t.Errorf("path = %q", rec.Path)
	}
	if !BranchExists(repo, "crewmux/worker-1") {
		t.Error("worktree branch should exist")
	}
	if _, err := os.Stat(rec.Path); err != nil {
		t.Errorf("worktree dir missing: %v", err)
	}

	if _, err := m.Create("worker-2", "crewmux/worker-1", "main"); err == nil {
		t.Error("duplicate branch should be refused")
	}

	if _, err := m.Assign(rec.Path, "agent-42"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	got, err := m.Get(rec.Path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AssignedAgentID != "agent-42" {
		t.Errorf("assigned agent = %q", got.AssignedAgentID)
	}

	if err := m.Remove(rec.Path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(rec.Path); !os.IsNotExist(err) {
		t.Error("worktree dir should be gone")
	}
	if BranchExists(repo, "crewmux/worker-1") {
		t.Error("worktree branch should be deleted")
	}
	if _, err := m.Get(rec.Path); err == nil {
		t.Error("removed worktree should not resolve")
	}
}

func TestManagerReusesStaleBranch(t *testing.T) {
	repo := initTestRepo(t)
	m := NewManager(repo, filepath.Join(repo, "wt"), zap.NewNop())

	git(t, repo, "branch", "crewmux/worker-1")
	if _, err := m.Create("worker-1", "crewmux/worker-1", "main"); err != nil {
		t.Fatalf("Create over stale branch: %v", err)
	}
}

func TestPreviewMergeCleanBranches(t *testing.T) {
	repo := initTestRepo(t)
	commitOnBranch(t, repo, "b1", "a.txt", "one\n")
	commitOnBranch(t, repo, "b2", "b.txt", "two\n")

	head, err := HeadCommit(repo)
	if err != nil {
		t.Fatal(err)
	}

	report, err := PreviewMerge(repo, "main", []string{"b1", "b2"}, StrategyMerge, zap.NewNop())
	if err != nil {
		t.Fatalf("PreviewMerge: %v", err)
	}
	if !report.Success() {
		t.Fatalf("expected success, got %+v", report)
	}
	if len(report.Merged) != 2 {
		t.Errorf("merged = %v", report.Merged)
	}
	if !report.WorkingTreeUpdated {
		t.Error("working tree should be updated")
	}

	// HEAD must be back on the original main commit.
	if got, _ := HeadCommit(repo); got != head {
		t.Errorf("HEAD = %s, want %s", got, head)
	}
	if report.BaseHead != head {
		t.Errorf("base head = %s, want %s", report.BaseHead, head)
	}

	// Both branches' files sit in the working tree, unstaged.
	for _, f := range []string{"a.txt", "b.txt"} {
		if _, err := os.Stat(filepath.Join(repo, f)); err != nil {
			t.Errorf("%s missing from working tree: %v", f, err)
		}
	}
}

func TestPreviewMergeConflictAbortsOnlyThatBranch(t *testing.T) {
	repo := initTestRepo(t)
	commitOnBranch(t, repo, "b1", "README.md", "conflicting rewrite\n")
	commitOnBranch(t, repo, "b2", "clean.txt", "fine\n")

	// Advance main so b1 genuinely conflicts on README.md.
	writeFile(t, repo, "README.md", "# Test\nmainline change\n")
	git(t, repo, "add", ".")
	git(t, repo, "commit", "-m", "mainline")
	head, _ := HeadCommit(repo)

	report, err := PreviewMerge(repo, "main", []string{"b1", "b2"}, StrategyMerge, zap.NewNop())
	if err != nil {
		t.Fatalf("PreviewMerge: %v", err)
	}
	if report.Success() {
		t.Fatal("conflict should fail the preview")
	}
	if len(report.Conflicts) != 1 || report.Conflicts[0] != "b1" {
		t.Errorf("conflicts = %v", report.Conflicts)
	}
	if len(report.Merged) != 1 || report.Merged[0] != "b2" {
		t.Errorf("merged = %v", report.Merged)
	}
	if got, _ := HeadCommit(repo); got != head {
		t.Errorf("HEAD moved: %s, want %s", got, head)
	}
	if _, err := os.Stat(filepath.Join(repo, "clean.txt")); err != nil {
		t.Errorf("clean branch change missing: %v", err)
	}
}

func TestPreviewMergeAlreadyMerged(t *testing.T) {
	repo := initTestRepo(t)
	commitOnBranch(t, repo, "b1", "a.txt", "one\n")
	git(t, repo, "merge", "--no-ff", "b1", "-m", "merge b1")

	report, err := PreviewMerge(repo, "main", []string{"b1"}, StrategyMerge, zap.NewNop())
	if err != nil {
		t.Fatalf("PreviewMerge: %v", err)
	}
	if len(report.AlreadyMerged) != 1 || report.AlreadyMerged[0] != "b1" {
		t.Errorf("already_merged = %v", report.AlreadyMerged)
	}
	if report.WorkingTreeUpdated {
		t.Error("nothing applied, tree should be untouched")
	}
	if !report.Success() {
		t.Error("already-merged preview should succeed")
	}
}

func TestPreviewMergeRebaseFallsBack(t *testing.T) {
	repo := initTestRepo(t)
	commitOnBranch(t, repo, "b1", "a.txt", "one\n")

	report, err := PreviewMerge(repo, "main", []string{"b1"}, StrategyRebase, zap.NewNop())
	if err != nil {
		t.Fatalf("PreviewMerge: %v", err)
	}
	if len(report.Warnings) == 0 {
		t.Error("rebase fallback should warn")
	}
	if len(report.Merged) != 1 {
		t.Errorf("merged = %v", report.Merged)
	}
}

func TestPreviewMergeMissingBase(t *testing.T) {
	repo := initTestRepo(t)
	if _, err := PreviewMerge(repo, "nope", nil, StrategyMerge, zap.NewNop()); err == nil {
		t.Error("missing base branch should error")
	}
}
