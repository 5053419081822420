// Package gitops wraps the git operations behind worker isolation and merge
// preview: worktree management, branch bookkeeping, and the non-destructive
// merge dry run.
package gitops

import (
	"fmt"
	"os/exec"
	"strings"
)

// run executes one git command in dir and returns its trimmed output.
func run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w\noutput: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// IsGitRepo reports whether dir is inside a git work tree.
func IsGitRepo(dir string) bool {
	out, err := run(dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when detached.
func CurrentBranch(repoDir string) (string, error) {
	return run(repoDir, "rev-parse", "--abbrev-ref", "HEAD")
}

// HeadCommit returns the full commit hash of HEAD.
func HeadCommit(repoDir string) (string, error) {
	return run(repoDir, "rev-parse", "HEAD")
}

// BranchExists reports whether a local branch exists.
func BranchExists(repoDir, branch string) bool {
	_, err := run(repoDir, "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// BranchDelete force-deletes a local branch.
func BranchDelete(repoDir, branch string) error {
	_, err := run(repoDir, "branch", "-D", branch)
	return err
}

// Checkout switches the work tree to the given ref.
func Checkout(repoDir, ref string) error {
	_, err := run(repoDir, "checkout", ref)
	return err
}

// IsAncestor reports whether ancestor is reachable from ref, i.e. merging
// ancestor into ref would be a no-op.
func IsAncestor(repoDir, ancestor, ref string) bool {
	cmd := exec.Command("git", "merge-base", "--is-ancestor", ancestor, ref)
	cmd.Dir = repoDir
	return cmd.Run() == nil
}

// worktreeAdd creates a worktree at path on a new branch cut from base.
// Empty base cuts from the current HEAD.
func worktreeAdd(repoDir, path, branch, base string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	_, err := run(repoDir, args...)
	return err
}

// worktreeCheckout attaches a worktree for a branch that already exists.
func worktreeCheckout(repoDir, path, branch string) error {
	_, err := run(repoDir, "worktree", "add", path, branch)
	return err
}

// worktreeRemove detaches a worktree from the repository.
func worktreeRemove(repoDir, path string, force bool) error {
	args := []string{"worktree", "remove", path}
	if force {
		args = append(args, "--force")
	}
	_, err := run(repoDir, args...)
	return err
}

// worktreePrune drops administrative data for worktrees deleted out of band.
func worktreePrune(repoDir string) error {
	_, err := run(repoDir, "worktree", "prune")
	return err
}

// WorktreePaths lists the work tree paths registered in the repository,
// main checkout first.
func WorktreePaths(repoDir string) ([]string, error) {
	out, err := run(repoDir, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			paths = append(paths, strings.TrimPrefix(line, "worktree "))
		}
	}
	return paths, nil
}

// mergeNoCommit stages a merge of branch without committing. squash uses
// --squash instead of --no-ff.
func mergeNoCommit(repoDir, branch string, squash bool) error {
	args := []string{"merge", "--no-commit"}
	if squash {
		args = append(args, "--squash")
	} else {
		args = append(args, "--no-ff")
	}
	args = append(args, branch)
	_, err := run(repoDir, args...)
	return err
}

// mergeAbort cancels an in-progress merge. Errors are reported so callers can
// decide whether the work tree is still usable.
func mergeAbort(repoDir string) error {
	_, err := run(repoDir, "merge", "--abort")
	return err
}

// commit records the staged state with the given message.
func commit(repoDir, message string) error {
	_, err := run(repoDir, "commit", "--no-verify", "-m", message)
	return err
}

// resetMixed moves HEAD back to ref keeping the work tree as-is.
func resetMixed(repoDir, ref string) error {
	_, err := run(repoDir, "reset", "--mixed", ref)
	return err
}

// hasConflicts reports whether the index contains unmerged entries.
func hasConflicts(repoDir string) bool {
	out, err := run(repoDir, "diff", "--name-only", "--diff-filter=U")
	return err == nil && out != ""
}
