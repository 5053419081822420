package gitops

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jaakkos/crewmux/internal/domain"
)

// Merge strategies accepted by PreviewMerge.
const (
	StrategyMerge  = "merge"
	StrategySquash = "squash"
	StrategyRebase = "rebase" // falls back to merge with a warning
)

// MergeReport is the outcome of a merge preview.
type MergeReport struct {
	BaseBranch         string   `json:"base_branch"`
	BaseHead           string   `json:"base_head"`
	Merged             []string `json:"merged"`
	AlreadyMerged      []string `json:"already_merged"`
	Failed             []string `json:"failed"`
	Conflicts          []string `json:"conflicts"`
	WorkingTreeUpdated bool     `json:"working_tree_updated"`
	Warnings           []string `json:"warnings,omitempty"`
}

// Success reports whether every branch applied or was already contained.
func (r *MergeReport) Success() bool {
	return len(r.Failed) == 0 && len(r.Conflicts) == 0
}

// PreviewMerge applies the given branches onto base without publishing a
// commit. Each clean application is captured in a temporary commit so the
// next branch merges against the accumulated state; at the end HEAD is moved
// back to the recorded base head with a mixed reset, leaving the union of
// changes unstaged in the working tree. A conflicting branch is aborted and
// recorded; the remaining branches still apply.
func PreviewMerge(repoDir, base string, branches []string, strategy string, logger *zap.Logger) (*MergeReport, error) {
	if !IsGitRepo(repoDir) {
		return nil, domain.Validation(fmt.Sprintf("%s is not a git repository", repoDir))
	}
	if !BranchExists(repoDir, base) {
		return nil, domain.BranchNotFound(base)
	}

	report := &MergeReport{BaseBranch: base}

	squash := false
	switch strategy {
	case StrategySquash:
		squash = true
	case StrategyRebase:
		report.Warnings = append(report.Warnings,
			"rebase strategy is not supported for preview; using merge")
	case StrategyMerge, "":
	default:
		return nil, domain.Validation(fmt.Sprintf("unknown merge strategy %q", strategy))
	}

	if err := Checkout(repoDir, base); err != nil {
		return nil, err
	}
	head, err := HeadCommit(repoDir)
	if err != nil {
		return nil, err
	}
	report.BaseHead = head

	for _, branch := range branches {
		if !BranchExists(repoDir, branch) {
			report.Failed = append(report.Failed, branch)
			logger.Warn("merge preview: branch missing", zap.String("branch", branch))
			continue
		}
		if IsAncestor(repoDir, branch, base) {
			report.AlreadyMerged = append(report.AlreadyMerged, branch)
			continue
		}
		if err := mergeNoCommit(repoDir, branch, squash); err != nil {
			if hasConflicts(repoDir) {
				if abortErr := mergeAbort(repoDir); abortErr != nil {
					logger.Warn("merge abort failed", zap.String("branch", branch), zap.Error(abortErr))
				}
				report.Conflicts = append(report.Conflicts, branch)
			} else {
				report.Failed = append(report.Failed, branch)
				logger.Warn("merge preview: apply failed", zap.String("branch", branch), zap.Error(err))
			}
			continue
		}
		// The temp commit lets the next branch merge against accumulated
		// state; the final reset discards it.
		if err := commit(repoDir, "crewmux merge preview: "+branch); err != nil {
			_ = mergeAbort(repoDir)
			report.Failed = append(report.Failed, branch)
			logger.Warn("merge preview: temp commit failed", zap.String("branch", branch), zap.Error(err))
			continue
		}
		report.Merged = append(report.Merged, branch)
	}

	if len(report.Merged) > 0 {
		if err := resetMixed(repoDir, head); err != nil {
			return report, fmt.Errorf("reset to base head %s: %w", head, err)
		}
		report.WorkingTreeUpdated = true
	}
	return report, nil
}
