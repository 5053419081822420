package config

import "strconv"

// Model profiles. A profile bundles the CLI and models used by the admin and
// workers plus the default worker count and thinking-token budget.
const (
	ProfileStandard    = "standard"
	ProfilePerformance = "performance"
)

// Worker CLI/model selection modes.
const (
	WorkerCliUniform   = "uniform"
	WorkerCliPerWorker = "per-worker"
)

// ModelProfile is one named CLI/model bundle.
type ModelProfile struct {
	Name           string
	AICli          string
	AdminModel     string
	WorkerModel    string
	WorkerCount    int
	ThinkingTokens int
}

var modelProfiles = map[string]ModelProfile{
	ProfileStandard: {
		Name:           ProfileStandard,
		AICli:          "claude",
		AdminModel:     "sonnet",
		WorkerModel:    "sonnet",
		WorkerCount:    3,
		ThinkingTokens: 4096,
	},
	ProfilePerformance: {
		Name:           ProfilePerformance,
		AICli:          "claude",
		AdminModel:     "opus",
		WorkerModel:    "sonnet",
		WorkerCount:    6,
		ThinkingTokens: 16384,
	},
}

// ActiveProfile returns the configured model profile, falling back to
// standard for unknown names.
func (s *Settings) ActiveProfile() ModelProfile {
	if p, ok := modelProfiles[s.ModelProfile]; ok {
		return p
	}
	return modelProfiles[ProfileStandard]
}

// Profiles lists the known profile names.
func Profiles() []string {
	return []string{ProfileStandard, ProfilePerformance}
}

// ResolveWorkerCli resolves the CLI for a worker slot. Order: per-slot
// override (per-worker mode only) > uniform worker CLI > profile CLI >
// global default. The chain is re-evaluated on every dispatch; stale values
// on the agent record are never trusted.
func (s *Settings) ResolveWorkerCli(slot int) string {
	if s.WorkerCliMode == WorkerCliPerWorker {
		if cli, ok := s.WorkerCliSlots[slotKey(slot)]; ok && cli != "" {
			return cli
		}
	}
	if s.WorkerAICli != "" {
		return s.WorkerAICli
	}
	if p := s.ActiveProfile(); p.AICli != "" {
		return p.AICli
	}
	if s.DefaultAICli != "" {
		return s.DefaultAICli
	}
	return DefaultAICli
}

// ResolveAdminCli resolves the CLI used for the admin pane.
func (s *Settings) ResolveAdminCli() string {
	if p := s.ActiveProfile(); p.AICli != "" {
		return p.AICli
	}
	return s.DefaultAICli
}

// Slots are 1-based; the override map is keyed the same way.
func slotKey(slot int) string {
	return strconv.Itoa(slot)
}
