package evolver

import "math"

// Mode is how a cycle's batch is generated.
type Mode string

const (
	ModeExplore Mode = "explore"
	ModeExploit Mode = "exploit"
	ModeMixed   Mode = "mixed"
)

// DecideMode picks the mode for a 1-based cycle number given the count of cycles without improvement.
// Warm-up cycles and plateaus always explore.
func (c Config) DecideMode(cycle, stagnant int) Mode {
	if cycle <= c.WarmupCycles || stagnant >= c.PlateauCycles {
		return ModeExplore
	}
	switch {
	case c.ExploreRatio >= 1:
		return ModeExplore
	case c.ExploreRatio <= 0:
		return ModeExploit
	default:
		return ModeMixed
	}
}

// Split returns how many candidates of a batch are explored and exploited in mode.
func (c Config) Split(mode Mode) (explore, exploit int) {
	switch mode {
	case ModeExplore:
		return c.BatchSize, 0
	case ModeExploit:
		return 0, c.BatchSize
	}
	explore = int(math.Max(1, math.Floor(float64(c.BatchSize)*c.ExploreRatio)))
	if explore > c.BatchSize {
		explore = c.BatchSize
	}
	return explore, c.BatchSize - explore
}
