// Package freshness turns timestamps into staleness durations, categories,
// and decay scores. Everything here is a pure function of its inputs; the
// caller supplies "now" so results are reproducible in tests.
package freshness

import (
	"fmt"
	"math"
	"time"

	"github.com/strataworks/strata/internal/scope"
)

// Category buckets an artifact by how stale it is.
type Category string

const (
	Fresh   Category = "fresh"
	Recent  Category = "recent"
	Stale   Category = "stale"
	Expired Category = "expired"
)

// scoreHalfLife is the decay half-life for the freshness score: an artifact
// loses half its confidence every hour.
const scoreHalfLife = 3600.0

// Thresholds are the category boundaries in ascending order. Ordering is
// validated by the configuration layer at startup, not here.
type Thresholds struct {
	Fresh  time.Duration // staleness <= Fresh  -> fresh
	Recent time.Duration // staleness <= Recent -> recent
	Stale  time.Duration // staleness <= Stale  -> stale, else expired
}

// DefaultThresholds returns the standard 1 hour / 1 day / 1 week boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Fresh:  time.Hour,
		Recent: 24 * time.Hour,
		Stale:  7 * 24 * time.Hour,
	}
}

// Info is the derived freshness report for one artifact. Never persisted.
type Info struct {
	StalenessSeconds  float64     `json:"staleness_seconds"`
	Category          Category    `json:"freshness_category"`
	Score             float64     `json:"freshness_score"`
	ScopeLastChange   time.Time   `json:"scope_last_change"`
	AnalysisTimestamp time.Time   `json:"analysis_timestamp"`
	ScopePath         string      `json:"scope_path"`
	ScopeLevel        scope.Level `json:"scope_level"`
	Recommendations   []string    `json:"recommendations"`
}

// Compute derives freshness for an artifact analyzed at analysisTS within a
// scope last known to have changed at scopeLastChange. A zero
// scopeLastChange means no change was ever recorded and applies no override.
//
// Negative staleness (clock skew between writer and reader) is reported
// as-is rather than clamped; the score saturates at 1.0 in that case.
func Compute(path string, analysisTS, scopeLastChange, now time.Time, th Thresholds) Info {
	staleness := now.Sub(analysisTS).Seconds()

	// An artifact older than the last known change in its scope hierarchy
	// is stale at least since that change.
	if !scopeLastChange.IsZero() && analysisTS.Before(scopeLastChange) {
		if s := now.Sub(scopeLastChange).Seconds(); s > staleness {
			staleness = s
		}
	}

	return Info{
		StalenessSeconds:  staleness,
		Category:          Categorize(staleness, th),
		Score:             Score(staleness),
		ScopeLastChange:   scopeLastChange,
		AnalysisTimestamp: analysisTS,
		ScopePath:         path,
		ScopeLevel:        scope.LevelOf(path),
		Recommendations:   recommendations(path, staleness),
	}
}

// Categorize maps a staleness duration in seconds onto a category.
func Categorize(stalenessSeconds float64, th Thresholds) Category {
	switch {
	case stalenessSeconds <= th.Fresh.Seconds():
		return Fresh
	case stalenessSeconds <= th.Recent.Seconds():
		return Recent
	case stalenessSeconds <= th.Stale.Seconds():
		return Stale
	default:
		return Expired
	}
}

// Score converts staleness into a confidence value in [0,1] using
// exponential decay with a one-hour half-life: 1.0 at zero staleness,
// 0.5 after an hour, 0.25 after two.
func Score(stalenessSeconds float64) float64 {
	if stalenessSeconds <= 0 {
		return 1.0
	}
	s := math.Exp(-math.Ln2 * stalenessSeconds / scoreHalfLife)
	return math.Max(0, math.Min(1, s))
}

// recommendations returns advisory text keyed by staleness band. These are
// hints for callers, never behavioral gates.
func recommendations(path string, stalenessSeconds float64) []string {
	switch {
	case stalenessSeconds < 60:
		return []string{
			fmt.Sprintf("fresh analysis of %s", path),
			"safe to proceed with confidence",
		}
	case stalenessSeconds < 300:
		return []string{
			fmt.Sprintf("analysis is %ds old, generally reliable", int(stalenessSeconds)),
			"consider refreshing for critical decisions",
		}
	case stalenessSeconds < 3600:
		return []string{
			fmt.Sprintf("analysis is %dm old, use with caution", int(stalenessSeconds/60)),
			"recommend queuing a refresh for accuracy",
		}
	default:
		return []string{
			fmt.Sprintf("analysis is %dh old, refresh strongly recommended", int(stalenessSeconds/3600)),
			"queue a high-priority refresh before significant decisions",
		}
	}
}
