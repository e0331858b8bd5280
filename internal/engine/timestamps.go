package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/strataworks/strata/internal/cache"
	"github.com/strataworks/strata/internal/scope"
	"github.com/strataworks/strata/internal/store"
)

// ErrPartialPropagation reports that a change was durably recorded at its
// scope but one or more ancestor updates failed. The hierarchy may
// under-report staleness for those ancestors until the next change.
var ErrPartialPropagation = errors.New("change recorded but propagation incomplete")

// PartialPropagationError carries which ancestors missed the update.
// errors.Is(err, ErrPartialPropagation) matches it.
type PartialPropagationError struct {
	ScopePath string
	Failed    []string
	Err       error
}

func (e *PartialPropagationError) Error() string {
	return fmt.Sprintf("change at %s recorded, propagation failed for %s: %v",
		e.ScopePath, strings.Join(e.Failed, ", "), e.Err)
}

func (e *PartialPropagationError) Unwrap() error { return e.Err }

func (e *PartialPropagationError) Is(target error) bool {
	return target == ErrPartialPropagation
}

// RecordChange registers a change observed at scopePath at time at. The
// changed scope gets an unconditional write because the observation is
// authoritative; ancestors get a forward-only merge attributed to the child
// that changed. Cache entries for every scope whose effective timestamp can
// see this change are invalidated before returning.
func (e *Engine) RecordChange(ctx context.Context, scopePath, source, changeType string, at time.Time) error {
	if err := scope.Validate(scopePath); err != nil {
		return err
	}
	if at.IsZero() {
		at = e.now()
	}
	if changeType == "" {
		changeType = "content_modified"
	}

	millis := at.UnixMilli()
	level := string(scope.LevelOf(scopePath))

	if err := e.DB.RecordDirectChange(scopePath, level, millis, source, changeType); err != nil {
		return err
	}

	ancestors := scope.Ancestors(scopePath)
	var failed []string
	var lastErr error
	for _, anc := range ancestors {
		if anc == scopePath {
			continue
		}
		err := e.DB.MergeTimestamp(anc, string(scope.LevelOf(anc)), millis,
			"child_change:"+scopePath, "propagated_change")
		if err != nil {
			failed = append(failed, anc)
			lastErr = err
		}
	}

	e.invalidateTimestamps(scopePath, ancestors)

	if len(failed) > 0 {
		return &PartialPropagationError{ScopePath: scopePath, Failed: failed, Err: lastErr}
	}
	return nil
}

// invalidateTimestamps drops cached effective timestamps for the changed
// scope, its ancestors, and its descendants. Descendant keys share the
// scope's key prefix, so one prefix sweep covers them.
func (e *Engine) invalidateTimestamps(scopePath string, ancestors []string) {
	keys := make([]string, 0, len(ancestors))
	for _, a := range ancestors {
		keys = append(keys, cache.TimestampKey(a))
	}
	e.Cache.Delete(keys...)
	e.Cache.DeletePrefix(cache.TimestampKey(scopePath) + ".")
}

// MarkStale force-invalidates a scope by recording a synthetic change now.
// Every artifact under the scope becomes stale relative to this instant.
func (e *Engine) MarkStale(ctx context.Context, scopePath, reason string) error {
	source := "manual_invalidation"
	if reason != "" {
		source = "manual_invalidation:" + reason
	}
	return e.RecordChange(ctx, scopePath, source, "manual_invalidation", e.now())
}

// EffectiveTimestamp returns the newest change visible to scopePath: the
// maximum over its ancestor chain (including itself) and all strict
// descendants. The zero time means no change was ever recorded anywhere in
// that cone. Cached with the configured TTL.
func (e *Engine) EffectiveTimestamp(ctx context.Context, scopePath string) (time.Time, error) {
	if err := scope.Validate(scopePath); err != nil {
		return time.Time{}, err
	}

	key := cache.TimestampKey(scopePath)
	var cachedMillis int64
	if ok, err := e.Cache.Get(key, &cachedMillis); err != nil {
		log.Printf("cache: %v", err)
	} else if ok {
		return millisToTime(cachedMillis), nil
	}

	millis, err := e.DB.MaxLastChange(scope.Ancestors(scopePath), scopePath)
	if err != nil {
		return time.Time{}, err
	}

	if err := e.Cache.Set(key, millis); err != nil {
		log.Printf("cache: %v", err)
	}
	return millisToTime(millis), nil
}

// ScopeTimestamp returns the raw record at exactly scopePath, with no
// hierarchy applied, or nil when nothing was recorded there.
func (e *Engine) ScopeTimestamp(ctx context.Context, scopePath string) (*store.TimestampRecord, error) {
	if err := scope.Validate(scopePath); err != nil {
		return nil, err
	}
	return e.DB.GetTimestamp(scopePath)
}

// StaleScope is one entry of the staleness report.
type StaleScope struct {
	ScopePath    string  `json:"scope_path"`
	ScopeLevel   string  `json:"scope_level"`
	LastChange   string  `json:"last_change"`
	AgeSeconds   float64 `json:"age_seconds"`
	ChangeSource string  `json:"change_source,omitempty"`
}

// StaleScopes lists scopes whose last recorded change is older than maxAge,
// oldest first.
func (e *Engine) StaleScopes(ctx context.Context, maxAge time.Duration, limit int) ([]StaleScope, error) {
	if limit <= 0 {
		limit = 100
	}
	now := e.now()
	cutoff := now.Add(-maxAge).UnixMilli()

	records, err := e.DB.StaleTimestamps(cutoff, limit)
	if err != nil {
		return nil, err
	}

	out := make([]StaleScope, 0, len(records))
	for _, r := range records {
		changed := millisToTime(r.LastChange)
		out = append(out, StaleScope{
			ScopePath:    r.ScopePath,
			ScopeLevel:   r.ScopeLevel,
			LastChange:   changed.UTC().Format(time.RFC3339),
			AgeSeconds:   now.Sub(changed).Seconds(),
			ChangeSource: r.ChangeSource,
		})
	}
	return out, nil
}

func millisToTime(millis int64) time.Time {
	if millis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}
