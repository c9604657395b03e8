// Package scheduler decides, per site per wake-up, whether to start a
// backup (spec.md §4.F). It anchors scheduled backups to a normalized
// clock so intervals survive restart jitter, while an interval floor keeps
// a single clock adjustment from producing two scheduled backups in one
// window.
package scheduler

import (
	"time"

	"github.com/pgbasebackup/agent/pkg/delta"
)

// Reason names why a backup decision came back yes.
type Reason string

const (
	ReasonScheduled Reason = "scheduled"
	ReasonRequested Reason = "requested"
)

// ScheduleConfig is the subset of SiteConfig the scheduler needs. Hour < 0
// means no schedule is configured for this site.
type ScheduleConfig struct {
	Hour          int
	Minute        int
	IntervalHours float64
}

// Entry is the scheduler's view of one existing backup, as recorded in its
// manifest metadata.
type Entry struct {
	StartTime            time.Time
	NormalizedBackupTime *string
}

// Decision is the scheduler's output. When Run is true, DecisionTime and
// NormalizedBackupTime (already formatted per spec.md §6) are the stub the
// executor embeds in the new backup's metadata and augments further.
type Decision struct {
	Run                  bool
	Reason               Reason
	DecisionTime         time.Time
	NormalizedBackupTime *string
}

// Decide implements the §4.F algorithm. running reports whether a backup
// is already in flight for this site; manualTrigger is the (already
// latched) manual trigger flag, which the caller must clear after Decide
// returns a requested decision. deltaSuppressed lets the caller fold in
// delta.ShouldSuppressScheduled's failure-budget cooldown: when true, a
// decision that would otherwise be "scheduled" is suppressed, but a manual
// trigger still proceeds.
func Decide(now time.Time, cfg ScheduleConfig, entries []Entry, manualTrigger bool, running bool, deltaSuppressed bool) Decision {
	if running {
		return Decision{Run: false}
	}

	normalized := normalize(now, cfg)

	if manualTrigger {
		return Decision{
			Run:                  true,
			Reason:               ReasonRequested,
			DecisionTime:         now,
			NormalizedBackupTime: normalized,
		}
	}

	if deltaSuppressed {
		return Decision{Run: false}
	}

	last := mostRecent(entries)
	if last == nil {
		return Decision{
			Run:                  true,
			Reason:               ReasonScheduled,
			DecisionTime:         now,
			NormalizedBackupTime: normalized,
		}
	}

	if differs(normalized, last.NormalizedBackupTime) && now.Sub(last.StartTime) >= intervalDuration(cfg.IntervalHours) {
		return Decision{
			Run:                  true,
			Reason:               ReasonScheduled,
			DecisionTime:         now,
			NormalizedBackupTime: normalized,
		}
	}

	return Decision{Run: false}
}

// normalize computes the nearest past instant of the form
// YYYY-MM-DDThour:minute:00Z shifted by integer multiples of
// interval_hours that is <= now, formatted per spec.md §6 as
// "YYYY-MM-DDTHH:MM:SS+00:00". A nil result means no schedule is
// configured for this site.
func normalize(now time.Time, cfg ScheduleConfig) *string {
	if cfg.Hour < 0 {
		return nil
	}

	anchor := time.Date(now.Year(), now.Month(), now.Day(), cfg.Hour, cfg.Minute, 0, 0, time.UTC)
	interval := intervalDuration(cfg.IntervalHours)
	if interval <= 0 {
		s := anchor.Format("2006-01-02T15:04:05+00:00")
		return &s
	}

	diff := now.Sub(anchor)
	steps := int64(diff / interval)
	if diff%interval < 0 {
		steps--
	}

	result := anchor.Add(time.Duration(steps) * interval)
	s := result.Format("2006-01-02T15:04:05+00:00")
	return &s
}

func intervalDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

func mostRecent(entries []Entry) *Entry {
	var last *Entry
	for i := range entries {
		if last == nil || entries[i].StartTime.After(last.StartTime) {
			last = &entries[i]
		}
	}
	return last
}

func differs(a, b *string) bool {
	if a == nil || b == nil {
		return a != b
	}
	return *a != *b
}

// ConsultDeltaBudget is a small bridge so callers don't need to import
// pkg/delta just to decide whether the failure budget should suppress a
// scheduled (non-manual) attempt.
func ConsultDeltaBudget(rec delta.FailureRecord, now time.Time, cfg delta.Config, intervalHours float64) bool {
	return delta.ShouldSuppressScheduled(rec, now, cfg, intervalHours)
}
