package metrics

import "time"

// Recorder observes backup/restore/scheduler activity. A nil Recorder is
// valid everywhere it's accepted: every helper in this file nil-checks
// before touching it, so callers that never enable metrics pay no cost.
type Recorder interface {
	// ObserveBackup records one finished backup attempt.
	ObserveBackup(site, mode, result string, duration time.Duration, bytesUploaded int64)
	// ObserveRestore records one finished restore.
	ObserveRestore(site, result string, duration time.Duration)
	// ObserveSchedulerDecision records one scheduler wake-up's outcome.
	ObserveSchedulerDecision(site string, decided bool, reason string)
	// ObserveDeltaDedup records bytes a delta-mode backup avoided
	// re-uploading by reusing a previously-seen hash.
	ObserveDeltaDedup(site string, bytesSaved int64)
}

// newPrometheusRecorder is set by pkg/metrics/prometheus's init(), the
// same indirection the teacher uses to keep this package free of a direct
// dependency on the concrete implementation.
var newPrometheusRecorder func() Recorder

// RegisterRecorderConstructor is called by pkg/metrics/prometheus's
// init() to supply the concrete constructor.
func RegisterRecorderConstructor(constructor func() Recorder) {
	newPrometheusRecorder = constructor
}

// NewRecorder returns the registered Recorder, or nil if metrics are
// disabled or no implementation has registered itself.
func NewRecorder() Recorder {
	if !IsEnabled() || newPrometheusRecorder == nil {
		return nil
	}
	return newPrometheusRecorder()
}

func ObserveBackup(r Recorder, site, mode, result string, duration time.Duration, bytesUploaded int64) {
	if r != nil {
		r.ObserveBackup(site, mode, result, duration, bytesUploaded)
	}
}

func ObserveRestore(r Recorder, site, result string, duration time.Duration) {
	if r != nil {
		r.ObserveRestore(site, result, duration)
	}
}

func ObserveSchedulerDecision(r Recorder, site string, decided bool, reason string) {
	if r != nil {
		r.ObserveSchedulerDecision(site, decided, reason)
	}
}

func ObserveDeltaDedup(r Recorder, site string, bytesSaved int64) {
	if r != nil {
		r.ObserveDeltaDedup(site, bytesSaved)
	}
}
