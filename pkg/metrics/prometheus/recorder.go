// Package prometheus is the Prometheus-backed implementation of
// pkg/metrics.Recorder, registered against pkg/metrics's process-wide
// registry.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pgbasebackup/agent/pkg/metrics"
)

func init() {
	metrics.RegisterRecorderConstructor(newRecorder)
}

type recorder struct {
	backupsTotal      *prometheus.CounterVec
	backupDuration    *prometheus.HistogramVec
	backupBytes       *prometheus.HistogramVec
	restoresTotal     *prometheus.CounterVec
	restoreDuration   *prometheus.HistogramVec
	schedulerDecision *prometheus.CounterVec
	deltaBytesSaved   *prometheus.CounterVec
}

// newRecorder builds a Recorder registered against the process-wide
// registry; callers go through metrics.NewRecorder rather than this
// directly, so metrics stay disabled until InitRegistry is called.
func newRecorder() metrics.Recorder {
	reg := metrics.GetRegistry()

	return &recorder{
		backupsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgbasebackup_backups_total",
				Help: "Total number of finished backup attempts by site, mode, and result.",
			},
			[]string{"site", "mode", "result"},
		),
		backupDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgbasebackup_backup_duration_seconds",
				Help:    "Duration of a backup attempt from RUNNING to FINALIZING.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. 8192s (~2.3h)
			},
			[]string{"site", "mode"},
		),
		backupBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgbasebackup_backup_uploaded_bytes",
				Help:    "Bytes uploaded to the object store by one backup attempt.",
				Buckets: prometheus.ExponentialBuckets(1<<20, 4, 12), // 1MiB .. ~4TiB
			},
			[]string{"site", "mode"},
		),
		restoresTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgbasebackup_restores_total",
				Help: "Total number of finished restores by site and result.",
			},
			[]string{"site", "result"},
		),
		restoreDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgbasebackup_restore_duration_seconds",
				Help:    "Duration of a restore from chunk fetch to recovery config write.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 14),
			},
			[]string{"site"},
		),
		schedulerDecision: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgbasebackup_scheduler_decisions_total",
				Help: "Scheduler wake-up decisions by site, whether a backup was started, and reason.",
			},
			[]string{"site", "decided", "reason"},
		),
		deltaBytesSaved: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgbasebackup_delta_dedup_bytes_saved_total",
				Help: "Bytes a delta-mode backup avoided re-uploading by reusing a known hash.",
			},
			[]string{"site"},
		),
	}
}

func (r *recorder) ObserveBackup(site, mode, result string, duration time.Duration, bytesUploaded int64) {
	r.backupsTotal.WithLabelValues(site, mode, result).Inc()
	r.backupDuration.WithLabelValues(site, mode).Observe(duration.Seconds())
	r.backupBytes.WithLabelValues(site, mode).Observe(float64(bytesUploaded))
}

func (r *recorder) ObserveRestore(site, result string, duration time.Duration) {
	r.restoresTotal.WithLabelValues(site, result).Inc()
	r.restoreDuration.WithLabelValues(site).Observe(duration.Seconds())
}

func (r *recorder) ObserveSchedulerDecision(site string, decided bool, reason string) {
	r.schedulerDecision.WithLabelValues(site, boolLabel(decided), reason).Inc()
}

func (r *recorder) ObserveDeltaDedup(site string, bytesSaved int64) {
	if bytesSaved <= 0 {
		return
	}
	r.deltaBytesSaved.WithLabelValues(site).Add(float64(bytesSaved))
}

func boolLabel(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
