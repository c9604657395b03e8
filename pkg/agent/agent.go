// Package agent implements the daemon that ties the scheduler, executor,
// and delta engine together into a running process (spec.md §5): one
// control task decides, per site per wake-up, whether to start a backup;
// each decision that fires runs on its own worker goroutine, reporting
// back on a bounded callback channel the way the teacher's runtime.Serve
// orchestrates its adapters/metrics/API servers.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pgbasebackup/agent/internal/logger"
	"github.com/pgbasebackup/agent/pkg/backuperrors"
	"github.com/pgbasebackup/agent/pkg/chunkwriter"
	"github.com/pgbasebackup/agent/pkg/config"
	"github.com/pgbasebackup/agent/pkg/delta"
	"github.com/pgbasebackup/agent/pkg/executor"
	"github.com/pgbasebackup/agent/pkg/metrics"
	"github.com/pgbasebackup/agent/pkg/objectstore"
	"github.com/pgbasebackup/agent/pkg/scheduler"
	"github.com/pgbasebackup/agent/pkg/walker"
)

// DefaultPollInterval is how often the control task re-evaluates every
// site's schedule.
const DefaultPollInterval = time.Minute

const isoLayout = "2006-01-02T15:04:05-07:00"

// site holds the control task's private, single-writer state for one
// configured site (spec.md §5: "mutated only by the control task").
type site struct {
	name    string
	cfg     config.SiteConfig
	store   objectstore.Store
	exec    *executor.Executor
	delta   *delta.Engine // nil unless cfg.BasebackupMode == "delta"
	running bool
	manual  bool
	failure delta.FailureRecord
}

// Agent runs the control loop for every configured site.
type Agent struct {
	cfg      *config.Config
	sites    []*site
	poll     time.Duration
	recorder metrics.Recorder
	failures *scheduler.FailureStore
}

// New builds an Agent from configuration, wiring each site's object
// store and executor, and opens the durable failure-budget store at
// stateDir so a restart resumes a delta-mode site's cooldown rather than
// forgetting it ever failed. liveCheck is passed through to every site's
// executor (nil selects pgconn.CheckConnectionAlive); tests substitute a
// fake to exercise scheduling without a real PostgreSQL connection.
func New(ctx context.Context, cfg *config.Config, stateDir string, liveCheck func(ctx context.Context, connString string) bool, rec metrics.Recorder) (*Agent, error) {
	if len(cfg.Sites) == 0 {
		return nil, fmt.Errorf("agent: no sites configured")
	}

	failures, err := scheduler.OpenFailureStore(stateDir)
	if err != nil {
		return nil, err
	}

	a := &Agent{cfg: cfg, poll: DefaultPollInterval, recorder: rec, failures: failures}
	for name, sc := range cfg.Sites {
		if sc.Prefix == "" {
			sc.Prefix = name
		}
		store, err := config.BuildObjectStore(ctx, sc.ObjectStore)
		if err != nil {
			failures.Close()
			return nil, fmt.Errorf("agent: building object store for site %q: %w", name, err)
		}

		s := &site{
			name:  name,
			cfg:   sc,
			store: store,
			exec:  executor.New(store, liveCheck),
		}
		if sc.BasebackupMode == string(executor.ModeDelta) {
			s.delta = delta.New(store, sc.Prefix, deltaConfig(sc))
			if fr, gerr := failures.Get(name); gerr == nil {
				s.failure = fr
			}
		}
		a.sites = append(a.sites, s)
	}

	sort.Slice(a.sites, func(i, j int) bool { return a.sites[i].name < a.sites[j].name })
	return a, nil
}

// Close releases the failure-budget store. Callers should call this after
// Run returns.
func (a *Agent) Close() error {
	if a.failures == nil {
		return nil
	}
	return a.failures.Close()
}

// TriggerManual latches a manual-trigger request for site, consumed (and
// cleared) on the control task's next tick.
func (a *Agent) TriggerManual(siteName string) error {
	for _, s := range a.sites {
		if s.name == siteName {
			s.manual = true
			return nil
		}
	}
	return fmt.Errorf("agent: unknown site %q", siteName)
}

// workerResult is what a backup worker reports back to the control task.
type workerResult struct {
	site     *site
	result   executor.Result
	duration time.Duration
}

// Run executes the control loop until ctx is cancelled. It never returns
// an error on a clean shutdown; callers select this alongside other
// subsystems (the HTTP enumeration server) the way runtime.Serve does.
func (a *Agent) Run(ctx context.Context) error {
	logger.Info("agent control loop starting", "sites", len(a.sites))

	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()

	done := make(chan workerResult, len(a.sites))

	for {
		select {
		case <-ctx.Done():
			logger.Info("agent control loop stopping")
			return nil

		case <-ticker.C:
			a.tick(ctx, done)

		case wr := <-done:
			a.onWorkerDone(wr)
		}
	}
}

// tick evaluates every site's schedule once and launches a worker for
// each site whose decision is to run.
func (a *Agent) tick(ctx context.Context, done chan<- workerResult) {
	now := time.Now().UTC()
	for _, s := range a.sites {
		if s.running {
			continue
		}

		entries, err := loadEntries(ctx, s.store, s.cfg.Prefix)
		if err != nil {
			logger.Error("agent: listing existing backups", "site", s.name, "error", err)
			continue
		}

		deltaSuppressed := false
		if s.delta != nil {
			deltaSuppressed = delta.ShouldSuppressScheduled(s.failure, now, deltaConfig(s.cfg), s.cfg.BasebackupIntervalHours)
		}

		decision := scheduler.Decide(now, scheduleConfig(s.cfg), entries, s.manual, s.running, deltaSuppressed)
		metrics.ObserveSchedulerDecision(a.recorder, s.name, decision.Run, string(decision.Reason))
		s.manual = false

		if !decision.Run {
			continue
		}

		s.running = true
		go a.runBackup(ctx, s, decision, done)
	}
}

func (a *Agent) runBackup(ctx context.Context, s *site, decision scheduler.Decision, done chan<- workerResult) {
	started := time.Now()
	backupName := decision.DecisionTime.Format("2006-01-02T15-04-05Z")

	stub := map[string]string{
		"backup-reason":        string(decision.Reason),
		"backup-decision-time": decision.DecisionTime.UTC().Format(isoLayout),
	}
	if decision.NormalizedBackupTime != nil {
		stub["normalized-backup-time"] = *decision.NormalizedBackupTime
	}

	tablespaces, err := walker.Discover(s.cfg.PGData)
	if err != nil {
		logger.Error("agent: discovering tablespaces", "site", s.name, "error", err)
	}

	encKey, err := config.ResolveEncryptionKey(a.cfg, s.cfg)
	if err != nil {
		logger.Error("agent: resolving encryption key", "site", s.name, "error", err)
	}

	execCfg := executor.Config{
		Mode:             executor.Mode(strings.ReplaceAll(s.cfg.BasebackupMode, "_", "-")),
		Site:             s.name,
		Prefix:           s.cfg.Prefix,
		BackupName:       backupName,
		PGData:           s.cfg.PGData,
		Tablespaces:      tablespaces,
		ConnString:       s.cfg.ConnString,
		ActiveBackupMode: s.cfg.ActiveBackupMode,
		TargetChunkSize:  s.cfg.TargetChunkSize.Int64(),
		Compression:      compressionConfig(s.cfg),
		Encryption:       encKey,
		MaxParallel:      s.cfg.MaxParallel,
		DeltaConfig:      deltaConfig(s.cfg),
		ScheduleStub:     stub,
	}
	if v, err := readPGVersion(s.cfg.PGData); err == nil {
		execCfg.PGVersion = v
	}

	result := s.exec.Run(ctx, execCfg)
	done <- workerResult{site: s, result: result, duration: time.Since(started)}
}

func (a *Agent) onWorkerDone(wr workerResult) {
	s := wr.site
	s.running = false

	outcome := "success"
	if !wr.result.Success {
		outcome = "failure"
		if s.delta != nil {
			now := time.Now().UTC()
			s.failure.Retries++
			s.failure.LastFailedTime = now
			if a.failures != nil {
				if err := a.failures.RecordFailure(s.name, now); err != nil {
					logger.Error("agent: persisting failure budget", "site", s.name, "error", err)
				}
			}
		}
		logger.Error("agent: backup attempt failed", "site", s.name, "error", wr.result.Exception)
	} else if s.delta != nil {
		s.failure = delta.FailureRecord{}
		if a.failures != nil {
			if err := a.failures.Reset(s.name); err != nil {
				logger.Error("agent: resetting failure budget", "site", s.name, "error", err)
			}
		}
	}

	var bytesUploaded int64
	for _, c := range wr.result.Manifest.Chunks {
		bytesUploaded += c.Size
	}
	metrics.ObserveBackup(a.recorder, s.name, s.cfg.BasebackupMode, outcome, wr.duration, bytesUploaded)
}

// compressionConfig converts a site's config.CompressionConfig into the
// chunkwriter type the executor consumes.
func compressionConfig(sc config.SiteConfig) chunkwriter.CompressionConfig {
	algo := chunkwriter.Algorithm(sc.Compression.Algorithm)
	if algo == "" {
		algo = chunkwriter.AlgorithmNone
	}
	return chunkwriter.CompressionConfig{Algorithm: algo, Level: sc.Compression.Level}
}

// readPGVersion reads PG_VERSION from a data directory, the conventional
// place PostgreSQL itself records its major version.
func readPGVersion(pgdata string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(pgdata, "PG_VERSION"))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func scheduleConfig(sc config.SiteConfig) scheduler.ScheduleConfig {
	return scheduler.ScheduleConfig{
		Hour:          sc.BasebackupHour,
		Minute:        sc.BasebackupMinute,
		IntervalHours: sc.BasebackupIntervalHours,
	}
}

func deltaConfig(sc config.SiteConfig) delta.Config {
	return delta.Config{
		MinDeltaFileSize: sc.DeltaModeMinFileSize.Int64(),
		ChunkSize:        sc.DeltaModeChunkSize.Int64(),
		MaxRetries:       sc.DeltaModeMaxRetries,
	}
}

// loadEntries lists every manifest under prefix and extracts the fields
// scheduler.Decide needs from each one's metadata.
func loadEntries(ctx context.Context, store objectstore.Store, prefix string) ([]scheduler.Entry, error) {
	keys, err := store.List(ctx, objectstore.BaseBackupPrefix(prefix))
	if err != nil {
		return nil, backuperrors.Wrap(backuperrors.Transient, "agent.loadEntries", "listing backups", err)
	}

	entries := make([]scheduler.Entry, 0, len(keys))
	for _, k := range keys {
		meta := k.Metadata
		if meta == nil {
			meta, err = store.GetMetadata(ctx, k.Key)
			if err != nil {
				continue
			}
		}
		startTime, err := time.Parse(isoLayout, meta["start-time"])
		if err != nil {
			continue
		}
		entry := scheduler.Entry{StartTime: startTime}
		if nbt, ok := meta["normalized-backup-time"]; ok && nbt != "" {
			entry.NormalizedBackupTime = &nbt
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
