package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgbasebackup/agent/pkg/config"
	"github.com/pgbasebackup/agent/pkg/delta"
	"github.com/pgbasebackup/agent/pkg/executor"
	"github.com/pgbasebackup/agent/pkg/objectstore/memory"
	"github.com/pgbasebackup/agent/pkg/scheduler"
)

type fakeRecorder struct {
	backups   []string
	decisions []string
}

func (f *fakeRecorder) ObserveBackup(site, mode, result string, duration time.Duration, bytesUploaded int64) {
	f.backups = append(f.backups, site+":"+result)
}
func (f *fakeRecorder) ObserveRestore(site, result string, duration time.Duration) {}
func (f *fakeRecorder) ObserveSchedulerDecision(site string, decided bool, reason string) {
	f.decisions = append(f.decisions, site)
}
func (f *fakeRecorder) ObserveDeltaDedup(site string, bytesSaved int64) {}

func writeBackupLabel(t *testing.T, pgdata string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(pgdata, 0o755))
	label := "START WAL LOCATION: 0/3000028 (file 000000010000000000000003)\n" +
		"START TIME: 2024-01-02 03:04:05 UTC\n"
	require.NoError(t, os.WriteFile(filepath.Join(pgdata, "backup_label"), []byte(label), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pgdata, "PG_VERSION"), []byte("16\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pgdata, "some.dat"), []byte("data"), 0o644))
}

func newTestSite(t *testing.T, name string) *site {
	t.Helper()
	pgdata := filepath.Join(t.TempDir(), "pgdata")
	writeBackupLabel(t, pgdata)

	store := memory.New()
	sc := config.SiteConfig{
		Prefix:                  name,
		PGData:                  pgdata,
		BasebackupMode:          "local_tar",
		ActiveBackupMode:        "standalone_hot_backup",
		BasebackupIntervalHours: 24,
		BasebackupHour:          -1,
		TargetChunkSize:         1 << 20,
	}
	live := func(ctx context.Context, connString string) bool { return true }
	return &site{
		name:  name,
		cfg:   sc,
		store: store,
		exec:  executor.New(store, live),
	}
}

func TestNewRequiresAtLeastOneSite(t *testing.T) {
	_, err := New(context.Background(), &config.Config{}, t.TempDir(), nil, nil)
	assert.Error(t, err)
}

func TestTriggerManualUnknownSiteErrors(t *testing.T) {
	a := &Agent{sites: []*site{{name: "primary"}}}
	assert.Error(t, a.TriggerManual("missing"))
	assert.NoError(t, a.TriggerManual("primary"))
	assert.True(t, a.sites[0].manual)
}

func TestTickRunsManualTriggerAndOnWorkerDoneRecordsSuccess(t *testing.T) {
	s := newTestSite(t, "primary")
	s.manual = true

	rec := &fakeRecorder{}
	a := &Agent{cfg: &config.Config{}, sites: []*site{s}, recorder: rec}

	done := make(chan workerResult, 1)
	a.tick(context.Background(), done)

	assert.True(t, s.running)
	assert.False(t, s.manual)
	require.Equal(t, []string{"primary"}, rec.decisions)

	select {
	case wr := <-done:
		a.onWorkerDone(wr)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not report back")
	}

	assert.False(t, s.running)
	require.Equal(t, []string{"primary:success"}, rec.backups)
}

func TestTickSkipsSitesAlreadyRunning(t *testing.T) {
	s := newTestSite(t, "primary")
	s.manual = true
	s.running = true

	a := &Agent{cfg: &config.Config{}, sites: []*site{s}, recorder: &fakeRecorder{}}
	done := make(chan workerResult, 1)
	a.tick(context.Background(), done)

	select {
	case <-done:
		t.Fatal("a running site must not launch another worker")
	default:
	}
}

func TestOnWorkerDoneTracksDeltaFailureBudget(t *testing.T) {
	s := newTestSite(t, "primary")
	s.delta = delta.New(s.store, s.cfg.Prefix, deltaConfig(s.cfg))

	a := &Agent{cfg: &config.Config{}, sites: []*site{s}, recorder: &fakeRecorder{}}
	wr := workerResult{site: s, result: executor.Result{Success: false}}
	a.onWorkerDone(wr)

	assert.Equal(t, 1, s.failure.Retries)
	assert.False(t, s.failure.LastFailedTime.IsZero())
}

func TestLoadEntriesParsesStartTimeMetadata(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.PutEmpty(ctx, "primary/basebackup/backup0", map[string]string{
		"start-time": "2024-01-02T03:04:05+00:00",
	}))

	entries, err := loadEntries(ctx, store, "primary")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2024, entries[0].StartTime.Year())
}

func TestLoadEntriesSkipsUnparseableMetadata(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.PutEmpty(ctx, "primary/basebackup/bad", map[string]string{
		"start-time": "not-a-time",
	}))

	entries, err := loadEntries(ctx, store, "primary")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScheduleConfigAndDeltaConfigTranslateSiteConfig(t *testing.T) {
	sc := config.SiteConfig{
		BasebackupHour:          3,
		BasebackupMinute:        30,
		BasebackupIntervalHours: 12,
		DeltaModeMinFileSize:    1024,
		DeltaModeChunkSize:      2048,
		DeltaModeMaxRetries:     5,
	}

	sched := scheduleConfig(sc)
	assert.Equal(t, scheduler.ScheduleConfig{Hour: 3, Minute: 30, IntervalHours: 12}, sched)

	dcfg := deltaConfig(sc)
	assert.Equal(t, int64(1024), dcfg.MinDeltaFileSize)
	assert.Equal(t, int64(2048), dcfg.ChunkSize)
	assert.Equal(t, 5, dcfg.MaxRetries)
}
