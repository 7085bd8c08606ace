package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "remindbot/pkg/logx"
)

func fixedClock(t *time.Time) func() time.Time { return func() time.Time { return *t } }

func TestFireOncePerDayGuard(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	var runs atomic.Int32
	s := New(Config{Schedule: "50 18 * * *", Timezone: "Asia/Tokyo", OncePerDay: true},
		func(context.Context) { runs.Add(1) }, nilLogger())
	now := time.Date(2026, 3, 1, 18, 50, 0, 0, tokyo)
	s.now = fixedClock(&now)

	assert.True(t, s.Fire(context.Background()))
	assert.False(t, s.Fire(context.Background()), "second trigger on the same local day")

	now = now.Add(6 * time.Hour) // 00:50 next day in Tokyo
	assert.True(t, s.Fire(context.Background()))
	assert.EqualValues(t, 2, runs.Load())

	snap := s.Snapshot()
	assert.EqualValues(t, 2, snap.Fired)
	assert.EqualValues(t, 1, snap.Suppressed)
	assert.Equal(t, "2026-03-02", snap.LastDay)
}

func TestFirePollWaitsForFireAt(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	var runs atomic.Int32
	s := New(Config{Schedule: "@every 1m", Timezone: "Asia/Tokyo", OncePerDay: true, FireAt: "18:50"},
		func(context.Context) { runs.Add(1) }, nilLogger())
	now := time.Date(2026, 3, 1, 0, 1, 0, 0, tokyo)
	s.now = fixedClock(&now)
	ctx := context.Background()

	assert.False(t, s.Fire(ctx), "00:01 is before fire_at")
	now = time.Date(2026, 3, 1, 18, 49, 0, 0, tokyo)
	assert.False(t, s.Fire(ctx))
	now = time.Date(2026, 3, 1, 18, 50, 0, 0, tokyo)
	assert.True(t, s.Fire(ctx), "18:50 reaches fire_at")
	now = time.Date(2026, 3, 1, 18, 51, 0, 0, tokyo)
	assert.False(t, s.Fire(ctx), "already fired today")

	now = time.Date(2026, 3, 2, 0, 1, 0, 0, tokyo)
	assert.False(t, s.Fire(ctx))
	now = time.Date(2026, 3, 2, 18, 55, 0, 0, tokyo)
	assert.True(t, s.Fire(ctx), "a late first poll still fires once")

	assert.EqualValues(t, 2, runs.Load())
	assert.Equal(t, "2026-03-02", s.Snapshot().LastDay)
	assert.Equal(t, "@every 1m from 18:50 (Asia/Tokyo)", s.Describe())
}

func TestFireOncePerDaySurvivesRestart(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "state", "scheduler.json")
	cfg := Config{Schedule: "@every 1m", Timezone: "Asia/Tokyo", OncePerDay: true, FireAt: "18:50"}
	now := time.Date(2026, 3, 1, 18, 50, 0, 0, tokyo)

	var runs atomic.Int32
	first := New(cfg, func(context.Context) { runs.Add(1) }, nilLogger(), WithDayStore(NewFileDayStore(path)))
	first.now = fixedClock(&now)
	require.True(t, first.Fire(context.Background()))

	day, err := NewFileDayStore(path).LastDay()
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", day)

	now = now.Add(5 * time.Minute)
	second := New(cfg, func(context.Context) { runs.Add(1) }, nilLogger(), WithDayStore(NewFileDayStore(path)))
	second.now = fixedClock(&now)
	assert.False(t, second.Fire(context.Background()), "restart on the same day")

	now = now.Add(24 * time.Hour)
	assert.True(t, second.Fire(context.Background()))
	assert.EqualValues(t, 2, runs.Load())
}

func TestFileDayStoreMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	day, err := NewFileDayStore(filepath.Join(dir, "none.json")).LastDay()
	require.NoError(t, err)
	assert.Empty(t, day)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	_, err = NewFileDayStore(bad).LastDay()
	assert.Error(t, err)

	// an unreadable state file does not block the tick
	s := New(Config{Schedule: "50 18 * * *", OncePerDay: true}, func(context.Context) {}, nilLogger(),
		WithDayStore(NewFileDayStore(bad)))
	assert.True(t, s.Fire(context.Background()))
}

func TestFireWithoutGuardAlwaysRuns(t *testing.T) {
	var runs atomic.Int32
	s := New(Config{Schedule: "every:1m"}, func(context.Context) { runs.Add(1) }, nilLogger())
	for i := 0; i < 3; i++ {
		assert.True(t, s.Fire(context.Background()))
	}
	assert.EqualValues(t, 3, runs.Load())
}

func TestFireSkipsOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	s := New(Config{Schedule: "every:1m"}, func(context.Context) {
		close(started)
		<-release
	}, nilLogger())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Fire(context.Background())
	}()
	<-started
	assert.Equal(t, StateTicking, s.State())
	assert.False(t, s.Fire(context.Background()))
	close(release)
	wg.Wait()

	assert.Equal(t, StateIdle, s.State())
	assert.EqualValues(t, 1, s.Snapshot().Skipped)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Config{Schedule: "50 18 * * *", Timezone: "Asia/Tokyo"}))
	assert.NoError(t, Validate(Config{Schedule: "daily:09:30"}))
	assert.NoError(t, Validate(Config{Schedule: "0 */5 * * * *"}))
	assert.Error(t, Validate(Config{Schedule: "61 18 * * *"}))
	assert.Error(t, Validate(Config{Schedule: "50 18 * * *", Timezone: "Mars/Olympus"}))
	assert.Error(t, Validate(Config{Schedule: ""}))

	assert.Error(t, Validate(Config{Schedule: "@every 1m", OncePerDay: true}), "poll needs fire_at")
	assert.Error(t, Validate(Config{Schedule: "0 */6 * * *", OncePerDay: true}))
	assert.NoError(t, Validate(Config{Schedule: "@every 1m", OncePerDay: true, FireAt: "18:50"}))
	assert.NoError(t, Validate(Config{Schedule: "@every 1m"}))
	assert.NoError(t, Validate(Config{Schedule: "@daily", OncePerDay: true}))
	assert.Error(t, Validate(Config{Schedule: "@every 1m", FireAt: "25:00"}))
}

func TestStartApplyStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(Config{Schedule: "50 18 * * *", Timezone: "Asia/Tokyo"}, func(context.Context) {}, nilLogger())
	require.NoError(t, s.Start(ctx))
	snap := s.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, "Asia/Tokyo", snap.Timezone)
	assert.False(t, snap.Next.IsZero())
	assert.Equal(t, 18, snap.Next.Hour())
	assert.Equal(t, 50, snap.Next.Minute())

	require.NoError(t, s.Apply(Config{Schedule: "daily:07:15", Timezone: "UTC"}))
	snap = s.Snapshot()
	assert.Equal(t, "UTC", snap.Timezone)
	assert.Equal(t, 7, snap.Next.Hour())
	assert.Equal(t, 15, snap.Next.Minute())
	assert.Equal(t, "15 7 * * * (UTC)", s.Describe())

	assert.Error(t, s.Apply(Config{Schedule: "nonsense"}))
	assert.Equal(t, "UTC", s.Snapshot().Timezone, "rejected config leaves the running cadence intact")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	s.Stop(stopCtx)
	assert.False(t, s.Snapshot().Running)
}

func TestIntervalScheduleTriggers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{}, 4)
	s := New(Config{Schedule: "interval:1s"}, func(context.Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, nilLogger())
	require.NoError(t, s.Start(ctx))
	defer s.Stop(context.Background())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("interval schedule never fired")
	}
}

func nilLogger() logx.Logger { return logx.Nop() }
