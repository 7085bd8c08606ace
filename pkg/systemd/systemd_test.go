package systemd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func withRecorder(t *testing.T) *recorder {
	r := &recorder{}
	prev := notify
	notify = r.notify
	t.Cleanup(func() { notify = prev })
	return r
}

func TestLifecycleStates(t *testing.T) {
	r := withRecorder(t)
	_, _ = Ready()
	Reloading(func() {})
	_, _ = Stopping()
	assert.Equal(t, []string{
		daemon.SdNotifyReady,
		daemon.SdNotifyReloading,
		daemon.SdNotifyReady,
		daemon.SdNotifyStopping,
	}, r.snapshot())
}

func TestRunWatchdogPingsUntilCanceled(t *testing.T) {
	r := withRecorder(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	RunWatchdog(ctx, 10*time.Millisecond)
	states := r.snapshot()
	assert.NotEmpty(t, states)
	for _, s := range states {
		assert.Equal(t, daemon.SdNotifyWatchdog, s)
	}
}

func TestWatchdogDisabledWithoutEnv(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	assert.Zero(t, WatchdogInterval())
}
