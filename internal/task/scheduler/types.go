package scheduler

import (
	"context"
	"time"
)

// Config controls the trigger cadence.
type Config struct {
	Schedule string // see ParseSchedule
	Timezone string // IANA TZ, e.g. "Asia/Tokyo"; empty means local
	// OncePerDay suppresses every trigger after the first one of a local calendar day.
	OncePerDay bool
	// FireAt ("HH:MM", optional) suppresses triggers earlier than that local time
	// of day. Required with OncePerDay when the schedule fires more than once a day.
	FireAt string
}

// Job is the tick body.
type Job func(ctx context.Context)

// State is the scheduler state machine.
type State int32

const (
	StateIdle State = iota
	StateTicking
)

func (s State) String() string {
	if s == StateTicking {
		return "ticking"
	}
	return "idle"
}

// Snapshot is a point-in-time view for logs and diagnostics.
type Snapshot struct {
	Running    bool
	State      State
	Schedule   string
	Timezone   string
	Next       time.Time
	Prev       time.Time
	FireAt     string
	LastDay    string
	Fired      uint64
	Skipped    uint64
	Suppressed uint64
}
