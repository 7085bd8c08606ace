package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		cron     string
		duration time.Duration
	}{
		{name: "cron", raw: "50 18 * * *", kind: SpecCron, source: "cron", cron: "50 18 * * *"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron", cron: "0 0 * * *"},
		{name: "descriptor", raw: "@daily", kind: SpecCron, source: "cron", cron: "@daily"},
		{name: "daily time", raw: "18:50", kind: SpecCron, source: "daily", cron: "50 18 * * *"},
		{name: "prefixed daily", raw: "daily:07:05", kind: SpecCron, source: "daily", cron: "5 7 * * *"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix", raw: "every:1m", kind: SpecInterval, source: "duration", duration: time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.source, got.Source)
			if tt.kind == SpecInterval {
				assert.Equal(t, tt.duration, got.Every)
				assert.Equal(t, "@every "+tt.duration.String(), got.CronSpec())
			} else {
				assert.Equal(t, tt.cron, got.CronSpec())
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "25:00", "12:60", "interval:-5m", "cron:"} {
		_, err := ParseSchedule(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	require.NoError(t, err)
	assert.Equal(t, 23, h)
	assert.Equal(t, 15, m)

	_, _, err = parseHHMM("24:00")
	assert.Error(t, err)
}
