// Package scheduler fires the reminder tick on a fixed wall-clock cadence.
//
// The service is a two-state machine, Idle -> Ticking -> Idle, looping until
// Stop. Triggers come from robfig/cron in the configured timezone. A trigger
// that arrives while a tick is still running is skipped, and with OncePerDay
// at most one tick runs per local calendar day, so a short poll cadence
// cannot notify tenants more than once a day.
package scheduler
