package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindbot/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	c     *cron.Cron
	entry cron.EntryID
	ctx   context.Context
	job   Job
	now   func() time.Time

	days      DayStore
	dayLoaded bool // guarded by mu

	state      atomic.Int32
	lastDay    string // guarded by mu
	fired      atomic.Uint64
	skipped    atomic.Uint64
	suppressed atomic.Uint64
}

type Option func(*Service)

// WithDayStore persists the once-per-day guard.
func WithDayStore(d DayStore) Option {
	return func(s *Service) { s.days = d }
}

func New(cfg Config, job Job, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg: cfg,
		log: log,
		job: job,
		now: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks cfg without applying it.
func Validate(cfg Config) error {
	ps, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	sched, err := cronParser.Parse(ps.CronSpec())
	if err != nil {
		return fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
	}
	loc, err := loadLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	fireAt := strings.TrimSpace(cfg.FireAt)
	if fireAt != "" {
		if _, _, err := parseHHMM(fireAt); err != nil {
			return fmt.Errorf("fire_at %q: %w", cfg.FireAt, err)
		}
	}
	if cfg.OncePerDay && fireAt == "" && subDaily(ps, sched, loc) {
		return fmt.Errorf("schedule %q fires more than once a day: set fire_at for once_per_day", cfg.Schedule)
	}
	return nil
}

// subDaily reports whether the schedule can trigger twice within one day.
func subDaily(ps ParsedSpec, sched cron.Schedule, loc *time.Location) bool {
	if ps.Kind == SpecInterval {
		return ps.Every < 24*time.Hour
	}
	from := time.Now().In(loc)
	for i := 0; i < 7; i++ {
		a := sched.Next(from)
		if a.IsZero() {
			return false
		}
		b := sched.Next(a)
		if !b.IsZero() && b.Sub(a) < 23*time.Hour {
			return true
		}
		from = b
	}
	return false
}

// Start begins triggering. Ticks run with ctx (or a context derived from it)
// until Stop or ctx cancellation.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	if err := s.startLocked(); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()
	return nil
}

func (s *Service) startLocked() error {
	ps, err := ParseSchedule(s.cfg.Schedule)
	if err != nil {
		return err
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return err
	}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
	)
	id, err := c.AddFunc(ps.CronSpec(), s.onTrigger)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", s.cfg.Schedule, err)
	}
	s.loc, s.c, s.entry = loc, c, id
	c.Start()
	s.log.Info("scheduler started",
		logx.String("schedule", ps.CronSpec()),
		logx.String("tz", loc.String()),
		logx.Bool("once_per_day", s.cfg.OncePerDay),
		logx.String("fire_at", s.cfg.FireAt),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

// Stop stops triggering and waits for a running tick to finish or ctx to expire.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// Apply swaps the cadence at runtime. The previous cron is stopped without
// waiting; a tick already running finishes on its own.
func (s *Service) Apply(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cfg
	s.cfg = cfg
	if s.c == nil {
		return nil
	}
	if prev.Schedule == cfg.Schedule && prev.Timezone == cfg.Timezone {
		return nil
	}
	old := s.c
	old.Stop()
	s.c = nil
	if err := s.startLocked(); err != nil {
		s.cfg = prev
		_ = s.startLocked()
		return err
	}
	return nil
}

func (s *Service) onTrigger() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	s.Fire(ctx)
}

// Fire runs one tick now, subject to the overlap and once-per-day guards.
// It reports whether the job ran.
func (s *Service) Fire(ctx context.Context) bool {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateTicking)) {
		s.skipped.Add(1)
		s.log.Warn("tick skipped: previous tick still running")
		return false
	}
	defer s.state.Store(int32(StateIdle))

	s.mu.Lock()
	now := s.now().In(s.locationLocked())
	day := now.Format(time.DateOnly)
	if at, ok := s.fireAtLocked(now); ok && now.Before(at) {
		s.mu.Unlock()
		s.suppressed.Add(1)
		s.log.Debug("tick suppressed: before fire_at", logx.String("fire_at", s.cfg.FireAt))
		return false
	}
	if s.cfg.OncePerDay {
		s.loadDayLocked()
		if day == s.lastDay {
			s.mu.Unlock()
			s.suppressed.Add(1)
			s.log.Debug("tick suppressed: already fired today", logx.String("day", day))
			return false
		}
	}
	s.lastDay = day
	if s.cfg.OncePerDay && s.days != nil {
		if err := s.days.SetLastDay(day); err != nil {
			s.log.Warn("scheduler state not saved", logx.Err(err))
		}
	}
	s.mu.Unlock()

	s.fired.Add(1)
	s.log.Debug("tick started", logx.String("day", day))
	s.job(ctx)
	return true
}

// fireAtLocked returns today's FireAt instant in now's location.
func (s *Service) fireAtLocked(now time.Time) (time.Time, bool) {
	raw := strings.TrimSpace(s.cfg.FireAt)
	if raw == "" {
		return time.Time{}, false
	}
	h, m, err := parseHHMM(raw)
	if err != nil {
		return time.Time{}, false
	}
	y, mo, d := now.Date()
	return time.Date(y, mo, d, h, m, 0, 0, now.Location()), true
}

// loadDayLocked reads the persisted day once.
func (s *Service) loadDayLocked() {
	if s.dayLoaded || s.days == nil {
		return
	}
	s.dayLoaded = true
	day, err := s.days.LastDay()
	if err != nil {
		s.log.Warn("scheduler state not loaded", logx.Err(err))
		return
	}
	if day > s.lastDay {
		s.lastDay = day
	}
}

func (s *Service) State() State { return State(s.state.Load()) }

// Describe renders the cadence for humans, e.g. "50 18 * * * (Asia/Tokyo)".
func (s *Service) Describe() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	spec := strings.TrimSpace(s.cfg.Schedule)
	if ps, err := ParseSchedule(spec); err == nil {
		spec = ps.CronSpec()
	}
	if at := strings.TrimSpace(s.cfg.FireAt); at != "" {
		spec += " from " + at
	}
	return fmt.Sprintf("%s (%s)", spec, s.locationLocked().String())
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Running:    s.c != nil,
		State:      s.State(),
		Schedule:   s.cfg.Schedule,
		Timezone:   s.locationLocked().String(),
		FireAt:     s.cfg.FireAt,
		LastDay:    s.lastDay,
		Fired:      s.fired.Load(),
		Skipped:    s.skipped.Load(),
		Suppressed: s.suppressed.Load(),
	}
	if s.c != nil {
		e := s.c.Entry(s.entry)
		snap.Next, snap.Prev = e.Next, e.Prev
	}
	return snap
}

func (s *Service) locationLocked() *time.Location {
	if s.loc != nil {
		return s.loc
	}
	loc, err := loadLocation(s.cfg.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func loadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

// cronLogger adapts logx to cron.Logger for the Recover wrapper.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
