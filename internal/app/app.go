// Package app wires configuration, logging, the settings store, the selected
// chat transport, the command router and the reminder scheduler into one
// process lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remindbot/internal/config"
	"remindbot/internal/metrics"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/task/scheduler"
	"remindbot/internal/transport"
	"remindbot/internal/transport/router"
	logx "remindbot/pkg/logx"
	"remindbot/pkg/systemd"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	tr      boundTransport
	metrics *metrics.Metrics
	promSrv *metrics.Server

	ticker *reminder.Ticker
	sched  *scheduler.Service
	cmds   *reminder.Commands
	router *router.Router

	interactions chan transport.Interaction
}

// New loads configuration and builds every component. envPath names an
// optional dotenv file layered under the process environment. Missing
// credentials, an unusable store or an invalid schedule are fatal here.
func New(cfgPath, envPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetEnvFile(envPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	tr, err := newTransport(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a, err := assemble(cfg, log, store, tr, m)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	if cfg.Metrics.Enabled {
		var opts []metrics.ServerOption
		if cfg.Metrics.Pprof {
			opts = append(opts, metrics.WithPprof(cfg.Metrics.PprofToken))
		}
		a.promSrv = metrics.NewServer(cfg.Metrics.Addr, reg, log.With(logx.String("comp", "metrics")), opts...)
	}
	log.Info("app configured",
		logx.String("transport", tr.adapter.Name()),
		logx.String("storage", sc.Driver),
		logx.String("schedule", a.sched.Describe()),
	)
	return a, nil
}

// assemble builds the reminder pipeline on top of ready collaborators.
func assemble(cfg *config.Config, log logx.Logger, store storage.Store, tr boundTransport, m *metrics.Metrics) (*App, error) {
	ds, err := mapDispatchSettings(cfg)
	if err != nil {
		return nil, err
	}
	rc, err := mapRouterConfig(cfg)
	if err != nil {
		return nil, err
	}

	rlog := log.With(logx.String("comp", "reminder"))
	ticker := reminder.NewTicker(store,
		reminder.NewDispatcher(tr.adapter, tr.adapter, ds.Dispatcher),
		ds.Workers, rlog, m)
	var sopts []scheduler.Option
	if p := mapSchedulerStatePath(cfg); p != "" {
		sopts = append(sopts, scheduler.WithDayStore(scheduler.NewFileDayStore(p)))
	}
	sched := scheduler.New(mapSchedulerConfig(cfg),
		func(ctx context.Context) { ticker.Tick(ctx) },
		log.With(logx.String("comp", "scheduler")), sopts...)
	cmds := reminder.NewCommands(store, rlog,
		reminder.WithMention(tr.mention),
		reminder.WithScheduleDescription(sched.Describe),
		reminder.WithMetrics(m),
	)
	rt := router.New(tr.adapter,
		func(ctx context.Context, req *router.Request) (string, error) {
			return cmds.Handle(ctx, req.Interaction)
		},
		rc, log.With(logx.String("comp", "router")),
		router.WithFailureReply(reminder.FailureReply),
		router.WithMetrics(m),
	)

	return &App{
		log:          log.With(logx.String("comp", "app")),
		store:        store,
		tr:           tr,
		metrics:      m,
		ticker:       ticker,
		sched:        sched,
		cmds:         cmds,
		router:       rt,
		interactions: make(chan transport.Interaction, max(rc.QueueSize, 64)),
	}, nil
}

func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start registers the command schema, opens the platform session and starts
// the router, the scheduler and the config watcher. A registration failure
// is fatal: nothing is served.
func (a *App) Start(ctx context.Context) error {
	regCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := a.tr.adapter.RegisterCommands(regCtx, reminder.CommandSpec(a.tr.scope))
	cancel()
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}

	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true),
	)
	if err := a.tr.adapter.Start(a.sup.Context(), a.interactions); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("transport start: %w", err)
	}

	a.sup.Go("router", func(c context.Context) error {
		return a.router.Run(c, a.interactions)
	})
	if err := a.sched.Start(a.sup.Context()); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("scheduler start: %w", err)
	}
	if a.promSrv != nil {
		a.sup.GoRestart("metrics.server", a.promSrv.Run,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			return validateConfig(cfg)
		})
		sub := a.cfgm.Subscribe(8)
		a.sup.Go("config.watch", a.cfgm.Watch)
		a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	}

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}
	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) { systemd.RunWatchdog(c, iv) })
	}

	a.log.Info("started", logx.String("transport", a.tr.adapter.Name()))
	return nil
}

// Stop shuts components down in reverse dependency order. Every step is
// bounded so a stuck collaborator cannot hang shutdown.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if reason == "" {
		reason = StopUnknown
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()
	if a.sup != nil {
		a.sup.Cancel()
	}

	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "transport", 3*time.Second, func(c context.Context) error { return a.tr.adapter.Stop(c) })
	if a.sup != nil {
		a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err != nil && sctx.Err() == nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-sctx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
