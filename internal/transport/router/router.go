// Package router turns platform interactions into private replies.
//
// Every interaction is acknowledged on intake, before it waits for a worker
// (the platform shows a pending, invoker-only reply), and finalized with the
// handler's text afterwards. Busy workers and slow settings I/O therefore
// never delay the acknowledgement past the platform's response deadline.
package router

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/metrics"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
	replyBusy        = transport.ReplyBusy
	replyFailed      = "Something went wrong while handling that command."
	replyStopping    = "The bot is restarting, please try again in a moment."
	finalizeTimeout  = 10 * time.Second
)

// Request is the per-interaction handler input.
type Request struct {
	Interaction transport.Interaction
	ReqID       string
	Logger      logx.Logger
}

// Config sizes the worker pool. Zero values take defaults.
type Config struct {
	Workers        int
	QueueSize      int
	CommandTimeout time.Duration
	// AckTimeout bounds the acknowledgment call; platforms reject late acks.
	AckTimeout time.Duration
}

type Option func(*Router)

// WithFailureReply maps a handler error that came with no reply text.
func WithFailureReply(fn func(error) string) Option {
	return func(r *Router) {
		if fn != nil {
			r.failureReply = fn
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

type Router struct {
	log     logx.Logger
	replier transport.Replier
	handle  HandlerFunc
	metrics *metrics.Metrics

	failureReply func(error) string

	mu  sync.RWMutex
	cfg Config

	jobs   chan job
	intake sync.WaitGroup
}

// job is an acknowledged interaction waiting for a worker.
type job struct {
	req *Request
	rc  transport.Receipt
}

func New(replier transport.Replier, h HandlerFunc, cfg Config, log logx.Logger, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = normalize(cfg)
	r := &Router{
		log:          log,
		replier:      replier,
		handle:       h,
		failureReply: func(error) string { return replyFailed },
		cfg:          cfg,
		jobs:         make(chan job, cfg.QueueSize),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func normalize(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 2500 * time.Millisecond
	}
	return cfg
}

// SetCommandTimeout updates the per-command timeout; pool sizes need a restart.
func (r *Router) SetCommandTimeout(d time.Duration) {
	r.mu.Lock()
	r.cfg.CommandTimeout = d
	r.mu.Unlock()
}

func (r *Router) commandTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.CommandTimeout
}

// Run consumes interactions until ctx is done or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan transport.Interaction) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "router"))),
	)
	r.log.Info("command router started",
		logx.Int("workers", r.cfg.Workers),
		logx.Int("queue_cap", cap(r.jobs)),
	)

	for i := 0; i < r.cfg.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case j := <-r.jobs:
					r.process(c, j.req, j.rc)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		r.waitIntake(wctx)
		_ = sup.Stop(wctx)
		r.drain()
		r.log.Info("command router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case it, ok := <-in:
			if !ok {
				return nil
			}
			r.enqueue(ctx, it)
		}
	}
}

func (r *Router) newRequest(it transport.Interaction) *Request {
	rid := uuid.NewString()
	return &Request{
		Interaction: it,
		ReqID:       rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.String("tenant", it.TenantID),
			logx.String("origin", it.OriginID),
			logx.String("user", it.UserID),
			logx.String("sub", it.Subcommand),
		),
	}
}

// enqueue admits it on its own goroutine so the intake loop never waits on
// an acknowledgement or a busy reply.
func (r *Router) enqueue(ctx context.Context, it transport.Interaction) {
	req := r.newRequest(it)
	r.intake.Add(1)
	go func() {
		defer r.intake.Done()
		r.admit(ctx, req)
	}()
}

// admit acknowledges req and hands it to the worker pool. A full queue gets
// the busy reply on the same receipt.
func (r *Router) admit(ctx context.Context, req *Request) {
	rc, err := r.ack(ctx, req)
	if err != nil {
		req.Logger.Warn("acknowledge failed", logx.Err(err))
		r.metrics.Command(req.Interaction.Subcommand, "ack_failed")
		return
	}
	select {
	case r.jobs <- job{req: req, rc: rc}:
	default:
		req.Logger.Warn("command queue full")
		r.metrics.Command(req.Interaction.Subcommand, "busy")
		r.finalize(ctx, req, rc, replyBusy)
	}
}

func (r *Router) waitIntake(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		r.intake.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn("command intake still running at shutdown")
	}
}

// drain finalizes acknowledged jobs no worker will pick up anymore.
func (r *Router) drain() {
	for {
		select {
		case j := <-r.jobs:
			r.finalize(context.Background(), j.req, j.rc, replyStopping)
		default:
			return
		}
	}
}

// Serve acknowledges, runs the handler, and finalizes with its reply.
func (r *Router) Serve(ctx context.Context, req *Request) {
	rc, err := r.ack(ctx, req)
	if err != nil {
		req.Logger.Warn("acknowledge failed", logx.Err(err))
		r.metrics.Command(req.Interaction.Subcommand, "ack_failed")
		return
	}
	r.process(ctx, req, rc)
}

// process runs the handler for an acknowledged request and finalizes it.
func (r *Router) process(ctx context.Context, req *Request, rc transport.Receipt) {
	final := Chain(r.handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(r.commandTimeout()),
	)
	text, herr := final(ctx, req)
	if herr != nil && text == "" {
		text = r.failureReply(herr)
	}
	r.finalize(ctx, req, rc, text)
}

func (r *Router) ack(ctx context.Context, req *Request) (transport.Receipt, error) {
	actx, cancel := context.WithTimeout(ctx, r.cfg.AckTimeout)
	defer cancel()
	return r.replier.Acknowledge(actx, req.Interaction)
}

func (r *Router) finalize(ctx context.Context, req *Request, rc transport.Receipt, text string) {
	// the handler may have consumed ctx's deadline; finalizing still has to happen
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := r.replier.Finalize(fctx, rc, text); err != nil {
		req.Logger.Warn("finalize failed", logx.Err(err))
	}
}
