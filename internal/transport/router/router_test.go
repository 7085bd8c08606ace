package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type call struct {
	kind string // "ack" | "final"
	id   string
	text string
}

type fakeReplier struct {
	mu     sync.Mutex
	calls  []call
	ackErr error
	done   chan struct{}
	acked  chan string
}

func newFakeReplier() *fakeReplier {
	return &fakeReplier{done: make(chan struct{}, 16), acked: make(chan string, 16)}
}

func (f *fakeReplier) Acknowledge(_ context.Context, in transport.Interaction) (transport.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: "ack", id: in.ID})
	if f.ackErr != nil {
		return transport.Receipt{}, f.ackErr
	}
	f.acked <- in.ID
	return transport.Receipt{Interaction: in, Ref: "ref-" + in.ID}, nil
}

func (f *fakeReplier) Finalize(_ context.Context, rc transport.Receipt, text string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call{kind: "final", id: rc.Interaction.ID, text: text})
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeReplier) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func interaction(id, sub string) transport.Interaction {
	return transport.Interaction{ID: id, TenantID: "g1", OriginID: "c1", UserID: "u1", Subcommand: sub}
}

func TestServeAcknowledgesThenFinalizes(t *testing.T) {
	rp := newFakeReplier()
	var sawAck bool
	h := func(_ context.Context, req *Request) (string, error) {
		calls := rp.snapshot()
		sawAck = len(calls) == 1 && calls[0].kind == "ack"
		assert.NotEmpty(t, req.ReqID)
		return "done: " + req.Interaction.Subcommand, nil
	}
	r := New(rp, h, Config{}, logx.Nop())
	r.Serve(context.Background(), &Request{Interaction: interaction("i1", "status"), Logger: logx.Nop(), ReqID: "x"})

	assert.True(t, sawAck, "handler must run after the acknowledgment")
	assert.Equal(t, []call{
		{kind: "ack", id: "i1"},
		{kind: "final", id: "i1", text: "done: status"},
	}, rp.snapshot())
}

func TestServeKeepsHandlerTextOnError(t *testing.T) {
	rp := newFakeReplier()
	h := func(context.Context, *Request) (string, error) {
		return "could not save", errors.New("disk full")
	}
	r := New(rp, h, Config{}, logx.Nop())
	r.Serve(context.Background(), &Request{Interaction: interaction("i1", "on"), Logger: logx.Nop()})

	calls := rp.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "could not save", calls[1].text)
}

func TestServeRecoversPanicWithFailureReply(t *testing.T) {
	rp := newFakeReplier()
	h := func(context.Context, *Request) (string, error) { panic("boom") }
	r := New(rp, h, Config{}, logx.Nop(), WithFailureReply(func(error) string { return "oops" }))
	r.Serve(context.Background(), &Request{Interaction: interaction("i1", "on"), Logger: logx.Nop()})

	calls := rp.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "oops", calls[1].text)
}

func TestServeTimeoutStillFinalizes(t *testing.T) {
	rp := newFakeReplier()
	h := func(ctx context.Context, _ *Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	r := New(rp, h, Config{CommandTimeout: 20 * time.Millisecond}, logx.Nop())
	r.Serve(context.Background(), &Request{Interaction: interaction("i1", "on"), Logger: logx.Nop()})

	calls := rp.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, replyFailed, calls[1].text)
}

func TestServeAckFailureSkipsHandler(t *testing.T) {
	rp := newFakeReplier()
	rp.ackErr = errors.New("interaction expired")
	ran := false
	h := func(context.Context, *Request) (string, error) {
		ran = true
		return "", nil
	}
	r := New(rp, h, Config{}, logx.Nop())
	r.Serve(context.Background(), &Request{Interaction: interaction("i1", "on"), Logger: logx.Nop()})

	assert.False(t, ran)
	assert.Len(t, rp.snapshot(), 1)
}

func TestRunProcessesInteractions(t *testing.T) {
	rp := newFakeReplier()
	h := func(_ context.Context, req *Request) (string, error) { return "ok " + req.Interaction.ID, nil }
	r := New(rp, h, Config{Workers: 2, QueueSize: 4}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan transport.Interaction)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx, in) }()

	in <- interaction("a", "status")
	in <- interaction("b", "status")
	for i := 0; i < 2; i++ {
		select {
		case <-rp.done:
		case <-time.After(2 * time.Second):
			t.Fatal("interaction was not finalized")
		}
	}
	cancel()
	require.NoError(t, <-errCh)

	finals := map[string]string{}
	for _, c := range rp.snapshot() {
		if c.kind == "final" {
			finals[c.id] = c.text
		}
	}
	assert.Equal(t, map[string]string{"a": "ok a", "b": "ok b"}, finals)
}

func TestAdmitRepliesBusyWhenQueueFull(t *testing.T) {
	rp := newFakeReplier()
	r := New(rp, func(context.Context, *Request) (string, error) { return "", nil }, Config{QueueSize: 1}, logx.Nop())

	// no workers are running, so the second admission overflows
	r.admit(context.Background(), r.newRequest(interaction("a", "on")))
	r.admit(context.Background(), r.newRequest(interaction("b", "on")))

	assert.Equal(t, []call{
		{kind: "ack", id: "a"},
		{kind: "ack", id: "b"},
		{kind: "final", id: "b", text: replyBusy},
	}, rp.snapshot())
	assert.Len(t, r.jobs, 1)
}

func TestAcknowledgeDoesNotWaitForBusyWorkers(t *testing.T) {
	rp := newFakeReplier()
	release := make(chan struct{})
	started := make(chan string, 2)
	h := func(_ context.Context, req *Request) (string, error) {
		started <- req.Interaction.ID
		<-release
		return "ok", nil
	}
	r := New(rp, h, Config{Workers: 1, QueueSize: 4}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan transport.Interaction)
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx, in) }()

	in <- interaction("a", "on")
	select {
	case id := <-started:
		require.Equal(t, "a", id)
	case <-time.After(2 * time.Second):
		t.Fatal("first interaction never reached the handler")
	}

	// the only worker is blocked on "a"; "b" must still be acknowledged now
	in <- interaction("b", "status")
	acked := map[string]bool{}
	deadline := time.After(500 * time.Millisecond)
	for !acked["b"] {
		select {
		case id := <-rp.acked:
			acked[id] = true
		case <-deadline:
			t.Fatal("second interaction was not acknowledged while the worker was busy")
		}
	}

	close(release)
	for i := 0; i < 2; i++ {
		select {
		case <-rp.done:
		case <-time.After(2 * time.Second):
			t.Fatal("interaction was not finalized")
		}
	}
	cancel()
	require.NoError(t, <-errCh)
}

func TestDrainFinalizesQueuedJobs(t *testing.T) {
	rp := newFakeReplier()
	r := New(rp, func(context.Context, *Request) (string, error) { return "", nil }, Config{QueueSize: 2}, logx.Nop())
	r.admit(context.Background(), r.newRequest(interaction("a", "on")))

	r.drain()

	assert.Equal(t, []call{
		{kind: "ack", id: "a"},
		{kind: "final", id: "a", text: replyStopping},
	}, rp.snapshot())
	assert.Empty(t, r.jobs)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) (string, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(context.Context, *Request) (string, error) {
		order = append(order, "handler")
		return "", nil
	}, mw("outer"), mw("inner"))
	_, _ = h(context.Background(), &Request{})
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
