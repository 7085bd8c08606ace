package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "remindbot/pkg/logx"
)

const defaultAddr = "127.0.0.1:9090"

// Server serves /metrics for a registry.
type Server struct {
	addr string
	log  logx.Logger
	srv  *http.Server
}

// ServerOption customizes a Server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	pprof      bool
	pprofToken string
}

// WithPprof mounts net/http/pprof under /debug/pprof/. When token is set,
// requests must carry it as a bearer header or ?token= query value.
func WithPprof(token string) ServerOption {
	return func(o *serverOptions) {
		o.pprof = true
		o.pprofToken = strings.TrimSpace(token)
	}
}

func NewServer(addr string, gatherer prometheus.Gatherer, log logx.Logger, opts ...ServerOption) *Server {
	if strings.TrimSpace(addr) == "" {
		addr = defaultAddr
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	var o serverOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if o.pprof {
		if o.pprofToken == "" && !isLoopbackAddr(addr) {
			log.Warn("pprof not mounted: non-loopback addr requires metrics.pprof_token", logx.String("addr", addr))
		} else {
			mountPprof(mux, o.pprofToken)
		}
	}
	return &Server{
		addr: addr,
		log:  log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info("metrics server listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(sctx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
