package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "driftnote/internal/runtime/supervisor"
	logx "driftnote/pkg/logx"
)

const (
	DefaultAddr = "127.0.0.1:9464"
	DefaultPath = "/metrics"
)

type ServerConfig struct {
	Addr string
	Path string
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool
}

// Server serves a Gatherer over HTTP, plus /healthz.
type Server struct {
	cfg      ServerConfig
	gatherer prometheus.Gatherer
	log      logx.Logger

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

func NewServer(cfg ServerConfig, g prometheus.Gatherer, log logx.Logger) *Server {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = DefaultPath
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, gatherer: g, log: log}
}

// Handler returns the mux the server exposes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.cfg.Pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return mux
}

// Start listens and serves in the background. It is a no-op when already
// running.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	sup := rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup.Go("metrics.serve", func(context.Context) error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	sup.Go0("metrics.shutdown", func(c context.Context) {
		<-c.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	s.ln, s.srv, s.sup = ln, srv, sup
	s.log.Info("metrics listening", logx.String("addr", ln.Addr().String()), logx.String("path", s.cfg.Path))
	return nil
}

// Addr returns the bound address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down, waiting until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.ln, s.srv, s.sup = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}
