// Package management serves transfer progress over HTTP while a run is in
// flight.
package management

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"edsu/internal/logging"
	"edsu/internal/ratelimit"
)

// DefaultBind is used when New is given an empty address.
const DefaultBind = "127.0.0.1:7777"

// Server exposes /state, /healthz and /metrics. Requests from addresses
// outside the ACL are refused; an empty ACL admits everyone.
type Server struct {
	state    func() any
	metrics  func() map[string]float64
	logger   *logging.Logger
	server   *http.Server
	listener net.Listener
	limiter  *ratelimit.Limiter
	done     chan struct{}
	started  atomic.Bool

	aclMu sync.RWMutex
	acl   []netip.Prefix
}

// Option customises a Server during construction.
type Option func(*Server)

// WithMetrics exposes fn over /metrics.
func WithMetrics(fn func() map[string]float64) Option {
	return func(s *Server) { s.metrics = fn }
}

// WithLimiter answers 429 to requests the limiter refuses and adds the
// limiter's counters to /metrics.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

func WithACL(prefixes []netip.Prefix) Option {
	return func(s *Server) { s.SetACL(prefixes) }
}

// New listens on bind. state is marshalled to JSON on every /state request
// and must be safe to call from any goroutine.
func New(bind string, state func() any, logger *logging.Logger, opts ...Option) (*Server, error) {
	if bind == "" {
		bind = DefaultBind
	}
	if logger == nil {
		logger = logging.Discard()
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		state:    state,
		logger:   logger.With(map[string]interface{}{"component": "management"}),
		listener: listener,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(srv)
	}

	mux := http.NewServeMux()
	mux.Handle("/state", srv.guard(srv.handleState))
	mux.Handle("/healthz", srv.guard(srv.handleHealth))
	mux.Handle("/metrics", srv.guard(srv.handleMetrics))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	return srv, nil
}

// Start serves in the background until Close.
func (s *Server) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.done)
		s.logger.Info("management server started", map[string]interface{}{"addr": s.Addr()})
		if err := s.server.Serve(s.listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("management server error", map[string]interface{}{"error": err.Error()})
		}
	}()
}

// Close shuts the server down and waits for the serving goroutine if Start
// was called.
func (s *Server) Close(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	if !s.started.Load() {
		return s.listener.Close()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return err
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) SetACL(prefixes []netip.Prefix) {
	s.aclMu.Lock()
	s.acl = append([]netip.Prefix(nil), prefixes...)
	s.aclMu.Unlock()
}

func (s *Server) allowed(remote string) bool {
	s.aclMu.RLock()
	acl := s.acl
	s.aclMu.RUnlock()
	if len(acl) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range acl {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func (s *Server) guard(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !s.allowed(r.RemoteAddr) {
			s.logger.Warn("management request refused", map[string]interface{}{"remote": r.RemoteAddr, "path": r.URL.Path})
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if s.limiter != nil {
			if !s.limiter.Allow() {
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			defer s.limiter.Release()
		}
		next(w, r)
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	payload, err := json.Marshal(s.state())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil && s.limiter == nil {
		http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		return
	}
	values := map[string]float64{}
	if s.metrics != nil {
		for name, value := range s.metrics() {
			values[name] = value
		}
	}
	if s.limiter != nil {
		for name, value := range s.limiter.Metrics() {
			values[name] = value
		}
	}
	lines := make([]string, 0, len(values))
	for name, value := range values {
		lines = append(lines, strings.ReplaceAll(name, " ", "_")+" "+strconv.FormatFloat(value, 'f', -1, 64))
	}
	sort.Strings(lines)
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	for _, line := range lines {
		_, _ = w.Write([]byte(line + "\n"))
	}
}
