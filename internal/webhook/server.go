// Package webhook serves the PayHero callback endpoint alongside health and
// Prometheus metrics.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kopakash/loanbot/core/logger"
	"github.com/kopakash/loanbot/internal/payment"
)

const maxBodyBytes = 64 << 10

var callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "loanbot",
	Subsystem: "webhook",
	Name:      "callbacks_total",
	Help:      "PayHero callbacks received, by result.",
}, []string{"result"})

// Observer accepts a parsed callback for asynchronous reconciliation.
type Observer interface {
	Submit(ctx context.Context, obs payment.Observation)
}

// ParseFunc turns a raw callback body into an Observation.
type ParseFunc func(body []byte) (payment.Observation, error)

// Options configure the server.
type Options struct {
	Addr            string
	CallbackPath    string
	ShutdownTimeout time.Duration
}

// Server implements the runner's Service interface.
type Server struct {
	opts     Options
	observer Observer
	parse    ParseFunc
	router   http.Handler
}

// New builds the router. Nothing listens until Run.
func New(opts Options, observer Observer, parse ParseFunc) *Server {
	if opts.CallbackPath == "" {
		opts.CallbackPath = "/payhero-callback"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{opts: opts, observer: observer, parse: parse}
	s.router = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Post(s.opts.CallbackPath, s.callback)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// requestID tags each request with a uuid, echoed back as X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(rid); err != nil {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		next.ServeHTTP(w, r.WithContext(logger.WithRID(r.Context(), rid)))
	})
}

// Handler exposes the router (tests, embedding).
func (s *Server) Handler() http.Handler { return s.router }

// Name implements cmd.Service.
func (s *Server) Name() string { return "webhook" }

// callback always acknowledges with 200; PayHero retries anything else and
// the outcome does not depend on the response.
func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		callbacksTotal.WithLabelValues("read_error").Inc()
		logger.Warn(ctx, "webhook", "callback.read",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	obs, err := s.parse(body)
	if err != nil {
		callbacksTotal.WithLabelValues("invalid").Inc()
		logger.Warn(ctx, "webhook", "callback.parse",
			slog.String("status", "fail"),
			slog.Int("bytes", len(body)),
			slog.String("err", logger.SanitizeLimit(err.Error(), 300)),
		)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	callbacksTotal.WithLabelValues("accepted").Inc()
	logger.Info(logger.WithReference(ctx, obs.Reference), "webhook", "callback.received",
		slog.String("status", "ok"),
		slog.String("payment_status", string(obs.Status)),
	)
	s.observer.Submit(ctx, obs)
	respondJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// Run listens on Options.Addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("webhook: listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs on ln and drains in-flight requests on shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	logger.Info(ctx, "webhook", "server.start",
		slog.String("status", "ok"),
		slog.String("addr", ln.Addr().String()),
		slog.String("path", s.opts.CallbackPath),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("webhook: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook: shutdown: %w", err)
	}
	logger.Info(ctx, "webhook", "server.stop", slog.String("status", "ok"))
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
