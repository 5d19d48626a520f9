package httpapi

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/astroquant/confluence/internal/config"
	"github.com/astroquant/confluence/internal/metrics"
)

type ctxKey string

const ctxRequestID ctxKey = "request_id"

// requestTimeout bounds one handler; backtest triggers detach before it hits.
const requestTimeout = 15 * time.Second

// Server is the HTTP front: REST routes, the metrics endpoint and the
// websocket stream.
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *Handlers
	hub      *Hub
	metrics  *metrics.Registry
	cfg      config.HTTPConfig
}

// NewServer wires the router and middleware around the handler set.
func NewServer(cfg config.HTTPConfig, handlers *Handlers, hub *Hub, reg *metrics.Registry) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: handlers,
		hub:      hub,
		metrics:  reg,
		cfg:      cfg,
	}
	s.routes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Hub exposes the broadcast hub for the alert and confluence wiring.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)

	// Streaming and scraping bypass the JSON middleware and timeout.
	s.router.HandleFunc("/ws", s.hub.Serve)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.timeoutMiddleware)
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/prices/{symbol}", s.handlers.Prices).Methods("GET")
	api.HandleFunc("/signals/ta/{symbol}", s.handlers.TASignal).Methods("GET")
	api.HandleFunc("/onchain/{symbol}", s.handlers.OnChain).Methods("GET")
	api.HandleFunc("/celestial/current", s.handlers.CelestialCurrent).Methods("GET")
	api.HandleFunc("/numerology/current", s.handlers.NumerologyCurrent).Methods("GET")
	api.HandleFunc("/sentiment/{symbol}", s.handlers.Sentiment).Methods("GET")
	api.HandleFunc("/political/signal", s.handlers.PoliticalSignal).Methods("GET")
	api.HandleFunc("/macro/signal", s.handlers.MacroSignal).Methods("GET")

	// Weights before the symbol route so "weights" never matches {symbol}.
	api.HandleFunc("/confluence/weights", s.handlers.GetWeights).Methods("GET")
	api.HandleFunc("/confluence/weights", s.handlers.PutWeights).Methods("POST")
	api.HandleFunc("/confluence/{symbol}", s.handlers.Confluence).Methods("GET")
	api.HandleFunc("/interpretation/{symbol}", s.handlers.Interpretation).Methods("GET")

	api.HandleFunc("/alerts", s.handlers.ListAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id}/acknowledge", s.handlers.AcknowledgeAlert).Methods("POST")

	api.HandleFunc("/cycles", s.handlers.ListCycles).Methods("GET")
	api.HandleFunc("/cycles", s.handlers.CreateCycle).Methods("POST")
	api.HandleFunc("/cycles/{id}/status", s.handlers.CycleStatus).Methods("GET")

	api.HandleFunc("/backtest/cycle", s.handlers.RunCycleBacktest).Methods("POST")
	api.HandleFunc("/backtest/signals", s.handlers.RunSignalBacktest).Methods("POST")
	api.HandleFunc("/backtest/optimize", s.handlers.RunOptimize).Methods("POST")
	api.HandleFunc("/backtest/results/{id}", s.handlers.BacktestResult).Methods("GET")

	s.router.NotFoundHandler = s.stripMiddleware(http.HandlerFunc(s.handlers.NotFound))
}

// stripMiddleware applies only the request-id middleware, for the 404 path
// mux serves outside the subrouter chain.
func (s *Server) stripMiddleware(next http.Handler) http.Handler {
	return s.requestIDMiddleware(next)
}

// Run serves until the context ends, then drains within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.hub.Close()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	log.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()[:8]
		ctx := context.WithValue(r.Context(), ctxRequestID, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(ctxRequestID).(string)
		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		s.metrics.RequestDuration.
			WithLabelValues(route, r.Method, strconv.Itoa(wrapper.status)).
			Observe(time.Since(start).Seconds())
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// statusWriter captures the response status for logs and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack passes through so the websocket upgrade works behind the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}
