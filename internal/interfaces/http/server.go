package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptorisk/internal/domain/risk"
	"github.com/sawpanic/cryptorisk/internal/exits"
	"github.com/sawpanic/cryptorisk/internal/ledger"
	"github.com/sawpanic/cryptorisk/internal/persistence"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// RiskSource returns the latest portfolio risk snapshot.
type RiskSource interface {
	Latest(ctx context.Context) (risk.Snapshot, error)
}

// PositionSource lists open positions.
type PositionSource interface {
	OpenPositions() []ledger.Position
}

// Deps are the read-only views the server exposes. Health and Exits may be nil.
type Deps struct {
	Metrics   *MetricsRegistry
	Health    persistence.RepositoryHealth
	Risk      RiskSource
	Positions PositionSource
	Exits     *exits.ExitEvaluator
	Version   string
}

// Server represents the read-only HTTP server
type Server struct {
	router  *mux.Router
	server  *http.Server
	deps    Deps
	config  ServerConfig
	started time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig(addr string) ServerConfig {
	if addr == "" {
		addr = "127.0.0.1:8080" // Local-only by default
	}
	return ServerConfig{
		Addr:         addr,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates a new HTTP server instance
func NewServer(config ServerConfig, deps Deps) (*Server, error) {
	if deps.Metrics == nil || deps.Risk == nil || deps.Positions == nil {
		return nil, errors.New("monitoring server requires metrics, risk and positions sources")
	}

	// Check if port is available
	listener, err := net.Listen("tcp", config.Addr)
	if err != nil {
		return nil, fmt.Errorf("address %s is busy or unavailable: %w", config.Addr, err)
	}
	listener.Close()

	s := &Server{
		router:  mux.NewRouter(),
		deps:    deps,
		config:  config,
		started: time.Now(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	s.router.Handle("/metrics", s.deps.Metrics.MetricsHandler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)
	api.HandleFunc("/health", s.health).Methods(http.MethodGet)
	api.HandleFunc("/risk", s.risk).Methods(http.MethodGet)
	api.HandleFunc("/positions", s.positions).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.notFound)
}

// Handler exposes the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string                   `json:"status"` // "healthy", "degraded"
	Timestamp   time.Time                `json:"timestamp"`
	Uptime      string                   `json:"uptime"`
	Version     string                   `json:"version"`
	Persistence *persistence.HealthCheck `json:"persistence,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Version:   s.deps.Version,
	}
	status := http.StatusOK
	if s.deps.Health != nil {
		check := s.deps.Health.Health(r.Context())
		resp.Persistence = &check
		if !check.Healthy {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) risk(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Risk.Latest(r.Context())
	if errors.Is(err, persistence.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "no_snapshot", "no risk snapshot has been computed yet")
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "risk_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// PositionView is an open position with its exit progress.
type PositionView struct {
	ledger.Position
	Exit *exits.Summary `json:"exit,omitempty"`
}

func (s *Server) positions(w http.ResponseWriter, r *http.Request) {
	open := s.deps.Positions.OpenPositions()
	views := make([]PositionView, 0, len(open))
	for _, p := range open {
		v := PositionView{Position: p}
		if s.deps.Exits != nil {
			summary := s.deps.Exits.Summarize(p)
			v.Exit = &summary
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":     len(views),
		"positions": views,
	})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, r, http.StatusNotFound, "endpoint_not_found", "The requested endpoint does not exist")
}

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(requestIDKey).(string)
	if requestID == "" {
		requestID = "unknown"
	}
	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}

// requestIDMiddleware adds unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs all requests with structured format
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(requestIDKey).(string)
		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("Request served")
	})
}

// timeoutMiddleware enforces request timeouts
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// jsonContentTypeMiddleware sets JSON content type for API responses
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	log.Info().Str("addr", s.config.Addr).Msg("Starting monitoring server (read-only)")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down monitoring server")
	return s.server.Shutdown(ctx)
}

// Address returns the server address
func (s *Server) Address() string {
	return s.config.Addr
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

