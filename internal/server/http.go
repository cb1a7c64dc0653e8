package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"hyperdrived/internal/event"
	"hyperdrived/internal/ingestion"
	"hyperdrived/internal/observability"
	"hyperdrived/internal/projection"
	"hyperdrived/internal/query"
)

var errSubmitDisabled = errors.New("event submission is not enabled")

// HTTPServer serves the read API, health endpoints and Prometheus metrics.
type HTTPServer struct {
	httpServer    *http.Server
	addr          string
	logger        zerolog.Logger
	healthChecker *observability.HealthChecker
	queryService  *query.QueryService
	eventChan     chan<- event.Event
	db            *sql.DB
	startTime     time.Time
}

// ServerDeps holds the dependencies wired into the HTTP routes.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	HealthChecker *observability.HealthChecker
	EventChan     chan<- event.Event
	StartTime     time.Time
}

func NewHTTPServer(addr string, deps *ServerDeps) *HTTPServer {
	return &HTTPServer{
		addr:          addr,
		logger:        observability.NewLogger("http"),
		healthChecker: deps.HealthChecker,
		queryService:  deps.QueryService,
		eventChan:     deps.EventChan,
		db:            deps.DB,
		startTime:     deps.StartTime,
	}
}

// Start runs the HTTP server until the context is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthChecker.LivenessHandler)
	r.Get("/readyz", s.healthChecker.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pool", s.handlePoolState)
		r.Get("/pool/config", s.handlePoolConfig)
		r.Get("/pool/lp-price-history", s.handleLPPriceHistory)
		r.Get("/positions/{holder}", s.handlePositions)
		r.Get("/assets/{assetPath}/holders", s.handlePositionHolders)
		r.Get("/events", s.handleEvents)
		r.Get("/ledger/{holder}", s.handleLedgerHistory)
		r.Get("/pool/checkpoints", s.handleCheckpoints)
		r.Get("/status", s.handleStatus)
		r.Post("/submit/{eventType}", s.handleSubmit)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/integrity", s.handleVerifyIntegrity)
			r.Post("/projections/rebuild", s.handleRebuildProjections)
		})
	})

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// --- handlers ---

func (s *HTTPServer) handlePoolState(w http.ResponseWriter, r *http.Request) {
	resp, err := s.queryService.GetPoolState(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handlePoolConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.queryService.GetPoolConfig())
}

func (s *HTTPServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	holder, err := uuid.Parse(chi.URLParam(r, "holder"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	positions, err := s.queryService.GetPositions(r.Context(), holder)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"positions": positions})
}

func (s *HTTPServer) handlePositionHolders(w http.ResponseWriter, r *http.Request) {
	assetPath := chi.URLParam(r, "assetPath")
	limit := queryLimit(r, 100, 1000)

	holders, err := s.queryService.GetPositionHolders(r.Context(), assetPath, limit)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"holders": holders})
}

func (s *HTTPServer) handleLPPriceHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100, 1000)
	before := queryCursor(r)

	samples, err := s.queryService.GetLPPriceHistory(r.Context(), limit, before)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"samples": samples})
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100, 500)
	before := queryCursor(r)

	events, err := s.queryService.GetEvents(r.Context(), limit, before)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *HTTPServer) handleLedgerHistory(w http.ResponseWriter, r *http.Request) {
	holder, err := uuid.Parse(chi.URLParam(r, "holder"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := queryLimit(r, 100, 500)
	before := queryCursor(r)

	entries, err := s.queryService.GetLedgerHistory(r.Context(), holder, limit, before)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *HTTPServer) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	checkpoints, err := s.queryService.GetCheckpoints(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"checkpoints": checkpoints})
}

// handleSubmit accepts a wire-format event over HTTP, for tooling and manual
// injection. The NATS path is the primary ingest; both feed the same engine.
func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.eventChan == nil {
		s.writeError(w, http.StatusServiceUnavailable, errSubmitDisabled)
		return
	}

	eventType := chi.URLParam(r, "eventType")
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	evt, err := ingestion.ParseRawEvent(ingestion.RawEvent{Data: body}, eventType)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	select {
	case s.eventChan <- evt:
		s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"accepted":        true,
			"idempotency_key": evt.IdempotencyKey(),
		})
	case <-r.Context().Done():
		s.writeError(w, http.StatusServiceUnavailable, r.Context().Err())
	}
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.queryService.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), s.db); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
}

// --- helpers ---

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func queryCursor(r *http.Request) *int64 {
	raw := r.URL.Query().Get("before")
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
