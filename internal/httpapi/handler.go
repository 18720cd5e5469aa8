package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"bridgetopo/internal/db"
	"bridgetopo/internal/discoveryworker"
	"bridgetopo/internal/metrics"
	"bridgetopo/internal/sqlcgen"
)

type discoveryQueries interface {
	InsertDiscoveryRun(ctx context.Context, arg sqlcgen.InsertDiscoveryRunParams) (sqlcgen.DiscoveryRun, error)
	GetDiscoveryRun(ctx context.Context, id string) (sqlcgen.DiscoveryRun, error)
	ListDiscoveryRuns(ctx context.Context, arg sqlcgen.ListDiscoveryRunsParams) ([]sqlcgen.DiscoveryRun, error)
	ListDiscoveryRunLogs(ctx context.Context, arg sqlcgen.ListDiscoveryRunLogsParams) ([]sqlcgen.DiscoveryRunLog, error)
}

type linkQueries interface {
	ListBridgeBridgeLinks(ctx context.Context, domain string) ([]sqlcgen.BridgeBridgeLink, error)
	ListBridgeMacLinks(ctx context.Context, domain string) ([]sqlcgen.BridgeMacLink, error)
}

type Handler struct {
	log       zerolog.Logger
	pool      *db.Pool
	discovery discoveryQueries
	links     linkQueries
	registry  *discoveryworker.Registry
	metrics   *metrics.Metrics
}

// NewHandler wires the API. pool and m may be nil; database backed routes then
// answer 503. A nil registry gets an empty one.
func NewHandler(log zerolog.Logger, pool *db.Pool, reg *discoveryworker.Registry, m *metrics.Metrics) *Handler {
	h := &Handler{log: log, pool: pool, registry: reg, metrics: m}
	if q := pool.Queries(); q != nil {
		h.discovery = q
		h.links = q
	}
	if h.registry == nil {
		h.registry = discoveryworker.NewRegistry(log)
	}
	return h
}

// echoRequestID returns the request id to the caller.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	r.Handle("/metrics", h.metrics.Handler())

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Route("/domains", func(r chi.Router) {
				r.Get("/", h.handleListDomains)
				r.Route("/{domain}", func(r chi.Router) {
					r.Get("/", h.handleGetDomain)
					r.Get("/macs", h.handleDomainMacs)
					r.Get("/links", h.handleDomainLinks)
					r.Get("/links/stored", h.handleStoredLinks)
					r.Put("/root", h.handleSetRoot)
					r.Route("/bridges/{nodeID}", func(r chi.Router) {
						r.Post("/forwarding-table", h.handleSubmitForwardingTable)
						r.Post("/clear", h.handleClearBridge)
						r.Delete("/", h.handleRemoveBridge)
					})
				})
			})

			r.Route("/discovery", func(r chi.Router) {
				r.Route("/runs", func(r chi.Router) {
					r.Get("/", h.handleListDiscoveryRuns)
					r.Post("/", h.handleQueueDiscoveryRun)
					r.Get("/{id}", h.handleGetDiscoveryRun)
					r.Get("/{id}/logs", h.handleListDiscoveryRunLogs)
				})
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, path, ww.Status(), time.Since(start))

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.pool == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return
	}

	if err := h.pool.Ping(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}
