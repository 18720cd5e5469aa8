package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"bridgetopo/internal/sqlcgen"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 200
	defaultLogsLimit = 200
	maxLogsLimit     = 1000
)

type discoveryRun struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Scope       *string        `json:"scope,omitempty"`
	Stats       map[string]any `json:"stats,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	LastError   *string        `json:"last_error,omitempty"`
}

type discoveryRunPage struct {
	Runs   []discoveryRun `json:"runs"`
	Cursor *string        `json:"cursor,omitempty"`
}

type discoveryRunLog struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type discoveryRunCreate struct {
	Scope *string `json:"scope,omitempty"`
}

type storedBridgeLink struct {
	NodeID            int32     `json:"node_id"`
	BridgePort        int32     `json:"bridge_port"`
	IfIndex           int32     `json:"if_index"`
	IfName            *string   `json:"if_name,omitempty"`
	VLAN              *int32    `json:"vlan,omitempty"`
	DesignatedNodeID  int32     `json:"designated_node_id"`
	DesignatedPort    int32     `json:"designated_port"`
	DesignatedIfIndex int32     `json:"designated_if_index"`
	DesignatedIfName  *string   `json:"designated_if_name,omitempty"`
	DesignatedVLAN    *int32    `json:"designated_vlan,omitempty"`
	PollTime          time.Time `json:"poll_time"`
	SeenAt            time.Time `json:"seen_at"`
}

type storedMacLink struct {
	NodeID     int32     `json:"node_id"`
	BridgePort int32     `json:"bridge_port"`
	IfIndex    int32     `json:"if_index"`
	IfName     *string   `json:"if_name,omitempty"`
	VLAN       *int32    `json:"vlan,omitempty"`
	MAC        string    `json:"mac"`
	PollTime   time.Time `json:"poll_time"`
	SeenAt     time.Time `json:"seen_at"`
}

func toDiscoveryRun(r sqlcgen.DiscoveryRun) discoveryRun {
	return discoveryRun{
		ID:          r.ID,
		Status:      r.Status,
		Scope:       r.Scope,
		Stats:       r.Stats,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		LastError:   r.LastError,
	}
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02"
	}
	return false
}

// runIDParam rejects malformed run ids before they reach the database.
func (h *Handler) runIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "discovery run id is not a valid uuid", map[string]any{"id": id})
		return id, false
	}
	return id, true
}

func (h *Handler) ensureDiscovery(w http.ResponseWriter) bool {
	if h.discovery == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return false
	}
	return true
}

func (h *Handler) ensureLinks(w http.ResponseWriter) bool {
	if h.links == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return false
	}
	return true
}

func parseLimit(raw string, def, max int) (int32, bool) {
	if raw == "" {
		return int32(def), true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > max {
		n = max
	}
	return int32(n), true
}

// runCursor is "<started_at RFC3339Nano>|<id>" of the last run on a page.
func runCursor(r sqlcgen.DiscoveryRun) string {
	return r.StartedAt.UTC().Format(time.RFC3339Nano) + "|" + r.ID
}

func parseRunCursor(raw string) (time.Time, string, bool) {
	ts, id, ok := strings.Cut(raw, "|")
	if !ok || id == "" {
		return time.Time{}, "", false
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return time.Time{}, "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return time.Time{}, "", false
	}
	return t, id, true
}

func (h *Handler) handleListDiscoveryRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(r.URL.Query().Get("limit"), defaultRunsLimit, maxRunsLimit)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer", nil)
		return
	}
	params := sqlcgen.ListDiscoveryRunsParams{Limit: limit}
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		ts, id, ok := parseRunCursor(raw)
		if !ok {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor", map[string]any{"cursor": raw})
			return
		}
		params.BeforeStartedAt = &ts
		params.BeforeID = &id
	}

	if !h.ensureDiscovery(w) {
		return
	}

	rows, err := h.discovery.ListDiscoveryRuns(r.Context(), params)
	if err != nil {
		h.log.Error().Err(err).Msg("list discovery runs failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list discovery runs", nil)
		return
	}

	resp := discoveryRunPage{Runs: make([]discoveryRun, 0, len(rows))}
	for _, row := range rows {
		resp.Runs = append(resp.Runs, toDiscoveryRun(row))
	}
	if len(rows) == int(limit) {
		c := runCursor(rows[len(rows)-1])
		resp.Cursor = &c
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleQueueDiscoveryRun(w http.ResponseWriter, r *http.Request) {
	var req discoveryRunCreate
	if r.ContentLength != 0 {
		if err := decodeJSONStrict(r, &req); err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
			return
		}
	}
	if req.Scope != nil {
		s := strings.TrimSpace(*req.Scope)
		if s == "" {
			req.Scope = nil
		} else {
			req.Scope = &s
		}
	}

	if !h.ensureDiscovery(w) {
		return
	}

	row, err := h.discovery.InsertDiscoveryRun(r.Context(), sqlcgen.InsertDiscoveryRunParams{
		Status: "queued",
		Scope:  req.Scope,
		Stats:  map[string]any{"trigger": "api"},
	})
	if err != nil {
		h.log.Error().Err(err).Msg("queue discovery run failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to queue discovery run", nil)
		return
	}

	h.writeJSON(w, http.StatusAccepted, toDiscoveryRun(row))
}

func (h *Handler) handleGetDiscoveryRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runIDParam(w, r)
	if !ok {
		return
	}
	if !h.ensureDiscovery(w) {
		return
	}

	row, err := h.discovery.GetDiscoveryRun(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			h.writeError(w, http.StatusNotFound, "not_found", "discovery run not found", map[string]any{"id": id})
		case isInvalidUUID(err):
			h.writeError(w, http.StatusBadRequest, "invalid_id", "discovery run id is not a valid uuid", map[string]any{"id": id})
		default:
			h.log.Error().Err(err).Str("id", id).Msg("get discovery run failed")
			h.writeError(w, http.StatusInternalServerError, "db_error", "failed to fetch discovery run", nil)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, toDiscoveryRun(row))
}

func (h *Handler) handleListDiscoveryRunLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runIDParam(w, r)
	if !ok {
		return
	}
	limit, ok := parseLimit(r.URL.Query().Get("limit"), defaultLogsLimit, maxLogsLimit)
	if !ok {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer", nil)
		return
	}
	if !h.ensureDiscovery(w) {
		return
	}

	rows, err := h.discovery.ListDiscoveryRunLogs(r.Context(), sqlcgen.ListDiscoveryRunLogsParams{RunID: id, Limit: limit})
	if err != nil {
		if isInvalidUUID(err) {
			h.writeError(w, http.StatusBadRequest, "invalid_id", "discovery run id is not a valid uuid", map[string]any{"id": id})
			return
		}
		h.log.Error().Err(err).Str("id", id).Msg("list discovery run logs failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list discovery run logs", nil)
		return
	}

	resp := make([]discoveryRunLog, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, discoveryRunLog{ID: row.ID, Level: row.Level, Message: row.Message, CreatedAt: row.CreatedAt})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleStoredLinks returns the links persisted by the last successful
// discovery run of the domain.
func (h *Handler) handleStoredLinks(w http.ResponseWriter, r *http.Request) {
	domain := strings.TrimSpace(chi.URLParam(r, "domain"))
	if !h.ensureLinks(w) {
		return
	}

	bridgeRows, err := h.links.ListBridgeBridgeLinks(r.Context(), domain)
	if err != nil {
		h.log.Error().Err(err).Str("domain", domain).Msg("list bridge links failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list bridge links", nil)
		return
	}
	macRows, err := h.links.ListBridgeMacLinks(r.Context(), domain)
	if err != nil {
		h.log.Error().Err(err).Str("domain", domain).Msg("list mac links failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list mac links", nil)
		return
	}

	bridgeLinks := make([]storedBridgeLink, 0, len(bridgeRows))
	for _, l := range bridgeRows {
		bridgeLinks = append(bridgeLinks, storedBridgeLink{
			NodeID:            l.NodeID,
			BridgePort:        l.BridgePort,
			IfIndex:           l.IfIndex,
			IfName:            l.IfName,
			VLAN:              l.Vlan,
			DesignatedNodeID:  l.DesignatedNodeID,
			DesignatedPort:    l.DesignatedPort,
			DesignatedIfIndex: l.DesignatedIfIndex,
			DesignatedIfName:  l.DesignatedIfName,
			DesignatedVLAN:    l.DesignatedVlan,
			PollTime:          l.PollTime,
			SeenAt:            l.SeenAt,
		})
	}
	macLinks := make([]storedMacLink, 0, len(macRows))
	for _, l := range macRows {
		macLinks = append(macLinks, storedMacLink{
			NodeID:     l.NodeID,
			BridgePort: l.BridgePort,
			IfIndex:    l.IfIndex,
			IfName:     l.IfName,
			VLAN:       l.Vlan,
			MAC:        l.Mac,
			PollTime:   l.PollTime,
			SeenAt:     l.SeenAt,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"domain":       domain,
		"bridge_links": bridgeLinks,
		"mac_links":    macLinks,
	})
}
