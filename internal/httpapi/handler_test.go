package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"bridgetopo/internal/discoveryworker"
	"bridgetopo/internal/sqlcgen"
	"bridgetopo/internal/topology"
)

type fakeDiscoveryQueries struct {
	insertFn   func(ctx context.Context, arg sqlcgen.InsertDiscoveryRunParams) (sqlcgen.DiscoveryRun, error)
	getFn      func(ctx context.Context, id string) (sqlcgen.DiscoveryRun, error)
	listFn     func(ctx context.Context, arg sqlcgen.ListDiscoveryRunsParams) ([]sqlcgen.DiscoveryRun, error)
	listLogsFn func(ctx context.Context, arg sqlcgen.ListDiscoveryRunLogsParams) ([]sqlcgen.DiscoveryRunLog, error)
}

func (f fakeDiscoveryQueries) InsertDiscoveryRun(ctx context.Context, arg sqlcgen.InsertDiscoveryRunParams) (sqlcgen.DiscoveryRun, error) {
	if f.insertFn == nil {
		return sqlcgen.DiscoveryRun{}, nil
	}
	return f.insertFn(ctx, arg)
}

func (f fakeDiscoveryQueries) GetDiscoveryRun(ctx context.Context, id string) (sqlcgen.DiscoveryRun, error) {
	if f.getFn == nil {
		return sqlcgen.DiscoveryRun{}, nil
	}
	return f.getFn(ctx, id)
}

func (f fakeDiscoveryQueries) ListDiscoveryRuns(ctx context.Context, arg sqlcgen.ListDiscoveryRunsParams) ([]sqlcgen.DiscoveryRun, error) {
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(ctx, arg)
}

func (f fakeDiscoveryQueries) ListDiscoveryRunLogs(ctx context.Context, arg sqlcgen.ListDiscoveryRunLogsParams) ([]sqlcgen.DiscoveryRunLog, error) {
	if f.listLogsFn == nil {
		return nil, nil
	}
	return f.listLogsFn(ctx, arg)
}

type fakeLinkQueries struct {
	bridgeLinks []sqlcgen.BridgeBridgeLink
	macLinks    []sqlcgen.BridgeMacLink
	err         error
}

func (f fakeLinkQueries) ListBridgeBridgeLinks(ctx context.Context, domain string) ([]sqlcgen.BridgeBridgeLink, error) {
	return f.bridgeLinks, f.err
}

func (f fakeLinkQueries) ListBridgeMacLinks(ctx context.Context, domain string) ([]sqlcgen.BridgeMacLink, error) {
	return f.macLinks, f.err
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode body as json: %v\nbody=%s", err, rr.Body.String())
	}
	return v
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rr)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error envelope, got: %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}

func serve(h *Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, req)
	return rr
}

func newTestHandler() *Handler {
	log := NewLogger("debug")
	return NewHandler(log, nil, discoveryworker.NewRegistry(log), nil)
}

const (
	tableBridge1 = `{
	  "polled_at": "2024-05-01T12:00:00Z",
	  "identifiers": ["0a:00:00:00:00:01"],
	  "ports": [{"bridge_port": 2, "if_index": 10002, "if_name": "Gi0/2"}],
	  "entries": [
	    {"bridge_port": 1, "mac": "0b:00:00:00:00:01"},
	    {"bridge_port": 2, "mac": "0a:00:00:00:00:02"}
	  ]
	}`
	tableBridge2 = `{
	  "polled_at": "2024-05-01T12:00:00Z",
	  "identifiers": ["0a:00:00:00:00:02"],
	  "entries": [
	    {"bridge_port": 1, "mac": "0b:00:00:00:00:02"},
	    {"bridge_port": 2, "mac": "0a:00:00:00:00:01"}
	  ]
	}`
)

// twoBridgeLab submits the tables of two bridges that see each other on port 2.
func twoBridgeLab(t *testing.T) *Handler {
	t.Helper()
	h := newTestHandler()
	for _, tc := range []struct{ path, body string }{
		{"/api/v1/domains/lab/bridges/1/forwarding-table", tableBridge1},
		{"/api/v1/domains/lab/bridges/2/forwarding-table", tableBridge2},
	} {
		rr := serve(h, http.MethodPost, tc.path, tc.body)
		if rr.Code != http.StatusOK {
			t.Fatalf("submit %s: expected 200, got %d: %s", tc.path, rr.Code, rr.Body.String())
		}
	}
	return h
}

func TestHealthz_SetsRequestID(t *testing.T) {
	h := newTestHandler()
	rr := serve(h, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected json content-type, got %q", got)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestHealthz_EchoesIncomingRequestID(t *testing.T) {
	h := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "trace-42")
	rr := httptest.NewRecorder()
	h.Router().ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Request-Id"); got != "trace-42" {
		t.Fatalf("expected incoming request id to be echoed, got %q", got)
	}
}

func TestReadyz_WithoutDatabase(t *testing.T) {
	h := newTestHandler()
	rr := serve(h, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "db_unavailable" {
		t.Fatalf("expected db_unavailable, got %v", code)
	}
}

func TestMetrics_Unavailable(t *testing.T) {
	h := newTestHandler()
	rr := serve(h, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestDomains_ListEmpty(t *testing.T) {
	h := newTestHandler()
	rr := serve(h, http.MethodGet, "/api/v1/domains", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := strings.TrimSpace(rr.Body.String()); body != "[]" {
		t.Fatalf("expected empty list, got %s", body)
	}
}

func TestDomains_GetUnknown(t *testing.T) {
	h := newTestHandler()
	rr := serve(h, http.MethodGet, "/api/v1/domains/nowhere", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != "not_found" {
		t.Fatalf("expected not_found, got %v", code)
	}
}

func TestDomains_SubmitBuildsTopology(t *testing.T) {
	h := twoBridgeLab(t)

	rr := serve(h, http.MethodGet, "/api/v1/domains/lab", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var view domainView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode domain: %v", err)
	}
	if view.Name != "lab" || view.RootID != 1 {
		t.Fatalf("unexpected domain header: %+v", view)
	}
	if len(view.Bridges) != 2 || len(view.Segments) != 3 {
		t.Fatalf("expected 2 bridges and 3 segments, got %d and %d", len(view.Bridges), len(view.Segments))
	}
	if !view.Bridges[0].IsRoot || view.Bridges[0].RootPort != nil {
		t.Fatalf("expected bridge 1 to be root without root port: %+v", view.Bridges[0])
	}
	if rp := view.Bridges[1].RootPort; rp == nil || rp.BridgePort != 2 {
		t.Fatalf("expected bridge 2 root port 2, got %+v", rp)
	}

	rr = serve(h, http.MethodGet, "/api/v1/domains", "")
	var summaries []domainSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode domains: %v", err)
	}
	if len(summaries) != 1 || summaries[0].Name != "lab" || summaries[0].Segments != 3 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}

	rr = serve(h, http.MethodGet, "/api/v1/domains/lab/macs", "")
	body := decodeBody(t, rr)
	macs, _ := body["macs"].([]any)
	if len(macs) != 2 || macs[0] != "0b0000000001" || macs[1] != "0b0000000002" {
		t.Fatalf("unexpected macs: %v", body["macs"])
	}
}

func TestDomains_Links(t *testing.T) {
	h := twoBridgeLab(t)

	rr := serve(h, http.MethodGet, "/api/v1/domains/lab/links", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var links linksView
	if err := json.Unmarshal(rr.Body.Bytes(), &links); err != nil {
		t.Fatalf("decode links: %v", err)
	}
	if len(links.BridgeLinks) != 1 || len(links.MacLinks) != 2 {
		t.Fatalf("expected 1 bridge link and 2 mac links, got %+v", links)
	}
	bl := links.BridgeLinks[0]
	if bl.Port.NodeID != 2 || bl.Designated.NodeID != 1 || bl.Designated.BridgePort != 2 {
		t.Fatalf("unexpected bridge link: %+v", bl)
	}
	if bl.Designated.IfName != "Gi0/2" || bl.Designated.IfIndex != 10002 {
		t.Fatalf("expected designated port metadata, got %+v", bl.Designated)
	}
	if !bl.PollTime.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected poll time %v", bl.PollTime)
	}
}

func TestDomains_SubmitValidation(t *testing.T) {
	h := newTestHandler()

	cases := []struct {
		name string
		path string
		body string
		code string
	}{
		{"bad node id", "/api/v1/domains/lab/bridges/abc/forwarding-table", `{"entries":[]}`, "invalid_id"},
		{"zero node id", "/api/v1/domains/lab/bridges/0/forwarding-table", `{"entries":[]}`, "invalid_id"},
		{"unknown field", "/api/v1/domains/lab/bridges/1/forwarding-table", `{"entries":[],"nope":true}`, "validation_failed"},
		{"bad mac", "/api/v1/domains/lab/bridges/1/forwarding-table", `{"entries":[{"bridge_port":1,"mac":"zz"}]}`, "validation_failed"},
		{"bad port", "/api/v1/domains/lab/bridges/1/forwarding-table", `{"entries":[{"bridge_port":0,"mac":"0b0000000001"}]}`, "validation_failed"},
	}
	for _, tc := range cases {
		rr := serve(h, http.MethodPost, tc.path, tc.body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", tc.name, rr.Code, rr.Body.String())
		}
		if code := errorCode(t, rr); code != tc.code {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.code, code)
		}
	}
	if names := h.registry.Names(); len(names) != 0 {
		t.Fatalf("rejected submissions must not create domains, got %v", names)
	}
}

func TestDomains_SubmitToOtherDomainConflicts(t *testing.T) {
	h := twoBridgeLab(t)

	rr := serve(h, http.MethodPost, "/api/v1/domains/other/bridges/1/forwarding-table", tableBridge1)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	if code := errorCode(t, rr); code != "bridge_in_other_domain" {
		t.Fatalf("expected bridge_in_other_domain, got %v", code)
	}
}

func TestDomains_SetRoot(t *testing.T) {
	h := twoBridgeLab(t)

	rr := serve(h, http.MethodPut, "/api/v1/domains/lab/root", `{"node_id":2}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var view domainView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode domain: %v", err)
	}
	if view.RootID != 2 {
		t.Fatalf("expected root 2, got %d", view.RootID)
	}

	rr = serve(h, http.MethodPut, "/api/v1/domains/lab/root", `{"node_id":99}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDomains_ClearAndRemoveBridge(t *testing.T) {
	h := twoBridgeLab(t)

	rr := serve(h, http.MethodPost, "/api/v1/domains/lab/bridges/2/clear", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var view domainView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode domain: %v", err)
	}
	if len(view.Bridges) != 2 || view.Bridges[1].HasTable {
		t.Fatalf("expected bridge 2 to stay without a table: %+v", view.Bridges)
	}
	for _, seg := range view.Segments {
		for _, p := range seg.Ports {
			if p.NodeID == 2 {
				t.Fatalf("cleared bridge still on a segment: %+v", seg)
			}
		}
	}

	rr = serve(h, http.MethodDelete, "/api/v1/domains/lab/bridges/2", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if _, ok := h.registry.DomainOf(2); ok {
		t.Fatalf("expected bridge 2 to be forgotten")
	}

	rr = serve(h, http.MethodDelete, "/api/v1/domains/lab/bridges/2", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = serve(h, http.MethodPost, "/api/v1/domains/lab/bridges/2/clear", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWriteTopologyError(t *testing.T) {
	h := newTestHandler()

	rr := httptest.NewRecorder()
	h.writeTopologyError(rr, &topology.TopologyError{Op: "hierarchy setup", Msg: "bridge not in domain", NodeID: 4}, nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "topology_error" {
		t.Fatalf("expected topology_error, got %v", code)
	}

	rr = httptest.NewRecorder()
	_, err := topology.NormalizeMAC("nope")
	h.writeTopologyError(rr, err, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.writeTopologyError(rr, errors.New("boom"), nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestDiscoveryRuns_WithoutDatabase(t *testing.T) {
	h := newTestHandler()
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/discovery/runs"},
		{http.MethodPost, "/api/v1/discovery/runs"},
		{http.MethodGet, "/api/v1/discovery/runs/00000000-0000-0000-0000-000000000001"},
		{http.MethodGet, "/api/v1/discovery/runs/00000000-0000-0000-0000-000000000001/logs"},
		{http.MethodGet, "/api/v1/domains/lab/links/stored"},
	} {
		rr := serve(h, tc.method, tc.path, "")
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s %s: expected 503, got %d", tc.method, tc.path, rr.Code)
		}
		if code := errorCode(t, rr); code != "db_unavailable" {
			t.Fatalf("%s %s: expected db_unavailable, got %v", tc.method, tc.path, code)
		}
	}
}

func TestDiscoveryRuns_Queue(t *testing.T) {
	var got []sqlcgen.InsertDiscoveryRunParams
	h := newTestHandler()
	h.discovery = fakeDiscoveryQueries{
		insertFn: func(ctx context.Context, arg sqlcgen.InsertDiscoveryRunParams) (sqlcgen.DiscoveryRun, error) {
			got = append(got, arg)
			return sqlcgen.DiscoveryRun{ID: "00000000-0000-0000-0000-000000000010", Status: arg.Status, Scope: arg.Scope, Stats: arg.Stats}, nil
		},
	}

	rr := serve(h, http.MethodPost, "/api/v1/discovery/runs", `{"scope":" lab "}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["status"] != "queued" || body["scope"] != "lab" {
		t.Fatalf("unexpected run: %v", body)
	}

	rr = serve(h, http.MethodPost, "/api/v1/discovery/runs", "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 inserts, got %d", len(got))
	}
	if got[0].Scope == nil || *got[0].Scope != "lab" {
		t.Fatalf("expected trimmed scope, got %v", got[0].Scope)
	}
	if got[1].Scope != nil {
		t.Fatalf("expected unscoped run, got %v", *got[1].Scope)
	}
	if got[1].Stats["trigger"] != "api" {
		t.Fatalf("expected api trigger, got %v", got[1].Stats)
	}

	rr = serve(h, http.MethodPost, "/api/v1/discovery/runs", `{"scope":"lab","extra":1}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestDiscoveryRuns_Get(t *testing.T) {
	h := newTestHandler()
	h.discovery = fakeDiscoveryQueries{
		getFn: func(ctx context.Context, id string) (sqlcgen.DiscoveryRun, error) {
			switch id {
			case "00000000-0000-0000-0000-000000000022":
				return sqlcgen.DiscoveryRun{}, &pgconn.PgError{Code: "22P02", Message: "invalid input syntax for type uuid"}
			case "00000000-0000-0000-0000-000000000020":
				return sqlcgen.DiscoveryRun{ID: id, Status: "succeeded"}, nil
			default:
				return sqlcgen.DiscoveryRun{}, pgx.ErrNoRows
			}
		},
	}

	rr := serve(h, http.MethodGet, "/api/v1/discovery/runs/00000000-0000-0000-0000-000000000020", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["status"] != "succeeded" {
		t.Fatalf("unexpected run: %v", body)
	}

	rr = serve(h, http.MethodGet, "/api/v1/discovery/runs/00000000-0000-0000-0000-000000000021", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	for _, id := range []string{"not-a-uuid", "00000000-0000-0000-0000-000000000022"} {
		rr = serve(h, http.MethodGet, "/api/v1/discovery/runs/"+id, "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", id, rr.Code)
		}
		if code := errorCode(t, rr); code != "invalid_id" {
			t.Fatalf("%s: expected invalid_id, got %v", id, code)
		}
	}
}

func TestDiscoveryRuns_ListPaginates(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var params []sqlcgen.ListDiscoveryRunsParams
	h := newTestHandler()
	h.discovery = fakeDiscoveryQueries{
		listFn: func(ctx context.Context, arg sqlcgen.ListDiscoveryRunsParams) ([]sqlcgen.DiscoveryRun, error) {
			params = append(params, arg)
			return []sqlcgen.DiscoveryRun{{ID: "00000000-0000-0000-0000-000000000030", Status: "failed", StartedAt: started}}, nil
		},
	}

	rr := serve(h, http.MethodGet, "/api/v1/discovery/runs?limit=1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var page discoveryRunPage
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Runs) != 1 || page.Cursor == nil {
		t.Fatalf("expected one run and a cursor, got %+v", page)
	}

	rr = serve(h, http.MethodGet, "/api/v1/discovery/runs?limit=1&cursor="+url.QueryEscape(*page.Cursor), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(params) != 2 || params[1].BeforeStartedAt == nil || !params[1].BeforeStartedAt.Equal(started) {
		t.Fatalf("expected cursor to carry started_at, got %+v", params)
	}
	if params[1].BeforeID == nil || *params[1].BeforeID != "00000000-0000-0000-0000-000000000030" {
		t.Fatalf("expected cursor to carry id, got %+v", params[1])
	}

	for _, q := range []string{"limit=0", "limit=x", "cursor=garbage"} {
		rr = serve(h, http.MethodGet, "/api/v1/discovery/runs?"+q, "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", q, rr.Code)
		}
	}
}

func TestDiscoveryRuns_Logs(t *testing.T) {
	h := newTestHandler()
	h.discovery = fakeDiscoveryQueries{
		listLogsFn: func(ctx context.Context, arg sqlcgen.ListDiscoveryRunLogsParams) ([]sqlcgen.DiscoveryRunLog, error) {
			if arg.Limit != maxLogsLimit {
				t.Fatalf("expected limit clamped to %d, got %d", maxLogsLimit, arg.Limit)
			}
			return []sqlcgen.DiscoveryRunLog{
				{ID: 1, RunID: arg.RunID, Level: "info", Message: "discovery run started"},
				{ID: 2, RunID: arg.RunID, Level: "warn", Message: "node 3: collect: timeout"},
			}, nil
		},
	}

	rr := serve(h, http.MethodGet, "/api/v1/discovery/runs/00000000-0000-0000-0000-000000000040/logs?limit=5000", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var logs []discoveryRunLog
	if err := json.Unmarshal(rr.Body.Bytes(), &logs); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(logs) != 2 || logs[1].Level != "warn" {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestStoredLinks(t *testing.T) {
	ifName := "Gi0/2"
	h := newTestHandler()
	h.links = fakeLinkQueries{
		bridgeLinks: []sqlcgen.BridgeBridgeLink{{Domain: "lab", NodeID: 2, BridgePort: 2, DesignatedNodeID: 1, DesignatedPort: 2, DesignatedIfName: &ifName}},
		macLinks:    []sqlcgen.BridgeMacLink{{Domain: "lab", NodeID: 1, BridgePort: 1, Mac: "0b:00:00:00:00:01"}},
	}

	rr := serve(h, http.MethodGet, "/api/v1/domains/lab/links/stored", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	bridgeLinks, _ := body["bridge_links"].([]any)
	macLinks, _ := body["mac_links"].([]any)
	if len(bridgeLinks) != 1 || len(macLinks) != 1 {
		t.Fatalf("unexpected stored links: %v", body)
	}
	if bl := bridgeLinks[0].(map[string]any); bl["designated_if_name"] != "Gi0/2" {
		t.Fatalf("unexpected bridge link: %v", bl)
	}

	h.links = fakeLinkQueries{err: errors.New("connection reset")}
	rr = serve(h, http.MethodGet, "/api/v1/domains/lab/links/stored", "")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
