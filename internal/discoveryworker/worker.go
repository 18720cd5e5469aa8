package discoveryworker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"bridgetopo/internal/db"
	"bridgetopo/internal/enrichment/snmp"
	"bridgetopo/internal/metrics"
	"bridgetopo/internal/sqlcgen"
	"bridgetopo/internal/topology"
)

// Queries is the minimal DB interface the discovery worker needs.
// *sqlcgen.Queries satisfies this.
type Queries interface {
	ClaimNextDiscoveryRun(ctx context.Context, stats map[string]any) (sqlcgen.DiscoveryRun, error)
	InsertDiscoveryRun(ctx context.Context, arg sqlcgen.InsertDiscoveryRunParams) (sqlcgen.DiscoveryRun, error)
	CountActiveDiscoveryRuns(ctx context.Context, scope *string) (int64, error)
	UpdateDiscoveryRun(ctx context.Context, arg sqlcgen.UpdateDiscoveryRunParams) (sqlcgen.DiscoveryRun, error)
	InsertDiscoveryRunLog(ctx context.Context, arg sqlcgen.InsertDiscoveryRunLogParams) error
}

// Store persists the links of a broadcast domain. *db.Pool satisfies this.
type Store interface {
	ReplaceDomainLinks(ctx context.Context, domain string, bridgeLinks []topology.BridgeBridgeLink, macLinks []topology.BridgeMacLink, seenAt time.Time) (db.LinkWriteStats, error)
}

type Worker struct {
	log              zerolog.Logger
	q                Queries
	store            Store
	collector        Collector
	registry         *Registry
	bridges          []Bridge
	pollInterval     time.Duration
	scheduleInterval time.Duration
	maxRuntime       time.Duration
	workers          int
	metrics          *metrics.Metrics

	lastScheduled time.Time
}

type Options struct {
	PollInterval time.Duration
	// ScheduleInterval queues a run for every domain when no run is queued or
	// running. Zero disables scheduling; runs are then only queued over the API.
	ScheduleInterval time.Duration
	MaxRuntime       time.Duration
	Workers          int
	Bridges          []Bridge
	SNMP             snmp.Config
	Collector        Collector
	Store            Store
}

func New(log zerolog.Logger, q Queries, reg *Registry, opts Options, m *metrics.Metrics) *Worker {
	pi := opts.PollInterval
	if pi <= 0 {
		pi = 400 * time.Millisecond
	}
	si := opts.ScheduleInterval
	if si < 0 {
		si = 0
	}
	mr := opts.MaxRuntime
	if mr <= 0 {
		mr = 2 * time.Minute
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 8
	}
	collector := opts.Collector
	if collector == nil {
		collector = NewSNMPCollector(log, opts.SNMP)
	}
	if reg == nil {
		reg = NewRegistry(log)
	}

	return &Worker{
		log:              log,
		q:                q,
		store:            opts.Store,
		collector:        collector,
		registry:         reg,
		bridges:          append([]Bridge(nil), opts.Bridges...),
		pollInterval:     pi,
		scheduleInterval: si,
		maxRuntime:       mr,
		workers:          workers,
		metrics:          m,
	}
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.q == nil {
		return
	}

	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()

	var consecutiveFailures int
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := w.schedule(ctx, time.Now()); err != nil {
			consecutiveFailures++
			timer.Reset(backoffDuration(w.pollInterval, consecutiveFailures))
			continue
		}

		for {
			processed, err := w.runOnce(ctx)
			if err != nil {
				consecutiveFailures++
				break
			}
			consecutiveFailures = 0
			if !processed {
				break
			}
		}

		timer.Reset(backoffDuration(w.pollInterval, consecutiveFailures))
	}
}

func backoffDuration(base time.Duration, failures int) time.Duration {
	if base <= 0 {
		base = 400 * time.Millisecond
	}
	if failures <= 0 {
		return base
	}

	if failures > 6 {
		failures = 6
	}
	d := base * time.Duration(1<<failures)
	if d > 10*time.Second {
		return 10 * time.Second
	}
	return d
}

// schedule queues a run for every domain once per schedule interval, unless a
// run covering every domain is already queued or running.
func (w *Worker) schedule(ctx context.Context, now time.Time) error {
	if w.scheduleInterval <= 0 || len(w.bridges) == 0 {
		return nil
	}
	if !w.lastScheduled.IsZero() && now.Sub(w.lastScheduled) < w.scheduleInterval {
		return nil
	}
	active, err := w.q.CountActiveDiscoveryRuns(ctx, nil)
	if err != nil {
		w.log.Error().Err(err).Msg("discovery worker failed to count active runs")
		return err
	}
	w.lastScheduled = now
	if active > 0 {
		return nil
	}
	run, err := w.q.InsertDiscoveryRun(ctx, sqlcgen.InsertDiscoveryRunParams{
		Status: "queued",
		Stats:  map[string]any{"trigger": "schedule"},
	})
	if err != nil {
		w.log.Error().Err(err).Msg("discovery worker failed to queue scheduled run")
		return err
	}
	w.log.Debug().Str("run_id", run.ID).Msg("scheduled discovery run queued")
	return nil
}

type collectResult struct {
	bridge Bridge
	table  *topology.ForwardingTable
	err    error
}

type domainResult struct {
	collected       int
	collectFailed   int
	calculateFailed int
	bridgeLinks     int
	macLinks        int
	persistErr      error
}

func (w *Worker) runOnce(ctx context.Context) (bool, error) {
	run, err := w.q.ClaimNextDiscoveryRun(ctx, map[string]any{
		"stage": "running",
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		w.log.Error().Err(err).Msg("discovery worker failed to claim next run")
		return false, err
	}

	start := time.Now()
	status := "failed"
	defer func() {
		w.metrics.ObserveDiscoveryRun(status, time.Since(start))
	}()

	scope := scopeString(run.Scope)
	w.log.Info().Str("run_id", run.ID).Str("scope", scope).Msg("discovery run claimed")

	execCtx, cancel := context.WithTimeout(ctx, w.maxRuntime)
	defer cancel()

	w.runLog(execCtx, run.ID, "info", "discovery run started")

	targets := w.targets(run.Scope)
	if len(targets) == 0 {
		msg := "no bridges configured"
		if run.Scope != nil {
			msg = fmt.Sprintf("no bridges configured for domain %q", scope)
		}
		_ = w.failRun(execCtx, run.ID, msg, map[string]any{"scope": scope})
		return true, errors.New(msg)
	}
	w.runLog(execCtx, run.ID, "info", fmt.Sprintf("bridges: %d (workers=%d)", len(targets), w.workers))

	results := w.collectAll(execCtx, targets)

	byDomain := make(map[string][]collectResult)
	for _, r := range results {
		name := normalizeDomain(r.bridge.Domain)
		byDomain[name] = append(byDomain[name], r)
	}
	names := make([]string, 0, len(byDomain))
	for name := range byDomain {
		names = append(names, name)
	}
	sort.Strings(names)

	var totals domainResult
	domainStats := make(map[string]any, len(names))
	for _, name := range names {
		res := w.updateDomain(execCtx, run.ID, name, byDomain[name])
		totals.collected += res.collected
		totals.collectFailed += res.collectFailed
		totals.calculateFailed += res.calculateFailed
		totals.bridgeLinks += res.bridgeLinks
		totals.macLinks += res.macLinks
		domainStats[name] = map[string]any{
			"bridges_collected":   res.collected,
			"bridges_failed":      res.collectFailed,
			"calculations_failed": res.calculateFailed,
			"bridge_links":        res.bridgeLinks,
			"mac_links":           res.macLinks,
		}
		if res.persistErr != nil && totals.persistErr == nil {
			totals.persistErr = res.persistErr
		}
	}

	if totals.collected == 0 {
		msg := "no forwarding table collected"
		_ = w.failRun(execCtx, run.ID, msg, map[string]any{
			"scope":          scope,
			"bridges":        len(targets),
			"bridges_failed": totals.collectFailed,
		})
		return true, errors.New(msg)
	}
	if totals.persistErr != nil {
		_ = w.failRun(execCtx, run.ID, totals.persistErr.Error(), map[string]any{
			"scope":   scope,
			"domains": domainStats,
		})
		return true, totals.persistErr
	}

	completedAt := time.Now()
	stats := map[string]any{
		"stage":               "completed",
		"scope":               scope,
		"bridges":             len(targets),
		"bridges_collected":   totals.collected,
		"bridges_failed":      totals.collectFailed,
		"calculations_failed": totals.calculateFailed,
		"bridge_links":        totals.bridgeLinks,
		"mac_links":           totals.macLinks,
		"domains":             domainStats,
		"runtime_budget_ms":   int(w.maxRuntime.Milliseconds()),
	}
	if _, err := w.q.UpdateDiscoveryRun(execCtx, sqlcgen.UpdateDiscoveryRunParams{
		ID:          run.ID,
		Status:      "succeeded",
		Stats:       stats,
		CompletedAt: &completedAt,
		LastError:   nil,
	}); err != nil {
		w.log.Error().Err(err).Str("run_id", run.ID).Msg("failed to mark discovery run succeeded")
		_ = w.failRun(execCtx, run.ID, err.Error(), map[string]any{"scope": scope})
		return true, err
	}
	status = "succeeded"

	w.runLog(execCtx, run.ID, "info", "discovery run completed")
	return true, nil
}

func (w *Worker) runLog(ctx context.Context, runID, level, msg string) {
	if err := w.q.InsertDiscoveryRunLog(ctx, sqlcgen.InsertDiscoveryRunLogParams{
		RunID:   runID,
		Level:   level,
		Message: msg,
	}); err != nil {
		w.log.Warn().Err(err).Str("run_id", runID).Msg("failed to write discovery run log")
	}
}

func scopeString(scope *string) string {
	if scope == nil {
		return ""
	}
	return strings.TrimSpace(*scope)
}

// targets returns the configured bridges in scope, ordered by node id. An empty
// scope selects every bridge.
func (w *Worker) targets(scope *string) []Bridge {
	want := scopeString(scope)
	out := make([]Bridge, 0, len(w.bridges))
	for _, b := range w.bridges {
		if want != "" && normalizeDomain(b.Domain) != want {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

func (w *Worker) collectAll(ctx context.Context, targets []Bridge) []collectResult {
	results := make([]collectResult, len(targets))
	jobs := make(chan int)
	wg := sync.WaitGroup{}
	var failed int32

	worker := func() {
		defer wg.Done()
		for i := range jobs {
			b := targets[i]
			if ctx.Err() != nil {
				results[i] = collectResult{bridge: b, err: ctx.Err()}
				atomic.AddInt32(&failed, 1)
				continue
			}
			table, err := w.collector.Collect(ctx, b)
			if err != nil {
				atomic.AddInt32(&failed, 1)
			}
			results[i] = collectResult{bridge: b, table: table, err: err}
			w.metrics.IncBridgePoll(normalizeDomain(b.Domain), err == nil)
		}
	}

	n := w.workers
	if n > len(targets) {
		n = len(targets)
	}
	wg.Add(n)
	for i := 0; i < n; i++ {
		go worker()
	}
	for i := range targets {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if nf := atomic.LoadInt32(&failed); nf > 0 {
		w.log.Warn().Int32("failed", nf).Int("bridges", len(targets)).Msg("some forwarding tables could not be collected")
	}
	return results
}

// updateDomain stores the forwarding table of every collected bridge of the
// domain, recomputes the domain once all of them are in and persists the
// resulting links.
func (w *Worker) updateDomain(ctx context.Context, runID, name string, results []collectResult) domainResult {
	var res domainResult
	log := w.log.With().Str("run_id", runID).Str("domain", name).Logger()

	var last *NodeDiscovery
	for _, r := range results {
		nodeLog := log.With().Int("node_id", r.bridge.NodeID).Logger()
		if r.err != nil {
			res.collectFailed++
			nodeLog.Warn().Err(r.err).Msg("forwarding table collection failed")
			w.runLog(ctx, runID, "warn", fmt.Sprintf("node %d: collect: %v", r.bridge.NodeID, r.err))
			continue
		}
		res.collected++

		var task *NodeDiscovery
		_, err := w.registry.Update(r.bridge.NodeID, name, r.bridge.Identifiers, func(d *topology.BroadcastDomain) error {
			task = NewNodeDiscovery(w.log, r.bridge.NodeID, name, d, w.metrics)
			if err := task.AddUpdatedBFT(r.bridge.NodeID, r.table); err != nil {
				return err
			}
			return task.Flush()
		})
		if err != nil {
			res.calculateFailed++
			nodeLog.Warn().Err(err).Msg("forwarding table rejected")
			w.runLog(ctx, runID, "error", fmt.Sprintf("node %d: store: %v", r.bridge.NodeID, err))
			continue
		}
		w.runLog(ctx, runID, "info", fmt.Sprintf("node %d: forwarding table entries=%d", r.bridge.NodeID, r.table.Len()))
		last = task
	}

	// A single recompute sees every fresh table of the run.
	if last != nil {
		if err := last.Calculate(); err != nil {
			res.calculateFailed++
			log.Warn().Err(err).Msg("domain calculation failed")
			w.runLog(ctx, runID, "error", fmt.Sprintf("domain %s: calculate: %v", name, err))
		}
	}

	domain, ok := w.registry.Lookup(name)
	if !ok {
		return res
	}
	bridgeLinks, err := domain.BridgeBridgeLinks()
	if err != nil {
		res.persistErr = fmt.Errorf("domain %q links: %w", name, err)
		return res
	}
	macLinks := domain.BridgeMacLinks()
	res.bridgeLinks = len(bridgeLinks)
	res.macLinks = len(macLinks)

	if w.store == nil {
		return res
	}
	written, err := w.store.ReplaceDomainLinks(ctx, name, bridgeLinks, macLinks, time.Now())
	if err != nil {
		res.persistErr = fmt.Errorf("persist domain %q: %w", name, err)
		log.Error().Err(err).Msg("failed to persist domain links")
		return res
	}
	log.Debug().
		Int("bridge_links", written.BridgeLinks).
		Int("mac_links", written.MacLinks).
		Int64("bridge_links_removed", written.BridgeLinksRemoved).
		Int64("mac_links_removed", written.MacLinksRemoved).
		Msg("domain links persisted")
	return res
}

func (w *Worker) failRun(ctx context.Context, runID string, errMsg string, stats map[string]any) error {
	if stats == nil {
		stats = map[string]any{}
	}
	stats["stage"] = "failed"
	stats["runtime_budget_ms"] = int(w.maxRuntime.Milliseconds())

	// A canceled run context must not leave the run stuck in "running".
	if ctx == nil || ctx.Err() != nil {
		bg, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		ctx = bg
	}

	completedAt := time.Now()
	lastErr := errMsg
	_, err := w.q.UpdateDiscoveryRun(ctx, sqlcgen.UpdateDiscoveryRunParams{
		ID:          runID,
		Status:      "failed",
		Stats:       stats,
		CompletedAt: &completedAt,
		LastError:   &lastErr,
	})
	if err != nil {
		w.log.Error().Err(err).Str("run_id", runID).Msg("failed to mark discovery run failed")
		return err
	}

	_ = w.q.InsertDiscoveryRunLog(ctx, sqlcgen.InsertDiscoveryRunLogParams{
		RunID:   runID,
		Level:   "error",
		Message: "discovery run failed: " + errMsg,
	})
	return nil
}
