package sqlcgen

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

const discoveryRunColumns = `id, status, scope, stats, started_at, completed_at, last_error`

func scanDiscoveryRun(row pgx.Row) (DiscoveryRun, error) {
	var i DiscoveryRun
	err := row.Scan(
		&i.ID,
		&i.Status,
		&i.Scope,
		&i.Stats,
		&i.StartedAt,
		&i.CompletedAt,
		&i.LastError,
	)
	return i, err
}

const insertDiscoveryRun = `-- name: InsertDiscoveryRun :one
INSERT INTO discovery_runs (status, scope, stats)
VALUES ($1, $2, COALESCE($3, '{}'::jsonb))
RETURNING ` + discoveryRunColumns

type InsertDiscoveryRunParams struct {
	Status string
	Scope  *string // broadcast domain name; nil means every domain
	Stats  map[string]any
}

func (q *Queries) InsertDiscoveryRun(ctx context.Context, arg InsertDiscoveryRunParams) (DiscoveryRun, error) {
	return scanDiscoveryRun(q.db.QueryRow(ctx, insertDiscoveryRun, arg.Status, arg.Scope, arg.Stats))
}

const claimNextDiscoveryRun = `-- name: ClaimNextDiscoveryRun :one
WITH next AS (
  SELECT id
  FROM discovery_runs
  WHERE status = 'queued'
  ORDER BY started_at ASC
  LIMIT 1
  FOR UPDATE SKIP LOCKED
)
UPDATE discovery_runs dr
SET status = 'running',
    stats = COALESCE($1, dr.stats),
    started_at = now(),
    completed_at = NULL,
    last_error = NULL
FROM next
WHERE dr.id = next.id
RETURNING dr.id, dr.status, dr.scope, dr.stats, dr.started_at, dr.completed_at, dr.last_error
`

func (q *Queries) ClaimNextDiscoveryRun(ctx context.Context, stats map[string]any) (DiscoveryRun, error) {
	return scanDiscoveryRun(q.db.QueryRow(ctx, claimNextDiscoveryRun, stats))
}

const countActiveDiscoveryRuns = `-- name: CountActiveDiscoveryRuns :one
SELECT count(*)
FROM discovery_runs
WHERE status IN ('queued', 'running')
  AND scope IS NOT DISTINCT FROM $1
`

func (q *Queries) CountActiveDiscoveryRuns(ctx context.Context, scope *string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countActiveDiscoveryRuns, scope).Scan(&n)
	return n, err
}

const updateDiscoveryRun = `-- name: UpdateDiscoveryRun :one
UPDATE discovery_runs
SET status = $2,
    stats = COALESCE($3, stats),
    completed_at = $4,
    last_error = $5
WHERE id = $1
RETURNING ` + discoveryRunColumns

type UpdateDiscoveryRunParams struct {
	ID          string
	Status      string
	Stats       map[string]any
	CompletedAt *time.Time
	LastError   *string
}

func (q *Queries) UpdateDiscoveryRun(ctx context.Context, arg UpdateDiscoveryRunParams) (DiscoveryRun, error) {
	return scanDiscoveryRun(q.db.QueryRow(ctx, updateDiscoveryRun, arg.ID, arg.Status, arg.Stats, arg.CompletedAt, arg.LastError))
}

const getDiscoveryRun = `-- name: GetDiscoveryRun :one
SELECT ` + discoveryRunColumns + `
FROM discovery_runs
WHERE id = $1
`

func (q *Queries) GetDiscoveryRun(ctx context.Context, id string) (DiscoveryRun, error) {
	return scanDiscoveryRun(q.db.QueryRow(ctx, getDiscoveryRun, id))
}

const listDiscoveryRuns = `-- name: ListDiscoveryRuns :many
SELECT ` + discoveryRunColumns + `
FROM discovery_runs
WHERE
	($1::timestamptz IS NULL OR (started_at < $1 OR (started_at = $1 AND id < $2)))
ORDER BY started_at DESC, id DESC
LIMIT $3
`

type ListDiscoveryRunsParams struct {
	BeforeStartedAt *time.Time
	BeforeID        *string
	Limit           int32
}

func (q *Queries) ListDiscoveryRuns(ctx context.Context, arg ListDiscoveryRunsParams) ([]DiscoveryRun, error) {
	rows, err := q.db.Query(ctx, listDiscoveryRuns, arg.BeforeStartedAt, arg.BeforeID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DiscoveryRun
	for rows.Next() {
		i, err := scanDiscoveryRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertDiscoveryRunLog = `-- name: InsertDiscoveryRunLog :exec
INSERT INTO discovery_run_logs (run_id, level, message)
VALUES ($1, $2, $3)
`

type InsertDiscoveryRunLogParams struct {
	RunID   string
	Level   string
	Message string
}

func (q *Queries) InsertDiscoveryRunLog(ctx context.Context, arg InsertDiscoveryRunLogParams) error {
	_, err := q.db.Exec(ctx, insertDiscoveryRunLog, arg.RunID, arg.Level, arg.Message)
	return err
}

const listDiscoveryRunLogs = `-- name: ListDiscoveryRunLogs :many
SELECT id, run_id, level, message, created_at
FROM discovery_run_logs
WHERE run_id = $1
ORDER BY created_at ASC, id ASC
LIMIT $2
`

type ListDiscoveryRunLogsParams struct {
	RunID string
	Limit int32
}

func (q *Queries) ListDiscoveryRunLogs(ctx context.Context, arg ListDiscoveryRunLogsParams) ([]DiscoveryRunLog, error) {
	rows, err := q.db.Query(ctx, listDiscoveryRunLogs, arg.RunID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DiscoveryRunLog
	for rows.Next() {
		var i DiscoveryRunLog
		if err := rows.Scan(&i.ID, &i.RunID, &i.Level, &i.Message, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
