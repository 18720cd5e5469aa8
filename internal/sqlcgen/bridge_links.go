package sqlcgen

import (
	"context"
	"time"
)

const upsertBridgeBridgeLink = `-- name: UpsertBridgeBridgeLink :exec
INSERT INTO bridge_bridge_links (
  domain,
  node_id,
  bridge_port,
  if_index,
  if_name,
  vlan,
  designated_node_id,
  designated_port,
  designated_if_index,
  designated_if_name,
  designated_vlan,
  create_time,
  poll_time,
  seen_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (domain, node_id, bridge_port) DO UPDATE
SET if_index = EXCLUDED.if_index,
    if_name = EXCLUDED.if_name,
    vlan = EXCLUDED.vlan,
    designated_node_id = EXCLUDED.designated_node_id,
    designated_port = EXCLUDED.designated_port,
    designated_if_index = EXCLUDED.designated_if_index,
    designated_if_name = EXCLUDED.designated_if_name,
    designated_vlan = EXCLUDED.designated_vlan,
    poll_time = EXCLUDED.poll_time,
    seen_at = EXCLUDED.seen_at
`

type UpsertBridgeBridgeLinkParams struct {
	Domain            string
	NodeID            int32
	BridgePort        int32
	IfIndex           int32
	IfName            *string
	Vlan              *int32
	DesignatedNodeID  int32
	DesignatedPort    int32
	DesignatedIfIndex int32
	DesignatedIfName  *string
	DesignatedVlan    *int32
	CreateTime        time.Time
	PollTime          time.Time
	SeenAt            time.Time
}

func (q *Queries) UpsertBridgeBridgeLink(ctx context.Context, arg UpsertBridgeBridgeLinkParams) error {
	_, err := q.db.Exec(ctx, upsertBridgeBridgeLink,
		arg.Domain,
		arg.NodeID,
		arg.BridgePort,
		arg.IfIndex,
		arg.IfName,
		arg.Vlan,
		arg.DesignatedNodeID,
		arg.DesignatedPort,
		arg.DesignatedIfIndex,
		arg.DesignatedIfName,
		arg.DesignatedVlan,
		arg.CreateTime,
		arg.PollTime,
		arg.SeenAt,
	)
	return err
}

const upsertBridgeMacLink = `-- name: UpsertBridgeMacLink :exec
INSERT INTO bridge_mac_links (
  domain,
  node_id,
  bridge_port,
  if_index,
  if_name,
  vlan,
  mac,
  create_time,
  poll_time,
  seen_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7::macaddr, $8, $9, $10)
ON CONFLICT (domain, node_id, bridge_port, mac) DO UPDATE
SET if_index = EXCLUDED.if_index,
    if_name = EXCLUDED.if_name,
    vlan = EXCLUDED.vlan,
    poll_time = EXCLUDED.poll_time,
    seen_at = EXCLUDED.seen_at
`

type UpsertBridgeMacLinkParams struct {
	Domain     string
	NodeID     int32
	BridgePort int32
	IfIndex    int32
	IfName     *string
	Vlan       *int32
	Mac        string
	CreateTime time.Time
	PollTime   time.Time
	SeenAt     time.Time
}

func (q *Queries) UpsertBridgeMacLink(ctx context.Context, arg UpsertBridgeMacLinkParams) error {
	_, err := q.db.Exec(ctx, upsertBridgeMacLink,
		arg.Domain,
		arg.NodeID,
		arg.BridgePort,
		arg.IfIndex,
		arg.IfName,
		arg.Vlan,
		arg.Mac,
		arg.CreateTime,
		arg.PollTime,
		arg.SeenAt,
	)
	return err
}

const deleteBridgeBridgeLinksOlderThan = `-- name: DeleteBridgeBridgeLinksOlderThan :execrows
DELETE FROM bridge_bridge_links
WHERE domain = $1 AND seen_at < $2
`

type DeleteLinksOlderThanParams struct {
	Domain string
	Before time.Time
}

func (q *Queries) DeleteBridgeBridgeLinksOlderThan(ctx context.Context, arg DeleteLinksOlderThanParams) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteBridgeBridgeLinksOlderThan, arg.Domain, arg.Before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const deleteBridgeMacLinksOlderThan = `-- name: DeleteBridgeMacLinksOlderThan :execrows
DELETE FROM bridge_mac_links
WHERE domain = $1 AND seen_at < $2
`

func (q *Queries) DeleteBridgeMacLinksOlderThan(ctx context.Context, arg DeleteLinksOlderThanParams) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteBridgeMacLinksOlderThan, arg.Domain, arg.Before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const listBridgeBridgeLinks = `-- name: ListBridgeBridgeLinks :many
SELECT domain, node_id, bridge_port, if_index, if_name, vlan,
       designated_node_id, designated_port, designated_if_index, designated_if_name, designated_vlan,
       create_time, poll_time, seen_at
FROM bridge_bridge_links
WHERE domain = $1
ORDER BY node_id ASC, bridge_port ASC
`

func (q *Queries) ListBridgeBridgeLinks(ctx context.Context, domain string) ([]BridgeBridgeLink, error) {
	rows, err := q.db.Query(ctx, listBridgeBridgeLinks, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BridgeBridgeLink
	for rows.Next() {
		var i BridgeBridgeLink
		if err := rows.Scan(
			&i.Domain,
			&i.NodeID,
			&i.BridgePort,
			&i.IfIndex,
			&i.IfName,
			&i.Vlan,
			&i.DesignatedNodeID,
			&i.DesignatedPort,
			&i.DesignatedIfIndex,
			&i.DesignatedIfName,
			&i.DesignatedVlan,
			&i.CreateTime,
			&i.PollTime,
			&i.SeenAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listBridgeMacLinks = `-- name: ListBridgeMacLinks :many
SELECT domain, node_id, bridge_port, if_index, if_name, vlan, mac::text,
       create_time, poll_time, seen_at
FROM bridge_mac_links
WHERE domain = $1
ORDER BY mac ASC, node_id ASC, bridge_port ASC
`

func (q *Queries) ListBridgeMacLinks(ctx context.Context, domain string) ([]BridgeMacLink, error) {
	rows, err := q.db.Query(ctx, listBridgeMacLinks, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BridgeMacLink
	for rows.Next() {
		var i BridgeMacLink
		if err := rows.Scan(
			&i.Domain,
			&i.NodeID,
			&i.BridgePort,
			&i.IfIndex,
			&i.IfName,
			&i.Vlan,
			&i.Mac,
			&i.CreateTime,
			&i.PollTime,
			&i.SeenAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
