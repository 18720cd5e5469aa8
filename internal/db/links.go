package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"bridgetopo/internal/sqlcgen"
	"bridgetopo/internal/topology"
)

// LinkWriteStats summarizes one ReplaceDomainLinks call.
type LinkWriteStats struct {
	BridgeLinks        int
	MacLinks           int
	BridgeLinksRemoved int64
	MacLinksRemoved    int64
}

// ReplaceDomainLinks makes the stored links of domain equal to the given
// snapshot: every link is upserted with seenAt and rows of the domain not seen
// at seenAt are deleted. Everything runs in one transaction.
func (p *Pool) ReplaceDomainLinks(ctx context.Context, domain string, bridgeLinks []topology.BridgeBridgeLink, macLinks []topology.BridgeMacLink, seenAt time.Time) (LinkWriteStats, error) {
	if p == nil || p.pool == nil {
		return LinkWriteStats{}, errors.New("database not configured")
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return LinkWriteStats{}, fmt.Errorf("begin link transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stats, err := writeDomainLinks(ctx, sqlcgen.New(p.pool).WithTx(tx), domain, bridgeLinks, macLinks, seenAt)
	if err != nil {
		return LinkWriteStats{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return LinkWriteStats{}, fmt.Errorf("commit link transaction: %w", err)
	}
	return stats, nil
}

// linkWriter is the subset of *sqlcgen.Queries used to persist links.
type linkWriter interface {
	UpsertBridgeBridgeLink(ctx context.Context, arg sqlcgen.UpsertBridgeBridgeLinkParams) error
	UpsertBridgeMacLink(ctx context.Context, arg sqlcgen.UpsertBridgeMacLinkParams) error
	DeleteBridgeBridgeLinksOlderThan(ctx context.Context, arg sqlcgen.DeleteLinksOlderThanParams) (int64, error)
	DeleteBridgeMacLinksOlderThan(ctx context.Context, arg sqlcgen.DeleteLinksOlderThanParams) (int64, error)
}

func writeDomainLinks(ctx context.Context, q linkWriter, domain string, bridgeLinks []topology.BridgeBridgeLink, macLinks []topology.BridgeMacLink, seenAt time.Time) (LinkWriteStats, error) {
	var stats LinkWriteStats
	for _, l := range bridgeLinks {
		if err := q.UpsertBridgeBridgeLink(ctx, bridgeBridgeLinkParams(domain, l, seenAt)); err != nil {
			return LinkWriteStats{}, fmt.Errorf("upsert bridge link %d:%d: %w", l.NodeID, l.BridgePort, err)
		}
		stats.BridgeLinks++
	}
	for _, l := range macLinks {
		if err := q.UpsertBridgeMacLink(ctx, bridgeMacLinkParams(domain, l, seenAt)); err != nil {
			return LinkWriteStats{}, fmt.Errorf("upsert mac link %s on %d:%d: %w", l.MAC, l.NodeID, l.BridgePort, err)
		}
		stats.MacLinks++
	}

	older := sqlcgen.DeleteLinksOlderThanParams{Domain: domain, Before: seenAt}
	n, err := q.DeleteBridgeBridgeLinksOlderThan(ctx, older)
	if err != nil {
		return LinkWriteStats{}, fmt.Errorf("delete stale bridge links: %w", err)
	}
	stats.BridgeLinksRemoved = n
	n, err = q.DeleteBridgeMacLinksOlderThan(ctx, older)
	if err != nil {
		return LinkWriteStats{}, fmt.Errorf("delete stale mac links: %w", err)
	}
	stats.MacLinksRemoved = n
	return stats, nil
}

func bridgeBridgeLinkParams(domain string, l topology.BridgeBridgeLink, seenAt time.Time) sqlcgen.UpsertBridgeBridgeLinkParams {
	return sqlcgen.UpsertBridgeBridgeLinkParams{
		Domain:            domain,
		NodeID:            int32(l.NodeID),
		BridgePort:        int32(l.BridgePort),
		IfIndex:           int32(l.IfIndex),
		IfName:            optString(l.IfName),
		Vlan:              optVLAN(l.VLAN),
		DesignatedNodeID:  int32(l.DesignatedNodeID),
		DesignatedPort:    int32(l.DesignatedPort),
		DesignatedIfIndex: int32(l.DesignatedIfIndex),
		DesignatedIfName:  optString(l.DesignatedIfName),
		DesignatedVlan:    optVLAN(l.DesignatedVLAN),
		CreateTime:        l.CreateTime,
		PollTime:          l.PollTime,
		SeenAt:            seenAt,
	}
}

func bridgeMacLinkParams(domain string, l topology.BridgeMacLink, seenAt time.Time) sqlcgen.UpsertBridgeMacLinkParams {
	return sqlcgen.UpsertBridgeMacLinkParams{
		Domain:     domain,
		NodeID:     int32(l.NodeID),
		BridgePort: int32(l.BridgePort),
		IfIndex:    int32(l.IfIndex),
		IfName:     optString(l.IfName),
		Vlan:       optVLAN(l.VLAN),
		Mac:        l.MAC,
		CreateTime: l.CreateTime,
		PollTime:   l.PollTime,
		SeenAt:     seenAt,
	}
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optVLAN(v int) *int32 {
	if v <= 0 {
		return nil
	}
	n := int32(v)
	return &n
}
