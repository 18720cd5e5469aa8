package discoveryworker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bridgetopo/internal/enrichment/snmp"
	"bridgetopo/internal/enrichment/vlan"
	"bridgetopo/internal/topology"
)

// Bridge is a monitored switch.
type Bridge struct {
	NodeID      int
	Address     string
	Domain      string
	Identifiers []string
}

// Collector fetches the current forwarding table of a bridge.
type Collector interface {
	Collect(ctx context.Context, bridge Bridge) (*topology.ForwardingTable, error)
}

type bridgeMIB interface {
	GetBridgeAddress(ctx context.Context, target snmp.Target) (string, error)
	WalkBasePortIfIndex(ctx context.Context, target snmp.Target) (map[int]int, error)
	WalkIfNames(ctx context.Context, target snmp.Target) (map[int]string, error)
	WalkForwardingTable(ctx context.Context, target snmp.Target) ([]snmp.FdbEntry, error)
}

type pvidSource interface {
	CollectPVIDByBridgePort(ctx context.Context, target snmp.Target) (map[int]int, error)
}

// SNMPCollector builds forwarding tables from the BRIDGE and Q-BRIDGE MIBs.
type SNMPCollector struct {
	log   zerolog.Logger
	mib   bridgeMIB
	pvids pvidSource
	now   func() time.Time
}

func NewSNMPCollector(log zerolog.Logger, cfg snmp.Config) *SNMPCollector {
	client := snmp.NewClient(cfg)
	return &SNMPCollector{log: log, mib: client, pvids: vlan.NewCollector(client), now: time.Now}
}

// Collect walks the forwarding database of bridge. Only the database walk is
// required; port names, PVIDs and the base bridge address are best effort.
func (c *SNMPCollector) Collect(ctx context.Context, bridge Bridge) (*topology.ForwardingTable, error) {
	target := snmp.Target{NodeID: bridge.NodeID, Address: bridge.Address}

	entries, err := c.mib.WalkForwardingTable(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("walk forwarding table of node %d: %w", bridge.NodeID, err)
	}

	table := topology.NewForwardingTable(bridge.NodeID, c.now())
	for _, id := range bridge.Identifiers {
		if err := table.AddIdentifier(id); err != nil {
			return nil, fmt.Errorf("node %d identifier: %w", bridge.NodeID, err)
		}
	}
	log := c.log.With().Int("node_id", bridge.NodeID).Str("address", bridge.Address).Logger()

	addr, err := c.mib.GetBridgeAddress(ctx, target)
	if err != nil {
		log.Debug().Err(err).Msg("base bridge address unavailable")
	} else if addr != "" {
		if err := table.AddIdentifier(addr); err != nil {
			log.Debug().Err(err).Str("mac", addr).Msg("base bridge address ignored")
		}
	}

	ifIndexes, err := c.mib.WalkBasePortIfIndex(ctx, target)
	if err != nil {
		log.Debug().Err(err).Msg("base port ifIndex walk failed")
	}
	ifNames, err := c.mib.WalkIfNames(ctx, target)
	if err != nil {
		log.Debug().Err(err).Msg("ifName walk failed")
	}
	var pvids map[int]int
	if c.pvids != nil {
		if pvids, err = c.pvids.CollectPVIDByBridgePort(ctx, target); err != nil {
			log.Debug().Err(err).Msg("port vlan walk failed")
		}
	}
	for basePort, ifIndex := range ifIndexes {
		if basePort <= 0 {
			continue
		}
		if err := table.SetPort(topology.BridgePort{
			BridgePort: basePort,
			IfIndex:    ifIndex,
			IfName:     ifNames[ifIndex],
			VLAN:       pvids[basePort],
		}); err != nil {
			return nil, err
		}
	}

	unknown := 0
	for _, e := range entries {
		switch e.Status {
		case snmp.FdbStatusUnknown:
			unknown++
			if err := table.Add(e.BridgePort, e.MAC); err != nil {
				return nil, fmt.Errorf("node %d fdb entry: %w", bridge.NodeID, err)
			}
		case snmp.FdbStatusSelf:
			if err := table.AddIdentifier(e.MAC); err != nil {
				return nil, fmt.Errorf("node %d self entry: %w", bridge.NodeID, err)
			}
		case snmp.FdbStatusLearned:
			if err := table.Add(e.BridgePort, e.MAC); err != nil {
				return nil, fmt.Errorf("node %d fdb entry: %w", bridge.NodeID, err)
			}
		}
	}
	if unknown > 0 {
		log.Debug().Int("entries", unknown).Msg("forwarding database status unavailable, entries taken as learned")
	}
	return table, nil
}
