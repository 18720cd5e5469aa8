package vlan

import (
	"context"
	"errors"

	"bridgetopo/internal/enrichment/snmp"
)

// Walker is the part of the SNMP client the collector needs.
type Walker interface {
	WalkIntTable(ctx context.Context, target snmp.Target, baseOID string) (map[int]int, error)
}

// Collector reads port VLAN ids from the Q-BRIDGE MIB.
type Collector struct {
	snmp Walker
}

func NewCollector(client Walker) *Collector {
	return &Collector{snmp: client}
}

const oidDot1qPvid = "1.3.6.1.2.1.17.7.1.4.5.1.1"

// CollectPVIDByBridgePort maps dot1dBasePort to its PVID. Ports without a PVID
// are left out.
func (c *Collector) CollectPVIDByBridgePort(ctx context.Context, target snmp.Target) (map[int]int, error) {
	if c == nil || c.snmp == nil {
		return nil, errors.New("snmp client not configured")
	}
	basePortToPVID, err := c.snmp.WalkIntTable(ctx, target, oidDot1qPvid)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(basePortToPVID))
	for basePort, pvid := range basePortToPVID {
		if basePort <= 0 || pvid <= 0 {
			continue
		}
		out[basePort] = pvid
	}
	return out, nil
}
