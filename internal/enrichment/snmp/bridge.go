package snmp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gosnmp/gosnmp"
)

const (
	oidDot1dBaseBridgeAddress = "1.3.6.1.2.1.17.1.1.0"
	oidDot1dBasePortIfIndex   = "1.3.6.1.2.1.17.1.4.1.2"
	oidDot1dTpFdbPort         = "1.3.6.1.2.1.17.4.3.1.2"
	oidDot1dTpFdbStatus       = "1.3.6.1.2.1.17.4.3.1.3"
	oidDot1qTpFdbPort         = "1.3.6.1.2.1.17.7.1.2.2.1.2"
	oidDot1qTpFdbStatus       = "1.3.6.1.2.1.17.7.1.2.2.1.3"
)

// dot1dTpFdbStatus / dot1qTpFdbStatus values. FdbStatusUnknown marks rows read
// while the status column could not be walked.
const (
	FdbStatusUnknown = 0
	FdbStatusOther   = 1
	FdbStatusInvalid = 2
	FdbStatusLearned = 3
	FdbStatusSelf    = 4
	FdbStatusMgmt    = 5
)

// FdbEntry is one row of a bridge forwarding database.
type FdbEntry struct {
	VLAN       int // 0 for dot1d rows
	MAC        string
	BridgePort int
	Status     int
}

// GetBridgeAddress returns dot1dBaseBridgeAddress.
func (c *Client) GetBridgeAddress(ctx context.Context, target Target) (string, error) {
	if c == nil {
		return "", errors.New("snmp client is nil")
	}
	s, err := c.connect(ctx, target)
	if err != nil {
		return "", err
	}
	defer s.Conn.Close()

	pkt, err := s.Get([]string{oidDot1dBaseBridgeAddress})
	if err != nil {
		return "", fmt.Errorf("snmp get bridge address on %s: %w", target.Address, err)
	}
	for _, v := range pkt.Variables {
		if m, ok := pduMAC(v); ok {
			return m, nil
		}
	}
	return "", nil
}

// WalkBasePortIfIndex maps dot1dBasePort to ifIndex.
func (c *Client) WalkBasePortIfIndex(ctx context.Context, target Target) (map[int]int, error) {
	return c.WalkIntTable(ctx, target, oidDot1dBasePortIfIndex)
}

// WalkForwardingTable reads the Q-BRIDGE forwarding database and falls back to
// the BRIDGE-MIB one when the agent has no Q-BRIDGE rows. Rows without a
// bridge port are skipped.
func (c *Client) WalkForwardingTable(ctx context.Context, target Target) ([]FdbEntry, error) {
	entries, err := c.walkFdb(ctx, target, oidDot1qTpFdbPort, oidDot1qTpFdbStatus, true)
	if err == nil && len(entries) > 0 {
		return entries, nil
	}
	return c.walkFdb(ctx, target, oidDot1dTpFdbPort, oidDot1dTpFdbStatus, false)
}

func (c *Client) walkFdb(ctx context.Context, target Target, portOID, statusOID string, qbridge bool) ([]FdbEntry, error) {
	ports, err := c.walk(ctx, target, portOID)
	if err != nil {
		return nil, err
	}
	if len(ports) == 0 {
		return nil, nil
	}
	statuses, statusErr := c.walk(ctx, target, statusOID)
	return fdbEntries(ports, statuses, statusErr != nil, portOID, statusOID, qbridge), nil
}

// fdbEntries joins the port and status columns of a forwarding database. Rows
// without a status are learned, or unknown when the status column was lost.
func fdbEntries(ports, statuses []gosnmp.SnmpPDU, statusLost bool, portOID, statusOID string, qbridge bool) []FdbEntry {
	type rowKey struct {
		vlan int
		mac  string
	}
	status := make(map[rowKey]int, len(statuses))
	for _, p := range statuses {
		vlan, mac, ok := parseFdbIndex(p.Name, statusOID, qbridge)
		if !ok {
			continue
		}
		if v, ok := pduInt(p); ok {
			status[rowKey{vlan, mac}] = v
		}
	}

	out := make([]FdbEntry, 0, len(ports))
	for _, p := range ports {
		e, ok := fdbEntry(p, portOID, qbridge)
		if !ok {
			continue
		}
		switch st, ok := status[rowKey{e.VLAN, e.MAC}]; {
		case ok:
			e.Status = st
		case statusLost:
			e.Status = FdbStatusUnknown
		default:
			e.Status = FdbStatusLearned
		}
		out = append(out, e)
	}
	return out
}

func fdbEntry(p gosnmp.SnmpPDU, baseOID string, qbridge bool) (FdbEntry, bool) {
	vlan, mac, ok := parseFdbIndex(p.Name, baseOID, qbridge)
	if !ok {
		return FdbEntry{}, false
	}
	bridgePort, ok := pduInt(p)
	if !ok || bridgePort <= 0 {
		return FdbEntry{}, false
	}
	return FdbEntry{VLAN: vlan, MAC: mac, BridgePort: bridgePort}, true
}

// parseFdbIndex splits a forwarding database row OID into its VLAN (Q-BRIDGE
// only) and the six MAC octets that close the index.
func parseFdbIndex(oid, baseOID string, qbridge bool) (int, string, bool) {
	oid = strings.TrimPrefix(strings.TrimSpace(oid), ".")
	baseOID = strings.TrimPrefix(baseOID, ".")
	suffix, ok := strings.CutPrefix(oid, baseOID+".")
	if !ok {
		return 0, "", false
	}
	parts := strings.Split(suffix, ".")
	want := 6
	if qbridge {
		want = 7
	}
	if len(parts) != want {
		return 0, "", false
	}

	vlan := 0
	if qbridge {
		n, err := strconv.Atoi(parts[0])
		if err != nil || n < 0 {
			return 0, "", false
		}
		vlan = n
		parts = parts[1:]
	}

	octets := make([]string, 0, 6)
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return 0, "", false
		}
		octets = append(octets, fmt.Sprintf("%02x", n))
	}
	return vlan, strings.Join(octets, ":"), true
}
