package topology

import (
	"encoding/hex"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"
)

// NormalizeMAC returns mac as 12 lowercase hex digits. Colon, dash, dot and
// bare hex forms are accepted.
func NormalizeMAC(mac string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(mac))
	if len(s) == 12 {
		if _, err := hex.DecodeString(s); err == nil {
			return s, nil
		}
	}
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, mac)
	}
	return hex.EncodeToString(hw), nil
}

type macSet map[string]struct{}

func newMacSet(macs ...string) macSet {
	s := make(macSet, len(macs))
	for _, m := range macs {
		s[m] = struct{}{}
	}
	return s
}

func (s macSet) has(mac string) bool {
	_, ok := s[mac]
	return ok
}

func (s macSet) sorted() []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (s macSet) clone() macSet {
	c := make(macSet, len(s))
	for m := range s {
		c[m] = struct{}{}
	}
	return c
}

// ForwardingTable is one bridge's forwarding table as read in a single poll:
// bridge port number to the MAC addresses learned behind it. Tables are handed to
// a domain by value; the domain keeps its own copy.
type ForwardingTable struct {
	nodeID      int
	polled      time.Time
	ports       map[int]BridgePort
	macs        map[int]macSet
	identifiers macSet
}

func NewForwardingTable(nodeID int, polled time.Time) *ForwardingTable {
	return &ForwardingTable{
		nodeID:      nodeID,
		polled:      polled,
		ports:       make(map[int]BridgePort),
		macs:        make(map[int]macSet),
		identifiers: make(macSet),
	}
}

func (t *ForwardingTable) NodeID() int { return t.nodeID }
func (t *ForwardingTable) PollTime() time.Time { return t.polled }

// SetPort records interface metadata for a bridge port. Zero timestamps default
// to the table's poll time.
func (t *ForwardingTable) SetPort(port BridgePort) error {
	if port.BridgePort <= 0 {
		return fmt.Errorf("bridge port must be positive, got %d", port.BridgePort)
	}
	port.NodeID = t.nodeID
	if port.CreateTime.IsZero() {
		port.CreateTime = t.polled
	}
	if port.PollTime.IsZero() {
		port.PollTime = t.polled
	}
	t.ports[port.BridgePort] = port
	return nil
}

// Add records mac as learned behind bridgePort.
func (t *ForwardingTable) Add(bridgePort int, mac string) error {
	if bridgePort <= 0 {
		return fmt.Errorf("bridge port must be positive, got %d", bridgePort)
	}
	m, err := NormalizeMAC(mac)
	if err != nil {
		return err
	}
	if _, ok := t.ports[bridgePort]; !ok {
		t.ports[bridgePort] = BridgePort{
			NodeID:     t.nodeID,
			BridgePort: bridgePort,
			CreateTime: t.polled,
			PollTime:   t.polled,
		}
	}
	set, ok := t.macs[bridgePort]
	if !ok {
		set = make(macSet)
		t.macs[bridgePort] = set
	}
	set[m] = struct{}{}
	return nil
}

// AddIdentifier records one of the bridge's own addresses (base bridge address or
// a self entry of the table).
func (t *ForwardingTable) AddIdentifier(mac string) error {
	m, err := NormalizeMAC(mac)
	if err != nil {
		return err
	}
	t.identifiers[m] = struct{}{}
	return nil
}

// Ports returns the known bridge port numbers in ascending order.
func (t *ForwardingTable) Ports() []int {
	out := make([]int, 0, len(t.ports))
	for p := range t.ports {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

func (t *ForwardingTable) Port(bridgePort int) (BridgePort, bool) {
	p, ok := t.ports[bridgePort]
	return p, ok
}

func (t *ForwardingTable) Macs(bridgePort int) []string {
	return t.macs[bridgePort].sorted()
}

func (t *ForwardingTable) Identifiers() []string {
	return t.identifiers.sorted()
}

// Len returns the number of port/MAC entries.
func (t *ForwardingTable) Len() int {
	n := 0
	for _, set := range t.macs {
		n += len(set)
	}
	return n
}

// entries maps every MAC to the single port it was learned on. A MAC seen on
// more than one port of the same bridge is ambiguous and left out.
func (t *ForwardingTable) entries() map[string]int {
	out := make(map[string]int, t.Len())
	dup := make(macSet)
	for port, set := range t.macs {
		for m := range set {
			if prev, ok := out[m]; ok && prev != port {
				dup[m] = struct{}{}
				continue
			}
			out[m] = port
		}
	}
	for m := range dup {
		delete(out, m)
	}
	return out
}

func (t *ForwardingTable) clone() *ForwardingTable {
	c := NewForwardingTable(t.nodeID, t.polled)
	for p, bp := range t.ports {
		c.ports[p] = bp
	}
	for p, set := range t.macs {
		c.macs[p] = set.clone()
	}
	c.identifiers = t.identifiers.clone()
	return c
}
