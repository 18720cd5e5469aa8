package topology

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// BroadcastDomain is one layer-2 island: its bridges, the shared segments that
// partition their ports and MACs, and the root of the bridge hierarchy.
//
// All mutations are serialized and applied to a copy of the current state; the
// copy replaces the live state only when the operation succeeds. Queries return
// snapshots.
type BroadcastDomain struct {
	log zerolog.Logger

	mu    sync.RWMutex
	state *domainState
}

type domainState struct {
	bridges      map[int]*Bridge
	segments     []*SharedSegment
	portIndex    map[PortKey]int
	rootID       int
	explicitRoot bool
}

func NewBroadcastDomain(log zerolog.Logger) *BroadcastDomain {
	return &BroadcastDomain{log: log, state: newDomainState()}
}

func newDomainState() *domainState {
	return &domainState{
		bridges:   make(map[int]*Bridge),
		portIndex: make(map[PortKey]int),
	}
}

func (s *domainState) clone() *domainState {
	c := &domainState{
		bridges:      make(map[int]*Bridge, len(s.bridges)),
		segments:     make([]*SharedSegment, 0, len(s.segments)),
		portIndex:    make(map[PortKey]int, len(s.portIndex)),
		rootID:       s.rootID,
		explicitRoot: s.explicitRoot,
	}
	for id, b := range s.bridges {
		c.bridges[id] = b.clone()
	}
	for _, seg := range s.segments {
		c.segments = append(c.segments, seg.clone())
	}
	for k, i := range s.portIndex {
		c.portIndex[k] = i
	}
	return c
}

// reindex drops empty segments, orders the rest by their lowest port key and
// rebuilds the port index.
func (s *domainState) reindex() {
	kept := s.segments[:0]
	for _, seg := range s.segments {
		if !seg.IsEmpty() {
			kept = append(kept, seg)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].minKey().Less(kept[j].minKey()) })
	s.segments = kept
	s.portIndex = make(map[PortKey]int)
	for i, seg := range s.segments {
		for k := range seg.ports {
			s.portIndex[k] = i
		}
	}
}

func (s *domainState) bridgeIDs() []int {
	ids := make([]int, 0, len(s.bridges))
	for id := range s.bridges {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// segmentsOf returns the indexes of the segments holding a port of nodeID.
func (s *domainState) segmentsOf(nodeID int) []int {
	var out []int
	for i, seg := range s.segments {
		if seg.HasBridge(nodeID) {
			out = append(out, i)
		}
	}
	return out
}

// identifierOwners maps every bridge identifier in the domain to its bridge.
func (s *domainState) identifierOwners() map[string]int {
	owners := make(map[string]int)
	for _, id := range s.bridgeIDs() {
		for _, m := range s.bridges[id].Identifiers() {
			if _, taken := owners[m]; !taken {
				owners[m] = id
			}
		}
	}
	return owners
}

func (s *domainState) addBridge(nodeID int) *Bridge {
	b, ok := s.bridges[nodeID]
	if !ok {
		b = newBridge(nodeID)
		s.bridges[nodeID] = b
	}
	return b
}

func (s *domainState) storeTable(op string, table *ForwardingTable) error {
	if table == nil {
		return topologyErr(op, 0, nil, "forwarding table is nil")
	}
	if table.NodeID() <= 0 {
		return topologyErr(op, table.NodeID(), nil, "forwarding table has no valid node id")
	}
	s.addBridge(table.NodeID()).table = table.clone()
	return nil
}

func (d *BroadcastDomain) mutate(op string, fn func(s *domainState) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := d.state.clone()
	if err := fn(next); err != nil {
		d.log.Debug().Err(err).Str("op", op).Msg("topology operation rejected")
		return err
	}
	d.state = next
	d.log.Debug().
		Str("op", op).
		Int("bridges", len(next.bridges)).
		Int("segments", len(next.segments)).
		Int("root_id", next.rootID).
		Msg("topology updated")
	return nil
}

// AddBridge registers nodeID in the domain. Identifiers are the bridge's own MAC
// addresses; calling AddBridge for a known bridge adds to its identifiers.
func (d *BroadcastDomain) AddBridge(nodeID int, identifiers ...string) error {
	if nodeID <= 0 {
		return topologyErr("add bridge", nodeID, nil, "node id must be positive")
	}
	macs := make([]string, 0, len(identifiers))
	for _, raw := range identifiers {
		m, err := NormalizeMAC(raw)
		if err != nil {
			return fmt.Errorf("add bridge %d: %w", nodeID, err)
		}
		macs = append(macs, m)
	}
	return d.mutate("add bridge", func(s *domainState) error {
		b := s.addBridge(nodeID)
		for _, m := range macs {
			b.identifiers[m] = struct{}{}
		}
		return nil
	})
}

// SetBridgeIdentifiers replaces the registered identifiers of nodeID, adding the
// bridge if needed. Identifiers reported by the bridge's forwarding table are not
// affected. Topology is left untouched until Calculate.
func (d *BroadcastDomain) SetBridgeIdentifiers(nodeID int, identifiers ...string) error {
	if nodeID <= 0 {
		return topologyErr("set bridge identifiers", nodeID, nil, "node id must be positive")
	}
	macs := make(macSet, len(identifiers))
	for _, raw := range identifiers {
		m, err := NormalizeMAC(raw)
		if err != nil {
			return fmt.Errorf("set bridge identifiers %d: %w", nodeID, err)
		}
		macs[m] = struct{}{}
	}
	return d.mutate("set bridge identifiers", func(s *domainState) error {
		s.addBridge(nodeID).identifiers = macs.clone()
		return nil
	})
}

func (d *BroadcastDomain) HasBridge(nodeID int) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.state.bridges[nodeID]
	return ok
}

// Bridge returns a snapshot of the bridge.
func (d *BroadcastDomain) Bridge(nodeID int) (*Bridge, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.state.bridges[nodeID]
	if !ok {
		return nil, false
	}
	return b.clone(), true
}

// Bridges returns snapshots of all bridges ordered by node id.
func (d *BroadcastDomain) Bridges() []*Bridge {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Bridge, 0, len(d.state.bridges))
	for _, id := range d.state.bridgeIDs() {
		out = append(out, d.state.bridges[id].clone())
	}
	return out
}

// UpdateForwardingTable replaces the stored table of the table's bridge, adding
// the bridge if needed. Topology is left untouched until Calculate.
func (d *BroadcastDomain) UpdateForwardingTable(table *ForwardingTable) error {
	return d.mutate("update forwarding table", func(s *domainState) error {
		return s.storeTable("update forwarding table", table)
	})
}

// Submit stores every table and recomputes the topology as one atomic step.
func (d *BroadcastDomain) Submit(tables ...*ForwardingTable) error {
	return d.mutate("submit", func(s *domainState) error {
		for _, t := range tables {
			if err := s.storeTable("submit", t); err != nil {
				return err
			}
		}
		return s.calculate()
	})
}

// Calculate recomputes segments and hierarchy from the stored tables.
func (d *BroadcastDomain) Calculate() error {
	return d.mutate("calculate", func(s *domainState) error {
		return s.calculate()
	})
}

// HierarchySetUp roots the domain at nodeID.
func (d *BroadcastDomain) HierarchySetUp(nodeID int) error {
	return d.mutate("hierarchy setup", func(s *domainState) error {
		if err := s.hierarchySetUp(nodeID); err != nil {
			return err
		}
		s.explicitRoot = true
		return nil
	})
}

// ClearTopologyForBridge withdraws every contribution of nodeID. The bridge stays
// in the domain without a table.
func (d *BroadcastDomain) ClearTopologyForBridge(nodeID int) error {
	return d.mutate("clear topology", func(s *domainState) error {
		return s.clearBridge(nodeID)
	})
}

// RemoveBridge clears nodeID's topology and drops it from the domain. It reports
// false when the bridge is unknown.
func (d *BroadcastDomain) RemoveBridge(nodeID int) (bool, error) {
	removed := false
	err := d.mutate("remove bridge", func(s *domainState) error {
		if _, ok := s.bridges[nodeID]; !ok {
			return nil
		}
		if err := s.clearBridge(nodeID); err != nil {
			return err
		}
		delete(s.bridges, nodeID)
		if s.rootID == nodeID {
			s.explicitRoot = false
		}
		removed = true
		return s.rehome()
	})
	return removed, err
}

// Topology returns snapshots of the segments in canonical order.
func (d *BroadcastDomain) Topology() []*SharedSegment {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*SharedSegment, 0, len(d.state.segments))
	for _, seg := range d.state.segments {
		out = append(out, seg.clone())
	}
	return out
}

// SegmentForPort returns the segment holding the given port.
func (d *BroadcastDomain) SegmentForPort(key PortKey) (*SharedSegment, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i, ok := d.state.portIndex[key]
	if !ok {
		return nil, false
	}
	return d.state.segments[i].clone(), true
}

// MacsOnDomain returns the union of all segment MACs.
func (d *BroadcastDomain) MacsOnDomain() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	all := make(macSet)
	for _, seg := range d.state.segments {
		for m := range seg.macs {
			all[m] = struct{}{}
		}
	}
	return all.sorted()
}

func (d *BroadcastDomain) RootBridgeID() (int, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state.rootID, d.state.rootID != 0
}

func (d *BroadcastDomain) RootBridge() (*Bridge, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.state.bridges[d.state.rootID]
	if !ok {
		return nil, false
	}
	return b.clone(), true
}

// BridgeBridgeLinks returns the bridge-to-bridge links of every segment.
func (d *BroadcastDomain) BridgeBridgeLinks() ([]BridgeBridgeLink, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var links []BridgeBridgeLink
	for _, seg := range d.state.segments {
		l, err := seg.BridgeBridgeLinks()
		if err != nil {
			return nil, err
		}
		links = append(links, l...)
	}
	return links, nil
}

// BridgeMacLinks returns the bridge-to-MAC links of every segment.
func (d *BroadcastDomain) BridgeMacLinks() []BridgeMacLink {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var links []BridgeMacLink
	for _, seg := range d.state.segments {
		links = append(links, seg.BridgeMacLinks()...)
	}
	return links
}

func (d *BroadcastDomain) String() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var b strings.Builder
	fmt.Fprintf(&b, "domain root:[%d] bridges:%v\n", d.state.rootID, d.state.bridgeIDs())
	for _, seg := range d.state.segments {
		b.WriteString(seg.String())
	}
	return b.String()
}

// Snapshot is a consistent copy of the whole domain taken under one read lock.
type Snapshot struct {
	RootID   int
	Bridges  []*Bridge
	Segments []*SharedSegment
}

func (d *BroadcastDomain) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	snap := Snapshot{
		RootID:   d.state.rootID,
		Bridges:  make([]*Bridge, 0, len(d.state.bridges)),
		Segments: make([]*SharedSegment, 0, len(d.state.segments)),
	}
	for _, id := range d.state.bridgeIDs() {
		snap.Bridges = append(snap.Bridges, d.state.bridges[id].clone())
	}
	for _, seg := range d.state.segments {
		snap.Segments = append(snap.Segments, seg.clone())
	}
	return snap
}
