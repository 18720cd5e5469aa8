package topology

import (
	"fmt"
	"sort"
	"strings"
)

// SharedSegment is a broadcast-media segment: the bridge ports believed to sit on
// the same wire and the MAC addresses learned on it. A bridge attaches to a
// segment through at most one port. Designated bridge 0 means none.
//
// MACs are expected in NormalizeMAC form.
type SharedSegment struct {
	designated int
	ports      map[PortKey]BridgePort
	byNode     map[int]PortKey
	macs       macSet
}

func newSegment() *SharedSegment {
	return &SharedSegment{
		ports:  make(map[PortKey]BridgePort),
		byNode: make(map[int]PortKey),
		macs:   make(macSet),
	}
}

// NewSharedSegment builds a segment holding a single port; its bridge is the
// designated bridge.
func NewSharedSegment(port BridgePort, macs []string) *SharedSegment {
	s := newSegment()
	s.addPort(port)
	s.macs = newMacSet(macs...)
	s.designated = port.NodeID
	return s
}

// NewSharedSegmentWithPorts builds a segment from an explicit port set.
func NewSharedSegmentWithPorts(ports []BridgePort, macs []string, designated int) (*SharedSegment, error) {
	s := newSegment()
	for _, p := range ports {
		if _, dup := s.byNode[p.NodeID]; dup {
			return nil, topologyErr("new segment", p.NodeID, nil, "bridge has more than one port on segment")
		}
		s.addPort(p)
	}
	s.macs = newMacSet(macs...)
	if designated != 0 {
		if _, ok := s.byNode[designated]; !ok {
			return nil, topologyErr("new segment", designated, s, "designated bridge has no port on segment")
		}
	}
	s.designated = designated
	return s, nil
}

func (s *SharedSegment) addPort(p BridgePort) {
	if old, ok := s.byNode[p.NodeID]; ok && old != p.Key() {
		delete(s.ports, old)
	}
	s.ports[p.Key()] = p
	s.byNode[p.NodeID] = p.Key()
}

func (s *SharedSegment) removeNode(nodeID int) {
	if k, ok := s.byNode[nodeID]; ok {
		delete(s.ports, k)
		delete(s.byNode, nodeID)
	}
}

// SetDesignatedBridge makes nodeID the designated bridge. It reports false,
// leaving the segment unchanged, when nodeID owns no port here.
func (s *SharedSegment) SetDesignatedBridge(nodeID int) (bool, error) {
	if nodeID == 0 {
		return true, nil
	}
	if s.designated == 0 {
		return false, topologyErr("set designated bridge", nodeID, s, "segment has no designated bridge")
	}
	if s.designated == nodeID {
		return true, nil
	}
	if !s.HasBridge(nodeID) {
		return false, nil
	}
	s.designated = nodeID
	return true, nil
}

func (s *SharedSegment) DesignatedBridge() int { return s.designated }

func (s *SharedSegment) DesignatedPort() (BridgePort, error) {
	if s.designated == 0 {
		return BridgePort{}, topologyErr("designated port", 0, s, "segment has no designated bridge")
	}
	p, ok := s.BridgePort(s.designated)
	if !ok {
		return BridgePort{}, topologyErr("designated port", s.designated, s, "designated bridge has no port on segment")
	}
	return p, nil
}

// FirstNoDesignatedBridge returns the lowest-keyed port owner that is not the
// designated bridge.
func (s *SharedSegment) FirstNoDesignatedBridge() (int, bool) {
	for _, p := range s.Ports() {
		if p.NodeID != s.designated {
			return p.NodeID, true
		}
	}
	return 0, false
}

func (s *SharedSegment) IsEmpty() bool { return len(s.ports) == 0 }
func (s *SharedSegment) NoMacsOnSegment() bool { return len(s.macs) == 0 }

// Ports returns the segment's ports ordered by key.
func (s *SharedSegment) Ports() []BridgePort {
	out := make([]BridgePort, 0, len(s.ports))
	for _, p := range s.ports {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out
}

func (s *SharedSegment) Macs() []string { return s.macs.sorted() }

// BridgeIDs returns the distinct node ids on the segment in ascending order.
func (s *SharedSegment) BridgeIDs() []int {
	out := make([]int, 0, len(s.byNode))
	for id := range s.byNode {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (s *SharedSegment) BridgePort(nodeID int) (BridgePort, bool) {
	k, ok := s.byNode[nodeID]
	if !ok {
		return BridgePort{}, false
	}
	return s.ports[k], true
}

func (s *SharedSegment) HasBridge(nodeID int) bool {
	_, ok := s.byNode[nodeID]
	return ok
}

func (s *SharedSegment) ContainsMac(mac string) bool { return s.macs.has(mac) }

func (s *SharedSegment) ContainsPort(port BridgePort) bool {
	_, ok := s.ports[port.Key()]
	return ok
}

// MergeBridge folds other into s when both segments meet at nodeID: MACs are
// unioned and ports are unioned without any port of nodeID. It reports false and
// changes nothing when nodeID lacks a port on either segment.
func (s *SharedSegment) MergeBridge(other *SharedSegment, nodeID int) bool {
	if other == nil || nodeID == 0 {
		return false
	}
	if !s.HasBridge(nodeID) || !other.HasBridge(nodeID) {
		return false
	}
	s.removeNode(nodeID)
	for _, p := range other.Ports() {
		if p.NodeID == nodeID {
			continue
		}
		if _, taken := s.byNode[p.NodeID]; taken {
			continue
		}
		s.addPort(p)
	}
	for m := range other.macs {
		s.macs[m] = struct{}{}
	}
	if s.designated == nodeID {
		s.designated = 0
	}
	return true
}

// RemoveBridge drops nodeID's port. The designated bridge is cleared when it was
// nodeID.
func (s *SharedSegment) RemoveBridge(nodeID int) bool {
	if nodeID == 0 || len(s.ports) == 0 || !s.HasBridge(nodeID) {
		return false
	}
	s.removeNode(nodeID)
	if s.designated == nodeID {
		s.designated = 0
	}
	return true
}

func (s *SharedSegment) RemoveMacs(macs ...string) {
	for _, m := range macs {
		delete(s.macs, m)
	}
}

// Retain adds port and keeps only the MACs also present in macs.
func (s *SharedSegment) Retain(macs []string, port BridgePort) {
	s.addPort(port)
	keep := newMacSet(macs...)
	for m := range s.macs {
		if !keep.has(m) {
			delete(s.macs, m)
		}
	}
}

// Assign adds port and replaces the MAC set.
func (s *SharedSegment) Assign(macs []string, port BridgePort) {
	s.addPort(port)
	s.macs = newMacSet(macs...)
}

// BridgeBridgeLinks returns one link per non-designated port, each pointing at
// the designated port.
func (s *SharedSegment) BridgeBridgeLinks() ([]BridgeBridgeLink, error) {
	designated, err := s.DesignatedPort()
	if err != nil {
		return nil, err
	}
	var links []BridgeBridgeLink
	for _, p := range s.Ports() {
		if p.NodeID == s.designated {
			continue
		}
		links = append(links, NewBridgeBridgeLink(p, designated))
	}
	return links, nil
}

// BridgeMacLinks returns the cross product of MACs and ports.
func (s *SharedSegment) BridgeMacLinks() []BridgeMacLink {
	ports := s.Ports()
	links := make([]BridgeMacLink, 0, len(s.macs)*len(ports))
	for _, m := range s.Macs() {
		for _, p := range ports {
			links = append(links, NewBridgeMacLink(p, m))
		}
	}
	return links
}

// absorb unions other's ports and MACs into s. A bridge already present keeps
// its port.
func (s *SharedSegment) absorb(other *SharedSegment) {
	for _, p := range other.Ports() {
		if _, taken := s.byNode[p.NodeID]; taken {
			continue
		}
		s.addPort(p)
	}
	for m := range other.macs {
		s.macs[m] = struct{}{}
	}
}

// drain empties the segment so the domain prunes it.
func (s *SharedSegment) drain() {
	s.designated = 0
	s.ports = make(map[PortKey]BridgePort)
	s.byNode = make(map[int]PortKey)
	s.macs = make(macSet)
}

func (s *SharedSegment) minKey() PortKey {
	var lowest PortKey
	first := true
	for k := range s.ports {
		if first || k.Less(lowest) {
			lowest = k
			first = false
		}
	}
	return lowest
}

func (s *SharedSegment) clone() *SharedSegment {
	c := &SharedSegment{
		designated: s.designated,
		ports:      make(map[PortKey]BridgePort, len(s.ports)),
		byNode:     make(map[int]PortKey, len(s.byNode)),
		macs:       s.macs.clone(),
	}
	for k, p := range s.ports {
		c.ports[k] = p
	}
	for n, k := range s.byNode {
		c.byNode[n] = k
	}
	return c
}

func (s *SharedSegment) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "segment designated bridge:[%d]\n", s.designated)
	for _, p := range s.Ports() {
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "macs:%v\n", s.Macs())
	return b.String()
}
