package topology

// electRoot keeps an explicitly chosen root while its bridge exists and an
// implicit one while its bridge is still on a segment. Otherwise the root is the
// lowest node id among bridges on a segment, falling back to the lowest known
// node id.
func (s *domainState) electRoot() {
	if _, ok := s.bridges[s.rootID]; ok && (s.explicitRoot || len(s.segmentsOf(s.rootID)) > 0) {
		return
	}
	s.explicitRoot = false
	s.rootID = 0
	for _, id := range s.bridgeIDs() {
		if len(s.segmentsOf(id)) > 0 {
			s.rootID = id
			return
		}
	}
	if ids := s.bridgeIDs(); len(ids) > 0 {
		s.rootID = ids[0]
	}
}

// rehome re-derives the root and the hierarchy below it.
func (s *domainState) rehome() error {
	s.electRoot()
	if s.rootID == 0 {
		for _, b := range s.bridges {
			b.resetHierarchy()
		}
		return nil
	}
	return s.hierarchySetUp(s.rootID)
}

// hierarchySetUp roots the domain at rootID with a breadth-first walk over
// segments. Every segment is designated to the bridge the walk reached it from
// and every other bridge gets its port on that segment as root port. Bridges the
// root cannot reach are walked from the lowest node id of each remaining island;
// those island heads carry no root port and no root flag.
func (s *domainState) hierarchySetUp(rootID int) error {
	root, ok := s.bridges[rootID]
	if !ok {
		return topologyErr("hierarchy setup", rootID, nil, "bridge not in domain")
	}
	for _, b := range s.bridges {
		b.resetHierarchy()
	}
	s.rootID = rootID
	root.isRoot = true

	assigned := make([]bool, len(s.segments))
	visited := make(map[int]bool)
	if err := s.walk(rootID, assigned, visited); err != nil {
		return err
	}
	for {
		head := 0
		for i, seg := range s.segments {
			if assigned[i] {
				continue
			}
			if ids := seg.BridgeIDs(); len(ids) > 0 && (head == 0 || ids[0] < head) {
				head = ids[0]
			}
		}
		if head == 0 {
			return nil
		}
		if err := s.walk(head, assigned, visited); err != nil {
			return err
		}
	}
}

func (s *domainState) walk(start int, assigned []bool, visited map[int]bool) error {
	visited[start] = true
	queue := []int{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for i, seg := range s.segments {
			if assigned[i] || !seg.HasBridge(cur) {
				continue
			}
			assigned[i] = true
			seg.designated = cur
			for _, id := range seg.BridgeIDs() {
				if visited[id] {
					continue
				}
				b, ok := s.bridges[id]
				if !ok {
					return topologyErr("hierarchy setup", id, seg, "segment references a bridge outside the domain")
				}
				visited[id] = true
				rp, _ := seg.BridgePort(id)
				b.rootPort = &rp
				queue = append(queue, id)
			}
		}
	}
	return nil
}

// clearBridge withdraws nodeID from the topology. Segments below the bridge are
// merged into the segment holding its root port, its port is removed from every
// other segment, and MACs no remaining table reports are dropped.
func (s *domainState) clearBridge(nodeID int) error {
	b, ok := s.bridges[nodeID]
	if !ok {
		return topologyErr("clear topology", nodeID, nil, "bridge not in domain")
	}

	if s.rootID == nodeID {
		for _, i := range s.segmentsOf(nodeID) {
			next, ok := s.segments[i].FirstNoDesignatedBridge()
			if !ok || next == nodeID {
				continue
			}
			if err := s.hierarchySetUp(next); err != nil {
				return err
			}
			s.explicitRoot = false
			break
		}
	}

	var top *SharedSegment
	if rp := b.rootPort; rp != nil {
		if i, ok := s.portIndex[rp.Key()]; ok {
			top = s.segments[i]
		}
	}

	var below *SharedSegment
	for _, i := range s.segmentsOf(nodeID) {
		seg := s.segments[i]
		if seg == top {
			continue
		}
		if top != nil && seg.DesignatedBridge() == nodeID {
			if below == nil {
				below = seg
			} else {
				below.absorb(seg)
				seg.drain()
			}
			continue
		}
		seg.RemoveBridge(nodeID)
	}
	if top != nil {
		if below != nil {
			if !top.MergeBridge(below, nodeID) {
				return topologyErr("clear topology", nodeID, top, "bridge lost its port on the root segment")
			}
			below.drain()
		} else {
			top.RemoveBridge(nodeID)
		}
	}

	b.clearTopology()

	attested := make(macSet)
	for _, other := range s.bridges {
		if other.table == nil {
			continue
		}
		for m := range other.table.entries() {
			attested[m] = struct{}{}
		}
	}
	for _, seg := range s.segments {
		for m := range seg.macs {
			if !attested.has(m) {
				delete(seg.macs, m)
			}
		}
	}
	s.reindex()

	if s.rootID == nodeID {
		s.explicitRoot = false
	}
	return s.rehome()
}
