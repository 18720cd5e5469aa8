package topology

import "sort"

// connections holds, per ordered bridge pair (x, y), the port of x that leads
// toward y.
type connections map[[2]int]int

func (c connections) get(x, y int) (int, bool) {
	p, ok := c[[2]int{x, y}]
	return p, ok
}

func (c connections) set(x, y, port int) {
	c[[2]int{x, y}] = port
}

type portPair struct {
	x, y int
}

// simpleConnection finds the ports through which bridges x and y see each other.
// Bridge identifiers are the strongest evidence; otherwise the ports are pinned
// by MACs both bridges learned.
func simpleConnection(x, y int, views map[int]map[string]int, owners map[string]int) (xy int, okX bool, yx int, okY bool) {
	xy, okX = identifierPort(views[x], y, owners)
	yx, okY = identifierPort(views[y], x, owners)
	if okX && okY {
		return
	}

	seen := make(map[portPair]struct{})
	for mac, px := range views[x] {
		if o, isID := owners[mac]; isID && (o == x || o == y) {
			continue
		}
		py, ok := views[y][mac]
		if !ok {
			continue
		}
		seen[portPair{px, py}] = struct{}{}
	}
	pairs := make([]portPair, 0, len(seen))
	for p := range seen {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].x != pairs[j].x {
			return pairs[i].x < pairs[j].x
		}
		return pairs[i].y < pairs[j].y
	})

	// MACs behind one port of x but behind different ports of y must sit on y's
	// side of that port, which therefore leads to y. Same the other way round.
	if !okX {
		xy, okX = pinnedPort(pairs, func(p portPair) (int, int) { return p.x, p.y })
	}
	if !okY {
		yx, okY = pinnedPort(pairs, func(p portPair) (int, int) { return p.y, p.x })
	}
	// A MAC on x's far side is seen by y through y's port toward x.
	if okX && !okY {
		for _, p := range pairs {
			if p.x != xy {
				yx, okY = p.y, true
				break
			}
		}
	}
	if okY && !okX {
		for _, p := range pairs {
			if p.y != yx {
				xy, okX = p.x, true
				break
			}
		}
	}
	if !okX && !okY && len(pairs) == 1 {
		xy, okX = pairs[0].x, true
		yx, okY = pairs[0].y, true
	}
	return
}

// identifierPort returns the port of view behind which most of target's
// identifiers were learned, lowest port on ties.
func identifierPort(view map[string]int, target int, owners map[string]int) (int, bool) {
	hits := make(map[int]int)
	for mac, port := range view {
		if owners[mac] == target {
			hits[port]++
		}
	}
	best, bestHits := 0, 0
	for port, n := range hits {
		if n > bestHits || (n == bestHits && port < best) {
			best, bestHits = port, n
		}
	}
	return best, bestHits > 0
}

func pinnedPort(pairs []portPair, split func(portPair) (int, int)) (int, bool) {
	far := make(map[int]map[int]struct{})
	for _, p := range pairs {
		near, other := split(p)
		if far[near] == nil {
			far[near] = make(map[int]struct{})
		}
		far[near][other] = struct{}{}
	}
	best, found := 0, false
	for near, others := range far {
		if len(others) > 1 && (!found || near < best) {
			best, found = near, true
		}
	}
	return best, found
}

// deriveTransitive fills unknown pairs through a third bridge z that sees x and y
// behind different ports: x then reaches y the way it reaches z.
func (c connections) deriveTransitive(nodes []int) {
	for changed := true; changed; {
		changed = false
		for _, x := range nodes {
			for _, y := range nodes {
				if x == y {
					continue
				}
				if _, ok := c.get(x, y); ok {
					continue
				}
				for _, z := range nodes {
					if z == x || z == y {
						continue
					}
					zx, ok1 := c.get(z, x)
					zy, ok2 := c.get(z, y)
					if !ok1 || !ok2 || zx == zy {
						continue
					}
					if xz, ok := c.get(x, z); ok {
						c.set(x, y, xz)
						changed = true
						break
					}
				}
			}
		}
	}
}

// adjacent reports whether x and y share a segment: they must see each other
// and no third bridge may sit between them.
func (c connections) adjacent(nodes []int, x, y int) (int, int, bool) {
	xy, ok1 := c.get(x, y)
	yx, ok2 := c.get(y, x)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	for _, z := range nodes {
		if z == x || z == y {
			continue
		}
		xz, ok1 := c.get(x, z)
		yz, ok2 := c.get(y, z)
		zx, ok3 := c.get(z, x)
		zy, ok4 := c.get(z, y)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		if xz == xy && yz == yx && zx != zy {
			return 0, 0, false
		}
	}
	return xy, yx, true
}

type portUnion struct {
	parent map[PortKey]PortKey
}

func newPortUnion() *portUnion {
	return &portUnion{parent: make(map[PortKey]PortKey)}
}

func (u *portUnion) add(k PortKey) {
	if _, ok := u.parent[k]; !ok {
		u.parent[k] = k
	}
}

func (u *portUnion) find(k PortKey) PortKey {
	u.add(k)
	for u.parent[k] != k {
		u.parent[k] = u.parent[u.parent[k]]
		k = u.parent[k]
	}
	return k
}

func (u *portUnion) union(a, b PortKey) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb.Less(ra) {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}

type observation struct {
	node, port int
}

// mostSpecific reports whether no other observer of the MAC sits behind o's
// port while seeing the MAC somewhere other than back toward o.
func (c connections) mostSpecific(o observation, obs []observation) bool {
	for _, q := range obs {
		if q.node == o.node {
			continue
		}
		toQ, ok := c.get(o.node, q.node)
		if !ok || toQ != o.port {
			continue
		}
		back, ok := c.get(q.node, o.node)
		if ok && q.port != back {
			return false
		}
	}
	return true
}

// calculate rebuilds the segment partition from the stored tables. The result
// depends only on the set of tables, never on the order they arrived in.
func (s *domainState) calculate() error {
	owners := s.identifierOwners()

	var nodes []int
	views := make(map[int]map[string]int)
	for _, id := range s.bridgeIDs() {
		if t := s.bridges[id].table; t != nil {
			nodes = append(nodes, id)
			views[id] = t.entries()
		}
	}

	conn := make(connections)
	for i, x := range nodes {
		for _, y := range nodes[i+1:] {
			xy, okX, yx, okY := simpleConnection(x, y, views, owners)
			if okX {
				conn.set(x, y, xy)
			}
			if okY {
				conn.set(y, x, yx)
			}
		}
	}
	conn.deriveTransitive(nodes)

	uf := newPortUnion()
	for _, x := range nodes {
		for _, p := range s.bridges[x].table.Ports() {
			uf.add(PortKey{NodeID: x, BridgePort: p})
		}
	}
	for i, x := range nodes {
		for _, y := range nodes[i+1:] {
			if xy, yx, ok := conn.adjacent(nodes, x, y); ok {
				uf.union(PortKey{NodeID: x, BridgePort: xy}, PortKey{NodeID: y, BridgePort: yx})
			}
		}
	}

	groups := make(map[PortKey][]PortKey)
	for k := range uf.parent {
		r := uf.find(k)
		groups[r] = append(groups[r], k)
	}

	observed := make(map[string][]observation)
	for _, x := range nodes {
		for mac, p := range views[x] {
			if _, isID := owners[mac]; isID {
				continue
			}
			observed[mac] = append(observed[mac], observation{node: x, port: p})
		}
	}
	macsByGroup := make(map[PortKey][]string)
	for mac, obs := range observed {
		sort.Slice(obs, func(i, j int) bool { return obs[i].node < obs[j].node })
		best, found := PortKey{}, false
		for _, o := range obs {
			if !conn.mostSpecific(o, obs) {
				continue
			}
			r := uf.find(PortKey{NodeID: o.node, BridgePort: o.port})
			if !found || r.Less(best) {
				best, found = r, true
			}
		}
		if !found {
			best = uf.find(PortKey{NodeID: obs[0].node, BridgePort: obs[0].port})
		}
		macsByGroup[best] = append(macsByGroup[best], mac)
	}

	roots := make([]PortKey, 0, len(groups))
	for r := range groups {
		roots = append(roots, r)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Less(roots[j]) })

	segments := make([]*SharedSegment, 0, len(roots))
	for _, r := range roots {
		members := groups[r]
		macs := macsByGroup[r]
		if len(members) < 2 && len(macs) == 0 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Less(members[j]) })
		ports := make([]BridgePort, 0, len(members))
		for _, k := range members {
			bp, _ := s.bridges[k.NodeID].table.Port(k.BridgePort)
			ports = append(ports, bp)
		}
		seg, err := NewSharedSegmentWithPorts(ports, macs, members[0].NodeID)
		if err != nil {
			return topologyErr("calculate", members[0].NodeID, nil, "inconsistent forwarding tables: %v", err)
		}
		segments = append(segments, seg)
	}

	s.segments = segments
	s.reindex()
	return s.rehome()
}
