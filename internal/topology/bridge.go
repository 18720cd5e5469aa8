package topology

// Bridge is one node's discovery state inside a broadcast domain. Values handed
// out by the domain are snapshots; root port and root flag are only ever written
// by the domain's hierarchy step.
type Bridge struct {
	nodeID      int
	identifiers macSet
	table       *ForwardingTable
	rootPort    *BridgePort
	isRoot      bool
}

func newBridge(nodeID int) *Bridge {
	return &Bridge{nodeID: nodeID, identifiers: make(macSet)}
}

func (b *Bridge) NodeID() int { return b.nodeID }

// Identifiers returns the bridge's own MAC addresses: the ones registered with the
// domain plus those reported by its current forwarding table.
func (b *Bridge) Identifiers() []string {
	all := b.identifiers.clone()
	if b.table != nil {
		for m := range b.table.identifiers {
			all[m] = struct{}{}
		}
	}
	return all.sorted()
}

func (b *Bridge) HasTable() bool { return b.table != nil }

// Table returns a copy of the stored forwarding table, or nil.
func (b *Bridge) Table() *ForwardingTable {
	if b.table == nil {
		return nil
	}
	return b.table.clone()
}

func (b *Bridge) RootPort() (BridgePort, bool) {
	if b.rootPort == nil {
		return BridgePort{}, false
	}
	return *b.rootPort, true
}

func (b *Bridge) IsRoot() bool { return b.isRoot }

func (b *Bridge) clone() *Bridge {
	c := &Bridge{
		nodeID:      b.nodeID,
		identifiers: b.identifiers.clone(),
		table:       b.table,
		isRoot:      b.isRoot,
	}
	if b.rootPort != nil {
		rp := *b.rootPort
		c.rootPort = &rp
	}
	return c
}

func (b *Bridge) resetHierarchy() {
	b.rootPort = nil
	b.isRoot = false
}

func (b *Bridge) clearTopology() {
	b.table = nil
	b.resetHierarchy()
}
