package topology

import (
	"fmt"
	"time"
)

// PortKey identifies a bridge port by owning node and local bridge-port number.
type PortKey struct {
	NodeID     int
	BridgePort int
}

func (k PortKey) Less(o PortKey) bool {
	if k.NodeID != o.NodeID {
		return k.NodeID < o.NodeID
	}
	return k.BridgePort < o.BridgePort
}

func (k PortKey) String() string {
	return fmt.Sprintf("%d:%d", k.NodeID, k.BridgePort)
}

// BridgePort is one physical attachment point on a bridge. Interface metadata and
// timestamps are carried along for link records; identity is the PortKey only.
type BridgePort struct {
	NodeID     int
	BridgePort int
	IfIndex    int
	IfName     string
	VLAN       int
	CreateTime time.Time
	PollTime   time.Time
}

func (p BridgePort) Key() PortKey {
	return PortKey{NodeID: p.NodeID, BridgePort: p.BridgePort}
}

func (p BridgePort) Equal(o BridgePort) bool {
	return p.Key() == o.Key()
}

func (p BridgePort) String() string {
	s := fmt.Sprintf("bridge:[%d] port:[%d] ifindex:[%d]", p.NodeID, p.BridgePort, p.IfIndex)
	if p.IfName != "" {
		s += fmt.Sprintf(" ifname:[%s]", p.IfName)
	}
	if p.VLAN > 0 {
		s += fmt.Sprintf(" vlan:[%d]", p.VLAN)
	}
	return s
}

// BridgeBridgeLink connects a non-designated port of a segment to the segment's
// designated port.
type BridgeBridgeLink struct {
	NodeID            int
	BridgePort        int
	IfIndex           int
	IfName            string
	VLAN              int
	DesignatedNodeID  int
	DesignatedPort    int
	DesignatedIfIndex int
	DesignatedIfName  string
	DesignatedVLAN    int
	CreateTime        time.Time
	PollTime          time.Time
}

// BridgeMacLink states that MAC is reachable through the given bridge port.
type BridgeMacLink struct {
	NodeID     int
	BridgePort int
	IfIndex    int
	IfName     string
	VLAN       int
	MAC        string
	CreateTime time.Time
	PollTime   time.Time
}

// NewBridgeBridgeLink builds the link record for port, with designated as the far
// end. Timestamps come from the designated port.
func NewBridgeBridgeLink(port, designated BridgePort) BridgeBridgeLink {
	return BridgeBridgeLink{
		NodeID:            port.NodeID,
		BridgePort:        port.BridgePort,
		IfIndex:           port.IfIndex,
		IfName:            port.IfName,
		VLAN:              port.VLAN,
		DesignatedNodeID:  designated.NodeID,
		DesignatedPort:    designated.BridgePort,
		DesignatedIfIndex: designated.IfIndex,
		DesignatedIfName:  designated.IfName,
		DesignatedVLAN:    designated.VLAN,
		CreateTime:        designated.CreateTime,
		PollTime:          designated.PollTime,
	}
}

func NewBridgeMacLink(port BridgePort, mac string) BridgeMacLink {
	return BridgeMacLink{
		NodeID:     port.NodeID,
		BridgePort: port.BridgePort,
		IfIndex:    port.IfIndex,
		IfName:     port.IfName,
		VLAN:       port.VLAN,
		MAC:        mac,
		CreateTime: port.CreateTime,
		PollTime:   port.PollTime,
	}
}

// Port returns the near (non-designated) side of the link.
func (l BridgeBridgeLink) Port() BridgePort {
	return BridgePort{
		NodeID:     l.NodeID,
		BridgePort: l.BridgePort,
		IfIndex:    l.IfIndex,
		IfName:     l.IfName,
		VLAN:       l.VLAN,
		CreateTime: l.CreateTime,
		PollTime:   l.PollTime,
	}
}

// Designated returns the far (designated) side of the link.
func (l BridgeBridgeLink) Designated() BridgePort {
	return BridgePort{
		NodeID:     l.DesignatedNodeID,
		BridgePort: l.DesignatedPort,
		IfIndex:    l.DesignatedIfIndex,
		IfName:     l.DesignatedIfName,
		VLAN:       l.DesignatedVLAN,
		CreateTime: l.CreateTime,
		PollTime:   l.PollTime,
	}
}

func (l BridgeMacLink) Port() BridgePort {
	return BridgePort{
		NodeID:     l.NodeID,
		BridgePort: l.BridgePort,
		IfIndex:    l.IfIndex,
		IfName:     l.IfName,
		VLAN:       l.VLAN,
		CreateTime: l.CreateTime,
		PollTime:   l.PollTime,
	}
}
