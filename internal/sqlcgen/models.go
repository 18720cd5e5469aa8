package sqlcgen

import "time"

type DiscoveryRun struct {
	ID          string
	Status      string
	Scope       *string
	Stats       map[string]any
	StartedAt   time.Time
	CompletedAt *time.Time
	LastError   *string
}

type DiscoveryRunLog struct {
	ID        int64
	RunID     string
	Level     string
	Message   string
	CreatedAt time.Time
}

type BridgeBridgeLink struct {
	Domain            string
	NodeID            int32
	BridgePort        int32
	IfIndex           int32
	IfName            *string
	Vlan              *int32
	DesignatedNodeID  int32
	DesignatedPort    int32
	DesignatedIfIndex int32
	DesignatedIfName  *string
	DesignatedVlan    *int32
	CreateTime        time.Time
	PollTime          time.Time
	SeenAt            time.Time
}

type BridgeMacLink struct {
	Domain     string
	NodeID     int32
	BridgePort int32
	IfIndex    int32
	IfName     *string
	Vlan       *int32
	Mac        string
	CreateTime time.Time
	PollTime   time.Time
	SeenAt     time.Time
}
