package topology

import (
	"errors"
	"fmt"
)

// ErrTopology matches every *TopologyError via errors.Is.
var ErrTopology = errors.New("bridge topology error")

// ErrInvalidMAC is returned for addresses that are not 48-bit MACs.
var ErrInvalidMAC = errors.New("invalid mac address")

// TopologyError reports a broken structural invariant. The operation that
// raised it made no change to domain state.
type TopologyError struct {
	Op      string
	Msg     string
	NodeID  int
	Segment string
}

func (e *TopologyError) Error() string {
	s := fmt.Sprintf("topology: %s: %s", e.Op, e.Msg)
	if e.NodeID != 0 {
		s += fmt.Sprintf(" (node %d)", e.NodeID)
	}
	return s
}

func (e *TopologyError) Is(target error) bool {
	return target == ErrTopology
}

func topologyErr(op string, nodeID int, seg *SharedSegment, format string, args ...any) error {
	e := &TopologyError{Op: op, Msg: fmt.Sprintf(format, args...), NodeID: nodeID}
	if seg != nil {
		e.Segment = seg.String()
	}
	return e
}
