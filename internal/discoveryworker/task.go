package discoveryworker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bridgetopo/internal/metrics"
	"bridgetopo/internal/topology"
)

// NodeDiscovery is the topology update task of one bridge. It buffers forwarding
// tables collected during a discovery run and hands them to the bridge's domain.
// Tasks of different bridges can run concurrently; the domain serializes them.
type NodeDiscovery struct {
	log        zerolog.Logger
	nodeID     int
	domainName string
	domain     *topology.BroadcastDomain
	metrics    *metrics.Metrics

	mu      sync.Mutex
	pending map[int]*topology.ForwardingTable
}

func NewNodeDiscovery(log zerolog.Logger, nodeID int, domainName string, domain *topology.BroadcastDomain, m *metrics.Metrics) *NodeDiscovery {
	return &NodeDiscovery{
		log:        log.With().Int("node_id", nodeID).Str("domain", domainName).Logger(),
		nodeID:     nodeID,
		domainName: domainName,
		domain:     domain,
		metrics:    m,
		pending:    make(map[int]*topology.ForwardingTable),
	}
}

func (t *NodeDiscovery) NodeID() int {
	return t.nodeID
}

// AddUpdatedBFT queues table as the replacement forwarding table of nodeID. A
// later table for the same bridge replaces an earlier one.
func (t *NodeDiscovery) AddUpdatedBFT(nodeID int, table *topology.ForwardingTable) error {
	if table == nil {
		return errors.New("forwarding table is nil")
	}
	if table.NodeID() != nodeID {
		return fmt.Errorf("forwarding table belongs to node %d, not %d", table.NodeID(), nodeID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[nodeID] = table
	return nil
}

// Pending returns the number of queued tables.
func (t *NodeDiscovery) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Flush stores the queued tables on the domain without recomputing it. Tables
// the domain rejected stay queued.
func (t *NodeDiscovery) Flush() error {
	if t.domain == nil {
		return errors.New("node discovery has no domain")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]int, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		if err := t.domain.UpdateForwardingTable(t.pending[id]); err != nil {
			t.log.Warn().Err(err).Int("table", id).Msg("forwarding table rejected")
			return err
		}
		delete(t.pending, id)
	}
	return nil
}

// Calculate stores the queued tables on the domain and recomputes it. The queue
// is cleared only when the domain accepted the update.
func (t *NodeDiscovery) Calculate() error {
	if t.domain == nil {
		return errors.New("node discovery has no domain")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]int, 0, len(t.pending))
	for id := range t.pending {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	tables := make([]*topology.ForwardingTable, 0, len(ids))
	for _, id := range ids {
		tables = append(tables, t.pending[id])
	}

	start := time.Now()
	var err error
	if len(tables) == 0 {
		err = t.domain.Calculate()
	} else {
		err = t.domain.Submit(tables...)
	}
	t.metrics.ObserveCalculation(t.domainName, err == nil, time.Since(start))
	if err != nil {
		t.log.Warn().Err(err).Ints("tables", ids).Msg("topology update rejected")
		return err
	}

	snap := t.domain.Snapshot()
	t.metrics.SetDomainSize(t.domainName, len(snap.Bridges), len(snap.Segments), len(t.domain.MacsOnDomain()))
	t.pending = make(map[int]*topology.ForwardingTable)
	t.log.Debug().
		Ints("tables", ids).
		Int("segments", len(snap.Segments)).
		Int("root_id", snap.RootID).
		Dur("duration", time.Since(start)).
		Msg("topology updated")
	return nil
}
