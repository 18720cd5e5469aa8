package discoveryworker

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"bridgetopo/internal/metrics"
	"bridgetopo/internal/topology"
)

func TestNodeDiscovery_AddUpdatedBFTReplacesTable(t *testing.T) {
	d := topology.NewBroadcastDomain(zerolog.Nop())
	task := NewNodeDiscovery(zerolog.Nop(), 1, "lab", d, nil)

	if err := task.AddUpdatedBFT(1, nil); err == nil {
		t.Fatalf("expected error for nil table")
	}
	if err := task.AddUpdatedBFT(2, topology.NewForwardingTable(1, testPoll)); err == nil {
		t.Fatalf("expected error for mismatched node id")
	}

	first := mustTable(t, 1, "0a0000000001", map[int]string{1: "0b0000000001"})
	second := mustTable(t, 1, "0a0000000001", map[int]string{3: "0b0000000003"})
	if err := task.AddUpdatedBFT(1, first); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := task.AddUpdatedBFT(1, second); err != nil {
		t.Fatalf("add: %v", err)
	}
	if task.Pending() != 1 {
		t.Fatalf("expected one pending table, got %d", task.Pending())
	}

	if err := task.Calculate(); err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if task.Pending() != 0 {
		t.Fatalf("expected queue to be cleared")
	}

	b, ok := d.Bridge(1)
	if !ok || !b.HasTable() {
		t.Fatalf("expected bridge 1 with a table")
	}
	if got := b.Table().Ports(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("expected only the replacement table, got ports %v", got)
	}
	if macs := d.MacsOnDomain(); len(macs) != 1 || macs[0] != "0b0000000003" {
		t.Fatalf("unexpected macs %v", macs)
	}
}

func TestNodeDiscovery_CalculateWithoutTablesRecomputes(t *testing.T) {
	d := topology.NewBroadcastDomain(zerolog.Nop())
	if err := d.UpdateForwardingTable(mustTable(t, 4, "0a0000000004", map[int]string{2: "0b0000000002"})); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(d.Topology()) != 0 {
		t.Fatalf("expected no segments before calculate")
	}

	task := NewNodeDiscovery(zerolog.Nop(), 4, "lab", d, metrics.New())
	if err := task.Calculate(); err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(d.Topology()) != 1 {
		t.Fatalf("expected one segment, got %s", d.String())
	}
}

func TestNodeDiscovery_RejectedUpdateKeepsQueue(t *testing.T) {
	d := topology.NewBroadcastDomain(zerolog.Nop())
	task := NewNodeDiscovery(zerolog.Nop(), 0, "lab", d, nil)

	if err := task.AddUpdatedBFT(0, topology.NewForwardingTable(0, testPoll)); err != nil {
		t.Fatalf("add: %v", err)
	}
	err := task.Calculate()
	if !errors.Is(err, topology.ErrTopology) {
		t.Fatalf("expected topology error, got %v", err)
	}
	if task.Pending() != 1 {
		t.Fatalf("expected table to stay queued after a rejected update")
	}
	if len(d.Bridges()) != 0 {
		t.Fatalf("expected domain to be untouched")
	}

	if err := NewNodeDiscovery(zerolog.Nop(), 1, "lab", nil, nil).Calculate(); err == nil {
		t.Fatalf("expected error without a domain")
	}
}

func TestNodeDiscovery_FlushStoresWithoutRecompute(t *testing.T) {
	d := topology.NewBroadcastDomain(zerolog.Nop())
	task := NewNodeDiscovery(zerolog.Nop(), 3, "lab", d, nil)

	if err := task.AddUpdatedBFT(3, mustTable(t, 3, "0a0000000003", map[int]string{4: "0b0000000004"})); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := task.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if task.Pending() != 0 {
		t.Fatalf("expected queue to be cleared")
	}
	if b, ok := d.Bridge(3); !ok || !b.HasTable() {
		t.Fatalf("expected bridge 3 with a table")
	}
	if len(d.Topology()) != 0 {
		t.Fatalf("expected no segments before calculate, got %s", d.String())
	}

	if err := task.Calculate(); err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(d.Topology()) != 1 {
		t.Fatalf("expected one segment, got %s", d.String())
	}

	bad := NewNodeDiscovery(zerolog.Nop(), 0, "lab", d, nil)
	if err := bad.AddUpdatedBFT(0, topology.NewForwardingTable(0, testPoll)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := bad.Flush(); !errors.Is(err, topology.ErrTopology) {
		t.Fatalf("expected topology error, got %v", err)
	}
	if bad.Pending() != 1 {
		t.Fatalf("expected rejected table to stay queued")
	}
	if err := NewNodeDiscovery(zerolog.Nop(), 1, "lab", nil, nil).Flush(); err == nil {
		t.Fatalf("expected error without a domain")
	}
}
