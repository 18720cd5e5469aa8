package discoveryworker

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"bridgetopo/internal/topology"
)

// DefaultDomain names the broadcast domain of bridges configured without one.
const DefaultDomain = "default"

// Registry owns the broadcast domains by name and remembers which domain each
// bridge belongs to.
type Registry struct {
	log zerolog.Logger

	mu      sync.RWMutex
	domains map[string]*topology.BroadcastDomain
	nodes   map[int]string
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		log:     log,
		domains: make(map[string]*topology.BroadcastDomain),
		nodes:   make(map[int]string),
	}
}

func normalizeDomain(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultDomain
	}
	return name
}

// Domain returns the named domain, creating it on first use.
func (r *Registry) Domain(name string) *topology.BroadcastDomain {
	name = normalizeDomain(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.domainLocked(name)
}

func (r *Registry) domainLocked(name string) *topology.BroadcastDomain {
	d, ok := r.domains[name]
	if !ok {
		d = topology.NewBroadcastDomain(r.log.With().Str("domain", name).Logger())
		r.domains[name] = d
	}
	return d
}

// Lookup returns the named domain without creating it.
func (r *Registry) Lookup(name string) (*topology.BroadcastDomain, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.domains[normalizeDomain(name)]
	return d, ok
}

// Names returns the known domain names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.domains))
	for name := range r.domains {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DomainOf reports the domain nodeID was assigned to.
func (r *Registry) DomainOf(nodeID int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.nodes[nodeID]
	return name, ok
}

// Assign places nodeID in the named domain and registers its identifiers. A
// bridge moving between domains is removed from the old one first.
func (r *Registry) Assign(nodeID int, name string, identifiers ...string) (*topology.BroadcastDomain, error) {
	name = normalizeDomain(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.nodes[nodeID]; ok && prev != name {
		if old, ok := r.domains[prev]; ok {
			if _, err := old.RemoveBridge(nodeID); err != nil {
				return nil, fmt.Errorf("move bridge %d from domain %q: %w", nodeID, prev, err)
			}
		}
		r.log.Info().Int("node_id", nodeID).Str("from", prev).Str("to", name).Msg("bridge moved between domains")
	}

	d := r.domainLocked(name)
	if err := d.AddBridge(nodeID, identifiers...); err != nil {
		return nil, err
	}
	r.nodes[nodeID] = name
	return d, nil
}

// Update assigns nodeID to the named domain and applies fn to that domain. When
// fn fails for a bridge the registry did not hold before, the bridge is dropped
// again so a rejected first update leaves the domain as it was.
func (r *Registry) Update(nodeID int, name string, identifiers []string, fn func(*topology.BroadcastDomain) error) (*topology.BroadcastDomain, error) {
	_, known := r.DomainOf(nodeID)
	d, err := r.Assign(nodeID, name, identifiers...)
	if err != nil {
		return nil, err
	}
	if err := fn(d); err != nil {
		if !known {
			if _, ferr := r.Forget(nodeID); ferr != nil {
				r.log.Warn().Err(ferr).Int("node_id", nodeID).Msg("failed to drop rejected bridge")
			}
		}
		return d, err
	}
	return d, nil
}

// Forget removes nodeID from its domain.
func (r *Registry) Forget(nodeID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.nodes[nodeID]
	if !ok {
		return false, nil
	}
	removed := false
	if d, ok := r.domains[name]; ok {
		var err error
		if removed, err = d.RemoveBridge(nodeID); err != nil {
			return false, err
		}
	}
	delete(r.nodes, nodeID)
	return removed, nil
}
