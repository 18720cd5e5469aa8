package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bridgetopo/internal/discoveryworker"
	"bridgetopo/internal/topology"
)

type bridgePortView struct {
	NodeID     int    `json:"node_id"`
	BridgePort int    `json:"bridge_port"`
	IfIndex    int    `json:"if_index"`
	IfName     string `json:"if_name,omitempty"`
	VLAN       int    `json:"vlan,omitempty"`
}

type bridgeView struct {
	NodeID      int             `json:"node_id"`
	Identifiers []string        `json:"identifiers"`
	IsRoot      bool            `json:"is_root"`
	RootPort    *bridgePortView `json:"root_port,omitempty"`
	HasTable    bool            `json:"has_forwarding_table"`
}

type segmentView struct {
	DesignatedBridge int              `json:"designated_bridge"`
	Ports            []bridgePortView `json:"ports"`
	Macs             []string         `json:"macs"`
}

type domainSummary struct {
	Name     string `json:"name"`
	RootID   int    `json:"root_id,omitempty"`
	Bridges  int    `json:"bridges"`
	Segments int    `json:"segments"`
}

type domainView struct {
	Name     string        `json:"name"`
	RootID   int           `json:"root_id,omitempty"`
	Bridges  []bridgeView  `json:"bridges"`
	Segments []segmentView `json:"segments"`
}

type bridgeLinkView struct {
	Port       bridgePortView `json:"port"`
	Designated bridgePortView `json:"designated"`
	CreateTime time.Time      `json:"create_time"`
	PollTime   time.Time      `json:"poll_time"`
}

type macLinkView struct {
	Port       bridgePortView `json:"port"`
	MAC        string         `json:"mac"`
	CreateTime time.Time      `json:"create_time"`
	PollTime   time.Time      `json:"poll_time"`
}

type linksView struct {
	Domain      string           `json:"domain"`
	BridgeLinks []bridgeLinkView `json:"bridge_links"`
	MacLinks    []macLinkView    `json:"mac_links"`
}

func toPortView(p topology.BridgePort) bridgePortView {
	return bridgePortView{NodeID: p.NodeID, BridgePort: p.BridgePort, IfIndex: p.IfIndex, IfName: p.IfName, VLAN: p.VLAN}
}

func toDomainView(name string, snap topology.Snapshot) domainView {
	out := domainView{
		Name:     name,
		RootID:   snap.RootID,
		Bridges:  make([]bridgeView, 0, len(snap.Bridges)),
		Segments: make([]segmentView, 0, len(snap.Segments)),
	}
	for _, b := range snap.Bridges {
		bv := bridgeView{NodeID: b.NodeID(), Identifiers: b.Identifiers(), IsRoot: b.IsRoot(), HasTable: b.HasTable()}
		if rp, ok := b.RootPort(); ok {
			v := toPortView(rp)
			bv.RootPort = &v
		}
		out.Bridges = append(out.Bridges, bv)
	}
	for _, seg := range snap.Segments {
		sv := segmentView{DesignatedBridge: seg.DesignatedBridge(), Macs: seg.Macs()}
		for _, p := range seg.Ports() {
			sv.Ports = append(sv.Ports, toPortView(p))
		}
		if sv.Macs == nil {
			sv.Macs = []string{}
		}
		out.Segments = append(out.Segments, sv)
	}
	return out
}

func (h *Handler) domainParam(w http.ResponseWriter, r *http.Request) (string, *topology.BroadcastDomain, bool) {
	name := strings.TrimSpace(chi.URLParam(r, "domain"))
	d, ok := h.registry.Lookup(name)
	if !ok {
		h.writeError(w, http.StatusNotFound, "not_found", "broadcast domain not found", map[string]any{"domain": name})
		return name, nil, false
	}
	return name, d, true
}

func (h *Handler) nodeIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "nodeID")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_id", "node id must be a positive integer", map[string]any{"node_id": raw})
		return 0, false
	}
	return id, true
}

// writeTopologyError maps engine failures: invalid input is a 400, a rejected
// topology operation a 409.
func (h *Handler) writeTopologyError(w http.ResponseWriter, err error, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["error"] = err.Error()

	var topoErr *topology.TopologyError
	switch {
	case errors.Is(err, topology.ErrInvalidMAC):
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid mac address", details)
	case errors.As(err, &topoErr):
		details["op"] = topoErr.Op
		h.writeError(w, http.StatusConflict, "topology_error", topoErr.Msg, details)
	default:
		h.log.Error().Err(err).Msg("topology operation failed")
		h.writeError(w, http.StatusInternalServerError, "internal_error", "topology operation failed", nil)
	}
}

func (h *Handler) handleListDomains(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()
	resp := make([]domainSummary, 0, len(names))
	for _, name := range names {
		d, ok := h.registry.Lookup(name)
		if !ok {
			continue
		}
		snap := d.Snapshot()
		resp = append(resp, domainSummary{Name: name, RootID: snap.RootID, Bridges: len(snap.Bridges), Segments: len(snap.Segments)})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	name, d, ok := h.domainParam(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, toDomainView(name, d.Snapshot()))
}

func (h *Handler) handleDomainMacs(w http.ResponseWriter, r *http.Request) {
	name, d, ok := h.domainParam(w, r)
	if !ok {
		return
	}
	macs := d.MacsOnDomain()
	if macs == nil {
		macs = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"domain": name, "macs": macs})
}

func (h *Handler) handleDomainLinks(w http.ResponseWriter, r *http.Request) {
	name, d, ok := h.domainParam(w, r)
	if !ok {
		return
	}
	bridgeLinks, err := d.BridgeBridgeLinks()
	if err != nil {
		h.writeTopologyError(w, err, map[string]any{"domain": name})
		return
	}
	resp := linksView{Domain: name, BridgeLinks: []bridgeLinkView{}, MacLinks: []macLinkView{}}
	for _, l := range bridgeLinks {
		resp.BridgeLinks = append(resp.BridgeLinks, bridgeLinkView{
			Port:       toPortView(l.Port()),
			Designated: toPortView(l.Designated()),
			CreateTime: l.CreateTime,
			PollTime:   l.PollTime,
		})
	}
	for _, l := range d.BridgeMacLinks() {
		resp.MacLinks = append(resp.MacLinks, macLinkView{
			Port:       toPortView(l.Port()),
			MAC:        l.MAC,
			CreateTime: l.CreateTime,
			PollTime:   l.PollTime,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

type forwardingTablePort struct {
	BridgePort int    `json:"bridge_port"`
	IfIndex    int    `json:"if_index,omitempty"`
	IfName     string `json:"if_name,omitempty"`
	VLAN       int    `json:"vlan,omitempty"`
}

type forwardingTableEntry struct {
	BridgePort int    `json:"bridge_port"`
	MAC        string `json:"mac"`
}

type forwardingTableRequest struct {
	PolledAt    *time.Time             `json:"polled_at,omitempty"`
	Identifiers []string               `json:"identifiers,omitempty"`
	Ports       []forwardingTablePort  `json:"ports,omitempty"`
	Entries     []forwardingTableEntry `json:"entries"`
}

func (req forwardingTableRequest) table(nodeID int) (*topology.ForwardingTable, error) {
	polled := time.Now().UTC()
	if req.PolledAt != nil {
		polled = *req.PolledAt
	}
	t := topology.NewForwardingTable(nodeID, polled)
	for _, id := range req.Identifiers {
		if err := t.AddIdentifier(id); err != nil {
			return nil, err
		}
	}
	for _, p := range req.Ports {
		if err := t.SetPort(topology.BridgePort{BridgePort: p.BridgePort, IfIndex: p.IfIndex, IfName: p.IfName, VLAN: p.VLAN}); err != nil {
			return nil, err
		}
	}
	for _, e := range req.Entries {
		if err := t.Add(e.BridgePort, e.MAC); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// handleSubmitForwardingTable runs the topology update task of one bridge with
// the posted table. The domain is created on first use.
func (h *Handler) handleSubmitForwardingTable(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := h.nodeIDParam(w, r)
	if !ok {
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "domain"))

	var req forwardingTableRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	table, err := req.table(nodeID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid forwarding table", map[string]any{"error": err.Error()})
		return
	}

	if current, ok := h.registry.DomainOf(nodeID); ok && current != name {
		h.writeError(w, http.StatusConflict, "bridge_in_other_domain", "bridge belongs to another broadcast domain", map[string]any{"node_id": nodeID, "domain": current})
		return
	}
	var invalid error
	d, err := h.registry.Update(nodeID, name, nil, func(d *topology.BroadcastDomain) error {
		task := discoveryworker.NewNodeDiscovery(h.log, nodeID, name, d, h.metrics)
		if err := task.AddUpdatedBFT(nodeID, table); err != nil {
			invalid = err
			return err
		}
		return task.Calculate()
	})
	if invalid != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid forwarding table", map[string]any{"error": invalid.Error()})
		return
	}
	if err != nil {
		h.writeTopologyError(w, err, map[string]any{"node_id": nodeID, "domain": name})
		return
	}
	h.writeJSON(w, http.StatusOK, toDomainView(name, d.Snapshot()))
}

type setRootRequest struct {
	NodeID int `json:"node_id"`
}

func (h *Handler) handleSetRoot(w http.ResponseWriter, r *http.Request) {
	var req setRootRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid json body", map[string]any{"error": err.Error()})
		return
	}
	name, d, ok := h.domainParam(w, r)
	if !ok {
		return
	}
	if !d.HasBridge(req.NodeID) {
		h.writeError(w, http.StatusNotFound, "not_found", "bridge not in domain", map[string]any{"domain": name, "node_id": req.NodeID})
		return
	}
	if err := d.HierarchySetUp(req.NodeID); err != nil {
		h.writeTopologyError(w, err, map[string]any{"domain": name, "node_id": req.NodeID})
		return
	}
	h.writeJSON(w, http.StatusOK, toDomainView(name, d.Snapshot()))
}

func (h *Handler) handleClearBridge(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := h.nodeIDParam(w, r)
	if !ok {
		return
	}
	name, d, ok := h.domainParam(w, r)
	if !ok {
		return
	}
	if !d.HasBridge(nodeID) {
		h.writeError(w, http.StatusNotFound, "not_found", "bridge not in domain", map[string]any{"domain": name, "node_id": nodeID})
		return
	}
	if err := d.ClearTopologyForBridge(nodeID); err != nil {
		h.writeTopologyError(w, err, map[string]any{"domain": name, "node_id": nodeID})
		return
	}
	h.writeJSON(w, http.StatusOK, toDomainView(name, d.Snapshot()))
}

func (h *Handler) handleRemoveBridge(w http.ResponseWriter, r *http.Request) {
	nodeID, ok := h.nodeIDParam(w, r)
	if !ok {
		return
	}
	name, _, ok := h.domainParam(w, r)
	if !ok {
		return
	}
	if current, ok := h.registry.DomainOf(nodeID); !ok || current != name {
		h.writeError(w, http.StatusNotFound, "not_found", "bridge not in domain", map[string]any{"domain": name, "node_id": nodeID})
		return
	}
	if _, err := h.registry.Forget(nodeID); err != nil {
		h.writeTopologyError(w, err, map[string]any{"domain": name, "node_id": nodeID})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
