package node

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/localcache"
	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
	"github.com/parallelvirtualcluster/pvc/pkg/zkstore"
)

// nodeRegistry is this node's cached view of base.node/*, refreshed
// whenever the base.node watch fires. It is the production ListNodes
// source for pkg/selector (via pkg/vminstance.Manager) and for
// pkg/fence's coordinator-list reasoning. Every refresh also mirrors the
// freshly read nodes into the local BoltDB cache so a restart has a warm
// (if stale) view before the first ZK round-trip completes.
type nodeRegistry struct {
	store *zkstore.Store
	cache *localcache.Store

	mu    sync.RWMutex
	nodes map[string]vmtypes.Node
}

func newNodeRegistry(store *zkstore.Store, cache *localcache.Store) *nodeRegistry {
	return &nodeRegistry{store: store, cache: cache, nodes: make(map[string]vmtypes.Node)}
}

// ListNodes satisfies vminstance.NodeLister.
func (r *nodeRegistry) ListNodes() ([]vmtypes.Node, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]vmtypes.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out, nil
}

// refresh re-reads the full base.node/* tree. Called from the
// base.node children watch callback; WatchEvent carries no payload so
// every fire means "something under here changed, go re-read it all".
func (r *nodeRegistry) refresh() error {
	schema := r.store.Schema()
	names, err := r.store.Children(schema.NodeRoot())
	if err != nil {
		return err
	}

	next := make(map[string]vmtypes.Node, len(names))
	for _, name := range names {
		n, err := r.readNode(name)
		if err != nil {
			continue
		}
		next[name] = n
		if r.cache != nil {
			r.cache.PutNode(n)
		}
	}

	r.mu.Lock()
	r.nodes = next
	r.mu.Unlock()
	return nil
}

func (r *nodeRegistry) readNode(name string) (vmtypes.Node, error) {
	schema := r.store.Schema()

	raw, err := r.store.ReadMany([]string{
		schema.NodeAttr(name, "mode"),
		schema.NodeDaemonState(name),
		schema.NodeRouterState(name),
		schema.NodeDomainState(name),
		schema.NodeAttr(name, "memory.total"),
		schema.NodeAttr(name, "memory.used"),
		schema.NodeAttr(name, "memory.free"),
		schema.NodeAttr(name, "memory.allocated"),
		schema.NodeAttr(name, "memory.provisioned"),
		schema.NodeAttr(name, "vcpu.allocated"),
		schema.NodeAttr(name, "cpu.load"),
		schema.NodeAttr(name, "count.provisioned_domains"),
		schema.NodeAttr(name, "running_domains"),
		schema.NodeKeepalive(name),
		schema.NodeIPMIHostname(name),
		schema.NodeIPMIUsername(name),
		schema.NodeIPMIPassword(name),
		schema.NodeMonitoringHealth(name),
	})
	if err != nil {
		return vmtypes.Node{}, err
	}

	n := vmtypes.Node{
		Name:        name,
		Mode:        vmtypes.NodeMode(raw[schema.NodeAttr(name, "mode")]),
		DaemonState: vmtypes.DaemonState(raw[schema.NodeDaemonState(name)]),
		RouterState: vmtypes.RouterState(raw[schema.NodeRouterState(name)]),
		DomainState: vmtypes.DomainState(raw[schema.NodeDomainState(name)]),
		Resources: vmtypes.NodeResources{
			MemoryTotal:       parseInt64(raw[schema.NodeAttr(name, "memory.total")]),
			MemoryUsed:        parseInt64(raw[schema.NodeAttr(name, "memory.used")]),
			MemoryFree:        parseInt64(raw[schema.NodeAttr(name, "memory.free")]),
			MemoryAllocated:   parseInt64(raw[schema.NodeAttr(name, "memory.allocated")]),
			MemoryProvisioned: parseInt64(raw[schema.NodeAttr(name, "memory.provisioned")]),
			VCPUAllocated:     int(parseInt64(raw[schema.NodeAttr(name, "vcpu.allocated")])),
			CPULoad:           parseFloat(raw[schema.NodeAttr(name, "cpu.load")]),
			ProvisionedCount:  int(parseInt64(raw[schema.NodeAttr(name, "count.provisioned_domains")])),
			RunningDomains:    splitFields(raw[schema.NodeAttr(name, "running_domains")]),
		},
		IPMI: vmtypes.NodeIPMI{
			Hostname: raw[schema.NodeIPMIHostname(name)],
			Username: raw[schema.NodeIPMIUsername(name)],
			Password: raw[schema.NodeIPMIPassword(name)],
		},
		MonitoringHealth: int(parseInt64(raw[schema.NodeMonitoringHealth(name)])),
	}

	if ts := parseInt64(raw[schema.NodeKeepalive(name)]); ts > 0 {
		n.Keepalive = time.Unix(ts, 0)
	}

	return n, nil
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func splitFields(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
