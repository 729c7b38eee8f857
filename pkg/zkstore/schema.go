package zkstore

import "strings"

// SchemaVersion identifies the on-disk znode layout this build expects.
// None of the paths below include it.
const SchemaVersion = 0

// Schema resolves logical entity/attribute names to literal znode paths.
// It is the only place literal paths may appear; pkg/selector, pkg/fence,
// pkg/vminstance, pkg/primary, pkg/keepalive, pkg/node and pkg/monitor all
// go through it instead of building paths themselves.
type Schema struct {
	root string
}

// NewSchema returns the schema rooted at root (normally "/pvc" or similar,
// configurable so a test cluster can coexist with a production one in the
// same ZooKeeper ensemble).
func NewSchema(root string) Schema {
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		root = "/pvc"
	}
	return Schema{root: root}
}

// VersionPath is the znode holding the schema version this cluster was
// initialized with.
func (s Schema) VersionPath() string { return s.root + "/schema/version" }

// --- Node (base.node/<name>) ---

func (s Schema) NodeRoot() string { return s.root + "/base/node" }

func (s Schema) NodePath(name string) string { return s.NodeRoot() + "/" + name }

// NodeAttr resolves a dotted logical attribute (e.g. "state.daemon",
// "memory.provisioned") to its znode path under a node.
func (s Schema) NodeAttr(name, attr string) string {
	return s.NodePath(name) + "/" + strings.ReplaceAll(attr, ".", "/")
}

func (s Schema) NodeKeepalive(name string) string { return s.NodeAttr(name, "keepalive") }
func (s Schema) NodeMode(name string) string      { return s.NodeAttr(name, "mode") }
func (s Schema) NodeDaemonState(name string) string { return s.NodeAttr(name, "state.daemon") }
func (s Schema) NodeRouterState(name string) string { return s.NodeAttr(name, "state.router") }
func (s Schema) NodeDomainState(name string) string { return s.NodeAttr(name, "state.domain") }
func (s Schema) NodeIPMIHostname(name string) string { return s.NodeAttr(name, "ipmi.hostname") }
func (s Schema) NodeIPMIUsername(name string) string { return s.NodeAttr(name, "ipmi.username") }
func (s Schema) NodeIPMIPassword(name string) string { return s.NodeAttr(name, "ipmi.password") }
func (s Schema) NodeMonitoringHealth(name string) string { return s.NodeAttr(name, "monitoring.health") }
func (s Schema) NodeMonitoringPluginData(name, plugin string) string {
	return s.NodeAttr(name, "monitoring.data") + "/" + plugin
}
func (s Schema) NodeNetworkStats(name string) string { return s.NodeAttr(name, "network.stats") }

// --- Domain / VM (base.domain/<uuid>) ---

func (s Schema) DomainRoot() string { return s.root + "/base/domain" }

func (s Schema) DomainPath(uuid string) string { return s.DomainRoot() + "/" + uuid }

func (s Schema) DomainAttr(uuid, attr string) string {
	return s.DomainPath(uuid) + "/" + strings.ReplaceAll(attr, ".", "/")
}

func (s Schema) DomainState(uuid string) string     { return s.DomainAttr(uuid, "state") }
func (s Schema) DomainNode(uuid string) string       { return s.DomainAttr(uuid, "node") }
func (s Schema) DomainLastNode(uuid string) string   { return s.DomainAttr(uuid, "last_node") }
func (s Schema) DomainFailedReason(uuid string) string { return s.DomainAttr(uuid, "failed_reason") }
func (s Schema) DomainXML(uuid string) string        { return s.DomainAttr(uuid, "xml") }
func (s Schema) DomainMetaNodeLimit(uuid string) string { return s.DomainAttr(uuid, "meta.node_limit") }
func (s Schema) DomainMetaNodeSelector(uuid string) string {
	return s.DomainAttr(uuid, "meta.node_selector")
}
func (s Schema) DomainSnapshotPath(uuid, snapname string) string {
	return s.DomainPath(uuid) + "/snapshots/" + snapname
}
func (s Schema) DomainTagPath(uuid, tag string) string {
	return s.DomainPath(uuid) + "/tags/" + tag
}

// --- Network (base.network/<vni>) ---

func (s Schema) NetworkRoot() string { return s.root + "/base/network" }

func (s Schema) NetworkPath(vni string) string { return s.NetworkRoot() + "/" + vni }

func (s Schema) NetworkAttr(vni, attr string) string {
	return s.NetworkPath(vni) + "/" + strings.ReplaceAll(attr, ".", "/")
}

// --- Fault (base.faults/<id>) ---

func (s Schema) FaultRoot() string { return s.root + "/base/faults" }

func (s Schema) FaultPath(id string) string { return s.FaultRoot() + "/" + id }

func (s Schema) FaultAttr(id, attr string) string {
	return s.FaultPath(id) + "/" + strings.ReplaceAll(attr, ".", "/")
}

// --- Cluster-wide config ---

func (s Schema) PrimaryNodePath() string { return s.root + "/base/config/primary_node" }

// --- Command queues (base.cmd.*) ---

func (s Schema) CmdQueuePath(name string) string { return s.root + "/base/cmd/" + name }

// --- Locking namespace ---

func (s Schema) LockPath(name string) string { return s.root + "/base/lock/" + name }
