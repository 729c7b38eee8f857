// Package vmtypes defines the cluster data model shared by every PVC
// subsystem: nodes, VMs (domains), networks, faults and the primary
// pointer. These are the logical values read and written through
// pkg/zkstore; nothing in this package talks to the coordination store
// directly.
package vmtypes

import "time"

// NodeMode is whether a node may hold the primary role.
type NodeMode string

const (
	NodeModeCoordinator NodeMode = "coordinator"
	NodeModeHypervisor  NodeMode = "hypervisor"
)

// DaemonState is a node's own liveness state.
type DaemonState string

const (
	DaemonStateInit     DaemonState = "init"
	DaemonStateRun      DaemonState = "run"
	DaemonStateShutdown DaemonState = "shutdown"
	DaemonStateStop     DaemonState = "stop"
	DaemonStateDead     DaemonState = "dead"
	DaemonStateFenced   DaemonState = "fenced"
)

// RouterState is a coordinator's primary-election state.
type RouterState string

const (
	RouterStatePrimary    RouterState = "primary"
	RouterStateSecondary  RouterState = "secondary"
	RouterStateTakeover   RouterState = "takeover"
	RouterStateRelinquish RouterState = "relinquish"
	RouterStateNone       RouterState = "none"
)

// DomainState is a node's local VM-flush state, distinct from a VM's own state.
type DomainState string

const (
	NodeDomainStateReady      DomainState = "ready"
	NodeDomainStateFlush      DomainState = "flush"
	NodeDomainStateFlushed    DomainState = "flushed"
	NodeDomainStateUnflush    DomainState = "unflush"
	NodeDomainStateFenceFlush DomainState = "fence-flush"
)

// Node is one physical hypervisor host (base.node/<name>).
type Node struct {
	Name   string
	Mode   NodeMode
	Static NodeStaticData

	DaemonState DaemonState
	RouterState RouterState
	DomainState DomainState

	Resources NodeResources

	Keepalive time.Time

	IPMI NodeIPMI

	MonitoringHealth  int
	MonitoringPlugins []string

	NetworkStatsJSON string
}

// NodeStaticData is collected once at daemon start.
type NodeStaticData struct {
	CPUCount int
	Kernel   string
	OS       string
	Arch     string
}

// NodeResources holds the counters the keepalive loop maintains (spec §4.8).
type NodeResources struct {
	MemoryTotal       int64 // bytes
	MemoryUsed        int64
	MemoryFree        int64
	MemoryAllocated   int64 // sum of RAM of domains currently running here
	MemoryProvisioned int64 // sum of RAM of domains whose node==this, regardless of run state
	VCPUAllocated     int
	CPULoad           float64
	RunningDomains    []string
	ProvisionedCount  int
}

// HostSample is one raw reading of this node's own libvirt node-info and
// load average, the input the keepalive loop (C8) turns into NodeResources.
type HostSample struct {
	MemoryTotal int64 // bytes
	MemoryUsed  int64
	MemoryFree  int64
	CPUCount    int
	LoadAvg1    float64
	Kernel      string
	OS          string
	Arch        string
}

// NodeIPMI holds the BMC credentials for fencing (spec §4.2, §6).
type NodeIPMI struct {
	Hostname string
	Username string
	Password string
}

// VMState is a VM's desired state per spec §3/§4.4.
type VMState string

const (
	VMStateStart     VMState = "start"
	VMStateRestart   VMState = "restart"
	VMStateShutdown  VMState = "shutdown"
	VMStateStop      VMState = "stop"
	VMStateDisable   VMState = "disable"
	VMStateFail      VMState = "fail"
	VMStateMigrate   VMState = "migrate"
	VMStateUnmigrate VMState = "unmigrate"
	VMStateProvision VMState = "provision"
	VMStateImport    VMState = "import"
	VMStateRestore   VMState = "restore"
	VMStateMirror    VMState = "mirror"
	VMStateDelete    VMState = "delete"
)

// VM is a single libvirt domain (base.domain/<uuid>).
type VM struct {
	UUID         string
	Name         string
	State        VMState
	Node         string
	LastNode     string
	FailedReason string
	XML          string

	Meta VMMeta

	StorageVolumes []string // pool/volume pairs, comma-joined on the wire

	Snapshots []VMSnapshot
	Tags      []VMTag
}

// VMMeta mirrors domain.meta.* keys.
type VMMeta struct {
	Autostart        bool
	NodeLimit        []string
	NodeSelector     SelectorPolicy
	MigrationMethod  string
	Profile          string
	MemoryMB         int64 // configured RAM, drives memory.allocated/provisioned
	VCPUCount        int
}

// SelectorPolicy is the target-selector scoring function (spec §4.3).
type SelectorPolicy string

const (
	SelectorMem   SelectorPolicy = "mem"
	SelectorLoad  SelectorPolicy = "load"
	SelectorVCPUs SelectorPolicy = "vcpus"
	SelectorVMs   SelectorPolicy = "vms"
)

// VMSnapshot is one point-in-time RBD snapshot set for a VM.
type VMSnapshot struct {
	Name          string
	Timestamp     time.Time
	XML           string
	RBDSnapshots  []string
}

// VMTag is a user label on a VM.
type VMTag struct {
	Name      string
	Protected bool
}

// NetworkType is the PVC network mode (spec §3).
type NetworkType string

const (
	NetworkManaged NetworkType = "managed"
	NetworkBridged NetworkType = "bridged"
	NetworkDirect  NetworkType = "direct"
)

// Network is a PVC client network (base.network/<vni>).
type Network struct {
	VNI  int
	Type NetworkType

	IPv4 NetworkIPConfig
	IPv6 NetworkIPConfig

	FirewallRulesIn  []FirewallRule
	FirewallRulesOut []FirewallRule

	NameServers []string
	Domain      string
}

// NetworkIPConfig holds one address family's network configuration.
type NetworkIPConfig struct {
	Network          string // CIDR
	Gateway          string
	DHCPEnabled      bool
	DHCPStart        string
	DHCPEnd          string
	DHCPReservations []DHCPReservation
}

// DHCPReservation is a static MAC->IP mapping.
type DHCPReservation struct {
	MAC      string
	IP       string
	Hostname string
}

// FirewallRule is one ordered nftables-generating rule.
type FirewallRule struct {
	Name  string
	Order int
	Rule  string // raw rule description; expanded by pkg/netres
}

// Fault is a cluster-wide condition record (base.faults/<id>).
type Fault struct {
	ID           string
	Name         string
	FirstTime    time.Time
	LastTime     time.Time
	Delta        int
	Message      string
	Details      string
	Acknowledged bool
}

// FencePolicy is the action taken after a fence outcome (spec §4.2).
type FencePolicy string

const (
	FencePolicyMigrate FencePolicy = "migrate"
	FencePolicyNone    FencePolicy = "none"
)
