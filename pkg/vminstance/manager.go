package vminstance

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/log"
	"github.com/parallelvirtualcluster/pvc/pkg/selector"
	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
	"github.com/parallelvirtualcluster/pvc/pkg/zkstore"
)

// RunningSet is this node's local view of which VM UUIDs it currently runs,
// replacing VMInstance.py's thishypervisor.domain_list.
type RunningSet struct {
	mu    sync.Mutex
	uuids map[string]struct{}
}

func NewRunningSet() *RunningSet {
	return &RunningSet{uuids: make(map[string]struct{})}
}

func (r *RunningSet) Add(uuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uuids[uuid] = struct{}{}
}

func (r *RunningSet) Remove(uuid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.uuids, uuid)
}

func (r *RunningSet) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.uuids))
	for u := range r.uuids {
		out = append(out, u)
	}
	return out
}

// NodeLister supplies the live node set for target selection; pkg/node
// implements it from its cached view of base.node/*.
type NodeLister interface {
	ListNodes() ([]vmtypes.Node, error)
}

// Manager owns every Instance on this node and is the production
// implementation of pkg/fence.MigrationHandler.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*Instance

	store           *zkstore.Store
	hv              Hypervisor
	thisNode        string
	shutdownTimeout time.Duration
	running         *RunningSet
	nodes           NodeLister
	locks           RBDLockBreaker
}

func NewManager(store *zkstore.Store, hv Hypervisor, thisNode string, shutdownTimeout time.Duration, nodes NodeLister, locks RBDLockBreaker) *Manager {
	return &Manager{
		instances:       make(map[string]*Instance),
		store:           store,
		hv:              hv,
		thisNode:        thisNode,
		shutdownTimeout: shutdownTimeout,
		running:         NewRunningSet(),
		nodes:           nodes,
		locks:           locks,
	}
}

// Get returns the Instance for uuid, creating it (and its watch-driven
// state machine) on first reference.
func (m *Manager) Get(uuid string) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[uuid]; ok {
		return inst
	}
	inst := New(uuid, m.store, m.hv, m.thisNode, m.shutdownTimeout, m.running)
	m.instances[uuid] = inst
	return inst
}

// Forget drops an Instance after its domain subtree has been deleted.
func (m *Manager) Forget(uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, uuid)
}

// LocalRunningDomains returns the UUIDs this node is actually running
// libvirt domains for right now, feeding the keepalive loop's (C8)
// running_domains/memory.allocated computation.
func (m *Manager) LocalRunningDomains() []string {
	return m.running.List()
}

// RunningDomains implements pkg/fence.MigrationHandler: it lists every
// domain in the store whose home node is still node, regardless of
// whether this process is running on that node (the fencer calls this
// from whichever coordinator won the fence, not from the dead node).
func (m *Manager) RunningDomains(node string) ([]string, error) {
	schema := m.store.Schema()
	uuids, err := m.store.Children(schema.DomainRoot())
	if err != nil {
		return nil, fmt.Errorf("listing domains: %w", err)
	}

	var owned []string
	for _, uuid := range uuids {
		domNode, ok, err := m.store.Read(schema.DomainNode(uuid))
		if err != nil || !ok {
			continue
		}
		if domNode == node {
			owned = append(owned, uuid)
		}
	}
	return owned, nil
}

// FlushLocksAndMigrate implements pkg/fence.MigrationHandler: it breaks
// stale RBD locks for dom, then picks a new target and migrates, or marks
// the VM stopped with autostart set if no target is available
// (original_source/pvc/common.py migrateFromFencedNode).
func (m *Manager) FlushLocksAndMigrate(dom vmtypes.VM, deadNode string) error {
	schema := m.store.Schema()
	logger := log.WithVM(dom.UUID)

	volumes, err := m.readVolumes(dom.UUID)
	if err != nil {
		return err
	}
	if m.locks != nil {
		inst := m.Get(dom.UUID)
		if err := inst.FlushLocks(m.locks, volumes); err != nil {
			logger.Warn().Err(err).Msg("failed to flush RBD locks, continuing anyway")
		}
	}

	nodes, err := m.nodes.ListNodes()
	if err != nil {
		return fmt.Errorf("listing nodes for fenced-VM migration: %w", err)
	}

	meta, err := m.readMeta(dom.UUID)
	if err != nil {
		return err
	}
	dom.Meta = meta

	target, ok := selector.FindTarget(nodes, dom.Meta.NodeSelector, dom, deadNode)
	if !ok {
		logger.Warn().Msg("no target available for fenced VM; marking stopped with autostart")
		return m.store.Write([]zkstore.KV{
			{Path: schema.DomainState(dom.UUID), Value: string(vmtypes.VMStateStop)},
			{Path: schema.DomainAttr(dom.UUID, "meta.autostart"), Value: "true"},
		})
	}

	logger.Info().Str("target", target).Msg("migrating VM off fenced node")
	return m.store.Write([]zkstore.KV{
		{Path: schema.DomainState(dom.UUID), Value: string(vmtypes.VMStateStart)},
		{Path: schema.DomainNode(dom.UUID), Value: target},
		{Path: schema.DomainLastNode(dom.UUID), Value: deadNode},
	})
}

func (m *Manager) readVolumes(uuid string) ([]string, error) {
	raw, ok, err := m.store.Read(m.store.Schema().DomainAttr(uuid, "storage.volumes"))
	if err != nil || !ok || raw == "" {
		return nil, err
	}
	return strings.Split(raw, ","), nil
}

func (m *Manager) readMeta(uuid string) (vmtypes.VMMeta, error) {
	schema := m.store.Schema()
	selectorRaw, _, err := m.store.Read(schema.DomainMetaNodeSelector(uuid))
	if err != nil {
		return vmtypes.VMMeta{}, err
	}
	limitRaw, _, err := m.store.Read(schema.DomainMetaNodeLimit(uuid))
	if err != nil {
		return vmtypes.VMMeta{}, err
	}
	var limit []string
	if limitRaw != "" {
		limit = strings.Split(limitRaw, ",")
	}
	return vmtypes.VMMeta{
		NodeSelector: vmtypes.SelectorPolicy(selectorRaw),
		NodeLimit:    limit,
	}, nil
}
