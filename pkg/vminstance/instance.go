package vminstance

import (
	"context"
	"fmt"
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/log"
	"github.com/parallelvirtualcluster/pvc/pkg/selector"
	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
	"github.com/parallelvirtualcluster/pvc/pkg/zkstore"
)

// pollInterval is the live-migrate receive-side and shutdown-wait poll
// cadence, matching VMInstance.py's 0.5s sleep.
const pollInterval = 500 * time.Millisecond

// Instance is the state machine for one VM UUID. The owner viewpoint
// (Node() == thisNode) drives libvirt; the peer viewpoint only cleans up
// local leftovers.
type Instance struct {
	uuid            string
	store           *zkstore.Store
	hv              Hypervisor
	thisNode        string
	shutdownTimeout time.Duration
	running         *RunningSet

	instart, inrestart, inmigrate, inreceive, inshutdown, instop bool
}

// New constructs an Instance. hv must be non-nil: Reconcile queries it for
// the domain's state on both the owner and the peer path.
func New(uuid string, store *zkstore.Store, hv Hypervisor, thisNode string, shutdownTimeout time.Duration, running *RunningSet) *Instance {
	return &Instance{
		uuid:            uuid,
		store:           store,
		hv:              hv,
		thisNode:        thisNode,
		shutdownTimeout: shutdownTimeout,
		running:         running,
	}
}

func (i *Instance) UUID() string { return i.uuid }

// StartVM creates the libvirt domain from the stored XML and marks it
// running on success, or writes state=stop on failure (VMInstance.py
// start_vm).
func (i *Instance) StartVM() error {
	i.instart = true
	defer func() { i.instart = false }()

	logger := log.WithVM(i.uuid)
	logger.Info().Msg("starting VM")

	schema := i.store.Schema()
	xmlConfig, ok, err := i.store.Read(schema.DomainXML(i.uuid))
	if err != nil || !ok {
		return fmt.Errorf("reading domain XML for %s: %w", i.uuid, err)
	}

	if err := i.hv.DomainCreateFromXML(xmlConfig); err != nil {
		logger.Error().Err(err).Msg("failed to create VM")
		return i.store.WriteOne(schema.DomainState(i.uuid), string(vmtypes.VMStateStop))
	}

	i.running.Add(i.uuid)
	logger.Info().Msg("successfully started VM")
	return nil
}

// ShutdownVM issues an ACPI shutdown and polls up to shutdownTimeout before
// escalating to StopVM (VMInstance.py shutdown_vm).
func (i *Instance) ShutdownVM() error {
	i.inshutdown = true
	defer func() { i.inshutdown = false }()

	logger := log.WithVM(i.uuid)
	logger.Info().Msg("gracefully stopping VM")

	if err := i.hv.DomainShutdown(i.uuid); err != nil {
		return fmt.Errorf("acpi shutdown of %s: %w", i.uuid, err)
	}

	deadline := time.Now().Add(i.shutdownTimeout)
	for time.Now().Before(deadline) {
		state, err := i.hv.DomainState(i.uuid)
		if err != nil || state != StateRunning {
			break
		}
		time.Sleep(pollInterval)
	}

	if state, err := i.hv.DomainState(i.uuid); err == nil && state == StateRunning {
		logger.Warn().Msg("shutdown timeout expired, escalating to destroy")
		return i.StopVM()
	}

	i.running.Remove(i.uuid)
	if !i.inrestart {
		if err := i.store.WriteOne(i.store.Schema().DomainState(i.uuid), string(vmtypes.VMStateStop)); err != nil {
			return err
		}
	}
	logger.Info().Msg("successfully shut down VM")
	return nil
}

// StopVM immediately destroys the domain (VMInstance.py stop_vm).
func (i *Instance) StopVM() error {
	i.instop = true
	defer func() { i.instop = false }()

	logger := log.WithVM(i.uuid)
	logger.Info().Msg("forcibly stopping VM")

	_ = i.hv.DomainDestroy(i.uuid)
	i.running.Remove(i.uuid)

	if !i.inrestart {
		if err := i.store.WriteOne(i.store.Schema().DomainState(i.uuid), string(vmtypes.VMStateStop)); err != nil {
			return err
		}
	}
	logger.Info().Msg("successfully stopped VM")
	return nil
}

// TerminateVM destroys the domain without touching state, used for peer
// cleanup and split-start resolution (VMInstance.py terminate_vm).
func (i *Instance) TerminateVM() error {
	logger := log.WithVM(i.uuid)
	logger.Info().Msg("terminating local VM leftover")
	err := i.hv.DomainDestroy(i.uuid)
	i.running.Remove(i.uuid)
	return err
}

// RestartVM shuts down then starts the domain, finishing with state=start
// regardless of intermediate outcome (VMInstance.py restart_vm).
func (i *Instance) RestartVM() error {
	i.inrestart = true
	defer func() { i.inrestart = false }()

	if err := i.ShutdownVM(); err != nil {
		log.WithVM(i.uuid).Error().Err(err).Msg("failed to restart VM cleanly")
	}
	if err := i.StartVM(); err != nil {
		log.WithVM(i.uuid).Error().Err(err).Msg("failed to restart VM cleanly")
	}
	return i.store.WriteOne(i.store.Schema().DomainState(i.uuid), string(vmtypes.VMStateStart))
}

// MigrateVM drives the owner side of the live-migrate protocol (spec §4.4):
// attempt a live migration to target, falling back to a cold
// shutdown-then-remote-start on failure.
func (i *Instance) MigrateVM(ctx context.Context, target string) error {
	i.inmigrate = true
	defer func() { i.inmigrate = false }()

	logger := log.WithVM(i.uuid)
	logger.Info().Str("target", target).Msg("migrating VM")

	schema := i.store.Schema()
	if err := i.hv.DomainMigrateLive(ctx, i.uuid, target); err != nil {
		logger.Warn().Err(err).Msg("live migration failed; falling back to cold migrate")
		if err := i.ShutdownVM(); err != nil {
			logger.Error().Err(err).Msg("cold-migrate shutdown failed")
		}
		time.Sleep(time.Second)
		return i.store.WriteOne(schema.DomainState(i.uuid), string(vmtypes.VMStateStart))
	}

	i.running.Remove(i.uuid)
	time.Sleep(time.Second)
	logger.Info().Msg("successfully migrated VM")
	return i.store.WriteOne(schema.DomainState(i.uuid), string(vmtypes.VMStateStart))
}

// UnmigrateVM reads last_node and migrates back there, clearing last_node
// (spec §4.4 unmigrate operation).
func (i *Instance) UnmigrateVM(ctx context.Context) error {
	schema := i.store.Schema()
	lastNode, ok, err := i.store.Read(schema.DomainLastNode(i.uuid))
	if err != nil {
		return err
	}
	if !ok || lastNode == "" {
		return fmt.Errorf("no last_node recorded for %s", i.uuid)
	}
	if err := i.MigrateVM(ctx, lastNode); err != nil {
		return err
	}
	return i.store.WriteOne(schema.DomainLastNode(i.uuid), "")
}

// ReceiveMigrate is the target-side half of the live-migrate protocol: poll
// until the domain appears RUNNING or the store's state leaves "migrate"
// (VMInstance.py receive_migrate).
func (i *Instance) ReceiveMigrate(ctx context.Context) error {
	i.inreceive = true
	defer func() { i.inreceive = false }()

	logger := log.WithVM(i.uuid)
	logger.Info().Msg("receiving migration")
	schema := i.store.Schema()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		time.Sleep(pollInterval)

		state, ok, err := i.store.Read(schema.DomainState(i.uuid))
		if err != nil || !ok {
			continue
		}
		if state != string(vmtypes.VMStateMigrate) {
			return nil
		}
		domState, err := i.hv.DomainState(i.uuid)
		if err == nil && domState == StateRunning {
			break
		}
	}

	domState, err := i.hv.DomainState(i.uuid)
	if err == nil && domState == StateRunning {
		i.running.Add(i.uuid)
		logger.Info().Msg("successfully received migrated VM")
	} else {
		logger.Error().Msg("failed to receive migrated VM")
	}
	return i.store.WriteOne(schema.DomainState(i.uuid), string(vmtypes.VMStateStart))
}

// FlushLocks breaks any stale RBD advisory locks on this VM's volumes;
// only valid while the domain is not running.
func (i *Instance) FlushLocks(ceph RBDLockBreaker, volumes []string) error {
	for _, vol := range volumes {
		locks, err := ceph.ListLocks(vol)
		if err != nil {
			return fmt.Errorf("listing locks on %s: %w", vol, err)
		}
		for _, lock := range locks {
			if err := ceph.BreakLock(vol, lock); err != nil {
				return fmt.Errorf("breaking lock %s on %s: %w", lock, vol, err)
			}
		}
	}
	return nil
}

// RBDLockBreaker is the narrow Ceph surface FlushLocks needs; pkg/executil's
// Ceph wrapper satisfies it.
type RBDLockBreaker interface {
	ListLocks(volume string) ([]string, error)
	BreakLock(volume, lockID string) error
}

// Reconcile runs one pass of manage_vm_state: it re-reads state/node from
// the store and drives the appropriate owner or peer action. Callers
// invoke it from a store watch on the domain's state znode.
func (i *Instance) Reconcile(ctx context.Context, state vmtypes.VMState, node string) error {
	if i.instart || i.inrestart || i.inmigrate || i.inreceive || i.inshutdown || i.instop {
		return nil
	}

	domRunning, _ := i.hv.DomainState(i.uuid)
	isOwner := node == i.thisNode

	if isOwner {
		return i.reconcileOwner(ctx, state, domRunning)
	}
	return i.reconcilePeer(ctx, state, domRunning, node)
}

func (i *Instance) reconcileOwner(ctx context.Context, state vmtypes.VMState, domState DomainState) error {
	schema := i.store.Schema()

	if domState == StateRunning {
		switch state {
		case vmtypes.VMStateStart, vmtypes.VMStateMirror:
			i.running.Add(i.uuid)
		case vmtypes.VMStateMigrate:
			// Stuck in migrate pointing at ourselves: self-heal (spec §4.4
			// "stuck in migrate" edge case).
			i.running.Add(i.uuid)
			return i.store.WriteOne(schema.DomainState(i.uuid), string(vmtypes.VMStateStart))
		case vmtypes.VMStateRestart:
			return i.RestartVM()
		case vmtypes.VMStateShutdown:
			return i.ShutdownVM()
		case vmtypes.VMStateStop:
			return i.StopVM()
		case vmtypes.VMStateDelete:
			return i.deleteDomain()
		}
		return nil
	}

	switch state {
	case vmtypes.VMStateStart, vmtypes.VMStateMirror:
		return i.StartVM()
	case vmtypes.VMStateMigrate:
		return i.ReceiveMigrate(ctx)
	case vmtypes.VMStateRestart:
		return i.store.WriteOne(schema.DomainState(i.uuid), string(vmtypes.VMStateStart))
	case vmtypes.VMStateShutdown, vmtypes.VMStateStop:
		i.running.Remove(i.uuid)
	case vmtypes.VMStateDelete:
		return i.deleteDomain()
	}
	return nil
}

func (i *Instance) reconcilePeer(ctx context.Context, state vmtypes.VMState, domState DomainState, node string) error {
	if domState != StateRunning {
		return nil
	}
	if state == vmtypes.VMStateMigrate {
		// Domain is running here but node now points at the target: this
		// node is the migrate source (VMInstance.py migrate_vm), so drive
		// the live migration out to node. The target has node == self and
		// is handled by reconcileOwner -> ReceiveMigrate instead.
		return i.MigrateVM(ctx, node)
	}
	// Split-start: we have a local leftover but the store says someone
	// else owns it now. Destroy our copy (spec §4.4 "split start" edge case).
	return i.TerminateVM()
}

func (i *Instance) deleteDomain() error {
	_ = i.hv.DomainDestroy(i.uuid)
	i.running.Remove(i.uuid)
	return i.store.Delete(i.store.Schema().DomainPath(i.uuid), true)
}

// DefineVM creates a new domain subtree at state=stop, picking a target
// node via the selector if none was supplied (spec §4.4 define operation).
func DefineVM(store *zkstore.Store, dom vmtypes.VM, nodes []vmtypes.Node) error {
	schema := store.Schema()
	if dom.Node == "" {
		target, ok := selector.FindTarget(nodes, dom.Meta.NodeSelector, dom, "")
		if !ok {
			return fmt.Errorf("no eligible target node for %s", dom.UUID)
		}
		dom.Node = target
	}

	pairs := []zkstore.KV{
		{Path: schema.DomainXML(dom.UUID), Value: dom.XML},
		{Path: schema.DomainNode(dom.UUID), Value: dom.Node},
		{Path: schema.DomainState(dom.UUID), Value: string(vmtypes.VMStateStop)},
	}
	return store.Write(pairs)
}
