package node

import (
	"context"

	"github.com/parallelvirtualcluster/pvc/pkg/events"
	"github.com/parallelvirtualcluster/pvc/pkg/log"
	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
	"github.com/parallelvirtualcluster/pvc/pkg/zkstore"
)

// installWatches arms the four store watches that drive this daemon's
// reactive behavior (spec §4): the node list (selector/fence input), the
// domain list (per-VM reconciliation), the network list (primary
// takeover/relinquish input), and the primary pointer itself. The Ceph
// command queue watch is armed separately by watchCephCmdQueue since it
// needs a *executil.Ceph value Run doesn't otherwise plumb through here.
func (n *Node) installWatches(ctx context.Context) {
	schema := n.store.Schema()

	n.store.WatchChildren(schema.NodeRoot(), n.watchStop, func(ev zkstore.WatchEvent) {
		if ev.Err != nil {
			return
		}
		if err := n.nodes.refresh(); err != nil {
			log.WithNode(n.cfg.NodeHostname).Warn().Err(err).Msg("node list refresh failed")
		}
	})

	n.store.WatchChildren(schema.NetworkRoot(), n.watchStop, func(ev zkstore.WatchEvent) {
		if ev.Err != nil {
			return
		}
		if err := n.networks.refresh(); err != nil {
			log.WithNode(n.cfg.NodeHostname).Warn().Err(err).Msg("network list refresh failed")
		}
	})

	n.store.WatchChildren(schema.DomainRoot(), n.watchStop, func(ev zkstore.WatchEvent) {
		if ev.Err != nil {
			return
		}
		n.reconcileAllDomains(ctx)
	})

	n.store.Watch(schema.PrimaryNodePath(), n.watchStop, func(ev zkstore.WatchEvent) {
		if ev.Err != nil {
			return
		}
		raw, ok, err := n.store.Read(schema.PrimaryNodePath())
		if err != nil || !ok {
			return
		}
		if err := n.elector.Reconcile(ctx, raw); err != nil {
			log.WithNode(n.cfg.NodeHostname).Warn().Err(err).Msg("primary reconcile failed")
			return
		}
		if raw == n.cfg.NodeHostname {
			n.broker.Publish(&events.Event{Type: events.EventPrimaryTakeover, Message: "this node is now primary"})
		}
	})
}

// reconcileAllDomains re-reads every domain's state/node and drives its
// Instance; called whenever the domain-list watch fires, since
// WatchChildren carries no payload beyond "something changed".
func (n *Node) reconcileAllDomains(ctx context.Context) {
	schema := n.store.Schema()
	uuids, err := n.store.Children(schema.DomainRoot())
	if err != nil {
		log.WithNode(n.cfg.NodeHostname).Warn().Err(err).Msg("listing domains failed")
		return
	}

	for _, uuid := range uuids {
		raw, ok, err := n.store.Read(schema.DomainState(uuid))
		if err != nil || !ok {
			continue
		}
		nodeName, _, err := n.store.Read(schema.DomainNode(uuid))
		if err != nil {
			continue
		}

		inst := n.vms.Get(uuid)
		if err := inst.Reconcile(ctx, vmtypes.VMState(raw), nodeName); err != nil {
			log.WithVM(uuid).Warn().Err(err).Msg("domain reconcile failed")
			continue
		}
		n.watchDomain(ctx, uuid)
	}
}

// watchDomain arms a per-domain watch the first time reconcileAllDomains
// sees that UUID, so a state change on one VM re-reconciles only that VM
// rather than the whole list; re-arming is idempotent since Watch simply
// replaces nothing (each call spawns its own goroutine keyed by uuid, so
// this is guarded by seenDomains).
func (n *Node) watchDomain(ctx context.Context, uuid string) {
	n.mu.Lock()
	if n.seenDomains == nil {
		n.seenDomains = make(map[string]bool)
	}
	if n.seenDomains[uuid] {
		n.mu.Unlock()
		return
	}
	n.seenDomains[uuid] = true
	n.mu.Unlock()

	schema := n.store.Schema()
	n.store.Watch(schema.DomainState(uuid), n.watchStop, func(ev zkstore.WatchEvent) {
		if ev.Err != nil {
			return
		}
		raw, ok, err := n.store.Read(schema.DomainState(uuid))
		if err != nil || !ok {
			return
		}
		nodeName, _, err := n.store.Read(schema.DomainNode(uuid))
		if err != nil {
			return
		}
		inst := n.vms.Get(uuid)
		if err := inst.Reconcile(ctx, vmtypes.VMState(raw), nodeName); err != nil {
			log.WithVM(uuid).Warn().Err(err).Msg("domain reconcile failed")
		}
	})
}
