package primary

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/log"
	"github.com/parallelvirtualcluster/pvc/pkg/netres"
	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
	"github.com/parallelvirtualcluster/pvc/pkg/zkstore"
)

// noPrimary is the sentinel value of base.config.primary_node meaning no
// coordinator currently holds the role.
const noPrimary = "none"

// NetworkManager is the slice of *netres.Manager this package drives
// during takeover/relinquish. Declared narrow here so pkg/primary never
// imports pkg/netres for anything but the Network value type.
type NetworkManager interface {
	TakeoverNetwork(ctx context.Context, net netres.Network) error
	RelinquishNetwork(net netres.Network) error
	ClaimFloatingIP(ctx context.Context, dev, addr string) error
	ReleaseFloatingIP(ctx context.Context, dev, addr string) error
}

// DNSAggregator is the slice of *dnsagg.Aggregator this package drives.
type DNSAggregator interface {
	Start(ctx context.Context) error
	Stop() error
}

// NetworkLister supplies the set of managed networks to bring up or
// tear down; pkg/node owns the authoritative list (populated from its
// watch on base.network).
type NetworkLister interface {
	ListNetworks() ([]netres.Network, error)
}

// FloatingIP is one cluster/storage/upstream address claimed last
// during takeover and released first during relinquish.
type FloatingIP struct {
	Device string
	Addr   string
}

// Config tunes election behavior.
type Config struct {
	// IsCoordinator gates contention: only coordinator nodes contend
	// for primary.
	IsCoordinator bool
	FloatingIPs   []FloatingIP
	// AwaitPollInterval and AwaitMaxAttempts bound how long a newly
	// named primary waits for the outgoing primary to finish stepping
	// down before it begins its own bring-up (the exactly-one
	// guarantee in spec §4.7).
	AwaitPollInterval time.Duration
	AwaitMaxAttempts  int
}

func (c *Config) setDefaults() {
	if c.AwaitPollInterval <= 0 {
		c.AwaitPollInterval = time.Second
	}
	if c.AwaitMaxAttempts <= 0 {
		c.AwaitMaxAttempts = 30
	}
}

// Elector owns this node's side of primary-coordinator election: the
// CAS contention for base.config.primary_node, and the ordered
// resource transitions that follow a win or a loss of that contention.
type Elector struct {
	store    *zkstore.Store
	thisNode string
	net      NetworkManager
	dns      DNSAggregator
	networks NetworkLister
	cfg      Config

	mu sync.Mutex
}

func New(store *zkstore.Store, thisNode string, net NetworkManager, dns DNSAggregator, networks NetworkLister, cfg Config) *Elector {
	cfg.setDefaults()
	return &Elector{
		store:    store,
		thisNode: thisNode,
		net:      net,
		dns:      dns,
		networks: networks,
		cfg:      cfg,
	}
}

// TryContend attempts the optimistic check-and-set from "none" to this
// node's name. On a win it immediately performs takeover. Returns
// (false, nil) if another node already holds or just claimed the role.
func (e *Elector) TryContend(ctx context.Context) (bool, error) {
	if !e.cfg.IsCoordinator {
		return false, nil
	}
	schema := e.store.Schema()

	current, ok, err := e.store.Read(schema.PrimaryNodePath())
	if err != nil {
		return false, err
	}
	if !ok || current != noPrimary {
		return false, nil
	}

	won, err := e.store.CompareAndSwap(schema.PrimaryNodePath(), noPrimary, e.thisNode)
	if err != nil || !won {
		return false, err
	}

	log.WithNode(e.thisNode).Info().Msg("won primary contention")
	if err := e.takeover(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// Reconcile is driven by a watch on base.config.primary_node: currentPrimary
// is the key's latest value. It brings this node up if it was just named,
// or steps it down if the pointer moved away while it held the role.
func (e *Elector) Reconcile(ctx context.Context, currentPrimary string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	schema := e.store.Schema()
	routerVal, _, err := e.store.Read(schema.NodeRouterState(e.thisNode))
	if err != nil {
		return err
	}
	router := vmtypes.RouterState(routerVal)

	switch {
	case currentPrimary == e.thisNode:
		if router == vmtypes.RouterStatePrimary || router == vmtypes.RouterStateTakeover {
			return nil
		}
		return e.takeover(ctx)
	case router == vmtypes.RouterStatePrimary || router == vmtypes.RouterStateTakeover:
		return e.relinquish(ctx)
	default:
		return nil
	}
}

// takeover performs the ordered bring-up from spec §4.7: wait for any
// other node still claiming primary to step down, transition
// secondary→takeover, bring up the DNS aggregator, then every managed
// network's gateway IPs/DHCP/DNS, then floating IPs last, then
// transition takeover→primary.
func (e *Elector) takeover(ctx context.Context) error {
	schema := e.store.Schema()

	if err := e.awaitNoOtherPrimary(); err != nil {
		return err
	}

	if err := e.store.WriteOne(schema.NodeRouterState(e.thisNode), string(vmtypes.RouterStateTakeover)); err != nil {
		return err
	}

	if err := e.dns.Start(ctx); err != nil {
		return fmt.Errorf("starting dns aggregator during takeover: %w", err)
	}

	networks, err := e.networks.ListNetworks()
	if err != nil {
		return fmt.Errorf("listing networks during takeover: %w", err)
	}
	for _, n := range networks {
		if err := e.net.TakeoverNetwork(ctx, n); err != nil {
			return fmt.Errorf("taking over network %s: %w", n.VNI, err)
		}
	}

	for _, fip := range e.cfg.FloatingIPs {
		if err := e.net.ClaimFloatingIP(ctx, fip.Device, fip.Addr); err != nil {
			return fmt.Errorf("claiming floating ip %s: %w", fip.Addr, err)
		}
	}

	if err := e.store.WriteOne(schema.NodeRouterState(e.thisNode), string(vmtypes.RouterStatePrimary)); err != nil {
		return err
	}
	log.WithNode(e.thisNode).Info().Msg("primary takeover complete")
	return nil
}

// relinquish reverses takeover: floating IPs drop first, then every
// network's DHCP/DNS and gateway IPs, then the DNS aggregator, then
// primary→secondary.
func (e *Elector) relinquish(ctx context.Context) error {
	schema := e.store.Schema()

	if err := e.store.WriteOne(schema.NodeRouterState(e.thisNode), string(vmtypes.RouterStateRelinquish)); err != nil {
		return err
	}

	for _, fip := range e.cfg.FloatingIPs {
		if err := e.net.ReleaseFloatingIP(ctx, fip.Device, fip.Addr); err != nil {
			log.WithNode(e.thisNode).Warn().Err(err).Str("addr", fip.Addr).Msg("releasing floating ip during relinquish")
		}
	}

	networks, err := e.networks.ListNetworks()
	if err != nil {
		return fmt.Errorf("listing networks during relinquish: %w", err)
	}
	for _, n := range networks {
		if err := e.net.RelinquishNetwork(n); err != nil {
			log.WithNode(e.thisNode).Warn().Err(err).Str("network", n.VNI).Msg("relinquishing network")
		}
	}

	if err := e.dns.Stop(); err != nil {
		log.WithNode(e.thisNode).Warn().Err(err).Msg("stopping dns aggregator during relinquish")
	}

	if err := e.store.WriteOne(schema.NodeRouterState(e.thisNode), string(vmtypes.RouterStateSecondary)); err != nil {
		return err
	}
	log.WithNode(e.thisNode).Info().Msg("primary relinquish complete")
	return nil
}

// awaitNoOtherPrimary blocks until no node other than this one reports
// state.router in {takeover, primary} unless its state.daemon is
// fenced or dead — the exactly-one guarantee of spec §4.7.
func (e *Elector) awaitNoOtherPrimary() error {
	schema := e.store.Schema()

	for attempt := 0; attempt < e.cfg.AwaitMaxAttempts; attempt++ {
		nodes, err := e.store.Children(schema.NodeRoot())
		if err != nil {
			return err
		}

		clear := true
		for _, node := range nodes {
			if node == e.thisNode {
				continue
			}
			routerVal, _, err := e.store.Read(schema.NodeRouterState(node))
			if err != nil {
				return err
			}
			router := vmtypes.RouterState(routerVal)
			if router != vmtypes.RouterStatePrimary && router != vmtypes.RouterStateTakeover {
				continue
			}

			daemonVal, _, err := e.store.Read(schema.NodeDaemonState(node))
			if err != nil {
				return err
			}
			daemon := vmtypes.DaemonState(daemonVal)
			if daemon == vmtypes.DaemonStateFenced || daemon == vmtypes.DaemonStateDead {
				continue
			}

			clear = false
			break
		}

		if clear {
			return nil
		}
		time.Sleep(e.cfg.AwaitPollInterval)
	}
	return fmt.Errorf("timed out waiting for predecessor primary to step down")
}
