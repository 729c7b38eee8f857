package node

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/config"
	"github.com/parallelvirtualcluster/pvc/pkg/dnsagg"
	"github.com/parallelvirtualcluster/pvc/pkg/events"
	"github.com/parallelvirtualcluster/pvc/pkg/executil"
	"github.com/parallelvirtualcluster/pvc/pkg/fence"
	"github.com/parallelvirtualcluster/pvc/pkg/keepalive"
	"github.com/parallelvirtualcluster/pvc/pkg/localcache"
	"github.com/parallelvirtualcluster/pvc/pkg/log"
	"github.com/parallelvirtualcluster/pvc/pkg/monitor"
	"github.com/parallelvirtualcluster/pvc/pkg/monitor/faultlog"
	"github.com/parallelvirtualcluster/pvc/pkg/netres"
	"github.com/parallelvirtualcluster/pvc/pkg/primary"
	"github.com/parallelvirtualcluster/pvc/pkg/security"
	"github.com/parallelvirtualcluster/pvc/pkg/vminstance"
	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
	"github.com/parallelvirtualcluster/pvc/pkg/zkstore"
)

const defaultZKPort = 2181
const defaultZKSessionTimeout = 10 * time.Second

// Node is this host's top-level daemon: the store connection and every
// subsystem wired around it, plus the watches that drive reconciliation.
type Node struct {
	cfg   *config.Config
	store *zkstore.Store

	nodes    *nodeRegistry
	networks *networkRegistry

	hv      vminstance.Hypervisor
	sampler monitor.HostSampler
	ceph    executil.Ceph
	vms     *vminstance.Manager
	fencer  *fence.Fencer
	net     *netres.Manager
	dns     *dnsagg.Aggregator
	elector *primary.Elector
	mon     *monitor.Host
	ledger  *faultlog.Log
	keep    *keepalive.Loop

	cache *localcache.Store
	ca    *security.CertAuthority

	broker *events.Broker

	watchStop chan struct{}
	cancel    context.CancelFunc

	mu          sync.Mutex
	seenDomains map[string]bool
}

// New constructs every subsystem from cfg but performs no I/O beyond
// connecting to the coordination store and dialing the local hypervisor.
func New(cfg *config.Config) (*Node, error) {
	schema := zkstore.NewSchema(fmt.Sprintf("/pvc/%s", cfg.Cluster.Name))

	servers := zkServers(cfg)
	store, err := zkstore.Connect(servers, defaultZKSessionTimeout, schema)
	if err != nil {
		return nil, fmt.Errorf("connecting to coordination store: %w", err)
	}

	hv, err := vminstance.DialLocal()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("dialing local hypervisor: %w", err)
	}

	cache, err := localcache.Open(cfg.Path.DynamicDirectory)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening local cache: %w", err)
	}

	n := &Node{
		cfg:       cfg,
		store:     store,
		hv:        hv,
		sampler:   hv,
		nodes:     newNodeRegistry(store, cache),
		networks:  newNetworkRegistry(store, cfg.GuestNet.BridgeDevice, cfg.GuestNet.BridgeMTU),
		cache:     cache,
		broker:    events.NewBroker(),
		watchStop: make(chan struct{}),
	}

	if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(cfg.Cluster.Name)); err != nil {
		cache.Close()
		store.Close()
		return nil, fmt.Errorf("deriving cluster encryption key: %w", err)
	}

	n.ca = security.NewCertAuthority(cache)
	if err := n.ca.LoadFromStore(); err != nil {
		if err := n.ca.Initialize(); err != nil {
			cache.Close()
			store.Close()
			return nil, fmt.Errorf("initializing cluster CA: %w", err)
		}
		if err := n.ca.SaveToStore(); err != nil {
			log.WithNode(cfg.NodeHostname).Warn().Err(err).Msg("saving freshly initialized CA failed")
		}
	}

	ceph := executil.Ceph{ConfigFile: cfg.Ceph.CephConfigFile, KeyringFile: cfg.Ceph.CephKeyringFile}
	n.ceph = ceph

	n.vms = vminstance.NewManager(store, hv, cfg.NodeHostname,
		time.Duration(cfg.Timer.VMShutdownTimeout)*time.Second, n.nodes, ceph)

	n.fencer = fence.New(store, n.vms, cfg.NodeHostname, fenceConfig(cfg))

	n.net = netres.NewManager(cfg.NodeHostname, cfg.Path.DynamicDirectory)

	n.dns = dnsagg.New(dnsaggConfig(cfg))

	n.elector = primary.New(store, cfg.NodeHostname, n.net, n.dns, n.networks, primaryConfig(cfg))

	if isCoordinator(cfg) {
		bindAddr := fmt.Sprintf("%s:9201", cfg.NodeHostname)
		ledger, err := faultlog.Bootstrap(faultlogConfig(cfg, bindAddr), faultlogPeers(cfg))
		if err != nil {
			log.WithNode(cfg.NodeHostname).Warn().Err(err).Msg("fault ledger bootstrap failed, continuing without it")
		} else {
			n.ledger = ledger
		}
	}

	plugins := []monitor.Plugin{
		monitor.NewLoadPlugin(hv, 1.0),
		monitor.NewMemoryPlugin(hv, 0.1),
	}
	rules := []monitor.FaultRule{
		monitor.NewNodeStatusRule(store),
		monitor.NewFailedVMRule(store),
		monitor.NewMemoryOverprovisionRule(store),
		monitor.NewCephHealthRule(ceph),
	}
	n.mon = monitor.New(store, cfg.NodeHostname, plugins, n.isPrimary, rules)
	if n.ledger != nil {
		n.mon.AttachLedger(n.ledger)
	}

	n.keep = keepalive.New(store, hv, n.vms, n.fencer, n.mon, keepaliveConfig(cfg))

	return n, nil
}

func zkServers(cfg *config.Config) []string {
	port := cfg.Database.Zookeeper.Port
	if port == 0 {
		port = defaultZKPort
	}
	servers := make([]string, 0, len(cfg.Cluster.CoordinatorNodes))
	for _, host := range cfg.Cluster.CoordinatorNodes {
		fqdn := host
		if cfg.NodeDomain != "" {
			fqdn = host + "." + cfg.NodeDomain
		}
		servers = append(servers, fqdn+":"+strconv.Itoa(port))
	}
	return servers
}

// faultlogPeers builds the Raft server set from the coordinator list,
// one voter per coordinator, all listening on the same fault-ledger port.
func faultlogPeers(cfg *config.Config) map[string]string {
	peers := make(map[string]string, len(cfg.Cluster.CoordinatorNodes))
	for _, host := range cfg.Cluster.CoordinatorNodes {
		peers[host] = fmt.Sprintf("%s:9201", host)
	}
	return peers
}

func (n *Node) isPrimary() bool {
	schema := n.store.Schema()
	raw, ok, err := n.store.Read(schema.NodeRouterState(n.cfg.NodeHostname))
	if err != nil || !ok {
		return false
	}
	return vmtypes.RouterState(raw) == vmtypes.RouterStatePrimary
}

// Run brings the node daemon fully up: announces state.daemon=run,
// installs watches, and starts the keepalive/monitoring loop. It blocks
// until ctx is canceled.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	n.broker.Start()
	n.subscribeEventLogger()

	if err := n.announce(ctx); err != nil {
		return fmt.Errorf("announcing node: %w", err)
	}

	if err := n.mon.Setup(ctx); err != nil {
		log.WithNode(n.cfg.NodeHostname).Warn().Err(err).Msg("monitoring plugin setup failed")
	}

	if err := n.nodes.refresh(); err != nil {
		log.WithNode(n.cfg.NodeHostname).Warn().Err(err).Msg("initial node list refresh failed")
	}
	if err := n.networks.refresh(); err != nil {
		log.WithNode(n.cfg.NodeHostname).Warn().Err(err).Msg("initial network list refresh failed")
	}

	n.installWatches(ctx)
	n.watchCephCmdQueue(n.ceph)

	go n.keep.Run(ctx)
	go n.runNetstats(ctx)

	schema := n.store.Schema()
	if err := n.store.WriteOne(schema.NodeDaemonState(n.cfg.NodeHostname), string(vmtypes.DaemonStateRun)); err != nil {
		return fmt.Errorf("setting state.daemon=run: %w", err)
	}

	<-ctx.Done()
	return nil
}

// announce creates this node's znode subtree (if absent) and seeds its
// static, once-per-boot attributes.
func (n *Node) announce(ctx context.Context) error {
	schema := n.store.Schema()

	mode := vmtypes.NodeModeHypervisor
	if isCoordinator(n.cfg) {
		mode = vmtypes.NodeModeCoordinator
	}

	sample, sampleErr := n.sampler.HostSample()
	if sampleErr != nil {
		log.WithNode(n.cfg.NodeHostname).Warn().Err(sampleErr).Msg("initial host sample failed")
	}

	if _, err := n.ca.IssueNodeCertificate(n.cfg.NodeHostname, string(mode), []string{n.cfg.NodeFQDN}, nil); err != nil {
		log.WithNode(n.cfg.NodeHostname).Warn().Err(err).Msg("issuing migration-channel certificate failed")
	}

	paths := []string{
		schema.NodePath(n.cfg.NodeHostname),
		schema.NodeAttr(n.cfg.NodeHostname, "mode"),
		schema.NodeDaemonState(n.cfg.NodeHostname),
		schema.NodeRouterState(n.cfg.NodeHostname),
		schema.NodeDomainState(n.cfg.NodeHostname),
		schema.NodeIPMIHostname(n.cfg.NodeHostname),
		schema.NodeIPMIUsername(n.cfg.NodeHostname),
		schema.NodeIPMIPassword(n.cfg.NodeHostname),
		schema.NodeAttr(n.cfg.NodeHostname, "static.kernel"),
		schema.NodeAttr(n.cfg.NodeHostname, "static.os"),
		schema.NodeAttr(n.cfg.NodeHostname, "static.arch"),
		schema.NodeAttr(n.cfg.NodeHostname, "static.cpu_count"),
	}
	for _, p := range paths {
		if err := n.store.EnsurePath(p, ""); err != nil {
			return err
		}
	}

	return n.store.Write([]zkstore.KV{
		{Path: schema.NodeAttr(n.cfg.NodeHostname, "mode"), Value: string(mode)},
		{Path: schema.NodeDaemonState(n.cfg.NodeHostname), Value: string(vmtypes.DaemonStateInit)},
		{Path: schema.NodeRouterState(n.cfg.NodeHostname), Value: string(vmtypes.RouterStateSecondary)},
		{Path: schema.NodeDomainState(n.cfg.NodeHostname), Value: string(vmtypes.NodeDomainStateReady)},
		{Path: schema.NodeIPMIHostname(n.cfg.NodeHostname), Value: n.cfg.Fencing.ResolvedIPMIHostname(n.cfg.NodeID)},
		{Path: schema.NodeIPMIUsername(n.cfg.NodeHostname), Value: n.cfg.Fencing.IPMI.Username},
		{Path: schema.NodeIPMIPassword(n.cfg.NodeHostname), Value: n.cfg.Fencing.IPMI.Password},
		{Path: schema.NodeAttr(n.cfg.NodeHostname, "static.kernel"), Value: sample.Kernel},
		{Path: schema.NodeAttr(n.cfg.NodeHostname, "static.os"), Value: sample.OS},
		{Path: schema.NodeAttr(n.cfg.NodeHostname, "static.arch"), Value: sample.Arch},
		{Path: schema.NodeAttr(n.cfg.NodeHostname, "static.cpu_count"), Value: strconv.Itoa(sample.CPUCount)},
	})
}

// Shutdown sequences an orderly stop (spec §4.9): mark shutdown, step
// down from primary if held, stop background loops, and close the store
// session last so peers observe this node leaving cleanly.
func (n *Node) Shutdown(ctx context.Context) error {
	schema := n.store.Schema()

	n.store.WriteOne(schema.NodeDaemonState(n.cfg.NodeHostname), string(vmtypes.DaemonStateShutdown))

	if n.isPrimary() {
		ok, err := n.store.CompareAndSwap(schema.PrimaryNodePath(), n.cfg.NodeHostname, "none")
		if err != nil {
			log.WithNode(n.cfg.NodeHostname).Warn().Err(err).Msg("relinquish CAS failed")
		} else if ok {
			if err := n.elector.Reconcile(ctx, "none"); err != nil {
				log.WithNode(n.cfg.NodeHostname).Warn().Err(err).Msg("relinquish reconcile failed")
			}
		}
	}

	close(n.watchStop)
	if n.cancel != nil {
		n.cancel()
	}

	n.mon.Cleanup(ctx)
	if n.ledger != nil {
		n.ledger.Shutdown()
	}
	n.broker.Stop()

	n.store.WriteOne(schema.NodeDaemonState(n.cfg.NodeHostname), string(vmtypes.DaemonStateStop))
	n.store.Close()
	if n.cache != nil {
		n.cache.Close()
	}
	return nil
}

func (n *Node) subscribeEventLogger() {
	sub := n.broker.Subscribe()
	go func() {
		for ev := range sub {
			log.WithNode(n.cfg.NodeHostname).Info().
				Str("event", string(ev.Type)).
				Str("message", ev.Message).
				Msg("cluster event")
		}
	}()
}
