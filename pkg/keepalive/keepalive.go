package keepalive

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/fence"
	"github.com/parallelvirtualcluster/pvc/pkg/log"
	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
	"github.com/parallelvirtualcluster/pvc/pkg/zkstore"
)

// HostSampler is the local hardware read this node takes every tick;
// *vminstance.LocalHypervisor implements it structurally.
type HostSampler interface {
	HostSample() (vmtypes.HostSample, error)
}

// RunningLister supplies the UUIDs this node is actually running right
// now; *vminstance.Manager implements it structurally.
type RunningLister interface {
	LocalRunningDomains() []string
}

// Fencer is the slice of *fence.Fencer this loop drives: spawning a
// fence task for a dead peer, and this node's own suicide watchdog.
type Fencer interface {
	FenceNode(node string, coordinators []string) (fence.Outcome, error)
	Suicide() error
}

// MonitoringHost is the per-tick refresh hook into C10; *monitor.Host
// implements it structurally.
type MonitoringHost interface {
	RunTick(ctx context.Context) error
}

// Config tunes the loop's cadence and liveness thresholds (spec §4.8/§6).
type Config struct {
	ThisNode         string
	Coordinators     []string
	Interval         time.Duration // keepalive_interval, default 5s
	FenceIntervals   int           // missed ticks before a peer is considered dead, default 6
	SuicideIntervals int           // 0 disables self-suicide on a late tick
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.FenceIntervals <= 0 {
		c.FenceIntervals = 6
	}
}

// Loop runs the keepalive tick on a ticker until ctx is canceled.
type Loop struct {
	store   *zkstore.Store
	host    HostSampler
	running RunningLister
	fencer  Fencer
	monitor MonitoringHost
	cfg     Config

	mu       sync.Mutex
	fencing  map[string]bool
	lastTick time.Time
}

func New(store *zkstore.Store, host HostSampler, running RunningLister, fencer Fencer, monitor MonitoringHost, cfg Config) *Loop {
	cfg.setDefaults()
	return &Loop{
		store:   store,
		host:    host,
		running: running,
		fencer:  fencer,
		monitor: monitor,
		cfg:     cfg,
		fencing: make(map[string]bool),
	}
}

// Run blocks, ticking every cfg.Interval until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.lastTick = time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.tick(ctx, now)
		}
	}
}

func (l *Loop) tick(ctx context.Context, now time.Time) {
	late := now.Sub(l.lastTick) > l.cfg.Interval*time.Duration(2*l.cfg.SuicideIntervals+1)/2
	l.lastTick = now

	logger := log.WithNode(l.cfg.ThisNode)

	if err := l.updateCounters(); err != nil {
		logger.Warn().Err(err).Msg("keepalive counter update failed")
	}

	if err := l.evaluatePeers(); err != nil {
		logger.Warn().Err(err).Msg("peer liveness evaluation failed")
	}

	if l.monitor != nil {
		if err := l.monitor.RunTick(ctx); err != nil {
			logger.Warn().Err(err).Msg("monitoring tick failed")
		}
	}

	if late && l.cfg.SuicideIntervals > 0 {
		logger.Error().Msg("keepalive tick ran late; invoking suicide watchdog")
		if err := l.fencer.Suicide(); err != nil {
			logger.Error().Err(err).Msg("suicide failed")
		}
	}
}

// updateCounters samples this host, sums every VM's configured RAM
// into memory.provisioned (node==this) and memory.allocated (running
// here), and atomically writes every counter plus a fresh keepalive
// timestamp (spec §4.8 steps 1-3).
func (l *Loop) updateCounters() error {
	sample, err := l.host.HostSample()
	if err != nil {
		return fmt.Errorf("sampling host: %w", err)
	}

	provisionedMB, allocatedMB, vcpuAllocated, domainsCount, err := l.sumDomains()
	if err != nil {
		return fmt.Errorf("summing domains: %w", err)
	}

	running := l.running.LocalRunningDomains()
	schema := l.store.Schema()

	pairs := []zkstore.KV{
		{Path: schema.NodeAttr(l.cfg.ThisNode, "memory.total"), Value: strconv.FormatInt(sample.MemoryTotal, 10)},
		{Path: schema.NodeAttr(l.cfg.ThisNode, "memory.used"), Value: strconv.FormatInt(sample.MemoryUsed, 10)},
		{Path: schema.NodeAttr(l.cfg.ThisNode, "memory.free"), Value: strconv.FormatInt(sample.MemoryFree, 10)},
		{Path: schema.NodeAttr(l.cfg.ThisNode, "memory.provisioned"), Value: strconv.FormatInt(provisionedMB<<20, 10)},
		{Path: schema.NodeAttr(l.cfg.ThisNode, "memory.allocated"), Value: strconv.FormatInt(allocatedMB<<20, 10)},
		{Path: schema.NodeAttr(l.cfg.ThisNode, "vcpu.allocated"), Value: strconv.Itoa(vcpuAllocated)},
		{Path: schema.NodeAttr(l.cfg.ThisNode, "cpu.load"), Value: strconv.FormatFloat(sample.LoadAvg1, 'f', 2, 64)},
		{Path: schema.NodeAttr(l.cfg.ThisNode, "count.provisioned_domains"), Value: strconv.Itoa(domainsCount)},
		{Path: schema.NodeAttr(l.cfg.ThisNode, "running_domains"), Value: strings.Join(running, " ")},
		{Path: schema.NodeKeepalive(l.cfg.ThisNode), Value: strconv.FormatInt(time.Now().Unix(), 10)},
	}
	return l.store.Write(pairs)
}

func (l *Loop) sumDomains() (provisionedMB, allocatedMB int64, vcpuAllocated, domainsCount int, err error) {
	schema := l.store.Schema()
	uuids, err := l.store.Children(schema.DomainRoot())
	if err != nil {
		return 0, 0, 0, 0, err
	}

	running := make(map[string]bool)
	for _, uuid := range l.running.LocalRunningDomains() {
		running[uuid] = true
	}

	for _, uuid := range uuids {
		node, ok, err := l.store.Read(schema.DomainNode(uuid))
		if err != nil {
			return 0, 0, 0, 0, err
		}
		if !ok || node != l.cfg.ThisNode {
			continue
		}

		memMB := l.readInt(schema.DomainAttr(uuid, "meta.memory_mb"))
		vcpus := int(l.readInt(schema.DomainAttr(uuid, "meta.vcpu_count")))

		provisionedMB += memMB
		vcpuAllocated += vcpus
		domainsCount++
		if running[uuid] {
			allocatedMB += memMB
		}
	}
	return provisionedMB, allocatedMB, vcpuAllocated, domainsCount, nil
}

func (l *Loop) readInt(path string) int64 {
	raw, ok, err := l.store.Read(path)
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// evaluatePeers spawns a fence task for any coordinator-visible peer
// whose keepalive timestamp is stale beyond fence_intervals ticks and
// whose state.daemon still reads "run" (spec §4.8 step 4). Each fence
// runs in its own goroutine, deduplicated so a slow fence doesn't
// restack on every subsequent tick.
func (l *Loop) evaluatePeers() error {
	schema := l.store.Schema()
	nodes, err := l.store.Children(schema.NodeRoot())
	if err != nil {
		return err
	}

	threshold := time.Duration(l.cfg.FenceIntervals) * l.cfg.Interval

	for _, node := range nodes {
		if node == l.cfg.ThisNode {
			continue
		}

		daemonRaw, ok, err := l.store.Read(schema.NodeDaemonState(node))
		if err != nil || !ok || vmtypes.DaemonState(daemonRaw) != vmtypes.DaemonStateRun {
			continue
		}

		keepaliveRaw, ok, err := l.store.Read(schema.NodeKeepalive(node))
		if err != nil || !ok {
			continue
		}
		unix, err := strconv.ParseInt(keepaliveRaw, 10, 64)
		if err != nil {
			continue
		}
		last := time.Unix(unix, 0)

		if time.Since(last) <= threshold {
			continue
		}

		l.spawnFence(node)
	}
	return nil
}

func (l *Loop) spawnFence(node string) {
	l.mu.Lock()
	if l.fencing[node] {
		l.mu.Unlock()
		return
	}
	l.fencing[node] = true
	l.mu.Unlock()

	logger := log.WithNode(node)
	logger.Warn().Msg("peer keepalive stale past fence threshold; fencing")

	go func() {
		defer func() {
			l.mu.Lock()
			delete(l.fencing, node)
			l.mu.Unlock()
		}()

		outcome, err := l.fencer.FenceNode(node, l.cfg.Coordinators)
		if err != nil {
			logger.Error().Err(err).Msg("fence attempt failed")
			return
		}
		logger.Info().Str("outcome", string(outcome)).Msg("fence attempt completed")
	}()
}
