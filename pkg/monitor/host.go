package monitor

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/log"
	"github.com/parallelvirtualcluster/pvc/pkg/monitor/faultlog"
	"github.com/parallelvirtualcluster/pvc/pkg/zkstore"
)

// maxPluginWorkers bounds the concurrent plugin fan-out (spec §5); a
// cluster never runs anywhere near this many plugins, but the pool is
// sized generously the way the original thread-pool executor was.
const maxPluginWorkers = 100

// PrimaryChecker tells the host whether this node currently holds the
// primary role; only the primary evaluates cluster-wide faults.
// *primary.Elector does not expose this directly, so pkg/node supplies
// a small closure reading state.router instead.
type PrimaryChecker func() bool

// Host runs every loaded Plugin each tick and, on the primary, the
// fault evaluator. It implements keepalive.MonitoringHost.
type Host struct {
	store    *zkstore.Store
	thisNode string
	plugins  []Plugin
	isPrimary PrimaryChecker
	faults   *faultEvaluator

	mu      sync.Mutex
	started bool
}

// New constructs a Host. faultRules may be empty if this node never
// contends for primary (e.g. a hypervisor-only node).
func New(store *zkstore.Store, thisNode string, plugins []Plugin, isPrimary PrimaryChecker, faultRules []FaultRule) *Host {
	return &Host{
		store:     store,
		thisNode:  thisNode,
		plugins:   plugins,
		isPrimary: isPrimary,
		faults:    newFaultEvaluator(store, faultRules),
	}
}

// AttachLedger wires the coordinator-local fault-log Raft group into
// this host's evaluator; pkg/node calls this after faultlog.Bootstrap
// succeeds. A hypervisor-only node, or one where the ledger failed to
// start, simply never calls this and the evaluator falls back to
// ZooKeeper alone for first_time tracking.
func (h *Host) AttachLedger(ledger *faultlog.Log) {
	h.faults = h.faults.withLedger(ledger)
}

// Setup runs once at daemon startup: it calls every plugin's Setup and
// seeds its monitoring.data subtree, then publishes the plugin-name
// list and prunes any leftover data from a plugin that is no longer
// loaded.
func (h *Host) Setup(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	schema := h.store.Schema()
	names := make([]string, 0, len(h.plugins))
	for _, p := range h.plugins {
		if err := p.Setup(ctx); err != nil {
			log.WithNode(h.thisNode).Warn().Err(err).Str("plugin", p.Name()).Msg("monitoring plugin setup failed")
			continue
		}
		names = append(names, p.Name())
		if err := h.ensurePluginPaths(p.Name()); err != nil {
			return err
		}
		if err := h.writeResult(p.Name(), Result{Message: "Initializing"}, 0); err != nil {
			return err
		}
	}
	sort.Strings(names)

	loaded := make(map[string]bool, len(names))
	for _, n := range names {
		loaded[n] = true
	}
	existing, err := h.store.Children(schema.NodeAttr(h.thisNode, "monitoring.data"))
	if err == nil {
		for _, key := range existing {
			if !loaded[key] {
				if derr := h.store.Delete(schema.NodeMonitoringPluginData(h.thisNode, key), true); derr != nil {
					log.WithNode(h.thisNode).Warn().Err(derr).Str("plugin", key).Msg("pruning stale monitoring data")
				}
			}
		}
	}

	if err := h.store.EnsurePath(schema.NodeMonitoringHealth(h.thisNode), "100"); err != nil {
		return err
	}

	h.started = true
	return h.store.WriteOne(schema.NodeAttr(h.thisNode, "monitoring.plugins"), joinComma(names))
}

// ensurePluginPaths creates the six monitoring.data/<plugin> znodes a
// plugin's result is written into, if they don't already exist.
func (h *Host) ensurePluginPaths(name string) error {
	base := h.store.Schema().NodeMonitoringPluginData(h.thisNode, name)
	for _, sub := range []string{"name", "last_run", "health_delta", "message", "data", "runtime"} {
		if err := h.store.EnsurePath(base+"/"+sub, ""); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup runs every plugin's Cleanup hook at daemon shutdown.
func (h *Host) Cleanup(ctx context.Context) {
	for _, p := range h.plugins {
		if err := p.Cleanup(ctx); err != nil {
			log.WithNode(h.thisNode).Warn().Err(err).Str("plugin", p.Name()).Msg("monitoring plugin cleanup failed")
		}
	}
}

// RunTick fans every plugin out across a bounded pool, writes each
// plugin's result, rolls them into a single health score, and — if
// this node is primary — runs the cluster-wide fault evaluator. It
// satisfies keepalive.MonitoringHost.
func (h *Host) RunTick(ctx context.Context) error {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if !started {
		return nil
	}

	sem := make(chan struct{}, maxPluginWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	totalHealth := 100
	var firstErr error

	for _, p := range h.plugins {
		p := p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			result, err := p.Run(ctx)
			runtime := time.Since(start).Seconds()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.WithNode(h.thisNode).Warn().Err(err).Str("plugin", p.Name()).Msg("monitoring plugin run failed")
				if firstErr == nil {
					firstErr = fmt.Errorf("plugin %s: %w", p.Name(), err)
				}
				return
			}
			totalHealth -= result.HealthDelta
			if werr := h.writeResult(p.Name(), result, runtime); werr != nil && firstErr == nil {
				firstErr = werr
			}
		}()
	}
	wg.Wait()

	if totalHealth < 0 {
		totalHealth = 0
	}
	if err := h.store.WriteOne(h.store.Schema().NodeMonitoringHealth(h.thisNode), strconv.Itoa(totalHealth)); err != nil && firstErr == nil {
		firstErr = err
	}

	if h.isPrimary != nil && h.isPrimary() {
		if err := h.faults.evaluate(ctx); err != nil {
			log.WithNode(h.thisNode).Warn().Err(err).Msg("fault evaluation failed")
		}
	}

	return firstErr
}

func (h *Host) writeResult(name string, r Result, runtimeSeconds float64) error {
	schema := h.store.Schema()
	base := schema.NodeMonitoringPluginData(h.thisNode, name)
	now := time.Now().Unix()
	return h.store.Write([]zkstore.KV{
		{Path: base + "/name", Value: name},
		{Path: base + "/last_run", Value: strconv.FormatInt(now, 10)},
		{Path: base + "/health_delta", Value: strconv.Itoa(r.HealthDelta)},
		{Path: base + "/message", Value: r.Message},
		{Path: base + "/data", Value: r.Data},
		{Path: base + "/runtime", Value: strconv.FormatFloat(runtimeSeconds, 'f', 2, 64)},
	})
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
