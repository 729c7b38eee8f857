package metrics

import (
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
)

// Source is whatever can enumerate the cluster's current view of the
// world. pkg/node implements this against its local watch cache so the
// collector never has to touch the coordination store itself.
type Source interface {
	ListNodes() ([]vmtypes.Node, error)
	ListDomains() ([]vmtypes.VM, error)
	ListNetworks() ([]vmtypes.Network, error)
	ListFaults() ([]vmtypes.Fault, error)
	IsPrimary() bool
}

// Collector periodically snapshots cluster-wide gauges from a Source.
// Per-operation histograms are not this collector's concern; of those,
// only fence duration is observed, inline by pkg/fence.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectDomainMetrics()
	c.collectNetworkMetrics()
	c.collectFaultMetrics()
	c.collectPrimaryMetrics()
}

func (c *Collector) collectNodeMetrics() {
	nodes, err := c.source.ListNodes()
	if err != nil {
		return
	}

	counts := make(map[string]map[string]int)
	for _, n := range nodes {
		mode := string(n.Mode)
		state := string(n.DaemonState)
		if counts[mode] == nil {
			counts[mode] = make(map[string]int)
		}
		counts[mode][state]++
	}

	for mode, states := range counts {
		for state, count := range states {
			NodesTotal.WithLabelValues(mode, state).Set(float64(count))
		}
	}
}

func (c *Collector) collectDomainMetrics() {
	domains, err := c.source.ListDomains()
	if err != nil {
		return
	}

	counts := make(map[string]int)
	for _, d := range domains {
		counts[string(d.State)]++
	}

	for state, count := range counts {
		DomainsTotal.WithLabelValues(state).Set(float64(count))
	}
}

func (c *Collector) collectNetworkMetrics() {
	networks, err := c.source.ListNetworks()
	if err != nil {
		return
	}
	NetworksTotal.Set(float64(len(networks)))
}

func (c *Collector) collectFaultMetrics() {
	faults, err := c.source.ListFaults()
	if err != nil {
		return
	}

	active := 0
	for _, f := range faults {
		if !f.Acknowledged {
			active++
		}
	}
	FaultsActiveTotal.Set(float64(active))
}

func (c *Collector) collectPrimaryMetrics() {
	if c.source.IsPrimary() {
		IsPrimary.Set(1)
	} else {
		IsPrimary.Set(0)
	}
}
