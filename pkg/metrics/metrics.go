package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pvc_nodes_total",
			Help: "Total number of nodes by mode and daemon state",
		},
		[]string{"mode", "daemon_state"},
	)

	DomainsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pvc_domains_total",
			Help: "Total number of VMs by state",
		},
		[]string{"state"},
	)

	NetworksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvc_networks_total",
			Help: "Total number of client networks",
		},
	)

	FaultsActiveTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvc_faults_active_total",
			Help: "Total number of unacknowledged faults",
		},
	)

	// Primary election metrics
	IsPrimary = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvc_is_primary",
			Help: "Whether this node currently holds the primary/router role (1 = primary, 0 = secondary)",
		},
	)

	PrimaryTakeoverDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvc_primary_takeover_duration_seconds",
			Help:    "Time taken to complete a primary takeover sequence",
			Buckets: prometheus.DefBuckets,
		},
	)

	PrimaryRelinquishDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvc_primary_relinquish_duration_seconds",
			Help:    "Time taken to complete a primary relinquish sequence",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Keepalive metrics
	KeepaliveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvc_keepalive_duration_seconds",
			Help:    "Time taken for one keepalive tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	NodeMemoryAllocatedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvc_node_memory_allocated_bytes",
			Help: "Sum of RAM of domains currently running on this node",
		},
	)

	NodeMemoryProvisionedBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pvc_node_memory_provisioned_bytes",
			Help: "Sum of RAM of domains whose home node is this node, regardless of run state",
		},
	)

	// Fencing metrics
	FencesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvc_fences_total",
			Help: "Total number of fence attempts by outcome",
		},
		[]string{"outcome"},
	)

	FenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvc_fence_duration_seconds",
			Help:    "Time taken for a complete fence sequence",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	// Target selector metrics
	SelectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pvc_selection_duration_seconds",
			Help:    "Time taken to select a target node, by policy",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"policy"},
	)

	SelectionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvc_selection_failures_total",
			Help: "Total number of target-selection attempts with no eligible node",
		},
		[]string{"policy"},
	)

	// VM instance operation metrics
	DomainStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvc_domain_start_duration_seconds",
			Help:    "Time taken to start a domain",
			Buckets: prometheus.DefBuckets,
		},
	)

	DomainStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvc_domain_stop_duration_seconds",
			Help:    "Time taken to stop a domain",
			Buckets: prometheus.DefBuckets,
		},
	)

	DomainMigrateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pvc_domain_migrate_duration_seconds",
			Help:    "Time taken to migrate a domain, by method",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"method"},
	)

	DomainsMigratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvc_domains_migrated_total",
			Help: "Total number of domain migrations by outcome",
		},
		[]string{"outcome"},
	)

	// DNS aggregator metrics
	DNSAggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pvc_dns_aggregation_duration_seconds",
			Help:    "Time taken for one AXFR-pull-diff-reload cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	DNSAggregationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pvc_dns_aggregation_cycles_total",
			Help: "Total number of DNS aggregation cycles completed",
		},
	)

	DNSRecordChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvc_dns_record_changes_total",
			Help: "Total number of DNS record changes applied, by operation",
		},
		[]string{"operation"},
	)

	// Monitoring plugin host metrics
	PluginRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pvc_plugin_run_duration_seconds",
			Help:    "Time taken for a monitoring plugin run, by plugin name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin"},
	)

	PluginFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pvc_plugin_failures_total",
			Help: "Total number of monitoring plugin failures, by plugin name",
		},
		[]string{"plugin"},
	)
)

func init() {
	prometheus.MustRegister(NodesTotal)
	prometheus.MustRegister(DomainsTotal)
	prometheus.MustRegister(NetworksTotal)
	prometheus.MustRegister(FaultsActiveTotal)
	prometheus.MustRegister(IsPrimary)
	prometheus.MustRegister(PrimaryTakeoverDuration)
	prometheus.MustRegister(PrimaryRelinquishDuration)
	prometheus.MustRegister(KeepaliveDuration)
	prometheus.MustRegister(NodeMemoryAllocatedBytes)
	prometheus.MustRegister(NodeMemoryProvisionedBytes)
	prometheus.MustRegister(FencesTotal)
	prometheus.MustRegister(FenceDuration)
	prometheus.MustRegister(SelectionDuration)
	prometheus.MustRegister(SelectionFailuresTotal)
	prometheus.MustRegister(DomainStartDuration)
	prometheus.MustRegister(DomainStopDuration)
	prometheus.MustRegister(DomainMigrateDuration)
	prometheus.MustRegister(DomainsMigratedTotal)
	prometheus.MustRegister(DNSAggregationDuration)
	prometheus.MustRegister(DNSAggregationCyclesTotal)
	prometheus.MustRegister(DNSRecordChangesTotal)
	prometheus.MustRegister(PluginRunDuration)
	prometheus.MustRegister(PluginFailuresTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
