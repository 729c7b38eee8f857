// Package metrics exposes the daemon's Prometheus registry (pvc_*
// gauges, counters and histograms) plus a small health/readiness/liveness
// JSON endpoint used by operators and the API daemon's own health probe.
//
// Per-operation histograms are observed inline by their owning package via
// a metrics.NewTimer() at the start of an operation; pkg/fence (fence
// duration) is the only package that does so. The Collector in this
// package instead periodically snapshots cluster-wide gauges — node
// counts, domain counts by state, active fault count, primary status —
// from whatever Source is wired to it (pkg/node in production, a fake in
// tests).
package metrics
