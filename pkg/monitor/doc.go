// Package monitor implements the monitoring-plugin host (C10): a bounded
// worker pool that runs every loaded Plugin once per keepalive tick,
// aggregates their health deltas into this node's monitoring.health
// score, and — on the primary only — evaluates cluster-wide fault
// predicates (dead/fenced nodes, degraded Ceph, failed VMs,
// over-provisioned memory) into base.faults/*.
package monitor
