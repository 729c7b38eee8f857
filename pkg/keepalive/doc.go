// Package keepalive implements the heartbeat/health loop (C8): every
// node samples its own libvirt node-info and derives resource
// counters, writes them plus a fresh keepalive timestamp, evaluates
// peer liveness to trigger fencing, refreshes the monitoring-plugin
// host, and optionally self-fences if its own tick runs too late.
// Coordination-store ephemeral sessions are deliberately NOT the
// liveness signal (spec §4.8) — only this loop's timestamp is.
package keepalive
