// Package events is an in-memory, non-blocking pub/sub broker used to fan
// out local state changes (node transitions, domain lifecycle, fault
// raises) to whichever subsystems in this daemon care about them — the
// metrics collector, the monitoring host, and the primary election loop
// all subscribe independently rather than being called directly.
//
// Publish never blocks: a full subscriber buffer drops the event rather
// than stall the publisher. This is fire-and-forget signaling for
// in-process observers, not the cluster's source of truth — that's
// pkg/zkstore.
package events
