// Package dnsagg aggregates per-network DHCP lease data into a single
// cluster-wide authoritative DNS view. Each managed network's dnsmasq
// instance is the source of truth for its own zone; this package AXFRs
// every network's zone on a timer, diffs it against a PostgreSQL-backed
// record store, and reloads an external PowerDNS (pdns_server) process
// only when something actually changed. Primary-only, per spec §4.6.
package dnsagg
