// Package primary implements primary-coordinator election and ordered
// failover (spec §4.7): contention for the single `primary_node` key,
// strictly ordered resource bring-up on takeover (DNS aggregator DB
// handle, per-network gateway IPs/DHCP/DNS, then floating IPs) and the
// reverse order on relinquish.
package primary
