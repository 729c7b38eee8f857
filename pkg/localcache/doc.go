// Package localcache is each node's local BoltDB mirror of coordination
// store state: a bucket-per-entity read cache so selector/fence/DNS
// queries that only need a recent snapshot don't round-trip to
// ZooKeeper, plus the CA blob slot pkg/security persists its root key
// through. It never writes back to the coordination store; pkg/node's
// watch callbacks are the only writers, and pkg/zkstore remains the
// sole source of truth.
package localcache
