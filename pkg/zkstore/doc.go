// Package zkstore is the coordination-store handler: a typed, reconnecting
// client over ZooKeeper plus the schema layer that maps logical entity
// names (a node, a domain, a fault) to literal znode paths. No other
// package in this module may construct a znode path itself — every lookup
// goes through the Schema so the on-disk layout can change behind a single
// version bump.
package zkstore
