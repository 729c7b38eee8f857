// Package faultlog is a small Raft-replicated fault ledger shared by
// the coordinator nodes. It does not replace ZooKeeper as the cluster's
// source of truth (pkg/zkstore still owns that); it gives the
// monitoring host (C10) a locally fast, crash-consistent history of
// fault sightings that survives a coordinator restart without a round
// trip to the coordination store, which the fault evaluator then
// reconciles into base.faults/* on every write.
package faultlog
