// Package security provides the daemon's cryptographic services: a
// CertAuthority issuing mTLS certificates for the libvirt migration
// channel and CLI/API clients, AES-256-GCM sealing for IPMI passwords at
// rest, and certificate lifecycle helpers (rotation threshold, on-disk
// storage under ~/.pvc/certs).
//
// The CA's root key is itself encrypted with the cluster-wide key derived
// from the cluster ID (DeriveKeyFromClusterID) before being handed to
// whatever CAStore persists it — in production, pkg/localcache's BoltDB.
package security
