// Package vminstance implements the VM instance (C4): one state machine per
// VM UUID, present on every node that knows the VM exists. It distinguishes
// the owner viewpoint (node == this node, drives libvirt) from the peer
// viewpoint (no-op except cleaning up local libvirt leftovers), and carries
// out the live-migrate handshake between an owner and a target through the
// coordination store alone.
package vminstance
