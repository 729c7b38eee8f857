// Package netres is the network-resource manager (C5): per-network
// bridge/VXLAN device lifecycle, SR-IOV VF attribute enforcement, nftables
// rule application, and the primary-only dnsmasq/gateway-IP/floating-IP
// lifecycle. Every external change goes through pkg/executil; this package
// never talks to netlink directly, matching the teacher's exec-driven
// network command style.
package netres
