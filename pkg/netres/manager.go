package netres

import (
	"context"
	"fmt"

	"github.com/parallelvirtualcluster/pvc/pkg/executil"
	"github.com/parallelvirtualcluster/pvc/pkg/log"
)

// Manager owns every network-resource concern on this node: bridge/VXLAN
// devices, SR-IOV VF attributes, nftables rules, and (primary-only)
// gateway IPs, dnsmasq, and floating IPs.
type Manager struct {
	thisNode  string
	configDir string
	dnsmasqState
}

func NewManager(thisNode, configDir string) *Manager {
	return &Manager{
		thisNode:  thisNode,
		configDir: configDir,
		dnsmasqState: dnsmasqState{
			dnsmasqProcs: make(map[string]*dnsmasqProc),
		},
	}
}

// EnsureNetwork brings up the shared (non-primary-gated) resources every
// node maintains for a network: bridge/VXLAN device and firewall rules.
func (m *Manager) EnsureNetwork(ctx context.Context, net Network) error {
	if err := m.EnsureBridge(ctx, net); err != nil {
		return err
	}
	return m.ApplyFirewallRules(ctx, net)
}

// RemoveNetwork tears down the shared resources for a network that has
// been deleted cluster-wide.
func (m *Manager) RemoveNetwork(ctx context.Context, net Network) error {
	if err := m.RemoveFirewallRules(ctx, net); err != nil {
		return err
	}
	return m.RemoveBridge(ctx, net)
}

// TakeoverNetwork performs the primary-only per-network bring-up: gateway
// IPs bound, then dnsmasq started. Per spec §4.5/§4.7 this must run after
// the DNS aggregator's DB handle is ready and before floating IPs are
// claimed; pkg/primary sequences that ordering across networks.
func (m *Manager) TakeoverNetwork(ctx context.Context, net Network) error {
	if net.Type != NetworkManaged {
		return nil
	}
	if err := m.BindGateways(ctx, net); err != nil {
		return err
	}
	return m.StartDnsmasq(net, m.configDir)
}

// RelinquishNetwork reverses TakeoverNetwork: dnsmasq stops first, then
// gateway IPs are dropped, per the "drop FIRST" ordering requirement.
func (m *Manager) RelinquishNetwork(net Network) error {
	if net.Type != NetworkManaged {
		return nil
	}
	if err := m.StopDnsmasq(net.VNI); err != nil {
		return err
	}
	return m.UnbindGateways(context.Background(), net)
}

// ClaimFloatingIP binds one cluster/storage/upstream floating address to
// the given device. Claimed LAST during overall primary takeover
// (spec §4.7) — after every network's DHCP/DNS is already up.
func (m *Manager) ClaimFloatingIP(ctx context.Context, dev, addr string) error {
	if _, err := executil.Run(ctx, "ip", "addr", "add", addr, "dev", dev); err != nil && !isExists(err) {
		return fmt.Errorf("claiming floating ip %s on %s: %w", addr, dev, err)
	}
	log.WithComponent("netres").Info().Str("addr", addr).Str("dev", dev).Msg("claimed floating ip")
	return nil
}

// ReleaseFloatingIP drops one floating address. Released FIRST during
// relinquish.
func (m *Manager) ReleaseFloatingIP(ctx context.Context, dev, addr string) error {
	if _, err := executil.Run(ctx, "ip", "addr", "del", addr, "dev", dev); err != nil && !isNoDevice(err) {
		return fmt.Errorf("releasing floating ip %s on %s: %w", addr, dev, err)
	}
	log.WithComponent("netres").Info().Str("addr", addr).Str("dev", dev).Msg("released floating ip")
	return nil
}
