package netres

import (
	"context"
	"fmt"

	"github.com/parallelvirtualcluster/pvc/pkg/executil"
)

// chainName scopes every network's rules to their own nftables chain so
// ApplyFirewallRules/RemoveFirewallRules can flush one network without
// touching another (generalized from the teacher's per-task iptables
// rule bookkeeping, which scoped rules by taskID instead of by network).
func chainName(vni string) string { return "pvc-net-" + vni }

// ApplyFirewallRules flushes then repopulates a network's nftables chain
// from FirewallRules, so reapplication after a store change is always a
// full, consistent rewrite rather than an incremental diff.
func (m *Manager) ApplyFirewallRules(ctx context.Context, net Network) error {
	chain := chainName(net.VNI)

	if _, err := executil.Run(ctx, "nft", "add", "chain", "inet", "filter", chain,
		"{", "type", "filter", "hook", "forward", "priority", "0", ";", "}"); err != nil {
		return fmt.Errorf("creating chain %s: %w", chain, err)
	}
	if _, err := executil.Run(ctx, "nft", "flush", "chain", "inet", "filter", chain); err != nil {
		return fmt.Errorf("flushing chain %s: %w", chain, err)
	}

	for _, rule := range net.FirewallRules {
		if err := m.addRule(ctx, chain, rule); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFirewallRules deletes a network's entire nftables chain.
func (m *Manager) RemoveFirewallRules(ctx context.Context, net Network) error {
	chain := chainName(net.VNI)
	if _, err := executil.Run(ctx, "nft", "delete", "chain", "inet", "filter", chain); err != nil && !isNoDevice(err) {
		return fmt.Errorf("deleting chain %s: %w", chain, err)
	}
	return nil
}

func (m *Manager) addRule(ctx context.Context, chain string, rule FirewallRule) error {
	args := []string{"add", "rule", "inet", "filter", chain}
	if rule.Protocol != "" {
		args = append(args, rule.Protocol)
	}
	if rule.Source != "" {
		args = append(args, "saddr", rule.Source)
	}
	if rule.Dest != "" {
		args = append(args, "daddr", rule.Dest)
	}
	if rule.Port != "" {
		args = append(args, "dport", rule.Port)
	}
	args = append(args, rule.Action)

	if _, err := executil.Run(ctx, "nft", args...); err != nil {
		return fmt.Errorf("adding rule to %s: %w", chain, err)
	}
	return nil
}
