package netres

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/parallelvirtualcluster/pvc/pkg/executil"
)

// bridgeName and vxlanName follow PVC's vmbrNNNN / vxlanNNNN naming so the
// device names stay stable across daemon restarts.
func bridgeName(vni string) string { return "vmbr" + vni }
func vxlanName(vni string) string   { return "vxlan" + vni }

// EnsureBridge creates the bridge and, for a VXLAN-backed network, the
// VXLAN device bound to the configured underlay interface, then sets MTU
// and brings both links up. Idempotent: "file exists" from `ip link add`
// is treated as success.
func (m *Manager) EnsureBridge(ctx context.Context, net Network) error {
	br := bridgeName(net.VNI)

	if _, err := executil.Run(ctx, "ip", "link", "add", br, "type", "bridge"); err != nil && !isExists(err) {
		return fmt.Errorf("creating bridge %s: %w", br, err)
	}

	if net.UnderlayIface != "" {
		vx := vxlanName(net.VNI)
		vniNum, err := strconv.Atoi(net.VNI)
		if err != nil {
			return fmt.Errorf("network id %q is not numeric: %w", net.VNI, err)
		}
		if _, err := executil.Run(ctx, "ip", "link", "add", vx, "type", "vxlan",
			"id", strconv.Itoa(vniNum), "dev", net.UnderlayIface, "dstport", "4789"); err != nil && !isExists(err) {
			return fmt.Errorf("creating vxlan device %s: %w", vx, err)
		}
		if _, err := executil.Run(ctx, "ip", "link", "set", vx, "master", br); err != nil {
			return fmt.Errorf("enslaving %s to %s: %w", vx, br, err)
		}
		if err := m.setMTU(ctx, vx, net.MTU); err != nil {
			return err
		}
		if _, err := executil.Run(ctx, "ip", "link", "set", vx, "up"); err != nil {
			return fmt.Errorf("bringing up %s: %w", vx, err)
		}
	}

	if err := m.setMTU(ctx, br, net.MTU); err != nil {
		return err
	}
	if _, err := executil.Run(ctx, "ip", "link", "set", br, "up"); err != nil {
		return fmt.Errorf("bringing up %s: %w", br, err)
	}
	return nil
}

// RemoveBridge tears down the VXLAN device then the bridge; "no such
// device" from `ip link del` is treated as already-removed.
func (m *Manager) RemoveBridge(ctx context.Context, net Network) error {
	if net.UnderlayIface != "" {
		vx := vxlanName(net.VNI)
		if _, err := executil.Run(ctx, "ip", "link", "del", vx); err != nil && !isNoDevice(err) {
			return fmt.Errorf("removing vxlan device %s: %w", vx, err)
		}
	}
	br := bridgeName(net.VNI)
	if _, err := executil.Run(ctx, "ip", "link", "del", br); err != nil && !isNoDevice(err) {
		return fmt.Errorf("removing bridge %s: %w", br, err)
	}
	return nil
}

func (m *Manager) setMTU(ctx context.Context, dev string, mtu int) error {
	if mtu <= 0 {
		return nil
	}
	if _, err := executil.Run(ctx, "ip", "link", "set", dev, "mtu", strconv.Itoa(mtu)); err != nil {
		return fmt.Errorf("setting mtu on %s: %w", dev, err)
	}
	return nil
}

// BindGateways adds each of a managed network's gateway addresses to its
// bridge. Primary-only (spec §4.5): called during per-network takeover.
func (m *Manager) BindGateways(ctx context.Context, net Network) error {
	br := bridgeName(net.VNI)
	for _, gw := range net.Gateways {
		if _, err := executil.Run(ctx, "ip", "addr", "add", gw, "dev", br); err != nil && !isExists(err) {
			return fmt.Errorf("binding gateway %s to %s: %w", gw, br, err)
		}
	}
	return nil
}

// UnbindGateways removes a managed network's gateway addresses. Called on
// relinquish right after dnsmasq is stopped, before any other per-network
// teardown.
func (m *Manager) UnbindGateways(ctx context.Context, net Network) error {
	br := bridgeName(net.VNI)
	for _, gw := range net.Gateways {
		if _, err := executil.Run(ctx, "ip", "addr", "del", gw, "dev", br); err != nil && !isNoDevice(err) {
			return fmt.Errorf("unbinding gateway %s from %s: %w", gw, br, err)
		}
	}
	return nil
}

func isExists(err error) bool {
	return strings.Contains(err.Error(), "File exists") || strings.Contains(err.Error(), "exists")
}

func isNoDevice(err error) bool {
	return strings.Contains(err.Error(), "Cannot find device") || strings.Contains(err.Error(), "No such device")
}
