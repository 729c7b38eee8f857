package netres

import (
	"context"
	"fmt"

	"github.com/parallelvirtualcluster/pvc/pkg/executil"
)

// boolToOnOff mirrors SRIOVVFInstance.py's helper of the same purpose.
func boolToOnOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ApplyVFMTU sets the VF device's own MTU, independent of the dedicated
// per-attribute watches below (SRIOVVFInstance.py.__init__).
func (m *Manager) ApplyVFMTU(ctx context.Context, vf string, mtu int) error {
	if mtu <= 0 {
		return nil
	}
	if _, err := executil.Run(ctx, "ip", "link", "set", vf, "mtu", fmt.Sprint(mtu)); err != nil {
		return fmt.Errorf("setting mtu on VF %s: %w", vf, err)
	}
	return nil
}

// ApplyVFVLAN sets the VF's VLAN ID and QoS together, since `ip link set
// vf ... vlan` takes both in one invocation (SRIOVVFInstance.py
// watch_vf_vlan_id / watch_vf_vlan_qos, which issue the identical command).
func (m *Manager) ApplyVFVLAN(ctx context.Context, pf string, vfID int, vlanID, vlanQOS string) error {
	if _, err := executil.Run(ctx, "ip", "link", "set", pf, "vf", fmt.Sprint(vfID), "vlan", vlanID, "qos", vlanQOS); err != nil {
		return fmt.Errorf("setting vlan %s/qos %s on %s vf %d: %w", vlanID, vlanQOS, pf, vfID, err)
	}
	return nil
}

func (m *Manager) ApplyVFTxRateMin(ctx context.Context, pf string, vfID int, rate string) error {
	if _, err := executil.Run(ctx, "ip", "link", "set", pf, "vf", fmt.Sprint(vfID), "min_tx_rate", rate); err != nil {
		return fmt.Errorf("setting min_tx_rate on %s vf %d: %w", pf, vfID, err)
	}
	return nil
}

func (m *Manager) ApplyVFTxRateMax(ctx context.Context, pf string, vfID int, rate string) error {
	if _, err := executil.Run(ctx, "ip", "link", "set", pf, "vf", fmt.Sprint(vfID), "max_tx_rate", rate); err != nil {
		return fmt.Errorf("setting max_tx_rate on %s vf %d: %w", pf, vfID, err)
	}
	return nil
}

func (m *Manager) ApplyVFSpoofCheck(ctx context.Context, pf string, vfID int, enabled bool) error {
	if _, err := executil.Run(ctx, "ip", "link", "set", pf, "vf", fmt.Sprint(vfID), "spoofchk", boolToOnOff(enabled)); err != nil {
		return fmt.Errorf("setting spoofchk on %s vf %d: %w", pf, vfID, err)
	}
	return nil
}

func (m *Manager) ApplyVFLinkState(ctx context.Context, pf string, vfID int, state string) error {
	if _, err := executil.Run(ctx, "ip", "link", "set", pf, "vf", fmt.Sprint(vfID), "state", state); err != nil {
		return fmt.Errorf("setting link state on %s vf %d: %w", pf, vfID, err)
	}
	return nil
}

func (m *Manager) ApplyVFTrust(ctx context.Context, pf string, vfID int, trusted bool) error {
	if _, err := executil.Run(ctx, "ip", "link", "set", pf, "vf", fmt.Sprint(vfID), "trust", boolToOnOff(trusted)); err != nil {
		return fmt.Errorf("setting trust on %s vf %d: %w", pf, vfID, err)
	}
	return nil
}

func (m *Manager) ApplyVFQueryRSS(ctx context.Context, pf string, vfID int, enabled bool) error {
	if _, err := executil.Run(ctx, "ip", "link", "set", pf, "vf", fmt.Sprint(vfID), "query_rss", boolToOnOff(enabled)); err != nil {
		return fmt.Errorf("setting query_rss on %s vf %d: %w", pf, vfID, err)
	}
	return nil
}

// ApplyVF pushes every attribute of attrs for one VF, used when an
// instance first attaches and needs its full configuration enforced at
// once rather than one watch firing at a time.
func (m *Manager) ApplyVF(ctx context.Context, pf string, vfID int, attrs VFAttributes) error {
	if err := m.ApplyVFVLAN(ctx, pf, vfID, attrs.VLANID, attrs.VLANQOS); err != nil {
		return err
	}
	if err := m.ApplyVFTxRateMin(ctx, pf, vfID, attrs.TxRateMin); err != nil {
		return err
	}
	if err := m.ApplyVFTxRateMax(ctx, pf, vfID, attrs.TxRateMax); err != nil {
		return err
	}
	if err := m.ApplyVFSpoofCheck(ctx, pf, vfID, attrs.SpoofCheck); err != nil {
		return err
	}
	if err := m.ApplyVFLinkState(ctx, pf, vfID, attrs.LinkState); err != nil {
		return err
	}
	if err := m.ApplyVFTrust(ctx, pf, vfID, attrs.Trust); err != nil {
		return err
	}
	return m.ApplyVFQueryRSS(ctx, pf, vfID, attrs.QueryRSS)
}
