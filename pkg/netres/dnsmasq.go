package netres

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/parallelvirtualcluster/pvc/pkg/log"
)

// dnsmasqProc tracks one managed network's running dnsmasq instance,
// mirroring the start/stop bookkeeping of the teacher's embedded DNS
// Server type but wrapping a real external process instead of a
// miekg/dns listener.
type dnsmasqProc struct {
	cmd        *exec.Cmd
	configPath string
}

// StartDnsmasq renders a config file for net and launches dnsmasq bound
// to its gateway/bridge device. Primary-only (spec §4.5); called after
// BindGateways during per-network takeover, per the "DHCP/DNS before
// floating IPs" ordering in spec §4.7.
func (m *Manager) StartDnsmasq(net Network, configDir string) error {
	m.dnsmasqMu.Lock()
	defer m.dnsmasqMu.Unlock()

	if _, running := m.dnsmasqProcs[net.VNI]; running {
		return nil
	}

	configPath := filepath.Join(configDir, "dnsmasq-"+net.VNI+".conf")
	if err := os.WriteFile(configPath, []byte(renderDnsmasqConfig(net)), 0o644); err != nil {
		return fmt.Errorf("writing dnsmasq config for network %s: %w", net.VNI, err)
	}

	cmd := exec.Command("dnsmasq", "--keep-in-foreground", "--conf-file="+configPath)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting dnsmasq for network %s: %w", net.VNI, err)
	}

	m.dnsmasqProcs[net.VNI] = &dnsmasqProc{cmd: cmd, configPath: configPath}
	log.WithComponent("netres").Info().Str("network", net.VNI).Msg("started dnsmasq")
	return nil
}

// StopDnsmasq terminates a managed network's dnsmasq instance. Called
// first on relinquish (before UnbindGateways), matching "drop FIRST"
// ordering at the per-network level.
func (m *Manager) StopDnsmasq(vni string) error {
	m.dnsmasqMu.Lock()
	defer m.dnsmasqMu.Unlock()

	proc, ok := m.dnsmasqProcs[vni]
	if !ok {
		return nil
	}
	delete(m.dnsmasqProcs, vni)

	if err := proc.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("stopping dnsmasq for network %s: %w", vni, err)
	}
	_ = proc.cmd.Wait()
	_ = os.Remove(proc.configPath)
	log.WithComponent("netres").Info().Str("network", vni).Msg("stopped dnsmasq")
	return nil
}

func renderDnsmasqConfig(net Network) string {
	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", bridgeName(net.VNI))
	fmt.Fprintf(&b, "bind-interfaces\n")
	if net.DHCPStart != "" && net.DHCPEnd != "" {
		fmt.Fprintf(&b, "dhcp-range=%s,%s,12h\n", net.DHCPStart, net.DHCPEnd)
	}
	if net.Domain != "" {
		fmt.Fprintf(&b, "domain=%s\n", net.Domain)
		fmt.Fprintf(&b, "local=/%s/\n", net.Domain)
	}
	for _, lease := range net.StaticLeases {
		fmt.Fprintf(&b, "dhcp-host=%s,%s,%s\n", lease.MAC, lease.IP, lease.Hostname)
	}
	for _, fwd := range net.DNSForwarders {
		fmt.Fprintf(&b, "server=%s\n", fwd)
	}
	return b.String()
}

// dnsmasqState is embedded into Manager; kept in its own file for the
// concern it supports.
type dnsmasqState struct {
	dnsmasqMu    sync.Mutex
	dnsmasqProcs map[string]*dnsmasqProc
}
