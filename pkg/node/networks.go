package node

import (
	"strings"
	"sync"

	"github.com/parallelvirtualcluster/pvc/pkg/netres"
	"github.com/parallelvirtualcluster/pvc/pkg/zkstore"
)

// networkRegistry is this node's cached view of base.network/*,
// converted from the stored dotted attributes into the netres.Network
// shape pkg/netres and pkg/primary actually operate on. No SPEC_FULL
// component defines a network-provisioning API (spec.md Non-goals:
// "no HTTP API/provisioner, no CLI client") so this file is the one
// place the wire encoding of a network entry is pinned down; any future
// admin tool writes znodes in this same shape.
type networkRegistry struct {
	store         *zkstore.Store
	underlayIface string
	underlayMTU   int

	mu       sync.RWMutex
	networks map[string]netres.Network
}

func newNetworkRegistry(store *zkstore.Store, underlayIface string, underlayMTU int) *networkRegistry {
	return &networkRegistry{
		store:         store,
		underlayIface: underlayIface,
		underlayMTU:   underlayMTU,
		networks:      make(map[string]netres.Network),
	}
}

// ListNetworks satisfies primary.NetworkLister.
func (r *networkRegistry) ListNetworks() ([]netres.Network, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]netres.Network, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, n)
	}
	return out, nil
}

func (r *networkRegistry) refresh() error {
	schema := r.store.Schema()
	vnis, err := r.store.Children(schema.NetworkRoot())
	if err != nil {
		return err
	}

	next := make(map[string]netres.Network, len(vnis))
	for _, vni := range vnis {
		n, err := r.readNetwork(vni)
		if err != nil {
			continue
		}
		next[vni] = n
	}

	r.mu.Lock()
	r.networks = next
	r.mu.Unlock()
	return nil
}

func (r *networkRegistry) readNetwork(vni string) (netres.Network, error) {
	schema := r.store.Schema()

	attr := func(name string) string { return schema.NetworkAttr(vni, name) }

	raw, err := r.store.ReadMany([]string{
		attr("type"),
		attr("domain"),
		attr("ipv4.gateway"),
		attr("ipv4.dhcp_start"),
		attr("ipv4.dhcp_end"),
		attr("ipv6.gateway"),
		attr("nameservers"),
	})
	if err != nil {
		return netres.Network{}, err
	}

	net := netres.Network{
		VNI:           vni,
		Type:          netres.NetworkType(raw[attr("type")]),
		UnderlayIface: r.underlayIface,
		MTU:           r.underlayMTU,
		Domain:        raw[attr("domain")],
		DHCPStart:     raw[attr("ipv4.dhcp_start")],
		DHCPEnd:       raw[attr("ipv4.dhcp_end")],
		DNSForwarders: splitComma(raw[attr("nameservers")]),
	}
	for _, gw := range []string{raw[attr("ipv4.gateway")], raw[attr("ipv6.gateway")]} {
		if gw != "" {
			net.Gateways = append(net.Gateways, gw)
		}
	}

	leases, err := r.readLeases(vni)
	if err != nil {
		return netres.Network{}, err
	}
	net.StaticLeases = leases

	rules, err := r.readFirewallRules(vni, "firewall_rules_in")
	if err != nil {
		return netres.Network{}, err
	}
	outRules, err := r.readFirewallRules(vni, "firewall_rules_out")
	if err != nil {
		return netres.Network{}, err
	}
	net.FirewallRules = append(rules, outRules...)

	return net, nil
}

func (r *networkRegistry) readLeases(vni string) ([]netres.StaticLease, error) {
	schema := r.store.Schema()
	root := schema.NetworkPath(vni) + "/dhcp_reservations"
	macs, err := r.store.Children(root)
	if err != nil {
		if ok, _ := r.store.Exists(root); !ok {
			return nil, nil
		}
		return nil, err
	}

	var leases []netres.StaticLease
	for _, mac := range macs {
		raw, err := r.store.ReadMany([]string{root + "/" + mac + "/ip", root + "/" + mac + "/hostname"})
		if err != nil {
			continue
		}
		leases = append(leases, netres.StaticLease{
			MAC:      strings.ReplaceAll(mac, "_", ":"),
			IP:       raw[root+"/"+mac+"/ip"],
			Hostname: raw[root+"/"+mac+"/hostname"],
		})
	}
	return leases, nil
}

// direction is "firewall_rules_in" or "firewall_rules_out"; each child
// znode is one rule, named by its declared order, holding a single raw
// nftables rule-body fragment such as
// "tcp saddr 10.0.0.0/24 daddr any dport 22 accept".
func (r *networkRegistry) readFirewallRules(vni, direction string) ([]netres.FirewallRule, error) {
	schema := r.store.Schema()
	root := schema.NetworkPath(vni) + "/" + direction
	names, err := r.store.Children(root)
	if err != nil {
		if ok, _ := r.store.Exists(root); !ok {
			return nil, nil
		}
		return nil, err
	}

	dir := "in"
	if direction == "firewall_rules_out" {
		dir = "out"
	}

	var rules []netres.FirewallRule
	for _, name := range names {
		raw, ok, err := r.store.Read(root + "/" + name)
		if err != nil || !ok {
			continue
		}
		rules = append(rules, parseFirewallRule(dir, raw))
	}
	return rules, nil
}

// parseFirewallRule splits a raw nftables rule-body fragment into the
// structured fields pkg/netres needs to build an "nft add rule"
// invocation. The last whitespace-separated token is always the verdict
// (accept/drop/reject); "saddr"/"daddr"/"dport" pairs and a leading
// protocol token are recognized, anything else is ignored.
func parseFirewallRule(direction, raw string) netres.FirewallRule {
	fields := strings.Fields(raw)
	rule := netres.FirewallRule{Direction: direction}
	if len(fields) == 0 {
		return rule
	}

	rule.Action = fields[len(fields)-1]
	fields = fields[:len(fields)-1]

	if len(fields) > 0 {
		switch fields[0] {
		case "tcp", "udp", "icmp", "icmpv6":
			rule.Protocol = fields[0]
			fields = fields[1:]
		}
	}

	for i := 0; i+1 < len(fields); i++ {
		switch fields[i] {
		case "saddr":
			rule.Source = fields[i+1]
		case "daddr":
			rule.Dest = fields[i+1]
		case "dport":
			rule.Port = fields[i+1]
		}
	}
	return rule
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
