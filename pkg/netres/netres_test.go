package netres

import (
	"errors"
	"strings"
	"testing"
)

func TestBridgeAndVxlanNaming(t *testing.T) {
	if got := bridgeName("100"); got != "vmbr100" {
		t.Errorf("bridgeName = %q, want vmbr100", got)
	}
	if got := vxlanName("100"); got != "vxlan100" {
		t.Errorf("vxlanName = %q, want vxlan100", got)
	}
}

func TestChainName(t *testing.T) {
	if got := chainName("55"); got != "pvc-net-55" {
		t.Errorf("chainName = %q, want pvc-net-55", got)
	}
}

func TestBoolToOnOff(t *testing.T) {
	if boolToOnOff(true) != "on" {
		t.Error("boolToOnOff(true) != on")
	}
	if boolToOnOff(false) != "off" {
		t.Error("boolToOnOff(false) != off")
	}
}

func TestIsExistsAndIsNoDevice(t *testing.T) {
	if !isExists(errors.New("RTNETLINK answers: File exists")) {
		t.Error("expected isExists to match 'File exists'")
	}
	if !isNoDevice(errors.New("Cannot find device \"vmbr9\"")) {
		t.Error("expected isNoDevice to match 'Cannot find device'")
	}
}

func TestRenderDnsmasqConfig(t *testing.T) {
	net := Network{
		VNI:       "200",
		Domain:    "test.local",
		DHCPStart: "10.0.0.10",
		DHCPEnd:   "10.0.0.200",
		StaticLeases: []StaticLease{
			{MAC: "aa:bb:cc:dd:ee:ff", IP: "10.0.0.5", Hostname: "vm1"},
		},
		DNSForwarders: []string{"1.1.1.1"},
	}

	cfg := renderDnsmasqConfig(net)

	for _, want := range []string{
		"interface=vmbr200",
		"dhcp-range=10.0.0.10,10.0.0.200,12h",
		"domain=test.local",
		"dhcp-host=aa:bb:cc:dd:ee:ff,10.0.0.5,vm1",
		"server=1.1.1.1",
	} {
		if !strings.Contains(cfg, want) {
			t.Errorf("rendered config missing %q:\n%s", want, cfg)
		}
	}
}
