package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
path:
  node_ip_file: /etc/pvc/node_ip
  dynamic_directory: /var/lib/pvc/dynamic
  system_log_directory: /var/log/pvc
  console_log_directory: /var/log/libvirt/pvc
  ceph_directory: /etc/ceph
subsystem:
  enable_hypervisor: true
  enable_networking: true
  enable_storage: true
cluster:
  name: test-cluster
  all_nodes: [pvchv1, pvchv2, pvchv3]
  coordinator_nodes: [pvchv1, pvchv2, pvchv3]
  networks:
    cluster:
      domain: pvc.local
      device: ens4
      mtu: 1500
      node_ip_selection: by-id
      ipv4:
        network_address: 10.0.0.0
        netmask: 24
        floating_address: 10.0.0.254
    storage:
      domain: storage.local
      device: ens5
      mtu: 9000
      node_ip_selection: by-id
      ipv4:
        network_address: 10.0.1.0
        netmask: 24
        floating_address: 10.0.1.254
    upstream:
      domain: upstream.local
      device: ens6
      mtu: 1500
      node_ip_selection: by-id
      ipv4:
        network_address: 10.0.2.0
        netmask: 24
        floating_address: 10.0.2.254
        gateway_address: 10.0.2.1
database:
  zookeeper:
    port: 2181
  keydb:
    port: 6379
    hostname: localhost
    path: "/0"
  postgres:
    port: 5432
    hostname: localhost
    credentials:
      api:
        database: pvcapi
        username: pvcapi
        password: secret
      dns:
        database: pvcdns
        username: pvcdns
        password: secret
fencing:
  disable_on_ipmi_failure: false
  intervals:
    fence_intervals: 6
  actions:
    successful_fence: migrate
    failed_fence: none
  ipmi:
    hostname: "pvchv{node_id}-lom.pvc.local"
    username: admin
    password: admin
migration:
  target_selector: mem
guest_networking:
  bridge_device: ens7
  bridge_mtu: 1500
ceph:
  ceph_config_file: ceph.conf
  ceph_keyring_file: ceph.client.admin.keyring
  monitor_port: 6789
  secret_uuid: abcd-efgh
`

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pvcnoded.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTestConfig(t, sampleYAML)

	cfg, err := LoadWithHostname(path, "pvchv2.pvc.local")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Cluster.Name != "test-cluster" {
		t.Errorf("cluster name = %q, want test-cluster", cfg.Cluster.Name)
	}
	if len(cfg.Cluster.CoordinatorNodes) != 3 {
		t.Errorf("coordinator_nodes = %v, want 3 entries", cfg.Cluster.CoordinatorNodes)
	}
	if cfg.Timer.VMShutdownTimeout != 180 {
		t.Errorf("vm_shutdown_timeout = %d, want default 180", cfg.Timer.VMShutdownTimeout)
	}
	if cfg.Migration.TargetSelector != "mem" {
		t.Errorf("migration target selector = %q, want mem", cfg.Migration.TargetSelector)
	}

	net, ok := cfg.Networks["cluster"]
	if !ok {
		t.Fatal("cluster network not resolved")
	}
	if net.NodeDevIP == nil {
		t.Fatal("cluster network NodeDevIP not set")
	}
	if !net.Network.Contains(net.NodeDevIP) {
		t.Errorf("resolved device IP %s not within %s", net.NodeDevIP, net.Network)
	}
	if !net.Network.Contains(net.FloatingAddress) {
		t.Errorf("floating address %s not within %s", net.FloatingAddress, net.Network)
	}

	if cfg.Ceph.CephConfigFile != "/etc/ceph/ceph.conf" {
		t.Errorf("ceph config file = %q, want /etc/ceph/ceph.conf", cfg.Ceph.CephConfigFile)
	}
}

func TestLoadMissingCoordinators(t *testing.T) {
	path := writeTestConfig(t, `
path:
  dynamic_directory: /var/lib/pvc/dynamic
cluster:
  name: test-cluster
`)
	if _, err := LoadWithHostname(path, "pvchv1.pvc.local"); err == nil {
		t.Fatal("expected error for missing coordinator_nodes")
	}
}

func TestLoadBadFloatingAddress(t *testing.T) {
	path := writeTestConfig(t, `
cluster:
  name: test-cluster
  coordinator_nodes: [pvchv1]
  networks:
    cluster:
      node_ip_selection: by-id
      ipv4:
        network_address: 10.0.0.0
        netmask: 24
        floating_address: 192.168.1.1
`)
	if _, err := LoadWithHostname(path, "pvchv1.pvc.local"); err == nil {
		t.Fatal("expected error for floating address outside network")
	}
}

func TestPathRequiresEnv(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	if _, err := Path(); err == nil {
		t.Fatal("expected error when PVC_CONFIG_FILE is unset")
	}
}

func TestResolvedIPMIHostnameTemplate(t *testing.T) {
	fc := FencingConfig{}
	fc.IPMI.Hostname = "pvchv{node_id}-lom.pvc.local"
	got := fc.ResolvedIPMIHostname(3)
	want := "pvchv3-lom.pvc.local"
	if got != want {
		t.Errorf("ResolvedIPMIHostname(3) = %q, want %q", got, want)
	}
}
