// Package config loads and validates the node daemon's YAML configuration
// file, resolving per-node derived values (hostname, per-network device
// IP) that depend on the running host rather than the file itself.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/parallelvirtualcluster/pvc/pkg/perrors"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile is the environment variable naming the config file path.
const EnvConfigFile = "PVC_CONFIG_FILE"

// Config is the fully resolved daemon configuration: the raw YAML document
// plus values derived from the running host (hostname, node ID, selected
// device IPs).
type Config struct {
	NodeHostname string
	NodeFQDN     string
	NodeDomain   string
	NodeID       int

	Path       PathConfig
	Subsystem  SubsystemConfig
	Cluster    ClusterConfig
	Database   DatabaseConfig
	Timer      TimerConfig
	Fencing    FencingConfig
	Migration  MigrationConfig
	Logging    LoggingConfig
	GuestNet   GuestNetworkingConfig
	Ceph       CephConfig
	API        APIConfig
	Autobackup map[string]interface{}
	Automirror map[string]interface{}

	// Networks holds the resolved {cluster,storage,upstream} network
	// configs, each with NodeDevIP filled in for this host.
	Networks map[string]ResolvedNetwork
}

// fileConfig mirrors the on-disk YAML layout verbatim.
type fileConfig struct {
	Path       PathConfig            `yaml:"path"`
	Subsystem  SubsystemConfig       `yaml:"subsystem"`
	Cluster    rawClusterConfig      `yaml:"cluster"`
	Database   DatabaseConfig        `yaml:"database"`
	Timer      TimerConfig           `yaml:"timer"`
	Fencing    FencingConfig         `yaml:"fencing"`
	Migration  MigrationConfig       `yaml:"migration"`
	Logging    LoggingConfig         `yaml:"logging"`
	GuestNet   GuestNetworkingConfig `yaml:"guest_networking"`
	Ceph       CephConfig            `yaml:"ceph"`
	API        APIConfig             `yaml:"api"`
	Autobackup map[string]interface{} `yaml:"autobackup"`
	Automirror map[string]interface{} `yaml:"automirror"`
}

type PathConfig struct {
	NodeIPFile         string `yaml:"node_ip_file"`
	PluginDirectory    string `yaml:"plugin_directory"`
	DynamicDirectory   string `yaml:"dynamic_directory"`
	SystemLogDirectory string `yaml:"system_log_directory"`
	ConsoleLogDirectory string `yaml:"console_log_directory"`
	CephDirectory      string `yaml:"ceph_directory"`
}

type SubsystemConfig struct {
	EnableHypervisor bool `yaml:"enable_hypervisor"`
	EnableNetworking bool `yaml:"enable_networking"`
	EnableStorage    bool `yaml:"enable_storage"`
	EnableWorker     bool `yaml:"enable_worker"`
	EnableAPI        bool `yaml:"enable_api"`
	EnablePrometheus bool `yaml:"enable_prometheus"`
}

type rawClusterConfig struct {
	Name             string                     `yaml:"name"`
	AllNodes         []string                   `yaml:"all_nodes"`
	CoordinatorNodes []string                   `yaml:"coordinator_nodes"`
	Networks         map[string]rawNetworkEntry `yaml:"networks"`
}

type ClusterConfig struct {
	Name             string
	AllNodes         []string
	CoordinatorNodes []string
}

type rawNetworkEntry struct {
	Domain          string      `yaml:"domain"`
	Device          string      `yaml:"device"`
	MTU             int         `yaml:"mtu"`
	IPv4            rawIPv4     `yaml:"ipv4"`
	NodeIPSelection string      `yaml:"node_ip_selection"`
}

type rawIPv4 struct {
	NetworkAddress  string `yaml:"network_address"`
	Netmask         int    `yaml:"netmask"`
	FloatingAddress string `yaml:"floating_address"`
	GatewayAddress  string `yaml:"gateway_address"`
}

// ResolvedNetwork is a cluster/storage/upstream network entry after this
// host's device IP has been selected from node_ip_selection.
type ResolvedNetwork struct {
	Domain          string
	Device          string
	MTU             int
	Network         *net.IPNet
	FloatingAddress net.IP
	GatewayAddress  net.IP
	NodeIPSelection string
	NodeDevIP       net.IP
}

type DatabaseConfig struct {
	Zookeeper struct {
		Port int `yaml:"port"`
	} `yaml:"zookeeper"`
	KeyDB struct {
		Port     int    `yaml:"port"`
		Hostname string `yaml:"hostname"`
		Path     string `yaml:"path"`
	} `yaml:"keydb"`
	Postgres struct {
		Port        int    `yaml:"port"`
		Hostname    string `yaml:"hostname"`
		Credentials struct {
			API DBCredential `yaml:"api"`
			DNS DBCredential `yaml:"dns"`
		} `yaml:"credentials"`
	} `yaml:"postgres"`
}

type DBCredential struct {
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type TimerConfig struct {
	VMShutdownTimeout  int `yaml:"vm_shutdown_timeout"`
	KeepaliveInterval  int `yaml:"keepalive_interval"`
	MonitoringInterval int `yaml:"monitoring_interval"`
}

type FencingConfig struct {
	DisableOnIPMIFailure bool `yaml:"disable_on_ipmi_failure"`
	Intervals            struct {
		FenceIntervals  int `yaml:"fence_intervals"`
		SuicideInterval int `yaml:"suicide_interval"`
	} `yaml:"intervals"`
	Actions struct {
		SuccessfulFence string `yaml:"successful_fence"`
		FailedFence     string `yaml:"failed_fence"`
	} `yaml:"actions"`
	IPMI struct {
		Hostname string `yaml:"hostname"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"ipmi"`
}

// ResolvedIPMIHostname expands the {node_id} template against the given ID.
func (f FencingConfig) ResolvedIPMIHostname(nodeID int) string {
	return strings.ReplaceAll(f.IPMI.Hostname, "{node_id}", strconv.Itoa(nodeID))
}

type MigrationConfig struct {
	TargetSelector string `yaml:"target_selector"`
}

type LoggingConfig struct {
	DebugLogging               bool `yaml:"debug_logging"`
	FileLogging                bool `yaml:"file_logging"`
	StdoutLogging               bool `yaml:"stdout_logging"`
	ZookeeperLogging            bool `yaml:"zookeeper_logging"`
	LogColours                  bool `yaml:"log_colours"`
	LogDates                    bool `yaml:"log_dates"`
	LogKeepalives                bool `yaml:"log_keepalives"`
	LogKeepaliveClusterDetails   bool `yaml:"log_cluster_details"`
	LogKeepalivePluginDetails    bool `yaml:"log_monitoring_details"`
	ConsoleLogLines              int  `yaml:"console_log_lines"`
	NodeLogLines                  int  `yaml:"node_log_lines"`
}

type GuestNetworkingConfig struct {
	BridgeDevice string   `yaml:"bridge_device"`
	BridgeMTU    int      `yaml:"bridge_mtu"`
	SRIOVEnable  bool     `yaml:"sriov_enable"`
	SRIOVDevice  []string `yaml:"sriov_device"`
}

type CephConfig struct {
	CephConfigFile  string   `yaml:"ceph_config_file"`
	CephKeyringFile string   `yaml:"ceph_keyring_file"`
	MonitorPort     int      `yaml:"monitor_port"`
	SecretUUID      string   `yaml:"secret_uuid"`
	MonitorHosts    []string `yaml:"monitor_hosts"`
}

type APIConfig struct {
	Listen         string   `yaml:"listen"`
	Authentication bool     `yaml:"authentication"`
	SSL            bool     `yaml:"ssl"`
	Token          []string `yaml:"token"`
}

// Path returns the config file path from PVC_CONFIG_FILE, erroring if unset
// or the file does not exist.
func Path() (string, error) {
	path := os.Getenv(EnvConfigFile)
	if path == "" {
		return "", perrors.New(perrors.KindConfigMalformed, fmt.Sprintf("environment variable %s must be set", EnvConfigFile))
	}
	if _, err := os.Stat(path); err != nil {
		return "", perrors.Wrap(perrors.KindConfigMalformed, fmt.Errorf("config file %q: %w", path, err))
	}
	return path, nil
}

// Load reads and validates the configuration file at path, resolving
// per-host derived values against the running machine's hostname.
func Load(path string) (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, perrors.Wrap(perrors.KindConfigMalformed, fmt.Errorf("reading hostname: %w", err))
	}
	return LoadWithHostname(path, hostname)
}

// LoadWithHostname is Load with the node's FQDN supplied explicitly,
// bypassing os.Hostname(). Production code should use Load; this exists so
// tests and CLI tools can resolve a config against a hostname other than
// the one the process is actually running on.
func LoadWithHostname(path, fqdn string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Wrap(perrors.KindConfigMalformed, fmt.Errorf("reading config file: %w", err))
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, perrors.Wrap(perrors.KindConfigMalformed, fmt.Errorf("parsing config YAML: %w", err))
	}

	shortHost, domain, _ := strings.Cut(fqdn, ".")

	nodeID := lastDigits(shortHost)
	if nodeID < 1 {
		nodeID = 1
	}

	cfg := &Config{
		NodeHostname: shortHost,
		NodeFQDN:     fqdn,
		NodeDomain:   domain,
		NodeID:       nodeID,
		Path:         fc.Path,
		Subsystem:    fc.Subsystem,
		Cluster: ClusterConfig{
			Name:             fc.Cluster.Name,
			AllNodes:         fc.Cluster.AllNodes,
			CoordinatorNodes: fc.Cluster.CoordinatorNodes,
		},
		Database:   fc.Database,
		Timer:      fc.Timer,
		Fencing:    fc.Fencing,
		Migration:  fc.Migration,
		Logging:    fc.Logging,
		GuestNet:   fc.GuestNet,
		Ceph:       fc.Ceph,
		API:        fc.API,
		Autobackup: fc.Autobackup,
		Automirror: fc.Automirror,
		Networks:   make(map[string]ResolvedNetwork, len(fc.Cluster.Networks)),
	}

	if err := applyDefaults(cfg); err != nil {
		return nil, err
	}

	for _, name := range []string{"cluster", "storage", "upstream"} {
		entry, ok := fc.Cluster.Networks[name]
		if !ok {
			continue
		}
		resolved, err := resolveNetwork(name, entry, cfg.NodeID)
		if err != nil {
			return nil, err
		}
		cfg.Networks[name] = resolved
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) error {
	if cfg.Path.PluginDirectory == "" {
		cfg.Path.PluginDirectory = "/usr/share/pvc/plugins"
	}
	if cfg.Timer.VMShutdownTimeout == 0 {
		cfg.Timer.VMShutdownTimeout = 180
	}
	if cfg.Timer.KeepaliveInterval == 0 {
		cfg.Timer.KeepaliveInterval = 5
	}
	if cfg.Timer.MonitoringInterval == 0 {
		cfg.Timer.MonitoringInterval = 60
	}
	if cfg.Fencing.Intervals.FenceIntervals == 0 {
		cfg.Fencing.Intervals.FenceIntervals = 6
	}
	if cfg.Migration.TargetSelector == "" {
		cfg.Migration.TargetSelector = "mem"
	}
	if cfg.Ceph.CephConfigFile != "" {
		cfg.Ceph.CephConfigFile = joinCephPath(cfg.Path.CephDirectory, cfg.Ceph.CephConfigFile)
	}
	if cfg.Ceph.CephKeyringFile != "" {
		cfg.Ceph.CephKeyringFile = joinCephPath(cfg.Path.CephDirectory, cfg.Ceph.CephKeyringFile)
	}
	return nil
}

func joinCephPath(dir, file string) string {
	if dir == "" {
		return file
	}
	if strings.HasPrefix(file, "/") {
		return file
	}
	return dir + "/" + file
}

// resolveNetwork parses a network entry's ipv4 block and selects this
// node's device IP per node_ip_selection: "by-id" picks the
// (nodeID-1)-th usable host address, anything else is taken as a literal
// IP that must lie within the network.
func resolveNetwork(name string, entry rawNetworkEntry, nodeID int) (ResolvedNetwork, error) {
	cidr := fmt.Sprintf("%s/%d", entry.IPv4.NetworkAddress, entry.IPv4.Netmask)
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return ResolvedNetwork{}, perrors.Wrap(perrors.KindConfigMalformed, fmt.Errorf("network address for %s network: %w", name, err))
	}

	floating := net.ParseIP(entry.IPv4.FloatingAddress)
	if floating == nil {
		return ResolvedNetwork{}, perrors.New(perrors.KindConfigMalformed, fmt.Sprintf("floating address %q for %s network is not valid", entry.IPv4.FloatingAddress, name))
	}
	if !ipnet.Contains(floating) {
		return ResolvedNetwork{}, perrors.New(perrors.KindConfigMalformed, fmt.Sprintf("floating address %s is not a host of %s", floating, cidr))
	}

	var gateway net.IP
	if entry.IPv4.GatewayAddress != "" {
		gateway = net.ParseIP(entry.IPv4.GatewayAddress)
		if gateway == nil {
			return ResolvedNetwork{}, perrors.New(perrors.KindConfigMalformed, fmt.Sprintf("gateway address %q for %s network is not valid", entry.IPv4.GatewayAddress, name))
		}
	}

	var devIP net.IP
	if entry.NodeIPSelection == "by-id" || entry.NodeIPSelection == "" {
		host, err := nthHost(ipnet, nodeID-1)
		if err != nil {
			return ResolvedNetwork{}, perrors.Wrap(perrors.KindConfigMalformed, fmt.Errorf("deriving node IP for %s network: %w", name, err))
		}
		devIP = host
	} else {
		devIP = net.ParseIP(entry.NodeIPSelection)
		if devIP == nil {
			return ResolvedNetwork{}, perrors.New(perrors.KindConfigMalformed, fmt.Sprintf("node_ip_selection %q for %s network is not a valid IP", entry.NodeIPSelection, name))
		}
		if !ipnet.Contains(devIP) {
			return ResolvedNetwork{}, perrors.New(perrors.KindConfigMalformed, fmt.Sprintf("node_ip_selection %s is not within %s", devIP, cidr))
		}
	}

	return ResolvedNetwork{
		Domain:          entry.Domain,
		Device:          entry.Device,
		MTU:             entry.MTU,
		Network:         ipnet,
		FloatingAddress: floating,
		GatewayAddress:  gateway,
		NodeIPSelection: entry.NodeIPSelection,
		NodeDevIP:       devIP,
	}, nil
}

// nthHost returns the n-th usable host address (0-indexed) of the network.
func nthHost(ipnet *net.IPNet, n int) (net.IP, error) {
	if n < 0 {
		return nil, fmt.Errorf("node index %d is negative; node_id must be >= 1", n+1)
	}
	base := ipnet.IP.To4()
	if base == nil {
		return nil, fmt.Errorf("only IPv4 networks are supported")
	}
	ip := make(net.IP, len(base))
	copy(ip, base)

	// network address is host 0; the first usable host is offset 1.
	offset := uint32(n) + 1
	v := uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
	v += offset
	result := net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	if !ipnet.Contains(result) {
		return nil, fmt.Errorf("computed address %s outside network %s", result, ipnet)
	}
	return result, nil
}

func lastDigits(hostname string) int {
	start := -1
	for i := len(hostname) - 1; i >= 0; i-- {
		if hostname[i] >= '0' && hostname[i] <= '9' {
			start = i
		} else if start != -1 {
			break
		}
	}
	if start == -1 {
		return 0
	}
	n, err := strconv.Atoi(hostname[start:])
	if err != nil {
		return 0
	}
	return n
}

func validate(cfg *Config) error {
	if cfg.Cluster.Name == "" {
		return perrors.New(perrors.KindConfigMalformed, "cluster.name is required")
	}
	if len(cfg.Cluster.CoordinatorNodes) == 0 {
		return perrors.New(perrors.KindConfigMalformed, "cluster.coordinator_nodes must not be empty")
	}
	if cfg.Subsystem.EnableHypervisor && cfg.Path.DynamicDirectory == "" {
		return perrors.New(perrors.KindConfigMalformed, "path.dynamic_directory is required when hypervisor subsystem is enabled")
	}
	return nil
}
