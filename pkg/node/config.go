package node

import (
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/config"
	"github.com/parallelvirtualcluster/pvc/pkg/dnsagg"
	"github.com/parallelvirtualcluster/pvc/pkg/fence"
	"github.com/parallelvirtualcluster/pvc/pkg/keepalive"
	"github.com/parallelvirtualcluster/pvc/pkg/monitor/faultlog"
	"github.com/parallelvirtualcluster/pvc/pkg/primary"
)

// isCoordinator reports whether thisNode appears in cfg.Cluster.CoordinatorNodes.
func isCoordinator(cfg *config.Config) bool {
	for _, n := range cfg.Cluster.CoordinatorNodes {
		if n == cfg.NodeHostname {
			return true
		}
	}
	return false
}

func fenceConfig(cfg *config.Config) fence.Config {
	fenceAction := func(raw string) fence.Action {
		switch raw {
		case "migrate":
			return fence.ActionMigrate
		default:
			return fence.ActionNone
		}
	}
	return fence.Config{
		KeepaliveInterval: time.Duration(cfg.Timer.KeepaliveInterval) * time.Second,
		FenceIntervals:    cfg.Fencing.Intervals.FenceIntervals,
		SuccessfulFence:   fenceAction(cfg.Fencing.Actions.SuccessfulFence),
		FailedFence:       fenceAction(cfg.Fencing.Actions.FailedFence),
		SuicideIntervals:  cfg.Fencing.Intervals.SuicideInterval,
	}
}

func keepaliveConfig(cfg *config.Config) keepalive.Config {
	return keepalive.Config{
		ThisNode:         cfg.NodeHostname,
		Coordinators:     cfg.Cluster.CoordinatorNodes,
		Interval:         time.Duration(cfg.Timer.KeepaliveInterval) * time.Second,
		FenceIntervals:   cfg.Fencing.Intervals.FenceIntervals,
		SuicideIntervals: cfg.Fencing.Intervals.SuicideInterval,
	}
}

// primaryConfig derives the floating IPs this node claims on takeover
// from the cluster/storage/upstream network blocks (spec §4.7).
func primaryConfig(cfg *config.Config) primary.Config {
	var ips []primary.FloatingIP
	for _, name := range []string{"cluster", "storage", "upstream"} {
		net, ok := cfg.Networks[name]
		if !ok || net.FloatingAddress == nil {
			continue
		}
		ips = append(ips, primary.FloatingIP{Device: net.Device, Addr: net.FloatingAddress.String()})
	}
	return primary.Config{
		IsCoordinator: isCoordinator(cfg),
		FloatingIPs:   ips,
	}
}

func dnsaggConfig(cfg *config.Config) dnsagg.Config {
	dsn := postgresDSN(cfg)
	var cluster, storage, upstream string
	if n, ok := cfg.Networks["cluster"]; ok && n.FloatingAddress != nil {
		cluster = n.FloatingAddress.String()
	}
	if n, ok := cfg.Networks["storage"]; ok && n.FloatingAddress != nil {
		storage = n.FloatingAddress.String()
	}
	if n, ok := cfg.Networks["upstream"]; ok && n.FloatingAddress != nil {
		upstream = n.FloatingAddress.String()
	}
	return dnsagg.Config{
		ClusterAddr:    cluster,
		StorageAddr:    storage,
		UpstreamAddr:   upstream,
		UpstreamDomain: cfg.NodeDomain,
		DSN:            dsn,
	}
}

func postgresDSN(cfg *config.Config) string {
	cred := cfg.Database.Postgres.Credentials.DNS
	if cred.Database == "" {
		return ""
	}
	return "postgres://" + cred.Username + ":" + cred.Password + "@" +
		cfg.Database.Postgres.Hostname + "/" + cred.Database + "?sslmode=disable"
}

// faultlogConfig builds the coordinators-only Raft ledger's bootstrap
// config; it is only constructed (and Bootstrap only called) when this
// node is a coordinator (spec §4.10's fault evaluation is primary-only,
// but the ledger itself replicates across every coordinator so
// leadership can move with the primary role).
func faultlogConfig(cfg *config.Config, bindAddr string) faultlog.Config {
	return faultlog.Config{
		NodeID:   cfg.NodeHostname,
		BindAddr: bindAddr,
		DataDir:  cfg.Path.DynamicDirectory + "/faultlog",
	}
}
