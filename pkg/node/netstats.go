package node

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/log"
)

// netstatsInterval is the sampling cadence for per-interface bandwidth and
// packet-rate counters, grounded on
// original_source/node-daemon/pvcnoded/objects/NetstatsInstance.py running
// on the same cadence as the keepalive tick.
const netstatsInterval = 5 * time.Second

const sysClassNet = "/sys/class/net"

// ifaceStat is one physical interface's rolling-average bandwidth and
// packet rate, published as a JSON blob at base.node/<name>/network.stats.
type ifaceStat struct {
	State     string  `json:"state"`
	LinkSpeed int64   `json:"link_speed_mbps"`
	RxBps     float64 `json:"rx_bps"`
	TxBps     float64 `json:"tx_bps"`
	RxPps     float64 `json:"rx_pps"`
	TxPps     float64 `json:"tx_pps"`
}

type ifaceCounters struct {
	rxBytes   uint64
	txBytes   uint64
	rxPackets uint64
	txPackets uint64
}

// runNetstats polls physical interface counters every netstatsInterval and
// publishes the delta-over-interval rate to ZooKeeper, until ctx is
// canceled. On exit it writes an empty object, matching the Python
// daemon's shutdown() behavior of clearing its last-known stats.
func (n *Node) runNetstats(ctx context.Context) {
	path := n.store.Schema().NodeNetworkStats(n.cfg.NodeHostname)
	logger := log.WithNode(n.cfg.NodeHostname)

	ticker := time.NewTicker(netstatsInterval)
	defer ticker.Stop()

	prev := make(map[string]ifaceCounters)
	for {
		select {
		case <-ctx.Done():
			if err := n.store.WriteOne(path, "{}"); err != nil {
				logger.Warn().Err(err).Msg("clearing network stats on shutdown failed")
			}
			return
		case <-ticker.C:
			next, err := readIfaceCounters()
			if err != nil {
				logger.Warn().Err(err).Msg("reading interface counters failed")
				continue
			}

			stats := make(map[string]ifaceStat, len(next))
			for iface, cur := range next {
				stats[iface] = rateSince(iface, prev[iface], cur, netstatsInterval)
			}
			prev = next

			blob, err := json.Marshal(stats)
			if err != nil {
				logger.Warn().Err(err).Msg("encoding network stats failed")
				continue
			}
			if err := n.store.WriteOne(path, string(blob)); err != nil {
				logger.Warn().Err(err).Msg("writing network stats failed")
			}
		}
	}
}

// rateSince derives per-second rates from two counter snapshots; a zero
// previous sample (first tick, or a counter reset) reports a zero rate
// rather than a bogus spike.
func rateSince(iface string, prev, cur ifaceCounters, interval time.Duration) ifaceStat {
	seconds := interval.Seconds()
	stat := ifaceStat{
		State:     readIfaceState(iface),
		LinkSpeed: readIfaceSpeed(iface),
	}
	if prev == (ifaceCounters{}) || cur.rxBytes < prev.rxBytes || cur.txBytes < prev.txBytes {
		return stat
	}
	stat.RxBps = float64(cur.rxBytes-prev.rxBytes) * 8 / seconds
	stat.TxBps = float64(cur.txBytes-prev.txBytes) * 8 / seconds
	stat.RxPps = float64(cur.rxPackets-prev.rxPackets) / seconds
	stat.TxPps = float64(cur.txPackets-prev.txPackets) / seconds
	return stat
}

// readIfaceCounters discovers physical interfaces as those exposing a
// "device" symlink under /sys/class/net (excludes bridges, VXLANs, veths,
// and other virtual devices PVC itself creates).
func readIfaceCounters() (map[string]ifaceCounters, error) {
	entries, err := os.ReadDir(sysClassNet)
	if err != nil {
		return nil, err
	}

	out := make(map[string]ifaceCounters)
	for _, e := range entries {
		iface := e.Name()
		if !isPhysicalIface(iface) {
			continue
		}
		out[iface] = ifaceCounters{
			rxBytes:   readCounterFile(iface, "statistics/rx_bytes"),
			txBytes:   readCounterFile(iface, "statistics/tx_bytes"),
			rxPackets: readCounterFile(iface, "statistics/rx_packets"),
			txPackets: readCounterFile(iface, "statistics/tx_packets"),
		}
	}
	return out, nil
}

func isPhysicalIface(iface string) bool {
	_, err := os.Stat(filepath.Join(sysClassNet, iface, "device"))
	return err == nil
}

func readCounterFile(iface, rel string) uint64 {
	data, err := os.ReadFile(filepath.Join(sysClassNet, iface, rel))
	if err != nil {
		return 0
	}
	v, _ := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	return v
}

func readIfaceState(iface string) string {
	data, err := os.ReadFile(filepath.Join(sysClassNet, iface, "operstate"))
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(data))
}

func readIfaceSpeed(iface string) int64 {
	data, err := os.ReadFile(filepath.Join(sysClassNet, iface, "speed"))
	if err != nil {
		return 0
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
