package vminstance

import (
	"context"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
)

// DomainState mirrors the subset of libvirt's VIR_DOMAIN_* values this
// package distinguishes; everything else collapses to StateOther.
type DomainState int

const (
	StateNoState DomainState = iota
	StateRunning
	StateShutoff
	StateOther
)

// Hypervisor is the libvirt surface vminstance needs, narrowed from
// digitalocean/go-libvirt's full RPC client so Instance can be driven by a
// fake in tests without a real qemu/libvirtd underneath.
type Hypervisor interface {
	DomainExists(uuid string) bool
	DomainCreateFromXML(xml string) error
	DomainDestroy(uuid string) error
	DomainShutdown(uuid string) error
	DomainState(uuid string) (DomainState, error)
	DomainMigrateLive(ctx context.Context, uuid, destHost string) error
	Close() error
}

const libvirtSocketPath = "/var/run/libvirt/libvirt-sock"

// LocalHypervisor drives the node's own libvirtd over the local
// "qemu:///system" unix socket via digitalocean/go-libvirt.
type LocalHypervisor struct {
	conn *libvirt.Libvirt
}

// DialLocal opens the local libvirtd RPC connection.
func DialLocal() (*LocalHypervisor, error) {
	sock, err := net.DialTimeout("unix", libvirtSocketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dialing local libvirtd: %w", err)
	}
	l := libvirt.New(sock)
	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("libvirt RPC handshake: %w", err)
	}
	return &LocalHypervisor{conn: l}, nil
}

func (h *LocalHypervisor) lookup(uuid string) (libvirt.Domain, error) {
	return h.conn.DomainLookupByUUID(libvirtUUID(uuid))
}

func (h *LocalHypervisor) DomainExists(uuid string) bool {
	_, err := h.lookup(uuid)
	return err == nil
}

func (h *LocalHypervisor) DomainCreateFromXML(xml string) error {
	_, err := h.conn.DomainCreateXML(xml, 0)
	return err
}

func (h *LocalHypervisor) DomainDestroy(uuid string) error {
	dom, err := h.lookup(uuid)
	if err != nil {
		return err
	}
	return h.conn.DomainDestroy(dom)
}

func (h *LocalHypervisor) DomainShutdown(uuid string) error {
	dom, err := h.lookup(uuid)
	if err != nil {
		return err
	}
	return h.conn.DomainShutdown(dom)
}

func (h *LocalHypervisor) DomainState(uuid string) (DomainState, error) {
	dom, err := h.lookup(uuid)
	if err != nil {
		return StateNoState, nil
	}
	state, _, err := h.conn.DomainGetState(dom, 0)
	if err != nil {
		return StateNoState, err
	}
	switch libvirt.DomainState(state) {
	case libvirt.DomainRunning:
		return StateRunning, nil
	case libvirt.DomainShutoff:
		return StateShutoff, nil
	default:
		return StateOther, nil
	}
}

// DomainMigrateLive opens a fresh RPC connection to destHost's libvirtd and
// issues a live migration, matching VMInstance.py's
// "qemu+tcp://<target>/system" + VIR_MIGRATE_LIVE handshake.
func (h *LocalHypervisor) DomainMigrateLive(ctx context.Context, uuid, destHost string) error {
	dom, err := h.lookup(uuid)
	if err != nil {
		return err
	}

	var d net.Dialer
	destSock, err := d.DialContext(ctx, "tcp", destHost+":16509")
	if err != nil {
		return fmt.Errorf("dialing migration target %s: %w", destHost, err)
	}
	destConn := libvirt.New(destSock)
	if err := destConn.Connect(); err != nil {
		destSock.Close()
		return fmt.Errorf("libvirt RPC handshake with %s: %w", destHost, err)
	}
	defer destConn.Disconnect()

	_, err = h.conn.DomainMigrate(dom, destConn, libvirt.MigrateLive, "", "", 0)
	return err
}

// HostSample reads this node's own memory/CPU from libvirt's NodeGetInfo
// and its 1-minute load average from /proc/loadavg, feeding the
// keepalive loop's (C8) resource-counter computation.
func (h *LocalHypervisor) HostSample() (vmtypes.HostSample, error) {
	_, memoryKB, cpus, _, _, _, _, _, err := h.conn.NodeGetInfo()
	if err != nil {
		return vmtypes.HostSample{}, fmt.Errorf("reading libvirt node info: %w", err)
	}

	memTotalBytes := int64(memoryKB) * 1024
	memFreeBytes, err := freeMemoryBytes()
	if err != nil {
		return vmtypes.HostSample{}, err
	}

	load, err := loadAvg1()
	if err != nil {
		return vmtypes.HostSample{}, err
	}

	return vmtypes.HostSample{
		MemoryTotal: memTotalBytes,
		MemoryFree:  memFreeBytes,
		MemoryUsed:  memTotalBytes - memFreeBytes,
		CPUCount:    int(cpus),
		LoadAvg1:    load,
		Kernel:      kernelRelease(),
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
	}, nil
}

// freeMemoryBytes reads MemFree from /proc/meminfo; libvirt's NodeGetInfo
// only reports total installed memory, not current free/used.
func freeMemoryBytes() (int64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("reading /proc/meminfo: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemFree:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing MemFree: %w", err)
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("MemFree not found in /proc/meminfo")
}

func loadAvg1() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, fmt.Errorf("reading /proc/loadavg: %w", err)
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("malformed /proc/loadavg")
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parsing load average: %w", err)
	}
	return load, nil
}

func kernelRelease() string {
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(data))
}

func (h *LocalHypervisor) Close() error {
	return h.conn.Disconnect()
}

// libvirtUUID converts a dashed text UUID into libvirt's fixed 16-byte wire
// form, replacing the Python lookupByUUID wrapper's uuid.UUID(tuuid).bytes.
func libvirtUUID(text string) (out libvirt.UUID) {
	clean := make([]byte, 0, 32)
	for _, r := range text {
		if r == '-' {
			continue
		}
		clean = append(clean, byte(r))
	}
	for i := range out {
		if i*2+1 >= len(clean) {
			break
		}
		out[i] = hexNibble(clean[i*2])<<4 | hexNibble(clean[i*2+1])
	}
	return out
}

func hexNibble(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10
	default:
		return 0
	}
}
