package dnsagg

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/executil"
	"github.com/parallelvirtualcluster/pvc/pkg/log"
)

// powerDNS supervises the external pdns_server process, the single
// authoritative nameserver for the whole cluster. Generalized from
// PowerDNSInstance.start()/.stop(): gpgsql backend, AXFR open to any
// secondary, bound to the cluster/storage/upstream floating IPs.
type powerDNS struct {
	cfg Config

	mu  sync.Mutex
	cmd *exec.Cmd
}

func newPowerDNS(cfg Config) *powerDNS {
	return &powerDNS{cfg: cfg}
}

func (p *powerDNS) start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return nil
	}

	args := []string{
		"--daemon=no",
		"--guardian=no",
		"--disable-syslog",
		"--log-timestamp=no",
		"--write-pid=no",
		"--socket-dir=" + p.cfg.SocketDir,
		"--launch=gpgsql",
		"--gpgsql-dbname=pvcdns",
		"--gpgsql-host=localhost",
		"--local-address=" + p.cfg.localAddresses(),
		"--local-port=53",
		"--master=yes",
		"--allow-axfr-ips=0.0.0.0/0",
		"--disable-axfr=no",
	}

	cmd := exec.Command(p.cfg.PDNSBinary, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting pdns_server: %w", err)
	}
	p.cmd = cmd
	log.WithComponent("dnsagg").Info().Msg("started pdns_server")
	return nil
}

// stop sends SIGTERM, waits briefly, and escalates to SIGKILL, mirroring
// PowerDNSInstance.stop()'s graceful-then-forceful shutdown.
func (p *powerDNS) stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return nil
	}
	cmd := p.cmd
	p.cmd = nil

	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
		log.WithComponent("dnsagg").Info().Msg("stopped pdns_server")
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		<-done
		log.WithComponent("dnsagg").Warn().Msg("force-killed pdns_server after timeout")
	}
	return nil
}

// reloadZone notifies pdns_server to reload one domain's records after
// the AXFR diff loop commits a change, via pdns_control's control
// socket (AXFRDaemonInstance.run()'s closing step on each changed zone).
func (p *powerDNS) reloadZone(ctx context.Context, domain string) error {
	_, err := executil.Run(ctx, p.cfg.PDNSControlBinary, "--socket-dir="+p.cfg.SocketDir, "reload", domain)
	if err != nil {
		return fmt.Errorf("reloading zone %s: %w", domain, err)
	}
	return nil
}

func (c Config) localAddresses() string {
	addrs := make([]string, 0, 3)
	for _, a := range []string{c.ClusterAddr, c.StorageAddr, c.UpstreamAddr} {
		if a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return "0.0.0.0"
	}
	out := addrs[0]
	for _, a := range addrs[1:] {
		out += "," + a
	}
	return out
}
