package dnsagg

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/log"
)

// Aggregator owns the cluster's single authoritative DNS view: the
// PowerDNS process, its PostgreSQL-backed zone store, and the
// AXFR-pull-diff-reload loop over every managed network. One instance
// runs on the primary coordinator only (spec §4.6/§4.7); pkg/primary
// starts and stops it as part of takeover/relinquish.
type Aggregator struct {
	cfg   Config
	pdns  *powerDNS
	store *store

	mu     sync.Mutex
	zones  map[string]Zone
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New prepares an Aggregator without starting any external process or
// DB connection; call Start to bring it up.
func New(cfg Config) *Aggregator {
	cfg.setDefaults()
	return &Aggregator{
		cfg:   cfg,
		pdns:  newPowerDNS(cfg),
		zones: make(map[string]Zone),
	}
}

// Start launches pdns_server, opens the backend, and begins the poll
// loop. Called once on primary takeover.
func (a *Aggregator) Start(ctx context.Context) error {
	s, err := openStore(ctx, a.cfg.DSN)
	if err != nil {
		return err
	}
	a.store = s

	if err := a.pdns.start(); err != nil {
		a.store.close()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go a.run(loopCtx)

	log.WithComponent("dnsagg").Info().Msg("dns aggregator started")
	return nil
}

// Stop halts the poll loop, stops pdns_server, and closes the backend.
// Called last on primary relinquish, after floating IPs and per-network
// services have been released.
func (a *Aggregator) Stop() error {
	if a.cancel != nil {
		a.cancel()
		a.wg.Wait()
	}
	err := a.pdns.stop()
	if a.store != nil {
		a.store.close()
	}
	log.WithComponent("dnsagg").Info().Msg("dns aggregator stopped")
	return err
}

// AddNetwork registers a managed network's zone: an SQL domain/SOA/NS
// triple is created, and the zone joins the AXFR poll set.
func (a *Aggregator) AddNetwork(ctx context.Context, z Zone) error {
	nsHost := fmt.Sprintf("ns1.%s", a.cfg.UpstreamDomain)
	hostmaster := fmt.Sprintf("hostmaster.%s", a.cfg.UpstreamDomain)
	if err := a.store.addZone(ctx, z.Domain, nsHost, hostmaster); err != nil {
		return err
	}

	a.mu.Lock()
	a.zones[z.VNI] = z
	a.mu.Unlock()
	return nil
}

// RemoveNetwork drops a zone's SQL domain/records and stops polling it.
func (a *Aggregator) RemoveNetwork(ctx context.Context, vni string) error {
	a.mu.Lock()
	z, ok := a.zones[vni]
	delete(a.zones, vni)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return a.store.removeZone(ctx, z.Domain)
}

func (a *Aggregator) currentZones() []Zone {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Zone, 0, len(a.zones))
	for _, z := range a.zones {
		out = append(out, z)
	}
	return out
}

// run is the AXFR-pull-diff-reload loop, generalized from
// AXFRDaemonInstance.run(): every PollInterval, pull each network's
// zone, diff it against the backend, and reload PowerDNS if and only if
// something changed. One network's failure is logged and skipped; the
// rest of the tick continues.
func (a *Aggregator) run(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, z := range a.currentZones() {
				if err := a.reconcileZone(ctx, z); err != nil {
					log.WithComponent("dnsagg").Warn().Err(err).Str("network", z.VNI).Msg("axfr reconcile failed")
				}
			}
		}
	}
}

func (a *Aggregator) reconcileZone(ctx context.Context, z Zone) error {
	incoming, err := axfrPull(z.GatewayAddr, z.Domain)
	if err != nil {
		return fmt.Errorf("pulling zone %s: %w", z.Domain, err)
	}

	current, err := a.store.currentRecords(ctx, z.Domain)
	if err != nil {
		return fmt.Errorf("reading current records for %s: %w", z.Domain, err)
	}

	add, remove := diff(current, incoming)
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}

	domainID, err := a.store.domainID(ctx, z.Domain)
	if err != nil {
		return err
	}
	for _, r := range remove {
		if err := a.store.deleteRecord(ctx, domainID, r); err != nil {
			return err
		}
	}
	for _, r := range add {
		if err := a.store.insertRecord(ctx, domainID, r); err != nil {
			return err
		}
	}
	if err := a.store.bumpSerial(ctx, domainID, z.Domain); err != nil {
		return err
	}

	log.WithComponent("dnsagg").Info().Str("network", z.VNI).Int("added", len(add)).Int("removed", len(remove)).Msg("reconciled zone")
	return a.pdns.reloadZone(ctx, z.Domain)
}
