package dnsagg

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
)

// axfrPull transfers zone's full record set from addr and normalizes it
// into comparable Records, skipping the SOA and any NS record the
// dnsmasq source synthesizes at the head of the transfer — the
// aggregator's own store owns the authoritative SOA/NS for the domain
// (AXFRDaemonInstance.run(): "skip the first answer, it's dnsmasq's
// placeholder SOA").
func axfrPull(addr, zone string) ([]Record, error) {
	t := &dns.Transfer{DialTimeout: axfrTimeout, ReadTimeout: axfrTimeout}
	m := new(dns.Msg)
	m.SetAxfr(dns.Fqdn(zone))

	env, err := t.In(m, addr)
	if err != nil {
		return nil, fmt.Errorf("axfr %s from %s: %w", zone, addr, err)
	}

	var out []Record
	first := true
	for e := range env {
		if e.Error != nil {
			return nil, fmt.Errorf("axfr %s from %s: %w", zone, addr, e.Error)
		}
		for _, rr := range e.RR {
			if first {
				first = false
				continue // dnsmasq's synthetic SOA
			}
			if rr.Header().Rrtype == dns.TypeNS || rr.Header().Rrtype == dns.TypeSOA {
				continue
			}
			rec, ok := toRecord(rr)
			if ok {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

// toRecord keeps only A/AAAA records, the sole types leases produce.
func toRecord(rr dns.RR) (Record, bool) {
	switch v := rr.(type) {
	case *dns.A:
		return Record{
			Name: trimDot(v.Hdr.Name),
			TTL:  v.Hdr.Ttl,
			Type: "A",
			Data: v.A.String(),
		}, true
	case *dns.AAAA:
		return Record{
			Name: trimDot(v.Hdr.Name),
			TTL:  v.Hdr.Ttl,
			Type: "AAAA",
			Data: v.AAAA.String(),
		}, true
	default:
		return Record{}, false
	}
}

func trimDot(name string) string {
	if len(name) > 0 && name[len(name)-1] == '.' {
		return name[:len(name)-1]
	}
	return name
}

// axfrTimeout bounds each per-network transfer so one unreachable
// dnsmasq instance can't stall the whole poll tick.
const axfrTimeout = 5 * time.Second
