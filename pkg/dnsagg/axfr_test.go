package dnsagg

import (
	"net"
	"testing"

	"github.com/miekg/dns"
)

func TestToRecordA(t *testing.T) {
	rr := &dns.A{
		Hdr: dns.RR_Header{Name: "vm1.test.local.", Rrtype: dns.TypeA, Ttl: 60},
		A:   net.ParseIP("10.0.0.5"),
	}
	rec, ok := toRecord(rr)
	if !ok {
		t.Fatal("expected ok")
	}
	if rec.Name != "vm1.test.local" || rec.Type != "A" || rec.Data != "10.0.0.5" || rec.TTL != 60 {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestToRecordAAAA(t *testing.T) {
	rr := &dns.AAAA{
		Hdr:  dns.RR_Header{Name: "vm1.test.local.", Rrtype: dns.TypeAAAA, Ttl: 60},
		AAAA: net.ParseIP("fe80::1"),
	}
	rec, ok := toRecord(rr)
	if !ok {
		t.Fatal("expected ok")
	}
	if rec.Type != "AAAA" || rec.Data != "fe80::1" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestToRecordIgnoresOtherTypes(t *testing.T) {
	rr := &dns.TXT{Hdr: dns.RR_Header{Name: "vm1.test.local.", Rrtype: dns.TypeTXT}, Txt: []string{"x"}}
	if _, ok := toRecord(rr); ok {
		t.Error("expected TXT records to be ignored")
	}
}

func TestTrimDot(t *testing.T) {
	if trimDot("vm1.test.local.") != "vm1.test.local" {
		t.Error("expected trailing dot stripped")
	}
	if trimDot("vm1.test.local") != "vm1.test.local" {
		t.Error("expected no-op without trailing dot")
	}
}
