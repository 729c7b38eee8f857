package dnsagg

import "testing"

func TestDiffAddsNewRecord(t *testing.T) {
	current := []Record{{Name: "vm1.test", Type: "A", Data: "10.0.0.5", TTL: 60}}
	incoming := []Record{
		{Name: "vm1.test", Type: "A", Data: "10.0.0.5", TTL: 60},
		{Name: "vm2.test", Type: "A", Data: "10.0.0.6", TTL: 60},
	}

	add, remove := diff(current, incoming)
	if len(remove) != 0 {
		t.Fatalf("expected no removals, got %v", remove)
	}
	if len(add) != 1 || add[0].Name != "vm2.test" {
		t.Fatalf("expected one addition for vm2.test, got %v", add)
	}
}

func TestDiffRemovesStaleRecord(t *testing.T) {
	current := []Record{
		{Name: "vm1.test", Type: "A", Data: "10.0.0.5"},
		{Name: "vm2.test", Type: "A", Data: "10.0.0.6"},
	}
	incoming := []Record{{Name: "vm1.test", Type: "A", Data: "10.0.0.5"}}

	add, remove := diff(current, incoming)
	if len(add) != 0 {
		t.Fatalf("expected no additions, got %v", add)
	}
	if len(remove) != 1 || remove[0].Name != "vm2.test" {
		t.Fatalf("expected removal of vm2.test, got %v", remove)
	}
}

func TestDiffReplacesChangedData(t *testing.T) {
	current := []Record{{Name: "vm1.test", Type: "A", Data: "10.0.0.5"}}
	incoming := []Record{{Name: "vm1.test", Type: "A", Data: "10.0.0.99"}}

	add, remove := diff(current, incoming)
	if len(remove) != 1 || remove[0].Data != "10.0.0.5" {
		t.Fatalf("expected removal of stale data, got %v", remove)
	}
	if len(add) != 1 || add[0].Data != "10.0.0.99" {
		t.Fatalf("expected addition of new data, got %v", add)
	}
}

func TestDiffNoChangeIsEmpty(t *testing.T) {
	recs := []Record{{Name: "vm1.test", Type: "A", Data: "10.0.0.5"}}
	add, remove := diff(recs, recs)
	if len(add) != 0 || len(remove) != 0 {
		t.Fatalf("expected no diff, got add=%v remove=%v", add, remove)
	}
}

func TestDiffSameNameDifferentTypeIsNotAMatch(t *testing.T) {
	current := []Record{{Name: "vm1.test", Type: "A", Data: "10.0.0.5"}}
	incoming := []Record{{Name: "vm1.test", Type: "AAAA", Data: "fe80::1"}}

	add, remove := diff(current, incoming)
	if len(add) != 1 || len(remove) != 1 {
		t.Fatalf("expected A removed and AAAA added independently, got add=%v remove=%v", add, remove)
	}
}

func TestIncrementSerial(t *testing.T) {
	out, err := incrementSerial("ns1.example.com hostmaster.example.com 42 28800 7200 604800 86400")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ns1.example.com hostmaster.example.com 43 28800 7200 604800 86400"
	if out != want {
		t.Errorf("incrementSerial = %q, want %q", out, want)
	}
}

func TestIncrementSerialMalformed(t *testing.T) {
	if _, err := incrementSerial("too short"); err == nil {
		t.Error("expected error for malformed SOA")
	}
}
