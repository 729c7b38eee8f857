package node

import (
	"testing"
	"time"
)

func TestRateSinceFirstSample(t *testing.T) {
	got := rateSince("eth0", ifaceCounters{}, ifaceCounters{rxBytes: 1000, txBytes: 500}, 5*time.Second)
	if got.RxBps != 0 || got.TxBps != 0 || got.RxPps != 0 || got.TxPps != 0 {
		t.Errorf("rateSince on first sample = %+v, want all-zero rates", got)
	}
}

func TestRateSinceDelta(t *testing.T) {
	prev := ifaceCounters{rxBytes: 1000, txBytes: 1000, rxPackets: 10, txPackets: 10}
	cur := ifaceCounters{rxBytes: 6000, txBytes: 3000, rxPackets: 60, txPackets: 30}
	got := rateSince("eth0", prev, cur, 5*time.Second)

	if want := float64(5000*8) / 5; got.RxBps != want {
		t.Errorf("RxBps = %v, want %v", got.RxBps, want)
	}
	if want := float64(2000*8) / 5; got.TxBps != want {
		t.Errorf("TxBps = %v, want %v", got.TxBps, want)
	}
	if want := float64(50) / 5; got.RxPps != want {
		t.Errorf("RxPps = %v, want %v", got.RxPps, want)
	}
	if want := float64(20) / 5; got.TxPps != want {
		t.Errorf("TxPps = %v, want %v", got.TxPps, want)
	}
}

func TestRateSinceCounterReset(t *testing.T) {
	prev := ifaceCounters{rxBytes: 5000, txBytes: 5000, rxPackets: 50, txPackets: 50}
	cur := ifaceCounters{rxBytes: 100, txBytes: 100, rxPackets: 1, txPackets: 1}
	got := rateSince("eth0", prev, cur, 5*time.Second)
	if got.RxBps != 0 || got.TxBps != 0 {
		t.Errorf("rateSince on counter reset = %+v, want zero rates instead of a negative spike", got)
	}
}
