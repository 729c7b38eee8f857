package monitor

import (
	"context"
	"testing"

	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
)

type fakeHostSampler struct {
	sample vmtypes.HostSample
	err    error
}

func (f fakeHostSampler) HostSample() (vmtypes.HostSample, error) { return f.sample, f.err }

func TestLoadPluginWithinBounds(t *testing.T) {
	p := NewLoadPlugin(fakeHostSampler{sample: vmtypes.HostSample{CPUCount: 4, LoadAvg1: 2.0}}, 1.0)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HealthDelta != 0 {
		t.Errorf("HealthDelta = %d, want 0", res.HealthDelta)
	}
}

func TestLoadPluginOverThreshold(t *testing.T) {
	p := NewLoadPlugin(fakeHostSampler{sample: vmtypes.HostSample{CPUCount: 2, LoadAvg1: 8.0}}, 1.0)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HealthDelta <= 0 {
		t.Errorf("HealthDelta = %d, want > 0", res.HealthDelta)
	}
}

func TestMemoryPluginLowFree(t *testing.T) {
	p := NewMemoryPlugin(fakeHostSampler{sample: vmtypes.HostSample{MemoryTotal: 1000, MemoryFree: 20}}, 0.1)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HealthDelta <= 0 {
		t.Errorf("HealthDelta = %d, want > 0 for low free memory", res.HealthDelta)
	}
}

func TestSeverityDelta(t *testing.T) {
	cases := map[string]int{"HEALTH_ERR": 40, "HEALTH_WARN": 15, "HEALTH_OK": 5, "": 5}
	for severity, want := range cases {
		if got := severityDelta(severity); got != want {
			t.Errorf("severityDelta(%q) = %d, want %d", severity, got, want)
		}
	}
}

func TestJoinComma(t *testing.T) {
	if got := joinComma(nil); got != "" {
		t.Errorf("joinComma(nil) = %q, want empty", got)
	}
	if got := joinComma([]string{"a", "b", "c"}); got != "a,b,c" {
		t.Errorf("joinComma = %q, want a,b,c", got)
	}
}
