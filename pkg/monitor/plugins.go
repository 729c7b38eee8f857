package monitor

import (
	"context"
	"fmt"

	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
)

// HostSampler is the local hardware read a stock plugin scores against;
// *vminstance.LocalHypervisor implements it structurally, same as
// keepalive.HostSampler.
type HostSampler interface {
	HostSample() (vmtypes.HostSample, error)
}

// LoadPlugin docks health for a sustained high 1-minute load average
// relative to the node's CPU count.
type LoadPlugin struct {
	BasePlugin
	host      HostSampler
	threshold float64 // load/cpu ratio that costs health, default 1.0
}

func NewLoadPlugin(host HostSampler, threshold float64) *LoadPlugin {
	if threshold <= 0 {
		threshold = 1.0
	}
	return &LoadPlugin{host: host, threshold: threshold}
}

func (p *LoadPlugin) Name() string { return "load" }

func (p *LoadPlugin) Run(ctx context.Context) (Result, error) {
	sample, err := p.host.HostSample()
	if err != nil {
		return Result{}, err
	}
	if sample.CPUCount == 0 {
		return Result{Message: "no cpu count reported"}, nil
	}
	ratio := sample.LoadAvg1 / float64(sample.CPUCount)
	if ratio <= p.threshold {
		return Result{Message: fmt.Sprintf("load average %.2f within bounds", sample.LoadAvg1)}, nil
	}
	delta := int((ratio - p.threshold) * 20)
	if delta > 20 {
		delta = 20
	}
	return Result{
		HealthDelta: delta,
		Message:     fmt.Sprintf("load average %.2f exceeds %.2f per cpu", sample.LoadAvg1, p.threshold),
	}, nil
}

// MemoryPlugin docks health when free memory drops below a fraction of
// total installed memory.
type MemoryPlugin struct {
	BasePlugin
	host          HostSampler
	minFreeRatio  float64 // default 0.1
}

func NewMemoryPlugin(host HostSampler, minFreeRatio float64) *MemoryPlugin {
	if minFreeRatio <= 0 {
		minFreeRatio = 0.1
	}
	return &MemoryPlugin{host: host, minFreeRatio: minFreeRatio}
}

func (p *MemoryPlugin) Name() string { return "memory" }

func (p *MemoryPlugin) Run(ctx context.Context) (Result, error) {
	sample, err := p.host.HostSample()
	if err != nil {
		return Result{}, err
	}
	if sample.MemoryTotal == 0 {
		return Result{Message: "no memory total reported"}, nil
	}
	freeRatio := float64(sample.MemoryFree) / float64(sample.MemoryTotal)
	if freeRatio >= p.minFreeRatio {
		return Result{Message: fmt.Sprintf("%.1f%% memory free", freeRatio*100)}, nil
	}
	delta := int((p.minFreeRatio - freeRatio) * 100)
	if delta > 25 {
		delta = 25
	}
	return Result{
		HealthDelta: delta,
		Message:     fmt.Sprintf("only %.1f%% memory free", freeRatio*100),
	}, nil
}
