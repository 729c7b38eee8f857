package keepalive

import (
	"errors"
	"testing"
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/fence"
)

func TestConfigSetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	if cfg.Interval != 5*time.Second {
		t.Errorf("Interval = %v, want 5s", cfg.Interval)
	}
	if cfg.FenceIntervals != 6 {
		t.Errorf("FenceIntervals = %d, want 6", cfg.FenceIntervals)
	}
}

func TestConfigKeepsExplicitValues(t *testing.T) {
	cfg := Config{Interval: 10 * time.Second, FenceIntervals: 3}
	cfg.setDefaults()
	if cfg.Interval != 10*time.Second || cfg.FenceIntervals != 3 {
		t.Errorf("explicit config overwritten: %+v", cfg)
	}
}

type fakeFencer struct {
	calls int
}

func (f *fakeFencer) FenceNode(node string, coordinators []string) (fence.Outcome, error) {
	f.calls++
	return fence.OutcomeSuccess, nil
}

func (f *fakeFencer) Suicide() error { return errors.New("not expected to be called") }

func TestSpawnFenceSkipsAlreadyInFlight(t *testing.T) {
	fc := &fakeFencer{}
	l := &Loop{fencer: fc, cfg: Config{ThisNode: "pvchv1"}, fencing: map[string]bool{"pvchv2": true}}

	l.spawnFence("pvchv2")

	if fc.calls != 0 {
		t.Fatalf("expected no fence call for already in-flight node, got %d", fc.calls)
	}
}
