package fence

import (
	"errors"
	"testing"
	"time"
)

func TestClassifyOutcomePowerOffSucceeded(t *testing.T) {
	if got := classifyOutcome(nil, nil, true); got != OutcomeSuccess {
		t.Errorf("classifyOutcome = %q, want success (power-off succeeded)", got)
	}
	if got := classifyOutcome(nil, nil, false); got != OutcomeSuccess {
		t.Errorf("classifyOutcome = %q, want success (power-off succeeded, confirmed dark)", got)
	}
}

func TestClassifyOutcomeAlreadyDark(t *testing.T) {
	offErr := errors.New("ipmi: timeout")
	if got := classifyOutcome(offErr, nil, false); got != OutcomeSuccess {
		t.Errorf("classifyOutcome = %q, want success (already dark)", got)
	}
}

func TestClassifyOutcomeFailure(t *testing.T) {
	offErr := errors.New("ipmi: timeout")
	if got := classifyOutcome(offErr, nil, true); got != OutcomeFailure {
		t.Errorf("classifyOutcome = %q, want failure (still on, couldn't darken)", got)
	}
	statusErr := errors.New("ipmi: unreachable")
	if got := classifyOutcome(offErr, statusErr, false); got != OutcomeFailure {
		t.Errorf("classifyOutcome = %q, want failure (status unknown)", got)
	}
}

func TestClassifyOutcomePowerOffSucceededStatusUnknown(t *testing.T) {
	statusErr := errors.New("ipmi: unreachable")
	if got := classifyOutcome(nil, statusErr, false); got != OutcomeFailure {
		t.Errorf("classifyOutcome = %q, want failure (power-off succeeded but final status unconfirmed)", got)
	}
}

func TestIsCoordinator(t *testing.T) {
	coordinators := []string{"pvchv1", "pvchv2", "pvchv3"}
	if !isCoordinator("pvchv2", coordinators) {
		t.Error("expected pvchv2 to be a coordinator")
	}
	if isCoordinator("pvchv4", coordinators) {
		t.Error("did not expect pvchv4 to be a coordinator")
	}
}

func TestNewDefaultsFenceIntervals(t *testing.T) {
	f := New(nil, nil, "pvchv1", Config{KeepaliveInterval: 5 * time.Second})
	if f.cfg.FenceIntervals != SavingThrows {
		t.Errorf("FenceIntervals = %d, want default %d", f.cfg.FenceIntervals, SavingThrows)
	}
}

func TestNewKeepsExplicitFenceIntervals(t *testing.T) {
	f := New(nil, nil, "pvchv1", Config{FenceIntervals: 3})
	if f.cfg.FenceIntervals != 3 {
		t.Errorf("FenceIntervals = %d, want 3", f.cfg.FenceIntervals)
	}
}
