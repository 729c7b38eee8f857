package primary

import "testing"

func TestConfigSetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()
	if cfg.AwaitPollInterval <= 0 {
		t.Error("expected a default AwaitPollInterval")
	}
	if cfg.AwaitMaxAttempts <= 0 {
		t.Error("expected a default AwaitMaxAttempts")
	}
}

func TestConfigKeepsExplicitValues(t *testing.T) {
	cfg := Config{AwaitMaxAttempts: 5}
	cfg.setDefaults()
	if cfg.AwaitMaxAttempts != 5 {
		t.Errorf("AwaitMaxAttempts = %d, want 5", cfg.AwaitMaxAttempts)
	}
}

func TestNoPrimarySentinel(t *testing.T) {
	if noPrimary != "none" {
		t.Errorf("noPrimary = %q, want \"none\"", noPrimary)
	}
}
