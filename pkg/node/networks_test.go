package node

import (
	"reflect"
	"testing"
)

func TestParseFirewallRuleFull(t *testing.T) {
	got := parseFirewallRule("in", "tcp saddr 10.0.0.0/24 daddr 10.0.0.5/32 dport 22 accept")
	want := struct {
		Direction, Protocol, Source, Dest, Port, Action string
	}{"in", "tcp", "10.0.0.0/24", "10.0.0.5/32", "22", "accept"}

	if got.Direction != want.Direction || got.Protocol != want.Protocol ||
		got.Source != want.Source || got.Dest != want.Dest ||
		got.Port != want.Port || got.Action != want.Action {
		t.Errorf("parseFirewallRule = %+v, want %+v", got, want)
	}
}

func TestParseFirewallRuleNoProtocol(t *testing.T) {
	got := parseFirewallRule("out", "daddr 0.0.0.0/0 drop")
	if got.Protocol != "" {
		t.Errorf("Protocol = %q, want empty", got.Protocol)
	}
	if got.Dest != "0.0.0.0/0" {
		t.Errorf("Dest = %q, want 0.0.0.0/0", got.Dest)
	}
	if got.Action != "drop" {
		t.Errorf("Action = %q, want drop", got.Action)
	}
}

func TestParseFirewallRuleEmpty(t *testing.T) {
	got := parseFirewallRule("in", "")
	if got.Action != "" || got.Protocol != "" {
		t.Errorf("parseFirewallRule(empty) = %+v, want zero value", got)
	}
}

func TestSplitComma(t *testing.T) {
	if got := splitComma(""); got != nil {
		t.Errorf("splitComma(empty) = %v, want nil", got)
	}
	got := splitComma("8.8.8.8,1.1.1.1")
	want := []string{"8.8.8.8", "1.1.1.1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitComma = %v, want %v", got, want)
	}
}
