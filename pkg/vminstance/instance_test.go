package vminstance

import (
	"fmt"
	"testing"
)

func TestRunningSetAddRemoveList(t *testing.T) {
	rs := NewRunningSet()
	rs.Add("uuid-1")
	rs.Add("uuid-2")

	got := rs.List()
	if len(got) != 2 {
		t.Fatalf("List() = %v, want 2 entries", got)
	}

	rs.Remove("uuid-1")
	got = rs.List()
	if len(got) != 1 || got[0] != "uuid-2" {
		t.Errorf("List() after remove = %v, want [uuid-2]", got)
	}
}

func TestRunningSetRemoveMissingIsNoop(t *testing.T) {
	rs := NewRunningSet()
	rs.Remove("does-not-exist")
	if len(rs.List()) != 0 {
		t.Error("expected empty set")
	}
}

func TestLibvirtUUIDRoundTrip(t *testing.T) {
	uuid := libvirtUUID("550e8400-e29b-41d4-a716-446655440000")

	want := []byte{0x55, 0x0e, 0x84, 0x00, 0xe2, 0x9b, 0x41, 0xd4, 0xa7, 0x16, 0x44, 0x66, 0x55, 0x44, 0x00, 0x00}
	for i, b := range want {
		if uuid[i] != b {
			t.Fatalf("libvirtUUID byte %d = %#x, want %#x (full: %v)", i, uuid[i], b, uuid)
		}
	}
}

func TestHexNibble(t *testing.T) {
	cases := map[byte]byte{'0': 0, '9': 9, 'a': 10, 'f': 15, 'A': 10, 'F': 15}
	for in, want := range cases {
		if got := hexNibble(in); got != want {
			t.Errorf("hexNibble(%q) = %d, want %d", fmt.Sprintf("%c", in), got, want)
		}
	}
}
