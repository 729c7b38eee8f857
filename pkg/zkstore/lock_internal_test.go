package zkstore

import "testing"

func TestSequenceOf(t *testing.T) {
	seq, err := sequenceOf("_c_abcdef1234567890-write-0000000007")
	if err != nil {
		t.Fatalf("sequenceOf failed: %v", err)
	}
	if seq != 7 {
		t.Errorf("seq = %d, want 7", seq)
	}
}

func TestSequenceOfTooShort(t *testing.T) {
	if _, err := sequenceOf("abc"); err == nil {
		t.Fatal("expected error for short name")
	}
}

func TestLowestBlocker(t *testing.T) {
	siblings := []lockNode{
		{name: "write-0000000001", kind: writePrefix, seq: 1},
		{name: "read-0000000003", kind: readPrefix, seq: 3},
		{name: "write-0000000005", kind: writePrefix, seq: 5},
	}

	got := lowestBlocker(5, siblings)
	if got != "read-0000000003" {
		t.Errorf("lowestBlocker(5, ...) = %q, want read-0000000003", got)
	}

	got = lowestBlocker(1, siblings)
	if got != "" {
		t.Errorf("lowestBlocker(1, ...) = %q, want empty (nothing precedes seq 1)", got)
	}
}

func TestSplitPath(t *testing.T) {
	got := splitPath("/pvc/base/node/pvchv1")
	want := []string{"pvc", "base", "node", "pvchv1"}
	if len(got) != len(want) {
		t.Fatalf("splitPath len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitPath[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
