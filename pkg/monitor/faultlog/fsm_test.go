package faultlog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/hashicorp/raft"
)

func applyUpsert(t *testing.T, f *FSM, rec Record) {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	cmd, err := json.Marshal(command{Op: "upsert", Data: data})
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	if res := f.Apply(&raft.Log{Data: cmd}); res != nil {
		t.Fatalf("Apply upsert returned %v", res)
	}
}

func TestFSMApplyUpsertPreservesFirstTime(t *testing.T) {
	f := NewFSM()
	first := time.Unix(1000, 0)
	applyUpsert(t, f, Record{ID: "a", Name: "x", FirstTime: first, Delta: 5})

	second := time.Unix(2000, 0)
	applyUpsert(t, f, Record{ID: "a", Name: "x", FirstTime: second, Delta: 10})

	got := f.Snapshot_()["a"]
	if !got.FirstTime.Equal(first) {
		t.Errorf("FirstTime = %v, want preserved %v", got.FirstTime, first)
	}
	if got.Delta != 10 {
		t.Errorf("Delta = %d, want 10 (updated)", got.Delta)
	}
}

func TestFSMApplyClear(t *testing.T) {
	f := NewFSM()
	applyUpsert(t, f, Record{ID: "a", Name: "x"})

	data, _ := json.Marshal("a")
	cmd, _ := json.Marshal(command{Op: "clear", Data: data})
	if res := f.Apply(&raft.Log{Data: cmd}); res != nil {
		t.Fatalf("Apply clear returned %v", res)
	}

	if _, ok := f.Snapshot_()["a"]; ok {
		t.Errorf("record %q still present after clear", "a")
	}
}

func TestFSMSnapshotRestoreRoundTrip(t *testing.T) {
	f := NewFSM()
	applyUpsert(t, f, Record{ID: "a", Name: "x", Delta: 1})
	applyUpsert(t, f, Record{ID: "b", Name: "y", Delta: 2})

	snap, err := f.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	pr, pw := newTestPipe()
	go func() {
		if err := snap.Persist(testSink{pw}); err != nil {
			t.Errorf("Persist: %v", err)
		}
	}()

	f2 := NewFSM()
	if err := f2.Restore(pr); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	restored := f2.Snapshot_()
	if len(restored) != 2 || restored["a"].Name != "x" || restored["b"].Delta != 2 {
		t.Errorf("restored records = %+v, want a/x and b/2", restored)
	}
}
