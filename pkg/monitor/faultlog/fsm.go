package faultlog

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"
)

// Record is one fault's replicated state.
type Record struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FirstTime time.Time `json:"first_time"`
	LastTime  time.Time `json:"last_time"`
	Delta     int       `json:"delta"`
	Message   string    `json:"message"`
	Details   string    `json:"details"`
}

// command is one Raft log entry.
type command struct {
	Op   string          `json:"op"` // "upsert" or "clear"
	Data json.RawMessage `json:"data"`
}

// FSM applies fault-log commands to an in-memory table of Records.
type FSM struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewFSM() *FSM {
	return &FSM{records: make(map[string]Record)}
}

// Snapshot returns a copy of every record currently held, keyed by ID.
func (f *FSM) Snapshot_() map[string]Record {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]Record, len(f.records))
	for k, v := range f.records {
		out[k] = v
	}
	return out
}

// Apply implements raft.FSM.
func (f *FSM) Apply(l *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(l.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshaling fault-log command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "upsert":
		var rec Record
		if err := json.Unmarshal(cmd.Data, &rec); err != nil {
			return err
		}
		if existing, ok := f.records[rec.ID]; ok {
			rec.FirstTime = existing.FirstTime
		}
		f.records[rec.ID] = rec
		return nil
	case "clear":
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		delete(f.records, id)
		return nil
	default:
		return fmt.Errorf("unknown fault-log op %q", cmd.Op)
	}
}

// Snapshot implements raft.FSM.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &faultSnapshot{records: f.Snapshot_()}, nil
}

// Restore implements raft.FSM.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var records map[string]Record
	if err := json.NewDecoder(rc).Decode(&records); err != nil {
		return fmt.Errorf("decoding fault-log snapshot: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
	return nil
}

type faultSnapshot struct {
	records map[string]Record
}

func (s *faultSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.records); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *faultSnapshot) Release() {}
