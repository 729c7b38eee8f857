package faultlog

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config tunes the coordinator-local Raft group backing the fault log.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Log is one coordinator's handle onto the replicated fault ledger.
type Log struct {
	raft *raft.Raft
	fsm  *FSM
}

// Bootstrap starts a fault-log Raft node and bootstraps a cluster made of
// this node plus every other member of peers (a single-member cluster when
// peers is empty); ErrCantBootstrap from a node that already holds Raft
// state is ignored. pkg/node passes the configured coordinator list as
// peers. Only coordinator nodes run this.
func Bootstrap(cfg Config, peers map[string]string) (*Log, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating fault-log data dir: %w", err)
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving fault-log bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating fault-log transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating fault-log snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "faultlog-log.db"))
	if err != nil {
		return nil, fmt.Errorf("creating fault-log boltdb log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "faultlog-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("creating fault-log boltdb stable store: %w", err)
	}

	fsm := NewFSM()
	r, err := raft.NewRaft(raftCfg, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("creating fault-log raft instance: %w", err)
	}

	servers := []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}}
	for id, address := range peers {
		if id == cfg.NodeID {
			continue
		}
		servers = append(servers, raft.Server{ID: raft.ServerID(id), Address: raft.ServerAddress(address)})
	}

	future := r.BootstrapCluster(raft.Configuration{Servers: servers})
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		return nil, fmt.Errorf("bootstrapping fault-log cluster: %w", err)
	}

	return &Log{raft: r, fsm: fsm}, nil
}

// Upsert proposes a fault sighting. It only succeeds on the current
// Raft leader; a follower's evaluator gets an error back and simply
// skips the write until leadership settles, since base.faults/* in
// ZooKeeper remains the authoritative record either way.
func (l *Log) Upsert(rec Record) error {
	rec.LastTime = time.Now()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	cmd, err := json.Marshal(command{Op: "upsert", Data: data})
	if err != nil {
		return err
	}
	return l.raft.Apply(cmd, 5*time.Second).Error()
}

// Clear proposes removal of a fault that is no longer active.
func (l *Log) Clear(id string) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	cmd, err := json.Marshal(command{Op: "clear", Data: data})
	if err != nil {
		return err
	}
	return l.raft.Apply(cmd, 5*time.Second).Error()
}

// Records returns every fault currently held by this node's FSM.
func (l *Log) Records() map[string]Record {
	return l.fsm.Snapshot_()
}

// IsLeader reports whether this node currently leads the fault-log
// Raft group.
func (l *Log) IsLeader() bool {
	return l.raft.State() == raft.Leader
}

// Shutdown stops the Raft node.
func (l *Log) Shutdown() error {
	return l.raft.Shutdown().Error()
}
