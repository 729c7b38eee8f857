package zkstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/parallelvirtualcluster/pvc/pkg/perrors"
)

// Lock is a held distributed lock; call Unlock to release it.
type Lock struct {
	store    *Store
	lockRoot string
	myNode   string
}

const (
	readPrefix  = "read-"
	writePrefix = "write-"
)

// WriteLock acquires an exclusive lock under name: the caller blocks until
// every sequential node (read or write) created before it has been
// removed. Used for the command-queue single-writer section in pkg/node.
func (s *Store) WriteLock(name string) (*Lock, error) {
	return s.acquire(name, writePrefix, func(seq int, siblings []lockNode) bool {
		for _, sib := range siblings {
			if sib.seq < seq {
				return true
			}
		}
		return false
	})
}

// ReadLock acquires a shared lock under name: the caller blocks only on
// write nodes created before it, so multiple readers proceed concurrently.
func (s *Store) ReadLock(name string) (*Lock, error) {
	return s.acquire(name, readPrefix, func(seq int, siblings []lockNode) bool {
		for _, sib := range siblings {
			if sib.kind == writePrefix && sib.seq < seq {
				return true
			}
		}
		return false
	})
}

type lockNode struct {
	name string
	kind string
	seq  int
}

// acquire implements the standard ZooKeeper lock recipe: create a
// sequential ephemeral node, then block while any sibling that blocks
// is still present, re-watching each time the next-lowest blocker goes
// away.
func (s *Store) acquire(name, prefix string, blockedBy func(seq int, siblings []lockNode) bool) (*Lock, error) {
	lockRoot := s.schema.LockPath(name)
	if err := s.EnsurePath(lockRoot, ""); err != nil {
		return nil, err
	}

	created, err := s.conn_().CreateProtectedEphemeralSequential(lockRoot+"/"+prefix, nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("creating lock node under %s: %w", lockRoot, err))
	}
	myName := strings.TrimPrefix(created, lockRoot+"/")
	mySeq, err := sequenceOf(myName)
	if err != nil {
		return nil, err
	}

	for {
		siblings, err := s.listLockNodes(lockRoot)
		if err != nil {
			return nil, err
		}
		if !blockedBy(mySeq, siblings) {
			return &Lock{store: s, lockRoot: lockRoot, myNode: myName}, nil
		}

		blocker := lowestBlocker(mySeq, siblings)
		if blocker == "" {
			continue
		}
		exists, _, eventCh, err := s.conn_().ExistsW(lockRoot + "/" + blocker)
		if err != nil {
			return nil, perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("watching %s: %w", blocker, err))
		}
		if !exists {
			continue
		}
		<-eventCh
	}
}

func (s *Store) listLockNodes(lockRoot string) ([]lockNode, error) {
	names, err := s.Children(lockRoot)
	if err != nil {
		return nil, err
	}
	nodes := make([]lockNode, 0, len(names))
	for _, n := range names {
		seq, err := sequenceOf(n)
		if err != nil {
			continue
		}
		kind := writePrefix
		if strings.Contains(n, readPrefix) {
			kind = readPrefix
		}
		nodes = append(nodes, lockNode{name: n, kind: kind, seq: seq})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].seq < nodes[j].seq })
	return nodes, nil
}

// lowestBlocker returns the name of the highest-sequence node with seq <
// mySeq, i.e. the node whose removal is most likely to unblock us next.
func lowestBlocker(mySeq int, siblings []lockNode) string {
	best := ""
	bestSeq := -1
	for _, sib := range siblings {
		if sib.seq < mySeq && sib.seq > bestSeq {
			best = sib.name
			bestSeq = sib.seq
		}
	}
	return best
}

// sequenceOf extracts the 10-digit sequence suffix ZooKeeper appends to a
// sequential node's name (protected-ephemeral names are
// "_c_<guid>-<prefix><seq>").
func sequenceOf(name string) (int, error) {
	if len(name) < 10 {
		return 0, fmt.Errorf("lock node name %q too short to contain a sequence", name)
	}
	seqStr := name[len(name)-10:]
	seq, err := strconv.Atoi(seqStr)
	if err != nil {
		return 0, fmt.Errorf("parsing sequence from %q: %w", name, err)
	}
	return seq, nil
}

// Unlock releases the lock, deleting its ephemeral node.
func (l *Lock) Unlock() error {
	return l.store.Delete(l.lockRoot+"/"+l.myNode, false)
}
