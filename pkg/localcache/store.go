package localcache

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
)

var (
	bucketNodes    = []byte("nodes")
	bucketVMs      = []byte("vms")
	bucketNetworks = []byte("networks")
	bucketFaults   = []byte("faults")
	bucketCA       = []byte("ca")
)

// Store is a BoltDB-backed local mirror of coordination-store entities.
// Safe for concurrent use; bbolt serializes writers internally.
type Store struct {
	db *bolt.DB
}

// Open creates (or reuses) the on-disk database under dataDir and
// ensures every bucket exists.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "pvc-localcache.db")

	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening local cache db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketNodes, bucketVMs, bucketNetworks, bucketFaults, bucketCA} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func put(db *bolt.DB, bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func get[T any](db *bolt.DB, bucket []byte, key string) (T, bool, error) {
	var out T
	var found bool
	err := db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &out)
	})
	return out, found, err
}

func list[T any](db *bolt.DB, bucket []byte) ([]T, error) {
	var out []T
	err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			out = append(out, item)
			return nil
		})
	})
	return out, err
}

func delete(db *bolt.DB, bucket []byte, key string) error {
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// PutNode upserts a node snapshot.
func (s *Store) PutNode(n vmtypes.Node) error { return put(s.db, bucketNodes, n.Name, n) }

// GetNode returns a node snapshot, or found=false if absent.
func (s *Store) GetNode(name string) (vmtypes.Node, bool, error) {
	return get[vmtypes.Node](s.db, bucketNodes, name)
}

// ListNodes returns every cached node.
func (s *Store) ListNodes() ([]vmtypes.Node, error) { return list[vmtypes.Node](s.db, bucketNodes) }

// DeleteNode removes a node snapshot.
func (s *Store) DeleteNode(name string) error { return delete(s.db, bucketNodes, name) }

// PutVM upserts a VM snapshot.
func (s *Store) PutVM(vm vmtypes.VM) error { return put(s.db, bucketVMs, vm.UUID, vm) }

// GetVM returns a VM snapshot, or found=false if absent.
func (s *Store) GetVM(uuid string) (vmtypes.VM, bool, error) {
	return get[vmtypes.VM](s.db, bucketVMs, uuid)
}

// ListVMs returns every cached VM.
func (s *Store) ListVMs() ([]vmtypes.VM, error) { return list[vmtypes.VM](s.db, bucketVMs) }

// DeleteVM removes a VM snapshot.
func (s *Store) DeleteVM(uuid string) error { return delete(s.db, bucketVMs, uuid) }

// PutNetwork upserts a network snapshot, keyed by VNI.
func (s *Store) PutNetwork(n vmtypes.Network) error {
	return put(s.db, bucketNetworks, networkKey(n.VNI), n)
}

// GetNetwork returns a network snapshot, or found=false if absent.
func (s *Store) GetNetwork(vni int) (vmtypes.Network, bool, error) {
	return get[vmtypes.Network](s.db, bucketNetworks, networkKey(vni))
}

// ListNetworks returns every cached network.
func (s *Store) ListNetworks() ([]vmtypes.Network, error) {
	return list[vmtypes.Network](s.db, bucketNetworks)
}

// DeleteNetwork removes a network snapshot.
func (s *Store) DeleteNetwork(vni int) error { return delete(s.db, bucketNetworks, networkKey(vni)) }

func networkKey(vni int) string { return fmt.Sprintf("%d", vni) }

// PutFault upserts a fault record.
func (s *Store) PutFault(f vmtypes.Fault) error { return put(s.db, bucketFaults, f.ID, f) }

// GetFault returns a fault record, or found=false if absent.
func (s *Store) GetFault(id string) (vmtypes.Fault, bool, error) {
	return get[vmtypes.Fault](s.db, bucketFaults, id)
}

// ListFaults returns every cached fault.
func (s *Store) ListFaults() ([]vmtypes.Fault, error) { return list[vmtypes.Fault](s.db, bucketFaults) }

// DeleteFault removes a fault record.
func (s *Store) DeleteFault(id string) error { return delete(s.db, bucketFaults, id) }

const caKey = "ca"

// GetCA satisfies security.CAStore.
func (s *Store) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCA).Get([]byte(caKey))
		if v == nil {
			return fmt.Errorf("CA not found")
		}
		data = make([]byte, len(v))
		copy(data, v)
		return nil
	})
	return data, err
}

// SaveCA satisfies security.CAStore.
func (s *Store) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put([]byte(caKey), data)
	})
}
