package zkstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/parallelvirtualcluster/pvc/pkg/log"
	"github.com/parallelvirtualcluster/pvc/pkg/perrors"
	"github.com/rs/zerolog"
)

// Store is the coordination-store handler (C1): a typed wrapper over a
// ZooKeeper session that tolerates session loss. Every watch re-arms
// itself on reconnect; callers see a transient read/write failure window
// during a blip, never a permanent one.
type Store struct {
	mu     sync.RWMutex
	conn   *zk.Conn
	events <-chan zk.Event
	schema Schema

	logger zerolog.Logger
}

// Connect dials the given ZooKeeper ensemble. It returns without waiting
// for the first session; the client connects in the background.
func Connect(servers []string, sessionTimeout time.Duration, schema Schema) (*Store, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("connecting to zookeeper: %w", err))
	}

	s := &Store{
		conn:   conn,
		events: events,
		schema: schema,
		logger: log.WithComponent("zkstore"),
	}

	go s.logSessionEvents()

	return s, nil
}

func (s *Store) logSessionEvents() {
	for ev := range s.events {
		switch ev.State {
		case zk.StateConnected, zk.StateHasSession:
			s.logger.Info().Msg("zookeeper session established")
		case zk.StateDisconnected:
			s.logger.Warn().Msg("zookeeper session disconnected; watches will re-arm on reconnect")
		case zk.StateExpired:
			s.logger.Error().Msg("zookeeper session expired")
		}
	}
}

// Schema returns the path-resolution table bound to this store.
func (s *Store) Schema() Schema { return s.schema }

// Close releases the underlying ZooKeeper session.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close()
}

func (s *Store) conn_() *zk.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// EnsurePath creates every missing ancestor of path as a persistent empty
// znode, then path itself with the given initial value if it does not
// already exist.
func (s *Store) EnsurePath(path string, initial string) error {
	parts := splitPath(path)
	cur := ""
	for i, part := range parts {
		cur = cur + "/" + part
		last := i == len(parts)-1
		exists, _, err := s.conn_().Exists(cur)
		if err != nil {
			return perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("checking %s: %w", cur, err))
		}
		if exists {
			continue
		}
		value := ""
		if last {
			value = initial
		}
		_, err = s.conn_().Create(cur, []byte(value), 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("creating %s: %w", cur, err))
		}
	}
	return nil
}

// Read returns a path's data. ok is false if the path does not exist.
func (s *Store) Read(path string) (value string, ok bool, err error) {
	data, _, err := s.conn_().Get(path)
	if err == zk.ErrNoNode {
		return "", false, nil
	}
	if err != nil {
		return "", false, perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("reading %s: %w", path, err))
	}
	return string(data), true, nil
}

// ReadMany batches a Read over many paths. Missing paths are simply
// absent from the result map.
func (s *Store) ReadMany(paths []string) (map[string]string, error) {
	result := make(map[string]string, len(paths))
	for _, p := range paths {
		v, ok, err := s.Read(p)
		if err != nil {
			return nil, err
		}
		if ok {
			result[p] = v
		}
	}
	return result, nil
}

// KV is one path/value pair for a batched Write.
type KV struct {
	Path  string
	Value string
}

// Write atomically applies every (path, value) pair via a ZooKeeper
// multi-transaction; paths must already exist (use EnsurePath first for a
// new path). Either all writes land or none do.
func (s *Store) Write(pairs []KV) error {
	if len(pairs) == 0 {
		return nil
	}
	ops := make([]interface{}, 0, len(pairs))
	for _, kv := range pairs {
		ops = append(ops, &zk.SetDataRequest{Path: kv.Path, Data: []byte(kv.Value), Version: -1})
	}
	_, err := s.conn_().Multi(ops...)
	if err != nil {
		return perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("multi-write of %d paths: %w", len(pairs), err))
	}
	return nil
}

// WriteOne is Write for a single path, creating it first if absent.
func (s *Store) WriteOne(path, value string) error {
	exists, _, err := s.conn_().Exists(path)
	if err != nil {
		return perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("checking %s: %w", path, err))
	}
	if !exists {
		return s.EnsurePath(path, value)
	}
	_, err = s.conn_().Set(path, []byte(value), -1)
	if err != nil {
		return perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("writing %s: %w", path, err))
	}
	return nil
}

// CompareAndSwap atomically sets path to newValue only if its current
// value equals expected, using ZooKeeper's native per-node version as
// the optimistic-concurrency token. A lost race (current value is not
// expected, or the version changed between the read and the write)
// returns (false, nil) rather than an error — callers treat it as
// "someone else got there first," not a failure.
func (s *Store) CompareAndSwap(path, expected, newValue string) (bool, error) {
	data, stat, err := s.conn_().Get(path)
	if err != nil {
		return false, perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("reading %s: %w", path, err))
	}
	if string(data) != expected {
		return false, nil
	}
	_, err = s.conn_().Set(path, []byte(newValue), stat.Version)
	if err == zk.ErrBadVersion {
		return false, nil
	}
	if err != nil {
		return false, perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("writing %s: %w", path, err))
	}
	return true, nil
}

// Children lists the direct children of path.
func (s *Store) Children(path string) ([]string, error) {
	children, _, err := s.conn_().Children(path)
	if err == zk.ErrNoNode {
		return nil, nil
	}
	if err != nil {
		return nil, perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("listing children of %s: %w", path, err))
	}
	return children, nil
}

// Exists reports whether path exists.
func (s *Store) Exists(path string) (bool, error) {
	exists, _, err := s.conn_().Exists(path)
	if err != nil {
		return false, perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("checking %s: %w", path, err))
	}
	return exists, nil
}

// Delete removes path. If recursive, its entire subtree is removed first.
func (s *Store) Delete(path string, recursive bool) error {
	if recursive {
		children, err := s.Children(path)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := s.Delete(path+"/"+child, true); err != nil {
				return err
			}
		}
	}
	err := s.conn_().Delete(path, -1)
	if err != nil && err != zk.ErrNoNode {
		return perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("deleting %s: %w", path, err))
	}
	return nil
}

// WatchEvent is the minimal shape callers need from a data or children
// change notification.
type WatchEvent struct {
	Path string
	Type zk.EventType
	Err  error
}

// Watch invokes cb once per data change on path, re-arming the watch after
// every fire (including after a reconnect) until stop is closed.
func (s *Store) Watch(path string, stop <-chan struct{}, cb func(WatchEvent)) {
	go func() {
		for {
			_, _, eventCh, err := s.conn_().GetW(path)
			if err != nil {
				cb(WatchEvent{Path: path, Err: perrors.Wrap(perrors.KindStoreUnavailable, err)})
				select {
				case <-time.After(time.Second):
				case <-stop:
					return
				}
				continue
			}
			select {
			case ev := <-eventCh:
				cb(WatchEvent{Path: path, Type: ev.Type})
			case <-stop:
				return
			}
		}
	}()
}

// WatchChildren invokes cb once per children-set change under path,
// re-arming after every fire until stop is closed.
func (s *Store) WatchChildren(path string, stop <-chan struct{}, cb func(WatchEvent)) {
	go func() {
		for {
			_, _, eventCh, err := s.conn_().ChildrenW(path)
			if err != nil {
				cb(WatchEvent{Path: path, Err: perrors.Wrap(perrors.KindStoreUnavailable, err)})
				select {
				case <-time.After(time.Second):
				case <-stop:
					return
				}
				continue
			}
			select {
			case ev := <-eventCh:
				cb(WatchEvent{Path: path, Type: ev.Type})
			case <-stop:
				return
			}
		}
	}()
}

func splitPath(path string) []string {
	var parts []string
	cur := ""
	for _, r := range path {
		if r == '/' {
			if cur != "" {
				parts = append(parts, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		parts = append(parts, cur)
	}
	return parts
}
