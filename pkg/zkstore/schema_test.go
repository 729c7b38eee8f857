package zkstore

import "testing"

func TestSchemaNodePaths(t *testing.T) {
	s := NewSchema("/pvc")

	if got, want := s.NodePath("pvchv1"), "/pvc/base/node/pvchv1"; got != want {
		t.Errorf("NodePath = %q, want %q", got, want)
	}
	if got, want := s.NodeDaemonState("pvchv1"), "/pvc/base/node/pvchv1/state/daemon"; got != want {
		t.Errorf("NodeDaemonState = %q, want %q", got, want)
	}
	if got, want := s.NodeIPMIHostname("pvchv1"), "/pvc/base/node/pvchv1/ipmi/hostname"; got != want {
		t.Errorf("NodeIPMIHostname = %q, want %q", got, want)
	}
}

func TestSchemaDomainPaths(t *testing.T) {
	s := NewSchema("/pvc")
	uuid := "a1b2c3"

	if got, want := s.DomainState(uuid), "/pvc/base/domain/a1b2c3/state"; got != want {
		t.Errorf("DomainState = %q, want %q", got, want)
	}
	if got, want := s.DomainMetaNodeLimit(uuid), "/pvc/base/domain/a1b2c3/meta/node_limit"; got != want {
		t.Errorf("DomainMetaNodeLimit = %q, want %q", got, want)
	}
	if got, want := s.DomainSnapshotPath(uuid, "nightly"), "/pvc/base/domain/a1b2c3/snapshots/nightly"; got != want {
		t.Errorf("DomainSnapshotPath = %q, want %q", got, want)
	}
}

func TestSchemaClusterWidePaths(t *testing.T) {
	s := NewSchema("/pvc")

	if got, want := s.PrimaryNodePath(), "/pvc/base/config/primary_node"; got != want {
		t.Errorf("PrimaryNodePath = %q, want %q", got, want)
	}
	if got, want := s.CmdQueuePath("osd.add"), "/pvc/base/cmd/osd.add"; got != want {
		t.Errorf("CmdQueuePath = %q, want %q", got, want)
	}
}

func TestSchemaDefaultsRootWhenEmpty(t *testing.T) {
	s := NewSchema("")
	if got, want := s.NodeRoot(), "/pvc/base/node"; got != want {
		t.Errorf("NodeRoot with empty root = %q, want %q", got, want)
	}
}

func TestSchemaTrimsTrailingSlash(t *testing.T) {
	s := NewSchema("/pvc/")
	if got, want := s.NodeRoot(), "/pvc/base/node"; got != want {
		t.Errorf("NodeRoot = %q, want %q", got, want)
	}
}
