package localcache

import (
	"testing"

	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNodeRoundTrip(t *testing.T) {
	s := openTestStore(t)

	n := vmtypes.Node{Name: "pvchv1", Mode: vmtypes.NodeModeCoordinator}
	if err := s.PutNode(n); err != nil {
		t.Fatalf("PutNode: %v", err)
	}

	got, found, err := s.GetNode("pvchv1")
	if err != nil || !found {
		t.Fatalf("GetNode: found=%v err=%v", found, err)
	}
	if got.Mode != vmtypes.NodeModeCoordinator {
		t.Errorf("Mode = %q, want coordinator", got.Mode)
	}

	if _, found, _ := s.GetNode("missing"); found {
		t.Error("expected missing node not found")
	}

	list, err := s.ListNodes()
	if err != nil || len(list) != 1 {
		t.Fatalf("ListNodes = %v, %v", list, err)
	}

	if err := s.DeleteNode("pvchv1"); err != nil {
		t.Fatalf("DeleteNode: %v", err)
	}
	if _, found, _ := s.GetNode("pvchv1"); found {
		t.Error("expected node gone after delete")
	}
}

func TestVMRoundTrip(t *testing.T) {
	s := openTestStore(t)

	vm := vmtypes.VM{UUID: "abc-123", Name: "web1", State: vmtypes.VMStateStart}
	if err := s.PutVM(vm); err != nil {
		t.Fatalf("PutVM: %v", err)
	}

	got, found, err := s.GetVM("abc-123")
	if err != nil || !found {
		t.Fatalf("GetVM: found=%v err=%v", found, err)
	}
	if got.Name != "web1" {
		t.Errorf("Name = %q, want web1", got.Name)
	}

	list, err := s.ListVMs()
	if err != nil || len(list) != 1 {
		t.Fatalf("ListVMs = %v, %v", list, err)
	}
}

func TestNetworkRoundTrip(t *testing.T) {
	s := openTestStore(t)

	net := vmtypes.Network{VNI: 1000, Type: vmtypes.NetworkManaged}
	if err := s.PutNetwork(net); err != nil {
		t.Fatalf("PutNetwork: %v", err)
	}

	got, found, err := s.GetNetwork(1000)
	if err != nil || !found {
		t.Fatalf("GetNetwork: found=%v err=%v", found, err)
	}
	if got.Type != vmtypes.NetworkManaged {
		t.Errorf("Type = %q, want managed", got.Type)
	}

	if err := s.DeleteNetwork(1000); err != nil {
		t.Fatalf("DeleteNetwork: %v", err)
	}
	if _, found, _ := s.GetNetwork(1000); found {
		t.Error("expected network gone after delete")
	}
}

func TestFaultRoundTrip(t *testing.T) {
	s := openTestStore(t)

	f := vmtypes.Fault{ID: "fault-1", Name: "node.dead", Message: "pvchv2 unreachable"}
	if err := s.PutFault(f); err != nil {
		t.Fatalf("PutFault: %v", err)
	}

	list, err := s.ListFaults()
	if err != nil || len(list) != 1 || list[0].Message != "pvchv2 unreachable" {
		t.Fatalf("ListFaults = %v, %v", list, err)
	}
}

func TestCARoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetCA(); err == nil {
		t.Error("expected error reading CA before it's saved")
	}

	want := []byte("fake-ca-der-bytes")
	if err := s.SaveCA(want); err != nil {
		t.Fatalf("SaveCA: %v", err)
	}

	got, err := s.GetCA()
	if err != nil {
		t.Fatalf("GetCA: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("GetCA = %q, want %q", got, want)
	}
}
