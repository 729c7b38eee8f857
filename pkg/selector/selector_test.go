package selector

import (
	"testing"

	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
)

func readyNode(name string) vmtypes.Node {
	return vmtypes.Node{
		Name:        name,
		DaemonState: vmtypes.DaemonStateRun,
		DomainState: vmtypes.NodeDomainStateReady,
	}
}

func TestFindTargetByMem(t *testing.T) {
	a := readyNode("pvchv1")
	a.Resources.MemoryTotal = 64 << 30
	a.Resources.MemoryProvisioned = 60 << 30 // little headroom

	b := readyNode("pvchv2")
	b.Resources.MemoryTotal = 64 << 30
	b.Resources.MemoryProvisioned = 10 << 30 // lots of headroom

	dom := vmtypes.VM{UUID: "vm1"}

	got, ok := FindTarget([]vmtypes.Node{a, b}, vmtypes.SelectorMem, dom, "pvchv0")
	if !ok {
		t.Fatal("expected a target")
	}
	if got != "pvchv2" {
		t.Errorf("FindTarget = %q, want pvchv2 (most headroom)", got)
	}
}

func TestFindTargetByLoad(t *testing.T) {
	a := readyNode("pvchv1")
	a.Resources.CPULoad = 3.5
	b := readyNode("pvchv2")
	b.Resources.CPULoad = 0.2

	dom := vmtypes.VM{UUID: "vm1"}
	got, ok := FindTarget([]vmtypes.Node{a, b}, vmtypes.SelectorLoad, dom, "")
	if !ok {
		t.Fatal("expected a target")
	}
	if got != "pvchv2" {
		t.Errorf("FindTarget = %q, want pvchv2 (lowest load)", got)
	}
}

func TestFindTargetByVCPUs(t *testing.T) {
	a := readyNode("pvchv1")
	a.Resources.VCPUAllocated = 40
	b := readyNode("pvchv2")
	b.Resources.VCPUAllocated = 4

	got, ok := FindTarget([]vmtypes.Node{a, b}, vmtypes.SelectorVCPUs, vmtypes.VM{}, "")
	if !ok || got != "pvchv2" {
		t.Errorf("FindTarget = %q, %v, want pvchv2, true", got, ok)
	}
}

func TestFindTargetByVMCount(t *testing.T) {
	a := readyNode("pvchv1")
	a.Resources.ProvisionedCount = 12
	b := readyNode("pvchv2")
	b.Resources.ProvisionedCount = 1

	got, ok := FindTarget([]vmtypes.Node{a, b}, vmtypes.SelectorVMs, vmtypes.VM{}, "")
	if !ok || got != "pvchv2" {
		t.Errorf("FindTarget = %q, %v, want pvchv2, true", got, ok)
	}
}

func TestFindTargetTieBreaksLexicographically(t *testing.T) {
	a := readyNode("pvchv2")
	b := readyNode("pvchv1")

	got, ok := FindTarget([]vmtypes.Node{a, b}, vmtypes.SelectorMem, vmtypes.VM{}, "")
	if !ok || got != "pvchv1" {
		t.Errorf("FindTarget = %q, %v, want pvchv1 (lexicographic tie-break)", got, ok)
	}
}

func TestFindTargetExcludesCurrentNode(t *testing.T) {
	a := readyNode("pvchv1")
	got, ok := FindTarget([]vmtypes.Node{a}, vmtypes.SelectorMem, vmtypes.VM{}, "pvchv1")
	if ok {
		t.Errorf("FindTarget should exclude current node, got %q", got)
	}
}

func TestFindTargetExcludesNonReady(t *testing.T) {
	a := readyNode("pvchv1")
	a.DaemonState = vmtypes.DaemonStateDead
	b := readyNode("pvchv2")
	b.DomainState = vmtypes.NodeDomainStateFlush

	got, ok := FindTarget([]vmtypes.Node{a, b}, vmtypes.SelectorMem, vmtypes.VM{}, "")
	if ok {
		t.Errorf("expected no candidates, got %q", got)
	}
}

func TestFindTargetHonorsNodeLimit(t *testing.T) {
	a := readyNode("pvchv1")
	b := readyNode("pvchv2")

	dom := vmtypes.VM{Meta: vmtypes.VMMeta{NodeLimit: []string{"pvchv2"}}}

	got, ok := FindTarget([]vmtypes.Node{a, b}, vmtypes.SelectorMem, dom, "")
	if !ok || got != "pvchv2" {
		t.Errorf("FindTarget = %q, %v, want pvchv2 (node_limit)", got, ok)
	}
}

func TestFindTargetEmptyCandidateSet(t *testing.T) {
	if _, ok := FindTarget(nil, vmtypes.SelectorMem, vmtypes.VM{}, ""); ok {
		t.Error("expected false for empty node list")
	}
}
