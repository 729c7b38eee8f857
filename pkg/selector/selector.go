package selector

import (
	"sort"

	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
)

// FindTarget selects the best node to run dom among nodes, scoring
// candidates by policy and excluding currentNode (the VM never
// "migrates" to where it already is). It returns ("", false) if no node
// qualifies.
//
// A node qualifies when: state.daemon == run, state.domain == ready, its
// name differs from currentNode, and (dom.Meta.NodeLimit is empty or
// contains the node's name) — mirroring the scheduler's
// filterSchedulableNodes gate generalized from role/status to the
// node_limit allow-list.
func FindTarget(nodes []vmtypes.Node, policy vmtypes.SelectorPolicy, dom vmtypes.VM, currentNode string) (string, bool) {
	candidates := filterCandidates(nodes, dom, currentNode)
	if len(candidates) == 0 {
		return "", false
	}

	sort.Slice(candidates, func(i, j int) bool {
		si := score(candidates[i], policy)
		sj := score(candidates[j], policy)
		if si != sj {
			return si < sj
		}
		return candidates[i].Name < candidates[j].Name
	})

	return candidates[0].Name, true
}

func filterCandidates(nodes []vmtypes.Node, dom vmtypes.VM, currentNode string) []vmtypes.Node {
	limit := asSet(dom.Meta.NodeLimit)

	var out []vmtypes.Node
	for _, n := range nodes {
		if n.DaemonState != vmtypes.DaemonStateRun {
			continue
		}
		if n.DomainState != vmtypes.NodeDomainStateReady {
			continue
		}
		if n.Name == currentNode {
			continue
		}
		if len(limit) > 0 {
			if _, ok := limit[n.Name]; !ok {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

func asSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// score returns a value where lower is better, so every policy can share
// the same ascending sort regardless of whether it maximizes or minimizes
// its underlying metric.
func score(n vmtypes.Node, policy vmtypes.SelectorPolicy) float64 {
	switch policy {
	case vmtypes.SelectorMem:
		// Maximize free provisioned headroom: invert so lower-is-better holds.
		headroom := float64(n.Resources.MemoryTotal - n.Resources.MemoryProvisioned)
		return -headroom
	case vmtypes.SelectorLoad:
		return n.Resources.CPULoad
	case vmtypes.SelectorVCPUs:
		return float64(n.Resources.VCPUAllocated)
	case vmtypes.SelectorVMs:
		return float64(n.Resources.ProvisionedCount)
	default:
		// Unknown policy: fall back to mem, the daemon's documented default.
		headroom := float64(n.Resources.MemoryTotal - n.Resources.MemoryProvisioned)
		return -headroom
	}
}
