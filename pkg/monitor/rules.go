package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/parallelvirtualcluster/pvc/pkg/executil"
	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
	"github.com/parallelvirtualcluster/pvc/pkg/zkstore"
)

// nodeStatusRule fires for every node whose state.daemon reads dead or
// fenced (spec §4.10's "dead/fenced nodes" predicate).
type nodeStatusRule struct {
	store *zkstore.Store
}

func NewNodeStatusRule(store *zkstore.Store) FaultRule { return nodeStatusRule{store: store} }

func (r nodeStatusRule) ID() string { return "node-status" }

func (r nodeStatusRule) Check(ctx context.Context) ([]ActiveFault, error) {
	schema := r.store.Schema()
	nodes, err := r.store.Children(schema.NodeRoot())
	if err != nil {
		return nil, err
	}

	var faults []ActiveFault
	for _, node := range nodes {
		raw, ok, err := r.store.Read(schema.NodeDaemonState(node))
		if err != nil || !ok {
			continue
		}
		state := vmtypes.DaemonState(raw)
		if state != vmtypes.DaemonStateDead && state != vmtypes.DaemonStateFenced {
			continue
		}
		faults = append(faults, ActiveFault{
			Name:    "node " + node + " is " + string(state),
			Delta:   50,
			Message: fmt.Sprintf("node %s reports state.daemon=%s", node, state),
			Details: node,
		})
	}
	return faults, nil
}

// failedVMRule fires for every domain whose state reads fail (spec
// §4.10's "failed VMs" predicate).
type failedVMRule struct {
	store *zkstore.Store
}

func NewFailedVMRule(store *zkstore.Store) FaultRule { return failedVMRule{store: store} }

func (r failedVMRule) ID() string { return "failed-vm" }

func (r failedVMRule) Check(ctx context.Context) ([]ActiveFault, error) {
	schema := r.store.Schema()
	uuids, err := r.store.Children(schema.DomainRoot())
	if err != nil {
		return nil, err
	}

	var faults []ActiveFault
	for _, uuid := range uuids {
		raw, ok, err := r.store.Read(schema.DomainState(uuid))
		if err != nil || !ok || vmtypes.VMState(raw) != vmtypes.VMStateFail {
			continue
		}
		reason, _, _ := r.store.Read(schema.DomainFailedReason(uuid))
		faults = append(faults, ActiveFault{
			Name:    "VM " + uuid + " failed",
			Delta:   25,
			Message: fmt.Sprintf("VM %s is in failed state", uuid),
			Details: reason,
		})
	}
	return faults, nil
}

// memoryOverprovisionRule fires when the cluster could not absorb the
// loss of its single largest node: spec §4.10 pins the predicate as
// "current Σ-provisioned ≥ total − largest-node".
type memoryOverprovisionRule struct {
	store *zkstore.Store
}

func NewMemoryOverprovisionRule(store *zkstore.Store) FaultRule {
	return memoryOverprovisionRule{store: store}
}

func (r memoryOverprovisionRule) ID() string { return "memory-overprovision" }

func (r memoryOverprovisionRule) Check(ctx context.Context) ([]ActiveFault, error) {
	schema := r.store.Schema()
	nodes, err := r.store.Children(schema.NodeRoot())
	if err != nil {
		return nil, err
	}

	var sumProvisioned, sumTotal, largest int64
	for _, node := range nodes {
		total := r.readInt(schema.NodeAttr(node, "memory.total"))
		provisioned := r.readInt(schema.NodeAttr(node, "memory.provisioned"))
		sumTotal += total
		sumProvisioned += provisioned
		if total > largest {
			largest = total
		}
	}

	capacityAfterLoss := sumTotal - largest
	if sumProvisioned < capacityAfterLoss {
		return nil, nil
	}
	return []ActiveFault{{
		Name:  "cluster memory over-provisioned",
		Delta: 15,
		Message: fmt.Sprintf("provisioned memory %d bytes exceeds capacity %d bytes after losing the largest node",
			sumProvisioned, capacityAfterLoss),
		Details: fmt.Sprintf("sum_total=%d sum_provisioned=%d largest_node=%d", sumTotal, sumProvisioned, largest),
	}}, nil
}

func (r memoryOverprovisionRule) readInt(path string) int64 {
	raw, ok, err := r.store.Read(path)
	if err != nil || !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// cephHealthRule fires when `ceph health detail` reports anything but
// HEALTH_OK, and separately for every OSD `ceph osd dump` reports as
// out (spec §4.10's "OSDs out, Ceph HEALTH_WARN/ERR entries").
type cephHealthRule struct {
	ceph executil.Ceph
}

func NewCephHealthRule(ceph executil.Ceph) FaultRule { return cephHealthRule{ceph: ceph} }

func (r cephHealthRule) ID() string { return "ceph-health" }

type cephHealthDetail struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Severity string `json:"severity"`
		Summary  struct {
			Message string `json:"message"`
		} `json:"summary"`
	} `json:"checks"`
}

type cephOSDDump struct {
	OSDs []struct {
		OSD int `json:"osd"`
		Up  int `json:"up"`
		In  int `json:"in"`
	} `json:"osds"`
}

func (r cephHealthRule) Check(ctx context.Context) ([]ActiveFault, error) {
	var faults []ActiveFault

	if res, err := r.ceph.HealthDetail(); err == nil {
		var detail cephHealthDetail
		if jerr := json.Unmarshal([]byte(res.Stdout), &detail); jerr == nil && detail.Status != "HEALTH_OK" {
			for name, check := range detail.Checks {
				faults = append(faults, ActiveFault{
					Name:    "ceph " + name,
					Delta:   severityDelta(check.Severity),
					Message: check.Summary.Message,
					Details: detail.Status,
				})
			}
			if len(detail.Checks) == 0 {
				faults = append(faults, ActiveFault{
					Name:    "ceph health " + detail.Status,
					Delta:   severityDelta(detail.Status),
					Message: "ceph reports " + detail.Status,
				})
			}
		}
	}

	if res, err := r.ceph.OSDDump(); err == nil {
		var dump cephOSDDump
		if jerr := json.Unmarshal([]byte(res.Stdout), &dump); jerr == nil {
			for _, osd := range dump.OSDs {
				if osd.In == 0 {
					faults = append(faults, ActiveFault{
						Name:    fmt.Sprintf("osd.%d out", osd.OSD),
						Delta:   10,
						Message: fmt.Sprintf("osd.%d is marked out", osd.OSD),
					})
				}
			}
		}
	}

	return faults, nil
}

func severityDelta(severity string) int {
	switch severity {
	case "HEALTH_ERR":
		return 40
	case "HEALTH_WARN":
		return 15
	default:
		return 5
	}
}
