package node

import (
	"errors"
	"strconv"
	"strings"

	"github.com/parallelvirtualcluster/pvc/pkg/executil"
	"github.com/parallelvirtualcluster/pvc/pkg/log"
	"github.com/parallelvirtualcluster/pvc/pkg/zkstore"
)

var errInvalidOSDArgs = errors.New("osd_add requires node,device,weight")

// cephCmdQueueName is the single-writer work queue name this node watches
// for OSD lifecycle commands (spec.md §6's ceph-volume/ceph osd commands),
// grounded on original_source/node-daemon/pvcnoded/CephInstance.py's
// run_command dispatch. Only the dispatch shape is implemented; Ceph
// cluster management itself (pool/PG placement, CRUSH design) is opaque.
const cephCmdQueueName = "ceph"

// watchCephCmdQueue arms a watch on base.cmd/ceph: every write is a
// "command args" string. osd_add is dispatched only by the node named in
// args; osd_remove by whichever node takes the queue lock first. Either way
// one node runs each entry, so the queue never races two nodes onto the
// same OSD.
func (n *Node) watchCephCmdQueue(ceph executil.Ceph) {
	schema := n.store.Schema()
	path := schema.CmdQueuePath(cephCmdQueueName)
	if err := n.store.EnsurePath(path, ""); err != nil {
		log.WithNode(n.cfg.NodeHostname).Warn().Err(err).Msg("ensuring ceph command queue path failed")
		return
	}

	n.store.Watch(path, n.watchStop, func(ev zkstore.WatchEvent) {
		if ev.Err != nil {
			return
		}
		raw, ok, err := n.store.Read(path)
		if err != nil || !ok || raw == "" {
			return
		}
		if strings.HasPrefix(raw, "success-") || strings.HasPrefix(raw, "failure-") {
			return
		}
		n.runCephCommand(ceph, path, raw)
	})
}

// runCephCommand dispatches one "command args" queue entry under a
// cluster-wide write lock, writing "success-<data>"/"failure-<data>" back
// onto the same queue key so the issuing client observes the outcome.
func (n *Node) runCephCommand(ceph executil.Ceph, path, data string) {
	command, args, ok := strings.Cut(data, " ")
	if !ok {
		return
	}

	node, rest, owned := cephCmdOwner(command, args)
	if !owned {
		return
	}
	// osd_add names its target node explicitly; osd_remove doesn't track
	// which node holds the OSD, so any node racing for the lock may claim it.
	if node != "" && node != n.cfg.NodeHostname {
		return
	}

	lock, err := n.store.WriteLock(cephCmdQueueName)
	if err != nil {
		log.WithNode(n.cfg.NodeHostname).Warn().Err(err).Msg("acquiring ceph command queue lock failed")
		return
	}
	defer lock.Unlock()

	// Another node may have claimed and answered this entry while we
	// waited for the lock.
	if cur, ok, err := n.store.Read(path); err != nil || !ok || cur != data {
		return
	}

	logger := log.WithNode(n.cfg.NodeHostname)
	var cmdErr error
	switch command {
	case "osd_add":
		cmdErr = addOSD(ceph, rest)
	case "osd_remove":
		cmdErr = removeOSD(ceph, rest)
	default:
		logger.Warn().Str("command", command).Msg("unrecognized ceph queue command")
		return
	}

	outcome := "success-" + data
	if cmdErr != nil {
		outcome = "failure-" + data
		logger.Warn().Err(cmdErr).Str("command", command).Msg("ceph queue command failed")
	}
	if err := n.store.WriteOne(path, outcome); err != nil {
		logger.Warn().Err(err).Msg("writing ceph command queue outcome failed")
	}
}

// cephCmdOwner extracts the owning node name from a command's argument
// list so only that node picks up the entry; osd_remove is looked up by
// OSD ID instead and is owned by whichever node holds that OSD, which this
// minimal dispatcher does not track, so it runs on whichever node takes the
// queue lock first.
func cephCmdOwner(command, args string) (node, rest string, ok bool) {
	switch command {
	case "osd_add":
		fields := strings.SplitN(args, ",", 3)
		if len(fields) != 3 {
			return "", "", false
		}
		return fields[0], args, true
	case "osd_remove":
		return "", args, true
	}
	return "", "", false
}

func addOSD(ceph executil.Ceph, args string) error {
	fields := strings.SplitN(args, ",", 3)
	if len(fields) != 3 {
		return errInvalidOSDArgs
	}
	device, weightStr := fields[1], fields[2]
	weight, err := strconv.ParseFloat(weightStr, 64)
	if err != nil {
		return err
	}

	if _, err := ceph.VolumeLVMZap(device, false); err != nil {
		return err
	}
	created, err := ceph.OSDCreate()
	if err != nil {
		return err
	}
	osdID := strings.TrimSpace(created.Stdout)
	if _, err := ceph.VolumeLVMPrepare(osdID, device); err != nil {
		return err
	}
	if _, err := ceph.OSDCrushAdd(osdID, weight); err != nil {
		return err
	}
	_, err = ceph.VolumeLVMActivate(osdID, "")
	return err
}

func removeOSD(ceph executil.Ceph, osdID string) error {
	if _, err := ceph.OSDOut(osdID); err != nil {
		return err
	}
	if _, err := ceph.OSDRemove(osdID); err != nil {
		return err
	}
	_, err := ceph.OSDPurge(osdID)
	return err
}
