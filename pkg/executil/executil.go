// Package executil shells out to the external binaries this daemon never
// reimplements: ipmitool for fencing, and the Ceph/RBD/qemu-img CLIs for
// storage provisioning. None of the teacher's or pack's libraries wrap
// these tools, so every call goes through os/exec the way the teacher's
// own runtime package shells out to nsenter/ip.
package executil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result is the outcome of a completed external command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes name with args under ctx, returning combined stdout/stderr
// on failure so callers can log the external tool's own diagnostics.
func Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return res, fmt.Errorf("%s %s: %w (stderr: %s)", name, strings.Join(args, " "), err, strings.TrimSpace(res.Stderr))
	}
	return res, nil
}

// RunTimeout is Run with a bounded deadline, for commands (notably IPMI
// power operations over a flaky BMC LAN channel) that must not hang the
// calling goroutine indefinitely.
func RunTimeout(timeout time.Duration, name string, args ...string) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return Run(ctx, name, args...)
}

// IPMITool issues `ipmitool -I lanplus -H host -U user -P pass <args...>`
// against a node's BMC. Used exclusively by pkg/fence.
type IPMITool struct {
	Hostname string
	Username string
	Password string
	Timeout  time.Duration
}

// DefaultIPMITimeout bounds a single ipmitool invocation.
const DefaultIPMITimeout = 10 * time.Second

func (t IPMITool) timeout() time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return DefaultIPMITimeout
}

func (t IPMITool) run(args ...string) (Result, error) {
	full := append([]string{"-I", "lanplus", "-H", t.Hostname, "-U", t.Username, "-P", t.Password}, args...)
	return RunTimeout(t.timeout(), "ipmitool", full...)
}

// ChassisPowerOff issues `chassis power off`.
func (t IPMITool) ChassisPowerOff() error {
	_, err := t.run("chassis", "power", "off")
	return err
}

// ChassisPowerOn issues `chassis power on`.
func (t IPMITool) ChassisPowerOn() error {
	_, err := t.run("chassis", "power", "on")
	return err
}

// ChassisPowerStatus issues `chassis power status` and reports whether the
// chassis is reported on.
func (t IPMITool) ChassisPowerStatus() (bool, error) {
	res, err := t.run("chassis", "power", "status")
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(res.Stdout), "is on"), nil
}

// Ceph wraps the ceph/ceph-volume/rbd/qemu-img command-line tools with the
// config/keyring flags the daemon always needs (spec §6 pins the exact
// subcommands; there is no ceph-mgr RPC client in the teacher's or pack's
// dependency surface, so every call is a literal argv).
type Ceph struct {
	ConfigFile  string
	KeyringFile string
	Timeout     time.Duration
}

const defaultCephTimeout = 30 * time.Second

func (c Ceph) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultCephTimeout
}

func (c Ceph) cephArgs(args ...string) []string {
	base := []string{"--conf", c.ConfigFile, "--keyring", c.KeyringFile}
	return append(base, args...)
}

func (c Ceph) runCeph(args ...string) (Result, error) {
	return RunTimeout(c.timeout(), "ceph", c.cephArgs(args...)...)
}

// OSDCreate runs `ceph osd create`.
func (c Ceph) OSDCreate() (Result, error) { return c.runCeph("osd", "create") }

// OSDRemove runs `ceph osd rm <id>`.
func (c Ceph) OSDRemove(osdID string) (Result, error) { return c.runCeph("osd", "rm", osdID) }

// OSDCrushAdd runs `ceph osd crush add <id> <weight> <bucket...>`.
func (c Ceph) OSDCrushAdd(osdID string, weight float64, location ...string) (Result, error) {
	args := append([]string{"osd", "crush", "add", osdID, fmt.Sprintf("%f", weight)}, location...)
	return c.runCeph(args...)
}

// OSDOut runs `ceph osd out <id>`.
func (c Ceph) OSDOut(osdID string) (Result, error) { return c.runCeph("osd", "out", osdID) }

// OSDPurge runs `ceph osd purge <id> --yes-i-really-mean-it`.
func (c Ceph) OSDPurge(osdID string) (Result, error) {
	return c.runCeph("osd", "purge", osdID, "--yes-i-really-mean-it")
}

// PGDumpOSDs runs `ceph pg dump osds`; nothing in this module calls it.
func (c Ceph) PGDumpOSDs() (Result, error) { return c.runCeph("pg", "dump", "osds") }

// HealthDetail runs `ceph health detail --format json` for the
// monitoring host's cluster-health fault rule.
func (c Ceph) HealthDetail() (Result, error) {
	return c.runCeph("health", "detail", "--format", "json")
}

// OSDDump runs `ceph osd dump --format json` for the monitoring host's
// out-OSD fault rule.
func (c Ceph) OSDDump() (Result, error) {
	return c.runCeph("osd", "dump", "--format", "json")
}

func (c Ceph) runCephVolume(args ...string) (Result, error) {
	return RunTimeout(c.timeout(), "ceph-volume", c.cephArgs(args...)...)
}

// VolumeLVMZap runs `ceph-volume lvm zap <device> [--destroy]`.
func (c Ceph) VolumeLVMZap(device string, destroy bool) (Result, error) {
	args := []string{"lvm", "zap", device}
	if destroy {
		args = append(args, "--destroy")
	}
	return c.runCephVolume(args...)
}

// VolumeLVMPrepare runs `ceph-volume lvm prepare --osd-id <id> --data <device>`.
func (c Ceph) VolumeLVMPrepare(osdID, device string) (Result, error) {
	return c.runCephVolume("lvm", "prepare", "--osd-id", osdID, "--data", device)
}

// VolumeLVMList runs `ceph-volume lvm list`.
func (c Ceph) VolumeLVMList() (Result, error) { return c.runCephVolume("lvm", "list") }

// VolumeLVMActivate runs `ceph-volume lvm activate <id> <fsid>`.
func (c Ceph) VolumeLVMActivate(osdID, fsid string) (Result, error) {
	return c.runCephVolume("lvm", "activate", osdID, fsid)
}

func (c Ceph) runRBD(args ...string) (Result, error) {
	return RunTimeout(c.timeout(), "rbd", c.cephArgs(args...)...)
}

// RBDMap runs `rbd map <pool>/<image>`.
func (c Ceph) RBDMap(pool, image string) (Result, error) {
	return c.runRBD("map", fmt.Sprintf("%s/%s", pool, image))
}

// RBDUnmap runs `rbd unmap <pool>/<image>`.
func (c Ceph) RBDUnmap(pool, image string) (Result, error) {
	return c.runRBD("unmap", fmt.Sprintf("%s/%s", pool, image))
}

// RBDSnapCreate runs `rbd snap create <pool>/<image>@<snap>`.
func (c Ceph) RBDSnapCreate(pool, image, snap string) (Result, error) {
	return c.runRBD("snap", "create", fmt.Sprintf("%s/%s@%s", pool, image, snap))
}

// RBDSnapRemove runs `rbd snap rm <pool>/<image>@<snap>`.
func (c Ceph) RBDSnapRemove(pool, image, snap string) (Result, error) {
	return c.runRBD("snap", "rm", fmt.Sprintf("%s/%s@%s", pool, image, snap))
}

// RBDExport runs `rbd export <pool>/<image>@<snap> <destPath>`.
func (c Ceph) RBDExport(pool, image, snap, destPath string) (Result, error) {
	return c.runRBD("export", fmt.Sprintf("%s/%s@%s", pool, image, snap), destPath)
}

// RBDExportDiff runs `rbd export-diff --from-snap <from> <pool>/<image>@<to> <destPath>`.
func (c Ceph) RBDExportDiff(pool, image, from, to, destPath string) (Result, error) {
	return c.runRBD("export-diff", "--from-snap", from, fmt.Sprintf("%s/%s@%s", pool, image, to), destPath)
}

type rbdLockEntry struct {
	ID     string `json:"id"`
	Locker string `json:"locker"`
}

// ListLocks runs `rbd lock ls --format json <volume>`, returning each
// advisory lock as "id@locker" so BreakLock can address it precisely;
// satisfies vminstance.RBDLockBreaker.
func (c Ceph) ListLocks(volume string) ([]string, error) {
	res, err := c.runRBD("lock", "ls", "--format", "json", volume)
	if err != nil {
		return nil, err
	}
	var entries []rbdLockEntry
	if err := json.Unmarshal([]byte(res.Stdout), &entries); err != nil {
		return nil, fmt.Errorf("parsing rbd lock ls output: %w", err)
	}
	locks := make([]string, 0, len(entries))
	for _, e := range entries {
		locks = append(locks, e.ID+"@"+e.Locker)
	}
	return locks, nil
}

// BreakLock runs `rbd lock rm <volume> <id> <locker>`, splitting lockID
// back into the id/locker pair ListLocks encoded.
func (c Ceph) BreakLock(volume, lockID string) error {
	id, locker, ok := strings.Cut(lockID, "@")
	if !ok {
		return fmt.Errorf("malformed lock id %q", lockID)
	}
	_, err := c.runRBD("lock", "rm", volume, id, locker)
	return err
}

// QemuImgConvert runs `qemu-img convert -f <srcFormat> -O <dstFormat> <src> <dst>`.
func (c Ceph) QemuImgConvert(srcFormat, dstFormat, src, dst string) (Result, error) {
	return RunTimeout(c.timeout(), "qemu-img", "convert", "-f", srcFormat, "-O", dstFormat, src, dst)
}
