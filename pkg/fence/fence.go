package fence

import (
	"fmt"
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/executil"
	"github.com/parallelvirtualcluster/pvc/pkg/log"
	"github.com/parallelvirtualcluster/pvc/pkg/metrics"
	"github.com/parallelvirtualcluster/pvc/pkg/perrors"
	"github.com/parallelvirtualcluster/pvc/pkg/vmtypes"
	"github.com/parallelvirtualcluster/pvc/pkg/zkstore"
)

// Action is the configured response to a fence outcome (spec §6
// fencing.actions.{successful_fence,failed_fence}).
type Action string

const (
	ActionMigrate Action = "migrate"
	ActionNone    Action = "none"
)

// Outcome is the result of one fence attempt.
type Outcome string

const (
	// OutcomeRecovered means the peer passed a saving throw before IPMI
	// was ever invoked; no fence was performed.
	OutcomeRecovered Outcome = "recovered"
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
)

// SavingThrows is the fixed number of re-reads of state.daemon the spec
// allows a peer before committing to a fence (spec §4.2 step 1).
const SavingThrows = 6

// MigrationHandler is the subset of VM-instance behavior the fencer needs
// to evacuate a fenced node's domains; pkg/vminstance supplies the
// production implementation (lock flush + selector-backed migration).
type MigrationHandler interface {
	// RunningDomains returns the UUIDs the node believed it was running.
	RunningDomains(node string) ([]string, error)
	// FlushLocksAndMigrate flushes dom's RBD locks and moves it off
	// deadNode to the best available target, or marks it stopped with
	// autostart set if no target exists.
	FlushLocksAndMigrate(dom vmtypes.VM, deadNode string) error
}

// Config bounds a Fencer's behavior, sourced from the node daemon's config
// file (spec §6 fencing.*); IPMI credentials themselves are read from the
// coordination store, not the config file, per spec §4.2.
type Config struct {
	KeepaliveInterval time.Duration
	FenceIntervals    int
	SuccessfulFence   Action
	FailedFence       Action
	SuicideIntervals  int
}

// Fencer drives the fence algorithm against peers, and the self-suicide
// watchdog against this node.
type Fencer struct {
	store    *zkstore.Store
	migrator MigrationHandler
	thisNode string
	cfg      Config
}

func New(store *zkstore.Store, migrator MigrationHandler, thisNode string, cfg Config) *Fencer {
	if cfg.FenceIntervals <= 0 {
		cfg.FenceIntervals = SavingThrows
	}
	return &Fencer{store: store, migrator: migrator, thisNode: thisNode, cfg: cfg}
}

// FenceNode runs the full fence algorithm against a peer declared dead by
// the keepalive loop (C8). It blocks for the duration of the saving-throw
// window plus, if the node stays dead, the IPMI round trip.
func (f *Fencer) FenceNode(node string, coordinators []string) (Outcome, error) {
	logger := log.WithNode(node)
	schema := f.store.Schema()

	if recovered := f.awaitSavingThrows(node); recovered {
		logger.Info().Msg("node passed a saving throw; cancelling fence")
		return OutcomeRecovered, nil
	}

	logger.Warn().Msg("fencing node via IPMI reboot signal")
	timer := metrics.NewTimer()

	hostname, _, err := f.store.Read(schema.NodeIPMIHostname(node))
	if err != nil {
		return OutcomeFailure, err
	}
	username, _, err := f.store.Read(schema.NodeIPMIUsername(node))
	if err != nil {
		return OutcomeFailure, err
	}
	password, _, err := f.store.Read(schema.NodeIPMIPassword(node))
	if err != nil {
		return OutcomeFailure, err
	}

	outcome := f.rebootViaIPMI(hostname, username, password)
	timer.ObserveDuration(metrics.FenceDuration)
	outcomeLabel := "failure"
	if outcome == OutcomeSuccess {
		outcomeLabel = "success"
	}
	metrics.FencesTotal.WithLabelValues(outcomeLabel).Inc()

	logger.Info().Dur("hold", f.cfg.KeepaliveInterval).Msg("waiting for fence to take effect")
	time.Sleep(f.cfg.KeepaliveInterval)

	if outcome == OutcomeSuccess {
		if err := f.store.WriteOne(schema.NodeDaemonState(node), string(vmtypes.DaemonStateFenced)); err != nil {
			return outcome, err
		}
		if isCoordinator(node, coordinators) {
			if err := f.forceSecondary(node); err != nil {
				return outcome, err
			}
		}
	}

	shouldMigrate := (outcome == OutcomeSuccess && f.cfg.SuccessfulFence == ActionMigrate) ||
		(outcome == OutcomeFailure && f.cfg.FailedFence == ActionMigrate && f.cfg.SuicideIntervals != 0)
	if shouldMigrate {
		if err := f.migrateFromFencedNode(node); err != nil {
			logger.Error().Err(err).Msg("migration from fenced node encountered errors")
		}
	}

	if err := f.resetNodeCounters(node); err != nil {
		return outcome, err
	}

	return outcome, nil
}

// awaitSavingThrows re-reads state.daemon once per keepalive interval, up
// to SavingThrows times, returning true the moment it sees anything other
// than "dead".
func (f *Fencer) awaitSavingThrows(node string) bool {
	schema := f.store.Schema()
	for i := 0; i < SavingThrows; i++ {
		time.Sleep(f.cfg.KeepaliveInterval)
		state, ok, err := f.store.Read(schema.NodeDaemonState(node))
		if err != nil || !ok {
			continue
		}
		if state != string(vmtypes.DaemonStateDead) {
			return true
		}
	}
	return false
}

func (f *Fencer) rebootViaIPMI(hostname, username, password string) Outcome {
	tool := executil.IPMITool{Hostname: hostname, Username: username, Password: password}

	offErr := tool.ChassisPowerOff()
	time.Sleep(5 * time.Second)

	// Intermediate status read, logged only: confirms what the power-off
	// command actually achieved before we attempt to power back on.
	if _, err := tool.ChassisPowerStatus(); err != nil {
		log.WithNode(hostname).Warn().Err(err).Msg("chassis power state is unknown after power off")
	}

	_ = tool.ChassisPowerOn()
	time.Sleep(2 * time.Second)
	finalOn, finalErr := tool.ChassisPowerStatus()

	return classifyOutcome(offErr, finalErr, finalOn)
}

// classifyOutcome implements the fence outcome table: the final chassis
// status must be confirmed (statusErr == nil) for the fence to succeed.
// A confirmed on or off state after a successful power-off is a success;
// an unconfirmed (errored) final status is always a failure, even if the
// power-off command itself succeeded; a failed power-off is only a
// success if the chassis is confirmed off anyway.
func classifyOutcome(offErr, statusErr error, finalOn bool) Outcome {
	if statusErr != nil {
		return OutcomeFailure
	}
	if offErr == nil {
		return OutcomeSuccess
	}
	if !finalOn {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

func isCoordinator(node string, coordinators []string) bool {
	for _, c := range coordinators {
		if c == node {
			return true
		}
	}
	return false
}

func (f *Fencer) forceSecondary(node string) error {
	schema := f.store.Schema()
	if err := f.store.WriteOne(schema.NodeRouterState(node), string(vmtypes.RouterStateSecondary)); err != nil {
		return err
	}
	primary, ok, err := f.store.Read(schema.PrimaryNodePath())
	if err != nil {
		return err
	}
	if ok && primary == node {
		return f.store.WriteOne(schema.PrimaryNodePath(), "none")
	}
	return nil
}

func (f *Fencer) migrateFromFencedNode(node string) error {
	schema := f.store.Schema()
	if err := f.store.WriteOne(schema.NodeDomainState(node), string(vmtypes.NodeDomainStateFenceFlush)); err != nil {
		return err
	}

	domains, err := f.migrator.RunningDomains(node)
	if err != nil {
		return fmt.Errorf("listing running domains on %s: %w", node, err)
	}

	var firstErr error
	for _, uuid := range domains {
		dom := vmtypes.VM{UUID: uuid, Node: node}
		if err := f.migrator.FlushLocksAndMigrate(dom, node); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("migrating %s off fenced node %s: %w", uuid, node, err)
		}
	}

	if err := f.store.WriteOne(schema.NodeDomainState(node), string(vmtypes.NodeDomainStateFlushed)); err != nil {
		return err
	}
	return firstErr
}

func (f *Fencer) resetNodeCounters(node string) error {
	schema := f.store.Schema()
	pairs := []zkstore.KV{
		{Path: schema.NodeAttr(node, "running_domains"), Value: ""},
		{Path: schema.NodeAttr(node, "count.provisioned_domains"), Value: "0"},
		{Path: schema.NodeAttr(node, "cpu.load"), Value: "0"},
		{Path: schema.NodeAttr(node, "vcpu.allocated"), Value: "0"},
		{Path: schema.NodeAttr(node, "memory.total"), Value: "0"},
		{Path: schema.NodeAttr(node, "memory.used"), Value: "0"},
		{Path: schema.NodeAttr(node, "memory.free"), Value: "0"},
		{Path: schema.NodeAttr(node, "memory.allocated"), Value: "0"},
		{Path: schema.NodeAttr(node, "memory.provisioned"), Value: "0"},
		{Path: schema.NodeMonitoringHealth(node), Value: ""},
	}
	for _, p := range pairs {
		if err := f.store.WriteOne(p.Path, p.Value); err != nil {
			return perrors.Wrap(perrors.KindStoreUnavailable, fmt.Errorf("resetting %s: %w", p.Path, err))
		}
	}
	return nil
}

// Suicide is the self-suicide watchdog action: a best-effort power cycle
// of this node's own BMC, invoked by pkg/keepalive when this node has
// missed suicide_intervals consecutive keepalives of its own.
func (f *Fencer) Suicide() error {
	schema := f.store.Schema()
	hostname, _, err := f.store.Read(schema.NodeIPMIHostname(f.thisNode))
	if err != nil {
		return err
	}
	username, _, err := f.store.Read(schema.NodeIPMIUsername(f.thisNode))
	if err != nil {
		return err
	}
	password, _, err := f.store.Read(schema.NodeIPMIPassword(f.thisNode))
	if err != nil {
		return err
	}
	if outcome := f.rebootViaIPMI(hostname, username, password); outcome != OutcomeSuccess {
		return fmt.Errorf("suicide power cycle failed")
	}
	return nil
}
