package monitor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/parallelvirtualcluster/pvc/pkg/log"
	"github.com/parallelvirtualcluster/pvc/pkg/monitor/faultlog"
	"github.com/parallelvirtualcluster/pvc/pkg/zkstore"
)

// FaultRule is one cluster-wide condition the primary checks every
// tick: dead/fenced nodes, degraded Ceph health, failed VMs,
// over-provisioned memory (spec §4.10). A rule returns the faults
// currently active; the evaluator reconciles that set against what is
// already recorded under base.faults/*.
type FaultRule interface {
	ID() string
	Check(ctx context.Context) ([]ActiveFault, error)
}

// ActiveFault is one instance of a FaultRule currently firing.
type ActiveFault struct {
	Name    string
	Delta   int
	Message string
	Details string
}

// faultEvaluator upserts ActiveFault sightings into base.faults/*,
// preserving first_time across ticks and clearing a fault's record
// once its rule stops reporting it. When ledger is non-nil, it is the
// fast local source of truth for first_time (spec.md's "first-seen
// preserved"); ZooKeeper is still written every tick so any node can
// read base.faults/* without talking to the fault-log Raft group.
type faultEvaluator struct {
	store  *zkstore.Store
	rules  []FaultRule
	ledger *faultlog.Log
}

func newFaultEvaluator(store *zkstore.Store, rules []FaultRule) *faultEvaluator {
	return &faultEvaluator{store: store, rules: rules}
}

// withLedger attaches the coordinator-local fault-log Raft group.
func (f *faultEvaluator) withLedger(ledger *faultlog.Log) *faultEvaluator {
	f.ledger = ledger
	return f
}

func (f *faultEvaluator) evaluate(ctx context.Context) error {
	schema := f.store.Schema()
	seen := make(map[string]bool)
	var firstErr error

	for _, rule := range f.rules {
		active, err := rule.Check(ctx)
		if err != nil {
			log.WithComponent("monitor").Warn().Err(err).Str("rule", rule.ID()).Msg("fault rule check failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("rule %s: %w", rule.ID(), err)
			}
			continue
		}
		for i, af := range active {
			id := fmt.Sprintf("%s-%d", rule.ID(), i)
			seen[id] = true
			if err := f.upsert(schema, id, af); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	existing, err := f.store.Children(schema.FaultRoot())
	if err != nil {
		return firstErr
	}
	for _, id := range existing {
		if seen[id] {
			continue
		}
		if err := f.store.Delete(schema.FaultPath(id), true); err != nil {
			log.WithComponent("monitor").Warn().Err(err).Str("fault", id).Msg("clearing resolved fault")
		}
		if f.ledger != nil {
			if err := f.ledger.Clear(id); err != nil {
				log.WithComponent("monitor").Warn().Err(err).Str("fault", id).Msg("clearing fault from replicated ledger")
			}
		}
	}
	return firstErr
}

// upsert writes a fault record, preserving first_time if the fault
// already existed from a prior tick (spec: "first-seen preserved,
// last-seen updated").
func (f *faultEvaluator) upsert(schema zkstore.Schema, id string, af ActiveFault) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)

	var firstTime string
	var ok bool
	if f.ledger != nil {
		if rec, present := f.ledger.Records()[id]; present {
			firstTime, ok = strconv.FormatInt(rec.FirstTime.Unix(), 10), true
		}
	} else {
		var err error
		firstTime, ok, err = f.store.Read(schema.FaultAttr(id, "first_time"))
		if err != nil {
			return err
		}
	}
	if !ok || firstTime == "" {
		firstTime = now
		if err := f.store.EnsurePath(schema.FaultAttr(id, "first_time"), ""); err != nil {
			return err
		}
	}

	for _, sub := range []string{"name", "last_time", "delta", "message", "details", "acknowledged"} {
		if err := f.store.EnsurePath(schema.FaultAttr(id, sub), ""); err != nil {
			return err
		}
	}
	if err := f.store.EnsurePath(schema.FaultAttr(id, "first_time"), ""); err != nil {
		return err
	}

	pairs := []zkstore.KV{
		{Path: schema.FaultAttr(id, "first_time"), Value: firstTime},
		{Path: schema.FaultAttr(id, "last_time"), Value: now},
		{Path: schema.FaultAttr(id, "name"), Value: af.Name},
		{Path: schema.FaultAttr(id, "delta"), Value: strconv.Itoa(af.Delta)},
		{Path: schema.FaultAttr(id, "message"), Value: af.Message},
		{Path: schema.FaultAttr(id, "details"), Value: af.Details},
	}
	if !ok {
		pairs = append(pairs, zkstore.KV{Path: schema.FaultAttr(id, "acknowledged"), Value: "false"})
	}
	if err := f.store.Write(pairs); err != nil {
		return err
	}

	if f.ledger != nil {
		firstUnix, _ := strconv.ParseInt(firstTime, 10, 64)
		rec := faultlog.Record{
			ID:        id,
			Name:      af.Name,
			FirstTime: time.Unix(firstUnix, 0),
			Delta:     af.Delta,
			Message:   af.Message,
			Details:   af.Details,
		}
		if err := f.ledger.Upsert(rec); err != nil {
			log.WithComponent("monitor").Warn().Err(err).Str("fault", id).Msg("replicating fault to ledger")
		}
	}
	return nil
}
