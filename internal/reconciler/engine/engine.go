// Package engine is the reconciliation engine: for every run it
// classifies condition and selects exactly one outcome from the tagged
// action set, evaluated as a fixed-order decision tree so that testing is
// exhaustive pattern matching rather than free-form log scraping.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ixqt-ai/cloud-reconciler/internal/platform/logger"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/action"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/instance"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/notify"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/restart"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/runstate"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/store"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/transitions"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/writer"
)

// Restarter is the subset of the restart executor the engine depends on,
// narrowed to an interface so tests can substitute a fake.
type Restarter interface {
	TryRestart(ctx context.Context, runID string, priorState *runstate.StateRecord, cfg *runstate.RestartConfig) (restart.Outcome, error)
}

// Engine ties the state store, instance adapter, CAS writer, and restart
// executor together into reconcile_all/reconcile_run.
type Engine struct {
	store     store.Store
	instances instance.Adapter
	writer    *writer.Writer
	restarter Restarter
	notifier  notify.Notifier
	log       *logger.Logger
	cfg       Config
	project   string
	dryRun    bool

	now func() time.Time
}

func New(st store.Store, instances instance.Adapter, w *writer.Writer, restarter Restarter, notifier notify.Notifier, log *logger.Logger, cfg Config, project string, dryRun bool) *Engine {
	return &Engine{
		store:     st,
		instances: instances,
		writer:    w,
		restarter: restarter,
		notifier:  notifier,
		log:       log,
		cfg:       cfg,
		project:   project,
		dryRun:    dryRun,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func stateKey(runID string) string         { return fmt.Sprintf("runs/%s/state.json", runID) }
func heartbeatKey(runID string) string     { return fmt.Sprintf("runs/%s/heartbeat.json", runID) }
func statusKey(runID string) string        { return fmt.Sprintf("runs/%s/status.txt", runID) }
func staleMarkerKey(runID string) string   { return fmt.Sprintf("runs/%s/.reconciler_stale_seen", runID) }
func driftDisabledKey(runID string) string { return fmt.Sprintf("runs/%s/.drift_repair_disabled", runID) }
func restartConfigKey(runID string) string { return fmt.Sprintf("runs/%s/restart_config.json", runID) }
func runManifestKey(runID string) string   { return fmt.Sprintf("runs/%s/run_manifest.json", runID) }
func restartLockKey(runID string) string   { return fmt.Sprintf("runs/%s/restart.lock", runID) }

// ReconcileAll lists every run and reconciles each independently: a failure
// reconciling one run never aborts the scan.
func (e *Engine) ReconcileAll(ctx context.Context) map[string]string {
	ids, err := e.store.ListRunIDs(ctx, "")
	if err != nil {
		e.log.Error("failed to list run ids", "error", err)
		return map[string]string{}
	}
	e.log.Info("discovered runs", "count", len(ids))

	actions := make(map[string]string, len(ids))
	for _, runID := range ids {
		act := e.reconcileRun(ctx, runID)
		if act != action.None {
			actions[runID] = act.String()
		}
	}
	e.log.Info("reconciliation complete", "actions", len(actions))
	return actions
}

// reconcileRun never returns an error: every failure is logged against this
// run id and swallowed so the scan continues against the remaining runs.
func (e *Engine) reconcileRun(ctx context.Context, runID string) action.Action {
	state, stateExisted, err := e.readState(ctx, runID)
	if err != nil {
		e.log.Error("failed to read state", "run_id", runID, "error", err)
		return action.None
	}

	// 1. Drift repair. This runs before the terminal short-circuit, so a
	// terminal run's status.txt is still brought back in line with state.json.
	if state.State != transitions.StateNone && state.State != transitions.StateRestarting {
		e.repairDrift(ctx, runID, state.State)
	}

	// 2. Terminal short-circuit.
	if transitions.IsTerminal(state.State) {
		return action.None
	}

	// 3. RESTARTING stuck recovery. This branch always returns: the source
	// behavior never falls through to heartbeat/stale evaluation once a run
	// is RESTARTING.
	if state.State == transitions.StateRestarting {
		return e.recoverStuckRestarting(ctx, runID, state)
	}

	// 4. No heartbeat yet: the worker may still be booting.
	hb, hbErr := e.readHeartbeat(ctx, runID)
	if hbErr != nil {
		return action.None
	}

	// A heartbeat with a zero/empty timestamp is treated the same as no
	// heartbeat at all, not as an infinitely stale one.
	if hb.Timestamp.IsZero() {
		return action.None
	}

	hbAge := e.now().Sub(hb.Timestamp.Time).Seconds()

	// 5. Fresh heartbeat.
	if hbAge < float64(e.cfg.HeartbeatStaleSec) {
		e.clearStaleMarker(ctx, runID, "heartbeat recovered")
		return action.None
	}

	// 6/7. Two-stage stale detection.
	marker, markerErr := e.readStaleMarker(ctx, runID)
	if markerErr != nil {
		return e.recordFirstStaleObservation(ctx, runID, hb)
	}

	markerAge := e.now().Sub(marker.Timestamp.Time).Seconds()
	if markerAge < float64(e.cfg.MarkerMinAgeSec) {
		return action.None
	}
	if marker.HeartbeatEpoch != hb.Timestamp.String() {
		e.log.Info("heartbeat advanced since marker, resetting", "run_id", runID)
		e.clearStaleMarker(ctx, runID, "heartbeat advanced")
		return action.None
	}

	// 8. VM liveness check.
	if act, live := e.checkVMLiveness(ctx, runID, state); live {
		return act
	}

	// 9. Confirmed orphan.
	return e.confirmOrphan(ctx, runID, state, stateExisted)
}

func (e *Engine) readState(ctx context.Context, runID string) (*runstate.StateRecord, bool, error) {
	rec, _, err := store.ReadJSON[runstate.StateRecord](ctx, e.store, stateKey(runID))
	if err == store.ErrNotFound {
		return &runstate.StateRecord{State: transitions.StateNone}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (e *Engine) readHeartbeat(ctx context.Context, runID string) (*runstate.HeartbeatRecord, error) {
	hb, _, err := store.ReadJSON[runstate.HeartbeatRecord](ctx, e.store, heartbeatKey(runID))
	if err != nil {
		return nil, err
	}
	return hb, nil
}

func (e *Engine) readStaleMarker(ctx context.Context, runID string) (*runstate.StaleMarker, error) {
	marker, _, err := store.ReadJSON[runstate.StaleMarker](ctx, e.store, staleMarkerKey(runID))
	if err != nil {
		return nil, err
	}
	return marker, nil
}

func (e *Engine) repairDrift(ctx context.Context, runID string, state transitions.State) {
	raw, _, err := e.store.ReadText(ctx, statusKey(runID))
	if err != nil {
		return
	}
	actual := strings.TrimSpace(string(raw))
	expected := transitions.StatusCompat(state)
	if actual == expected {
		return
	}
	if disabled, _ := e.store.Exists(ctx, driftDisabledKey(runID)); disabled {
		e.log.Warn("status.txt drift detected but repair disabled", "run_id", runID, "actual", actual, "expected", expected)
		return
	}
	if e.dryRun {
		e.log.Info("dry-run: would repair status.txt drift", "run_id", runID, "actual", actual, "expected", expected)
		return
	}
	e.log.Warn("repairing status.txt drift", "run_id", runID, "actual", actual, "expected", expected)
	if _, err := e.store.Write(ctx, statusKey(runID), []byte(expected), store.NoPrecondition); err != nil {
		e.log.Error("drift repair write failed", "run_id", runID, "error", err)
	}
}

func (e *Engine) recoverStuckRestarting(ctx context.Context, runID string, state *runstate.StateRecord) action.Action {
	age := e.now().Sub(state.UpdatedAt.Time).Seconds()
	if age <= float64(e.cfg.RestartingStuckSec) {
		return action.None
	}

	vmAlive := false
	if state.InstanceName != "" && state.Zone != "" {
		alive, err := e.instances.VMExists(ctx, e.project, state.Zone, state.InstanceName)
		if err == nil {
			vmAlive = alive
		} else {
			vmAlive = true // fail-safe
		}
	}

	hbStale := true
	if hb, err := e.readHeartbeat(ctx, runID); err == nil {
		hbStale = e.now().Sub(hb.Timestamp.Time).Seconds() >= float64(e.cfg.HeartbeatStaleSec)
	}

	if vmAlive || !hbStale {
		return action.None
	}

	e.log.Warn("RESTARTING stuck, recovering to ORPHANED", "run_id", runID, "age_sec", age)
	if _, _, err := e.writer.WriteState(ctx, runID, transitions.StateOrphaned, "restarting_stuck_recovery", transitions.ActorReconciler); err != nil {
		e.log.Error("recovery state write failed", "run_id", runID, "error", err)
	}
	if e.dryRun {
		e.log.Info("dry-run: would delete restart.lock", "run_id", runID)
	} else if err := e.store.Delete(ctx, restartLockKey(runID), store.NoPrecondition); err != nil && err != store.ErrNotFound {
		e.log.Warn("restart.lock cleanup failed", "run_id", runID, "error", err)
	}
	e.notifier.Notify(ctx, fmt.Sprintf("WARN: [%s] RESTARTING stuck for %.0fs. Recovered to ORPHANED.", runID, age))
	return action.RestartingStuckRecover
}

func (e *Engine) clearStaleMarker(ctx context.Context, runID, why string) {
	existed, err := e.store.Exists(ctx, staleMarkerKey(runID))
	if err != nil || !existed {
		return
	}
	if e.dryRun {
		e.log.Info("dry-run: would clear stale marker", "run_id", runID, "reason", why)
		return
	}
	if err := e.store.Delete(ctx, staleMarkerKey(runID), store.NoPrecondition); err != nil && err != store.ErrNotFound {
		e.log.Warn("stale marker cleanup failed", "run_id", runID, "error", err)
		return
	}
	e.log.Info("cleared stale marker", "run_id", runID, "reason", why)
}

func (e *Engine) recordFirstStaleObservation(ctx context.Context, runID string, hb *runstate.HeartbeatRecord) action.Action {
	marker := runstate.StaleMarker{
		Timestamp:      runstate.NewTimestamp(e.now()),
		HeartbeatEpoch: hb.Timestamp.String(),
	}
	if e.dryRun {
		e.log.Info("dry-run: would write first stale observation marker", "run_id", runID)
	} else if _, err := store.WriteJSON(ctx, e.store, staleMarkerKey(runID), marker, store.NoPrecondition); err != nil {
		e.log.Error("failed to write stale marker", "run_id", runID, "error", err)
	}
	e.log.Info("first stale observation", "run_id", runID)
	e.notifier.Notify(ctx, fmt.Sprintf("INFO: [%s] Heartbeat stale. First observation recorded.", runID))
	return action.StaleFirstObservation
}

// checkVMLiveness implements step 8: resolve (instance, zone) from state.json,
// falling back to the legacy run_manifest.json, and confirm the instance is
// actually gone before the engine will declare a run orphaned.
func (e *Engine) checkVMLiveness(ctx context.Context, runID string, state *runstate.StateRecord) (action.Action, bool) {
	instName, zone := state.InstanceName, state.Zone
	if instName == "" || zone == "" {
		if manifest, _, err := store.ReadJSON[runstate.RunManifest](ctx, e.store, runManifestKey(runID)); err == nil {
			if instName == "" {
				instName = manifest.Instance
			}
			if zone == "" {
				zone = manifest.Zone
			}
		}
	}

	if instName != "" && zone != "" {
		alive, err := e.instances.VMExists(ctx, e.project, zone, instName)
		if err != nil {
			alive = true // fail-safe
		}
		if alive {
			e.log.Warn("VM still exists despite stale heartbeat", "run_id", runID, "instance", instName, "zone", zone)
			e.notifier.Notify(ctx, fmt.Sprintf("WARN: [%s] Heartbeat stale but VM %s still exists.", runID, instName))
			return action.StaleVMAlive, true
		}
		return action.None, false
	}

	loc, err := e.instances.VMSearchByPattern(ctx, e.project, fmt.Sprintf(".*-%s-.*", runID))
	if err == nil && loc != nil {
		e.log.Warn("found VM via pattern search", "run_id", runID, "instance", loc.Name, "zone", loc.Zone)
		return action.StaleVMFoundByPattern, true
	}
	return action.None, false
}

func (e *Engine) confirmOrphan(ctx context.Context, runID string, state *runstate.StateRecord, stateExisted bool) action.Action {
	if state.State == transitions.StatePreempted {
		e.log.Info("already PREEMPTED, confirmed by reconciler", "run_id", runID)
		e.notifier.Notify(ctx, fmt.Sprintf("INFO: [%s] Confirmed PREEMPTED (stale heartbeat + VM gone).", runID))
		return action.PreemptedConfirmed
	}

	priorState := *state

	if stateExisted {
		if _, _, err := e.writer.WriteState(ctx, runID, transitions.StateOrphaned, "stale_heartbeat_vm_gone", transitions.ActorReconciler); err != nil {
			e.log.Error("orphan state write failed", "run_id", runID, "error", err)
		}
	} else {
		if _, _, err := e.writer.WriteState(ctx, runID, transitions.StateOrphaned, "legacy_bootstrap_orphaned", transitions.ActorReconciler); err != nil {
			e.log.Error("legacy orphan bootstrap failed", "run_id", runID, "error", err)
		}
		e.log.Info("legacy run bootstrapped as ORPHANED", "run_id", runID)
	}

	e.notifier.Notify(ctx, fmt.Sprintf("WARN: [%s] ORPHANED — heartbeat stale, VM gone. Instance: %s", runID, orUnknown(state.InstanceName)))
	e.clearStaleMarker(ctx, runID, "orphan confirmed")

	cfg, _, err := store.ReadJSON[runstate.RestartConfig](ctx, e.store, restartConfigKey(runID))
	if err == store.ErrNotFound {
		cfg = nil
	} else if err != nil {
		e.log.Warn("failed to read restart_config.json", "run_id", runID, "error", err)
		cfg = nil
	}

	outcome, err := e.restarter.TryRestart(ctx, runID, &priorState, cfg)
	if err != nil {
		e.log.Error("restart executor error", "run_id", runID, "error", err)
	}
	if outcome.Acted {
		return outcome.Action
	}
	return action.Orphaned
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
