// Package restart is the restart executor: lease acquisition, owner-lock
// clearance, the PREEMPTED/ORPHANED -> RESTARTING transition,
// replacement-instance provisioning with zone fallback, lease release,
// and rollback on failure.
package restart

import (
	"context"
	"fmt"

	"github.com/ixqt-ai/cloud-reconciler/internal/platform/logger"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/action"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/instance"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/notify"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/runstate"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/store"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/transitions"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/writer"
)

const defaultLeaseTTLSec = 300

// Outcome reports whether the executor acted and, if so, which action to
// surface from reconcile_run.
type Outcome struct {
	Acted        bool
	Action       action.Action
	InstanceName string
	Zone         string
}

// Executor is the restart protocol's sole implementation. It is handed the
// same CAS writer the engine uses, so the RESTARTING transition goes
// through the identical transition-table enforcement.
type Executor struct {
	store     store.Store
	instances instance.Adapter
	writer    *writer.Writer
	notifier  notify.Notifier
	log       *logger.Logger
	project   string
	dryRun    bool

	now      func() runstate.Timestamp
	hostname string
}

func New(st store.Store, instances instance.Adapter, w *writer.Writer, notifier notify.Notifier, log *logger.Logger, project string, dryRun bool, hostname string) *Executor {
	return &Executor{
		store:     st,
		instances: instances,
		writer:    w,
		notifier:  notifier,
		log:       log,
		project:   project,
		dryRun:    dryRun,
		now:       runstate.Now,
		hostname:  hostname,
	}
}

func restartLockKey(runID string) string { return fmt.Sprintf("runs/%s/restart.lock", runID) }
func ownerLockKey(runID string) string   { return fmt.Sprintf("runs/%s/.owner.lock", runID) }
func stopKey(runID string) string        { return fmt.Sprintf("runs/%s/.stop", runID) }

const restartEnabledKey = ".reconciler_restart_enabled"

// TryRestart attempts the restart protocol. priorState is the state record as it was
// read at the top of this reconcile tick, BEFORE the engine's own ORPHANED
// write for this tick — matching the source behavior where a run only
// becomes restart-eligible once a *previous* tick has already left it in
// PREEMPTED or ORPHANED; a run orphaned for the first time this tick (prior
// state RUNNING, or no state.json at all) is picked up on the next tick.
//
// Under dry-run, every write below is a no-op but this still walks the full
// protocol and returns action.Restarted on a successful simulated path,
// rather than short-circuiting to no action as the source does.

func (e *Executor) TryRestart(ctx context.Context, runID string, priorState *runstate.StateRecord, cfg *runstate.RestartConfig) (Outcome, error) {
	if cfg == nil {
		e.log.Info("no restart_config.json, cannot restart", "run_id", runID)
		return Outcome{}, nil
	}
	if priorState.State != transitions.StatePreempted && priorState.State != transitions.StateOrphaned {
		return Outcome{}, nil
	}
	max := cfg.RestartMax()
	if priorState.Attempt >= max {
		e.log.Info("restart attempts exhausted", "run_id", runID, "attempt", priorState.Attempt, "max", max)
		return Outcome{}, nil
	}
	if stopped, err := e.store.Exists(ctx, stopKey(runID)); err == nil && stopped {
		e.log.Info(".stop sentinel present, skipping restart", "run_id", runID)
		return Outcome{}, nil
	}
	enabled, err := e.restartEnabled(ctx)
	if err != nil || !enabled {
		e.log.Info("restart not enabled", "run_id", runID)
		return Outcome{}, nil
	}

	attempt := priorState.Attempt + 1
	e.log.Info("attempting restart", "run_id", runID, "attempt", attempt, "max", max)

	lockGen, acquired := e.acquireLease(ctx, runID, attempt)
	if !acquired {
		e.log.Info("could not acquire restart.lock", "run_id", runID)
		return Outcome{}, nil
	}

	if ok, err := e.clearOwnerLock(ctx, runID); err != nil || !ok {
		e.rollback(ctx, runID, priorState, lockGen, "owner lock still held by a live instance")
		return Outcome{Acted: true, Action: action.RestartFailed}, nil
	}

	accepted, _, err := e.writer.WriteState(ctx, runID, transitions.StateRestarting, "reconciler_restart", transitions.ActorReconciler)
	if err != nil {
		e.rollback(ctx, runID, priorState, lockGen, fmt.Sprintf("state write error: %v", err))
		return Outcome{Acted: true, Action: action.RestartFailed}, nil
	}
	if !accepted {
		e.rollback(ctx, runID, priorState, lockGen, "RESTARTING transition rejected")
		return Outcome{Acted: true, Action: action.RestartFailed}, nil
	}

	name, zone, ok := e.provision(ctx, runID, cfg, attempt)
	if !ok {
		e.rollback(ctx, runID, priorState, lockGen, "instance creation failed in every fallback zone")
		return Outcome{Acted: true, Action: action.RestartFailed}, nil
	}

	e.releaseLease(ctx, runID, lockGen)
	e.notifier.Notify(ctx, fmt.Sprintf("Restarted %s as %s in %s (attempt %d/%d)", runID, name, zone, attempt, max))
	e.log.Info("restart successful", "run_id", runID, "instance", name, "zone", zone, "attempt", attempt)
	return Outcome{Acted: true, Action: action.Restarted, InstanceName: name, Zone: zone}, nil
}

func (e *Executor) restartEnabled(ctx context.Context) (bool, error) {
	flag, _, err := store.ReadJSON[runstate.RestartEnabledFlag](ctx, e.store, restartEnabledKey)
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return flag.Enabled(), nil
}

// acquireLease CAS-creates restart.lock. On a lost race it inspects the
// existing lease: if expired (age > ttl_sec) it attempts a preconditioned
// delete followed by one retry of the create; losing that retry yields
// (0, false), meaning another actor currently owns the restart.
func (e *Executor) acquireLease(ctx context.Context, runID string, attempt int) (int64, bool) {
	lock := runstate.RestartLock{
		Actor:      "reconciler",
		Hostname:   e.hostname,
		AcquiredAt: e.now(),
		Attempt:    attempt,
		TTLSec:     defaultLeaseTTLSec,
	}
	if e.dryRun {
		e.log.Info("dry-run: would acquire restart lease", "run_id", runID)
		return 0, true
	}

	gen, err := store.WriteJSON(ctx, e.store, restartLockKey(runID), lock, 0)
	if err == nil {
		return gen, true
	}
	if err != store.ErrPreconditionFailed {
		e.log.Warn("restart lease acquire failed", "run_id", runID, "error", err)
		return 0, false
	}

	existing, existingGen, readErr := store.ReadJSON[runstate.RestartLock](ctx, e.store, restartLockKey(runID))
	if readErr != nil {
		return 0, false
	}
	age := e.now().Sub(existing.AcquiredAt.Time).Seconds()
	ttl := existing.TTLSec
	if ttl <= 0 {
		ttl = defaultLeaseTTLSec
	}
	if age <= float64(ttl) {
		return 0, false
	}

	if delErr := e.store.Delete(ctx, restartLockKey(runID), existingGen); delErr != nil {
		e.log.Info("restart lease reclaim race lost", "run_id", runID)
		return 0, false
	}
	gen, err = store.WriteJSON(ctx, e.store, restartLockKey(runID), lock, 0)
	if err != nil {
		e.log.Info("restart lease reclaim race lost on retry", "run_id", runID)
		return 0, false
	}
	e.log.Info("reclaimed stale restart lease", "run_id", runID, "age_sec", age)
	return gen, true
}

func (e *Executor) releaseLease(ctx context.Context, runID string, lockGen int64) {
	if e.dryRun {
		e.log.Info("dry-run: would release restart lease", "run_id", runID)
		return
	}
	if err := e.store.Delete(ctx, restartLockKey(runID), lockGen); err != nil {
		// The lock may have already been auto-expired and reclaimed by
		// another actor; an unconditional delete still clears our own
		// leftover if it is still there.
		if delErr := e.store.Delete(ctx, restartLockKey(runID), store.NoPrecondition); delErr != nil && delErr != store.ErrNotFound {
			e.log.Warn("restart lease release failed", "run_id", runID, "error", delErr)
		}
	}
}

// clearOwnerLock verifies the claimed worker instance no longer exists and,
// if so, deletes .owner.lock. It returns (false, nil) when the owner VM is
// confirmed still alive, and (false, err) when the lock cannot be read, the
// existence check errors, or the delete fails; either aborts the restart.
func (e *Executor) clearOwnerLock(ctx context.Context, runID string) (bool, error) {
	lock, gen, err := store.ReadJSON[runstate.OwnerLock](ctx, e.store, ownerLockKey(runID))
	if err == store.ErrNotFound {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if lock.Instance != "" && lock.Zone != "" {
		alive, err := e.instances.VMExists(ctx, e.project, lock.Zone, lock.Instance)
		if err != nil {
			return false, err
		}
		if alive {
			e.log.Error("owner VM still alive, aborting restart", "run_id", runID, "instance", lock.Instance, "zone", lock.Zone)
			return false, nil
		}
	}
	if e.dryRun {
		e.log.Info("dry-run: would clear owner lock", "run_id", runID)
		return true, nil
	}
	if err := e.store.Delete(ctx, ownerLockKey(runID), gen); err != nil && err != store.ErrNotFound {
		e.log.Error("owner lock delete failed", "run_id", runID, "error", err)
		return false, err
	}
	return true, nil
}

// provision iterates the ordered zone list, attempting create_instance in
// each until one succeeds.
func (e *Executor) provision(ctx context.Context, runID string, cfg *runstate.RestartConfig, attempt int) (name, zone string, ok bool) {
	zones := cfg.Zones()
	spec := buildSpec(cfg, runID, attempt)
	for _, z := range zones {
		if e.dryRun {
			e.log.Info("dry-run: would create instance", "run_id", runID, "zone", z, "name", spec.Name)
			return spec.Name, z, true
		}
		created, err := e.instances.CreateInstance(ctx, cfg.Project, z, spec)
		if err == nil {
			return created, z, true
		}
		e.log.Warn("zone failed, trying next", "run_id", runID, "zone", z, "error", err)
	}
	return "", "", false
}

func (e *Executor) rollback(ctx context.Context, runID string, priorState *runstate.StateRecord, lockGen int64, reason string) {
	e.log.Error("restart failed, rolling back", "run_id", runID, "reason", reason)
	if _, _, err := e.writer.WriteState(ctx, runID, priorState.State, "restart_rollback", transitions.ActorReconciler); err != nil {
		e.log.Warn("rollback state write error (best effort)", "run_id", runID, "error", err)
	}
	e.releaseLease(ctx, runID, lockGen)
	e.notifier.Notify(ctx, fmt.Sprintf("Restart failed for %s: %s", runID, reason))
}
