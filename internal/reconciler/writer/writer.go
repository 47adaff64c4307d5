// Package writer is the CAS state writer: the only component
// permitted to mutate a run's canonical state. It enforces the transition
// table and writes a bounded history plus an append-only event log.
package writer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ixqt-ai/cloud-reconciler/internal/platform/logger"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/runstate"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/store"
	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/transitions"
)

const maxCASAttempts = 3

// Writer is the sole authority for mutating runs/<run_id>/state.json.
type Writer struct {
	store  store.Store
	table  *transitions.Table
	log    *logger.Logger
	dryRun bool

	// now and nonce are overridable for deterministic tests.
	now   func() runstate.Timestamp
	nonce func() string
}

func New(st store.Store, table *transitions.Table, log *logger.Logger, dryRun bool) *Writer {
	return &Writer{
		store:  st,
		table:  table,
		log:    log,
		dryRun: dryRun,
		now:    runstate.Now,
		nonce:  func() string { return uuid.New().String()[:8] },
	}
}

func stateKey(runID string) string  { return fmt.Sprintf("runs/%s/state.json", runID) }
func statusKey(runID string) string { return fmt.Sprintf("runs/%s/status.txt", runID) }

// WriteState validates and applies a state transition. accepted is true only when
// the transition was legal (in dry-run, state.json is still read but nothing
// is written, and accepted is still reported — see DESIGN.md for the
// dry-run/accepted rationale).
func (w *Writer) WriteState(ctx context.Context, runID string, newState transitions.State, reason string, actor transitions.Actor) (accepted bool, rec *runstate.StateRecord, err error) {
	current, generation, readErr := w.readCurrent(ctx, runID)
	if readErr != nil {
		return false, nil, readErr
	}

	if transitions.IsTerminal(current.State) {
		w.log.Info("state already terminal, rejecting write", "run_id", runID, "state", current.State, "attempted_to", newState)
		return false, current, nil
	}

	if ok, violation := w.table.CanTransition(current.State, newState, actor); !ok {
		w.log.Info("transition rejected", "run_id", runID, "from", current.State, "to", newState, "actor", actor, "reason", violation.Error())
		return false, current, nil
	}

	next := w.buildNext(current, newState, reason, actor)

	if w.dryRun {
		w.log.Info("dry-run: would write state", "run_id", runID, "from", current.State, "to", newState, "reason", reason)
		return true, next, nil
	}

	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		if attempt > 1 {
			reread, gen, rereadErr := w.readCurrent(ctx, runID)
			if rereadErr != nil {
				return false, nil, rereadErr
			}
			if transitions.IsTerminal(reread.State) {
				w.log.Info("state became terminal during retry, rejecting write", "run_id", runID)
				return false, reread, nil
			}
			if ok, _ := w.table.CanTransition(reread.State, newState, actor); !ok {
				w.log.Info("transition rejected on retry re-read", "run_id", runID, "from", reread.State, "to", newState)
				return false, reread, nil
			}
			current, generation = reread, gen
			next = w.buildNext(current, newState, reason, actor)
		}

		newGen, writeErr := store.WriteJSON(ctx, w.store, stateKey(runID), next, generation)
		if writeErr == store.ErrPreconditionFailed {
			w.log.Info("cas conflict on state.json, retrying", "run_id", runID, "attempt", attempt)
			continue
		}
		if writeErr != nil {
			return false, nil, fmt.Errorf("write state for %s: %w", runID, writeErr)
		}
		_ = newGen

		w.writeCompat(ctx, runID, newState)
		w.writeEvent(ctx, runID, next.History[len(next.History)-1])

		w.log.Info("state written", "run_id", runID, "from", current.State, "to", newState, "reason", reason, "actor", actor)
		return true, next, nil
	}

	w.log.Error("cas retries exhausted", "run_id", runID, "to", newState)
	return false, nil, nil
}

func (w *Writer) readCurrent(ctx context.Context, runID string) (*runstate.StateRecord, int64, error) {
	rec, gen, err := store.ReadJSON[runstate.StateRecord](ctx, w.store, stateKey(runID))
	if err == store.ErrNotFound {
		return &runstate.StateRecord{State: transitions.StateNone, History: nil}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read state for %s: %w", runID, err)
	}
	return rec, gen, nil
}

func (w *Writer) buildNext(current *runstate.StateRecord, newState transitions.State, reason string, actor transitions.Actor) *runstate.StateRecord {
	now := w.now()
	next := &runstate.StateRecord{
		State:        newState,
		PrevState:    current.State,
		StateVersion: current.StateVersion + 1,
		OwnerID:      current.OwnerID,
		InstanceName: current.InstanceName,
		Zone:         current.Zone,
		Attempt:      current.Attempt,
		UpdatedAt:    now,
		UpdatedBy:    actor,
		Reason:       reason,
		History:      append([]runstate.HistoryEntry(nil), current.History...),
		Extra:        current.Extra,
	}
	next.AppendHistory(runstate.HistoryEntry{
		From: current.State, To: newState, At: now, By: actor, Reason: reason,
	})
	return next
}

func (w *Writer) writeCompat(ctx context.Context, runID string, newState transitions.State) {
	if _, err := w.store.Write(ctx, statusKey(runID), []byte(transitions.StatusCompat(newState)), store.NoPrecondition); err != nil {
		w.log.Warn("status.txt write failed (advisory)", "run_id", runID, "error", err)
	}
}

func (w *Writer) writeEvent(ctx context.Context, runID string, entry runstate.HistoryEntry) {
	ts := w.now().Time.Format("20060102T150405Z")
	key := fmt.Sprintf("runs/%s/events/%s_reconciler_%s.json", runID, ts, w.nonce())
	if _, err := store.WriteJSON(ctx, w.store, key, entry, 0); err != nil {
		w.log.Warn("event log write failed (advisory)", "run_id", runID, "key", key, "error", err)
	}
}
