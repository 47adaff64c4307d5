package transitions

import "testing"

func mustLoad(t *testing.T) *Table {
	t.Helper()
	tbl, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return tbl
}

func allStates() []State {
	return []State{StateNone, StateRunning, StateComplete, StateFailed, StatePartial, StatePreempted, StateOrphaned, StateRestarting, StateStopped}
}

func allActors() []Actor {
	return []Actor{ActorVM, ActorReconciler, ActorLocal, ActorOperator}
}

// P1: terminal states accept no outgoing edge for any actor.
func TestTerminalStatesRejectAllEdges(t *testing.T) {
	tbl := mustLoad(t)
	terminal := []State{StateComplete, StateFailed, StatePartial, StateStopped}
	for _, from := range terminal {
		for _, to := range allStates() {
			for _, actor := range allActors() {
				ok, err := tbl.CanTransition(from, to, actor)
				if ok || err == nil {
					t.Fatalf("expected rejection for terminal %s -> %s by %s", from, to, actor)
				}
			}
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []State{StateComplete, StateFailed, StatePartial, StateStopped} {
		if !IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateRunning, StatePreempted, StateOrphaned, StateRestarting} {
		if IsTerminal(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

// P4: status_compat is total over the known state set with the exact mapping.
func TestStatusCompatMapping(t *testing.T) {
	cases := map[State]string{
		StateRunning:    "RUNNING",
		StateComplete:   "COMPLETE",
		StateFailed:     "FAILED",
		StatePartial:    "PARTIAL",
		StatePreempted:  "PREEMPTED",
		StateOrphaned:   "PREEMPTED",
		StateRestarting: "RUNNING",
		StateStopped:    "STOPPED",
	}
	for state, want := range cases {
		if got := StatusCompat(state); got != want {
			t.Errorf("StatusCompat(%s) = %s, want %s", state, got, want)
		}
	}
}

// P8: the null -> ORPHANED edge is accepted exactly when actor == reconciler.
func TestNullToOrphanedGuardedToReconciler(t *testing.T) {
	tbl := mustLoad(t)
	for _, actor := range allActors() {
		ok, err := tbl.CanTransition(StateNone, StateOrphaned, actor)
		if actor == ActorReconciler {
			if !ok || err != nil {
				t.Fatalf("reconciler should be allowed null -> ORPHANED, got ok=%v err=%v", ok, err)
			}
			continue
		}
		if ok || err == nil {
			t.Fatalf("actor %s should not be allowed null -> ORPHANED", actor)
		}
		v, isViolation := err.(*Violation)
		if !isViolation || v.Kind != ViolationActorNotAllowed {
			t.Fatalf("expected ViolationActorNotAllowed, got %v", err)
		}
	}
}

func TestNullToRunningAnyActor(t *testing.T) {
	tbl := mustLoad(t)
	ok, err := tbl.CanTransition(StateNone, StateRunning, ActorVM)
	if !ok || err != nil {
		t.Fatalf("null -> RUNNING by vm should be allowed: %v", err)
	}
}

func TestUnknownActorRejected(t *testing.T) {
	tbl := mustLoad(t)
	ok, err := tbl.CanTransition(StateRunning, StateComplete, Actor("bogus"))
	if ok || err == nil {
		t.Fatal("expected rejection for unknown actor")
	}
	v, isViolation := err.(*Violation)
	if !isViolation || v.Kind != ViolationUnknownActor {
		t.Fatalf("expected ViolationUnknownActor, got %v", err)
	}
}

func TestDisallowedEdgeRejected(t *testing.T) {
	tbl := mustLoad(t)
	ok, err := tbl.CanTransition(StateRunning, StateRestarting, ActorVM)
	if ok || err == nil {
		t.Fatal("expected rejection: RUNNING -> RESTARTING is not a declared edge")
	}
	v, isViolation := err.(*Violation)
	if !isViolation || v.Kind != ViolationEdgeDisallowed {
		t.Fatalf("expected ViolationEdgeDisallowed, got %v", err)
	}
}

// P3: Hash() equals SHA-256 of the loaded document.
func TestHashMatchesDocument(t *testing.T) {
	tbl := mustLoad(t)
	want, err := LoadBytes(canonicalDocument)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if tbl.Hash() != want.Hash() {
		t.Fatalf("hash mismatch: %s vs %s", tbl.Hash(), want.Hash())
	}
	if len(tbl.Hash()) != 64 {
		t.Fatalf("expected 64-char hex sha256, got %d chars", len(tbl.Hash()))
	}
}

func TestRestartEdges(t *testing.T) {
	tbl := mustLoad(t)
	allowed := []struct {
		from, to State
	}{
		{StatePreempted, StateRestarting},
		{StatePreempted, StateStopped},
		{StateOrphaned, StateRestarting},
		{StateOrphaned, StateStopped},
		{StateRestarting, StateRunning},
		{StateRestarting, StateOrphaned},
		{StateRestarting, StateStopped},
	}
	for _, c := range allowed {
		if ok, err := tbl.CanTransition(c.from, c.to, ActorReconciler); !ok || err != nil {
			t.Errorf("%s -> %s should be allowed: %v", c.from, c.to, err)
		}
	}
}
