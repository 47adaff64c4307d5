package store

import (
	"context"
	"testing"
)

func TestFakeCASSemantics(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	if _, err := f.Write(ctx, "runs/r1/state.json", []byte(`{"state":"RUNNING"}`), 5); err != ErrPreconditionFailed {
		t.Fatalf("expected precondition failure writing over missing object with g>0, got %v", err)
	}

	gen1, err := f.Write(ctx, "runs/r1/state.json", []byte(`{"state":"RUNNING"}`), 0)
	if err != nil {
		t.Fatalf("initial create: %v", err)
	}

	if _, err := f.Write(ctx, "runs/r1/state.json", []byte(`{}`), 0); err != ErrPreconditionFailed {
		t.Fatalf("expected precondition failure re-creating existing object, got %v", err)
	}

	gen2, err := f.Write(ctx, "runs/r1/state.json", []byte(`{"state":"COMPLETE"}`), gen1)
	if err != nil {
		t.Fatalf("cas update: %v", err)
	}
	if gen2 == gen1 {
		t.Fatal("generation must change on successful write")
	}

	if err := f.Delete(ctx, "runs/r1/state.json", gen1); err != ErrPreconditionFailed {
		t.Fatalf("expected precondition failure deleting with stale generation, got %v", err)
	}
	if err := f.Delete(ctx, "runs/r1/state.json", gen2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := f.Exists(ctx, "runs/r1/state.json"); ok {
		t.Fatal("object should be gone after delete")
	}
}

func TestReadJSONTreatsParseErrorAsNotFound(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	if _, err := f.Write(ctx, "runs/r1/state.json", []byte("not json"), 0); err != nil {
		t.Fatalf("write: %v", err)
	}

	type rec struct {
		State string `json:"state"`
	}
	_, _, err := ReadJSON[rec](ctx, f, "runs/r1/state.json")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for unparseable JSON, got %v", err)
	}
}

func TestListRunIDs(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	_, _ = f.Write(ctx, "runs/alpha/state.json", []byte(`{}`), 0)
	_, _ = f.Write(ctx, "runs/beta/heartbeat.json", []byte(`{}`), 0)
	_, _ = f.Write(ctx, "runs/alpha/heartbeat.json", []byte(`{}`), 0)

	ids, err := f.ListRunIDs(ctx, "runs/")
	if err != nil {
		t.Fatalf("ListRunIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "beta" {
		t.Fatalf("expected [alpha beta], got %v", ids)
	}
}
