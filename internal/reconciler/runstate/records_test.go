package runstate

import (
	"encoding/json"
	"testing"

	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/transitions"
)

func TestStateRecordPreservesUnknownFieldsThroughRoundTrip(t *testing.T) {
	raw := []byte(`{
		"state": "RUNNING",
		"prev_state": "",
		"state_version": 1,
		"owner_id": "owner-1",
		"instance_name": "vm-1",
		"zone": "us-central1-a",
		"attempt": 0,
		"updated_at": "2026-07-31T12:00:00Z",
		"updated_by": "vm",
		"reason": "heartbeat",
		"history": [],
		"worker_version": "3.2.1",
		"gpu_model": "a100"
	}`)

	var rec StateRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(rec.Extra) != 2 {
		t.Fatalf("Extra = %v, want 2 unknown fields", rec.Extra)
	}
	if _, ok := rec.Extra["worker_version"]; !ok {
		t.Fatal("expected worker_version preserved in Extra")
	}

	out, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var roundTripped map[string]json.RawMessage
	if err := json.Unmarshal(out, &roundTripped); err != nil {
		t.Fatalf("Unmarshal roundtrip: %v", err)
	}
	if _, ok := roundTripped["worker_version"]; !ok {
		t.Fatal("worker_version dropped on re-marshal")
	}
	if _, ok := roundTripped["gpu_model"]; !ok {
		t.Fatal("gpu_model dropped on re-marshal")
	}
}

func TestKnownFieldsWinOverExtraOnMarshal(t *testing.T) {
	rec := StateRecord{
		State: transitions.State("RUNNING"),
		Extra: map[string]json.RawMessage{
			"state": json.RawMessage(`"SHOULD_NOT_WIN"`),
		},
	}
	out, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]json.RawMessage
	json.Unmarshal(out, &decoded)
	if string(decoded["state"]) != `"RUNNING"` {
		t.Fatalf("state = %s, want known struct field to win over Extra", decoded["state"])
	}
}

func TestAppendHistoryTrimsToTwentyEntries(t *testing.T) {
	var rec StateRecord
	for i := 0; i < 25; i++ {
		rec.AppendHistory(HistoryEntry{Reason: "tick"})
	}
	if len(rec.History) != maxHistory {
		t.Fatalf("len(History) = %d, want %d", len(rec.History), maxHistory)
	}
}

func TestRestartConfigZonesFallsBackToLegacyZone(t *testing.T) {
	cfg := RestartConfig{Zone: "us-east1-b"}
	if got := cfg.Zones(); len(got) != 1 || got[0] != "us-east1-b" {
		t.Fatalf("Zones() = %v, want [us-east1-b]", got)
	}

	cfg = RestartConfig{FallbackZones: []string{"us-east1-b", "us-east1-c"}, Zone: "us-east1-a"}
	got := cfg.Zones()
	if len(got) != 2 || got[0] != "us-east1-b" {
		t.Fatalf("Zones() = %v, want fallback_zones to take precedence", got)
	}
}

func TestRestartConfigRestartMaxDefaultsToThree(t *testing.T) {
	var cfg RestartConfig
	if got := cfg.RestartMax(); got != 3 {
		t.Fatalf("RestartMax() = %d, want 3", got)
	}
	cfg.AutoRestartMax = 5
	if got := cfg.RestartMax(); got != 5 {
		t.Fatalf("RestartMax() = %d, want 5", got)
	}
}

func TestRestartEnabledFlagRequiresNonNilTimestamp(t *testing.T) {
	var flag *RestartEnabledFlag
	if flag.Enabled() {
		t.Fatal("nil flag must not be enabled")
	}
	flag = &RestartEnabledFlag{}
	if flag.Enabled() {
		t.Fatal("flag with nil enabled_at must not be enabled")
	}
	enabledAt := "2026-07-31T12:00:00Z"
	flag = &RestartEnabledFlag{EnabledAt: &enabledAt}
	if !flag.Enabled() {
		t.Fatal("flag with non-nil enabled_at must be enabled")
	}
}
