// Package runstate models the wire-format objects under runs/<run_id>/.
// These are shared with the worker and the operator CLI: unknown
// fields are preserved on every read-modify-write of state.json so a newer
// worker's fields are never silently dropped.
package runstate

import (
	"encoding/json"

	"github.com/ixqt-ai/cloud-reconciler/internal/reconciler/transitions"
)

// HistoryEntry is one row of state.json's bounded history (I5).
type HistoryEntry struct {
	From   transitions.State `json:"from"`
	To     transitions.State `json:"to"`
	At     Timestamp         `json:"at"`
	By     transitions.Actor `json:"by"`
	Reason string            `json:"reason"`
}

const maxHistory = 20

// StateRecord is runs/<run_id>/state.json.
type StateRecord struct {
	State        transitions.State `json:"state"`
	PrevState    transitions.State `json:"prev_state"`
	StateVersion int               `json:"state_version"`
	OwnerID      string            `json:"owner_id"`
	InstanceName string            `json:"instance_name"`
	Zone         string            `json:"zone"`
	Attempt      int               `json:"attempt"`
	UpdatedAt    Timestamp         `json:"updated_at"`
	UpdatedBy    transitions.Actor `json:"updated_by"`
	Reason       string            `json:"reason"`
	History      []HistoryEntry    `json:"history"`

	Extra map[string]json.RawMessage `json:"-"`
}

// AppendHistory appends an entry and trims to the most recent 20 (I5).
func (s *StateRecord) AppendHistory(e HistoryEntry) {
	s.History = append(s.History, e)
	if len(s.History) > maxHistory {
		s.History = s.History[len(s.History)-maxHistory:]
	}
}

var stateRecordKnownKeys = []string{
	"state", "prev_state", "state_version", "owner_id", "instance_name",
	"zone", "attempt", "updated_at", "updated_by", "reason", "history",
}

func (s StateRecord) MarshalJSON() ([]byte, error) {
	type alias StateRecord
	base, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range s.Extra {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

func (s *StateRecord) UnmarshalJSON(data []byte) error {
	type alias StateRecord
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*s = StateRecord(a)

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range stateRecordKnownKeys {
		delete(raw, k)
	}
	s.Extra = raw
	return nil
}

// HeartbeatRecord is runs/<run_id>/heartbeat.json.
type HeartbeatRecord struct {
	Timestamp Timestamp `json:"timestamp"`
	Phase     string    `json:"phase"`
	UptimeSec int64     `json:"uptime_sec"`
	ExitCode  *int      `json:"exit_code,omitempty"`
}

// StaleMarker is runs/<run_id>/.reconciler_stale_seen. HeartbeatEpoch is
// kept as a string, the canonical Timestamp.String() rendering of the
// heartbeat timestamp observed, not a parsed time: the two-stage protocol
// compares it as a string against the current heartbeat's rendering.
type StaleMarker struct {
	Timestamp      Timestamp `json:"timestamp"`
	HeartbeatEpoch string    `json:"heartbeat_epoch_at_observation"`
}

// RestartConfig is runs/<run_id>/restart_config.json — read-only to the
// reconciler.
type RestartConfig struct {
	Project          string            `json:"project"`
	Image            string            `json:"image"`
	MachineType      string            `json:"machine_type"`
	FallbackZones    []string          `json:"fallback_zones"`
	Zone             string            `json:"zone"`
	ServiceAccount   string            `json:"service_account"`
	Bucket           string            `json:"bucket"`
	BootDiskSizeGB   int64             `json:"boot_disk_size_gb"`
	BootDiskType     string            `json:"boot_disk_type"`
	GPUEnabled       bool              `json:"gpu_enabled"`
	GPUType          string            `json:"gpu_type"`
	MetadataPrefix   string            `json:"metadata_prefix"`
	MetadataTemplate map[string]string `json:"metadata_template"`
	RunnerLabel      string            `json:"runner_label"`
	JobCommand       string            `json:"job_command"`
	CondaEnv         string            `json:"conda_env"`
	NotifySecret     string            `json:"notify_secret"`
	ContainerName    string            `json:"container_name"`
	Region           string            `json:"region"`
	StartupScript    string            `json:"startup_script"`
	AutoRestartMax   int               `json:"auto_restart_max"`
}

// Zones returns the ordered zone fallback list, defaulting to the single
// legacy zone field when fallback_zones is empty.
func (c RestartConfig) Zones() []string {
	if len(c.FallbackZones) > 0 {
		return c.FallbackZones
	}
	if c.Zone != "" {
		return []string{c.Zone}
	}
	return nil
}

func (c RestartConfig) RestartMax() int {
	if c.AutoRestartMax > 0 {
		return c.AutoRestartMax
	}
	return 3
}

// RestartLock is runs/<run_id>/restart.lock.
type RestartLock struct {
	Actor      string    `json:"actor"`
	Hostname   string    `json:"hostname"`
	AcquiredAt Timestamp `json:"acquired_at"`
	Attempt    int       `json:"attempt"`
	TTLSec     int       `json:"ttl_sec"`
}

// OwnerLock is runs/<run_id>/.owner.lock.
type OwnerLock struct {
	Instance string `json:"instance"`
	Zone     string `json:"zone"`
}

// RunManifest is the legacy runs/<run_id>/run_manifest.json fallback used
// when state.json lacks instance metadata.
type RunManifest struct {
	Instance string `json:"instance"`
	Zone     string `json:"zone"`
}

// RestartEnabledFlag is the bucket-global .reconciler_restart_enabled
// feature flag object.
type RestartEnabledFlag struct {
	EnabledAt *string `json:"enabled_at"`
}

// Enabled reports whether the flag object actually turns restarts on: it
// must parse and carry a non-null enabled_at.
func (f *RestartEnabledFlag) Enabled() bool {
	return f != nil && f.EnabledAt != nil
}
