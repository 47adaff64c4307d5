// Package action is the engine's tagged outcome set: reconcileRun and
// TryRestart always resolve to exactly one of these, so testing them is
// exhaustive pattern matching rather than parsing free-form strings.
package action

type Action string

const (
	None                   Action = ""
	StaleFirstObservation  Action = "stale_first_observation"
	StaleVMAlive           Action = "stale_vm_alive"
	StaleVMFoundByPattern  Action = "stale_vm_found_by_pattern"
	PreemptedConfirmed     Action = "preempted_confirmed"
	Orphaned               Action = "orphaned"
	RestartingStuckRecover Action = "restarting_stuck_recovered"
	Restarted              Action = "restarted"
	RestartFailed          Action = "restart_failed"
)

// String satisfies fmt.Stringer so Action prints bare in logs and the HTTP
// actions map.
func (a Action) String() string { return string(a) }
