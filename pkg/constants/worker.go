package constants

// WorkerStatus worker record status
type WorkerStatus string

const (
	WorkerStatusProvisioning   WorkerStatus = "PROVISIONING"   // Task started, record created by the pool controller
	WorkerStatusPending        WorkerStatus = "PENDING"        // Orchestrator accepted the task, not yet running
	WorkerStatusAvailable      WorkerStatus = "AVAILABLE"      // Warm and idle, claimable
	WorkerStatusInvited        WorkerStatus = "INVITED"        // Claimed for a stage
	WorkerStatusJoined         WorkerStatus = "JOINED"         // Worker reported it joined the stage
	WorkerStatusRunning        WorkerStatus = "RUNNING"        // Orchestrator reports the task running
	WorkerStatusStopped        WorkerStatus = "STOPPED"        // Terminal, ttl set
	WorkerStatusErrored        WorkerStatus = "ERRORED"        // Worker reported an error
	WorkerStatusKicked         WorkerStatus = "KICKED"         // Evicted from its stage, ttl set
	WorkerStatusDeprovisioning WorkerStatus = "DEPROVISIONING" // Orchestrator is stopping the task
)

func (s WorkerStatus) String() string {
	return string(s)
}

// Valid reports whether s is a known worker status
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerStatusProvisioning, WorkerStatusPending, WorkerStatusAvailable,
		WorkerStatusInvited, WorkerStatusJoined, WorkerStatusRunning,
		WorkerStatusStopped, WorkerStatusErrored, WorkerStatusKicked,
		WorkerStatusDeprovisioning:
		return true
	}
	return false
}

// UnassignedStage is stored in assigned_stage_arn when a worker holds no stage
const UnassignedStage = "unassigned"

// WarmStatuses are counted against the pool bounds
var WarmStatuses = []WorkerStatus{
	WorkerStatusAvailable,
	WorkerStatusProvisioning,
	WorkerStatusPending,
	WorkerStatusRunning,
}

// ActiveStatuses are targeted by a bulk stop
var ActiveStatuses = []WorkerStatus{
	WorkerStatusAvailable,
	WorkerStatusProvisioning,
	WorkerStatusPending,
	WorkerStatusRunning,
	WorkerStatusInvited,
	WorkerStatusJoined,
}

// Update sources recorded in last_update_source
const (
	SourcePoolController   = "pool-sizing-controller"
	SourceInvitation       = "invitation-handler"
	SourceReconciler       = "task-lifecycle-reconciler"
	SourceEviction         = "eviction-handler"
	SourceWorkerSelfReport = "worker-self-report"
	SourceStopAll          = "stop-all"
)

// Worker record secondary indexes
const (
	IndexStatus        = "status"
	IndexAssignedStage = "assigned_stage"
	IndexTaskID        = "task_id"
)
