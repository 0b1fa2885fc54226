package constants

// K8s label keys
const (
	LabelManagedBy = "managed-by"      // Manager identifier
	LabelComponent = "component"       // Component type
	LabelWorkerID  = "vpool/worker-id" // Worker record id

	ManagedByVpool     = "vpool"
	ComponentWorker    = "virtual-participant"
	AnnotationReason   = "vpool/stop-reason"
	AnnotationStopCode = "vpool/stop-code"
)

// Pod phase constants (from K8s)
const (
	PodPhaseRunning   = "Running"
	PodPhasePending   = "Pending"
	PodPhaseSucceeded = "Succeeded"
	PodPhaseFailed    = "Failed"
	PodPhaseUnknown   = "Unknown"
)

// Env injected into every worker container
const (
	EnvWorkerID = "WORKER_ID"
	EnvTaskRole = "TASK_ROLE"

	TaskRoleVirtualParticipant = "virtual-participant"
)
