package constants

// TaskStatus orchestrator task lifecycle status
type TaskStatus string

const (
	TaskStatusProvisioning   TaskStatus = "PROVISIONING"
	TaskStatusPending        TaskStatus = "PENDING"
	TaskStatusRunning        TaskStatus = "RUNNING"
	TaskStatusDeprovisioning TaskStatus = "DEPROVISIONING"
	TaskStatusStopped        TaskStatus = "STOPPED"
)

func (s TaskStatus) String() string {
	return string(s)
}

// Stop codes attached to STOPPED task notifications
const (
	StopCodeUserInitiated  = "UserInitiated"
	StopCodeEssentialExit  = "EssentialContainerExited"
	StopCodeTaskFailed     = "TaskFailedToStart"
	StopCodeServiceDeleted = "ServiceSchedulerInitiated"
)

// Task queue types
const (
	TaskTypeTaskStateChanged = "vpool:task-state-changed"
)
