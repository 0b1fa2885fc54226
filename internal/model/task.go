package model

import (
	"time"

	"vpool/pkg/constants"
)

// TaskStateChange orchestrator task lifecycle notification
type TaskStateChange struct {
	TaskID     string               `json:"taskId"`
	LastStatus constants.TaskStatus `json:"lastStatus"`
	StopCode   string               `json:"stopCode,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	StoppedAt  time.Time            `json:"stoppedAt,omitempty"` // Zero unless LastStatus is STOPPED
	ObservedAt time.Time            `json:"observedAt"`
}

// TaskInfo a live task as the orchestrator reports it
type TaskInfo struct {
	TaskID    string    `json:"taskId"`
	WorkerID  string    `json:"workerId,omitempty"` // Identity injected at launch, empty if the task carries none
	CreatedAt time.Time `json:"createdAt"`
}
