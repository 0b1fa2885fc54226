package model

import "time"

// WorkerChange before/after pair for one worker record mutation.
// Before is nil for an insert, After is nil for a delete.
type WorkerChange struct {
	ID       string        `json:"id"` // Feed entry id, reported back on delivery failure
	WorkerID string        `json:"workerId"`
	Source   string        `json:"source,omitempty"`
	Before   *WorkerRecord `json:"before,omitempty"`
	After    *WorkerRecord `json:"after,omitempty"`
	At       time.Time     `json:"at"`
}

// WorkerEvent payload pushed to subscribers for a meaningful change
type WorkerEvent struct {
	EventID  string        `json:"eventId"`
	ChangeID string        `json:"changeId"`
	WorkerID string        `json:"workerId"`
	Type     string        `json:"type"` // INSERT, MODIFY, REMOVE
	Source   string        `json:"source,omitempty"`
	Before   *WorkerRecord `json:"before,omitempty"`
	After    *WorkerRecord `json:"after,omitempty"`
	At       time.Time     `json:"at"`
}

// Worker event types
const (
	WorkerEventInsert = "INSERT"
	WorkerEventModify = "MODIFY"
	WorkerEventRemove = "REMOVE"
)
