package model

import "time"

// WorkerEvent audit row for a meaningful worker record change
type WorkerEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	EventID    string    `gorm:"column:event_id;type:varchar(255);not null;uniqueIndex"`
	ChangeID   string    `gorm:"column:change_id;type:varchar(64);not null;index"`
	WorkerID   string    `gorm:"column:worker_id;type:varchar(255);not null;index:idx_worker_event_time,priority:1"`
	EventType  string    `gorm:"column:event_type;type:varchar(20);not null"`
	PrevStatus string    `gorm:"column:prev_status;type:varchar(32)"`
	Status     string    `gorm:"column:status;type:varchar(32);index:idx_status_event_time,priority:1"`
	StageArn   string    `gorm:"column:stage_arn;type:varchar(512)"`
	TaskID     string    `gorm:"column:task_id;type:varchar(255)"`
	Source     string    `gorm:"column:source;type:varchar(64)"`
	EventTime  time.Time `gorm:"column:event_time;type:datetime(3);not null;index:idx_worker_event_time,priority:2;index:idx_status_event_time,priority:2;index:idx_event_time"`
	Metadata   JSONMap   `gorm:"column:metadata;type:json"`
}

func (WorkerEvent) TableName() string { return "worker_events" }
