package model

import "time"

// Stage stage session registered by the provisioning flow
type Stage struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	StageID   string    `gorm:"column:stage_id;type:varchar(255);not null;uniqueIndex"`
	StageArn  string    `gorm:"column:stage_arn;type:varchar(512);not null;uniqueIndex"`
	Endpoints JSONMap   `gorm:"column:endpoints;type:json"`
	CreatedAt time.Time `gorm:"column:created_at;type:datetime(3);not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:datetime(3);not null"`
}

func (Stage) TableName() string { return "stages" }
