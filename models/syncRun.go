package models

import "time"

// SyncRun is the audit record of one orchestrator invocation.
type SyncRun struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	Status          string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy     string     `gorm:"size:20" json:"triggered_by"`
	StatsJSON       []byte     `gorm:"type:json" json:"stats"`
	RecordsDetected int        `json:"records_detected"`
	RecordsEnqueued int        `json:"records_enqueued"`
	ErrorCount      int        `json:"error_count"`
	ParentRunId     *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	DurationMs      int64      `json:"duration_ms"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncRunError records one unit's failure inside a run; the sweep always
// continues past it.
type SyncRunError struct {
	ID          uint       `gorm:"primary_key" json:"id"`
	SyncRunId   uint       `gorm:"index;not null" json:"sync_run_id"`
	EntityType  EntityType `gorm:"size:32" json:"entity_type"`
	ExternalId  string     `gorm:"size:64" json:"external_id"`
	ErrorCode   string     `gorm:"size:64" json:"error_code"`
	Message     string     `gorm:"type:text" json:"message"`
	PayloadJSON []byte     `gorm:"type:json" json:"payload"`
	Retryable   bool       `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}
