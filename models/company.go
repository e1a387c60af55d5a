package models

import "time"

// Company mirrors a HubSpot company record.
type Company struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	ExternalId       string     `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	Name             string     `gorm:"size:255;not null" json:"name"`
	Domain           string     `gorm:"size:255" json:"domain"`
	Phone            string     `gorm:"size:64" json:"phone"`
	City             string     `gorm:"size:128" json:"city"`
	Country          string     `gorm:"size:128" json:"country"`
	SourceModifiedAt time.Time  `gorm:"index;not null" json:"source_modified_at"`
	SourceDeletedAt  *time.Time `json:"source_deleted_at"`
	SnapshotJSON     []byte     `gorm:"type:json" json:"snapshot"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
