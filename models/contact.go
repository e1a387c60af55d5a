package models

import "time"

// Contact mirrors a HubSpot contact. SourceModifiedAt carries the source
// system's lastmodifieddate and is what the change detector compares
// against the watermark.
type Contact struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	ExternalId       string     `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	FirstName        string     `gorm:"size:255" json:"first_name"`
	LastName         string     `gorm:"size:255" json:"last_name"`
	Email            string     `gorm:"size:255" json:"email"`
	Phone            string     `gorm:"size:64" json:"phone"`
	CompanyName      string     `gorm:"size:255" json:"company_name"`
	SourceModifiedAt time.Time  `gorm:"index;not null" json:"source_modified_at"`
	SourceDeletedAt  *time.Time `json:"source_deleted_at"`
	// Raw source payload kept for forensics only; cascade logic never
	// branches on it.
	SnapshotJSON []byte    `gorm:"type:json" json:"snapshot"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
