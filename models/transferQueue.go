package models

import "time"

// TransferQueueEntry is a durable work item representing one pending write
// to the target accounting system, gated by human approval. At most one
// non-terminal entry exists per (entity type, external id, target system);
// enqueue dedups against it and may raise, never lower, its priority.
type TransferQueueEntry struct {
	ID           uint           `gorm:"primary_key" json:"id"`
	EntityType   EntityType     `gorm:"index:idx_transfer_dedup,priority:1;size:32;not null" json:"entity_type"`
	EntityId     uint           `gorm:"index" json:"entity_id"`
	ExternalId   string         `gorm:"index:idx_transfer_dedup,priority:2;size:64;not null" json:"external_id"`
	TargetSystem string         `gorm:"index:idx_transfer_dedup,priority:3;size:32;not null;default:quickbooks" json:"target_system"`
	Status       TransferStatus `gorm:"index:idx_transfer_dedup,priority:4;size:20;not null" json:"status"`
	Priority     ImpactPriority `gorm:"size:16;not null" json:"priority"`
	ChangeKind   ChangeKind     `gorm:"size:16" json:"change_kind"`
	ImpactReason string         `gorm:"type:text" json:"impact_reason"`

	ValidationNotes *string    `gorm:"type:text" json:"validation_notes"`
	ApprovedBy      *string    `gorm:"size:128" json:"approved_by"`
	ApprovedAt      *time.Time `json:"approved_at"`
	RejectedBy      *string    `gorm:"size:128" json:"rejected_by"`
	RejectedAt      *time.Time `json:"rejected_at"`
	RejectionReason *string    `gorm:"type:text" json:"rejection_reason"`

	RetryCount        int        `gorm:"default:0" json:"retry_count"`
	NextRetryAt       *time.Time `gorm:"index" json:"next_retry_at"`
	TransferredAt     *time.Time `json:"transferred_at"`
	TargetEntityId    *string    `gorm:"size:64" json:"target_entity_id"`
	LastTransferError *string    `gorm:"type:text" json:"last_transfer_error"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether no further transition is possible. FAILED is
// terminal only once retries are exhausted.
func (e TransferQueueEntry) IsTerminal() bool {
	switch e.Status {
	case TransferStatusRejected, TransferStatusTransferred:
		return true
	case TransferStatusFailed:
		return e.RetryCount >= MaxTransferRetries
	}
	return false
}
