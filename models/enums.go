package models

import (
	"errors"
	"fmt"
)

// EntityType is the closed set of entity kinds the bridge mirrors from the
// CRM. Dependency order drives the cascade direction: CONTACT and COMPANY
// are independent roots, INVOICE depends on both, LINE_ITEM depends on
// INVOICE. A change ripples forward through this order, never backward.
type EntityType string

const (
	EntityTypeContact  EntityType = "CONTACT"
	EntityTypeCompany  EntityType = "COMPANY"
	EntityTypeInvoice  EntityType = "INVOICE"
	EntityTypeLineItem EntityType = "LINE_ITEM"
)

// AllEntityTypes returns every entity type in dependency order.
func AllEntityTypes() []EntityType {
	return []EntityType{EntityTypeContact, EntityTypeCompany, EntityTypeInvoice, EntityTypeLineItem}
}

func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(s) {
	case EntityTypeContact, EntityTypeCompany, EntityTypeInvoice, EntityTypeLineItem:
		return EntityType(s), nil
	}
	return "", errors.New("invalid entity type")
}

func ErrUnknownEntityType(value string) error {
	return fmt.Errorf("unknown entity type %q", value)
}

// ChangeKind classifies a detected change. Deletion is inferred when a
// previously known external id is absent from a source re-fetch; it is
// never observed directly.
type ChangeKind string

const (
	ChangeKindCreated ChangeKind = "created"
	ChangeKindUpdated ChangeKind = "updated"
	ChangeKindDeleted ChangeKind = "deleted"
)

// ImpactPriority drives operator attention in the review queue.
type ImpactPriority string

const (
	ImpactPriorityLow      ImpactPriority = "low"
	ImpactPriorityMedium   ImpactPriority = "medium"
	ImpactPriorityHigh     ImpactPriority = "high"
	ImpactPriorityCritical ImpactPriority = "critical"
)

// Rank orders priorities so dedup can raise but never lower one.
func (p ImpactPriority) Rank() int {
	switch p {
	case ImpactPriorityLow:
		return 1
	case ImpactPriorityMedium:
		return 2
	case ImpactPriorityHigh:
		return 3
	case ImpactPriorityCritical:
		return 4
	}
	return 0
}

// TransferStatus is the lifecycle of a transfer queue entry.
//
//	PENDING_REVIEW -> APPROVED | REJECTED     (human action only)
//	APPROVED       -> TRANSFERRED | FAILED    (executor only)
//	FAILED         -> APPROVED                (automatic, retry_count < MaxTransferRetries)
//
// REJECTED and TRANSFERRED are terminal; FAILED is terminal once retries
// are exhausted.
type TransferStatus string

const (
	TransferStatusPendingReview TransferStatus = "PENDING_REVIEW"
	TransferStatusApproved      TransferStatus = "APPROVED"
	TransferStatusRejected      TransferStatus = "REJECTED"
	TransferStatusTransferred   TransferStatus = "TRANSFERRED"
	TransferStatusFailed        TransferStatus = "FAILED"
)

// MaxTransferRetries is the hard ceiling of transfer attempts for one queue
// entry. After the third failure the entry stays FAILED and must be
// resolved manually.
const MaxTransferRetries = 3

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual   = "manual"
	SyncTriggeredSchedule = "schedule"
	SyncTriggeredRetry    = "retry"
)

// TargetSystemQuickBooks is currently the only transfer target. The column
// stays open for future targets.
const TargetSystemQuickBooks = "quickbooks"
