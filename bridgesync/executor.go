package bridgesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/bridge_backend/config"
	"bitbucket.org/mmdatafocus/bridge_backend/models"
	"bitbucket.org/mmdatafocus/bridge_backend/quickbooks"
)

// TargetAdapter is the write side of the accounting system. The executor
// only needs id-in, id-out plus typed errors it can classify.
type TargetAdapter interface {
	WriteEntity(ctx context.Context, req quickbooks.WriteRequest) (quickbooks.WriteResult, error)
}

// transferQueueAPI is the slice of Queue the executor drives. Narrowed to
// an interface so tests can run the drain loop against a fake queue.
type transferQueueAPI interface {
	GetEntry(ctx context.Context, id uint) (models.TransferQueueEntry, error)
	GetApprovedEntries(ctx context.Context, limit int) ([]models.TransferQueueEntry, error)
	MarkAsTransferred(ctx context.Context, id uint, targetEntityId string) (models.TransferQueueEntry, error)
	MarkAsFailed(ctx context.Context, id uint, errorMessage string, incrementRetry bool) (models.TransferQueueEntry, error)
	ExhaustRetries(ctx context.Context, id uint, errorMessage string) (models.TransferQueueEntry, error)
}

// Executor drains APPROVED queue entries against the target system.
// Entries are processed sequentially within one invocation to keep target
// write ordering predictable; overlap protection is the caller's job.
type Executor struct {
	db     *gorm.DB
	queue  transferQueueAPI
	target TargetAdapter
}

func NewExecutor(db *gorm.DB, queue transferQueueAPI, target TargetAdapter) *Executor {
	return &Executor{db: db, queue: queue, target: target}
}

// ProcessApprovedEntries applies up to maxEntries approved entries. One
// entry's failure never aborts the batch; each outcome lands in results.
func (e *Executor) ProcessApprovedEntries(ctx context.Context, maxEntries int) (ProcessResult, error) {
	started := time.Now()
	result := ProcessResult{}

	entries, err := e.queue.GetApprovedEntries(ctx, maxEntries)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			break
		}
		outcome := e.transferOne(ctx, entry)
		result.Results = append(result.Results, outcome)
		result.TotalProcessed++
		if outcome.Success {
			result.Successful++
		} else {
			result.Failed++
		}
	}

	result.Duration = time.Since(started)
	return result, nil
}

func (e *Executor) transferOne(ctx context.Context, entry models.TransferQueueEntry) (outcome TransferOutcome) {
	logger := config.GetLogger()
	outcome = TransferOutcome{
		EntryId:    entry.ID,
		EntityType: entry.EntityType,
		ExternalId: entry.ExternalId,
	}

	defer func() {
		if r := recover(); r != nil {
			message := fmt.Sprintf("panic during transfer: %v", r)
			config.LogError(logger, "bridgesync", "transferOne", "recovered",
				map[string]any{"entryId": entry.ID}, fmt.Errorf("%v", r))
			if _, markErr := e.queue.MarkAsFailed(ctx, entry.ID, message, true); markErr != nil {
				config.LogError(logger, "bridgesync", "transferOne",
					"mark failed after panic", map[string]any{"entryId": entry.ID}, markErr)
			}
			outcome.Success = false
			outcome.Error = message
		}
	}()

	writeResult, writeErr := e.target.WriteEntity(ctx, e.buildWriteRequest(ctx, entry))
	if writeErr == nil {
		if _, markErr := e.queue.MarkAsTransferred(ctx, entry.ID, writeResult.TargetId); markErr != nil {
			outcome.Error = markErr.Error()
			return outcome
		}
		if entry.ChangeKind == models.ChangeKindDeleted {
			e.markMirrorDeleted(ctx, entry)
		}
		outcome.Success = true
		outcome.TargetId = writeResult.TargetId
		return outcome
	}

	outcome.Error = writeErr.Error()
	switch quickbooks.Classify(writeErr) {
	case quickbooks.ClassPermanent:
		outcome.FailureClass = "permanent"
		if _, markErr := e.queue.ExhaustRetries(ctx, entry.ID, writeErr.Error()); markErr != nil {
			config.LogError(logger, "bridgesync", "transferOne",
				"exhaust retries", map[string]any{"entryId": entry.ID}, markErr)
		}
	case quickbooks.ClassMissingCounterparty:
		// retryable, but flagged so an operator sees it needs a data
		// fix rather than patience
		outcome.FailureClass = "counterparty_missing"
		message := "counterparty missing in target system: " + writeErr.Error()
		if _, markErr := e.queue.MarkAsFailed(ctx, entry.ID, message, true); markErr != nil {
			config.LogError(logger, "bridgesync", "transferOne",
				"mark failed", map[string]any{"entryId": entry.ID}, markErr)
		}
	case quickbooks.ClassRateLimit:
		outcome.FailureClass = "rate_limit"
		if _, markErr := e.queue.MarkAsFailed(ctx, entry.ID, writeErr.Error(), true); markErr != nil {
			config.LogError(logger, "bridgesync", "transferOne",
				"mark failed", map[string]any{"entryId": entry.ID}, markErr)
		}
	default:
		outcome.FailureClass = "transient"
		if _, markErr := e.queue.MarkAsFailed(ctx, entry.ID, writeErr.Error(), true); markErr != nil {
			config.LogError(logger, "bridgesync", "transferOne",
				"mark failed", map[string]any{"entryId": entry.ID}, markErr)
		}
	}
	return outcome
}

// markMirrorDeleted stamps the mirror row once a deletion has reached the
// target. The detector skips stamped rows, so without this the same
// disappearance would be re-emitted on every sweep.
func (e *Executor) markMirrorDeleted(ctx context.Context, entry models.TransferQueueEntry) {
	if e.db == nil {
		return
	}

	var model any
	switch entry.EntityType {
	case models.EntityTypeContact:
		model = &models.Contact{}
	case models.EntityTypeCompany:
		model = &models.Company{}
	case models.EntityTypeInvoice:
		model = &models.Invoice{}
	case models.EntityTypeLineItem:
		model = &models.LineItem{}
	default:
		return
	}

	err := e.db.WithContext(ctx).Model(model).
		Where("id = ? AND source_deleted_at IS NULL", entry.EntityId).
		Update("source_deleted_at", time.Now().UTC()).Error
	if err != nil {
		config.LogError(config.GetLogger(), "bridgesync", "markMirrorDeleted",
			"stamp deleted mirror row",
			map[string]any{"entryId": entry.ID, "entityType": entry.EntityType, "entityId": entry.EntityId}, err)
	}
}

// buildWriteRequest assembles the target payload from the mirrored entity
// row. A lookup failure degrades to a reference-only payload; the target
// adapter decides whether that is enough.
func (e *Executor) buildWriteRequest(ctx context.Context, entry models.TransferQueueEntry) quickbooks.WriteRequest {
	req := quickbooks.WriteRequest{
		EntityType: entry.EntityType,
		ExternalId: entry.ExternalId,
		Payload: map[string]any{
			"externalId": entry.ExternalId,
			"changeKind": string(entry.ChangeKind),
		},
	}
	if entry.TargetEntityId != nil {
		req.TargetEntityId = *entry.TargetEntityId
	}
	if e.db == nil {
		return req
	}

	var err error
	switch entry.EntityType {
	case models.EntityTypeContact:
		var contact models.Contact
		if err = e.db.WithContext(ctx).First(&contact, entry.EntityId).Error; err == nil {
			req.Payload["displayName"] = contact.FirstName + " " + contact.LastName
			req.Payload["email"] = contact.Email
			req.Payload["phone"] = contact.Phone
		}
	case models.EntityTypeCompany:
		var company models.Company
		if err = e.db.WithContext(ctx).First(&company, entry.EntityId).Error; err == nil {
			req.Payload["companyName"] = company.Name
			req.Payload["domain"] = company.Domain
		}
	case models.EntityTypeInvoice:
		var invoice models.Invoice
		if err = e.db.WithContext(ctx).First(&invoice, entry.EntityId).Error; err == nil {
			req.Payload["docNumber"] = invoice.InvoiceNumber
			req.Payload["totalAmount"] = invoice.TotalAmount.String()
			req.Payload["balanceDue"] = invoice.BalanceDue.String()
			req.Payload["currencyCode"] = invoice.CurrencyCode
		}
	case models.EntityTypeLineItem:
		var lineItem models.LineItem
		if err = e.db.WithContext(ctx).First(&lineItem, entry.EntityId).Error; err == nil {
			req.Payload["invoiceId"] = lineItem.InvoiceId
			req.Payload["quantity"] = lineItem.Quantity.String()
			req.Payload["unitPrice"] = lineItem.UnitPrice.String()
			req.Payload["amount"] = lineItem.Amount.String()
		}
	}
	if err != nil {
		config.LogError(config.GetLogger(), "bridgesync", "buildWriteRequest",
			"entity lookup failed, sending reference payload",
			map[string]any{"entryId": entry.ID, "entityId": entry.EntityId}, err)
	}
	return req
}

// TestSingleTransfer performs the batch path's write for exactly one entry
// without mutating queue state. Diagnostic only.
func (e *Executor) TestSingleTransfer(ctx context.Context, id uint) (TestTransferResult, error) {
	entry, err := e.queue.GetEntry(ctx, id)
	if err != nil {
		return TestTransferResult{}, err
	}

	writeResult, writeErr := e.target.WriteEntity(ctx, e.buildWriteRequest(ctx, entry))
	if writeErr != nil {
		return TestTransferResult{
			Success: false,
			Error:   writeErr.Error(),
			Details: map[string]any{
				"entityType":   entry.EntityType,
				"externalId":   entry.ExternalId,
				"status":       entry.Status,
				"failureClass": failureClassName(quickbooks.Classify(writeErr)),
			},
		}, nil
	}
	return TestTransferResult{
		Success:      true,
		QuickbooksId: writeResult.TargetId,
		Details: map[string]any{
			"entityType": entry.EntityType,
			"externalId": entry.ExternalId,
			"status":     entry.Status,
		},
	}, nil
}

func failureClassName(class quickbooks.ErrorClass) string {
	switch class {
	case quickbooks.ClassPermanent:
		return "permanent"
	case quickbooks.ClassRateLimit:
		return "rate_limit"
	case quickbooks.ClassMissingCounterparty:
		return "counterparty_missing"
	}
	return "transient"
}

// GetTransferStatistics is a pure aggregate read over the queue table.
func (e *Executor) GetTransferStatistics(ctx context.Context) (TransferStatistics, error) {
	stats := TransferStatistics{}

	err := e.db.WithContext(ctx).Model(&models.TransferQueueEntry{}).
		Where("status = ?", models.TransferStatusTransferred).
		Count(&stats.TotalTransferred).Error
	if err != nil {
		return stats, err
	}

	err = e.db.WithContext(ctx).Model(&models.TransferQueueEntry{}).
		Where("status = ?", models.TransferStatusFailed).
		Count(&stats.TotalFailed).Error
	if err != nil {
		return stats, err
	}

	var oldest models.TransferQueueEntry
	err = e.db.WithContext(ctx).
		Where("status = ?", models.TransferStatusApproved).
		Order("approved_at asc").
		First(&oldest).Error
	if err == nil {
		stats.OldestPendingTransfer = oldest.ApprovedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return stats, err
	}

	err = e.db.WithContext(ctx).
		Where("status = ?", models.TransferStatusTransferred).
		Order("transferred_at desc").
		Limit(10).
		Find(&stats.RecentTransfers).Error
	return stats, err
}

// CleanupSuccessfulTransfers deletes only TRANSFERRED entries older than
// the cutoff. Narrower than the queue's general cleanup.
func (e *Executor) CleanupSuccessfulTransfers(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	result := e.db.WithContext(ctx).
		Where("status = ? AND transferred_at < ?", models.TransferStatusTransferred, cutoff).
		Delete(&models.TransferQueueEntry{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
