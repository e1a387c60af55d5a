package bridgesync

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/bridge_backend/config"
	"bitbucket.org/mmdatafocus/bridge_backend/models"
	"bitbucket.org/mmdatafocus/bridge_backend/utils"
)

// Queue owns the transfer queue lifecycle. Every state transition is
// guarded by the expected prior status; a transition racing against the
// executor fails with InvalidState instead of overwriting.
type Queue struct {
	db *gorm.DB

	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func NewQueue(db *gorm.DB) *Queue {
	return &Queue{
		db:          db,
		baseBackoff: time.Duration(config.IntFromEnv("TRANSFER_RETRY_BASE_BACKOFF_SECONDS", 30)) * time.Second,
		maxBackoff:  time.Duration(config.IntFromEnv("TRANSFER_RETRY_MAX_BACKOFF_SECONDS", 1800)) * time.Second,
	}
}

const reviewMinutesPerEntry = 2

// transferRetryBackoff doubles per attempt from the configured base,
// capped. The curve is tunable; only the ceiling of attempts and the
// monotonic growth of next-retry-at are load-bearing.
func transferRetryBackoff(base, max time.Duration, retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	backoff := base
	for i := 1; i < retryCount; i++ {
		backoff *= 2
		if backoff >= max {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}

// Enqueue converts cascade impacts into queue entries. An existing
// PENDING_REVIEW or APPROVED entry for the same (entity type, external id,
// target system) is reused; its priority may be raised, never lowered.
// Impacted entities with requires-sync false are informational and are not
// enqueued.
func (q *Queue) Enqueue(ctx context.Context, impacts []CascadeImpact) (EnqueueResult, error) {
	started := time.Now()
	result := EnqueueResult{}

	type candidate struct {
		entityType models.EntityType
		entityId   uint
		externalId string
		priority   models.ImpactPriority
		changeKind models.ChangeKind
		reason     string
		cascade    bool
	}

	candidates := make([]candidate, 0, len(impacts))
	for _, impact := range impacts {
		candidates = append(candidates, candidate{
			entityType: impact.Source.EntityType,
			entityId:   impact.Source.EntityId,
			externalId: impact.Source.ExternalId,
			priority:   sourceChangePriority(impact.Source),
			changeKind: impact.Source.Kind,
			reason:     "source entity " + string(impact.Source.Kind),
		})
		for _, entity := range impact.Impacted {
			if !entity.RequiresSync {
				continue
			}
			candidates = append(candidates, candidate{
				entityType: entity.EntityType,
				entityId:   entity.EntityId,
				externalId: entity.ExternalId,
				priority:   entity.Priority,
				changeKind: models.ChangeKindUpdated,
				reason:     entity.Reason,
				cascade:    true,
			})
		}
	}

	type dedupKey struct {
		entityType models.EntityType
		externalId string
	}
	created := make(map[dedupKey]*models.TransferQueueEntry)
	logger := config.GetLogger()

	// A candidate that cannot be persisted is recorded and skipped; one
	// bad row must not take down the rest of the batch. The caller holds
	// the watermark back for the affected type so the row comes around
	// again on the next sweep.
	fail := func(cand candidate, cause error) {
		result.Failed = append(result.Failed, EnqueueFailure{
			EntityType: cand.entityType,
			ExternalId: cand.externalId,
			Reason:     cause.Error(),
		})
		config.LogError(logger, "bridgesync", "Enqueue",
			"failed to persist queue candidate",
			map[string]any{"entityType": cand.entityType, "externalId": cand.externalId}, cause)
	}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		key := dedupKey{cand.entityType, cand.externalId}

		if entry, ok := created[key]; ok {
			if cand.priority.Rank() > entry.Priority.Rank() {
				if err := q.db.WithContext(ctx).Model(entry).
					Update("priority", cand.priority).Error; err != nil {
					fail(cand, err)
					continue
				}
				entry.Priority = cand.priority
			}
			continue
		}

		var existing models.TransferQueueEntry
		err := q.db.WithContext(ctx).
			Where("entity_type = ? AND external_id = ? AND target_system = ? AND status IN ?",
				cand.entityType, cand.externalId, models.TargetSystemQuickBooks,
				[]models.TransferStatus{models.TransferStatusPendingReview, models.TransferStatusApproved}).
			First(&existing).Error
		switch {
		case err == nil:
			if cand.priority.Rank() > existing.Priority.Rank() {
				if updateErr := q.db.WithContext(ctx).Model(&existing).
					Update("priority", cand.priority).Error; updateErr != nil {
					fail(cand, updateErr)
					continue
				}
				existing.Priority = cand.priority
			}
			created[key] = &existing
			continue
		case errors.Is(err, gorm.ErrRecordNotFound):
			// falls through to insert
		default:
			fail(cand, err)
			continue
		}

		entry := models.TransferQueueEntry{
			EntityType:   cand.entityType,
			EntityId:     cand.entityId,
			ExternalId:   cand.externalId,
			TargetSystem: models.TargetSystemQuickBooks,
			Status:       models.TransferStatusPendingReview,
			Priority:     cand.priority,
			ChangeKind:   cand.changeKind,
			ImpactReason: cand.reason,
		}
		if err := q.db.WithContext(ctx).Create(&entry).Error; err != nil {
			fail(cand, err)
			continue
		}
		created[key] = &entry
		if cand.cascade {
			result.CascadeEntriesAdded++
		} else {
			result.NewEntries++
		}
		if cand.priority.Rank() >= models.ImpactPriorityHigh.Rank() {
			result.HighPriorityEntries++
		}
	}

	result.ProcessingDuration = time.Since(started)
	return result, nil
}

// sourceChangePriority ranks the triggering change itself. Financial
// records and inferred deletions go straight to high; root entity edits
// are medium.
func sourceChangePriority(change EntityChange) models.ImpactPriority {
	if change.Kind == models.ChangeKindDeleted {
		return models.ImpactPriorityHigh
	}
	switch change.EntityType {
	case models.EntityTypeInvoice, models.EntityTypeLineItem:
		return models.ImpactPriorityHigh
	}
	return models.ImpactPriorityMedium
}

func (q *Queue) GetEntry(ctx context.Context, id uint) (models.TransferQueueEntry, error) {
	var entry models.TransferQueueEntry
	err := q.db.WithContext(ctx).First(&entry, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.TransferQueueEntry{}, utils.ErrorRecordNotFound
	}
	return entry, err
}

func (q *Queue) GetPendingEntries(ctx context.Context, limit int, entityTypeFilter *models.EntityType) ([]models.TransferQueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := q.db.WithContext(ctx).
		Where("status = ?", models.TransferStatusPendingReview)
	if entityTypeFilter != nil {
		query = query.Where("entity_type = ?", *entityTypeFilter)
	}
	var entries []models.TransferQueueEntry
	err := query.
		Order("CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END, created_at asc").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (q *Queue) GetQueueSummary(ctx context.Context) (QueueSummary, error) {
	var pending int64
	err := q.db.WithContext(ctx).Model(&models.TransferQueueEntry{}).
		Where("status = ?", models.TransferStatusPendingReview).
		Count(&pending).Error
	if err != nil {
		return QueueSummary{}, err
	}
	return QueueSummary{
		TotalPendingReview:         pending,
		EstimatedReviewTimeMinutes: pending * reviewMinutesPerEntry,
	}, nil
}

// ApproveEntry transitions PENDING_REVIEW to APPROVED. The status guard is
// enforced twice: on the read for a precise error, and again in the UPDATE
// predicate so a concurrent transition loses cleanly.
func (q *Queue) ApproveEntry(ctx context.Context, id uint, approvedBy string, notes *string) (models.TransferQueueEntry, error) {
	entry, err := q.GetEntry(ctx, id)
	if err != nil {
		return models.TransferQueueEntry{}, err
	}
	if entry.Status != models.TransferStatusPendingReview {
		return models.TransferQueueEntry{}, utils.NewInvalidStateError("transfer queue entry", string(entry.Status), "approve")
	}

	now := time.Now().UTC()
	update := q.db.WithContext(ctx).Model(&models.TransferQueueEntry{}).
		Where("id = ? AND status = ?", id, models.TransferStatusPendingReview).
		Updates(map[string]any{
			"status":           models.TransferStatusApproved,
			"approved_by":      approvedBy,
			"approved_at":      now,
			"validation_notes": notes,
		})
	if update.Error != nil {
		return models.TransferQueueEntry{}, update.Error
	}
	if update.RowsAffected == 0 {
		return models.TransferQueueEntry{}, utils.NewInvalidStateError("transfer queue entry", string(entry.Status), "approve")
	}
	return q.GetEntry(ctx, id)
}

// RejectEntry transitions PENDING_REVIEW to REJECTED. A reason is
// mandatory and validated before any state is touched.
func (q *Queue) RejectEntry(ctx context.Context, id uint, rejectedBy string, reason string, notes *string) (models.TransferQueueEntry, error) {
	if reason == "" {
		return models.TransferQueueEntry{}, utils.NewValidationError("reason", "rejection requires a reason")
	}
	entry, err := q.GetEntry(ctx, id)
	if err != nil {
		return models.TransferQueueEntry{}, err
	}
	if entry.Status != models.TransferStatusPendingReview {
		return models.TransferQueueEntry{}, utils.NewInvalidStateError("transfer queue entry", string(entry.Status), "reject")
	}

	now := time.Now().UTC()
	update := q.db.WithContext(ctx).Model(&models.TransferQueueEntry{}).
		Where("id = ? AND status = ?", id, models.TransferStatusPendingReview).
		Updates(map[string]any{
			"status":           models.TransferStatusRejected,
			"rejected_by":      rejectedBy,
			"rejected_at":      now,
			"rejection_reason": reason,
			"validation_notes": notes,
		})
	if update.Error != nil {
		return models.TransferQueueEntry{}, update.Error
	}
	if update.RowsAffected == 0 {
		return models.TransferQueueEntry{}, utils.NewInvalidStateError("transfer queue entry", string(entry.Status), "reject")
	}
	return q.GetEntry(ctx, id)
}

// BulkApprove approves ids one by one. A failing id is recorded and the
// batch continues; the caller decides how to signal partial failure.
func (q *Queue) BulkApprove(ctx context.Context, ids []uint, approvedBy string, notes *string) (BulkApproveResult, error) {
	result := BulkApproveResult{TotalProcessed: len(ids)}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := q.ApproveEntry(ctx, id, approvedBy, notes); err != nil {
			result.Failed = append(result.Failed, BulkApproveFailure{Id: id, Reason: err.Error()})
			continue
		}
		result.SuccessfullyApproved++
	}
	return result, nil
}

func (q *Queue) GetApprovedEntries(ctx context.Context, limit int) ([]models.TransferQueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.TransferQueueEntry
	err := q.db.WithContext(ctx).
		Where("status = ?", models.TransferStatusApproved).
		Order("approved_at asc").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// MarkAsTransferred finalizes a successful write. Legal only from APPROVED.
func (q *Queue) MarkAsTransferred(ctx context.Context, id uint, targetEntityId string) (models.TransferQueueEntry, error) {
	entry, err := q.GetEntry(ctx, id)
	if err != nil {
		return models.TransferQueueEntry{}, err
	}
	if entry.Status != models.TransferStatusApproved {
		return models.TransferQueueEntry{}, utils.NewInvalidStateError("transfer queue entry", string(entry.Status), "mark transferred")
	}

	now := time.Now().UTC()
	update := q.db.WithContext(ctx).Model(&models.TransferQueueEntry{}).
		Where("id = ? AND status = ?", id, models.TransferStatusApproved).
		Updates(map[string]any{
			"status":              models.TransferStatusTransferred,
			"transferred_at":      now,
			"target_entity_id":    targetEntityId,
			"last_transfer_error": nil,
		})
	if update.Error != nil {
		return models.TransferQueueEntry{}, update.Error
	}
	if update.RowsAffected == 0 {
		return models.TransferQueueEntry{}, utils.NewInvalidStateError("transfer queue entry", string(entry.Status), "mark transferred")
	}
	return q.GetEntry(ctx, id)
}

// MarkAsFailed records a transfer failure. With incrementRetry the retry
// count advances toward the ceiling and next-retry-at is scheduled with
// exponential backoff; at the ceiling the entry stays FAILED with no
// automatic retry. next-retry-at never moves earlier than a previously
// scheduled value.
func (q *Queue) MarkAsFailed(ctx context.Context, id uint, errorMessage string, incrementRetry bool) (models.TransferQueueEntry, error) {
	entry, err := q.GetEntry(ctx, id)
	if err != nil {
		return models.TransferQueueEntry{}, err
	}
	if entry.Status != models.TransferStatusApproved && entry.Status != models.TransferStatusFailed {
		return models.TransferQueueEntry{}, utils.NewInvalidStateError("transfer queue entry", string(entry.Status), "mark failed")
	}

	retryCount := entry.RetryCount
	if incrementRetry && retryCount < models.MaxTransferRetries {
		retryCount++
	}

	var nextRetryAt *time.Time
	if retryCount < models.MaxTransferRetries {
		at := time.Now().UTC().Add(transferRetryBackoff(q.baseBackoff, q.maxBackoff, retryCount))
		if entry.NextRetryAt != nil && entry.NextRetryAt.After(at) {
			at = *entry.NextRetryAt
		}
		nextRetryAt = &at
	}

	update := q.db.WithContext(ctx).Model(&models.TransferQueueEntry{}).
		Where("id = ? AND status IN ?", id,
			[]models.TransferStatus{models.TransferStatusApproved, models.TransferStatusFailed}).
		Updates(map[string]any{
			"status":              models.TransferStatusFailed,
			"retry_count":         retryCount,
			"next_retry_at":       nextRetryAt,
			"last_transfer_error": errorMessage,
		})
	if update.Error != nil {
		return models.TransferQueueEntry{}, update.Error
	}
	if update.RowsAffected == 0 {
		return models.TransferQueueEntry{}, utils.NewInvalidStateError("transfer queue entry", string(entry.Status), "mark failed")
	}
	return q.GetEntry(ctx, id)
}

// ExhaustRetries forces the retry count to the ceiling in one step. Used
// for permanent failures that must not be retried to exhaustion.
func (q *Queue) ExhaustRetries(ctx context.Context, id uint, errorMessage string) (models.TransferQueueEntry, error) {
	entry, err := q.GetEntry(ctx, id)
	if err != nil {
		return models.TransferQueueEntry{}, err
	}
	if entry.Status != models.TransferStatusApproved && entry.Status != models.TransferStatusFailed {
		return models.TransferQueueEntry{}, utils.NewInvalidStateError("transfer queue entry", string(entry.Status), "exhaust retries")
	}

	update := q.db.WithContext(ctx).Model(&models.TransferQueueEntry{}).
		Where("id = ? AND status IN ?", id,
			[]models.TransferStatus{models.TransferStatusApproved, models.TransferStatusFailed}).
		Updates(map[string]any{
			"status":              models.TransferStatusFailed,
			"retry_count":         models.MaxTransferRetries,
			"next_retry_at":       nil,
			"last_transfer_error": errorMessage,
		})
	if update.Error != nil {
		return models.TransferQueueEntry{}, update.Error
	}
	if update.RowsAffected == 0 {
		return models.TransferQueueEntry{}, utils.NewInvalidStateError("transfer queue entry", string(entry.Status), "exhaust retries")
	}
	return q.GetEntry(ctx, id)
}

// RequeueRetryable moves FAILED entries whose backoff has elapsed back to
// APPROVED so the executor picks them up again. Entries at the retry
// ceiling are never touched.
func (q *Queue) RequeueRetryable(ctx context.Context, now time.Time) (int64, error) {
	update := q.db.WithContext(ctx).Model(&models.TransferQueueEntry{}).
		Where("status = ? AND retry_count < ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?",
			models.TransferStatusFailed, models.MaxTransferRetries, now).
		Updates(map[string]any{
			"status":        models.TransferStatusApproved,
			"next_retry_at": nil,
		})
	if update.Error != nil {
		return 0, update.Error
	}
	return update.RowsAffected, nil
}

// CleanupOldEntries deletes terminal entries older than the cutoff.
// PENDING_REVIEW and APPROVED rows are never deleted regardless of age,
// and FAILED rows survive while retries remain.
func (q *Queue) CleanupOldEntries(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, utils.NewValidationError("olderThanDays", "must be positive")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	result := q.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Where("status IN ? OR (status = ? AND retry_count >= ?)",
			[]models.TransferStatus{models.TransferStatusRejected, models.TransferStatusTransferred},
			models.TransferStatusFailed, models.MaxTransferRetries).
		Delete(&models.TransferQueueEntry{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
