package bridgesync

import (
	"context"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/bridge_backend/config"
	"bitbucket.org/mmdatafocus/bridge_backend/models"
)

// SourceLister exposes the read side of the CRM used for deletion
// inference. The mirror tables carry the modification timestamps, so pure
// watermark comparison never needs the network; only the id listing does.
type SourceLister interface {
	GetAll(ctx context.Context, entityType models.EntityType) ([]models.SourceEntity, error)
}

// Detector finds entities modified since the per-type watermark by scanning
// the mirror tables. Deletion is inferred: a local row whose external id no
// longer appears in the source listing is treated as deleted.
type Detector struct {
	db         *gorm.DB
	source     SourceLister
	batchSize  int
	batchDelay time.Duration
}

func NewDetector(db *gorm.DB, source SourceLister) *Detector {
	return &Detector{
		db:         db,
		source:     source,
		batchSize:  config.IntFromEnv("DETECTOR_BATCH_SIZE", 200),
		batchDelay: time.Duration(config.IntFromEnv("DETECTOR_BATCH_DELAY_MS", 100)) * time.Millisecond,
	}
}

// localRecord is the narrow projection of a mirror row that change
// classification needs.
type localRecord struct {
	Id               uint
	ExternalId       string
	SourceModifiedAt time.Time
	CreatedAt        time.Time
	SourceDeletedAt  *time.Time
}

// DetectChanges returns every change for entityType since its watermark.
// A type that has never synced falls back to the epoch sentinel, so the
// first run reports the full mirror as created.
func (d *Detector) DetectChanges(ctx context.Context, entityType models.EntityType) ([]EntityChange, error) {
	logger := config.GetLogger()

	since, err := models.GetWatermarkTime(ctx, d.db, entityType)
	if err != nil {
		return nil, err
	}

	records, err := d.loadRecords(ctx, entityType)
	if err != nil {
		return nil, err
	}

	// Listing failure only disables deletion inference for this sweep;
	// created/updated detection still proceeds from the mirror.
	var sourceIds map[string]bool
	if d.source != nil {
		entities, listErr := d.source.GetAll(ctx, entityType)
		if listErr != nil {
			config.LogError(logger, "bridgesync", "DetectChanges",
				"source listing failed, skipping deletion inference",
				map[string]any{"entityType": entityType}, listErr)
		} else {
			sourceIds = make(map[string]bool, len(entities))
			for _, entity := range entities {
				sourceIds[entity.Id] = true
			}
		}
	}

	changes := make([]EntityChange, 0, len(records))
	now := time.Now().UTC()
	for start := 0; start < len(records); start += d.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := minInt(start+d.batchSize, len(records))
		changes = append(changes, changesFromRecords(entityType, records[start:end], since, sourceIds, now)...)
		if end < len(records) && d.batchDelay > 0 {
			time.Sleep(d.batchDelay)
		}
	}

	logger.WithFields(map[string]any{
		"entityType": entityType,
		"since":      since,
		"records":    len(records),
		"changes":    len(changes),
	}).Info("change detection finished")

	return changes, nil
}

func (d *Detector) loadRecords(ctx context.Context, entityType models.EntityType) ([]localRecord, error) {
	var records []localRecord
	query := d.db.WithContext(ctx)
	switch entityType {
	case models.EntityTypeContact:
		query = query.Model(&models.Contact{})
	case models.EntityTypeCompany:
		query = query.Model(&models.Company{})
	case models.EntityTypeInvoice:
		query = query.Model(&models.Invoice{})
	case models.EntityTypeLineItem:
		query = query.Model(&models.LineItem{})
	default:
		return nil, models.ErrUnknownEntityType(string(entityType))
	}
	err := query.
		Select("id", "external_id", "source_modified_at", "created_at", "source_deleted_at").
		Order("source_modified_at asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// changesFromRecords classifies a slice of mirror rows against the
// watermark. It is deterministic over its inputs: same rows, same
// watermark, same listing, same output.
func changesFromRecords(entityType models.EntityType, records []localRecord, since time.Time, sourceIds map[string]bool, now time.Time) []EntityChange {
	changes := make([]EntityChange, 0)
	for _, record := range records {
		if record.SourceDeletedAt != nil {
			continue
		}
		if sourceIds != nil && !sourceIds[record.ExternalId] {
			changes = append(changes, EntityChange{
				EntityType: entityType,
				EntityId:   record.Id,
				ExternalId: record.ExternalId,
				Kind:       models.ChangeKindDeleted,
				ModifiedAt: now,
			})
			continue
		}
		if record.SourceModifiedAt.Before(since) {
			continue
		}
		kind := models.ChangeKindUpdated
		if !record.CreatedAt.Before(since) {
			kind = models.ChangeKindCreated
		}
		changes = append(changes, EntityChange{
			EntityType: entityType,
			EntityId:   record.Id,
			ExternalId: record.ExternalId,
			Kind:       kind,
			ModifiedAt: record.SourceModifiedAt,
		})
	}
	return changes
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
