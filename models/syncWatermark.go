package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// SyncWatermark marks the boundary "everything before this timestamp has
// already been synchronized" for one entity type. Created on the first
// successful detection run, updated after every run, never deleted.
type SyncWatermark struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	EntityType       EntityType `gorm:"uniqueIndex;size:32;not null" json:"entity_type"`
	LastSyncAt       *time.Time `json:"last_sync_at"`
	EntityCount      int        `json:"entity_count"`
	ErrorCount       int        `json:"error_count"`
	LastErrorMessage *string    `gorm:"type:text" json:"last_error_message"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncEpoch is the far-past sentinel used when no watermark exists yet,
// guaranteeing a full first sync.
var SyncEpoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// GetWatermarkTime returns the effective "since" boundary for an entity
// type. A missing or never-synced watermark yields SyncEpoch.
func GetWatermarkTime(ctx context.Context, db *gorm.DB, entityType EntityType) (time.Time, error) {
	var wm SyncWatermark
	err := db.WithContext(ctx).Where("entity_type = ?", entityType).Take(&wm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SyncEpoch, nil
		}
		return SyncEpoch, err
	}
	if wm.LastSyncAt == nil {
		return SyncEpoch, nil
	}
	return *wm.LastSyncAt, nil
}

// CommitWatermark upserts the watermark row for an entity type after a run.
// The sync boundary never moves backward: an older syncedAt leaves
// LastSyncAt untouched while counters still update.
func CommitWatermark(ctx context.Context, db *gorm.DB, entityType EntityType, syncedAt time.Time, entityCount int, errorCount int, lastError *string) error {
	var wm SyncWatermark
	err := db.WithContext(ctx).Where("entity_type = ?", entityType).Take(&wm).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		wm = SyncWatermark{
			EntityType:       entityType,
			LastSyncAt:       &syncedAt,
			EntityCount:      entityCount,
			ErrorCount:       errorCount,
			LastErrorMessage: lastError,
		}
		return db.WithContext(ctx).Create(&wm).Error
	}

	updates := map[string]interface{}{
		"entity_count":       entityCount,
		"error_count":        errorCount,
		"last_error_message": lastError,
	}
	if wm.LastSyncAt == nil || syncedAt.After(*wm.LastSyncAt) {
		updates["last_sync_at"] = syncedAt
	}
	return db.WithContext(ctx).Model(&wm).Updates(updates).Error
}
