package bridgesync

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/bridge_backend/models"
)

func detectorRecord(id uint, externalId string, modified, created time.Time) localRecord {
	return localRecord{Id: id, ExternalId: externalId, SourceModifiedAt: modified, CreatedAt: created}
}

func TestChangesFromRecordsFullSyncAtEpoch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []localRecord{
		detectorRecord(1, "c-1", now.Add(-48*time.Hour), now.Add(-48*time.Hour)),
		detectorRecord(2, "c-2", now.Add(-24*time.Hour), now.Add(-24*time.Hour)),
	}

	changes := changesFromRecords(models.EntityTypeContact, records, models.SyncEpoch, nil, now)

	if len(changes) != 2 {
		t.Fatalf("expected every record on first sync, got %d of %d", len(changes), len(records))
	}
	for _, change := range changes {
		if change.Kind != models.ChangeKindCreated {
			t.Errorf("%s: first sync should report created, got %s", change.ExternalId, change.Kind)
		}
	}
}

func TestChangesFromRecordsFiltersByWatermark(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	watermark := now.Add(-6 * time.Hour)
	records := []localRecord{
		detectorRecord(1, "c-old", now.Add(-48*time.Hour), now.Add(-72*time.Hour)),
		detectorRecord(2, "c-new", now.Add(-1*time.Hour), now.Add(-72*time.Hour)),
		detectorRecord(3, "c-fresh", now.Add(-30*time.Minute), now.Add(-30*time.Minute)),
	}

	changes := changesFromRecords(models.EntityTypeContact, records, watermark, nil, now)

	if len(changes) != 2 {
		t.Fatalf("expected 2 changes past the watermark, got %d", len(changes))
	}
	if changes[0].ExternalId != "c-new" || changes[0].Kind != models.ChangeKindUpdated {
		t.Errorf("c-new: got %s/%s", changes[0].ExternalId, changes[0].Kind)
	}
	if changes[1].ExternalId != "c-fresh" || changes[1].Kind != models.ChangeKindCreated {
		t.Errorf("c-fresh: got %s/%s", changes[1].ExternalId, changes[1].Kind)
	}
	for _, change := range changes {
		if change.ModifiedAt.Before(watermark) {
			t.Errorf("%s: modification timestamp before watermark", change.ExternalId)
		}
	}
}

func TestChangesFromRecordsInfersDeletion(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	watermark := now.Add(-6 * time.Hour)
	records := []localRecord{
		detectorRecord(1, "c-kept", now.Add(-1*time.Hour), now.Add(-72*time.Hour)),
		detectorRecord(2, "c-gone", now.Add(-48*time.Hour), now.Add(-72*time.Hour)),
	}
	sourceIds := map[string]bool{"c-kept": true}

	changes := changesFromRecords(models.EntityTypeContact, records, watermark, sourceIds, now)

	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	var deleted *EntityChange
	for i := range changes {
		if changes[i].Kind == models.ChangeKindDeleted {
			deleted = &changes[i]
		}
	}
	if deleted == nil {
		t.Fatal("expected a deletion for c-gone")
	}
	if deleted.ExternalId != "c-gone" {
		t.Errorf("expected c-gone deleted, got %s", deleted.ExternalId)
	}
	if deleted.ModifiedAt.Before(watermark) {
		t.Error("deletion timestamp must not precede the watermark")
	}
}

func TestChangesFromRecordsSkipsSoftDeletedRows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deletedAt := now.Add(-2 * time.Hour)
	records := []localRecord{
		{Id: 1, ExternalId: "c-1", SourceModifiedAt: now.Add(-1 * time.Hour), CreatedAt: now.Add(-72 * time.Hour), SourceDeletedAt: &deletedAt},
	}

	changes := changesFromRecords(models.EntityTypeContact, records, models.SyncEpoch, nil, now)

	if len(changes) != 0 {
		t.Fatalf("already-deleted rows must not re-emit changes, got %d", len(changes))
	}
}

func TestChangesFromRecordsNoRecordsNoError(t *testing.T) {
	changes := changesFromRecords(models.EntityTypeInvoice, nil, models.SyncEpoch, nil, time.Now().UTC())
	if len(changes) != 0 {
		t.Fatalf("expected empty result, got %d", len(changes))
	}
}
