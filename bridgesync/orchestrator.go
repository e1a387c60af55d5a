package bridgesync

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/bridge_backend/config"
	"bitbucket.org/mmdatafocus/bridge_backend/models"
	"bitbucket.org/mmdatafocus/bridge_backend/utils"
)

const syncLockScope = "bridge-sync-run"

// Orchestrator runs the full pipeline for one scheduled invocation:
// detect per entity type, expand each change's cascade, enqueue, then
// commit watermarks. A type's watermark moves only once every candidate
// from its sweep has been persisted, so a crash or partial batch
// re-detects on the next run and the queue's dedup absorbs the
// duplicates.
type Orchestrator struct {
	db       *gorm.DB
	detector *Detector
	analyzer *Analyzer
	queue    *Queue
}

func NewOrchestrator(db *gorm.DB, detector *Detector, analyzer *Analyzer, queue *Queue) *Orchestrator {
	return &Orchestrator{db: db, detector: detector, analyzer: analyzer, queue: queue}
}

type typeSweepResult struct {
	EntityType      models.EntityType `json:"entityType"`
	ChangesDetected int               `json:"changesDetected"`
	Errors          int               `json:"errors"`
	WatermarkMoved  bool              `json:"watermarkMoved"`
}

// RunSync executes the pipeline for the given queued run. A second
// invocation while one is in flight skips without error; the run stays
// queued for the next trigger.
func (o *Orchestrator) RunSync(ctx context.Context, runId uint) error {
	logger := config.GetLogger()

	lock, err := utils.SingleFlightLock(ctx, syncLockScope, 15*time.Minute, "bridgesync", "RunSync")
	if err != nil {
		if errors.Is(err, utils.ErrorLockNotObtained) {
			logger.WithFields(map[string]any{"runId": runId}).
				Warn("sync already in flight, skipping")
			return nil
		}
		return err
	}
	defer func() {
		if releaseErr := lock.Release(context.Background()); releaseErr != nil {
			config.LogError(logger, "bridgesync", "RunSync", "lock release", nil, releaseErr)
		}
	}()

	var run models.SyncRun
	if err := o.db.WithContext(ctx).First(&run, runId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorRecordNotFound
		}
		return err
	}
	if run.Status != models.SyncRunStatusQueued {
		logger.WithFields(map[string]any{"runId": runId, "status": run.Status}).
			Info("run already processed, skipping")
		return nil
	}

	startedAt := time.Now().UTC()
	if err := o.db.WithContext(ctx).Model(&run).Updates(map[string]any{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	var (
		enqueueResult  EnqueueResult
		sweepResults   []typeSweepResult
		totalDetected  int
		totalErrors    int
		typeStartTimes = make(map[models.EntityType]time.Time)
		typeDetected   = make(map[models.EntityType]int)
		typeErrors     = make(map[models.EntityType]int)
		typeLastError  = make(map[models.EntityType]*string)
		typeSucceeded  = make(map[models.EntityType]bool)
	)

	for _, entityType := range models.AllEntityTypes() {
		if err := ctx.Err(); err != nil {
			break
		}
		typeStartTimes[entityType] = time.Now().UTC()

		changes, detectErr := o.detector.DetectChanges(ctx, entityType)
		if detectErr != nil {
			totalErrors++
			typeErrors[entityType]++
			message := detectErr.Error()
			typeLastError[entityType] = &message
			o.recordRunError(ctx, run.ID, entityType, "", "DETECTION_FAILED", detectErr, true)
			continue
		}
		typeDetected[entityType] = len(changes)
		totalDetected += len(changes)

		impacts := make([]CascadeImpact, 0, len(changes))
		for _, change := range changes {
			impact, analyzeErr := o.analyzer.AnalyzeCascadeImpact(ctx, change)
			if analyzeErr != nil {
				totalErrors++
				typeErrors[entityType]++
				o.recordRunError(ctx, run.ID, entityType, change.ExternalId, "CASCADE_FAILED", analyzeErr, true)
				// the source change itself still gets enqueued
				impact = CascadeImpact{Source: change}
			}
			impacts = append(impacts, impact)
		}

		// Enqueue per type so a partial batch pins this type's watermark
		// and only this type's. Unpersisted candidates are re-detected on
		// the next sweep; the queue's dedup absorbs everything that did
		// make it in.
		enqueueOk := true
		if len(impacts) > 0 {
			typeResult, enqueueErr := o.queue.Enqueue(ctx, impacts)
			enqueueResult.NewEntries += typeResult.NewEntries
			enqueueResult.CascadeEntriesAdded += typeResult.CascadeEntriesAdded
			enqueueResult.HighPriorityEntries += typeResult.HighPriorityEntries
			enqueueResult.Failed = append(enqueueResult.Failed, typeResult.Failed...)
			if enqueueErr != nil {
				enqueueOk = false
				totalErrors++
				typeErrors[entityType]++
				message := enqueueErr.Error()
				typeLastError[entityType] = &message
				o.recordRunError(ctx, run.ID, entityType, "", "ENQUEUE_FAILED", enqueueErr, true)
			}
			for _, failure := range typeResult.Failed {
				enqueueOk = false
				totalErrors++
				typeErrors[entityType]++
				message := failure.Reason
				typeLastError[entityType] = &message
				o.recordRunError(ctx, run.ID, failure.EntityType, failure.ExternalId,
					"ENQUEUE_FAILED", errors.New(failure.Reason), true)
			}
		}
		typeSucceeded[entityType] = enqueueOk
	}

	for _, entityType := range models.AllEntityTypes() {
		moved := false
		if typeSucceeded[entityType] {
			commitErr := models.CommitWatermark(ctx, o.db, entityType, typeStartTimes[entityType],
				typeDetected[entityType], typeErrors[entityType], typeLastError[entityType])
			if commitErr != nil {
				totalErrors++
				o.recordRunError(ctx, run.ID, entityType, "", "WATERMARK_COMMIT_FAILED", commitErr, true)
			} else {
				moved = true
			}
		}
		sweepResults = append(sweepResults, typeSweepResult{
			EntityType:      entityType,
			ChangesDetected: typeDetected[entityType],
			Errors:          typeErrors[entityType],
			WatermarkMoved:  moved,
		})
	}

	status := models.SyncRunStatusSuccess
	if totalErrors > 0 {
		status = models.SyncRunStatusPartial
		if totalDetected == 0 {
			status = models.SyncRunStatusFailed
		}
	}

	stats := map[string]any{
		"types":               sweepResults,
		"newEntries":          enqueueResult.NewEntries,
		"cascadeEntries":      enqueueResult.CascadeEntriesAdded,
		"highPriorityEntries": enqueueResult.HighPriorityEntries,
		"enqueueFailures":     len(enqueueResult.Failed),
	}
	statsJSON, _ := json.Marshal(stats)

	finishedAt := time.Now().UTC()
	if err := o.db.WithContext(ctx).Model(&run).Updates(map[string]any{
		"status":           status,
		"records_detected": totalDetected,
		"records_enqueued": enqueueResult.NewEntries + enqueueResult.CascadeEntriesAdded,
		"error_count":      totalErrors,
		"stats_json":       statsJSON,
		"finished_at":      finishedAt,
		"duration_ms":      finishedAt.Sub(startedAt).Milliseconds(),
	}).Error; err != nil {
		return err
	}

	logger.WithFields(map[string]any{
		"runId":    run.ID,
		"status":   status,
		"detected": totalDetected,
		"enqueued": enqueueResult.NewEntries + enqueueResult.CascadeEntriesAdded,
		"errors":   totalErrors,
		"duration": finishedAt.Sub(startedAt).String(),
	}).Info("sync run finished")

	return nil
}

func (o *Orchestrator) recordRunError(ctx context.Context, runId uint, entityType models.EntityType, externalId string, code string, cause error, retryable bool) {
	runError := models.SyncRunError{
		SyncRunId:  runId,
		EntityType: entityType,
		ExternalId: externalId,
		ErrorCode:  code,
		Message:    cause.Error(),
		Retryable:  retryable,
	}
	if err := o.db.WithContext(ctx).Create(&runError).Error; err != nil {
		config.LogError(config.GetLogger(), "bridgesync", "recordRunError",
			"persist run error", map[string]any{"runId": runId, "code": code}, err)
	}
}
