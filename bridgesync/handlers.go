package bridgesync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/bridge_backend/config"
	"bitbucket.org/mmdatafocus/bridge_backend/models"
	"bitbucket.org/mmdatafocus/bridge_backend/utils"
)

var validate = validator.New()

type TriggerSyncRequest struct {
	TriggeredBy string `json:"triggeredBy"`
}

type ApproveRequest struct {
	ApprovedBy string  `json:"approvedBy" validate:"required,min=1,max=128"`
	Notes      *string `json:"notes"`
}

type RejectRequest struct {
	RejectedBy string  `json:"rejectedBy" validate:"required,min=1,max=128"`
	Reason     string  `json:"reason" validate:"required,min=1"`
	Notes      *string `json:"notes"`
}

type BulkApproveRequest struct {
	Ids        []uint  `json:"ids" validate:"required,min=1,dive,min=1"`
	ApprovedBy string  `json:"approvedBy" validate:"required,min=1,max=128"`
	Notes      *string `json:"notes"`
}

type ProcessApprovedRequest struct {
	MaxEntries int `json:"maxEntries"`
}

type CleanupRequest struct {
	OlderThanDays   int  `json:"olderThanDays" validate:"required,min=1"`
	TransferredOnly bool `json:"transferredOnly"`
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, utils.ErrorRecordNotFound):
		return http.StatusNotFound
	case utils.IsInvalidState(err):
		return http.StatusConflict
	case utils.IsValidation(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func limitQuery(c *gin.Context, def, max int) int {
	limit := def
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			limit = n
		}
	}
	return limit
}

// publishRunOrFail hands the queued run to pub/sub. Nothing picks a run
// up without the message, so a publish failure marks the run failed and
// answers 502 instead of stranding it in queued.
func publishRunOrFail(c *gin.Context, db *gorm.DB, run *models.SyncRun, triggeredBy string) bool {
	publishErr := PublishSyncRun(c.Request.Context(), run.ID, triggeredBy)
	if publishErr == nil {
		return true
	}

	config.LogError(config.GetLogger(), "bridgesync", "publishRunOrFail",
		"publish sync run", map[string]any{"runId": run.ID}, publishErr)
	if updateErr := db.Model(run).Updates(map[string]any{
		"status":      models.SyncRunStatusFailed,
		"finished_at": time.Now().UTC(),
	}).Error; updateErr != nil {
		config.LogError(config.GetLogger(), "bridgesync", "publishRunOrFail",
			"mark run failed", map[string]any{"runId": run.ID}, updateErr)
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": "failed to queue sync run", "id": run.ID})
	return false
}

func TriggerSyncHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerSyncRequest
		_ = c.ShouldBindJSON(&req)

		triggeredBy := models.SyncTriggeredManual
		if req.TriggeredBy == models.SyncTriggeredSchedule {
			triggeredBy = models.SyncTriggeredSchedule
		}

		db := config.GetDB().WithContext(c.Request.Context())
		run := models.SyncRun{
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: triggeredBy,
		}
		if err := db.Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if !publishRunOrFail(c, db, &run, triggeredBy) {
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := limitQuery(c, 20, 100)
		db := config.GetDB().WithContext(c.Request.Context())

		var runs []models.SyncRun
		if err := db.Order("id desc").Limit(limit).Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": runs})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		var run models.SyncRun
		if err := db.Take(&run, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var runErrors []models.SyncRunError
		if err := db.Where("sync_run_id = ?", run.ID).Order("id asc").Find(&runErrors).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"run": run, "errors": runErrors})
	}
}

// RetrySyncRunHandler queues a follow-up run for a failed or partial run.
func RetrySyncRunHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		db := config.GetDB().WithContext(c.Request.Context())
		var run models.SyncRun
		if err := db.Take(&run, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if run.Status != models.SyncRunStatusFailed && run.Status != models.SyncRunStatusPartial {
			c.JSON(http.StatusConflict, gin.H{"error": "run is not retryable"})
			return
		}

		parentId := run.ID
		newRun := models.SyncRun{
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredRetry,
			ParentRunId: &parentId,
		}
		if err := db.Create(&newRun).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if !publishRunOrFail(c, db, &newRun, models.SyncTriggeredRetry) {
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": newRun.ID})
	}
}

func ChangesSummaryHandler(analyzer *Analyzer) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := analyzer.GetChangesSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func PendingEntriesHandler(queue *Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := limitQuery(c, 50, 200)

		var filter *models.EntityType
		if v := strings.TrimSpace(c.Query("entityType")); v != "" {
			entityType, err := models.ParseEntityType(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entity type"})
				return
			}
			filter = &entityType
		}

		entries, err := queue.GetPendingEntries(c.Request.Context(), limit, filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": entries})
	}
}

func QueueSummaryHandler(queue *Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := queue.GetQueueSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

func ApproveEntryHandler(queue *Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
			return
		}

		var req ApproveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		entry, err := queue.ApproveEntry(c.Request.Context(), uint(id), req.ApprovedBy, req.Notes)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func RejectEntryHandler(queue *Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
			return
		}

		var req RejectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		entry, err := queue.RejectEntry(c.Request.Context(), uint(id), req.RejectedBy, req.Reason, req.Notes)
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

// BulkApproveHandler reports per-id outcomes; a mixed batch answers 207.
func BulkApproveHandler(queue *Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BulkApproveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := queue.BulkApprove(c.Request.Context(), req.Ids, req.ApprovedBy, req.Notes)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		status := http.StatusOK
		if len(result.Failed) > 0 {
			status = http.StatusMultiStatus
		}
		c.JSON(status, result)
	}
}

func ApprovedEntriesHandler(queue *Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := limitQuery(c, 50, 200)
		entries, err := queue.GetApprovedEntries(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": entries})
	}
}

func ProcessApprovedHandler(executor *Executor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProcessApprovedRequest
		_ = c.ShouldBindJSON(&req)
		if req.MaxEntries <= 0 || req.MaxEntries > 200 {
			req.MaxEntries = 50
		}

		result, err := executor.ProcessApprovedEntries(c.Request.Context(), req.MaxEntries)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		status := http.StatusOK
		if result.Failed > 0 && result.Successful > 0 {
			status = http.StatusMultiStatus
		}
		c.JSON(status, result)
	}
}

func TestTransferHandler(executor *Executor) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
			return
		}

		result, err := executor.TestSingleTransfer(c.Request.Context(), uint(id))
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func TransferStatisticsHandler(executor *Executor) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := executor.GetTransferStatistics(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func RequeueRetryableHandler(queue *Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := queue.RequeueRetryable(c.Request.Context(), time.Now().UTC())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"requeued": count})
	}
}

func CleanupHandler(queue *Queue, executor *Executor) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CleanupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var (
			deleted int64
			err     error
		)
		if req.TransferredOnly {
			deleted, err = executor.CleanupSuccessfulTransfers(c.Request.Context(), req.OlderThanDays)
		} else {
			deleted, err = queue.CleanupOldEntries(c.Request.Context(), req.OlderThanDays)
		}
		if err != nil {
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}

// RegisterRoutes mounts the operator API and the push endpoint.
func RegisterRoutes(router gin.IRouter, orchestrator *Orchestrator, analyzer *Analyzer, queue *Queue, executor *Executor) {
	sync := router.Group("/sync")
	{
		sync.POST("/trigger", TriggerSyncHandler())
		sync.GET("/history", SyncHistoryHandler())
		sync.GET("/runs/:id", SyncRunDetailHandler())
		sync.POST("/runs/:id/retry", RetrySyncRunHandler())
		sync.GET("/changes-summary", ChangesSummaryHandler(analyzer))
	}

	queueGroup := router.Group("/queue")
	{
		queueGroup.GET("/pending", PendingEntriesHandler(queue))
		queueGroup.GET("/summary", QueueSummaryHandler(queue))
		queueGroup.GET("/approved", ApprovedEntriesHandler(queue))
		queueGroup.POST("/bulk-approve", BulkApproveHandler(queue))
		queueGroup.POST("/requeue-retryable", RequeueRetryableHandler(queue))
		queueGroup.POST("/cleanup", CleanupHandler(queue, executor))
		queueGroup.POST("/:id/approve", ApproveEntryHandler(queue))
		queueGroup.POST("/:id/reject", RejectEntryHandler(queue))
		queueGroup.POST("/:id/test-transfer", TestTransferHandler(executor))
	}

	transfers := router.Group("/transfers")
	{
		transfers.POST("/process", ProcessApprovedHandler(executor))
		transfers.GET("/statistics", TransferStatisticsHandler(executor))
	}

	router.POST("/pubsub/bridge-sync", PubSubPushHandler(orchestrator))
}
