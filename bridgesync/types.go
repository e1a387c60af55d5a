package bridgesync

import (
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/bridge_backend/models"
)

// EntityChange is one detected change. It is a detection result, not a
// persisted record; durability starts at the transfer queue.
type EntityChange struct {
	EntityType models.EntityType `json:"entityType"`
	EntityId   uint              `json:"entityId"`
	ExternalId string            `json:"externalId"`
	Kind       models.ChangeKind `json:"kind"`
	ModifiedAt time.Time         `json:"modifiedAt"`
	Snapshot   map[string]any    `json:"snapshot,omitempty"`
}

// ImpactedEntity is one dependent entity whose cached data went stale
// because of a source change. Reason is operator-facing free text.
type ImpactedEntity struct {
	EntityType   models.EntityType     `json:"entityType"`
	EntityId     uint                  `json:"entityId"`
	ExternalId   string                `json:"externalId"`
	Reason       string                `json:"reason"`
	RequiresSync bool                  `json:"requiresSync"`
	Priority     models.ImpactPriority `json:"priority"`
}

// CascadeImpact is the full expansion of one source change through the
// entity dependency graph. CascadeDepth counts distinct entity types
// touched; it is a coarse severity signal, not a graph depth.
type CascadeImpact struct {
	Source        EntityChange     `json:"source"`
	Impacted      []ImpactedEntity `json:"impacted"`
	ImpactedCount int              `json:"impactedCount"`
	CascadeDepth  int              `json:"cascadeDepth"`
}

// TypeChangesSummary aggregates pending changes for one entity type.
type TypeChangesSummary struct {
	EntityType          models.EntityType `json:"entityType"`
	ChangeCount         int64             `json:"changeCount"`
	MostRecentChange    *time.Time        `json:"mostRecentChange"`
	CriticalCount       int64             `json:"criticalCount"`
	EstimatedSyncMillis int64             `json:"estimatedSyncMillis"`
}

type ChangesSummary struct {
	Types       []TypeChangesSummary `json:"types"`
	GeneratedAt time.Time            `json:"generatedAt"`
}

// EnqueueFailure records one candidate that could not be persisted. The
// batch continues past it; callers must treat the batch as partial and
// hold back the watermark so the candidate is re-detected.
type EnqueueFailure struct {
	EntityType models.EntityType `json:"entityType"`
	ExternalId string            `json:"externalId"`
	Reason     string            `json:"reason"`
}

type EnqueueResult struct {
	NewEntries          int              `json:"newEntries"`
	CascadeEntriesAdded int              `json:"cascadeEntriesAdded"`
	HighPriorityEntries int              `json:"highPriorityEntries"`
	Failed              []EnqueueFailure `json:"failed,omitempty"`
	ProcessingDuration  time.Duration    `json:"processingDuration"`
}

type QueueSummary struct {
	TotalPendingReview         int64 `json:"totalPendingReview"`
	EstimatedReviewTimeMinutes int64 `json:"estimatedReviewTimeMinutes"`
}

type BulkApproveFailure struct {
	Id     uint   `json:"id"`
	Reason string `json:"reason"`
}

type BulkApproveResult struct {
	TotalProcessed       int                  `json:"totalProcessed"`
	SuccessfullyApproved int                  `json:"successfullyApproved"`
	Failed               []BulkApproveFailure `json:"failed"`
}

// TransferOutcome records how one queue entry fared during an executor run.
type TransferOutcome struct {
	EntryId      uint              `json:"entryId"`
	EntityType   models.EntityType `json:"entityType"`
	ExternalId   string            `json:"externalId"`
	Success      bool              `json:"success"`
	TargetId     string            `json:"targetId,omitempty"`
	Error        string            `json:"error,omitempty"`
	FailureClass string            `json:"failureClass,omitempty"`
}

type ProcessResult struct {
	TotalProcessed int               `json:"totalProcessed"`
	Successful     int               `json:"successful"`
	Failed         int               `json:"failed"`
	Duration       time.Duration     `json:"duration"`
	Results        []TransferOutcome `json:"results"`
}

// TestTransferResult is the dry-run diagnostic outcome. The queue entry is
// never mutated on this path.
type TestTransferResult struct {
	Success      bool           `json:"success"`
	QuickbooksId string         `json:"quickbooksId,omitempty"`
	Error        string         `json:"error,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

type TransferStatistics struct {
	TotalTransferred      int64                       `json:"totalTransferred"`
	TotalFailed           int64                       `json:"totalFailed"`
	OldestPendingTransfer *time.Time                  `json:"oldestPendingTransfer"`
	RecentTransfers       []models.TransferQueueEntry `json:"recentTransfers"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type SyncPubSubPayload struct {
	RunId       uint   `json:"run_id"`
	TriggeredBy string `json:"triggered_by"`
}

func DecodeSyncPayload(raw []byte) (SyncPubSubPayload, bool) {
	var payload SyncPubSubPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return SyncPubSubPayload{}, false
	}
	return payload, payload.RunId != 0
}
