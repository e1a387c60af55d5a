package bridgesync

import (
	"context"
	"errors"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/bridge_backend/models"
	"bitbucket.org/mmdatafocus/bridge_backend/quickbooks"
	"bitbucket.org/mmdatafocus/bridge_backend/utils"
)

// fakeQueue implements transferQueueAPI in memory with the same status
// guards as the real queue.
type fakeQueue struct {
	entries map[uint]*models.TransferQueueEntry
}

func newFakeQueue(entries ...models.TransferQueueEntry) *fakeQueue {
	q := &fakeQueue{entries: map[uint]*models.TransferQueueEntry{}}
	for i := range entries {
		entry := entries[i]
		q.entries[entry.ID] = &entry
	}
	return q
}

func (q *fakeQueue) GetEntry(ctx context.Context, id uint) (models.TransferQueueEntry, error) {
	entry, ok := q.entries[id]
	if !ok {
		return models.TransferQueueEntry{}, utils.ErrorRecordNotFound
	}
	return *entry, nil
}

func (q *fakeQueue) GetApprovedEntries(ctx context.Context, limit int) ([]models.TransferQueueEntry, error) {
	var approved []models.TransferQueueEntry
	for id := uint(1); len(approved) < limit && id <= uint(len(q.entries)); id++ {
		if entry, ok := q.entries[id]; ok && entry.Status == models.TransferStatusApproved {
			approved = append(approved, *entry)
		}
	}
	return approved, nil
}

func (q *fakeQueue) MarkAsTransferred(ctx context.Context, id uint, targetEntityId string) (models.TransferQueueEntry, error) {
	entry, ok := q.entries[id]
	if !ok {
		return models.TransferQueueEntry{}, utils.ErrorRecordNotFound
	}
	if entry.Status != models.TransferStatusApproved {
		return models.TransferQueueEntry{}, utils.NewInvalidStateError("transfer queue entry", string(entry.Status), "mark transferred")
	}
	entry.Status = models.TransferStatusTransferred
	entry.TargetEntityId = &targetEntityId
	return *entry, nil
}

func (q *fakeQueue) MarkAsFailed(ctx context.Context, id uint, errorMessage string, incrementRetry bool) (models.TransferQueueEntry, error) {
	entry, ok := q.entries[id]
	if !ok {
		return models.TransferQueueEntry{}, utils.ErrorRecordNotFound
	}
	if entry.Status != models.TransferStatusApproved && entry.Status != models.TransferStatusFailed {
		return models.TransferQueueEntry{}, utils.NewInvalidStateError("transfer queue entry", string(entry.Status), "mark failed")
	}
	entry.Status = models.TransferStatusFailed
	if incrementRetry && entry.RetryCount < models.MaxTransferRetries {
		entry.RetryCount++
	}
	entry.LastTransferError = &errorMessage
	return *entry, nil
}

func (q *fakeQueue) ExhaustRetries(ctx context.Context, id uint, errorMessage string) (models.TransferQueueEntry, error) {
	entry, ok := q.entries[id]
	if !ok {
		return models.TransferQueueEntry{}, utils.ErrorRecordNotFound
	}
	entry.Status = models.TransferStatusFailed
	entry.RetryCount = models.MaxTransferRetries
	entry.NextRetryAt = nil
	entry.LastTransferError = &errorMessage
	return *entry, nil
}

// fakeTarget answers per external id so one batch can mix outcomes.
type fakeTarget struct {
	errByExternalId map[string]error
	calls           int
}

func (f *fakeTarget) WriteEntity(ctx context.Context, req quickbooks.WriteRequest) (quickbooks.WriteResult, error) {
	f.calls++
	if err, ok := f.errByExternalId[req.ExternalId]; ok && err != nil {
		return quickbooks.WriteResult{}, err
	}
	return quickbooks.WriteResult{TargetId: "qb-" + req.ExternalId}, nil
}

func approvedEntry(id uint, externalId string) models.TransferQueueEntry {
	return models.TransferQueueEntry{
		ID:           id,
		EntityType:   models.EntityTypeInvoice,
		ExternalId:   externalId,
		TargetSystem: models.TargetSystemQuickBooks,
		Status:       models.TransferStatusApproved,
		Priority:     models.ImpactPriorityCritical,
	}
}

func TestProcessApprovedEntriesSuccessPath(t *testing.T) {
	queue := newFakeQueue(approvedEntry(1, "inv-1"))
	executor := NewExecutor(nil, queue, &fakeTarget{})

	result, err := executor.ProcessApprovedEntries(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessApprovedEntries: %v", err)
	}
	if result.TotalProcessed != 1 || result.Successful != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	entry, _ := queue.GetEntry(context.Background(), 1)
	if entry.Status != models.TransferStatusTransferred {
		t.Errorf("expected TRANSFERRED, got %s", entry.Status)
	}
	if entry.TargetEntityId == nil || *entry.TargetEntityId != "qb-inv-1" {
		t.Errorf("expected recorded target id, got %v", entry.TargetEntityId)
	}
	if entry.RetryCount != 0 {
		t.Errorf("success must not touch retry count, got %d", entry.RetryCount)
	}
}

func TestProcessApprovedEntriesOneFailureDoesNotAbortBatch(t *testing.T) {
	queue := newFakeQueue(approvedEntry(1, "inv-1"), approvedEntry(2, "inv-2"), approvedEntry(3, "inv-3"))
	target := &fakeTarget{errByExternalId: map[string]error{
		"inv-2": &quickbooks.TransientError{Cause: errors.New("connection reset")},
	}}
	executor := NewExecutor(nil, queue, target)

	result, err := executor.ProcessApprovedEntries(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessApprovedEntries: %v", err)
	}
	if result.TotalProcessed != 3 || result.Successful != 2 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	failed, _ := queue.GetEntry(context.Background(), 2)
	if failed.Status != models.TransferStatusFailed || failed.RetryCount != 1 {
		t.Errorf("inv-2: expected FAILED with 1 retry, got %s/%d", failed.Status, failed.RetryCount)
	}
	for _, id := range []uint{1, 3} {
		entry, _ := queue.GetEntry(context.Background(), id)
		if entry.Status != models.TransferStatusTransferred {
			t.Errorf("entry %d: expected TRANSFERRED, got %s", id, entry.Status)
		}
	}
}

func TestAuthErrorExhaustsRetriesImmediately(t *testing.T) {
	queue := newFakeQueue(approvedEntry(1, "inv-1"))
	target := &fakeTarget{errByExternalId: map[string]error{
		"inv-1": &quickbooks.AuthError{StatusCode: 401, Body: "token expired"},
	}}
	executor := NewExecutor(nil, queue, target)

	result, err := executor.ProcessApprovedEntries(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessApprovedEntries: %v", err)
	}
	if result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Results[0].FailureClass != "permanent" {
		t.Errorf("expected permanent failure class, got %s", result.Results[0].FailureClass)
	}

	entry, _ := queue.GetEntry(context.Background(), 1)
	if entry.RetryCount != models.MaxTransferRetries {
		t.Errorf("auth failure must hit the retry ceiling at once, got %d", entry.RetryCount)
	}
	if !entry.IsTerminal() {
		t.Error("entry must be terminal after an auth failure")
	}
}

func TestMissingCounterpartyIsFlaggedDistinctly(t *testing.T) {
	queue := newFakeQueue(approvedEntry(1, "inv-1"))
	target := &fakeTarget{errByExternalId: map[string]error{
		"inv-1": &quickbooks.NotFoundError{Body: "customer does not exist"},
	}}
	executor := NewExecutor(nil, queue, target)

	result, err := executor.ProcessApprovedEntries(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessApprovedEntries: %v", err)
	}
	if result.Results[0].FailureClass != "counterparty_missing" {
		t.Errorf("expected counterparty_missing, got %s", result.Results[0].FailureClass)
	}

	entry, _ := queue.GetEntry(context.Background(), 1)
	if entry.RetryCount != 1 {
		t.Errorf("missing counterparty stays retryable, got %d retries", entry.RetryCount)
	}
	if entry.LastTransferError == nil || !strings.Contains(*entry.LastTransferError, "counterparty missing") {
		t.Errorf("failure detail must flag the missing counterparty, got %v", entry.LastTransferError)
	}
}

func TestRateLimitIsRetryable(t *testing.T) {
	queue := newFakeQueue(approvedEntry(1, "inv-1"))
	target := &fakeTarget{errByExternalId: map[string]error{
		"inv-1": &quickbooks.RateLimitError{Body: "throttled"},
	}}
	executor := NewExecutor(nil, queue, target)

	result, err := executor.ProcessApprovedEntries(context.Background(), 10)
	if err != nil {
		t.Fatalf("ProcessApprovedEntries: %v", err)
	}
	if result.Results[0].FailureClass != "rate_limit" {
		t.Errorf("expected rate_limit, got %s", result.Results[0].FailureClass)
	}

	entry, _ := queue.GetEntry(context.Background(), 1)
	if entry.IsTerminal() {
		t.Error("rate limited entry must stay retryable")
	}
}

func TestTestSingleTransferDoesNotMutateQueue(t *testing.T) {
	queue := newFakeQueue(approvedEntry(1, "inv-1"))
	executor := NewExecutor(nil, queue, &fakeTarget{})

	result, err := executor.TestSingleTransfer(context.Background(), 1)
	if err != nil {
		t.Fatalf("TestSingleTransfer: %v", err)
	}
	if !result.Success || result.QuickbooksId != "qb-inv-1" {
		t.Fatalf("unexpected result: %+v", result)
	}

	entry, _ := queue.GetEntry(context.Background(), 1)
	if entry.Status != models.TransferStatusApproved {
		t.Errorf("dry run must not change status, got %s", entry.Status)
	}
	if entry.RetryCount != 0 || entry.TargetEntityId != nil {
		t.Errorf("dry run mutated the entry: %+v", entry)
	}
}

func TestTestSingleTransferUnknownEntry(t *testing.T) {
	executor := NewExecutor(nil, newFakeQueue(), &fakeTarget{})

	_, err := executor.TestSingleTransfer(context.Background(), 99)
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestProcessApprovedEntriesStopsOnCancel(t *testing.T) {
	queue := newFakeQueue(approvedEntry(1, "inv-1"), approvedEntry(2, "inv-2"))
	target := &fakeTarget{}
	executor := NewExecutor(nil, queue, target)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := executor.ProcessApprovedEntries(ctx, 10)
	if err != nil {
		t.Fatalf("ProcessApprovedEntries: %v", err)
	}
	if result.TotalProcessed != 0 || target.calls != 0 {
		t.Fatalf("cancelled run must not process entries: %+v, calls=%d", result, target.calls)
	}
}
