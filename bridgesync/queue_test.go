package bridgesync

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/bridge_backend/models"
)

func TestTransferRetryBackoffGrowsMonotonically(t *testing.T) {
	base := 30 * time.Second
	max := 30 * time.Minute

	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		backoff := transferRetryBackoff(base, max, attempt)
		if backoff < prev {
			t.Fatalf("attempt %d: backoff %s shrank below %s", attempt, backoff, prev)
		}
		if backoff > max {
			t.Fatalf("attempt %d: backoff %s exceeds cap %s", attempt, backoff, max)
		}
		prev = backoff
	}
}

func TestTransferRetryBackoffDoublesFromBase(t *testing.T) {
	base := 30 * time.Second
	max := 30 * time.Minute

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
	}
	for _, tc := range cases {
		if got := transferRetryBackoff(base, max, tc.attempt); got != tc.want {
			t.Errorf("attempt %d: expected %s, got %s", tc.attempt, tc.want, got)
		}
	}
}

func TestTransferRetryBackoffCapped(t *testing.T) {
	base := 30 * time.Second
	max := 2 * time.Minute

	if got := transferRetryBackoff(base, max, 8); got != max {
		t.Fatalf("expected cap %s, got %s", max, got)
	}
}

func TestSourceChangePriority(t *testing.T) {
	cases := []struct {
		change EntityChange
		want   models.ImpactPriority
	}{
		{EntityChange{EntityType: models.EntityTypeContact, Kind: models.ChangeKindUpdated}, models.ImpactPriorityMedium},
		{EntityChange{EntityType: models.EntityTypeCompany, Kind: models.ChangeKindCreated}, models.ImpactPriorityMedium},
		{EntityChange{EntityType: models.EntityTypeInvoice, Kind: models.ChangeKindUpdated}, models.ImpactPriorityHigh},
		{EntityChange{EntityType: models.EntityTypeLineItem, Kind: models.ChangeKindUpdated}, models.ImpactPriorityHigh},
		{EntityChange{EntityType: models.EntityTypeContact, Kind: models.ChangeKindDeleted}, models.ImpactPriorityHigh},
	}
	for _, tc := range cases {
		if got := sourceChangePriority(tc.change); got != tc.want {
			t.Errorf("%s/%s: expected %s, got %s", tc.change.EntityType, tc.change.Kind, tc.want, got)
		}
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	ordered := []models.ImpactPriority{
		models.ImpactPriorityLow,
		models.ImpactPriorityMedium,
		models.ImpactPriorityHigh,
		models.ImpactPriorityCritical,
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Fatalf("%s must outrank %s", ordered[i], ordered[i-1])
		}
	}
}

func TestTransferEntryTerminality(t *testing.T) {
	cases := []struct {
		status     models.TransferStatus
		retryCount int
		terminal   bool
	}{
		{models.TransferStatusPendingReview, 0, false},
		{models.TransferStatusApproved, 0, false},
		{models.TransferStatusRejected, 0, true},
		{models.TransferStatusTransferred, 0, true},
		{models.TransferStatusFailed, 1, false},
		{models.TransferStatusFailed, models.MaxTransferRetries, true},
	}
	for _, tc := range cases {
		entry := models.TransferQueueEntry{Status: tc.status, RetryCount: tc.retryCount}
		if got := entry.IsTerminal(); got != tc.terminal {
			t.Errorf("%s retries=%d: expected terminal=%v, got %v", tc.status, tc.retryCount, tc.terminal, got)
		}
	}
}
