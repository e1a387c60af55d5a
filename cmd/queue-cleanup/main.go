package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/bridge_backend/bridgesync"
	"bitbucket.org/mmdatafocus/bridge_backend/config"
	"bitbucket.org/mmdatafocus/bridge_backend/models"
)

// queue-cleanup deletes terminal transfer queue entries past their
// retention window. PENDING_REVIEW and APPROVED entries are never touched
// regardless of age.
//
// Dry-run (default): show counts only
//   go run ./cmd/queue-cleanup -dry-run=true
//
// Execute:
//   go run ./cmd/queue-cleanup -dry-run=false -confirm=DELETE
func main() {
	retentionDays := flag.Int("retention-days", config.IntFromEnv("QUEUE_RETENTION_DAYS", 90), "Age cutoff for terminal entries")
	transferredDays := flag.Int("transferred-retention-days", config.IntFromEnv("TRANSFERRED_RETENTION_DAYS", 30), "Age cutoff for TRANSFERRED entries")
	dryRun := flag.Bool("dry-run", true, "Count only (no deletes)")
	confirm := flag.String("confirm", "", "Type DELETE to proceed when dry-run=false")
	flag.Parse()

	if *retentionDays <= 0 || *transferredDays <= 0 {
		fmt.Fprintln(os.Stderr, "retention windows must be positive")
		os.Exit(1)
	}
	if !*dryRun && strings.TrimSpace(*confirm) != "DELETE" {
		fmt.Fprintln(os.Stderr, "set --confirm=DELETE to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	ctx := context.Background()

	if *dryRun {
		generalCutoff := time.Now().UTC().AddDate(0, 0, -*retentionDays)
		transferredCutoff := time.Now().UTC().AddDate(0, 0, -*transferredDays)

		var terminal, transferred int64
		if err := db.Model(&models.TransferQueueEntry{}).
			Where("created_at < ?", generalCutoff).
			Where("status IN ? OR (status = ? AND retry_count >= ?)",
				[]models.TransferStatus{models.TransferStatusRejected, models.TransferStatusTransferred},
				models.TransferStatusFailed, models.MaxTransferRetries).
			Count(&terminal).Error; err != nil {
			fmt.Fprintf(os.Stderr, "count failed: %v\n", err)
			os.Exit(1)
		}
		if err := db.Model(&models.TransferQueueEntry{}).
			Where("status = ? AND transferred_at < ?", models.TransferStatusTransferred, transferredCutoff).
			Count(&transferred).Error; err != nil {
			fmt.Fprintf(os.Stderr, "count failed: %v\n", err)
			os.Exit(1)
		}
		logger.WithFields(logrus.Fields{
			"terminalOlderThanRetention":    terminal,
			"transferredOlderThanRetention": transferred,
		}).Info("dry run, nothing deleted")
		return
	}

	queue := bridgesync.NewQueue(db)
	executor := bridgesync.NewExecutor(db, queue, nil)

	deletedTransferred, err := executor.CleanupSuccessfulTransfers(ctx, *transferredDays)
	if err != nil {
		fmt.Fprintf(os.Stderr, "transferred cleanup failed: %v\n", err)
		os.Exit(1)
	}
	deletedTerminal, err := queue.CleanupOldEntries(ctx, *retentionDays)
	if err != nil {
		fmt.Fprintf(os.Stderr, "general cleanup failed: %v\n", err)
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{
		"deletedTransferred": deletedTransferred,
		"deletedTerminal":    deletedTerminal,
	}).Info("queue cleanup finished")
}
