package models

import (
	"log"

	"bitbucket.org/mmdatafocus/bridge_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Contact{}, &Company{},
		&Invoice{}, &InvoiceContact{}, &InvoiceCompany{}, &InvoiceTaxSummary{},
		&LineItem{},
		&SyncWatermark{}, &SyncRun{}, &SyncRunError{},
		&TransferQueueEntry{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
