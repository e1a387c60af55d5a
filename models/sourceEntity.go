package models

import "time"

// SourceEntity is one record as the source CRM reports it: a
// source-assigned id, a modification timestamp, and a properties bag.
// Pagination, auth and rate-limit backoff belong to the adapter; the sync
// engine only sees lists of these.
type SourceEntity struct {
	Id         string         `json:"id"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	Archived   bool           `json:"archived"`
	Properties map[string]any `json:"properties"`
}
