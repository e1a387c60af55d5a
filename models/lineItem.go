package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem mirrors a HubSpot invoice line item. Billing fields may be
// derived from the invoice's primary contact on the source side, which is
// why a primary-contact change cascades down to line items.
type LineItem struct {
	ID               uint            `gorm:"primary_key" json:"id"`
	ExternalId       string          `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	InvoiceId        uint            `gorm:"index;not null" json:"invoice_id"`
	Name             string          `gorm:"size:255" json:"name"`
	Sku              string          `gorm:"size:64" json:"sku"`
	Quantity         decimal.Decimal `gorm:"type:decimal(20,8)" json:"quantity"`
	UnitPrice        decimal.Decimal `gorm:"type:decimal(20,8)" json:"unit_price"`
	Amount           decimal.Decimal `gorm:"type:decimal(20,8)" json:"amount"`
	DiscountAmount   decimal.Decimal `gorm:"type:decimal(20,8)" json:"discount_amount"`
	SourceModifiedAt time.Time       `gorm:"index;not null" json:"source_modified_at"`
	SourceDeletedAt  *time.Time      `json:"source_deleted_at"`
	SnapshotJSON     []byte          `gorm:"type:json" json:"snapshot"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
