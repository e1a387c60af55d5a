package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice mirrors a HubSpot invoice object.
type Invoice struct {
	ID               uint            `gorm:"primary_key" json:"id"`
	ExternalId       string          `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	InvoiceNumber    string          `gorm:"size:64" json:"invoice_number"`
	InvoiceDate      time.Time       `json:"invoice_date"`
	DueDate          *time.Time      `json:"due_date"`
	CurrencyCode     string          `gorm:"size:8" json:"currency_code"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(20,8)" json:"total_amount"`
	BalanceDue       decimal.Decimal `gorm:"type:decimal(20,8)" json:"balance_due"`
	CurrentStatus    string          `gorm:"size:32" json:"current_status"`
	SourceModifiedAt time.Time       `gorm:"index;not null" json:"source_modified_at"`
	SourceDeletedAt  *time.Time      `json:"source_deleted_at"`
	SnapshotJSON     []byte          `gorm:"type:json" json:"snapshot"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// InvoiceContact associates an invoice with a contact. At most one contact
// per invoice carries IsPrimary, marking the main counterparty.
type InvoiceContact struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	InvoiceId uint      `gorm:"uniqueIndex:idx_invoice_contact,priority:1;not null" json:"invoice_id"`
	ContactId uint      `gorm:"uniqueIndex:idx_invoice_contact,priority:2;not null" json:"contact_id"`
	IsPrimary bool      `gorm:"default:false" json:"is_primary"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// InvoiceCompany associates an invoice with a company.
type InvoiceCompany struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	InvoiceId uint      `gorm:"uniqueIndex:idx_invoice_company,priority:1;not null" json:"invoice_id"`
	CompanyId uint      `gorm:"uniqueIndex:idx_invoice_company,priority:2;not null" json:"company_id"`
	IsPrimary bool      `gorm:"default:false" json:"is_primary"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// InvoiceTaxSummary holds the last computed tax rollup for an invoice.
// Its presence makes a line-item change produce a second critical impact
// (tax recalculation).
type InvoiceTaxSummary struct {
	ID           uint            `gorm:"primary_key" json:"id"`
	InvoiceId    uint            `gorm:"uniqueIndex;not null" json:"invoice_id"`
	TaxAmount    decimal.Decimal `gorm:"type:decimal(20,8)" json:"tax_amount"`
	TaxRate      decimal.Decimal `gorm:"type:decimal(10,6)" json:"tax_rate"`
	CalculatedAt time.Time       `json:"calculated_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
