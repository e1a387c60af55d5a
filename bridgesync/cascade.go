package bridgesync

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/bridge_backend/config"
	"bitbucket.org/mmdatafocus/bridge_backend/models"
)

// Analyzer expands a detected change into the set of dependent entities
// whose cached data is now stale. It reads only the locally materialized
// association tables; it never calls the source system.
type Analyzer struct {
	db *gorm.DB
}

func NewAnalyzer(db *gorm.DB) *Analyzer {
	return &Analyzer{db: db}
}

// entityRef identifies one local entity inside an impact expansion.
type entityRef struct {
	Id         uint
	ExternalId string
}

// invoiceAssociation carries everything a contact or company expansion
// needs about one associated invoice, prefetched in a single pass.
type invoiceAssociation struct {
	Invoice        entityRef
	IsPrimary      bool
	LineItems      []entityRef
	PrimaryContact *entityRef
}

// AnalyzeCascadeImpact walks the dependency graph one hop out from the
// change. Association lookups that fail degrade to "no impact for that
// association"; the analysis itself never aborts.
func (a *Analyzer) AnalyzeCascadeImpact(ctx context.Context, change EntityChange) (CascadeImpact, error) {
	logger := config.GetLogger()

	var impacted []ImpactedEntity
	switch change.EntityType {
	case models.EntityTypeLineItem:
		parent, hasTaxSummary, err := a.lineItemParent(ctx, change.EntityId)
		if err != nil {
			config.LogError(logger, "bridgesync", "AnalyzeCascadeImpact",
				"parent invoice lookup failed", map[string]any{"lineItemId": change.EntityId}, err)
		} else {
			impacted = expandLineItemImpacts(parent, hasTaxSummary)
		}
	case models.EntityTypeInvoice:
		lineItems, err := a.invoiceLineItems(ctx, change.EntityId)
		if err != nil {
			config.LogError(logger, "bridgesync", "AnalyzeCascadeImpact",
				"line item lookup failed", map[string]any{"invoiceId": change.EntityId}, err)
			lineItems = nil
		}
		contacts, err := a.invoiceContacts(ctx, change.EntityId)
		if err != nil {
			config.LogError(logger, "bridgesync", "AnalyzeCascadeImpact",
				"contact association lookup failed", map[string]any{"invoiceId": change.EntityId}, err)
			contacts = nil
		}
		companies, err := a.invoiceCompanies(ctx, change.EntityId)
		if err != nil {
			config.LogError(logger, "bridgesync", "AnalyzeCascadeImpact",
				"company association lookup failed", map[string]any{"invoiceId": change.EntityId}, err)
			companies = nil
		}
		impacted = expandInvoiceImpacts(lineItems, contacts, companies)
	case models.EntityTypeContact:
		associations, err := a.contactAssociations(ctx, change.EntityId)
		if err != nil {
			config.LogError(logger, "bridgesync", "AnalyzeCascadeImpact",
				"invoice association lookup failed", map[string]any{"contactId": change.EntityId}, err)
		} else {
			impacted = expandContactImpacts(associations)
		}
	case models.EntityTypeCompany:
		associations, err := a.companyAssociations(ctx, change.EntityId)
		if err != nil {
			config.LogError(logger, "bridgesync", "AnalyzeCascadeImpact",
				"invoice association lookup failed", map[string]any{"companyId": change.EntityId}, err)
		} else {
			impacted = expandCompanyImpacts(associations)
		}
	default:
		return CascadeImpact{}, models.ErrUnknownEntityType(string(change.EntityType))
	}

	return CascadeImpact{
		Source:        change,
		Impacted:      impacted,
		ImpactedCount: len(impacted),
		CascadeDepth:  distinctTypeCount(impacted),
	}, nil
}

// expandLineItemImpacts: the parent invoice's financial total is stale,
// always critical. A materialized tax summary adds a second critical entry
// for the required tax recalculation.
func expandLineItemImpacts(parent *entityRef, hasTaxSummary bool) []ImpactedEntity {
	if parent == nil {
		return nil
	}
	impacted := []ImpactedEntity{{
		EntityType:   models.EntityTypeInvoice,
		EntityId:     parent.Id,
		ExternalId:   parent.ExternalId,
		Reason:       "line item change left the invoice financial total stale",
		RequiresSync: true,
		Priority:     models.ImpactPriorityCritical,
	}}
	if hasTaxSummary {
		impacted = append(impacted, ImpactedEntity{
			EntityType:   models.EntityTypeInvoice,
			EntityId:     parent.Id,
			ExternalId:   parent.ExternalId,
			Reason:       "tax recalculation required, invoice carries a tax summary",
			RequiresSync: true,
			Priority:     models.ImpactPriorityCritical,
		})
	}
	return impacted
}

// expandInvoiceImpacts: line items need recalculation; the associated
// contacts and companies get informational entries only, nothing schedules
// a re-fetch for them.
func expandInvoiceImpacts(lineItems, contacts, companies []entityRef) []ImpactedEntity {
	impacted := make([]ImpactedEntity, 0, len(lineItems)+len(contacts)+len(companies))
	for _, lineItem := range lineItems {
		impacted = append(impacted, ImpactedEntity{
			EntityType:   models.EntityTypeLineItem,
			EntityId:     lineItem.Id,
			ExternalId:   lineItem.ExternalId,
			Reason:       "invoice change requires line item recalculation",
			RequiresSync: true,
			Priority:     models.ImpactPriorityHigh,
		})
	}
	for _, contact := range contacts {
		impacted = append(impacted, ImpactedEntity{
			EntityType:   models.EntityTypeContact,
			EntityId:     contact.Id,
			ExternalId:   contact.ExternalId,
			Reason:       "associated invoice changed, informational only",
			RequiresSync: false,
			Priority:     models.ImpactPriorityLow,
		})
	}
	for _, company := range companies {
		impacted = append(impacted, ImpactedEntity{
			EntityType:   models.EntityTypeCompany,
			EntityId:     company.Id,
			ExternalId:   company.ExternalId,
			Reason:       "associated invoice changed, informational only",
			RequiresSync: false,
			Priority:     models.ImpactPriorityLow,
		})
	}
	return impacted
}

// expandContactImpacts: the contact's invoices need re-sync, high when the
// contact is the primary counterparty. A primary contact change also
// touches the invoice's line items, whose billing fields may derive from
// contact data.
func expandContactImpacts(associations []invoiceAssociation) []ImpactedEntity {
	var impacted []ImpactedEntity
	for _, assoc := range associations {
		priority := models.ImpactPriorityMedium
		reason := "associated contact changed"
		if assoc.IsPrimary {
			priority = models.ImpactPriorityHigh
			reason = "primary contact changed, invoice counterparty data is stale"
		}
		impacted = append(impacted, ImpactedEntity{
			EntityType:   models.EntityTypeInvoice,
			EntityId:     assoc.Invoice.Id,
			ExternalId:   assoc.Invoice.ExternalId,
			Reason:       reason,
			RequiresSync: true,
			Priority:     priority,
		})
		if assoc.IsPrimary {
			for _, lineItem := range assoc.LineItems {
				impacted = append(impacted, ImpactedEntity{
					EntityType:   models.EntityTypeLineItem,
					EntityId:     lineItem.Id,
					ExternalId:   lineItem.ExternalId,
					Reason:       "primary contact change affects line item billing",
					RequiresSync: true,
					Priority:     models.ImpactPriorityMedium,
				})
			}
		}
	}
	return impacted
}

// expandCompanyImpacts: same invoice rule as contacts. When the company is
// primary, the invoice's primary contact is co-dependent and gets a medium
// impact of its own.
func expandCompanyImpacts(associations []invoiceAssociation) []ImpactedEntity {
	var impacted []ImpactedEntity
	for _, assoc := range associations {
		priority := models.ImpactPriorityMedium
		reason := "associated company changed"
		if assoc.IsPrimary {
			priority = models.ImpactPriorityHigh
			reason = "primary company changed, invoice counterparty data is stale"
		}
		impacted = append(impacted, ImpactedEntity{
			EntityType:   models.EntityTypeInvoice,
			EntityId:     assoc.Invoice.Id,
			ExternalId:   assoc.Invoice.ExternalId,
			Reason:       reason,
			RequiresSync: true,
			Priority:     priority,
		})
		if assoc.IsPrimary && assoc.PrimaryContact != nil {
			impacted = append(impacted, ImpactedEntity{
				EntityType:   models.EntityTypeContact,
				EntityId:     assoc.PrimaryContact.Id,
				ExternalId:   assoc.PrimaryContact.ExternalId,
				Reason:       "primary company change affects the invoice's primary contact",
				RequiresSync: true,
				Priority:     models.ImpactPriorityMedium,
			})
		}
	}
	return impacted
}

func distinctTypeCount(impacted []ImpactedEntity) int {
	seen := make(map[models.EntityType]bool, len(impacted))
	for _, entity := range impacted {
		seen[entity.EntityType] = true
	}
	return len(seen)
}

func (a *Analyzer) lineItemParent(ctx context.Context, lineItemId uint) (*entityRef, bool, error) {
	var lineItem models.LineItem
	if err := a.db.WithContext(ctx).First(&lineItem, lineItemId).Error; err != nil {
		return nil, false, err
	}
	var invoice models.Invoice
	if err := a.db.WithContext(ctx).First(&invoice, lineItem.InvoiceId).Error; err != nil {
		return nil, false, err
	}
	var taxCount int64
	if err := a.db.WithContext(ctx).Model(&models.InvoiceTaxSummary{}).
		Where("invoice_id = ?", invoice.ID).Count(&taxCount).Error; err != nil {
		return nil, false, err
	}
	return &entityRef{Id: invoice.ID, ExternalId: invoice.ExternalId}, taxCount > 0, nil
}

func (a *Analyzer) invoiceLineItems(ctx context.Context, invoiceId uint) ([]entityRef, error) {
	var lineItems []models.LineItem
	err := a.db.WithContext(ctx).
		Where("invoice_id = ? AND source_deleted_at IS NULL", invoiceId).
		Order("id asc").
		Find(&lineItems).Error
	if err != nil {
		return nil, err
	}
	refs := make([]entityRef, 0, len(lineItems))
	for _, lineItem := range lineItems {
		refs = append(refs, entityRef{Id: lineItem.ID, ExternalId: lineItem.ExternalId})
	}
	return refs, nil
}

func (a *Analyzer) invoiceContacts(ctx context.Context, invoiceId uint) ([]entityRef, error) {
	var refs []entityRef
	err := a.db.WithContext(ctx).Model(&models.Contact{}).
		Select("contacts.id, contacts.external_id").
		Joins("JOIN invoice_contacts ON invoice_contacts.contact_id = contacts.id").
		Where("invoice_contacts.invoice_id = ?", invoiceId).
		Order("contacts.id asc").
		Scan(&refs).Error
	return refs, err
}

func (a *Analyzer) invoiceCompanies(ctx context.Context, invoiceId uint) ([]entityRef, error) {
	var refs []entityRef
	err := a.db.WithContext(ctx).Model(&models.Company{}).
		Select("companies.id, companies.external_id").
		Joins("JOIN invoice_companies ON invoice_companies.company_id = companies.id").
		Where("invoice_companies.invoice_id = ?", invoiceId).
		Order("companies.id asc").
		Scan(&refs).Error
	return refs, err
}

func (a *Analyzer) contactAssociations(ctx context.Context, contactId uint) ([]invoiceAssociation, error) {
	var rows []struct {
		InvoiceId         uint
		InvoiceExternalId string
		IsPrimary         bool
	}
	err := a.db.WithContext(ctx).Model(&models.InvoiceContact{}).
		Select("invoice_contacts.invoice_id, invoices.external_id as invoice_external_id, invoice_contacts.is_primary").
		Joins("JOIN invoices ON invoices.id = invoice_contacts.invoice_id").
		Where("invoice_contacts.contact_id = ?", contactId).
		Order("invoice_contacts.invoice_id asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	associations := make([]invoiceAssociation, 0, len(rows))
	for _, row := range rows {
		assoc := invoiceAssociation{
			Invoice:   entityRef{Id: row.InvoiceId, ExternalId: row.InvoiceExternalId},
			IsPrimary: row.IsPrimary,
		}
		if row.IsPrimary {
			lineItems, lineErr := a.invoiceLineItems(ctx, row.InvoiceId)
			if lineErr != nil {
				// only this invoice loses its line-item expansion; the
				// invoice itself and the other associations stay
				config.LogError(config.GetLogger(), "bridgesync", "contactAssociations",
					"line item lookup failed, skipping expansion for invoice",
					map[string]any{"invoiceId": row.InvoiceId}, lineErr)
			} else {
				assoc.LineItems = lineItems
			}
		}
		associations = append(associations, assoc)
	}
	return associations, nil
}

func (a *Analyzer) companyAssociations(ctx context.Context, companyId uint) ([]invoiceAssociation, error) {
	var rows []struct {
		InvoiceId         uint
		InvoiceExternalId string
		IsPrimary         bool
	}
	err := a.db.WithContext(ctx).Model(&models.InvoiceCompany{}).
		Select("invoice_companies.invoice_id, invoices.external_id as invoice_external_id, invoice_companies.is_primary").
		Joins("JOIN invoices ON invoices.id = invoice_companies.invoice_id").
		Where("invoice_companies.company_id = ?", companyId).
		Order("invoice_companies.invoice_id asc").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	associations := make([]invoiceAssociation, 0, len(rows))
	for _, row := range rows {
		assoc := invoiceAssociation{
			Invoice:   entityRef{Id: row.InvoiceId, ExternalId: row.InvoiceExternalId},
			IsPrimary: row.IsPrimary,
		}
		if row.IsPrimary {
			primaryContact, contactErr := a.invoicePrimaryContact(ctx, row.InvoiceId)
			if contactErr != nil {
				config.LogError(config.GetLogger(), "bridgesync", "companyAssociations",
					"primary contact lookup failed, skipping expansion for invoice",
					map[string]any{"invoiceId": row.InvoiceId}, contactErr)
			} else {
				assoc.PrimaryContact = primaryContact
			}
		}
		associations = append(associations, assoc)
	}
	return associations, nil
}

func (a *Analyzer) invoicePrimaryContact(ctx context.Context, invoiceId uint) (*entityRef, error) {
	var ref entityRef
	result := a.db.WithContext(ctx).Model(&models.Contact{}).
		Select("contacts.id, contacts.external_id").
		Joins("JOIN invoice_contacts ON invoice_contacts.contact_id = contacts.id").
		Where("invoice_contacts.invoice_id = ? AND invoice_contacts.is_primary = ?", invoiceId, true).
		Limit(1).
		Scan(&ref)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &ref, nil
}

const changesSummaryCacheKey = "bridge:changes_summary"

// per-unit sync cost estimates in milliseconds. Line items cost more
// because every one of them drags invoice recalculation behind it.
const (
	defaultSyncMillisPerEntity  = 200
	lineItemSyncMillisPerEntity = 500
)

// GetChangesSummary aggregates pending changes per entity type. Every
// INVOICE and LINE_ITEM change counts as critical here regardless of
// per-impact priority. The result is cached briefly in Redis because the
// dashboard polls it.
func (a *Analyzer) GetChangesSummary(ctx context.Context) (ChangesSummary, error) {
	var cached ChangesSummary
	if found, err := config.GetRedisObject(changesSummaryCacheKey, &cached); err == nil && found {
		return cached, nil
	}

	summary := ChangesSummary{GeneratedAt: time.Now().UTC()}
	for _, entityType := range models.AllEntityTypes() {
		typeSummary, err := a.summarizeType(ctx, entityType)
		if err != nil {
			return ChangesSummary{}, fmt.Errorf("summarize %s: %w", entityType, err)
		}
		summary.Types = append(summary.Types, typeSummary)
	}

	if err := config.SetRedisObject(changesSummaryCacheKey, summary, 30*time.Second); err != nil {
		config.LogError(config.GetLogger(), "bridgesync", "GetChangesSummary",
			"summary cache write failed", nil, err)
	}
	return summary, nil
}

func (a *Analyzer) summarizeType(ctx context.Context, entityType models.EntityType) (TypeChangesSummary, error) {
	since, err := models.GetWatermarkTime(ctx, a.db, entityType)
	if err != nil {
		return TypeChangesSummary{}, err
	}

	pending := func() *gorm.DB {
		query := a.db.WithContext(ctx)
		switch entityType {
		case models.EntityTypeContact:
			query = query.Model(&models.Contact{})
		case models.EntityTypeCompany:
			query = query.Model(&models.Company{})
		case models.EntityTypeInvoice:
			query = query.Model(&models.Invoice{})
		case models.EntityTypeLineItem:
			query = query.Model(&models.LineItem{})
		}
		return query.Where("source_modified_at >= ? AND source_deleted_at IS NULL", since)
	}

	var changeCount int64
	if err := pending().Count(&changeCount).Error; err != nil {
		return TypeChangesSummary{}, err
	}

	var mostRecent *time.Time
	if changeCount > 0 {
		var latest time.Time
		row := pending().Select("MAX(source_modified_at)").Row()
		if err := row.Scan(&latest); err == nil {
			mostRecent = &latest
		}
	}

	perEntityMillis := int64(defaultSyncMillisPerEntity)
	criticalCount := int64(0)
	if entityType == models.EntityTypeInvoice || entityType == models.EntityTypeLineItem {
		criticalCount = changeCount
	}
	if entityType == models.EntityTypeLineItem {
		perEntityMillis = lineItemSyncMillisPerEntity
	}

	return TypeChangesSummary{
		EntityType:          entityType,
		ChangeCount:         changeCount,
		MostRecentChange:    mostRecent,
		CriticalCount:       criticalCount,
		EstimatedSyncMillis: changeCount * perEntityMillis,
	}, nil
}
