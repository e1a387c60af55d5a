package bridgesync

import (
	"reflect"
	"testing"

	"bitbucket.org/mmdatafocus/bridge_backend/models"
)

// NOTE: These tests are intentionally DB-free. The expansion routines are
// pure functions over prefetched association data, so priority assignment
// can be validated without MySQL. The full pipeline against a real schema
// lives in bridge_sync_regression_test.go.

func TestLineItemChangeWithTaxSummaryYieldsTwoCriticalInvoiceImpacts(t *testing.T) {
	parent := &entityRef{Id: 10, ExternalId: "inv-1"}

	impacted := expandLineItemImpacts(parent, true)

	if len(impacted) != 2 {
		t.Fatalf("expected 2 impacted entries, got %d", len(impacted))
	}
	for i, entity := range impacted {
		if entity.EntityType != models.EntityTypeInvoice {
			t.Errorf("entry %d: expected invoice impact, got %s", i, entity.EntityType)
		}
		if entity.ExternalId != "inv-1" {
			t.Errorf("entry %d: expected inv-1, got %s", i, entity.ExternalId)
		}
		if entity.Priority != models.ImpactPriorityCritical {
			t.Errorf("entry %d: expected critical, got %s", i, entity.Priority)
		}
		if !entity.RequiresSync {
			t.Errorf("entry %d: expected requires-sync", i)
		}
	}
}

func TestLineItemChangeWithoutTaxSummaryYieldsOneCriticalImpact(t *testing.T) {
	parent := &entityRef{Id: 10, ExternalId: "inv-1"}

	impacted := expandLineItemImpacts(parent, false)

	if len(impacted) != 1 {
		t.Fatalf("expected 1 impacted entry, got %d", len(impacted))
	}
	if impacted[0].Priority != models.ImpactPriorityCritical {
		t.Errorf("expected critical, got %s", impacted[0].Priority)
	}
}

func TestLineItemChangeWithoutParentYieldsNoImpacts(t *testing.T) {
	if impacted := expandLineItemImpacts(nil, true); len(impacted) != 0 {
		t.Fatalf("expected no impacts, got %d", len(impacted))
	}
}

func TestInvoiceChangeImpactPriorities(t *testing.T) {
	lineItems := []entityRef{{Id: 1, ExternalId: "li-1"}, {Id: 2, ExternalId: "li-2"}}
	contacts := []entityRef{{Id: 3, ExternalId: "c-1"}}
	companies := []entityRef{{Id: 4, ExternalId: "co-1"}}

	impacted := expandInvoiceImpacts(lineItems, contacts, companies)

	if len(impacted) != 4 {
		t.Fatalf("expected 4 impacted entries, got %d", len(impacted))
	}
	for _, entity := range impacted {
		switch entity.EntityType {
		case models.EntityTypeLineItem:
			if entity.Priority != models.ImpactPriorityHigh {
				t.Errorf("line item %s: expected high, got %s", entity.ExternalId, entity.Priority)
			}
			if !entity.RequiresSync {
				t.Errorf("line item %s: expected requires-sync", entity.ExternalId)
			}
		case models.EntityTypeContact, models.EntityTypeCompany:
			if entity.Priority != models.ImpactPriorityLow {
				t.Errorf("%s %s: expected low, got %s", entity.EntityType, entity.ExternalId, entity.Priority)
			}
			if entity.RequiresSync {
				t.Errorf("%s %s: informational impact must not require sync", entity.EntityType, entity.ExternalId)
			}
		default:
			t.Errorf("unexpected impact type %s", entity.EntityType)
		}
	}
}

func TestContactChangePrimaryVsSecondary(t *testing.T) {
	associations := []invoiceAssociation{
		{
			Invoice:   entityRef{Id: 10, ExternalId: "inv-1"},
			IsPrimary: true,
			LineItems: []entityRef{{Id: 1, ExternalId: "li-1"}},
		},
		{
			Invoice:   entityRef{Id: 11, ExternalId: "inv-2"},
			IsPrimary: false,
		},
	}

	impacted := expandContactImpacts(associations)

	// primary invoice high + its line item medium + secondary invoice medium
	if len(impacted) != 3 {
		t.Fatalf("expected 3 impacted entries, got %d", len(impacted))
	}
	if impacted[0].ExternalId != "inv-1" || impacted[0].Priority != models.ImpactPriorityHigh {
		t.Errorf("primary invoice: got %s at %s", impacted[0].ExternalId, impacted[0].Priority)
	}
	if impacted[1].EntityType != models.EntityTypeLineItem || impacted[1].Priority != models.ImpactPriorityMedium {
		t.Errorf("primary contact line item: got %s at %s", impacted[1].EntityType, impacted[1].Priority)
	}
	if impacted[2].ExternalId != "inv-2" || impacted[2].Priority != models.ImpactPriorityMedium {
		t.Errorf("secondary invoice: got %s at %s", impacted[2].ExternalId, impacted[2].Priority)
	}
}

func TestSecondaryContactChangeDoesNotTouchLineItems(t *testing.T) {
	associations := []invoiceAssociation{
		{
			Invoice:   entityRef{Id: 10, ExternalId: "inv-1"},
			IsPrimary: false,
			LineItems: []entityRef{{Id: 1, ExternalId: "li-1"}},
		},
	}

	impacted := expandContactImpacts(associations)

	if len(impacted) != 1 {
		t.Fatalf("expected 1 impacted entry, got %d", len(impacted))
	}
	if impacted[0].EntityType != models.EntityTypeInvoice {
		t.Errorf("expected invoice impact only, got %s", impacted[0].EntityType)
	}
}

// A primary association whose line-item lookup came back empty keeps its
// own invoice impact; the expansion is lost for that invoice only.
func TestPrimaryAssociationWithoutLineItemsKeepsInvoiceImpact(t *testing.T) {
	associations := []invoiceAssociation{
		{
			Invoice:   entityRef{Id: 10, ExternalId: "inv-1"},
			IsPrimary: true,
		},
		{
			Invoice:   entityRef{Id: 11, ExternalId: "inv-2"},
			IsPrimary: true,
			LineItems: []entityRef{{Id: 2, ExternalId: "li-2"}},
		},
	}

	impacted := expandContactImpacts(associations)

	if len(impacted) != 3 {
		t.Fatalf("expected 3 impacted entries, got %d", len(impacted))
	}
	if impacted[0].ExternalId != "inv-1" || impacted[0].Priority != models.ImpactPriorityHigh {
		t.Errorf("bare primary invoice: got %s at %s", impacted[0].ExternalId, impacted[0].Priority)
	}
	if impacted[1].ExternalId != "inv-2" {
		t.Errorf("expected second invoice next, got %s", impacted[1].ExternalId)
	}
	if impacted[2].EntityType != models.EntityTypeLineItem || impacted[2].ExternalId != "li-2" {
		t.Errorf("expected li-2 expansion kept, got %s %s", impacted[2].EntityType, impacted[2].ExternalId)
	}
}

func TestPrimaryCompanyAssociationWithoutContactKeepsInvoiceImpact(t *testing.T) {
	associations := []invoiceAssociation{
		{
			Invoice:   entityRef{Id: 10, ExternalId: "inv-1"},
			IsPrimary: true,
		},
	}

	impacted := expandCompanyImpacts(associations)

	if len(impacted) != 1 {
		t.Fatalf("expected 1 impacted entry, got %d", len(impacted))
	}
	if impacted[0].EntityType != models.EntityTypeInvoice || impacted[0].Priority != models.ImpactPriorityHigh {
		t.Errorf("expected high invoice impact, got %s at %s", impacted[0].EntityType, impacted[0].Priority)
	}
}

func TestPrimaryCompanyChangeImpactsPrimaryContact(t *testing.T) {
	primaryContact := entityRef{Id: 3, ExternalId: "c-1"}
	associations := []invoiceAssociation{
		{
			Invoice:        entityRef{Id: 10, ExternalId: "inv-1"},
			IsPrimary:      true,
			PrimaryContact: &primaryContact,
		},
		{
			Invoice:   entityRef{Id: 11, ExternalId: "inv-2"},
			IsPrimary: false,
		},
	}

	impacted := expandCompanyImpacts(associations)

	if len(impacted) != 3 {
		t.Fatalf("expected 3 impacted entries, got %d", len(impacted))
	}
	if impacted[0].Priority != models.ImpactPriorityHigh {
		t.Errorf("primary invoice: expected high, got %s", impacted[0].Priority)
	}
	if impacted[1].EntityType != models.EntityTypeContact || impacted[1].Priority != models.ImpactPriorityMedium {
		t.Errorf("co-dependent contact: got %s at %s", impacted[1].EntityType, impacted[1].Priority)
	}
	if impacted[2].Priority != models.ImpactPriorityMedium {
		t.Errorf("secondary invoice: expected medium, got %s", impacted[2].Priority)
	}
}

func TestCascadeExpansionIsDeterministic(t *testing.T) {
	associations := []invoiceAssociation{
		{
			Invoice:   entityRef{Id: 10, ExternalId: "inv-1"},
			IsPrimary: true,
			LineItems: []entityRef{{Id: 1, ExternalId: "li-1"}, {Id: 2, ExternalId: "li-2"}},
		},
		{
			Invoice:   entityRef{Id: 11, ExternalId: "inv-2"},
			IsPrimary: false,
		},
	}

	first := expandContactImpacts(associations)
	second := expandContactImpacts(associations)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expansion is not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestCascadeDepthCountsDistinctTypes(t *testing.T) {
	impacted := []ImpactedEntity{
		{EntityType: models.EntityTypeInvoice},
		{EntityType: models.EntityTypeInvoice},
		{EntityType: models.EntityTypeLineItem},
	}
	if depth := distinctTypeCount(impacted); depth != 2 {
		t.Fatalf("expected depth 2, got %d", depth)
	}
	if depth := distinctTypeCount(nil); depth != 0 {
		t.Fatalf("expected depth 0 for empty set, got %d", depth)
	}
}
