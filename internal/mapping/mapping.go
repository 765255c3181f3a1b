package mapping

import "github.com/syncforge/crmsync/internal/apptype"

// Kind classifies how a source field is stored.
type Kind int

const (
	// Text stores the raw value as a string column.
	Text Kind = iota
	// Number stores the value as a REAL column.
	Number
	// Timestamp parses the value (epoch millis or common layouts) into a
	// DATETIME column.
	Timestamp
	// Bool stores the value as an INTEGER 0/1 column.
	Bool
	// Select translates the value through the options table into a JSON
	// array of option surrogate ids. Always an array, also for
	// single-select fields.
	Select
	// Reference resolves the value (an external id) to the internal key of
	// the target entity, keeping the external id alongside as a deferred
	// marker for forward references.
	Reference
)

// Field maps one source field onto one stored column.
type Field struct {
	Source string
	Column string
	Kind   Kind
	// Target names the referenced entity type for Reference fields.
	Target apptype.EntityType
}

// Entity is the static, entity-type-specific mapping table the upsert
// writer and the vector projector are generic over.
type Entity struct {
	Type  apptype.EntityType
	Table string
	Field []Field

	// DocLabel heads the rendered vector document.
	DocLabel string
	// DocFields lists column names in the fixed render order; renders are
	// diff-stable because this order never depends on map iteration.
	DocFields []string
	// MetaFields lists the scalar columns copied into vector metadata.
	MetaFields []string
}

// RefColumns returns the paired column names used for a Reference field:
// the internal-key column and the deferred external-id column.
func RefColumns(f Field) (idCol, refCol string) {
	return f.Column + "_id", f.Column + "_ref"
}

var all = []Entity{
	{
		Type:  apptype.EntityOwners,
		Table: "owners",
		Field: []Field{
			{Source: "email", Column: "email", Kind: Text},
			{Source: "firstName", Column: "firstname", Kind: Text},
			{Source: "lastName", Column: "lastname", Kind: Text},
			{Source: "userId", Column: "user_id", Kind: Text},
			{Source: "archived", Column: "archived", Kind: Bool},
			{Source: "createdAt", Column: "source_created_at", Kind: Timestamp},
		},
		DocLabel:   "Owner",
		DocFields:  []string{"firstname", "lastname", "email"},
		MetaFields: []string{"email", "archived"},
	},
	{
		Type:  apptype.EntityCompanies,
		Table: "companies",
		Field: []Field{
			{Source: "name", Column: "name", Kind: Text},
			{Source: "city", Column: "city", Kind: Text},
			{Source: "state", Column: "state", Kind: Select},
			{Source: "address", Column: "address", Kind: Text},
			{Source: "industry", Column: "industry", Kind: Select},
			{Source: "phone", Column: "phone", Kind: Text},
			{Source: "annualrevenue", Column: "annual_revenue", Kind: Number},
			{Source: "hubspot_owner_id", Column: "owner", Kind: Reference, Target: apptype.EntityOwners},
		},
		DocLabel:   "Company",
		DocFields:  []string{"name", "state", "city", "address", "industry", "phone"},
		MetaFields: []string{"name", "city", "owner_id"},
	},
	{
		Type:  apptype.EntityContacts,
		Table: "contacts",
		Field: []Field{
			{Source: "firstname", Column: "firstname", Kind: Text},
			{Source: "lastname", Column: "lastname", Kind: Text},
			{Source: "email", Column: "email", Kind: Text},
			{Source: "phone", Column: "phone", Kind: Text},
			{Source: "city", Column: "city", Kind: Text},
			{Source: "state", Column: "state", Kind: Select},
			{Source: "lifecyclestage", Column: "lifecycle_stage", Kind: Select},
			{Source: "became_partner_date", Column: "became_partner_date", Kind: Timestamp},
			{Source: "hubspot_owner_id", Column: "owner", Kind: Reference, Target: apptype.EntityOwners},
			{Source: "associatedcompanyid", Column: "company", Kind: Reference, Target: apptype.EntityCompanies},
		},
		DocLabel:   "Contact",
		DocFields:  []string{"firstname", "lastname", "email", "phone", "state", "city"},
		MetaFields: []string{"email", "city", "owner_id", "company_id"},
	},
	{
		Type:  apptype.EntityDeals,
		Table: "deals",
		Field: []Field{
			{Source: "dealname", Column: "dealname", Kind: Text},
			{Source: "amount", Column: "amount", Kind: Number},
			{Source: "closing_price", Column: "closing_price", Kind: Number},
			{Source: "dealstage", Column: "dealstage", Kind: Select},
			{Source: "pipeline", Column: "pipeline", Kind: Select},
			{Source: "contract_date", Column: "contract_date", Kind: Timestamp},
			{Source: "settlement_date", Column: "settlement_date", Kind: Timestamp},
			{Source: "hubspot_owner_id", Column: "owner", Kind: Reference, Target: apptype.EntityOwners},
			{Source: "associatedcompanyid", Column: "company", Kind: Reference, Target: apptype.EntityCompanies},
		},
		DocLabel:   "Deal",
		DocFields:  []string{"dealname", "amount", "closing_price", "contract_date", "settlement_date"},
		MetaFields: []string{"dealname", "amount", "owner_id", "company_id", "settlement_date"},
	},
	{
		Type:  apptype.EntityActivities,
		Table: "activities",
		Field: []Field{
			{Source: "activity_type", Column: "activity_type", Kind: Select},
			{Source: "subject", Column: "subject", Kind: Text},
			{Source: "body", Column: "body", Kind: Text},
			{Source: "timestamp", Column: "occurred_at", Kind: Timestamp},
			{Source: "hubspot_owner_id", Column: "owner", Kind: Reference, Target: apptype.EntityOwners},
			{Source: "contact_id", Column: "contact", Kind: Reference, Target: apptype.EntityContacts},
		},
		DocLabel:   "Activity",
		DocFields:  []string{"subject", "body", "occurred_at"},
		MetaFields: []string{"subject", "owner_id", "contact_id", "occurred_at"},
	},
}

// All returns every entity mapping in sync dependency order.
func All() []Entity {
	return all
}

// ForType returns the mapping for one entity type.
func ForType(t apptype.EntityType) (Entity, bool) {
	for _, m := range all {
		if m.Type == t {
			return m, true
		}
	}
	return Entity{}, false
}
