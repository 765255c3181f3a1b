package apptype

import "time"

// EntityType identifies one synchronized record class from the CRM source.
type EntityType string

const (
	EntityOwners     EntityType = "owners"
	EntityCompanies  EntityType = "companies"
	EntityContacts   EntityType = "contacts"
	EntityDeals      EntityType = "deals"
	EntityActivities EntityType = "activities"
)

// SyncOrder is the fixed dependency order for a full sync cycle. Entities
// with no inbound foreign keys come first so that reference resolution sees
// as few forward references as possible.
var SyncOrder = []EntityType{
	EntityOwners,
	EntityCompanies,
	EntityContacts,
	EntityDeals,
	EntityActivities,
}

// Valid reports whether t names a known entity type.
func (t EntityType) Valid() bool {
	for _, known := range SyncOrder {
		if t == known {
			return true
		}
	}
	return false
}

// SourceRecord is one raw record as returned by the CRM source. Fields is an
// opaque key-value payload; the upsert writer interprets it through the
// entity type's field mapping. Records are transient and never stored as-is.
type SourceRecord struct {
	SourceID       string
	Fields         map[string]any
	LastModifiedAt time.Time
}

// SyncStatus is the run state recorded per entity type.
type SyncStatus string

const (
	StatusRunning SyncStatus = "running"
	StatusSuccess SyncStatus = "success"
	StatusError   SyncStatus = "error"
)

// SyncState is the watermark row for one entity type. LastSuccessfulSyncAt
// is the watermark the next incremental pull starts from; it only ever
// moves forward.
type SyncState struct {
	EntityType           EntityType `json:"entity_type"`
	LastSyncAt           *time.Time `json:"last_sync_at,omitempty"`
	LastSuccessfulSyncAt *time.Time `json:"last_successful_sync_at,omitempty"`
	Status               SyncStatus `json:"status"`
	ErrorMessage         string     `json:"error_message,omitempty"`
	RecordsSynced        int        `json:"records_synced"`
}

// ProjectionState tracks the vector projection watermark per entity type,
// independent from SyncState since projection lags behind relational sync.
type ProjectionState struct {
	EntityType      EntityType `json:"entity_type"`
	LastProjectedAt *time.Time `json:"last_projected_at,omitempty"`
	DocsProjected   int        `json:"docs_projected"`
}

// StoredRow is one relational row read back for projection: the internal
// key, the source id, the mapped columns by name, and the row update
// timestamp that drives the projection watermark.
type StoredRow struct {
	ID        int64
	SourceID  string
	Columns   map[string]any
	UpdatedAt time.Time
}

// VectorDocument is the projected form of a StoredRow. ID is derived from
// entity type and source id so re-projection overwrites instead of
// duplicating. Metadata holds scalars only; null fields are omitted, never
// coerced to a sentinel.
type VectorDocument struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// SyncOutcome summarizes one completed entity sync run.
type SyncOutcome struct {
	EntityType EntityType
	Records    int
	Skipped    int
	Watermark  time.Time
}
