// Package events fans committed domain mutations out to decoupled subscribers.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type names a domain event.
type Type string

const (
	TypeStockChanged       Type = "stock-changed"
	TypeSaleRecorded       Type = "sale-recorded"
	TypeRemovalRecorded    Type = "removal-recorded"
	TypeStockInRecorded    Type = "stock-in-recorded"
	TypeAdjustmentRecorded Type = "adjustment-recorded"
	TypeProductChanged     Type = "product-changed"
	TypeSupplierChanged    Type = "supplier-changed"
	TypeSupplierRequest    Type = "supplier-request-changed"
	TypeTenantRemoved      Type = "tenant-removed"
	TypeCacheDirty         Type = "cache-dirty"
)

// AuditableTypes lists every event type whose payload carries snapshots.
var AuditableTypes = []Type{
	TypeStockChanged,
	TypeSaleRecorded,
	TypeRemovalRecorded,
	TypeStockInRecorded,
	TypeAdjustmentRecorded,
	TypeProductChanged,
	TypeSupplierChanged,
	TypeSupplierRequest,
	TypeTenantRemoved,
}

// Scope names a family of cached views.
type Scope string

const (
	ScopeTenantInventory Scope = "tenant-inventory"
	ScopeProductCatalog  Scope = "product-catalog"
	ScopeReports         Scope = "reports"
)

// Event is one committed fact delivered to subscribers.
type Event struct {
	ID         uuid.UUID
	Type       Type
	TenantID   int64
	OccurredAt time.Time
	Payload    any
}

// New stamps a payload with an id and timestamp.
func New(t Type, tenantID int64, payload any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// CacheDirty signals that every cached view of Scope for the tenant is stale.
type CacheDirty struct {
	Scope Scope
}

// Dirty builds cache-dirty events for the given scopes.
func Dirty(tenantID int64, scopes ...Scope) []Event {
	out := make([]Event, 0, len(scopes))
	for _, scope := range scopes {
		out = append(out, New(TypeCacheDirty, tenantID, CacheDirty{Scope: scope}))
	}
	return out
}

// AuditRecord is the activity-log projection of an auditable payload.
type AuditRecord struct {
	Action  string
	Model   string
	ModelID string
	OldData json.RawMessage
	NewData json.RawMessage
}

// Auditable is implemented by payloads that carry before/after snapshots.
type Auditable interface {
	AuditRecord() (AuditRecord, error)
}

// Snapshot marshals a value for AuditRecord; nil stays nil.
func Snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
