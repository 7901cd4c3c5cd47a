package catalog

import (
	"strconv"

	"github.com/storeledger/storeledger/internal/events"
)

// Activity actions recorded for catalog changes.
const (
	ActionProductCreated  = "insert_into_products"
	ActionProductRevived  = "revive_product"
	ActionProductUpdated  = "update_product"
	ActionProductRemoved  = "remove_product"
	ActionSupplierCreated = "insert_into_suppliers"
	ActionSupplierRevived = "revive_supplier"
	ActionSupplierRemoved = "remove_supplier"
	ActionRequestCreated  = "insert_into_supplier_requests"
	ActionRequestApproved = "approve_supplier_request"
	ActionRequestRejected = "reject_supplier_request"
)

// ProductChanged is published after a committed product mutation.
type ProductChanged struct {
	Action string
	Before *Product
	After  Product
}

// AuditRecord implements events.Auditable.
func (e ProductChanged) AuditRecord() (events.AuditRecord, error) {
	var before any
	if e.Before != nil {
		before = e.Before
	}
	return auditRecord(e.Action, "products", e.After.ID, before, e.After)
}

// SupplierChanged is published after a committed supplier mutation.
type SupplierChanged struct {
	Action string
	Before *Supplier
	After  Supplier
}

// AuditRecord implements events.Auditable.
func (e SupplierChanged) AuditRecord() (events.AuditRecord, error) {
	var before any
	if e.Before != nil {
		before = e.Before
	}
	return auditRecord(e.Action, "suppliers", e.After.ID, before, e.After)
}

// SupplierRequestChanged is published after a request is filed or decided.
type SupplierRequestChanged struct {
	Action string
	Before *SupplierRequest
	After  SupplierRequest
}

// AuditRecord implements events.Auditable.
func (e SupplierRequestChanged) AuditRecord() (events.AuditRecord, error) {
	var before any
	if e.Before != nil {
		before = e.Before
	}
	return auditRecord(e.Action, "supplier_requests", e.After.ID, before, e.After)
}

func auditRecord(action, model string, id int64, before, after any) (events.AuditRecord, error) {
	rec := events.AuditRecord{Action: action, Model: model, ModelID: strconv.FormatInt(id, 10)}
	var err error
	if before != nil {
		if rec.OldData, err = events.Snapshot(before); err != nil {
			return events.AuditRecord{}, err
		}
	}
	if rec.NewData, err = events.Snapshot(after); err != nil {
		return events.AuditRecord{}, err
	}
	return rec, nil
}
