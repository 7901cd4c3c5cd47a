package inventory

import (
	"strconv"

	"github.com/storeledger/storeledger/internal/events"
	"github.com/storeledger/storeledger/internal/money"
)

// Activity actions recorded for stock changes.
const (
	ActionSold       = "sold"
	ActionRemoved    = "removed_quantity"
	ActionRestocked  = "restocked"
	ActionAdjusted   = "adjusted"
	ActionSaleInsert = "insert_into_sales"
	ActionRemoval    = "insert_into_removed_stock"
	ActionStockIn    = "insert_into_stock_in"
	ActionAdjustment = "insert_into_adjustments"
)

// StockChanged is published for every lot a committed operation touched.
type StockChanged struct {
	Action     string
	ProductID  int64
	SupplierID int64
	UnitCost   money.Amount
	Delta      int64
	Reason     string
	Before     *CostLot
	After      CostLot
}

// AuditRecord implements events.Auditable.
func (e StockChanged) AuditRecord() (events.AuditRecord, error) {
	rec := events.AuditRecord{Action: e.Action, Model: "inventory", ModelID: strconv.FormatInt(e.After.ID, 10)}
	var err error
	if e.Before != nil {
		if rec.OldData, err = events.Snapshot(e.Before); err != nil {
			return events.AuditRecord{}, err
		}
	}
	if rec.NewData, err = events.Snapshot(e.After); err != nil {
		return events.AuditRecord{}, err
	}
	return rec, nil
}

// SaleRecorded carries a committed SaleRecord.
type SaleRecorded struct {
	Record SaleRecord
}

// AuditRecord implements events.Auditable.
func (e SaleRecorded) AuditRecord() (events.AuditRecord, error) {
	return ledgerRecord(ActionSaleInsert, "sales", e.Record.ID, e.Record)
}

// RemovalRecorded carries a committed RemovalRecord.
type RemovalRecorded struct {
	Record RemovalRecord
}

// AuditRecord implements events.Auditable.
func (e RemovalRecorded) AuditRecord() (events.AuditRecord, error) {
	return ledgerRecord(ActionRemoval, "removed_stock", e.Record.ID, e.Record)
}

// StockInRecorded carries a committed StockInRecord.
type StockInRecorded struct {
	Record StockInRecord
}

// AuditRecord implements events.Auditable.
func (e StockInRecorded) AuditRecord() (events.AuditRecord, error) {
	return ledgerRecord(ActionStockIn, "stock_in", e.Record.ID, e.Record)
}

// AdjustmentRecorded carries a committed AdjustmentRecord.
type AdjustmentRecorded struct {
	Record AdjustmentRecord
}

// AuditRecord implements events.Auditable.
func (e AdjustmentRecorded) AuditRecord() (events.AuditRecord, error) {
	return ledgerRecord(ActionAdjustment, "adjustments", e.Record.ID, e.Record)
}

func ledgerRecord(action, model string, id int64, record any) (events.AuditRecord, error) {
	data, err := events.Snapshot(record)
	if err != nil {
		return events.AuditRecord{}, err
	}
	return events.AuditRecord{Action: action, Model: model, ModelID: strconv.FormatInt(id, 10), NewData: data}, nil
}
