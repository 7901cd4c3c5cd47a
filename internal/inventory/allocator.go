package inventory

import (
	"fmt"
	"math"
	"sort"

	"github.com/storeledger/storeledger/internal/money"
	"github.com/storeledger/storeledger/internal/shared"
)

// Allocation is the quantity taken from one lot.
type Allocation struct {
	Lot      CostLot
	Quantity int64
}

// PricedAllocation adds the profit earned on an allocation.
type PricedAllocation struct {
	Allocation
	Profit money.Amount
}

// Totals summarises a priced allocation plan in cents.
type Totals struct {
	Lines   []PricedAllocation
	Revenue money.Amount
	Cost    money.Amount
	Profit  money.Amount
}

// lotLess orders lots by unit cost, then last update, then id.
func lotLess(a, b CostLot) bool {
	if a.UnitCost != b.UnitCost {
		return a.UnitCost < b.UnitCost
	}
	if !a.LastUpdated.Equal(b.LastUpdated) {
		return a.LastUpdated.Before(b.LastUpdated)
	}
	return a.ID < b.ID
}

// SortLots sorts lots into allocation order in place.
func SortLots(lots []CostLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		return lotLess(lots[i], lots[j])
	})
}

// Allocate plans the consumption of qty units from lots, cheapest and oldest
// first. It never returns a partial plan and never mutates lots.
func Allocate(lots []CostLot, qty int64) ([]Allocation, error) {
	if qty <= 0 {
		return nil, shared.Validationf("quantity must be positive, got %d", qty)
	}
	ordered := make([]CostLot, 0, len(lots))
	var available int64
	for _, lot := range lots {
		if lot.Quantity <= 0 {
			continue
		}
		ordered = append(ordered, lot)
		if available > math.MaxInt64-lot.Quantity {
			available = math.MaxInt64
		} else {
			available += lot.Quantity
		}
	}
	if available < qty {
		return nil, &shared.InsufficientStockError{Requested: qty, Available: available}
	}
	SortLots(ordered)

	remaining := qty
	allocs := make([]Allocation, 0, len(ordered))
	for _, lot := range ordered {
		if remaining == 0 {
			break
		}
		take := min(lot.Quantity, remaining)
		allocs = append(allocs, Allocation{Lot: lot, Quantity: take})
		remaining -= take
	}
	return allocs, nil
}

// Price computes revenue, cost and profit for allocs at sellingPrice. It fails
// with a validation error when any line or total leaves the money range.
func Price(allocs []Allocation, sellingPrice money.Amount) (Totals, error) {
	totals := Totals{Lines: make([]PricedAllocation, 0, len(allocs))}
	for _, alloc := range allocs {
		revenue, err := sellingPrice.Mul(alloc.Quantity)
		if err != nil {
			return Totals{}, priceError(err)
		}
		cost, err := alloc.Lot.UnitCost.Mul(alloc.Quantity)
		if err != nil {
			return Totals{}, priceError(err)
		}
		profit, err := revenue.Sub(cost)
		if err != nil {
			return Totals{}, priceError(err)
		}
		totals.Lines = append(totals.Lines, PricedAllocation{Allocation: alloc, Profit: profit})
		if totals.Revenue, err = totals.Revenue.Add(revenue); err != nil {
			return Totals{}, priceError(err)
		}
		if totals.Cost, err = totals.Cost.Add(cost); err != nil {
			return Totals{}, priceError(err)
		}
		if totals.Profit, err = totals.Profit.Add(profit); err != nil {
			return Totals{}, priceError(err)
		}
	}
	return totals, nil
}

func priceError(err error) error {
	return fmt.Errorf("%w: sale total too large: %v", shared.ErrValidation, err)
}
