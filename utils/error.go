package utils

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrorRecordNotFound = errors.New("record not found")

// Fatal for a single ledger append; rejected before persistence.
var (
	ErrInvalidConversionFactor = errors.New("conversion factor must be greater than zero")
	ErrNegativeQuantity        = errors.New("quantity must be greater than zero")
	ErrInvalidDirection        = errors.New("direction must be In or Out")
	ErrStockFrozen             = errors.New("stock is frozen and can no longer be mutated")
	ErrOrganizationIdRequired  = errors.New("organization id is required")
)

// ReconciliationWarning is non-fatal. It is logged with before/after values
// and reported to the operator; it never blocks other SKUs or orders.
type ReconciliationWarning struct {
	StockId int
	OrderId int
	Reason  string
	Before  decimal.Decimal
	After   decimal.Decimal
}

func (w ReconciliationWarning) String() string {
	return fmt.Sprintf("reconciliation warning (stock_id=%d order_id=%d): %s (before=%s after=%s)",
		w.StockId, w.OrderId, w.Reason, w.Before.String(), w.After.String())
}

// GroupAggregationMismatch is raised when re-summed group totals disagree
// with the previously stored aggregate beyond one minor currency unit per
// member order. It usually means a member order is missing or duplicated,
// so it is surfaced for manual review, never auto-corrected.
type GroupAggregationMismatch struct {
	GroupId   int
	Field     string
	Stored    decimal.Decimal
	Computed  decimal.Decimal
	Tolerance decimal.Decimal
}

func (e *GroupAggregationMismatch) Error() string {
	return fmt.Sprintf("group aggregation mismatch (group_id=%d field=%s): stored=%s computed=%s tolerance=%s",
		e.GroupId, e.Field, e.Stored.String(), e.Computed.String(), e.Tolerance.String())
}

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
