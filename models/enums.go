package models

// IoDirection classifies an inventory movement.
type IoDirection string

const (
	IoDirectionIn  IoDirection = "In"
	IoDirectionOut IoDirection = "Out"
)

func (d IoDirection) Valid() bool {
	return d == IoDirectionIn || d == IoDirectionOut
}

// Sign returns +1 for incoming and -1 for outgoing movements.
func (d IoDirection) Sign() int {
	if d == IoDirectionOut {
		return -1
	}
	return 1
}

// IoStatus is the lifecycle of a ledger entry. Entries are append-only:
// status transitions and rate repair are the only mutations after create.
type IoStatus string

const (
	IoStatusDraft     IoStatus = "Draft"
	IoStatusActive    IoStatus = "Active"
	IoStatusInactive  IoStatus = "Inactive"
	IoStatusFrozen    IoStatus = "Frozen"
	IoStatusCancelled IoStatus = "Cancelled"
)

// CountsForStock reports whether the entry participates in stock and
// amount reconciliation. Frozen entries stay countable; they are only
// administratively locked against further mutation.
func (s IoStatus) CountsForStock() bool {
	return s == IoStatusActive || s == IoStatusFrozen
}

// OrderStatus is the purchase/sales aggregate lifecycle:
// Draft -> Active/DistributorOrder -> Completed | Cancelled | Rejected.
type OrderStatus string

const (
	OrderStatusDraft            OrderStatus = "Draft"
	OrderStatusActive           OrderStatus = "Active"
	OrderStatusDistributorOrder OrderStatus = "Distributor Order"
	OrderStatusCompleted        OrderStatus = "Completed"
	OrderStatusCancelled        OrderStatus = "Cancelled"
	OrderStatusRejected         OrderStatus = "Rejected"
)

// CountsForGroup reports whether the order participates in group-level
// aggregation. Cancelled and rejected orders are excluded.
func (s OrderStatus) CountsForGroup() bool {
	return s != OrderStatusCancelled && s != OrderStatusRejected
}

// Pending reports whether the order still reserves stock (placed but not
// yet delivered or terminal).
func (s OrderStatus) Pending() bool {
	return s == OrderStatusActive || s == OrderStatusDistributorOrder
}

// OrderKind distinguishes purchases from sales on the shared aggregate.
type OrderKind string

const (
	OrderKindPurchase OrderKind = "Purchase"
	OrderKindSales    OrderKind = "Sales"
)

// GroupKind distinguishes distributor batches from invoice groups.
type GroupKind string

const (
	GroupKindDistributorOrder GroupKind = "Distributor Order"
	GroupKindInvoice          GroupKind = "Invoice"
)
