package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Order is a purchase or sales aggregate owning 1..N ledger entries.
//
// Invariant:
//
//	GrandTotal == SubTotal - Discount + VatTotal + TaxTotal
//	              + AdditionalCost - AdditionalDiscount + RoundDiscount
//
// with the residual whole-unit rounding captured exactly in RoundDiscount,
// so GrandTotal is always an integer-valued currency amount.
type Order struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	OrganizationId     string          `gorm:"index;not null" json:"organization_id"`
	OrderGroupId       int             `gorm:"index" json:"order_group_id"`
	Kind               OrderKind       `gorm:"type:enum('Purchase','Sales');not null" json:"kind"`
	Status             OrderStatus     `gorm:"type:enum('Draft','Active','Distributor Order','Completed','Cancelled','Rejected');default:Draft;index" json:"status"`
	SubTotal           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sub_total"`
	Discount           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	DiscountRate       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_rate"`
	VatTotal           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"vat_total"`
	TaxTotal           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_total"`
	RoundDiscount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"round_discount"`
	GrandTotal         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"grand_total"`
	AdditionalDiscount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"additional_discount"`
	AdditionalCost     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"additional_cost"`
	Entries            []StockIOLog    `gorm:"foreignKey:OrderId" json:"entries"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// BaseGrandTotal is the order total before group-level adjustments.
// Re-running the additional discount engine derives its input from this,
// which is what makes the engine idempotent.
func (o *Order) BaseGrandTotal() decimal.Decimal {
	return o.GrandTotal.Sub(o.AdditionalCost).Add(o.AdditionalDiscount)
}

// GroupCountableAmount is the order's contribution to group-level totals:
// amount - discount + round_discount, on pre-adjustment figures.
func (o *Order) GroupCountableAmount() decimal.Decimal {
	return o.SubTotal.Sub(o.Discount).Add(o.VatTotal).Add(o.TaxTotal).Add(o.RoundDiscount)
}

// OrdersInGroup loads the member orders of one group, countable statuses
// only (cancelled/rejected orders never participate in aggregation).
func OrdersInGroup(tx *gorm.DB, organizationId string, groupId int) ([]Order, error) {
	var orders []Order
	if err := tx.Where(
		"organization_id = ? AND order_group_id = ? AND status NOT IN (?)",
		organizationId, groupId, []OrderStatus{OrderStatusCancelled, OrderStatusRejected},
	).Order("id ASC").Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

// LockOrderForUpdate fetches one order under an exclusive row lock.
func LockOrderForUpdate(tx *gorm.DB, organizationId string, orderId int) (*Order, error) {
	var order Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ? AND id = ?", organizationId, orderId).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}
