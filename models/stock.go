package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Stock is one trackable product-at-store-point inventory unit (SKU).
//
// Quantity must equal the signed sum of all countable, non-reversed ledger
// entries for the unit. It is mutated only through transactional ledger
// appends or the reconciler; everything else treats it as read-only.
// CalculatedPrice tracks the primary-unit rate of the latest incoming
// ledger entry.
type Stock struct {
	ID                int             `gorm:"primary_key" json:"id"`
	OrganizationId    string          `gorm:"index;not null" json:"organization_id"`
	StorePointId      int             `gorm:"index;not null" json:"store_point_id"`
	ProductId         int             `gorm:"index;not null" json:"product_id"`
	ProductName       string          `gorm:"size:255" json:"product_name"`
	Quantity          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	OrderableQuantity decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"orderable_quantity"`
	CalculatedPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"calculated_price"`
	IsFrozen          *bool           `gorm:"not null;default:false" json:"is_frozen"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// Frozen reports the terminal administrative state. A frozen SKU accepts
// no further ledger writes or reconciliation.
func (s *Stock) Frozen() bool {
	return s.IsFrozen != nil && *s.IsFrozen
}

// LockStockForUpdate fetches the stock row under an exclusive row lock.
// Every read-modify-write of Quantity (ledger append, reconcile) must go
// through this inside its transaction so concurrent appends for the same
// SKU serialize instead of interleaving.
func LockStockForUpdate(tx *gorm.DB, organizationId string, stockId int) (*Stock, error) {
	var stock Stock
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ? AND id = ?", organizationId, stockId).
		First(&stock).Error; err != nil {
		return nil, err
	}
	return &stock, nil
}
