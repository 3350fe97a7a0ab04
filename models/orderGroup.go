package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderGroup is a batch of orders aggregated for billing or dispatch
// (a daily distributor-order batch or an invoice group).
//
// Aggregate fields always equal the sum over member orders. They are kept
// consistent by re-summing the member set after any change, never by
// incremental patching; recomputation is the integrity mechanism.
type OrderGroup struct {
	ID             int             `gorm:"primary_key" json:"id"`
	OrganizationId string          `gorm:"index;not null" json:"organization_id"`
	Kind           GroupKind       `gorm:"type:enum('Distributor Order','Invoice');default:Distributor Order" json:"kind"`
	GroupDate      time.Time       `gorm:"index" json:"group_date"`
	SubTotal       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sub_total"`
	Discount       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount"`
	RoundDiscount  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"round_discount"`
	Orders         []Order         `gorm:"foreignKey:OrderGroupId" json:"orders"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// LockOrderGroupForUpdate fetches the group aggregate row under an
// exclusive row lock. Two orders of the same group can be priced by
// concurrent requests; group aggregation must serialize on this row.
func LockOrderGroupForUpdate(tx *gorm.DB, organizationId string, groupId int) (*OrderGroup, error) {
	var group OrderGroup
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("organization_id = ? AND id = ?", organizationId, groupId).
		First(&group).Error; err != nil {
		return nil, err
	}
	return &group, nil
}
