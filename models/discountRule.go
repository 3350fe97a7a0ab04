package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/medexa/pharmadist_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const discountRulesCacheTTL = 5 * time.Minute

func discountRulesCacheKey(organizationId string) string {
	return fmt.Sprintf("discount-rules:%s", organizationId)
}

// DiscountRule is one tier of the volume-discount table: orders grouped in
// a batch earn DiscountPercent once the group grand total reaches
// Threshold. AdditionalCostFlat is a per-order charge (delivery/service)
// applied alongside the discount; zero for most tiers.
type DiscountRule struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	OrganizationId     string          `gorm:"index;not null" json:"organization_id"`
	Threshold          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"threshold"`
	DiscountPercent    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_percent"`
	AdditionalCostFlat decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"additional_cost_flat"`
	IsActive           *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ActiveDiscountRules loads the active tier table sorted by threshold.
// The table is read on every group-discount pass but changes rarely, so it
// is served from redis with a short TTL. Callers that edit tiers must call
// InvalidateDiscountRulesCache to see the change before the TTL expires.
func ActiveDiscountRules(tx *gorm.DB, organizationId string) ([]DiscountRule, error) {
	cacheKey := discountRulesCacheKey(organizationId)
	var cached []DiscountRule
	if found, err := config.GetRedisObject(cacheKey, &cached); err == nil && found {
		return cached, nil
	}

	var rules []DiscountRule
	if err := tx.Where("organization_id = ? AND is_active = 1", organizationId).
		Order("threshold ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	// Best-effort cache write; readers fall back to the DB on a miss.
	_ = config.SetRedisObject(cacheKey, rules, discountRulesCacheTTL)
	return rules, nil
}

// InvalidateDiscountRulesCache drops the cached tier table for one
// organization. Call it after inserting or deactivating a DiscountRule.
func InvalidateDiscountRulesCache(organizationId string) error {
	return config.DeleteRedisKey(discountRulesCacheKey(organizationId))
}

// SelectDiscountTier picks the tier whose threshold is the greatest value
// not exceeding total. Ties break to the highest threshold; tiers are a
// step table, never interpolated. Returns nil when no tier qualifies.
func SelectDiscountTier(rules []DiscountRule, total decimal.Decimal) *DiscountRule {
	sorted := make([]DiscountRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Threshold.LessThan(sorted[j].Threshold)
	})

	var selected *DiscountRule
	for i := range sorted {
		if sorted[i].Threshold.LessThanOrEqual(total) {
			selected = &sorted[i]
		} else {
			break
		}
	}
	return selected
}
