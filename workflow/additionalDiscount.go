package workflow

import (
	"context"
	"sort"

	"github.com/medexa/pharmadist_backend/config"
	"github.com/medexa/pharmadist_backend/models"
	"github.com/medexa/pharmadist_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// GroupDiscountShare is one order's portion of the group-level adjustment.
type GroupDiscountShare struct {
	OrderId            int             `json:"order_id"`
	AdditionalDiscount decimal.Decimal `json:"additional_discount"`
	AdditionalCost     decimal.Decimal `json:"additional_cost"`
}

// DistributeWholeUnits splits target (a whole-unit amount) across weights
// proportionally so the shares are whole units and sum exactly to target.
//
// Largest-remainder method: floor every proportional share, then hand the
// leftover units to the largest fractional remainders (ties to the earlier
// index, which is the lower order id in practice). Rounding each share
// independently can drift off the target on large groups; this cannot.
func DistributeWholeUnits(target decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 || target.IsZero() {
		return shares
	}

	weightSum := decimal.Zero
	for _, w := range weights {
		weightSum = weightSum.Add(w)
	}
	// Degenerate weights fall back to an even split.
	even := weightSum.IsZero()

	type remainder struct {
		index int
		frac  decimal.Decimal
	}
	remainders := make([]remainder, len(weights))
	assigned := decimal.Zero
	for i, w := range weights {
		var raw decimal.Decimal
		if even {
			raw = target.Div(decimal.NewFromInt(int64(len(weights))))
		} else {
			raw = target.Mul(w).Div(weightSum)
		}
		floor := raw.Floor()
		shares[i] = floor
		assigned = assigned.Add(floor)
		remainders[i] = remainder{index: i, frac: raw.Sub(floor)}
	}

	leftover := int(target.Sub(assigned).IntPart())
	sort.SliceStable(remainders, func(i, j int) bool {
		return remainders[i].frac.GreaterThan(remainders[j].frac)
	})
	one := decimal.NewFromInt(1)
	for i := 0; i < leftover && i < len(remainders); i++ {
		shares[remainders[i].index] = shares[remainders[i].index].Add(one)
	}
	return shares
}

// ComputeGroupAdditionalDiscount derives the per-order shares for a member
// set and tier table. Pure and deterministic: re-running over unchanged
// orders produces identical shares, which is what makes the engine
// idempotent (aggregation recomputes from the member set, it never
// accumulates deltas).
//
// The group total and the per-order weights are pre-adjustment amounts
// (amount - discount + round_discount), so previously applied additional
// discounts never feed back into the tier selection.
func ComputeGroupAdditionalDiscount(orders []models.Order, rules []models.DiscountRule) ([]GroupDiscountShare, decimal.Decimal) {
	groupGrandTotal := decimal.Zero
	weights := make([]decimal.Decimal, 0, len(orders))
	countable := make([]*models.Order, 0, len(orders))
	for i := range orders {
		order := &orders[i]
		if !order.Status.CountsForGroup() {
			continue
		}
		amount := order.GroupCountableAmount()
		groupGrandTotal = groupGrandTotal.Add(amount)
		weights = append(weights, amount)
		countable = append(countable, order)
	}

	shares := make([]GroupDiscountShare, len(countable))
	for i, order := range countable {
		shares[i] = GroupDiscountShare{OrderId: order.ID}
	}

	tier := models.SelectDiscountTier(rules, groupGrandTotal)
	if tier == nil {
		return shares, groupGrandTotal
	}

	targetDiscount := utils.RoundToWholeUnit(utils.PercentOf(groupGrandTotal, tier.DiscountPercent))
	distributed := DistributeWholeUnits(targetDiscount, weights)
	additionalCost := utils.RoundToWholeUnit(tier.AdditionalCostFlat)
	for i := range shares {
		shares[i].AdditionalDiscount = distributed[i]
		shares[i].AdditionalCost = additionalCost
	}
	return shares, groupGrandTotal
}

// groupAggregateTolerance is one minor currency unit per member order.
func groupAggregateTolerance(memberCount int) decimal.Decimal {
	return decimal.New(int64(memberCount), -utils.CurrencyPlaces)
}

// checkGroupAggregate compares a stored aggregate against the re-summed
// value. A zero stored value means the aggregate was never computed and is
// not a mismatch.
func checkGroupAggregate(groupId int, field string, stored decimal.Decimal, computed decimal.Decimal, tolerance decimal.Decimal) error {
	if stored.IsZero() {
		return nil
	}
	if stored.Sub(computed).Abs().GreaterThan(tolerance) {
		return &utils.GroupAggregationMismatch{
			GroupId:   groupId,
			Field:     field,
			Stored:    stored,
			Computed:  computed,
			Tolerance: tolerance,
		}
	}
	return nil
}

// ApplyGroupAdditionalDiscount recomputes and persists the group-level
// tiered discount for every countable order of the group.
//
// Runs inside the caller's transaction under an exclusive lock on the
// group aggregate row, because two orders of the same group can be priced
// concurrently by different requests. Group aggregate fields are updated
// by re-summing members, never by incrementing.
func ApplyGroupAdditionalDiscount(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, groupId int) ([]GroupDiscountShare, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ErrOrganizationIdRequired
	}

	group, err := models.LockOrderGroupForUpdate(tx, organizationId, groupId)
	if err != nil {
		return nil, err
	}

	orders, err := models.OrdersInGroup(tx, organizationId, groupId)
	if err != nil {
		return nil, err
	}

	// Guard against a missing or duplicated member before touching totals.
	sumSubTotal, sumDiscount, sumRoundDiscount := decimal.Zero, decimal.Zero, decimal.Zero
	for i := range orders {
		sumSubTotal = sumSubTotal.Add(orders[i].SubTotal)
		sumDiscount = sumDiscount.Add(orders[i].Discount)
		sumRoundDiscount = sumRoundDiscount.Add(orders[i].RoundDiscount)
	}
	tolerance := groupAggregateTolerance(len(orders))
	if err := checkGroupAggregate(groupId, "sub_total", group.SubTotal, sumSubTotal, tolerance); err != nil {
		config.LogError(logger, "additionalDiscount.go", "ApplyGroupAdditionalDiscount", "group aggregate mismatch", group, err)
		return nil, err
	}
	if err := checkGroupAggregate(groupId, "discount", group.Discount, sumDiscount, tolerance); err != nil {
		config.LogError(logger, "additionalDiscount.go", "ApplyGroupAdditionalDiscount", "group aggregate mismatch", group, err)
		return nil, err
	}

	rules, err := models.ActiveDiscountRules(tx, organizationId)
	if err != nil {
		return nil, err
	}

	shares, _ := ComputeGroupAdditionalDiscount(orders, rules)

	byOrderId := make(map[int]GroupDiscountShare, len(shares))
	for _, share := range shares {
		byOrderId[share.OrderId] = share
	}

	correlationId := utils.CorrelationIdFromContextOrNew(ctx)
	for i := range orders {
		order := &orders[i]
		share, ok := byOrderId[order.ID]
		if !ok {
			continue
		}
		grandTotal := order.BaseGrandTotal().Add(share.AdditionalCost).Sub(share.AdditionalDiscount)
		if err := tx.Model(order).Updates(map[string]interface{}{
			"AdditionalDiscount": share.AdditionalDiscount,
			"AdditionalCost":     share.AdditionalCost,
			"GrandTotal":         grandTotal,
		}).Error; err != nil {
			return nil, err
		}
		if !utils.IsRawWriteContext(ctx) {
			if err := models.EnqueueReindex(tx, organizationId, "orders", order.ID, correlationId); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Model(group).Updates(map[string]interface{}{
		"SubTotal":      sumSubTotal,
		"Discount":      sumDiscount,
		"RoundDiscount": sumRoundDiscount,
	}).Error; err != nil {
		return nil, err
	}
	if !utils.IsRawWriteContext(ctx) {
		if err := models.EnqueueReindex(tx, organizationId, "order_groups", groupId, correlationId); err != nil {
			return nil, err
		}
	}

	return shares, nil
}
