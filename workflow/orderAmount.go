package workflow

import (
	"context"

	"github.com/medexa/pharmadist_backend/config"
	"github.com/medexa/pharmadist_backend/models"
	"github.com/medexa/pharmadist_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OrderAmounts is the result of pricing one order from its ledger entries.
// All fields are rounded to persisted precision; the conservation invariant
//
//	GrandTotal == SubTotal - Discount + VatTotal + TaxTotal + RoundDiscount
//
// holds exactly for any entry set, including the empty one.
type OrderAmounts struct {
	SubTotal      decimal.Decimal `json:"sub_total"`
	Discount      decimal.Decimal `json:"discount"`
	DiscountRate  decimal.Decimal `json:"discount_rate"`
	VatTotal      decimal.Decimal `json:"vat_total"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
	RoundDiscount decimal.Decimal `json:"round_discount"`
	GrandTotal    decimal.Decimal `json:"grand_total"`

	// Warnings collects data-corruption observations (negative computed
	// discount) that must reach the operator without failing the pricing.
	Warnings []utils.ReconciliationWarning `json:"-"`
}

// CalculateOrderAmounts prices one order from the full set of its ledger
// entries. Pure: no DB access, deterministic for a given entry set.
//
// Intermediate sums keep full precision; rounding happens once at this
// boundary. The grand total is then rounded to a whole currency amount
// with the residue captured in RoundDiscount, which is a business rule of
// the distribution ERP, not a numeric-library default.
func CalculateOrderAmounts(entries []models.StockIOLog) (OrderAmounts, error) {
	var subTotal, discount, vatTotal, taxTotal decimal.Decimal
	var warnings []utils.ReconciliationWarning

	for i := range entries {
		entry := &entries[i]
		if !entry.CountsForReconciliation() {
			continue
		}
		amount, err := entry.LineAmount()
		if err != nil {
			return OrderAmounts{}, err
		}
		lineDiscount, err := entry.LineDiscount()
		if err != nil {
			return OrderAmounts{}, err
		}
		lineVat, err := entry.LineVat()
		if err != nil {
			return OrderAmounts{}, err
		}
		lineTax, err := entry.LineTax()
		if err != nil {
			return OrderAmounts{}, err
		}
		subTotal = subTotal.Add(amount)
		discount = discount.Add(lineDiscount)
		vatTotal = vatTotal.Add(lineVat)
		taxTotal = taxTotal.Add(lineTax)
	}

	result := OrderAmounts{
		SubTotal: utils.RoundCurrency(subTotal),
		Discount: utils.RoundCurrency(discount),
		VatTotal: utils.RoundCurrency(vatTotal),
		TaxTotal: utils.RoundCurrency(taxTotal),
	}

	if result.Discount.IsNegative() {
		// Corrupt source data. Surfaced, never silently clamped.
		warnings = append(warnings, utils.ReconciliationWarning{
			Reason: "computed order discount is negative",
			Before: result.Discount,
			After:  result.Discount,
		})
	}

	// Zero sub-total yields a zero rate by definition, not an error.
	result.DiscountRate = utils.RoundQuantity(utils.RatioPercent(result.Discount, result.SubTotal))

	grandTotalRaw := result.SubTotal.Sub(result.Discount).Add(result.VatTotal).Add(result.TaxTotal)
	result.RoundDiscount = utils.RoundDiscountFor(grandTotalRaw)
	result.GrandTotal = grandTotalRaw.Add(result.RoundDiscount)
	result.Warnings = warnings
	return result, nil
}

// RecalculateOrderAmounts reprices one order from its ledger and persists
// the result, preserving any group-level additional discount/cost already
// applied on top. Runs inside the caller's transaction under an exclusive
// lock on the order row.
func RecalculateOrderAmounts(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, orderId int) (*OrderAmounts, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ErrOrganizationIdRequired
	}

	order, err := models.LockOrderForUpdate(tx, organizationId, orderId)
	if err != nil {
		return nil, err
	}

	entries, err := models.ActiveIoLogsForOrder(tx, organizationId, orderId)
	if err != nil {
		return nil, err
	}

	amounts, err := CalculateOrderAmounts(entries)
	if err != nil {
		return nil, err
	}
	for _, w := range amounts.Warnings {
		w.OrderId = orderId
		config.LogWarning(logger, "orderAmount.go", "RecalculateOrderAmounts", w.String(), w)
	}

	// Group adjustments are whole-unit values, so re-adding them keeps the
	// grand total integer-valued.
	grandTotal := amounts.GrandTotal.Add(order.AdditionalCost).Sub(order.AdditionalDiscount)

	if err := tx.Model(order).Updates(map[string]interface{}{
		"SubTotal":      amounts.SubTotal,
		"Discount":      amounts.Discount,
		"DiscountRate":  amounts.DiscountRate,
		"VatTotal":      amounts.VatTotal,
		"TaxTotal":      amounts.TaxTotal,
		"RoundDiscount": amounts.RoundDiscount,
		"GrandTotal":    grandTotal,
	}).Error; err != nil {
		return nil, err
	}

	if !utils.IsRawWriteContext(ctx) {
		correlationId := utils.CorrelationIdFromContextOrNew(ctx)
		if err := models.EnqueueReindex(tx, organizationId, "orders", orderId, correlationId); err != nil {
			return nil, err
		}
	}

	amounts.GrandTotal = grandTotal
	return &amounts, nil
}
