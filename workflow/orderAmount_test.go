package workflow

import (
	"testing"

	"github.com/medexa/pharmadist_backend/models"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func activeLine(qty, rate, discountRate string) models.StockIOLog {
	return models.StockIOLog{
		Direction:        models.IoDirectionOut,
		Quantity:         dec(qty),
		Rate:             dec(rate),
		ConversionFactor: dec("1"),
		DiscountRate:     dec(discountRate),
		Status:           models.IoStatusActive,
	}
}

// Order with qty 10 @ 5.000 (no discount) and qty 5 @ 8.000 (10% discount):
// sub_total 90, discount 4, grand total 86 with zero round discount.
func TestCalculateOrderAmounts_TwoLineOrder(t *testing.T) {
	entries := []models.StockIOLog{
		activeLine("10", "5.000", "0"),
		activeLine("5", "8.000", "10"),
	}
	amounts, err := CalculateOrderAmounts(entries)
	if err != nil {
		t.Fatalf("CalculateOrderAmounts: %v", err)
	}
	if !amounts.SubTotal.Equal(dec("90")) {
		t.Fatalf("sub_total expected 90, got %s", amounts.SubTotal)
	}
	if !amounts.Discount.Equal(dec("4")) {
		t.Fatalf("discount expected 4, got %s", amounts.Discount)
	}
	if !amounts.RoundDiscount.IsZero() {
		t.Fatalf("round_discount expected 0, got %s", amounts.RoundDiscount)
	}
	if !amounts.GrandTotal.Equal(dec("86")) {
		t.Fatalf("grand_total expected 86, got %s", amounts.GrandTotal)
	}
	if !amounts.DiscountRate.Equal(dec("4.444")) {
		t.Fatalf("discount_rate expected 4.444, got %s", amounts.DiscountRate)
	}
	if len(amounts.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", amounts.Warnings)
	}
}

func TestCalculateOrderAmounts_EmptyLedgerIsAllZeros(t *testing.T) {
	amounts, err := CalculateOrderAmounts(nil)
	if err != nil {
		t.Fatalf("empty ledger must not error: %v", err)
	}
	for name, v := range map[string]decimal.Decimal{
		"sub_total":      amounts.SubTotal,
		"discount":       amounts.Discount,
		"discount_rate":  amounts.DiscountRate,
		"vat_total":      amounts.VatTotal,
		"tax_total":      amounts.TaxTotal,
		"round_discount": amounts.RoundDiscount,
		"grand_total":    amounts.GrandTotal,
	} {
		if !v.IsZero() {
			t.Fatalf("%s expected 0, got %s", name, v)
		}
	}
}

func TestCalculateOrderAmounts_InactiveEntriesIgnored(t *testing.T) {
	cancelled := activeLine("100", "9.99", "0")
	cancelled.Status = models.IoStatusCancelled
	entries := []models.StockIOLog{
		activeLine("10", "5.000", "0"),
		cancelled,
	}
	amounts, err := CalculateOrderAmounts(entries)
	if err != nil {
		t.Fatalf("CalculateOrderAmounts: %v", err)
	}
	if !amounts.SubTotal.Equal(dec("50")) {
		t.Fatalf("cancelled line must not count, sub_total got %s", amounts.SubTotal)
	}
}

// grand_total == sub_total - discount + vat_total + tax_total + round_discount
// must hold exactly at persisted precision for arbitrary entry mixes.
func TestCalculateOrderAmounts_AmountConservation(t *testing.T) {
	secondary := true
	fixtures := [][]models.StockIOLog{
		nil,
		{activeLine("3.333", "7.77", "12.5")},
		{activeLine("10", "5.000", "0"), activeLine("5", "8.000", "10")},
		{
			activeLine("1.234", "0.999", "3"),
			{
				Direction:         models.IoDirectionOut,
				Quantity:          dec("7"),
				Rate:              dec("13.13"),
				SecondaryUnitFlag: &secondary,
				ConversionFactor:  dec("3"),
				VatRate:           dec("15"),
				TaxRate:           dec("2.5"),
				Status:            models.IoStatusActive,
			},
		},
	}
	for i, entries := range fixtures {
		amounts, err := CalculateOrderAmounts(entries)
		if err != nil {
			t.Fatalf("fixture %d: %v", i, err)
		}
		recomposed := amounts.SubTotal.
			Sub(amounts.Discount).
			Add(amounts.VatTotal).
			Add(amounts.TaxTotal).
			Add(amounts.RoundDiscount)
		if !recomposed.Equal(amounts.GrandTotal) {
			t.Fatalf("fixture %d: conservation broken, recomposed=%s grand=%s", i, recomposed, amounts.GrandTotal)
		}
		if !amounts.GrandTotal.Equal(amounts.GrandTotal.Round(0)) {
			t.Fatalf("fixture %d: grand total %s is not a whole currency amount", i, amounts.GrandTotal)
		}
	}
}

func TestCalculateOrderAmounts_NegativeDiscountWarnsNotClamps(t *testing.T) {
	corrupt := activeLine("10", "5", "0")
	corrupt.DiscountTotal = dec("-12")
	amounts, err := CalculateOrderAmounts([]models.StockIOLog{corrupt})
	if err != nil {
		t.Fatalf("negative discount must not fail pricing: %v", err)
	}
	if len(amounts.Warnings) != 1 {
		t.Fatalf("expected exactly one warning, got %d", len(amounts.Warnings))
	}
	if !amounts.Discount.Equal(dec("-12")) {
		t.Fatalf("discount must not be clamped, got %s", amounts.Discount)
	}
}
