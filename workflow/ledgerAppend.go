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

// AppendLedgerEntry validates and persists one inventory movement and
// adjusts Stock.Quantity in the same transaction. The stock row is taken
// under an exclusive lock first, so two concurrent appends for the same
// SKU serialize instead of interleaving their read-modify-write.
func AppendLedgerEntry(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, input *models.NewStockIOLog) (*models.StockIOLog, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ErrOrganizationIdRequired
	}

	if err := input.Validate(); err != nil {
		return nil, err
	}

	stock, err := models.LockStockForUpdate(tx, organizationId, input.StockId)
	if err != nil {
		return nil, err
	}
	if stock.Frozen() {
		return nil, utils.ErrStockFrozen
	}

	entry := input.ToStockIOLog(organizationId)
	if err := tx.Create(&entry).Error; err != nil {
		config.LogError(logger, "ledgerAppend.go", "AppendLedgerEntry", "create io log", input, err)
		return nil, err
	}

	newQuantity := stock.Quantity.Add(entry.SignedEffectiveQuantity())

	reserved, err := ReservedQuantityForStock(tx, organizationId, stock.ID)
	if err != nil {
		return nil, err
	}
	orderable := ComputeOrderableQuantity(newQuantity, reserved)

	updates := map[string]interface{}{
		"Quantity":          utils.RoundQuantity(newQuantity),
		"OrderableQuantity": utils.RoundQuantity(orderable),
	}
	// Incoming movements carry the purchase rate; the stock row keeps the
	// latest one as its calculated price.
	if entry.Direction == models.IoDirectionIn {
		rate, err := entry.RateInPrimaryUnit()
		if err != nil {
			return nil, err
		}
		updates["CalculatedPrice"] = utils.RoundQuantity(rate)
	}

	if err := tx.Model(stock).Updates(updates).Error; err != nil {
		config.LogError(logger, "ledgerAppend.go", "AppendLedgerEntry", "update stock quantity", stock, err)
		return nil, err
	}

	if !utils.IsRawWriteContext(ctx) {
		correlationId := utils.CorrelationIdFromContextOrNew(ctx)
		if err := models.EnqueueReindex(tx, organizationId, "stocks", stock.ID, correlationId); err != nil {
			return nil, err
		}
	}

	return &entry, nil
}

// AppendLedgerEntryRaw is the data-repair write path. It persists the
// entry and, when stockDelta is non-nil, applies that exact quantity
// adjustment. No orderable recomputation, no outbox row: raw writes are
// an explicit code path, not a global toggle.
func AppendLedgerEntryRaw(ctx context.Context, tx *gorm.DB, input *models.NewStockIOLog, stockDelta *decimal.Decimal) (*models.StockIOLog, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ErrOrganizationIdRequired
	}

	if err := input.Validate(); err != nil {
		return nil, err
	}

	entry := input.ToStockIOLog(organizationId)
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}

	if stockDelta != nil {
		if err := tx.Exec(
			"UPDATE stocks SET quantity = quantity + ? WHERE organization_id = ? AND id = ?",
			*stockDelta, organizationId, input.StockId,
		).Error; err != nil {
			return nil, err
		}
	}

	return &entry, nil
}

// ReverseLedgerEntry appends a reversal for an existing entry and links
// the two. Reversed entries drop out of every reconciliation sum; the
// ledger itself stays append-only.
func ReverseLedgerEntry(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, ioLogId int, reason string) (*models.StockIOLog, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ErrOrganizationIdRequired
	}

	var original models.StockIOLog
	if err := tx.Where("organization_id = ? AND id = ?", organizationId, ioLogId).
		First(&original).Error; err != nil {
		return nil, err
	}
	if original.Reversed() {
		return nil, utils.ErrorRecordNotFound
	}

	opposite := models.IoDirectionIn
	if original.Direction == models.IoDirectionIn {
		opposite = models.IoDirectionOut
	}
	input := models.NewStockIOLog{
		StockId:           original.StockId,
		OrderId:           original.OrderId,
		Direction:         opposite,
		Quantity:          original.Quantity,
		Rate:              original.Rate,
		SecondaryUnitFlag: original.SecondaryUnitFlag,
		ConversionFactor:  original.ConversionFactor,
	}
	reversal, err := AppendLedgerEntry(ctx, tx, logger, &input)
	if err != nil {
		return nil, err
	}

	// Both legs leave the reconciliation sums together: the original via
	// ReversedByIoLogId, the reversal via IsReversal.
	if err := tx.Model(reversal).Updates(map[string]interface{}{
		"IsReversal":      true,
		"ReversalReason":  reason,
		"ReversesIoLogId": original.ID,
	}).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&original).Update("ReversedByIoLogId", reversal.ID).Error; err != nil {
		return nil, err
	}
	reversal.IsReversal = true
	reversal.ReversesIoLogId = &original.ID
	return reversal, nil
}
