package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/medexa/pharmadist_backend/config"
	"github.com/medexa/pharmadist_backend/models"
	"github.com/medexa/pharmadist_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ReconcileResult reports one SKU's reconciliation outcome.
type ReconcileResult struct {
	StockId           int             `json:"stock_id"`
	PreviousQuantity  decimal.Decimal `json:"previous_quantity"`
	CorrectedQuantity decimal.Decimal `json:"corrected_quantity"`
	Delta             decimal.Decimal `json:"delta"`
	Corrected         bool            `json:"corrected"`
}

// ComputeExpectedQuantity sums signed effective quantities over countable
// entries: + for In, - for Out, secondary-unit entries normalized first.
// Pure; the DB-backed reconciler and the tests share it.
//
// Full recompute from ledger inception every time. There is no snapshot or
// checkpoint; the ledger is the single source of truth.
func ComputeExpectedQuantity(entries []models.StockIOLog) decimal.Decimal {
	expected := decimal.Zero
	for i := range entries {
		entry := &entries[i]
		if !entry.CountsForReconciliation() {
			continue
		}
		expected = expected.Add(entry.SignedEffectiveQuantity())
	}
	return utils.RoundQuantity(expected)
}

// ComputeOrderableQuantity clamps quantity minus pending reservations at
// zero. Reserved stock derives from the same ledger (active undelivered
// order entries), not from a separate counter, so there is never a second
// source of truth to drift.
func ComputeOrderableQuantity(quantity decimal.Decimal, reserved decimal.Decimal) decimal.Decimal {
	orderable := quantity.Sub(reserved)
	if orderable.IsNegative() {
		return decimal.Zero
	}
	return orderable
}

// ReservedQuantityForStock sums outgoing quantities of countable,
// undelivered entries whose owning order is still pending.
func ReservedQuantityForStock(tx *gorm.DB, organizationId string, stockId int) (decimal.Decimal, error) {
	type row struct {
		Reserved decimal.Decimal
	}
	var r row
	err := tx.Raw(`
		SELECT COALESCE(SUM(
			CASE WHEN l.secondary_unit_flag = 1 THEN l.quantity / l.conversion_factor ELSE l.quantity END
		), 0) AS reserved
		FROM stock_io_logs l
		INNER JOIN orders o ON o.id = l.order_id AND o.organization_id = l.organization_id
		WHERE l.organization_id = ?
		  AND l.stock_id = ?
		  AND l.direction = 'Out'
		  AND l.status IN ('Active', 'Frozen')
		  AND l.is_reversal = 0
		  AND l.reversed_by_io_log_id IS NULL
		  AND l.is_delivered = 0
		  AND o.status IN ('Active', 'Distributor Order')
	`, organizationId, stockId).Scan(&r).Error
	if err != nil {
		return decimal.Zero, err
	}
	return r.Reserved, nil
}

// ReconcileStock recomputes one SKU's quantity from the ledger and
// overwrites the stored value when they disagree. Never partial: the
// correction is the full delta or nothing. No-op when already consistent.
//
// Runs inside the caller's transaction; the stock row lock makes the
// recompute-and-overwrite atomic against concurrent ledger appends.
func ReconcileStock(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, stockId int) (*ReconcileResult, error) {
	organizationId, ok := utils.GetOrganizationIdFromContext(ctx)
	if !ok || organizationId == "" {
		return nil, utils.ErrOrganizationIdRequired
	}

	stock, err := models.LockStockForUpdate(tx, organizationId, stockId)
	if err != nil {
		return nil, err
	}
	if stock.Frozen() {
		return nil, utils.ErrStockFrozen
	}

	entries, err := models.ActiveIoLogsForStock(tx, organizationId, stockId)
	if err != nil {
		return nil, err
	}
	expected := ComputeExpectedQuantity(entries)

	reserved, err := ReservedQuantityForStock(tx, organizationId, stockId)
	if err != nil {
		return nil, err
	}
	orderable := utils.RoundQuantity(ComputeOrderableQuantity(expected, reserved))

	result := &ReconcileResult{
		StockId:           stockId,
		PreviousQuantity:  stock.Quantity,
		CorrectedQuantity: expected,
		Delta:             expected.Sub(stock.Quantity),
	}

	if stock.Quantity.Equal(expected) && stock.OrderableQuantity.Equal(orderable) {
		return result, nil
	}

	warning := utils.ReconciliationWarning{
		StockId: stockId,
		Reason:  "stock quantity drifted from ledger",
		Before:  stock.Quantity,
		After:   expected,
	}
	config.LogWarning(logger, "stockReconciliation.go", "ReconcileStock", warning.String(), warning)

	if err := tx.Model(stock).Updates(map[string]interface{}{
		"Quantity":          expected,
		"OrderableQuantity": orderable,
	}).Error; err != nil {
		return nil, err
	}

	if !utils.IsRawWriteContext(ctx) {
		correlationId := utils.CorrelationIdFromContextOrNew(ctx)
		if err := models.EnqueueReindex(tx, organizationId, "stocks", stockId, correlationId); err != nil {
			return nil, err
		}
	}

	result.Corrected = true
	return result, nil
}

// BatchReconcileSummary aggregates a batch run.
type BatchReconcileSummary struct {
	Processed int `json:"processed"`
	Corrected int `json:"corrected"`
	Failed    int `json:"failed"`
	LastId    int `json:"last_id"`
}

// ReconcileOrganizationStocks walks every non-frozen SKU of one
// organization in primary-key order, reconciling each in its own
// transaction. Chunking by PK range keeps the batch resumable: an
// interrupted run restarts from the reported LastId with every completed
// SKU already consistent.
//
// A redis lock makes the batch single-flight per organization across
// instances; within a run SKUs are processed serially to avoid lock
// contention with request traffic.
func ReconcileOrganizationStocks(ctx context.Context, db *gorm.DB, logger *logrus.Logger, organizationId string, fromId int, chunkSize int, continueOnError bool) (*BatchReconcileSummary, error) {
	if organizationId == "" {
		return nil, utils.ErrOrganizationIdRequired
	}
	if chunkSize <= 0 {
		chunkSize = 500
	}

	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, fmt.Sprintf("stock-reconcile:%s", organizationId), 30*time.Minute, &redislock.Options{
			RetryStrategy: redislock.NoRetry(),
		})
		if err != nil {
			return nil, fmt.Errorf("another reconciliation is running for organization %s: %w", organizationId, err)
		}
		defer lock.Release(context.Background())
	}

	ctx = utils.SetOrganizationIdInContext(ctx, organizationId)
	summary := &BatchReconcileSummary{LastId: fromId}

	for {
		// Caller-supplied deadline bounds how much of the batch runs; each
		// SKU is atomic, so stopping between SKUs is always consistent.
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		var ids []int
		if err := db.Model(&models.Stock{}).
			Where("organization_id = ? AND id > ? AND is_frozen = 0", organizationId, summary.LastId).
			Order("id ASC").Limit(chunkSize).Pluck("id", &ids).Error; err != nil {
			return summary, err
		}
		if len(ids) == 0 {
			return summary, nil
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			var result *ReconcileResult
			err := db.Transaction(func(tx *gorm.DB) error {
				var txErr error
				result, txErr = ReconcileStock(ctx, tx, logger, id)
				return txErr
			})
			summary.LastId = id
			if err != nil {
				// Per-SKU isolation: one failure never aborts the batch.
				summary.Failed++
				config.LogError(logger, "stockReconciliation.go", "ReconcileOrganizationStocks", "reconcile failed", map[string]any{"stock_id": id}, err)
				if !continueOnError {
					return summary, err
				}
				continue
			}
			summary.Processed++
			if result != nil && result.Corrected {
				summary.Corrected++
			}
		}
	}
}
