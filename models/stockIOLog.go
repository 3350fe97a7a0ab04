package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/medexa/pharmadist_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var validate = validator.New()

// StockIOLog is one inventory movement record, tied to the purchase or
// sale that produced it. The ledger is append-only; after creation only
// the status may transition (and the rate during data repair).
//
// Quantity and Rate are recorded in whichever unit the operator used.
// SecondaryUnitFlag marks entries recorded in the secondary unit; such
// entries must be normalized through ConversionFactor before being
// compared to other entries of the same SKU.
type StockIOLog struct {
	ID                int             `gorm:"primary_key" json:"id"`
	OrganizationId    string          `gorm:"index;not null" json:"organization_id"`
	StockId           int             `gorm:"index;not null" json:"stock_id"`
	OrderId           int             `gorm:"index" json:"order_id"`
	Direction         IoDirection     `gorm:"type:enum('In','Out');not null" json:"direction"`
	Quantity          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	Rate              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"rate"`
	SecondaryUnitFlag *bool           `gorm:"not null;default:false" json:"secondary_unit_flag"`
	ConversionFactor  decimal.Decimal `gorm:"type:decimal(20,4);default:1" json:"conversion_factor"`
	DiscountRate      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_rate"`
	DiscountTotal     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"discount_total"`
	VatRate           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"vat_rate"`
	VatTotal          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"vat_total"`
	TaxRate           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_rate"`
	TaxTotal          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"tax_total"`
	Status            IoStatus        `gorm:"type:enum('Draft','Active','Inactive','Frozen','Cancelled');default:Active;index" json:"status"`
	IsDelivered       *bool           `gorm:"not null;default:false" json:"is_delivered"`
	IsReversal        bool            `gorm:"not null;default:false;index" json:"is_reversal"`
	ReversalReason    *string         `gorm:"type:text" json:"reversal_reason"`
	ReversesIoLogId   *int            `gorm:"index" json:"reverses_io_log_id"`
	ReversedByIoLogId *int            `gorm:"index" json:"reversed_by_io_log_id"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewStockIOLog is the input for a ledger append.
type NewStockIOLog struct {
	StockId           int             `json:"stock_id" validate:"required,gt=0"`
	OrderId           int             `json:"order_id"`
	Direction         IoDirection     `json:"direction" validate:"required"`
	Quantity          decimal.Decimal `json:"quantity"`
	Rate              decimal.Decimal `json:"rate"`
	SecondaryUnitFlag *bool           `json:"secondary_unit_flag"`
	ConversionFactor  decimal.Decimal `json:"conversion_factor"`
	DiscountRate      decimal.Decimal `json:"discount_rate"`
	DiscountTotal     decimal.Decimal `json:"discount_total"`
	VatRate           decimal.Decimal `json:"vat_rate"`
	VatTotal          decimal.Decimal `json:"vat_total"`
	TaxRate           decimal.Decimal `json:"tax_rate"`
	TaxTotal          decimal.Decimal `json:"tax_total"`
	Status            IoStatus        `json:"status"`
}

// Validate rejects bad appends before anything is persisted.
func (input *NewStockIOLog) Validate() error {
	if err := validate.Struct(input); err != nil {
		return err
	}
	if !input.Direction.Valid() {
		return utils.ErrInvalidDirection
	}
	if !input.Quantity.IsPositive() {
		return utils.ErrNegativeQuantity
	}
	if input.ConversionFactor.IsZero() || input.ConversionFactor.IsNegative() {
		return utils.ErrInvalidConversionFactor
	}
	return nil
}

func (input *NewStockIOLog) secondary() bool {
	return input.SecondaryUnitFlag != nil && *input.SecondaryUnitFlag
}

// ToStockIOLog builds the entry row. Callers are expected to have run
// Validate first; the conversion factor is known non-zero here.
func (input *NewStockIOLog) ToStockIOLog(organizationId string) StockIOLog {
	status := input.Status
	if status == "" {
		status = IoStatusActive
	}
	secondaryFlag := input.secondary()
	return StockIOLog{
		OrganizationId:    organizationId,
		StockId:           input.StockId,
		OrderId:           input.OrderId,
		Direction:         input.Direction,
		Quantity:          input.Quantity,
		Rate:              input.Rate,
		SecondaryUnitFlag: &secondaryFlag,
		ConversionFactor:  input.ConversionFactor,
		DiscountRate:      input.DiscountRate,
		DiscountTotal:     input.DiscountTotal,
		VatRate:           input.VatRate,
		VatTotal:          input.VatTotal,
		TaxRate:           input.TaxRate,
		TaxTotal:          input.TaxTotal,
		Status:            status,
	}
}

func (io *StockIOLog) recordedInSecondaryUnit() bool {
	return io.SecondaryUnitFlag != nil && *io.SecondaryUnitFlag
}

// EffectiveQuantity is the entry quantity normalized to the primary unit:
// quantity / conversion_factor for secondary-unit entries, else quantity
// unchanged. All reconciliation sums use this value.
func (io *StockIOLog) EffectiveQuantity() decimal.Decimal {
	if io.recordedInSecondaryUnit() {
		q, err := utils.DivideByFactor(io.Quantity, io.ConversionFactor)
		if err != nil {
			// Factor was validated at append time; a zero here is corrupt
			// data and contributes nothing rather than poisoning the sum.
			return decimal.Zero
		}
		return q
	}
	return io.Quantity
}

// RateInPrimaryUnit normalizes the recorded rate the same way, so rates of
// different entries for one SKU are always comparable.
func (io *StockIOLog) RateInPrimaryUnit() (decimal.Decimal, error) {
	if io.recordedInSecondaryUnit() {
		return utils.DivideByFactor(io.Rate, io.ConversionFactor)
	}
	return io.Rate, nil
}

// SignedEffectiveQuantity applies the movement direction: positive for In,
// negative for Out.
func (io *StockIOLog) SignedEffectiveQuantity() decimal.Decimal {
	q := io.EffectiveQuantity()
	if io.Direction.Sign() < 0 {
		return q.Neg()
	}
	return q
}

// Reversed reports whether a later reversal entry cancels this one.
// Reversed entries are excluded from every reconciliation sum.
func (io *StockIOLog) Reversed() bool {
	return io.ReversedByIoLogId != nil
}

// CountsForReconciliation combines status and reversal checks. Both legs
// of a reversal pair drop out of the sums together.
func (io *StockIOLog) CountsForReconciliation() bool {
	return io.Status.CountsForStock() && !io.Reversed() && !io.IsReversal
}

// LineAmount is effective quantity times primary-unit rate.
func (io *StockIOLog) LineAmount() (decimal.Decimal, error) {
	rate, err := io.RateInPrimaryUnit()
	if err != nil {
		return decimal.Zero, err
	}
	return io.EffectiveQuantity().Mul(rate), nil
}

// LineDiscount prefers the explicitly stored discount total; when absent it
// derives quantity * rate * discount_rate / 100 on normalized values.
func (io *StockIOLog) LineDiscount() (decimal.Decimal, error) {
	if !io.DiscountTotal.IsZero() {
		return io.DiscountTotal, nil
	}
	if io.DiscountRate.IsZero() {
		return decimal.Zero, nil
	}
	amount, err := io.LineAmount()
	if err != nil {
		return decimal.Zero, err
	}
	return utils.PercentOf(amount, io.DiscountRate), nil
}

// LineVat and LineTax follow the same stored-total-wins rule as LineDiscount.
func (io *StockIOLog) LineVat() (decimal.Decimal, error) {
	if !io.VatTotal.IsZero() {
		return io.VatTotal, nil
	}
	if io.VatRate.IsZero() {
		return decimal.Zero, nil
	}
	amount, err := io.LineAmount()
	if err != nil {
		return decimal.Zero, err
	}
	return utils.PercentOf(amount, io.VatRate), nil
}

func (io *StockIOLog) LineTax() (decimal.Decimal, error) {
	if !io.TaxTotal.IsZero() {
		return io.TaxTotal, nil
	}
	if io.TaxRate.IsZero() {
		return decimal.Zero, nil
	}
	amount, err := io.LineAmount()
	if err != nil {
		return decimal.Zero, err
	}
	return utils.PercentOf(amount, io.TaxRate), nil
}

// LatestIoLog returns the most recent countable entry for the SKU in the
// given direction, ordered by id descending. Insertion order, not
// timestamp: timestamps can collide or be backdated.
func LatestIoLog(tx *gorm.DB, organizationId string, stockId int, direction IoDirection, extraFilter map[string]any) (*StockIOLog, error) {
	query := tx.Where(
		"organization_id = ? AND stock_id = ? AND direction = ? AND status IN (?) AND is_reversal = 0 AND reversed_by_io_log_id IS NULL",
		organizationId, stockId, direction, []IoStatus{IoStatusActive, IoStatusFrozen},
	)
	for field, value := range extraFilter {
		query = query.Where(field+" = ?", value)
	}
	var entry StockIOLog
	if err := query.Order("id DESC").First(&entry).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// ActiveIoLogsForStock loads every countable entry for one SKU, oldest
// first. Reconciliation recomputes from ledger inception each time.
func ActiveIoLogsForStock(tx *gorm.DB, organizationId string, stockId int) ([]StockIOLog, error) {
	var entries []StockIOLog
	if err := tx.Where(
		"organization_id = ? AND stock_id = ? AND status IN (?) AND is_reversal = 0 AND reversed_by_io_log_id IS NULL",
		organizationId, stockId, []IoStatus{IoStatusActive, IoStatusFrozen},
	).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ActiveIoLogsForOrder loads the countable entries owned by one order.
func ActiveIoLogsForOrder(tx *gorm.DB, organizationId string, orderId int) ([]StockIOLog, error) {
	var entries []StockIOLog
	if err := tx.Where(
		"organization_id = ? AND order_id = ? AND status IN (?) AND is_reversal = 0 AND reversed_by_io_log_id IS NULL",
		organizationId, orderId, []IoStatus{IoStatusActive, IoStatusFrozen},
	).Order("id ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
