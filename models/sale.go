package models

import (
	"context"
	"time"

	"github.com/desniniranjan/fishing-sub002/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Sale records quantities actually deducted and the unit prices applied at
// sale time. Prices are immutable per-sale snapshots: later catalog price
// changes never alter a stored sale.
//
// A sale is never updated or deleted directly after creation; every
// post-creation change goes through an AuditRecord.
type Sale struct {
	ID              int             `gorm:"primary_key" json:"id"`
	ProductId       int             `gorm:"index;not null" json:"product_id"`
	BoxesSold       int             `gorm:"not null;default:0" json:"boxes_sold"`
	KgSold          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"kg_sold"`
	BoxUnitPrice    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"box_unit_price"`
	KgUnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"kg_unit_price"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	AmountPaid      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_paid"`
	RemainingAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"remaining_amount"`
	PaymentStatus   PaymentStatus   `gorm:"size:10;not null" json:"payment_status"`
	ClientName      string          `gorm:"size:255" json:"client_name"`
	ClientPhone     string          `gorm:"size:20" json:"client_phone"`
	PerformedBy     int             `gorm:"index;not null" json:"performed_by"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSale struct {
	ProductId     int             `json:"product_id" binding:"required"`
	BoxesSold     int             `json:"boxes_sold"`
	KgSold        decimal.Decimal `json:"kg_sold"`
	BoxUnitPrice  decimal.Decimal `json:"box_unit_price"`
	KgUnitPrice   decimal.Decimal `json:"kg_unit_price"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentStatus PaymentStatus   `json:"payment_status" binding:"required"`
	ClientName    string          `json:"client_name"`
	ClientPhone   string          `json:"client_phone"`
}

// SaleTotal computes the sale amount from quantities and unit prices.
func SaleTotal(boxes int, kg, boxPrice, kgPrice decimal.Decimal) decimal.Decimal {
	return boxPrice.Mul(decimal.NewFromInt(int64(boxes))).Add(kgPrice.Mul(kg))
}

// DerivePayment returns (amountPaid, remainingAmount) for a payment status.
// PAID settles the full total regardless of the paid input; PENDING owes it
// all; PARTIAL owes the difference.
func DerivePayment(status PaymentStatus, total, paid decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	switch status {
	case PaymentStatusPaid:
		return total, decimal.Zero, nil
	case PaymentStatusPending:
		return decimal.Zero, total, nil
	case PaymentStatusPartial:
		if !paid.IsPositive() || paid.GreaterThanOrEqual(total) {
			return decimal.Zero, decimal.Zero,
				utils.NewValidationError("partial payment must be between zero and the total amount")
		}
		return paid, total.Sub(paid), nil
	default:
		return decimal.Zero, decimal.Zero, utils.NewValidationError("invalid payment status")
	}
}

// Validate checks everything about the input that does not require stock.
func (input *NewSale) Validate(_ context.Context) error {
	if input.BoxesSold < 0 || input.KgSold.IsNegative() {
		return utils.NewValidationError("sale quantities cannot be negative")
	}
	if input.BoxesSold == 0 && input.KgSold.IsZero() {
		return utils.NewValidationError("sale must include boxes or kilograms")
	}
	if input.BoxUnitPrice.IsNegative() || input.KgUnitPrice.IsNegative() {
		return utils.NewValidationError("unit prices cannot be negative")
	}
	if err := input.PaymentStatus.Validate(); err != nil {
		return utils.NewValidationError(err.Error())
	}
	// Unpaid sales must name the client so the balance can be collected.
	if input.PaymentStatus != PaymentStatusPaid && input.ClientName == "" {
		return utils.NewValidationError("client name is required unless the sale is fully paid")
	}
	if input.ClientPhone != "" {
		if err := utils.ValidatePhoneNumber(input.ClientPhone, utils.CountryCode); err != nil {
			return utils.NewValidationError("client phone is not valid")
		}
	}
	return nil
}

func GetSale(ctx context.Context, id int) (*Sale, error) {
	return utils.FetchSingleModel[Sale](ctx, id)
}

func GetSales(ctx context.Context) ([]*Sale, error) {
	return utils.FetchAllModels[Sale](ctx)
}

// GetSaleTx reads the sale inside the caller's transaction.
func GetSaleTx(tx *gorm.DB, id int) (*Sale, error) {
	var sale Sale
	if err := tx.First(&sale, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, utils.NewPersistenceError("fetch sale", err)
	}
	return &sale, nil
}

// SaleSnapshot is the full before/after image persisted on audit records.
type SaleSnapshot struct {
	ProductId       int             `json:"product_id"`
	BoxesSold       int             `json:"boxes_sold"`
	KgSold          decimal.Decimal `json:"kg_sold"`
	BoxUnitPrice    decimal.Decimal `json:"box_unit_price"`
	KgUnitPrice     decimal.Decimal `json:"kg_unit_price"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	ClientName      string          `json:"client_name"`
	ClientPhone     string          `json:"client_phone"`
}

func (s *Sale) Snapshot() SaleSnapshot {
	return SaleSnapshot{
		ProductId:       s.ProductId,
		BoxesSold:       s.BoxesSold,
		KgSold:          s.KgSold,
		BoxUnitPrice:    s.BoxUnitPrice,
		KgUnitPrice:     s.KgUnitPrice,
		TotalAmount:     s.TotalAmount,
		AmountPaid:      s.AmountPaid,
		RemainingAmount: s.RemainingAmount,
		PaymentStatus:   s.PaymentStatus,
		ClientName:      s.ClientName,
		ClientPhone:     s.ClientPhone,
	}
}
