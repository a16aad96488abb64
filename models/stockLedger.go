package models

import (
	"context"
	"time"

	"github.com/desniniranjan/fishing-sub002/config"
	"github.com/desniniranjan/fishing-sub002/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockLedgerEntry is one row of the append-only inventory movements ledger.
// Rows are never mutated or deleted; reconciliation replays their deltas
// against current product quantities.
type StockLedgerEntry struct {
	ID            string          `gorm:"size:36;primary_key" json:"id"` // uuid
	ProductId     int             `gorm:"index:idx_ledger_product_date,priority:1;not null" json:"product_id"`
	MovementType  MovementType    `gorm:"size:20;not null" json:"movement_type"`
	BoxDelta      int             `gorm:"not null;default:0" json:"box_delta"`
	KgDelta       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"kg_delta"`
	Reason        string          `gorm:"type:text" json:"reason"`
	SaleId        *int            `gorm:"index" json:"sale_id"`
	AuditRecordId *int            `gorm:"index" json:"audit_record_id"`
	PerformedBy   int             `gorm:"index;not null" json:"performed_by"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index:idx_ledger_product_date,priority:2" json:"created_at"`
}

type NewStockMovement struct {
	ProductId    int             `json:"product_id" binding:"required"`
	MovementType MovementType    `json:"movement_type" binding:"required"`
	BoxDelta     int             `json:"box_delta"`
	KgDelta      decimal.Decimal `json:"kg_delta"`
	Reason       string          `json:"reason" binding:"required"`
}

// AppendLedgerEntry writes a ledger row inside the caller's transaction.
// The ledger is the audit trail of record: a failed append fails the parent
// operation so stock never changes without its ledger row.
func AppendLedgerEntry(tx *gorm.DB, entry *StockLedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if err := entry.MovementType.Validate(); err != nil {
		return utils.NewValidationError(err.Error())
	}
	if entry.CorrelationId == "" {
		if cid, ok := utils.GetCorrelationIdFromContext(tx.Statement.Context); ok {
			entry.CorrelationId = cid
		}
	}
	if err := tx.Create(entry).Error; err != nil {
		return utils.NewPersistenceError("append ledger entry", err)
	}
	return nil
}

// LedgerBalance is the summed deltas for one product.
type LedgerBalance struct {
	ProductId int             `json:"product_id"`
	BoxDelta  int             `json:"box_delta"`
	KgDelta   decimal.Decimal `json:"kg_delta"`
}

// SumLedgerDeltas aggregates the ledger per product (all products when
// productId is zero).
func SumLedgerDeltas(ctx context.Context, db *gorm.DB, productId int) ([]*LedgerBalance, error) {
	var balances []*LedgerBalance
	dbCtx := db.WithContext(ctx).Model(&StockLedgerEntry{}).
		Select("product_id, SUM(box_delta) AS box_delta, SUM(kg_delta) AS kg_delta").
		Group("product_id")
	if productId > 0 {
		dbCtx = dbCtx.Where("product_id = ?", productId)
	}
	if err := dbCtx.Scan(&balances).Error; err != nil {
		return nil, utils.NewPersistenceError("sum ledger deltas", err)
	}
	return balances, nil
}

func GetLedgerEntries(ctx context.Context, productId int) ([]*StockLedgerEntry, error) {
	db := config.GetDB()
	var entries []*StockLedgerEntry
	dbCtx := db.WithContext(ctx).Order("created_at, id")
	if productId > 0 {
		dbCtx = dbCtx.Where("product_id = ?", productId)
	}
	if err := dbCtx.Find(&entries).Error; err != nil {
		return nil, utils.NewPersistenceError("list ledger entries", err)
	}
	return entries, nil
}
