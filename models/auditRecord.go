package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/desniniranjan/fishing-sub002/config"
	"github.com/desniniranjan/fishing-sub002/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AuditRecord is a pending proposal to change or delete a historical sale.
// It holds full before/after snapshots of the sale and transitions exactly
// once, pending -> approved/rejected. Approval is recorded only after the
// mutation executor has applied the change.
type AuditRecord struct {
	ID                int             `gorm:"primary_key" json:"id"`
	SaleId            int             `gorm:"index;not null" json:"sale_id"`
	ChangeType        ChangeType      `gorm:"size:20;not null" json:"change_type"`
	BoxesDelta        int             `gorm:"not null;default:0" json:"boxes_delta"`
	KgDelta           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"kg_delta"`
	Reason            string          `gorm:"type:text;not null" json:"reason"`
	OldValues         string          `gorm:"type:text" json:"old_values"`
	NewValues         string          `gorm:"type:text" json:"new_values"`
	ApprovalStatus    ApprovalStatus  `gorm:"size:10;not null;index" json:"approval_status"`
	RequestedBy       int             `gorm:"index;not null" json:"requested_by"`
	ApprovedBy        *int            `json:"approved_by"`
	ApprovalTimestamp *time.Time      `json:"approval_timestamp"`
	ApprovalReason    *string         `gorm:"type:text" json:"approval_reason"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// NewAuditRecord is the requested change. NewValues is ignored for DELETION.
type NewAuditRecord struct {
	SaleId     int         `json:"sale_id" binding:"required"`
	ChangeType ChangeType  `json:"change_type" binding:"required"`
	Reason     string      `json:"reason" binding:"required"`
	NewValues  *SaleChange `json:"new_values"`
}

// SaleChange carries the fields a proposal may modify.
type SaleChange struct {
	BoxesSold     int             `json:"boxes_sold"`
	KgSold        decimal.Decimal `json:"kg_sold"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
}

func (a *AuditRecord) OldSnapshot() (SaleSnapshot, error) {
	var snap SaleSnapshot
	if err := json.Unmarshal([]byte(a.OldValues), &snap); err != nil {
		return snap, utils.NewPersistenceError("decode old values", err)
	}
	return snap, nil
}

func (a *AuditRecord) NewSnapshot() (SaleSnapshot, error) {
	var snap SaleSnapshot
	if a.NewValues == "" {
		return snap, utils.NewValidationError("audit record has no new values")
	}
	if err := json.Unmarshal([]byte(a.NewValues), &snap); err != nil {
		return snap, utils.NewPersistenceError("decode new values", err)
	}
	return snap, nil
}

func GetAuditRecord(ctx context.Context, id int) (*AuditRecord, error) {
	return utils.FetchSingleModel[AuditRecord](ctx, id)
}

func GetPendingAuditRecords(ctx context.Context) ([]*AuditRecord, error) {
	db := config.GetDB()
	var records []*AuditRecord
	if err := db.WithContext(ctx).
		Where("approval_status = ?", ApprovalStatusPending).
		Order("created_at").
		Find(&records).Error; err != nil {
		return nil, utils.NewPersistenceError("list pending audit records", err)
	}
	return records, nil
}

// MarkDecided performs the single conditional update that guards the
// terminal transition. Zero rows affected means another decider won.
func MarkDecided(tx *gorm.DB, id int, status ApprovalStatus, decidedBy int, reason string) (bool, error) {
	now := time.Now().UTC()
	res := tx.Model(&AuditRecord{}).
		Where("id = ? AND approval_status = ?", id, ApprovalStatusPending).
		Updates(map[string]interface{}{
			"approval_status":    status,
			"approved_by":        decidedBy,
			"approval_timestamp": &now,
			"approval_reason":    reason,
		})
	if res.Error != nil {
		return false, utils.NewPersistenceError("mark audit record decided", res.Error)
	}
	return res.RowsAffected > 0, nil
}
