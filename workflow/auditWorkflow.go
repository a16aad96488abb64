package workflow

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/desniniranjan/fishing-sub002/config"
	"github.com/desniniranjan/fishing-sub002/models"
	"github.com/desniniranjan/fishing-sub002/utils"
	"gorm.io/gorm"
)

// ProposeChange records a requested edit/delete of an existing sale as a
// pending audit record. Nothing else is touched: the sale and the product
// only change when the record is approved.
func ProposeChange(ctx context.Context, input *models.NewAuditRecord) (*models.AuditRecord, error) {

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	if err := input.ChangeType.Validate(); err != nil {
		return nil, utils.NewValidationError(err.Error())
	}
	if input.Reason == "" {
		return nil, utils.NewValidationError("reason is required")
	}

	sale, err := models.GetSale(ctx, input.SaleId)
	if err != nil {
		return nil, err
	}
	product, err := models.GetProduct(ctx, sale.ProductId)
	if err != nil {
		return nil, err
	}

	record := models.AuditRecord{
		SaleId:         sale.ID,
		ChangeType:     input.ChangeType,
		Reason:         input.Reason,
		ApprovalStatus: models.ApprovalStatusPending,
		RequestedBy:    userId,
	}

	oldSnap := sale.Snapshot()
	oldInByte, err := json.Marshal(oldSnap)
	if err != nil {
		return nil, err
	}
	record.OldValues = string(oldInByte)

	switch input.ChangeType {
	case models.ChangeTypeQuantityChange:
		if input.NewValues == nil {
			return nil, utils.NewValidationError("new values are required for a quantity change")
		}
		change := input.NewValues
		if change.BoxesSold < 0 || change.KgSold.IsNegative() {
			return nil, utils.NewValidationError("sale quantities cannot be negative")
		}
		if change.BoxesSold == 0 && change.KgSold.IsZero() {
			return nil, utils.NewValidationError("sale must include boxes or kilograms")
		}
		if err := change.PaymentStatus.Validate(); err != nil {
			return nil, utils.NewValidationError(err.Error())
		}

		// Feasibility as if the original sale were first reversed: the
		// quantities it already reserved are available to the new ones.
		if _, err := PlanDeduction(
			product.Boxes+sale.BoxesSold,
			product.LooseKg.Add(sale.KgSold),
			product.BoxToKgRatio,
			change.BoxesSold,
			change.KgSold,
		); err != nil {
			return nil, err
		}

		// New total at the sale's original unit prices; prices are never
		// re-derived from the catalog.
		newTotal := models.SaleTotal(change.BoxesSold, change.KgSold, sale.BoxUnitPrice, sale.KgUnitPrice)
		amountPaid, remaining, err := models.DerivePayment(change.PaymentStatus, newTotal, change.AmountPaid)
		if err != nil {
			return nil, err
		}
		newSnap := oldSnap
		newSnap.BoxesSold = change.BoxesSold
		newSnap.KgSold = change.KgSold
		newSnap.TotalAmount = newTotal
		newSnap.AmountPaid = amountPaid
		newSnap.RemainingAmount = remaining
		newSnap.PaymentStatus = change.PaymentStatus
		newInByte, err := json.Marshal(newSnap)
		if err != nil {
			return nil, err
		}
		record.NewValues = string(newInByte)
		record.BoxesDelta = change.BoxesSold - sale.BoxesSold
		record.KgDelta = change.KgSold.Sub(sale.KgSold)

	case models.ChangeTypePaymentUpdate:
		if input.NewValues == nil {
			return nil, utils.NewValidationError("new values are required for a payment update")
		}
		change := input.NewValues
		if err := change.PaymentStatus.Validate(); err != nil {
			return nil, utils.NewValidationError(err.Error())
		}
		amountPaid, remaining, err := models.DerivePayment(change.PaymentStatus, sale.TotalAmount, change.AmountPaid)
		if err != nil {
			return nil, err
		}
		newSnap := oldSnap
		newSnap.AmountPaid = amountPaid
		newSnap.RemainingAmount = remaining
		newSnap.PaymentStatus = change.PaymentStatus
		newInByte, err := json.Marshal(newSnap)
		if err != nil {
			return nil, err
		}
		record.NewValues = string(newInByte)
		// Payment edits carry no quantity deltas.

	case models.ChangeTypeDeletion:
		// Full original quantities, restored on approval. NewValues absent.
		record.BoxesDelta = sale.BoxesSold
		record.KgDelta = sale.KgSold
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, utils.NewPersistenceError("create audit record", err)
	}
	return &record, nil
}

// Decide resolves a pending audit record. Rejection only stamps the record.
// Approval executes the proposed mutation first and records the approval in
// the same transaction, so an approval is never stored without its effect;
// if execution fails the record stays pending.
//
// The pending -> approved/rejected transition is guarded by a conditional
// update: of two concurrent deciders at most one wins, the other gets
// AlreadyProcessed.
func Decide(ctx context.Context, auditId int, decision models.Decision, reason string) (*models.AuditRecord, error) {

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	if err := decision.Validate(); err != nil {
		return nil, utils.NewValidationError(err.Error())
	}

	record, err := models.GetAuditRecord(ctx, auditId)
	if err != nil {
		return nil, err
	}
	if record.ApprovalStatus != models.ApprovalStatusPending {
		return nil, utils.ErrorAlreadyProcessed
	}

	oldSnap, err := record.OldSnapshot()
	if err != nil {
		return nil, err
	}

	// Advisory lock on a pinned connection, held past commit (see
	// CreateSale for why).
	db := config.GetDB()
	err = db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := AcquireProductPostingLock(conn, oldSnap.ProductId); err != nil {
			return utils.NewPersistenceError("acquire posting lock", err)
		}
		defer ReleaseProductPostingLock(conn, oldSnap.ProductId)

		tx := conn.Begin()
		if tx.Error != nil {
			return utils.NewPersistenceError("begin decide transaction", tx.Error)
		}

		if decision == models.DecisionApprove {
			// Executor runs first; the approval below rolls back with it.
			if err := ExecuteApprovedChange(tx, userId, record); err != nil {
				tx.Rollback()
				return err
			}
		}

		status := models.ApprovalStatusApproved
		if decision == models.DecisionReject {
			status = models.ApprovalStatusRejected
		}
		won, err := models.MarkDecided(tx, record.ID, status, userId, reason)
		if err != nil {
			tx.Rollback()
			return err
		}
		if !won {
			tx.Rollback()
			return utils.ErrorAlreadyProcessed
		}

		if err := tx.Commit().Error; err != nil {
			return utils.NewPersistenceError("commit decide transaction", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return models.GetAuditRecord(ctx, auditId)
}
