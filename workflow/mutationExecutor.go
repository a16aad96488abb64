package workflow

import (
	"fmt"

	"github.com/desniniranjan/fishing-sub002/models"
	"github.com/desniniranjan/fishing-sub002/utils"
	"gorm.io/gorm"
)

// ExecuteApprovedChange applies an approved proposal inside the caller's
// transaction, dispatching on the change type. Any failure rolls the whole
// approval back with it.
func ExecuteApprovedChange(tx *gorm.DB, userId int, record *models.AuditRecord) error {
	switch record.ChangeType {
	case models.ChangeTypeDeletion:
		return executeDeletion(tx, userId, record)
	case models.ChangeTypeQuantityChange, models.ChangeTypePaymentUpdate:
		return executeUpdate(tx, userId, record)
	default:
		return utils.NewValidationError("invalid change type %q", record.ChangeType)
	}
}

// executeDeletion restores the sold quantities to the product, deletes the
// sale row and appends a reversal ledger entry. The restore only increases
// stock, so no feasibility check is needed; the product must still exist.
func executeDeletion(tx *gorm.DB, userId int, record *models.AuditRecord) error {
	oldSnap, err := record.OldSnapshot()
	if err != nil {
		return err
	}

	product, err := models.GetProductTx(tx, oldSnap.ProductId)
	if err != nil {
		return err
	}
	applied, err := models.ApplyStockSnapshot(tx, product.ID, product.Boxes, product.LooseKg,
		product.Boxes+oldSnap.BoxesSold, product.LooseKg.Add(oldSnap.KgSold))
	if err != nil {
		return err
	}
	if !applied {
		return utils.NewPersistenceError("restore stock",
			fmt.Errorf("stock changed concurrently for product_id=%d", product.ID))
	}

	res := tx.Delete(&models.Sale{}, record.SaleId)
	if res.Error != nil {
		return utils.NewPersistenceError("delete sale", res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}

	entry := models.StockLedgerEntry{
		ProductId:     oldSnap.ProductId,
		MovementType:  models.MovementTypeReversal,
		BoxDelta:      oldSnap.BoxesSold,
		KgDelta:       oldSnap.KgSold,
		Reason:        record.Reason,
		AuditRecordId: &record.ID,
		PerformedBy:   userId,
	}
	return models.AppendLedgerEntry(tx, &entry)
}

// executeUpdate rewrites the sale from the approved new values. For a
// quantity change the new quantities are replanned as if the original sale
// were first reversed, so unboxing applies the same way it did at sale time.
// Amounts are recomputed from the sale's original unit prices, never the
// current catalog.
func executeUpdate(tx *gorm.DB, userId int, record *models.AuditRecord) error {
	oldSnap, err := record.OldSnapshot()
	if err != nil {
		return err
	}
	newSnap, err := record.NewSnapshot()
	if err != nil {
		return err
	}

	sale, err := models.GetSaleTx(tx, record.SaleId)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}

	if record.ChangeType == models.ChangeTypeQuantityChange {
		product, err := models.GetProductTx(tx, oldSnap.ProductId)
		if err != nil {
			return err
		}
		// Replan against current stock with the original reservation
		// restored, so unboxing applies at execution exactly as it did at
		// proposal feasibility.
		plan, err := PlanDeduction(
			product.Boxes+oldSnap.BoxesSold,
			product.LooseKg.Add(oldSnap.KgSold),
			product.BoxToKgRatio,
			newSnap.BoxesSold,
			newSnap.KgSold,
		)
		if err != nil {
			return err
		}
		applied, err := models.ApplyStockSnapshot(tx, product.ID, product.Boxes, product.LooseKg, plan.NewBoxes, plan.NewLooseKg)
		if err != nil {
			return err
		}
		if !applied {
			return utils.NewPersistenceError("adjust stock",
				fmt.Errorf("stock changed concurrently for product_id=%d", product.ID))
		}

		newTotal := models.SaleTotal(newSnap.BoxesSold, newSnap.KgSold, sale.BoxUnitPrice, sale.KgUnitPrice)
		amountPaid, remaining, err := models.DerivePayment(newSnap.PaymentStatus, newTotal, newSnap.AmountPaid)
		if err != nil {
			return err
		}
		updates["boxes_sold"] = newSnap.BoxesSold
		updates["kg_sold"] = newSnap.KgSold
		updates["total_amount"] = newTotal
		updates["amount_paid"] = amountPaid
		updates["remaining_amount"] = remaining
		updates["payment_status"] = newSnap.PaymentStatus

		// Net stock movement recorded as a correction linked to the record.
		entry := models.StockLedgerEntry{
			ProductId:     oldSnap.ProductId,
			MovementType:  models.MovementTypeCorrection,
			BoxDelta:      plan.NewBoxes - product.Boxes,
			KgDelta:       plan.NewLooseKg.Sub(product.LooseKg),
			Reason:        record.Reason,
			SaleId:        &sale.ID,
			AuditRecordId: &record.ID,
			PerformedBy:   userId,
		}
		if err := models.AppendLedgerEntry(tx, &entry); err != nil {
			return err
		}
	} else {
		// Payment-only edit: no inventory effect, no ledger entry.
		amountPaid, remaining, err := models.DerivePayment(newSnap.PaymentStatus, sale.TotalAmount, newSnap.AmountPaid)
		if err != nil {
			return err
		}
		updates["amount_paid"] = amountPaid
		updates["remaining_amount"] = remaining
		updates["payment_status"] = newSnap.PaymentStatus
	}

	if err := tx.Model(&models.Sale{}).Where("id = ?", sale.ID).Updates(updates).Error; err != nil {
		return utils.NewPersistenceError("update sale", err)
	}
	return nil
}
