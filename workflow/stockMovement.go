package workflow

import (
	"context"
	"errors"

	"github.com/desniniranjan/fishing-sub002/config"
	"github.com/desniniranjan/fishing-sub002/models"
	"github.com/desniniranjan/fishing-sub002/utils"
	"gorm.io/gorm"
)

// RecordStockMovement applies an operator-recorded movement (addition,
// damage, correction) to the product and appends the ledger row in one
// transaction. SALE and REVERSAL rows never come through here.
func RecordStockMovement(ctx context.Context, input *models.NewStockMovement) (*models.StockLedgerEntry, error) {

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	if err := input.MovementType.Validate(); err != nil {
		return nil, utils.NewValidationError(err.Error())
	}
	manual := false
	for _, t := range models.ManualMovementTypes {
		if t == input.MovementType {
			manual = true
			break
		}
	}
	if !manual {
		return nil, utils.NewValidationError("movement type %q cannot be recorded manually", input.MovementType)
	}
	if input.Reason == "" {
		return nil, utils.NewValidationError("reason is required")
	}
	if input.BoxDelta == 0 && input.KgDelta.IsZero() {
		return nil, utils.NewValidationError("movement must change boxes or kilograms")
	}
	if input.MovementType == models.MovementTypeAddition && (input.BoxDelta < 0 || input.KgDelta.IsNegative()) {
		return nil, utils.NewValidationError("addition deltas must not be negative")
	}
	if input.MovementType == models.MovementTypeDamage && (input.BoxDelta > 0 || input.KgDelta.IsPositive()) {
		return nil, utils.NewValidationError("damage deltas must not be positive")
	}
	if err := utils.ValidateResourceId[models.Product](ctx, input.ProductId); err != nil {
		return nil, err
	}

	release, _ := utils.ProductLock(ctx, input.ProductId, "stockMovement.go", "RecordStockMovement")
	defer release()

	// Advisory lock on a pinned connection, held past commit (see
	// CreateSale for why).
	db := config.GetDB()
	var entry *models.StockLedgerEntry
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := AcquireProductPostingLock(conn, input.ProductId); err != nil {
			return utils.NewPersistenceError("acquire posting lock", err)
		}
		defer ReleaseProductPostingLock(conn, input.ProductId)

		tx := conn.Begin()
		if tx.Error != nil {
			return utils.NewPersistenceError("begin movement transaction", tx.Error)
		}

		product, err := models.GetProductTx(tx, input.ProductId)
		if err != nil {
			tx.Rollback()
			return err
		}
		newBoxes := product.Boxes + input.BoxDelta
		newLooseKg := product.LooseKg.Add(input.KgDelta)
		if newBoxes < 0 || newLooseKg.IsNegative() {
			tx.Rollback()
			return utils.NewValidationError("movement would drive stock negative")
		}
		applied, err := models.ApplyStockSnapshot(tx, product.ID, product.Boxes, product.LooseKg, newBoxes, newLooseKg)
		if err != nil {
			tx.Rollback()
			return err
		}
		if !applied {
			tx.Rollback()
			return utils.NewPersistenceError("apply stock snapshot",
				errors.New("stock changed concurrently"))
		}

		created := models.StockLedgerEntry{
			ProductId:    input.ProductId,
			MovementType: input.MovementType,
			BoxDelta:     input.BoxDelta,
			KgDelta:      input.KgDelta,
			Reason:       input.Reason,
			PerformedBy:  userId,
		}
		if err := models.AppendLedgerEntry(tx, &created); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit().Error; err != nil {
			return utils.NewPersistenceError("commit movement transaction", err)
		}
		entry = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
