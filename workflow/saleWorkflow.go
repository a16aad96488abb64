package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/desniniranjan/fishing-sub002/config"
	"github.com/desniniranjan/fishing-sub002/models"
	"github.com/desniniranjan/fishing-sub002/utils"
	"gorm.io/gorm"
)

const stockWriteRetries = 3

// CreateSale validates the request, plans the deduction against the current
// stock snapshot and persists the sale, the product quantities and the
// ledger entry in one transaction. Unit prices are snapshotted on the sale
// row and never re-read from the catalog afterwards.
func CreateSale(ctx context.Context, input *models.NewSale) (*models.Sale, error) {

	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	if err := input.Validate(ctx); err != nil {
		return nil, err
	}
	// Product must exist before we open the posting transaction.
	if err := utils.ValidateResourceId[models.Product](ctx, input.ProductId); err != nil {
		return nil, err
	}

	// Redis lock is a best-effort optimization; posting is also serialized
	// via the MySQL advisory lock below.
	release, _ := utils.ProductLock(ctx, input.ProductId, "saleWorkflow.go", "CreateSale")
	defer release()

	// The advisory lock is connection-scoped, so acquire it on a pinned
	// connection outside the transaction and hold it until after commit;
	// the next writer then always plans against committed stock.
	db := config.GetDB()
	var sale *models.Sale
	err := db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := AcquireProductPostingLock(conn, input.ProductId); err != nil {
			return utils.NewPersistenceError("acquire posting lock", err)
		}
		defer ReleaseProductPostingLock(conn, input.ProductId)

		tx := conn.Begin()
		if tx.Error != nil {
			return utils.NewPersistenceError("begin sale transaction", tx.Error)
		}
		created, err := createSaleInTx(tx, userId, input)
		if err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit().Error; err != nil {
			return utils.NewPersistenceError("commit sale transaction", err)
		}
		sale = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func createSaleInTx(tx *gorm.DB, userId int, input *models.NewSale) (*models.Sale, error) {

	var plan *DeductionPlan

	// Product quantities are written with a compare-and-swap against the
	// snapshot we planned on; a concurrent writer makes us re-read and
	// re-plan. Bounded because the advisory lock already serializes writers.
	for attempt := 0; ; attempt++ {
		product, err := models.GetProductTx(tx, input.ProductId)
		if err != nil {
			return nil, err
		}
		plan, err = PlanDeduction(product.Boxes, product.LooseKg, product.BoxToKgRatio, input.BoxesSold, input.KgSold)
		if err != nil {
			return nil, err
		}
		applied, err := models.ApplyStockSnapshot(tx, product.ID, product.Boxes, product.LooseKg, plan.NewBoxes, plan.NewLooseKg)
		if err != nil {
			return nil, err
		}
		if applied {
			break
		}
		if attempt+1 >= stockWriteRetries {
			return nil, utils.NewPersistenceError("apply stock snapshot",
				fmt.Errorf("stock changed concurrently %d times for product_id=%d", stockWriteRetries, input.ProductId))
		}
	}

	totalAmount := models.SaleTotal(input.BoxesSold, input.KgSold, input.BoxUnitPrice, input.KgUnitPrice)
	amountPaid, remaining, err := models.DerivePayment(input.PaymentStatus, totalAmount, input.AmountPaid)
	if err != nil {
		return nil, err
	}

	sale := models.Sale{
		ProductId:       input.ProductId,
		BoxesSold:       input.BoxesSold,
		KgSold:          input.KgSold,
		BoxUnitPrice:    input.BoxUnitPrice,
		KgUnitPrice:     input.KgUnitPrice,
		TotalAmount:     totalAmount,
		AmountPaid:      amountPaid,
		RemainingAmount: remaining,
		PaymentStatus:   input.PaymentStatus,
		ClientName:      input.ClientName,
		ClientPhone:     input.ClientPhone,
		PerformedBy:     userId,
	}
	if err := tx.Create(&sale).Error; err != nil {
		return nil, utils.NewPersistenceError("create sale", err)
	}

	// Ledger append participates in the transaction: stock never changes
	// without its ledger row.
	entry := models.StockLedgerEntry{
		ProductId:    sale.ProductId,
		MovementType: models.MovementTypeSale,
		BoxDelta:     plan.BoxDelta,
		KgDelta:      plan.KgDelta,
		Reason:       fmt.Sprintf("sale #%d", sale.ID),
		SaleId:       &sale.ID,
		PerformedBy:  userId,
	}
	if err := models.AppendLedgerEntry(tx, &entry); err != nil {
		return nil, err
	}

	return &sale, nil
}
