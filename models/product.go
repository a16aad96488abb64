package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desniniranjan/fishing-sub002/config"
	"github.com/desniniranjan/fishing-sub002/utils"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is the inventory unit: whole boxes plus loose kilograms, with a
// fixed box-to-kg ratio used to convert between the two.
type Product struct {
	ID              int             `gorm:"primary_key" json:"id"`
	Name            string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Sku             string          `gorm:"size:100;not null;uniqueIndex" json:"sku"`
	Boxes           int             `gorm:"not null;default:0" json:"boxes"`
	LooseKg         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"loose_kg"`
	BoxToKgRatio    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"box_to_kg_ratio"`
	UnitCostPerBox  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost_per_box"`
	UnitCostPerKg   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost_per_kg"`
	UnitPricePerBox decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price_per_box"`
	UnitPricePerKg  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price_per_kg"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProduct struct {
	Name            string          `json:"name" binding:"required"`
	Sku             string          `json:"sku"`
	Boxes           int             `json:"boxes"`
	LooseKg         decimal.Decimal `json:"loose_kg"`
	BoxToKgRatio    decimal.Decimal `json:"box_to_kg_ratio" binding:"required"`
	UnitCostPerBox  decimal.Decimal `json:"unit_cost_per_box"`
	UnitCostPerKg   decimal.Decimal `json:"unit_cost_per_kg"`
	UnitPricePerBox decimal.Decimal `json:"unit_price_per_box"`
	UnitPricePerKg  decimal.Decimal `json:"unit_price_per_kg"`
}

// TotalAvailableKg is the product's kilogram-equivalent on hand.
func (p *Product) TotalAvailableKg() decimal.Decimal {
	return p.LooseKg.Add(p.BoxToKgRatio.Mul(decimal.NewFromInt(int64(p.Boxes))))
}

func productCacheKey(id int) string {
	return fmt.Sprintf("Product:%d", id)
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// validate input for both create & update. (id = 0 for create)
func (input *NewProduct) validate(_ context.Context, _ int) error {
	if input.Sku == "" {
		return utils.NewValidationError("sku is required")
	}
	if !input.BoxToKgRatio.IsPositive() {
		return utils.NewValidationError("box to kg ratio must be positive")
	}
	if input.Boxes < 0 || input.LooseKg.IsNegative() {
		return utils.NewValidationError("stock quantities cannot be negative")
	}
	for name, d := range map[string]decimal.Decimal{
		"unit_cost_per_box":  input.UnitCostPerBox,
		"unit_cost_per_kg":   input.UnitCostPerKg,
		"unit_price_per_box": input.UnitPricePerBox,
		"unit_price_per_kg":  input.UnitPricePerKg,
	} {
		if d.IsNegative() {
			return utils.NewValidationError("%s cannot be negative", name)
		}
	}
	return nil
}

// CreateProduct stores the product and, when it starts with stock, the
// opening ledger entry in one transaction, so ledger sums always reproduce
// current quantities.
func CreateProduct(ctx context.Context, input *NewProduct) (*Product, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	product := Product{
		Name:            input.Name,
		Sku:             input.Sku,
		Boxes:           input.Boxes,
		LooseKg:         input.LooseKg,
		BoxToKgRatio:    input.BoxToKgRatio,
		UnitCostPerBox:  input.UnitCostPerBox,
		UnitCostPerKg:   input.UnitCostPerKg,
		UnitPricePerBox: input.UnitPricePerBox,
		UnitPricePerKg:  input.UnitPricePerKg,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, utils.NewPersistenceError("begin create product", tx.Error)
	}
	if err := tx.Create(&product).Error; err != nil {
		tx.Rollback()
		if isDuplicateKeyErr(err) {
			return nil, utils.NewValidationError("sku %q already exists", product.Sku)
		}
		return nil, utils.NewPersistenceError("create product", err)
	}
	if product.Boxes > 0 || product.LooseKg.IsPositive() {
		entry := StockLedgerEntry{
			ProductId:    product.ID,
			MovementType: MovementTypeAddition,
			BoxDelta:     product.Boxes,
			KgDelta:      product.LooseKg,
			Reason:       "opening stock",
			PerformedBy:  userId,
		}
		if err := AppendLedgerEntry(tx, &entry); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, utils.NewPersistenceError("commit create product", err)
	}
	return &product, nil
}

// UpdateProduct changes catalog fields only. Stock quantities are mutated
// exclusively by the sale engine, the mutation executor and manual stock
// movements; prices snapshotted on existing sales are untouched.
func UpdateProduct(ctx context.Context, id int, input *NewProduct) (*Product, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}
	product, err := utils.FetchSingleModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	updates := map[string]interface{}{
		"name":               input.Name,
		"sku":                input.Sku,
		"box_to_kg_ratio":    input.BoxToKgRatio,
		"unit_cost_per_box":  input.UnitCostPerBox,
		"unit_cost_per_kg":   input.UnitCostPerKg,
		"unit_price_per_box": input.UnitPricePerBox,
		"unit_price_per_kg":  input.UnitPricePerKg,
	}
	if err := db.WithContext(ctx).Model(&Product{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		if isDuplicateKeyErr(err) {
			return nil, utils.NewValidationError("sku %q already exists", input.Sku)
		}
		return nil, utils.NewPersistenceError("update product", err)
	}
	if err := config.RemoveRedisKey(productCacheKey(id)); err != nil {
		config.LogError(config.GetLogger(), "product.go", "UpdateProduct", "invalidate cache", id, err)
	}
	return utils.FetchSingleModel[Product](ctx, product.ID)
}

// GetProduct reads a product, redis or db, caching the result.
// Callers that are about to mutate stock must read inside their own
// transaction instead (see GetProductTx).
func GetProduct(ctx context.Context, id int) (*Product, error) {
	var product Product
	exists, err := config.GetRedisObject(productCacheKey(id), &product)
	if err != nil {
		return nil, err
	}
	if exists {
		return &product, nil
	}
	fetched, err := utils.FetchSingleModel[Product](ctx, id)
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(productCacheKey(id), fetched, 5*time.Minute); err != nil {
		config.LogError(config.GetLogger(), "product.go", "GetProduct", "cache product", id, err)
	}
	return fetched, nil
}

func GetProducts(ctx context.Context) ([]*Product, error) {
	return utils.FetchAllModels[Product](ctx)
}

// GetProductTx reads the current row inside the caller's transaction.
func GetProductTx(tx *gorm.DB, id int) (*Product, error) {
	var product Product
	if err := tx.First(&product, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, utils.NewPersistenceError("fetch product", err)
	}
	return &product, nil
}

// ApplyStockSnapshot writes new quantities with a compare-and-swap on the
// snapshot the caller planned against. Returns false when another writer
// changed the row first; the caller re-reads and re-plans.
func ApplyStockSnapshot(tx *gorm.DB, id int, snapBoxes int, snapLooseKg decimal.Decimal, newBoxes int, newLooseKg decimal.Decimal) (bool, error) {
	if newBoxes < 0 || newLooseKg.IsNegative() {
		return false, utils.NewValidationError("stock would go negative")
	}
	res := tx.Model(&Product{}).
		Where("id = ? AND boxes = ? AND loose_kg = ?", id, snapBoxes, snapLooseKg).
		Updates(map[string]interface{}{"boxes": newBoxes, "loose_kg": newLooseKg})
	if res.Error != nil {
		return false, utils.NewPersistenceError("apply stock snapshot", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	// Quantities changed; drop the cached copy.
	if err := config.RemoveRedisKey(productCacheKey(id)); err != nil {
		config.LogError(config.GetLogger(), "product.go", "ApplyStockSnapshot", "invalidate cache", id, err)
	}
	return true, nil
}
