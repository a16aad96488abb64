package workflow

import (
	"context"

	"github.com/desniniranjan/fishing-sub002/config"
	"github.com/desniniranjan/fishing-sub002/models"
	"github.com/desniniranjan/fishing-sub002/utils"
	"github.com/shopspring/decimal"
)

// ProductDrift reports the difference between a product's current
// quantities and the sum of its ledger deltas. Both drifts are zero when
// the ledger and the inventory agree.
type ProductDrift struct {
	ProductId   int             `json:"product_id"`
	Boxes       int             `json:"boxes"`
	LooseKg     decimal.Decimal `json:"loose_kg"`
	LedgerBoxes int             `json:"ledger_boxes"`
	LedgerKg    decimal.Decimal `json:"ledger_kg"`
	BoxDrift    int             `json:"box_drift"`
	KgDrift     decimal.Decimal `json:"kg_drift"`
}

// CheckProductDrift compares every product (or one, when productId > 0)
// against its summed ledger deltas. Products are created together with an
// opening ledger entry, so the sums should reproduce current stock exactly;
// a nonzero drift means a mutation committed without its ledger row.
func CheckProductDrift(ctx context.Context, productId int) ([]*ProductDrift, error) {
	db := config.GetDB()

	balances, err := models.SumLedgerDeltas(ctx, db, productId)
	if err != nil {
		return nil, err
	}
	balanceByProduct := make(map[int]*models.LedgerBalance, len(balances))
	for _, b := range balances {
		balanceByProduct[b.ProductId] = b
	}

	var products []*models.Product
	dbCtx := db.WithContext(ctx)
	if productId > 0 {
		dbCtx = dbCtx.Where("id = ?", productId)
	}
	if err := dbCtx.Find(&products).Error; err != nil {
		return nil, utils.NewPersistenceError("list products", err)
	}

	drifts := make([]*ProductDrift, 0, len(products))
	for _, p := range products {
		ledgerBoxes := 0
		ledgerKg := decimal.Zero
		if b, ok := balanceByProduct[p.ID]; ok {
			ledgerBoxes = b.BoxDelta
			ledgerKg = b.KgDelta
		}
		drift := &ProductDrift{
			ProductId:   p.ID,
			Boxes:       p.Boxes,
			LooseKg:     p.LooseKg,
			LedgerBoxes: ledgerBoxes,
			LedgerKg:    ledgerKg,
			BoxDrift:    p.Boxes - ledgerBoxes,
			KgDrift:     p.LooseKg.Sub(ledgerKg),
		}
		drifts = append(drifts, drift)
	}
	return drifts, nil
}
