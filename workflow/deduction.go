package workflow

import (
	"github.com/desniniranjan/fishing-sub002/utils"
	"github.com/shopspring/decimal"
)

// DeductionPlan is the outcome of planning a sale's deduction against a
// stock snapshot. It is pure data; applying it is the caller's job.
type DeductionPlan struct {
	BoxesRequested int
	KgRequested    decimal.Decimal

	// KgFromLoose is taken from loose stock, BoxesUnboxed boxes are broken
	// into loose kilograms to cover the rest, and LeftoverKg (unboxed amount
	// minus the shortfall) is credited back to loose stock.
	KgFromLoose  decimal.Decimal
	BoxesUnboxed int
	LeftoverKg   decimal.Decimal

	// BoxesConsumed includes both the boxes sold whole and the unboxed ones.
	BoxesConsumed int

	NewBoxes   int
	NewLooseKg decimal.Decimal

	// Net ledger deltas (negative for a sale).
	BoxDelta int
	KgDelta  decimal.Decimal
}

// PlanDeduction converts a requested boxes/kilograms sale into a concrete
// deduction against a product's box and loose-kilogram stock.
//
// The stock units are fungible through the box-to-kg ratio: the kilogram
// portion is satisfied loose-stock-first, unboxing whole boxes only for the
// shortfall, and any unboxed surplus is credited back to loose stock, never
// discarded. The box portion is then taken from the boxes that remain.
func PlanDeduction(boxesOnHand int, looseKg, ratio decimal.Decimal, reqBoxes int, reqKg decimal.Decimal) (*DeductionPlan, error) {
	if !ratio.IsPositive() {
		return nil, utils.NewValidationError("box to kg ratio must be positive")
	}
	if reqBoxes < 0 || reqKg.IsNegative() {
		return nil, utils.NewValidationError("sale quantities cannot be negative")
	}
	if reqBoxes == 0 && reqKg.IsZero() {
		return nil, utils.NewValidationError("sale must include boxes or kilograms")
	}

	totalNeededKg := ratio.Mul(decimal.NewFromInt(int64(reqBoxes))).Add(reqKg)
	totalAvailableKg := looseKg.Add(ratio.Mul(decimal.NewFromInt(int64(boxesOnHand))))
	if totalAvailableKg.LessThan(totalNeededKg) {
		return nil, &utils.InsufficientStockError{
			NeededKg:    totalNeededKg,
			AvailableKg: totalAvailableKg,
			ShortfallKg: totalNeededKg.Sub(totalAvailableKg),
			Boxes:       boxesOnHand,
			LooseKg:     looseKg,
		}
	}

	plan := &DeductionPlan{
		BoxesRequested: reqBoxes,
		KgRequested:    reqKg,
	}

	// Kilogram portion, loose stock first.
	if looseKg.GreaterThanOrEqual(reqKg) {
		plan.KgFromLoose = reqKg
	} else {
		plan.KgFromLoose = looseKg
		shortfall := reqKg.Sub(looseKg)
		unboxed := int(shortfall.Div(ratio).Ceil().IntPart())
		if unboxed > boxesOnHand {
			return nil, &utils.InsufficientStockError{
				NeededKg:    totalNeededKg,
				AvailableKg: totalAvailableKg,
				ShortfallKg: shortfall.Sub(ratio.Mul(decimal.NewFromInt(int64(boxesOnHand)))),
				Boxes:       boxesOnHand,
				LooseKg:     looseKg,
			}
		}
		plan.BoxesUnboxed = unboxed
		plan.LeftoverKg = ratio.Mul(decimal.NewFromInt(int64(unboxed))).Sub(shortfall)
	}

	// Box portion, from whatever boxes remain after unboxing.
	remainingBoxes := boxesOnHand - plan.BoxesUnboxed
	if remainingBoxes < reqBoxes {
		shortBoxes := reqBoxes - remainingBoxes
		return nil, &utils.InsufficientStockError{
			NeededKg:    totalNeededKg,
			AvailableKg: totalAvailableKg,
			ShortfallKg: ratio.Mul(decimal.NewFromInt(int64(shortBoxes))),
			Boxes:       boxesOnHand,
			LooseKg:     looseKg,
		}
	}

	plan.BoxesConsumed = reqBoxes + plan.BoxesUnboxed
	plan.NewBoxes = boxesOnHand - plan.BoxesConsumed
	plan.NewLooseKg = looseKg.Sub(plan.KgFromLoose).Add(plan.LeftoverKg)
	plan.BoxDelta = -plan.BoxesConsumed
	plan.KgDelta = plan.NewLooseKg.Sub(looseKg)

	if plan.NewBoxes < 0 || plan.NewLooseKg.IsNegative() {
		// Guaranteed unreachable by the checks above; refuse to return a
		// plan that would drive stock negative.
		return nil, utils.NewValidationError("deduction would drive stock negative")
	}
	return plan, nil
}
