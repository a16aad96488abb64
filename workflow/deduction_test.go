package workflow

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/desniniranjan/fishing-sub002/utils"
)

// NOTE: These tests are intentionally DB-free. PlanDeduction is pure; the
// transactional application of a plan is covered by the integration tests
// in audit_workflow_regression_test.go.

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPlanDeduction_LooseStockCoversKg(t *testing.T) {
	plan, err := PlanDeduction(10, dec("25"), dec("10"), 0, dec("18"))
	if err != nil {
		t.Fatalf("PlanDeduction: %v", err)
	}
	if plan.BoxesUnboxed != 0 {
		t.Fatalf("expected no unboxing, got %d", plan.BoxesUnboxed)
	}
	if plan.NewBoxes != 10 || plan.NewLooseKg.Cmp(dec("7")) != 0 {
		t.Fatalf("expected 10 boxes / 7 kg remaining, got %d / %s", plan.NewBoxes, plan.NewLooseKg)
	}
	if plan.BoxDelta != 0 || plan.KgDelta.Cmp(dec("-18")) != 0 {
		t.Fatalf("expected deltas 0 / -18, got %d / %s", plan.BoxDelta, plan.KgDelta)
	}
}

func TestPlanDeduction_UnboxingCreditsLeftover(t *testing.T) {
	// 18 kg requested against 5 kg loose: shortfall 13 kg, unbox 2 boxes
	// (20 kg), leftover 7 kg goes back to loose stock.
	plan, err := PlanDeduction(2, dec("5"), dec("10"), 0, dec("18"))
	if err != nil {
		t.Fatalf("PlanDeduction: %v", err)
	}
	if plan.KgFromLoose.Cmp(dec("5")) != 0 {
		t.Fatalf("expected 5 kg from loose, got %s", plan.KgFromLoose)
	}
	if plan.BoxesUnboxed != 2 {
		t.Fatalf("expected 2 boxes unboxed, got %d", plan.BoxesUnboxed)
	}
	if plan.LeftoverKg.Cmp(dec("7")) != 0 {
		t.Fatalf("expected 7 kg leftover, got %s", plan.LeftoverKg)
	}
	if plan.NewBoxes != 0 || plan.NewLooseKg.Cmp(dec("7")) != 0 {
		t.Fatalf("expected 0 boxes / 7 kg remaining, got %d / %s", plan.NewBoxes, plan.NewLooseKg)
	}
	if plan.BoxDelta != -2 || plan.KgDelta.Cmp(dec("2")) != 0 {
		t.Fatalf("expected deltas -2 / +2, got %d / %s", plan.BoxDelta, plan.KgDelta)
	}
}

func TestPlanDeduction_MixedBoxesAndKg(t *testing.T) {
	// 1 box + 12 kg against 3 boxes / 4 kg loose at 10 kg per box:
	// kg portion takes 4 loose + 1 unboxed box (2 kg leftover), box portion
	// takes 1 of the 2 remaining boxes.
	plan, err := PlanDeduction(3, dec("4"), dec("10"), 1, dec("12"))
	if err != nil {
		t.Fatalf("PlanDeduction: %v", err)
	}
	if plan.BoxesUnboxed != 1 || plan.LeftoverKg.Cmp(dec("2")) != 0 {
		t.Fatalf("expected 1 box unboxed with 2 kg leftover, got %d / %s", plan.BoxesUnboxed, plan.LeftoverKg)
	}
	if plan.BoxesConsumed != 2 {
		t.Fatalf("expected 2 boxes consumed, got %d", plan.BoxesConsumed)
	}
	if plan.NewBoxes != 1 || plan.NewLooseKg.Cmp(dec("2")) != 0 {
		t.Fatalf("expected 1 box / 2 kg remaining, got %d / %s", plan.NewBoxes, plan.NewLooseKg)
	}
}

func TestPlanDeduction_FractionalRatio(t *testing.T) {
	plan, err := PlanDeduction(4, dec("1.5"), dec("12.5"), 0, dec("20"))
	if err != nil {
		t.Fatalf("PlanDeduction: %v", err)
	}
	// shortfall 18.5 kg, ceil(18.5/12.5) = 2 boxes, leftover 6.5 kg.
	if plan.BoxesUnboxed != 2 || plan.LeftoverKg.Cmp(dec("6.5")) != 0 {
		t.Fatalf("expected 2 boxes unboxed with 6.5 kg leftover, got %d / %s", plan.BoxesUnboxed, plan.LeftoverKg)
	}
	if plan.NewLooseKg.Cmp(dec("6.5")) != 0 {
		t.Fatalf("expected 6.5 kg remaining, got %s", plan.NewLooseKg)
	}
}

func TestPlanDeduction_InsufficientTotalStock(t *testing.T) {
	_, err := PlanDeduction(1, decimal.Zero, dec("10"), 0, dec("15"))
	var stockErr *utils.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.ShortfallKg.Cmp(dec("5")) != 0 {
		t.Fatalf("expected 5 kg shortfall, got %s", stockErr.ShortfallKg)
	}
	if stockErr.NeededKg.Cmp(dec("15")) != 0 || stockErr.AvailableKg.Cmp(dec("10")) != 0 {
		t.Fatalf("expected needed=15 available=10, got %s / %s", stockErr.NeededKg, stockErr.AvailableKg)
	}
}

func TestPlanDeduction_ExactTotalSucceeds(t *testing.T) {
	// Boundary: request exactly everything on hand.
	plan, err := PlanDeduction(2, dec("5"), dec("10"), 1, dec("15"))
	if err != nil {
		t.Fatalf("PlanDeduction: %v", err)
	}
	if plan.NewBoxes != 0 || !plan.NewLooseKg.IsZero() {
		t.Fatalf("expected stock drained to zero, got %d / %s", plan.NewBoxes, plan.NewLooseKg)
	}
}

func TestPlanDeduction_ValidationErrors(t *testing.T) {
	cases := []struct {
		name     string
		boxes    int
		looseKg  string
		ratio    string
		reqBoxes int
		reqKg    string
	}{
		{"zero ratio", 5, "10", "0", 1, "0"},
		{"negative ratio", 5, "10", "-1", 1, "0"},
		{"negative boxes", 5, "10", "10", -1, "0"},
		{"negative kg", 5, "10", "10", 0, "-2"},
		{"empty sale", 5, "10", "10", 0, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := PlanDeduction(tc.boxes, dec(tc.looseKg), dec(tc.ratio), tc.reqBoxes, dec(tc.reqKg))
			if utils.ErrorKind(err) != "VALIDATION" {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestPlanDeduction_Property_ConservesTotalKg(t *testing.T) {
	ratio := dec("10")
	for boxes := 0; boxes <= 6; boxes++ {
		for loose := 0; loose <= 30; loose += 3 {
			for reqBoxes := 0; reqBoxes <= 4; reqBoxes++ {
				for reqKg := 0; reqKg <= 40; reqKg += 4 {
					if reqBoxes == 0 && reqKg == 0 {
						continue
					}
					looseKg := decimal.NewFromInt(int64(loose))
					kg := decimal.NewFromInt(int64(reqKg))
					plan, err := PlanDeduction(boxes, looseKg, ratio, reqBoxes, kg)
					if err != nil {
						var stockErr *utils.InsufficientStockError
						if !errors.As(err, &stockErr) {
							t.Fatalf("boxes=%d loose=%d req=%d/%d: unexpected error %v", boxes, loose, reqBoxes, reqKg, err)
						}
						continue
					}
					if plan.NewBoxes < 0 || plan.NewLooseKg.IsNegative() {
						t.Fatalf("boxes=%d loose=%d req=%d/%d: negative stock %d / %s",
							boxes, loose, reqBoxes, reqKg, plan.NewBoxes, plan.NewLooseKg)
					}
					// Total kg removed must equal exactly what was requested.
					before := ratio.Mul(decimal.NewFromInt(int64(boxes))).Add(looseKg)
					after := ratio.Mul(decimal.NewFromInt(int64(plan.NewBoxes))).Add(plan.NewLooseKg)
					removed := before.Sub(after)
					requested := ratio.Mul(decimal.NewFromInt(int64(reqBoxes))).Add(kg)
					if removed.Cmp(requested) != 0 {
						t.Fatalf("boxes=%d loose=%d req=%d/%d: removed %s, requested %s",
							boxes, loose, reqBoxes, reqKg, removed, requested)
					}
				}
			}
		}
	}
}
