// stock-adjust records a manual stock movement (addition, damage,
// correction) from the command line, for operators fixing stock without
// the console. The movement goes through the same posting path as the
// API, so the ledger row is written in the same transaction.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/stock-adjust -product 3 -type DAMAGE -boxes -1 -reason "crushed in transit" -user 1
//
// Flags:
//
//	-product <id>     product to adjust (required)
//	-type <type>      ADDITION, DAMAGE or CORRECTION (required)
//	-boxes <n>        whole-box delta
//	-kg <decimal>     loose-kilogram delta
//	-reason <text>    why the stock moved (required)
//	-user <id>        operator user id (required)
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/desniniranjan/fishing-sub002/config"
	"github.com/desniniranjan/fishing-sub002/models"
	"github.com/desniniranjan/fishing-sub002/utils"
	"github.com/desniniranjan/fishing-sub002/workflow"
	"github.com/shopspring/decimal"
)

func main() {
	productId := flag.Int("product", 0, "product id to adjust")
	movementType := flag.String("type", "", "movement type (ADDITION, DAMAGE, CORRECTION)")
	boxDelta := flag.Int("boxes", 0, "whole-box delta")
	kgValue := flag.String("kg", "", "loose-kilogram delta")
	reason := flag.String("reason", "", "reason for the movement")
	userId := flag.Int("user", 0, "operator user id")
	flag.Parse()

	kgDelta := decimal.Zero
	if *kgValue != "" {
		parsed, err := utils.ParseDecimal(*kgValue)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -kg value %q: %v\n", *kgValue, err)
			os.Exit(1)
		}
		kgDelta = parsed
	}
	if *userId == 0 {
		fmt.Fprintln(os.Stderr, "-user is required.")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	// Redis is optional here: the movement path only uses it for a
	// best-effort lock and tolerates it being absent.
	ctx := utils.SetUserIdInContext(context.Background(), *userId)
	entry, err := workflow.RecordStockMovement(ctx, &models.NewStockMovement{
		ProductId:    *productId,
		MovementType: models.MovementType(*movementType),
		BoxDelta:     *boxDelta,
		KgDelta:      kgDelta,
		Reason:       *reason,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "stock adjustment failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("recorded %s for product=%d box_delta=%d kg_delta=%s ledger_id=%s\n",
		entry.MovementType, entry.ProductId, entry.BoxDelta, entry.KgDelta.String(), entry.ID)
}
