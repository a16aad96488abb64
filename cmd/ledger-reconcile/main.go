// ledger-reconcile compares every product's stored quantities against the
// sum of its stock ledger deltas and prints one line per product. Exits
// nonzero when any product has drifted, so it can run as a cron check.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/ledger-reconcile
//
// Flags:
//
//	-product <id>   check a single product instead of all
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/desniniranjan/fishing-sub002/config"
	"github.com/desniniranjan/fishing-sub002/workflow"
)

func main() {
	productId := flag.Int("product", 0, "check a single product id (0 = all)")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	drifts, err := workflow.CheckProductDrift(ctx, *productId)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation failed: %v\n", err)
		os.Exit(1)
	}

	drifted := 0
	for _, d := range drifts {
		ok := d.BoxDrift == 0 && d.KgDrift.IsZero()
		status := "OK"
		if !ok {
			status = "DRIFT"
			drifted++
		}
		fmt.Printf("product=%d boxes=%d loose_kg=%s ledger_boxes=%d ledger_kg=%s box_drift=%d kg_drift=%s %s\n",
			d.ProductId, d.Boxes, d.LooseKg.String(), d.LedgerBoxes, d.LedgerKg.String(),
			d.BoxDrift, d.KgDrift.String(), status)
	}

	fmt.Printf("checked %d products, %d drifted\n", len(drifts), drifted)
	if drifted > 0 {
		os.Exit(3)
	}
}
