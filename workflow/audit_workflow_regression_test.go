package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/desniniranjan/fishing-sub002/config"
	"github.com/desniniranjan/fishing-sub002/models"
	"github.com/desniniranjan/fishing-sub002/utils"
	"github.com/desniniranjan/fishing-sub002/workflow"
)

func integrationContext(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "fishops_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func requireZeroDrift(t *testing.T, ctx context.Context, productId int) {
	t.Helper()
	drifts, err := workflow.CheckProductDrift(ctx, productId)
	if err != nil {
		t.Fatalf("CheckProductDrift: %v", err)
	}
	for _, d := range drifts {
		if d.BoxDrift != 0 || !d.KgDrift.IsZero() {
			t.Fatalf("product %d drifted: boxes %d / kg %s", d.ProductId, d.BoxDrift, d.KgDrift)
		}
	}
}

// Regression: approving a deletion must restore the sold quantities, delete
// the sale and leave a reversal row, all or nothing, and the record must be
// decidable exactly once.
func TestAuditWorkflow_DeletionRoundTrip(t *testing.T) {
	ctx := integrationContext(t)

	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:            "Tilapia",
		Sku:             "TIL-001",
		Boxes:           5,
		LooseKg:         mustDecimal(t, "5"),
		BoxToKgRatio:    mustDecimal(t, "10"),
		UnitPricePerBox: mustDecimal(t, "12000"),
		UnitPricePerKg:  mustDecimal(t, "1300"),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	// 1 box + 18 kg against 5 boxes / 5 kg loose: 5 kg comes loose, 2 boxes
	// are unboxed (7 kg leftover), 1 box sells whole.
	sale, err := workflow.CreateSale(ctx, &models.NewSale{
		ProductId:     product.ID,
		BoxesSold:     1,
		KgSold:        mustDecimal(t, "18"),
		BoxUnitPrice:  mustDecimal(t, "12000"),
		KgUnitPrice:   mustDecimal(t, "1300"),
		PaymentStatus: models.PaymentStatusPaid,
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if sale.TotalAmount.Cmp(mustDecimal(t, "35400")) != 0 {
		t.Fatalf("expected total 35400, got %s", sale.TotalAmount)
	}

	after, err := models.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if after.Boxes != 2 || after.LooseKg.Cmp(mustDecimal(t, "7")) != 0 {
		t.Fatalf("expected 2 boxes / 7 kg after sale, got %d / %s", after.Boxes, after.LooseKg)
	}
	requireZeroDrift(t, ctx, product.ID)

	record, err := workflow.ProposeChange(ctx, &models.NewAuditRecord{
		SaleId:     sale.ID,
		ChangeType: models.ChangeTypeDeletion,
		Reason:     "entered against wrong client",
	})
	if err != nil {
		t.Fatalf("ProposeChange: %v", err)
	}
	if record.ApprovalStatus != models.ApprovalStatusPending {
		t.Fatalf("expected pending record, got %s", record.ApprovalStatus)
	}

	// Proposal alone must not move stock.
	untouched, err := models.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if untouched.Boxes != 2 || untouched.LooseKg.Cmp(mustDecimal(t, "7")) != 0 {
		t.Fatalf("pending proposal moved stock: %d / %s", untouched.Boxes, untouched.LooseKg)
	}

	decided, err := workflow.Decide(ctx, record.ID, models.DecisionApprove, "confirmed with owner")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.ApprovalStatus != models.ApprovalStatusApproved {
		t.Fatalf("expected approved record, got %s", decided.ApprovalStatus)
	}
	if decided.ApprovedBy == nil || *decided.ApprovedBy != 1 || decided.ApprovalTimestamp == nil {
		t.Fatalf("approval stamp missing: %+v", decided)
	}

	if _, err := models.GetSale(ctx, sale.ID); utils.ErrorKind(err) != "NOT_FOUND" {
		t.Fatalf("expected deleted sale, got %v", err)
	}
	restored, err := models.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if restored.Boxes != 3 || restored.LooseKg.Cmp(mustDecimal(t, "25")) != 0 {
		t.Fatalf("expected 3 boxes / 25 kg restored, got %d / %s", restored.Boxes, restored.LooseKg)
	}
	// Kg-equivalent is conserved across sale + reversal.
	if restored.TotalAvailableKg().Cmp(mustDecimal(t, "55")) != 0 {
		t.Fatalf("expected 55 kg-equivalent, got %s", restored.TotalAvailableKg())
	}

	entries, err := models.GetLedgerEntries(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetLedgerEntries: %v", err)
	}
	var reversals int
	for _, e := range entries {
		if e.MovementType == models.MovementTypeReversal {
			reversals++
			if e.AuditRecordId == nil || *e.AuditRecordId != record.ID {
				t.Fatalf("reversal not linked to audit record: %+v", e)
			}
			if e.BoxDelta != 1 || e.KgDelta.Cmp(mustDecimal(t, "18")) != 0 {
				t.Fatalf("expected reversal deltas +1 / +18, got %d / %s", e.BoxDelta, e.KgDelta)
			}
		}
	}
	if reversals != 1 {
		t.Fatalf("expected exactly 1 reversal entry, got %d", reversals)
	}
	requireZeroDrift(t, ctx, product.ID)

	// Terminal transition: the second decision must lose.
	if _, err := workflow.Decide(ctx, record.ID, models.DecisionReject, "changed my mind"); utils.ErrorKind(err) != "ALREADY_PROCESSED" {
		t.Fatalf("expected ALREADY_PROCESSED, got %v", err)
	}
}

// Regression: an approved quantity change must price the new quantities at
// the sale's original unit prices even after the catalog price changed.
func TestAuditWorkflow_QuantityChangeKeepsOriginalPrices(t *testing.T) {
	ctx := integrationContext(t)

	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:            "Sangala",
		Sku:             "SAN-001",
		Boxes:           10,
		BoxToKgRatio:    mustDecimal(t, "10"),
		UnitPricePerBox: mustDecimal(t, "12000"),
		UnitPricePerKg:  mustDecimal(t, "1300"),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	sale, err := workflow.CreateSale(ctx, &models.NewSale{
		ProductId:     product.ID,
		BoxesSold:     2,
		BoxUnitPrice:  mustDecimal(t, "12000"),
		KgUnitPrice:   mustDecimal(t, "1300"),
		PaymentStatus: models.PaymentStatusPaid,
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	// Catalog price goes up after the sale.
	if _, err := models.UpdateProduct(ctx, product.ID, &models.NewProduct{
		Name:            product.Name,
		Sku:             product.Sku,
		BoxToKgRatio:    product.BoxToKgRatio,
		UnitPricePerBox: mustDecimal(t, "15000"),
		UnitPricePerKg:  mustDecimal(t, "1600"),
	}); err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}

	record, err := workflow.ProposeChange(ctx, &models.NewAuditRecord{
		SaleId:     sale.ID,
		ChangeType: models.ChangeTypeQuantityChange,
		Reason:     "client took one more box",
		NewValues: &models.SaleChange{
			BoxesSold:     3,
			PaymentStatus: models.PaymentStatusPaid,
		},
	})
	if err != nil {
		t.Fatalf("ProposeChange: %v", err)
	}
	if _, err := workflow.Decide(ctx, record.ID, models.DecisionApprove, "receipt corrected"); err != nil {
		t.Fatalf("Decide: %v", err)
	}

	updated, err := models.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("GetSale: %v", err)
	}
	// 3 boxes at the original 12000, not the new 15000.
	if updated.TotalAmount.Cmp(mustDecimal(t, "36000")) != 0 {
		t.Fatalf("expected total 36000 at original prices, got %s", updated.TotalAmount)
	}
	if updated.BoxesSold != 3 {
		t.Fatalf("expected 3 boxes sold, got %d", updated.BoxesSold)
	}

	adjusted, err := models.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if adjusted.Boxes != 7 {
		t.Fatalf("expected 7 boxes left, got %d", adjusted.Boxes)
	}
	requireZeroDrift(t, ctx, product.ID)
}

// Regression: rejecting a proposal stamps the record and touches nothing
// else; stock, the sale and its payment fields are unchanged.
func TestAuditWorkflow_RejectLeavesSaleUntouched(t *testing.T) {
	ctx := integrationContext(t)

	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:         "Isambaza",
		Sku:          "ISA-001",
		Boxes:        4,
		BoxToKgRatio: mustDecimal(t, "8"),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	sale, err := workflow.CreateSale(ctx, &models.NewSale{
		ProductId:     product.ID,
		BoxesSold:     1,
		BoxUnitPrice:  mustDecimal(t, "9000"),
		PaymentStatus: models.PaymentStatusPending,
		ClientName:    "Uwimana",
	})
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}

	record, err := workflow.ProposeChange(ctx, &models.NewAuditRecord{
		SaleId:     sale.ID,
		ChangeType: models.ChangeTypeDeletion,
		Reason:     "suspected duplicate",
	})
	if err != nil {
		t.Fatalf("ProposeChange: %v", err)
	}

	decided, err := workflow.Decide(ctx, record.ID, models.DecisionReject, "not a duplicate")
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if decided.ApprovalStatus != models.ApprovalStatusRejected {
		t.Fatalf("expected rejected record, got %s", decided.ApprovalStatus)
	}

	kept, err := models.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("expected sale to survive rejection: %v", err)
	}
	if kept.RemainingAmount.Cmp(mustDecimal(t, "9000")) != 0 || kept.PaymentStatus != models.PaymentStatusPending {
		t.Fatalf("rejection changed payment fields: %+v", kept)
	}
	after, err := models.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if after.Boxes != 3 {
		t.Fatalf("expected 3 boxes, got %d", after.Boxes)
	}
	requireZeroDrift(t, ctx, product.ID)
}

// Regression: manual movements respect per-type sign rules and keep the
// ledger in lockstep with stock.
func TestStockMovement_ManualTypes(t *testing.T) {
	ctx := integrationContext(t)

	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:         "Kambale",
		Sku:          "KAM-001",
		Boxes:        2,
		LooseKg:      mustDecimal(t, "3"),
		BoxToKgRatio: mustDecimal(t, "10"),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	if _, err := workflow.RecordStockMovement(ctx, &models.NewStockMovement{
		ProductId:    product.ID,
		MovementType: models.MovementTypeAddition,
		BoxDelta:     5,
		KgDelta:      mustDecimal(t, "2"),
		Reason:       "morning delivery",
	}); err != nil {
		t.Fatalf("RecordStockMovement(addition): %v", err)
	}

	if _, err := workflow.RecordStockMovement(ctx, &models.NewStockMovement{
		ProductId:    product.ID,
		MovementType: models.MovementTypeDamage,
		BoxDelta:     -1,
		Reason:       "crushed in transit",
	}); err != nil {
		t.Fatalf("RecordStockMovement(damage): %v", err)
	}

	// Sign rules: a damage movement cannot add stock.
	if _, err := workflow.RecordStockMovement(ctx, &models.NewStockMovement{
		ProductId:    product.ID,
		MovementType: models.MovementTypeDamage,
		BoxDelta:     1,
		Reason:       "typo",
	}); utils.ErrorKind(err) != "VALIDATION" {
		t.Fatalf("expected validation error, got %v", err)
	}

	// SALE rows only come from the sale engine.
	if _, err := workflow.RecordStockMovement(ctx, &models.NewStockMovement{
		ProductId:    product.ID,
		MovementType: models.MovementTypeSale,
		BoxDelta:     -1,
		Reason:       "manual sale",
	}); utils.ErrorKind(err) != "VALIDATION" {
		t.Fatalf("expected validation error, got %v", err)
	}

	after, err := models.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if after.Boxes != 6 || after.LooseKg.Cmp(mustDecimal(t, "5")) != 0 {
		t.Fatalf("expected 6 boxes / 5 kg, got %d / %s", after.Boxes, after.LooseKg)
	}
	requireZeroDrift(t, ctx, product.ID)
}

// Regression: a missing row reads back as NOT_FOUND, while a database
// failure on the same lookup surfaces as PERSISTENCE. The two must never
// collapse into one kind.
func TestFetch_ErrorTaxonomy(t *testing.T) {
	ctx := integrationContext(t)

	if _, err := models.GetAuditRecord(ctx, 999999); utils.ErrorKind(err) != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND for missing record, got %v", err)
	}
	if _, err := models.GetSale(ctx, 999999); utils.ErrorKind(err) != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND for missing sale, got %v", err)
	}

	// Break the lookup for real: the error must not read as a missing row.
	if err := config.GetDB().Migrator().DropTable(&models.AuditRecord{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if _, err := models.GetAuditRecord(ctx, 999999); utils.ErrorKind(err) != "PERSISTENCE" {
		t.Fatalf("expected PERSISTENCE for failed lookup, got %v", err)
	}
}

// Regression: concurrent sales against the same product must sell exactly
// the stock on hand. Each writer plans against committed stock under the
// posting lock, so the losers fail with INSUFFICIENT_STOCK rather than
// exhausting their compare-and-swap retries.
func TestCreateSale_ConcurrentSalesNeverOversell(t *testing.T) {
	ctx := integrationContext(t)

	product, err := models.CreateProduct(ctx, &models.NewProduct{
		Name:            "Mukeke",
		Sku:             "MUK-001",
		Boxes:           10,
		BoxToKgRatio:    mustDecimal(t, "10"),
		UnitPricePerBox: mustDecimal(t, "11000"),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	const writers = 20
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		sold         int
		insufficient int
		unexpected   []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := workflow.CreateSale(ctx, &models.NewSale{
				ProductId:     product.ID,
				BoxesSold:     1,
				BoxUnitPrice:  mustDecimal(t, "11000"),
				PaymentStatus: models.PaymentStatusPaid,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sold++
			case utils.ErrorKind(err) == "INSUFFICIENT_STOCK":
				insufficient++
			default:
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected sale errors: %v", unexpected)
	}
	if sold != 10 || insufficient != 10 {
		t.Fatalf("expected 10 sales and 10 refusals, got %d / %d", sold, insufficient)
	}

	after, err := models.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if after.Boxes != 0 || !after.LooseKg.IsZero() {
		t.Fatalf("expected empty stock, got %d boxes / %s kg", after.Boxes, after.LooseKg)
	}
	requireZeroDrift(t, ctx, product.ID)
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("fishops-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("fishops-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=fishops_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
