package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medexa/pharmadist_backend/config"
	"github.com/medexa/pharmadist_backend/models"
	"github.com/medexa/pharmadist_backend/utils"
	"github.com/medexa/pharmadist_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Regression: stock quantity must always equal the ledger sum after a
// reconcile pass, even when the stored balance was corrupted out of band,
// and a second pass over a consistent SKU must be a no-op.
func TestLedgerAppendAndReconcile_EndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "pharmadist_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	logger := logrus.New()

	const organizationId = "org-e2e"
	correlationId := uuid.NewString()
	ctx = utils.SetOrganizationIdInContext(ctx, organizationId)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetCorrelationIdInContext(ctx, correlationId)

	stock := models.Stock{
		OrganizationId: organizationId,
		StorePointId:   1,
		ProductId:      1,
		ProductName:    "Paracetamol 500mg",
	}
	if err := db.Create(&stock).Error; err != nil {
		t.Fatalf("create stock: %v", err)
	}

	appendEntry := func(direction models.IoDirection, qty int64) *models.StockIOLog {
		t.Helper()
		var entry *models.StockIOLog
		err := db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			entry, txErr = workflow.AppendLedgerEntry(ctx, tx, logger, &models.NewStockIOLog{
				StockId:          stock.ID,
				Direction:        direction,
				Quantity:         decimal.NewFromInt(qty),
				Rate:             decimal.NewFromInt(100),
				ConversionFactor: decimal.NewFromInt(1),
			})
			return txErr
		})
		if err != nil {
			t.Fatalf("append %s %d: %v", direction, qty, err)
		}
		return entry
	}

	appendEntry(models.IoDirectionIn, 60)
	appendEntry(models.IoDirectionIn, 40)
	outEntry := appendEntry(models.IoDirectionOut, 30)

	var reloaded models.Stock
	if err := db.Where("organization_id = ? AND id = ?", organizationId, stock.ID).First(&reloaded).Error; err != nil {
		t.Fatalf("reload stock: %v", err)
	}
	if reloaded.Quantity.Cmp(decimal.NewFromInt(70)) != 0 {
		t.Fatalf("expected quantity 70 after appends; got %s", reloaded.Quantity)
	}
	// Every append carried rate 100, so the stock row tracks it as the
	// latest purchase rate.
	if reloaded.CalculatedPrice.Cmp(decimal.NewFromInt(100)) != 0 {
		t.Fatalf("expected calculated price 100 after incoming appends; got %s", reloaded.CalculatedPrice)
	}

	// Outbox rows written by the appends carry the request's correlation id.
	var outboxRows []models.ReindexOutbox
	if err := db.Where("organization_id = ? AND model_name = ?", organizationId, "stocks").
		Find(&outboxRows).Error; err != nil {
		t.Fatalf("load outbox rows: %v", err)
	}
	if len(outboxRows) == 0 {
		t.Fatal("expected reindex outbox rows after ledger appends")
	}
	for _, row := range outboxRows {
		if row.CorrelationId != correlationId {
			t.Fatalf("outbox row %d: expected correlation id %q, got %q", row.ID, correlationId, row.CorrelationId)
		}
	}

	// Corrupt the stored balance out of band, as a bad migration would.
	if err := db.Exec("UPDATE stocks SET quantity = 60 WHERE id = ?", stock.ID).Error; err != nil {
		t.Fatalf("corrupt stock quantity: %v", err)
	}

	var result *workflow.ReconcileResult
	err := db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = workflow.ReconcileStock(ctx, tx, logger, stock.ID)
		return txErr
	})
	if err != nil {
		t.Fatalf("ReconcileStock: %v", err)
	}
	if !result.Corrected {
		t.Fatalf("expected a correction; got %+v", result)
	}
	if result.Delta.Cmp(decimal.NewFromInt(10)) != 0 {
		t.Fatalf("expected delta +10; got %s", result.Delta)
	}
	if result.CorrectedQuantity.Cmp(decimal.NewFromInt(70)) != 0 {
		t.Fatalf("expected corrected quantity 70; got %s", result.CorrectedQuantity)
	}

	// Second pass over a consistent SKU must change nothing.
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = workflow.ReconcileStock(ctx, tx, logger, stock.ID)
		return txErr
	})
	if err != nil {
		t.Fatalf("ReconcileStock (second pass): %v", err)
	}
	if result.Corrected {
		t.Fatalf("expected no-op on consistent stock; got %+v", result)
	}

	// A raw repair append with no stock delta leaves the stored balance
	// behind the ledger; the next reconcile picks it up.
	err = db.Transaction(func(tx *gorm.DB) error {
		_, txErr := workflow.AppendLedgerEntryRaw(ctx, tx, &models.NewStockIOLog{
			StockId:          stock.ID,
			Direction:        models.IoDirectionIn,
			Quantity:         decimal.NewFromInt(5),
			Rate:             decimal.NewFromInt(100),
			ConversionFactor: decimal.NewFromInt(1),
		}, nil)
		return txErr
	})
	if err != nil {
		t.Fatalf("AppendLedgerEntryRaw: %v", err)
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = workflow.ReconcileStock(ctx, tx, logger, stock.ID)
		return txErr
	})
	if err != nil {
		t.Fatalf("ReconcileStock (after raw append): %v", err)
	}
	if !result.Corrected || result.Delta.Cmp(decimal.NewFromInt(5)) != 0 {
		t.Fatalf("expected correction delta +5 after raw append; got %+v", result)
	}

	// Reversing the outgoing entry restores its quantity and drops both
	// legs from subsequent reconciliation sums.
	err = db.Transaction(func(tx *gorm.DB) error {
		_, txErr := workflow.ReverseLedgerEntry(ctx, tx, logger, outEntry.ID, "picked wrong SKU")
		return txErr
	})
	if err != nil {
		t.Fatalf("ReverseLedgerEntry: %v", err)
	}

	if err := db.Where("organization_id = ? AND id = ?", organizationId, stock.ID).First(&reloaded).Error; err != nil {
		t.Fatalf("reload stock after reversal: %v", err)
	}
	if reloaded.Quantity.Cmp(decimal.NewFromInt(105)) != 0 {
		t.Fatalf("expected quantity 105 after reversal; got %s", reloaded.Quantity)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		result, txErr = workflow.ReconcileStock(ctx, tx, logger, stock.ID)
		return txErr
	})
	if err != nil {
		t.Fatalf("ReconcileStock (after reversal): %v", err)
	}
	if result.Corrected {
		t.Fatalf("reversal left stock inconsistent: %+v", result)
	}

	// Both legs of the reversal pair are gone from countable queries: no
	// outgoing entry remains, and the latest incoming one is the raw repair.
	if _, err := models.LatestIoLog(db, organizationId, stock.ID, models.IoDirectionOut, nil); err != utils.ErrorRecordNotFound {
		t.Fatalf("expected no countable outgoing entry after reversal; got %v", err)
	}
	latestIn, err := models.LatestIoLog(db, organizationId, stock.ID, models.IoDirectionIn, nil)
	if err != nil {
		t.Fatalf("LatestIoLog(In): %v", err)
	}
	if latestIn.Quantity.Cmp(decimal.NewFromInt(5)) != 0 {
		t.Fatalf("expected latest incoming quantity 5; got %s", latestIn.Quantity)
	}
}

// Regression: the tier table is served from redis, so an out-of-band tier
// edit must not change shares until the cache is invalidated, and must be
// picked up immediately afterwards.
func TestGroupDiscountRules_CacheServesStaleUntilInvalidated(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "pharmadist_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}
	logger := logrus.New()

	const organizationId = "org-rules-cache"
	ctx = utils.SetOrganizationIdInContext(ctx, organizationId)
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())

	active := true
	tiers := []models.DiscountRule{
		{OrganizationId: organizationId, Threshold: decimal.Zero, DiscountPercent: decimal.Zero, IsActive: &active},
		{OrganizationId: organizationId, Threshold: decimal.NewFromInt(2000), DiscountPercent: decimal.NewFromInt(5), IsActive: &active},
	}
	for i := range tiers {
		if err := db.Create(&tiers[i]).Error; err != nil {
			t.Fatalf("create tier: %v", err)
		}
	}

	group := models.OrderGroup{
		OrganizationId: organizationId,
		Kind:           models.GroupKindDistributorOrder,
		GroupDate:      time.Now(),
		SubTotal:       decimal.NewFromInt(2500),
	}
	if err := db.Create(&group).Error; err != nil {
		t.Fatalf("create group: %v", err)
	}
	orders := []models.Order{
		{OrganizationId: organizationId, OrderGroupId: group.ID, Kind: models.OrderKindSales,
			Status: models.OrderStatusActive, SubTotal: decimal.NewFromInt(1200), GrandTotal: decimal.NewFromInt(1200)},
		{OrganizationId: organizationId, OrderGroupId: group.ID, Kind: models.OrderKindSales,
			Status: models.OrderStatusActive, SubTotal: decimal.NewFromInt(1300), GrandTotal: decimal.NewFromInt(1300)},
	}
	for i := range orders {
		if err := db.Create(&orders[i]).Error; err != nil {
			t.Fatalf("create order: %v", err)
		}
	}

	applyShares := func() map[int]decimal.Decimal {
		t.Helper()
		byOrder := map[int]decimal.Decimal{}
		err := db.Transaction(func(tx *gorm.DB) error {
			shares, txErr := workflow.ApplyGroupAdditionalDiscount(ctx, tx, logger, group.ID)
			for _, s := range shares {
				byOrder[s.OrderId] = s.AdditionalDiscount
			}
			return txErr
		})
		if err != nil {
			t.Fatalf("ApplyGroupAdditionalDiscount: %v", err)
		}
		return byOrder
	}
	expectShares := func(stage string, byOrder map[int]decimal.Decimal, first, second int64) {
		t.Helper()
		if got := byOrder[orders[0].ID]; got.Cmp(decimal.NewFromInt(first)) != 0 {
			t.Fatalf("%s: order 1 share expected %d, got %s", stage, first, got)
		}
		if got := byOrder[orders[1].ID]; got.Cmp(decimal.NewFromInt(second)) != 0 {
			t.Fatalf("%s: order 2 share expected %d, got %s", stage, second, got)
		}
	}

	// Group total 2500 hits the 5% tier: 125 distributed as 60/65.
	expectShares("first apply", applyShares(), 60, 65)

	// Out-of-band tier edit is invisible while the cache entry lives.
	if err := db.Model(&tiers[1]).Update("DiscountPercent", decimal.NewFromInt(10)).Error; err != nil {
		t.Fatalf("update tier: %v", err)
	}
	expectShares("stale cache", applyShares(), 60, 65)

	// Invalidation makes the next apply read the edited table.
	if err := models.InvalidateDiscountRulesCache(organizationId); err != nil {
		t.Fatalf("InvalidateDiscountRulesCache: %v", err)
	}
	expectShares("after invalidation", applyShares(), 120, 130)

	var reloaded models.Order
	if err := db.Where("organization_id = ? AND id = ?", organizationId, orders[0].ID).First(&reloaded).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if reloaded.GrandTotal.Cmp(decimal.NewFromInt(1080)) != 0 {
		t.Fatalf("expected grand total 1080 after 10%% tier; got %s", reloaded.GrandTotal)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pharmadist-test-redis-%d", time.Now().UnixNano())
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
	name := fmt.Sprintf("pharmadist-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=pharmadist_test",
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
