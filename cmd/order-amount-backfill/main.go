package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/medexa/pharmadist_backend/config"
	"github.com/medexa/pharmadist_backend/models"
	"github.com/medexa/pharmadist_backend/utils"
	"github.com/medexa/pharmadist_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Recomputes persisted order totals from their ledgers, reporting any
// drift it corrects. Data-repair tool: runs on the raw-write path, so no
// reindex outbox rows are written; run a reindex replay afterwards if the
// search index should pick the corrections up.
func main() {
	organizationID := flag.String("organization-id", "", "Required: organization id")
	orderID := flag.Int("order-id", 0, "Optional: backfill a single order")
	dryRun := flag.Bool("dry-run", false, "Report drift without persisting")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing orders and continue")
	flag.Parse()

	if strings.TrimSpace(*organizationID) == "" {
		fmt.Fprintln(os.Stderr, "--organization-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()
	if logger == nil {
		logger = logrus.New()
	}
	errDryRun := errors.New("dry run rollback")

	ctx := utils.SetOrganizationIdInContext(context.Background(), *organizationID)
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	ctx = utils.SetRawWriteInContext(ctx, true)

	var orderIDs []int
	if *orderID > 0 {
		orderIDs = []int{*orderID}
	} else {
		if err := db.Model(&models.Order{}).
			Where("organization_id = ? AND status NOT IN (?)",
				*organizationID, []models.OrderStatus{models.OrderStatusCancelled, models.OrderStatusRejected}).
			Order("id ASC").Pluck("id", &orderIDs).Error; err != nil {
			fmt.Fprintf(os.Stderr, "discover orders: %v\n", err)
			os.Exit(1)
		}
	}

	var drifted, failed int
	for _, id := range orderIDs {
		var before models.Order
		if err := db.Where("organization_id = ? AND id = ?", *organizationID, id).First(&before).Error; err != nil {
			fmt.Fprintf(os.Stderr, "order %d: %v\n", id, err)
			failed++
			if !*continueOnError {
				os.Exit(1)
			}
			continue
		}

		err := db.Transaction(func(tx *gorm.DB) error {
			amounts, txErr := workflow.RecalculateOrderAmounts(ctx, tx, logger, id)
			if txErr != nil {
				return txErr
			}
			if !amounts.GrandTotal.Equal(before.GrandTotal) {
				drifted++
				fmt.Printf("order=%d grand_total %s -> %s\n", id, before.GrandTotal, amounts.GrandTotal)
			}
			if *dryRun {
				return errDryRun // forces rollback; nothing persisted
			}
			return nil
		})
		if err != nil && !errors.Is(err, errDryRun) {
			failed++
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "order %d failed (skipping): %v\n", id, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "order %d failed: %v\n", id, err)
			os.Exit(1)
		}
	}

	fmt.Printf("order amount backfill complete (orders=%d drifted=%d failed=%d dry_run=%t)\n",
		len(orderIDs), drifted, failed, *dryRun)
}
