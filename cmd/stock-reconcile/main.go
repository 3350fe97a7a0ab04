package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/medexa/pharmadist_backend/config"
	"github.com/medexa/pharmadist_backend/utils"
	"github.com/medexa/pharmadist_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	organizationID := flag.String("organization-id", "", "Required: organization id")
	stockID := flag.Int("stock-id", 0, "Optional: reconcile a single stock id")
	fromID := flag.Int("from-id", 0, "Optional: resume the batch after this stock id")
	chunkSize := flag.Int("chunk-size", 500, "Stocks fetched per chunk")
	timeoutMinutes := flag.Int("timeout-minutes", 0, "Optional: stop the batch after this many minutes (partial progress stays consistent)")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing stocks and continue reconciling others")
	flag.Parse()

	if strings.TrimSpace(*organizationID) == "" {
		fmt.Fprintln(os.Stderr, "--organization-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()
	if logger == nil {
		logger = logrus.New()
	}

	ctx := utils.SetOrganizationIdInContext(context.Background(), *organizationID)
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	if *timeoutMinutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*timeoutMinutes)*time.Minute)
		defer cancel()
	}

	if *stockID > 0 {
		var result *workflow.ReconcileResult
		err := db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			result, txErr = workflow.ReconcileStock(ctx, tx, logger, *stockID)
			return txErr
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "reconcile failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("stock=%d previous=%s corrected=%s delta=%s changed=%t\n",
			result.StockId, result.PreviousQuantity, result.CorrectedQuantity, result.Delta, result.Corrected)
		return
	}

	summary, err := workflow.ReconcileOrganizationStocks(ctx, db, logger, *organizationID, *fromID, *chunkSize, *continueOnError)
	if summary != nil {
		fmt.Printf("processed=%d corrected=%d failed=%d last_id=%d\n",
			summary.Processed, summary.Corrected, summary.Failed, summary.LastId)
	}
	if err != nil {
		if err == context.DeadlineExceeded || err == context.Canceled {
			fmt.Println("stopped before completion; resume with --from-id", summary.LastId)
			return
		}
		fmt.Fprintf(os.Stderr, "batch reconcile failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("stock reconciliation complete")
}
