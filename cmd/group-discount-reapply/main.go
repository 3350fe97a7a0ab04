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
	"github.com/medexa/pharmadist_backend/models"
	"github.com/medexa/pharmadist_backend/utils"
	"github.com/medexa/pharmadist_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Re-runs the group additional-discount engine. The engine is idempotent
// over unchanged member orders, so reapplying a whole date range is safe;
// groups whose tier table changed get repriced, the rest come out byte
// identical.
func main() {
	organizationID := flag.String("organization-id", "", "Required: organization id")
	groupID := flag.Int("group-id", 0, "Optional: reapply a single group")
	fromDateStr := flag.String("from", "", "Optional: reapply groups dated on/after (YYYY-MM-DD)")
	toDateStr := flag.String("to", "", "Optional: reapply groups dated on/before (YYYY-MM-DD)")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing groups and continue")
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
	ctx := utils.SetOrganizationIdInContext(context.Background(), *organizationID)
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())

	var groupIDs []int
	if *groupID > 0 {
		groupIDs = []int{*groupID}
	} else {
		query := db.Model(&models.OrderGroup{}).Where("organization_id = ?", *organizationID)
		if strings.TrimSpace(*fromDateStr) != "" {
			d, err := time.Parse("2006-01-02", strings.TrimSpace(*fromDateStr))
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid from date: %v\n", err)
				os.Exit(1)
			}
			query = query.Where("group_date >= ?", d)
		}
		if strings.TrimSpace(*toDateStr) != "" {
			d, err := time.Parse("2006-01-02", strings.TrimSpace(*toDateStr))
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid to date: %v\n", err)
				os.Exit(1)
			}
			query = query.Where("group_date <= ?", d)
		}
		if err := query.Order("id ASC").Pluck("id", &groupIDs).Error; err != nil {
			fmt.Fprintf(os.Stderr, "discover groups: %v\n", err)
			os.Exit(1)
		}
	}

	var failed int
	for _, id := range groupIDs {
		var shares []workflow.GroupDiscountShare
		err := db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			shares, txErr = workflow.ApplyGroupAdditionalDiscount(ctx, tx, logger, id)
			return txErr
		})
		if err != nil {
			failed++
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "group %d failed (skipping): %v\n", id, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "group %d failed: %v\n", id, err)
			os.Exit(1)
		}
		for _, share := range shares {
			fmt.Printf("group=%d order=%d additional_discount=%s additional_cost=%s\n",
				id, share.OrderId, share.AdditionalDiscount, share.AdditionalCost)
		}
	}

	fmt.Printf("group discount reapply complete (groups=%d failed=%d)\n", len(groupIDs), failed)
}
