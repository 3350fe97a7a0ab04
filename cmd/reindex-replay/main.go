package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/medexa/pharmadist_backend/config"
	"github.com/medexa/pharmadist_backend/workflow"
	"github.com/sirupsen/logrus"
)

// Replays unprocessed reindex outbox rows for one organization. Run this
// after an outage of the search-index consumer, or after raw-write repair
// tools that skip outbox writes on purpose.
func main() {
	organizationID := flag.String("organization-id", "", "Required: organization id")
	notifyRecipient := flag.String("notify", "", "Optional: email/phone to notify with the replay summary")
	notifyChannel := flag.String("notify-channel", "email", "Notification channel: email or sms")
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
	ctx := context.Background()

	published, err := workflow.ProcessReindexOutbox(ctx, db, logger, *organizationID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reindex replay failed after %d rows: %v\n", published, err)
		os.Exit(1)
	}

	if strings.TrimSpace(*notifyRecipient) != "" {
		workflow.SendNotification(ctx, logger, config.NotificationMessage{
			OrganizationId: *organizationID,
			Channel:        *notifyChannel,
			Recipient:      *notifyRecipient,
			Body:           fmt.Sprintf("reindex replay complete: %d rows published", published),
		})
	}

	fmt.Printf("reindex replay complete (published=%d)\n", published)
}
