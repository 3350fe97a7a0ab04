package workflow

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"cloud.google.com/go/pubsub"

	"github.com/medexa/pharmadist_backend/config"
	"github.com/medexa/pharmadist_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	readyTopicsMu sync.Mutex
	readyTopics   = map[string]*pubsub.Topic{}
)

// ensureTopic creates the topic on first publish and caches the handle, so
// deployments against a fresh project do not need manual topic setup.
func ensureTopic(client *pubsub.Client, name string) (*pubsub.Topic, error) {
	readyTopicsMu.Lock()
	defer readyTopicsMu.Unlock()
	if t, ok := readyTopics[name]; ok {
		return t, nil
	}
	t, err := config.CreateTopicIfNotExists(client, name)
	if err != nil {
		return nil, err
	}
	readyTopics[name] = t
	return t, nil
}

// PublishReindex hands a reindex request to the search-index consumer.
// Fire-and-forget: failures are logged and swallowed, because index
// freshness must never gate pricing or reconciliation correctness.
func PublishReindex(ctx context.Context, logger *logrus.Logger, msg config.ReindexMessage) {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		config.LogError(logger, "reindex.go", "PublishReindex", "pubsub client", msg, err)
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		config.LogError(logger, "reindex.go", "PublishReindex", "marshal", msg, err)
		return
	}
	topic, err := ensureTopic(client, config.TopicSearchReindex)
	if err != nil {
		config.LogError(logger, "reindex.go", "PublishReindex", "ensure topic", msg, err)
		return
	}
	// Result is not awaited; the outbox row remains replayable either way.
	topic.Publish(ctx, &pubsub.Message{Data: payload})
}

// SendNotification dispatches an SMS or email through the notification
// consumer, same fire-and-forget contract as PublishReindex.
func SendNotification(ctx context.Context, logger *logrus.Logger, msg config.NotificationMessage) {
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		config.LogError(logger, "reindex.go", "SendNotification", "pubsub client", msg, err)
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		config.LogError(logger, "reindex.go", "SendNotification", "marshal", msg, err)
		return
	}
	topic, err := ensureTopic(client, config.TopicNotification)
	if err != nil {
		config.LogError(logger, "reindex.go", "SendNotification", "ensure topic", msg, err)
		return
	}
	topic.Publish(ctx, &pubsub.Message{Data: payload})
}

// ProcessReindexOutbox publishes every unprocessed outbox row for one
// organization and marks them processed. Safe to re-run: the consumer is
// an index refresher, duplicates are harmless.
func ProcessReindexOutbox(ctx context.Context, db *gorm.DB, logger *logrus.Logger, organizationId string) (int, error) {
	var rows []models.ReindexOutbox
	if err := db.Where("organization_id = ? AND is_processed = 0", organizationId).
		Order("id ASC").Find(&rows).Error; err != nil {
		return 0, err
	}

	published := 0
	for i := range rows {
		row := &rows[i]
		PublishReindex(ctx, logger, config.ReindexMessage{
			OrganizationId: row.OrganizationId,
			ModelName:      row.ModelName,
			Filter:         map[string]string{"id": strconv.Itoa(row.ReferenceId)},
			CorrelationId:  row.CorrelationId,
		})
		if err := db.Model(row).Update("IsProcessed", true).Error; err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}
