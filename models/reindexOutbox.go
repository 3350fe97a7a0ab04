package models

import (
	"time"

	"gorm.io/gorm"
)

// ReindexOutbox records that rows of a model changed and the search index
// should be refreshed for them. Rows are written in the same transaction
// as the change; the pubsub publish that follows is fire-and-forget, and
// unprocessed rows let the consumer be replayed after an outage.
type ReindexOutbox struct {
	ID             int       `gorm:"primary_key" json:"id"`
	OrganizationId string    `gorm:"index;not null" json:"organization_id"`
	ModelName      string    `gorm:"size:100;not null" json:"model_name"`
	ReferenceId    int       `gorm:"index;not null" json:"reference_id"`
	CorrelationId  string    `gorm:"size:64;index" json:"correlation_id"`
	IsProcessed    *bool     `gorm:"not null;default:false;index" json:"is_processed"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueReindex appends an outbox row inside the caller's transaction.
func EnqueueReindex(tx *gorm.DB, organizationId string, modelName string, referenceId int, correlationId string) error {
	row := ReindexOutbox{
		OrganizationId: organizationId,
		ModelName:      modelName,
		ReferenceId:    referenceId,
		CorrelationId:  correlationId,
	}
	return tx.Create(&row).Error
}
