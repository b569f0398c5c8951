package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/qrtrace_backend/config"
	"bitbucket.org/mmdatafocus/qrtrace_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// QrEventRecord is the transactional outbox: the record is written inside the
// caller's DB transaction and published to Pub/Sub asynchronously by the event
// dispatcher after commit.
type QrEventRecord struct {
	ID            int                  `gorm:"primary_key" json:"id"`
	BusinessId    string               `gorm:"index;not null" json:"business_id"`
	EventDateTime time.Time            `gorm:"not null" json:"event_date_time"`
	ReferenceId   int                  `gorm:"index;not null" json:"reference_id"`
	ReferenceType QrEventReferenceType `gorm:"size:30;index;not null" json:"reference_type"`
	EventType     QrEventType          `gorm:"size:40;not null" json:"event_type"`
	Payload       []byte               `gorm:"type:json" json:"payload"`
	IsProcessed   bool                 `gorm:"not null;default:false;index" json:"is_processed"`

	PublishStatus    string     `gorm:"size:20;index;default:PENDING" json:"publish_status"`
	PublishAttempts  int        `gorm:"default:0" json:"publish_attempts"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	NextAttemptAt    *time.Time `gorm:"index" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:36" json:"locked_by"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:64" json:"pub_sub_message_id"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// EmitQrEvent writes an outbox record inside the caller's transaction.
// It never publishes directly; delivery is the dispatcher's job.
func EmitQrEvent(ctx context.Context, tx *gorm.DB, businessId string, refId int,
	refType QrEventReferenceType, eventType QrEventType, payload interface{}) error {

	var payloadInByte []byte
	var err error
	if payload != nil {
		payloadInByte, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	record := QrEventRecord{
		BusinessId:    businessId,
		EventDateTime: time.Now().UTC(),
		ReferenceId:   refId,
		ReferenceType: refType,
		EventType:     eventType,
		Payload:       payloadInByte,
		IsProcessed:   false,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToQrEventMessage(rec QrEventRecord) config.QrEventMessage {
	return config.QrEventMessage{
		ID:            rec.ID,
		BusinessId:    rec.BusinessId,
		EventDateTime: rec.EventDateTime,
		ReferenceId:   rec.ReferenceId,
		ReferenceType: string(rec.ReferenceType),
		EventType:     string(rec.EventType),
		Payload:       rec.Payload,
		CorrelationId: rec.CorrelationId,
	}
}
