package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/qrtrace_backend/config"
	"bitbucket.org/mmdatafocus/qrtrace_backend/utils"
)

// QrEventStatus is the operator-facing view of the latest outbox record for a
// reference, used to answer "did the event for this case/job actually go out".
type QrEventStatus struct {
	RecordId         int                  `json:"record_id"`
	ReferenceType    QrEventReferenceType `json:"reference_type"`
	ReferenceId      int                  `json:"reference_id"`
	EventType        QrEventType          `json:"event_type"`
	PublishStatus    string               `json:"publish_status"`
	PublishAttempts  int                  `json:"publish_attempts"`
	NextAttemptAt    *time.Time           `json:"next_attempt_at"`
	LastPublishError *string              `json:"last_publish_error"`
	CreatedAt        time.Time            `json:"created_at"`
	PublishedAt      *time.Time           `json:"published_at"`
}

func GetQrEventStatus(ctx context.Context, referenceType QrEventReferenceType, referenceId int) (*QrEventStatus, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var rec QrEventRecord
	if err := db.WithContext(ctx).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?", businessId, referenceType, referenceId).
		Order("id DESC").
		First(&rec).Error; err != nil {
		return nil, err
	}

	return &QrEventStatus{
		RecordId:         rec.ID,
		ReferenceType:    rec.ReferenceType,
		ReferenceId:      rec.ReferenceId,
		EventType:        rec.EventType,
		PublishStatus:    rec.PublishStatus,
		PublishAttempts:  rec.PublishAttempts,
		NextAttemptAt:    rec.NextAttemptAt,
		LastPublishError: rec.LastPublishError,
		CreatedAt:        rec.CreatedAt,
		PublishedAt:      rec.PublishedAt,
	}, nil
}
