package models

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/qrtrace_backend/config"
	"bitbucket.org/mmdatafocus/qrtrace_backend/utils"
	"gorm.io/gorm"
)

// ReprocessQrEvents requeues stuck or DEAD outbox rows for a reference so the
// dispatcher picks them up again. Attempt counters reset along with the status.
func ReprocessQrEvents(ctx context.Context, referenceType QrEventReferenceType, referenceId int) (*QrEventStatus, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	res := db.WithContext(ctx).
		Model(&QrEventRecord{}).
		Where("business_id = ? AND reference_type = ? AND reference_id = ? AND is_processed = 0", businessId, referenceType, referenceId).
		Updates(map[string]interface{}{
			"locked_at":          nil,
			"locked_by":          nil,
			"publish_status":     OutboxPublishStatusPending,
			"publish_attempts":   0,
			"next_attempt_at":    nil,
			"last_publish_error": nil,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	return GetQrEventStatus(ctx, referenceType, referenceId)
}
