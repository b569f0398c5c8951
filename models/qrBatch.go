package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/qrtrace_backend/config"
	"bitbucket.org/mmdatafocus/qrtrace_backend/utils"
	"gorm.io/gorm"
)

// QrBatch is one code-generation run for an order. The batch worker advances it
// across invocations; excel_generated / master_inserted / qr_inserted_count are
// the resume checkpoints described by the persistence pipeline.
type QrBatch struct {
	ID               int         `gorm:"primary_key" json:"id"`
	BusinessId       string      `gorm:"index;not null" json:"business_id"`
	OrderId          int         `gorm:"index;not null" json:"order_id"`
	TotalMasterCodes int         `gorm:"default:0" json:"total_master_codes"`
	TotalUniqueCodes int         `gorm:"default:0" json:"total_unique_codes"`
	TotalBufferCodes int         `gorm:"default:0" json:"total_buffer_codes"`
	Status           BatchStatus `gorm:"size:20;index;default:queued" json:"status"`

	ExcelGenerated  *bool   `gorm:"not null;default:false" json:"excel_generated"`
	ExcelUrl        *string `gorm:"size:500" json:"excel_url"`
	MasterInserted  *bool   `gorm:"not null;default:false" json:"master_inserted"`
	QrInsertedCount int     `gorm:"default:0" json:"qr_inserted_count"`

	LockedAt     *time.Time `gorm:"index" json:"locked_at"`
	LockedBy     *string    `gorm:"size:36" json:"locked_by"`
	ErrorMessage *string    `gorm:"type:text" json:"error_message"`
	CompletedAt  *time.Time `json:"completed_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreateQrBatch queues a generation run for an order. Totals stay zero until
// the worker's first pass stamps them from the deterministic generator.
func CreateQrBatch(ctx context.Context, orderId int) (*QrBatch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if orderId <= 0 {
		return nil, errors.New("order id is required")
	}

	db := config.GetDB()
	var order Order
	if err := db.WithContext(ctx).Where("id = ?", orderId).First(&order).Error; err != nil {
		return nil, err
	}

	batch := QrBatch{
		BusinessId: businessId,
		OrderId:    order.ID,
		Status:     BatchStatusQueued,
	}
	if err := db.WithContext(ctx).Create(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// MarkBatchAsPrinted flips a completed batch's codes from generated to printed
// via the mark_batch_as_printed procedure, which updates master and unit rows
// in one server-side pass.
func MarkBatchAsPrinted(ctx context.Context, batchId int, actorId int) error {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return errors.New("business id is required")
	}
	db := config.GetDB()
	return db.WithContext(ctx).Exec("CALL mark_batch_as_printed(?, ?, ?)", businessId, batchId, actorId).Error
}

// AdvanceBatchCheckpoint bumps qr_inserted_count to newCount.
// The guard keeps the checkpoint monotone: a stale worker resuming with an old
// view can never move it backwards.
func AdvanceBatchCheckpoint(tx *gorm.DB, batchId int, newCount int) error {
	return tx.Model(&QrBatch{}).
		Where("id = ? AND qr_inserted_count < ?", batchId, newCount).
		Update("qr_inserted_count", newCount).Error
}

// MarkBatchCompleted is terminal; the claim lock is released in the same update.
func MarkBatchCompleted(tx *gorm.DB, batchId int, now time.Time) error {
	return tx.Model(&QrBatch{}).
		Where("id = ? AND status = ?", batchId, BatchStatusProcessing).
		Updates(map[string]interface{}{
			"status":        BatchStatusCompleted,
			"completed_at":  &now,
			"error_message": nil,
			"locked_at":     nil,
			"locked_by":     nil,
		}).Error
}

func MarkBatchFailed(tx *gorm.DB, batchId int, errMsg string) error {
	return tx.Model(&QrBatch{}).
		Where("id = ?", batchId).
		Updates(map[string]interface{}{
			"status":        BatchStatusFailed,
			"error_message": &errMsg,
			"locked_at":     nil,
			"locked_by":     nil,
		}).Error
}

// ReleaseBatchLock clears the claim columns without touching phase flags so the
// next scheduled invocation resumes from the persisted checkpoints.
func ReleaseBatchLock(tx *gorm.DB, batchId int) error {
	return tx.Model(&QrBatch{}).
		Where("id = ?", batchId).
		Updates(map[string]interface{}{
			"locked_at": nil,
			"locked_by": nil,
		}).Error
}
