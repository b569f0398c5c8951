package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/qrtrace_backend/models"
	"bitbucket.org/mmdatafocus/qrtrace_backend/utils"
	"gorm.io/gorm"
)

type ReverseJobItemSubmission struct {
	SpoiledSequenceNo int  `json:"spoiled_sequence_no" validate:"required,gt=0"`
	ReplacementCodeId *int `json:"replacement_code_id"`
}

// ReverseJobSubmission queues a reconciliation job for one case. Items may be
// empty; the worker treats such a job as a verification no-op for the case.
type ReverseJobSubmission struct {
	OrderId        int                        `json:"order_id" validate:"required,gt=0"`
	BatchId        int                        `json:"batch_id"`
	CaseNo         int                        `json:"case_no" validate:"required,gt=0"`
	VariantCode    string                     `json:"variant_code"`
	IdempotencyKey string                     `json:"idempotency_key"`
	SubmittedBy    *int                       `json:"submitted_by"`
	Items          []ReverseJobItemSubmission `json:"items" validate:"dive"`
}

const reverseSubmitHandler = "qr_reverse_submit"

// SubmitReverseJob records the job and its items in one transaction. A retried
// submission with the same idempotency key returns the already-queued job
// instead of queueing duplicate work.
func SubmitReverseJob(ctx context.Context, db *gorm.DB, req *ReverseJobSubmission) (*models.QrReverseJob, error) {
	if fieldErrors := utils.ValidateStruct(req); len(fieldErrors) > 0 {
		return nil, fmt.Errorf("invalid reverse job submission: %v", fieldErrors)
	}
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("business id is required in context")
	}

	seen := make(map[int]bool, len(req.Items))
	for _, it := range req.Items {
		if seen[it.SpoiledSequenceNo] {
			return nil, fmt.Errorf("spoiled sequence %d listed twice", it.SpoiledSequenceNo)
		}
		seen[it.SpoiledSequenceNo] = true
	}

	var job *models.QrReverseJob
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.IdempotencyKey != "" {
			skip, err := BeginIdempotency(tx, businessId, reverseSubmitHandler, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if skip {
				var existing models.QrReverseJob
				if err := tx.
					Where("business_id = ? AND order_id = ? AND case_no = ?", businessId, req.OrderId, req.CaseNo).
					Order("id DESC").
					First(&existing).Error; err != nil {
					return err
				}
				job = &existing
				return nil
			}
		}

		created := models.QrReverseJob{
			BusinessId:  businessId,
			OrderId:     req.OrderId,
			BatchId:     req.BatchId,
			CaseNo:      req.CaseNo,
			VariantCode: req.VariantCode,
			Status:      models.ReverseJobStatusQueued,
			TotalItems:  len(req.Items),
			SubmittedBy: req.SubmittedBy,
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		for _, it := range req.Items {
			item := models.QrReverseJobItem{
				BusinessId:        businessId,
				JobId:             created.ID,
				SpoiledSequenceNo: it.SpoiledSequenceNo,
				ReplacementCodeId: it.ReplacementCodeId,
				Status:            models.ReverseJobItemStatusPending,
			}
			if err := tx.Create(&item).Error; err != nil {
				return err
			}
		}

		if req.IdempotencyKey != "" {
			if err := MarkIdempotencySucceeded(tx, businessId, reverseSubmitHandler, req.IdempotencyKey); err != nil {
				return err
			}
		}
		job = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CancelReverseJob requests cooperative cancellation. Queued jobs cancel
// immediately; running jobs stop at the worker's next poll point with whatever
// was already applied kept in place.
func CancelReverseJob(ctx context.Context, db *gorm.DB, jobId int) (bool, error) {
	res := db.WithContext(ctx).Model(&models.QrReverseJob{}).
		Where("id = ? AND status IN ?", jobId,
			[]models.ReverseJobStatus{models.ReverseJobStatusQueued, models.ReverseJobStatusRunning}).
		Update("status", models.ReverseJobStatusCancelled)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
