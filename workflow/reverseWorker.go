package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/qrtrace_backend/config"
	"bitbucket.org/mmdatafocus/qrtrace_backend/models"
	"bitbucket.org/mmdatafocus/qrtrace_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// jobFailure marks a domain-level job failure (shortfall, bad manual pick,
// missing master). These are terminal for the job. Anything else is treated
// as a transient store error: the claim is reverted and the next scheduled
// invocation retries.
type jobFailure struct {
	msg string
}

func (e *jobFailure) Error() string { return e.msg }

func failJob(format string, args ...interface{}) error {
	return &jobFailure{msg: fmt.Sprintf(format, args...)}
}

// ReverseWorker is the Mode C engine: it consumes queued reverse jobs (one
// case's worth of spoiled-code replacement work each), oldest first, at most
// MaxJobsPerRun per invocation.
type ReverseWorker struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	WorkerID string

	MaxJobsPerRun   int
	CancelPollEvery int
	SafetyMargin    time.Duration
	Now             func() time.Time
}

func NewReverseWorker(db *gorm.DB, logger *logrus.Logger) *ReverseWorker {
	return &ReverseWorker{
		DB:              db,
		Logger:          logger,
		WorkerID:        uuid.NewString(),
		MaxJobsPerRun:   5,
		CancelPollEvery: 10,
		SafetyMargin:    10 * time.Second,
		Now:             time.Now,
	}
}

// RunOnce claims and processes queued jobs until the per-run cap or the
// deadline budget is reached. One job's failure never aborts its siblings.
func (w *ReverseWorker) RunOnce(ctx context.Context, deadline time.Time) (processed int, err error) {
	for processed < w.MaxJobsPerRun {
		if deadline.Sub(w.Now()) < w.SafetyMargin {
			return processed, nil
		}

		job, err := w.claimNextJob(ctx)
		if err != nil {
			return processed, err
		}
		if job == nil {
			return processed, nil
		}

		jobCtx := utils.SetBusinessIdInContext(ctx, job.BusinessId)
		if perr := w.processJob(jobCtx, job); perr != nil {
			var jf *jobFailure
			if errors.As(perr, &jf) {
				w.markJobFailed(jobCtx, job, jf.msg)
			} else {
				// Transient: revert the claim so the job is retried next run.
				config.LogError(w.Logger, "reverseWorker", "RunOnce", "store error, reverting claim", job.ID, perr)
				_, _ = TryClaim(w.DB.WithContext(jobCtx), &models.QrReverseJob{}, job.ID,
					models.ReverseJobStatusRunning, models.ReverseJobStatusQueued)
			}
		}
		processed++
	}
	return processed, nil
}

func (w *ReverseWorker) claimNextJob(ctx context.Context) (*models.QrReverseJob, error) {
	now := w.Now().UTC()

	var claimed *models.QrReverseJob
	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.QrReverseJob
		q := tx.
			Where("status = ?", models.ReverseJobStatusQueued).
			Order("created_at ASC, id ASC").
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.First(&job).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		ok, err := TryClaimWith(tx, &models.QrReverseJob{}, job.ID,
			models.ReverseJobStatusQueued, models.ReverseJobStatusRunning,
			map[string]interface{}{"started_at": &now})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		job.Status = models.ReverseJobStatusRunning
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (w *ReverseWorker) processJob(ctx context.Context, job *models.QrReverseJob) error {
	ctx, span := tracer.Start(ctx, "reverseWorker.processJob",
		trace.WithAttributes(
			attribute.Int("qr.job_id", job.ID),
			attribute.Int("qr.case_no", job.CaseNo),
		))
	defer span.End()

	db := w.DB.WithContext(ctx)

	var pending []models.QrReverseJobItem
	if err := db.
		Where("job_id = ? AND processed_at IS NULL", job.ID).
		Order("id ASC").
		Find(&pending).Error; err != nil {
		return err
	}

	// A verification-only job (nothing pending) is a valid no-op: used to
	// re-confirm a case is already fully reconciled.
	if len(pending) == 0 {
		return w.completeJob(ctx, db, job, 0, 0, job.FinalUnitCount)
	}

	var master models.QrMasterCode
	if err := db.
		Where("order_id = ? AND case_no = ?", job.OrderId, job.CaseNo).
		First(&master).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return failJob("master code for order %d case %d not found", job.OrderId, job.CaseNo)
		}
		return err
	}

	assignments := ClassifyJobItems(pending)

	manualIds := make([]int, 0)
	autoNeeded := 0
	for _, a := range assignments {
		if a.Manual {
			manualIds = append(manualIds, a.ManualCodeId)
		} else {
			autoNeeded++
		}
	}

	// Auto-assignment pool: strictly this case's buffers (and variant, when the
	// job pins one). Buffers are case-exclusive and never borrowed across cases.
	poolQ := db.
		Where("order_id = ? AND case_no = ? AND is_buffer = ?", job.OrderId, job.CaseNo, true).
		Where("status IN ?", []models.QrCodeStatus{models.QrCodeStatusAvailable, models.QrCodeStatusBufferAvailable})
	if job.VariantCode != "" {
		poolQ = poolQ.Where("variant_code = ?", job.VariantCode)
	}
	if len(manualIds) > 0 {
		poolQ = poolQ.Where("id NOT IN ?", manualIds)
	}
	var pool []models.QrCode
	if err := poolQ.Order("sequence_no ASC").Find(&pool).Error; err != nil {
		return err
	}

	if autoNeeded > len(pool) {
		return failJob("buffer shortfall for case %d: needed %d, available %d", job.CaseNo, autoNeeded, len(pool))
	}

	manualCodes := make(map[int]*models.QrCode, len(manualIds))
	if len(manualIds) > 0 {
		var codes []models.QrCode
		if err := db.Where("id IN ?", manualIds).Find(&codes).Error; err != nil {
			return err
		}
		for i := range codes {
			manualCodes[codes[i].ID] = &codes[i]
		}
	}

	var resolved []ResolvedReplacement
	var failedItems []ItemFailure
	poolIdx := 0
	for i, a := range assignments {
		// Cooperative cancellation: the floor can cancel a job while it runs.
		// Already-applied updates stay in place; nothing is compensated.
		if w.CancelPollEvery > 0 && i > 0 && i%w.CancelPollEvery == 0 {
			cancelled, err := w.jobCancelled(db, job.ID)
			if err != nil {
				return err
			}
			if cancelled {
				w.Logger.WithFields(logrus.Fields{
					"module": "reverseWorker",
					"job_id": job.ID,
				}).Info("reverse job cancelled mid-run")
				return nil
			}
		}

		if a.Manual {
			code, ok := manualCodes[a.ManualCodeId]
			if !ok {
				// Structural: the operator referenced a row that does not exist.
				return failJob("replacement code %d not found", a.ManualCodeId)
			}
			if reason := ValidateManualBuffer(code, job.OrderId, job.CaseNo); reason != "" {
				failedItems = append(failedItems, ItemFailure{ItemId: a.Item.ID, Reason: reason})
				continue
			}
			resolved = append(resolved, ResolvedReplacement{
				ItemId:            a.Item.ID,
				SpoiledSequenceNo: a.Item.SpoiledSequenceNo,
				Buffer:            *code,
			})
		} else {
			buffer := pool[poolIdx]
			poolIdx++
			resolved = append(resolved, ResolvedReplacement{
				ItemId:            a.Item.ID,
				SpoiledSequenceNo: a.Item.SpoiledSequenceNo,
				Buffer:            buffer,
			})
		}
	}

	finalCount := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		// Pass 1: all spoiled unit codes in one update.
		spoiledSeqs := make([]int, 0, len(resolved))
		for _, r := range resolved {
			spoiledSeqs = append(spoiledSeqs, r.SpoiledSequenceNo)
		}
		if len(spoiledSeqs) > 0 {
			if err := tx.Model(&models.QrCode{}).
				Where("order_id = ? AND sequence_no IN ?", job.OrderId, spoiledSeqs).
				Update("status", models.QrCodeStatusSpoiled).Error; err != nil {
				return err
			}
		}

		// Pass 2: consume each resolved buffer. The conditional status guard is
		// what enforces single consumption: a buffer_used buffer can never be
		// consumed again no matter how many runs race over it.
		for _, r := range resolved {
			res := tx.Model(&models.QrCode{}).
				Where("id = ? AND status IN ?", r.Buffer.ID,
					[]models.QrCodeStatus{models.QrCodeStatusAvailable, models.QrCodeStatusBufferAvailable}).
				Updates(map[string]interface{}{
					"status":               models.QrCodeStatusBufferUsed,
					"replaces_sequence_no": r.SpoiledSequenceNo,
					"case_no":              job.CaseNo,
					"variant_code":         nonEmptyOr(job.VariantCode, r.Buffer.VariantCode),
					"master_code_id":       master.ID,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return failJob("buffer %s already used", r.Buffer.Code)
			}
		}

		// Pass 3: stamp job items with their outcome.
		for _, r := range resolved {
			bufferID := r.Buffer.ID
			bufferSeq := r.Buffer.SequenceNo
			now := w.Now().UTC()
			if err := tx.Model(&models.QrReverseJobItem{}).
				Where("id = ?", r.ItemId).
				Updates(map[string]interface{}{
					"status":                  models.ReverseJobItemStatusReplaced,
					"replaced_by_code_id":     &bufferID,
					"replaced_by_sequence_no": &bufferSeq,
					"processed_at":            &now,
				}).Error; err != nil {
				return err
			}
		}
		for _, f := range failedItems {
			reason := f.Reason
			now := w.Now().UTC()
			if err := tx.Model(&models.QrReverseJobItem{}).
				Where("id = ?", f.ItemId).
				Updates(map[string]interface{}{
					"status":         models.ReverseJobItemStatusFailed,
					"failure_reason": &reason,
					"processed_at":   &now,
				}).Error; err != nil {
				return err
			}
		}

		// Re-link all surviving non-buffer codes of the case to the master.
		if err := tx.Model(&models.QrCode{}).
			Where("order_id = ? AND case_no = ? AND is_buffer = ?", job.OrderId, job.CaseNo, false).
			Where("status NOT IN ?", []models.QrCodeStatus{models.QrCodeStatusSpoiled, models.QrCodeStatusReceivedWarehouse}).
			Updates(map[string]interface{}{
				"master_code_id": master.ID,
				"status":         models.QrCodeStatusPacked,
			}).Error; err != nil {
			return err
		}

		count, err := RecalculateMasterCaseStats(tx, w.Logger, master.ID)
		if err != nil {
			return err
		}
		finalCount = count
		return nil
	})
	if err != nil {
		return err
	}

	return w.completeJob(ctx, db, job, len(resolved), len(failedItems), finalCount)
}

func (w *ReverseWorker) jobCancelled(db *gorm.DB, jobId int) (bool, error) {
	var status models.ReverseJobStatus
	if err := db.Model(&models.QrReverseJob{}).
		Where("id = ?", jobId).
		Select("status").
		Scan(&status).Error; err != nil {
		return false, err
	}
	return status == models.ReverseJobStatusCancelled, nil
}

func (w *ReverseWorker) completeJob(ctx context.Context, db *gorm.DB, job *models.QrReverseJob, replaced, failed, finalCount int) error {
	now := w.Now().UTC()
	return db.Transaction(func(tx *gorm.DB) error {
		// Conditional on running: an external cancellation that landed during
		// the apply passes wins, and the job keeps its cancelled status.
		res := tx.Model(&models.QrReverseJob{}).
			Where("id = ? AND status = ?", job.ID, models.ReverseJobStatusRunning).
			Updates(map[string]interface{}{
				"status":           models.ReverseJobStatusCompleted,
				"replaced_count":   replaced,
				"failed_count":     failed,
				"final_unit_count": finalCount,
				"completed_at":     &now,
				"error_message":    nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return models.EmitQrEvent(ctx, tx, job.BusinessId, job.ID,
			models.QrEventReferenceTypeReverseJob, models.QrEventTypeReverseJobCompleted,
			map[string]interface{}{
				"case_no":          job.CaseNo,
				"replaced_count":   replaced,
				"failed_count":     failed,
				"final_unit_count": finalCount,
			})
	})
}

func (w *ReverseWorker) markJobFailed(ctx context.Context, job *models.QrReverseJob, msg string) {
	db := w.DB.WithContext(ctx)
	if err := db.Model(&models.QrReverseJob{}).
		Where("id = ? AND status = ?", job.ID, models.ReverseJobStatusRunning).
		Updates(map[string]interface{}{
			"status":        models.ReverseJobStatusFailed,
			"error_message": &msg,
		}).Error; err != nil {
		config.LogError(w.Logger, "reverseWorker", "markJobFailed", "update job", job.ID, err)
		return
	}
	w.Logger.WithFields(logrus.Fields{
		"module":      "reverseWorker",
		"job_id":      job.ID,
		"business_id": job.BusinessId,
	}).Error("reverse job failed: " + msg)
}

func nonEmptyOr(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
