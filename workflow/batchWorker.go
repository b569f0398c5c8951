package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/qrtrace_backend/config"
	"bitbucket.org/mmdatafocus/qrtrace_backend/models"
	"bitbucket.org/mmdatafocus/qrtrace_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("qrtrace-backend/workflow")

// QrBatchWorker is the three-phase persistence pipeline for generated code
// batches. It runs as a stateless, time-boxed invocation: the scheduler calls
// RunOnce with a hard deadline, and every phase/chunk boundary re-checks the
// remaining budget and yields rather than start work it cannot finish. All
// resume state lives in the qr_batches row (excel_generated, master_inserted,
// qr_inserted_count).
type QrBatchWorker struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	WorkerID string

	ChunkSize      int
	ChunksInFlight int
	SafetyMargin   time.Duration
	LockTimeout    time.Duration
	Now            func() time.Time
}

func NewQrBatchWorker(db *gorm.DB, logger *logrus.Logger) *QrBatchWorker {
	return &QrBatchWorker{
		DB:             db,
		Logger:         logger,
		WorkerID:       uuid.NewString(),
		ChunkSize:      config.QrBatchChunkSize(1000),
		ChunksInFlight: 3,
		SafetyMargin:   10 * time.Second,
		LockTimeout:    10 * time.Minute,
		Now:            time.Now,
	}
}

func (w *QrBatchWorker) remaining(deadline time.Time) time.Duration {
	return deadline.Sub(w.Now())
}

// RunOnce claims the oldest workable batch and advances it until it completes
// or the deadline budget runs out. Returns more=true when the claimed batch
// still has work left for the next scheduled invocation. A run with no
// pending batches is a no-op.
func (w *QrBatchWorker) RunOnce(ctx context.Context, deadline time.Time) (more bool, err error) {
	batch, err := w.claimNextBatch(ctx)
	if err != nil {
		return false, err
	}
	if batch == nil {
		return false, nil
	}

	ctx = utils.SetBusinessIdInContext(ctx, batch.BusinessId)
	return w.processBatch(ctx, batch, deadline)
}

// RunUntil drains pending batches until none report remaining work or the
// budget left is under SafetyMargin. A batch that yields on the margin is left
// for the next scheduled invocation instead of being re-claimed in this one.
// Returns the number of passes that reported progress.
func (w *QrBatchWorker) RunUntil(ctx context.Context, deadline time.Time) (int, error) {
	processed := 0
	for {
		if w.remaining(deadline) < w.SafetyMargin {
			return processed, nil
		}
		more, err := w.RunOnce(ctx, deadline)
		if err != nil {
			return processed, err
		}
		if !more {
			return processed, nil
		}
		processed++
	}
}

// claimNextBatch claims the oldest queued batch, or reclaims a processing
// batch whose lock went stale (worker timed out mid-run). The SKIP LOCKED
// row lock keeps two concurrent invocations from claiming the same row.
func (w *QrBatchWorker) claimNextBatch(ctx context.Context) (*models.QrBatch, error) {
	now := w.Now().UTC()
	staleBefore := now.Add(-w.LockTimeout)

	var claimed *models.QrBatch
	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch models.QrBatch
		q := tx.
			Where(`
				status = ?
				OR (status = ? AND (locked_at IS NULL OR locked_at <= ?))
			`, models.BatchStatusQueued, models.BatchStatusProcessing, staleBefore).
			Order("created_at ASC, id ASC").
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.First(&batch).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		if err := tx.Model(&models.QrBatch{}).
			Where("id = ?", batch.ID).
			Updates(map[string]interface{}{
				"status":    models.BatchStatusProcessing,
				"locked_at": &now,
				"locked_by": &w.WorkerID,
			}).Error; err != nil {
			return err
		}
		batch.Status = models.BatchStatusProcessing
		claimed = &batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (w *QrBatchWorker) processBatch(ctx context.Context, batch *models.QrBatch, deadline time.Time) (bool, error) {
	ctx, span := tracer.Start(ctx, "qrBatchWorker.processBatch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.Int("qr.batch_id", batch.ID),
			attribute.String("qr.business_id", batch.BusinessId),
		))
	defer span.End()

	db := w.DB.WithContext(ctx)

	order, err := models.GetOrderWithItems(ctx, batch.OrderId)
	if err != nil {
		if !orderLoadTerminal(err) {
			// Transient store error: release the claim with all checkpoints
			// intact and let the next scheduled invocation retry.
			config.LogError(w.Logger, "batchWorker", "processBatch", "load order", batch.ID, err)
			_ = models.ReleaseBatchLock(db, batch.ID)
			return true, fmt.Errorf("batch %d: load order: %w", batch.ID, err)
		}
		// Missing order is not transient; the batch can never make progress.
		_ = models.MarkBatchFailed(db, batch.ID, fmt.Sprintf("order %d not found: %v", batch.OrderId, err))
		return false, fmt.Errorf("batch %d: load order: %w", batch.ID, err)
	}

	generated, err := GenerateOrderCodes(generateInputFromOrder(order))
	if err != nil {
		_ = models.MarkBatchFailed(db, batch.ID, fmt.Sprintf("code generation: %v", err))
		return false, fmt.Errorf("batch %d: generate: %w", batch.ID, err)
	}

	// First run stamps the totals; later runs must agree with them, otherwise
	// the order changed under a half-persisted batch and needs manual review.
	if batch.TotalUniqueCodes == 0 {
		if err := db.Model(&models.QrBatch{}).Where("id = ?", batch.ID).Updates(map[string]interface{}{
			"total_master_codes": len(generated.Masters),
			"total_unique_codes": generated.TotalUniqueCodes(),
			"total_buffer_codes": generated.TotalBufferUnits,
		}).Error; err != nil {
			return true, err
		}
		batch.TotalMasterCodes = len(generated.Masters)
		batch.TotalUniqueCodes = generated.TotalUniqueCodes()
	} else if batch.TotalUniqueCodes != generated.TotalUniqueCodes() {
		msg := fmt.Sprintf("generated code count %d no longer matches persisted total %d",
			generated.TotalUniqueCodes(), batch.TotalUniqueCodes)
		_ = models.MarkBatchFailed(db, batch.ID, msg)
		return false, fmt.Errorf("batch %d: %s", batch.ID, msg)
	}

	// Phase 1: spreadsheet export.
	if !utils.DereferencePtr(batch.ExcelGenerated) {
		if w.remaining(deadline) < w.SafetyMargin {
			return w.yield(db, batch.ID)
		}
		if err := w.runExcelPhase(ctx, db, batch, order, generated); err != nil {
			config.LogError(w.Logger, "batchWorker", "processBatch", "excel phase", batch.ID, err)
			_ = models.ReleaseBatchLock(db, batch.ID)
			return true, err
		}
	}

	// Phase 2: master-code insert.
	if !utils.DereferencePtr(batch.MasterInserted) {
		if w.remaining(deadline) < w.SafetyMargin {
			return w.yield(db, batch.ID)
		}
		if err := w.runMasterPhase(db, batch, order, generated); err != nil {
			config.LogError(w.Logger, "batchWorker", "processBatch", "master phase", batch.ID, err)
			_ = models.ReleaseBatchLock(db, batch.ID)
			return true, err
		}
	}

	// Phase 3: chunked unit-code insert from the persisted checkpoint.
	checkpoint := batch.QrInsertedCount
	total := batch.TotalUniqueCodes
	for checkpoint < total {
		if w.remaining(deadline) < w.SafetyMargin {
			return w.yield(db, batch.ID)
		}
		window := PlanChunkWindow(checkpoint, total, w.ChunkSize, w.ChunksInFlight)
		if err := w.insertChunkWindow(db, batch, order, generated, window); err != nil {
			config.LogError(w.Logger, "batchWorker", "processBatch", "unit chunk insert", batch.ID, err)
			_ = models.ReleaseBatchLock(db, batch.ID)
			return true, err
		}
		// The checkpoint advances strictly after the whole window succeeded;
		// re-running any of its chunks is a no-op via the unique sequence key.
		checkpoint = window[len(window)-1].End
		if err := models.AdvanceBatchCheckpoint(db, batch.ID, checkpoint); err != nil {
			_ = models.ReleaseBatchLock(db, batch.ID)
			return true, err
		}
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := models.MarkBatchCompleted(tx, batch.ID, w.Now().UTC()); err != nil {
			return err
		}
		return models.EmitQrEvent(ctx, tx, batch.BusinessId, batch.ID,
			models.QrEventReferenceTypeBatch, models.QrEventTypeBatchCompleted,
			map[string]interface{}{
				"order_id":           batch.OrderId,
				"total_unique_codes": total,
				"total_master_codes": batch.TotalMasterCodes,
			})
	})
	if err != nil {
		return true, err
	}

	w.Logger.WithFields(logrus.Fields{
		"module":      "batchWorker",
		"batch_id":    batch.ID,
		"business_id": batch.BusinessId,
		"total_codes": total,
	}).Info("qr batch completed")
	return false, nil
}

// orderLoadTerminal reports whether an order-load failure can never succeed on
// a retry. Only a missing row is terminal; anything else (connection drop,
// timeout) is treated as transient.
func orderLoadTerminal(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// yield releases the claim but leaves all checkpoints in place; the next
// scheduled invocation resumes exactly where this one stopped.
func (w *QrBatchWorker) yield(db *gorm.DB, batchId int) (bool, error) {
	if err := models.ReleaseBatchLock(db, batchId); err != nil {
		return true, err
	}
	return true, nil
}

func (w *QrBatchWorker) runExcelPhase(ctx context.Context, db *gorm.DB, batch *models.QrBatch, order *models.Order, generated *GeneratedBatch) error {
	buf, err := BuildBatchWorkbook(order.OrderNo, generated)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	objectName := BatchWorkbookObjectName(batch.BusinessId, batch.ID, order.OrderNo)
	url, err := utils.UploadFileToGCS(ctx, objectName, buf)
	if err != nil {
		return fmt.Errorf("upload workbook: %w", err)
	}
	if err := db.Model(&models.QrBatch{}).Where("id = ?", batch.ID).Updates(map[string]interface{}{
		"excel_generated": true,
		"excel_url":       &url,
	}).Error; err != nil {
		return err
	}
	batch.ExcelGenerated = utils.NewTrue()
	batch.ExcelUrl = &url
	return nil
}

func (w *QrBatchWorker) runMasterPhase(db *gorm.DB, batch *models.QrBatch, order *models.Order, generated *GeneratedBatch) error {
	rows := make([]models.QrMasterCode, 0, len(generated.Masters))
	for _, m := range generated.Masters {
		rows = append(rows, models.QrMasterCode{
			BusinessId:        batch.BusinessId,
			BatchId:           batch.ID,
			OrderId:           order.ID,
			Code:              m.Code,
			CaseNo:            m.CaseNo,
			VariantCode:       m.VariantCode,
			ExpectedUnitCount: m.ExpectedUnitCount,
			Status:            models.MasterCodeStatusGenerated,
			ManufacturerOrgId: order.ManufacturerOrgId,
			WarehouseOrgId:    order.WarehouseOrgId,
		})
	}
	// Unique code column makes a retried insert a no-op row-by-row.
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 500).Error; err != nil {
		return fmt.Errorf("insert master codes: %w", err)
	}
	if err := db.Model(&models.QrBatch{}).Where("id = ?", batch.ID).
		Update("master_inserted", true).Error; err != nil {
		return err
	}
	batch.MasterInserted = utils.NewTrue()
	return nil
}

// ChunkRange is a half-open [Start, End) offset range into the generated unit
// slice; offsets double as the checkpoint values persisted on the batch.
type ChunkRange struct {
	Start int
	End   int
}

// PlanChunkWindow slices the remaining work after checkpoint into at most
// maxChunks chunks of chunkSize. Chunk content derives purely from the current
// checkpoint, which is what makes a resumed run a correct continuation.
func PlanChunkWindow(checkpoint, total, chunkSize, maxChunks int) []ChunkRange {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if maxChunks <= 0 {
		maxChunks = 1
	}
	window := make([]ChunkRange, 0, maxChunks)
	start := checkpoint
	for len(window) < maxChunks && start < total {
		end := start + chunkSize
		if end > total {
			end = total
		}
		window = append(window, ChunkRange{Start: start, End: end})
		start = end
	}
	return window
}

// insertChunkWindow inserts a window of chunks with bounded concurrency
// (len(window) <= ChunksInFlight). Any chunk failure fails the whole window so
// the checkpoint never advances past an unpersisted row.
func (w *QrBatchWorker) insertChunkWindow(db *gorm.DB, batch *models.QrBatch, order *models.Order, generated *GeneratedBatch, window []ChunkRange) error {
	var wg sync.WaitGroup
	errs := make([]error, len(window))

	for i, chunk := range window {
		wg.Add(1)
		go func(i int, chunk ChunkRange) {
			defer wg.Done()
			rows := make([]models.QrCode, 0, chunk.End-chunk.Start)
			for _, u := range generated.Units[chunk.Start:chunk.End] {
				status := models.QrCodeStatusGenerated
				if u.IsBuffer {
					status = models.QrCodeStatusBufferAvailable
				}
				rows = append(rows, models.QrCode{
					BusinessId:  batch.BusinessId,
					BatchId:     batch.ID,
					OrderId:     order.ID,
					Code:        u.Code,
					SequenceNo:  u.SequenceNo,
					CaseNo:      u.CaseNo,
					ProductCode: u.ProductCode,
					VariantCode: u.VariantCode,
					IsBuffer:    &u.IsBuffer,
					Status:      status,
				})
			}
			// (batch_id, sequence_no) unique key: re-inserting rows a crashed
			// run already wrote is a no-op instead of a duplicate.
			errs[i] = db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
		}(i, chunk)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return fmt.Errorf("chunk [%d,%d): %w", window[i].Start, window[i].End, err)
		}
	}
	return nil
}

func generateInputFromOrder(order *models.Order) GenerateInput {
	items := make([]GenerateItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, GenerateItem{
			ProductCode:  it.ProductCode,
			VariantCode:  it.VariantCode,
			Qty:          it.Qty,
			UnitsPerCase: it.UnitsPerCase,
		})
	}
	return GenerateInput{
		OrderNo:             order.OrderNo,
		ManufacturerCode:    order.ManufacturerCode,
		Items:               items,
		BufferPercent:       order.BufferPercent,
		DefaultUnitsPerCase: order.DefaultUnitsPerCase,
		PerItemCaseSize:     utils.DereferencePtr(order.PerItemCaseSize),
	}
}
