package workflow_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/qrtrace_backend/config"
	"bitbucket.org/mmdatafocus/qrtrace_backend/models"
	"bitbucket.org/mmdatafocus/qrtrace_backend/utils"
	"bitbucket.org/mmdatafocus/qrtrace_backend/workflow"
	"github.com/shopspring/decimal"
)

func decimalFromInt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// End-to-end lifecycle: generate + persist a batch, reconcile spoiled codes
// from the case buffer pool, then receive the case at the warehouse.
func TestQrLifecycle_BatchReverseReceive(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "qrtrace_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	installStockMovementFunction(t)

	businessID := "biz-qr-lifecycle"
	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUserIdInContext(ctx, 1)

	// Order: 25 units, 10 per case, 20% buffer => cases of 10/10/5 plus 5 buffers.
	order := models.Order{
		BusinessId:          businessID,
		OrderNo:             "ORD-INT-1",
		ManufacturerOrgId:   100,
		WarehouseOrgId:      200,
		ManufacturerCode:    "MFR",
		BufferPercent:       20,
		DefaultUnitsPerCase: 10,
		PerItemCaseSize:     utils.NewFalse(),
	}
	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	item := models.OrderItem{
		BusinessId:  businessID,
		OrderId:     order.ID,
		ProductCode: "P1",
		VariantCode: "V1",
		Qty:         25,
		Position:    1,
	}
	if err := db.WithContext(ctx).Create(&item).Error; err != nil {
		t.Fatalf("create order item: %v", err)
	}

	// Excel phase is pre-marked done: the workbook upload needs GCS credentials
	// that integration environments don't carry.
	url := "https://storage.googleapis.com/test/batch.xlsx"
	batch := models.QrBatch{
		BusinessId:     businessID,
		OrderId:        order.ID,
		Status:         models.BatchStatusQueued,
		ExcelGenerated: utils.NewTrue(),
		ExcelUrl:       &url,
		MasterInserted: utils.NewFalse(),
	}
	if err := db.WithContext(ctx).Create(&batch).Error; err != nil {
		t.Fatalf("create batch: %v", err)
	}

	// ---- Phase pipeline ----
	batchWorker := workflow.NewQrBatchWorker(db, config.GetLogger())
	batchWorker.ChunkSize = 7 // force several chunk windows
	more, err := batchWorker.RunOnce(ctx, time.Now().Add(2*time.Minute))
	if err != nil {
		t.Fatalf("batch worker: %v", err)
	}
	if more {
		t.Fatal("batch should complete within one generous run")
	}

	var persisted models.QrBatch
	if err := db.WithContext(ctx).Where("id = ?", batch.ID).First(&persisted).Error; err != nil {
		t.Fatalf("reload batch: %v", err)
	}
	if persisted.Status != models.BatchStatusCompleted {
		t.Fatalf("batch status %s, want completed (error: %v)", persisted.Status, persisted.ErrorMessage)
	}
	if persisted.TotalUniqueCodes != 30 || persisted.QrInsertedCount != 30 || persisted.TotalMasterCodes != 3 {
		t.Fatalf("batch totals: unique=%d inserted=%d masters=%d, want 30/30/3",
			persisted.TotalUniqueCodes, persisted.QrInsertedCount, persisted.TotalMasterCodes)
	}

	var unitCount, masterCount int64
	db.WithContext(ctx).Model(&models.QrCode{}).Where("batch_id = ?", batch.ID).Count(&unitCount)
	db.WithContext(ctx).Model(&models.QrMasterCode{}).Where("batch_id = ?", batch.ID).Count(&masterCount)
	if unitCount != 30 || masterCount != 3 {
		t.Fatalf("persisted rows: units=%d masters=%d, want 30/3", unitCount, masterCount)
	}

	// Re-running the worker must be a no-op, not a duplicate insert.
	if _, err := batchWorker.RunOnce(ctx, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("idempotent re-run: %v", err)
	}
	db.WithContext(ctx).Model(&models.QrCode{}).Where("batch_id = ?", batch.ID).Count(&unitCount)
	if unitCount != 30 {
		t.Fatalf("re-run duplicated rows: %d", unitCount)
	}

	// ---- Reverse (Mode C) ----
	// Buffers are available for case 1; make its units scannable first.
	db.WithContext(ctx).Model(&models.QrCode{}).
		Where("batch_id = ? AND is_buffer = 0", batch.ID).
		Update("status", models.QrCodeStatusAvailable)

	job, err := workflow.SubmitReverseJob(ctx, db, &workflow.ReverseJobSubmission{
		OrderId:        order.ID,
		BatchId:        batch.ID,
		CaseNo:         1,
		VariantCode:    "V1",
		IdempotencyKey: "rev-1",
		Items: []workflow.ReverseJobItemSubmission{
			{SpoiledSequenceNo: 2},
			{SpoiledSequenceNo: 5},
		},
	})
	if err != nil {
		t.Fatalf("submit reverse job: %v", err)
	}

	// Same key resubmitted: no second job.
	dup, err := workflow.SubmitReverseJob(ctx, db, &workflow.ReverseJobSubmission{
		OrderId: order.ID, BatchId: batch.ID, CaseNo: 1, VariantCode: "V1",
		IdempotencyKey: "rev-1",
		Items:          []workflow.ReverseJobItemSubmission{{SpoiledSequenceNo: 2}},
	})
	if err != nil {
		t.Fatalf("resubmit reverse job: %v", err)
	}
	if dup.ID != job.ID {
		t.Fatalf("idempotency key created a second job: %d vs %d", dup.ID, job.ID)
	}

	reverseWorker := workflow.NewReverseWorker(db, config.GetLogger())
	processed, err := reverseWorker.RunOnce(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("reverse worker: %v", err)
	}
	if processed != 1 {
		t.Fatalf("processed %d jobs, want 1", processed)
	}

	var doneJob models.QrReverseJob
	if err := db.WithContext(ctx).Where("id = ?", job.ID).First(&doneJob).Error; err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if doneJob.Status != models.ReverseJobStatusCompleted {
		t.Fatalf("job status %s, want completed (error: %v)", doneJob.Status, doneJob.ErrorMessage)
	}
	if doneJob.ReplacedCount != 2 || doneJob.FailedCount != 0 || doneJob.FinalUnitCount != 10 {
		t.Fatalf("job counts replaced=%d failed=%d final=%d, want 2/0/10",
			doneJob.ReplacedCount, doneJob.FailedCount, doneJob.FinalUnitCount)
	}

	var spoiled int64
	db.WithContext(ctx).Model(&models.QrCode{}).
		Where("order_id = ? AND sequence_no IN ? AND status = ?", order.ID, []int{2, 5}, models.QrCodeStatusSpoiled).
		Count(&spoiled)
	if spoiled != 2 {
		t.Fatalf("spoiled rows %d, want 2", spoiled)
	}

	var consumed []models.QrCode
	db.WithContext(ctx).
		Where("order_id = ? AND status = ?", order.ID, models.QrCodeStatusBufferUsed).
		Find(&consumed)
	if len(consumed) != 2 {
		t.Fatalf("consumed buffers %d, want 2", len(consumed))
	}
	for _, c := range consumed {
		if c.CaseNo != 1 || c.ReplacesSequenceNo == nil || c.MasterCodeId == nil {
			t.Fatalf("consumed buffer not fully linked: %+v", c)
		}
	}

	var master models.QrMasterCode
	if err := db.WithContext(ctx).
		Where("order_id = ? AND case_no = ?", order.ID, 1).
		First(&master).Error; err != nil {
		t.Fatalf("load case 1 master: %v", err)
	}
	if master.ActualUnitCount != 10 || master.Status != models.MasterCodeStatusPacked {
		t.Fatalf("case 1 master actual=%d status=%s, want 10/packed", master.ActualUnitCount, master.Status)
	}

	// ---- Warehouse receive ----
	svc := workflow.NewWarehouseReceiveService(db, config.GetLogger())
	summary, err := svc.Receive(ctx, &workflow.ReceiveRequest{
		OrderId:        order.ID,
		WarehouseOrgId: 200,
		IdempotencyKey: "recv-1",
		Codes:          []string{master.Code, master.Code, "MFR-MDOESNOTEXIST"},
	})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if summary.Received != 1 || summary.Failed != 2 {
		t.Fatalf("summary received=%d failed=%d, want 1/2: %+v", summary.Received, summary.Failed, summary.Results)
	}
	if summary.NotFound != 1 || summary.DuplicateRequest != 1 {
		t.Fatalf("summary per-outcome counts not_found=%d duplicate_request=%d, want 1/1",
			summary.NotFound, summary.DuplicateRequest)
	}
	outcomes := map[workflow.ReceiveOutcome]int{}
	for _, r := range summary.Results {
		outcomes[r.Outcome]++
	}
	if outcomes[workflow.ReceiveOutcomeReceived] != 1 ||
		outcomes[workflow.ReceiveOutcomeDuplicateRequest] != 1 ||
		outcomes[workflow.ReceiveOutcomeNotFound] != 1 {
		t.Fatalf("unexpected outcomes: %+v", summary.Results)
	}

	if err := db.WithContext(ctx).Where("id = ?", master.ID).First(&master).Error; err != nil {
		t.Fatalf("reload master: %v", err)
	}
	if master.Status != models.MasterCodeStatusReceivedWarehouse || master.ReceivedAt == nil {
		t.Fatalf("master after receive: status=%s received_at=%v", master.Status, master.ReceivedAt)
	}

	var received int64
	db.WithContext(ctx).Model(&models.QrCode{}).
		Where("master_code_id = ? AND status = ?", master.ID, models.QrCodeStatusReceivedWarehouse).
		Count(&received)
	if received != 10 {
		t.Fatalf("received unit rows %d, want 10", received)
	}

	var inv models.ProductInventory
	if err := db.WithContext(ctx).
		Where("org_id = ? AND variant_code = ?", 200, "V1").
		First(&inv).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	if !inv.QtyOnHand.Equal(decimalFromInt(10)) || !inv.CaseQty.Equal(decimalFromInt(1)) {
		t.Fatalf("inventory qty=%s cases=%s, want 10/1", inv.QtyOnHand, inv.CaseQty)
	}

	var movements int64
	db.WithContext(ctx).Model(&models.QrMovement{}).
		Where("master_code_id = ?", master.ID).Count(&movements)
	if movements != 1 {
		t.Fatalf("movement audit rows %d, want 1", movements)
	}

	// Retried receive with the same idempotency key returns the cached summary
	// without double-posting inventory.
	again, err := svc.Receive(ctx, &workflow.ReceiveRequest{
		OrderId:        order.ID,
		WarehouseOrgId: 200,
		IdempotencyKey: "recv-1",
		Codes:          []string{master.Code},
	})
	if err != nil {
		t.Fatalf("retried receive: %v", err)
	}
	if again.Received != 1 {
		t.Fatalf("retried receive summary: %+v", again)
	}
	db.WithContext(ctx).Model(&models.QrMovement{}).
		Where("master_code_id = ?", master.ID).Count(&movements)
	if movements != 1 {
		t.Fatalf("retry double-posted: %d movement rows", movements)
	}

	// Events for batch completion, job completion, and case receive went
	// through the outbox.
	var events int64
	db.WithContext(ctx).Model(&models.QrEventRecord{}).Count(&events)
	if events < 3 {
		t.Fatalf("outbox rows %d, want at least 3", events)
	}

	// ---- Re-receive of a received case ----
	// A second scan of case 1 (fresh idempotency key, no constraining order)
	// reports already_received with the original receive stamp and posts
	// nothing.
	reReceive, err := svc.Receive(ctx, &workflow.ReceiveRequest{
		IdempotencyKey: "recv-2",
		Codes:          []string{master.Code},
	})
	if err != nil {
		t.Fatalf("re-receive: %v", err)
	}
	if reReceive.AlreadyReceived != 1 || reReceive.Received != 0 || reReceive.Failed != 0 {
		t.Fatalf("re-receive summary already=%d received=%d failed=%d, want 1/0/0",
			reReceive.AlreadyReceived, reReceive.Received, reReceive.Failed)
	}
	res := reReceive.Results[0]
	if res.Outcome != workflow.ReceiveOutcomeAlreadyReceived {
		t.Fatalf("re-receive outcome %s, want already_received", res.Outcome)
	}
	if res.ReceivedAt == nil || !res.ReceivedAt.Equal(*master.ReceivedAt) {
		t.Fatalf("re-receive result stamp %v, want original %v", res.ReceivedAt, master.ReceivedAt)
	}
	db.WithContext(ctx).Model(&models.QrMovement{}).
		Where("master_code_id = ?", master.ID).Count(&movements)
	if movements != 1 {
		t.Fatalf("re-receive posted a movement: %d rows", movements)
	}

	// ---- Incomplete case fails the integrity gate ----
	// Case 2 is packed but one unit goes missing; receiving it must fail and
	// transition nothing.
	var master2 models.QrMasterCode
	if err := db.WithContext(ctx).
		Where("order_id = ? AND case_no = ?", order.ID, 2).
		First(&master2).Error; err != nil {
		t.Fatalf("load case 2 master: %v", err)
	}
	db.WithContext(ctx).Model(&models.QrCode{}).
		Where("order_id = ? AND case_no = ? AND is_buffer = 0", order.ID, 2).
		Updates(map[string]interface{}{"master_code_id": master2.ID, "status": models.QrCodeStatusPacked})
	db.WithContext(ctx).Model(&models.QrMasterCode{}).
		Where("id = ?", master2.ID).Update("status", models.MasterCodeStatusPacked)
	db.WithContext(ctx).Model(&models.QrCode{}).
		Where("order_id = ? AND sequence_no = ?", order.ID, 15).
		Update("status", models.QrCodeStatusSpoiled)

	short, err := svc.Receive(ctx, &workflow.ReceiveRequest{
		OrderId:        order.ID,
		WarehouseOrgId: 200,
		Codes:          []string{master2.Code},
	})
	if err != nil {
		t.Fatalf("incomplete-case receive: %v", err)
	}
	if short.Errors != 1 || short.Received != 0 {
		t.Fatalf("incomplete-case summary errors=%d received=%d, want 1/0: %+v", short.Errors, short.Received, short.Results)
	}
	if !strings.Contains(short.Results[0].Message, "case integrity check failed") {
		t.Fatalf("incomplete-case message: %q", short.Results[0].Message)
	}
	if err := db.WithContext(ctx).Where("id = ?", master2.ID).First(&master2).Error; err != nil {
		t.Fatalf("reload case 2 master: %v", err)
	}
	if master2.Status != models.MasterCodeStatusPacked {
		t.Fatalf("incomplete case transitioned master to %s", master2.Status)
	}
	var received2 int64
	db.WithContext(ctx).Model(&models.QrCode{}).
		Where("master_code_id = ? AND status = ?", master2.ID, models.QrCodeStatusReceivedWarehouse).
		Count(&received2)
	if received2 != 0 {
		t.Fatalf("incomplete case received %d units", received2)
	}

	// ---- Buffer shortfall fails the job before any write ----
	// Case 1's two buffers are already consumed; one more auto replacement has
	// nothing to draw from.
	shortJob, err := workflow.SubmitReverseJob(ctx, db, &workflow.ReverseJobSubmission{
		OrderId:        order.ID,
		BatchId:        batch.ID,
		CaseNo:         1,
		VariantCode:    "V1",
		IdempotencyKey: "rev-shortfall",
		Items:          []workflow.ReverseJobItemSubmission{{SpoiledSequenceNo: 3}},
	})
	if err != nil {
		t.Fatalf("submit shortfall job: %v", err)
	}
	if _, err := reverseWorker.RunOnce(ctx, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("reverse worker (shortfall): %v", err)
	}
	if err := db.WithContext(ctx).Where("id = ?", shortJob.ID).First(shortJob).Error; err != nil {
		t.Fatalf("reload shortfall job: %v", err)
	}
	if shortJob.Status != models.ReverseJobStatusFailed {
		t.Fatalf("shortfall job status %s, want failed", shortJob.Status)
	}
	wantMsg := "buffer shortfall for case 1: needed 1, available 0"
	if shortJob.ErrorMessage == nil || *shortJob.ErrorMessage != wantMsg {
		t.Fatalf("shortfall message %v, want %q", shortJob.ErrorMessage, wantMsg)
	}
	var stillGood int64
	db.WithContext(ctx).Model(&models.QrCode{}).
		Where("order_id = ? AND sequence_no = ? AND status = ?", order.ID, 3, models.QrCodeStatusSpoiled).
		Count(&stillGood)
	if stillGood != 0 {
		t.Fatal("shortfall job spoiled a code before failing")
	}

	// ---- A buffer is consumed at most once ----
	// Two manual picks naming the same buffer: the second consumption hits the
	// status guard, the job fails, and the whole application rolls back.
	var case3Buffer models.QrCode
	if err := db.WithContext(ctx).
		Where("order_id = ? AND case_no = ? AND is_buffer = 1 AND status = ?",
			order.ID, 3, models.QrCodeStatusBufferAvailable).
		First(&case3Buffer).Error; err != nil {
		t.Fatalf("load case 3 buffer: %v", err)
	}
	dupJob, err := workflow.SubmitReverseJob(ctx, db, &workflow.ReverseJobSubmission{
		OrderId:        order.ID,
		BatchId:        batch.ID,
		CaseNo:         3,
		VariantCode:    "V1",
		IdempotencyKey: "rev-dup-pick",
		Items: []workflow.ReverseJobItemSubmission{
			{SpoiledSequenceNo: 21, ReplacementCodeId: &case3Buffer.ID},
			{SpoiledSequenceNo: 22, ReplacementCodeId: &case3Buffer.ID},
		},
	})
	if err != nil {
		t.Fatalf("submit duplicate-pick job: %v", err)
	}
	if _, err := reverseWorker.RunOnce(ctx, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("reverse worker (duplicate pick): %v", err)
	}
	if err := db.WithContext(ctx).Where("id = ?", dupJob.ID).First(dupJob).Error; err != nil {
		t.Fatalf("reload duplicate-pick job: %v", err)
	}
	if dupJob.Status != models.ReverseJobStatusFailed {
		t.Fatalf("duplicate-pick job status %s, want failed", dupJob.Status)
	}
	if dupJob.ErrorMessage == nil || !strings.Contains(*dupJob.ErrorMessage, "already used") {
		t.Fatalf("duplicate-pick message %v, want a buffer-already-used failure", dupJob.ErrorMessage)
	}
	if err := db.WithContext(ctx).Where("id = ?", case3Buffer.ID).First(&case3Buffer).Error; err != nil {
		t.Fatalf("reload case 3 buffer: %v", err)
	}
	if case3Buffer.Status != models.QrCodeStatusBufferAvailable {
		t.Fatalf("rolled-back buffer status %s, want buffer_available", case3Buffer.Status)
	}
	var spoiled3 int64
	db.WithContext(ctx).Model(&models.QrCode{}).
		Where("order_id = ? AND sequence_no IN ? AND status = ?", order.ID, []int{21, 22}, models.QrCodeStatusSpoiled).
		Count(&spoiled3)
	if spoiled3 != 0 {
		t.Fatalf("duplicate-pick rollback left %d spoiled codes", spoiled3)
	}
}

func installStockMovementFunction(t *testing.T) {
	t.Helper()
	db := config.GetDB()
	if err := db.Exec("SET GLOBAL log_bin_trust_function_creators = 1").Error; err != nil {
		t.Fatalf("trust function creators: %v", err)
	}
	fn := `
CREATE FUNCTION record_stock_movement(
	p_business_id VARCHAR(64), p_movement_type VARCHAR(30), p_variant_code VARCHAR(50),
	p_org_id INT, p_qty_change DECIMAL(20,4), p_case_change INT,
	p_reference_type VARCHAR(30), p_reference_id INT
) RETURNS INT
MODIFIES SQL DATA
BEGIN
	DECLARE v_id INT;
	SELECT id INTO v_id FROM product_inventories
		WHERE business_id = p_business_id AND org_id = p_org_id AND variant_code = p_variant_code
		LIMIT 1;
	IF v_id IS NULL THEN
		INSERT INTO product_inventories (business_id, org_id, variant_code, qty_on_hand, qty_available, case_qty, unit_qty)
		VALUES (p_business_id, p_org_id, p_variant_code, p_qty_change, p_qty_change, p_case_change, p_qty_change);
		SET v_id = LAST_INSERT_ID();
	ELSE
		UPDATE product_inventories
			SET qty_on_hand = qty_on_hand + p_qty_change,
				qty_available = qty_available + p_qty_change,
				case_qty = case_qty + p_case_change,
				unit_qty = unit_qty + p_qty_change
			WHERE id = v_id;
	END IF;
	RETURN v_id;
END`
	if err := db.Exec(fn).Error; err != nil {
		t.Fatalf("create record_stock_movement: %v", err)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("qrtrace-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("qrtrace-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=qrtrace_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
