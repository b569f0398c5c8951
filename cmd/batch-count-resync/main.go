package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/qrtrace_backend/config"
	"bitbucket.org/mmdatafocus/qrtrace_backend/models"
	"bitbucket.org/mmdatafocus/qrtrace_backend/utils"
)

// Resyncs a batch's insert checkpoint with the rows actually on disk.
//
// The checkpoint only ever drifts BELOW the real row count (a crash between a
// chunk insert and the checkpoint write), and the unique (batch_id, sequence_no)
// key makes re-runs of covered chunks no-ops, so drift is harmless. This tool
// exists for operators who want the numbers to line up before unlocking a
// stuck batch for reprocessing.
func main() {
	businessID := flag.String("business-id", "", "Required: business id")
	batchID := flag.Int("batch-id", 0, "Required: batch id")
	apply := flag.Bool("apply", false, "Write the corrected checkpoint (default: dry run)")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" || *batchID <= 0 {
		fmt.Fprintln(os.Stderr, "--business-id and --batch-id are required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := utils.SetBusinessIdInContext(context.Background(), *businessID)

	var batch models.QrBatch
	if err := db.WithContext(ctx).Where("id = ?", *batchID).First(&batch).Error; err != nil {
		fmt.Fprintf(os.Stderr, "load batch %d: %v\n", *batchID, err)
		os.Exit(1)
	}

	var actual int64
	if err := db.WithContext(ctx).Model(&models.QrCode{}).
		Where("batch_id = ?", batch.ID).
		Count(&actual).Error; err != nil {
		fmt.Fprintf(os.Stderr, "count qr codes: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("batch %d: checkpoint=%d actual=%d total=%d status=%s\n",
		batch.ID, batch.QrInsertedCount, actual, batch.TotalUniqueCodes, batch.Status)

	if int(actual) == batch.QrInsertedCount {
		fmt.Println("checkpoint already in sync")
		return
	}
	if !*apply {
		fmt.Println("dry run; pass --apply to write the corrected checkpoint")
		return
	}

	if err := db.WithContext(ctx).Model(&models.QrBatch{}).
		Where("id = ?", batch.ID).
		Update("qr_inserted_count", int(actual)).Error; err != nil {
		fmt.Fprintf(os.Stderr, "update checkpoint: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("checkpoint updated to %d\n", actual)
}
