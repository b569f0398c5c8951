package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/qrtrace_backend/config"
	"bitbucket.org/mmdatafocus/qrtrace_backend/workflow"
)

// Standalone runner for the batch persistence pipeline. The same worker runs
// behind the /internal/workers/qr-batch trigger; this binary exists for local
// runs and one-off drains.
func main() {
	budgetSec := flag.Int("budget", 540, "Seconds to run before yielding")
	loop := flag.Bool("loop", false, "Keep polling after the queue drains instead of exiting")
	pollSec := flag.Int("poll", 15, "Seconds between polls when --loop is set")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	ctx := context.Background()
	worker := workflow.NewQrBatchWorker(db, logger)

	for {
		deadline := time.Now().Add(time.Duration(*budgetSec) * time.Second)
		processed, err := worker.RunUntil(ctx, deadline)
		if err != nil {
			fmt.Fprintf(os.Stderr, "batch worker run failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("processed %d batch(es)\n", processed)
		if !*loop {
			return
		}
		time.Sleep(time.Duration(*pollSec) * time.Second)
	}
}
