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

// Standalone runner for the reverse (buffer reconciliation) worker.
func main() {
	budgetSec := flag.Int("budget", 540, "Seconds to run before yielding")
	maxJobs := flag.Int("max-jobs", 5, "Max jobs per run")
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
	worker := workflow.NewReverseWorker(db, logger)
	worker.MaxJobsPerRun = *maxJobs

	for {
		deadline := time.Now().Add(time.Duration(*budgetSec) * time.Second)
		processed, err := worker.RunOnce(ctx, deadline)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reverse worker run failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("processed %d job(s)\n", processed)
		if !*loop {
			return
		}
		time.Sleep(time.Duration(*pollSec) * time.Second)
	}
}
