package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/qrtrace_backend/config"
	"bitbucket.org/mmdatafocus/qrtrace_backend/models"
	"bitbucket.org/mmdatafocus/qrtrace_backend/utils"
	"bitbucket.org/mmdatafocus/qrtrace_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("qrtrace-backend")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func workerBudget() time.Duration {
	// Cloud Scheduler fires the trigger endpoints; the worker must yield well
	// inside the Cloud Run request timeout.
	sec := 540
	if v := strings.TrimSpace(os.Getenv("QR_WORKER_BUDGET_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			sec = n
		}
	}
	return time.Duration(sec) * time.Second
}

// requireInternalToken gates the internal worker/ops endpoints behind a shared
// secret. When INTERNAL_API_TOKEN is unset (local dev) the gate is open.
func requireInternalToken() gin.HandlerFunc {
	token := strings.TrimSpace(os.Getenv("INTERNAL_API_TOKEN"))
	return func(c *gin.Context) {
		if token != "" && c.GetHeader("x-internal-token") != token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// businessContext copies the request's business_id into the context so the
// tenant guard scopes every query downstream.
func businessContext(c *gin.Context, businessId string) (context.Context, bool) {
	if businessId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "business_id is required"})
		return nil, false
	}
	return utils.SetBusinessIdInContext(c.Request.Context(), businessId), true
}

func qrBatchTriggerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		// Best-effort single flight: overlapping scheduler ticks should not
		// double-run the worker. Correctness never depends on the redis lock;
		// the SKIP LOCKED claim serializes batch ownership on its own.
		redisLock := config.GetRedisLock()
		var lock *redislock.Lock
		if redisLock != nil {
			var err error
			lock, err = redisLock.Obtain(c.Request.Context(), "lock:qr-batch-worker", workerBudget(), nil)
			if err == redislock.ErrNotObtained {
				c.JSON(http.StatusOK, gin.H{"processed": 0, "skipped": "another run in progress"})
				return
			} else if err != nil {
				logger.WithFields(logrus.Fields{
					"field": "qrBatchTriggerHandler",
				}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock != nil {
				_ = lock.Release(c.Request.Context())
			}
		}()

		deadline := time.Now().Add(workerBudget())
		worker := workflow.NewQrBatchWorker(config.GetDB(), logger)

		processed, err := worker.RunUntil(c.Request.Context(), deadline)
		if err != nil {
			config.LogError(logger, "server.go", "qrBatchTriggerHandler", "worker run", processed, err)
			c.JSON(http.StatusInternalServerError, gin.H{"processed": processed, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"processed": processed})
	}
}

func qrReverseTriggerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		redisLock := config.GetRedisLock()
		var lock *redislock.Lock
		if redisLock != nil {
			var err error
			lock, err = redisLock.Obtain(c.Request.Context(), "lock:qr-reverse-worker", workerBudget(), nil)
			if err == redislock.ErrNotObtained {
				c.JSON(http.StatusOK, gin.H{"processed": 0, "skipped": "another run in progress"})
				return
			} else if err != nil {
				logger.WithFields(logrus.Fields{
					"field": "qrReverseTriggerHandler",
				}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock != nil {
				_ = lock.Release(c.Request.Context())
			}
		}()

		deadline := time.Now().Add(workerBudget())
		worker := workflow.NewReverseWorker(config.GetDB(), logger)
		processed, err := worker.RunOnce(c.Request.Context(), deadline)
		if err != nil {
			config.LogError(logger, "server.go", "qrReverseTriggerHandler", "worker run", processed, err)
			c.JSON(http.StatusInternalServerError, gin.H{"processed": processed, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"processed": processed})
	}
}

type createBatchRequest struct {
	BusinessId string `json:"business_id"`
	OrderId    int    `json:"order_id"`
}

func createBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		ctx, ok := businessContext(c, req.BusinessId)
		if !ok {
			return
		}
		batch, err := models.CreateQrBatch(ctx, req.OrderId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, batch)
	}
}

type markBatchPrintedRequest struct {
	BusinessId string `json:"business_id"`
	BatchId    int    `json:"batch_id"`
	ActorId    int    `json:"actor_id"`
}

func markBatchPrintedHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req markBatchPrintedRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.BatchId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "batch_id is required"})
			return
		}
		ctx, ok := businessContext(c, req.BusinessId)
		if !ok {
			return
		}
		if err := models.MarkBatchAsPrinted(ctx, req.BatchId, req.ActorId); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"batch_id": req.BatchId, "status": "printed"})
	}
}

type submitReverseJobRequest struct {
	BusinessId string `json:"business_id"`
	workflow.ReverseJobSubmission
}

func submitReverseJobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submitReverseJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		ctx, ok := businessContext(c, req.BusinessId)
		if !ok {
			return
		}
		job, err := workflow.SubmitReverseJob(ctx, config.GetDB(), &req.ReverseJobSubmission)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

type cancelReverseJobRequest struct {
	BusinessId string `json:"business_id"`
	JobId      int    `json:"job_id"`
}

func cancelReverseJobHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req cancelReverseJobRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		ctx, ok := businessContext(c, req.BusinessId)
		if !ok {
			return
		}
		cancelled, err := workflow.CancelReverseJob(ctx, config.GetDB(), req.JobId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !cancelled {
			c.JSON(http.StatusConflict, gin.H{"error": "job is not queued or running"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"job_id": req.JobId, "status": models.ReverseJobStatusCancelled})
	}
}

type warehouseReceiveRequest struct {
	BusinessId string `json:"business_id"`
	workflow.ReceiveRequest
}

func warehouseReceiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req warehouseReceiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		ctx, ok := businessContext(c, req.BusinessId)
		if !ok {
			return
		}
		svc := workflow.NewWarehouseReceiveService(config.GetDB(), config.GetLogger())
		summary, err := svc.Receive(ctx, &req.ReceiveRequest)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

type outboxOpsRequest struct {
	BusinessId    string `json:"business_id"`
	ReferenceType string `json:"reference_type"`
	ReferenceId   int    `json:"reference_id"`
}

func outboxStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxOpsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		ctx, ok := businessContext(c, req.BusinessId)
		if !ok {
			return
		}
		status, err := models.GetQrEventStatus(ctx, models.QrEventReferenceType(req.ReferenceType), req.ReferenceId)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func outboxReprocessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req outboxOpsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		ctx, ok := businessContext(c, req.BusinessId)
		if !ok {
			return
		}
		status, err := models.ReprocessQrEvents(ctx, models.QrEventReferenceType(req.ReferenceType), req.ReferenceId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-internal-token")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/qr/batches", createBatchHandler())
	r.POST("/qr/batches/printed", markBatchPrintedHandler())
	r.POST("/qr/reverse-jobs", submitReverseJobHandler())
	r.POST("/qr/reverse-jobs/cancel", cancelReverseJobHandler())
	r.POST("/qr/warehouse-receive", warehouseReceiveHandler())

	internal := r.Group("/internal", requireInternalToken())
	internal.POST("/workers/qr-batch", qrBatchTriggerHandler())
	internal.POST("/workers/qr-reverse", qrReverseTriggerHandler())
	internal.POST("/ops/outbox/status", outboxStatusHandler())
	internal.POST("/ops/outbox/reprocess", outboxReprocessHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start outbox dispatcher (publishes AFTER commit).
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go workflow.NewOutboxDispatcher(db, logger).Run(dispatcherCtx)

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelDispatcher()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := c.ClientIP()

	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
