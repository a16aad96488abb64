package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/desniniranjan/fishing-sub002/config"
	"github.com/desniniranjan/fishing-sub002/middlewares"
	"github.com/desniniranjan/fishing-sub002/models"
	"github.com/desniniranjan/fishing-sub002/utils"
	"github.com/desniniranjan/fishing-sub002/workflow"
)

const defaultPort = "8080"

var tracer = otel.Tracer("fishing-sub002")

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

// respondError maps the error taxonomy onto HTTP statuses. Stock-shortage
// responses carry the needed/available/shortfall detail so the caller can
// explain the failure without a second query.
func respondError(c *gin.Context, err error) {
	kind := utils.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "VALIDATION":
		status = http.StatusBadRequest
	case "NOT_FOUND":
		status = http.StatusNotFound
	case "INSUFFICIENT_STOCK", "ALREADY_PROCESSED":
		status = http.StatusConflict
	}

	body := gin.H{"error": err.Error(), "kind": kind}
	var stockErr *utils.InsufficientStockError
	if errors.As(err, &stockErr) {
		body["needed_kg"] = stockErr.NeededKg
		body["available_kg"] = stockErr.AvailableKg
		body["shortfall_kg"] = stockErr.ShortfallKg
		body["boxes_on_hand"] = stockErr.Boxes
		body["loose_kg_on_hand"] = stockErr.LooseKg
	}
	c.JSON(status, body)
}

// bindJSON binds the request body, answering 400 with per-field validator
// tags when binding fails.
func bindJSON(c *gin.Context, obj any) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(ve)})
		return false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	return false
}

func requirePrincipal(c *gin.Context) (context.Context, bool) {
	ctx := c.Request.Context()
	if _, ok := utils.GetUserIdFromContext(ctx); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	return ctx, true
}

func loginHandler() gin.HandlerFunc {
	type loginRequest struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	return func(c *gin.Context) {
		var req loginRequest
		if !bindJSON(c, &req) {
			return
		}
		token, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// meHandler echoes the authenticated principal back to the console.
func meHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := requirePrincipal(c)
		if !ok {
			return
		}
		userId, _ := utils.GetUserIdFromContext(ctx)
		userName, _ := utils.GetUserNameFromContext(ctx)
		c.JSON(http.StatusOK, gin.H{"id": userId, "name": userName})
	}
}

func createSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := requirePrincipal(c)
		if !ok {
			return
		}
		ctx, span := tracer.Start(ctx, "createSale")
		defer span.End()

		var input models.NewSale
		if !bindJSON(c, &input) {
			return
		}
		sale, err := workflow.CreateSale(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sale)
	}
}

func proposeChangeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := requirePrincipal(c)
		if !ok {
			return
		}
		saleId, err := strconv.Atoi(c.Param("id"))
		if err != nil || saleId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sale id"})
			return
		}
		var input models.NewAuditRecord
		if !bindJSON(c, &input) {
			return
		}
		input.SaleId = saleId
		record, err := workflow.ProposeChange(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, record)
	}
}

func decideHandler() gin.HandlerFunc {
	type decisionRequest struct {
		Decision models.Decision `json:"decision" binding:"required"`
		Reason   string          `json:"reason"`
	}
	return func(c *gin.Context) {
		ctx, ok := requirePrincipal(c)
		if !ok {
			return
		}
		auditId, err := strconv.Atoi(c.Param("id"))
		if err != nil || auditId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid audit id"})
			return
		}
		var req decisionRequest
		if !bindJSON(c, &req) {
			return
		}
		record, err := workflow.Decide(ctx, auditId, req.Decision, req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func pendingAuditsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := requirePrincipal(c)
		if !ok {
			return
		}
		records, err := models.GetPendingAuditRecords(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

func stockMovementHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := requirePrincipal(c)
		if !ok {
			return
		}
		var input models.NewStockMovement
		if !bindJSON(c, &input) {
			return
		}
		entry, err := workflow.RecordStockMovement(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, entry)
	}
}

func createProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := requirePrincipal(c)
		if !ok {
			return
		}
		var input models.NewProduct
		if !bindJSON(c, &input) {
			return
		}
		product, err := models.CreateProduct(ctx, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, product)
	}
}

func updateProductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := requirePrincipal(c)
		if !ok {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
			return
		}
		var input models.NewProduct
		if !bindJSON(c, &input) {
			return
		}
		product, err := models.UpdateProduct(ctx, id, &input)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, product)
	}
}

func listProductsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := requirePrincipal(c)
		if !ok {
			return
		}
		products, err := models.GetProducts(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, products)
	}
}

func listSalesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := requirePrincipal(c)
		if !ok {
			return
		}
		sales, err := models.GetSales(ctx)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, sales)
	}
}

func ledgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := requirePrincipal(c)
		if !ok {
			return
		}
		productId, _ := strconv.Atoi(c.Query("product_id"))
		entries, err := models.GetLedgerEntries(ctx, productId)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	}
}

// Ops tooling: ledger-vs-inventory drift report.
func reconciliationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, ok := requirePrincipal(c)
		if !ok {
			return
		}
		productId, _ := strconv.Atoi(c.Query("product_id"))
		drifts, err := workflow.CheckProductDrift(ctx, productId)
		if err != nil {
			respondError(c, err)
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(ctx)
		c.JSON(http.StatusOK, gin.H{
			"drifts":         drifts,
			"correlation_id": cid,
		})
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
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

	// Shutdown coordination.
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
		// Always allow the startup probe.
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
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
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

	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/api/login", loginHandler())
	r.GET("/api/me", meHandler())
	r.GET("/api/products", listProductsHandler())
	r.POST("/api/products", createProductHandler())
	r.PUT("/api/products/:id", updateProductHandler())
	r.GET("/api/sales", listSalesHandler())
	r.POST("/api/sales", createSaleHandler())
	// Sales are immutable after creation; edits/deletes go through audits.
	r.POST("/api/sales/:id/changes", proposeChangeHandler())
	r.GET("/api/audits", pendingAuditsHandler())
	r.POST("/api/audits/:id/decision", decideHandler())
	r.POST("/api/stock-movements", stockMovementHandler())
	r.GET("/api/stock-ledger", ledgerHandler())
	// Ops tooling: ledger-vs-inventory drift report.
	r.GET("/internal/ops/reconciliation", reconciliationHandler())
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (startup probe is TCP based).
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

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

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
