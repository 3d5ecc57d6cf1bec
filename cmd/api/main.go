package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/auth"
	"classroll/internal/config"
	"classroll/internal/handler"
	"classroll/internal/httpmiddleware"
	"classroll/internal/live"
	"classroll/internal/logging"
	"classroll/internal/lowbalance"
	"classroll/internal/metrics"
	"classroll/internal/queue"
	"classroll/internal/store"
	"classroll/internal/worker"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings {
		logger.Warn("config", zap.String("detail", w))
	}

	// Set Gin mode based on environment
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, db, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	svc := attendance.NewService(backend, attendance.Options{
		Parallelism: cfg.RecordParallelism,
		Metrics:     rec,
		Logger:      logger.Named("attendance"),
	})

	if err := seedAdmin(ctx, cfg, backend, logger); err != nil {
		return err
	}

	tracker := lowbalance.NewTracker(redisClient.Client, cfg.LowBalanceThreshold)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		mem := queue.NewInMemory(64)
		q = mem
		// No separate worker process can see an in-memory queue.
		msgs, err := mem.Consume(ctx)
		if err != nil {
			return err
		}
		go worker.New(svc, tracker, logger.Named("worker")).Run(ctx, msgs)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, queue.EventsKey)
	}

	hub := live.NewHub(cfg.CORSOrigins, logger.Named("live"))
	go hub.Run(ctx)

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)
	limiter.OnReject = rec.RateLimited

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(logger.Named("http"), "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(rec.GinMiddleware())
	r.Use(limiter.GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := backend.Ping(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	handler.New(handler.Deps{
		Store:      backend,
		Service:    svc,
		Sessions:   auth.NewRedisSessions(redisClient.Client),
		Events:     q,
		Live:       hub,
		LowBalance: tracker,
		Socket:     hub.ServeWS,
		Log:        logger.Named("handler"),
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
	}).Register(r)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreBackend), zap.String("queue", cfg.QueueBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}

	logger.Info("server exited")
	return nil
}

// openBackend picks the persistence layer. The returned DB is nil for the
// memory backend; its Close is nil-safe.
func openBackend(ctx context.Context, cfg config.App, logger *zap.Logger) (attendance.Backend, *store.DB, error) {
	if cfg.StoreBackend == "memory" {
		logger.Warn("using in-memory store, data is lost on restart")
		return attendance.NewMemoryStore(), nil, nil
	}
	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.Migrate(ctx, db.Client); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return attendance.NewRepository(db.Client), db, nil
}

// seedAdmin creates the bootstrap teacher account when none with that email
// exists yet.
func seedAdmin(ctx context.Context, cfg config.App, backend attendance.Backend, logger *zap.Logger) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}
	_, err := backend.GetTeacherByEmail(ctx, cfg.AdminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, attendance.ErrNotFound) {
		return fmt.Errorf("look up admin: %w", err)
	}
	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	admin := attendance.Teacher{Name: cfg.AdminName, Email: cfg.AdminEmail, PasswordHash: hash}
	if err := backend.CreateTeacher(ctx, &admin); err != nil {
		return fmt.Errorf("create admin: %w", err)
	}
	logger.Info("admin account created", zap.String("email", admin.Email))
	return nil
}
