package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/ticketguard/internal/auth"
	"github.com/BradenHooton/ticketguard/internal/background"
	"github.com/BradenHooton/ticketguard/internal/breaker"
	"github.com/BradenHooton/ticketguard/internal/cache"
	"github.com/BradenHooton/ticketguard/internal/config"
	"github.com/BradenHooton/ticketguard/internal/database"
	"github.com/BradenHooton/ticketguard/internal/handlers"
	"github.com/BradenHooton/ticketguard/internal/metrics"
	middlewareCustom "github.com/BradenHooton/ticketguard/internal/middleware"
	"github.com/BradenHooton/ticketguard/internal/models"
	"github.com/BradenHooton/ticketguard/internal/repositories"
	"github.com/BradenHooton/ticketguard/internal/routes"
	"github.com/BradenHooton/ticketguard/internal/services"
	pkgauth "github.com/BradenHooton/ticketguard/pkg/auth"
	pkghttp "github.com/BradenHooton/ticketguard/pkg/http"
	pkglogger "github.com/BradenHooton/ticketguard/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Cache is optional at startup; the breaker and durable store cover an outage
	redisClient := cache.NewRedisClient(&cfg.Redis, logger)
	defer redisClient.Close()
	redisCache := cache.NewRedisCache(redisClient)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	breakers := breaker.NewRegistry(breaker.Settings{
		FailureRatio:      cfg.Breaker.FailureRatio,
		MinimumThroughput: cfg.Breaker.MinimumThroughput,
		SamplingDuration:  cfg.Breaker.SamplingDuration,
		BreakDuration:     cfg.Breaker.BreakDuration,
		OperationTimeout:  cfg.Breaker.OperationTimeout,
	}, logger, collector)

	ipConfig, invalidProxies := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	for _, p := range invalidProxies {
		logger.Warn("ignoring invalid trusted proxy", slog.String("value", p))
	}

	hasher, err := pkgauth.NewHasher(cfg.Auth.BcryptCost)
	if err != nil {
		logger.Error("invalid bcrypt cost", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)

	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	// Initialize services
	auditLogger := pkglogger.NewAuditLogger(logger)

	rateLimitService := services.NewRateLimitService(redisCache, breakers, collector, logger)
	lockoutService := services.NewLockoutService(
		redisCache,
		breakers,
		userRepo,
		rateLimitService,
		services.NewLockoutMetrics(cfg.Lockout.MetricsLogEvery, collector, logger),
		collector,
		auditLogger,
		logger,
		services.LockoutConfig{
			MaxFailedAttempts: cfg.Lockout.MaxFailedAttempts,
			AttemptWindow:     cfg.Lockout.AttemptWindow,
			LockoutDuration:   cfg.Lockout.LockoutDuration,
			FailClosed:        cfg.Lockout.FailClosed,
		},
	)
	sessionService := services.NewSessionService(sessionRepo, services.SessionConfig{
		MaxActiveSessions: cfg.Session.MaxActiveSessions,
		TxMaxRetries:      cfg.Session.TxMaxRetries,
	}, collector, auditLogger, logger)
	tokenService := services.NewTokenService(tokenManager, sessionService, userRepo, auditLogger, logger)
	authService := services.NewAuthService(
		userRepo,
		hasher,
		lockoutService,
		rateLimitService,
		tokenService,
		sessionService,
		loginAttemptRepo,
		auth.NewFailureDelay(cfg.Auth.FailureDelay, cfg.Auth.FailureDelayJitter),
		auditLogger,
		logger,
		services.AuthConfig{
			LoginRateLimit:      cfg.Auth.LoginRateLimit,
			LoginRateWindow:     cfg.Auth.LoginRateWindow,
			LoginAuditRetention: cfg.Auth.LoginAuditRetention,
		},
	)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, userRepo, hasher, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:   handlers.NewAuthHandler(authService, sessionService, ipConfig),
		AdminHandler:  handlers.NewAdminHandler(authService),
		HealthHandler: handlers.NewHealthHandler(db, redisCache, logger),
		TokenManager:  tokenManager,
		UserRepo:      userRepo,
		IPConfig:      ipConfig,
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(sessionRepo, loginAttemptRepo, logger, cfg.Auth.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, hasher *pkgauth.Hasher, logger *slog.Logger) error {
	adminEmail := services.NormalizeEmail(os.Getenv("ADMIN_EMAIL"))
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := hasher.Hash(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	now := time.Now().UTC()
	admin := &models.User{
		Email:             adminEmail,
		PasswordHash:      hashedPassword,
		Name:              "Admin",
		Role:              "admin",
		PasswordChangedAt: &now,
	}

	if _, err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created", slog.String("email", pkglogger.SanitizedEmail(adminEmail)))
	return nil
}
