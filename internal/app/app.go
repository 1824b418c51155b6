package app

import (
	"fmt"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/routepay/server/internal/module/auth"
	"github.com/routepay/server/internal/module/health"
	"github.com/routepay/server/internal/module/intent"
	"github.com/routepay/server/internal/module/merchant"
	"github.com/routepay/server/internal/module/provider"
	"github.com/routepay/server/internal/module/routing"
	"github.com/routepay/server/internal/module/webhook"
	"github.com/routepay/server/internal/shared/cache"
	"github.com/routepay/server/internal/shared/config"
	"github.com/routepay/server/internal/shared/crypto"
	"github.com/routepay/server/internal/shared/database"
	"github.com/routepay/server/internal/shared/logger"
	"github.com/routepay/server/internal/shared/metrics"
	"github.com/routepay/server/internal/shared/middleware"
)

// App wires the payment orchestrator together.
type App struct {
	config   *config.Config
	db       *gorm.DB
	redis    redis.UniversalClient
	router   *gin.Engine
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	jwtManager *auth.JWTManager
	apiKeyAuth *merchant.APIKeyAuthenticator

	merchantHandler *merchant.Handler
	providerHandler *provider.Handler
	intentHandler   *intent.Handler
	healthHandler   *health.Handler
	webhookHandler  *webhook.Handler
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}

	app := &App{
		config:   cfg,
		db:       db,
		redis:    redisClient,
		logger:   log,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := app.initModules(); err != nil {
		return nil, fmt.Errorf("init modules: %w", err)
	}
	app.router = app.setupRouter()
	return app, nil
}

func (a *App) initModules() error {
	m := metrics.New(a.registry)

	cipher, err := crypto.NewAESGCM(a.config.Crypto.MasterKey)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret:            a.config.Auth.JWTSecret,
		AccessTokenExpiry: a.config.Auth.AccessTokenExpiry,
	})

	merchantRepo := merchant.NewRepository(a.db)
	merchantService := merchant.NewService(merchantRepo, a.logger)
	a.merchantHandler = merchant.NewHandler(merchantService, jwtManager)

	healthRepo := health.NewRepository(a.db)
	tracker := health.NewTracker(healthRepo, m, a.logger)
	a.healthHandler = health.NewHandler(tracker)

	registry := provider.NewRegistry()
	registry.Register(provider.NewStripeAdapter(a.logger))
	registry.Register(provider.NewAdyenAdapter(a.logger))
	registry.Register(provider.NewDemoAdapter(a.config.Server.CheckoutBaseURL, a.logger))

	credentialRepo := provider.NewCredentialRepository(a.db)
	credentialService := provider.NewCredentialService(credentialRepo, cipher)
	resolver := provider.NewResolver(credentialService, registry, tracker, a.config.Providers, a.logger)
	a.providerHandler = provider.NewHandler(credentialService, resolver)

	engine := routing.NewEngine(tracker, a.logger)

	intentRepo := intent.NewRepository(a.db)
	checkoutStore := intent.NewCheckoutConfigStore(a.redis, cipher)
	intentService := intent.NewService(
		intent.ServiceConfig{
			MaxAttemptsPerRoot: a.config.Routing.MaxAttemptsPerRoot,
			SessionTimeout:     a.config.Routing.SessionTimeout,
		},
		merchantRepo, intentRepo, engine, resolver, registry,
		checkoutStore, tracker, m, a.logger,
	)
	a.intentHandler = intent.NewHandler(intentService)

	webhookService := webhook.NewService(intentRepo, tracker, a.config.Providers, a.logger)
	a.webhookHandler = webhook.NewHandler(webhookService, a.logger)

	a.apiKeyAuth = merchant.NewAPIKeyAuthenticator(merchantService)
	a.jwtManager = jwtManager
	a.metrics = m
	return nil
}

func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics(a.metrics))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-API-Key", "Idempotency-Key", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
	}))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	api := r.Group("/api")

	// Public: registration, login and provider webhooks.
	a.merchantHandler.RegisterRoutes(api)
	a.webhookHandler.RegisterRoutes(api.Group("/webhooks"))

	// Dashboard: JWT-protected management surface.
	dashboard := api.Group("")
	dashboard.Use(auth.JWTMiddleware(a.jwtManager))
	a.merchantHandler.RegisterProtectedRoutes(dashboard)
	a.providerHandler.RegisterRoutes(dashboard)
	a.healthHandler.RegisterRoutes(dashboard)
	a.intentHandler.RegisterAdminRoutes(dashboard.Group("/admin"))

	// Payments: API-key authenticated server-to-server surface.
	payments := api.Group("")
	payments.Use(auth.APIKeyMiddleware(a.apiKeyAuth))
	a.intentHandler.RegisterRoutes(payments)

	return r
}

// Router returns the configured HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Close releases the application's connections.
func (a *App) Close() {
	if err := cache.Close(a.redis); err != nil {
		a.logger.Warn("close redis", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&merchant.Merchant{},
		&provider.MerchantCredential{},
		&intent.PaymentIntent{},
		&intent.RoutingDecision{},
		&intent.IdempotencyRecord{},
		&health.PaymentEvent{},
		&health.Snapshot{},
	)
}
