package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-service/internal/handler"
	"storefront-service/internal/loyalty"
	"storefront-service/internal/middleware"
	"storefront-service/internal/model"
	"storefront-service/internal/notify"
	"storefront-service/internal/payment"
	"storefront-service/internal/repository"
	"storefront-service/internal/service"
	"storefront-service/pkg/cache"
	"storefront-service/pkg/config"
	"storefront-service/pkg/database"
	"storefront-service/pkg/jwtutil"
	"storefront-service/pkg/logger"
	"storefront-service/prometheus"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	if err := logger.InitLogger(&logger.LogConfig{
		Level:       cfg.Log.Level,
		Environment: cfg.Server.Env,
		ServiceName: cfg.ServiceName,
	}); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	log := logger.GetLogger()
	defer log.Sync() //nolint:errcheck
	log.Info("Starting storefront service...", cfg.LogConfig()...)

	prometheus.InitMetrics(cfg.Metrics.Prefix)

	db, err := database.InitDB(&cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	if err := database.MigrateModels(db, model.AllModels()...); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}
	store := repository.NewStore(db)

	readCache := newCache(cfg, log)

	notifiers, closeNotifiers := newNotifiers(cfg, log)
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Logger:    log,
		Timeout:   10 * time.Second,
		OnFailure: prometheus.RecordNotificationFailure,
	}, notifiers...)

	tokens := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:      cfg.JWT.SigningKey,
		ExpirationHours: cfg.JWT.ExpirationHours,
	})

	catalog := service.NewCatalogService(store, readCache, log)
	customers := service.NewCustomerService(store, readCache, log)
	orders := service.NewOrderService(store, service.OrderServiceConfig{
		Policy: loyalty.Policy{
			Divisor: cfg.Loyalty.PointsDivisor,
			Thresholds: loyalty.Thresholds{
				Silver:   cfg.Loyalty.SilverThreshold,
				Gold:     cfg.Loyalty.GoldThreshold,
				Platinum: cfg.Loyalty.PlatinumThreshold,
			},
		},
		RestockOnCancel: cfg.Order.RestockOnCancel,
		Notifier:        dispatcher,
		Cache:           readCache,
		Logger:          log,
	})

	var checkout *service.CheckoutService
	if cfg.Stripe.SecretKey != "" {
		provider, err := payment.NewStripeProvider(payment.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Currency:      cfg.Stripe.Currency,
			SuccessURL:    cfg.Stripe.SuccessURL,
			CancelURL:     cfg.Stripe.CancelURL,
			Logger:        log,
		})
		if err != nil {
			log.Fatal("Failed to initialize payment provider", zap.Error(err))
		}
		checkout = service.NewCheckoutService(store, orders, provider, log)
	} else {
		log.Warn("STRIPE_SECRET_KEY not set, checkout endpoints are disabled")
	}

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 30*time.Second)
	if err := customers.EnsureSuperAdmin(bootstrapCtx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		log.Fatal("Failed to ensure super admin", zap.Error(err))
	}
	cancelBootstrap()

	// Initialize Echo framework
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = handler.HTTPErrorHandler
	e.Validator = handler.NewValidator()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowCredentials: true,
	}))
	e.Use(middleware.RequestIDMiddleware())
	e.Use(middleware.MetricsMiddleware)
	e.Use(logger.Middleware())

	auth := middleware.NewAuth(tokens, cfg.JWT.CookieName).WithRoleSource(customers)
	handler.RegisterRoutes(e, handler.Handlers{
		Health:    handler.NewHealthHandler(cfg.ServiceName, store),
		Auth:      handler.NewAuthHandler(customers, tokens, auth.CookieName(), cfg.Server.IsProduction()),
		Products:  handler.NewProductHandler(catalog),
		Orders:    handler.NewOrderHandler(orders, customers),
		Checkout:  handler.NewCheckoutHandler(checkout, orders),
		Customers: handler.NewCustomerHandler(customers),
	}, auth, middleware.RateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst))

	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
	if err := dispatcher.Shutdown(ctx); err != nil {
		log.Warn("Notifications still pending at shutdown", zap.Error(err))
	}
	closeNotifiers()
	if err := readCache.Close(); err != nil {
		log.Warn("Cache close failed", zap.Error(err))
	}
	if err := database.Close(db); err != nil {
		log.Warn("Database close failed", zap.Error(err))
	}
	log.Info("Shutdown complete")
}

// newCache prefers Redis and falls back to process memory when Redis is not
// configured or not reachable
func newCache(cfg *config.Config, log *zap.Logger) *cache.Cache {
	opts := cache.Options{
		TTL:      cfg.Cache.TTL,
		Logger:   log,
		OnResult: prometheus.RecordCacheResult,
	}

	if cfg.Cache.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := client.Ping(ctx).Err()
		if err == nil {
			log.Info("Using redis cache", zap.String("addr", cfg.Cache.RedisAddr))
			return cache.New(cache.NewRedisBackend(client, cfg.ServiceName), opts)
		}
		log.Warn("Redis unreachable, using in-memory cache", zap.Error(err))
		_ = client.Close()
	}
	return cache.New(cache.NewMemoryBackend(time.Minute), opts)
}

// newNotifiers builds the configured notification channels and a function
// releasing them
func newNotifiers(cfg *config.Config, log *zap.Logger) ([]notify.Notifier, func()) {
	var (
		notifiers []notify.Notifier
		closers   []func() error
	)

	if cfg.Email.ResendAPIKey != "" {
		email, err := notify.NewEmailNotifier(cfg.Email.ResendAPIKey, cfg.Email.From)
		if err != nil {
			log.Fatal("Failed to initialize email notifier", zap.Error(err))
		}
		notifiers = append(notifiers, email)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := notify.NewEventPublisher(notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic))
		notifiers = append(notifiers, publisher)
		closers = append(closers, publisher.Close)
	}

	names := make([]string, 0, len(notifiers))
	for _, n := range notifiers {
		names = append(names, n.Name())
	}
	log.Info("Notification channels configured", zap.Strings("channels", names))

	return notifiers, func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn("Notifier close failed", zap.Error(err))
			}
		}
	}
}
