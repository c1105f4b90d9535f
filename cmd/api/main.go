package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/threadline-backend/api/controllers"
	"github.com/angelmondragon/threadline-backend/api/routes"
	"github.com/angelmondragon/threadline-backend/internal/auth"
	"github.com/angelmondragon/threadline-backend/internal/cart"
	"github.com/angelmondragon/threadline-backend/internal/checkout"
	"github.com/angelmondragon/threadline-backend/internal/orders"
	"github.com/angelmondragon/threadline-backend/internal/payment"
	products "github.com/angelmondragon/threadline-backend/internal/products"
	"github.com/angelmondragon/threadline-backend/internal/shipping"
	"github.com/angelmondragon/threadline-backend/internal/webhooks"
	paystackwebhook "github.com/angelmondragon/threadline-backend/internal/webhooks/paystack"
	squarewebhook "github.com/angelmondragon/threadline-backend/internal/webhooks/square"
	"github.com/angelmondragon/threadline-backend/pkg/auth/session"
	"github.com/angelmondragon/threadline-backend/pkg/config"
	"github.com/angelmondragon/threadline-backend/pkg/db"
	"github.com/angelmondragon/threadline-backend/pkg/instance"
	"github.com/angelmondragon/threadline-backend/pkg/logger"
	"github.com/angelmondragon/threadline-backend/pkg/metrics"
	"github.com/angelmondragon/threadline-backend/pkg/migrate"
	"github.com/angelmondragon/threadline-backend/pkg/outbox"
	"github.com/angelmondragon/threadline-backend/pkg/redis"
	"github.com/angelmondragon/threadline-backend/pkg/square"
	"github.com/angelmondragon/threadline-backend/pkg/storage/gcs"
)

const shutdownTimeout = 15 * time.Second

type imageUploader interface {
	Upload(ctx context.Context, object, contentType string, body io.Reader) (string, error)
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.IsDev(),
		Fields:      map[string]string{"env": cfg.App.Env},
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cartMetrics := metrics.NewCartMetrics(registry)
	orderMetrics := metrics.NewOrderMetrics(registry)

	sessionManager, err := session.NewManager(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}
	authService, err := auth.NewService(auth.ServiceParams{
		JWTConfig:   cfg.JWT,
		Revocations: sessionManager,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	var images imageUploader
	var storagePinger controllers.Pinger
	if cfg.GCS.BucketName != "" {
		gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap gcs", err)
			os.Exit(1)
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing gcs client", err)
			}
		}()
		images = gcsClient
		storagePinger = gcsClient
	} else {
		logg.Warn(context.Background(), "gcs bucket not configured, image uploads disabled")
	}

	var squareClient *square.Client
	if cfg.Payment.Name() == config.PaymentProviderSquare {
		squareClient, err = square.NewClient(context.Background(), cfg.Square, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap square", err)
			os.Exit(1)
		}
	}
	paymentAdapter, err := payment.NewAdapter(*cfg, squareClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment adapter", err)
		os.Exit(1)
	}

	productRepo := products.NewRepository(dbClient.DB())
	productService, err := products.NewService(productRepo, images, logg, cfg.GCS.MaxUploadMB)
	if err != nil {
		logg.Error(context.Background(), "failed to create product service", err)
		os.Exit(1)
	}

	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:       orders.NewRepository(dbClient.DB()),
		Tx:         dbClient,
		Outbox:     outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Identities: authService,
		Products:   productRepo,
		Logger:     logg,
		Metrics:    orderMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	mirrorRepo := cart.NewMirrorRepository(dbClient.DB())
	mirrorQueue, err := cart.NewMirrorQueue(mirrorRepo, cart.MirrorQueueConfig{
		Workers:     cfg.Cart.MirrorWorkers,
		QueueSize:   cfg.Cart.MirrorQueueSize,
		MaxRetries:  cfg.Cart.MirrorMaxRetries,
		BaseBackoff: cfg.Cart.MirrorBaseBackoff,
	}, logg, cartMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart mirror queue", err)
		os.Exit(1)
	}
	cartSessions, err := cart.NewSessions(redisClient, cfg.Cart.SessionTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart session store", err)
		os.Exit(1)
	}
	cartService, err := cart.NewService(cart.ServiceParams{
		Sessions: cartSessions,
		Locks:    redisClient,
		Remote:   mirrorRepo,
		Catalog:  productRepo,
		Mirror:   mirrorQueue,
		Logger:   logg,
		Metrics:  cartMetrics,
		LockTTL:  cfg.Cart.LockTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	shippingService, err := shipping.NewService(shipping.NewRepository(dbClient.DB()), redisClient, cfg.Cart.SessionTTL, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create shipping service", err)
		os.Exit(1)
	}

	attempts, err := checkout.NewAttempts(redisClient, cfg.Checkout.AttemptTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout attempt store", err)
		os.Exit(1)
	}
	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Attempts: attempts,
		Locks:    redisClient,
		Cart:     cartService,
		Shipping: shippingService,
		Payments: paymentAdapter,
		Orders:   orderService,
		Logger:   logg,
		Currency: cfg.Checkout.Currency,
		LockTTL:  cfg.Checkout.LockTTL,
		LockWait: cfg.Checkout.LockWait,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	paystackService, err := paystackwebhook.NewService(orderService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create paystack webhook service", err)
		os.Exit(1)
	}
	paystackGuard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, "paystack-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create paystack webhook guard", err)
		os.Exit(1)
	}
	squareService, err := squarewebhook.NewService(squarewebhook.ServiceParams{Orders: orderService, Logger: logg})
	if err != nil {
		logg.Error(context.Background(), "failed to create square webhook service", err)
		os.Exit(1)
	}
	squareGuard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, "square-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create square webhook guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
		"payments": cfg.Payment.Name(),
	})

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:              dbClient,
			Redis:           redisClient,
			Storage:         storagePinger,
			Gatherer:        registry,
			Auth:            authService,
			Products:        productService,
			Cart:            cartService,
			Checkout:        checkoutService,
			Shipping:        shippingService,
			Orders:          orderService,
			PaystackWebhook: paystackService,
			PaystackGuard:   paystackGuard,
			SquareWebhook:   squareService,
			SquareGuard:     squareGuard,
		}),
	}

	// Mirror writes must outlive the signal so Drain can flush them.
	mirrorQueue.Start(context.WithoutCancel(ctx))
	logg.Info(ctx, "starting api server")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		drainCtx, cancelDrain := context.WithTimeout(context.WithoutCancel(ctx), cfg.Cart.MirrorDrainWait)
		defer cancelDrain()
		return multierr.Combine(
			server.Shutdown(shutdownCtx),
			mirrorQueue.Drain(drainCtx),
		)
	})

	if err := g.Wait(); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down gracefully")
}
