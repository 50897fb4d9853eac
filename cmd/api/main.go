package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/hanko-field/fulfillment/internal/domain"
	"github.com/hanko-field/fulfillment/internal/handlers"
	"github.com/hanko-field/fulfillment/internal/payments"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/config"
	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
	"github.com/hanko-field/fulfillment/internal/platform/idempotency"
	"github.com/hanko-field/fulfillment/internal/platform/jobs"
	"github.com/hanko-field/fulfillment/internal/platform/observability"
	"github.com/hanko-field/fulfillment/internal/platform/secrets"
	"github.com/hanko-field/fulfillment/internal/repositories"
	firestoreRepo "github.com/hanko-field/fulfillment/internal/repositories/firestore"
	memoryRepo "github.com/hanko-field/fulfillment/internal/repositories/memory"
	"github.com/hanko-field/fulfillment/internal/services"
)

const probeTimeout = 3 * time.Second

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("fulfillment")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames()...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Int("count", len(missing.Names())), zap.Error(err))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	settings, err := config.LoadCommerceSettings(cfg.Commerce.SettingsFile)
	if err != nil {
		logger.Fatal("failed to load commerce settings", zap.String("path", cfg.Commerce.SettingsFile), zap.Error(err))
	}

	var (
		checks           []repositories.DependencyCheck
		idempotencyStore idempotency.Store
		stores           storeSet
	)
	switch cfg.Persistence {
	case config.PersistenceMemory:
		logger.Warn("using in-memory persistence; state is lost on restart")
		stores = newMemoryStores()
		idempotencyStore = idempotency.NewMemoryStore()
	default:
		provider := pfirestore.NewProvider(cfg.Firestore, firestoreProviderOptions(cfg)...)
		defer func() {
			if err := provider.Close(); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}()
		stores, err = newFirestoreStores(provider)
		if err != nil {
			logger.Fatal("failed to initialise firestore repositories", zap.Error(err))
		}
		idempotencyStore = idempotency.NewFirestoreStore(provider)
		checks = append(checks, firestoreCheck(provider))
	}

	notifier, topic, closeNotifier, err := newNotifier(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise notifier", zap.Error(err))
	}
	defer closeNotifier()
	if topic != nil {
		checks = append(checks, topicCheck(topic))
	}

	gateways, err := newGatewayManager(logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise payment gateways", zap.Error(err))
	}
	if len(gateways.Methods()) == 0 {
		logger.Warn("no online payment gateway configured; only bank transfers are accepted")
	}

	catalog, err := services.NewCatalogReader(stores.catalog, stores.inventory)
	if err != nil {
		logger.Fatal("failed to initialise catalog reader", zap.Error(err))
	}
	ledger, err := services.NewInventoryLedger(services.InventoryLedgerDeps{
		Inventory:         stores.inventory,
		LowStockThreshold: settings.Inventory.LowStockThreshold,
		Logger:            observability.NewEventLogger(logger, "inventory"),
	})
	if err != nil {
		logger.Fatal("failed to initialise inventory ledger", zap.Error(err))
	}
	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   stores.orders,
		Numbers:  stores.numbers,
		Catalog:  catalog,
		Ledger:   ledger,
		Settings: settings,
		Logger:   observability.NewEventLogger(logger, "orders"),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}
	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:    stores.orders,
		Gateways:  gateways,
		Ledger:    ledger,
		Notifier:  notifier,
		Settings:  settings,
		Logger:    observability.NewEventLogger(logger, "payments"),
		Lifecycle: orderService,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	authenticator, err := newAuthenticator(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Version:     buildVersion(),
			Environment: cfg.Security.Environment,
			StartedAt:   startedAt,
		}),
	}
	if len(checks) > 0 {
		probes, err := repositories.NewDependencyHealthRepository(checks, repositories.WithProbeTimeout(probeTimeout))
		if err != nil {
			logger.Fatal("failed to initialise health probes", zap.Error(err))
		}
		healthOpts = append(healthOpts, handlers.WithHealthProbes(probes))
	}

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(authenticator, orderService, paymentService,
			handlers.WithOrderIdempotency(idempotencyMiddleware),
		).Routes),
		handlers.WithAdminRoutes(handlers.NewAdminHandlers(authenticator, orderService, paymentService, ledger).Routes),
		handlers.WithWebhookRoutes(handlers.NewPaymentWebhookHandlers(paymentService).Routes),
	}
	if oidc := buildOIDCMiddleware(logger.Named("auth"), cfg); oidc != nil {
		opts = append(opts,
			handlers.WithInternalRoutes(handlers.NewInternalPaymentHandlers(paymentService).Routes),
			handlers.WithInternalMiddlewares(oidc),
		)
	} else {
		logger.Warn("oidc audience not configured; internal routes disabled")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("persistence", cfg.Persistence))
	go func() {
		serverLogger.Info("fulfillment api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

type storeSet struct {
	orders    repositories.OrderRepository
	numbers   repositories.OrderNumberRepository
	inventory repositories.InventoryRepository
	catalog   repositories.CatalogRepository
}

func newMemoryStores() storeSet {
	inventory := memoryRepo.NewInventoryRepository()
	catalog := memoryRepo.NewCatalogRepository()
	seedDemoCatalog(catalog, inventory, time.Now().UTC())
	return storeSet{
		orders:    memoryRepo.NewOrderRepository(),
		numbers:   memoryRepo.NewOrderNumberRepository(),
		inventory: inventory,
		catalog:   catalog,
	}
}

func newFirestoreStores(provider *pfirestore.Provider) (storeSet, error) {
	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return storeSet{}, err
	}
	numbers, err := firestoreRepo.NewOrderNumberRepository(provider)
	if err != nil {
		return storeSet{}, err
	}
	inventory, err := firestoreRepo.NewInventoryRepository(provider)
	if err != nil {
		return storeSet{}, err
	}
	catalog, err := firestoreRepo.NewCatalogRepository(provider)
	if err != nil {
		return storeSet{}, err
	}
	return storeSet{orders: orders, numbers: numbers, inventory: inventory, catalog: catalog}, nil
}

func firestoreProviderOptions(cfg config.Config) []pfirestore.ProviderOption {
	var opts []pfirestore.ProviderOption
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" && cfg.Firestore.EmulatorHost == "" {
		opts = append(opts, pfirestore.WithClientOptions(option.WithCredentialsFile(path)))
	}
	return opts
}

func newNotifier(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.Notifier, *pubsub.Topic, func(), error) {
	if cfg.Notifications.Disabled {
		logger.Info("notifications disabled")
		return nil, nil, func() {}, nil
	}
	var clientOpts []option.ClientOption
	if path := strings.TrimSpace(cfg.Firebase.CredentialsFile); path != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(path))
	}
	client, err := pubsub.NewClient(ctx, cfg.Notifications.ProjectID, clientOpts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(cfg.Notifications.Topic)
	notifier, err := jobs.NewPubSubNotifier(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, err
	}
	closeFn := func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	return notifier, topic, closeFn, nil
}

func newGatewayManager(logger *zap.Logger, cfg config.Config) (*payments.Manager, error) {
	gateways := make(map[domain.PaymentMethod]services.PaymentGateway)
	if key := strings.TrimSpace(cfg.Payments.PaystackSecretKey); key != "" {
		paystack, err := payments.NewPaystackGateway(payments.PaystackConfig{
			SecretKey: key,
			BaseURL:   cfg.Payments.PaystackBaseURL,
			Timeout:   cfg.Payments.Timeout,
			Logger:    payments.Logger(observability.NewEventLogger(logger, "paystack")),
		})
		if err != nil {
			return nil, err
		}
		gateways[domain.PaymentMethodPaystack] = paystack
	}
	if key := strings.TrimSpace(cfg.Payments.StripeAPIKey); key != "" {
		stripe, err := payments.NewStripeGateway(payments.StripeConfig{
			APIKey:        key,
			WebhookSecret: cfg.Payments.StripeWebhookSecret,
			Logger:        payments.Logger(observability.NewEventLogger(logger, "stripe")),
		})
		if err != nil {
			return nil, err
		}
		gateways[domain.PaymentMethodStripe] = stripe
	}
	return payments.NewManager(gateways)
}

func newAuthenticator(ctx context.Context, logger *zap.Logger, cfg config.Config) (*auth.Authenticator, error) {
	if strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		logger.Warn("firebase project not configured; requests are served as guests")
		return nil, nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, err
	}
	return auth.NewAuthenticator(verifier), nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		return nil
	}
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, &http.Client{Timeout: 5 * time.Second})
	return auth.NewOIDCValidator(cache, logger).RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func firestoreCheck(provider *pfirestore.Provider) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name: "firestore",
		Check: func(ctx context.Context) error {
			client, err := provider.Client(ctx)
			if err != nil {
				return err
			}
			_, err = client.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}
}

func topicCheck(topic *pubsub.Topic) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name: "pubsub",
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s not found", topic.ID())
			}
			return nil
		},
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	if project := lookupEnv("API_SECRET_PROJECT_ID", "API_FIREBASE_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := lookupEnv("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if path := lookupEnv("API_FIREBASE_CREDENTIALS_FILE"); path != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(path)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the gateway secrets that must resolve outside local development.
func requiredSecretNames() []string {
	env := strings.ToLower(lookupEnv("API_SECURITY_ENVIRONMENT"))
	if env == "" || env == "local" || env == "test" {
		return nil
	}
	required := []string{"Payments.PaystackSecretKey"}
	if lookupEnv("API_PAYMENTS_STRIPE_API_KEY") != "" {
		required = append(required, "Payments.StripeWebhookSecret")
	}
	return required
}

// lookupEnv returns the first non-empty value among keys using the config precedence rules.
func lookupEnv(keys ...string) string {
	for _, key := range keys {
		value, ok, err := config.Lookup(key)
		if err != nil || !ok {
			continue
		}
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

func buildVersion() string {
	if version := lookupEnv("API_BUILD_VERSION"); version != "" {
		return version
	}
	return "dev"
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
