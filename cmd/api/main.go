package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
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

	"github.com/baqala/storefront/internal/handlers"
	"github.com/baqala/storefront/internal/platform/auth"
	"github.com/baqala/storefront/internal/platform/config"
	"github.com/baqala/storefront/internal/platform/events"
	pfirestore "github.com/baqala/storefront/internal/platform/firestore"
	"github.com/baqala/storefront/internal/platform/localstore"
	"github.com/baqala/storefront/internal/platform/observability"
	"github.com/baqala/storefront/internal/platform/secrets"
	"github.com/baqala/storefront/internal/repositories"
	firestoreRepo "github.com/baqala/storefront/internal/repositories/firestore"
	localRepo "github.com/baqala/storefront/internal/repositories/local"
	"github.com/baqala/storefront/internal/repositories/memory"
	"github.com/baqala/storefront/internal/services"
)

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

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	secretResolver := secrets.NewLazyResolver(secretsProjectID, secrets.WithLogger(logger.Named("secrets")))
	defer func() {
		if err := secretResolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(secretResolver))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	guestSecret := strings.TrimSpace(cfg.Guest.TokenSecret)
	if guestSecret == "" {
		guestSecret = randomSecret()
		logger.Warn("guest token secret not configured; using an ephemeral secret")
	}
	guestTokens, err := auth.NewGuestTokenIssuer(guestSecret, cfg.Guest.TokenTTL, auth.WithGuestHeader(cfg.Guest.TokenHeader))
	if err != nil {
		logger.Fatal("failed to initialise guest token issuer", zap.Error(err))
	}

	localStore, err := localstore.Open(cfg.Guest.StorePath)
	if err != nil {
		logger.Fatal("failed to open guest cart store", zap.Error(err), zap.String("path", cfg.Guest.StorePath))
	}
	defer func() {
		if err := localStore.Close(); err != nil {
			logger.Warn("guest cart store close error", zap.Error(err))
		}
	}()
	guestCarts, err := localRepo.NewGuestCartRepository(localStore)
	if err != nil {
		logger.Fatal("failed to initialise guest cart repository", zap.Error(err))
	}

	backend, err := newBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise backend", zap.Error(err), zap.String("backend", cfg.Backend))
	}
	defer backend.close()

	discounts, err := services.NewDiscountService(services.DiscountServiceDeps{
		Offers:   backend.offers,
		CacheTTL: cfg.Pricing.OfferCacheTTL,
		Logger:   observability.EventLogger(logger.Named("discounts")),
	})
	if err != nil {
		logger.Fatal("failed to initialise discount service", zap.Error(err))
	}

	fees, err := services.NewDeliveryFeeService(services.DeliveryFeeServiceDeps{
		Settings:  backend.settings,
		Customers: backend.customers,
		Fallback:  cfg.Pricing.FallbackDeliveryFee,
		Logger:    observability.EventLogger(logger.Named("delivery_fee")),
	})
	if err != nil {
		logger.Fatal("failed to initialise delivery fee service", zap.Error(err))
	}

	cartDeps := services.CartServiceDeps{
		GuestStore:   guestCarts,
		AccountStore: backend.carts,
		Catalog:      backend.catalog,
		Discounts:    discounts,
		DeliveryFees: fees,
		Logger:       observability.EventLogger(logger.Named("cart")),
	}
	if backend.publisher != nil {
		cartDeps.Publisher = backend.publisher
	}
	cartService, err := services.NewCartService(cartDeps)
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	cartOpts := []handlers.CartHandlerOption{
		handlers.WithGuestTokens(guestTokens),
		handlers.WithCartCurrency(cfg.Pricing.Currency),
		handlers.WithCartTimeout(cfg.Server.RequestTimeout),
	}
	if backend.verifier != nil {
		cartOpts = append(cartOpts, handlers.WithCartAuthenticator(auth.NewAuthenticator(backend.verifier)))
	} else {
		logger.Warn("firebase authentication disabled; carts are guest-only", zap.String("backend", cfg.Backend))
	}
	cartHandlers := handlers.NewCartHandlers(cartService, cartOpts...)
	guestHandlers := handlers.NewGuestHandlers(guestTokens)

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthStartedAt(startedAt),
		handlers.WithHealthVersion(os.Getenv("K_REVISION")),
	}
	for name, check := range backend.checks {
		healthOpts = append(healthOpts, handlers.WithReadinessCheck(name, check))
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(cfg.Firebase.ProjectID),
			observability.RequestLoggerMiddleware(cfg.Firebase.ProjectID),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithGuestRoutes(guestHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
	)

	// WriteTimeout stays unset so cart streams are not cut off; request
	// handlers are bounded by the per-route timeout instead.
	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("starting http server", zap.String("backend", cfg.Backend), zap.String("environment", cfg.Security.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// backend bundles the account, catalogue and pricing stores for one persistence mode.
type backend struct {
	carts     repositories.AccountCartRepository
	catalog   repositories.CatalogRepository
	offers    repositories.OfferRepository
	settings  repositories.SettingsRepository
	customers repositories.CustomerRepository
	publisher *events.PubSubCartPublisher
	verifier  auth.TokenVerifier
	checks    map[string]handlers.ReadinessCheck
	closers   []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func newBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backend, error) {
	if cfg.Backend == config.BackendMemory {
		return newMemoryBackend(logger), nil
	}
	return newFirestoreBackend(ctx, cfg, logger)
}

// newMemoryBackend serves an empty catalogue; it exists for local runs and demos.
func newMemoryBackend(logger *zap.Logger) *backend {
	logger.Warn("using in-memory backend; account carts are not persisted")
	return &backend{
		carts:     memory.NewCartRepository(),
		catalog:   memory.NewCatalogRepository(),
		offers:    memory.NewOfferRepository(),
		settings:  memory.NewSettingsRepository(nil),
		customers: memory.NewCustomerRepository(),
		checks:    map[string]handlers.ReadinessCheck{},
	}
}

func newFirestoreBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (*backend, error) {
	b := &backend{checks: map[string]handlers.ReadinessCheck{}}

	provider := pfirestore.NewProvider(cfg.Firestore)
	if _, err := provider.Client(ctx); err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	b.closers = append(b.closers, func() {
		if err := provider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	})
	b.checks["firestore"] = func(ctx context.Context) error {
		_, err := provider.Client(ctx)
		return err
	}

	var err error
	if b.carts, err = firestoreRepo.NewCartRepository(provider, nil); err != nil {
		return nil, err
	}
	if b.catalog, err = firestoreRepo.NewCatalogRepository(provider); err != nil {
		return nil, err
	}
	if b.offers, err = firestoreRepo.NewOfferRepository(provider); err != nil {
		return nil, err
	}
	if b.settings, err = firestoreRepo.NewSettingsRepository(provider); err != nil {
		return nil, err
	}
	if b.customers, err = firestoreRepo.NewCustomerRepository(provider); err != nil {
		return nil, err
	}

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, 0)
	if err != nil {
		return nil, fmt.Errorf("firebase verifier: %w", err)
	}
	b.verifier = verifier

	if topicID := strings.TrimSpace(cfg.Events.CartTopic); topicID != "" {
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(topicID)
		topic.EnableMessageOrdering = true
		publisher, err := events.NewPubSubCartPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		b.publisher = publisher
		b.closers = append(b.closers, func() {
			publisher.Stop()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		})
		b.checks["pubsub"] = func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topicID)
			}
			return nil
		}
	}
	return b, nil
}

func secretsProjectID() string {
	if projectID := strings.TrimSpace(os.Getenv("STOREFRONT_SECRETS_PROJECT_ID")); projectID != "" {
		return projectID
	}
	return strings.TrimSpace(os.Getenv("STOREFRONT_FIREBASE_PROJECT_ID"))
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("read random secret: %v", err))
	}
	return hex.EncodeToString(buf)
}
