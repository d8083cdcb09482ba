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
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/pagecraft/api/internal/di"
	"github.com/pagecraft/api/internal/handlers"
	"github.com/pagecraft/api/internal/platform/config"
	"github.com/pagecraft/api/internal/platform/jobs"
	"github.com/pagecraft/api/internal/platform/observability"
	"github.com/pagecraft/api/internal/platform/secrets"
	platformstorage "github.com/pagecraft/api/internal/platform/storage"
	"github.com/pagecraft/api/internal/services"
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

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	infra := di.Infrastructure{Logger: logger}

	if bucket := strings.TrimSpace(cfg.Storage.DocumentsBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()

		var signer platformstorage.Signer
		if keyFile := strings.TrimSpace(cfg.Storage.SignerKeyFile); keyFile != "" {
			serviceSigner, err := platformstorage.NewServiceAccountSignerFromFile(keyFile)
			if err != nil {
				logger.Fatal("failed to load storage signer key", zap.Error(err))
			}
			signer = serviceSigner
		}

		documents, err := platformstorage.NewDocumentStore(storageClient, bucket, signer,
			platformstorage.WithURLExpiry(cfg.Storage.SignedURLTTL),
		)
		if err != nil {
			logger.Fatal("failed to initialise document store", zap.Error(err))
		}
		infra.Documents = documents
	}

	if topicName := strings.TrimSpace(cfg.PubSub.OrderEventsTopic); topicName != "" {
		if cfg.Google.ProjectID == "" {
			logger.Fatal("order events topic configured without a google project id")
		}
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Google.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()

		publisher, err := jobs.NewPubSubOrderEventPublisher(pubsubClient.Topic(topicName))
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		infra.Events = publisher
	}

	container, err := di.NewContainer(ctx, cfg, infra)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}

	cleanupCtx, cleanupCancel := context.WithCancel(ctx)
	defer cleanupCancel()
	go container.RunIdempotencyCleanup(cleanupCtx)

	productionHandlers := handlers.NewProductionHandlers(container.Services.Production)
	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithReadinessChecks(handlers.ReadinessCheck{
			Name: "providers",
			Check: func() error {
				if len(container.Providers.Tags()) == 0 {
					return errors.New("no fulfillment providers registered")
				}
				return nil
			},
		}),
	)

	projectID := cfg.Google.ProjectID
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPrintJobRoutes(productionHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("pagecraft api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
	}
	if defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID"); defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	} else if projectID := lookup("API_GOOGLE_PROJECT_ID"); projectID != "" {
		opts = append(opts, secrets.WithDefaultProject(projectID))
	}
	if fallbackPath := lookup("API_SECRET_FALLBACK_FILE"); fallbackPath != "" {
		opts = append(opts, secrets.WithFallbackFile(fallbackPath))
	}
	if credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the provider credentials that must resolve for every
// configured provider reference.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.TrimSpace(env["API_PROVIDER_PRINTFUL_API_KEY"]) != "" {
		required = append(required, "Providers.Printful.APIKey")
	}
	if strings.TrimSpace(env["API_PROVIDER_GELATO_API_KEY"]) != "" {
		required = append(required, "Providers.Gelato.APIKey")
	}
	return required
}
