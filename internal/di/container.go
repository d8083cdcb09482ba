package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pagecraft/api/internal/fulfillment"
	"github.com/pagecraft/api/internal/platform/config"
	"github.com/pagecraft/api/internal/platform/idempotency"
	"github.com/pagecraft/api/internal/print/color"
	"github.com/pagecraft/api/internal/print/compose"
	"github.com/pagecraft/api/internal/print/quality"
	"github.com/pagecraft/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete
// implementations are assembled via dependency injection in NewContainer.
type Services struct {
	Production services.ProductionService
	Orders     services.OrderService
}

// Infrastructure carries externally constructed collaborators that the container wires
// into services. All fields are optional; absent ones disable the matching capability.
type Infrastructure struct {
	Documents      services.DocumentStore
	Events         services.OrderEventPublisher
	ProviderClient *http.Client
	Logger         *zap.Logger
}

// Container wires the production pipeline and fulfillment services for runtime use.
type Container struct {
	Config      config.Config
	Services    Services
	Providers   *fulfillment.Registry
	Idempotency idempotency.Store
}

// NewContainer constructs the runtime dependencies from configuration and
// pre-built infrastructure clients.
func NewContainer(ctx context.Context, cfg config.Config, infra Infrastructure) (*Container, error) {
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	eventLogger := func(ctx context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}

	providerClient := infra.ProviderClient
	if providerClient == nil && cfg.Providers.Timeout > 0 {
		providerClient = &http.Client{Timeout: cfg.Providers.Timeout}
	}

	registry, err := buildProviderRegistry(cfg.Providers, providerClient, eventLogger)
	if err != nil {
		return nil, err
	}

	store := idempotency.NewMemoryStore()

	gate, err := quality.NewGate(quality.GateDeps{
		Colors:           color.NewManager(),
		MinDPI:           cfg.Production.MinDPI,
		UpscaleTolerance: cfg.Production.UpscaleTolerance,
		Logger:           eventLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("build quality gate: %w", err)
	}

	production, err := services.NewProductionService(services.ProductionServiceDeps{
		Composer:  compose.NewComposer(),
		Colors:    color.NewManager(),
		Gate:      gate,
		Documents: infra.Documents,
		Workers:   cfg.Production.Workers,
		Logger:    eventLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("build production service: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Providers:         registry,
		Idempotency:       store,
		Events:            infra.Events,
		MaxSubmitAttempts: cfg.Orders.MaxSubmitAttempts,
		RecordTTL:         cfg.Orders.IdempotencyTTL,
		Logger:            eventLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}

	return &Container{
		Config: cfg,
		Services: Services{
			Production: production,
			Orders:     orders,
		},
		Providers:   registry,
		Idempotency: store,
	}, nil
}

// RunIdempotencyCleanup periodically removes expired submission records until the
// context is cancelled.
func (c *Container) RunIdempotencyCleanup(ctx context.Context) {
	if c == nil || c.Idempotency == nil {
		return
	}
	interval := c.Config.Orders.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			_, _ = c.Idempotency.CleanupExpired(ctx, now.UTC(), c.Config.Orders.CleanupBatchSize)
		}
	}
}

func buildProviderRegistry(cfg config.ProvidersConfig, client *http.Client, logger fulfillment.Logger) (*fulfillment.Registry, error) {
	providers := make(map[string]fulfillment.Provider)

	if cfg.Printful.Enabled() {
		printful, err := fulfillment.NewPrintfulProvider(fulfillment.PrintfulConfig{
			APIKey:     cfg.Printful.APIKey,
			BaseURL:    cfg.Printful.BaseURL,
			HTTPClient: client,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build printful provider: %w", err)
		}
		providers["printful"] = printful
	}

	if cfg.Gelato.Enabled() {
		gelato, err := fulfillment.NewGelatoProvider(fulfillment.GelatoConfig{
			APIKey:     cfg.Gelato.APIKey,
			BaseURL:    cfg.Gelato.BaseURL,
			HTTPClient: client,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("build gelato provider: %w", err)
		}
		providers["gelato"] = gelato
	}

	if len(providers) == 0 {
		return nil, errors.New("at least one fulfillment provider must be configured")
	}

	return fulfillment.NewRegistry(providers)
}
