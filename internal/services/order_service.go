package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"

	domain "github.com/pagecraft/api/internal/domain"
	"github.com/pagecraft/api/internal/fulfillment"
	"github.com/pagecraft/api/internal/platform/idempotency"
)

const defaultSubmitAttempts = 3

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Providers   *fulfillment.Registry
	Idempotency idempotency.Store
	Events      OrderEventPublisher
	// MaxSubmitAttempts caps provider submit attempts for retryable failures.
	// Zero means the default of three.
	MaxSubmitAttempts int
	RecordTTL         time.Duration
	Clock             func() time.Time
	Logger            func(ctx context.Context, event string, fields map[string]any)
	// Sleep waits between retries; swapped out in tests. Nil uses a
	// context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

type orderService struct {
	providers   *fulfillment.Registry
	idempotency idempotency.Store
	events      OrderEventPublisher
	maxAttempts int
	recordTTL   time.Duration
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
	sleep       func(context.Context, time.Duration) error
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Providers == nil {
		return nil, errors.New("order service: provider registry is required")
	}
	if deps.Idempotency == nil {
		return nil, errors.New("order service: idempotency store is required")
	}

	attempts := deps.MaxSubmitAttempts
	if attempts <= 0 {
		attempts = defaultSubmitAttempts
	}

	ttl := deps.RecordTTL
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &orderService{
		providers:   deps.Providers,
		idempotency: deps.Idempotency,
		events:      deps.Events,
		maxAttempts: attempts,
		recordTTL:   ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
		sleep:  sleep,
	}, nil
}

// SubmitOrder places the document with the named provider. A derived idempotency key
// guards the call twice over: the local store replays a completed submission without
// touching the provider, and the key rides along as the provider's external reference so
// a crashed-then-retried submit resolves to the existing provider order.
func (s *orderService) SubmitOrder(ctx context.Context, cmd SubmitOrderCommand) (Order, error) {
	if err := validateSubmit(cmd); err != nil {
		return Order{}, err
	}

	provider, err := s.providers.Provider(cmd.Provider)
	if err != nil {
		return Order{}, err
	}

	key := SubmitIdempotencyKey(cmd.ProjectID, cmd.Spec, cmd.Recipient)
	fingerprint := submitFingerprint(provider.Name(), cmd.DocumentURL)
	now := s.clock()

	reservation, err := s.idempotency.Reserve(ctx, key, fingerprint, now, s.recordTTL)
	if err != nil {
		return Order{}, fmt.Errorf("order: reserve idempotency key: %w", err)
	}
	switch reservation.State {
	case idempotency.ReservationStateCompleted:
		s.logger(ctx, "order.submit.replayed", map[string]any{
			"provider": provider.Name(),
			"order_id": reservation.Record.Order.ID,
		})
		return reservation.Record.Order, nil
	case idempotency.ReservationStatePending:
		return Order{}, fmt.Errorf("%w: key %s", ErrOrderConflict, key)
	}

	order, err := s.submitWithRetry(ctx, provider, fulfillment.SubmitRequest{
		IdempotencyKey: key,
		ProjectID:      cmd.ProjectID,
		Spec:           cmd.Spec,
		Recipient:      cmd.Recipient,
		DocumentURL:    cmd.DocumentURL,
	})
	if err != nil {
		if releaseErr := s.idempotency.Release(ctx, key, fingerprint); releaseErr != nil {
			s.logger(ctx, "order.submit.release_failed", map[string]any{
				"provider": provider.Name(),
				"error":    releaseErr.Error(),
			})
		}
		return Order{}, err
	}

	if err := s.idempotency.SaveOrder(ctx, key, fingerprint, order, s.clock(), s.recordTTL); err != nil {
		s.logger(ctx, "order.submit.save_failed", map[string]any{
			"provider": provider.Name(),
			"order_id": order.ID,
			"error":    err.Error(),
		})
	}

	s.publish(ctx, OrderEvent{
		Type:          "order.submitted",
		Provider:      order.Provider,
		OrderID:       order.ID,
		ProjectID:     cmd.ProjectID,
		CurrentStatus: string(order.Status),
		OccurredAt:    s.clock(),
	})

	return order, nil
}

// submitWithRetry retries transient provider failures with jittered exponential backoff.
// Permanent failures surface immediately as OrderRejectedError; anything else ends the
// attempt loop as unavailable.
func (s *orderService) submitWithRetry(ctx context.Context, provider fulfillment.Provider, req fulfillment.SubmitRequest) (Order, error) {
	backoff := gax.Backoff{
		Initial:    200 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2,
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		order, err := provider.Submit(ctx, req)
		if err == nil {
			return order, nil
		}
		lastErr = err

		switch fulfillment.Classify(err) {
		case fulfillment.ClassPermanent:
			var perr *fulfillment.ProviderError
			reason := err.Error()
			if errors.As(err, &perr) {
				reason = perr.Message
			}
			return Order{}, &OrderRejectedError{Provider: provider.Name(), Reason: reason, Err: err}
		case fulfillment.ClassTransient:
			s.logger(ctx, "order.submit.retry", map[string]any{
				"provider": provider.Name(),
				"attempt":  attempt,
				"error":    err.Error(),
			})
			if attempt < s.maxAttempts {
				if sleepErr := s.sleep(ctx, backoff.Pause()); sleepErr != nil {
					return Order{}, sleepErr
				}
			}
		default:
			return Order{}, fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, provider.Name(), err)
		}
	}

	return Order{}, fmt.Errorf("%w: %s after %d attempts: %v", ErrProviderUnavailable, provider.Name(), s.maxAttempts, lastErr)
}

// TrackOrder pulls the current provider status. It makes exactly one provider call;
// callers decide whether a transient failure is worth retrying.
func (s *orderService) TrackOrder(ctx context.Context, providerTag, orderID string) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	provider, err := s.providers.Provider(providerTag)
	if err != nil {
		return Order{}, err
	}

	order, err := provider.Track(ctx, orderID)
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, OrderEvent{
		Type:          "order.status.observed",
		Provider:      order.Provider,
		OrderID:       order.ID,
		CurrentStatus: string(order.Status),
		OccurredAt:    s.clock(),
	})

	return order, nil
}

// CancelOrder requests cancellation with the provider. The provider decides whether the
// order is still cancellable; false means production had already started or finished.
func (s *orderService) CancelOrder(ctx context.Context, providerTag, orderID string) (bool, error) {
	if strings.TrimSpace(orderID) == "" {
		return false, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	provider, err := s.providers.Provider(providerTag)
	if err != nil {
		return false, err
	}

	cancelled, err := provider.Cancel(ctx, orderID)
	if err != nil {
		return false, err
	}
	if cancelled {
		s.publish(ctx, OrderEvent{
			Type:          "order.cancelled",
			Provider:      provider.Name(),
			OrderID:       orderID,
			CurrentStatus: string(domain.OrderStatusCancelled),
			OccurredAt:    s.clock(),
		})
	}
	return cancelled, nil
}

func (s *orderService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"type":     event.Type,
			"order_id": event.OrderID,
			"error":    err.Error(),
		})
	}
}

func validateSubmit(cmd SubmitOrderCommand) error {
	if strings.TrimSpace(cmd.Provider) == "" {
		return fmt.Errorf("%w: provider is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.ProjectID) == "" {
		return fmt.Errorf("%w: project id is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.DocumentURL) == "" {
		return fmt.Errorf("%w: document url is required", ErrOrderInvalidInput)
	}
	r := cmd.Recipient
	for _, field := range []struct {
		name  string
		value string
	}{
		{"recipient name", r.Name},
		{"recipient address1", r.Address1},
		{"recipient city", r.City},
		{"recipient postal code", r.PostalCode},
		{"recipient country code", r.CountryCode},
	} {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrOrderInvalidInput, field.name)
		}
	}
	if strings.TrimSpace(r.Email) == "" && strings.TrimSpace(r.Phone) == "" {
		return fmt.Errorf("%w: recipient email or phone is required", ErrOrderInvalidInput)
	}
	return nil
}

// submitFingerprint binds a reservation to the concrete request so a key collision
// between two different submissions is detected instead of silently replayed.
func submitFingerprint(provider, documentURL string) string {
	digest := sha256.Sum256([]byte(provider + "|" + documentURL))
	return hex.EncodeToString(digest[:])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
