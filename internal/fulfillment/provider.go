// Package fulfillment abstracts third-party print-fulfillment providers behind a single
// capability set (submit, track, cancel). New providers plug in by implementing Provider
// and registering under a tag; callers never see provider-specific error codes, only the
// shared transient/permanent/unknown classification.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pagecraft/api/internal/domain"
)

// Classification buckets provider failures by retry eligibility.
type Classification string

const (
	// ClassTransient marks failures worth retrying (timeouts, 429, 5xx).
	ClassTransient Classification = "transient"
	// ClassPermanent marks failures that will not succeed on retry.
	ClassPermanent Classification = "permanent"
	// ClassUnknown marks failures the adapter could not categorise.
	ClassUnknown Classification = "unknown"
)

// ErrUnsupportedProvider is returned when the registry cannot locate a provider tag.
var ErrUnsupportedProvider = errors.New("fulfillment: unsupported provider")

// ProviderError is a normalised provider failure. Adapters translate their native error
// codes into this shape so the orchestrator can decide retries without provider
// knowledge.
type ProviderError struct {
	Provider       string
	Classification Classification
	Code           string
	Message        string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("fulfillment: %s: %s (%s/%s)", e.Provider, e.Message, e.Classification, e.Code)
}

// Classify extracts the retry classification from an error chain, defaulting to unknown.
func Classify(err error) Classification {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Classification
	}
	return ClassUnknown
}

// SubmitRequest carries everything an adapter needs to place an order. IdempotencyKey is
// stable across caller retries; adapters pass it through as the provider's external
// order reference (or equivalent) so a retried submit never creates a duplicate.
type SubmitRequest struct {
	IdempotencyKey string
	ProjectID      string
	Spec           domain.ProductSpec
	Recipient      domain.Recipient
	DocumentURL    string
}

// Provider is the capability set every fulfillment adapter implements. Track is a
// point-in-time status pull; it never blocks waiting for a terminal state. Timeouts are
// the adapter's responsibility and are classified transient.
type Provider interface {
	Name() string
	Submit(ctx context.Context, req SubmitRequest) (domain.Order, error)
	Track(ctx context.Context, orderID string) (domain.Order, error)
	Cancel(ctx context.Context, orderID string) (bool, error)
}

// Registry selects providers by tag at call time.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry constructs a Registry over the supplied providers.
func NewRegistry(providers map[string]Provider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, errors.New("fulfillment: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for tag, provider := range providers {
		key := strings.TrimSpace(strings.ToLower(tag))
		if key == "" || provider == nil {
			return nil, fmt.Errorf("fulfillment: invalid provider registration for tag %q", tag)
		}
		copyMap[key] = provider
	}
	return &Registry{providers: copyMap}, nil
}

// Provider resolves the adapter registered under the tag.
func (r *Registry) Provider(tag string) (Provider, error) {
	if r == nil || len(r.providers) == 0 {
		return nil, errors.New("fulfillment: no providers registered")
	}
	provider, ok := r.providers[strings.TrimSpace(strings.ToLower(tag))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, tag)
	}
	return provider, nil
}

// Tags lists the registered provider tags.
func (r *Registry) Tags() []string {
	if r == nil {
		return nil
	}
	tags := make([]string, 0, len(r.providers))
	for tag := range r.providers {
		tags = append(tags, tag)
	}
	return tags
}
