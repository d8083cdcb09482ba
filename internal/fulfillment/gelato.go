package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pagecraft/api/internal/domain"
)

const (
	gelatoName           = "gelato"
	defaultGelatoBaseURL = "https://order.gelatoapis.com/v4"
)

// GelatoConfig configures the Gelato adapter.
type GelatoConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     Logger
	Clock      func() time.Time
}

// GelatoProvider implements Provider against the Gelato order API. The idempotency key
// travels as orderReferenceId; when Gelato rejects a reference it has already seen, the
// existing order is searched up and returned instead of failing the submit.
type GelatoProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	clock   func() time.Time
	logger  Logger
}

// NewGelatoProvider constructs a Gelato adapter.
func NewGelatoProvider(cfg GelatoConfig) (*GelatoProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gelato: api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultGelatoBaseURL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopProviderLogger
	}
	return &GelatoProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  defaultClient(cfg.HTTPClient),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Name implements Provider.
func (g *GelatoProvider) Name() string { return gelatoName }

type gelatoAddress struct {
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName,omitempty"`
	Company      string `json:"companyName,omitempty"`
	AddressLine1 string `json:"addressLine1"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state,omitempty"`
	PostCode     string `json:"postCode"`
	Country      string `json:"country"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
}

type gelatoItem struct {
	ItemReferenceID string   `json:"itemReferenceId"`
	ProductUID      string   `json:"productUid"`
	Files           []string `json:"fileUrls"`
	Quantity        int      `json:"quantity"`
}

type gelatoSubmitPayload struct {
	OrderReferenceID string        `json:"orderReferenceId"`
	OrderType        string        `json:"orderType"`
	Currency         string        `json:"currency,omitempty"`
	ShippingAddress  gelatoAddress `json:"shippingAddress"`
	Items            []gelatoItem  `json:"items"`
}

type gelatoOrder struct {
	ID                string `json:"id"`
	OrderReferenceID  string `json:"orderReferenceId"`
	FulfillmentStatus string `json:"fulfillmentStatus"`
	Receipts          []struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"receipts"`
	Shipment struct {
		Carrier string `json:"shipmentMethodName"`
		Parcels []struct {
			TrackingCode string `json:"trackingCode"`
			TrackingURL  string `json:"trackingUrl"`
		} `json:"packages"`
	} `json:"shipment"`
	Message string `json:"message"`
}

// Submit places an order with Gelato.
func (g *GelatoProvider) Submit(ctx context.Context, req SubmitRequest) (domain.Order, error) {
	payload := gelatoSubmitPayload{
		OrderReferenceID: req.IdempotencyKey,
		OrderType:        "order",
		ShippingAddress: gelatoAddress{
			FirstName:    req.Recipient.Name,
			Company:      req.Recipient.Company,
			AddressLine1: req.Recipient.Address1,
			AddressLine2: req.Recipient.Address2,
			City:         req.Recipient.City,
			State:        req.Recipient.State,
			PostCode:     req.Recipient.PostalCode,
			Country:      req.Recipient.CountryCode,
			Email:        req.Recipient.Email,
			Phone:        req.Recipient.Phone,
		},
		Items: []gelatoItem{{
			ItemReferenceID: req.IdempotencyKey + "-1",
			ProductUID:      gelatoProductUID(req.Spec),
			Files:           []string{req.DocumentURL},
			Quantity:        1,
		}},
	}

	var order gelatoOrder
	status, body, err := doJSON(ctx, g.client, http.MethodPost, g.baseURL+"/orders", g.headers(), payload, &order)
	if err != nil {
		return domain.Order{}, g.wrapNetErr("submit", err)
	}

	if status >= 200 && status < 300 {
		out := g.toOrder(order)
		g.logger(ctx, "fulfillment.gelato.order.submitted", map[string]any{
			"orderId":   out.ID,
			"reference": req.IdempotencyKey,
			"status":    string(out.Status),
		})
		return out, nil
	}

	if isGelatoDuplicate(status, body) {
		g.logger(ctx, "fulfillment.gelato.order.duplicate", map[string]any{
			"reference": req.IdempotencyKey,
		})
		return g.searchByReference(ctx, req.IdempotencyKey)
	}

	return domain.Order{}, g.statusError("submit", status, body)
}

// Track pulls the order's current state.
func (g *GelatoProvider) Track(ctx context.Context, orderID string) (domain.Order, error) {
	var order gelatoOrder
	status, body, err := doJSON(ctx, g.client, http.MethodGet, g.baseURL+"/orders/"+url.PathEscape(orderID), g.headers(), nil, &order)
	if err != nil {
		return domain.Order{}, g.wrapNetErr("track", err)
	}
	if status < 200 || status >= 300 {
		return domain.Order{}, g.statusError("track", status, body)
	}
	return g.toOrder(order), nil
}

// Cancel requests cancellation of an order that has not yet entered production.
func (g *GelatoProvider) Cancel(ctx context.Context, orderID string) (bool, error) {
	status, body, err := doJSON(ctx, g.client, http.MethodPost, g.baseURL+"/orders/"+url.PathEscape(orderID)+":cancel", g.headers(), nil, nil)
	if err != nil {
		return false, g.wrapNetErr("cancel", err)
	}
	if status < 200 || status >= 300 {
		return false, g.statusError("cancel", status, body)
	}
	g.logger(ctx, "fulfillment.gelato.order.cancelled", map[string]any{"orderId": orderID})
	return true, nil
}

func (g *GelatoProvider) searchByReference(ctx context.Context, reference string) (domain.Order, error) {
	payload := map[string]any{"orderReferenceId": reference, "limit": 1}
	var result struct {
		Orders []gelatoOrder `json:"orders"`
	}
	status, body, err := doJSON(ctx, g.client, http.MethodPost, g.baseURL+"/orders:search", g.headers(), payload, &result)
	if err != nil {
		return domain.Order{}, g.wrapNetErr("search", err)
	}
	if status < 200 || status >= 300 {
		return domain.Order{}, g.statusError("search", status, body)
	}
	if len(result.Orders) == 0 {
		return domain.Order{}, &ProviderError{
			Provider:       gelatoName,
			Classification: ClassUnknown,
			Code:           "duplicate_not_found",
			Message:        "duplicate reference reported but no existing order found",
		}
	}
	return g.toOrder(result.Orders[0]), nil
}

func (g *GelatoProvider) toOrder(order gelatoOrder) domain.Order {
	now := g.clock()
	out := domain.Order{
		ID:          order.ID,
		Provider:    gelatoName,
		Status:      mapGelatoStatus(order.FulfillmentStatus),
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if len(order.Receipts) > 0 {
		out.Cost = domain.Cost{
			Amount:   parseMoney(order.Receipts[0].Total),
			Currency: strings.ToUpper(order.Receipts[0].Currency),
		}
	}
	if len(order.Shipment.Parcels) > 0 && order.Shipment.Parcels[0].TrackingCode != "" {
		out.Tracking = &domain.Tracking{
			Carrier: order.Shipment.Carrier,
			Number:  order.Shipment.Parcels[0].TrackingCode,
			URL:     order.Shipment.Parcels[0].TrackingURL,
		}
	}
	return out
}

func (g *GelatoProvider) headers() map[string]string {
	return map[string]string{"X-API-KEY": g.apiKey}
}

func (g *GelatoProvider) wrapNetErr(op string, err error) error {
	return &ProviderError{
		Provider:       gelatoName,
		Classification: classifyNetErr(err),
		Code:           "network_error",
		Message:        fmt.Sprintf("%s: %v", op, err),
	}
}

func (g *GelatoProvider) statusError(op string, status int, body []byte) error {
	message := fmt.Sprintf("%s returned status %d", op, status)
	var order gelatoOrder
	if err := json.Unmarshal(body, &order); err == nil && order.Message != "" {
		message = order.Message
	}
	return &ProviderError{
		Provider:       gelatoName,
		Classification: classifyStatus(status),
		Code:           fmt.Sprintf("http_%d", status),
		Message:        message,
	}
}

func isGelatoDuplicate(status int, body []byte) bool {
	if status == http.StatusConflict {
		return true
	}
	if status != http.StatusBadRequest {
		return false
	}
	var order gelatoOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return false
	}
	message := strings.ToLower(order.Message)
	return strings.Contains(message, "already exists") || strings.Contains(message, "duplicate")
}

func mapGelatoStatus(status string) domain.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "created", "uploading", "pending_approval":
		return domain.OrderStatusSubmitted
	case "passed", "digitizing":
		return domain.OrderStatusAccepted
	case "printed", "in_production", "on_hold":
		return domain.OrderStatusPrinting
	case "shipped", "in_transit":
		return domain.OrderStatusShipped
	case "delivered":
		return domain.OrderStatusDelivered
	case "canceled", "cancelled":
		return domain.OrderStatusCancelled
	case "failed", "returned":
		return domain.OrderStatusFailed
	default:
		return domain.OrderStatusSubmitted
	}
}

// gelatoProductUID derives the catalog product uid for a product spec. Gelato encodes
// product attributes into the uid string.
func gelatoProductUID(spec domain.ProductSpec) string {
	return fmt.Sprintf("photobook_%s_%s_%s_%s",
		strings.ReplaceAll(spec.Dimensions, "x", "-"),
		string(spec.CoverType),
		string(spec.PaperType),
		string(spec.Binding),
	)
}
