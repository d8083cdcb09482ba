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
	printfulName           = "printful"
	defaultPrintfulBaseURL = "https://api.printful.com"
)

// PrintfulConfig configures the Printful adapter.
type PrintfulConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     Logger
	Clock      func() time.Time
}

// PrintfulProvider implements Provider against the Printful order API. The caller's
// idempotency key is forwarded as Printful's external_id, which Printful deduplicates
// on; a duplicate-id rejection is converted into a lookup of the existing order.
type PrintfulProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	clock   func() time.Time
	logger  Logger
}

// NewPrintfulProvider constructs a Printful adapter.
func NewPrintfulProvider(cfg PrintfulConfig) (*PrintfulProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("printful: api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultPrintfulBaseURL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopProviderLogger
	}
	return &PrintfulProvider{
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
func (p *PrintfulProvider) Name() string { return printfulName }

type printfulRecipient struct {
	Name        string `json:"name"`
	Company     string `json:"company,omitempty"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	StateCode   string `json:"state_code,omitempty"`
	CountryCode string `json:"country_code"`
	Zip         string `json:"zip"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type printfulFile struct {
	URL string `json:"url"`
}

type printfulItem struct {
	Name     string         `json:"name"`
	Quantity int            `json:"quantity"`
	Files    []printfulFile `json:"files"`
}

type printfulSubmitPayload struct {
	ExternalID string            `json:"external_id"`
	Recipient  printfulRecipient `json:"recipient"`
	Items      []printfulItem    `json:"items"`
}

type printfulOrder struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Costs      struct {
		Total    string `json:"total"`
		Currency string `json:"currency"`
	} `json:"costs"`
	Shipments []struct {
		Carrier        string `json:"carrier"`
		TrackingNumber string `json:"tracking_number"`
		TrackingURL    string `json:"tracking_url"`
	} `json:"shipments"`
}

type printfulEnvelope struct {
	Code   int             `json:"code"`
	Result json.RawMessage `json:"result"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Submit places an order, treating a duplicate external_id as success by returning the
// order already on file.
func (p *PrintfulProvider) Submit(ctx context.Context, req SubmitRequest) (domain.Order, error) {
	payload := printfulSubmitPayload{
		ExternalID: req.IdempotencyKey,
		Recipient: printfulRecipient{
			Name:        req.Recipient.Name,
			Company:     req.Recipient.Company,
			Address1:    req.Recipient.Address1,
			Address2:    req.Recipient.Address2,
			City:        req.Recipient.City,
			StateCode:   req.Recipient.State,
			CountryCode: req.Recipient.CountryCode,
			Zip:         req.Recipient.PostalCode,
			Email:       req.Recipient.Email,
			Phone:       req.Recipient.Phone,
		},
		Items: []printfulItem{{
			Name:     itemName(req.Spec),
			Quantity: 1,
			Files:    []printfulFile{{URL: req.DocumentURL}},
		}},
	}

	var envelope printfulEnvelope
	status, body, err := doJSON(ctx, p.client, http.MethodPost, p.baseURL+"/orders", p.headers(), payload, &envelope)
	if err != nil {
		return domain.Order{}, p.wrapNetErr("submit", err)
	}

	if status >= 200 && status < 300 {
		order, err := p.decodeOrder(envelope.Result)
		if err != nil {
			return domain.Order{}, err
		}
		p.logger(ctx, "fulfillment.printful.order.submitted", map[string]any{
			"orderId":    order.ID,
			"externalId": req.IdempotencyKey,
			"status":     string(order.Status),
		})
		return order, nil
	}

	if isPrintfulDuplicate(status, body) {
		p.logger(ctx, "fulfillment.printful.order.duplicate", map[string]any{
			"externalId": req.IdempotencyKey,
		})
		return p.lookupByExternalID(ctx, req.IdempotencyKey)
	}

	return domain.Order{}, p.statusError("submit", status, body)
}

// Track pulls the order's current state. It is a read; transient failures are surfaced
// for the caller's polling loop rather than retried here.
func (p *PrintfulProvider) Track(ctx context.Context, orderID string) (domain.Order, error) {
	var envelope printfulEnvelope
	status, body, err := doJSON(ctx, p.client, http.MethodGet, p.baseURL+"/orders/"+url.PathEscape(orderID), p.headers(), nil, &envelope)
	if err != nil {
		return domain.Order{}, p.wrapNetErr("track", err)
	}
	if status < 200 || status >= 300 {
		return domain.Order{}, p.statusError("track", status, body)
	}
	return p.decodeOrder(envelope.Result)
}

// Cancel requests cancellation; Printful reports success once the order moves to its
// canceled status.
func (p *PrintfulProvider) Cancel(ctx context.Context, orderID string) (bool, error) {
	status, body, err := doJSON(ctx, p.client, http.MethodDelete, p.baseURL+"/orders/"+url.PathEscape(orderID), p.headers(), nil, nil)
	if err != nil {
		return false, p.wrapNetErr("cancel", err)
	}
	if status < 200 || status >= 300 {
		return false, p.statusError("cancel", status, body)
	}
	p.logger(ctx, "fulfillment.printful.order.cancelled", map[string]any{"orderId": orderID})
	return true, nil
}

func (p *PrintfulProvider) lookupByExternalID(ctx context.Context, externalID string) (domain.Order, error) {
	var envelope printfulEnvelope
	status, body, err := doJSON(ctx, p.client, http.MethodGet, p.baseURL+"/orders/@"+url.PathEscape(externalID), p.headers(), nil, &envelope)
	if err != nil {
		return domain.Order{}, p.wrapNetErr("lookup", err)
	}
	if status < 200 || status >= 300 {
		return domain.Order{}, p.statusError("lookup", status, body)
	}
	return p.decodeOrder(envelope.Result)
}

func (p *PrintfulProvider) decodeOrder(raw json.RawMessage) (domain.Order, error) {
	var order printfulOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return domain.Order{}, &ProviderError{
			Provider:       printfulName,
			Classification: ClassUnknown,
			Code:           "malformed_response",
			Message:        "order payload could not be decoded",
		}
	}

	now := p.clock()
	out := domain.Order{
		ID:          fmt.Sprintf("%d", order.ID),
		Provider:    printfulName,
		Status:      mapPrintfulStatus(order.Status),
		Cost:        domain.Cost{Amount: parseMoney(order.Costs.Total), Currency: strings.ToUpper(order.Costs.Currency)},
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if len(order.Shipments) > 0 {
		shipment := order.Shipments[0]
		if shipment.TrackingNumber != "" {
			out.Tracking = &domain.Tracking{
				Carrier: shipment.Carrier,
				Number:  shipment.TrackingNumber,
				URL:     shipment.TrackingURL,
			}
		}
	}
	return out, nil
}

func (p *PrintfulProvider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

func (p *PrintfulProvider) wrapNetErr(op string, err error) error {
	return &ProviderError{
		Provider:       printfulName,
		Classification: classifyNetErr(err),
		Code:           "network_error",
		Message:        fmt.Sprintf("%s: %v", op, err),
	}
}

func (p *PrintfulProvider) statusError(op string, status int, body []byte) error {
	message := fmt.Sprintf("%s returned status %d", op, status)
	var envelope printfulEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}
	return &ProviderError{
		Provider:       printfulName,
		Classification: classifyStatus(status),
		Code:           fmt.Sprintf("http_%d", status),
		Message:        message,
	}
}

func isPrintfulDuplicate(status int, body []byte) bool {
	if status == http.StatusConflict {
		return true
	}
	if status != http.StatusBadRequest {
		return false
	}
	var envelope printfulEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(envelope.Error.Message), "already exists")
}

func mapPrintfulStatus(status string) domain.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "draft":
		return domain.OrderStatusSubmitted
	case "pending", "onhold":
		return domain.OrderStatusAccepted
	case "inprocess", "partial":
		return domain.OrderStatusPrinting
	case "fulfilled":
		return domain.OrderStatusShipped
	case "canceled":
		return domain.OrderStatusCancelled
	case "failed":
		return domain.OrderStatusFailed
	default:
		return domain.OrderStatusSubmitted
	}
}

func itemName(spec domain.ProductSpec) string {
	return fmt.Sprintf("%s %s %s (%d pages, %s)", spec.Dimensions, string(spec.CoverType), string(spec.ProductType), spec.PageCount, string(spec.PaperType))
}
