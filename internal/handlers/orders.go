package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/pagecraft/api/internal/domain"
	"github.com/pagecraft/api/internal/fulfillment"
	"github.com/pagecraft/api/internal/platform/httpx"
	"github.com/pagecraft/api/internal/services"
)

const maxSubmitBodySize = 64 * 1024

type submitOrderRequest struct {
	Provider    string           `json:"provider"`
	ProjectID   string           `json:"project_id"`
	Spec        specPayload      `json:"spec"`
	Recipient   recipientPayload `json:"recipient"`
	DocumentURL string           `json:"document_url"`
}

type recipientPayload struct {
	Name        string `json:"name"`
	Company     string `json:"company,omitempty"`
	Address1    string `json:"address1"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city"`
	State       string `json:"state,omitempty"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type orderPayload struct {
	ID          string           `json:"id"`
	Provider    string           `json:"provider"`
	Status      string           `json:"status"`
	Cost        *costPayload     `json:"cost,omitempty"`
	Tracking    *trackingPayload `json:"tracking,omitempty"`
	SubmittedAt string           `json:"submitted_at,omitempty"`
	UpdatedAt   string           `json:"updated_at,omitempty"`
}

type costPayload struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type trackingPayload struct {
	Carrier string `json:"carrier"`
	Number  string `json:"number"`
	URL     string `json:"url,omitempty"`
}

type cancelOrderResponse struct {
	OrderID   string `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
}

// OrderHandlers exposes fulfillment order endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.submitOrder)
	r.Get("/{orderID}", h.trackOrder)
	r.Delete("/{orderID}", h.cancelOrder)
}

func (h *OrderHandlers) submitOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req submitOrderRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBodySize))
	if err := decoder.Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	order, err := h.orders.SubmitOrder(ctx, services.SubmitOrderCommand{
		Provider:  req.Provider,
		ProjectID: req.ProjectID,
		Spec: domain.ProductSpec{
			ProductType: domain.ProductType(req.Spec.ProductType),
			Variant:     req.Spec.Variant,
			Dimensions:  req.Spec.Dimensions,
			PageCount:   req.Spec.PageCount,
			PaperType:   domain.PaperType(req.Spec.PaperType),
			CoverType:   domain.CoverType(req.Spec.CoverType),
			Binding:     domain.Binding(req.Spec.Binding),
		},
		Recipient: domain.Recipient{
			Name:        req.Recipient.Name,
			Company:     req.Recipient.Company,
			Address1:    req.Recipient.Address1,
			Address2:    req.Recipient.Address2,
			City:        req.Recipient.City,
			State:       req.Recipient.State,
			PostalCode:  req.Recipient.PostalCode,
			CountryCode: req.Recipient.CountryCode,
			Email:       req.Recipient.Email,
			Phone:       req.Recipient.Phone,
		},
		DocumentURL: req.DocumentURL,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.TrimSpace(r.URL.Query().Get("provider"))
	if provider == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "provider query parameter is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.TrackOrder(ctx, provider, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	provider := strings.TrimSpace(r.URL.Query().Get("provider"))
	if provider == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "provider query parameter is required", http.StatusBadRequest))
		return
	}

	orderID := chi.URLParam(r, "orderID")
	cancelled, err := h.orders.CancelOrder(ctx, provider, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if !cancelled {
		status = http.StatusConflict
	}
	writeJSONResponse(w, status, cancelOrderResponse{OrderID: orderID, Cancelled: cancelled})
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:       order.ID,
		Provider: order.Provider,
		Status:   string(order.Status),
	}
	if order.Cost.Currency != "" {
		payload.Cost = &costPayload{Amount: order.Cost.Amount, Currency: order.Cost.Currency}
	}
	if order.Tracking != nil {
		payload.Tracking = &trackingPayload{
			Carrier: order.Tracking.Carrier,
			Number:  order.Tracking.Number,
			URL:     order.Tracking.URL,
		}
	}
	if !order.SubmittedAt.IsZero() {
		payload.SubmittedAt = order.SubmittedAt.UTC().Format(time.RFC3339)
	}
	if !order.UpdatedAt.IsZero() {
		payload.UpdatedAt = order.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

// writeOrderError maps fulfillment errors onto the HTTP taxonomy: rejected submissions
// are unprocessable, exhausted retries surface as a bad gateway, unknown provider tags
// are the caller's mistake.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	var rejected *services.OrderRejectedError
	if errors.As(err, &rejected) {
		httpx.WriteError(ctx, w, httpx.NewError("order_rejected", rejected.Error(), http.StatusUnprocessableEntity).WithDetails(map[string]any{
			"provider": rejected.Provider,
		}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, fulfillment.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_provider", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("submission_in_flight", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrProviderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("provider_unavailable", err.Error(), http.StatusBadGateway))
	default:
		var perr *fulfillment.ProviderError
		if errors.As(err, &perr) {
			switch perr.Classification {
			case fulfillment.ClassPermanent:
				httpx.WriteError(ctx, w, httpx.NewError("provider_rejected", perr.Message, http.StatusUnprocessableEntity))
			default:
				httpx.WriteError(ctx, w, httpx.NewError("provider_unavailable", perr.Message, http.StatusBadGateway))
			}
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "order operation failed", http.StatusInternalServerError))
	}
}
