package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestRouterNotFoundEnvelope(t *testing.T) {
	router := NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "route_not_found" {
		t.Errorf("error = %v, want route_not_found", body["error"])
	}
	if body["status"] != float64(http.StatusNotFound) {
		t.Errorf("status field = %v, want 404", body["status"])
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	router := NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "method_not_allowed" {
		t.Errorf("error = %v, want method_not_allowed", body["error"])
	}
}

func TestRouterHealthRoutesMounted(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

func TestRouterUnconfiguredGroupsReportNotImplemented(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{"/api/v1/print-jobs/produce", "/api/v1/orders/abc"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotImplemented {
			t.Errorf("GET %s = %d, want 501", path, rec.Code)
		}
		if body := decodeBody(t, rec); body["error"] != "not_implemented" {
			t.Errorf("GET %s error = %v, want not_implemented", path, body["error"])
		}
	}
}

func TestRouterMountsRegistrars(t *testing.T) {
	router := NewRouter(
		WithPrintJobRoutes(NewProductionHandlers(&fakeProductionService{}).Routes),
		WithOrderRoutes(NewOrderHandlers(&fakeOrderService{}).Routes),
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders/pf-1?provider=printful", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("track via router = %d, want 200", rec.Code)
	}
}

func TestRouterAppliesCustomMiddleware(t *testing.T) {
	router := NewRouter(WithMiddlewares(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Test", "1")
			next.ServeHTTP(w, r)
		})
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Header().Get("X-Test") != "1" {
		t.Error("custom middleware was not applied")
	}
}
