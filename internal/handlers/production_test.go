package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/pagecraft/api/internal/domain"
	"github.com/pagecraft/api/internal/print/color"
	"github.com/pagecraft/api/internal/print/compose"
	"github.com/pagecraft/api/internal/services"
)

type fakeProductionService struct {
	result  services.ProduceResult
	err     error
	lastCmd services.ProducePrintJobCommand
}

func (f *fakeProductionService) ProducePrintJob(_ context.Context, cmd services.ProducePrintJobCommand) (services.ProduceResult, error) {
	f.lastCmd = cmd
	if f.err != nil {
		return services.ProduceResult{}, f.err
	}
	return f.result, nil
}

func produceBody(t *testing.T) []byte {
	t.Helper()
	pixels := base64.StdEncoding.EncodeToString(make([]byte, 4*4*3))
	body := map[string]any{
		"project_id": "proj-1",
		"spec": map[string]any{
			"product_type": "photobook",
			"dimensions":   "8x8",
			"page_count":   1,
			"paper_type":   "matte",
			"cover_type":   "softcover",
			"binding":      "perfect",
		},
		"pages": []map[string]any{
			{"order": 0, "layout": "hero", "photo_refs": []string{"a1"}},
		},
		"cover": map[string]any{
			"front": map[string]any{"layout": "quote", "text": "Front"},
			"back":  map[string]any{"layout": "quote", "text": "Back"},
		},
		"profile": "FOGRA39",
		"assets": map[string]any{
			"a1": map[string]any{"width": 4, "height": 4, "color_space": "rgb", "pixels": pixels},
		},
		"auto_fix": true,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return raw
}

func produceRoute(svc services.ProductionService) chi.Router {
	r := chi.NewRouter()
	NewProductionHandlers(svc).Routes(r)
	return r
}

func TestProduceSuccess(t *testing.T) {
	fake := &fakeProductionService{
		result: services.ProduceResult{
			JobID: "job-1",
			State: services.JobStateReady,
			Report: domain.QualityReport{
				Verdict:       domain.VerdictPass,
				ChecksEnabled: true,
				CheckedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			},
			Document:    &compose.Document{Data: []byte("%PDF-1.4 test")},
			DocumentURL: "https://storage.example.com/doc.pdf",
		},
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/produce", bytes.NewReader(produceBody(t)))
	produceRoute(fake).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["job_id"] != "job-1" || body["state"] != "ready" {
		t.Errorf("unexpected result envelope: %v", body)
	}
	if body["document_url"] != "https://storage.example.com/doc.pdf" {
		t.Errorf("document_url = %v", body["document_url"])
	}
	doc, err := base64.StdEncoding.DecodeString(body["document"].(string))
	if err != nil || !bytes.HasPrefix(doc, []byte("%PDF-1.4")) {
		t.Errorf("document should be the base64 PDF, got %v (%v)", body["document"], err)
	}
	report, ok := body["report"].(map[string]any)
	if !ok || report["verdict"] != "pass" || report["checks_enabled"] != true {
		t.Errorf("unexpected report payload: %v", body["report"])
	}

	if !fake.lastCmd.Job.AutoFix {
		t.Error("auto_fix flag should carry into the command")
	}
	if !fake.lastCmd.Job.QualityChecks {
		t.Error("quality_checks defaults to true when omitted")
	}
	if fake.lastCmd.Job.Profile.Name != "FOGRA39" {
		t.Errorf("profile = %q, want FOGRA39", fake.lastCmd.Job.Profile.Name)
	}
}

func TestProduceRejectsMalformedJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/produce", strings.NewReader("{not json"))
	produceRoute(&fakeProductionService{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "invalid_request" {
		t.Errorf("error = %v, want invalid_request", body["error"])
	}
}

func TestProduceRejectsUnknownProfile(t *testing.T) {
	raw := produceBody(t)
	raw = bytes.Replace(raw, []byte("FOGRA39"), []byte("NOPROFILE"), 1)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/produce", bytes.NewReader(raw))
	produceRoute(&fakeProductionService{}).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProduceLayoutError(t *testing.T) {
	fake := &fakeProductionService{err: &compose.LayoutError{
		PageOrder: 1,
		Target:    "page:1",
		Reason:    `layout "duo" expects 2 photos, got 3`,
	}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/produce", bytes.NewReader(produceBody(t)))
	produceRoute(fake).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "layout_invalid" {
		t.Errorf("error = %v, want layout_invalid", body["error"])
	}
	if body["page_order"] != float64(1) || body["target"] != "page:1" {
		t.Errorf("details should name the offending page: %v", body)
	}
}

func TestProduceConversionError(t *testing.T) {
	fake := &fakeProductionService{err: &color.ConversionError{
		AssetID: "a1",
		Space:   domain.SpaceCMYK,
	}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/produce", bytes.NewReader(produceBody(t)))
	produceRoute(fake).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "color_conversion_failed" || body["asset_id"] != "a1" {
		t.Errorf("unexpected envelope: %v", body)
	}
}

func TestProduceQualityFailure(t *testing.T) {
	fake := &fakeProductionService{err: &services.QualityError{Report: domain.QualityReport{
		Verdict:       domain.VerdictFail,
		ChecksEnabled: true,
		Findings: []domain.Finding{
			{Kind: domain.FindingResolution, Severity: domain.SeverityBlocking, PageOrder: 0, Target: "page:0", AssetID: "a1", Message: "too low"},
		},
	}}}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/produce", bytes.NewReader(produceBody(t)))
	produceRoute(fake).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "quality_failed" {
		t.Errorf("error = %v, want quality_failed", body["error"])
	}
	report, ok := body["report"].(map[string]any)
	if !ok {
		t.Fatalf("missing report detail: %v", body)
	}
	findings, ok := report["findings"].([]any)
	if !ok || len(findings) != 1 {
		t.Fatalf("report should carry the findings: %v", report)
	}
	finding := findings[0].(map[string]any)
	if finding["kind"] != "resolution" || finding["severity"] != "blocking" {
		t.Errorf("unexpected finding %v", finding)
	}
}

func TestProduceInvalidInput(t *testing.T) {
	fake := &fakeProductionService{err: services.ErrProductionInvalidInput}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/produce", bytes.NewReader(produceBody(t)))
	produceRoute(fake).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
