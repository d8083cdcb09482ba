package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/pagecraft/api/internal/domain"
	"github.com/pagecraft/api/internal/platform/httpx"
	"github.com/pagecraft/api/internal/print/color"
	"github.com/pagecraft/api/internal/print/compose"
	"github.com/pagecraft/api/internal/services"
)

const maxProduceBodySize = 256 * 1024 * 1024

type produceRequest struct {
	ProjectID     string                       `json:"project_id"`
	Spec          specPayload                  `json:"spec"`
	Pages         []pagePayload                `json:"pages"`
	Cover         coverPayload                 `json:"cover"`
	Profile       string                       `json:"profile"`
	Assets        map[string]assetInputPayload `json:"assets"`
	QualityChecks *bool                        `json:"quality_checks"`
	AutoFix       bool                         `json:"auto_fix"`
	AcceptFailing bool                         `json:"accept_failing"`
}

type specPayload struct {
	ProductType string `json:"product_type"`
	Variant     string `json:"variant"`
	Dimensions  string `json:"dimensions"`
	PageCount   int    `json:"page_count"`
	PaperType   string `json:"paper_type"`
	CoverType   string `json:"cover_type"`
	Binding     string `json:"binding"`
}

type pagePayload struct {
	Order     int      `json:"order"`
	Layout    string   `json:"layout"`
	PhotoRefs []string `json:"photo_refs"`
	Text      string   `json:"text"`
}

type coverPayload struct {
	Front     coverFacePayload `json:"front"`
	Back      coverFacePayload `json:"back"`
	SpineText string           `json:"spine_text"`
}

type coverFacePayload struct {
	Layout    string   `json:"layout"`
	PhotoRefs []string `json:"photo_refs"`
	Text      string   `json:"text"`
}

type assetInputPayload struct {
	Width           int             `json:"width"`
	Height          int             `json:"height"`
	ColorSpace      string          `json:"color_space"`
	Pixels          string          `json:"pixels"`
	ProfileTag      string          `json:"profile_tag"`
	CriticalRegions []regionPayload `json:"critical_regions,omitempty"`
}

type regionPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type findingPayload struct {
	Kind      string `json:"kind"`
	Severity  string `json:"severity"`
	PageOrder int    `json:"page_order"`
	Target    string `json:"target"`
	AssetID   string `json:"asset_id,omitempty"`
	Message   string `json:"message"`
	AutoFixed bool   `json:"auto_fixed"`
}

type reportPayload struct {
	Findings      []findingPayload `json:"findings"`
	Verdict       string           `json:"verdict"`
	ChecksEnabled bool             `json:"checks_enabled"`
	CheckedAt     string           `json:"checked_at"`
}

type produceResponse struct {
	JobID       string        `json:"job_id"`
	State       string        `json:"state"`
	Report      reportPayload `json:"report"`
	Document    string        `json:"document,omitempty"`
	DocumentURL string        `json:"document_url,omitempty"`
}

// ProductionHandlers exposes the print-job production endpoint.
type ProductionHandlers struct {
	production services.ProductionService
}

// NewProductionHandlers constructs a new ProductionHandlers instance.
func NewProductionHandlers(production services.ProductionService) *ProductionHandlers {
	return &ProductionHandlers{production: production}
}

// Routes registers the /print-jobs endpoints.
func (h *ProductionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/produce", h.produce)
}

func (h *ProductionHandlers) produce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.production == nil {
		httpx.WriteError(ctx, w, httpx.NewError("production_service_unavailable", "production service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req produceRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProduceBodySize))
	if err := decoder.Decode(&req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	job, err := buildPrintJob(req)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.production.ProducePrintJob(ctx, services.ProducePrintJobCommand{
		Job:           job,
		AcceptFailing: req.AcceptFailing,
	})
	if err != nil {
		writeProductionError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildProduceResponse(result))
}

func buildProduceResponse(result services.ProduceResult) produceResponse {
	resp := produceResponse{
		JobID:       result.JobID,
		State:       string(result.State),
		Report:      buildReportPayload(result.Report),
		DocumentURL: result.DocumentURL,
	}
	if result.Document != nil && len(result.Document.Data) > 0 {
		resp.Document = base64.StdEncoding.EncodeToString(result.Document.Data)
	}
	return resp
}

func buildReportPayload(report domain.QualityReport) reportPayload {
	findings := make([]findingPayload, 0, len(report.Findings))
	for _, f := range report.Findings {
		findings = append(findings, findingPayload{
			Kind:      string(f.Kind),
			Severity:  string(f.Severity),
			PageOrder: f.PageOrder,
			Target:    f.Target,
			AssetID:   f.AssetID,
			Message:   f.Message,
			AutoFixed: f.AutoFixed,
		})
	}
	payload := reportPayload{
		Findings:      findings,
		Verdict:       string(report.Verdict),
		ChecksEnabled: report.ChecksEnabled,
	}
	if !report.CheckedAt.IsZero() {
		payload.CheckedAt = report.CheckedAt.UTC().Format(time.RFC3339)
	}
	return payload
}

// writeProductionError maps pipeline errors onto the HTTP taxonomy: malformed jobs and
// failing verdicts are unprocessable, cancellations propagate, everything else is a 500.
func writeProductionError(ctx context.Context, w http.ResponseWriter, err error) {
	var layoutErr *compose.LayoutError
	if errors.As(err, &layoutErr) {
		details := map[string]any{"target": layoutErr.Target}
		if layoutErr.PageOrder >= 0 {
			details["page_order"] = layoutErr.PageOrder
		}
		httpx.WriteError(ctx, w, httpx.NewError("layout_invalid", layoutErr.Error(), http.StatusUnprocessableEntity).WithDetails(details))
		return
	}

	var convErr *color.ConversionError
	if errors.As(err, &convErr) {
		httpx.WriteError(ctx, w, httpx.NewError("color_conversion_failed", convErr.Error(), http.StatusUnprocessableEntity).WithDetails(map[string]any{
			"asset_id": convErr.AssetID,
		}))
		return
	}

	var qualityErr *services.QualityError
	if errors.As(err, &qualityErr) {
		httpx.WriteError(ctx, w, httpx.NewError("quality_failed", qualityErr.Error(), http.StatusUnprocessableEntity).WithDetails(map[string]any{
			"report": buildReportPayload(qualityErr.Report),
		}))
		return
	}

	if errors.Is(err, services.ErrProductionInvalidInput) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "production pipeline failed", http.StatusInternalServerError))
}

func buildPrintJob(req produceRequest) (domain.PrintJob, error) {
	if strings.TrimSpace(req.ProjectID) == "" {
		return domain.PrintJob{}, errors.New("project_id is required")
	}

	profileName := strings.TrimSpace(req.Profile)
	if profileName == "" {
		return domain.PrintJob{}, errors.New("profile is required")
	}
	profile, ok := domain.LookupColorProfile(profileName)
	if !ok {
		return domain.PrintJob{}, fmt.Errorf("unknown color profile %q", req.Profile)
	}

	pages := make([]domain.Page, 0, len(req.Pages))
	for _, p := range req.Pages {
		pages = append(pages, domain.Page{
			Order:     p.Order,
			Layout:    domain.LayoutType(p.Layout),
			PhotoRefs: p.PhotoRefs,
			Text:      p.Text,
		})
	}

	assets := make(map[string]domain.RasterImage, len(req.Assets))
	for id, a := range req.Assets {
		pixels, err := base64.StdEncoding.DecodeString(a.Pixels)
		if err != nil {
			return domain.PrintJob{}, fmt.Errorf("asset %q: pixels must be base64", id)
		}
		regions := make([]domain.Region, 0, len(a.CriticalRegions))
		for _, reg := range a.CriticalRegions {
			regions = append(regions, domain.Region{X: reg.X, Y: reg.Y, W: reg.W, H: reg.H})
		}
		assets[id] = domain.RasterImage{
			ID:              id,
			Width:           a.Width,
			Height:          a.Height,
			Space:           domain.ColorSpace(strings.ToLower(a.ColorSpace)),
			Pixels:          pixels,
			ProfileTag:      a.ProfileTag,
			CriticalRegions: regions,
		}
	}

	qualityChecks := true
	if req.QualityChecks != nil {
		qualityChecks = *req.QualityChecks
	}

	return domain.PrintJob{
		ProjectID: strings.TrimSpace(req.ProjectID),
		Spec: domain.ProductSpec{
			ProductType: domain.ProductType(req.Spec.ProductType),
			Variant:     req.Spec.Variant,
			Dimensions:  req.Spec.Dimensions,
			PageCount:   req.Spec.PageCount,
			PaperType:   domain.PaperType(req.Spec.PaperType),
			CoverType:   domain.CoverType(req.Spec.CoverType),
			Binding:     domain.Binding(req.Spec.Binding),
		},
		Pages: pages,
		Cover: domain.Cover{
			Front: domain.CoverFace{
				Layout:    domain.LayoutType(req.Cover.Front.Layout),
				PhotoRefs: req.Cover.Front.PhotoRefs,
				Text:      req.Cover.Front.Text,
			},
			Back: domain.CoverFace{
				Layout:    domain.LayoutType(req.Cover.Back.Layout),
				PhotoRefs: req.Cover.Back.PhotoRefs,
				Text:      req.Cover.Back.Text,
			},
			SpineText: req.Cover.SpineText,
		},
		Profile:       profile,
		Assets:        assets,
		QualityChecks: qualityChecks,
		AutoFix:       req.AutoFix,
	}, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
