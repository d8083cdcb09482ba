package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pagecraft/api/internal/domain"
	"github.com/pagecraft/api/internal/print/color"
	"github.com/pagecraft/api/internal/print/compose"
	"github.com/pagecraft/api/internal/print/quality"
)

var produceProfile = domain.ColorProfile{Name: "FOGRA39", Space: domain.SpaceCMYK, InkLimit: 3.3}

type stubComposer struct {
	doc *compose.Document
	err error
}

func (s *stubComposer) Compose(domain.PrintJob) (*compose.Document, error) {
	return s.doc, s.err
}

type stubConverter struct {
	clippedByID map[string]int
	err         error
	calls       int
}

func (s *stubConverter) Convert(asset domain.RasterImage, profile domain.ColorProfile) (color.Result, error) {
	s.calls++
	if s.err != nil {
		return color.Result{}, s.err
	}
	out := asset.Clone()
	out.ProfileTag = profile.Name
	return color.Result{Image: out, ClippedPixels: s.clippedByID[asset.ID]}, nil
}

type stubGate struct {
	report domain.QualityReport
	err    error
	calls  int
}

func (s *stubGate) Inspect(context.Context, *compose.Document, domain.PrintJob) (domain.QualityReport, error) {
	s.calls++
	return s.report, s.err
}

type stubDocStore struct {
	url   string
	err   error
	jobID string
	data  []byte
}

func (s *stubDocStore) StoreDocument(_ context.Context, jobID string, data []byte) (string, error) {
	s.jobID = jobID
	s.data = append([]byte(nil), data...)
	return s.url, s.err
}

func smallJob() domain.PrintJob {
	return domain.PrintJob{
		ProjectID: "proj-1",
		Spec: domain.ProductSpec{
			ProductType: domain.ProductTypePhotoBook,
			Dimensions:  "8x8",
			PageCount:   1,
			PaperType:   domain.PaperMatte,
			CoverType:   domain.CoverSoftcover,
			Binding:     domain.BindingPerfect,
		},
		Pages: []domain.Page{
			{Order: 0, Layout: domain.LayoutHero, PhotoRefs: []string{"a1"}},
		},
		Cover: domain.Cover{
			Front: domain.CoverFace{Layout: domain.LayoutQuote, Text: "Front"},
			Back:  domain.CoverFace{Layout: domain.LayoutQuote, Text: "Back"},
		},
		Profile: produceProfile,
		Assets: map[string]domain.RasterImage{
			"a1": {ID: "a1", Width: 4, Height: 4, Space: domain.SpaceRGB, Pixels: make([]byte, 4*4*3)},
		},
		QualityChecks: true,
	}
}

func newProductionForTest(t *testing.T, composer Composer, colors AssetConverter, gate QualityInspector, docs DocumentStore) ProductionService {
	t.Helper()
	svc, err := NewProductionService(ProductionServiceDeps{
		Composer:    composer,
		Colors:      colors,
		Gate:        gate,
		Documents:   docs,
		Clock:       func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string { return "job-1" },
	})
	if err != nil {
		t.Fatalf("NewProductionService returned error: %v", err)
	}
	return svc
}

func TestProducePrintJobPipeline(t *testing.T) {
	job := smallJob()
	doc, err := compose.NewComposer().Compose(job)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	converter := &stubConverter{}
	gate := &stubGate{report: domain.QualityReport{Verdict: domain.VerdictPass, ChecksEnabled: true}}
	docs := &stubDocStore{url: "https://storage.example.com/doc.pdf"}

	svc := newProductionForTest(t, &stubComposer{doc: doc}, converter, gate, docs)
	result, err := svc.ProducePrintJob(context.Background(), ProducePrintJobCommand{Job: job})
	if err != nil {
		t.Fatalf("ProducePrintJob returned error: %v", err)
	}

	if result.JobID != "job-1" {
		t.Errorf("unexpected job id %s", result.JobID)
	}
	if result.State != JobStateReady {
		t.Errorf("state = %s, want ready", result.State)
	}
	if result.DocumentURL != "https://storage.example.com/doc.pdf" {
		t.Errorf("unexpected document url %s", result.DocumentURL)
	}
	if result.Document == nil || len(result.Document.Data) == 0 {
		t.Error("result should carry the encoded document")
	}
	if converter.calls != 1 {
		t.Errorf("expected one conversion per asset, got %d", converter.calls)
	}
	if gate.calls != 1 {
		t.Errorf("expected one inspection, got %d", gate.calls)
	}
	if docs.jobID != "job-1" || !bytes.Equal(docs.data, result.Document.Data) {
		t.Error("stored document should match the result")
	}
	if result.Report.Verdict != domain.VerdictPass {
		t.Errorf("unexpected verdict %s", result.Report.Verdict)
	}
}

func TestProducePrintJobRequiresProjectID(t *testing.T) {
	job := smallJob()
	job.ProjectID = ""
	svc := newProductionForTest(t, &stubComposer{}, &stubConverter{}, &stubGate{}, nil)

	_, err := svc.ProducePrintJob(context.Background(), ProducePrintJobCommand{Job: job})
	if !errors.Is(err, ErrProductionInvalidInput) {
		t.Errorf("expected ErrProductionInvalidInput, got %v", err)
	}
}

func TestProducePrintJobComposeErrorPropagates(t *testing.T) {
	layoutErr := &compose.LayoutError{PageOrder: 2, Target: "page:2", Reason: "layout \"duo\" expects 2 photos, got 3"}
	svc := newProductionForTest(t, &stubComposer{err: layoutErr}, &stubConverter{}, &stubGate{}, nil)

	_, err := svc.ProducePrintJob(context.Background(), ProducePrintJobCommand{Job: smallJob()})
	var got *compose.LayoutError
	if !errors.As(err, &got) {
		t.Fatalf("expected LayoutError, got %v", err)
	}
	if got.PageOrder != 2 {
		t.Errorf("expected the page index to survive, got %d", got.PageOrder)
	}
}

func TestProducePrintJobConversionErrorPropagates(t *testing.T) {
	job := smallJob()
	doc, err := compose.NewComposer().Compose(job)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	convErr := &color.ConversionError{AssetID: "a1", Space: domain.SpaceCMYK}
	svc := newProductionForTest(t, &stubComposer{doc: doc}, &stubConverter{err: convErr}, &stubGate{}, nil)

	_, err = svc.ProducePrintJob(context.Background(), ProducePrintJobCommand{Job: job})
	var got *color.ConversionError
	if !errors.As(err, &got) {
		t.Fatalf("expected ConversionError, got %v", err)
	}
	if got.AssetID != "a1" {
		t.Errorf("unexpected asset id %s", got.AssetID)
	}
}

func TestProducePrintJobQualityFailure(t *testing.T) {
	job := smallJob()
	doc, err := compose.NewComposer().Compose(job)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	failing := domain.QualityReport{
		Verdict:       domain.VerdictFail,
		ChecksEnabled: true,
		Findings: []domain.Finding{
			{Kind: domain.FindingResolution, Severity: domain.SeverityBlocking, PageOrder: 0, Target: "page:0", AssetID: "a1"},
		},
	}
	docs := &stubDocStore{url: "https://storage.example.com/doc.pdf"}
	svc := newProductionForTest(t, &stubComposer{doc: doc}, &stubConverter{}, &stubGate{report: failing}, docs)

	result, err := svc.ProducePrintJob(context.Background(), ProducePrintJobCommand{Job: job})
	var qualityErr *QualityError
	if !errors.As(err, &qualityErr) {
		t.Fatalf("expected QualityError, got %v", err)
	}
	if qualityErr.Report.BlockingCount() != 1 {
		t.Errorf("error should carry the full report, got %+v", qualityErr.Report)
	}
	if result.State != JobStateRejected {
		t.Errorf("state = %s, want rejected", result.State)
	}
	if result.Document != nil {
		t.Error("rejected jobs must not hand out the document")
	}
	if docs.jobID != "" {
		t.Error("rejected jobs must not be stored")
	}
}

func TestProducePrintJobAcceptFailing(t *testing.T) {
	job := smallJob()
	doc, err := compose.NewComposer().Compose(job)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	failing := domain.QualityReport{Verdict: domain.VerdictFail, ChecksEnabled: true}
	svc := newProductionForTest(t, &stubComposer{doc: doc}, &stubConverter{}, &stubGate{report: failing}, nil)

	result, err := svc.ProducePrintJob(context.Background(), ProducePrintJobCommand{Job: job, AcceptFailing: true})
	if err != nil {
		t.Fatalf("ProducePrintJob returned error: %v", err)
	}
	if result.State != JobStateReady {
		t.Errorf("state = %s, want ready", result.State)
	}
	if result.Report.Verdict != domain.VerdictFail {
		t.Errorf("report should keep the failing verdict, got %s", result.Report.Verdict)
	}
	if result.Document == nil {
		t.Error("accepted failing jobs still deliver the document")
	}
}

func TestProducePrintJobQualityChecksDisabled(t *testing.T) {
	job := smallJob()
	job.QualityChecks = false
	doc, err := compose.NewComposer().Compose(job)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	converter := &stubConverter{clippedByID: map[string]int{"a1": 5}}
	gate := &stubGate{}
	svc := newProductionForTest(t, &stubComposer{doc: doc}, converter, gate, nil)

	result, err := svc.ProducePrintJob(context.Background(), ProducePrintJobCommand{Job: job})
	if err != nil {
		t.Fatalf("ProducePrintJob returned error: %v", err)
	}
	if gate.calls != 0 {
		t.Error("gate must not run when checks are disabled")
	}
	if result.Report.ChecksEnabled {
		t.Error("report should record that checks were skipped")
	}
	if result.Report.Verdict != domain.VerdictPass || len(result.Report.Findings) != 0 {
		t.Errorf("skipped checks should yield an empty passing report, got %+v", result.Report)
	}
}

func TestProducePrintJobMergesGamutClips(t *testing.T) {
	job := smallJob()
	doc, err := compose.NewComposer().Compose(job)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	converter := &stubConverter{clippedByID: map[string]int{"a1": 12}}
	gate := &stubGate{report: domain.QualityReport{Verdict: domain.VerdictPass, ChecksEnabled: true}}
	svc := newProductionForTest(t, &stubComposer{doc: doc}, converter, gate, nil)

	result, err := svc.ProducePrintJob(context.Background(), ProducePrintJobCommand{Job: job})
	if err != nil {
		t.Fatalf("ProducePrintJob returned error: %v", err)
	}

	var clip *domain.Finding
	for i, f := range result.Report.Findings {
		if f.Kind == domain.FindingGamutClip {
			clip = &result.Report.Findings[i]
		}
	}
	if clip == nil {
		t.Fatalf("expected a gamut clip finding, got %+v", result.Report.Findings)
	}
	if clip.Severity != domain.SeverityInfo || clip.AssetID != "a1" {
		t.Errorf("unexpected clip finding %+v", clip)
	}
	if clip.PageOrder != 0 || clip.Target != "page:0" {
		t.Errorf("clip finding should point at the referencing page, got %+v", clip)
	}
	if result.Report.Verdict != domain.VerdictPass {
		t.Errorf("info findings must not fail the verdict, got %s", result.Report.Verdict)
	}
}

func TestProducePrintJobDeterministicOutput(t *testing.T) {
	gate, err := quality.NewGate(quality.GateDeps{Colors: color.NewManager(), MinDPI: 1})
	if err != nil {
		t.Fatalf("NewGate returned error: %v", err)
	}

	run := func() []byte {
		job := smallJob()
		job.Assets["a1"] = domain.RasterImage{ID: "a1", Width: 16, Height: 16, Space: domain.SpaceRGB, Pixels: make([]byte, 16*16*3)}
		svc := newProductionForTest(t, compose.NewComposer(), color.NewManager(), gate, nil)
		result, err := svc.ProducePrintJob(context.Background(), ProducePrintJobCommand{Job: job})
		if err != nil {
			t.Fatalf("ProducePrintJob returned error: %v", err)
		}
		return result.Document.Data
	}

	if !bytes.Equal(run(), run()) {
		t.Error("identical jobs must produce byte-identical documents")
	}
}

func TestProducePrintJobStoreFailure(t *testing.T) {
	job := smallJob()
	doc, err := compose.NewComposer().Compose(job)
	if err != nil {
		t.Fatalf("Compose returned error: %v", err)
	}
	gate := &stubGate{report: domain.QualityReport{Verdict: domain.VerdictPass, ChecksEnabled: true}}
	docs := &stubDocStore{err: errors.New("bucket unavailable")}
	svc := newProductionForTest(t, &stubComposer{doc: doc}, &stubConverter{}, gate, docs)

	if _, err := svc.ProducePrintJob(context.Background(), ProducePrintJobCommand{Job: job}); err == nil {
		t.Fatal("expected storage failure to surface")
	}
}
