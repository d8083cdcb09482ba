package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	domain "github.com/pagecraft/api/internal/domain"
	"github.com/pagecraft/api/internal/print/color"
	"github.com/pagecraft/api/internal/print/compose"
	"github.com/pagecraft/api/internal/print/quality"
)

const defaultConversionWorkers = 4

// Composer lays a print job out into a document.
type Composer interface {
	Compose(job domain.PrintJob) (*compose.Document, error)
}

// AssetConverter converts a single raster asset into a target profile.
type AssetConverter interface {
	Convert(asset domain.RasterImage, profile domain.ColorProfile) (color.Result, error)
}

// QualityInspector evaluates a composed document against a job's constraints.
type QualityInspector interface {
	Inspect(ctx context.Context, doc *compose.Document, job domain.PrintJob) (domain.QualityReport, error)
}

// ProductionServiceDeps bundles collaborators required to construct the production service.
type ProductionServiceDeps struct {
	Composer  Composer
	Colors    AssetConverter
	Gate      QualityInspector
	Documents DocumentStore
	// Workers bounds the per-asset color conversion fan-out. Zero means the default.
	Workers     int
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type productionService struct {
	composer  Composer
	colors    AssetConverter
	gate      QualityInspector
	documents DocumentStore
	workers   int
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewProductionService wires dependencies into a concrete ProductionService implementation.
func NewProductionService(deps ProductionServiceDeps) (ProductionService, error) {
	if deps.Composer == nil {
		return nil, errors.New("production service: composer is required")
	}
	if deps.Colors == nil {
		return nil, errors.New("production service: color converter is required")
	}
	if deps.Gate == nil {
		return nil, errors.New("production service: quality gate is required")
	}

	workers := deps.Workers
	if workers <= 0 {
		workers = defaultConversionWorkers
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &productionService{
		composer:  deps.Composer,
		colors:    deps.Colors,
		gate:      deps.Gate,
		documents: deps.Documents,
		workers:   workers,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// ProducePrintJob runs the full production pipeline: compose the layout, convert every
// asset into the job's color profile, encode the document, then inspect it. Each stage
// starts only if the context is still live, so cancellation lands on a stage boundary.
func (s *productionService) ProducePrintJob(ctx context.Context, cmd ProducePrintJobCommand) (ProduceResult, error) {
	job := cmd.Job
	if job.ProjectID == "" {
		return ProduceResult{}, fmt.Errorf("%w: project id is required", ErrProductionInvalidInput)
	}

	jobID := s.newID()
	result := ProduceResult{JobID: jobID, State: JobStateCreated}
	s.transition(ctx, &result, JobStateComposing, job.ProjectID)

	if err := ctx.Err(); err != nil {
		return result, err
	}

	doc, err := s.composer.Compose(job)
	if err != nil {
		return result, err
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	converted, clipFindings, err := s.convertAssets(ctx, job)
	if err != nil {
		return result, err
	}

	if err := doc.Finalize(converted, job.Profile.Name); err != nil {
		return result, err
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	report, err := s.inspect(ctx, doc, job, clipFindings)
	if err != nil {
		return result, err
	}
	s.transition(ctx, &result, JobStateQualityChecked, job.ProjectID)
	result.Report = report

	if report.Verdict == domain.VerdictFail && !cmd.AcceptFailing {
		s.transition(ctx, &result, JobStateRejected, job.ProjectID)
		return result, &QualityError{Report: report}
	}

	result.Document = doc
	if s.documents != nil {
		url, err := s.documents.StoreDocument(ctx, jobID, doc.Data)
		if err != nil {
			return result, fmt.Errorf("production: store document: %w", err)
		}
		result.DocumentURL = url
	}

	s.transition(ctx, &result, JobStateReady, job.ProjectID)
	return result, nil
}

// convertAssets fans conversion out across a bounded worker pool. Assets are walked in
// sorted ID order and results keep that ordering, so clip findings are deterministic.
func (s *productionService) convertAssets(ctx context.Context, job domain.PrintJob) (map[string]domain.RasterImage, []domain.Finding, error) {
	ids := make([]string, 0, len(job.Assets))
	for id := range job.Assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]color.Result, len(ids))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)

	for i, id := range ids {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			res, err := s.colors.Convert(job.Assets[id], job.Profile)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, err
	}

	converted := make(map[string]domain.RasterImage, len(ids))
	var clips []domain.Finding
	for i, id := range ids {
		converted[id] = results[i].Image
		if results[i].ClippedPixels > 0 {
			order, target := assetTarget(job, id)
			clips = append(clips, domain.Finding{
				Kind:      domain.FindingGamutClip,
				Severity:  domain.SeverityInfo,
				PageOrder: order,
				Target:    target,
				AssetID:   id,
				Message:   fmt.Sprintf("%d pixel(s) clipped to the %s gamut", results[i].ClippedPixels, job.Profile.Name),
			})
		}
	}
	return converted, clips, nil
}

// inspect runs the gate when the job asks for it; otherwise it issues an empty passing
// report marked as unchecked. Gamut clip findings from conversion are merged into the
// checked report so callers see the complete picture in one place.
func (s *productionService) inspect(ctx context.Context, doc *compose.Document, job domain.PrintJob, clips []domain.Finding) (domain.QualityReport, error) {
	if !job.QualityChecks {
		return domain.QualityReport{
			Verdict:       domain.VerdictPass,
			ChecksEnabled: false,
			CheckedAt:     s.clock(),
		}, nil
	}

	report, err := s.gate.Inspect(ctx, doc, job)
	if err != nil {
		return domain.QualityReport{}, err
	}
	if len(clips) > 0 {
		report.Findings = append(report.Findings, clips...)
		quality.SortFindings(report.Findings)
	}
	return report, nil
}

func (s *productionService) transition(ctx context.Context, result *ProduceResult, next JobState, projectID string) {
	s.logger(ctx, "production.state", map[string]any{
		"job_id":  result.JobID,
		"project": projectID,
		"from":    string(result.State),
		"to":      string(next),
	})
	result.State = next
}

// assetTarget locates the first page referencing the asset, falling back to the cover
// faces for cover-only assets.
func assetTarget(job domain.PrintJob, assetID string) (int, string) {
	for _, page := range job.Pages {
		for _, ref := range page.PhotoRefs {
			if ref == assetID {
				return page.Order, fmt.Sprintf("page:%d", page.Order)
			}
		}
	}
	for _, ref := range job.Cover.Front.PhotoRefs {
		if ref == assetID {
			return -1, domain.TargetCoverFront
		}
	}
	for _, ref := range job.Cover.Back.PhotoRefs {
		if ref == assetID {
			return -1, domain.TargetCoverBack
		}
	}
	return -1, ""
}
