// Package quality inspects composed documents for print-quality violations and, when the
// job opts in, applies a single corrective pass before re-evaluating once. The fix pass
// is deliberately bounded to one attempt per finding so inspection latency stays flat.
package quality

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pagecraft/api/internal/domain"
	"github.com/pagecraft/api/internal/print/color"
	"github.com/pagecraft/api/internal/print/compose"
)

const (
	// DefaultMinDPI is the minimum effective print resolution for image slots.
	DefaultMinDPI = 300
	// DefaultUpscaleTolerance is the fraction of the minimum DPI down to which a
	// shortfall is still considered fixable by a bounded upscale.
	DefaultUpscaleTolerance = 0.5

	edgeEpsilon = 1e-6
)

// Converter re-runs color conversion during the fix pass.
type Converter interface {
	Convert(asset domain.RasterImage, profile domain.ColorProfile) (color.Result, error)
}

// GateDeps bundles collaborators required to construct the quality gate.
type GateDeps struct {
	Colors           Converter
	MinDPI           float64
	UpscaleTolerance float64
	Clock            func() time.Time
	Logger           func(ctx context.Context, event string, fields map[string]any)
}

// Gate runs print-quality checks over a composed document.
type Gate struct {
	colors    Converter
	minDPI    float64
	tolerance float64
	clock     func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewGate wires dependencies into a Gate.
func NewGate(deps GateDeps) (*Gate, error) {
	if deps.Colors == nil {
		return nil, errors.New("quality gate: color converter is required")
	}

	minDPI := deps.MinDPI
	if minDPI <= 0 {
		minDPI = DefaultMinDPI
	}
	tolerance := deps.UpscaleTolerance
	if tolerance <= 0 || tolerance > 1 {
		tolerance = DefaultUpscaleTolerance
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Gate{
		colors:    deps.Colors,
		minDPI:    minDPI,
		tolerance: tolerance,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Inspect checks the document against the job's print constraints. When the job enables
// auto-fix, the document acts as the working copy: profile mismatches are re-converted
// and marginal resolution shortfalls upscaled in place, findings are re-evaluated once,
// and the binary data is re-encoded. With auto-fix off the document is never touched.
func (g *Gate) Inspect(ctx context.Context, doc *compose.Document, job domain.PrintJob) (domain.QualityReport, error) {
	if doc == nil {
		return domain.QualityReport{}, errors.New("quality gate: document is required")
	}

	artifacts := collectArtifacts(doc)
	findings, err := g.checkAll(ctx, doc, job, artifacts)
	if err != nil {
		return domain.QualityReport{}, err
	}

	if job.AutoFix {
		fixed, clips, err := g.fixPass(ctx, doc, job, findings)
		if err != nil {
			return domain.QualityReport{}, err
		}
		if fixed > 0 {
			recheck, err := g.checkAll(ctx, doc, job, collectArtifacts(doc))
			if err != nil {
				return domain.QualityReport{}, err
			}
			findings = reconcile(findings, recheck)
			findings = appendClipFindings(findings, clips)

			data, err := doc.Encode()
			if err != nil {
				return domain.QualityReport{}, fmt.Errorf("quality gate: re-encode after fix pass: %w", err)
			}
			doc.Data = data
		}
	}

	SortFindings(findings)

	report := domain.QualityReport{
		Findings:      findings,
		Verdict:       domain.VerdictPass,
		ChecksEnabled: true,
		CheckedAt:     g.clock(),
	}
	if report.BlockingCount() > 0 {
		report.Verdict = domain.VerdictFail
	}

	g.logger(ctx, "quality.inspected", map[string]any{
		"findings": len(report.Findings),
		"blocking": report.BlockingCount(),
		"verdict":  string(report.Verdict),
	})

	return report, nil
}

// SortFindings orders findings by page order (cover targets last), target, severity
// (blocking first), then kind, so reports are reproducible across parallel runs.
func SortFindings(findings []domain.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		oi, oj := sortOrder(findings[i]), sortOrder(findings[j])
		if oi != oj {
			return oi < oj
		}
		if findings[i].Target != findings[j].Target {
			return findings[i].Target < findings[j].Target
		}
		ri, rj := domain.SeverityRank(findings[i].Severity), domain.SeverityRank(findings[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return findings[i].Kind < findings[j].Kind
	})
}

func sortOrder(f domain.Finding) int {
	if f.PageOrder >= 0 {
		return f.PageOrder
	}
	return math.MaxInt32
}

func collectArtifacts(doc *compose.Document) []*compose.PageArtifact {
	artifacts := make([]*compose.PageArtifact, 0, len(doc.Pages)+2)
	for i := range doc.Pages {
		artifacts = append(artifacts, &doc.Pages[i])
	}
	artifacts = append(artifacts, &doc.Cover.Back, &doc.Cover.Front)
	return artifacts
}

// checkAll fans inspection out per artifact and merges results in artifact order before
// the caller sorts them, keeping reports deterministic regardless of scheduling.
func (g *Gate) checkAll(ctx context.Context, doc *compose.Document, job domain.PrintJob, artifacts []*compose.PageArtifact) ([]domain.Finding, error) {
	results := make([][]domain.Finding, len(artifacts))

	grp, grpCtx := errgroup.WithContext(ctx)
	for i, artifact := range artifacts {
		grp.Go(func() error {
			if err := grpCtx.Err(); err != nil {
				return err
			}
			results[i] = g.checkArtifact(doc, job, artifact)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	var findings []domain.Finding
	for _, batch := range results {
		findings = append(findings, batch...)
	}
	findings = append(findings, g.checkSpine(doc)...)
	return findings, nil
}

func (g *Gate) checkArtifact(doc *compose.Document, job domain.PrintJob, artifact *compose.PageArtifact) []domain.Finding {
	var findings []domain.Finding

	for _, slot := range artifact.Slots {
		findings = append(findings, g.checkResolution(artifact, slot)...)
		findings = append(findings, g.checkColorProfile(doc, job, artifact, slot)...)
		findings = append(findings, g.checkSafeZone(doc, artifact, slot)...)
		findings = append(findings, g.checkBleed(artifact, slot)...)
	}

	return findings
}

// checkResolution compares each slot's effective print resolution (source pixels over
// physical frame size) against the minimum DPI. Shortfalls inside the upscale tolerance
// band are warnings; anything worse is blocking.
func (g *Gate) checkResolution(artifact *compose.PageArtifact, slot compose.PlacedSlot) []domain.Finding {
	dpi := effectiveDPI(slot)
	if dpi >= g.minDPI {
		return nil
	}

	severity := domain.SeverityBlocking
	if dpi >= g.minDPI*g.tolerance {
		severity = domain.SeverityWarning
	}
	return []domain.Finding{{
		Kind:      domain.FindingResolution,
		Severity:  severity,
		PageOrder: artifact.Order,
		Target:    artifact.Target,
		AssetID:   slot.AssetID,
		Message:   fmt.Sprintf("effective resolution %.0f dpi below minimum %.0f dpi", dpi, g.minDPI),
	}}
}

func (g *Gate) checkColorProfile(doc *compose.Document, job domain.PrintJob, artifact *compose.PageArtifact, slot compose.PlacedSlot) []domain.Finding {
	asset, ok := doc.Assets[slot.AssetID]
	if ok && asset.ProfileTag == job.Profile.Name {
		return nil
	}

	message := fmt.Sprintf("asset %q is not converted to profile %q", slot.AssetID, job.Profile.Name)
	if ok && asset.ProfileTag != "" {
		message = fmt.Sprintf("asset %q carries profile %q, job requires %q", slot.AssetID, asset.ProfileTag, job.Profile.Name)
	}
	return []domain.Finding{{
		Kind:      domain.FindingColorProfile,
		Severity:  domain.SeverityBlocking,
		PageOrder: artifact.Order,
		Target:    artifact.Target,
		AssetID:   slot.AssetID,
		Message:   message,
	}}
}

// checkSafeZone maps the asset's critical-content regions (from the upstream photo
// analysis, consumed as-is) into canvas coordinates and flags any region crossing the
// safe-zone boundary. Repositioning is never auto-fixed.
func (g *Gate) checkSafeZone(doc *compose.Document, artifact *compose.PageArtifact, slot compose.PlacedSlot) []domain.Finding {
	asset, ok := doc.Assets[slot.AssetID]
	if !ok {
		return nil
	}

	var findings []domain.Finding
	for _, region := range asset.CriticalRegions {
		placed := compose.Rect{
			X: slot.Frame.X + region.X*slot.Frame.W,
			Y: slot.Frame.Y + region.Y*slot.Frame.H,
			W: region.W * slot.Frame.W,
			H: region.H * slot.Frame.H,
		}
		if artifact.SafeBox.Contains(placed) {
			continue
		}
		if !placed.Intersects(artifact.TrimBox) {
			// Entirely in the bleed; it is cut away by design.
			continue
		}
		findings = append(findings, domain.Finding{
			Kind:      domain.FindingSafeZone,
			Severity:  domain.SeverityWarning,
			PageOrder: artifact.Order,
			Target:    artifact.Target,
			AssetID:   slot.AssetID,
			Message:   "critical content overlaps the safe-zone boundary and may be cropped",
		})
	}
	return findings
}

// checkBleed flags slots whose content stops at the trim line instead of extending into
// the bleed margin, which leaves a white edge after cutting.
func (g *Gate) checkBleed(artifact *compose.PageArtifact, slot compose.PlacedSlot) []domain.Finding {
	canvas := compose.Rect{X: 0, Y: 0, W: artifact.CanvasW, H: artifact.CanvasH}
	trim := artifact.TrimBox
	frame := slot.Frame

	if slot.FullBleed && frame.Contains(canvas) {
		return nil
	}

	shortEdges := 0
	if nearlyEqual(frame.X, trim.X) && frame.X > canvas.X+edgeEpsilon {
		shortEdges++
	}
	if nearlyEqual(frame.Y, trim.Y) && frame.Y > canvas.Y+edgeEpsilon {
		shortEdges++
	}
	if nearlyEqual(frame.X+frame.W, trim.X+trim.W) && frame.X+frame.W < canvas.X+canvas.W-edgeEpsilon {
		shortEdges++
	}
	if nearlyEqual(frame.Y+frame.H, trim.Y+trim.H) && frame.Y+frame.H < canvas.Y+canvas.H-edgeEpsilon {
		shortEdges++
	}
	if slot.FullBleed {
		// A full-bleed slot that fails to cover the whole canvas always leaves an edge.
		shortEdges++
	}

	if shortEdges == 0 {
		return nil
	}
	return []domain.Finding{{
		Kind:      domain.FindingBleed,
		Severity:  domain.SeverityBlocking,
		PageOrder: artifact.Order,
		Target:    artifact.Target,
		AssetID:   slot.AssetID,
		Message:   "content stops at the trim line without bleed coverage; cutting will leave a white edge",
	}}
}

// checkSpine verifies spine text fits the computed spine. The line runs along the spine
// height with its cap height across the spine width, so both extents are checked.
func (g *Gate) checkSpine(doc *compose.Document) []domain.Finding {
	spine := doc.Cover.SpineText
	if spine == nil || spine.Text == "" {
		return nil
	}

	lineHeight := spine.FontPt / 72
	length := compose.EstimateTextWidth(spine.Text, spine.FontPt)
	if lineHeight <= doc.Cover.SpineWidthIn+edgeEpsilon && length <= doc.Cover.SpineBox.H+edgeEpsilon {
		return nil
	}
	return []domain.Finding{{
		Kind:      domain.FindingSpineText,
		Severity:  domain.SeverityBlocking,
		PageOrder: -1,
		Target:    domain.TargetCoverSpine,
		Message: fmt.Sprintf("spine text %.2fin x %.2fin exceeds spine %.2fin x %.2fin",
			length, lineHeight, doc.Cover.SpineBox.H, doc.Cover.SpineWidthIn),
	}}
}

func effectiveDPI(slot compose.PlacedSlot) float64 {
	if slot.Frame.W <= 0 || slot.Frame.H <= 0 {
		return 0
	}
	dpiX := float64(slot.WidthPx) / slot.Frame.W
	dpiY := float64(slot.HeightPx) / slot.Frame.H
	return math.Min(dpiX, dpiY)
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= edgeEpsilon
}
